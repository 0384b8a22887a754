package token

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/barnettlynn/cryptotoken/pkg/token/transport"
)

// SlotState is the state-machine position of a SlotContext (§3): it may
// only advance Uninitialized -> Configured -> Ready.
type SlotState int

const (
	SlotUninitialized SlotState = iota
	SlotConfigured
	SlotReady
)

// DeviceFamily distinguishes the two device families named in §1.
type DeviceFamily int

const (
	FamilyUnknown DeviceFamily = iota
	FamilyLegacy               // fixed 16-slot grid, config-zone governed
	FamilyHandle               // allocated handles with per-handle permissions
)

// DeviceType tags the specific device model a slot is configured for, as
// read from a slot descriptor's "device" key (§6 configuration format).
type DeviceType int

const (
	DeviceUnspecified DeviceType = iota
	DeviceATECC508A
	DeviceATECC608
	DeviceTA100
	DeviceTA101
)

// Family reports which of §1's two device families dt belongs to.
func (dt DeviceType) Family() DeviceFamily {
	switch dt {
	case DeviceATECC508A, DeviceATECC608:
		return FamilyLegacy
	case DeviceTA100, DeviceTA101:
		return FamilyHandle
	default:
		return FamilyUnknown
	}
}

// InterfaceKind is the wire bus a slot's transport configuration names
// (§1, §6).
type InterfaceKind int

const (
	InterfaceUnspecified InterfaceKind = iota
	InterfaceI2C
	InterfaceSPI
	InterfaceHID
	InterfaceUART
)

// TransportConfig mirrors one slot descriptor's "interface" line (§6):
// `i2c,<addr>,<bus>,<baud>` | `hid,<iface>,<id>` | `spi,<bus>,<cs>,<baud>`.
type TransportConfig struct {
	Kind InterfaceKind
	Addr int
	Bus  int
	CS   int
	Baud int
	ID   string
}

// legacyConfigZoneSize is the one-shot 128-byte configuration zone every
// legacy-family device exposes (§3).
const legacyConfigZoneSize = 128

// legacyGridSlots is the fixed storage grid size for legacy-family
// devices (§1: "a fixed grid of 16 slots").
const legacyGridSlots = 16

// SlotContext is one configured physical device (§3).
type SlotContext struct {
	ID    int
	State SlotState

	DeviceType DeviceType
	Transport  TransportConfig
	Device     transport.Device

	// ConfigZone is the legacy family's cached 128-byte configuration
	// zone, read once at Initialize.
	ConfigZone []byte

	LoggedIn bool
	ReadKey  [32]byte

	// UserPINHandle/SOPINHandle are set only for handle-family devices.
	UserPINHandle uint16
	SOPINHandle   uint16

	Label string

	// FreeSlots tracks, for legacy devices, which of the 16 grid indices
	// are still unused (bit i == grid index i is free).
	FreeSlots uint16
}

// deviceProbe is the narrow device contract SlotMgr needs to bring a slot
// up: read the info word (for auto-detect) and the configuration zone.
// A real Device implementation's command-building lives outside this
// package (§1 "the individual device command builders" are out of
// scope); SlotMgr only calls through this interface.
type deviceProbe interface {
	ReadInfoWord(dev transport.Device) (uint32, error)
	ReadConfigZone(dev transport.Device) ([]byte, error)
}

// SlotMgr owns the slot table (§3 SlotContext's "allocated during
// Initialize from a fixed-size pool (default 10)").
type SlotMgr struct {
	slots []*SlotContext
	probe deviceProbe
}

// DefaultSlotPoolSize is §3's "default 10".
const DefaultSlotPoolSize = 10

// NewSlotMgr allocates poolSize uninitialized slots.
func NewSlotMgr(poolSize int, probe deviceProbe) *SlotMgr {
	if poolSize <= 0 {
		poolSize = DefaultSlotPoolSize
	}
	m := &SlotMgr{probe: probe}
	for i := 0; i < poolSize; i++ {
		m.slots = append(m.slots, &SlotContext{ID: i, State: SlotUninitialized})
	}
	return m
}

// Slot returns slot id's context, or StatusSlotIDInvalid.
func (m *SlotMgr) Slot(id int) (*SlotContext, error) {
	if id < 0 || id >= len(m.slots) {
		return nil, NewStatusErr("slot.Slot", StatusSlotIDInvalid)
	}
	return m.slots[id], nil
}

// List returns every slot's id, for GetSlotList (§6). tokenPresent, when
// true, restricts the list to slots already in SlotReady state.
func (m *SlotMgr) List(tokenPresent bool) []int {
	var out []int
	for _, s := range m.slots {
		if tokenPresent && s.State != SlotReady {
			continue
		}
		out = append(out, s.ID)
	}
	return out
}

// SlotDescriptor is the narrow view of a configuration-file entry (§6)
// SlotMgr needs; the on-disk parser itself is an external collaborator
// (§1) represented only by this interface.
type SlotDescriptor struct {
	DeviceType    DeviceType
	Transport     TransportConfig
	Label         string
	FreeSlots     uint16
	UserPINHandle uint16
	SOPINHandle   uint16
}

// Configure advances slot from Uninitialized to Configured, recording its
// descriptor (§3's "configured by reading the slot's descriptor").
func (m *SlotMgr) Configure(id int, desc SlotDescriptor) error {
	s, err := m.Slot(id)
	if err != nil {
		return err
	}
	if s.State != SlotUninitialized {
		return NewStatusErr("slot.Configure", StatusGeneralError)
	}
	s.DeviceType = desc.DeviceType
	s.Transport = desc.Transport
	s.Label = desc.Label
	s.FreeSlots = desc.FreeSlots
	s.UserPINHandle = desc.UserPINHandle
	s.SOPINHandle = desc.SOPINHandle
	s.State = SlotConfigured
	return nil
}

// dialFunc opens a Device for a TransportConfig; production code supplies
// the real transport dial (PC/SC, I2C, ...), tests supply a fake. Kept as
// an injected function rather than a switch inside Initialize so the
// out-of-scope wire drivers (§1) never need to be linked into this
// package to exercise the rest of slot bring-up.
type dialFunc func(TransportConfig) (transport.Device, error)

// initRetries is the number of probe attempts before a slot's Initialize
// gives up, matching the teacher's GetFileSettings retry discipline
// (pkg/ntag424/settings.go) generalized from a read-retry to a
// probe-retry.
const initRetries = 3

// Initialize probes the device at slot's transport configuration,
// retrying transient failures, and on success advances the slot to Ready.
// For I2C devices whose address probe fails, it falls back to the
// family's alternate address before giving up (§3 "including retry and,
// on I2C, address fallback").
func (m *SlotMgr) Initialize(id int, dial dialFunc) error {
	s, err := m.Slot(id)
	if err != nil {
		return err
	}
	if s.State != SlotConfigured {
		return NewStatusErr("slot.Initialize", StatusGeneralError)
	}

	dev, err := m.dialWithFallback(s, dial)
	if err != nil {
		return NewStatusErrCause("slot.Initialize", StatusTokenNotRecognized, err)
	}
	s.Device = dev

	if s.DeviceType.Family() == FamilyLegacy && m.probe != nil {
		zone, err := m.readConfigZoneWithRetry(dev)
		if err != nil {
			return NewStatusErrCause("slot.Initialize", StatusTokenNotRecognized, err)
		}
		s.ConfigZone = zone
		m.autoDetect(s, dev)
	}

	s.State = SlotReady
	return nil
}

func (m *SlotMgr) dialWithFallback(s *SlotContext, dial dialFunc) (transport.Device, error) {
	cfg := s.Transport
	var lastErr error
	for attempt := 0; attempt < initRetries; attempt++ {
		dev, err := dial(cfg)
		if err == nil {
			return dev, nil
		}
		lastErr = err
		slog.Warn("slot init probe failed, retrying", "slot", s.ID, "attempt", attempt, "error", err)
		if cfg.Kind == InterfaceI2C && attempt == 0 {
			cfg.Addr = altI2CAddr(cfg.Addr)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil, lastErr
}

// altI2CAddr is the address fallback §3 requires for ambiguous legacy I2C
// devices: the alternate 7-bit address sharing the same device family,
// following the teacher's pattern of trying the provided key first and an
// alternate second (pkg/ntag424/auth.go's AuthenticateWithFallback).
func altI2CAddr(addr int) int {
	if addr == 0x60 {
		return 0x6C
	}
	return 0x60
}

func (m *SlotMgr) readConfigZoneWithRetry(dev transport.Device) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < initRetries; attempt++ {
		zone, err := m.probe.ReadConfigZone(dev)
		if err == nil {
			if len(zone) != legacyConfigZoneSize {
				return nil, fmt.Errorf("slot: config zone is %d bytes, want %d", len(zone), legacyConfigZoneSize)
			}
			return zone, nil
		}
		lastErr = err
		slog.Warn("config zone read failed, retrying", "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

// autoDetect reads the device's info word and rebinds DeviceType if it
// disagrees with the configured one, for "legacy variants whose family is
// ambiguous" (§3).
func (m *SlotMgr) autoDetect(s *SlotContext, dev transport.Device) {
	info, err := m.probe.ReadInfoWord(dev)
	if err != nil {
		slog.Warn("auto-detect info word read failed", "slot", s.ID, "error", err)
		return
	}
	detected := deviceTypeFromInfoWord(info)
	if detected != DeviceUnspecified && detected != s.DeviceType {
		slog.Info("auto-detect rebinding device type", "slot", s.ID, "configured", s.DeviceType, "detected", detected)
		s.DeviceType = detected
	}
}

// deviceTypeFromInfoWord maps a device's info-word revision byte to a
// DeviceType, per the ATECC family's documented revision encoding.
func deviceTypeFromInfoWord(info uint32) DeviceType {
	switch byte(info >> 24) {
	case 0x50:
		return DeviceATECC508A
	case 0x60:
		return DeviceATECC608
	default:
		return DeviceUnspecified
	}
}

// TokenInfo is §6's CK_TOKEN_INFO-equivalent: fixed-width, space-padded
// byte fields rather than NUL-terminated strings, per SUPPLEMENTED
// FEATURES ("pkcs11_slot.c's token-info string padding").
type TokenInfo struct {
	Label           [32]byte
	Model           [16]byte
	SerialNumber    [16]byte
	FreeGridSlots   int
	LoggedIn        bool
}

// spacePad copies s into a fixed-width array, space-padding the remainder
// (the original's CK_TOKEN_INFO field convention).
func spacePad(dst []byte, s string) {
	for i := range dst {
		dst[i] = ' '
	}
	copy(dst, s)
}

// Info builds a TokenInfo snapshot for GetTokenInfo.
func (s *SlotContext) Info() TokenInfo {
	var ti TokenInfo
	spacePad(ti.Label[:], s.Label)
	spacePad(ti.Model[:], deviceTypeName(s.DeviceType))
	if len(s.ConfigZone) >= 13 {
		spacePad(ti.SerialNumber[:], fmt.Sprintf("%x", s.ConfigZone[0:13]))
	}
	ti.FreeGridSlots = popcount16(s.FreeSlots)
	ti.LoggedIn = s.LoggedIn
	return ti
}

func deviceTypeName(dt DeviceType) string {
	switch dt {
	case DeviceATECC508A:
		return "ATECC508A"
	case DeviceATECC608:
		return "ATECC608"
	case DeviceTA100:
		return "TA100"
	case DeviceTA101:
		return "TA101"
	default:
		return "UNKNOWN"
	}
}

func popcount16(v uint16) int {
	n := 0
	for v != 0 {
		n += int(v & 1)
		v >>= 1
	}
	return n
}

// AllocGridSlot claims the lowest-numbered free legacy grid index,
// returning StatusHostMemory if the grid is full (§3 "flags bitmask
// tracking which legacy-grid slots are still free").
func (s *SlotContext) AllocGridSlot() (int, error) {
	for i := 0; i < legacyGridSlots; i++ {
		if s.FreeSlots&(1<<uint(i)) != 0 {
			s.FreeSlots &^= 1 << uint(i)
			return i, nil
		}
	}
	return 0, NewStatusErr("slot.AllocGridSlot", StatusHostMemory)
}

// FreeGridSlot returns grid index idx to the free set.
func (s *SlotContext) FreeGridSlot(idx int) {
	if idx >= 0 && idx < legacyGridSlots {
		s.FreeSlots |= 1 << uint(idx)
	}
}
