// Package config loads tokenctl's slot descriptor file: the external
// configuration collaborator §1/§6 of the cryptotoken spec places outside
// the core library, in the exact shape of nfctools' own
// internal/config packages (KnownFields(true), a ValidationMode-keyed
// Validate pair). The descriptor holds no file paths, so Load does no
// path resolution.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationMode selects how strictly Load checks the slot list.
type ValidationMode int

const (
	// ValidationFull requires every slot to name a device and transport.
	ValidationFull ValidationMode = iota
	// ValidationEmulator allows slots with no transport, for exercising
	// tokenctl against a fake Device in tests without real hardware.
	ValidationEmulator
)

// Config is tokenclt's on-disk slot descriptor file.
type Config struct {
	Library LibraryConfig `yaml:"library"`
	Slots   []SlotConfig  `yaml:"slots"`
}

// LibraryConfig is the library section. SlotPoolSize and ObjectCacheCap
// mirror token.InitArgs' pool sizing knobs; PBKDF2Iterations is decoded
// but has no InitArgs counterpart and is not passed to the library.
type LibraryConfig struct {
	SlotPoolSize      int `yaml:"slot_pool_size"`
	ObjectCacheCap    int `yaml:"object_cache_capacity"`
	PBKDF2Iterations  int `yaml:"pbkdf2_iterations"`
}

// SlotConfig is one slot's descriptor: which device sits at which
// transport, plus its legacy free-grid bitmask or handle-family PIN
// handles.
type SlotConfig struct {
	ID            int    `yaml:"id"`
	Device        string `yaml:"device"`
	Interface     string `yaml:"interface"`
	Label         string `yaml:"label"`
	FreeSlots     uint16 `yaml:"free_slots"`
	UserPINHandle uint16 `yaml:"user_pin_handle"`
	SOPINHandle   uint16 `yaml:"so_pin_handle"`

	// filled in by parseInterface during validation
	parsedKind string
	parsedArgs []string
}

// Load reads and validates path under ValidationFull.
func Load(path string) (*Config, error) {
	return LoadWithMode(path, ValidationFull)
}

// LoadWithMode reads path, decodes it with unknown-field rejection, and
// validates under mode.
func LoadWithMode(path string, mode ValidationMode) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.ValidateWithMode(mode); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs ValidateWithMode(ValidationFull).
func (c *Config) Validate() error {
	return c.ValidateWithMode(ValidationFull)
}

// ValidateWithMode checks the slot list is well formed for mode.
func (c *Config) ValidateWithMode(mode ValidationMode) error {
	if len(c.Slots) == 0 {
		return fmt.Errorf("config.slots: at least one slot is required")
	}
	seen := make(map[int]bool)
	for i := range c.Slots {
		s := &c.Slots[i]
		if seen[s.ID] {
			return fmt.Errorf("config.slots[%d]: duplicate slot id %d", i, s.ID)
		}
		seen[s.ID] = true

		if strings.TrimSpace(s.Device) == "" {
			return fmt.Errorf("config.slots[%d].device is required", i)
		}
		if mode == ValidationFull && strings.TrimSpace(s.Interface) == "" {
			return fmt.Errorf("config.slots[%d].interface is required", i)
		}
		if s.Interface != "" {
			if err := s.parseInterface(); err != nil {
				return fmt.Errorf("config.slots[%d].interface: %w", i, err)
			}
		}
	}
	return nil
}

// parseInterface splits "i2c,<addr>,<bus>,<baud>" | "hid,<iface>,<id>" |
// "spi,<bus>,<cs>,<baud>" into its kind and arguments (§6 configuration
// format), caching the split for InterfaceKindName and InterfaceArgs.
func (s *SlotConfig) parseInterface() error {
	parts := strings.Split(s.Interface, ",")
	if len(parts) < 2 {
		return fmt.Errorf("malformed interface string %q", s.Interface)
	}
	s.parsedKind = strings.ToLower(strings.TrimSpace(parts[0]))
	s.parsedArgs = parts[1:]
	switch s.parsedKind {
	case "i2c", "spi", "hid", "uart":
	default:
		return fmt.Errorf("unknown interface kind %q", s.parsedKind)
	}
	return nil
}

// DeviceTypeName and InterfaceKindName are resolved by the caller against
// token's DeviceType/InterfaceKind enums, since this package is kept free
// of a pkg/token import (the on-disk format is the external collaborator,
// not a mirror of the core's types).
func (s SlotConfig) DeviceTypeName() string { return strings.ToUpper(strings.TrimSpace(s.Device)) }

// InterfaceKindName returns the interface string's leading token ("i2c",
// "hid", "spi", "uart"), or "" if unset.
func (s SlotConfig) InterfaceKindName() string { return s.parsedKind }

// InterfaceArgs returns the interface string's trailing comma-separated
// fields, parsed as the documented (addr, bus, baud) / (iface, id) /
// (bus, cs, baud) positions depending on kind.
func (s SlotConfig) InterfaceArgs() []string { return s.parsedArgs }

// ParseHexOrDecimal parses a config field that may be written as "0x60"
// or "96", the address-field convention throughout the interface string.
func ParseHexOrDecimal(s string) (int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 64)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}
