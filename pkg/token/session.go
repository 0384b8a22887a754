package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

// SessionState is the Cryptoki session-state enumeration (§3).
type SessionState int

const (
	StateROPublic SessionState = iota
	StateROUser
	StateRWPublic
	StateRWUser
	StateRWSO
)

// UserType distinguishes the two login roles §4.4 Login accepts.
type UserType int

const (
	UserNormal UserType = iota
	UserSO
)

// sessionHandleCounter is the process-wide monotonic session-handle
// source (§3 "session handle (unique non-zero token)"). Grounded on
// ObjectStore's own monotonic handle counter (object.go), generalized to
// an atomic so SessionMgr can be called from multiple goroutines while
// only the library mutex (not a package-level lock) protects the table
// itself.
var sessionHandleCounter uint64

func nextSessionHandle() uintptr {
	return uintptr(atomic.AddUint64(&sessionHandleCounter, 1))
}

// SessionContext is the opaque handle returned to callers by OpenSession
// (§3).
type SessionContext struct {
	Initialized bool
	Slot        int
	Handle      uintptr
	State       SessionState
	LastError   Status

	ActiveMech MechType
	Mech       MechContext
}

// DefaultSessionTableSize is §4.4's "static capacity (default 10)".
const DefaultSessionTableSize = 10

// SessionMgr owns the session table and arbiter references needed to
// implement Login's device-resource reservation (§4.4).
type SessionMgr struct {
	capacity int
	sessions map[uintptr]*SessionContext
	arbiter  *Arbiter

	// pbkdf2Iterations is the build-time constant §4.4 step 2 refers to
	// as "default iterations configured at build".
	pbkdf2Iterations int
}

// DefaultPBKDF2Iterations is the build default for §4.4's PIN-derivation
// PBKDF2 path.
const DefaultPBKDF2Iterations = 100000

// NewSessionMgr constructs a SessionMgr bounded at capacity sessions,
// sharing arbiter for resource reservation.
func NewSessionMgr(capacity int, arbiter *Arbiter) *SessionMgr {
	if capacity <= 0 {
		capacity = DefaultSessionTableSize
	}
	return &SessionMgr{
		capacity:         capacity,
		sessions:         make(map[uintptr]*SessionContext),
		arbiter:          arbiter,
		pbkdf2Iterations: DefaultPBKDF2Iterations,
	}
}

// Open creates a new session on slot in the requested state (RO or RW;
// Public until Login), failing StatusSessionParallelNotSupported once the
// table is full.
func (m *SessionMgr) Open(slot int, readWrite bool) (*SessionContext, error) {
	if len(m.sessions) >= m.capacity {
		return nil, NewStatusErr("session.Open", StatusSessionParallelNotSupported)
	}
	state := StateROPublic
	if readWrite {
		state = StateRWPublic
	}
	s := &SessionContext{
		Initialized: true,
		Slot:        slot,
		Handle:      nextSessionHandle(),
		State:       state,
	}
	m.sessions[s.Handle] = s
	return s, nil
}

// Check resolves handle to its SessionContext or StatusSessionHandleInvalid.
func (m *SessionMgr) Check(handle uintptr) (*SessionContext, error) {
	s, ok := m.sessions[handle]
	if !ok || !s.Initialized {
		return nil, NewStatusErr("session.Check", StatusSessionHandleInvalid)
	}
	return s, nil
}

// Close tears down one session: releases its arbiter reservations, wipes
// its mechanism context, and removes it from the table.
func (m *SessionMgr) Close(handle uintptr) error {
	s, err := m.Check(handle)
	if err != nil {
		return err
	}
	m.arbiter.ReleaseAll(s.Handle)
	s.Mech.reset()
	s.Initialized = false
	delete(m.sessions, handle)
	return nil
}

// CloseAll tears down every session on slot (§4.4), e.g. for Finalize or
// an explicit CloseAllSessions call.
func (m *SessionMgr) CloseAll(slot int) {
	for h, s := range m.sessions {
		if s.Slot == slot {
			m.arbiter.ReleaseAll(s.Handle)
			s.Mech.reset()
			s.Initialized = false
			delete(m.sessions, h)
		}
	}
}

// GetInfo returns a snapshot of handle's state for GetSessionInfo.
func (m *SessionMgr) GetInfo(handle uintptr) (SessionContext, error) {
	s, err := m.Check(handle)
	if err != nil {
		return SessionContext{}, err
	}
	return *s, nil
}

// deviceSerialNumber slices the 13-byte serial-number field out of a
// legacy device's 128-byte config zone, the same range certcodec's
// legacyDeviceSNLoc names. §4.4 calls out "the device serial number" as
// Login's PBKDF2 salt, not the whole config zone; a too-short zone (e.g.
// a handle-family slot with no legacy config cache) falls back to the
// zone as given rather than panicking on a short slice.
func deviceSerialNumber(configZone []byte) []byte {
	if len(configZone) < 13 {
		return configZone
	}
	return configZone[0:13]
}

// deriveReadKey implements §4.4 Login step 2's two acceptance paths: if
// pin is the exact hex encoding of a keyLen-byte key, decode it directly;
// otherwise run PBKDF2-SHA-256 with deviceSerial as salt. Grounded on
// pkg/ntag424/keys.go's LoadKeyHexFile (hex-decode-a-fixed-width-key
// pattern), extended with the PBKDF2 fallback the teacher's DESFire keys
// never needed (they're always raw hex).
func (m *SessionMgr) deriveReadKey(pin string, keyLen int, deviceSerial []byte) ([]byte, error) {
	if len(pin) == 2*keyLen {
		if key, err := hex.DecodeString(pin); err == nil {
			return key, nil
		}
	}
	return derivePBKDF2Key([]byte(pin), deviceSerial, m.pbkdf2Iterations, keyLen), nil
}

// AuthSession is the device challenge/response contract handle-family
// devices expose for Login step 3 (§4.4): read a device nonce, combine it
// with a caller nonce, derive a session key, and install it on the
// device's auth slot. Concrete command framing belongs to the external
// transport/command layer (§1); SessionMgr only drives the protocol
// shape.
type AuthSession interface {
	DeviceNonce() ([]byte, error)
	StartSession(callerNonce, sessionKey []byte) error
	Terminate() error
}

// Login implements §4.4's four-step protocol. slotCtx is the owning
// SlotContext (its ReadKey field is populated on success); auth is nil
// for legacy-family devices, which skip step 3 entirely.
func (m *SessionMgr) Login(s *SessionContext, slotCtx *SlotContext, userType UserType, pin string, keyLen int, auth AuthSession) error {
	if slotCtx.LoggedIn {
		return NewStatusErr("session.Login", StatusUserAlreadyLoggedIn)
	}

	kind := ResourceAuthOp0
	if userType == UserSO {
		kind = ResourceAuthOp1
	}
	if err := m.arbiter.Reserve(s.Handle, s.Slot, kind); err != nil {
		return err
	}

	key, err := m.deriveReadKey(pin, keyLen, deviceSerialNumber(slotCtx.ConfigZone))
	if err != nil {
		m.arbiter.Release(s.Handle, s.Slot, kind)
		return NewStatusErrCause("session.Login", StatusPINIncorrect, err)
	}

	if auth != nil {
		if err := m.authStartup(key, auth); err != nil {
			wipe(key)
			auth.Terminate()
			m.arbiter.Release(s.Handle, s.Slot, kind)
			return NewStatusErrCause("session.Login", StatusPINIncorrect, err)
		}
	}

	copy(slotCtx.ReadKey[:], key)
	wipe(key)
	slotCtx.LoggedIn = true
	if userType == UserSO {
		s.State = StateRWSO
	} else if s.State == StateRWPublic {
		s.State = StateRWUser
	} else {
		s.State = StateROUser
	}
	return nil
}

// authStartup runs §4.4 step 3: read the device nonce, combine with a
// fresh caller nonce, derive a session key via GCM-128, and install it.
func (m *SessionMgr) authStartup(key []byte, auth AuthSession) error {
	deviceNonce, err := auth.DeviceNonce()
	if err != nil {
		return fmt.Errorf("session: device nonce: %w", err)
	}
	callerNonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, callerNonce); err != nil {
		return fmt.Errorf("session: caller nonce: %w", err)
	}
	combined := append(append([]byte{}, callerNonce...), deviceNonce...)
	ct, tag, err := aesGCMSeal(key, callerNonce, nil, combined, 128)
	if err != nil {
		return fmt.Errorf("session: derive session key: %w", err)
	}
	sessionKey := append(ct, tag...)
	if err := auth.StartSession(callerNonce, sessionKey); err != nil {
		return fmt.Errorf("session: start auth session: %w", err)
	}
	slog.Debug("auth session started", "nonce_len", len(callerNonce))
	return nil
}

// Logout implements §4.4 Logout: terminate any device auth session,
// release reserved auth resources, and wipe ReadKey regardless of earlier
// failures (§7 "on login failure ... the read key is wiped"). It does not
// touch the object store's cert/key caches.
func (m *SessionMgr) Logout(s *SessionContext, slotCtx *SlotContext, auth AuthSession) error {
	var firstErr error
	if auth != nil {
		if err := auth.Terminate(); err != nil {
			firstErr = err
		}
	}
	m.arbiter.Release(s.Handle, s.Slot, ResourceAuthOp0)
	m.arbiter.Release(s.Handle, s.Slot, ResourceAuthOp1)
	wipe(slotCtx.ReadKey[:])
	slotCtx.LoggedIn = false
	if s.State == StateROUser {
		s.State = StateROPublic
	} else if s.State == StateRWUser || s.State == StateRWSO {
		s.State = StateRWPublic
	}
	return firstErr
}
