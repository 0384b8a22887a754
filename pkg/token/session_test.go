package token

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestSessionOpenCloseRoundTrip(t *testing.T) {
	m := NewSessionMgr(2, NewArbiter(1))
	s, err := m.Open(0, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.State != StateRWPublic {
		t.Fatalf("new RW session state = %v, want StateRWPublic", s.State)
	}
	if _, err := m.Check(s.Handle); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := m.Close(s.Handle); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Check(s.Handle); err == nil {
		t.Fatalf("expected closed handle to be invalid")
	}
}

func TestSessionOpenReadOnlyDefaultsToROPublic(t *testing.T) {
	m := NewSessionMgr(2, NewArbiter(1))
	s, err := m.Open(0, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.State != StateROPublic {
		t.Fatalf("new RO session state = %v, want StateROPublic", s.State)
	}
}

func TestSessionOpenRejectsOverCapacity(t *testing.T) {
	m := NewSessionMgr(1, NewArbiter(1))
	if _, err := m.Open(0, true); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := m.Open(0, true); err == nil {
		t.Fatalf("expected StatusSessionParallelNotSupported once the table is full")
	}
}

func TestSessionCloseAllOnlyAffectsTargetSlot(t *testing.T) {
	m := NewSessionMgr(4, NewArbiter(2))
	s0, _ := m.Open(0, true)
	s1, _ := m.Open(1, true)
	m.CloseAll(0)
	if _, err := m.Check(s0.Handle); err == nil {
		t.Fatalf("slot 0 session should have been closed")
	}
	if _, err := m.Check(s1.Handle); err != nil {
		t.Fatalf("slot 1 session should be unaffected: %v", err)
	}
}

func TestSessionLoginWithExactHexKey(t *testing.T) {
	m := NewSessionMgr(2, NewArbiter(1))
	s, _ := m.Open(0, true)
	slotCtx := &SlotContext{ID: 0}

	key := "000102030405060708090a0b0c0d0e0f"
	if err := m.Login(s, slotCtx, UserNormal, key, 16, nil); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !slotCtx.LoggedIn {
		t.Fatalf("slot should be marked logged in")
	}
	if s.State != StateRWUser {
		t.Fatalf("state = %v, want StateRWUser", s.State)
	}
	want, _ := hex.DecodeString(key)
	if !bytes.Equal(slotCtx.ReadKey[:16], want) {
		t.Fatalf("ReadKey = %x, want %x", slotCtx.ReadKey[:16], want)
	}
}

func TestSessionLoginRejectsDoubleLogin(t *testing.T) {
	m := NewSessionMgr(2, NewArbiter(1))
	s, _ := m.Open(0, true)
	slotCtx := &SlotContext{ID: 0}
	key := "000102030405060708090a0b0c0d0e0f"
	if err := m.Login(s, slotCtx, UserNormal, key, 16, nil); err != nil {
		t.Fatalf("first Login: %v", err)
	}
	if err := m.Login(s, slotCtx, UserNormal, key, 16, nil); err == nil {
		t.Fatalf("expected StatusUserAlreadyLoggedIn on second Login")
	}
}

func TestSessionLogoutWipesReadKey(t *testing.T) {
	m := NewSessionMgr(2, NewArbiter(1))
	s, _ := m.Open(0, true)
	slotCtx := &SlotContext{ID: 0}
	key := "000102030405060708090a0b0c0d0e0f"
	if err := m.Login(s, slotCtx, UserNormal, key, 16, nil); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := m.Logout(s, slotCtx, nil); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if slotCtx.LoggedIn {
		t.Fatalf("slot should no longer be logged in")
	}
	if !isAllZero(slotCtx.ReadKey[:]) {
		t.Fatalf("ReadKey not wiped: %x", slotCtx.ReadKey)
	}
	if s.State != StateRWPublic {
		t.Fatalf("state after logout = %v, want StateRWPublic", s.State)
	}
}

type fakeAuthSession struct {
	nonce       []byte
	started     bool
	terminated  bool
	failNonce   bool
	failStart   bool
}

func (f *fakeAuthSession) DeviceNonce() ([]byte, error) {
	if f.failNonce {
		return nil, errTestFailure
	}
	return f.nonce, nil
}

func (f *fakeAuthSession) StartSession(callerNonce, sessionKey []byte) error {
	if f.failStart {
		return errTestFailure
	}
	f.started = true
	return nil
}

func (f *fakeAuthSession) Terminate() error {
	f.terminated = true
	return nil
}

var errTestFailure = &StatusErr{Status: StatusGeneralError, Op: "test"}

func TestSessionLoginHandleFamilyAuthStartup(t *testing.T) {
	m := NewSessionMgr(2, NewArbiter(1))
	s, _ := m.Open(0, true)
	slotCtx := &SlotContext{ID: 0}
	auth := &fakeAuthSession{nonce: bytes.Repeat([]byte{0x42}, 12)}

	key := "000102030405060708090a0b0c0d0e0f"
	if err := m.Login(s, slotCtx, UserNormal, key, 16, auth); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !auth.started {
		t.Fatalf("expected auth.StartSession to have been called")
	}
}

func TestSessionLoginTerminatesAuthOnFailure(t *testing.T) {
	m := NewSessionMgr(2, NewArbiter(1))
	s, _ := m.Open(0, true)
	slotCtx := &SlotContext{ID: 0}
	auth := &fakeAuthSession{failStart: true, nonce: bytes.Repeat([]byte{0x01}, 12)}

	key := "000102030405060708090a0b0c0d0e0f"
	if err := m.Login(s, slotCtx, UserNormal, key, 16, auth); err == nil {
		t.Fatalf("expected Login to fail when auth.StartSession fails")
	}
	if !auth.terminated {
		t.Fatalf("expected auth.Terminate to be called on failure")
	}
	if slotCtx.LoggedIn {
		t.Fatalf("slot must not be marked logged in on failure")
	}
}
