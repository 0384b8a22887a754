package token

import (
	"bytes"
	"testing"

	"github.com/barnettlynn/cryptotoken/pkg/token/transport"
)

func newTestLibrary(t *testing.T) *LibraryContext {
	t.Helper()
	lc, err := Initialize(InitArgs{SlotPoolSize: 2, ObjectCacheCap: 8, MultiThreaded: true})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() {
		if lc.initialized {
			lc.Finalize()
		}
	})
	return lc
}

func bringUpSlot(t *testing.T, lc *LibraryContext, slot int) {
	t.Helper()
	desc := SlotDescriptor{DeviceType: DeviceATECC508A, Transport: TransportConfig{Kind: InterfaceHID}, Label: "test"}
	if err := lc.slots.Configure(slot, desc); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	lc.slots.probe = &fakeProbe{zone: make([]byte, legacyConfigZoneSize)}
	dial := func(TransportConfig) (transport.Device, error) { return fakeDevice{}, nil }
	if err := lc.slots.Initialize(slot, dial); err != nil {
		t.Fatalf("slots.Initialize: %v", err)
	}
}

func TestEntrypointsRejectCallsBeforeInitialize(t *testing.T) {
	var lc *LibraryContext
	if _, err := lc.GetSlotList(false); err == nil {
		t.Fatalf("expected StatusCryptokiNotInitialized on a nil LibraryContext")
	}
}

func TestEntrypointsOpenSessionRequiresReadyToken(t *testing.T) {
	lc := newTestLibrary(t)
	if _, err := lc.OpenSession(0, true); err == nil {
		t.Fatalf("expected StatusTokenNotRecognized before InitToken brings the slot up")
	}
}

func TestEntrypointsLoginLogoutRoundTrip(t *testing.T) {
	lc := newTestLibrary(t)
	bringUpSlot(t, lc, 0)

	handle, err := lc.OpenSession(0, true)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if err := lc.Login(handle, UserNormal, "000102030405060708090a0b0c0d0e0f", 16, nil); err != nil {
		t.Fatalf("Login: %v", err)
	}
	info, err := lc.GetSessionInfo(handle)
	if err != nil {
		t.Fatalf("GetSessionInfo: %v", err)
	}
	if info.State != StateRWUser {
		t.Fatalf("session state = %v, want StateRWUser", info.State)
	}
	if err := lc.Logout(handle, nil); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := lc.CloseSession(handle); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
}

func TestEntrypointsFindObjectsRoundTrip(t *testing.T) {
	lc := newTestLibrary(t)
	bringUpSlot(t, lc, 0)
	handle, err := lc.OpenSession(0, true)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	if _, err := lc.Objects().Alloc(0, &ObjectDescriptor{Class: ClassSecretKey, Label: "k1"}); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if _, err := lc.Objects().Alloc(0, &ObjectDescriptor{Class: ClassSecretKey, Label: "k2"}); err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if err := lc.FindObjectsInit(handle, FindTemplate{HasClass: true, Class: ClassSecretKey}); err != nil {
		t.Fatalf("FindObjectsInit: %v", err)
	}
	found, err := lc.FindObjects(handle, 10)
	if err != nil {
		t.Fatalf("FindObjects: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("FindObjects returned %d handles, want 2", len(found))
	}
	if err := lc.FindObjectsFinal(handle); err != nil {
		t.Fatalf("FindObjectsFinal: %v", err)
	}
}

func TestEntrypointsGetAttributeValueAndDestroyObject(t *testing.T) {
	lc := newTestLibrary(t)
	bringUpSlot(t, lc, 0)
	handle, err := lc.OpenSession(0, true)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	objHandle, err := lc.Objects().Alloc(0, &ObjectDescriptor{Class: ClassSecretKey, Label: "target"})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	results, err := lc.GetAttributeValue(handle, objHandle, []AttributeTag{AttrLabel}, nil)
	if err != nil {
		t.Fatalf("GetAttributeValue: %v", err)
	}
	if results[0].N != len("target") {
		t.Fatalf("N = %d, want %d", results[0].N, len("target"))
	}

	if err := lc.DestroyObject(handle, objHandle); err != nil {
		t.Fatalf("DestroyObject: %v", err)
	}
	if _, err := lc.GetAttributeValue(handle, objHandle, []AttributeTag{AttrLabel}, nil); err == nil {
		t.Fatalf("expected an error reading attributes off a destroyed object")
	}
}

func TestEntrypointsEncryptDecryptECBRoundTrip(t *testing.T) {
	lc := newTestLibrary(t)
	bringUpSlot(t, lc, 0)
	handle, err := lc.OpenSession(0, true)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	keyHandle, err := lc.Objects().Alloc(0, &ObjectDescriptor{Class: ClassSecretKey})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	key := make([]byte, 16)
	block := bytes.Repeat([]byte{0x11}, 16)

	if err := lc.EncryptInitECB(handle, keyHandle, key); err != nil {
		t.Fatalf("EncryptInitECB: %v", err)
	}
	ct, err := lc.EncryptOneShot(handle, block)
	if err != nil {
		t.Fatalf("EncryptOneShot: %v", err)
	}

	if err := lc.DecryptInitECB(handle, keyHandle, key); err != nil {
		t.Fatalf("DecryptInitECB: %v", err)
	}
	pt, err := lc.EncryptOneShot(handle, ct)
	if err != nil {
		t.Fatalf("EncryptOneShot (decrypt): %v", err)
	}
	if !bytes.Equal(pt, block) {
		t.Fatalf("round trip = %x, want %x", pt, block)
	}
}

func TestEntrypointsSignVerifyECDSARoundTrip(t *testing.T) {
	lc := newTestLibrary(t)
	bringUpSlot(t, lc, 0)
	handle, err := lc.OpenSession(0, true)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	keyHandle, err := lc.Objects().Alloc(0, &ObjectDescriptor{Class: ClassPrivateKey, Type: TypeEC})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	priv := bytes.Repeat([]byte{0x07}, 32)
	digest := sha256Sum([]byte("message to sign"))

	if err := lc.SignInit(handle, keyHandle, MechSignECDSA, priv); err != nil {
		t.Fatalf("SignInit: %v", err)
	}
	sig, err := lc.Sign(handle, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64", len(sig))
	}

	pub, err := lc.ExtractPublicKey(handle, keyHandle, priv)
	if err != nil {
		t.Fatalf("ExtractPublicKey: %v", err)
	}
	if err := lc.VerifyInit(handle, keyHandle, MechVerifyECDSA, pub); err != nil {
		t.Fatalf("VerifyInit: %v", err)
	}
	if err := lc.Verify(handle, digest, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestEntrypointsVerifyECDSARejectsTamperedSignature(t *testing.T) {
	lc := newTestLibrary(t)
	bringUpSlot(t, lc, 0)
	handle, err := lc.OpenSession(0, true)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	keyHandle, err := lc.Objects().Alloc(0, &ObjectDescriptor{Class: ClassPrivateKey, Type: TypeEC})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	priv := bytes.Repeat([]byte{0x09}, 32)
	digest := sha256Sum([]byte("another message"))

	if err := lc.SignInit(handle, keyHandle, MechSignECDSA, priv); err != nil {
		t.Fatalf("SignInit: %v", err)
	}
	sig, err := lc.Sign(handle, digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig[0] ^= 0xFF

	pub, err := lc.ExtractPublicKey(handle, keyHandle, priv)
	if err != nil {
		t.Fatalf("ExtractPublicKey: %v", err)
	}
	if err := lc.VerifyInit(handle, keyHandle, MechVerifyECDSA, pub); err != nil {
		t.Fatalf("VerifyInit: %v", err)
	}
	if err := lc.Verify(handle, digest, sig); err == nil {
		t.Fatalf("expected StatusSignatureInvalid for a tampered signature")
	}
}

func TestEntrypointsRSASignVerifyRejectsNonHandleFamilyKey(t *testing.T) {
	lc := newTestLibrary(t)
	bringUpSlot(t, lc, 0)
	handle, err := lc.OpenSession(0, true)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	keyHandle, err := lc.Objects().Alloc(0, &ObjectDescriptor{Class: ClassPrivateKey, Type: TypeRSA})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := lc.SignInit(handle, keyHandle, MechSignRSAPKCS, nil); err == nil {
		t.Fatalf("expected StatusMechanismInvalid for an RSA key without FlagHandleFamily")
	}
}

func TestEntrypointsCancelOperationReleasesArbiter(t *testing.T) {
	lc := newTestLibrary(t)
	bringUpSlot(t, lc, 0)
	handle, err := lc.OpenSession(0, true)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	keyHandle, err := lc.Objects().Alloc(0, &ObjectDescriptor{Class: ClassSecretKey})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := lc.EncryptInitECB(handle, keyHandle, make([]byte, 16)); err != nil {
		t.Fatalf("EncryptInitECB: %v", err)
	}
	sess, err := lc.sessions.Check(handle)
	if err != nil {
		t.Fatalf("sessions.Check: %v", err)
	}
	if err := lc.Arbiter().Reserve(sess.Handle, 0, ResourceAESOp); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := lc.CancelOperation(handle); err != nil {
		t.Fatalf("CancelOperation: %v", err)
	}
	if sess.ActiveMech != MechNone {
		t.Fatalf("session mechanism not reset after CancelOperation")
	}
	if err := lc.Arbiter().Reserve(999, 0, ResourceAESOp); err != nil {
		t.Fatalf("expected the AES resource to be free for a different session after CancelOperation: %v", err)
	}
}
