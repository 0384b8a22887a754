package token

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"testing"
)

func TestDigestOneShotMatchesStdlib(t *testing.T) {
	s := &SessionContext{}
	data := []byte("the quick brown fox")
	got, err := s.Digest(data)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	want := sha256.Sum256(data)
	if !bytes.Equal(got, want[:]) {
		t.Fatalf("Digest = %x, want %x", got, want)
	}
	if s.ActiveMech != MechNone {
		t.Fatalf("session did not return to idle after DigestFinal")
	}
}

func TestDigestStreamingAcrossMultipleUpdates(t *testing.T) {
	s := &SessionContext{}
	if err := s.DigestInit(); err != nil {
		t.Fatalf("DigestInit: %v", err)
	}
	s.DigestUpdate([]byte("part one "))
	s.DigestUpdate([]byte("part two"))
	got, err := s.DigestFinal()
	if err != nil {
		t.Fatalf("DigestFinal: %v", err)
	}
	want := sha256.Sum256([]byte("part one part two"))
	if !bytes.Equal(got, want[:]) {
		t.Fatalf("streamed digest = %x, want %x", got, want)
	}
}

func TestMechInitRejectsConcurrentOperation(t *testing.T) {
	s := &SessionContext{}
	if err := s.DigestInit(); err != nil {
		t.Fatalf("DigestInit: %v", err)
	}
	if err := s.DigestInit(); err == nil {
		t.Fatalf("expected StatusOperationActive for a second Init")
	}
}

func packMechList(mechs ...MechType) []byte {
	out := make([]byte, 0, 4*len(mechs))
	for _, m := range mechs {
		v := uint32(m)
		out = append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	return out
}

func TestMechInitEnforcesAllowedMechanisms(t *testing.T) {
	s := &SessionContext{}
	key := &ObjectDescriptor{
		Class:     ClassPrivateKey,
		Type:      TypeAES,
		AttrTable: PrivateKeyAttributeTable,
		Data:      packMechList(MechEncryptAESCBC),
	}
	if err := s.EncryptInitCBC(key, make([]byte, 16), make([]byte, 16), false, dirEncrypt); err != nil {
		t.Fatalf("EncryptInitCBC with an allowed mechanism should succeed: %v", err)
	}
	s.MechDone()
	if err := s.SignInitHMAC(key, make([]byte, 16)); err == nil {
		t.Fatalf("expected StatusMechanismInvalid for a mechanism outside the key's allowed set")
	}
}

func TestCBCPaddedRoundTripViaUpdateAndFinal(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	plaintext := []byte("this message spans more than one AES block of plaintext")

	enc := &SessionContext{}
	if err := enc.EncryptInitCBC(nil, key, iv, true, dirEncrypt); err != nil {
		t.Fatalf("EncryptInitCBC: %v", err)
	}
	var ct []byte
	for _, chunk := range [][]byte{plaintext[:10], plaintext[10:37], plaintext[37:]} {
		out, err := enc.CBCUpdate(chunk)
		if err != nil {
			t.Fatalf("CBCUpdate: %v", err)
		}
		ct = append(ct, out...)
	}
	final, err := enc.CBCFinal()
	if err != nil {
		t.Fatalf("CBCFinal: %v", err)
	}
	ct = append(ct, final...)

	dec := &SessionContext{}
	if err := dec.EncryptInitCBC(nil, key, iv, true, dirDecrypt); err != nil {
		t.Fatalf("EncryptInitCBC decrypt: %v", err)
	}
	out, err := dec.CBCUpdate(ct)
	if err != nil {
		t.Fatalf("CBCUpdate decrypt: %v", err)
	}
	tail, err := dec.CBCFinal()
	if err != nil {
		t.Fatalf("CBCFinal decrypt: %v", err)
	}
	got := append(out, tail...)
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("CBC round trip = %q, want %q", got, plaintext)
	}
}

func TestECBOneShotRejectsNonBlockInput(t *testing.T) {
	s := &SessionContext{}
	if err := s.EncryptInitECB(nil, make([]byte, 16), dirEncrypt); err != nil {
		t.Fatalf("EncryptInitECB: %v", err)
	}
	if _, err := s.ECBOneShot(make([]byte, 10)); err == nil {
		t.Fatalf("expected StatusDataLenRange for a non-16-byte block")
	}
}

func TestECBOneShotRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	block := bytes.Repeat([]byte{0x5A}, 16)

	enc := &SessionContext{}
	enc.EncryptInitECB(nil, key, dirEncrypt)
	ct, err := enc.ECBOneShot(block)
	if err != nil {
		t.Fatalf("ECBOneShot encrypt: %v", err)
	}

	dec := &SessionContext{}
	dec.EncryptInitECB(nil, key, dirDecrypt)
	pt, err := dec.ECBOneShot(ct)
	if err != nil {
		t.Fatalf("ECBOneShot decrypt: %v", err)
	}
	if !bytes.Equal(pt, block) {
		t.Fatalf("ECB round trip = %x, want %x", pt, block)
	}
}

func TestGCMOneShotRejectsTamperedTag(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 12)

	enc := &SessionContext{}
	enc.EncryptInitGCM(nil, key, iv, []byte("aad"), 128, false, dirEncrypt)
	ct, err := enc.GCMOneShot([]byte("payload"))
	if err != nil {
		t.Fatalf("GCMOneShot encrypt: %v", err)
	}
	ct[len(ct)-1] ^= 0xFF

	dec := &SessionContext{}
	dec.EncryptInitGCM(nil, key, iv, []byte("aad"), 128, false, dirDecrypt)
	if _, err := dec.GCMOneShot(ct); err == nil {
		t.Fatalf("expected StatusEncryptedDataInvalid for a tampered tag")
	}
}

func TestGCMUpdateRejectedOnNonStreamingDevice(t *testing.T) {
	s := &SessionContext{}
	s.EncryptInitGCM(nil, make([]byte, 16), make([]byte, 12), nil, 128, false, dirEncrypt)
	if err := s.GCMUpdate([]byte("x")); err == nil {
		t.Fatalf("expected StatusFunctionNotSupported for Update on a non-streaming GCM context")
	}
}

func TestFindObjectsCursorAdvances(t *testing.T) {
	store := NewObjectStore(8)
	store.Alloc(0, &ObjectDescriptor{Class: ClassSecretKey, Label: "a"})
	store.Alloc(0, &ObjectDescriptor{Class: ClassSecretKey, Label: "b"})
	store.Alloc(0, &ObjectDescriptor{Class: ClassSecretKey, Label: "c"})

	s := &SessionContext{}
	if err := s.FindObjectsInit(store, 0, FindTemplate{HasClass: true, Class: ClassSecretKey}); err != nil {
		t.Fatalf("FindObjectsInit: %v", err)
	}
	first, err := s.FindObjects(2)
	if err != nil {
		t.Fatalf("FindObjects: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first batch = %d handles, want 2", len(first))
	}
	second, err := s.FindObjects(2)
	if err != nil {
		t.Fatalf("FindObjects: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("second batch = %d handles, want 1", len(second))
	}
	if err := s.FindObjectsFinal(); err != nil {
		t.Fatalf("FindObjectsFinal: %v", err)
	}
}

func TestECDSASignVerifyRoundTrip(t *testing.T) {
	priv := bytes.Repeat([]byte{0x42}, 32)
	digest := sha256.Sum256([]byte("sign me"))

	signer := &SessionContext{}
	if err := signer.SignInitECDSA(nil, priv); err != nil {
		t.Fatalf("SignInitECDSA: %v", err)
	}
	sig, err := signer.SignECDSAOneShot(digest[:])
	if err != nil {
		t.Fatalf("SignECDSAOneShot: %v", err)
	}
	if signer.ActiveMech != MechNone {
		t.Fatalf("session did not return to idle after SignECDSAOneShot")
	}

	pub, err := ecdsaPublicKeyFromScalar(priv)
	if err != nil {
		t.Fatalf("ecdsaPublicKeyFromScalar: %v", err)
	}
	verifier := &SessionContext{}
	if err := verifier.VerifyInitECDSA(nil, pub); err != nil {
		t.Fatalf("VerifyInitECDSA: %v", err)
	}
	if err := verifier.VerifyECDSAOneShot(digest[:], sig); err != nil {
		t.Fatalf("VerifyECDSAOneShot: %v", err)
	}
}

func TestECDSAVerifyOneShotRejectsWrongLengthSignature(t *testing.T) {
	pub := make([]byte, 64)
	s := &SessionContext{}
	if err := s.VerifyInitECDSA(nil, pub); err != nil {
		t.Fatalf("VerifyInitECDSA: %v", err)
	}
	if err := s.VerifyECDSAOneShot(make([]byte, 32), make([]byte, 10)); err == nil {
		t.Fatalf("expected StatusSignatureLenRange for a short signature")
	}
}

func testRSAKey(t *testing.T) (priv, pub []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	return x509.MarshalPKCS1PrivateKey(key), x509.MarshalPKCS1PublicKey(&key.PublicKey)
}

func TestRSASignInitRejectsNonHandleFamilyKey(t *testing.T) {
	s := &SessionContext{}
	key := &ObjectDescriptor{Class: ClassPrivateKey, Type: TypeRSA}
	if err := s.SignInitRSA(key, nil, false); err == nil {
		t.Fatalf("expected StatusMechanismInvalid for an RSA key without FlagHandleFamily")
	}
}

func TestRSASignVerifyPKCS1v15RoundTrip(t *testing.T) {
	priv, pub := testRSAKey(t)
	key := &ObjectDescriptor{Class: ClassPrivateKey, Type: TypeRSA, Flags: FlagHandleFamily}
	digest := sha256.Sum256([]byte("rsa pkcs1v15"))

	signer := &SessionContext{}
	if err := signer.SignInitRSA(key, priv, false); err != nil {
		t.Fatalf("SignInitRSA: %v", err)
	}
	sig, err := signer.SignRSAOneShot(digest[:])
	if err != nil {
		t.Fatalf("SignRSAOneShot: %v", err)
	}

	verifier := &SessionContext{}
	if err := verifier.VerifyInitRSA(key, pub, false); err != nil {
		t.Fatalf("VerifyInitRSA: %v", err)
	}
	if err := verifier.VerifyRSAOneShot(digest[:], sig); err != nil {
		t.Fatalf("VerifyRSAOneShot: %v", err)
	}
}

func TestRSASignVerifyPSSRoundTrip(t *testing.T) {
	priv, pub := testRSAKey(t)
	key := &ObjectDescriptor{Class: ClassPrivateKey, Type: TypeRSA, Flags: FlagHandleFamily}
	digest := sha256.Sum256([]byte("rsa pss"))

	signer := &SessionContext{}
	if err := signer.SignInitRSA(key, priv, true); err != nil {
		t.Fatalf("SignInitRSA: %v", err)
	}
	sig, err := signer.SignRSAOneShot(digest[:])
	if err != nil {
		t.Fatalf("SignRSAOneShot: %v", err)
	}

	verifier := &SessionContext{}
	if err := verifier.VerifyInitRSA(key, pub, true); err != nil {
		t.Fatalf("VerifyInitRSA: %v", err)
	}
	if err := verifier.VerifyRSAOneShot(digest[:], sig); err != nil {
		t.Fatalf("VerifyRSAOneShot: %v", err)
	}
}

func TestRSAOAEPEncryptDecryptRoundTrip(t *testing.T) {
	priv, pub := testRSAKey(t)
	key := &ObjectDescriptor{Class: ClassPrivateKey, Type: TypeRSA, Flags: FlagHandleFamily}
	plaintext := []byte("a short oaep payload")

	enc := &SessionContext{}
	if err := enc.EncryptInitRSAOAEP(key, pub, dirEncrypt); err != nil {
		t.Fatalf("EncryptInitRSAOAEP: %v", err)
	}
	ct, err := enc.RSAOAEPOneShot(plaintext)
	if err != nil {
		t.Fatalf("RSAOAEPOneShot encrypt: %v", err)
	}

	dec := &SessionContext{}
	if err := dec.EncryptInitRSAOAEP(key, priv, dirDecrypt); err != nil {
		t.Fatalf("EncryptInitRSAOAEP: %v", err)
	}
	pt, err := dec.RSAOAEPOneShot(ct)
	if err != nil {
		t.Fatalf("RSAOAEPOneShot decrypt: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("OAEP round trip = %q, want %q", pt, plaintext)
	}
}

func TestMechAbortReturnsSessionToIdleAndWipesKey(t *testing.T) {
	s := &SessionContext{}
	key := make([]byte, 16)
	copy(key, []byte("a-real-aes-key!!"))
	s.EncryptInitCBC(nil, key, make([]byte, 16), false, dirEncrypt)
	ctxKey := s.Mech.CBC.key
	s.MechAbort()
	if !isAllZero(ctxKey) {
		t.Fatalf("MechAbort did not wipe the CBC key: %x", ctxKey)
	}
	if s.ActiveMech != MechNone {
		t.Fatalf("ActiveMech after MechAbort = %v, want MechNone", s.ActiveMech)
	}
	if s.Mech.CBC != nil {
		t.Fatalf("MechAbort did not clear the CBC context")
	}
}
