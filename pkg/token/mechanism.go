package token

import "crypto/sha256"

// MechType tags a Cryptoki mechanism family (§4.5). The sentinel
// MechNone marks a session as idle.
type MechType int

const (
	MechNone MechType = iota
	MechDigestSHA256
	MechSignECDSA
	MechVerifyECDSA
	MechSignHMACSHA256
	MechSignRSAPKCS
	MechVerifyRSAPKCS
	MechSignRSAPSS
	MechVerifyRSAPSS
	MechEncryptAESECB
	MechEncryptAESCBC
	MechEncryptAESCBCPad
	MechEncryptAESGCM
	MechEncryptRSAOAEP
	MechFind
)

// direction distinguishes encrypt-family mechanisms from decrypt-family
// ones sharing the same MechContext shape.
type direction int

const (
	dirEncrypt direction = iota
	dirDecrypt
)

// digestCtx is the streaming SHA-256 context (§3 "tagged-union mechanism
// context", §4.5 "Digest: SHA-256 streaming").
type digestCtx struct {
	h *sha256Streaming
}

// sha256Streaming wraps stdlib hash.Hash behind the same update/sum shape
// pkg/ntag424/crypto.go's block-at-a-time helpers use, so the mechanism
// layer's Update/Final calls read identically for every mechanism family.
type sha256Streaming struct {
	state interface {
		Write(p []byte) (int, error)
		Sum(b []byte) []byte
	}
}

func newSHA256Streaming() *sha256Streaming {
	return &sha256Streaming{state: sha256.New()}
}

func (s *sha256Streaming) Write(p []byte) { s.state.Write(p) }
func (s *sha256Streaming) Sum() []byte    { return s.state.Sum(nil) }

// hmacCtx accumulates data for a single-shot HMAC-SHA256 sign (§4.5: HMAC
// has no streaming Update in this spec's Sign family — OneShot only).
type hmacCtx struct {
	key  []byte
	data []byte
}

// cbcCtx is the streaming AES-CBC context; padding is applied only on
// Final for the padded variant.
type cbcCtx struct {
	key      []byte
	iv       []byte
	pad      bool
	dir      direction
	pending  []byte // bytes carried across Update calls: < 16, or up to 16 when a padded decrypt holds back its last block
}

// gcmCtx covers both legacy streaming GCM and handle-family single-shot
// GCM (§4.5: "handle-family devices: single-shot only — update returns
// function not supported, OneShot buffers AAD and IV ... until the final
// encrypt/decrypt call").
type gcmCtx struct {
	key        []byte
	iv         []byte
	aad        []byte
	tagBits    int
	dir        direction
	streaming  bool // false for handle-family devices
	buffered   []byte
	tag        []byte // decrypt only: caller-supplied tag to verify
}

// findCtx holds FindObjectsInit's template plus the result cursor (§3
// "the active find template ... plus a cursor and remaining-count").
type findCtx struct {
	tmpl      FindTemplate
	results   []*ObjectCacheEntry
	cursor    int
}

// ecdsaSignCtx/ecdsaVerifyCtx hold the P-256 key material for the
// single-shot ECDSA Sign/Verify mechanisms (§4.5). Verify's public key
// comes from whichever of §4.5's extraction paths the caller already ran
// (legacy GetPubKey, handle-family Pub_Key reference, or GenKey
// re-derivation) — by the time VerifyInitECDSA runs, that's all resolved
// to 64 raw X||Y bytes.
type ecdsaSignCtx struct {
	priv []byte // 32-byte scalar D
}

type ecdsaVerifyCtx struct {
	pub []byte // 64-byte X||Y
}

// rsaSignCtx/rsaVerifyCtx/rsaOAEPCtx are the handle-family-only RSA
// mechanism contexts (§4.5: "RSA-PKCS-{v1.5,PSS} (handle-family only)",
// "RSA-PKCS OAEP (handle-family only; single-shot)"). Keys are PKCS#1 DER,
// matching crypto.go's rsaSignPKCS1v15/rsaEncryptOAEP family.
type rsaSignCtx struct {
	key []byte
	pss bool
}

type rsaVerifyCtx struct {
	pub []byte
	pss bool
}

type rsaOAEPCtx struct {
	key []byte
	dir direction
}

// MechContext is the session-level tagged union described in §3: at most
// one of its fields is meaningful at a time, selected by the owning
// SessionContext's ActiveMech. Expressed as a Go struct-of-pointers rather
// than a fixed byte array (the C original's "sized for the largest of")
// since Go has no union type; only the pointer for the active tag is
// non-nil.
type MechContext struct {
	Digest *digestCtx
	HMAC   *hmacCtx
	CBC    *cbcCtx
	GCM    *gcmCtx
	Find   *findCtx

	ECDSASign   *ecdsaSignCtx
	ECDSAVerify *ecdsaVerifyCtx
	RSASign     *rsaSignCtx
	RSAVerify   *rsaVerifyCtx
	RSAOAEP     *rsaOAEPCtx

	ActiveObject uint32
}

// reset clears every member and returns the context to the idle shape,
// wiping any key material it held (§5 "Cancellation ... wipes the active
// mechanism context and clears sensitive buffers").
func (m *MechContext) reset() {
	if m.HMAC != nil {
		wipe(m.HMAC.key)
	}
	if m.CBC != nil {
		wipe(m.CBC.key)
	}
	if m.GCM != nil {
		wipe(m.GCM.key)
	}
	if m.ECDSASign != nil {
		wipe(m.ECDSASign.priv)
	}
	if m.RSASign != nil {
		wipe(m.RSASign.key)
	}
	if m.RSAOAEP != nil {
		wipe(m.RSAOAEP.key)
	}
	m.Digest = nil
	m.HMAC = nil
	m.CBC = nil
	m.GCM = nil
	m.Find = nil
	m.ECDSASign = nil
	m.ECDSAVerify = nil
	m.RSASign = nil
	m.RSAVerify = nil
	m.RSAOAEP = nil
	m.ActiveObject = 0
}

// MechResourceKind maps a MechType to the §5 arbiter resource_kind it must
// reserve while active. The AES mechanisms reserve ResourceAESOp, SHA-256
// digest reserves ResourceDigestOp0, and every other mechanism returns
// ResourceNone.
func MechResourceKind(mech MechType) ResourceKind {
	switch mech {
	case MechEncryptAESECB, MechEncryptAESCBC, MechEncryptAESCBCPad, MechEncryptAESGCM:
		return ResourceAESOp
	case MechDigestSHA256:
		return ResourceDigestOp0
	default:
		return ResourceNone
	}
}

// MechInit transitions session from idle into mech, enforcing the §4.5
// "at most one mechanism in flight" invariant and the SUPPLEMENTED
// FEATURES allowed-mechanisms check (original_source/lib/pkcs11/
// pkcs11_key.c's pkcs11_key_check_mechanism). Callers are expected to have
// already reserved any arbiter resource MechResourceKind names.
func (s *SessionContext) MechInit(mech MechType, key *ObjectDescriptor) error {
	if s.ActiveMech != MechNone {
		return NewStatusErr("mechanism.Init", StatusOperationActive)
	}
	if key != nil && !AllowsMechanism(key, mech) {
		return NewStatusErr("mechanism.Init", StatusMechanismInvalid)
	}
	s.Mech.reset()
	s.ActiveMech = mech
	return nil
}

// MechAbort resets an in-flight mechanism on terminal error, per §7's "on
// any terminal failure of an in-flight mechanism, the session's active
// mechanism is reset to the idle sentinel and any reserved device
// resources are released." Resource release is the caller's
// responsibility (it holds the arbiter reference); MechAbort only clears
// session-local state.
func (s *SessionContext) MechAbort() {
	s.Mech.reset()
	s.ActiveMech = MechNone
}

// MechDone completes a mechanism normally (successful OneShot or Final).
func (s *SessionContext) MechDone() {
	s.Mech.reset()
	s.ActiveMech = MechNone
}

// DigestInit starts a streaming SHA-256 digest context.
func (s *SessionContext) DigestInit() error {
	if err := s.MechInit(MechDigestSHA256, nil); err != nil {
		return err
	}
	s.Mech.Digest = &digestCtx{h: newSHA256Streaming()}
	return nil
}

// DigestUpdate feeds data into the active digest. Errors do not transition
// the session out of the active mechanism (§4.5 "Update errors do not by
// themselves transition").
func (s *SessionContext) DigestUpdate(data []byte) error {
	if s.ActiveMech != MechDigestSHA256 || s.Mech.Digest == nil {
		return NewStatusErr("mechanism.DigestUpdate", StatusOperationNotInitialized)
	}
	s.Mech.Digest.h.Write(data)
	return nil
}

// DigestFinal returns the accumulated SHA-256 sum and returns the session
// to idle.
func (s *SessionContext) DigestFinal() ([]byte, error) {
	if s.ActiveMech != MechDigestSHA256 || s.Mech.Digest == nil {
		return nil, NewStatusErr("mechanism.DigestFinal", StatusOperationNotInitialized)
	}
	sum := s.Mech.Digest.h.Sum()
	s.MechDone()
	return sum, nil
}

// Digest is the one-shot form: digest the whole input in a single call.
func (s *SessionContext) Digest(data []byte) ([]byte, error) {
	if err := s.DigestInit(); err != nil {
		return nil, err
	}
	if err := s.DigestUpdate(data); err != nil {
		s.MechAbort()
		return nil, err
	}
	return s.DigestFinal()
}

// SignInitHMAC starts an HMAC-SHA256 sign mechanism, single-shot only
// (§4.5: "HMAC-SHA-256" is listed under signing with no streaming
// distinction beyond OneShot in this spec).
func (s *SessionContext) SignInitHMAC(key *ObjectDescriptor, keyBytes []byte) error {
	if err := s.MechInit(MechSignHMACSHA256, key); err != nil {
		return err
	}
	s.Mech.HMAC = &hmacCtx{key: append([]byte{}, keyBytes...)}
	return nil
}

// SignHMACOneShot computes the HMAC over data and returns to idle.
func (s *SessionContext) SignHMACOneShot(data []byte) ([]byte, error) {
	if s.ActiveMech != MechSignHMACSHA256 || s.Mech.HMAC == nil {
		return nil, NewStatusErr("mechanism.Sign", StatusOperationNotInitialized)
	}
	mac := hmacSHA256(s.Mech.HMAC.key, data)
	s.MechDone()
	return mac, nil
}

// SignInitECDSA starts a single-shot ECDSA-P256 sign mechanism (§4.5:
// "ECDSA (single-shot, data length >= curve's minimum, signature length =
// curve-dependent)"). privScalar is the caller's already-retrieved 32-byte
// private key scalar; custody of that material off the device is out of
// scope, the same boundary SignInitHMAC draws for its key bytes.
func (s *SessionContext) SignInitECDSA(key *ObjectDescriptor, privScalar []byte) error {
	if err := s.MechInit(MechSignECDSA, key); err != nil {
		return err
	}
	s.Mech.ECDSASign = &ecdsaSignCtx{priv: append([]byte{}, privScalar...)}
	return nil
}

// SignECDSAOneShot signs digest (already hashed by the caller, per §4.5's
// minimum-length requirement) and returns to idle.
func (s *SessionContext) SignECDSAOneShot(digest []byte) ([]byte, error) {
	if s.ActiveMech != MechSignECDSA || s.Mech.ECDSASign == nil {
		return nil, NewStatusErr("mechanism.Sign", StatusOperationNotInitialized)
	}
	if len(digest) < 32 {
		return nil, NewStatusErr("mechanism.Sign", StatusDataLenRange)
	}
	defer s.MechDone()
	sig, err := ecdsaSignP256(s.Mech.ECDSASign.priv, digest)
	if err != nil {
		return nil, NewStatusErrCause("mechanism.Sign", StatusGeneralError, err)
	}
	return sig, nil
}

// VerifyInitECDSA starts a single-shot ECDSA-P256 verify mechanism. pubXY
// is the 64-byte raw X||Y the caller has already extracted per §4.5's
// "for verification against a private-key handle, the core first extracts
// the public key" (legacy GetPubKey, handle-family Pub_Key reference, or
// GenKey re-derivation) — VerifyInitECDSA itself is extraction-agnostic.
func (s *SessionContext) VerifyInitECDSA(key *ObjectDescriptor, pubXY []byte) error {
	if err := s.MechInit(MechVerifyECDSA, key); err != nil {
		return err
	}
	s.Mech.ECDSAVerify = &ecdsaVerifyCtx{pub: append([]byte{}, pubXY...)}
	return nil
}

// VerifyECDSAOneShot verifies sig against digest and returns to idle.
// StatusSignatureInvalid distinguishes a well-formed-but-wrong signature
// from a malformed one (StatusSignatureLenRange).
func (s *SessionContext) VerifyECDSAOneShot(digest, sig []byte) error {
	if s.ActiveMech != MechVerifyECDSA || s.Mech.ECDSAVerify == nil {
		return NewStatusErr("mechanism.Verify", StatusOperationNotInitialized)
	}
	defer s.MechDone()
	if len(sig) != 64 {
		return NewStatusErr("mechanism.Verify", StatusSignatureLenRange)
	}
	ok, err := ecdsaVerifyP256(s.Mech.ECDSAVerify.pub, digest, sig)
	if err != nil {
		return NewStatusErrCause("mechanism.Verify", StatusGeneralError, err)
	}
	if !ok {
		return NewStatusErr("mechanism.Verify", StatusSignatureInvalid)
	}
	return nil
}

// SignInitRSA/SignRSAOneShot and VerifyInitRSA/VerifyRSAOneShot implement
// §4.5's handle-family-only "RSA-PKCS-{v1.5,PSS}" mechanisms. pss selects
// PSS padding over PKCS#1 v1.5.
func (s *SessionContext) SignInitRSA(key *ObjectDescriptor, keyBytes []byte, pss bool) error {
	if key != nil && (key.Type != TypeRSA || key.Flags&FlagHandleFamily == 0) {
		return NewStatusErr("mechanism.SignInit", StatusMechanismInvalid)
	}
	mech := MechSignRSAPKCS
	if pss {
		mech = MechSignRSAPSS
	}
	if err := s.MechInit(mech, key); err != nil {
		return err
	}
	s.Mech.RSASign = &rsaSignCtx{key: append([]byte{}, keyBytes...), pss: pss}
	return nil
}

func (s *SessionContext) SignRSAOneShot(digest []byte) ([]byte, error) {
	ctx := s.Mech.RSASign
	if ctx == nil {
		return nil, NewStatusErr("mechanism.Sign", StatusOperationNotInitialized)
	}
	defer s.MechDone()
	var sig []byte
	var err error
	if ctx.pss {
		sig, err = rsaSignPSS(ctx.key, digest)
	} else {
		sig, err = rsaSignPKCS1v15(ctx.key, digest)
	}
	if err != nil {
		return nil, NewStatusErrCause("mechanism.Sign", StatusGeneralError, err)
	}
	return sig, nil
}

func (s *SessionContext) VerifyInitRSA(key *ObjectDescriptor, pubKeyBytes []byte, pss bool) error {
	if key != nil && (key.Type != TypeRSA || key.Flags&FlagHandleFamily == 0) {
		return NewStatusErr("mechanism.VerifyInit", StatusMechanismInvalid)
	}
	mech := MechVerifyRSAPKCS
	if pss {
		mech = MechVerifyRSAPSS
	}
	if err := s.MechInit(mech, key); err != nil {
		return err
	}
	s.Mech.RSAVerify = &rsaVerifyCtx{pub: append([]byte{}, pubKeyBytes...), pss: pss}
	return nil
}

func (s *SessionContext) VerifyRSAOneShot(digest, sig []byte) error {
	ctx := s.Mech.RSAVerify
	if ctx == nil {
		return NewStatusErr("mechanism.Verify", StatusOperationNotInitialized)
	}
	defer s.MechDone()
	var err error
	if ctx.pss {
		err = rsaVerifyPSS(ctx.pub, digest, sig)
	} else {
		err = rsaVerifyPKCS1v15(ctx.pub, digest, sig)
	}
	if err != nil {
		return NewStatusErrCause("mechanism.Verify", StatusSignatureInvalid, err)
	}
	return nil
}

// EncryptInitRSAOAEP/RSAOAEPOneShot implement §4.5's "RSA-PKCS OAEP
// (handle-family only; single-shot)".
func (s *SessionContext) EncryptInitRSAOAEP(key *ObjectDescriptor, keyBytes []byte, dir direction) error {
	if key != nil && (key.Type != TypeRSA || key.Flags&FlagHandleFamily == 0) {
		return NewStatusErr("mechanism.EncryptInit", StatusMechanismInvalid)
	}
	if err := s.MechInit(MechEncryptRSAOAEP, key); err != nil {
		return err
	}
	s.Mech.RSAOAEP = &rsaOAEPCtx{key: append([]byte{}, keyBytes...), dir: dir}
	return nil
}

func (s *SessionContext) RSAOAEPOneShot(in []byte) ([]byte, error) {
	ctx := s.Mech.RSAOAEP
	if ctx == nil {
		return nil, NewStatusErr("mechanism.OneShot", StatusOperationNotInitialized)
	}
	defer s.MechDone()
	var out []byte
	var err error
	if ctx.dir == dirEncrypt {
		out, err = rsaEncryptOAEP(ctx.key, in)
	} else {
		out, err = rsaDecryptOAEP(ctx.key, in)
	}
	if err != nil {
		return nil, NewStatusErrCause("mechanism.OneShot", StatusEncryptedDataInvalid, err)
	}
	return out, nil
}

// EncryptInitCBC starts a CBC encrypt/decrypt mechanism, streaming or not
// depending on whether the caller will call Update at all.
func (s *SessionContext) EncryptInitCBC(key *ObjectDescriptor, keyBytes, iv []byte, pad bool, dir direction) error {
	mech := MechEncryptAESCBC
	if pad {
		mech = MechEncryptAESCBCPad
	}
	if err := s.MechInit(mech, key); err != nil {
		return err
	}
	s.Mech.CBC = &cbcCtx{key: append([]byte{}, keyBytes...), iv: append([]byte{}, iv...), pad: pad, dir: dir}
	return nil
}

// CBCUpdate processes as many complete 16-byte blocks of data as are
// available, carrying any remainder for the next call or Final.
func (s *SessionContext) CBCUpdate(data []byte) ([]byte, error) {
	ctx := s.Mech.CBC
	if ctx == nil {
		return nil, NewStatusErr("mechanism.Update", StatusOperationNotInitialized)
	}
	buf := append(ctx.pending, data...)
	n := (len(buf) / 16) * 16
	if ctx.pad && ctx.dir == dirDecrypt {
		// Padded decrypt must hold back the final block until Final,
		// since it may be the one carrying the padding.
		if n == len(buf) {
			n -= 16
		}
	}
	whole, rest := buf[:n], buf[n:]
	ctx.pending = append([]byte{}, rest...)
	if len(whole) == 0 {
		return nil, nil
	}
	var out []byte
	var err error
	if ctx.dir == dirEncrypt {
		out, err = aesCBCEncrypt(ctx.key, ctx.iv, whole)
	} else {
		out, err = aesCBCDecrypt(ctx.key, ctx.iv, whole)
	}
	if err != nil {
		return nil, NewStatusErrCause("mechanism.Update", StatusEncryptedDataInvalid, err)
	}
	if len(whole) >= 16 {
		// The next IV is the last ciphertext block: the output when
		// encrypting, the input when decrypting.
		if ctx.dir == dirEncrypt {
			ctx.iv = append([]byte{}, out[len(out)-16:]...)
		} else {
			ctx.iv = append([]byte{}, whole[len(whole)-16:]...)
		}
	}
	return out, nil
}

// CBCFinal flushes the remaining pending bytes, applying or stripping
// PKCS#7 padding as configured, and returns the session to idle.
func (s *SessionContext) CBCFinal() ([]byte, error) {
	ctx := s.Mech.CBC
	if ctx == nil {
		return nil, NewStatusErr("mechanism.Final", StatusOperationNotInitialized)
	}
	defer s.MechDone()

	if ctx.dir == dirEncrypt {
		block := ctx.pending
		if ctx.pad {
			block = padPKCS7(block, 16)
		} else if len(block) != 0 {
			return nil, NewStatusErr("mechanism.Final", StatusDataLenRange)
		}
		if len(block) == 0 {
			return nil, nil
		}
		out, err := aesCBCEncrypt(ctx.key, ctx.iv, block)
		if err != nil {
			return nil, NewStatusErrCause("mechanism.Final", StatusEncryptedDataInvalid, err)
		}
		return out, nil
	}

	block := ctx.pending
	if len(block) == 0 {
		return nil, nil
	}
	dec, err := aesCBCDecrypt(ctx.key, ctx.iv, block)
	if err != nil {
		return nil, NewStatusErrCause("mechanism.Final", StatusEncryptedDataInvalid, err)
	}
	if ctx.pad {
		dec, err = unpadPKCS7(dec, 16)
		if err != nil {
			return nil, NewStatusErrCause("mechanism.Final", StatusEncryptedDataInvalid, err)
		}
	}
	return dec, nil
}

// EncryptInitECB starts a single-block AES-ECB mechanism (§4.5: "16 bytes
// in/out", no streaming).
func (s *SessionContext) EncryptInitECB(key *ObjectDescriptor, keyBytes []byte, dir direction) error {
	if err := s.MechInit(MechEncryptAESECB, key); err != nil {
		return err
	}
	s.Mech.CBC = &cbcCtx{key: append([]byte{}, keyBytes...), dir: dir}
	return nil
}

// ECBOneShot encrypts or decrypts exactly one 16-byte block and returns
// the session to idle.
func (s *SessionContext) ECBOneShot(block []byte) ([]byte, error) {
	ctx := s.Mech.CBC
	if ctx == nil {
		return nil, NewStatusErr("mechanism.Encrypt", StatusOperationNotInitialized)
	}
	defer s.MechDone()
	if len(block) != 16 {
		return nil, NewStatusErr("mechanism.Encrypt", StatusDataLenRange)
	}
	if ctx.dir == dirEncrypt {
		out, err := aesECBEncryptBlock(ctx.key, block)
		if err != nil {
			return nil, NewStatusErrCause("mechanism.Encrypt", StatusEncryptedDataInvalid, err)
		}
		return out, nil
	}
	out, err := aesECBDecryptBlock(ctx.key, block)
	if err != nil {
		return nil, NewStatusErrCause("mechanism.Decrypt", StatusEncryptedDataInvalid, err)
	}
	return out, nil
}

// EncryptInitGCM starts an AES-GCM mechanism. streaming selects the
// legacy-device behavior (Update permitted) vs. the handle-family
// single-shot-only behavior (§4.5).
func (s *SessionContext) EncryptInitGCM(key *ObjectDescriptor, keyBytes, iv, aad []byte, tagBits int, streaming bool, dir direction) error {
	if err := s.MechInit(MechEncryptAESGCM, key); err != nil {
		return err
	}
	s.Mech.GCM = &gcmCtx{
		key:       append([]byte{}, keyBytes...),
		iv:        append([]byte{}, iv...),
		aad:       append([]byte{}, aad...),
		tagBits:   tagBits,
		dir:       dir,
		streaming: streaming,
	}
	return nil
}

// GCMUpdate buffers plaintext/ciphertext for the eventual OneShot call.
// On a handle-family device (streaming==false) Update itself is refused.
func (s *SessionContext) GCMUpdate(data []byte) error {
	ctx := s.Mech.GCM
	if ctx == nil {
		return NewStatusErr("mechanism.Update", StatusOperationNotInitialized)
	}
	if !ctx.streaming {
		return NewStatusErr("mechanism.Update", StatusFunctionNotSupported)
	}
	ctx.buffered = append(ctx.buffered, data...)
	return nil
}

// GCMOneShot performs the whole encrypt/decrypt in one call, as required
// for handle-family devices and offered for legacy devices too. On
// decrypt, in is ciphertext||tag; a mismatched tag reports
// StatusEncryptedDataInvalid (§8 scenario 2's "flipped last byte").
func (s *SessionContext) GCMOneShot(in []byte) ([]byte, error) {
	ctx := s.Mech.GCM
	if ctx == nil {
		return nil, NewStatusErr("mechanism.OneShot", StatusOperationNotInitialized)
	}
	defer s.MechDone()

	plaintext := append(append([]byte{}, ctx.buffered...), in...)
	tagLen := ctx.tagBits / 8

	if ctx.dir == dirEncrypt {
		ct, tag, err := aesGCMSeal(ctx.key, ctx.iv, ctx.aad, plaintext, ctx.tagBits)
		if err != nil {
			return nil, NewStatusErrCause("mechanism.Encrypt", StatusGeneralError, err)
		}
		return append(ct, tag...), nil
	}

	if len(plaintext) < tagLen {
		return nil, NewStatusErr("mechanism.Decrypt", StatusDataLenRange)
	}
	ct := plaintext[:len(plaintext)-tagLen]
	tag := plaintext[len(plaintext)-tagLen:]
	pt, err := aesGCMOpen(ctx.key, ctx.iv, ctx.aad, ct, tag)
	if err != nil {
		return nil, NewStatusErrCause("mechanism.Decrypt", StatusEncryptedDataInvalid, err)
	}
	return pt, nil
}

// FindObjectsInit installs tmpl as the session's active find cursor,
// scanning store for every match in slot up front (§3: "a copy of
// caller's attribute list plus a cursor and remaining-count").
func (s *SessionContext) FindObjectsInit(store *ObjectStore, slot int, tmpl FindTemplate) error {
	if err := s.MechInit(MechFind, nil); err != nil {
		return err
	}
	s.Mech.Find = &findCtx{tmpl: tmpl, results: store.FindAll(slot, tmpl)}
	return nil
}

// FindObjects returns up to maxCount handles from the active find cursor,
// advancing it.
func (s *SessionContext) FindObjects(maxCount int) ([]uint32, error) {
	ctx := s.Mech.Find
	if ctx == nil {
		return nil, NewStatusErr("mechanism.Find", StatusOperationNotInitialized)
	}
	var out []uint32
	for len(out) < maxCount && ctx.cursor < len(ctx.results) {
		out = append(out, ctx.results[ctx.cursor].Handle)
		ctx.cursor++
	}
	return out, nil
}

// FindObjectsFinal ends the find mechanism and returns the session to
// idle.
func (s *SessionContext) FindObjectsFinal() error {
	if s.Mech.Find == nil {
		return NewStatusErr("mechanism.FindFinal", StatusOperationNotInitialized)
	}
	s.MechDone()
	return nil
}
