package token

// This file is the §4.6/§6 Cryptoki-surface dispatch layer: one method on
// *LibraryContext per entrypoint, each following the same shape —
// init_check, argument validation, session_check, object_check, then
// delegate to the owning component (SlotMgr/SessionMgr/ObjectStore/
// MechContext). No entrypoint here talks to a transport.Device directly;
// device command framing is the external collaborator §1 places out of
// scope, so the mechanism/session layers already encapsulate the one
// place a real implementation would call through transport.Device.

func (lc *LibraryContext) initCheck() error {
	if lc == nil || !lc.initialized {
		return NewStatusErr("entrypoint", StatusCryptokiNotInitialized)
	}
	return nil
}

func (lc *LibraryContext) sessionCheck(handle uintptr) (*SessionContext, error) {
	if err := lc.initCheck(); err != nil {
		return nil, err
	}
	return lc.sessions.Check(handle)
}

func (lc *LibraryContext) objectCheck(handle uint32) (*ObjectDescriptor, error) {
	if err := lc.initCheck(); err != nil {
		return nil, err
	}
	return lc.objects.Check(handle)
}

// GetSlotList implements §6 C_GetSlotList.
func (lc *LibraryContext) GetSlotList(tokenPresent bool) ([]int, error) {
	if err := lc.initCheck(); err != nil {
		return nil, err
	}
	return lc.slots.List(tokenPresent), nil
}

// GetTokenInfo implements §6 C_GetTokenInfo.
func (lc *LibraryContext) GetTokenInfo(slot int) (TokenInfo, error) {
	if err := lc.initCheck(); err != nil {
		return TokenInfo{}, err
	}
	s, err := lc.slots.Slot(slot)
	if err != nil {
		return TokenInfo{}, err
	}
	if s.State != SlotReady {
		return TokenInfo{}, NewStatusErr("GetTokenInfo", StatusTokenNotRecognized)
	}
	return s.Info(), nil
}

// InitToken implements §6 C_InitToken: configures and brings slot up using
// desc and dial, the caller-supplied transport opener (§1's out-of-scope
// wire driver, injected rather than hard-coded per slot.go's dialFunc).
func (lc *LibraryContext) InitToken(slot int, desc SlotDescriptor, dial dialFunc) error {
	if err := lc.initCheck(); err != nil {
		return err
	}
	if err := lc.slots.Configure(slot, desc); err != nil {
		return err
	}
	return lc.slots.Initialize(slot, dial)
}

// OpenSession implements §6 C_OpenSession.
func (lc *LibraryContext) OpenSession(slot int, readWrite bool) (uintptr, error) {
	if err := lc.initCheck(); err != nil {
		return 0, err
	}
	s, err := lc.slots.Slot(slot)
	if err != nil {
		return 0, err
	}
	if s.State != SlotReady {
		return 0, NewStatusErr("OpenSession", StatusTokenNotRecognized)
	}
	sess, err := lc.sessions.Open(slot, readWrite)
	if err != nil {
		return 0, err
	}
	return sess.Handle, nil
}

// CloseSession implements §6 C_CloseSession.
func (lc *LibraryContext) CloseSession(handle uintptr) error {
	if err := lc.initCheck(); err != nil {
		return err
	}
	return lc.sessions.Close(handle)
}

// CloseAllSessions implements §6 C_CloseAllSessions.
func (lc *LibraryContext) CloseAllSessions(slot int) error {
	if err := lc.initCheck(); err != nil {
		return err
	}
	lc.sessions.CloseAll(slot)
	return nil
}

// GetSessionInfo implements §6 C_GetSessionInfo.
func (lc *LibraryContext) GetSessionInfo(handle uintptr) (SessionContext, error) {
	if err := lc.initCheck(); err != nil {
		return SessionContext{}, err
	}
	return lc.sessions.GetInfo(handle)
}

// Login implements §6 C_Login / §4.4's protocol, wired to the owning
// slot's ReadKey and (for handle-family devices) an AuthSession the
// caller constructs from its transport binding. auth is nil for
// legacy-family devices.
func (lc *LibraryContext) Login(handle uintptr, userType UserType, pin string, keyLen int, auth AuthSession) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	slotCtx, err := lc.slots.Slot(sess.Slot)
	if err != nil {
		return err
	}
	if err := lc.LockDevice(); err != nil {
		return err
	}
	defer lc.UnlockDevice()
	return lc.sessions.Login(sess, slotCtx, userType, pin, keyLen, auth)
}

// Logout implements §6 C_Logout.
func (lc *LibraryContext) Logout(handle uintptr, auth AuthSession) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	slotCtx, err := lc.slots.Slot(sess.Slot)
	if err != nil {
		return err
	}
	if err := lc.LockDevice(); err != nil {
		return err
	}
	defer lc.UnlockDevice()
	return lc.sessions.Logout(sess, slotCtx, auth)
}

// GetAttributeValue implements §6 C_GetAttributeValue, per-attribute
// partial failure (SUPPLEMENTED FEATURES).
func (lc *LibraryContext) GetAttributeValue(sessionHandle uintptr, objHandle uint32, tags []AttributeTag, dsts [][]byte) ([]AttrResult, error) {
	if _, err := lc.sessionCheck(sessionHandle); err != nil {
		return nil, err
	}
	desc, err := lc.objectCheck(objHandle)
	if err != nil {
		return nil, err
	}
	return GetAttributeValue(desc, tags, dsts), nil
}

// DestroyObject implements §6 C_DestroyObject.
func (lc *LibraryContext) DestroyObject(sessionHandle uintptr, objHandle uint32) error {
	if _, err := lc.sessionCheck(sessionHandle); err != nil {
		return err
	}
	if _, err := lc.objectCheck(objHandle); err != nil {
		return err
	}
	return lc.objects.Free(objHandle)
}

// FindObjectsInit implements §6 C_FindObjectsInit.
func (lc *LibraryContext) FindObjectsInit(handle uintptr, tmpl FindTemplate) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	return sess.FindObjectsInit(lc.objects, sess.Slot, tmpl)
}

// FindObjects implements §6 C_FindObjects.
func (lc *LibraryContext) FindObjects(handle uintptr, maxCount int) ([]uint32, error) {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return nil, err
	}
	return sess.FindObjects(maxCount)
}

// FindObjectsFinal implements §6 C_FindObjectsFinal.
func (lc *LibraryContext) FindObjectsFinal(handle uintptr) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	return sess.FindObjectsFinal()
}

// DigestInit/DigestUpdate/DigestFinal/Digest implement §6 C_Digest*.
func (lc *LibraryContext) DigestInit(handle uintptr) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	return sess.DigestInit()
}

func (lc *LibraryContext) DigestUpdate(handle uintptr, data []byte) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	return sess.DigestUpdate(data)
}

func (lc *LibraryContext) DigestFinal(handle uintptr) ([]byte, error) {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return nil, err
	}
	return sess.DigestFinal()
}

func (lc *LibraryContext) Digest(handle uintptr, data []byte) ([]byte, error) {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return nil, err
	}
	return sess.Digest(data)
}

// SignInit/Sign implement §6 C_SignInit/C_Sign for the HMAC-SHA256,
// ECDSA, and handle-family RSA-PKCS/RSA-PSS sign mechanisms. keyBytes is
// the caller's already-retrieved key material (HMAC secret, ECDSA private
// scalar, or RSA PKCS#1 DER private key); real key custody (wrap/unwrap
// off the device) is out of scope (§1).
func (lc *LibraryContext) SignInit(handle uintptr, keyHandle uint32, mech MechType, keyBytes []byte) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	key, err := lc.objectCheck(keyHandle)
	if err != nil {
		return err
	}
	switch mech {
	case MechSignHMACSHA256:
		return sess.SignInitHMAC(key, keyBytes)
	case MechSignECDSA:
		return sess.SignInitECDSA(key, keyBytes)
	case MechSignRSAPKCS:
		return sess.SignInitRSA(key, keyBytes, false)
	case MechSignRSAPSS:
		return sess.SignInitRSA(key, keyBytes, true)
	default:
		return NewStatusErr("SignInit", StatusMechanismInvalid)
	}
}

func (lc *LibraryContext) Sign(handle uintptr, data []byte) ([]byte, error) {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return nil, err
	}
	switch sess.ActiveMech {
	case MechSignHMACSHA256:
		return sess.SignHMACOneShot(data)
	case MechSignECDSA:
		return sess.SignECDSAOneShot(data)
	case MechSignRSAPKCS, MechSignRSAPSS:
		return sess.SignRSAOneShot(data)
	default:
		return nil, NewStatusErr("Sign", StatusOperationNotInitialized)
	}
}

// VerifyInit/Verify implement §6 C_VerifyInit/C_Verify for ECDSA and
// handle-family RSA-PKCS/RSA-PSS. pubKeyBytes is the already-extracted
// public key (64-byte raw X||Y for ECDSA, PKCS#1 DER for RSA); callers
// normally obtain it from ExtractPublicKey before calling VerifyInit.
func (lc *LibraryContext) VerifyInit(handle uintptr, keyHandle uint32, mech MechType, pubKeyBytes []byte) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	key, err := lc.objectCheck(keyHandle)
	if err != nil {
		return err
	}
	switch mech {
	case MechVerifyECDSA:
		return sess.VerifyInitECDSA(key, pubKeyBytes)
	case MechVerifyRSAPKCS:
		return sess.VerifyInitRSA(key, pubKeyBytes, false)
	case MechVerifyRSAPSS:
		return sess.VerifyInitRSA(key, pubKeyBytes, true)
	default:
		return NewStatusErr("VerifyInit", StatusMechanismInvalid)
	}
}

func (lc *LibraryContext) Verify(handle uintptr, data, signature []byte) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	switch sess.ActiveMech {
	case MechVerifyECDSA:
		return sess.VerifyECDSAOneShot(data, signature)
	case MechVerifyRSAPKCS, MechVerifyRSAPSS:
		return sess.VerifyRSAOneShot(data, signature)
	default:
		return NewStatusErr("Verify", StatusOperationNotInitialized)
	}
}

// ExtractPublicKey implements §4.5's Verify-family public key recovery: a
// private key's public counterpart comes from whichever of legacy GetPubKey,
// a handle-family Pub_Key reference, or GenKey re-derivation applies to the
// object at hand. The legacy GetPubKey device command itself is out of
// scope (§1's transport boundary), so a legacy object without an already
// cached public key must fall back to GenKey re-derivation from
// privKeyBytes, exactly like the original's atca_openssl derive-from-scalar
// fallback.
func (lc *LibraryContext) ExtractPublicKey(handle uintptr, keyHandle uint32, privKeyBytes []byte) ([]byte, error) {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return nil, err
	}
	desc, err := lc.objectCheck(keyHandle)
	if err != nil {
		return nil, err
	}

	if desc.Flags&FlagKeyCache != 0 && len(desc.Data) > 0 {
		return desc.Data, nil
	}

	if desc.Flags&FlagHandleFamily != 0 && desc.Handle != nil && desc.Handle.PubKey != 0 {
		pubDesc, _, err := lc.objects.Find(sess.Slot, FindTemplate{HasClass: true, Class: ClassPublicKey, HasID: desc.ID != "", ID: desc.ID})
		if err == nil && pubDesc.Location == desc.Handle.PubKey && len(pubDesc.Data) > 0 {
			return pubDesc.Data, nil
		}
	}

	if len(privKeyBytes) == 0 {
		return nil, NewStatusErr("ExtractPublicKey", StatusFunctionNotSupported)
	}
	if desc.Type == TypeRSA {
		pub, err := rsaPublicKeyFromPrivate(privKeyBytes)
		if err != nil {
			return nil, NewStatusErrCause("ExtractPublicKey", StatusGeneralError, err)
		}
		return pub, nil
	}
	pub, err := ecdsaPublicKeyFromScalar(privKeyBytes)
	if err != nil {
		return nil, NewStatusErrCause("ExtractPublicKey", StatusGeneralError, err)
	}
	return pub, nil
}

// EncryptInit/EncryptUpdate/EncryptFinal/Encrypt and the Decrypt* mirror
// implement §6's AES-CBC/CBC-Pad/ECB/GCM family. The CBC, ECB and GCM
// variants are separate methods, each driving its own MechContext arm; the caller reserves the §5
// arbiter resource MechResourceKind names before calling EncryptInit and
// releases it after Final/OneShot, matching §5's "reserved for the
// duration of one mechanism's lifetime" rule — reservation itself is a
// LibraryContext.Arbiter() call at the caller's discretion since only the
// caller knows the session handle to reserve under.
func (lc *LibraryContext) EncryptInitCBC(handle uintptr, keyHandle uint32, keyBytes, iv []byte, pad bool) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	key, err := lc.objectCheck(keyHandle)
	if err != nil {
		return err
	}
	if err := lc.LockDevice(); err != nil {
		return err
	}
	defer lc.UnlockDevice()
	return sess.EncryptInitCBC(key, keyBytes, iv, pad, dirEncrypt)
}

func (lc *LibraryContext) DecryptInitCBC(handle uintptr, keyHandle uint32, keyBytes, iv []byte, pad bool) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	key, err := lc.objectCheck(keyHandle)
	if err != nil {
		return err
	}
	if err := lc.LockDevice(); err != nil {
		return err
	}
	defer lc.UnlockDevice()
	return sess.EncryptInitCBC(key, keyBytes, iv, pad, dirDecrypt)
}

func (lc *LibraryContext) EncryptUpdate(handle uintptr, data []byte) ([]byte, error) {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return nil, err
	}
	return sess.CBCUpdate(data)
}

func (lc *LibraryContext) EncryptFinal(handle uintptr) ([]byte, error) {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return nil, err
	}
	return sess.CBCFinal()
}

func (lc *LibraryContext) EncryptInitECB(handle uintptr, keyHandle uint32, keyBytes []byte) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	key, err := lc.objectCheck(keyHandle)
	if err != nil {
		return err
	}
	if err := lc.LockDevice(); err != nil {
		return err
	}
	defer lc.UnlockDevice()
	return sess.EncryptInitECB(key, keyBytes, dirEncrypt)
}

func (lc *LibraryContext) DecryptInitECB(handle uintptr, keyHandle uint32, keyBytes []byte) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	key, err := lc.objectCheck(keyHandle)
	if err != nil {
		return err
	}
	if err := lc.LockDevice(); err != nil {
		return err
	}
	defer lc.UnlockDevice()
	return sess.EncryptInitECB(key, keyBytes, dirDecrypt)
}

func (lc *LibraryContext) EncryptOneShot(handle uintptr, block []byte) ([]byte, error) {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return nil, err
	}
	return sess.ECBOneShot(block)
}

func (lc *LibraryContext) EncryptInitGCM(handle uintptr, keyHandle uint32, keyBytes, iv, aad []byte, tagBits int, streaming bool) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	key, err := lc.objectCheck(keyHandle)
	if err != nil {
		return err
	}
	if err := lc.LockDevice(); err != nil {
		return err
	}
	defer lc.UnlockDevice()
	return sess.EncryptInitGCM(key, keyBytes, iv, aad, tagBits, streaming, dirEncrypt)
}

func (lc *LibraryContext) DecryptInitGCM(handle uintptr, keyHandle uint32, keyBytes, iv, aad []byte, tagBits int, streaming bool) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	key, err := lc.objectCheck(keyHandle)
	if err != nil {
		return err
	}
	if err := lc.LockDevice(); err != nil {
		return err
	}
	defer lc.UnlockDevice()
	return sess.EncryptInitGCM(key, keyBytes, iv, aad, tagBits, streaming, dirDecrypt)
}

func (lc *LibraryContext) EncryptGCMUpdate(handle uintptr, data []byte) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	return sess.GCMUpdate(data)
}

func (lc *LibraryContext) EncryptGCMOneShot(handle uintptr, in []byte) ([]byte, error) {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return nil, err
	}
	if err := lc.LockDevice(); err != nil {
		return nil, err
	}
	defer lc.UnlockDevice()
	return sess.GCMOneShot(in)
}

// EncryptInitRSAOAEP/EncryptRSAOAEP and DecryptInitRSAOAEP/DecryptRSAOAEP
// implement §6's "RSA-PKCS OAEP (handle-family only; single-shot)". No
// device lock is taken: like the HMAC and ECDSA/RSA sign-verify paths, the
// actual cryptography runs entirely host-side once the caller has supplied
// the key bytes.
func (lc *LibraryContext) EncryptInitRSAOAEP(handle uintptr, keyHandle uint32, keyBytes []byte) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	key, err := lc.objectCheck(keyHandle)
	if err != nil {
		return err
	}
	return sess.EncryptInitRSAOAEP(key, keyBytes, dirEncrypt)
}

func (lc *LibraryContext) DecryptInitRSAOAEP(handle uintptr, keyHandle uint32, keyBytes []byte) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	key, err := lc.objectCheck(keyHandle)
	if err != nil {
		return err
	}
	return sess.EncryptInitRSAOAEP(key, keyBytes, dirDecrypt)
}

func (lc *LibraryContext) RSAOAEPOneShot(handle uintptr, in []byte) ([]byte, error) {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return nil, err
	}
	return sess.RSAOAEPOneShot(in)
}

// CancelOperation implements §6's session-cancel (§5 "Cancellation ...
// wipes the active mechanism context"), releasing any arbiter
// reservations this session still holds.
func (lc *LibraryContext) CancelOperation(handle uintptr) error {
	sess, err := lc.sessionCheck(handle)
	if err != nil {
		return err
	}
	sess.MechAbort()
	lc.arbiter.ReleaseAll(sess.Handle)
	return nil
}
