package certcodec

import (
	"crypto/sha1" //nolint:gosec // SHA-1 is the device's own key-id scheme, not a security boundary (§4.2.2/§4.2.5).
	"encoding/hex"
	"strings"
)

// BuildState is the three-phase reconstruction protocol's explicit state
// (§4.2.2). It is reused across one certificate's Start/Process*/Finish
// call sequence.
type BuildState struct {
	Def         *CertificateDefinition
	Cert        []byte
	CertSize    int
	MaxCertSize int

	CompCert   []byte
	IsDeviceSN bool
	IsCompCert bool
	DeviceSN   []byte

	HandleFamily bool

	subjPubKeyCache []byte
	snSizeCache     int
}

// synthetic device-SN location used by Process to recognize a device read
// covering the device serial number, mirroring the original's static
// device_sn_dev_loc for legacy devices (config zone [0:13)).
var legacyDeviceSNLoc = DeviceLocation{Zone: ZoneConfig, Offset: 0, Count: 13}

// Start implements §4.2.2 Start: copy the template into cert (truncating
// cert_size to the template size if larger), validate the template's
// outer SEQUENCE length, and optionally patch AUTH_KEY_ID from a CA
// public key.
func Start(def *CertificateDefinition, certBuf []byte, certSize int, handleFamily bool, caPublicKeyXY []byte) (*BuildState, error) {
	bs := &BuildState{Def: def, Cert: certBuf, MaxCertSize: len(certBuf), HandleFamily: handleFamily}

	if certSize > len(def.Template) {
		certSize = len(def.Template)
	}
	bs.CertSize = certSize
	copy(bs.Cert[:certSize], def.Template[:certSize])

	if err := AdjustLength(bs.Cert, outerSeqLengthOffset(), 0); err != nil {
		return nil, err
	}

	if len(caPublicKeyXY) > 0 {
		keyID := sha1KeyID(caPublicKeyXY)
		if err := bs.setCertElement(def.elem(ElemAuthKeyID), keyID); err != nil {
			return nil, err
		}
	}
	return bs, nil
}

// sha1KeyID computes SHA-1(0x04 || X || Y), the device's key-id
// convention for both AUTH_KEY_ID and SUBJ_KEY_ID (§4.2.2 Start step 4,
// §4.2.2 Process's subj_public_key case).
func sha1KeyID(xy []byte) []byte {
	h := sha1.New() //nolint:gosec
	h.Write([]byte{0x04})
	h.Write(xy)
	return h.Sum(nil)
}

// Process implements §4.2.2 Process: test device_loc against every
// element the certificate definition references, installing whichever
// ones it encompasses.
func (bs *BuildState) Process(deviceLoc DeviceLocation, deviceData []byte) error {
	def := bs.Def

	if sn := def.CertSNDevLoc; !sn.Empty() && Encompasses(deviceLoc, sn) {
		rel := sn.Offset - deviceLoc.Offset
		if rel < 0 || rel+sn.Count > len(deviceData) {
			return errf(CodeElemOutOfBounds, "cert_sn device data slice out of range")
		}
		if err := bs.setCertSN(deviceData[rel : rel+sn.Count]); err != nil {
			return err
		}
	}

	if pk := def.PublicKeyDevLoc; !pk.Empty() && Encompasses(deviceLoc, pk) {
		rel := pk.Offset - deviceLoc.Offset
		if rel < 0 || rel+pk.Count > len(deviceData) {
			return errf(CodeElemOutOfBounds, "public key device data slice out of range")
		}
		raw := deviceData[rel : rel+pk.Count]
		if pk.Count == 72 {
			raw = stripPubKeyPadding(raw)
		}
		if err := bs.setSubjPublicKey(raw); err != nil {
			return err
		}
	}

	if cc := def.CompCertDevLoc; !cc.Empty() && Encompasses(deviceLoc, cc) {
		rel := cc.Offset - deviceLoc.Offset
		if rel < 0 || rel+cc.Count > len(deviceData) {
			return errf(CodeElemOutOfBounds, "comp cert device data slice out of range")
		}
		bs.CompCert = append([]byte{}, deviceData[rel:rel+cc.Count]...)
		bs.IsCompCert = true
		if err := bs.setCompCertStandardFields(); err != nil {
			return err
		}
	}

	for _, ce := range def.CustomElements {
		if ce.DeviceLoc.Empty() || !Encompasses(deviceLoc, ce.DeviceLoc) {
			continue
		}
		rel := ce.DeviceLoc.Offset - deviceLoc.Offset
		if rel < 0 || rel+ce.DeviceLoc.Count > len(deviceData) {
			return errf(CodeElemOutOfBounds, "custom element device data slice out of range")
		}
		raw := deviceData[rel : rel+ce.DeviceLoc.Count]
		transformed, err := applyTransformChain(raw, ce.Transforms)
		if err != nil {
			return err
		}
		if err := bs.setCertElement(ce.CertLoc, transformed); err != nil {
			return err
		}
	}

	if snReadsDeviceSN(def.SNSource) && Encompasses(deviceLoc, legacyDeviceSNLoc) {
		rel := legacyDeviceSNLoc.Offset - deviceLoc.Offset
		if rel < 0 || rel+legacyDeviceSNLoc.Count > len(deviceData) {
			return errf(CodeElemOutOfBounds, "device sn data slice out of range")
		}
		bs.DeviceSN = append([]byte{}, deviceData[rel:rel+legacyDeviceSNLoc.Count]...)
		bs.IsDeviceSN = true
	}

	return nil
}

// stripPubKeyPadding removes the legacy device's 4-byte-padded X/Y prefix
// bytes from a 72-byte public key read, producing the raw 64-byte X||Y
// (§4.2.2 Process's subj_public_key case).
func stripPubKeyPadding(padded []byte) []byte {
	if len(padded) != 72 {
		return padded
	}
	out := make([]byte, 64)
	copy(out[0:32], padded[4:36])
	copy(out[32:64], padded[40:72])
	return out
}

// Finish implements §4.2.2 Finish: for a generated SN source, compute the
// serial per §4.2.4 and install it.
func (bs *BuildState) Finish() error {
	if bs.Def.SNSource == SNStored || bs.Def.SNSource == SNStoredDynamic {
		return nil
	}
	formatVersion := 0
	if bs.IsCompCert && len(bs.CompCert) >= 71 {
		formatVersion = int(bs.CompCert[70] & 0xF)
	}
	sn, err := GenerateSerialNumber(bs.Def, bs.subjPubKeyCache, bs.DeviceSN, bs.CompCert, bs.snSizeCache, formatVersion)
	if err != nil {
		return err
	}
	return bs.setCertSNGenerated(sn)
}

// subjPubKeyCache/snSizeCache are populated by setSubjPublicKey and are
// consulted by Finish, which §4.2.2 specifies as a zero-argument call.
//
// SPEC OPEN QUESTION resolution: the distilled spec's build_process
// mentions a path that "copies the pointer rather than the bytes"; this
// port always propagates subject-public-key bytes by value into these
// cache fields rather than aliasing a borrowed pointer, since Go slices
// already behave as safe borrowed references and BuildState outlives the
// Process call that populates them.

func (bs *BuildState) setCertSN(snBytes []byte) error {
	return bs.installSN(snBytes)
}

func (bs *BuildState) setCertSNGenerated(snBytes []byte) error {
	return bs.installSN(snBytes)
}

// installSN implements §4.2.3: for X.509/StoredDynamic certs this resizes
// the certificate; for every other (type, sn_source) pair the SN element
// has a fixed reserved width and is simply overwritten in place.
func (bs *BuildState) installSN(snBytes []byte) error {
	def := bs.Def
	sn := def.elem(ElemCertSN)
	if sn.Empty() {
		return errf(CodeBadCert, "certificate definition has no CERT_SN element")
	}

	if def.Type != CertX509 || def.SNSource != SNStoredDynamic {
		if len(snBytes) > sn.Count {
			return errf(CodeUnexpectedElemSize, "serial number %d bytes exceeds reserved %d", len(snBytes), sn.Count)
		}
		off := effectiveOffset(def, bs.Cert[:bs.CertSize], sn.Offset)
		copy(bs.Cert[off:off+len(snBytes)], snBytes)
		return nil
	}

	templateLen := int(def.Template[sn.Offset])
	bs.Cert[sn.Offset] = byte(len(snBytes))
	delta := len(snBytes) - templateLen

	newSize, err := ResizeForSNDelta(def, bs.Cert, bs.CertSize, bs.MaxCertSize, delta)
	if err != nil {
		bs.Cert[sn.Offset] = byte(templateLen)
		return err
	}
	bs.CertSize = newSize
	copy(bs.Cert[sn.Offset+1:sn.Offset+1+len(snBytes)], snBytes)
	return nil
}

func (bs *BuildState) setSubjPublicKey(xy []byte) error {
	pk := bs.Def.elem(ElemPublicKey)
	if err := bs.setCertElement(pk, xy); err != nil {
		return err
	}
	bs.subjPubKeyCache = append([]byte{}, xy...)
	snElem := bs.Def.elem(ElemCertSN)
	bs.snSizeCache = snElem.Count - 1
	if keyID := sha1KeyID(xy); len(keyID) > 0 {
		if err := bs.setCertElement(bs.Def.elem(ElemSubjKeyID), keyID); err != nil {
			return err
		}
	}
	return nil
}

// setCertElement writes value at the effective offset of elem, failing
// CodeUnexpectedElemSize if it doesn't fit the reserved range.
func (bs *BuildState) setCertElement(elem ElementRange, value []byte) error {
	if elem.Empty() {
		return nil
	}
	if len(value) > elem.Count {
		return errf(CodeUnexpectedElemSize, "value %d bytes exceeds reserved %d", len(value), elem.Count)
	}
	off := effectiveOffset(bs.Def, bs.Cert[:bs.CertSize], elem.Offset)
	if off+len(value) > len(bs.Cert) {
		return errf(CodeElemOutOfBounds, "element write at %d+%d exceeds cert buffer", off, len(value))
	}
	copy(bs.Cert[off:off+len(value)], value)
	return nil
}

// setCompCertStandardFields installs signature, dates, and signer-id from
// the just-captured compressed-cert scratch (§4.2.2 Process's comp_cert
// case -> §4.2.5 set_comp_cert).
func (bs *BuildState) setCompCertStandardFields() error {
	decoded, err := DecodeCompCert(bs.Def, bs.CompCert)
	if err != nil {
		return err
	}

	sigElem := bs.Def.elem(ElemSignature)
	derSig, err := encodeECDSASignature(decoded.Signature)
	if err != nil {
		return err
	}
	if err := bs.setCertElement(sigElem, derSig); err != nil {
		return err
	}

	if err := bs.setCertElement(bs.Def.elem(ElemSignerID), decoded.SignerID); err != nil {
		return err
	}

	if !decoded.IssueDate.IsZero() {
		raw, err := encodeStdDate(bs.Def.DateFormat, decoded.IssueDate)
		if err != nil {
			return err
		}
		if err := bs.setCertElement(bs.Def.elem(ElemIssueDate), raw); err != nil {
			return err
		}
	}

	expire := decoded.ExpireDate
	if expire.IsZero() {
		expire = noExpirationDate(bs.Def.DateFormat)
	}
	if !expire.IsZero() {
		raw, err := encodeStdDate(bs.Def.DateFormat, expire)
		if err != nil {
			return err
		}
		if err := bs.setCertElement(bs.Def.elem(ElemExpireDate), raw); err != nil {
			return err
		}
	}
	return nil
}

// encodeECDSASignature writes an ASN.1 ECDSA-Sig-Value (SEQUENCE of two
// INTEGERs) from raw R||S bytes, per §4.2.5 set_comp_cert step 2. Each
// integer is minimally encoded with a leading 0x00 pad byte when its high
// bit is set, matching DER's "no negative-looking unsigned integer"
// rule.
func encodeECDSASignature(rs []byte) ([]byte, error) {
	if len(rs)%2 != 0 || len(rs) == 0 {
		return nil, errf(CodeDecodingError, "signature must be an even number of bytes, got %d", len(rs))
	}
	half := len(rs) / 2
	r := derInteger(rs[:half])
	s := derInteger(rs[half:])
	body := append(append([]byte{}, r...), s...)
	return append(asn1Len(0x30, len(body)), body...), nil
}

func derInteger(v []byte) []byte {
	for len(v) > 1 && v[0] == 0 {
		v = v[1:]
	}
	if len(v) > 0 && v[0]&0x80 != 0 {
		v = append([]byte{0x00}, v...)
	}
	return append(asn1Len(0x02, len(v)), v...)
}

func asn1Len(tag byte, n int) []byte {
	if n < 0x80 {
		return []byte{tag, byte(n)}
	}
	var lenBytes []byte
	for n > 0 {
		lenBytes = append([]byte{byte(n & 0xFF)}, lenBytes...)
		n >>= 8
	}
	return append([]byte{tag, byte(0x80 | len(lenBytes))}, lenBytes...)
}

// applyTransformChain runs raw through each stage of chain, ping-ponging
// between two fixed scratch buffers (§4.2.2 "iterate the transform chain
// ... applying each transform").
func applyTransformChain(raw []byte, chain []TransformStage) ([]byte, error) {
	if len(chain) > maxTransformStages {
		return nil, errf(CodeBadCert, "transform chain has %d stages, max %d", len(chain), maxTransformStages)
	}
	a := make([]byte, 0, transformScratchSize)
	b := make([]byte, 0, transformScratchSize)
	cur := append(a, raw...)
	next := b
	for _, stage := range chain {
		out, err := applyTransform(stage, cur, next[:0])
		if err != nil {
			return nil, err
		}
		cur, next = out, cur
	}
	return cur, nil
}

func applyTransform(stage TransformStage, in, scratch []byte) ([]byte, error) {
	switch stage {
	case TransformNone:
		return in, nil
	case TransformReverse:
		out := append(scratch[:0], in...)
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out, nil
	case TransformBin2HexUC:
		return []byte(strings.ToUpper(hex.EncodeToString(in))), nil
	case TransformBin2HexLC:
		return []byte(hex.EncodeToString(in)), nil
	case TransformBin2HexUCSpace:
		return []byte(spaceJoinHex(in, true)), nil
	case TransformBin2HexLCSpace:
		return []byte(spaceJoinHex(in, false)), nil
	case TransformHex2BinUC, TransformHex2BinLC:
		cleaned := strings.ReplaceAll(string(in), " ", "")
		out, err := hex.DecodeString(cleaned)
		if err != nil {
			return nil, errf(CodeDecodingError, "hex2bin: %v", err)
		}
		return out, nil
	case TransformHex2BinUCSpace, TransformHex2BinLCSpace:
		cleaned := strings.ReplaceAll(string(in), " ", "")
		out, err := hex.DecodeString(cleaned)
		if err != nil {
			return nil, errf(CodeDecodingError, "hex2bin: %v", err)
		}
		return out, nil
	default:
		return nil, errf(CodeBadCert, "unsupported transform stage %d", stage)
	}
}

func spaceJoinHex(in []byte, upper bool) string {
	s := hex.EncodeToString(in)
	if upper {
		s = strings.ToUpper(s)
	}
	var sb strings.Builder
	for i := 0; i+2 <= len(s); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(s[i : i+2])
	}
	return sb.String()
}
