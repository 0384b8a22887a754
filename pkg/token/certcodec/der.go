package certcodec

// decodeDERLength reads the DER length encoding starting at buf[offset]
// (the byte immediately after a tag) and returns the decoded value and
// the number of bytes the length encoding itself occupies (1 for short
// form, 1+n for long form).
func decodeDERLength(buf []byte, offset int) (value, lenOfLen int, err error) {
	if offset >= len(buf) {
		return 0, 0, errf(CodeDecodingError, "length offset %d out of range", offset)
	}
	first := buf[offset]
	if first&0x80 == 0 {
		return int(first), 1, nil
	}
	n := int(first & 0x7F)
	if n == 0 || n > 4 || offset+1+n > len(buf) {
		return 0, 0, errf(CodeDecodingError, "unsupported DER length-of-length %d", n)
	}
	v := 0
	for i := 0; i < n; i++ {
		v = v<<8 | int(buf[offset+1+i])
	}
	return v, 1 + n, nil
}

// encodeDERLength writes value's DER length encoding into buf[offset:],
// refusing to change the length-of-length width from wantLenOfLen (§4.2.3
// step 3: "the adjuster refuses to change the length-of-length width and
// returns bad cert if that would be required").
func encodeDERLength(buf []byte, offset, value, wantLenOfLen int) error {
	if wantLenOfLen == 1 {
		if value > 0x7F {
			return errf(CodeBadCert, "value %d no longer fits short-form length", value)
		}
		buf[offset] = byte(value)
		return nil
	}
	n := wantLenOfLen - 1
	maxVal := 1
	for i := 0; i < n; i++ {
		maxVal *= 256
	}
	if value >= maxVal {
		return errf(CodeBadCert, "value %d no longer fits %d-byte long-form length", value, n)
	}
	buf[offset] = byte(0x80 | n)
	for i := 0; i < n; i++ {
		shift := uint(8 * (n - 1 - i))
		buf[offset+1+i] = byte(value >> shift)
	}
	return nil
}

// AdjustLength recomputes the DER length encoding at buf[offset] (the
// byte immediately after its tag) given a signed size delta applied to
// its content, per §4.2.3 step 3/4. It does not move any bytes; callers
// that also need to shift trailing content call shiftTail separately
// (§4.2.3 step 2).
func AdjustLength(buf []byte, offset int, delta int) error {
	value, lenOfLen, err := decodeDERLength(buf, offset)
	if err != nil {
		return err
	}
	return encodeDERLength(buf, offset, value+delta, lenOfLen)
}

// shiftTail moves buf[from:certSize] to start at from+delta, within a
// buffer of physical capacity maxSize, per §4.2.3 step 2's memmove. delta
// may be negative (shrinking) or positive (growing).
func shiftTail(buf []byte, from, certSize, maxSize, delta int) (newSize int, err error) {
	newSize = certSize + delta
	if newSize < 0 || newSize > maxSize {
		return 0, errf(CodeBufferTooSmall, "adjusted cert size %d exceeds capacity %d", newSize, maxSize)
	}
	tailLen := certSize - from
	if tailLen < 0 {
		return 0, errf(CodeBadCert, "shift offset %d beyond cert size %d", from, certSize)
	}
	if delta > 0 {
		copy(buf[from+delta:from+delta+tailLen], buf[from:from+tailLen])
	} else if delta < 0 {
		copy(buf[from+delta:from+delta+tailLen], buf[from:from+tailLen])
	}
	return newSize, nil
}

// effectiveOffset implements §4.2.3's "every other element-setting
// operation uses effective_offset": offsets after the SN element silently
// shift by however much the just-installed SN grew or shrank relative to
// the template.
func effectiveOffset(def *CertificateDefinition, cert []byte, refOffset int) int {
	if def.Type != CertX509 || def.SNSource != SNStoredDynamic {
		return refOffset
	}
	snOffset := def.elem(ElemCertSN).Offset
	if refOffset <= snOffset {
		return refOffset
	}
	if snOffset >= len(cert) || snOffset >= len(def.Template) {
		return refOffset
	}
	delta := int(cert[snOffset]) - int(def.Template[snOffset])
	return refOffset + delta
}

// outerSeqLengthOffset and tbsSeqLengthOffset locate the two DER SEQUENCE
// length fields §4.2.3 step 3/4 recompute: the outer Certificate SEQUENCE
// immediately follows the one-byte 0x30 tag at offset 0, and the TBS
// SEQUENCE (the X.509 tbsCertificate) immediately follows the outer
// SEQUENCE's own tag+length.
func outerSeqLengthOffset() int { return 1 }

func tbsSeqLengthOffset(cert []byte) (int, error) {
	_, lenOfLen, err := decodeDERLength(cert, outerSeqLengthOffset())
	if err != nil {
		return 0, err
	}
	tbsTagOffset := outerSeqLengthOffset() + lenOfLen
	if tbsTagOffset >= len(cert) || cert[tbsTagOffset] != 0x30 {
		return 0, errf(CodeBadCert, "expected TBS SEQUENCE tag at %d", tbsTagOffset)
	}
	return tbsTagOffset + 1, nil
}

// ResizeForSNDelta performs §4.2.3's resize given an already-computed
// signed delta (installed SN length minus template SN length): shift the
// tail starting just after the SN element, then re-encode the outer and
// TBS SEQUENCE lengths.
func ResizeForSNDelta(def *CertificateDefinition, cert []byte, certSize, maxSize int, delta int) (newSize int, err error) {
	if delta == 0 {
		return certSize, nil
	}
	sn := def.elem(ElemCertSN)
	if sn.Empty() {
		return certSize, errf(CodeBadCert, "certificate definition has no CERT_SN element")
	}
	from := sn.Offset + sn.Count
	newSize, err = shiftTail(cert, from, certSize, maxSize, delta)
	if err != nil {
		return 0, err
	}

	if err := AdjustLength(cert, outerSeqLengthOffset(), delta); err != nil {
		return 0, err
	}
	tbsOff, err := tbsSeqLengthOffset(cert)
	if err != nil {
		return 0, err
	}
	if err := AdjustLength(cert, tbsOff, delta); err != nil {
		return 0, err
	}
	return newSize, nil
}
