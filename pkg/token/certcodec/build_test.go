package certcodec

import (
	"bytes"
	"testing"
	"time"
)

func templateBuf(size int) []byte {
	buf := make([]byte, size)
	buf[0] = 0x30
	buf[1] = byte(size - 2) // short-form DER length, must stay <= 0x7F in these tests
	return buf
}

func TestStartCopiesTemplateAndTruncatesOversizedCertSize(t *testing.T) {
	tmpl := templateBuf(64)
	def := &CertificateDefinition{Template: tmpl}
	certBuf := make([]byte, 64)
	bs, err := Start(def, certBuf, 200, false, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if bs.CertSize != len(tmpl) {
		t.Fatalf("CertSize = %d, want %d (truncated to template length)", bs.CertSize, len(tmpl))
	}
	if !bytes.Equal(bs.Cert[:bs.CertSize], tmpl) {
		t.Fatalf("Cert not copied from template")
	}
}

func TestStartPatchesAuthKeyIDFromCAPublicKey(t *testing.T) {
	tmpl := templateBuf(128)
	def := &CertificateDefinition{Template: tmpl}
	def.StdElements[ElemAuthKeyID] = ElementRange{Offset: 104, Count: 20}
	caKey := bytes.Repeat([]byte{0x42}, 64)

	bs, err := Start(def, make([]byte, 128), 128, false, caKey)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := sha1KeyID(caKey)
	if !bytes.Equal(bs.Cert[104:124], want) {
		t.Fatalf("AUTH_KEY_ID = %x, want %x", bs.Cert[104:124], want)
	}
}

func TestProcessInstallsCompCertStandardFields(t *testing.T) {
	tmpl := templateBuf(129)
	def := &CertificateDefinition{
		Template:       tmpl,
		Type:           CertX509,
		TemplateID:     3,
		ChainID:        1,
		SNSource:       SNStored,
		CompCertDevLoc: DeviceLocation{Zone: ZoneData, Offset: 0, Count: 72},
	}
	def.StdElements[ElemSignature] = ElementRange{Offset: 10, Count: 70}
	def.StdElements[ElemSignerID] = ElementRange{Offset: 80, Count: 2}
	def.StdElements[ElemIssueDate] = ElementRange{Offset: 85, Count: 20}
	def.StdElements[ElemExpireDate] = ElementRange{Offset: 105, Count: 20}

	sig := bytes.Repeat([]byte{0x07}, 64)
	issue := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	compCert, err := GetCompCertExt(def, CompCertEncodeParams{
		Signature: sig,
		IssueDate: issue,
		SignerID:  []byte{0x11, 0x22},
	})
	if err != nil {
		t.Fatalf("GetCompCertExt: %v", err)
	}

	bs, err := Start(def, make([]byte, 130), 130, false, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := bs.Process(def.CompCertDevLoc, compCert); err != nil {
		t.Fatalf("Process: %v", err)
	}

	wantSig, err := encodeECDSASignature(sig)
	if err != nil {
		t.Fatalf("encodeECDSASignature: %v", err)
	}
	if !bytes.Equal(bs.Cert[10:10+len(wantSig)], wantSig) {
		t.Fatalf("installed signature = %x, want %x", bs.Cert[10:10+len(wantSig)], wantSig)
	}
	if !bytes.Equal(bs.Cert[80:82], []byte{0x11, 0x22}) {
		t.Fatalf("installed signer id = %x, want 1122", bs.Cert[80:82])
	}
	if !bs.IsCompCert {
		t.Fatalf("IsCompCert should be true after processing a comp-cert device read")
	}

	wantIssue, err := encodeStdDate(DateISO8601, issue)
	if err != nil {
		t.Fatalf("encodeStdDate issue: %v", err)
	}
	if !bytes.Equal(bs.Cert[85:105], wantIssue) {
		t.Fatalf("installed issue date = %q, want %q", bs.Cert[85:105], wantIssue)
	}
	// ExpireYears was never set on def, so the comp_cert's expire_years
	// field decodes to zero and the "no expiration" sentinel is used.
	wantExpire, err := encodeStdDate(DateISO8601, noExpirationDate(DateISO8601))
	if err != nil {
		t.Fatalf("encodeStdDate expire: %v", err)
	}
	if !bytes.Equal(bs.Cert[105:125], wantExpire) {
		t.Fatalf("installed expire date = %q, want %q", bs.Cert[105:125], wantExpire)
	}
}

func TestProcessInstallsSubjectPublicKeyAndDerivedKeyID(t *testing.T) {
	tmpl := templateBuf(128)
	def := &CertificateDefinition{
		Template:        tmpl,
		PublicKeyDevLoc: DeviceLocation{Zone: ZoneData, Offset: 0, Count: 72},
	}
	def.StdElements[ElemPublicKey] = ElementRange{Offset: 20, Count: 64}
	def.StdElements[ElemSubjKeyID] = ElementRange{Offset: 90, Count: 20}

	x := bytes.Repeat([]byte{0xAA}, 32)
	y := bytes.Repeat([]byte{0xBB}, 32)
	padded := make([]byte, 72)
	copy(padded[4:36], x)
	copy(padded[40:72], y)

	bs, err := Start(def, make([]byte, 128), 128, false, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := bs.Process(def.PublicKeyDevLoc, padded); err != nil {
		t.Fatalf("Process: %v", err)
	}

	wantXY := append(append([]byte{}, x...), y...)
	if !bytes.Equal(bs.Cert[20:84], wantXY) {
		t.Fatalf("installed public key = %x, want %x", bs.Cert[20:84], wantXY)
	}
	wantKeyID := sha1KeyID(wantXY)
	if !bytes.Equal(bs.Cert[90:110], wantKeyID) {
		t.Fatalf("installed subj key id = %x, want %x", bs.Cert[90:110], wantKeyID)
	}
	if !bytes.Equal(bs.subjPubKeyCache, wantXY) {
		t.Fatalf("subjPubKeyCache not populated for a later Finish call")
	}
}

func TestProcessIgnoresDeviceReadsOutsideAnyElement(t *testing.T) {
	tmpl := templateBuf(64)
	def := &CertificateDefinition{Template: tmpl}
	bs, err := Start(def, make([]byte, 64), 64, false, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := append([]byte{}, bs.Cert[:bs.CertSize]...)
	if err := bs.Process(DeviceLocation{Zone: ZoneOTP, Offset: 0, Count: 8}, make([]byte, 8)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !bytes.Equal(bs.Cert[:bs.CertSize], before) {
		t.Fatalf("Process modified the certificate despite no matching element")
	}
}

func TestProcessAppliesCustomElementTransformChain(t *testing.T) {
	tmpl := templateBuf(64)
	def := &CertificateDefinition{
		Template: tmpl,
		CustomElements: []CustomElement{
			{
				DeviceLoc:  DeviceLocation{Zone: ZoneOTP, Offset: 0, Count: 4},
				CertLoc:    ElementRange{Offset: 20, Count: 8},
				Transforms: []TransformStage{TransformBin2HexLC},
			},
		},
	}
	bs, err := Start(def, make([]byte, 64), 64, false, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	loc := DeviceLocation{Zone: ZoneOTP, Offset: 0, Count: 4}
	if err := bs.Process(loc, raw); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := string(bs.Cert[20:28]); got != "deadbeef" {
		t.Fatalf("custom element = %q, want %q", got, "deadbeef")
	}
}

func TestFinishGeneratesDeviceSNSerialAndInstallsIt(t *testing.T) {
	tmpl := templateBuf(128)
	def := &CertificateDefinition{
		Template: tmpl,
		Type:     CertX509,
		SNSource: SNDeviceSN,
	}
	def.StdElements[ElemCertSN] = ElementRange{Offset: 50, Count: 10}

	bs, err := Start(def, make([]byte, 128), 128, false, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	deviceSN := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
	if err := bs.Process(legacyDeviceSNLoc, deviceSN); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !bs.IsDeviceSN {
		t.Fatalf("IsDeviceSN should be true after reading the device SN location")
	}
	if err := bs.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	want := append([]byte{0x40}, deviceSN[:9]...)
	if !bytes.Equal(bs.Cert[50:60], want) {
		t.Fatalf("installed serial number = %x, want %x", bs.Cert[50:60], want)
	}
}

func TestFinishNoopForStoredSNSources(t *testing.T) {
	tmpl := templateBuf(64)
	def := &CertificateDefinition{Template: tmpl, SNSource: SNStored}
	bs, err := Start(def, make([]byte, 64), 64, false, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := append([]byte{}, bs.Cert[:bs.CertSize]...)
	if err := bs.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !bytes.Equal(bs.Cert[:bs.CertSize], before) {
		t.Fatalf("Finish should not touch the certificate for SNStored")
	}
}

func TestInstallSNRejectsOversizedFixedWidthSerial(t *testing.T) {
	tmpl := templateBuf(64)
	def := &CertificateDefinition{Template: tmpl, Type: CertX509, SNSource: SNStored}
	def.StdElements[ElemCertSN] = ElementRange{Offset: 10, Count: 2}
	bs, err := Start(def, make([]byte, 64), 64, false, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := bs.setCertSN([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected an error installing a serial number larger than the reserved width")
	}
}

func TestStripPubKeyPaddingExtractsXY(t *testing.T) {
	x := bytes.Repeat([]byte{0x01}, 32)
	y := bytes.Repeat([]byte{0x02}, 32)
	padded := make([]byte, 72)
	copy(padded[4:36], x)
	copy(padded[40:72], y)
	got := stripPubKeyPadding(padded)
	want := append(append([]byte{}, x...), y...)
	if !bytes.Equal(got, want) {
		t.Fatalf("stripPubKeyPadding = %x, want %x", got, want)
	}
}

func TestApplyTransformChainReverseThenHex(t *testing.T) {
	out, err := applyTransformChain([]byte{0x01, 0x02, 0x03}, []TransformStage{TransformReverse, TransformBin2HexUC})
	if err != nil {
		t.Fatalf("applyTransformChain: %v", err)
	}
	if string(out) != "030201" {
		t.Fatalf("out = %q, want %q", out, "030201")
	}
}

func TestEncodeECDSASignaturePadsHighBitIntegers(t *testing.T) {
	r := bytes.Repeat([]byte{0xFF}, 32) // high bit set, needs a leading zero pad
	s := bytes.Repeat([]byte{0x01}, 32)
	der, err := encodeECDSASignature(append(append([]byte{}, r...), s...))
	if err != nil {
		t.Fatalf("encodeECDSASignature: %v", err)
	}
	if der[0] != 0x30 {
		t.Fatalf("der[0] = %#x, want SEQUENCE tag 0x30", der[0])
	}
	// First INTEGER: tag 0x02, length 33 (one pad byte + 32 value bytes).
	if der[2] != 0x02 || der[3] != 33 {
		t.Fatalf("first INTEGER header = %x, want 02 21", der[2:4])
	}
	if der[4] != 0x00 {
		t.Fatalf("first INTEGER should be zero-padded since its high bit is set")
	}
}
