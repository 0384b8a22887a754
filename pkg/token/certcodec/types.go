// Package certcodec implements §4.2's compressed-certificate codec: the
// reconstruction of a full X.509 DER certificate from a 72-byte
// compressed record plus a per-certificate template and live device-read
// data, and the inverse compression.
//
// Grounded on original_source/lib/atcacert/atcacert_def.c, generalized
// from the C library's byte-pointer/device-handle plumbing into a Go
// package of pure-ish functions driven by a BuildState; device I/O stays
// at the caller's boundary (§1 "the individual device command builders
// ... out of scope").
package certcodec

import "fmt"

// Zone is a device memory region a DeviceLocation can name (§3).
type Zone int

const (
	ZoneNone Zone = iota
	ZoneConfig
	ZoneOTP
	ZoneData
	ZoneDedicatedData
)

// DeviceLocation identifies where a piece of certificate data lives on
// the device (§3). Count==0 encodes "absent".
type DeviceLocation struct {
	Zone     Zone
	Slot     int
	IsGenKey bool
	Offset   int
	Count    int
}

// Empty reports whether loc encodes "absent" (§3 "count==0 encodes
// absent").
func (loc DeviceLocation) Empty() bool { return loc.Count == 0 }

// End returns loc's exclusive end offset.
func (loc DeviceLocation) End() int { return loc.Offset + loc.Count }

// sameZoneIdentity reports whether two locations could ever be merged:
// same zone, and for Data zones, same slot and is_genkey (§4.2.1 step 3).
func sameZoneIdentity(a, b DeviceLocation) bool {
	if a.Zone != b.Zone {
		return false
	}
	if a.Zone == ZoneData {
		return a.Slot == b.Slot && a.IsGenKey == b.IsGenKey
	}
	return true
}

// Mergeable reports whether a and b are mergeable per §3: same zone (and
// for Data zones, slot/is_genkey) and their ranges touch or overlap.
func Mergeable(a, b DeviceLocation) bool {
	if !sameZoneIdentity(a, b) {
		return false
	}
	return a.Offset <= b.End() && b.Offset <= a.End()
}

// Encompasses reports whether loc fully contains def, per §4.2.2's
// "encompassment test": same zone identity, def.offset >= loc.offset,
// and def.offset+def.count <= loc.offset+loc.count.
func Encompasses(loc, def DeviceLocation) bool {
	if def.Empty() {
		return false
	}
	if !sameZoneIdentity(loc, def) {
		return false
	}
	return def.Offset >= loc.Offset && def.End() <= loc.End()
}

// DateFormat is the issue/expire date encoding a CertificateDefinition
// uses (§3).
type DateFormat int

const (
	DateISO8601 DateFormat = iota
	DateRFC5280UTC
	DateRFC5280Gen
	DatePOSIXUint32BE
	DatePOSIXUint32ASCII
	DateCompCert
)

// CertType distinguishes the three certificate-template shapes §3 names.
type CertType int

const (
	CertX509 CertType = iota
	CertX509FullStored
	CertCustom
)

// SNSource is the serial-number generation/storage policy §4.2.4 and §3
// enumerate.
type SNSource int

const (
	SNStored SNSource = iota
	SNStoredDynamic
	SNDeviceSN
	SNSignerID
	SNPubKeyHashRaw
	SNPubKeyHashPos
	SNPubKeyHash
	SNDeviceSNHashRaw
	SNDeviceSNHashPos
	SNDeviceSNHash
)

// StdElement enumerates the standard certificate elements a
// CertificateDefinition's element table maps into template byte ranges
// (§3).
type StdElement int

const (
	ElemCertSN StdElement = iota
	ElemSignature
	ElemIssueDate
	ElemExpireDate
	ElemSignerID
	ElemSubjKeyID
	ElemAuthKeyID
	ElemPublicKey
	ElemSubject
	ElemSubjCommonName
	stdElementCount
)

// ElementRange is one standard element's (cert-offset, count) entry
// (§3).
type ElementRange struct {
	Offset int
	Count  int
}

// Empty reports whether the range is unset.
func (r ElementRange) Empty() bool { return r.Count == 0 }

// TransformStage is one step of a custom element's transform chain
// (§3, §4.2.2 "custom element").
type TransformStage int

const (
	TransformNone TransformStage = iota
	TransformReverse
	TransformBin2HexUC
	TransformBin2HexLC
	TransformBin2HexUCSpace
	TransformBin2HexLCSpace
	TransformHex2BinUC
	TransformHex2BinLC
	TransformHex2BinUCSpace
	TransformHex2BinLCSpace
)

// CustomElement is one variable-array entry of a CertificateDefinition
// (§3): a device location, the matching certificate-byte range, and a
// transform chain of up to maxTransformStages stages.
type CustomElement struct {
	DeviceLoc  DeviceLocation
	CertLoc    ElementRange
	Transforms []TransformStage
}

// maxTransformStages bounds a custom element's transform chain (§3 "up to
// N stages"); applyTransformChain rejects longer chains. Its two 256-byte
// scratch buffers are initial capacities only: they do not bound a
// transform's output.
const maxTransformStages = 8

// transformScratchSize is §4.2.2's "two 256-byte scratch buffers".
const transformScratchSize = 256

// CertificateDefinition is the immutable per-certificate-type template
// (§3).
type CertificateDefinition struct {
	Type        CertType
	DateFormat  DateFormat
	ExpireYears int
	TemplateID  int
	ChainID     int
	SNSource    SNSource

	Template []byte

	StdElements [stdElementCount]ElementRange

	CompCertDevLoc   DeviceLocation
	PublicKeyDevLoc  DeviceLocation
	CertSNDevLoc     DeviceLocation

	CustomElements []CustomElement
}

func (d *CertificateDefinition) elem(e StdElement) ElementRange {
	return d.StdElements[e]
}

// CompressedCertificate is the exactly-72-byte (or 128-byte for format
// version 2) on-device record of §3.
type CompressedCertificate [72]byte

// CompressedCertificateV2 is the 128-byte extended form carrying the
// signature tail for larger curves (§3 "[72..128) present only for
// version 2").
type CompressedCertificateV2 [128]byte

// Err wraps the §7 cert-format error kinds: bad cert, wrong cert def,
// unexpected elem size, elem out of bounds, decoding error, buffer too
// small.
type Err struct {
	Code string
	Msg  string
}

func (e *Err) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("certcodec: %s: %s", e.Code, e.Msg)
	}
	return fmt.Sprintf("certcodec: %s", e.Code)
}

func errf(code, format string, args ...any) error {
	return &Err{Code: code, Msg: fmt.Sprintf(format, args...)}
}

const (
	CodeBadCert           = "bad_cert"
	CodeWrongCertDef      = "wrong_cert_def"
	CodeUnexpectedElemSize = "unexpected_elem_size"
	CodeElemOutOfBounds   = "elem_out_of_bounds"
	CodeDecodingError     = "decoding_error"
	CodeBufferTooSmall    = "buffer_too_small"
)
