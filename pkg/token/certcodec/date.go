package certcodec

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// encodeStdDate formats t the way a CertificateDefinition's DateFormat
// says its issue/expire date elements are encoded, mirroring the format
// dispatch atcacert_set_issue_date/atcacert_set_expire_date hand off to
// atcacert_date_enc in the original (atcacert_def.c).
func encodeStdDate(format DateFormat, t time.Time) ([]byte, error) {
	t = t.UTC()
	switch format {
	case DateISO8601:
		return []byte(t.Format("2006-01-02T15:04:05Z")), nil
	case DateRFC5280UTC:
		if t.Year() < 1950 || t.Year() > 2049 {
			return nil, errf(CodeBadCert, "RFC5280 UTCTime only represents years 1950-2049, got %d", t.Year())
		}
		return []byte(fmt.Sprintf("%02d%02d%02d%02d%02d%02dZ", t.Year()%100, int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())), nil
	case DateRFC5280Gen:
		return []byte(t.Format("20060102150405Z")), nil
	case DatePOSIXUint32BE:
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, uint32(t.Unix()))
		return out, nil
	case DatePOSIXUint32ASCII:
		raw := make([]byte, 4)
		binary.BigEndian.PutUint32(raw, uint32(t.Unix()))
		return []byte(strings.ToUpper(hex.EncodeToString(raw))), nil
	case DateCompCert:
		packed, _ := encodeCompDate(compDate{Year: t.Year(), Month: int(t.Month()), Day: t.Day(), Hour: t.Hour()})
		return packed[:], nil
	default:
		return nil, errf(CodeBadCert, "unsupported date format %d", format)
	}
}

// decodeStdDate is encodeStdDate's inverse, used by readers that need a
// certificate's already-installed issue/expire date back out.
func decodeStdDate(format DateFormat, raw []byte) (time.Time, error) {
	switch format {
	case DateISO8601:
		return time.Parse("2006-01-02T15:04:05Z", string(raw))
	case DateRFC5280UTC:
		// Parsed by hand rather than through time.Parse's two-digit-year
		// layout, which pivots at 69 instead of RFC 5280 §4.1.2.5's 50.
		if len(raw) != 13 || raw[12] != 'Z' {
			return time.Time{}, errf(CodeUnexpectedElemSize, "RFC5280 UTCTime must be 13 bytes ending in Z, got %q", raw)
		}
		yy, err := strconv.Atoi(string(raw[0:2]))
		if err != nil {
			return time.Time{}, errf(CodeDecodingError, "RFC5280 UTCTime: %v", err)
		}
		year := 2000 + yy
		if yy >= 50 {
			year = 1900 + yy
		}
		mon, err1 := strconv.Atoi(string(raw[2:4]))
		day, err2 := strconv.Atoi(string(raw[4:6]))
		hh, err3 := strconv.Atoi(string(raw[6:8]))
		mm, err4 := strconv.Atoi(string(raw[8:10]))
		ss, err5 := strconv.Atoi(string(raw[10:12]))
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			return time.Time{}, errf(CodeDecodingError, "RFC5280 UTCTime: malformed digits")
		}
		return time.Date(year, time.Month(mon), day, hh, mm, ss, 0, time.UTC), nil
	case DateRFC5280Gen:
		return time.Parse("20060102150405Z", string(raw))
	case DatePOSIXUint32BE:
		if len(raw) != 4 {
			return time.Time{}, errf(CodeUnexpectedElemSize, "POSIX date must be 4 bytes, got %d", len(raw))
		}
		return time.Unix(int64(binary.BigEndian.Uint32(raw)), 0).UTC(), nil
	case DatePOSIXUint32ASCII:
		decoded, err := hex.DecodeString(string(raw))
		if err != nil || len(decoded) != 4 {
			return time.Time{}, errf(CodeDecodingError, "POSIX ASCII date must decode to 4 bytes")
		}
		return time.Unix(int64(binary.BigEndian.Uint32(decoded)), 0).UTC(), nil
	case DateCompCert:
		if len(raw) != 3 {
			return time.Time{}, errf(CodeUnexpectedElemSize, "compcert date must be 3 bytes, got %d", len(raw))
		}
		var packed [3]byte
		copy(packed[:], raw)
		d := decodeCompDate(packed, 0)
		return time.Date(d.Year, time.Month(d.Month), d.Day, d.Hour, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, errf(CodeBadCert, "unsupported date format %d", format)
	}
}

// noExpirationDate is the RFC 5280 §4.1.2.5 sentinel for "no well-defined
// expiration date" (99991231235959Z), used when a comp_cert's expire_years
// field decodes to zero. RFC5280UTC's two-digit year cannot reach 9999, so
// that format reports the zero time, telling the caller to leave the
// element untouched rather than write a nonsensical year.
func noExpirationDate(format DateFormat) time.Time {
	if format == DateRFC5280UTC {
		return time.Time{}
	}
	return time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)
}
