package certcodec

import "crypto/sha256"

// GenerateSerialNumber implements §4.2.4's deterministic serial-number
// generation, dispatched on def.SNSource. subjPubKey and deviceSN are the
// just-installed subject public key and the cached device serial number
// respectively; compCert is the 72 (or 128) byte compressed record, used
// by the hash sources and by SignerID.
func GenerateSerialNumber(def *CertificateDefinition, subjPubKey, deviceSN, compCert []byte, snSize int, formatVersion int) ([]byte, error) {
	switch def.SNSource {
	case SNDeviceSN:
		if len(deviceSN) < 9 {
			return nil, errf(CodeBadCert, "device SN too short: %d", len(deviceSN))
		}
		sn := make([]byte, 10)
		sn[0] = 0x40
		copy(sn[1:], deviceSN[:9])
		return sn, nil

	case SNSignerID:
		if len(compCert) < 69 {
			return nil, errf(CodeBadCert, "compressed cert too short for signer id")
		}
		sn := make([]byte, 3)
		sn[0] = 0x40
		copy(sn[1:], compCert[67:69])
		return sn, nil

	case SNPubKeyHashRaw, SNPubKeyHashPos, SNPubKeyHash:
		return hashBasedSN(def.SNSource, subjPubKey, compCert, snSize, formatVersion)

	case SNDeviceSNHashRaw, SNDeviceSNHashPos, SNDeviceSNHash:
		return hashBasedSN(def.SNSource, deviceSN, compCert, snSize, formatVersion)

	default:
		return nil, errf(CodeBadCert, "sn source %d is not a generated source", def.SNSource)
	}
}

// hashBasedSN implements the PubKeyHash*/DeviceSNHash* family of §4.2.4:
// msg = material || compCert[64:67] for format 0, with compCert[71]&0xF0
// appended for formats 1 and 2; digest = SHA-256(msg); sn = digest[0:snSize].
func hashBasedSN(source SNSource, material, compCert []byte, snSize int, formatVersion int) ([]byte, error) {
	if formatVersion < 0 || formatVersion > 2 {
		return nil, errf(CodeBadCert, "unsupported format version %d", formatVersion)
	}
	if len(compCert) < 67 {
		return nil, errf(CodeBadCert, "compressed cert too short for date field")
	}
	msg := make([]byte, 0, len(material)+4)
	msg = append(msg, material...)
	msg = append(msg, compCert[64:67]...)
	if formatVersion >= 1 {
		if len(compCert) < 72 {
			return nil, errf(CodeBadCert, "compressed cert too short for extended date byte")
		}
		msg = append(msg, compCert[71]&0xF0)
	}

	digest := sha256.Sum256(msg)
	if snSize <= 0 || snSize > len(digest) {
		return nil, errf(CodeBadCert, "invalid serial number size %d", snSize)
	}
	sn := append([]byte{}, digest[:snSize]...)

	switch source {
	case SNPubKeyHashPos, SNDeviceSNHashPos, SNPubKeyHash, SNDeviceSNHash:
		sn[0] &^= 0x80 // force positive
	}
	switch source {
	case SNPubKeyHash, SNDeviceSNHash:
		sn[0] |= 0x40 // prevent leading-zero-byte trimming in DER encoding
	}
	return sn, nil
}
