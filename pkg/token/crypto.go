package token

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"runtime"

	"golang.org/x/crypto/pbkdf2"
)

// AES block/stream helpers. Grounded on pkg/ntag424/crypto.go's
// aesCBCEncrypt/aesCBCDecrypt/aesECBEncrypt/aesCMAC, generalized with a
// GCM wrapper (crypto/cipher.NewGCM) for the mechanisms §4.5 lists that the
// teacher's DESFire secure-messaging layer never needed.

func aesCBCEncrypt(key, iv, data []byte) ([]byte, error) {
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("AES-CBC encrypt: data not block aligned")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func aesCBCDecrypt(key, iv, data []byte) ([]byte, error) {
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("AES-CBC decrypt: data not block aligned")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func aesECBEncryptBlock(key, blockIn []byte) ([]byte, error) {
	if len(blockIn) != 16 {
		return nil, fmt.Errorf("AES-ECB input must be 16 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 16)
	block.Encrypt(out, blockIn)
	return out, nil
}

func aesECBDecryptBlock(key, blockIn []byte) ([]byte, error) {
	if len(blockIn) != 16 {
		return nil, fmt.Errorf("AES-ECB input must be 16 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 16)
	block.Decrypt(out, blockIn)
	return out, nil
}

// aesGCMSeal/aesGCMOpen wrap crypto/cipher's GCM construction for the
// mechanism layer's single-shot and streaming GCM contexts (§4.5).
func aesGCMSeal(key, iv, aad, plaintext []byte, tagBits int) (ciphertext, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	tagLen := tagBits / 8
	gcm, err := cipher.NewGCMWithTagSize(block, tagLen)
	if err != nil {
		return nil, nil, err
	}
	sealed := gcm.Seal(nil, iv, plaintext, aad)
	ctLen := len(sealed) - tagLen
	return sealed[:ctLen], sealed[ctLen:], nil
}

func aesGCMOpen(key, iv, aad, ciphertext, tag []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithTagSize(block, len(tag))
	if err != nil {
		return nil, err
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	return gcm.Open(nil, iv, sealed, aad)
}

// padPKCS7 pads data to a blocksize boundary per RFC 5652 §6.3, always
// appending a full block when data is already aligned (§8's literal vector
// "FFFFFFFFFFFFFFFF" @ 8 -> trailing 0x08 block).
func padPKCS7(data []byte, blocksize int) []byte {
	padLen := blocksize - (len(data) % blocksize)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

// unpadPKCS7 validates and strips PKCS#7 padding.
func unpadPKCS7(data []byte, blocksize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blocksize != 0 {
		return nil, errors.New("pkcs7: data not block aligned")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blocksize || padLen > len(data) {
		return nil, errors.New("pkcs7: bad padding length")
	}
	for i := len(data) - padLen; i < len(data); i++ {
		if data[i] != byte(padLen) {
			return nil, errors.New("pkcs7: bad padding byte")
		}
	}
	return data[:len(data)-padLen], nil
}

// ISO/IEC 9797-1 padding method 2 (0x80 then zero-fill), kept for the
// device secure-messaging framing that uses it instead of PKCS#7.
func padISO9797M2(data []byte) []byte {
	padLen := 16 - (len(data) % 16)
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	out[len(data)] = 0x80
	return out
}

func unpadISO9797M2(data []byte) ([]byte, error) {
	idx := len(data) - 1
	for idx >= 0 && data[idx] == 0x00 {
		idx--
	}
	if idx < 0 || data[idx] != 0x80 {
		return nil, errors.New("iso9797-m2: bad padding")
	}
	return data[:idx], nil
}

// aesCMAC computes NIST SP 800-38B AES-CMAC. Grounded on
// pkg/ntag424/crypto.go's aesCMAC/generateCMACSubkeys/leftShift1/xorBlock.
func aesCMAC(key, msg []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	k1, k2 := generateCMACSubkeys(block)

	n := (len(msg) + 15) / 16
	if n == 0 {
		n = 1
	}
	lastComplete := len(msg) != 0 && len(msg)%16 == 0

	last := make([]byte, 16)
	if lastComplete {
		copy(last, msg[(n-1)*16:])
		xorBlock(last, last, k1)
	} else {
		remain := len(msg) - (n-1)*16
		if remain > 0 {
			copy(last, msg[(n-1)*16:])
		}
		last[remain] = 0x80
		xorBlock(last, last, k2)
	}

	x := make([]byte, 16)
	y := make([]byte, 16)
	for i := 0; i < n-1; i++ {
		blockStart := i * 16
		xorBlock(y, x, msg[blockStart:blockStart+16])
		block.Encrypt(x, y)
	}
	xorBlock(y, x, last)
	block.Encrypt(x, y)
	return x, nil
}

func generateCMACSubkeys(block cipher.Block) (k1, k2 []byte) {
	const rb = 0x87
	zero := make([]byte, 16)
	l := make([]byte, 16)
	block.Encrypt(l, zero)

	k1 = make([]byte, 16)
	leftShift1(k1, l)
	if (l[0] & 0x80) != 0 {
		k1[15] ^= rb
	}

	k2 = make([]byte, 16)
	leftShift1(k2, k1)
	if (k1[0] & 0x80) != 0 {
		k2[15] ^= rb
	}
	return k1, k2
}

func leftShift1(dst, src []byte) {
	var carry byte
	for i := len(src) - 1; i >= 0; i-- {
		b := src[i]
		dst[i] = (b << 1) | carry
		carry = (b >> 7) & 1
	}
}

func xorBlock(dst, a, b []byte) {
	for i := 0; i < len(a) && i < len(b); i++ {
		dst[i] = a[i] ^ b[i]
	}
}

// sha256Sum and hmacSHA256 back the SHA-256 digest mechanism and the
// HMAC-SHA256 signing mechanism (§4.5), using stdlib crypto/sha256 and
// crypto/hmac the way the teacher leans on stdlib crypto/aes directly.
func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// derivePBKDF2Key implements §4.4 Login step 2's passphrase path: PBKDF2
// with the device serial number as salt.
func derivePBKDF2Key(passphrase, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(passphrase, salt, iterations, keyLen, sha256.New)
}

// ECDSA P-256 sign/verify for the host-side Verify family (§4.5): the
// original performs this via lib/openssl/atca_openssl_interface.c once it
// has recovered the public key, which is exactly the shape this module's
// Sign/Verify mechanism pair follows using crypto/ecdsa instead of OpenSSL.
// Signatures are raw R||S (fixed 32-byte halves for P-256), the Cryptoki
// wire form, not the ASN.1 DER form certcodec reformats compressed
// certificates into.

func ecdsaSignP256(privScalar, digest []byte) ([]byte, error) {
	if len(privScalar) != 32 {
		return nil, fmt.Errorf("ecdsa: private scalar must be 32 bytes, got %d", len(privScalar))
	}
	priv := new(ecdsa.PrivateKey)
	priv.Curve = elliptic.P256()
	priv.D = new(big.Int).SetBytes(privScalar)
	priv.X, priv.Y = priv.Curve.ScalarBaseMult(privScalar)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 64)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out, nil
}

func ecdsaVerifyP256(pubXY, digest, sig []byte) (bool, error) {
	if len(pubXY) != 64 {
		return false, fmt.Errorf("ecdsa: public key must be 64 bytes (X||Y), got %d", len(pubXY))
	}
	if len(sig) != 64 {
		return false, fmt.Errorf("ecdsa: signature must be 64 bytes (R||S), got %d", len(sig))
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(pubXY[:32]),
		Y:     new(big.Int).SetBytes(pubXY[32:]),
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(pub, digest, r, s), nil
}

// RSA PKCS#1 v1.5 / PSS sign-verify and OAEP encrypt/decrypt, for the
// handle-family-only RSA mechanisms §4.5 lists. Keys are PKCS#1 DER, the
// form a caller retrieves off the device's handle-family key object cache
// (§3's ObjectDescriptor.Data).
func rsaSignPKCS1v15(keyBytes, digest []byte) ([]byte, error) {
	priv, err := x509.ParsePKCS1PrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("rsa: parse private key: %w", err)
	}
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest)
}

func rsaVerifyPKCS1v15(pubKeyBytes, digest, sig []byte) error {
	pub, err := x509.ParsePKCS1PublicKey(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("rsa: parse public key: %w", err)
	}
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, sig)
}

func rsaSignPSS(keyBytes, digest []byte) ([]byte, error) {
	priv, err := x509.ParsePKCS1PrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("rsa: parse private key: %w", err)
	}
	return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest, nil)
}

func rsaVerifyPSS(pubKeyBytes, digest, sig []byte) error {
	pub, err := x509.ParsePKCS1PublicKey(pubKeyBytes)
	if err != nil {
		return fmt.Errorf("rsa: parse public key: %w", err)
	}
	return rsa.VerifyPSS(pub, crypto.SHA256, digest, sig, nil)
}

func rsaEncryptOAEP(pubKeyBytes, plaintext []byte) ([]byte, error) {
	pub, err := x509.ParsePKCS1PublicKey(pubKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("rsa: parse public key: %w", err)
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
}

func rsaDecryptOAEP(keyBytes, ciphertext []byte) ([]byte, error) {
	priv, err := x509.ParsePKCS1PrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("rsa: parse private key: %w", err)
	}
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
}

// ecdsaPublicKeyFromScalar re-derives a P-256 public key from its private
// scalar, the §4.5 "GenKey re-derivation" extraction path used when neither
// a cached public-key object nor a handle-family Pub_Key reference is
// available.
func ecdsaPublicKeyFromScalar(privScalar []byte) ([]byte, error) {
	if len(privScalar) != 32 {
		return nil, fmt.Errorf("ecdsa: private scalar must be 32 bytes, got %d", len(privScalar))
	}
	curve := elliptic.P256()
	x, y := curve.ScalarBaseMult(privScalar)
	out := make([]byte, 64)
	x.FillBytes(out[:32])
	y.FillBytes(out[32:])
	return out, nil
}

// rsaPublicKeyFromPrivate extracts the PKCS#1 DER public key embedded in an
// RSA private key, the handle-family analogue of ecdsaPublicKeyFromScalar:
// the modulus and exponent are already present in the private key material,
// so no extern-derivation is needed beyond parsing.
func rsaPublicKeyFromPrivate(keyBytes []byte) ([]byte, error) {
	priv, err := x509.ParsePKCS1PrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("rsa: parse private key: %w", err)
	}
	return x509.MarshalPKCS1PublicKey(&priv.PublicKey), nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// wipe overwrites b with zeros in a way the compiler cannot prove is dead
// and elide, satisfying §9's "volatile wipe" requirement for PIN-derived
// keys and mechanism contexts holding key material.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
