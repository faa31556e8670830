// Package cryptoprim gathers the cryptographic primitives needed by the
// authentication state machines: MD4 and HMAC-MD5 (NTLMv2), MD5
// (PostgreSQL MD5 auth), SHA-1 (MySQL native password), SHA-256 /
// HMAC-SHA-256 / PBKDF2-HMAC-SHA-256 (MySQL caching_sha2_password and
// PostgreSQL SCRAM-SHA-256), and a secure random source.
//
// Every hash here already exists in the standard library or in
// golang.org/x/crypto, which this module also uses for PBKDF2 (see
// internal/scram/scram.go) — MD4 is the one algorithm missing from
// crypto/..., so it is pulled from golang.org/x/crypto/md4 rather than
// hand-rolled.
package cryptoprim

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // MySQL native_password and NTLMv2 use SHA-1/MD4/MD5 by spec, not for new security design
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/md4" //nolint:staticcheck // required by NTLMv2 (MS-NLMP), not a new design choice
	"golang.org/x/crypto/pbkdf2"
)

// MD4 returns the MD4 digest of data.
func MD4(data []byte) []byte {
	h := md4.New()
	h.Write(data)
	return h.Sum(nil)
}

// MD5 returns the MD5 digest of data.
func MD5(data []byte) []byte {
	sum := md5.Sum(data)
	return sum[:]
}

// SHA1 returns the SHA-1 digest of data.
func SHA1(data []byte) []byte {
	sum := sha1.Sum(data) //nolint:gosec
	return sum[:]
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// HMACMD5 computes HMAC-MD5(key, data).
func HMACMD5(key, data []byte) []byte {
	h := hmac.New(md5.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// HMACSHA256 computes HMAC-SHA-256(key, data).
func HMACSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// PBKDF2HMACSHA256 derives keyLen bytes from password and salt using
// PBKDF2 with an HMAC-SHA-256 pseudorandom function.
func PBKDF2HMACSHA256(password, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iterations, keyLen, sha256.New)
}

// XOR returns a XOR b, which must be of equal length.
func XOR(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}
