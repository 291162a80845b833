package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
)

// MinKeyLength is the minimum accepted length for HMAC-SHA256 and AES-256
// key material (32 bytes / 256 bits).
const MinKeyLength = 32

// ErrKeyTooShort is returned when configured key material is shorter than
// MinKeyLength.
var ErrKeyTooShort = errors.New("secret key must be at least 32 bytes")

// Canonicalize produces the deterministic byte representation of v that
// signatures are computed over. Struct field order is fixed by Go's
// encoding/json (declaration order), so canonical signing reduces to a
// single marshal — no custom field-sorting is needed as long as callers
// sign structs, not maps.
func Canonicalize(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Sign computes the hex-encoded HMAC-SHA256 of v's canonical JSON
// representation under key.
func Sign(v any, key []byte) (string, error) {
	if len(key) < MinKeyLength {
		return "", ErrKeyTooShort
	}
	data, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature over v and compares it against sig in
// constant time. A malformed hex signature is treated as invalid, not as
// an error.
func Verify(v any, sig string, key []byte) (bool, error) {
	expected, err := Sign(v, key)
	if err != nil {
		return false, err
	}
	return ConstantTimeEqualHex(expected, sig), nil
}

// ConstantTimeEqualHex compares two hex-encoded strings in constant time.
// Returns false (not an error) for malformed hex on either side.
func ConstantTimeEqualHex(a, b string) bool {
	ab, err := hex.DecodeString(a)
	if err != nil {
		return false
	}
	bb, err := hex.DecodeString(b)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(ab, bb) == 1
}

// VerifyHMACBody is the webhook-signature check used by the card
// authorization entry point: it computes HMAC-SHA256 over raw body bytes
// (not a canonicalized struct) and compares to the provided hex digest,
// matching the card network's "HMAC-SHA-256 hex of raw body" contract in
// spec.md §6.
func VerifyHMACBody(body []byte, sigHex string, key []byte) bool {
	if len(key) < MinKeyLength {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return ConstantTimeEqualHex(expected, sigHex)
}
