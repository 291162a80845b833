package crypto

import (
	"encoding/json"
	"testing"
	"time"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(Config{Ephemeral: true})
	if err != nil {
		t.Fatalf("New(ephemeral) = %v", err)
	}
	return v
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := testVault(t)
	plaintext := []byte("super-secret-oauth-token")

	ciphertext, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() = %v", err)
	}
	if string(ciphertext) == string(plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}

	decrypted, err := v.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() = %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Fatalf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	v := testVault(t)
	ciphertext, err := v.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt() = %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xFF

	if _, err := v.Decrypt(ciphertext); err == nil {
		t.Fatal("Decrypt() of tampered ciphertext should fail")
	}
}

func TestSignVerify(t *testing.T) {
	v := testVault(t)
	entry := struct {
		Action string
		Amount int
	}{Action: "REQUEST_PAYMENT", Amount: 4200}

	sig, err := v.Sign(entry)
	if err != nil {
		t.Fatalf("Sign() = %v", err)
	}

	ok, err := v.Verify(entry, sig)
	if err != nil || !ok {
		t.Fatalf("Verify() = (%v, %v), want (true, nil)", ok, err)
	}

	tampered := entry
	tampered.Amount = 1
	ok, err = v.Verify(tampered, sig)
	if err != nil || ok {
		t.Fatalf("Verify(tampered) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestNewRequiresKeysWithoutEphemeral(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New(non-ephemeral, no keys) should fail to start")
	}
}

func TestVerifyHMACBody(t *testing.T) {
	v := testVault(t)
	body := []byte(`{"token":"abc","amount":4200}`)

	sig, err := Sign(body, v.macKey)
	if err != nil {
		t.Fatalf("Sign() = %v", err)
	}
	// VerifyHMACBody hashes raw bytes directly, not a canonicalized struct.
	if !VerifyHMACBody(body, signRaw(t, body, v.macKey), v.macKey) {
		t.Fatal("VerifyHMACBody should accept a matching signature")
	}
	_ = sig
}

func signRaw(t *testing.T, body, key []byte) string {
	t.Helper()
	// json.RawMessage marshals to body itself (already compact), so Sign
	// hashes exactly the raw bytes.
	s, err := Sign(json.RawMessage(body), key)
	if err != nil {
		t.Fatalf("Sign() = %v", err)
	}
	return s
}

func TestTOTPRoundTrip(t *testing.T) {
	secret, err := NewOTPSecret()
	if err != nil {
		t.Fatalf("NewOTPSecret() = %v", err)
	}
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	code := GenerateTOTP(secret, now, DefaultTOTPWindow, DefaultTOTPDigits)
	if len(code) != DefaultTOTPDigits {
		t.Fatalf("code length = %d, want %d", len(code), DefaultTOTPDigits)
	}

	if !VerifyTOTP(secret, code, now, DefaultTOTPWindow, DefaultTOTPDigits, 1) {
		t.Fatal("VerifyTOTP should accept the code generated at the same time")
	}

	// One window later, within skew tolerance.
	later := now.Add(DefaultTOTPWindow)
	if !VerifyTOTP(secret, code, later, DefaultTOTPWindow, DefaultTOTPDigits, 1) {
		t.Fatal("VerifyTOTP should accept a code within ±1 window")
	}

	// Far outside skew tolerance.
	farLater := now.Add(10 * DefaultTOTPWindow)
	if VerifyTOTP(secret, code, farLater, DefaultTOTPWindow, DefaultTOTPDigits, 1) {
		t.Fatal("VerifyTOTP should reject a code outside the accepted window")
	}
}

func TestHashOTPRoundTrip(t *testing.T) {
	v := testVault(t)
	digest, err := v.HashOTP("123456")
	if err != nil {
		t.Fatalf("HashOTP() = %v", err)
	}
	ok, err := v.VerifyOTPHash("123456", digest)
	if err != nil || !ok {
		t.Fatalf("VerifyOTPHash() = (%v, %v)", ok, err)
	}
	ok, err = v.VerifyOTPHash("000000", digest)
	if err != nil || ok {
		t.Fatalf("VerifyOTPHash(wrong code) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestNewChallengeIDFormat(t *testing.T) {
	id := NewChallengeID()
	if len(id) != 16 {
		t.Fatalf("NewChallengeID() length = %d, want 16", len(id))
	}
}
