package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	trusterrors "github.com/aegistrust/proxy/errors"
)

// Vault performs authenticated symmetric encryption of token-vault
// plaintext and computes the HMAC signatures the ledger uses to seal audit
// entries. A single Vault instance holds the process-wide key material;
// nothing outside this package ever sees the raw key bytes.
type Vault struct {
	encKey []byte // AES-256 key (32 bytes)
	macKey []byte // HMAC-SHA256 key (32 bytes)
}

// Config configures how a Vault sources its key material.
type Config struct {
	// EncryptionKeyHex is a 32-byte AES key, hex-encoded. Required unless
	// Ephemeral is true.
	EncryptionKeyHex string
	// MACKeyHex is a 32-byte HMAC key, hex-encoded. Required unless
	// Ephemeral is true.
	MACKeyHex string
	// Ephemeral generates random keys in-process. Tests only — the core
	// MUST refuse to start this way outside of explicit test configuration,
	// per spec.md §4.1.
	Ephemeral bool
}

// New constructs a Vault from raw configuration. It refuses to start
// without key material unless Ephemeral is set, per spec.md §4.1.
func New(cfg Config) (*Vault, error) {
	if cfg.Ephemeral {
		enc := make([]byte, MinKeyLength)
		mac := make([]byte, MinKeyLength)
		if _, err := rand.Read(enc); err != nil {
			return nil, trusterrors.CryptoFailure("generate ephemeral encryption key", err)
		}
		if _, err := rand.Read(mac); err != nil {
			return nil, trusterrors.CryptoFailure("generate ephemeral MAC key", err)
		}
		return &Vault{encKey: enc, macKey: mac}, nil
	}

	if cfg.EncryptionKeyHex == "" || cfg.MACKeyHex == "" {
		return nil, trusterrors.New(trusterrors.KindCryptoFailure,
			"encryption and MAC keys are required at startup",
			"set encryption_key_hex and mac_key_hex in the keys file, or use NewFromKMSEnvelope for envelope encryption",
			nil)
	}

	enc, err := hex.DecodeString(cfg.EncryptionKeyHex)
	if err != nil || len(enc) < MinKeyLength {
		return nil, trusterrors.CryptoFailure("invalid encryption key material", err)
	}
	mac, err := hex.DecodeString(cfg.MACKeyHex)
	if err != nil || len(mac) < MinKeyLength {
		return nil, trusterrors.CryptoFailure("invalid MAC key material", err)
	}

	return &Vault{encKey: enc, macKey: mac}, nil
}

// kmsAPI is the subset of the KMS client used to unwrap envelope-encrypted
// key material. Defined as an interface so tests can supply a mock.
type kmsAPI interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// NewFromKMSEnvelope builds a Vault whose encryption and MAC keys are
// themselves encrypted under a KMS customer master key. This is the
// production key-management path referenced in SPEC_FULL.md's domain
// stack: the raw 32-byte keys never touch the environment unencrypted,
// only their KMS ciphertext blobs do.
func NewFromKMSEnvelope(ctx context.Context, client kmsAPI, encCiphertext, macCiphertext []byte) (*Vault, error) {
	enc, err := kmsDecrypt(ctx, client, encCiphertext)
	if err != nil {
		return nil, trusterrors.CryptoFailure("kms unwrap encryption key", err)
	}
	mac, err := kmsDecrypt(ctx, client, macCiphertext)
	if err != nil {
		return nil, trusterrors.CryptoFailure("kms unwrap mac key", err)
	}
	if len(enc) < MinKeyLength || len(mac) < MinKeyLength {
		return nil, trusterrors.CryptoFailure("kms-unwrapped key material too short", nil)
	}
	return &Vault{encKey: enc[:MinKeyLength], macKey: mac[:MinKeyLength]}, nil
}

func kmsDecrypt(ctx context.Context, client kmsAPI, ciphertext []byte) ([]byte, error) {
	out, err := client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: ciphertext})
	if err != nil {
		return nil, err
	}
	return out.Plaintext, nil
}

// NewKMSClient is a thin convenience wrapper so callers don't need to
// import kms directly just to build a Vault.
func NewKMSClient(awsCfg aws.Config) *kms.Client {
	return kms.NewFromConfig(awsCfg)
}

// Encrypt authenticates and encrypts plaintext with AES-256-GCM. The
// nonce is prepended to the returned ciphertext.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.encKey)
	if err != nil {
		return nil, trusterrors.CryptoFailure("construct cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trusterrors.CryptoFailure("construct GCM", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, trusterrors.CryptoFailure("generate nonce", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt authenticates and decrypts ciphertext produced by Encrypt.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.encKey)
	if err != nil {
		return nil, trusterrors.CryptoFailure("construct cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trusterrors.CryptoFailure("construct GCM", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, trusterrors.CryptoFailure("ciphertext too short", nil)
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, trusterrors.CryptoFailure("authenticate ciphertext", err)
	}
	return plaintext, nil
}

// Sign computes the ledger's HMAC-SHA256 signature over v's canonical
// representation using the vault's MAC key.
func (v *Vault) Sign(entry any) (string, error) {
	sig, err := Sign(entry, v.macKey)
	if err != nil {
		return "", trusterrors.CryptoFailure("sign audit entry", err)
	}
	return sig, nil
}

// Verify checks a signature produced by Sign.
func (v *Vault) Verify(entry any, sig string) (bool, error) {
	ok, err := Verify(entry, sig, v.macKey)
	if err != nil {
		return false, trusterrors.CryptoFailure("verify audit entry signature", err)
	}
	return ok, nil
}

// MACKey exposes the raw MAC key for components (e.g. break-glass OTP
// hashing) that need to key their own HMAC derivations from the same root
// secret. Never logged, never serialized.
func (v *Vault) MACKey() []byte {
	return v.macKey
}

// String deliberately never exposes key material, in case a Vault is ever
// passed to a logger or fmt.Sprintf by mistake.
func (v *Vault) String() string {
	return fmt.Sprintf("crypto.Vault{encKeyLen:%d, macKeyLen:%d}", len(v.encKey), len(v.macKey))
}
