package tokenvault

import (
	"context"
	"time"

	"github.com/aegistrust/proxy/crypto"
	trusterrors "github.com/aegistrust/proxy/errors"
	"github.com/aegistrust/proxy/poa"
)

// poaValidator is the subset of poa.Registry the vault needs to enforce
// spec §4.6's "decryptable only if POA is valid" invariant. Defined as an
// interface so tests can supply a lightweight fake.
type poaValidator interface {
	Get(ctx context.Context, id string) (*poa.POA, error)
}

// Vault implements the Token Vault operations (spec §4.6 / C6): encrypted
// storage of delegated-access tokens, decryptable only while their owning
// POA remains valid.
type Vault struct {
	store  Store
	crypto *crypto.Vault
	poas   poaValidator
	clock  func() time.Time
}

// New builds a Vault backed by store, encrypting through cryptoVault and
// checking POA validity through poas.
func New(store Store, cryptoVault *crypto.Vault, poas poaValidator) *Vault {
	return &Vault{store: store, crypto: cryptoVault, poas: poas, clock: time.Now}
}

// NewID generates a 16-character lowercase hex token ID, matching the
// registry's ID-format convention.
func NewID() string {
	return poa.NewID()
}

// Store encrypts plaintext and persists it bound to poaID/service. ttl,
// if non-nil, sets the token's own expiry independent of the owning POA's
// (spec §4.6).
func (v *Vault) Store(ctx context.Context, poaID, service string, kind Kind, plaintext string, ttl *time.Duration) (*Record, error) {
	if poaID == "" || service == "" || plaintext == "" {
		return nil, trusterrors.InvalidArgument("poa_id, service, and token are required")
	}
	if !kind.IsValid() {
		return nil, trusterrors.InvalidArgument("kind must be access or refresh")
	}

	ciphertext, err := v.crypto.Encrypt([]byte(plaintext))
	if err != nil {
		return nil, trusterrors.CryptoFailure("encrypt token", err)
	}

	rec := &Record{
		ID:          NewID(),
		POAID:       poaID,
		ServiceName: service,
		Kind:        kind,
		Ciphertext:  ciphertext,
		CreatedAt:   v.clock().UTC(),
	}
	if ttl != nil {
		expires := rec.CreatedAt.Add(*ttl)
		rec.ExpiresAt = &expires
	}

	if err := v.store.Put(ctx, rec); err != nil {
		return nil, trusterrors.StorageFailure("persist encrypted token", err)
	}
	return rec, nil
}

// Reveal decrypts and returns the plaintext for tokenID. It returns
// errors.NotFound when the token is absent, the token itself has
// expired, or the owning POA is no longer valid (spec §4.6) — the three
// cases the spec groups under "returns ⊥".
func (v *Vault) Reveal(ctx context.Context, tokenID string) (string, error) {
	rec, err := v.store.Get(ctx, tokenID)
	if err != nil {
		return "", err
	}
	now := v.clock()
	if rec.IsExpired(now) {
		return "", trusterrors.NotFound("token has expired", nil)
	}

	owner, err := v.poas.Get(ctx, rec.POAID)
	if err != nil {
		return "", trusterrors.NotFound("owning poa not found", err)
	}
	if !owner.Valid(now) {
		return "", trusterrors.NotFound("owning poa is no longer valid", nil)
	}

	plaintext, err := v.crypto.Decrypt(rec.Ciphertext)
	if err != nil {
		return "", trusterrors.CryptoFailure("decrypt token", err)
	}

	if err := v.store.MarkUsed(ctx, tokenID); err != nil {
		return "", trusterrors.StorageFailure("record token use", err)
	}

	return string(plaintext), nil
}

// DeleteAllForPOA cascades deletion of every token owned by poaID. Called
// from poa.Registry.Revoke's revocation path (spec §3: "deleted on POA
// revocation (cascade)").
func (v *Vault) DeleteAllForPOA(ctx context.Context, poaID string) error {
	if err := v.store.DeleteByPOA(ctx, poaID); err != nil {
		return trusterrors.StorageFailure("cascade-delete tokens for poa", err)
	}
	return nil
}

// ListByPOA returns the (ciphertext-bearing) records owned by poaID, for
// administrative listing. Callers must not serialize Ciphertext onward.
func (v *Vault) ListByPOA(ctx context.Context, poaID string) ([]*Record, error) {
	return v.store.ListByPOA(ctx, poaID)
}
