// Package vault caches advocate session proof locally so the advocate
// CLI does not re-prompt for OTP/liveness on every invocation within a
// short window after a break-glass round-trip. Adapted from the
// teacher's cli/global.go keyring.Config wiring (same OS-keychain
// hardening posture), re-pointed at advocate sessions instead of AWS
// credentials.
package vault

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/byteness/keyring"
)

const serviceName = "aegis-advocate"

// DefaultSessionTTL bounds how long a cached advocate session is
// honored before the CLI falls back to prompting again.
const DefaultSessionTTL = 15 * time.Minute

// AdvocateSession is the cached proof that an advocate has already
// completed OTP/liveness verification for a break-glass event, so the
// CLI can reuse it for a follow-up command (e.g. checking pending
// events right after approving one) without re-prompting.
type AdvocateSession struct {
	AdvocateID string    `json:"advocate_id"`
	EventID    string    `json:"event_id"`
	Token      string    `json:"token"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the session has aged out as of now.
func (s AdvocateSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// DefaultKeyringConfig mirrors the teacher's macOS/Linux hardening
// posture: the item is not trusted to other applications, never
// synced to iCloud, and on Linux is scoped possessor-only in the
// kernel keyring.
func DefaultKeyringConfig() keyring.Config {
	return keyring.Config{
		ServiceName: serviceName,

		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: false,
		KeychainSynchronizable:         false,

		KeyCtlScope: "user",
		KeyCtlPerm:  uint32(keyring.KEYCTL_PERM_ALL << keyring.KEYCTL_PERM_PROCESS),
	}
}

// AdvocateSessionKeyring persists AdvocateSession values in the OS
// credential store.
type AdvocateSessionKeyring struct {
	Keyring keyring.Keyring
}

// OpenAdvocateSessionKeyring opens the OS-backed keyring with the
// hardened default configuration.
func OpenAdvocateSessionKeyring() (*AdvocateSessionKeyring, error) {
	kr, err := keyring.Open(DefaultKeyringConfig())
	if err != nil {
		return nil, fmt.Errorf("open session keyring: %w", err)
	}
	return &AdvocateSessionKeyring{Keyring: kr}, nil
}

func sessionKey(advocateID string) string {
	return "session:" + advocateID
}

// Set stores or replaces the cached session for an advocate. Every
// stored item carries KeychainNotTrustApplication and
// KeychainNotSynchronizable so another application on the same
// machine, or an iCloud keychain sync, cannot read the session token.
func (k *AdvocateSessionKeyring) Set(sess AdvocateSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal advocate session: %w", err)
	}
	return k.Keyring.Set(keyring.Item{
		Key:                         sessionKey(sess.AdvocateID),
		Data:                        data,
		Label:                       "aegis advocate session: " + sess.AdvocateID,
		Description:                 "break-glass advocate session token",
		KeychainNotTrustApplication: true,
		KeychainNotSynchronizable:   true,
	})
}

// Get returns the cached session for an advocate, or
// keyring.ErrKeyNotFound if none is stored.
func (k *AdvocateSessionKeyring) Get(advocateID string) (*AdvocateSession, error) {
	item, err := k.Keyring.Get(sessionKey(advocateID))
	if err != nil {
		return nil, err
	}
	var sess AdvocateSession
	if err := json.Unmarshal(item.Data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal advocate session: %w", err)
	}
	return &sess, nil
}

// Valid returns the cached session for an advocate if one exists and
// has not expired, clearing it from the keyring otherwise.
func (k *AdvocateSessionKeyring) Valid(advocateID string, now time.Time) (*AdvocateSession, error) {
	sess, err := k.Get(advocateID)
	if err != nil {
		return nil, err
	}
	if sess.Expired(now) {
		_ = k.Remove(advocateID)
		return nil, keyring.ErrKeyNotFound
	}
	return sess, nil
}

// Remove clears a cached session, e.g. after a denial or logout.
func (k *AdvocateSessionKeyring) Remove(advocateID string) error {
	return k.Keyring.Remove(sessionKey(advocateID))
}
