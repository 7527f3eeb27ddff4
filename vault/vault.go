// Package vault implements the secure credential vault: an encrypted,
// at-rest copy of the session token pair used by the optional biometric
// quick-unlock path.
//
// Entries are sealed with AES-256-GCM. The additional authenticated data
// binds each ciphertext to the device installation, so a vault file copied
// to another install fails to open rather than yielding a usable session.
// Key material is derived from a device secret with argon2id.
//
// The vault never prompts for biometrics itself; gating is the session
// manager's job. This package only guarantees confidentiality and integrity
// of what is stored.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"

	"github.com/parkrow/sessionkit/session"
	"github.com/parkrow/sessionkit/store"
)

var (
	// ErrNoEntry is returned when the vault holds no sealed entry.
	ErrNoEntry = errors.New("vault: no entry")
	// ErrInvalidated is returned when the entry exists but has been marked
	// unusable after a rejected refresh. The ciphertext is retained so a
	// later re-enable can overwrite it cleanly.
	ErrInvalidated = errors.New("vault: entry invalidated")
	// ErrCorrupt is returned when the sealed entry fails authentication or
	// decoding. Wrong key, tampering, and cross-install copies all land here.
	ErrCorrupt = errors.New("vault: entry corrupt")
)

const (
	entryKey  = "vault.entry"
	markerKey = "vault.invalid"

	// KeySize is the AES-256 key length expected by New.
	KeySize = 32

	aadPrefix = "sessionkit:vault:v1:"
)

// Entry is the refresh-capable credential mirrored into the vault after an
// explicit, biometric-gated enablement. Written only while a live session
// exists; deleted on explicit disable or on detecting an unrecoverable
// session.
type Entry struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	Email        string           `json:"email"`
	Provider     session.Provider `json:"provider"`
}

// Vault seals entries into any Store implementation.
type Vault struct {
	store store.Store
	key   []byte
	aad   []byte
}

// New creates a vault over the given store. key must be KeySize bytes;
// use DeriveKey to stretch a device secret. installID scopes the sealed
// data to this installation.
func New(st store.Store, key []byte, installID string) (*Vault, error) {
	if st == nil {
		return nil, errors.New("vault: nil store")
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d", KeySize, len(key))
	}
	if installID == "" {
		return nil, errors.New("vault: install id required")
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Vault{
		store: st,
		key:   k,
		aad:   []byte(aadPrefix + installID),
	}, nil
}

// DeriveKey stretches a low-entropy device secret into a sealing key with
// argon2id. The salt must be stable per installation (it may be stored in
// the plain store; it is not secret).
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 2, 64*1024, 1, KeySize)
}

// Write seals the entry and stores it, clearing any invalidation marker.
// The caller is responsible for the live-session and biometric preconditions.
func (v *Vault) Write(ctx context.Context, entry Entry) error {
	plain, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("vault: encoding entry: %w", err)
	}
	sealed, err := v.seal(plain)
	if err != nil {
		return err
	}
	if err := v.store.Set(ctx, entryKey, sealed); err != nil {
		return fmt.Errorf("vault: writing entry: %w", err)
	}
	if err := v.store.Delete(ctx, markerKey); err != nil {
		return fmt.Errorf("vault: clearing invalidation marker: %w", err)
	}
	return nil
}

// Read opens the sealed entry. Order of checks matters: an invalidation
// marker wins over a readable ciphertext so a rotated-out token pair is
// never handed back.
func (v *Vault) Read(ctx context.Context) (Entry, error) {
	if _, err := v.store.Get(ctx, markerKey); err == nil {
		return Entry{}, ErrInvalidated
	} else if !errors.Is(err, store.ErrNotFound) {
		return Entry{}, fmt.Errorf("vault: reading marker: %w", err)
	}

	sealed, err := v.store.Get(ctx, entryKey)
	if errors.Is(err, store.ErrNotFound) {
		return Entry{}, ErrNoEntry
	}
	if err != nil {
		return Entry{}, fmt.Errorf("vault: reading entry: %w", err)
	}

	plain, err := v.open(sealed)
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(plain, &entry); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if entry.AccessToken == "" || entry.RefreshToken == "" {
		return Entry{}, fmt.Errorf("%w: missing token pair", ErrCorrupt)
	}
	return entry, nil
}

// Invalidate marks the current entry unusable without deleting the
// ciphertext. Used when a refresh was rejected: the entry cannot be trusted,
// but the user may re-enable biometrics later and overwrite it.
func (v *Vault) Invalidate(ctx context.Context) error {
	if err := v.store.Set(ctx, markerKey, []byte("1")); err != nil {
		return fmt.Errorf("vault: invalidating entry: %w", err)
	}
	return nil
}

// Delete removes the entry and any marker. Idempotent.
func (v *Vault) Delete(ctx context.Context) error {
	if err := v.store.Delete(ctx, entryKey); err != nil {
		return fmt.Errorf("vault: deleting entry: %w", err)
	}
	if err := v.store.Delete(ctx, markerKey); err != nil {
		return fmt.Errorf("vault: deleting marker: %w", err)
	}
	return nil
}

// Exists reports whether a usable (not invalidated) entry is present.
func (v *Vault) Exists(ctx context.Context) bool {
	if _, err := v.store.Get(ctx, markerKey); err == nil {
		return false
	}
	_, err := v.store.Get(ctx, entryKey)
	return err == nil
}

func (v *Vault) seal(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plain, v.aad), nil
}

func (v *Vault) open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", ErrCorrupt)
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, v.aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return plain, nil
}
