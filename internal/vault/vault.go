package vault

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"conductor/pkg/logging"

	"github.com/google/uuid"
	"pkt.systems/kryptograf"
	"pkt.systems/kryptograf/keymgmt"
)

// CredentialError indicates that a secret could not be stored or resolved.
// It is fatal only to the operation (typically a session startup) that needed
// the secret.
type CredentialError struct {
	SecretID string
	Err      error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential error for secret %s: %v", e.SecretID, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Secret holds the encrypted form of a stored credential. Cleartext is never
// retained; it exists only transiently inside Store and Resolve.
type Secret struct {
	ID         string
	Type       string
	Metadata   map[string]string
	descriptor keymgmt.Descriptor
	ciphertext []byte
	expiresAt  time.Time
}

// token is a single-purpose handle onto a stored secret.
type token struct {
	secretID  string
	expiresAt time.Time
}

// Vault encrypts and stores secrets, and issues short-lived opaque tokens for
// resolving them. The root key is generated when the vault is constructed and
// held only in memory; every secret gets its own data encryption key derived
// from the root, so cleartext is resolvable only by the process instance that
// encrypted it.
type Vault struct {
	mu      sync.RWMutex
	kg      kryptograf.Kryptograf
	secrets map[string]*Secret
	tokens  map[string]token
}

// New constructs a vault with a freshly generated in-memory root key.
// Failure to construct the cipher is process-fatal by design: kryptograf
// panics if the system entropy source is unusable, and there is no secure
// fallback.
func New() *Vault {
	root := kryptograf.MustGenerateRootKey()
	return &Vault{
		kg:      kryptograf.New(root),
		secrets: make(map[string]*Secret),
		tokens:  make(map[string]token),
	}
}

// Store encrypts cleartext under a per-secret DEK and records the result.
// A zero ttl means the secret does not expire. The cleartext slice is not
// retained. Storing under an existing id replaces the previous secret; tokens
// issued for the old secret keep resolving to the new ciphertext's cleartext
// only if re-resolved before their own expiry.
func (v *Vault) Store(id, typeTag string, cleartext []byte, metadata map[string]string, ttl time.Duration) error {
	if id == "" {
		return &CredentialError{SecretID: id, Err: fmt.Errorf("secret id is required")}
	}

	mat, err := v.kg.MintDEK([]byte(id))
	if err != nil {
		return &CredentialError{SecretID: id, Err: fmt.Errorf("mint DEK: %w", err)}
	}
	descriptor := mat.Descriptor

	var buf bytes.Buffer
	writer, err := v.kg.EncryptWriter(&buf, mat)
	if err != nil {
		mat.Zero()
		return &CredentialError{SecretID: id, Err: fmt.Errorf("encrypt: %w", err)}
	}
	if _, err := writer.Write(cleartext); err != nil {
		writer.Close()
		mat.Zero()
		return &CredentialError{SecretID: id, Err: fmt.Errorf("encrypt write: %w", err)}
	}
	if err := writer.Close(); err != nil {
		mat.Zero()
		return &CredentialError{SecretID: id, Err: fmt.Errorf("encrypt close: %w", err)}
	}
	mat.Zero()

	secret := &Secret{
		ID:         id,
		Type:       typeTag,
		Metadata:   metadata,
		descriptor: descriptor,
		ciphertext: buf.Bytes(),
	}
	if ttl > 0 {
		secret.expiresAt = time.Now().Add(ttl)
	}

	v.mu.Lock()
	v.secrets[id] = secret
	v.mu.Unlock()

	logging.Debug("Vault", "Stored secret %s (type: %s, ciphertext: %d bytes)", id, typeTag, buf.Len())
	return nil
}

// IssueToken returns an opaque token that resolves to the named secret for the
// given ttl. A zero ttl means the token does not expire on its own (the secret's
// expiry still applies).
func (v *Vault) IssueToken(secretID string, ttl time.Duration) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.secrets[secretID]; !exists {
		return "", &CredentialError{SecretID: secretID, Err: fmt.Errorf("secret not found")}
	}

	tok := token{secretID: secretID}
	if ttl > 0 {
		tok.expiresAt = time.Now().Add(ttl)
	}

	id := uuid.NewString()
	v.tokens[id] = tok
	return id, nil
}

// Resolve decrypts the secret behind a token and returns its cleartext.
// Expiry of both the token and the secret is checked lazily here, at read
// time. An expired or unknown token yields a CredentialError, never stale
// cleartext.
func (v *Vault) Resolve(tokenID string) ([]byte, error) {
	v.mu.RLock()
	tok, exists := v.tokens[tokenID]
	var secret *Secret
	if exists {
		secret = v.secrets[tok.secretID]
	}
	v.mu.RUnlock()

	if !exists {
		return nil, &CredentialError{SecretID: "", Err: fmt.Errorf("unknown token")}
	}
	if !tok.expiresAt.IsZero() && time.Now().After(tok.expiresAt) {
		return nil, &CredentialError{SecretID: tok.secretID, Err: fmt.Errorf("token expired")}
	}
	if secret == nil {
		return nil, &CredentialError{SecretID: tok.secretID, Err: fmt.Errorf("secret no longer available")}
	}
	if !secret.expiresAt.IsZero() && time.Now().After(secret.expiresAt) {
		return nil, &CredentialError{SecretID: tok.secretID, Err: fmt.Errorf("secret expired")}
	}

	mat, err := v.kg.ReconstructDEK([]byte(secret.ID), secret.descriptor)
	if err != nil {
		return nil, &CredentialError{SecretID: secret.ID, Err: fmt.Errorf("reconstruct DEK: %w", err)}
	}
	reader, err := v.kg.DecryptReader(bytes.NewReader(secret.ciphertext), mat)
	if err != nil {
		mat.Zero()
		return nil, &CredentialError{SecretID: secret.ID, Err: fmt.Errorf("decrypt: %w", err)}
	}
	cleartext, err := io.ReadAll(reader)
	reader.Close()
	mat.Zero()
	if err != nil {
		return nil, &CredentialError{SecretID: secret.ID, Err: fmt.Errorf("decrypt read: %w", err)}
	}

	return cleartext, nil
}

// Delete removes a secret and invalidates every token pointing at it.
func (v *Vault) Delete(secretID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.secrets, secretID)
	for id, tok := range v.tokens {
		if tok.secretID == secretID {
			delete(v.tokens, id)
		}
	}
}

// ListSecretIDs returns the ids of all stored secrets, without any key material.
func (v *Vault) ListSecretIDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ids := make([]string, 0, len(v.secrets))
	for id := range v.secrets {
		ids = append(ids, id)
	}
	return ids
}

// Mask renders a sensitive string safe for logs. Short values are fully
// masked; longer ones keep the first and last two characters.
func Mask(s string) string {
	if len(s) <= 6 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
