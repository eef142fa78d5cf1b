// Package vault stores secrets in a single passphrase-encrypted file.
// The payload is a JSON map of secret records sealed with
// XChaCha20-Poly1305 under a key derived from the passphrase with
// Argon2id. The whole vault is rewritten on every mutation; it holds
// connection credentials, not bulk data.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Vault errors.
var (
	ErrLocked             = errors.New("vault: vault is locked")
	ErrAlreadyInitialized = errors.New("vault: vault already initialized")
	ErrEmptyPassphrase    = errors.New("vault: passphrase cannot be empty")
	ErrUnlockFailed       = errors.New("vault: invalid passphrase or corrupted vault")
	ErrNotFound           = errors.New("vault: secret not found")
)

const (
	saltLen         = 16
	keyLen          = 32
	envelopeVersion = 1

	// Argon2id parameters: RFC 9106 second recommended option
	// (19 MiB memory, 2 passes, 1 lane).
	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
)

// Secret kinds.
const (
	KindPassword = "password"
)

// SecretRef identifies a stored secret without exposing its value.
// Profiles persist the ID; the value stays in the vault.
type SecretRef struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

type storedSecret struct {
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// envelope is the on-disk format. Salt, nonce, and ciphertext are
// standard base64.
type envelope struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Vault is a file-backed secret store. All methods are safe for
// concurrent use.
type Vault struct {
	path string

	mu   sync.Mutex
	key  []byte // nil while locked
	salt [saltLen]byte
	data map[string]storedSecret
}

// New returns a vault over the given file path. The file need not
// exist yet; Init creates it.
func New(path string) *Vault {
	return &Vault{path: path}
}

// IsInitialized reports whether the vault file exists.
func (v *Vault) IsInitialized() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// IsUnlocked reports whether secrets are currently accessible.
func (v *Vault) IsUnlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.key != nil
}

// Init creates an empty vault encrypted under the passphrase. The
// vault is left locked; call Unlock to use it.
func (v *Vault) Init(passphrase string) error {
	if passphrase == "" {
		return ErrEmptyPassphrase
	}
	if v.IsInitialized() {
		return ErrAlreadyInitialized
	}
	if dir := filepath.Dir(v.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("vault: creating directory: %w", err)
		}
	}

	var salt [saltLen]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return fmt.Errorf("vault: reading salt: %w", err)
	}
	key := deriveKey(passphrase, salt[:])
	defer zero(key)

	payload, err := json.Marshal(map[string]storedSecret{})
	if err != nil {
		return fmt.Errorf("vault: encoding initial payload: %w", err)
	}
	return writeEnvelope(v.path, key, salt[:], payload)
}

// Unlock derives the key from the passphrase and decrypts the vault
// into memory. A wrong passphrase and a corrupted file are
// indistinguishable by construction; both return ErrUnlockFailed.
func (v *Vault) Unlock(passphrase string) error {
	if passphrase == "" {
		return ErrEmptyPassphrase
	}
	raw, err := os.ReadFile(v.path)
	if err != nil {
		return fmt.Errorf("vault: reading vault file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("vault: parsing envelope: %w", err)
	}
	if env.Version != envelopeVersion {
		return fmt.Errorf("vault: unsupported envelope version %d", env.Version)
	}
	saltBytes, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil || len(saltBytes) != saltLen {
		return fmt.Errorf("vault: invalid salt in envelope")
	}

	key := deriveKey(passphrase, saltBytes)
	payload, err := openEnvelope(key, &env)
	if err != nil {
		zero(key)
		return err
	}
	var data map[string]storedSecret
	if err := json.Unmarshal(payload, &data); err != nil {
		zero(key)
		return fmt.Errorf("vault: decoding payload: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	zero(v.key)
	v.key = key
	copy(v.salt[:], saltBytes)
	v.data = data
	return nil
}

// Lock zeroes the key and drops the decrypted payload.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	zero(v.key)
	v.key = nil
	v.data = nil
}

// Put stores a secret value and persists the vault. It returns a
// reference whose ID profiles can safely record.
func (v *Vault) Put(kind, value string) (SecretRef, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return SecretRef{}, ErrLocked
	}

	ref := SecretRef{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	v.data[ref.ID] = storedSecret{Kind: kind, Value: value, CreatedAt: ref.CreatedAt}
	if err := v.persistLocked(); err != nil {
		delete(v.data, ref.ID)
		return SecretRef{}, err
	}
	return ref, nil
}

// Get resolves a secret reference to its plaintext value.
func (v *Vault) Get(id string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return "", ErrLocked
	}
	s, ok := v.data[id]
	if !ok {
		return "", ErrNotFound
	}
	return s.Value, nil
}

// Delete removes a secret and persists the vault. Deleting an unknown
// id is not an error.
func (v *Vault) Delete(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return ErrLocked
	}
	old, existed := v.data[id]
	delete(v.data, id)
	if err := v.persistLocked(); err != nil {
		if existed {
			v.data[id] = old
		}
		return err
	}
	return nil
}

func (v *Vault) persistLocked() error {
	payload, err := json.Marshal(v.data)
	if err != nil {
		return fmt.Errorf("vault: encoding payload: %w", err)
	}
	return writeEnvelope(v.path, v.key, v.salt[:], payload)
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keyLen)
}

func writeEnvelope(path string, key, salt, payload []byte) error {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return fmt.Errorf("vault: creating cipher: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("vault: reading nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, payload, nil)

	env := envelope{
		Version:    envelopeVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	raw, err := json.MarshalIndent(&env, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: encoding envelope: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("vault: writing vault file: %w", err)
	}
	return nil
}

func openEnvelope(key []byte, env *envelope) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("vault: invalid nonce in envelope")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("vault: invalid ciphertext in envelope")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	payload, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrUnlockFailed
	}
	return payload, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
