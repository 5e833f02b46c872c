// Package vault implements the encrypted credential store named in spec §2
// (L0 Vault) and §6 ("a pair of files — salt + encrypted blob — in the
// project directory"). Keys are derived with PBKDF2-HMAC-SHA256, matching
// the original Python implementation's core/vault.py, and the blob is
// sealed with AES-256-GCM.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltFile   = "vault.salt"
	blobFile   = "vault.enc"
	kdfIters   = 200_000
	keyLenAES  = 32
)

// ErrWrongPassword is returned when the supplied password cannot decrypt
// the existing blob (AES-GCM authentication failure).
var ErrWrongPassword = errors.New("vault: wrong password or corrupted blob")

// ErrLocked is returned by operations attempted before Unlock succeeds.
var ErrLocked = errors.New("vault: locked")

// Vault is a PBKDF2+AES-GCM encrypted key-value store backed by two files:
// a salt file and an encrypted blob file.
type Vault struct {
	dir  string
	mu   sync.Mutex
	key  []byte // derived AES key, nil until Unlock
	data map[string]string
}

// New creates a Vault rooted at dir; Unlock creates dir if it is missing.
// Call Unlock before Get/Set/Delete/List.
func New(dir string) *Vault {
	return &Vault{dir: dir}
}

// SaltHash returns SHA-256 of the vault's salt, used by the fingerprint
// component to bind identity to this vault instance. Returns an error if
// no salt file exists yet (vault never initialized).
func (v *Vault) SaltHash() ([]byte, error) {
	salt, err := os.ReadFile(filepath.Join(v.dir, saltFile))
	if err != nil {
		return nil, fmt.Errorf("vault: read salt: %w", err)
	}
	sum := sha256.Sum256(salt)
	return sum[:], nil
}

// Unlock derives the AES key from password and either initializes a new
// vault (first run: generates a random salt, writes an empty encrypted
// blob) or decrypts the existing blob (subsequent runs). Returns
// ErrWrongPassword if an existing blob fails to decrypt.
func (v *Vault) Unlock(password string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.MkdirAll(v.dir, 0o700); err != nil {
		return fmt.Errorf("vault: mkdir: %w", err)
	}

	saltPath := filepath.Join(v.dir, saltFile)
	blobPath := filepath.Join(v.dir, blobFile)

	salt, err := os.ReadFile(saltPath)
	firstRun := os.IsNotExist(err)
	if err != nil && !firstRun {
		return fmt.Errorf("vault: read salt: %w", err)
	}
	if firstRun {
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("vault: generate salt: %w", err)
		}
		if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
			return fmt.Errorf("vault: write salt: %w", err)
		}
	}

	key := pbkdf2.Key([]byte(password), salt, kdfIters, keyLenAES, sha256.New)

	if firstRun {
		v.key = key
		v.data = map[string]string{}
		return v.persistLocked()
	}

	blob, err := os.ReadFile(blobPath)
	if os.IsNotExist(err) {
		v.key = key
		v.data = map[string]string{}
		return v.persistLocked()
	}
	if err != nil {
		return fmt.Errorf("vault: read blob: %w", err)
	}

	plain, err := decrypt(key, blob)
	if err != nil {
		return ErrWrongPassword
	}
	var data map[string]string
	if err := json.Unmarshal(plain, &data); err != nil {
		return ErrWrongPassword
	}

	v.key = key
	v.data = data
	return nil
}

// Get returns the value for key, or ok=false if absent.
func (v *Vault) Get(key string) (string, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return "", false, ErrLocked
	}
	val, ok := v.data[key]
	return val, ok, nil
}

// Set stores key=value and persists the blob immediately.
func (v *Vault) Set(key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return ErrLocked
	}
	v.data[key] = value
	return v.persistLocked()
}

// Delete removes key and persists the blob immediately. No-op if absent.
func (v *Vault) Delete(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return ErrLocked
	}
	delete(v.data, key)
	return v.persistLocked()
}

// List returns all stored keys (not values).
func (v *Vault) List() ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key == nil {
		return nil, ErrLocked
	}
	keys := make([]string, 0, len(v.data))
	for k := range v.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (v *Vault) persistLocked() error {
	plain, err := json.Marshal(v.data)
	if err != nil {
		return err
	}
	blob, err := encrypt(v.key, plain)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(v.dir, blobFile), blob, 0o600)
}

func encrypt(key, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func decrypt(key, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, errors.New("vault: blob too short")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
