// Package secrets implements the machine-bound encrypted vault used to hold
// provider API keys, channel tokens, and other operator-supplied credentials.
//
// The vault file never stores plaintext. The encryption key is derived via
// HKDF from machine-identifying material plus a random salt persisted
// alongside the vault, so a copied vault file is useless on another host.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// ErrNotFound is returned by Get when the key is not present in the vault.
var ErrNotFound = errors.New("secrets: key not found")

type record struct {
	Key        string `json:"key"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type vaultFile struct {
	Salt    string   `json:"salt"`
	Records []record `json:"records"`
}

// Store is the machine-bound encrypted secret vault.
type Store struct {
	mu       sync.RWMutex
	path     string
	gcm      cipher.AEAD
	salt     []byte
	values   map[string]string // decrypted, in-memory
}

// Open loads (or initializes) the vault at path, deriving the encryption key
// from machine-identifying material. The returned Store holds all secrets
// decrypted in memory; callers must never log Store-sourced strings directly
// and should run them through Redact first.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: map[string]string{}}

	vf, err := readVaultFile(path)
	if err != nil {
		return nil, fmt.Errorf("secrets: read vault: %w", err)
	}
	if vf.Salt == "" {
		saltBytes := make([]byte, 16)
		if _, err := rand.Read(saltBytes); err != nil {
			return nil, fmt.Errorf("secrets: generate salt: %w", err)
		}
		vf.Salt = base64.StdEncoding.EncodeToString(saltBytes)
	}
	salt, err := base64.StdEncoding.DecodeString(vf.Salt)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode salt: %w", err)
	}
	s.salt = salt

	key, err := deriveKey(salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: new gcm: %w", err)
	}
	s.gcm = gcm

	for _, rec := range vf.Records {
		plain, err := s.decrypt(rec)
		if err != nil {
			return nil, fmt.Errorf("secrets: decrypt %q: %w", rec.Key, err)
		}
		s.values[rec.Key] = plain
	}

	return s, s.persist()
}

// Get returns the decrypted value for key.
func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores value under key, re-encrypting and persisting the vault.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.persist()
}

// Delete removes key from the vault.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return s.persist()
}

// List returns the known keys without decrypting their values.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	return out
}

func (s *Store) persist() error {
	vf := vaultFile{Salt: base64.StdEncoding.EncodeToString(s.salt)}
	for k, v := range s.values {
		rec, err := s.encrypt(k, v)
		if err != nil {
			return err
		}
		vf.Records = append(vf.Records, rec)
	}
	data, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return fmt.Errorf("secrets: marshal vault: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("secrets: mkdir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("secrets: write temp vault: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) encrypt(key, value string) (record, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return record{}, fmt.Errorf("secrets: nonce: %w", err)
	}
	ct := s.gcm.Seal(nil, nonce, []byte(value), []byte(key))
	return record{
		Key:        key,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}, nil
}

func (s *Store) decrypt(rec record) (string, error) {
	nonce, err := base64.StdEncoding.DecodeString(rec.Nonce)
	if err != nil {
		return "", err
	}
	ct, err := base64.StdEncoding.DecodeString(rec.Ciphertext)
	if err != nil {
		return "", err
	}
	pt, err := s.gcm.Open(nil, nonce, ct, []byte(rec.Key))
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func readVaultFile(path string) (vaultFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return vaultFile{}, nil
	}
	if err != nil {
		return vaultFile{}, err
	}
	var vf vaultFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return vaultFile{}, err
	}
	return vf, nil
}

// deriveKey derives a 32-byte AES-256 key from machine identity + salt via HKDF-SHA256.
func deriveKey(salt []byte) ([]byte, error) {
	id, err := machineID()
	if err != nil {
		return nil, fmt.Errorf("secrets: machine id: %w", err)
	}
	h := hkdf.New(sha256.New, id, salt, []byte("quantumclaw-secret-vault"))
	key := make([]byte, 32)
	if _, err := hkdf.Read(h, key); err != nil {
		return nil, err
	}
	return key, nil
}

// machineID returns stable machine-identifying bytes, falling back to 32
// random bytes persisted in os.TempDir()/quantumclaw-machine-id when no OS
// identifier is available (e.g. inside minimal containers).
func machineID() ([]byte, error) {
	candidates := []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}
	for _, c := range candidates {
		if data, err := os.ReadFile(c); err == nil && len(data) > 0 {
			return data, nil
		}
	}
	return fallbackMachineID()
}

func fallbackMachineID() ([]byte, error) {
	path := filepath.Join(os.TempDir(), "quantumclaw-machine-id")
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return data, nil
	}
	id := make([]byte, 32)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}
	_ = os.WriteFile(path, id, 0o600)
	return id, nil
}

// Redact masks everything but the first and last two characters of a secret,
// for safe inclusion in logs or dashboard responses.
func Redact(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}
