package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	ServiceName = "inbox-triage"

	// KeyAnalysisAPIKey holds the field extractor API key.
	KeyAnalysisAPIKey = "analysis-api-key"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("credential: not found")

// Store reads and writes secrets in the system keyring.
type Store struct {
	ring keyring.Keyring
}

// Open returns a keyring-backed store. fileDir is used by the encrypted
// file backend on hosts without a system keyring.
func Open(fileDir string) (*Store, error) {
	if fileDir == "" {
		fileDir = "~/.config/inbox-triage/credentials"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("inbox-triage-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: ServiceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func (s *Store) Delete(key string) error {
	if err := s.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Resolve returns explicit when set, otherwise the stored value for key.
// A missing key resolves to "" without error.
func (s *Store) Resolve(explicit, key string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if s == nil {
		return "", nil
	}
	v, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
