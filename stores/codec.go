// Package stores persists the session bundle between runs of the client.
// Subpackages provide the storage backends; this package holds the on-disk
// encoding and optional sealing shared by all of them.
package stores

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/panyam/possession"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	formatVersion = 1
	keySize       = 32
	nonceSize     = 24
)

var (
	// ErrSealed is returned when a sealed session is read without a key.
	ErrSealed = errors.New("session is sealed and no key was configured")

	// ErrUnseal is returned when a sealed session cannot be opened with the configured key.
	ErrUnseal = errors.New("failed to unseal session")
)

// Sealer encrypts persisted sessions with a key derived from a passphrase.
type Sealer struct {
	key [keySize]byte
}

// NewSealer derives a sealing key from passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("sealing passphrase cannot be empty")
	}
	s := &Sealer{}
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("possession session v1"))
	if _, err := io.ReadFull(kdf, s.key[:]); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return s, nil
}

// Seal encrypts and authenticates plain. The nonce is prepended to the output.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

// Open reverses Seal.
func (s *Sealer) Open(box []byte) ([]byte, error) {
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, ErrUnseal
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrUnseal
	}
	return plain, nil
}

// envelope is the persisted JSON structure
type envelope struct {
	Version int                `json:"version"`
	Session *possession.Bundle `json:"session,omitempty"`
	Sealed  []byte             `json:"sealed,omitempty"`
}

// Encode serializes b, sealing it when s is not nil.
func Encode(b *possession.Bundle, s *Sealer) ([]byte, error) {
	env := envelope{Version: formatVersion}
	if s == nil {
		env.Session = b
	} else {
		plain, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize session: %w", err)
		}
		if env.Sealed, err = s.Seal(plain); err != nil {
			return nil, err
		}
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize session: %w", err)
	}
	return data, nil
}

// Decode parses data written by Encode. An unsealed session is accepted even
// when s is set.
func Decode(data []byte, s *Sealer) (*possession.Bundle, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	if env.Version != formatVersion {
		return nil, fmt.Errorf("unsupported session format version %d", env.Version)
	}

	if env.Sealed == nil {
		return env.Session, nil
	}
	if s == nil {
		return nil, ErrSealed
	}

	plain, err := s.Open(env.Sealed)
	if err != nil {
		return nil, err
	}
	var b possession.Bundle
	if err := json.Unmarshal(plain, &b); err != nil {
		return nil, fmt.Errorf("failed to parse sealed session: %w", err)
	}
	return &b, nil
}
