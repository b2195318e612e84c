// Package fs stores the session bundle as a JSON file on the local filesystem.
package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/panyam/possession"
	"github.com/panyam/possession/stores"
)

// DefaultAppName names the config directory when none is given
const DefaultAppName = "possession"

// Persister keeps the session in a single file readable only by its owner.
type Persister struct {
	mu     sync.Mutex
	path   string
	sealer *stores.Sealer
}

// Option configures a Persister
type Option func(*Persister)

// WithSealer encrypts the file contents.
func WithSealer(s *stores.Sealer) Option {
	return func(p *Persister) {
		p.sealer = s
	}
}

// NewPersister creates a file persister.
// If path is empty, defaults to ~/.config/<appName>/session.json
func NewPersister(path string, appName string, opts ...Option) (*Persister, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("could not determine config directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
		if appName == "" {
			appName = DefaultAppName
		}
		path = filepath.Join(configDir, appName, "session.json")
	}

	p := &Persister{path: path}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Load reads the session file. A missing file means no session.
func (p *Persister) Load() (*possession.Bundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return stores.Decode(data, p.sealer)
}

// Save writes b to disk, replacing the previous session atomically.
func (p *Persister) Save(b *possession.Bundle) error {
	data, err := stores.Encode(b, p.sealer)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Ensure directory exists with restricted permissions
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeAtomicFile(p.path, data)
}

// Remove deletes the session file
func (p *Persister) Remove() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// Path returns the path to the session file
func (p *Persister) Path() string {
	return p.path
}

// writeAtomicFile writes data to a file atomically by writing to a temp file
// first. The temp file is created owner read/write only.
func writeAtomicFile(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
