// Package identity resolves the opaque client identifier sent with
// generation requests.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// StorageKey is the key under which the identifier is persisted.
const StorageKey = "travelBingoClientId"

type Provider interface {
	ClientID(ctx context.Context) (string, error)
}

// Static always returns the same identifier.
type Static string

func (s Static) ClientID(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("static client id is empty")
	}
	return string(s), nil
}

// FileProvider keeps the identifier in a small JSON key/value file. The
// first call reads it, generating and writing a new one only when absent;
// later calls return the memoised value.
type FileProvider struct {
	path string

	mu sync.Mutex
	id string
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) ClientID(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id, nil
	}

	values, err := p.read()
	if err != nil {
		return "", err
	}

	if id, ok := values[StorageKey].(string); ok && id != "" {
		p.id = id
		return id, nil
	}

	id := uuid.New().String()
	values[StorageKey] = id
	if err := p.write(values); err != nil {
		return "", err
	}
	p.id = id
	return id, nil
}

// read returns the file's entries, or an empty map when the file does not
// exist yet. Other keys are preserved on write.
func (p *FileProvider) read() (map[string]any, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}

	values := map[string]any{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse identity file: %w", err)
	}
	return values, nil
}

func (p *FileProvider) write(values map[string]any) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode identity file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("failed to create identity dir: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return nil
}

// DefaultPath is the per-user location used by bingoctl.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config dir: %w", err)
	}
	return filepath.Join(dir, "travelbingo", "identity.json"), nil
}
