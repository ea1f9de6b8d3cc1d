package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// FileSource reads and writes the catalog as a TOML document.
type FileSource struct {
	path string
	mu   sync.Mutex
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// LoadCatalog implements Source. A missing file yields ErrNotFound.
func (f *FileSource) LoadCatalog(_ context.Context) (*Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var cfg Config
	if _, err := toml.DecodeFile(f.path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: decode %s: %w", f.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", f.path, err)
	}
	return &cfg, nil
}

// SaveCatalog implements Writer. The file is replaced atomically.
func (f *FileSource) SaveCatalog(_ context.Context, cfg *Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".catalog-*.toml")
	if err != nil {
		return fmt.Errorf("catalog: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close() //nolint:errcheck,gosec // encode error takes precedence
		return fmt.Errorf("catalog: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
