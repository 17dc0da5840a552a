// Package archive writes captured images to the local filesystem.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the capture archive.
type Config struct {
	// BaseDir is the root directory where captures are stored.
	BaseDir string `mapstructure:"base_dir"`
}

// Store persists capture artifacts under a base directory, one file per
// fingerprint. Best effort: callers log failures and move on.
type Store struct {
	baseDir string
}

// New creates a filesystem-backed archive store.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case err != nil && os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	return &Store{baseDir: cfg.BaseDir}, nil
}

// Put writes the capture bytes under <base>/<fingerprint>.<ext> and
// returns the file path.
func (s *Store) Put(fingerprint, imageType string, data []byte) (string, error) {
	name := fmt.Sprintf("%s.%s", fingerprint, imageType)
	path := filepath.Join(s.baseDir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write capture: %w", err)
	}
	return path, nil
}
