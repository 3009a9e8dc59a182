package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore implements monitor.SnapshotStore on the local filesystem,
// for development runs without a bucket.
type LocalStore struct {
	baseDir string
}

// NewLocalStore validates that the base directory exists (creating it if
// needed) and is writable.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("snapshot base directory is required")
	}
	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create snapshot directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat snapshot directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("snapshot path %q is not a directory", baseDir)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// Save writes one page snapshot under the base directory. Object names
// that escape the base directory are rejected.
func (s *LocalStore) Save(_ context.Context, objectName string, data []byte) error {
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(objectName))

	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("snapshot name %q escapes base directory", objectName)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("create snapshot subdirectory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot file: %w", err)
	}
	return nil
}
