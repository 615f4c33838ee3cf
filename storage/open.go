package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Open resolves a backend name to a database rooted under dataDir.
func Open(backend, dataDir string) (Database, error) {
	normalized := strings.ToLower(strings.TrimSpace(backend))
	if normalized == "" {
		normalized = BackendLevelDB
	}
	if normalized == BackendMemory {
		return NewMemDB(), nil
	}
	if strings.TrimSpace(dataDir) == "" {
		return nil, fmt.Errorf("storage: data dir required for %s backend", normalized)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	switch normalized {
	case BackendLevelDB:
		db, err := NewLevelDB(filepath.Join(dataDir, "ledger"))
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendBolt:
		db, err := NewBoltDB(filepath.Join(dataDir, "ledger.bolt"), nil)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("storage: unsupported backend %q", backend)
	}
}
