package state

import (
	"errors"
	"fmt"
	"sync"

	"jobmarket/storage"
)

var errReadOnly = errors.New("state: write attempted in read-only view")

// Manager owns the durable ledger state. Writers are serialised; each Update
// commits through a single storage batch so a failed callback leaves nothing
// behind. Readers only wait for the commit itself.
type Manager struct {
	db      storage.Database
	writeMu sync.Mutex
	mu      sync.RWMutex
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// View runs fn against committed state.
func (m *Manager) View(fn func(*Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(newTx(m.db, true))
}

// Update runs fn against a write overlay and commits the overlay when fn
// succeeds.
func (m *Manager) Update(fn func(*Tx) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	tx := newTx(m.db, false)
	if err := fn(tx); err != nil {
		return err
	}
	if tx.batch.Len() == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.Write(tx.batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Tx is a read-your-writes view over the database. Reads consult pending
// writes first.
type Tx struct {
	db       storage.Database
	pending  map[string][]byte
	batch    *storage.Batch
	readOnly bool
}

func newTx(db storage.Database, readOnly bool) *Tx {
	return &Tx{
		db:       db,
		pending:  make(map[string][]byte),
		batch:    storage.NewBatch(),
		readOnly: readOnly,
	}
}

func (tx *Tx) get(key []byte) ([]byte, bool, error) {
	if value, ok := tx.pending[string(key)]; ok {
		return value, true, nil
	}
	value, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (tx *Tx) put(key, value []byte) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.pending[string(key)] = append([]byte(nil), value...)
	tx.batch.Put(key, value)
	return nil
}
