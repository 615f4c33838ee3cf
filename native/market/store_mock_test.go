package market

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"

	"jobmarket/core/types"
)

// mockStore keeps committed state in maps. Update works on a full copy that
// replaces the committed maps only when fn succeeds.
type mockStore struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   *mockState
	failPut error
}

type mockState struct {
	counter  uint64
	jobs     map[uint64]*Job
	accounts map[[20]byte]*types.Account
	failPut  error
	readOnly bool
}

func newMockStore() *mockStore {
	return &mockStore{state: &mockState{
		jobs:     make(map[uint64]*Job),
		accounts: make(map[[20]byte]*types.Account),
	}}
}

func (s *mockState) copy() *mockState {
	out := &mockState{
		counter:  s.counter,
		jobs:     make(map[uint64]*Job, len(s.jobs)),
		accounts: make(map[[20]byte]*types.Account, len(s.accounts)),
	}
	for id, job := range s.jobs {
		out.jobs[id] = job.Clone()
	}
	for addr, acc := range s.accounts {
		out.accounts[addr] = acc.Clone()
	}
	return out
}

var errReadOnly = errors.New("mock: read-only view")

func (s *mockState) JobCounter() (uint64, error) { return s.counter, nil }

func (s *mockState) SetJobCounter(v uint64) error {
	if s.readOnly {
		return errReadOnly
	}
	s.counter = v
	return nil
}

func (s *mockState) JobGet(id uint64) (*Job, bool, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return job.Clone(), true, nil
}

func (s *mockState) JobPut(job *Job) error {
	if s.readOnly {
		return errReadOnly
	}
	if s.failPut != nil {
		return s.failPut
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *mockState) GetAccount(addr [20]byte) (*types.Account, error) {
	acc, ok := s.accounts[addr]
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return acc.Clone(), nil
}

func (s *mockState) PutAccount(addr [20]byte, acc *types.Account) error {
	if s.readOnly {
		return errReadOnly
	}
	s.accounts[addr] = acc.Clone()
	return nil
}

func (m *mockStore) View(fn func(State) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	view := *m.state
	view.readOnly = true
	return fn(&view)
}

func (m *mockStore) Update(fn func(State) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.RLock()
	overlay := m.state.copy()
	m.mu.RUnlock()
	overlay.failPut = m.failPut
	if err := fn(overlay); err != nil {
		return err
	}
	overlay.failPut = nil
	m.mu.Lock()
	m.state = overlay
	m.mu.Unlock()
	return nil
}

func (m *mockStore) fund(addr [20]byte, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.accounts[addr] = &types.Account{Balance: new(big.Int).Set(amount)}
}

func (m *mockStore) balance(addr [20]byte) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.state.accounts[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(acc.Balance)
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

// tenths returns n tenths of a display unit in the smallest unit.
func tenths(n int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(n), unit)
	return v.Div(v, big.NewInt(10))
}

type stubVerifier struct {
	mu    sync.Mutex
	ok    bool
	calls int
}

func (s *stubVerifier) set(ok bool) {
	s.mu.Lock()
	s.ok = ok
	s.mu.Unlock()
}

func (s *stubVerifier) VerifyJob(_ context.Context, _ uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.ok
}
