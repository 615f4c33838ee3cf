package state

import "jobmarket/native/market"

type marketStore struct {
	m *Manager
}

// MarketStore adapts the manager to the ledger's Store interface.
func MarketStore(m *Manager) market.Store { return marketStore{m: m} }

func (s marketStore) View(fn func(market.State) error) error {
	return s.m.View(func(tx *Tx) error { return fn(tx) })
}

func (s marketStore) Update(fn func(market.State) error) error {
	return s.m.Update(func(tx *Tx) error { return fn(tx) })
}
