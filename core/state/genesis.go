package state

import (
	"fmt"
	"math/big"
)

// Alloc credits an initial balance to an address.
type Alloc struct {
	Address [20]byte
	Balance *big.Int
}

// ApplyGenesis credits allocs exactly once per database. Later calls are
// no-ops and report false.
func (m *Manager) ApplyGenesis(allocs []Alloc) (bool, error) {
	applied := false
	err := m.Update(func(tx *Tx) error {
		_, done, err := tx.get(genesisAppliedKey)
		if err != nil || done {
			return err
		}
		for _, alloc := range allocs {
			if alloc.Balance == nil || alloc.Balance.Sign() < 0 {
				return fmt.Errorf("state: genesis alloc %x: invalid balance", alloc.Address)
			}
			acc, err := tx.GetAccount(alloc.Address)
			if err != nil {
				return err
			}
			acc.Balance.Add(acc.Balance, alloc.Balance)
			if err := tx.PutAccount(alloc.Address, acc); err != nil {
				return err
			}
		}
		applied = true
		return tx.put(genesisAppliedKey, []byte{1})
	})
	return applied, err
}
