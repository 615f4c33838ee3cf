package types

import "math/big"

// Account holds the spendable balance of a single identity, expressed in the
// smallest indivisible unit.
type Account struct {
	Balance *big.Int `json:"balance"`
	// Nonce counts committed balance changes; clients use it to detect
	// concurrent movement between reads.
	Nonce uint64 `json:"nonce"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance.Set(a.Balance)
	}
	return clone
}
