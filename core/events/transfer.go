package events

import (
	"math/big"
	"strconv"

	"jobmarket/core/types"
	"jobmarket/crypto"
)

const (
	// TypeTransfer is emitted for every balance movement between accounts,
	// including moves into and out of the ledger vault.
	TypeTransfer = "transfer"
)

type Transfer struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
	Reason string
	JobID  uint64
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   crypto.FormatHex(e.From),
		"to":     crypto.FormatHex(e.To),
		"amount": amountString(e.Amount),
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	if e.JobID != 0 {
		attrs["jobId"] = strconv.FormatUint(e.JobID, 10)
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
