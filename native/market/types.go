package market

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// NoWinner is the sentinel identity held by a job before a winner is chosen.
var NoWinner = [20]byte{}

// VaultAddress is the custody account holding every escrowed budget. It has
// no private key; only the ledger moves funds out of it.
var VaultAddress = func() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("jobmarket/ledger/vault"))[12:])
	return addr
}()

// Status summarises where a job sits in its lifecycle.
type Status uint8

const (
	StatusOpen Status = iota
	StatusWinnerSelected
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusWinnerSelected:
		return "winner_selected"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Bid is a single offer in a job's append-only bid sequence.
type Bid struct {
	Freelancer [20]byte
	Amount     *big.Int
	PlacedAt   int64
}

// Job captures the immutable terms and the mutable auction state of a posted
// job. Budget is escrowed in the vault from creation until completion.
type Job struct {
	ID          uint64
	Employer    [20]byte
	Description string
	Budget      *big.Int
	Bids        []Bid
	Winner      [20]byte
	// WinnerBid indexes Bids when Winner is set and is -1 otherwise.
	WinnerBid   int
	IsCompleted bool
	Escrowed    *big.Int
	Payout      *big.Int
	Refund      *big.Int
	CreatedAt   int64
	CompletedAt int64
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Clone returns a deep copy of the job so callers can safely mutate the copy
// without affecting the stored instance.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Budget = cloneBigInt(j.Budget)
	clone.Escrowed = cloneBigInt(j.Escrowed)
	clone.Payout = cloneBigInt(j.Payout)
	clone.Refund = cloneBigInt(j.Refund)
	clone.Bids = make([]Bid, len(j.Bids))
	for i, bid := range j.Bids {
		clone.Bids[i] = Bid{Freelancer: bid.Freelancer, Amount: cloneBigInt(bid.Amount), PlacedAt: bid.PlacedAt}
	}
	return &clone
}

// HasWinner reports whether selectWinner has run for the job.
func (j *Job) HasWinner() bool {
	return j != nil && j.Winner != NoWinner
}

// Status derives the lifecycle stage from the stored flags.
func (j *Job) Status() Status {
	switch {
	case j.IsCompleted:
		return StatusCompleted
	case j.HasWinner():
		return StatusWinnerSelected
	default:
		return StatusOpen
	}
}

// CurrentMinimum returns the amount a new bid has to undercut, the index of
// the bid holding it (-1 when no bids exist) and that bid's freelancer.
func (j *Job) CurrentMinimum() (*big.Int, int, [20]byte) {
	minimum := cloneBigInt(j.Budget)
	index := -1
	holder := NoWinner
	for i, bid := range j.Bids {
		if bid.Amount == nil {
			continue
		}
		if index == -1 || bid.Amount.Cmp(minimum) < 0 {
			minimum = cloneBigInt(bid.Amount)
			index = i
			holder = bid.Freelancer
		}
	}
	return minimum, index, holder
}

// Settlement reports the fund movements performed by CompleteJob.
type Settlement struct {
	JobID    uint64
	Winner   [20]byte
	Employer [20]byte
	Payout   *big.Int
	Refund   *big.Int
}
