package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"jobmarket/core/types"
	"jobmarket/native/market"
)

type storedBid struct {
	Freelancer [20]byte
	Amount     *big.Int
	PlacedAt   *big.Int
}

type storedJob struct {
	ID          uint64
	Employer    [20]byte
	Description string
	Budget      *big.Int
	Bids        []storedBid
	Winner      [20]byte
	HasWinner   bool
	WinnerBid   uint64
	IsCompleted bool
	Escrowed    *big.Int
	Payout      *big.Int
	Refund      *big.Int
	CreatedAt   *big.Int
	CompletedAt *big.Int
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func newStoredJob(j *market.Job) *storedJob {
	s := &storedJob{
		ID:          j.ID,
		Employer:    j.Employer,
		Description: j.Description,
		Budget:      nonNil(j.Budget),
		Bids:        make([]storedBid, len(j.Bids)),
		Winner:      j.Winner,
		IsCompleted: j.IsCompleted,
		Escrowed:    nonNil(j.Escrowed),
		Payout:      nonNil(j.Payout),
		Refund:      nonNil(j.Refund),
		CreatedAt:   big.NewInt(j.CreatedAt),
		CompletedAt: big.NewInt(j.CompletedAt),
	}
	if j.HasWinner() && j.WinnerBid >= 0 {
		s.HasWinner = true
		s.WinnerBid = uint64(j.WinnerBid)
	}
	for i, bid := range j.Bids {
		s.Bids[i] = storedBid{Freelancer: bid.Freelancer, Amount: nonNil(bid.Amount), PlacedAt: big.NewInt(bid.PlacedAt)}
	}
	return s
}

func (s *storedJob) toJob() *market.Job {
	j := &market.Job{
		ID:          s.ID,
		Employer:    s.Employer,
		Description: s.Description,
		Budget:      nonNil(s.Budget),
		Bids:        make([]market.Bid, len(s.Bids)),
		Winner:      s.Winner,
		WinnerBid:   -1,
		IsCompleted: s.IsCompleted,
		Escrowed:    nonNil(s.Escrowed),
		Payout:      nonNil(s.Payout),
		Refund:      nonNil(s.Refund),
		CreatedAt:   nonNil(s.CreatedAt).Int64(),
		CompletedAt: nonNil(s.CompletedAt).Int64(),
	}
	if s.HasWinner {
		j.WinnerBid = int(s.WinnerBid)
	}
	for i, bid := range s.Bids {
		j.Bids[i] = market.Bid{Freelancer: bid.Freelancer, Amount: nonNil(bid.Amount), PlacedAt: nonNil(bid.PlacedAt).Int64()}
	}
	return j
}

// JobCounter returns the highest assigned job id.
func (tx *Tx) JobCounter() (uint64, error) {
	data, ok, err := tx.get(jobCounterKeyBytes)
	if err != nil || !ok {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("state: corrupt job counter (%d bytes)", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// SetJobCounter overwrites the job counter.
func (tx *Tx) SetJobCounter(v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return tx.put(jobCounterKeyBytes, buf)
}

// JobGet loads a job record. The returned job is owned by the caller.
func (tx *Tx) JobGet(id uint64) (*market.Job, bool, error) {
	data, ok, err := tx.get(JobKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	stored := new(storedJob)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("state: decode job %d: %w", id, err)
	}
	return stored.toJob(), true, nil
}

// JobPut persists a job record.
func (tx *Tx) JobPut(job *market.Job) error {
	if job == nil || job.ID == 0 {
		return fmt.Errorf("state: invalid job record")
	}
	encoded, err := rlp.EncodeToBytes(newStoredJob(job))
	if err != nil {
		return err
	}
	return tx.put(JobKey(job.ID), encoded)
}

// GetAccount returns the account at addr, or a zero account when absent.
func (tx *Tx) GetAccount(addr [20]byte) (*types.Account, error) {
	data, ok, err := tx.get(AccountKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	acc := new(types.Account)
	if err := rlp.DecodeBytes(data, acc); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return acc.Clone(), nil
}

// PutAccount persists an account.
func (tx *Tx) PutAccount(addr [20]byte, acc *types.Account) error {
	encoded, err := rlp.EncodeToBytes(acc.Clone())
	if err != nil {
		return err
	}
	return tx.put(AccountKey(addr), encoded)
}
