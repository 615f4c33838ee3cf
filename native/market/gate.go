package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

var errNilReader = errors.New("escrow gate: job reader not configured")

// JobReader is the read-only ledger surface the gate is bound to.
type JobReader interface {
	Job(ctx context.Context, jobID uint64) (*Job, error)
	VaultBalance(ctx context.Context) (*big.Int, error)
}

// Verdict explains a gate decision. Reason is empty when Valid is true.
type Verdict struct {
	JobID  uint64 `json:"jobId"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// EscrowGate independently confirms that a job is eligible for settlement. It
// is bound to exactly one ledger at construction and never mutates it.
type EscrowGate struct {
	reader JobReader
}

// NewEscrowGate binds a gate to reader. The binding cannot be changed.
func NewEscrowGate(reader JobReader) (*EscrowGate, error) {
	if reader == nil {
		return nil, errNilReader
	}
	return &EscrowGate{reader: reader}, nil
}

// VerifyJob reports whether jobID may be completed. Any failure to read or
// evaluate the job yields false.
func (g *EscrowGate) VerifyJob(ctx context.Context, jobID uint64) bool {
	return g.Inspect(ctx, jobID).Valid
}

// Inspect evaluates jobID and returns the verdict with a reason when invalid.
func (g *EscrowGate) Inspect(ctx context.Context, jobID uint64) (verdict Verdict) {
	verdict = Verdict{JobID: jobID}
	defer func() {
		if r := recover(); r != nil {
			verdict = Verdict{JobID: jobID, Reason: fmt.Sprintf("gate panic: %v", r)}
		}
	}()
	if g == nil || g.reader == nil {
		verdict.Reason = errNilReader.Error()
		return verdict
	}
	if ctx == nil {
		ctx = context.Background()
	}
	reason := g.evaluate(ctx, jobID)
	verdict.Valid = reason == ""
	verdict.Reason = reason
	return verdict
}

func (g *EscrowGate) evaluate(ctx context.Context, jobID uint64) string {
	job, err := g.reader.Job(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "unknown job"
		}
		return "ledger read failed: " + err.Error()
	}
	if job == nil {
		return "unknown job"
	}
	if job.IsCompleted {
		return "job already completed"
	}
	if job.Budget == nil || job.Budget.Sign() <= 0 {
		return "job has no budget"
	}
	if job.Escrowed == nil || job.Escrowed.Sign() <= 0 {
		return "escrow is empty"
	}
	if job.Escrowed.Cmp(job.Budget) != 0 {
		return "escrow does not match budget"
	}
	if !job.HasWinner() {
		return "no winner selected"
	}
	_, index, holder := job.CurrentMinimum()
	if index < 0 || holder != job.Winner || index != job.WinnerBid {
		return "winner is not the current minimum bidder"
	}
	if job.Bids[index].Amount.Cmp(job.Escrowed) > 0 {
		return "winning bid exceeds escrow"
	}
	vault, err := g.reader.VaultBalance(ctx)
	if err != nil {
		return "vault read failed: " + err.Error()
	}
	if vault == nil || vault.Cmp(job.Escrowed) < 0 {
		return "vault custody below escrow"
	}
	return ""
}
