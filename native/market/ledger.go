package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"jobmarket/core/events"
	"jobmarket/core/types"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// State is the transactional view the ledger operates on. Implementations
// must return copies so mutations only land through the Put methods.
type State interface {
	JobCounter() (uint64, error)
	SetJobCounter(uint64) error
	JobGet(id uint64) (*Job, bool, error)
	JobPut(*Job) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// Store hands out State views. Update must serialise writers and commit all of
// fn's writes atomically, discarding them when fn returns an error.
type Store interface {
	View(fn func(State) error) error
	Update(fn func(State) error) error
}

// Verifier is consulted by CompleteJob before any funds move.
type Verifier interface {
	VerifyJob(ctx context.Context, jobID uint64) bool
}

// Ledger owns jobs, bids and the escrowed budgets. It is safe for concurrent
// use; every mutation runs inside a single Store.Update.
type Ledger struct {
	store    Store
	verifier Verifier
	emitter  events.Emitter
	logger   *slog.Logger
	nowFn    func() int64

	// publishMu spans commit and emission so subscribers see events in
	// commit order.
	publishMu sync.Mutex
}

// NewLedger creates a ledger over store with a no-op emitter and no verifier.
// Until SetVerifier is called every CompleteJob fails verification.
func NewLedger(store Store) *Ledger {
	return &Ledger{
		store:   store,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetVerifier binds the escrow gate consulted on completion.
func (l *Ledger) SetVerifier(v Verifier) { l.verifier = v }

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetLogger overrides the ledger logger.
func (l *Ledger) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	l.logger = logger
}

// SetNowFunc overrides the clock. Intended for tests.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) now() int64 {
	if l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

func (l *Ledger) emit(evts []*types.Event, moves ...*events.Transfer) {
	for _, evt := range evts {
		if evt != nil {
			l.emitter.Emit(marketEvent{evt: evt})
		}
	}
	for _, mv := range moves {
		if mv != nil {
			l.emitter.Emit(*mv)
		}
	}
}

// commit applies fn in one Store.Update and, when it succeeds, runs publish
// before any later writer can commit.
func (l *Ledger) commit(ctx context.Context, fn func(State) error, publish func()) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.publishMu.Lock()
	defer l.publishMu.Unlock()
	if err := l.store.Update(fn); err != nil {
		return err
	}
	publish()
	return nil
}

// checkCaller rejects the addresses the ledger reserves for itself: the zero
// address marks an unset winner and the vault holds escrow.
func checkCaller(caller [20]byte) error {
	if caller == NoWinner || caller == VaultAddress {
		return ErrInvalidCaller
	}
	return nil
}

func (l *Ledger) view(ctx context.Context, fn func(State) error) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.store.View(fn)
}

func loadJob(st State, id uint64) (*Job, error) {
	job, ok, err := st.JobGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || job == nil {
		return nil, fmt.Errorf("%w: job %d", ErrNotFound, id)
	}
	return job, nil
}

func loadAccount(st State, addr [20]byte) (*types.Account, error) {
	acc, err := st.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Clone(), nil
}

// transfer moves amount between accounts and returns the movement for
// post-commit emission, or nil when nothing moved.
func transfer(st State, jobID uint64, from, to [20]byte, amount *big.Int, reason string) (*events.Transfer, error) {
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative transfer", ErrInvalidAmount)
	}
	if amt.Sign() == 0 || from == to {
		return nil, nil
	}
	fromAcc, err := loadAccount(st, from)
	if err != nil {
		return nil, err
	}
	if fromAcc.Balance.Cmp(amt) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, fromAcc.Balance, amt)
	}
	toAcc, err := loadAccount(st, to)
	if err != nil {
		return nil, err
	}
	fromAcc.Balance.Sub(fromAcc.Balance, amt)
	fromAcc.Nonce++
	toAcc.Balance.Add(toAcc.Balance, amt)
	toAcc.Nonce++
	if err := st.PutAccount(from, fromAcc); err != nil {
		return nil, err
	}
	if err := st.PutAccount(to, toAcc); err != nil {
		return nil, err
	}
	return &events.Transfer{From: from, To: to, Amount: amt, Reason: reason, JobID: jobID}, nil
}

// PostJob escrows value from caller into the vault and records a new job with
// the next identifier.
func (l *Ledger) PostJob(ctx context.Context, caller [20]byte, description string, value *big.Int) (*Receipt, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	if value == nil || value.Sign() <= 0 {
		return nil, ErrInvalidBudget
	}
	if err := CheckAmount(value); err != nil {
		return nil, err
	}
	desc, err := NormalizeDescription(description)
	if err != nil {
		return nil, err
	}
	var (
		job     *Job
		deposit *events.Transfer
		receipt *Receipt
	)
	err = l.commit(ctx, func(st State) error {
		counter, err := st.JobCounter()
		if err != nil {
			return err
		}
		deposit, err = transfer(st, counter+1, caller, VaultAddress, value, "escrow")
		if err != nil {
			return err
		}
		job = &Job{
			ID:          counter + 1,
			Employer:    caller,
			Description: desc,
			Budget:      cloneBigInt(value),
			WinnerBid:   -1,
			Escrowed:    cloneBigInt(value),
			Payout:      big.NewInt(0),
			Refund:      big.NewInt(0),
			CreatedAt:   l.now(),
		}
		if err := st.JobPut(job); err != nil {
			return err
		}
		return st.SetJobCounter(job.ID)
	}, func() {
		receipt = newReceipt(job.ID, OpPostJob, NewJobPostedEvent(job))
		l.emit(receipt.Events, deposit)
	})
	if err != nil {
		l.logger.Debug("post job rejected", slog.String("employer", hexAddr(caller)), slog.Any("error", err))
		return nil, err
	}
	l.logger.Info("job posted",
		slog.Uint64("job_id", job.ID),
		slog.String("employer", hexAddr(caller)),
		slog.String("budget", job.Budget.String()))
	return receipt, nil
}

// PlaceBid appends a bid that strictly undercuts the job's current minimum.
func (l *Ledger) PlaceBid(ctx context.Context, caller [20]byte, jobID uint64, amount *big.Int) (*Receipt, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidBidAmount
	}
	if err := CheckAmount(amount); err != nil {
		return nil, err
	}
	var (
		job     *Job
		receipt *Receipt
	)
	err := l.commit(ctx, func(st State) error {
		var err error
		job, err = loadJob(st, jobID)
		if err != nil {
			return err
		}
		if job.IsCompleted {
			return ErrJobClosed
		}
		if job.HasWinner() {
			return ErrWinnerAlreadySet
		}
		if job.Employer == caller {
			return ErrEmployerCannotBid
		}
		minimum, index, holder := job.CurrentMinimum()
		if amount.Cmp(minimum) >= 0 {
			return fmt.Errorf("%w: %s >= %s", ErrBidNotLower, amount, minimum)
		}
		if index >= 0 && holder == caller {
			return ErrAlreadyLowestBidder
		}
		job.Bids = append(job.Bids, Bid{Freelancer: caller, Amount: cloneBigInt(amount), PlacedAt: l.now()})
		return st.JobPut(job)
	}, func() {
		receipt = newReceipt(jobID, OpPlaceBid, NewBidPlacedEvent(job, len(job.Bids)-1))
		l.emit(receipt.Events)
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("bid placed",
		slog.Uint64("job_id", jobID),
		slog.String("freelancer", hexAddr(caller)),
		slog.String("amount", amount.String()))
	return receipt, nil
}

// SelectWinner fixes the winner to the freelancer of bids[bidIndex]. The index
// must name the bid currently holding the minimum.
func (l *Ledger) SelectWinner(ctx context.Context, caller [20]byte, jobID uint64, bidIndex int) (*Receipt, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	var (
		job     *Job
		receipt *Receipt
	)
	err := l.commit(ctx, func(st State) error {
		var err error
		job, err = loadJob(st, jobID)
		if err != nil {
			return err
		}
		if job.Employer != caller {
			return ErrUnauthorized
		}
		if job.IsCompleted {
			return ErrJobClosed
		}
		if job.HasWinner() {
			return ErrWinnerAlreadySet
		}
		if bidIndex < 0 || bidIndex >= len(job.Bids) {
			return fmt.Errorf("%w: bid index %d out of range", ErrStaleSelection, bidIndex)
		}
		_, index, holder := job.CurrentMinimum()
		if index != bidIndex || holder != job.Bids[bidIndex].Freelancer {
			return fmt.Errorf("%w: bid %d is not the current minimum", ErrStaleSelection, bidIndex)
		}
		job.Winner = holder
		job.WinnerBid = bidIndex
		return st.JobPut(job)
	}, func() {
		receipt = newReceipt(jobID, OpSelectWinner, NewWinnerSelectedEvent(job))
		l.emit(receipt.Events)
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("winner selected",
		slog.Uint64("job_id", jobID),
		slog.String("winner", hexAddr(job.Winner)))
	return receipt, nil
}

// CompleteJob releases the escrow once the verifier confirms the job: the
// winner receives the winning bid and the employer the remainder of the
// budget.
func (l *Ledger) CompleteJob(ctx context.Context, caller [20]byte, jobID uint64) (*Receipt, error) {
	if err := checkCaller(caller); err != nil {
		return nil, err
	}
	var (
		job     *Job
		moves   []*events.Transfer
		receipt *Receipt
	)
	err := l.commit(ctx, func(st State) error {
		var err error
		job, err = loadJob(st, jobID)
		if err != nil {
			return err
		}
		if job.Employer != caller {
			return ErrUnauthorized
		}
		if job.IsCompleted {
			return ErrJobClosed
		}
		if !job.HasWinner() || job.WinnerBid < 0 || job.WinnerBid >= len(job.Bids) {
			return ErrNoWinner
		}
		if l.verifier == nil || !l.verifier.VerifyJob(ctx, jobID) {
			return ErrEscrowVerificationFailed
		}
		escrowed := cloneBigInt(job.Escrowed)
		payout := cloneBigInt(job.Bids[job.WinnerBid].Amount)
		if payout.Cmp(escrowed) > 0 {
			return fmt.Errorf("%w: payout %s exceeds escrow %s", ErrEscrowVerificationFailed, payout, escrowed)
		}
		refund := new(big.Int).Sub(escrowed, payout)
		paid, err := transfer(st, jobID, VaultAddress, job.Winner, payout, "payout")
		if err != nil {
			return err
		}
		returned, err := transfer(st, jobID, VaultAddress, job.Employer, refund, "refund")
		if err != nil {
			return err
		}
		moves = []*events.Transfer{paid, returned}
		job.Payout = payout
		job.Refund = refund
		job.Escrowed = big.NewInt(0)
		job.IsCompleted = true
		job.CompletedAt = l.now()
		return st.JobPut(job)
	}, func() {
		receipt = newReceipt(jobID, OpCompleteJob, NewJobCompletedEvent(job))
		receipt.Settlement = &Settlement{
			JobID:    jobID,
			Winner:   job.Winner,
			Employer: job.Employer,
			Payout:   cloneBigInt(job.Payout),
			Refund:   cloneBigInt(job.Refund),
		}
		l.emit(receipt.Events, moves...)
	})
	if err != nil {
		if errors.Is(err, ErrEscrowVerificationFailed) {
			l.logger.Warn("completion refused by escrow gate", slog.Uint64("job_id", jobID))
		}
		return nil, err
	}
	l.logger.Info("job completed",
		slog.Uint64("job_id", jobID),
		slog.String("winner", hexAddr(job.Winner)),
		slog.String("payout", job.Payout.String()),
		slog.String("refund", job.Refund.String()))
	return receipt, nil
}

// Job returns a snapshot of a job.
func (l *Ledger) Job(ctx context.Context, jobID uint64) (*Job, error) {
	var job *Job
	err := l.view(ctx, func(st State) error {
		var err error
		job, err = loadJob(st, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// GetBids returns a job's bids in submission order.
func (l *Ledger) GetBids(ctx context.Context, jobID uint64) ([]Bid, error) {
	job, err := l.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job.Bids, nil
}

// JobCounter returns the number of jobs ever posted, which is also the highest
// assigned id.
func (l *Ledger) JobCounter(ctx context.Context) (uint64, error) {
	var counter uint64
	err := l.view(ctx, func(st State) error {
		var err error
		counter, err = st.JobCounter()
		return err
	})
	return counter, err
}

// ListJobs returns jobs by ascending id starting after offset. A zero limit
// selects DefaultListLimit; limits above MaxListLimit are clamped.
func (l *Ledger) ListJobs(ctx context.Context, offset uint64, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	out := make([]*Job, 0, limit)
	err := l.view(ctx, func(st State) error {
		counter, err := st.JobCounter()
		if err != nil {
			return err
		}
		if offset >= counter {
			return nil
		}
		for id := offset + 1; id <= counter && len(out) < limit; id++ {
			job, ok, err := st.JobGet(id)
			if err != nil {
				return err
			}
			if ok {
				out = append(out, job.Clone())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Balance returns the spendable balance of addr.
func (l *Ledger) Balance(ctx context.Context, addr [20]byte) (*big.Int, error) {
	var balance *big.Int
	err := l.view(ctx, func(st State) error {
		acc, err := loadAccount(st, addr)
		if err != nil {
			return err
		}
		balance = acc.Balance
		return nil
	})
	return balance, err
}

// VaultBalance returns the total value held in custody.
func (l *Ledger) VaultBalance(ctx context.Context) (*big.Int, error) {
	return l.Balance(ctx, VaultAddress)
}
