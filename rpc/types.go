package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"jobmarket/core/types"
	"jobmarket/crypto"
	"jobmarket/integrations/audit"
	"jobmarket/native/market"
)

const jsonRPCVersion = "2.0"

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d (%s): %v", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Unwrap maps ledger error codes back onto the market sentinels so callers on
// the far side of the wire can classify them with errors.Is.
func (e *RPCError) Unwrap() error { return market.ErrorForCode(e.Message) }

type postJobParams struct {
	Description string `json:"description"`
	Value       string `json:"value"`
}

type placeBidParams struct {
	JobID     uint64 `json:"jobId"`
	BidAmount string `json:"bidAmount"`
}

type jobIDParams struct {
	JobID uint64 `json:"jobId"`
}

type selectWinnerParams struct {
	JobID    uint64 `json:"jobId"`
	BidIndex int    `json:"bidIndex"`
}

type listJobsParams struct {
	Offset uint64 `json:"offset"`
	Limit  int    `json:"limit"`
}

type addressParams struct {
	Address string `json:"address"`
}

type listEventsParams struct {
	After uint64 `json:"after"`
	Limit int    `json:"limit"`
	JobID uint64 `json:"jobId,omitempty"`
}

type loginParams struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Challenge string `json:"challenge"`
}

type BidJSON struct {
	Index      int    `json:"index"`
	Freelancer string `json:"freelancer"`
	Amount     string `json:"amount"`
	PlacedAt   int64  `json:"placedAt"`
}

type JobJSON struct {
	ID          uint64    `json:"id"`
	Employer    string    `json:"employer"`
	Description string    `json:"description"`
	Budget      string    `json:"budget"`
	Status      string    `json:"status"`
	CurrentBid  string    `json:"currentBid"`
	Bids        []BidJSON `json:"bids"`
	Winner      string    `json:"winner,omitempty"`
	WinnerBid   *int      `json:"winnerBid,omitempty"`
	Escrowed    string    `json:"escrowed"`
	Payout      string    `json:"payout"`
	Refund      string    `json:"refund"`
	CreatedAt   int64     `json:"createdAt"`
	CompletedAt int64     `json:"completedAt,omitempty"`
}

type EventJSON struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type SettlementJSON struct {
	Winner   string `json:"winner"`
	Employer string `json:"employer"`
	Payout   string `json:"payout"`
	Refund   string `json:"refund"`
}

type ReceiptJSON struct {
	JobID       uint64          `json:"jobId"`
	Operation   string          `json:"operation"`
	ReceiptHash string          `json:"receiptHash"`
	Events      []EventJSON     `json:"events"`
	Settlement  *SettlementJSON `json:"settlement,omitempty"`
}

type BalanceJSON struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type CounterJSON struct {
	JobCounter uint64 `json:"jobCounter"`
}

type AuditRecordJSON struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	JobID      uint64            `json:"jobId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Hash       string            `json:"hash"`
	PrevHash   string            `json:"prevHash"`
	CreatedAt  int64             `json:"createdAt"`
}

type ChallengeJSON struct {
	Address   string `json:"address"`
	Challenge string `json:"challenge"`
	Message   string `json:"message"`
	ExpiresAt int64  `json:"expiresAt"`
}

type SessionJSON struct {
	Address   string `json:"address"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatJob(job *market.Job) JobJSON {
	current, _, _ := job.CurrentMinimum()
	out := JobJSON{
		ID:          job.ID,
		Employer:    crypto.FormatHex(job.Employer),
		Description: job.Description,
		Budget:      amountString(job.Budget),
		Status:      job.Status().String(),
		CurrentBid:  amountString(current),
		Bids:        make([]BidJSON, len(job.Bids)),
		Escrowed:    amountString(job.Escrowed),
		Payout:      amountString(job.Payout),
		Refund:      amountString(job.Refund),
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
	for i, bid := range job.Bids {
		out.Bids[i] = formatBid(i, bid)
	}
	if job.HasWinner() {
		idx := job.WinnerBid
		out.Winner = crypto.FormatHex(job.Winner)
		out.WinnerBid = &idx
	}
	return out
}

func formatBid(index int, bid market.Bid) BidJSON {
	return BidJSON{
		Index:      index,
		Freelancer: crypto.FormatHex(bid.Freelancer),
		Amount:     amountString(bid.Amount),
		PlacedAt:   bid.PlacedAt,
	}
}

func formatEvents(evts []*types.Event) []EventJSON {
	out := make([]EventJSON, 0, len(evts))
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		out = append(out, EventJSON{Type: evt.Type, Attributes: evt.Clone().Attributes})
	}
	return out
}

func formatReceipt(r *market.Receipt) ReceiptJSON {
	out := ReceiptJSON{
		JobID:       r.JobID,
		Operation:   r.Operation,
		ReceiptHash: r.Hash.Hex(),
		Events:      formatEvents(r.Events),
	}
	if s := r.Settlement; s != nil {
		out.Settlement = &SettlementJSON{
			Winner:   crypto.FormatHex(s.Winner),
			Employer: crypto.FormatHex(s.Employer),
			Payout:   amountString(s.Payout),
			Refund:   amountString(s.Refund),
		}
	}
	return out
}

func formatAuditRecord(rec audit.Record) (AuditRecordJSON, error) {
	evt, err := rec.Event()
	if err != nil {
		return AuditRecordJSON{}, err
	}
	return AuditRecordJSON{
		Seq:        rec.Seq,
		Type:       rec.Type,
		JobID:      rec.JobID,
		Attributes: evt.Attributes,
		Hash:       rec.Hash,
		PrevHash:   rec.PrevHash,
		CreatedAt:  rec.CreatedAt.Unix(),
	}, nil
}

var errMalformedJob = errors.New("rpc: malformed job payload")

func parseAmountField(name, value string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", errMalformedJob, name, value)
	}
	return v, nil
}

// Job converts the wire form back into a ledger snapshot.
func (j JobJSON) Job() (*market.Job, error) {
	employer, err := crypto.ParseAddress(j.Employer)
	if err != nil {
		return nil, fmt.Errorf("%w: employer: %v", errMalformedJob, err)
	}
	job := &market.Job{
		ID:          j.ID,
		Employer:    employer,
		Description: j.Description,
		WinnerBid:   -1,
		IsCompleted: j.Status == market.StatusCompleted.String(),
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
	amounts := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"budget", j.Budget, &job.Budget},
		{"escrowed", j.Escrowed, &job.Escrowed},
		{"payout", j.Payout, &job.Payout},
		{"refund", j.Refund, &job.Refund},
	}
	for _, a := range amounts {
		v, err := parseAmountField(a.name, a.raw)
		if err != nil {
			return nil, err
		}
		*a.dst = v
	}
	job.Bids = make([]market.Bid, len(j.Bids))
	for i, b := range j.Bids {
		freelancer, err := crypto.ParseAddress(b.Freelancer)
		if err != nil {
			return nil, fmt.Errorf("%w: bid %d: %v", errMalformedJob, i, err)
		}
		amount, err := parseAmountField("bid", b.Amount)
		if err != nil {
			return nil, err
		}
		job.Bids[i] = market.Bid{Freelancer: freelancer, Amount: amount, PlacedAt: b.PlacedAt}
	}
	if j.Winner != "" {
		winner, err := crypto.ParseAddress(j.Winner)
		if err != nil {
			return nil, fmt.Errorf("%w: winner: %v", errMalformedJob, err)
		}
		if j.WinnerBid == nil || *j.WinnerBid < 0 || *j.WinnerBid >= len(job.Bids) {
			return nil, fmt.Errorf("%w: winner bid index", errMalformedJob)
		}
		job.Winner = winner
		job.WinnerBid = *j.WinnerBid
	}
	return job, nil
}
