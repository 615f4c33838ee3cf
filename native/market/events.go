package market

import (
	"math/big"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"jobmarket/core/types"
)

const (
	EventTypeJobPosted      = "market.job.posted"
	EventTypeBidPlaced      = "market.bid.placed"
	EventTypeWinnerSelected = "market.winner.selected"
	EventTypeJobCompleted   = "market.job.completed"
)

const (
	OpPostJob      = "postJob"
	OpPlaceBid     = "placeBid"
	OpSelectWinner = "selectWinner"
	OpCompleteJob  = "completeJob"
)

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

func hexAddr(addr [20]byte) string { return common.Address(addr).Hex() }

func jobAttrs(j *Job) map[string]string {
	attrs := make(map[string]string)
	if j == nil {
		return attrs
	}
	attrs["jobId"] = strconv.FormatUint(j.ID, 10)
	attrs["employer"] = hexAddr(j.Employer)
	return attrs
}

// NewJobPostedEvent returns the canonical payload for a newly escrowed job.
func NewJobPostedEvent(j *Job) *types.Event {
	attrs := jobAttrs(j)
	if j != nil {
		attrs["budget"] = cloneBigInt(j.Budget).String()
		attrs["createdAt"] = strconv.FormatInt(j.CreatedAt, 10)
	}
	return &types.Event{Type: EventTypeJobPosted, Attributes: attrs}
}

// NewBidPlacedEvent returns the payload for the bid at index in j.Bids.
func NewBidPlacedEvent(j *Job, index int) *types.Event {
	attrs := jobAttrs(j)
	if j != nil && index >= 0 && index < len(j.Bids) {
		bid := j.Bids[index]
		attrs["bidIndex"] = strconv.Itoa(index)
		attrs["freelancer"] = hexAddr(bid.Freelancer)
		attrs["amount"] = cloneBigInt(bid.Amount).String()
	}
	return &types.Event{Type: EventTypeBidPlaced, Attributes: attrs}
}

// NewWinnerSelectedEvent returns the payload emitted once a job's winner is
// fixed.
func NewWinnerSelectedEvent(j *Job) *types.Event {
	attrs := jobAttrs(j)
	if j != nil && j.HasWinner() {
		attrs["winner"] = hexAddr(j.Winner)
		attrs["bidIndex"] = strconv.Itoa(j.WinnerBid)
		if j.WinnerBid >= 0 && j.WinnerBid < len(j.Bids) {
			attrs["amount"] = cloneBigInt(j.Bids[j.WinnerBid].Amount).String()
		}
	}
	return &types.Event{Type: EventTypeWinnerSelected, Attributes: attrs}
}

// NewJobCompletedEvent returns the payload describing a settlement.
func NewJobCompletedEvent(j *Job) *types.Event {
	attrs := jobAttrs(j)
	if j != nil {
		attrs["winner"] = hexAddr(j.Winner)
		attrs["payout"] = cloneBigInt(j.Payout).String()
		attrs["refund"] = cloneBigInt(j.Refund).String()
		attrs["completedAt"] = strconv.FormatInt(j.CompletedAt, 10)
	}
	return &types.Event{Type: EventTypeJobCompleted, Attributes: attrs}
}

// Receipt describes the committed effect of one mutating call.
type Receipt struct {
	JobID      uint64
	Operation  string
	Events     []*types.Event
	Settlement *Settlement
	Hash       common.Hash
}

type hashedAttr struct {
	Key   string
	Value string
}

type hashedEvent struct {
	Type  string
	Attrs []hashedAttr
}

// ReceiptHash is keccak256 over the RLP encoding of the events with their
// attributes in key order.
func ReceiptHash(operation string, events []*types.Event) common.Hash {
	encoded := make([]hashedEvent, 0, len(events))
	for _, evt := range events {
		if evt == nil {
			continue
		}
		keys := make([]string, 0, len(evt.Attributes))
		for k := range evt.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs := make([]hashedAttr, 0, len(keys))
		for _, k := range keys {
			attrs = append(attrs, hashedAttr{Key: k, Value: evt.Attributes[k]})
		}
		encoded = append(encoded, hashedEvent{Type: evt.Type, Attrs: attrs})
	}
	payload, err := rlp.EncodeToBytes([]interface{}{operation, encoded})
	if err != nil {
		return common.Hash{}
	}
	return common.BytesToHash(ethcrypto.Keccak256(payload))
}

func newReceipt(jobID uint64, op string, evts ...*types.Event) *Receipt {
	return &Receipt{JobID: jobID, Operation: op, Events: evts, Hash: ReceiptHash(op, evts)}
}

// AmountAttribute parses a decimal amount attribute, returning zero when it is
// absent or malformed.
func AmountAttribute(evt *types.Event, key string) *big.Int {
	if evt == nil {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(evt.Attributes[key], 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
