package market

import (
	"math/big"
	"testing"

	"jobmarket/core/types"
)

func TestEventPayloads(t *testing.T) {
	job := eligibleJob()
	job.CreatedAt = 42

	posted := NewJobPostedEvent(job)
	if posted.Type != EventTypeJobPosted || posted.Attributes["jobId"] != "1" || posted.Attributes["budget"] != "100" {
		t.Fatalf("unexpected posted event %+v", posted)
	}
	bid := NewBidPlacedEvent(job, 1)
	if bid.Attributes["bidIndex"] != "1" || bid.Attributes["amount"] != "50" || bid.Attributes["freelancer"] != hexAddr(bob) {
		t.Fatalf("unexpected bid event %+v", bid)
	}
	selected := NewWinnerSelectedEvent(job)
	if selected.Attributes["winner"] != hexAddr(bob) || selected.Attributes["amount"] != "50" {
		t.Fatalf("unexpected selection event %+v", selected)
	}
	job.Payout = big.NewInt(50)
	job.Refund = big.NewInt(50)
	done := NewJobCompletedEvent(job)
	if AmountAttribute(done, "payout").Int64() != 50 || AmountAttribute(done, "missing").Sign() != 0 {
		t.Fatalf("unexpected completion event %+v", done)
	}
	if empty := NewJobPostedEvent(nil); len(empty.Attributes) != 0 {
		t.Fatalf("nil job must yield empty attributes")
	}
}

func TestReceiptHashIsOrderIndependentOverAttributes(t *testing.T) {
	a := &types.Event{Type: "x", Attributes: map[string]string{"a": "1", "b": "2"}}
	b := &types.Event{Type: "x", Attributes: map[string]string{"b": "2", "a": "1"}}
	if ReceiptHash(OpPlaceBid, []*types.Event{a}) != ReceiptHash(OpPlaceBid, []*types.Event{b}) {
		t.Fatalf("hash depends on map iteration")
	}
	if ReceiptHash(OpPlaceBid, []*types.Event{a}) == ReceiptHash(OpPostJob, []*types.Event{a}) {
		t.Fatalf("operation must be part of the hash")
	}
}
