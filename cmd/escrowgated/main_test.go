package main

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"jobmarket/core/state"
	"jobmarket/native/market"
	"jobmarket/rpc"
	"jobmarket/storage"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestGateReadsBoundLedger(t *testing.T) {
	ctx := context.Background()
	employer := [20]byte{0x01}
	freelancer := [20]byte{0x02}

	manager := state.NewManager(storage.NewMemDB())
	if _, err := manager.ApplyGenesis([]state.Alloc{{Address: employer, Balance: big.NewInt(100)}}); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	ledger := market.NewLedger(state.MarketStore(manager))
	if _, err := ledger.PostJob(ctx, employer, "proofread", big.NewInt(80)); err != nil {
		t.Fatalf("post job: %v", err)
	}
	if _, err := ledger.PostJob(ctx, employer, "no bids yet", big.NewInt(10)); err != nil {
		t.Fatalf("post job: %v", err)
	}
	if _, err := ledger.PlaceBid(ctx, freelancer, 1, big.NewInt(60)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := ledger.SelectWinner(ctx, employer, 1, 0); err != nil {
		t.Fatalf("select: %v", err)
	}
	ledgerSrv := httptest.NewServer(rpc.NewServer(rpc.Config{Ledger: ledger, Logger: quietLogger()}))
	t.Cleanup(ledgerSrv.Close)

	handler, err := newGateHandler(ledgerSrv.URL, time.Second, quietLogger())
	if err != nil {
		t.Fatalf("gate handler: %v", err)
	}
	gateSrv := httptest.NewServer(handler)
	t.Cleanup(gateSrv.Close)
	client := rpc.NewClient(gateSrv.URL + "/rpc")

	tests := []struct {
		name  string
		jobID uint64
		valid bool
	}{
		{"winner selected", 1, true},
		{"no winner", 2, false},
		{"unknown job", 9, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verdict, err := client.VerifyJob(ctx, tc.jobID)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if verdict.Valid != tc.valid {
				t.Fatalf("valid = %v, want %v (%s)", verdict.Valid, tc.valid, verdict.Reason)
			}
		})
	}
}

func TestGateFailsClosedWithoutLedger(t *testing.T) {
	handler, err := newGateHandler("http://127.0.0.1:1/rpc", 200*time.Millisecond, quietLogger())
	if err != nil {
		t.Fatalf("gate handler: %v", err)
	}
	gateSrv := httptest.NewServer(handler)
	t.Cleanup(gateSrv.Close)

	verdict, err := rpc.NewClient(gateSrv.URL+"/rpc").VerifyJob(context.Background(), 1)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verdict.Valid || verdict.Reason == "" {
		t.Fatalf("unreachable ledger produced %+v", verdict)
	}
}

func TestGateHandlerRequiresLedger(t *testing.T) {
	if _, err := newGateHandler("  ", time.Second, quietLogger()); err == nil {
		t.Fatalf("expected error for empty ledger endpoint")
	}
}
