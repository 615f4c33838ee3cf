package rpc

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"jobmarket/native/market"
)

func TestRemoteLedgerMatchesLocalLedger(t *testing.T) {
	employerKey, aliceKey := mustKey(t), mustKey(t)
	env := newTestEnv(t, employerKey)
	ctx := context.Background()
	employer := env.login(t, employerKey)
	alice := env.login(t, aliceKey)
	if _, err := employer.PostJob(ctx, "audit the vault", big.NewInt(50)); err != nil {
		t.Fatalf("post job: %v", err)
	}
	if _, err := alice.PlaceBid(ctx, 1, big.NewInt(40)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := employer.SelectWinner(ctx, 1, 0); err != nil {
		t.Fatalf("select winner: %v", err)
	}

	remote := NewRemoteLedger(env.client())
	got, err := remote.Job(ctx, 1)
	if err != nil {
		t.Fatalf("remote job: %v", err)
	}
	want, err := env.ledger.Job(ctx, 1)
	if err != nil {
		t.Fatalf("local job: %v", err)
	}
	if !sameJob(got, want) {
		t.Fatalf("remote snapshot differs:\n got %+v\nwant %+v", got, want)
	}

	gate, err := market.NewEscrowGate(remote)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if verdict := gate.Inspect(ctx, 1); !verdict.Valid {
		t.Fatalf("remote-bound gate refused job: %s", verdict.Reason)
	}
	if verdict := gate.Inspect(ctx, 2); verdict.Valid {
		t.Fatalf("remote-bound gate accepted unknown job")
	}
}

func TestRemoteGateFailsClosed(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()
	gate := NewRemoteGate(NewClient(slow.URL), 50*time.Millisecond, nil)
	if gate.VerifyJob(context.Background(), 1) {
		t.Fatalf("timed out gate must refuse")
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer broken.Close()
	if NewRemoteGate(NewClient(broken.URL), time.Second, nil).VerifyJob(context.Background(), 1) {
		t.Fatalf("gate behind a failing proxy must refuse")
	}

	var nilGate *RemoteGate
	if nilGate.VerifyJob(context.Background(), 1) {
		t.Fatalf("nil gate must refuse")
	}
}

func TestLedgerCompletesThroughRemoteGate(t *testing.T) {
	employerKey, aliceKey := mustKey(t), mustKey(t)
	env := newTestEnv(t, employerKey)
	ctx := context.Background()
	env.ledger.SetVerifier(NewRemoteGate(env.client(), time.Second, nil))

	employer := env.login(t, employerKey)
	alice := env.login(t, aliceKey)
	if _, err := employer.PostJob(ctx, "remote settled", big.NewInt(10)); err != nil {
		t.Fatalf("post job: %v", err)
	}
	if _, err := alice.PlaceBid(ctx, 1, big.NewInt(9)); err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, err := employer.SelectWinner(ctx, 1, 0); err != nil {
		t.Fatalf("select: %v", err)
	}
	receipt, err := employer.CompleteJob(ctx, 1)
	if err != nil {
		t.Fatalf("complete through remote gate: %v", err)
	}
	if receipt.Settlement == nil || receipt.Settlement.Payout != "9" {
		t.Fatalf("unexpected settlement %+v", receipt.Settlement)
	}
}

func sameJob(a, b *market.Job) bool {
	if a.ID != b.ID || a.Employer != b.Employer || a.Description != b.Description ||
		a.Winner != b.Winner || a.WinnerBid != b.WinnerBid || a.IsCompleted != b.IsCompleted ||
		a.CreatedAt != b.CreatedAt || a.CompletedAt != b.CompletedAt || len(a.Bids) != len(b.Bids) {
		return false
	}
	for _, pair := range [][2]*big.Int{{a.Budget, b.Budget}, {a.Escrowed, b.Escrowed}, {a.Payout, b.Payout}, {a.Refund, b.Refund}} {
		if pair[0].Cmp(pair[1]) != 0 {
			return false
		}
	}
	for i := range a.Bids {
		if a.Bids[i].Freelancer != b.Bids[i].Freelancer || a.Bids[i].Amount.Cmp(b.Bids[i].Amount) != 0 || a.Bids[i].PlacedAt != b.Bids[i].PlacedAt {
			return false
		}
	}
	return true
}
