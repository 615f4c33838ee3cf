package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"jobmarket/core/events"
	"jobmarket/core/state"
	"jobmarket/crypto"
	"jobmarket/gateway/auth"
	"jobmarket/gateway/middleware"
	"jobmarket/integrations/audit"
	"jobmarket/native/market"
	"jobmarket/storage"
)

type testEnv struct {
	ledger *market.Ledger
	bus    *events.Bus
	log    *audit.Log
	http   *httptest.Server
	server *Server
}

func newTestEnv(t *testing.T, funded ...*crypto.PrivateKey) *testEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	allocs := make([]state.Alloc, 0, len(funded))
	for _, key := range funded {
		allocs = append(allocs, state.Alloc{Address: key.PubKey().Address().Bytes(), Balance: big.NewInt(1_000)})
	}
	if _, err := manager.ApplyGenesis(allocs); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	ledger := market.NewLedger(state.MarketStore(manager))
	gate, err := market.NewEscrowGate(ledger)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	ledger.SetVerifier(gate)

	db, err := audit.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open audit db: %v", err)
	}
	log, err := audit.New(db, nil)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	bus := events.NewBus()
	ledger.SetEmitter(events.Multi{log, bus})

	authSvc, err := auth.NewService(auth.Config{HMACSecret: "test-secret"}, nil)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	server := NewServer(Config{Ledger: ledger, Gate: gate, Events: log, Auth: authSvc, Bus: bus})
	mux := http.NewServeMux()
	mux.Handle("/rpc", middleware.NewAuthenticator(authSvc, nil).Middleware(server))
	mux.HandleFunc("/ws/events", server.HandleEventsWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testEnv{ledger: ledger, bus: bus, log: log, http: srv, server: server}
}

func (e *testEnv) client() *Client { return NewClient(e.http.URL + "/rpc") }

func (e *testEnv) login(t *testing.T, key *crypto.PrivateKey) *Client {
	t.Helper()
	c := e.client()
	if _, err := c.Login(context.Background(), key); err != nil {
		t.Fatalf("login: %v", err)
	}
	return c
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestEndToEndAuction(t *testing.T) {
	employerKey, aliceKey, bobKey := mustKey(t), mustKey(t), mustKey(t)
	env := newTestEnv(t, employerKey)
	ctx := context.Background()
	employer := env.login(t, employerKey)
	alice := env.login(t, aliceKey)
	bob := env.login(t, bobKey)

	posted, err := employer.PostJob(ctx, "translate a manual", big.NewInt(100))
	if err != nil {
		t.Fatalf("post job: %v", err)
	}
	if posted.JobID != 1 || posted.Operation != market.OpPostJob || !strings.HasPrefix(posted.ReceiptHash, "0x") {
		t.Fatalf("unexpected receipt %+v", posted)
	}
	if _, err := alice.PlaceBid(ctx, 1, big.NewInt(80)); err != nil {
		t.Fatalf("alice bid: %v", err)
	}
	if _, err := bob.PlaceBid(ctx, 1, big.NewInt(90)); !errors.Is(err, market.ErrBidNotLower) {
		t.Fatalf("expected ErrBidNotLower over the wire, got %v", err)
	}
	if _, err := bob.PlaceBid(ctx, 1, big.NewInt(70)); err != nil {
		t.Fatalf("bob bid: %v", err)
	}
	if _, err := alice.SelectWinner(ctx, 1, 1); !errors.Is(err, market.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := employer.SelectWinner(ctx, 1, 0); !errors.Is(err, market.ErrStaleSelection) {
		t.Fatalf("expected ErrStaleSelection, got %v", err)
	}
	if _, err := employer.SelectWinner(ctx, 1, 1); err != nil {
		t.Fatalf("select winner: %v", err)
	}
	verdict, err := employer.VerifyJob(ctx, 1)
	if err != nil || !verdict.Valid {
		t.Fatalf("expected valid verdict, got %+v err %v", verdict, err)
	}
	done, err := employer.CompleteJob(ctx, 1)
	if err != nil {
		t.Fatalf("complete job: %v", err)
	}
	if done.Settlement == nil || done.Settlement.Payout != "70" || done.Settlement.Refund != "30" {
		t.Fatalf("unexpected settlement %+v", done.Settlement)
	}

	job, err := bob.Job(ctx, 1)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if job.Status != "completed" || job.Winner != crypto.FormatHex(bobKey.PubKey().Address().Bytes()) {
		t.Fatalf("unexpected job %+v", job)
	}
	balance, err := bob.Balance(ctx, bobKey.PubKey().Address().Bytes())
	if err != nil || balance.Int64() != 70 {
		t.Fatalf("bob balance %v err %v", balance, err)
	}
	balance, err = bob.Balance(ctx, employerKey.PubKey().Address().Bytes())
	if err != nil || balance.Int64() != 930 {
		t.Fatalf("employer balance %v err %v", balance, err)
	}
	vault, err := bob.VaultBalance(ctx)
	if err != nil || vault.Sign() != 0 {
		t.Fatalf("vault balance %v err %v", vault, err)
	}

	history, err := bob.ListEvents(ctx, 0, 0, 1)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var kinds []string
	for _, rec := range history {
		if rec.Type != events.TypeTransfer {
			kinds = append(kinds, rec.Type)
		}
	}
	want := []string{market.EventTypeJobPosted, market.EventTypeBidPlaced, market.EventTypeBidPlaced, market.EventTypeWinnerSelected, market.EventTypeJobCompleted}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected history %v", kinds)
	}
}

func TestMutationsRequireAuthentication(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.client().PostJob(context.Background(), "anonymous", big.NewInt(1))
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized rpc error, got %v", err)
	}
}

func TestReadMethodsArePublic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.client()
	counter, err := c.JobCounter(ctx)
	if err != nil || counter != 0 {
		t.Fatalf("counter %d err %v", counter, err)
	}
	jobs, err := c.ListJobs(ctx, 0, 10)
	if err != nil || len(jobs) != 0 {
		t.Fatalf("jobs %v err %v", jobs, err)
	}
	if _, err := c.Job(ctx, 9); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	verdict, err := c.VerifyJob(ctx, 9)
	if err != nil || verdict.Valid || verdict.Reason == "" {
		t.Fatalf("unknown job must be refused with a reason: %+v err %v", verdict, err)
	}
}

func TestLedgerErrorStatuses(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   int
	}{
		{market.ErrInvalidBudget, http.StatusBadRequest, codeMarketInvalid},
		{market.ErrInvalidCaller, http.StatusBadRequest, codeMarketInvalid},
		{fmt.Errorf("wrapped: %w", market.ErrNotFound), http.StatusNotFound, codeMarketNotFound},
		{market.ErrEmployerCannotBid, http.StatusForbidden, codeMarketForbidden},
		{market.ErrNoWinner, http.StatusConflict, codeMarketConflict},
		{market.ErrEscrowVerificationFailed, http.StatusPreconditionFailed, codeMarketEscrow},
		{errors.New("disk on fire"), http.StatusInternalServerError, codeServerError},
	}
	for _, tc := range tests {
		fail := ledgerFailure(tc.err)
		if fail.status != tc.status || fail.code != tc.code {
			t.Fatalf("%v: got status %d code %d", tc.err, fail.status, fail.code)
		}
	}
}

func postRaw(t *testing.T, url, body string) (*http.Response, RPCResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp, decoded
}

func TestMalformedRequests(t *testing.T) {
	env := newTestEnv(t)
	url := env.http.URL + "/rpc"
	tests := []struct {
		name   string
		body   string
		status int
		code   int
	}{
		{"bad json", `{`, http.StatusBadRequest, codeParseError},
		{"no method", `{"jsonrpc":"2.0","id":1}`, http.StatusBadRequest, codeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"market_nope"}`, http.StatusNotFound, codeMethodNotFound},
		{"unknown field", `{"jsonrpc":"2.0","id":1,"method":"market_jobs","params":[{"job":1}]}`, http.StatusBadRequest, codeInvalidParams},
		{"missing params", `{"jsonrpc":"2.0","id":1,"method":"market_jobs"}`, http.StatusBadRequest, codeInvalidParams},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, decoded := postRaw(t, url, tc.body)
			if resp.StatusCode != tc.status || decoded.Error == nil || decoded.Error.Code != tc.code {
				t.Fatalf("got status %d error %+v", resp.StatusCode, decoded.Error)
			}
		})
	}
}

func TestRejectedLoginLogIsRedacted(t *testing.T) {
	var buf bytes.Buffer
	authSvc, err := auth.NewService(auth.Config{HMACSecret: "test-secret"}, nil)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	server := NewServer(Config{Auth: authSvc, Logger: slog.New(slog.NewTextHandler(&buf, nil))})
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)

	sig := "0x" + strings.Repeat("ab", 65)
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"auth_login","params":[{"address":%q,"signature":%q,"challenge":"stale-nonce"}]}`,
		crypto.FormatHex(mustKey(t).PubKey().Address().Bytes()), sig)
	resp, decoded := postRaw(t, srv.URL, body)
	if resp.StatusCode != http.StatusUnauthorized || decoded.Error == nil {
		t.Fatalf("expected rejected login, got status %d error %+v", resp.StatusCode, decoded.Error)
	}
	out := buf.String()
	if !strings.Contains(out, "login rejected") {
		t.Fatalf("rejection not logged: %q", out)
	}
	if strings.Contains(out, "stale-nonce") || strings.Contains(out, strings.Repeat("ab", 65)) {
		t.Fatalf("login secrets leaked into log: %q", out)
	}
}

func TestEventStream(t *testing.T) {
	employerKey := mustKey(t)
	env := newTestEnv(t, employerKey)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/events?types=" + market.EventTypeJobPosted
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The subscription is registered after the handshake completes.
	employer := env.login(t, employerKey)
	deadline := time.Now().Add(2 * time.Second)
	for env.bus.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := employer.PostJob(ctx, "stream me", big.NewInt(5)); err != nil {
		t.Fatalf("post job: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt EventJSON
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Type != market.EventTypeJobPosted || evt.Attributes["jobId"] != "1" {
		t.Fatalf("unexpected event %+v", evt)
	}
}
