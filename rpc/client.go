package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"jobmarket/crypto"
	"jobmarket/native/market"
)

const defaultClientTimeout = 15 * time.Second

// Client calls a marketd JSON-RPC endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	token    string
	nextID   atomic.Uint64
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sets the bearer token sent with every call.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		http:     &http.Client{Timeout: defaultClientTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, typically after Login.
func (c *Client) SetToken(token string) { c.token = strings.TrimSpace(token) }

// Call invokes method with an optional single parameter object and decodes the
// result into out. Server errors are returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	req := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      c.nextID.Add(1),
		"method":  method,
	}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpc: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc: %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes*8))
	if err != nil {
		return fmt.Errorf("rpc: read response: %w", err)
	}
	var decoded RPCResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("rpc: %s: http %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("rpc: decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) receipt(ctx context.Context, method string, params interface{}) (*ReceiptJSON, error) {
	var out ReceiptJSON
	if err := c.Call(ctx, method, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PostJob(ctx context.Context, description string, value *big.Int) (*ReceiptJSON, error) {
	return c.receipt(ctx, "market_postJob", postJobParams{Description: description, Value: amountString(value)})
}

func (c *Client) PlaceBid(ctx context.Context, jobID uint64, amount *big.Int) (*ReceiptJSON, error) {
	return c.receipt(ctx, "market_placeBid", placeBidParams{JobID: jobID, BidAmount: amountString(amount)})
}

func (c *Client) SelectWinner(ctx context.Context, jobID uint64, bidIndex int) (*ReceiptJSON, error) {
	return c.receipt(ctx, "market_selectWinner", selectWinnerParams{JobID: jobID, BidIndex: bidIndex})
}

func (c *Client) CompleteJob(ctx context.Context, jobID uint64) (*ReceiptJSON, error) {
	return c.receipt(ctx, "market_completeJob", jobIDParams{JobID: jobID})
}

func (c *Client) Job(ctx context.Context, jobID uint64) (*JobJSON, error) {
	var out JobJSON
	if err := c.Call(ctx, "market_jobs", jobIDParams{JobID: jobID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetBids(ctx context.Context, jobID uint64) ([]BidJSON, error) {
	var out []BidJSON
	err := c.Call(ctx, "market_getBids", jobIDParams{JobID: jobID}, &out)
	return out, err
}

func (c *Client) JobCounter(ctx context.Context) (uint64, error) {
	var out CounterJSON
	err := c.Call(ctx, "market_jobCounter", nil, &out)
	return out.JobCounter, err
}

func (c *Client) ListJobs(ctx context.Context, offset uint64, limit int) ([]JobJSON, error) {
	var out []JobJSON
	err := c.Call(ctx, "market_listJobs", listJobsParams{Offset: offset, Limit: limit}, &out)
	return out, err
}

func (c *Client) balance(ctx context.Context, method string, params interface{}) (*big.Int, error) {
	var out BalanceJSON
	if err := c.Call(ctx, method, params, &out); err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(out.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("rpc: malformed balance %q", out.Balance)
	}
	return v, nil
}

func (c *Client) Balance(ctx context.Context, addr [20]byte) (*big.Int, error) {
	return c.balance(ctx, "market_getBalance", addressParams{Address: crypto.FormatHex(addr)})
}

func (c *Client) VaultBalance(ctx context.Context) (*big.Int, error) {
	return c.balance(ctx, "market_vaultBalance", nil)
}

func (c *Client) ListEvents(ctx context.Context, after uint64, limit int, jobID uint64) ([]AuditRecordJSON, error) {
	var out []AuditRecordJSON
	err := c.Call(ctx, "market_listEvents", listEventsParams{After: after, Limit: limit, JobID: jobID}, &out)
	return out, err
}

func (c *Client) VerifyJob(ctx context.Context, jobID uint64) (market.Verdict, error) {
	var out market.Verdict
	err := c.Call(ctx, "escrow_verifyJob", jobIDParams{JobID: jobID}, &out)
	return out, err
}

func (c *Client) Challenge(ctx context.Context, addr [20]byte) (*ChallengeJSON, error) {
	var out ChallengeJSON
	if err := c.Call(ctx, "auth_challenge", addressParams{Address: crypto.FormatHex(addr)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login runs the challenge flow with key and stores the issued token on the
// client.
func (c *Client) Login(ctx context.Context, key *crypto.PrivateKey) (*SessionJSON, error) {
	addr := key.PubKey().Address().Bytes()
	ch, err := c.Challenge(ctx, addr)
	if err != nil {
		return nil, err
	}
	sig, err := key.SignPersonal([]byte(ch.Message))
	if err != nil {
		return nil, err
	}
	var out SessionJSON
	params := loginParams{Address: crypto.FormatHex(addr), Signature: hexutil.Encode(sig), Challenge: ch.Challenge}
	if err := c.Call(ctx, "auth_login", params, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}
