package rpc

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"jobmarket/native/market"
)

const defaultGateTimeout = 3 * time.Second

// RemoteLedger reads a ledger over JSON-RPC. It satisfies market.JobReader so
// a standalone gate can bind to a ledger running in another process.
type RemoteLedger struct {
	client *Client
}

func NewRemoteLedger(client *Client) *RemoteLedger {
	return &RemoteLedger{client: client}
}

func (l *RemoteLedger) Job(ctx context.Context, jobID uint64) (*market.Job, error) {
	raw, err := l.client.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return raw.Job()
}

func (l *RemoteLedger) VaultBalance(ctx context.Context) (*big.Int, error) {
	return l.client.VaultBalance(ctx)
}

// RemoteGate asks an escrow gate service for a verdict. It satisfies
// market.Verifier and answers false on any transport failure or timeout.
type RemoteGate struct {
	client  *Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewRemoteGate(client *Client, timeout time.Duration, logger *slog.Logger) *RemoteGate {
	if timeout <= 0 {
		timeout = defaultGateTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteGate{client: client, timeout: timeout, logger: logger}
}

func (g *RemoteGate) VerifyJob(ctx context.Context, jobID uint64) bool {
	if g == nil || g.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	verdict, err := g.client.VerifyJob(ctx, jobID)
	if err != nil {
		g.logger.Warn("escrow gate unreachable", slog.Uint64("job_id", jobID), slog.Any("error", err))
		return false
	}
	if !verdict.Valid {
		g.logger.Info("escrow gate refused job", slog.Uint64("job_id", jobID), slog.String("reason", verdict.Reason))
		return false
	}
	return verdict.JobID == jobID
}
