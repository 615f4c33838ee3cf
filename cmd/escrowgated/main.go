package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"jobmarket/gateway/middleware"
	"jobmarket/gateway/routes"
	"jobmarket/native/market"
	"jobmarket/observability/logging"
	"jobmarket/rpc"
)

func main() {
	listen := flag.String("listen", ":8646", "Address the gate serves escrow_verifyJob on")
	ledgerURL := flag.String("ledger", "http://127.0.0.1:8545/rpc", "JSON-RPC endpoint of the ledger this gate is bound to")
	timeout := flag.Duration("ledger-timeout", 3*time.Second, "Timeout for each ledger read")
	flag.Parse()

	logger := logging.Setup("escrowgated", strings.TrimSpace(os.Getenv("MARKET_ENV")))

	handler, err := newGateHandler(*ledgerURL, *timeout, logger)
	if err != nil {
		logger.Error("Failed to bind escrow gate", slog.Any("error", err))
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              *listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", slog.String("addr", *listen), slog.String("ledger", *ledgerURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen and serve", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
}

// newGateHandler binds a gate to the ledger at ledgerURL and exposes it over
// JSON-RPC. Only escrow_verifyJob is backed; ledger methods answer unavailable.
func newGateHandler(ledgerURL string, timeout time.Duration, logger *slog.Logger) (http.Handler, error) {
	if strings.TrimSpace(ledgerURL) == "" {
		return nil, errors.New("ledger endpoint required")
	}
	client := rpc.NewClient(ledgerURL, rpc.WithHTTPClient(&http.Client{Timeout: timeout}))
	gate, err := market.NewEscrowGate(rpc.NewRemoteLedger(client))
	if err != nil {
		return nil, err
	}
	server := rpc.NewServer(rpc.Config{Gate: gate, Logger: logger})
	return routes.New(routes.Config{
		RPC: server,
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "escrowgated",
			Enabled:     true,
		}, logger),
	}), nil
}
