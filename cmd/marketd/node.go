package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jobmarket/config"
	"jobmarket/core/events"
	"jobmarket/core/state"
	"jobmarket/gateway/auth"
	"jobmarket/gateway/middleware"
	"jobmarket/gateway/routes"
	"jobmarket/integrations/audit"
	"jobmarket/integrations/webhooks"
	"jobmarket/native/market"
	"jobmarket/observability/metrics"
	"jobmarket/rpc"
	"jobmarket/storage"
)

// node owns every long-lived component behind the HTTP handler.
type node struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      storage.Database
	ledger  *market.Ledger
	limiter *middleware.RateLimiter
	hooks   []*webhooks.Dispatcher
	handler http.Handler
}

// ensureDSNDir creates the parent directory of a plain sqlite file path.
func ensureDSNDir(dsn string) error {
	dsn = strings.TrimSpace(dsn)
	if strings.Contains(dsn, "://") || strings.HasPrefix(dsn, "file:") || dsn == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func seconds(v int64) time.Duration { return time.Duration(v) * time.Second }

func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	db, err := storage.Open(cfg.Storage.Backend, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	n := &node{cfg: cfg, logger: logger, db: db}
	if err := n.build(ctx); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

func (n *node) build(ctx context.Context) error {
	cfg, logger := n.cfg, n.logger

	manager := state.NewManager(n.db)
	balances, err := cfg.GenesisBalances()
	if err != nil {
		return err
	}
	allocs := make([]state.Alloc, 0, len(balances))
	for addr, balance := range balances {
		allocs = append(allocs, state.Alloc{Address: addr, Balance: balance})
	}
	applied, err := manager.ApplyGenesis(allocs)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		logger.Info("genesis applied", slog.Int("accounts", len(allocs)))
	}

	n.ledger = market.NewLedger(state.MarketStore(manager))
	n.ledger.SetLogger(logger)

	var gate rpc.Gate
	switch strings.ToLower(strings.TrimSpace(cfg.Gate.Mode)) {
	case config.GateModeRemote:
		timeout := time.Duration(cfg.Gate.TimeoutMs) * time.Millisecond
		n.ledger.SetVerifier(rpc.NewRemoteGate(rpc.NewClient(cfg.Gate.Endpoint), timeout, logger))
		logger.Info("escrow gate is remote", slog.String("endpoint", cfg.Gate.Endpoint))
	default:
		local, err := market.NewEscrowGate(n.ledger)
		if err != nil {
			return err
		}
		n.ledger.SetVerifier(local)
		gate = local
	}

	bus := events.NewBus()
	emitters := events.Multi{bus, metrics.Market()}
	var eventLog rpc.EventLog
	if cfg.Audit.Enabled {
		if err := ensureDSNDir(cfg.Audit.DSN); err != nil {
			return err
		}
		db, err := audit.Open(cfg.Audit.DSN)
		if err != nil {
			return err
		}
		log, err := audit.New(db, logger)
		if err != nil {
			return err
		}
		if err := log.Verify(ctx); err != nil {
			return fmt.Errorf("audit chain: %w", err)
		}
		emitters = append(emitters, log)
		eventLog = log
	}
	for _, hook := range cfg.Webhooks {
		dispatcher, err := webhooks.NewDispatcher(hook.URL, []byte(hook.Secret),
			webhooks.WithEventTypes(hook.EventTypes...),
			webhooks.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		n.hooks = append(n.hooks, dispatcher)
		emitters = append(emitters, dispatcher)
	}
	n.ledger.SetEmitter(emitters)

	vault, err := n.ledger.VaultBalance(ctx)
	if err != nil {
		return err
	}
	metrics.Market().SetCustody(vault)

	authSvc, err := auth.NewService(auth.Config{
		HMACSecret:   cfg.Auth.HMACSecret,
		Issuer:       cfg.Auth.Issuer,
		Audience:     cfg.Auth.Audience,
		TokenTTL:     seconds(cfg.Auth.TokenTTLSeconds),
		ClockSkew:    seconds(cfg.Auth.ClockSkewSeconds),
		ChallengeTTL: seconds(cfg.Auth.ChallengeTTLSeconds),
	}, nil)
	if err != nil {
		return err
	}

	serverCfg := rpc.Config{Ledger: n.ledger, Auth: authSvc, Bus: bus, Logger: logger}
	if gate != nil {
		serverCfg.Gate = gate
	}
	if eventLog != nil {
		serverCfg.Events = eventLog
	}
	server := rpc.NewServer(serverCfg)

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for key, limit := range cfg.RateLimits {
		limits[key] = middleware.RateLimit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
	}
	n.limiter = middleware.NewRateLimiter(limits, logger)

	n.handler = routes.New(routes.Config{
		RPC:           server,
		Events:        server.HandleEventsWS,
		Authenticator: middleware.NewAuthenticator(authSvc, logger),
		RateLimiter:   n.limiter,
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "marketd",
			LogRequests: cfg.Telemetry.LogRequests,
			Enabled:     cfg.Telemetry.RequestMetrics,
		}, logger),
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowCredentials: cfg.CORS.AllowCredentials,
		},
	})
	return nil
}

// Close releases webhook workers and the ledger database.
func (n *node) Close() {
	for _, hook := range n.hooks {
		hook.Close()
	}
	if n.db != nil {
		n.db.Close()
	}
}

// serve runs the HTTP server until ctx is cancelled, then drains it.
func (n *node) serve(ctx context.Context) error {
	go n.limiter.Run(ctx)

	server := &http.Server{
		Addr:              n.cfg.ListenAddress,
		Handler:           n.handler,
		ReadHeaderTimeout: seconds(n.cfg.ReadHeaderTimeoutSeconds),
	}
	errCh := make(chan error, 1)
	go func() {
		n.logger.Info("listening", slog.String("addr", n.cfg.ListenAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	timeout := seconds(n.cfg.ShutdownTimeoutSeconds)
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
