package config

import (
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"jobmarket/crypto"
	"jobmarket/native/market"
	"jobmarket/observability/logging"
	"jobmarket/storage"
)

// MaxGateTimeoutMs bounds the remote gate call. CompleteJob holds the ledger
// write lock while it waits, so every writer stalls for up to this long when
// the gate is unreachable.
const MaxGateTimeoutMs = 5000

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case storage.BackendMemory:
	case storage.BackendLevelDB, storage.BackendBolt, "":
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("config: DataDir required for %s storage", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("config: storage: unsupported backend %q", c.Storage.Backend)
	}
	if strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("config: auth: HMACSecret required")
	}
	if len(strings.TrimSpace(c.Auth.HMACSecret)) < 16 {
		return fmt.Errorf("config: auth: HMACSecret must be at least 16 characters")
	}
	if c.Auth.TokenTTLSeconds < 0 || c.Auth.ClockSkewSeconds < 0 || c.Auth.ChallengeTTLSeconds < 0 {
		return fmt.Errorf("config: auth: durations must not be negative")
	}
	for name, limit := range c.RateLimits {
		if limit.RequestsPerMinute <= 0 || limit.Burst <= 0 {
			return fmt.Errorf("config: rate_limits.%s: RequestsPerMinute and Burst must be positive", name)
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config: logging: %w", err)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry: SampleRatio must be within [0, 1]")
	}
	if (c.Telemetry.Traces || c.Telemetry.Metrics) && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("config: telemetry: Endpoint required when exporting")
	}
	switch strings.ToLower(strings.TrimSpace(c.Gate.Mode)) {
	case GateModeLocal, "":
	case GateModeRemote:
		if err := validateURL(c.Gate.Endpoint); err != nil {
			return fmt.Errorf("config: escrow_gate: %w", err)
		}
	default:
		return fmt.Errorf("config: escrow_gate: unsupported mode %q", c.Gate.Mode)
	}
	if c.Gate.TimeoutMs < 0 || c.Gate.TimeoutMs > MaxGateTimeoutMs {
		return fmt.Errorf("config: escrow_gate: TimeoutMs must be within [0, %d]", MaxGateTimeoutMs)
	}
	for i, hook := range c.Webhooks {
		if err := validateURL(hook.URL); err != nil {
			return fmt.Errorf("config: webhooks[%d]: %w", i, err)
		}
		if strings.TrimSpace(hook.Secret) == "" {
			return fmt.Errorf("config: webhooks[%d]: Secret required", i)
		}
	}
	if _, err := c.GenesisBalances(); err != nil {
		return err
	}
	return nil
}

// GenesisBalances parses the genesis allocations. Repeated addresses are
// rejected.
func (c *Config) GenesisBalances() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(c.Genesis))
	for i, alloc := range c.Genesis {
		addr, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("config: genesis[%d]: %w", i, err)
		}
		if _, dup := out[addr]; dup {
			return nil, fmt.Errorf("config: genesis[%d]: duplicate address %s", i, alloc.Address)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Balance), 10)
		if !ok || balance.Sign() < 0 {
			return nil, fmt.Errorf("config: genesis[%d]: invalid balance %q", i, alloc.Balance)
		}
		if err := market.CheckAmount(balance); err != nil {
			return nil, fmt.Errorf("config: genesis[%d]: %w", i, err)
		}
		out[addr] = balance
	}
	return out, nil
}

func validateURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("endpoint required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q has no host", raw)
	}
	return nil
}
