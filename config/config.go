package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	GateModeLocal  = "local"
	GateModeRemote = "remote"
)

type Config struct {
	ListenAddress            string `toml:"ListenAddress"`
	DataDir                  string `toml:"DataDir"`
	ReadHeaderTimeoutSeconds int64  `toml:"ReadHeaderTimeoutSeconds"`
	ShutdownTimeoutSeconds   int64  `toml:"ShutdownTimeoutSeconds"`

	Storage    Storage              `toml:"storage"`
	Auth       Auth                 `toml:"auth"`
	RateLimits map[string]RateLimit `toml:"rate_limits"`
	CORS       CORS                 `toml:"cors"`
	Logging    Logging              `toml:"logging"`
	Telemetry  Telemetry            `toml:"telemetry"`
	Audit      Audit                `toml:"audit"`
	Gate       Gate                 `toml:"escrow_gate"`
	Webhooks   []Webhook            `toml:"webhooks"`
	Genesis    []GenesisAlloc       `toml:"genesis"`
}

// Default returns the configuration written on first run. The HMAC secret is
// left empty; createDefault fills it with random bytes.
func Default() *Config {
	return &Config{
		ListenAddress:            ":8545",
		DataDir:                  "./market-data",
		ReadHeaderTimeoutSeconds: 10,
		ShutdownTimeoutSeconds:   15,
		Storage:                  Storage{Backend: "leveldb"},
		Auth: Auth{
			Issuer:              "marketd",
			Audience:            "market",
			TokenTTLSeconds:     3600,
			ClockSkewSeconds:    120,
			ChallengeTTLSeconds: 300,
		},
		RateLimits: map[string]RateLimit{
			"rpc":    {RequestsPerMinute: 600, Burst: 60},
			"events": {RequestsPerMinute: 30, Burst: 5},
		},
		CORS:    CORS{AllowedOrigins: []string{"*"}},
		Logging: Logging{Level: "info", Env: "local", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Telemetry: Telemetry{
			SampleRatio:    1,
			RequestMetrics: true,
		},
		Audit:    Audit{Enabled: true},
		Gate:     Gate{Mode: GateModeLocal, TimeoutMs: 3000},
		Webhooks: []Webhook{},
		Genesis:  []GenesisAlloc{},
	}
}

// Load loads the configuration from the given path, writing the defaults
// when the file does not exist yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	// Maps are merged by the decoder; start empty so removed limits stay removed.
	cfg.RateLimits = nil
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if cfg.RateLimits == nil {
		cfg.RateLimits = map[string]RateLimit{}
	}
	if strings.TrimSpace(cfg.Audit.DSN) == "" && cfg.Audit.Enabled {
		cfg.Audit.DSN = filepath.Join(cfg.DataDir, "audit.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("config: generate auth secret: %w", err)
	}
	cfg := Default()
	cfg.Auth.HMACSecret = hex.EncodeToString(secret)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.Audit.DSN = filepath.Join(cfg.DataDir, "audit.db")
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
