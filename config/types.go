package config

// Storage selects the ledger key/value backend.
type Storage struct {
	Backend string `toml:"Backend"`
}

// Auth configures wallet login and session tokens.
type Auth struct {
	HMACSecret          string `toml:"HMACSecret"`
	Issuer              string `toml:"Issuer"`
	Audience            string `toml:"Audience"`
	TokenTTLSeconds     int64  `toml:"TokenTTLSeconds"`
	ClockSkewSeconds    int64  `toml:"ClockSkewSeconds"`
	ChallengeTTLSeconds int64  `toml:"ChallengeTTLSeconds"`
}

type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

type CORS struct {
	AllowedOrigins   []string `toml:"AllowedOrigins"`
	AllowCredentials bool     `toml:"AllowCredentials"`
}

type Logging struct {
	Level      string `toml:"Level"`
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

type Telemetry struct {
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Traces      bool              `toml:"Traces"`
	Metrics     bool              `toml:"Metrics"`
	SampleRatio float64           `toml:"SampleRatio"`
	Headers     map[string]string `toml:"Headers"`
	// RequestMetrics toggles the gateway request counters and spans.
	RequestMetrics bool `toml:"RequestMetrics"`
	LogRequests    bool `toml:"LogRequests"`
}

type Audit struct {
	Enabled bool   `toml:"Enabled"`
	DSN     string `toml:"DSN"`
}

// Gate decides how CompleteJob confirms escrow. In local mode the gate reads
// the in-process ledger; in remote mode it calls an escrowgated endpoint.
type Gate struct {
	Mode      string `toml:"Mode"`
	Endpoint  string `toml:"Endpoint"`
	TimeoutMs int64  `toml:"TimeoutMs"`
}

type Webhook struct {
	URL        string   `toml:"URL"`
	Secret     string   `toml:"Secret"`
	EventTypes []string `toml:"EventTypes"`
}

// GenesisAlloc credits an account once, when the ledger is first created.
// Balance is a decimal amount in the smallest unit.
type GenesisAlloc struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}
