package config

// Config is the full runtime configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Unknown fields are rejected so typos fail at startup rather than
// silently falling back to defaults.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Database DatabaseConfig `json:"database"`
	Telegram TelegramConfig `json:"telegram"`

	Collector CollectorConfig `json:"collector"`
	Quality   QualityConfig   `json:"quality,omitempty"`
	Enrich    EnrichConfig    `json:"enrich,omitempty"`
	Deliver   DeliverConfig   `json:"deliver"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`

	Sources []SourceConfig `json:"sources"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

type DatabaseConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout bounds the long-poll request issued by the bot API
	// client; it is unrelated to fetch timeouts.
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Admins may run collection-control commands.
	Admins []int64 `json:"admins,omitempty"`
}

// CollectorConfig controls the fetch cycle.
//
// Defaults (when fields are omitted/zero):
//   - workers: 6
//   - fetch_timeout: "25s"
//   - schedule: "10m"
//   - error_window: "10m"
//   - error_limit: 5
//   - streak_cooldown: "10m"
type CollectorConfig struct {
	Workers      int    `json:"workers,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`

	// Schedule accepts a cron spec ("*/10 * * * *") or a plain Go
	// duration ("10m").
	Schedule string `json:"schedule,omitempty"`

	ErrorWindow    string `json:"error_window,omitempty"`
	ErrorLimit     int    `json:"error_limit,omitempty"`
	StreakCooldown string `json:"streak_cooldown,omitempty"`

	// InstanceLeaseTTL bounds how long a crashed collector can keep
	// other instances locked out.
	InstanceLeaseTTL string `json:"instance_lease_ttl,omitempty"`
}

// QualityConfig tunes scoring and dedup.
type QualityConfig struct {
	// MinScore is the default acceptance threshold; per-tier overrides
	// apply on top (tier "noisy" is stricter).
	MinScore      float64 `json:"min_score,omitempty"`
	MinScoreNoisy float64 `json:"min_score_noisy,omitempty"`

	MinTextLen     int `json:"min_text_len,omitempty"`
	MinTextLenFeed int `json:"min_text_len_feed,omitempty"`

	DedupWindow     string  `json:"dedup_window,omitempty"`     // default 48h
	TitleWindow     string  `json:"title_window,omitempty"`     // default 24h
	SimhashDistance int     `json:"simhash_distance,omitempty"` // default 20
	TitleJaccard    float64 `json:"title_jaccard,omitempty"`    // default 0.85

	MaxItemAge string `json:"max_item_age,omitempty"` // default 24h
}

// EnrichConfig controls the LLM gateway.
type EnrichConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	Model   string `json:"model,omitempty"`

	CallTimeout string `json:"call_timeout,omitempty"` // default 15s
	RetryMax    int    `json:"retry_max,omitempty"`    // default 2

	// Pricing per 1M tokens, used for the budget ledger.
	InputRateUSD  float64 `json:"input_rate_usd,omitempty"`
	OutputRateUSD float64 `json:"output_rate_usd,omitempty"`

	DailyBudgetUSD   float64 `json:"daily_budget_usd,omitempty"`
	DailyReserveUSD  float64 `json:"daily_reserve_usd,omitempty"`
	DailyTokenBudget int64   `json:"daily_token_budget,omitempty"`

	CacheTTL         string `json:"cache_ttl,omitempty"` // default 72h
	MaxCallsPerCycle int    `json:"max_calls_per_cycle,omitempty"`

	// CleanupMinLen: scrape-sourced text at least this long is sent
	// for AI cleanup. Feed-native text is never sent for cleanup.
	CleanupMinLen int `json:"cleanup_min_len,omitempty"`
}

// DeliverConfig controls subscriber fan-out.
type DeliverConfig struct {
	Workers      int    `json:"workers,omitempty"`        // default 4
	RatePerSec   int    `json:"rate_per_sec,omitempty"`   // default 10
	SendTimeout  string `json:"send_timeout,omitempty"`   // default 10s
	ReplayMaxAge string `json:"replay_max_age,omitempty"` // default 24h
}

// PprofConfig controls the optional profiling HTTP server.
// Non-loopback binds require a token unless allow_insecure is set.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// SourceConfig describes one fetch endpoint.
type SourceConfig struct {
	URL      string   `json:"url"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Type     string   `json:"type"`           // "feed" or "scrape"
	Tier     string   `json:"tier,omitempty"` // "" or "noisy"
	Mirrors  []string `json:"mirrors,omitempty"`
	// Flaky marks proxied endpoints that intermittently return 503;
	// a mirror is tried before the source is cooled down.
	Flaky bool `json:"flaky,omitempty"`
}
