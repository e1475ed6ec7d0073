package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"newsward/internal/news"
)

// Load reads and validates the config file. YAML configs are coerced to
// JSON so a single strict decoder (DisallowUnknownFields) covers both
// formats.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	jsonBytes, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that the decoder cannot.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path is required")
	}
	if len(c.Sources) == 0 {
		return errors.New("at least one source is required")
	}
	seen := map[string]struct{}{}
	for i, s := range c.Sources {
		if strings.TrimSpace(s.URL) == "" {
			return fmt.Errorf("sources[%d]: url is required", i)
		}
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if _, dup := seen[s.URL]; dup {
			return fmt.Errorf("sources[%d]: duplicate url %s", i, s.URL)
		}
		seen[s.URL] = struct{}{}
		if _, err := news.ParseCategory(s.Category); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		switch news.SourceType(s.Type) {
		case news.SourceFeed, news.SourceScrape:
		default:
			return fmt.Errorf("sources[%d]: type must be feed or scrape, got %q", i, s.Type)
		}
		switch s.Tier {
		case "", "noisy":
		default:
			return fmt.Errorf("sources[%d]: tier must be empty or noisy, got %q", i, s.Tier)
		}
	}
	if c.Enrich.Enabled {
		if strings.TrimSpace(c.Enrich.BaseURL) == "" {
			return errors.New("enrich.base_url is required when enrich.enabled")
		}
		if strings.TrimSpace(c.Enrich.Model) == "" {
			return errors.New("enrich.model is required when enrich.enabled")
		}
		if c.Enrich.DailyReserveUSD > c.Enrich.DailyBudgetUSD {
			return errors.New("enrich.daily_reserve_usd exceeds enrich.daily_budget_usd")
		}
	}
	// Duration fields fail fast here rather than at first use.
	durations := []struct{ path, raw string }{
		{"database.busy_timeout", c.Database.BusyTimeout},
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"collector.fetch_timeout", c.Collector.FetchTimeout},
		{"collector.error_window", c.Collector.ErrorWindow},
		{"collector.streak_cooldown", c.Collector.StreakCooldown},
		{"collector.instance_lease_ttl", c.Collector.InstanceLeaseTTL},
		{"quality.dedup_window", c.Quality.DedupWindow},
		{"quality.title_window", c.Quality.TitleWindow},
		{"quality.max_item_age", c.Quality.MaxItemAge},
		{"enrich.call_timeout", c.Enrich.CallTimeout},
		{"enrich.cache_ttl", c.Enrich.CacheTTL},
		{"deliver.send_timeout", c.Deliver.SendTimeout},
		{"deliver.replay_max_age", c.Deliver.ReplayMaxAge},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	return nil
}

// coerceToJSONBytes converts YAML config to JSON bytes so the strict
// JSON decoder can be reused for both formats.
//
// Returns (jsonBytes, format, err) where format is "json" or "yaml".
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, "json", nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}

	v = normalizeYAML(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// normalizeYAML ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
