// Package config loads service configuration: built-in defaults, overridden
// by an optional YAML file, overridden again by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr string `yaml:"addr"`

	SellerBaseURL string `yaml:"seller_base_url"`
	ShopRegion    string `yaml:"shop_region"`
	// Account keys the saved browser session in Redis.
	Account string `yaml:"account"`

	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`

	RedisURL    string `yaml:"redis_url"`
	NatsURL     string `yaml:"nats_url"`
	NatsSubject string `yaml:"nats_subject"`

	Headless    bool   `yaml:"headless"`
	BrowserPath string `yaml:"browser_path"`

	NavTimeoutMS   int `yaml:"nav_timeout_ms"`
	SettleMS       int `yaml:"settle_ms"`
	RevealSettleMS int `yaml:"reveal_settle_ms"`
	ClickDelayMS   int `yaml:"click_delay_ms"`
	PacingMinMS    int `yaml:"pacing_min_ms"`
	PacingMaxMS    int `yaml:"pacing_max_ms"`
}

// Load reads configuration from path (missing file is fine) and applies env
// overrides.
func Load(path string) (*Config, error) {
	config := &Config{
		Addr:           ":8086",
		SellerBaseURL:  "https://seller-my.tiktok.com",
		ShopRegion:     "MY",
		Account:        "default",
		NatsSubject:    "unmasker.events",
		Headless:       true,
		NavTimeoutMS:   10000,
		SettleMS:       2000,
		RevealSettleMS: 2000,
		ClickDelayMS:   300,
		PacingMinMS:    2000,
		PacingMaxMS:    5000,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	if addr := os.Getenv("UNMASK_ADDR"); addr != "" {
		config.Addr = addr
	}
	if base := os.Getenv("SELLER_BASE_URL"); base != "" {
		config.SellerBaseURL = base
	}
	if region := os.Getenv("SHOP_REGION"); region != "" {
		config.ShopRegion = region
	}
	if account := os.Getenv("UNMASK_ACCOUNT"); account != "" {
		config.Account = account
	}
	if supabaseURL := os.Getenv("SUPABASE_URL"); supabaseURL != "" {
		config.SupabaseURL = supabaseURL
	}
	if supabaseKey := os.Getenv("SUPABASE_KEY"); supabaseKey != "" {
		config.SupabaseKey = supabaseKey
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NatsURL = natsURL
	}
	if subject := os.Getenv("NATS_SUBJECT"); subject != "" {
		config.NatsSubject = subject
	}
	if headless := os.Getenv("UNMASK_HEADLESS"); strings.TrimSpace(headless) != "" {
		config.Headless = strings.ToLower(headless) == "true"
	}
	if browserPath := os.Getenv("PLAYWRIGHT_EXECUTABLE_PATH"); browserPath != "" {
		config.BrowserPath = browserPath
	}
	if ms := os.Getenv("UNMASK_NAV_TIMEOUT_MS"); ms != "" {
		if parsed, err := strconv.Atoi(ms); err == nil && parsed > 0 {
			config.NavTimeoutMS = parsed
		}
	}
	if ms := os.Getenv("UNMASK_PACING_MIN_MS"); ms != "" {
		if parsed, err := strconv.Atoi(ms); err == nil && parsed > 0 {
			config.PacingMinMS = parsed
		}
	}
	if ms := os.Getenv("UNMASK_PACING_MAX_MS"); ms != "" {
		if parsed, err := strconv.Atoi(ms); err == nil && parsed > 0 {
			config.PacingMaxMS = parsed
		}
	}

	return config, nil
}

func (c *Config) NavTimeout() time.Duration   { return time.Duration(c.NavTimeoutMS) * time.Millisecond }
func (c *Config) Settle() time.Duration       { return time.Duration(c.SettleMS) * time.Millisecond }
func (c *Config) RevealSettle() time.Duration { return time.Duration(c.RevealSettleMS) * time.Millisecond }
func (c *Config) ClickDelay() time.Duration   { return time.Duration(c.ClickDelayMS) * time.Millisecond }
func (c *Config) PacingMin() time.Duration    { return time.Duration(c.PacingMinMS) * time.Millisecond }
func (c *Config) PacingMax() time.Duration    { return time.Duration(c.PacingMaxMS) * time.Millisecond }
