// Package config loads operational settings from the environment and
// business settings (origin address, preferred sellers, search-term
// overrides) from an optional TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/boothforge/freightquote/internal/engine"
)

// Config holds all configuration for the quote engine and its CLI.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Freightos session
	Email      string `envconfig:"FREIGHTOS_EMAIL"`
	Password   string `envconfig:"FREIGHTOS_PASSWORD"`
	CookieFile string `envconfig:"FREIGHTOS_COOKIE_FILE"`
	BaseURL    string `envconfig:"FREIGHTOS_URL" default:"https://ship.freightos.com/"`
	Headless   bool   `envconfig:"FREIGHTOS_HEADLESS" default:"true"`

	// Browser
	Browser     string `envconfig:"BROWSER" default:"chromium"`
	Channel     string `envconfig:"BROWSER_CHANNEL"`
	TypeDelayMs int    `envconfig:"TYPE_DELAY_MS" default:"150"`

	// Run artifacts
	RunDir string `envconfig:"RUN_DIR"`
	RunTTL string `envconfig:"RUN_TTL" default:"336h"`

	// Facade
	LiveQuoteTimeout string `envconfig:"LIVE_QUOTE_TIMEOUT" default:"5m"`

	// Telemetry
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"freightquote"`

	// BusinessFile points at the TOML business settings; empty means
	// the built-in defaults.
	BusinessFile string `envconfig:"BUSINESS_FILE"`

	Business Business
}

// Business is the per-deployment freight policy: who we ship from and
// which marketplace sellers we trust.
type Business struct {
	Source              engine.Address    `toml:"source"`
	Sellers             []string          `toml:"sellers"`
	SearchTermOverrides map[string]string `toml:"search_term_overrides"`
	GoodsValueUSD       float64           `toml:"goods_value_usd"`
}

// Load reads environment configuration, then layers the TOML business
// file (if present) over the built-in business defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.RunDir == "" {
		cfg.RunDir = defaultRunDir()
	}
	cfg.Business = defaultBusiness()
	if err := loadBusinessFile(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RunTTLDuration parses the run-artifact retention period.
func (c *Config) RunTTLDuration() time.Duration {
	if d, err := time.ParseDuration(c.RunTTL); err == nil {
		return d
	}
	return 14 * 24 * time.Hour
}

// LiveTimeoutDuration parses the whole-run ceiling for a live quote.
func (c *Config) LiveTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(c.LiveQuoteTimeout); err == nil {
		return d
	}
	return 5 * time.Minute
}

func defaultBusiness() Business {
	return Business{
		Source: engine.Address{
			City:        "Guangzhou",
			State:       "Guangdong",
			CountryCode: "CN",
			PostalCode:  "511447",
		},
		Sellers: []string{
			"Seabay International Freight Forwarding Ltd",
			"UniPower Logistics Co., Ltd.",
		},
		SearchTermOverrides: map[string]string{
			"GUANGZHOU": "SHILOU TOWN",
			"NEW YORK":  "New York",
		},
		GoodsValueUSD: 8000,
	}
}

func loadBusinessFile(cfg *Config) error {
	paths := []string{
		"/usr/local/etc/freightquote/business.toml",
		"/etc/freightquote/business.toml",
	}
	if cfg.BusinessFile != "" {
		paths = []string{cfg.BusinessFile}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if cfg.BusinessFile != "" {
				return fmt.Errorf("business file %s: %w", path, err)
			}
			continue
		}
		var biz Business
		if _, err := toml.DecodeFile(path, &biz); err != nil {
			return fmt.Errorf("business file %s: %w", path, err)
		}
		mergeBusiness(&cfg.Business, biz)
		return nil
	}
	return nil
}

func mergeBusiness(dst *Business, src Business) {
	if src.Source.City != "" {
		dst.Source = src.Source
	}
	if len(src.Sellers) > 0 {
		dst.Sellers = src.Sellers
	}
	if len(src.SearchTermOverrides) > 0 {
		dst.SearchTermOverrides = src.SearchTermOverrides
	}
	if src.GoodsValueUSD > 0 {
		dst.GoodsValueUSD = src.GoodsValueUSD
	}
}

func defaultRunDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/freightquote"
	}
	userDefault := ""
	if runtime.GOOS == "darwin" {
		userDefault = filepath.Join(home, "Library", "Application Support", "freightquote")
	} else {
		if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
			userDefault = filepath.Join(xdg, "freightquote")
		} else {
			userDefault = filepath.Join(home, ".local", "share", "freightquote")
		}
	}
	if isWritableDir("/usr/local/var") {
		return "/usr/local/var/freightquote"
	}
	return userDefault
}

func isWritableDir(path string) bool {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return false
	}
	testFile := filepath.Join(path, ".freightquote-writetest")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return false
	}
	_ = os.Remove(testFile)
	return true
}
