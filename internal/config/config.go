// Package config loads the gateway settings: a YAML file for structure
// and environment variables for secrets and deployment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/marketgate/marketgate/internal/alerts"
	"github.com/marketgate/marketgate/internal/events"
	"github.com/marketgate/marketgate/internal/provider"
	"github.com/marketgate/marketgate/internal/watchdog"
)

// Settings is the complete gateway configuration
type Settings struct {
	Server    ServerSettings    `yaml:"server"`
	Redis     RedisSettings     `yaml:"redis"`
	Postgres  PostgresSettings  `yaml:"postgres"`
	Providers []provider.Config `yaml:"providers"`
	Arbiter   ArbiterSettings   `yaml:"arbiter"`
	Cache     CacheSettings     `yaml:"cache"`
	Stream    events.StreamConfig `yaml:"stream"`
	Watchdogs WatchdogSettings  `yaml:"watchdogs"`
	Guardrail GuardrailSettings `yaml:"guardrail"`
	Alerts    AlertSettings     `yaml:"alerts"`
}

// ServerSettings configures the HTTP listener
type ServerSettings struct {
	Addr          string `yaml:"addr"`
	DefaultRegion string `yaml:"default_region"`
}

// RedisSettings configures the L2 cache and durable event log
type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// KeyPrefix namespaces cache keys; the event stream key is fixed
	KeyPrefix string `yaml:"key_prefix"`
}

// Enabled reports whether Redis tiers should be wired
func (r RedisSettings) Enabled() bool { return r.Addr != "" }

// PostgresSettings configures the alternate durable event log
type PostgresSettings struct {
	DSN string `yaml:"dsn"`
}

func (p PostgresSettings) Enabled() bool { return p.DSN != "" }

// ArbiterSettings tunes the arbitration engine
type ArbiterSettings struct {
	RegionPenaltyMinutes int `yaml:"region_penalty_minutes"`
	BreakerOpenSeconds   int `yaml:"breaker_open_seconds"`
}

// CacheSettings tunes the in-memory L1 tier
type CacheSettings struct {
	L1MaxEntries int `yaml:"l1_max_entries"`
}

// WatchdogSettings configures the detector fleet
type WatchdogSettings struct {
	Symbols   []string                   `yaml:"symbols"`
	Equities  []string                   `yaml:"equities"`
	Detectors map[string]watchdog.Config `yaml:"detectors"`
	Manager   watchdog.ManagerConfig     `yaml:"manager"`
}

// GuardrailSettings maps onto the guardrail constructor options
type GuardrailSettings struct {
	StrictMode           bool   `yaml:"strict_mode"`
	AutoAddDisclaimer    *bool  `yaml:"auto_add_disclaimer"`
	DefaultLanguage      string `yaml:"default_language"`
	StrictViolationLimit int    `yaml:"strict_violation_limit"`
	MinLanguageScore     int    `yaml:"min_language_score"`
}

// AlertSettings configures delivery channels and the engine pool
type AlertSettings struct {
	Engine   alerts.EngineConfig `yaml:"engine"`
	SMTP     alerts.SMTPSettings `yaml:"smtp"`
	Telegram TelegramSettings    `yaml:"telegram"`
}

// TelegramSettings holds the bot credentials
type TelegramSettings struct {
	BotToken string `yaml:"bot_token"`
}

// Load reads the YAML file, then applies environment overrides. A
// missing .env file is not an error; a missing config file is.
func Load(path string) (*Settings, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, relying on process environment")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	settings.applyEnv()
	settings.applyDefaults()

	if err := settings.validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// applyEnv overlays secrets and endpoints from the environment. API key
// absence disables the provider that needs one.
func (s *Settings) applyEnv() {
	if v := os.Getenv("MARKETGATE_ADDR"); v != "" {
		s.Server.Addr = v
	}
	if v := os.Getenv("MARKETGATE_REGION"); v != "" {
		s.Server.DefaultRegion = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		s.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		s.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			s.Redis.DB = db
		}
	}
	if v := os.Getenv("PG_DSN"); v != "" {
		s.Postgres.DSN = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		s.Alerts.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			s.Alerts.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		s.Alerts.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		s.Alerts.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		s.Alerts.SMTP.From = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		s.Alerts.Telegram.BotToken = v
	}

	for i := range s.Providers {
		envKey := "PROVIDER_" + envName(s.Providers[i].Name) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			s.Providers[i].APIKey = v
		}
	}
}

func (s *Settings) applyDefaults() {
	if s.Server.Addr == "" {
		s.Server.Addr = ":8080"
	}
	if s.Server.DefaultRegion == "" {
		s.Server.DefaultRegion = "us"
	}
	if s.Cache.L1MaxEntries <= 0 {
		s.Cache.L1MaxEntries = 10000
	}
	if s.Arbiter.RegionPenaltyMinutes <= 0 {
		s.Arbiter.RegionPenaltyMinutes = 30
	}
	if s.Arbiter.BreakerOpenSeconds <= 0 {
		s.Arbiter.BreakerOpenSeconds = 30
	}
	if len(s.Watchdogs.Symbols) == 0 {
		s.Watchdogs.Symbols = []string{"BTC", "ETH"}
	}
}

func (s *Settings) validate() error {
	enabled := 0
	for _, p := range s.Providers {
		if p.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("configuration error: no providers enabled")
	}
	return nil
}

// RegionPenaltyWindow converts the arbiter setting to a duration
func (s *Settings) RegionPenaltyWindow() time.Duration {
	return time.Duration(s.Arbiter.RegionPenaltyMinutes) * time.Minute
}

// BreakerOpenTimeout converts the arbiter setting to a duration
func (s *Settings) BreakerOpenTimeout() time.Duration {
	return time.Duration(s.Arbiter.BreakerOpenSeconds) * time.Second
}

// AutoAddDisclaimer defaults to true when unset in YAML
func (g GuardrailSettings) AutoAddDisclaimerValue() bool {
	if g.AutoAddDisclaimer == nil {
		return true
	}
	return *g.AutoAddDisclaimer
}

func envName(provider string) string {
	out := make([]rune, 0, len(provider))
	for _, r := range provider {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
