// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/contact-harvester/internal/extract"
	"github.com/JakeFAU/contact-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/storage"
)

// Profile names accepted by Config.Profile.
const (
	ProfileWebsite = "website"
	ProfileSocial  = "social"
)

// Store backends.
const (
	BackendSheets = "sheets"
	BackendXLSX   = "xlsx"
	BackendMemory = "memory"
)

// Fetcher kinds a profile can select.
const (
	FetcherStatic   = "static"
	FetcherHeadless = "headless"
	FetcherPromote  = "promote"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig    `mapstructure:"server"`
	Auth       AuthConfig      `mapstructure:"auth"`
	StorageDir string          `mapstructure:"storage_dir"`
	Sheets     SheetsConfig    `mapstructure:"sheets"`
	XLSX       XLSXConfig      `mapstructure:"xlsx"`
	Harvest    HarvestConfig   `mapstructure:"harvest"`
	Website    ProfileConfig   `mapstructure:"website"`
	Social     ProfileConfig   `mapstructure:"social"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	Headless   HeadlessConfig  `mapstructure:"headless"`
	RateLimit  RateLimitConfig `mapstructure:"ratelimit"`
	Recovery   RecoveryConfig  `mapstructure:"recovery"`
	DB         DBConfig        `mapstructure:"db"`
	PubSub     PubSubConfig    `mapstructure:"pubsub"`
	Logging    LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the control-panel HTTP server.
type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	ShutdownSeconds int      `mapstructure:"shutdown_seconds"`
	LogHistory      int      `mapstructure:"log_history"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SheetsConfig selects the tabular backend and configures the Sheets client.
type SheetsConfig struct {
	Backend           string  `mapstructure:"backend"`
	SpreadsheetID     string  `mapstructure:"spreadsheet_id"`
	CredentialsFile   string  `mapstructure:"credentials_file"`
	Endpoint          string  `mapstructure:"endpoint"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// XLSXConfig points at the local workbook used by the xlsx backend.
type XLSXConfig struct {
	Path string `mapstructure:"path"`
}

// HarvestConfig holds settings shared by both profiles.
type HarvestConfig struct {
	Sheet          string `mapstructure:"sheet"`
	ReadRange      string `mapstructure:"read_range"`
	WriteMode      string `mapstructure:"write_mode"`
	BatchSize      int    `mapstructure:"batch_size"`
	Fallback       string `mapstructure:"fallback"`
	RetryBackoffMs int    `mapstructure:"retry_backoff_ms"`
	FilterSheet    string `mapstructure:"filter_sheet"`
}

// ProfileConfig describes one harvest profile.
type ProfileConfig struct {
	Columns     harvest.Columns `mapstructure:"columns"`
	URLMode     string          `mapstructure:"url_mode"`
	Strategies  []string        `mapstructure:"strategies"`
	Fetcher     string          `mapstructure:"fetcher"`
	Concurrency int             `mapstructure:"concurrency"`
	DelayMinMs  int             `mapstructure:"delay_min_ms"`
	DelayMaxMs  int             `mapstructure:"delay_max_ms"`
	FollowLinks []string        `mapstructure:"follow_links"`
	SocialHosts []string        `mapstructure:"social_hosts"`
}

// HTTPConfig configures the static fetcher.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	// PromotionThreshold is the visible text length below which the promote
	// fetcher renders a page in the browser.
	PromotionThreshold int `mapstructure:"promotion_threshold"`
}

// HeadlessConfig configures the chromedp fetcher.
type HeadlessConfig struct {
	MaxParallel       int    `mapstructure:"max_parallel"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	SecondarySelector string `mapstructure:"secondary_selector"`
	SecondaryWaitSec  int    `mapstructure:"secondary_wait_seconds"`
	SettleMs          int    `mapstructure:"settle_ms"`
	Content           string `mapstructure:"content"`
	UserAgent         string `mapstructure:"user_agent"`
	ExecPath          string `mapstructure:"exec_path"`
	ShowBrowser       bool   `mapstructure:"show_browser"`
}

// RateLimitConfig throttles page fetches per domain.
type RateLimitConfig struct {
	PerDomainRPS float64 `mapstructure:"per_domain_rps"`
	Burst        int     `mapstructure:"burst"`
}

// RecoveryConfig selects where failed batches are dumped.
type RecoveryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres results ledger.
type DBConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate            bool   `mapstructure:"migrate"`
}

// PubSubConfig holds the optional found-email notification topic.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith reads into v, which may already carry bound command-line flags.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.shutdown_seconds", 10)
	v.SetDefault("server.log_history", 200)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("storage_dir", "storage")

	v.SetDefault("sheets.backend", BackendSheets)
	v.SetDefault("sheets.spreadsheet_id", "")
	v.SetDefault("sheets.credentials_file", "")
	v.SetDefault("sheets.endpoint", "")
	v.SetDefault("xlsx.path", "")
	v.SetDefault("sheets.requests_per_second", 1.0)
	v.SetDefault("sheets.burst", 5)

	v.SetDefault("harvest.sheet", "Sheet1")
	v.SetDefault("harvest.write_mode", string(harvest.WriteBatched))
	v.SetDefault("harvest.batch_size", 10)
	v.SetDefault("harvest.fallback", string(harvest.FallbackRestore))
	v.SetDefault("harvest.retry_backoff_ms", 2000)
	v.SetDefault("harvest.filter_sheet", harvest.DefaultFilterSheet)

	v.SetDefault("website.columns.link", "Business Website")
	v.SetDefault("website.columns.email", "Business Email")
	v.SetDefault("website.columns.fallback", "Facebook Link")
	v.SetDefault("website.url_mode", string(harvest.URLOrigin))
	v.SetDefault("website.strategies", []string{string(extract.Mailto)})
	v.SetDefault("website.fetcher", FetcherStatic)
	v.SetDefault("website.concurrency", 5)
	v.SetDefault("website.delay_min_ms", 2000)
	v.SetDefault("website.delay_max_ms", 5000)
	v.SetDefault("website.follow_links", []string{"contact", "about"})
	v.SetDefault("website.social_hosts", []string{"facebook.com", "fb.com"})

	v.SetDefault("social.columns.link", "Facebook Link")
	v.SetDefault("social.columns.email", "Business Email")
	v.SetDefault("social.url_mode", string(harvest.URLFull))
	v.SetDefault("social.strategies", []string{string(extract.Mailto), string(extract.Text)})
	v.SetDefault("social.fetcher", FetcherHeadless)
	v.SetDefault("social.concurrency", 5)
	v.SetDefault("social.delay_min_ms", 2000)
	v.SetDefault("social.delay_max_ms", 5000)

	v.SetDefault("http.user_agent", headless.DefaultUserAgent)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.promotion_threshold", 60)

	v.SetDefault("headless.max_parallel", 5)
	v.SetDefault("headless.nav_timeout_seconds", 60)
	v.SetDefault("headless.secondary_selector", `a[href*="about"]`)
	v.SetDefault("headless.secondary_wait_seconds", 15)
	v.SetDefault("headless.settle_ms", 4000)
	v.SetDefault("headless.content", "text")

	v.SetDefault("ratelimit.per_domain_rps", 0)
	v.SetDefault("ratelimit.burst", 1)

	v.SetDefault("recovery.enabled", true)
	v.SetDefault("recovery.backend", "local")
	v.SetDefault("recovery.prefix", "recovery")
	v.SetDefault("recovery.dir", "")
	v.SetDefault("recovery.bucket", "")

	v.SetDefault("db.enabled", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.migrate", true)

	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "harvester-contacts")

	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. The spreadsheet
// identifier is checked by RequireSpreadsheet since serve may start without it.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Sheets.Backend {
	case BackendSheets, BackendMemory:
	case BackendXLSX:
		if c.XLSX.Path == "" {
			return fmt.Errorf("xlsx.path must be set when sheets.backend is xlsx")
		}
	default:
		return fmt.Errorf("sheets.backend %q is not one of sheets, xlsx, memory", c.Sheets.Backend)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0")
	}
	for name, p := range map[string]ProfileConfig{ProfileWebsite: c.Website, ProfileSocial: c.Social} {
		if err := p.validate(name); err != nil {
			return err
		}
	}
	if c.Recovery.Enabled && c.Recovery.Backend == "gcs" && c.Recovery.Bucket == "" {
		return fmt.Errorf("recovery.bucket must be set for the gcs backend")
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	return nil
}

func (p ProfileConfig) validate(name string) error {
	switch p.Fetcher {
	case FetcherStatic, FetcherHeadless, FetcherPromote:
	default:
		return fmt.Errorf("%s.fetcher %q is not one of static, headless, promote", name, p.Fetcher)
	}
	if _, err := extract.ByName(p.Strategies); err != nil {
		return fmt.Errorf("%s.strategies: %w", name, err)
	}
	if p.Concurrency < harvest.MinConcurrency || p.Concurrency > harvest.MaxConcurrency {
		return fmt.Errorf("%s.concurrency must be between %d and %d", name, harvest.MinConcurrency, harvest.MaxConcurrency)
	}
	if p.DelayMinMs < 0 || p.DelayMaxMs < p.DelayMinMs {
		return fmt.Errorf("%s.delay_min_ms/delay_max_ms form an invalid window", name)
	}
	return nil
}

// RequireSpreadsheet reports the fatal startup error for runs against the
// Sheets backend without an identifier.
func (c Config) RequireSpreadsheet() error {
	if c.Sheets.Backend == BackendSheets && strings.TrimSpace(c.Sheets.SpreadsheetID) == "" {
		return fmt.Errorf("sheets.spreadsheet_id is required (use --sheet or HARVESTER_SHEETS_SPREADSHEET_ID)")
	}
	return nil
}

// Profile returns the named profile settings.
func (c Config) Profile(name string) (ProfileConfig, error) {
	switch name {
	case ProfileWebsite:
		return c.Website, nil
	case ProfileSocial:
		return c.Social, nil
	default:
		return ProfileConfig{}, fmt.Errorf("unknown profile %q", name)
	}
}

// CredentialsPath resolves the service-account file, defaulting to the
// storage directory.
func (c Config) CredentialsPath() string {
	if c.Sheets.CredentialsFile != "" {
		return c.Sheets.CredentialsFile
	}
	return filepath.Join(c.StorageDir, "service_account.json")
}

// RecoveryStorage converts the recovery section into a blob store config.
func (c Config) RecoveryStorage() storage.Config {
	dir := c.Recovery.Dir
	if dir == "" {
		dir = c.StorageDir
	}
	return storage.Config{Backend: c.Recovery.Backend, BaseDir: dir, Bucket: c.Recovery.Bucket}
}

// ShutdownTimeout bounds graceful shutdown of the server and running jobs.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

// FetchTimeout bounds one static fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Delays returns the profile's post-task jitter window.
func (p ProfileConfig) Delays() (time.Duration, time.Duration) {
	return time.Duration(p.DelayMinMs) * time.Millisecond, time.Duration(p.DelayMaxMs) * time.Millisecond
}
