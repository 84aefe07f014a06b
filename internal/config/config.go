// Package config loads and validates supacrawl configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultUserAgent is sent by every fetcher unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Crawl admission modes.
const (
	ModeMemoryAdaptive = "memory_adaptive"
	ModeSemaphore      = "semaphore"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	DB       DBConfig       `mapstructure:"db"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Report   ReportConfig   `mapstructure:"report"`
	Email    EmailConfig    `mapstructure:"email"`
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig selects and configures the page/report store backend.
type DBConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	PagesTable             string `mapstructure:"pages_table"`
	ReportsTable           string `mapstructure:"reports_table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// LLMConfig configures the hosted language model.
type LLMConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	Temperature    float32 `mapstructure:"temperature"`
	MaxInputChars  int     `mapstructure:"max_input_chars"`
}

// CrawlerConfig governs the worker pool and fetch pipeline.
type CrawlerConfig struct {
	URLs                   []string `mapstructure:"urls"`
	Mode                   string   `mapstructure:"mode"`
	Concurrency            int      `mapstructure:"concurrency"`
	QueueDepth             int      `mapstructure:"queue_depth"`
	UserAgent              string   `mapstructure:"user_agent"`
	RespectRobots          bool     `mapstructure:"respect_robots"`
	TimeoutSeconds         int      `mapstructure:"timeout_seconds"`
	DelayMinMs             int      `mapstructure:"delay_min_ms"`
	DelayMaxMs             int      `mapstructure:"delay_max_ms"`
	MaxBackoffSeconds      int      `mapstructure:"max_backoff_seconds"`
	MaxRetries             int      `mapstructure:"max_retries"`
	RetryStatuses          []int    `mapstructure:"retry_statuses"`
	MemoryLimitMB          int      `mapstructure:"memory_limit_mb"`
	MemoryThresholdPercent float64  `mapstructure:"memory_threshold_percent"`
	MemoryCheckIntervalMs  int      `mapstructure:"memory_check_interval_ms"`
	ContentBudget          int      `mapstructure:"content_budget"`
	DenyDomains            []string `mapstructure:"deny_domains"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Engine          string `mapstructure:"engine"`
	Stealth         bool   `mapstructure:"stealth"`
	MaxParallel     int    `mapstructure:"max_parallel"`
	NavTimeoutSec   int    `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int    `mapstructure:"promotion_threshold"`
}

// StorageConfig selects where raw HTML snapshots and report HTML are archived.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	// TopicName receives page.stored events, ReportTopic report.created events.
	TopicName   string `mapstructure:"topic_name"`
	ReportTopic string `mapstructure:"report_topic"`
}

// ChatConfig bounds the chat router.
type ChatConfig struct {
	DefaultLimit        int `mapstructure:"default_limit"`
	MaxLimit            int `mapstructure:"max_limit"`
	SearchLimit         int `mapstructure:"search_limit"`
	ContentBudget       int `mapstructure:"content_budget"`
	PreviewBudget       int `mapstructure:"preview_budget"`
	QueryTimeoutSeconds int `mapstructure:"query_timeout_seconds"`
	LLMTimeoutSeconds   int `mapstructure:"llm_timeout_seconds"`
}

// ReportConfig controls the scheduled report.
type ReportConfig struct {
	TitlePrefix   string `mapstructure:"title_prefix"`
	LookbackHours int    `mapstructure:"lookback_hours"`
	MaxDocuments  int    `mapstructure:"max_documents"`
	Store         bool   `mapstructure:"store"`
	Archive       bool   `mapstructure:"archive"`
}

// EmailConfig configures SMTP delivery of reports.
type EmailConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	SMTPHost       string   `mapstructure:"smtp_host"`
	SMTPPort       int      `mapstructure:"smtp_port"`
	SMTPUser       string   `mapstructure:"smtp_user"`
	SMTPPass       string   `mapstructure:"smtp_pass"`
	From           string   `mapstructure:"from"`
	To             []string `mapstructure:"to"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// Load builds a Config from .env, disk and environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("SUPACRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("llm.api_key", "SUPACRAWL_LLM_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind llm api key: %w", err)
	}

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

// loadDotEnv populates the process environment from path when it exists.
// Variables already set are not overridden.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.pages_table", "pages")
	v.SetDefault("db.reports_table", "reports")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)

	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.timeout_seconds", 20)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_input_chars", 20000)

	v.SetDefault("crawler.mode", ModeMemoryAdaptive)
	v.SetDefault("crawler.concurrency", 10)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.user_agent", DefaultUserAgent)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.delay_min_ms", 1000)
	v.SetDefault("crawler.delay_max_ms", 3000)
	v.SetDefault("crawler.max_backoff_seconds", 30)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.retry_statuses", []int{429, 503})
	v.SetDefault("crawler.memory_limit_mb", 1024)
	v.SetDefault("crawler.memory_threshold_percent", 90.0)
	v.SetDefault("crawler.memory_check_interval_ms", 1000)
	v.SetDefault("crawler.content_budget", 500)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.engine", "chromedp")
	v.SetDefault("headless.stealth", true)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)

	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")

	v.SetDefault("chat.default_limit", 5)
	v.SetDefault("chat.max_limit", 100)
	v.SetDefault("chat.search_limit", 10)
	v.SetDefault("chat.content_budget", 2000)
	v.SetDefault("chat.preview_budget", 200)
	v.SetDefault("chat.query_timeout_seconds", 15)
	v.SetDefault("chat.llm_timeout_seconds", 20)

	v.SetDefault("report.title_prefix", "Daily Content Report")
	v.SetDefault("report.lookback_hours", 24)
	v.SetDefault("report.max_documents", 50)
	v.SetDefault("report.store", true)

	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.timeout_seconds", 10)

	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for driver %q", c.DB.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("db.driver must be one of postgres, sqlite, memory")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.Mode != ModeMemoryAdaptive && c.Crawler.Mode != ModeSemaphore {
		return fmt.Errorf("crawler.mode must be %q or %q", ModeMemoryAdaptive, ModeSemaphore)
	}
	if c.Crawler.DelayMaxMs < c.Crawler.DelayMinMs {
		return fmt.Errorf("crawler.delay_max_ms must be >= crawler.delay_min_ms")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Crawler.Mode == ModeMemoryAdaptive &&
		(c.Crawler.MemoryThresholdPercent <= 0 || c.Crawler.MemoryThresholdPercent > 100) {
		return fmt.Errorf("crawler.memory_threshold_percent must be in (0, 100]")
	}
	if c.Crawler.ContentBudget <= 0 {
		return fmt.Errorf("crawler.content_budget must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Headless.Engine != "chromedp" && c.Headless.Engine != "rod" {
		return fmt.Errorf("headless.engine must be chromedp or rod")
	}
	switch c.Storage.Backend {
	case "none", "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of none, memory, local, gcs")
	}
	if c.Chat.MaxLimit <= 0 || c.Chat.DefaultLimit <= 0 || c.Chat.DefaultLimit > c.Chat.MaxLimit {
		return fmt.Errorf("chat.default_limit must be in (0, chat.max_limit]")
	}
	if c.Chat.ContentBudget <= 0 {
		return fmt.Errorf("chat.content_budget must be > 0")
	}
	if c.Chat.QueryTimeoutSeconds <= 0 || c.Chat.LLMTimeoutSeconds <= 0 {
		return fmt.Errorf("chat timeouts must be > 0")
	}
	if c.Email.Enabled && (c.Email.SMTPHost == "" || c.Email.From == "" || len(c.Email.To) == 0) {
		return fmt.Errorf("email.smtp_host, email.from and email.to must be set when email is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout is the per-request HTTP timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// LLMTimeout bounds each extraction or report LLM call.
func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// ReportLookback is the window of pages fed into a report.
func (c Config) ReportLookback() time.Duration {
	return time.Duration(c.Report.LookbackHours) * time.Hour
}
