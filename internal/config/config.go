// Package config loads and validates ocsync configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	// Embeds the zone database so orchestrator.timezone resolves on minimal images.
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging"`
	Primary      PrimaryConfig      `mapstructure:"primary"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Comments     CommentsConfig     `mapstructure:"comments"`
	Feed         FeedConfig         `mapstructure:"feed"`
	Crawl        CrawlConfig        `mapstructure:"crawl"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Export       ExportConfig       `mapstructure:"export"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Import       ImportConfig       `mapstructure:"import"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// PrimaryConfig controls access to the PostgreSQL primary store.
type PrimaryConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig locates the SQLite archive and sizes its import batches.
type ArchiveConfig struct {
	Path          string `mapstructure:"path"`
	ReadChunk     int    `mapstructure:"read_chunk"`
	ReconcilePage int    `mapstructure:"reconcile_page"`
	FixChunk      int    `mapstructure:"fix_chunk"`
	MaxParams     int    `mapstructure:"max_params"`
	SafetyMargin  int    `mapstructure:"safety_margin"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
}

// CommentsConfig locates the comment-domain SQLite store. An empty path
// disables the comment import.
type CommentsConfig struct {
	Path string `mapstructure:"path"`
}

// FeedConfig configures the feed HTTP client and partition list.
type FeedConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	LocaleHeader      string        `mapstructure:"locale_header"`
	Locale            string        `mapstructure:"locale"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RPS               float64       `mapstructure:"rps"`
	Burst             int           `mapstructure:"burst"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	PageLimit         int           `mapstructure:"page_limit"`
	SlowPageThreshold time.Duration `mapstructure:"slow_page_threshold"`
	Categories        []int         `mapstructure:"categories"`
}

// Crawl modes and launchers.
const (
	CrawlSequential = "sequential"
	CrawlParallel   = "parallel"

	LauncherGoroutine = "goroutine"
	LauncherExec      = "exec"
)

// CrawlConfig selects the ranking fetch strategy.
type CrawlConfig struct {
	Mode         string        `mapstructure:"mode"`
	Launcher     string        `mapstructure:"launcher"`
	MaxParallel  int           `mapstructure:"max_parallel"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StageDir     string        `mapstructure:"stage_dir"`
	QueueDepth   int           `mapstructure:"queue_depth"`
	// ExecBinary overrides the executable used by the exec launcher.
	ExecBinary string `mapstructure:"exec_binary"`
}

// OrchestratorConfig drives mode selection, timeouts and post-merge jobs.
type OrchestratorConfig struct {
	Timezone                     string        `mapstructure:"timezone"`
	DailyWindowStart             string        `mapstructure:"daily_window_start"`
	DailyWindowEnd               string        `mapstructure:"daily_window_end"`
	KillGrace                    time.Duration `mapstructure:"kill_grace"`
	HourlyTimeout                time.Duration `mapstructure:"hourly_timeout"`
	DailyTimeout                 time.Duration `mapstructure:"daily_timeout"`
	ExtendedLookbackDays         int           `mapstructure:"extended_lookback_days"`
	ExtendedMaxConsecutiveErrors int           `mapstructure:"extended_max_consecutive_errors"`
	ExtendedLimit                int           `mapstructure:"extended_limit"`
	InvitationBatch              int           `mapstructure:"invitation_batch"`
	BanMinMember                 int           `mapstructure:"ban_min_member"`
	// ScheduleMinute is the minute past each hour at which serve starts a run.
	ScheduleMinute int `mapstructure:"schedule_minute"`
}

// Notification sinks.
const (
	SinkLog    = "log"
	SinkPubSub = "pubsub"
)

// NotifyConfig selects the notification sink.
type NotifyConfig struct {
	Sink   string `mapstructure:"sink"`
	EveryN int    `mapstructure:"every_n"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string        `mapstructure:"project_id"`
	TopicID   string        `mapstructure:"topic_id"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ExportConfig selects where archive snapshots go. Both empty disables export.
type ExportConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// MetricsConfig controls the ops listener of serve.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ImportConfig controls the archive import run.
type ImportConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// Detached makes the orchestrator spawn the import as a child process
	// instead of a goroutine.
	Detached bool `mapstructure:"detached"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OCSYNC")
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
	// Keys without a real default are still registered so that environment
	// variables reach Unmarshal.
	for _, key := range []string{
		"primary.dsn", "comments.path", "feed.base_url", "crawl.exec_binary",
		"pubsub.project_id", "pubsub.topic_id", "export.gcs_bucket", "export.local_dir",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("logging.development", false)
	v.SetDefault("primary.max_conns", 8)
	v.SetDefault("primary.min_conns", 1)
	v.SetDefault("primary.max_conn_lifetime", time.Hour)
	v.SetDefault("archive.path", "data/archive.db")
	v.SetDefault("archive.read_chunk", 2000)
	v.SetDefault("archive.reconcile_page", 10000)
	v.SetDefault("archive.fix_chunk", 500)
	v.SetDefault("archive.max_params", 32766)
	v.SetDefault("archive.safety_margin", 1)
	v.SetDefault("archive.busy_timeout_ms", 10000)
	v.SetDefault("feed.locale_header", "X-Lang")
	v.SetDefault("feed.locale", "ja")
	v.SetDefault("feed.user_agent", "ocsync/1.0")
	v.SetDefault("feed.timeout", 30*time.Second)
	v.SetDefault("feed.rps", 5.0)
	v.SetDefault("feed.burst", 5)
	v.SetDefault("feed.max_attempts", 4)
	v.SetDefault("feed.page_limit", 40)
	v.SetDefault("feed.slow_page_threshold", 10*time.Second)
	v.SetDefault("feed.categories", []int{0, 2, 5, 6, 7, 8, 11, 12, 16, 17, 18, 19, 20, 22, 23, 26, 27, 28, 29, 30, 33, 37, 40, 41})
	v.SetDefault("crawl.mode", CrawlSequential)
	v.SetDefault("crawl.launcher", LauncherGoroutine)
	v.SetDefault("crawl.max_parallel", 4)
	v.SetDefault("crawl.poll_interval", time.Second)
	v.SetDefault("crawl.stage_dir", "data/stage")
	v.SetDefault("crawl.queue_depth", 16)
	v.SetDefault("orchestrator.timezone", "Asia/Tokyo")
	v.SetDefault("orchestrator.daily_window_start", "23:30")
	v.SetDefault("orchestrator.daily_window_end", "00:00")
	v.SetDefault("orchestrator.kill_grace", 10*time.Second)
	v.SetDefault("orchestrator.hourly_timeout", 50*time.Minute)
	v.SetDefault("orchestrator.daily_timeout", 5*time.Hour)
	v.SetDefault("orchestrator.extended_lookback_days", 7)
	v.SetDefault("orchestrator.extended_max_consecutive_errors", 5)
	v.SetDefault("orchestrator.extended_limit", 0)
	v.SetDefault("orchestrator.invitation_batch", 200)
	v.SetDefault("orchestrator.ban_min_member", 10)
	v.SetDefault("orchestrator.schedule_minute", 30)
	v.SetDefault("notify.sink", SinkLog)
	v.SetDefault("notify.every_n", 1)
	v.SetDefault("pubsub.timeout", 10*time.Second)
	v.SetDefault("export.prefix", "archive")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("import.timeout", 2*time.Hour)
	v.SetDefault("import.detached", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Primary.DSN) == "" {
		return fmt.Errorf("primary.dsn is required")
	}
	if strings.TrimSpace(c.Archive.Path) == "" {
		return fmt.Errorf("archive.path is required")
	}
	if c.Archive.ReadChunk <= 0 || c.Archive.ReconcilePage <= 0 || c.Archive.FixChunk <= 0 {
		return fmt.Errorf("archive.read_chunk, archive.reconcile_page and archive.fix_chunk must be > 0")
	}
	if c.Archive.MaxParams <= 0 || c.Archive.SafetyMargin < 0 {
		return fmt.Errorf("archive.max_params must be > 0 and archive.safety_margin >= 0")
	}
	if strings.TrimSpace(c.Feed.BaseURL) == "" {
		return fmt.Errorf("feed.base_url is required")
	}
	if len(c.Feed.Categories) == 0 {
		return fmt.Errorf("feed.categories must not be empty")
	}
	if c.Feed.PageLimit <= 0 {
		return fmt.Errorf("feed.page_limit must be > 0")
	}
	switch c.Crawl.Mode {
	case CrawlSequential:
	case CrawlParallel:
		if c.Crawl.MaxParallel <= 0 {
			return fmt.Errorf("crawl.max_parallel must be > 0 in parallel mode")
		}
		if c.Crawl.Launcher != LauncherGoroutine && c.Crawl.Launcher != LauncherExec {
			return fmt.Errorf("crawl.launcher must be %q or %q", LauncherGoroutine, LauncherExec)
		}
		if c.Crawl.Launcher == LauncherExec && strings.TrimSpace(c.Crawl.StageDir) == "" {
			return fmt.Errorf("crawl.stage_dir is required for the exec launcher")
		}
	default:
		return fmt.Errorf("crawl.mode must be %q or %q", CrawlSequential, CrawlParallel)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := ParseClock(c.Orchestrator.DailyWindowStart); err != nil {
		return fmt.Errorf("orchestrator.daily_window_start: %w", err)
	}
	if _, err := ParseClock(c.Orchestrator.DailyWindowEnd); err != nil {
		return fmt.Errorf("orchestrator.daily_window_end: %w", err)
	}
	if c.Orchestrator.HourlyTimeout <= 0 || c.Orchestrator.DailyTimeout <= 0 {
		return fmt.Errorf("orchestrator.hourly_timeout and orchestrator.daily_timeout must be > 0")
	}
	if c.Orchestrator.ScheduleMinute < 0 || c.Orchestrator.ScheduleMinute > 59 {
		return fmt.Errorf("orchestrator.schedule_minute must be within 0-59")
	}
	if c.Orchestrator.ExtendedLimit < 0 {
		return fmt.Errorf("orchestrator.extended_limit must be >= 0")
	}
	if c.Orchestrator.InvitationBatch <= 0 {
		return fmt.Errorf("orchestrator.invitation_batch must be > 0")
	}
	switch c.Notify.Sink {
	case SinkLog:
	case SinkPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicID == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_id are required for the pubsub sink")
		}
	default:
		return fmt.Errorf("notify.sink must be %q or %q", SinkLog, SinkPubSub)
	}
	if c.Notify.EveryN <= 0 {
		return fmt.Errorf("notify.every_n must be > 0")
	}
	if c.Export.GCSBucket != "" && c.Export.LocalDir != "" {
		return fmt.Errorf("export.gcs_bucket and export.local_dir are mutually exclusive")
	}
	return nil
}

// Location resolves the orchestrator timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Orchestrator.Timezone)
	if err != nil {
		return nil, fmt.Errorf("orchestrator.timezone: %w", err)
	}
	return loc, nil
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(raw string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %q as HH:MM: %w", raw, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
