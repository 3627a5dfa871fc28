// Package config manages application configuration from environment variables,
// a YAML config file, and default values.
package config

import (
	"errors"
	"time"
)

var ErrConfiguration = errors.New("configuration error")

// Default configuration values.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultHTTPAddr            = ":8055"
	DefaultHTTPShutdownTimeout = 10 * time.Second

	DefaultDBPath             = "chatvault.db"
	DefaultDBMaxOpenConns     = 5
	DefaultDBBusyTimeout      = 5 * time.Second
	DefaultDBOperationTimeout = 10 * time.Second

	DefaultImageDir               = "data/chat_images"
	DefaultVideoDir               = "data/chat_videos"
	DefaultDownloadTimeout        = 2 * time.Minute
	DefaultMaxConcurrentDownloads = 4

	DefaultKeepDays            = 60
	DefaultRetentionSchedule   = "0 4 * * *"
	DefaultMaintenanceSchedule = "30 4 * * 0"
)

// Config defines the application configuration. Values can be set via
// environment variables prefixed with ARCHIVE_ (e.g., ARCHIVE_HTTP_ADDR)
// or through config.yaml.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Media     MediaConfig     `mapstructure:"media"`
	Retention RetentionConfig `mapstructure:"retention"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s,max=1m"`
}

type DatabaseConfig struct {
	Path             string        `mapstructure:"path"              validate:"required"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"    validate:"min=1,max=5"`
	BusyTimeout      time.Duration `mapstructure:"busy_timeout"      validate:"min=100ms,max=1m"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"min=1s,max=5m"`
}

type MediaConfig struct {
	SaveImages             bool          `mapstructure:"save_images"`
	SaveVideos             bool          `mapstructure:"save_videos"`
	ImageDir               string        `mapstructure:"image_dir" validate:"required"`
	VideoDir               string        `mapstructure:"video_dir" validate:"required"`
	DownloadTimeout        time.Duration `mapstructure:"download_timeout"         validate:"min=1s,max=10m"`
	MaxConcurrentDownloads int           `mapstructure:"max_concurrent_downloads" validate:"min=1,max=32"`
}

type RetentionConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	KeepDays            int    `mapstructure:"keep_days"            validate:"min=1"`
	Schedule            string `mapstructure:"schedule"             validate:"required"`
	MaintenanceSchedule string `mapstructure:"maintenance_schedule" validate:"required"`
}

// AdminConfig holds the identity/secret pair that bypasses the authorization
// registry. An admin caller sees every target known to the ledger.
type AdminConfig struct {
	Identity string `mapstructure:"identity"`
	Secret   string `mapstructure:"secret"`
}

// TelegramConfig configures the optional Telegram ingest adapter. The adapter
// is only started when a token is set.
type TelegramConfig struct {
	Token   string `mapstructure:"token"`
	AdminID int64  `mapstructure:"admin_id" validate:"required_with=Token"`
}
