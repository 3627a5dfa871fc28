package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load loads and validates configuration from:
// 1. Default values
// 2. The YAML file at configPath (optional)
// 3. ARCHIVE_* environment variables
func Load(configPath string) (*Config, error) {
	setDefaults()

	if err := readConfig(configPath); err != nil {
		return nil, fmt.Errorf("%w: failed to load config file: %v", ErrConfiguration, err)
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

// readConfig initializes and loads the configuration using viper.
func readConfig(configPath string) error {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("ARCHIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing config file is fine, defaults and env cover everything.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if strings.Contains(err.Error(), "no such file") {
			return nil
		}
		return fmt.Errorf("failed to read config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("log.level", DefaultLogLevel)
	viper.SetDefault("log.format", DefaultLogFormat)

	viper.SetDefault("http.addr", DefaultHTTPAddr)
	viper.SetDefault("http.shutdown_timeout", DefaultHTTPShutdownTimeout)

	viper.SetDefault("database.path", DefaultDBPath)
	viper.SetDefault("database.max_open_conns", DefaultDBMaxOpenConns)
	viper.SetDefault("database.busy_timeout", DefaultDBBusyTimeout)
	viper.SetDefault("database.operation_timeout", DefaultDBOperationTimeout)

	viper.SetDefault("media.save_images", true)
	viper.SetDefault("media.save_videos", true)
	viper.SetDefault("media.image_dir", DefaultImageDir)
	viper.SetDefault("media.video_dir", DefaultVideoDir)
	viper.SetDefault("media.download_timeout", DefaultDownloadTimeout)
	viper.SetDefault("media.max_concurrent_downloads", DefaultMaxConcurrentDownloads)

	viper.SetDefault("retention.enabled", true)
	viper.SetDefault("retention.keep_days", DefaultKeepDays)
	viper.SetDefault("retention.schedule", DefaultRetentionSchedule)
	viper.SetDefault("retention.maintenance_schedule", DefaultMaintenanceSchedule)
}
