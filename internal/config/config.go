package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every setting read from the environment
type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	Timezone string `mapstructure:"APP_TIMEZONE"`

	DBDriver string `mapstructure:"DB_DRIVER"`
	DBDSN    string `mapstructure:"DB_DSN"`

	OpenAIKey       string        `mapstructure:"OPENAI_API_KEY"`
	OpenAIURL       string        `mapstructure:"OPENAI_API_URL"`
	OpenAIModel     string        `mapstructure:"OPENAI_MODEL"`
	AITimeout       time.Duration `mapstructure:"AI_TIMEOUT"`
	AIRatePerMinute int           `mapstructure:"AI_RATE_PER_MINUTE"`

	SchedulerEnabled         bool          `mapstructure:"SCHEDULER_ENABLED"`
	SchedulerDailyAt         string        `mapstructure:"SCHEDULER_DAILY_AT"`
	SchedulerCleanupAt       string        `mapstructure:"SCHEDULER_CLEANUP_AT"`
	SchedulerAugmentInterval time.Duration `mapstructure:"SCHEDULER_AUGMENT_INTERVAL"`

	PoolMicroPreset       int `mapstructure:"POOL_MICRO_PRESET"`
	PoolShortPreset       int `mapstructure:"POOL_SHORT_PRESET"`
	PoolMicroGeneratedCap int `mapstructure:"POOL_MICRO_GENERATED_CAP"`
	PoolShortGeneratedCap int `mapstructure:"POOL_SHORT_GENERATED_CAP"`
	PoolMicroBatch        int `mapstructure:"POOL_MICRO_BATCH"`
	PoolShortBatch        int `mapstructure:"POOL_SHORT_BATCH"`
	PoolDedupWindowDays   int `mapstructure:"POOL_DEDUP_WINDOW_DAYS"`
	PoolRetentionDays     int `mapstructure:"POOL_RETENTION_DAYS"`

	ScoreFallback int `mapstructure:"SCORE_FALLBACK"`

	TemplateImportPath string `mapstructure:"TEMPLATE_IMPORT_PATH"`

	TelegramToken   string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramOwnerID int64  `mapstructure:"TELEGRAM_OWNER_ID"`
}

var defaults = map[string]interface{}{
	"APP_ENV":                    "dev",
	"APP_TIMEZONE":               "Local",
	"DB_DRIVER":                  "sqlite3",
	"DB_DSN":                     "data/inkquest.db",
	"OPENAI_API_KEY":             "",
	"OPENAI_API_URL":             "https://api.openai.com/v1/chat/completions",
	"OPENAI_MODEL":               "gpt-4o-mini",
	"AI_TIMEOUT":                 "60s",
	"AI_RATE_PER_MINUTE":         6,
	"SCHEDULER_ENABLED":          true,
	"SCHEDULER_DAILY_AT":         "00:01",
	"SCHEDULER_CLEANUP_AT":       "00:00",
	"SCHEDULER_AUGMENT_INTERVAL": "5m",
	"POOL_MICRO_PRESET":          10,
	"POOL_SHORT_PRESET":          5,
	"POOL_MICRO_GENERATED_CAP":   6,
	"POOL_SHORT_GENERATED_CAP":   4,
	"POOL_MICRO_BATCH":           2,
	"POOL_SHORT_BATCH":           1,
	"POOL_DEDUP_WINDOW_DAYS":     7,
	"POOL_RETENTION_DAYS":        30,
	"SCORE_FALLBACK":             70,
	"TEMPLATE_IMPORT_PATH":       "",
	"TELEGRAM_BOT_TOKEN":         "",
	"TELEGRAM_OWNER_ID":          0,
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.ScoreFallback < 0 || c.ScoreFallback > 100 {
		return fmt.Errorf("SCORE_FALLBACK must be within 0..100, got %d", c.ScoreFallback)
	}
	if c.PoolDedupWindowDays < 1 {
		return fmt.Errorf("POOL_DEDUP_WINDOW_DAYS must be positive")
	}
	if c.SchedulerAugmentInterval <= 0 {
		return fmt.Errorf("SCHEDULER_AUGMENT_INTERVAL must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// AIEnabled reports whether the external generator and scorer are configured
func (c *Config) AIEnabled() bool {
	return c.OpenAIKey != ""
}
