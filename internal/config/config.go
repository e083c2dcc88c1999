// Package config loads and validates the tool configuration from the
// environment, with optional .env files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every runtime knob of the analyzer. Values come from
// environment variables (optionally via a .env file); the analyze
// command may override a subset from CLI flags.
type Config struct {
	GithubToken   string   `envconfig:"GITHUB_TOKEN" validate:"required"`
	Organizations []string `envconfig:"GITHUB_ORGANIZATIONS" validate:"required,min=1"`
	Usernames     []string `envconfig:"GITHUB_USERNAMES"`
	UsernameFile  string   `envconfig:"USERNAME_FILE" default:"github_usernames.txt"`

	// TimePeriodMonths limits every search-style query to contributions
	// created within the last N months. Zero means all time.
	TimePeriodMonths int `envconfig:"TIME_PERIOD" default:"0" validate:"gte=0"`

	OutputFile   string `envconfig:"OUTPUT_FILE" default:"github_contributions.csv"`
	ProgressFile string `envconfig:"PROGRESS_FILE" default:"github_analysis_progress.json"`
	ResultsFile  string `envconfig:"RESULTS_FILE" default:"github_analysis_results.json"`

	APIBaseURL  string        `envconfig:"GITHUB_API_URL" default:"https://api.github.com"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"120s" validate:"gt=0"`

	MaxRetries        int  `envconfig:"MAX_RETRIES" default:"3" validate:"gt=0"`
	QuotaRetries      int  `envconfig:"QUOTA_RETRIES" default:"5" validate:"gt=0"`
	CommitBatchSize   int  `envconfig:"COMMIT_BATCH_SIZE" default:"3" validate:"gt=0"`
	RequestsPerMinute int  `envconfig:"REQUESTS_PER_MINUTE" default:"80" validate:"gt=0"`
	CacheSize         int  `envconfig:"CACHE_SIZE" default:"4096" validate:"gt=0"`
	FullCommitScan    bool `envconfig:"FULL_COMMIT_SCAN" default:"false"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
}

// Load reads the configuration from the environment. A .env file in
// the working directory is loaded first when present; its absence is
// not an error.
func Load() (*Config, error) {
	if fileExists(".env") {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("env load: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// CreatedFilter returns the search qualifier restricting results to the
// configured lookback window, e.g. "+created:>=2025-03-01". Empty when
// no window is configured.
func (c *Config) CreatedFilter(now time.Time) string {
	if c.TimePeriodMonths <= 0 {
		return ""
	}
	since := now.AddDate(0, -c.TimePeriodMonths, 0)
	return "+created:>=" + since.Format("2006-01-02")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
