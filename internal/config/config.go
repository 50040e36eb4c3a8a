// Package config loads and validates the excreport configuration from
// file, environment and defaults.
package config

import (
	"errors"
	"time"
)

// Config is the top-level configuration struct for excreport.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	QueryFile  string       `mapstructure:"query_file"`
	RulesFile  string       `mapstructure:"rules_file"`
	OutputDir  string       `mapstructure:"output_dir"`
	WindowDays int          `mapstructure:"window_days"`
	DQL        DQLConfig    `mapstructure:"dql"`
	Report     ReportConfig `mapstructure:"report"`
}

// DQLConfig holds the remote query endpoint and fetch tuning.
type DQLConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	MaxResultBytes int           `mapstructure:"max_result_bytes"`
	Timezone       string        `mapstructure:"timezone"`
	DayStartHour   int           `mapstructure:"day_start_hour"`
}

// ReportConfig holds export sink settings.
type ReportConfig struct {
	XLSX  bool `mapstructure:"xlsx"`
	Chart bool `mapstructure:"chart"`
	Top   int  `mapstructure:"top"`
}

// Default configuration values.
const (
	DefaultQueryFile      = "resources/query.txt"
	DefaultRulesFile      = "resources/rules.yaml"
	DefaultOutputDir      = "output"
	DefaultWindowDays     = 7
	DefaultPollInterval   = 10 * time.Second
	DefaultPollTimeout    = 6 * time.Minute
	DefaultMaxResultBytes = 64000000
	DefaultTimezone       = "Asia/Shanghai"
	DefaultDayStartHour   = 10
	DefaultReportXLSX     = true
	DefaultReportChart    = false
	DefaultReportTop      = 20
)

// hoursPerDay bounds the day start hour.
const hoursPerDay = 24

// Sentinel errors for configuration validation.
var (
	// ErrInvalidWindowDays indicates the window length is not positive.
	ErrInvalidWindowDays = errors.New("window_days must be positive")
	// ErrInvalidPollInterval indicates the poll interval is not positive.
	ErrInvalidPollInterval = errors.New("dql.poll_interval must be positive")
	// ErrInvalidPollTimeout indicates the poll timeout is not positive.
	ErrInvalidPollTimeout = errors.New("dql.poll_timeout must be positive")
	// ErrInvalidMaxResultBytes indicates the result size cap is not positive.
	ErrInvalidMaxResultBytes = errors.New("dql.max_result_bytes must be positive")
	// ErrInvalidDayStartHour indicates the day start hour is out of range.
	ErrInvalidDayStartHour = errors.New("dql.day_start_hour must be between 0 and 23")
	// ErrInvalidReportTop indicates the summary row cap is negative.
	ErrInvalidReportTop = errors.New("report.top must be non-negative")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.WindowDays < 1 {
		return ErrInvalidWindowDays
	}

	if c.DQL.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	if c.DQL.PollTimeout <= 0 {
		return ErrInvalidPollTimeout
	}

	if c.DQL.MaxResultBytes <= 0 {
		return ErrInvalidMaxResultBytes
	}

	if c.DQL.DayStartHour < 0 || c.DQL.DayStartHour >= hoursPerDay {
		return ErrInvalidDayStartHour
	}

	if c.Report.Top < 0 {
		return ErrInvalidReportTop
	}

	return nil
}
