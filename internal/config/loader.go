package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".excreport"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for excreport settings.
const envPrefix = "EXCREPORT"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("query_file", DefaultQueryFile)
	viperCfg.SetDefault("rules_file", DefaultRulesFile)
	viperCfg.SetDefault("output_dir", DefaultOutputDir)
	viperCfg.SetDefault("window_days", DefaultWindowDays)

	viperCfg.SetDefault("dql.base_url", "")
	viperCfg.SetDefault("dql.poll_interval", DefaultPollInterval)
	viperCfg.SetDefault("dql.poll_timeout", DefaultPollTimeout)
	viperCfg.SetDefault("dql.max_result_bytes", DefaultMaxResultBytes)
	viperCfg.SetDefault("dql.timezone", DefaultTimezone)
	viperCfg.SetDefault("dql.day_start_hour", DefaultDayStartHour)

	viperCfg.SetDefault("report.xlsx", DefaultReportXLSX)
	viperCfg.SetDefault("report.chart", DefaultReportChart)
	viperCfg.SetDefault("report.top", DefaultReportTop)
}
