package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".cochange"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for cochange settings.
const envPrefix = "COCHANGE"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// dotEnvFile is loaded from the working directory before anything else.
const dotEnvFile = ".env"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
//
// Variables from a .env file in the working directory are exported first
// without overriding the real environment. GITHUB_TOKEN fills
// source.token when neither the file nor COCHANGE_SOURCE_TOKEN set it.
func LoadConfig(configPath string) (*Config, error) {
	err := loadDotEnv(dotEnvFile)
	if err != nil {
		return nil, err
	}

	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	bindErr := viperCfg.BindEnv("source.token", envPrefix+"_SOURCE_TOKEN", "GITHUB_TOKEN")
	if bindErr != nil {
		return nil, fmt.Errorf("bind env: %w", bindErr)
	}

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, homeErr := os.UserHomeDir()
		if homeErr == nil {
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

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("load %s: %w", path, err)
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("source.kind", DefaultSourceKind)
	viperCfg.SetDefault("source.path", DefaultSourcePath)
	viperCfg.SetDefault("source.ref", DefaultSourceRef)
	viperCfg.SetDefault("source.state", DefaultSourceState)
	viperCfg.SetDefault("source.detail", DefaultSourceDetail)
	viperCfg.SetDefault("source.api_url", DefaultSourceAPIURL)
	viperCfg.SetDefault("source.timeout", DefaultSourceTimeout)
	viperCfg.SetDefault("source.max_changesets", DefaultMaxChangeSets)

	viperCfg.SetDefault("build.weighting", DefaultWeighting)
	viperCfg.SetDefault("build.max_changeset_files", DefaultMaxChangeSetFiles)
	viperCfg.SetDefault("build.fetch_workers", DefaultFetchWorkers)
	viperCfg.SetDefault("build.skip_vendored", DefaultSkipVendored)
	viperCfg.SetDefault("build.include", []string{})
	viperCfg.SetDefault("build.exclude", []string{})
	viperCfg.SetDefault("build.languages", []string{})

	viperCfg.SetDefault("output.path", DefaultOutputPath)
	viperCfg.SetDefault("output.format", DefaultOutputFormat)
	viperCfg.SetDefault("output.compress", DefaultOutputCompress)
	viperCfg.SetDefault("output.sqlite", "")

	viperCfg.SetDefault("server.addr", DefaultServerAddr)
	viperCfg.SetDefault("server.dir", DefaultServerDir)
	viperCfg.SetDefault("server.index", DefaultServerIndex)
	viperCfg.SetDefault("server.workers", DefaultServerWorkers)
	viperCfg.SetDefault("server.cache_entries", DefaultServerCacheEntries)
	viperCfg.SetDefault("server.read_timeout", DefaultServerReadTimeout)
	viperCfg.SetDefault("server.write_timeout", DefaultServerWriteTimeout)

	viperCfg.SetDefault("logging.level", DefaultLogLevel)
	viperCfg.SetDefault("logging.json", DefaultLogJSON)

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", DefaultOTLPInsecure)
	viperCfg.SetDefault("telemetry.sample_ratio", DefaultSampleRatio)
	viperCfg.SetDefault("telemetry.diagnostics_addr", "")
	viperCfg.SetDefault("telemetry.verbose", false)
}
