package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Cosmos        CosmosConfig        `yaml:"cosmos" mapstructure:"cosmos"`
	OpenFoodFacts OpenFoodFactsConfig `yaml:"open_food_facts" mapstructure:"open_food_facts"`
	Anthropic     AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	Resolver      ResolverConfig      `yaml:"resolver" mapstructure:"resolver"`
	Worker        WorkerConfig        `yaml:"worker" mapstructure:"worker"`
	Lock          LockConfig          `yaml:"lock" mapstructure:"lock"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CosmosConfig holds Bluesoft Cosmos API settings. Tokens is the credential
// pool the rotator cycles through when a token hits its daily quota.
type CosmosConfig struct {
	Tokens      []string `yaml:"tokens" mapstructure:"tokens"`
	BaseURL     string   `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// OpenFoodFactsConfig holds the open grocery catalog settings.
type OpenFoodFactsConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// AnthropicConfig holds the generative matching settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ResolverConfig configures the waterfall matcher.
type ResolverConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	MaxCandidates       int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	TuningFile          string  `yaml:"tuning_file" mapstructure:"tuning_file"`
}

// WorkerConfig configures the enrichment worker batch loop.
type WorkerConfig struct {
	BatchSize   int `yaml:"batch_size" mapstructure:"batch_size"`
	SleepSecs   int `yaml:"sleep_secs" mapstructure:"sleep_secs"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// SleepInterval returns the pause between batches.
func (w WorkerConfig) SleepInterval() time.Duration {
	return time.Duration(w.SleepSecs) * time.Second
}

// LockConfig configures the extraction coordinator.
type LockConfig struct {
	PollSecs     int `yaml:"poll_secs" mapstructure:"poll_secs"`
	SettleMillis int `yaml:"settle_millis" mapstructure:"settle_millis"`
	JitterMillis int `yaml:"jitter_millis" mapstructure:"jitter_millis"`
	MaxWaitSecs  int `yaml:"max_wait_secs" mapstructure:"max_wait_secs"`
	StaleSecs    int `yaml:"stale_secs" mapstructure:"stale_secs"`
	SweepSecs    int `yaml:"sweep_secs" mapstructure:"sweep_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PRECOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cosmos.base_url", "https://api.cosmos.bluesoft.com.br")
	v.SetDefault("cosmos.timeout_secs", 10)
	v.SetDefault("open_food_facts.base_url", "https://world.openfoodfacts.org")
	v.SetDefault("open_food_facts.timeout_secs", 10)
	v.SetDefault("open_food_facts.rate_limit", 2)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("resolver.similarity_threshold", 0.80)
	v.SetDefault("resolver.max_candidates", 20)
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.sleep_secs", 5)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("lock.poll_secs", 2)
	v.SetDefault("lock.settle_millis", 1500)
	v.SetDefault("lock.jitter_millis", 500)
	v.SetDefault("lock.max_wait_secs", 600)
	v.SetDefault("lock.stale_secs", 300)
	v.SetDefault("lock.sweep_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
