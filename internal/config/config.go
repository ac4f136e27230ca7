package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Registry   RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Pipeline   PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Oracle     OracleConfig    `yaml:"oracle" mapstructure:"oracle"`
	Anthropic  AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	WebSearch  WebSearchConfig `yaml:"websearch" mapstructure:"websearch"`
	Preprocess PreprocConfig   `yaml:"preprocess" mapstructure:"preprocess"`
	Log        LogConfig       `yaml:"log" mapstructure:"log"`
}

// RegistryConfig locates the registry store artifacts.
type RegistryConfig struct {
	SQLitePath      string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	CompanyParquet  string `yaml:"company_parquet" mapstructure:"company_parquet"`
	EstabParquet    string `yaml:"estab_parquet" mapstructure:"estab_parquet"`
	PartitionsDir   string `yaml:"partitions_dir" mapstructure:"partitions_dir"`
	SampleRowGroups int    `yaml:"sample_row_groups" mapstructure:"sample_row_groups"`
}

// PipelineConfig configures the resolution pipeline runtime.
type PipelineConfig struct {
	SupplierFile     string  `yaml:"supplier_file" mapstructure:"supplier_file"`
	CheckpointPath   string  `yaml:"checkpoint_path" mapstructure:"checkpoint_path"`
	OutputCSV        string  `yaml:"output_csv" mapstructure:"output_csv"`
	BatchSize        int     `yaml:"batch_size" mapstructure:"batch_size"`
	LimitRows        int     `yaml:"limit_rows" mapstructure:"limit_rows"`
	Workers          int     `yaml:"workers" mapstructure:"workers"`
	RetryErrors      bool    `yaml:"retry_errors" mapstructure:"retry_errors"`
	GraceSecs        int     `yaml:"grace_secs" mapstructure:"grace_secs"`
	OracleRatePerSec float64 `yaml:"oracle_rate_per_sec" mapstructure:"oracle_rate_per_sec"`
}

// OracleConfig configures the cleaning oracle.
type OracleConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings. An empty Key forces the
// offline oracle throughout.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// WebSearchConfig configures the non-domestic web-search branch.
type WebSearchConfig struct {
	Workers       int     `yaml:"workers" mapstructure:"workers"`
	RateLimitSecs float64 `yaml:"rate_limit_secs" mapstructure:"rate_limit_secs"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PreprocConfig configures supplier preprocessing.
type PreprocConfig struct {
	OutputDir      string `yaml:"output_dir" mapstructure:"output_dir"`
	FilterInactive bool   `yaml:"filter_inactive" mapstructure:"filter_inactive"`
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
	v.SetEnvPrefix("SIRENE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The canonical credential variable takes precedence over the
	// prefixed form.
	_ = v.BindEnv("anthropic.key", "ANTHROPIC_API_KEY", "SIRENE_ANTHROPIC_KEY")

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("registry.sqlite_path", "sirene.db")
	v.SetDefault("registry.company_parquet", "StockUniteLegale_utf8.parquet")
	v.SetDefault("registry.estab_parquet", "StockEtablissement_utf8.parquet")
	v.SetDefault("registry.partitions_dir", "sirene_partitions")
	v.SetDefault("pipeline.supplier_file", "Frs.xlsx")
	v.SetDefault("pipeline.checkpoint_path", "state.sqlite")
	v.SetDefault("pipeline.output_csv", "results_enriched.csv")
	v.SetDefault("pipeline.batch_size", 100)
	v.SetDefault("pipeline.grace_secs", 30)
	v.SetDefault("oracle.timeout_secs", 20)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("websearch.workers", 10)
	v.SetDefault("websearch.timeout_secs", 45)
	v.SetDefault("preprocess.output_dir", "preprocessed")
	v.SetDefault("preprocess.filter_inactive", true)

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
