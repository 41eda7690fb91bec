package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is built once by Load
// and treated as read-only afterwards.
type Config struct {
	Workspace string         `yaml:"workspace" mapstructure:"workspace" validate:"required"`
	AWS       AWSConfig      `yaml:"aws" mapstructure:"aws"`
	DSS       DSSConfig      `yaml:"dss" mapstructure:"dss"`
	Email     EmailConfig    `yaml:"email" mapstructure:"email"`
	S3        S3Config       `yaml:"s3" mapstructure:"s3"`
	Store     StoreConfig    `yaml:"store" mapstructure:"store"`
	Workflow  WorkflowConfig `yaml:"workflow" mapstructure:"workflow"`
	Wiley     WileyConfig    `yaml:"wiley" mapstructure:"wiley"`
	Retry     RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Log       LogConfig      `yaml:"log" mapstructure:"log"`
	Alerts    AlertsConfig   `yaml:"alerts" mapstructure:"alerts"`
}

// AWSConfig holds AWS client settings.
type AWSConfig struct {
	Region string `yaml:"region" mapstructure:"region" validate:"required"`
	// Endpoint overrides the service endpoint for every client (localstack).
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// DSSConfig configures the DSpace Submission Service queues.
type DSSConfig struct {
	InputQueue       string `yaml:"input_queue" mapstructure:"input_queue" validate:"required"`
	SubmissionSystem string `yaml:"submission_system" mapstructure:"submission_system"`
}

// EmailConfig configures report delivery.
type EmailConfig struct {
	Source  string `yaml:"source" mapstructure:"source" validate:"required"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// S3Config holds bucket names.
type S3Config struct {
	SubmissionAssetsBucket    string `yaml:"submission_assets_bucket" mapstructure:"submission_assets_bucket" validate:"required"`
	SyncSourceBucket          string `yaml:"sync_source_bucket" mapstructure:"sync_source_bucket"`
	ArchivesSpaceOutputBucket string `yaml:"archivesspace_output_bucket" mapstructure:"archivesspace_output_bucket"`
}

// StoreConfig configures the item submission table backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=dynamodb postgres sqlite"`
	TableName   string `yaml:"table_name" mapstructure:"table_name"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required_if=Driver postgres"`
}

// WorkflowConfig holds settings shared by every workflow.
type WorkflowConfig struct {
	RetryThreshold int    `yaml:"retry_threshold" mapstructure:"retry_threshold" validate:"gte=1"`
	TempDir        string `yaml:"temp_dir" mapstructure:"temp_dir"`
	MappingFile    string `yaml:"mapping_file" mapstructure:"mapping_file"`
}

// WileyConfig configures the Crossref metadata and Wiley content APIs.
type WileyConfig struct {
	MetadataAPIURL string `yaml:"metadata_api_url" mapstructure:"metadata_api_url"`
	ContentAPIURL  string `yaml:"content_api_url" mapstructure:"content_api_url"`
	Mailto         string `yaml:"mailto" mapstructure:"mailto"`
	Concurrency    int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// RetryConfig configures retries of AWS and HTTP calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	// WarningOnly lists components whose loggers only emit warn and above.
	WarningOnly []string `yaml:"warning_only" mapstructure:"warning_only"`
}

// AlertsConfig configures failure alerts.
type AlertsConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// OutputQueue returns the queue DSS writes results to for this workspace.
func (c *Config) OutputQueue() string {
	return "dss-output-dsc-" + c.Workspace
}

// Load reads configuration from file and environment and validates it.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DSC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Empty defaults register the key so env overrides unmarshal.
	v.SetDefault("workspace", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("dss.input_queue", "")
	v.SetDefault("dss.submission_system", "DSpace@MIT")
	v.SetDefault("email.source", "")
	v.SetDefault("email.enabled", true)
	v.SetDefault("s3.submission_assets_bucket", "")
	v.SetDefault("s3.sync_source_bucket", "")
	v.SetDefault("s3.archivesspace_output_bucket", "")
	v.SetDefault("store.driver", "dynamodb")
	v.SetDefault("store.table_name", "")
	v.SetDefault("store.database_url", "")
	v.SetDefault("workflow.retry_threshold", 20)
	v.SetDefault("workflow.temp_dir", "/tmp/dsc")
	v.SetDefault("workflow.mapping_file", "")
	v.SetDefault("wiley.metadata_api_url", "https://api.crossref.org/works/")
	v.SetDefault("wiley.content_api_url", "")
	v.SetDefault("wiley.mailto", "")
	v.SetDefault("wiley.concurrency", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.warning_only", []string{})
	v.SetDefault("alerts.webhook_url", "")

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

	if cfg.Store.TableName == "" && cfg.Workspace != "" {
		cfg.Store.TableName = "dsc-item-submissions-" + cfg.Workspace
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks every required key and reports all failures at once.
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return eris.Wrap(err, "config: validate")
	}

	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required", "required_if":
			problems = append(problems, fmt.Sprintf("%s is required", key))
		default:
			problems = append(problems, fmt.Sprintf("%s is invalid (%s=%s)", key, fe.Tag(), fe.Param()))
		}
	}
	sort.Strings(problems)

	return eris.Errorf("config: %s", strings.Join(problems, "; "))
}

// warningOnly holds components raised to warn level by InitLogger.
var warningOnly = map[string]bool{}

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

	warningOnly = make(map[string]bool, len(cfg.WarningOnly))
	for _, name := range cfg.WarningOnly {
		warningOnly[strings.TrimSpace(name)] = true
	}

	return nil
}

// Logger returns the global logger tagged with component. Components listed
// in log.warning_only only log at warn level and above.
func Logger(component string) *zap.Logger {
	log := zap.L().With(zap.String("component", component))
	if warningOnly[component] {
		log = log.WithOptions(zap.IncreaseLevel(zapcore.WarnLevel))
	}
	return log
}
