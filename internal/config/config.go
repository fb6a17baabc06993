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
	Store     StoreConfig            `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig        `yaml:"anthropic" mapstructure:"anthropic"`
	OCR       OCRConfig              `yaml:"ocr" mapstructure:"ocr"`
	Portal    PortalConfig           `yaml:"portal" mapstructure:"portal"`
	Excel     ExcelConfig            `yaml:"excel" mapstructure:"excel"`
	Rules     RulesConfig            `yaml:"rules" mapstructure:"rules"`
	Compare   CompareConfig          `yaml:"compare" mapstructure:"compare"`
	Intake    IntakeConfig           `yaml:"intake" mapstructure:"intake"`
	Batch     BatchConfig            `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig           `yaml:"server" mapstructure:"server"`
	Log       LogConfig              `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the result store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds LLM extraction settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"` // "local" or "mistral"
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
}

// PortalConfig configures remote portal automation.
type PortalConfig struct {
	Systems         map[string]SystemConfig `yaml:"systems" mapstructure:"systems"`
	PrimarySystem   string                  `yaml:"primary_system" mapstructure:"primary_system"`
	MeterSystem     string                  `yaml:"meter_system" mapstructure:"meter_system"`
	Headless        bool                    `yaml:"headless" mapstructure:"headless"`
	NavTimeoutSecs  int                     `yaml:"nav_timeout_secs" mapstructure:"nav_timeout_secs"`
	PollAttempts    int                     `yaml:"poll_attempts" mapstructure:"poll_attempts"`
	PollIntervalMS  int                     `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	AuthFailLimit   int                     `yaml:"auth_fail_limit" mapstructure:"auth_fail_limit"`
	AuthFailResetMS int                     `yaml:"auth_fail_reset_ms" mapstructure:"auth_fail_reset_ms"`
}

// NavTimeout returns the per-step navigation budget as a duration.
func (c PortalConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSecs) * time.Second
}

// PollInterval returns the wait between poll attempts as a duration.
func (c PortalConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// AuthFailReset returns the auth circuit reset window as a duration.
func (c PortalConfig) AuthFailReset() time.Duration {
	return time.Duration(c.AuthFailResetMS) * time.Millisecond
}

// SystemConfig describes one backend system: its login page, credentials,
// and the selectors the fetcher drives.
type SystemConfig struct {
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	Username         string `yaml:"username" mapstructure:"username"`
	Password         string `yaml:"password" mapstructure:"password"`
	UserSelector     string `yaml:"user_selector" mapstructure:"user_selector"`
	PassSelector     string `yaml:"pass_selector" mapstructure:"pass_selector"`
	LoginSelector    string `yaml:"login_selector" mapstructure:"login_selector"`
	LoggedInSelector string `yaml:"logged_in_selector" mapstructure:"logged_in_selector"`
	MenuSelector     string `yaml:"menu_selector" mapstructure:"menu_selector"`
	SubMenuSelector  string `yaml:"submenu_selector" mapstructure:"submenu_selector"`
	SearchSelector   string `yaml:"search_selector" mapstructure:"search_selector"`
	SubmitSelector   string `yaml:"submit_selector" mapstructure:"submit_selector"`
	ResultSelector   string `yaml:"result_selector" mapstructure:"result_selector"`
	RecordSelector   string `yaml:"record_selector" mapstructure:"record_selector"`
	PromptID         string `yaml:"prompt_id" mapstructure:"prompt_id"`
}

// ExcelConfig configures the spreadsheet source.
type ExcelConfig struct {
	Path      string `yaml:"path" mapstructure:"path"`
	Sheet     string `yaml:"sheet" mapstructure:"sheet"`
	KeyColumn string `yaml:"key_column" mapstructure:"key_column"`
}

// RulesConfig points at the business-rule definitions.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// CompareConfig tunes reconciliation semantics.
type CompareConfig struct {
	// StrictAbsent fails a field when any source does not report it.
	StrictAbsent bool `yaml:"strict_absent" mapstructure:"strict_absent"`
}

// IntakeConfig configures the intake folder and archive layout.
type IntakeConfig struct {
	Dir         string `yaml:"dir" mapstructure:"dir"`
	ArchiveRoot string `yaml:"archive_root" mapstructure:"archive_root"`
	MoveDelayMS int    `yaml:"move_delay_ms" mapstructure:"move_delay_ms"`
	FilePauseMS int    `yaml:"file_pause_ms" mapstructure:"file_pause_ms"`
}

// MoveDelay returns the pre-move throttle as a duration.
func (c IntakeConfig) MoveDelay() time.Duration {
	return time.Duration(c.MoveDelayMS) * time.Millisecond
}

// FilePause returns the inter-file pause as a duration.
func (c IntakeConfig) FilePause() time.Duration {
	return time.Duration(c.FilePauseMS) * time.Millisecond
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the results HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("LEASEVERIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leaseverify.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("portal.primary_system", "portal")
	v.SetDefault("portal.headless", true)
	v.SetDefault("portal.nav_timeout_secs", 30)
	v.SetDefault("portal.poll_attempts", 10)
	v.SetDefault("portal.poll_interval_ms", 500)
	v.SetDefault("portal.auth_fail_limit", 2)
	v.SetDefault("portal.auth_fail_reset_ms", 600_000)
	v.SetDefault("excel.key_column", "Contract Number")
	v.SetDefault("rules.path", "rules.yaml")
	v.SetDefault("compare.strict_absent", false)
	v.SetDefault("intake.dir", "intake")
	v.SetDefault("intake.archive_root", "archive")
	v.SetDefault("intake.move_delay_ms", 200)
	v.SetDefault("intake.file_pause_ms", 100)
	v.SetDefault("batch.concurrency", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that the settings a command needs are present.
// scope is "verify" for pipeline commands, "store" for store-only commands.
func (c *Config) Validate(scope string) error {
	if scope == "store" {
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required")
		}
		return nil
	}

	if c.Anthropic.Key == "" {
		return eris.New("config: anthropic.key is required (LEASEVERIFY_ANTHROPIC_KEY)")
	}
	if c.OCR.Provider == "mistral" && c.OCR.MistralKey == "" {
		return eris.New("config: ocr.mistral_api_key is required for the mistral provider")
	}
	for name, sys := range c.Portal.Systems {
		if sys.BaseURL == "" {
			return eris.Errorf("config: portal.systems.%s.base_url is required", name)
		}
		if sys.Username == "" || sys.Password == "" {
			return eris.Errorf("config: portal.systems.%s credentials are required", name)
		}
	}
	return nil
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
