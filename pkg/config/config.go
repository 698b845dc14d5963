// Package config loads and validates PailFlow's runtime configuration.
// Three layers are merged, lowest precedence first: hardcoded defaults, an
// optional pailflow.yaml file in the config directory, and environment
// variables (optionally pre-loaded from a .env file by the caller via
// godotenv) — mirroring the teacher's YAML+env layering in
// pkg/config/loader.go, simplified to PailFlow's flat settings surface.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved, ready-to-use configuration.
type Config struct {
	HTTPPort string `yaml:"http_port"`

	Encryption EncryptionConfig `yaml:"encryption"`
	Placement  PlacementConfig  `yaml:"placement"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Bot        BotDefaults      `yaml:"bot"`
	Email      EmailConfig      `yaml:"email"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	KeyVerify  KeyVerifyConfig  `yaml:"key_verify"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
}

// EncryptionConfig holds the field-level encryption master key (I1/I6).
type EncryptionConfig struct {
	// MasterKey is the raw passphrase from ENCRYPTION_KEY. Must be >= 32 chars.
	MasterKey string `yaml:"master_key"`
}

// PlacementConfig selects and configures the three placement backends (§6).
type PlacementConfig struct {
	UseFunctionBots bool   `yaml:"use_function_bots"`
	FunctionBaseURL string `yaml:"function_base_url"`
	FunctionAppName string `yaml:"function_app_name"`
	FunctionName    string `yaml:"function_name"`
	FunctionAPIKey  string `yaml:"function_api_key"`
	FlyAPIHost      string `yaml:"fly_api_host"`
	FlyAppName      string `yaml:"fly_app_name"`
	FlyAPIKey       string `yaml:"fly_api_key"`
}

// PricingConfig carries the one process-wide configurable rate (§4.5).
type PricingConfig struct {
	BotCallRatePerMinute float64 `yaml:"bot_call_rate_per_minute"`
}

// BotDefaults carries defaults applied to bot_config when fields are omitted,
// and the timing constants from §4.2/§5.
type BotDefaults struct {
	AggregationTimeout       time.Duration `yaml:"aggregation_timeout"`
	EmulatedVADTimeout       time.Duration `yaml:"emulated_vad_timeout"`
	AnimationFramesPerSprite int           `yaml:"animation_frames_per_sprite"`
	WarningThreshold         time.Duration `yaml:"warning_threshold"` // list_active_bots warning annotation
	CleanupMaxHours          float64       `yaml:"cleanup_max_hours"` // cleanup_long_running_bots default
	TransportCleanupTimeout  time.Duration `yaml:"transport_cleanup_timeout"`
	TransportDrainSleep      time.Duration `yaml:"transport_drain_sleep"`
	WorkerAwaitTimeout       time.Duration `yaml:"worker_await_timeout"`
}

// EmailConfig configures the Resend-based email side effect (§4.4 step 6).
type EmailConfig struct {
	ResendAPIKey string `yaml:"resend_api_key"`
	ResendDomain string `yaml:"resend_domain"`
}

// WebhookConfig configures retry behavior for §4.4 step 7.
type WebhookConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// KeyVerifyConfig configures the external bearer-token verification service (§6).
type KeyVerifyConfig struct {
	VerifyURL string `yaml:"verify_url"`
}

// RedisConfig holds Redis connection settings read from the environment.
// No package in this module connects to Redis; usage-stat serialization
// uses in-process locking only.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig mirrors pkg/database.Config; kept here so config.Initialize
// is the single source of configuration.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func defaultConfig() *Config {
	return &Config{
		HTTPPort: "8080",
		Placement: PlacementConfig{
			FunctionBaseURL: "https://api.modal.com/v1",
			FlyAPIHost:      "https://api.machines.dev/v1",
		},
		Pricing: PricingConfig{BotCallRatePerMinute: 0.15},
		Bot: BotDefaults{
			AggregationTimeout:       time.Second,
			EmulatedVADTimeout:       time.Second,
			AnimationFramesPerSprite: 3,
			WarningThreshold:         time.Hour,
			CleanupMaxHours:          2.0,
			TransportCleanupTimeout:  2 * time.Second,
			TransportDrainSleep:      1500 * time.Millisecond,
			WorkerAwaitTimeout:       5 * time.Second,
		},
		Webhook: WebhookConfig{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
		},
		Redis: RedisConfig{DB: 0},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "pailflow",
			Database:        "pailflow",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
	}
}

// loadYAMLOverlay reads pailflow.yaml from configDir, if present. A missing
// file is not an error — PailFlow runs entirely off environment variables
// in that case.
func loadYAMLOverlay(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "pailflow.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &overlay, nil
}

// envOverlay builds a Config carrying only the settings explicitly present
// in the environment, leaving every other field at its zero value so a
// mergo.WithOverride merge touches only what was actually set.
func envOverlay() *Config {
	overlay := &Config{}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		overlay.HTTPPort = v
	}
	overlay.Encryption.MasterKey = os.Getenv("ENCRYPTION_KEY")

	if v, ok := lookupBool("USE_MODAL_BOTS"); ok {
		overlay.Placement.UseFunctionBots = v
	}
	overlay.Placement.FunctionBaseURL = os.Getenv("MODAL_API_HOST")
	overlay.Placement.FunctionAppName = os.Getenv("MODAL_APP_NAME")
	overlay.Placement.FunctionName = os.Getenv("MODAL_FUNCTION_NAME")
	overlay.Placement.FunctionAPIKey = os.Getenv("MODAL_API_KEY")
	overlay.Placement.FlyAPIHost = os.Getenv("FLY_API_HOST")
	overlay.Placement.FlyAppName = os.Getenv("FLY_APP_NAME")
	overlay.Placement.FlyAPIKey = os.Getenv("FLY_API_KEY")

	if v, ok := lookupFloat("BOT_CALL_RATE_PER_MINUTE"); ok {
		overlay.Pricing.BotCallRatePerMinute = v
	}

	if v, ok := lookupDuration("BOT_AGGREGATION_TIMEOUT"); ok {
		overlay.Bot.AggregationTimeout = v
	}
	if v, ok := lookupDuration("BOT_VAD_TIMEOUT"); ok {
		overlay.Bot.EmulatedVADTimeout = v
	}
	if v, ok := lookupInt("BOT_ANIMATION_FRAMES_PER_SPRITE"); ok {
		overlay.Bot.AnimationFramesPerSprite = v
	}
	if v, ok := lookupDuration("BOT_WARNING_THRESHOLD"); ok {
		overlay.Bot.WarningThreshold = v
	}
	if v, ok := lookupFloat("BOT_CLEANUP_MAX_HOURS"); ok {
		overlay.Bot.CleanupMaxHours = v
	}
	if v, ok := lookupDuration("BOT_TRANSPORT_CLEANUP_TIMEOUT"); ok {
		overlay.Bot.TransportCleanupTimeout = v
	}
	if v, ok := lookupDuration("BOT_TRANSPORT_DRAIN_SLEEP"); ok {
		overlay.Bot.TransportDrainSleep = v
	}
	if v, ok := lookupDuration("BOT_WORKER_AWAIT_TIMEOUT"); ok {
		overlay.Bot.WorkerAwaitTimeout = v
	}

	overlay.Email.ResendAPIKey = os.Getenv("RESEND_API_KEY")
	overlay.Email.ResendDomain = os.Getenv("RESEND_EMAIL_DOMAIN")

	if v, ok := lookupInt("WEBHOOK_MAX_ATTEMPTS"); ok {
		overlay.Webhook.MaxAttempts = v
	}
	if v, ok := lookupDuration("WEBHOOK_INITIAL_DELAY"); ok {
		overlay.Webhook.InitialDelay = v
	}

	overlay.KeyVerify.VerifyURL = os.Getenv("UNKEY_VERIFY_URL")

	overlay.Redis.Addr = os.Getenv("REDIS_ADDR")
	overlay.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if v, ok := lookupInt("REDIS_DB"); ok {
		overlay.Redis.DB = v
	}

	overlay.Database.Host = os.Getenv("DB_HOST")
	if v, ok := lookupInt("DB_PORT"); ok {
		overlay.Database.Port = v
	}
	overlay.Database.User = os.Getenv("DB_USER")
	overlay.Database.Password = os.Getenv("DB_PASSWORD")
	overlay.Database.Database = os.Getenv("DB_NAME")
	overlay.Database.SSLMode = os.Getenv("DB_SSLMODE")
	if v, ok := lookupInt("DB_MAX_OPEN_CONNS"); ok {
		overlay.Database.MaxOpenConns = v
	}
	if v, ok := lookupInt("DB_MAX_IDLE_CONNS"); ok {
		overlay.Database.MaxIdleConns = v
	}
	if v, ok := lookupDuration("DB_CONN_MAX_LIFETIME"); ok {
		overlay.Database.ConnMaxLifetime = v
	}

	return overlay
}

// Initialize loads configuration from defaults, an optional pailflow.yaml
// in configDir (CONFIG_DIR env var, defaulting to ./deploy/config), and
// environment variables, in ascending precedence, then validates the
// result. This is the primary entry point, mirroring the teacher's
// config.Initialize(ctx, configDir).
func Initialize() (*Config, error) {
	cfg := defaultConfig()

	configDir := getEnv("CONFIG_DIR", "./deploy/config")
	fileCfg, err := loadYAMLOverlay(configDir)
	if err != nil {
		return nil, fmt.Errorf("load pailflow.yaml: %w", err)
	}
	if fileCfg != nil {
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge pailflow.yaml: %w", err)
		}
	}

	if err := mergo.Merge(cfg, envOverlay(), mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge environment overrides: %w", err)
	}
	// mergo skips zero values, so an explicit non-positive rate is applied
	// here directly and then rejected by validate.
	if v, ok := lookupFloat("BOT_CALL_RATE_PER_MINUTE"); ok {
		cfg.Pricing.BotCallRatePerMinute = v
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.Encryption.MasterKey) < 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be set and at least 32 characters long (got %d)", len(cfg.Encryption.MasterKey))
	}
	if cfg.Pricing.BotCallRatePerMinute <= 0 {
		return fmt.Errorf("BOT_CALL_RATE_PER_MINUTE must be positive, got %v", cfg.Pricing.BotCallRatePerMinute)
	}
	return nil
}

// PreferredBackend resolves the placement backend preference order
// (Function → VM → InProcess) from configuration, per §4.1.
func (c PlacementConfig) PreferredBackend() string {
	if c.UseFunctionBots && c.FunctionAppName != "" && c.FunctionName != "" {
		return "function"
	}
	if c.FlyAPIKey != "" && c.FlyAppName != "" {
		return "vm"
	}
	return "in_process"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func lookupBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	return strings.EqualFold(v, "true") || v == "1", true
}

func lookupInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func lookupDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
