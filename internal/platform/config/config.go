// Package config loads service configuration. Priority: ENV > YAML file >
// defaults. The YAML file path comes from CONFIG_PATH (fallback
// "./config.yaml"); when the file does not exist and CONFIG_PATH was not set
// explicitly, configuration is loaded from ENV + defaults only.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Addr     string `yaml:"addr" env:"VERIFLOW_ADDR" env-default:":8080"`
	LogLevel string `yaml:"log_level" env:"VERIFLOW_LOG_LEVEL" env-default:"info"`

	// AdminToken guards the manual-approval and cancel endpoints. A boolean
	// capability: the bearer either has it or does not.
	AdminToken string `yaml:"admin_token" env:"VERIFLOW_ADMIN_TOKEN"`

	Ledger struct {
		Path   string        `yaml:"path" env:"VERIFLOW_LEDGER_PATH" env-default:"data/verifications.json"`
		MaxAge time.Duration `yaml:"max_age" env:"VERIFLOW_LEDGER_MAX_AGE" env-default:"24h"`
	} `yaml:"ledger"`

	Sweep struct {
		Interval time.Duration `yaml:"interval" env:"VERIFLOW_SWEEP_INTERVAL" env-default:"10m"`
	} `yaml:"sweep"`

	Admission struct {
		DailyCeiling int `yaml:"daily_ceiling" env:"VERIFLOW_DAILY_CEILING" env-default:"100"`
	} `yaml:"admission"`

	Callback struct {
		// ReviewNotice: always | first | never.
		ReviewNotice string `yaml:"review_notice" env:"VERIFLOW_REVIEW_NOTICE" env-default:"first"`
	} `yaml:"callback"`

	Reconciler struct {
		GraceDelay  time.Duration `yaml:"grace_delay" env:"VERIFLOW_RECONCILE_GRACE" env-default:"5m"`
		BaseDelay   time.Duration `yaml:"base_delay" env:"VERIFLOW_RECONCILE_BASE_DELAY" env-default:"30s"`
		MaxAttempts int           `yaml:"max_attempts" env:"VERIFLOW_RECONCILE_MAX_ATTEMPTS" env-default:"12"`
	} `yaml:"reconciler"`

	Provider struct {
		BaseURL string        `yaml:"base_url" env:"VERIFLOW_PROVIDER_URL"`
		APIKey  string        `yaml:"api_key" env:"VERIFLOW_PROVIDER_API_KEY"`
		Timeout time.Duration `yaml:"timeout" env:"VERIFLOW_PROVIDER_TIMEOUT" env-default:"10s"`
	} `yaml:"provider"`

	Backend struct {
		BaseURL  string        `yaml:"base_url" env:"VERIFLOW_BACKEND_URL"`
		Username string        `yaml:"username" env:"VERIFLOW_BACKEND_USERNAME"`
		Password string        `yaml:"password" env:"VERIFLOW_BACKEND_PASSWORD"`
		Timeout  time.Duration `yaml:"timeout" env:"VERIFLOW_BACKEND_TIMEOUT" env-default:"10s"`
	} `yaml:"backend"`

	Chat struct {
		BaseURL string        `yaml:"base_url" env:"VERIFLOW_CHAT_URL"`
		Token   string        `yaml:"token" env:"VERIFLOW_CHAT_TOKEN"`
		Timeout time.Duration `yaml:"timeout" env:"VERIFLOW_CHAT_TIMEOUT" env-default:"10s"`
	} `yaml:"chat"`
}

// Load reads configuration and validates it.
func Load() (*Config, error) {
	var cfg Config

	path := os.Getenv("CONFIG_PATH")
	explicitPath := path != ""
	if !explicitPath {
		path = "./config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// Validate enforces the settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Chat.BaseURL == "" || c.Chat.Token == "" {
		return fmt.Errorf("chat.base_url and chat.token are required")
	}
	switch c.Callback.ReviewNotice {
	case "always", "first", "never":
	default:
		return fmt.Errorf("callback.review_notice must be always, first or never (got %q)", c.Callback.ReviewNotice)
	}
	if c.Reconciler.MaxAttempts <= 0 {
		return fmt.Errorf("reconciler.max_attempts must be positive")
	}
	if c.Ledger.MaxAge <= 0 {
		return fmt.Errorf("ledger.max_age must be positive")
	}
	return nil
}
