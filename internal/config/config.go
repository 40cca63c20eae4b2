package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// DevPassphrase is used when ENV=development and no passphrase is set.
const DevPassphrase = "dev-encryption-key"

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	EncryptionPassphrase          string   `mapstructure:"ENCRYPTION_PASSPHRASE"`
	EncryptionPreviousPassphrases []string `mapstructure:"ENCRYPTION_PREVIOUS_PASSPHRASES"`
	EncryptionSaltFile            string   `mapstructure:"ENCRYPTION_SALT_FILE"`
	EncryptionKDFIterations       int      `mapstructure:"ENCRYPTION_KDF_ITERATIONS"`

	UploadDir         string `mapstructure:"UPLOAD_DIR"`
	MaxUploadSize     string `mapstructure:"MAX_UPLOAD_SIZE"`
	OCRLanguage       string `mapstructure:"OCR_LANGUAGE"`
	BinarizeThreshold int    `mapstructure:"BINARIZE_THRESHOLD"`
	MetricPatterns    string `mapstructure:"METRIC_PATTERNS"`
	CurrentSelection  string `mapstructure:"CURRENT_SELECTION"`

	ReminderLead time.Duration `mapstructure:"REMINDER_LEAD"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "CORS_ORIGINS",
	"ENCRYPTION_PASSPHRASE", "ENCRYPTION_PREVIOUS_PASSPHRASES", "ENCRYPTION_SALT_FILE", "ENCRYPTION_KDF_ITERATIONS",
	"UPLOAD_DIR", "MAX_UPLOAD_SIZE", "OCR_LANGUAGE", "BINARIZE_THRESHOLD", "METRIC_PATTERNS", "CURRENT_SELECTION",
	"REMINDER_LEAD", "TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads the environment and an optional .env file. It does not require
// a database; commands that need one call Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("ENCRYPTION_SALT_FILE", "instance/encryption.salt")
	v.SetDefault("ENCRYPTION_KDF_ITERATIONS", 100000)
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("MAX_UPLOAD_SIZE", "16M")
	v.SetDefault("OCR_LANGUAGE", "eng")
	v.SetDefault("BINARIZE_THRESHOLD", 150)
	v.SetDefault("METRIC_PATTERNS", "labeled")
	v.SetDefault("CURRENT_SELECTION", "latest")
	v.SetDefault("REMINDER_LEAD", "24h")

	// Bind explicitly so Unmarshal sees keys that have no default.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env file is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.EncryptionPreviousPassphrases = splitList(cfg.EncryptionPreviousPassphrases)

	if cfg.EncryptionPassphrase == "" && cfg.IsDev() {
		log.Warn().Msg("ENCRYPTION_PASSPHRASE not set, using the development passphrase; do not store real records")
		cfg.EncryptionPassphrase = DevPassphrase
	}

	return cfg, nil
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ValidatePipeline checks the extraction and parsing settings. Commands that
// run the pipeline without a database call it instead of Validate.
func (c *Config) ValidatePipeline() error {
	if c.BinarizeThreshold < 0 || c.BinarizeThreshold > 255 {
		return fmt.Errorf("BINARIZE_THRESHOLD must be between 0 and 255, got %d", c.BinarizeThreshold)
	}
	if c.MetricPatterns != "labeled" && c.MetricPatterns != "shared" {
		return fmt.Errorf("METRIC_PATTERNS must be \"labeled\" or \"shared\", got %q", c.MetricPatterns)
	}
	if c.CurrentSelection != "latest" && c.CurrentSelection != "first-seen" {
		return fmt.Errorf("CURRENT_SELECTION must be \"latest\" or \"first-seen\", got %q", c.CurrentSelection)
	}
	return nil
}

// Validate checks that the configuration is safe to serve requests with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.EncryptionPassphrase == "" {
		return fmt.Errorf("ENCRYPTION_PASSPHRASE is required when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.EncryptionPassphrase == DevPassphrase {
		return fmt.Errorf("ENCRYPTION_PASSPHRASE must not be the development passphrase in production")
	}
	if c.IsProduction() && c.EncryptionSaltFile == "" {
		return fmt.Errorf("ENCRYPTION_SALT_FILE is required in production")
	}
	if c.EncryptionKDFIterations < 1000 {
		return fmt.Errorf("ENCRYPTION_KDF_ITERATIONS must be at least 1000, got %d", c.EncryptionKDFIterations)
	}
	if err := c.ValidatePipeline(); err != nil {
		return err
	}
	if c.ReminderLead < 0 {
		return fmt.Errorf("REMINDER_LEAD must not be negative, got %s", c.ReminderLead)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
