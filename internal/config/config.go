package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "SECURENOTES"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "securenotes.db"
	defaultLogLevel        = "info"
	defaultCookieName      = "securenotes_session"
	defaultIssuer          = "securenotes"
	defaultAudience        = "securenotes-api"
	defaultTokenTTLMinutes = 60
	encryptionKeyHexLength = 64
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	LogFile        string
	EncryptionKey  string
	SigningSecret  string
	Issuer         string
	Audience       string
	TokenTTL       time.Duration
	CookieName     string
	AllowedOrigins []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("encryption.key", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("cors.allowed_origins", []string{})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    strings.TrimSpace(configViper.GetString("http.address")),
		DatabasePath:   strings.TrimSpace(configViper.GetString("database.path")),
		LogLevel:       configViper.GetString("log.level"),
		LogFile:        strings.TrimSpace(configViper.GetString("log.file")),
		EncryptionKey:  strings.TrimSpace(configViper.GetString("encryption.key")),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		Issuer:         strings.TrimSpace(configViper.GetString("auth.issuer")),
		Audience:       strings.TrimSpace(configViper.GetString("auth.audience")),
		TokenTTL:       time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		CookieName:     strings.TrimSpace(configViper.GetString("auth.cookie_name")),
		AllowedOrigins: splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("encryption.key is required")
	}
	if len(c.EncryptionKey) != encryptionKeyHexLength {
		return fmt.Errorf("encryption.key must be %d hex characters", encryptionKeyHexLength)
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.Issuer == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.CookieName == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	return nil
}

// splitOrigins accepts both list values and a single comma separated env value.
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}
