package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	KuCoin  KuCoinConfig  `mapstructure:"kucoin" json:"kucoin"`
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
	Vault   VaultConfig   `mapstructure:"vault" json:"vault"`
	Server  ServerConfig  `mapstructure:"server" json:"server"`
}

// KuCoinConfig configures the futures REST client
type KuCoinConfig struct {
	APIKey        string `mapstructure:"api_key" json:"api_key"`
	APISecret     string `mapstructure:"api_secret" json:"api_secret"`
	APIPassphrase string `mapstructure:"api_passphrase" json:"api_passphrase"`

	// Account selects stored credentials when vault is enabled
	Account string `mapstructure:"account" json:"account"`

	BaseURL    string `mapstructure:"base_url" json:"base_url"`
	BaseURLKey string `mapstructure:"base_url_key" json:"base_url_key"` // futures or futures-test
	Sandbox    bool   `mapstructure:"sandbox" json:"sandbox"`

	RecvWindow                int64         `mapstructure:"recv_window" json:"recv_window"` // ms
	SyncInterval              time.Duration `mapstructure:"sync_interval" json:"sync_interval"`
	DisableTimeSync           bool          `mapstructure:"disable_time_sync" json:"disable_time_sync"`
	StrictParamValidation     bool          `mapstructure:"strict_param_validation" json:"strict_param_validation"`
	DisableErrorNormalization bool          `mapstructure:"disable_error_normalization" json:"disable_error_normalization"`
	Timeout                   time.Duration `mapstructure:"timeout" json:"timeout"`

	MockMode   bool   `mapstructure:"mock_mode" json:"mock_mode"`     // Serve from an in-memory transport
	TimeSource string `mapstructure:"time_source" json:"time_source"` // exchange or ntp
	NTPServer  string `mapstructure:"ntp_server" json:"ntp_server"`

	ClientTTL time.Duration `mapstructure:"client_ttl" json:"client_ttl"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level" json:"level"`               // DEBUG, INFO, WARN, ERROR
	Output      string `mapstructure:"output" json:"output"`             // stdout, stderr, or file path
	JSONFormat  bool   `mapstructure:"json_format" json:"json_format"`   // Output as JSON
	IncludeFile bool   `mapstructure:"include_file" json:"include_file"` // Include file and line number

	// Rotation, only used when Output is a file path
	MaxSizeMB  int  `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" json:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" json:"max_age_days"`
	Compress   bool `mapstructure:"compress" json:"compress"`
}

// VaultConfig holds HashiCorp Vault configuration for credential storage
type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
	Address    string `mapstructure:"address" json:"address"`
	Token      string `mapstructure:"token" json:"token"`
	MountPath  string `mapstructure:"mount_path" json:"mount_path"`   // KV secrets engine mount path
	SecretPath string `mapstructure:"secret_path" json:"secret_path"` // Path prefix for credentials
	TLSEnabled bool   `mapstructure:"tls_enabled" json:"tls_enabled"`
	CACert     string `mapstructure:"ca_cert" json:"ca_cert"`
}

// ServerConfig holds the serve mode HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" json:"host"`
	Port            int           `mapstructure:"port" json:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" json:"allowed_origins"` // CORS allowed origins
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	JWTSecret       string        `mapstructure:"jwt_secret" json:"-"` // signs /api/v1 bearer tokens
	TokenTTL        time.Duration `mapstructure:"token_ttl" json:"token_ttl"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func setDefaults(v *viper.Viper) {
	// Credentials have empty defaults so AutomaticEnv can bind them
	v.SetDefault("kucoin.api_key", "")
	v.SetDefault("kucoin.api_secret", "")
	v.SetDefault("kucoin.api_passphrase", "")
	v.SetDefault("kucoin.account", "default")
	v.SetDefault("kucoin.base_url", "")
	v.SetDefault("kucoin.base_url_key", "")
	v.SetDefault("kucoin.sandbox", false)
	v.SetDefault("kucoin.recv_window", 5000)
	v.SetDefault("kucoin.sync_interval", time.Hour)
	v.SetDefault("kucoin.disable_time_sync", false)
	v.SetDefault("kucoin.strict_param_validation", false)
	v.SetDefault("kucoin.disable_error_normalization", false)
	v.SetDefault("kucoin.timeout", 5*time.Minute)
	v.SetDefault("kucoin.mock_mode", false)
	v.SetDefault("kucoin.time_source", TimeSourceExchange)
	v.SetDefault("kucoin.ntp_server", "pool.ntp.org")
	v.SetDefault("kucoin.client_ttl", 30*time.Minute)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.json_format", true)
	v.SetDefault("logging.include_file", false)
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "http://localhost:8200")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "kucoin-futures/api-keys")
	v.SetDefault("vault.tls_enabled", false)
	v.SetDefault("vault.ca_cert", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.token_ttl", 24*time.Hour)
}

const (
	TimeSourceExchange = "exchange"
	TimeSourceNTP      = "ntp"
)

// Load reads configuration from file (when given or found as config.yaml /
// config.json in the working directory) and the environment. Environment
// variables take precedence: kucoin.api_key is KUCOIN_API_KEY.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside the client
func (c *Config) Validate() error {
	switch c.KuCoin.BaseURLKey {
	case "", "futures", "futures-test":
	default:
		return fmt.Errorf("invalid kucoin.base_url_key %q", c.KuCoin.BaseURLKey)
	}
	switch c.KuCoin.TimeSource {
	case TimeSourceExchange, TimeSourceNTP:
	default:
		return fmt.Errorf("invalid kucoin.time_source %q", c.KuCoin.TimeSource)
	}
	if c.KuCoin.RecvWindow < 0 {
		return fmt.Errorf("kucoin.recv_window must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Server.TokenTTL < 0 {
		return fmt.Errorf("server.token_ttl must not be negative")
	}
	if c.Vault.Enabled && c.Vault.Address == "" {
		return fmt.Errorf("vault.address is required when vault is enabled")
	}
	return nil
}

// HasCredentials reports whether a full credential triple is configured
func (c KuCoinConfig) HasCredentials() bool {
	return c.APIKey != "" && c.APISecret != "" && c.APIPassphrase != ""
}
