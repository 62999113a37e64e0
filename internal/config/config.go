// Package config loads runtime settings from defaults, an optional config
// file, command line flags, and ECHOES_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// EnvPrefix prefixes every environment variable, e.g. ECHOES_HTTP_ADDR.
const EnvPrefix = "ECHOES"

// RateLimitConfig defines the per-connection inbound frame limit.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst" json:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval" json:"refill_interval"`
}

// Config holds the server configuration.
type Config struct {
	Level      string `mapstructure:"level" json:"level"`
	Env        string `mapstructure:"env" json:"env"`
	ConfigFile string `mapstructure:"config" json:"config"`

	HTTP struct {
		Addr           string   `mapstructure:"addr" json:"addr"`
		AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins"`
		// AllowMissingOrigin admits handshakes without an Origin header.
		// Browsers always send one; native clients do not.
		AllowMissingOrigin bool          `mapstructure:"allow_missing_origin" json:"allow_missing_origin"`
		ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	} `mapstructure:"http" json:"http"`

	WS struct {
		MaxMessageSize int64           `mapstructure:"max_message_size" json:"max_message_size"`
		SendBuffer     int             `mapstructure:"send_buffer" json:"send_buffer"`
		RateLimit      RateLimitConfig `mapstructure:"rate_limit" json:"rate_limit"`
	} `mapstructure:"ws" json:"ws"`

	Store struct {
		Driver string `mapstructure:"driver" json:"driver"`
	} `mapstructure:"store" json:"store"`

	Mongo struct {
		URI              string        `mapstructure:"uri" json:"uri"`
		DB               string        `mapstructure:"db" json:"db"`
		MinPool          uint64        `mapstructure:"min_pool" json:"min_pool"`
		MaxPool          uint64        `mapstructure:"max_pool" json:"max_pool"`
		OperationTimeout time.Duration `mapstructure:"operation_timeout" json:"operation_timeout"`
	} `mapstructure:"mongo" json:"mongo"`

	Auth struct {
		JWTSecret            string        `mapstructure:"jwt_secret" json:"jwt_secret"`
		TokenTTL             time.Duration `mapstructure:"token_ttl" json:"token_ttl"`
		CookieSecure         bool          `mapstructure:"cookie_secure" json:"cookie_secure"`
		TrustHandshakeUserID bool          `mapstructure:"trust_handshake_user_id" json:"trust_handshake_user_id"`
		UserCacheTTL         time.Duration `mapstructure:"user_cache_ttl" json:"user_cache_ttl"`
	} `mapstructure:"auth" json:"auth"`

	S3 struct {
		Enabled   bool   `mapstructure:"enabled" json:"enabled"`
		Endpoint  string `mapstructure:"endpoint" json:"endpoint"`
		Region    string `mapstructure:"region" json:"region"`
		Bucket    string `mapstructure:"bucket" json:"bucket"`
		AccessKey string `mapstructure:"access_key" json:"access_key"`
		SecretKey string `mapstructure:"secret_key" json:"secret_key"`
		PublicURL string `mapstructure:"public_url" json:"public_url"`
	} `mapstructure:"s3" json:"s3"`

	NATS struct {
		Enabled       bool   `mapstructure:"enabled" json:"enabled"`
		URL           string `mapstructure:"url" json:"url"`
		SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix"`
	} `mapstructure:"nats" json:"nats"`

	Monitoring struct {
		Enabled bool `mapstructure:"enabled" json:"enabled"`
	} `mapstructure:"monitoring" json:"monitoring"`
}

// IsProduction reports whether the service runs with env=production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("level", "info")
	v.SetDefault("env", "development")
	v.SetDefault("config", "config.yaml")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("http.allow_missing_origin", true)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("ws.max_message_size", 512)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.rate_limit.burst", 5)
	v.SetDefault("ws.rate_limit.refill_interval", time.Second)

	v.SetDefault("store.driver", DriverMongo)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.db", "echoes")
	v.SetDefault("mongo.min_pool", 0)
	v.SetDefault("mongo.max_pool", 100)
	v.SetDefault("mongo.operation_timeout", 5*time.Second)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.cookie_secure", false)
	v.SetDefault("auth.trust_handshake_user_id", true)
	v.SetDefault("auth.user_cache_ttl", 30*time.Second)

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.public_url", "")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "echoes")

	v.SetDefault("monitoring.enabled", true)
}

// Load builds the configuration from args (without the program name).
func Load(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("echoes", pflag.ContinueOnError)
	flags.String("config", "config.yaml", "Config file location")
	flags.String("level", "info", "Log level (debug, info, warn, error)")
	flags.String("http.addr", ":8080", "HTTP listen address")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	v.SetConfigFile(v.GetString("config"))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", v.GetString("config"), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, Config{})

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	sanitize(cfg)
	return cfg, nil
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	switch c.Store.Driver {
	case DriverMongo:
		if c.Mongo.URI == "" || c.Mongo.DB == "" {
			return errors.New("mongo.uri and mongo.db are required for the mongo store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		return errors.New("s3.bucket is required when s3 is enabled")
	}
	return nil
}

func sanitize(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}

	if cfg.WS.MaxMessageSize <= 0 {
		cfg.WS.MaxMessageSize = 512
	}

	if cfg.WS.SendBuffer <= 0 {
		cfg.WS.SendBuffer = 256
	}

	if cfg.WS.RateLimit.Burst <= 0 {
		cfg.WS.RateLimit.Burst = 5
	}

	if cfg.WS.RateLimit.RefillInterval <= 0 {
		cfg.WS.RateLimit.RefillInterval = time.Second
	}

	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 7 * 24 * time.Hour
	}

	cfg.HTTP.AllowedOrigins = splitOrigins(cfg.HTTP.AllowedOrigins)
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
}

// splitOrigins accepts both list values and a single comma separated value.
func splitOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func bindEnvs(v *viper.Viper, iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)

	for i := 0; i < ift.NumField(); i++ {
		fv := ifv.Field(i)
		t := ift.Field(i)

		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			continue
		}

		switch fv.Kind() {
		case reflect.Struct:
			bindEnvs(v, fv.Interface(), append(parts, tv)...)
		default:
			_ = v.BindEnv(strings.Join(append(parts, tv), "."))
		}
	}
}
