// Package config loads the service configuration from struct defaults, an
// optional YAML file and CUSTODIAN_ prefixed environment variables, in that
// order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"custodian/pkg/validation"
)

// EnvPrefix marks environment variables read by Load. A double underscore
// separates nesting levels: CUSTODIAN_AUTH__HMAC_SECRET sets auth.hmac_secret.
const EnvPrefix = "CUSTODIAN_"

type Config struct {
	Server   Server   `koanf:"server"`
	Gateway  Gateway  `koanf:"gateway"`
	Auth     Auth     `koanf:"auth"`
	Wallet   Wallet   `koanf:"wallet"`
	BPD      BPD      `koanf:"bpd"`
	Database Database `koanf:"database"`
	Redis    Redis    `koanf:"redis"`
	Kafka    Kafka    `koanf:"kafka"`
	Log      Log      `koanf:"log"`
	CORS     CORS     `koanf:"cors"`
	Tracing  Tracing  `koanf:"tracing"`
}

type Server struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
	TrustedProxies  []string      `koanf:"trusted_proxies"`
}

type Gateway struct {
	Root string `koanf:"root"`
}

type Auth struct {
	Scheme        string        `koanf:"scheme"`
	Algorithm     string        `koanf:"algorithm"`
	HMACSecret    string        `koanf:"hmac_secret"`
	PublicKeyFile string        `koanf:"public_key_file"`
	Issuer        string        `koanf:"issuer"`
	Audience      string        `koanf:"audience"`
	ClientID      string        `koanf:"client_id"`
	Leeway        time.Duration `koanf:"leeway"`
	TokenTTL      time.Duration `koanf:"token_ttl"`
}

type Wallet struct {
	Store           string        `koanf:"store"`
	AuthorityBPN    string        `koanf:"authority_bpn"`
	AuthorityName   string        `koanf:"authority_name"`
	DIDHost         string        `koanf:"did_host"`
	CredentialTTL   time.Duration `koanf:"credential_ttl"`
	PresentationTTL time.Duration `koanf:"presentation_ttl"`
}

type BPD struct {
	PoolURL         string        `koanf:"pool_url"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	PullTimeout     time.Duration `koanf:"pull_timeout"`
	CacheTTL        time.Duration `koanf:"cache_ttl"`
	RefreshSchedule string        `koanf:"refresh_schedule"`
	RefreshLimit    int           `koanf:"refresh_limit"`
	BreakerFailures int           `koanf:"breaker_failures"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

type Database struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type Redis struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type Kafka struct {
	Brokers    string `koanf:"brokers"`
	AuditTopic string `koanf:"audit_topic"`
	Acks       string `koanf:"acks"`
}

type Log struct {
	Level string `koanf:"level"`
}

type Tracing struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

type CORS struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// Default returns the development configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  20 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Gateway: Gateway{Root: "/api"},
		Auth: Auth{
			Scheme:     "auth-jwt",
			Algorithm:  "HS256",
			HMACSecret: "dev-secret-key-change-in-production",
			Issuer:     "custodian",
			ClientID:   "custodian",
			Leeway:     30 * time.Second,
			TokenTTL:   15 * time.Minute,
		},
		Wallet: Wallet{
			Store:           "memory",
			AuthorityBPN:    "BPNL000000000000",
			AuthorityName:   "Operator",
			DIDHost:         "localhost:8080",
			CredentialTTL:   365 * 24 * time.Hour,
			PresentationTTL: time.Hour,
		},
		BPD: BPD{
			RequestTimeout:  5 * time.Second,
			PullTimeout:     30 * time.Second,
			CacheTTL:        10 * time.Minute,
			RefreshLimit:    4,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Database: Database{
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka:   Kafka{AuditTopic: "custodian.audit", Acks: "all"},
		Log:     Log{Level: "info"},
		Tracing: Tracing{ServiceName: "custodian", SampleRatio: 1},
	}
}

// Load merges defaults, the YAML file at path (skipped when empty) and
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// transformEnv maps CUSTODIAN_BPD__POOL_URL to bpd.pool_url. List fields
// accept comma separated values through the decoder's slice hook.
func transformEnv(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", "."), value
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Gateway.Root == "" || !strings.HasPrefix(c.Gateway.Root, "/") || strings.HasSuffix(c.Gateway.Root, "/") {
		return fmt.Errorf("gateway.root must start with '/' and not end with '/': %q", c.Gateway.Root)
	}
	if c.Auth.Scheme == "" {
		return fmt.Errorf("auth.scheme is required")
	}
	switch c.Auth.Algorithm {
	case "HS256":
		if c.Auth.HMACSecret == "" {
			return fmt.Errorf("auth.hmac_secret is required for HS256")
		}
	case "RS256":
		if c.Auth.PublicKeyFile == "" {
			return fmt.Errorf("auth.public_key_file is required for RS256")
		}
	default:
		return fmt.Errorf("auth.algorithm must be HS256 or RS256, got %q", c.Auth.Algorithm)
	}
	switch c.Wallet.Store {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres store")
		}
	default:
		return fmt.Errorf("wallet.store must be memory or postgres, got %q", c.Wallet.Store)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	if c.Wallet.DIDHost == "" {
		return fmt.Errorf("wallet.did_host is required")
	}
	if !validation.IsBPN(c.Wallet.AuthorityBPN) {
		return fmt.Errorf("wallet.authority_bpn must be a business partner number, got %q", c.Wallet.AuthorityBPN)
	}
	if c.BPD.RefreshLimit < 1 {
		return fmt.Errorf("bpd.refresh_limit must be positive")
	}
	return nil
}
