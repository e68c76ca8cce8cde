// Package config loads the service configuration from an optional YAML file
// with AUTH_-prefixed environment overrides. Secrets are validated at load
// time so a misconfigured instance refuses to start instead of minting
// unverifiable tokens.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

// Production reports whether cookies must carry the Secure attribute.
func (a App) Production() bool { return a.Env == "prod" || a.Env == "production" }

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Redis struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type Store struct {
	// Driver selects the identity store: "postgres" or "memory". The memory
	// driver is for development only; it loses every account on restart.
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	Migrate         bool          `mapstructure:"migrate"`
}

type Token struct {
	Secret       string        `mapstructure:"secret"`
	Issuer       string        `mapstructure:"issuer"`
	Audience     string        `mapstructure:"audience"`
	AccessTTL    time.Duration `mapstructure:"access_ttl"`
	RefreshTTL   time.Duration `mapstructure:"refresh_ttl"`
	Leeway       time.Duration `mapstructure:"leeway"`
	CookieDomain string        `mapstructure:"cookie_domain"`
}

type CSRF struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type RateLimit struct {
	GeneralMax    int           `mapstructure:"general_max"`
	GeneralWindow time.Duration `mapstructure:"general_window"`
	AuthMax       int           `mapstructure:"auth_max"`
	AuthWindow    time.Duration `mapstructure:"auth_window"`
	DelayBase     time.Duration `mapstructure:"delay_base"`
	DelayCap      time.Duration `mapstructure:"delay_cap"`
}

type Lockout struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold int           `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
}

type OAuthProvider struct {
	// ClientID is the application's OAuth client id, validated as the ID
	// token audience. An empty ClientID disables the provider.
	ClientID string   `mapstructure:"client_id"`
	Issuers  []string `mapstructure:"issuers"`
	JWKSURL  string   `mapstructure:"jwks_url"`
}

func (p OAuthProvider) Enabled() bool { return p.ClientID != "" }

type OAuth struct {
	Google    OAuthProvider `mapstructure:"google"`
	Microsoft OAuthProvider `mapstructure:"microsoft"`
}

type Config struct {
	App         App       `mapstructure:"app"`
	Server      Server    `mapstructure:"server"`
	Log         Log       `mapstructure:"log"`
	Redis       Redis     `mapstructure:"redis"`
	Store       Store     `mapstructure:"store"`
	Token       Token     `mapstructure:"token"`
	CSRF        CSRF      `mapstructure:"csrf"`
	RateLimit   RateLimit `mapstructure:"rate_limit"`
	Lockout     Lockout   `mapstructure:"lockout"`
	OAuth       OAuth     `mapstructure:"oauth"`
	AdminEmails []string  `mapstructure:"admin_emails"`
}

// Load reads the YAML file at path (ignored when empty or missing), applies
// defaults, then environment overrides (AUTH_TOKEN_SECRET and friends), and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	setDefaults(v)

	v.SetEnvPrefix("AUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "authserver")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.version", "dev")

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.graceful_timeout", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "auth")

	v.SetDefault("store.driver", "postgres")
	// Empty defaults keep env-only keys visible to Unmarshal.
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("store.max_conn_lifetime", "30m")
	v.SetDefault("store.max_conn_idle_time", "5m")
	v.SetDefault("store.connect_timeout", "5s")
	v.SetDefault("store.query_timeout", "3s")
	v.SetDefault("store.migrate", true)

	v.SetDefault("token.secret", "")
	v.SetDefault("token.issuer", "authserver")
	v.SetDefault("token.audience", "")
	v.SetDefault("token.access_ttl", "15m")
	v.SetDefault("token.refresh_ttl", "168h")
	v.SetDefault("token.leeway", "30s")
	v.SetDefault("token.cookie_domain", "")

	v.SetDefault("csrf.ttl", "1h")

	v.SetDefault("rate_limit.general_max", 300)
	v.SetDefault("rate_limit.general_window", "1m")
	v.SetDefault("rate_limit.auth_max", 20)
	v.SetDefault("rate_limit.auth_window", "1m")
	v.SetDefault("rate_limit.delay_base", "250ms")
	v.SetDefault("rate_limit.delay_cap", "8s")

	v.SetDefault("lockout.enabled", true)
	v.SetDefault("lockout.threshold", 5)
	v.SetDefault("lockout.window", "15m")

	v.SetDefault("oauth.google.client_id", "")
	v.SetDefault("oauth.microsoft.client_id", "")
	v.SetDefault("admin_emails", []string{})
}

func (c *Config) Validate() error {
	var errs []error

	if c.Token.Secret == "" {
		errs = append(errs, errors.New("token.secret is required"))
	} else if len(c.Token.Secret) < 32 {
		errs = append(errs, errors.New("token.secret must be at least 32 bytes"))
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.Token.AccessTTL >= c.Token.RefreshTTL {
		errs = append(errs, errors.New("token.access_ttl must be shorter than token.refresh_ttl"))
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if c.Lockout.Enabled && (c.Lockout.Threshold <= 0 || c.Lockout.Window <= 0) {
		errs = append(errs, errors.New("lockout.threshold and lockout.window must be positive"))
	}
	if c.RateLimit.GeneralMax <= 0 || c.RateLimit.AuthMax <= 0 {
		errs = append(errs, errors.New("rate limit maxima must be positive"))
	}

	return errors.Join(errs...)
}
