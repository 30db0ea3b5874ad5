package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider keys understood by the service. The "email" strategy is not an
// OAuth provider and is always available.
const (
	ProviderGoogle  = "google"
	ProviderGitHub  = "github"
	ProviderTwitter = "twitter"
	ProviderApple   = "apple"
	ProviderOIDC    = "oidc"
	ProviderEmail   = "email"
)

// OAuthProviders lists the providers that go through the authorization-code
// flow, in the order the config-status endpoint reports them.
var OAuthProviders = []string{ProviderGoogle, ProviderGitHub, ProviderTwitter, ProviderApple, ProviderOIDC}

// Credentials is the per-provider configuration block.
type Credentials struct {
	Enabled      bool     `yaml:"enabled"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`

	// Apple only: the credential bundle used to mint the client secret.
	TeamID string `yaml:"team_id"`
	KeyID  string `yaml:"key_id"`

	// Platform-native OIDC only.
	Issuer      string `yaml:"issuer"`
	AuthURL     string `yaml:"auth_url"`
	TokenURL    string `yaml:"token_url"`
	UserInfoURL string `yaml:"userinfo_url"`
}

// Present reports whether the minimum credentials for the provider exist.
// This is a pure presence check; it says nothing about whether the strategy
// actually constructed.
func (c Credentials) Present() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr    string `yaml:"addr"`
		BaseURL string `yaml:"base_url"`
		// Where flow failures land; the error code is appended as ?error=.
		LoginErrorURL string `yaml:"login_error_url"`
		// Default post-login destination when no redirect_to was remembered.
		PostLoginURL string `yaml:"post_login_url"`
	} `yaml:"server"`

	Storage struct {
		// memory | postgres
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns int `yaml:"max_conns"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Session struct {
		CookieName string `yaml:"cookie_name"`
		Domain     string `yaml:"domain"`
		SameSite   string `yaml:"samesite"`
		Secure     bool   `yaml:"secure"`
		TTL        string `yaml:"ttl"`
		// Secret signs session cookies. Required in prod; derived from a
		// fixed seed otherwise so sessions survive dev restarts.
		Secret string `yaml:"secret"`
	} `yaml:"session"`

	PKCE struct {
		TTL string `yaml:"ttl"`
	} `yaml:"pkce"`

	Providers struct {
		Google  Credentials `yaml:"google"`
		GitHub  Credentials `yaml:"github"`
		Twitter Credentials `yaml:"twitter"`
		Apple   Credentials `yaml:"apple"`
		OIDC    Credentials `yaml:"oidc"`
	} `yaml:"providers"`

	SMTP struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
		User    string `yaml:"user"`
		Pass    string `yaml:"pass"`
		From    string `yaml:"from"`
	} `yaml:"smtp"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads the YAML file at path (missing file is fine: defaults + env),
// applies environment overrides and validates.
func Load(path string) (*Config, error) {
	c := &Config{}
	c.defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(b, c); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) defaults() {
	c.App.Env = "dev"
	c.Server.Addr = ":8080"
	c.Server.BaseURL = "http://localhost:8080"
	c.Server.LoginErrorURL = "/login"
	c.Server.PostLoginURL = "/"
	c.Storage.Driver = "memory"
	c.Storage.Postgres.MaxConns = 10
	c.Cache.Kind = "memory"
	c.Cache.Memory.DefaultTTL = "30m"
	c.Cache.Redis.Prefix = "mealdeck:"
	c.Session.CookieName = "mealdeck_session"
	c.Session.SameSite = "lax"
	c.Session.TTL = "168h"
	c.PKCE.TTL = "10m"
	c.SMTP.Port = 587
	c.Log.Level = "info"

	c.Providers.Google.Scopes = []string{"openid", "email", "profile"}
	c.Providers.GitHub.Scopes = []string{"read:user", "user:email"}
	c.Providers.Twitter.Scopes = []string{"users.read", "tweet.read", "offline.access"}
	c.Providers.Apple.Scopes = []string{"name", "email"}
	c.Providers.OIDC.Scopes = []string{"openid", "email", "profile"}
}

func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("SERVER_BASE_URL"); ok {
		c.Server.BaseURL = v
	}
	if v, ok := getEnvStr("LOGIN_ERROR_URL"); ok {
		c.Server.LoginErrorURL = v
	}
	if v, ok := getEnvStr("POST_LOGIN_URL"); ok {
		c.Server.PostLoginURL = v
	}

	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("DATABASE_URL"); ok {
		c.Storage.DSN = v
	}

	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}

	if v, ok := getEnvStr("SESSION_SECRET"); ok {
		c.Session.Secret = v
	}
	if v, ok := getEnvStr("SESSION_COOKIE_NAME"); ok {
		c.Session.CookieName = v
	}
	if v, ok := getEnvBool("SESSION_SECURE"); ok {
		c.Session.Secure = v
	}
	if v, ok := getEnvStr("SESSION_TTL"); ok {
		c.Session.TTL = v
	}

	if v, ok := getEnvStr("PKCE_TTL"); ok {
		c.PKCE.TTL = v
	}

	overrideProvider("GOOGLE", &c.Providers.Google)
	overrideProvider("GITHUB", &c.Providers.GitHub)
	overrideProvider("TWITTER", &c.Providers.Twitter)
	overrideProvider("APPLE", &c.Providers.Apple)
	overrideProvider("OIDC", &c.Providers.OIDC)
	if v, ok := getEnvStr("APPLE_TEAM_ID"); ok {
		c.Providers.Apple.TeamID = v
	}
	if v, ok := getEnvStr("APPLE_KEY_ID"); ok {
		c.Providers.Apple.KeyID = v
	}
	if v, ok := getEnvStr("OIDC_ISSUER"); ok {
		c.Providers.OIDC.Issuer = v
	}
	if v, ok := getEnvStr("OIDC_AUTH_URL"); ok {
		c.Providers.OIDC.AuthURL = v
	}
	if v, ok := getEnvStr("OIDC_TOKEN_URL"); ok {
		c.Providers.OIDC.TokenURL = v
	}
	if v, ok := getEnvStr("OIDC_USERINFO_URL"); ok {
		c.Providers.OIDC.UserInfoURL = v
	}

	if v, ok := getEnvBool("SMTP_ENABLED"); ok {
		c.SMTP.Enabled = v
	}
	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USER"); ok {
		c.SMTP.User = v
	}
	if v, ok := getEnvStr("SMTP_PASS"); ok {
		c.SMTP.Pass = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.From = v
	}

	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
}

func overrideProvider(prefix string, p *Credentials) {
	if v, ok := getEnvBool(prefix + "_ENABLED"); ok {
		p.Enabled = v
	}
	if v, ok := getEnvStr(prefix + "_CLIENT_ID"); ok {
		p.ClientID = v
	}
	if v, ok := getEnvStr(prefix + "_CLIENT_SECRET"); ok {
		p.ClientSecret = v
	}
	if v, ok := getEnvStr(prefix + "_REDIRECT_URL"); ok {
		p.RedirectURL = v
	}
	if v, ok := getEnvCSV(prefix + "_SCOPES"); ok && len(v) > 0 {
		p.Scopes = v
	}
}

// Validate enforces what cannot be defaulted away.
func (c *Config) Validate() error {
	if c.IsProd() && strings.TrimSpace(c.Session.Secret) == "" {
		return fmt.Errorf("config: session.secret is required when app.env=prod")
	}
	if c.Storage.Driver != "memory" && c.Storage.Driver != "postgres" {
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn is required for the postgres driver")
	}
	if c.Cache.Kind != "memory" && c.Cache.Kind != "redis" {
		return fmt.Errorf("config: unknown cache kind %q", c.Cache.Kind)
	}
	return nil
}

func (c *Config) IsProd() bool { return strings.EqualFold(c.App.Env, "prod") }

// devSecretSeed makes dev sessions survive restarts without operator setup.
// Never used in prod; Validate rejects an empty secret there.
const devSecretSeed = "mealdeck-dev-session-seed"

// SessionSecret returns the signing key bytes.
func (c *Config) SessionSecret() []byte {
	if s := strings.TrimSpace(c.Session.Secret); s != "" {
		sum := sha256.Sum256([]byte(s))
		return sum[:]
	}
	sum := sha256.Sum256([]byte(devSecretSeed))
	return sum[:]
}

// Credentials returns the block for an OAuth provider key, false for
// unknown keys (including "email").
func (c *Config) Provider(key string) (Credentials, bool) {
	switch key {
	case ProviderGoogle:
		return c.Providers.Google, true
	case ProviderGitHub:
		return c.Providers.GitHub, true
	case ProviderTwitter:
		return c.Providers.Twitter, true
	case ProviderApple:
		return c.Providers.Apple, true
	case ProviderOIDC:
		return c.Providers.OIDC, true
	}
	return Credentials{}, false
}

// Dur parses a duration string with a fallback.
func Dur(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
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

func getEnvBool(key string) (bool, bool) {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return false, false
	}
	return v == "1" || v == "true" || v == "yes" || v == "on", true
}

func getEnvCSV(key string) ([]string, bool) {
	v := os.Getenv(key)
	if v == "" {
		return nil, false
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}
