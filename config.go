package impactlog

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by [Config.ApplyEnv].
const (
	EnvEnvironment = "IMPACTLOG_ENV"
	EnvAPIURL      = "IMPACTLOG_API_URL"
	EnvConfigFile  = "IMPACTLOG_CONFIG"
	EnvSessionFile = "IMPACTLOG_SESSION_FILE"
	EnvRedisAddr   = "IMPACTLOG_REDIS_ADDR"
)

// Config holds every tunable of a [Controller]. Obtain one from
// [DefaultConfig] and override fields; [Builder.Build] validates it.
type Config struct {
	API        APIConfig        `yaml:"api"`
	HTTP       HTTPConfig       `yaml:"http"`
	Session    SessionConfig    `yaml:"session"`
	Routes     RoutesConfig     `yaml:"routes"`
	Validation ValidationConfig `yaml:"validation"`
	Audit      AuditConfig      `yaml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Throttle   ThrottleConfig   `yaml:"throttle"`
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig selects the backend. Environment picks between the development
// and production roots; BaseURL, when set, overrides both.
type APIConfig struct {
	Environment    string `yaml:"environment"`
	BaseURL        string `yaml:"base_url"`
	DevelopmentURL string `yaml:"development_url"`
	ProductionURL  string `yaml:"production_url"`
	Prefix         string `yaml:"prefix"`
	// LogoutPath, when set, is notified best-effort on SignOut. The
	// reference backend has no logout endpoint, so it is empty by default.
	LogoutPath string `yaml:"logout_path"`
}

/*
====================================
HTTP CONFIG
====================================
*/

// HTTPConfig bounds every backend call.
type HTTPConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	UserAgent        string        `yaml:"user_agent"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig selects the durable token slot used by the CLI and the
// portal. Library callers usually pass a store to [Builder.WithTokenStore]
// instead.
type SessionConfig struct {
	Backend   string        `yaml:"backend"` // "file" (default), "redis" or "memory"
	FilePath  string        `yaml:"file_path"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisKey  string        `yaml:"redis_key"`
	RedisTTL  time.Duration `yaml:"redis_ttl"`
}

/*
====================================
ROUTES CONFIG
====================================
*/

// RoutesConfig names the views the guard redirects to.
type RoutesConfig struct {
	Login     string `yaml:"login"`
	UserHome  string `yaml:"user_home"`
	AdminHome string `yaml:"admin_home"`
	Fallback  string `yaml:"fallback"`
}

// ValidationConfig mirrors the backend's request checks so bad input never
// costs a round-trip.
type ValidationConfig struct {
	MinPasswordLength int `yaml:"min_password_length"`
	MaxNameLength     int `yaml:"max_name_length"`
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// ThrottleConfig limits failed sign-ins per email address. The counters
// live in Redis, so every client sharing it shares the budget. It needs a
// client from [Builder.WithRedis] or Session.RedisAddr.
type ThrottleConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
	Prefix      string        `yaml:"prefix"`
}

const (
	environmentProduction  = "production"
	environmentDevelopment = "development"
)

// DefaultConfig returns the configuration used when nothing is overridden:
// the development backend on localhost, a 15 second timeout and the file
// token slot.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Environment:    environmentDevelopment,
			DevelopmentURL: "http://localhost:8000",
			ProductionURL:  "https://impact-logs-three.vercel.app",
			Prefix:         "/api",
		},
		HTTP: HTTPConfig{
			Timeout:          15 * time.Second,
			UserAgent:        "impactlog-client/1",
			MaxResponseBytes: 4 << 20,
		},
		Session: SessionConfig{
			Backend:  "file",
			RedisKey: "impactlog:session:token",
		},
		Routes: RoutesConfig{
			Login:     "/login",
			UserHome:  "/dashboard",
			AdminHome: "/admin",
			Fallback:  "/",
		},
		Validation: ValidationConfig{
			MinPasswordLength: 6,
			MaxNameLength:     120,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Throttle: ThrottleConfig{
			Enabled:     false,
			MaxAttempts: 5,
			Window:      15 * time.Minute,
			Prefix:      "impactlog:signin",
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch c.API.Environment {
	case "", environmentDevelopment, environmentProduction:
	default:
		return fmt.Errorf("API Environment must be %q or %q", environmentDevelopment, environmentProduction)
	}
	if _, err := c.BaseURL(); err != nil {
		return err
	}
	if c.API.LogoutPath != "" && !strings.HasPrefix(c.API.LogoutPath, "/") {
		return errors.New("API LogoutPath must start with /")
	}

	if c.HTTP.Timeout <= 0 {
		return errors.New("HTTP Timeout must be > 0")
	}
	if c.HTTP.MaxResponseBytes <= 0 {
		return errors.New("HTTP MaxResponseBytes must be > 0")
	}

	switch c.Session.Backend {
	case "", "file", "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			return errors.New("Session RedisAddr is required for the redis backend")
		}
	default:
		return fmt.Errorf("Session Backend %q is not supported", c.Session.Backend)
	}
	if c.Session.RedisTTL < 0 {
		return errors.New("Session RedisTTL must be >= 0")
	}

	for name, p := range map[string]string{
		"Login":     c.Routes.Login,
		"UserHome":  c.Routes.UserHome,
		"AdminHome": c.Routes.AdminHome,
		"Fallback":  c.Routes.Fallback,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("Routes %s must be an absolute path", name)
		}
	}

	if c.Validation.MinPasswordLength < 1 {
		return errors.New("Validation MinPasswordLength must be >= 1")
	}
	if c.Validation.MaxNameLength < 1 {
		return errors.New("Validation MaxNameLength must be >= 1")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}
	if c.Throttle.Enabled {
		if c.Throttle.MaxAttempts < 1 {
			return errors.New("Throttle MaxAttempts must be >= 1")
		}
		if c.Throttle.Window <= 0 {
			return errors.New("Throttle Window must be > 0")
		}
	}
	return nil
}

// BaseURL resolves the API root once: an explicit BaseURL wins, otherwise
// the production or development root is chosen by Environment. The prefix
// is appended and duplicate slashes are collapsed.
func (c *Config) BaseURL() (string, error) {
	root := c.API.BaseURL
	if root == "" {
		if c.API.Environment == environmentProduction {
			root = c.API.ProductionURL
		} else {
			root = c.API.DevelopmentURL
		}
	}
	if root == "" {
		return "", errors.New("API base URL is empty")
	}

	parsed, err := url.Parse(root)
	if err != nil {
		return "", fmt.Errorf("API base URL %q: %w", root, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("API base URL %q must use http or https", root)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("API base URL %q has no host", root)
	}

	prefix := strings.Trim(c.API.Prefix, "/")
	base := strings.TrimRight(root, "/")
	if prefix != "" && !strings.HasSuffix(base, "/"+prefix) {
		base += "/" + prefix
	}
	return base, nil
}

// LoadConfigFile reads a YAML file over [DefaultConfig]. Fields missing from
// the file keep their defaults. Durations use Go syntax ("15s").
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from the IMPACTLOG_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvEnvironment); ok {
		if strings.EqualFold(strings.TrimSpace(v), environmentProduction) {
			c.API.Environment = environmentProduction
		} else {
			c.API.Environment = environmentDevelopment
		}
	}
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		c.API.BaseURL = v
	}
	if v, ok := lookup(EnvSessionFile); ok && v != "" {
		c.Session.FilePath = v
	}
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		c.Session.RedisAddr = v
		c.Session.Backend = "redis"
	}
}
