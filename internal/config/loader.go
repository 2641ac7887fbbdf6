// Package config loads relay configuration through viper and decodes it
// into typed structs with mapstructure.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/owsrgate/owsrgate/internal/appid"
)

// RedactedValue replaces secrets in printed configuration.
const RedactedValue = "********"

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers every known key with its default value. Keys must
// be registered for viper's AutomaticEnv to resolve them during Load.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Upstream defaults; endpoints and credentials have none
	v.SetDefault("upstream.token_url", "")
	v.SetDefault("upstream.submission_url", "")
	v.SetDefault("upstream.client_id", "")
	v.SetDefault("upstream.client_secret", "")
	v.SetDefault("upstream.scope", "openid profile email")
	v.SetDefault("upstream.timeout", "30s")

	// Admission defaults
	v.SetDefault("admission.window", "60s")
	v.SetDefault("admission.token_limit", 60)
	v.SetDefault("admission.submission_limit", 60)

	// Inbound throttle defaults
	v.SetDefault("throttle.enabled", false)
	v.SetDefault("throttle.rps", 5.0)
	v.SetDefault("throttle.burst", 10)

	v.SetDefault("cors.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("admin.token", "")
}

// ConfigureEnv binds OWSRGATE_* environment variables to dotted keys,
// e.g. OWSRGATE_UPSTREAM_CLIENT_SECRET to upstream.client_secret.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(appid.Get().ViperEnvPrefix())
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes the effective settings of v into a Config and makes it the
// current configuration. It is safe to call again on reload.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalize(cfg)
	setConfig(cfg)

	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.Upstream.TokenURL = strings.TrimSpace(cfg.Upstream.TokenURL)
	cfg.Upstream.SubmissionURL = strings.TrimSpace(cfg.Upstream.SubmissionURL)
	cfg.Upstream.ClientID = strings.TrimSpace(cfg.Upstream.ClientID)

	origins := cfg.CORS.AllowedOrigins[:0]
	for _, origin := range cfg.CORS.AllowedOrigins {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	cfg.CORS.AllowedOrigins = origins

	cfg.Logging.Profile = strings.ToLower(strings.TrimSpace(cfg.Logging.Profile))
}

// Validate checks the settings the relay cannot run without.
func (c *Config) Validate() error {
	var problems []string

	for key, raw := range map[string]string{
		"upstream.token_url":      c.Upstream.TokenURL,
		"upstream.submission_url": c.Upstream.SubmissionURL,
	} {
		if raw == "" {
			problems = append(problems, key+" is required")
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, key+" must be an absolute http(s) URL")
		}
	}
	if c.Upstream.ClientID == "" {
		problems = append(problems, "upstream.client_id is required")
	}
	if c.Upstream.ClientSecret == "" {
		problems = append(problems, "upstream.client_secret is required")
	}
	if c.Upstream.Timeout <= 0 {
		problems = append(problems, "upstream.timeout must be positive")
	}
	if c.Admission.Window <= 0 {
		problems = append(problems, "admission.window must be positive")
	}
	if c.Admission.TokenLimit < 0 || c.Admission.SubmissionLimit < 0 {
		problems = append(problems, "admission limits must not be negative")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 0 and 65535")
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}

// Redacted returns a copy with the client secret and admin token masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.CORS.AllowedOrigins = append([]string(nil), c.CORS.AllowedOrigins...)
	if out.Upstream.ClientSecret != "" {
		out.Upstream.ClientSecret = RedactedValue
	}
	if out.Admin.Token != "" {
		out.Admin.Token = RedactedValue
	}
	return &out
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigDir returns the XDG-compliant config directory for the app.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(appid.Get().ConfigName)
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := DefaultConfigDir()
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}
