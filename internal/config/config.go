package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/leapyear1969/Microsoft-Graph-Webhook/internal/apperrors"
)

// Client state policies for notifications whose clientState does not match.
const (
	ClientStateWarn   = "warn"
	ClientStateReject = "reject"
)

// Config is the settings consumed by the relay. Loading is done once at startup;
// components receive the values they need.
type Config struct {
	Port string `mapstructure:"port"`

	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TenantID     string `mapstructure:"tenant_id"`
	RedirectURI  string `mapstructure:"redirect_uri"`

	WebhookURL         string `mapstructure:"webhook_url"`
	SubscriptionSecret string `mapstructure:"subscription_secret"`

	GraphBaseURL      string        `mapstructure:"graph_base_url"`
	SubscriptionTTL   time.Duration `mapstructure:"subscription_ttl"`
	EnrichmentTimeout time.Duration `mapstructure:"enrichment_timeout"`
	ClientStatePolicy string        `mapstructure:"client_state_policy"`
	VerifyIDToken     bool          `mapstructure:"verify_id_token"`
	CookieSecure      bool          `mapstructure:"cookie_secure"`
	DebugEndpoints    bool          `mapstructure:"debug_endpoints"`
	SessionSweepEvery time.Duration `mapstructure:"session_sweep_interval"`
	DedupPruneEvery   time.Duration `mapstructure:"dedup_prune_interval"`
	StreamBuffer      int           `mapstructure:"stream_buffer"`
	StreamKeepAlive   time.Duration `mapstructure:"stream_keepalive"`
	NATSURL           string        `mapstructure:"nats_url"`
	NATSSubject       string        `mapstructure:"nats_subject"`
	LogLevel          string        `mapstructure:"log_level"`
	LogFormat         string        `mapstructure:"log_format"`
}

var defaults = map[string]any{
	"port":                   "3000",
	"client_id":              "",
	"client_secret":          "",
	"tenant_id":              "common",
	"redirect_uri":           "http://localhost:3000/auth/callback",
	"webhook_url":            "",
	"subscription_secret":    "",
	"graph_base_url":         "https://graph.microsoft.com/v1.0",
	"subscription_ttl":       time.Hour,
	"enrichment_timeout":     10 * time.Second,
	"client_state_policy":    ClientStateWarn,
	"verify_id_token":        false,
	"cookie_secure":          false,
	"debug_endpoints":        false,
	"session_sweep_interval": 5 * time.Minute,
	"dedup_prune_interval":   time.Minute,
	"stream_buffer":          16,
	"stream_keepalive":       25 * time.Second,
	"nats_url":               "",
	"nats_subject":           "graphrelay.events",
	"log_level":              "info",
	"log_format":             "console",
}

// Load reads defaults, an optional config file, the environment and bound flags,
// in increasing priority. Environment keys are the upper-cased setting names
// (CLIENT_ID, WEBHOOK_URL, SUBSCRIPTION_SECRET, ...).
func Load(v *viper.Viper, configFile string, flags *pflag.FlagSet) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects values that can never work. Settings only some requests need
// are checked per request, so a missing one fails that request and not the process.
func (c *Config) validate() error {
	switch c.ClientStatePolicy {
	case ClientStateWarn, ClientStateReject:
	default:
		return &apperrors.ConfigError{Setting: "client_state_policy", Reason: fmt.Sprintf("unknown policy %q", c.ClientStatePolicy)}
	}
	if c.SubscriptionTTL <= 0 {
		return &apperrors.ConfigError{Setting: "subscription_ttl", Reason: "must be positive"}
	}
	if c.StreamBuffer <= 0 {
		return &apperrors.ConfigError{Setting: "stream_buffer", Reason: "must be positive"}
	}
	return nil
}

// Addr is the listen address derived from Port.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// NotificationURL is the webhook endpoint handed to the provider.
func (c *Config) NotificationURL() string {
	url := strings.TrimRight(c.WebhookURL, "/")
	if strings.HasSuffix(url, "/webhook") {
		return url
	}
	return url + "/webhook"
}

// RequireSubscriptions checks the settings subscription management depends on.
func (c *Config) RequireSubscriptions() error {
	if c.WebhookURL == "" {
		return apperrors.Missing("webhook_url")
	}
	if c.SubscriptionSecret == "" {
		return apperrors.Missing("subscription_secret")
	}
	return nil
}

// RequireIdentity checks the settings the authorization-code flow depends on.
func (c *Config) RequireIdentity() error {
	if c.ClientID == "" {
		return apperrors.Missing("client_id")
	}
	if c.ClientSecret == "" {
		return apperrors.Missing("client_secret")
	}
	if c.RedirectURI == "" {
		return apperrors.Missing("redirect_uri")
	}
	return nil
}
