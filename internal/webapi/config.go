package webapi

import (
	"fmt"
	"strings"

	"github.com/kitewise/credits/internal/catalog"
)

const (
	defaultListenAddr    = ":8080"
	defaultAllowedOrigin = "http://localhost:3000"
	defaultAppBaseURL    = "http://localhost:3000"
	defaultSessionIssuer = "tauth"
	defaultSessionCookie = "app_session"
	defaultHistoryLimit  = 10

	successURLPath = "/credits?success=true&session_id={CHECKOUT_SESSION_ID}"
	cancelURLPath  = "/credits?canceled=true"
)

// Config aggregates runtime settings for the web API.
type Config struct {
	ListenAddr          string
	AllowedOrigins      []string
	AppBaseURL          string
	StripeSecretKey     string
	StripeWebhookSecret string
	SessionSigningKey   string
	SessionIssuer       string
	SessionCookieName   string
	Catalog             catalog.Catalog
	HistoryLimit        int
}

// Validate ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.AppBaseURL = strings.TrimRight(defaultIfEmpty(cfg.AppBaseURL, defaultAppBaseURL), "/")
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Catalog.IsZero() {
		cfg.Catalog = catalog.Default()
	}
	if strings.TrimSpace(cfg.StripeSecretKey) == "" {
		return fmt.Errorf("stripe secret key is required")
	}
	if strings.TrimSpace(cfg.StripeWebhookSecret) == "" {
		return fmt.Errorf("stripe webhook secret is required")
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("session signing key is required")
	}
	return nil
}

// SuccessURL is where Stripe redirects after a completed payment.
func (cfg Config) SuccessURL() string {
	return cfg.AppBaseURL + successURLPath
}

// CancelURL is where Stripe redirects after an abandoned payment.
func (cfg Config) CancelURL() string {
	return cfg.AppBaseURL + cancelURLPath
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
