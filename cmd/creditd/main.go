package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/kitewise/credits/internal/catalog"
	"github.com/kitewise/credits/internal/store/gormstore"
	"github.com/kitewise/credits/internal/stripe"
	"github.com/kitewise/credits/internal/webapi"
	"github.com/kitewise/credits/pkg/credits"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagListenAddr          = "listen-addr"
	flagDatabaseURL         = "database-url"
	flagStripeSecretKey     = "stripe-secret-key"
	flagStripeWebhookSecret = "stripe-webhook-secret"
	flagAllowedOrigins      = "allowed-origins"
	flagAppBaseURL          = "app-base-url"
	flagSessionSigningKey   = "session-signing-key"
	flagSessionIssuer       = "session-issuer"
	flagSessionCookieName   = "session-cookie-name"
	flagBundles             = "bundles"

	configKeyListenAddr          = "listen_addr"
	configKeyDatabaseURL         = "database_url"
	configKeyStripeSecretKey     = "stripe_secret_key"
	configKeyStripeWebhookSecret = "stripe_webhook_secret"
	configKeyAllowedOrigins      = "allowed_origins"
	configKeyAppBaseURL          = "app_base_url"
	configKeySessionSigningKey   = "session_signing_key"
	configKeySessionIssuer       = "session_issuer"
	configKeySessionCookieName   = "session_cookie_name"
	configKeyBundles             = "bundles"

	defaultDatabaseURL = "sqlite:///tmp/kitewise-credits.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL string
	Web         webapi.Config
	BundlesJSON string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "creditd",
		Short:         "Credit purchase and reconciliation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.Flags().String(flagStripeSecretKey, "", "Stripe secret API key")
	cmd.Flags().String(flagStripeWebhookSecret, "", "Stripe webhook signing secret")
	cmd.Flags().String(flagAllowedOrigins, "", "Comma separated CORS origins")
	cmd.Flags().String(flagAppBaseURL, "", "Dashboard base URL for checkout redirects")
	cmd.Flags().String(flagSessionSigningKey, "", "HMAC key for session token validation")
	cmd.Flags().String(flagSessionIssuer, "", "Expected session token issuer")
	cmd.Flags().String(flagSessionCookieName, "", "Session cookie name")
	cmd.Flags().String(flagBundles, "", "JSON bundle catalog override")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyListenAddr:          "LISTEN_ADDR",
		configKeyDatabaseURL:         "DATABASE_URL",
		configKeyStripeSecretKey:     "STRIPE_SECRET_KEY",
		configKeyStripeWebhookSecret: "STRIPE_WEBHOOK_SECRET",
		configKeyAllowedOrigins:      "ALLOWED_ORIGINS",
		configKeyAppBaseURL:          "APP_BASE_URL",
		configKeySessionSigningKey:   "SESSION_SIGNING_KEY",
		configKeySessionIssuer:       "SESSION_ISSUER",
		configKeySessionCookieName:   "SESSION_COOKIE_NAME",
		configKeyBundles:             "CREDIT_BUNDLES",
	}
	for configKey, envName := range bindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}

	flagByConfigKey := map[string]string{
		configKeyListenAddr:          flagListenAddr,
		configKeyDatabaseURL:         flagDatabaseURL,
		configKeyStripeSecretKey:     flagStripeSecretKey,
		configKeyStripeWebhookSecret: flagStripeWebhookSecret,
		configKeyAllowedOrigins:      flagAllowedOrigins,
		configKeyAppBaseURL:          flagAppBaseURL,
		configKeySessionSigningKey:   flagSessionSigningKey,
		configKeySessionIssuer:       flagSessionIssuer,
		configKeySessionCookieName:   flagSessionCookieName,
		configKeyBundles:             flagBundles,
	}
	for configKey, flagName := range flagByConfigKey {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.BundlesJSON = viper.GetString(configKeyBundles)
	cfg.Web = webapi.Config{
		ListenAddr:          viper.GetString(configKeyListenAddr),
		AllowedOrigins:      webapi.ParseAllowedOrigins(viper.GetString(configKeyAllowedOrigins)),
		AppBaseURL:          viper.GetString(configKeyAppBaseURL),
		StripeSecretKey:     viper.GetString(configKeyStripeSecretKey),
		StripeWebhookSecret: viper.GetString(configKeyStripeWebhookSecret),
		SessionSigningKey:   viper.GetString(configKeySessionSigningKey),
		SessionIssuer:       viper.GetString(configKeySessionIssuer),
		SessionCookieName:   viper.GetString(configKeySessionCookieName),
	}
	if cfg.BundlesJSON != "" {
		parsed, err := catalog.ParseJSON(cfg.BundlesJSON)
		if err != nil {
			return fmt.Errorf("bundle catalog: %w", err)
		}
		cfg.Web.Catalog = parsed
	}
	return cfg.Web.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	creditService, err := credits.NewService(store, clock,
		credits.WithOperationLogger(webapi.NewOperationLogger(logger)))
	if err != nil {
		return fmt.Errorf("credit service init: %w", err)
	}

	checkoutClient, err := stripe.NewClient(cfg.Web.StripeSecretKey)
	if err != nil {
		return fmt.Errorf("stripe client init: %w", err)
	}
	webhookVerifier, err := stripe.NewVerifier(cfg.Web.StripeWebhookSecret)
	if err != nil {
		return fmt.Errorf("webhook verifier init: %w", err)
	}

	return webapi.Run(ctx, cfg.Web, webapi.Dependencies{
		Logger:     logger,
		Reconciler: creditService,
		Checkout:   checkoutClient,
		Webhooks:   webhookVerifier,
	})
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormCfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "kitewise-credits.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// prepareSchema auto-migrates only for sqlite; postgres schemas are managed
// by deployment migrations.
func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
