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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kiranalabs/voicekhata/internal/bot"
	"github.com/kiranalabs/voicekhata/internal/httpserver"
	"github.com/kiranalabs/voicekhata/internal/livehub"
	"github.com/kiranalabs/voicekhata/internal/nlu"
	"github.com/kiranalabs/voicekhata/internal/store/gormstore"
	"github.com/kiranalabs/voicekhata/internal/whatsapp"
	"github.com/kiranalabs/voicekhata/pkg/khata"
)

const (
	flagDatabaseURL         = "database-url"
	flagListenAddr          = "listen-addr"
	flagAllowedOrigins      = "allowed-origins"
	flagGeminiAPIKey        = "gemini-api-key"
	flagGeminiModel         = "gemini-model"
	flagWhatsAppToken       = "whatsapp-token"
	flagWhatsAppPhoneID     = "whatsapp-phone-number-id"
	flagWebhookVerifyToken  = "webhook-verify-token"
	flagPendingTTLSeconds   = "pending-ttl-seconds"
	flagConfidenceThreshold = "confidence-threshold"

	configKeyDatabaseURL         = "database_url"
	configKeyListenAddr          = "listen_addr"
	configKeyAllowedOrigins      = "allowed_origins"
	configKeyGeminiAPIKey        = "gemini_api_key"
	configKeyGeminiModel         = "gemini_model"
	configKeyWhatsAppToken       = "whatsapp_token"
	configKeyWhatsAppPhoneID     = "whatsapp_phone_number_id"
	configKeyWebhookVerifyToken  = "webhook_verify_token"
	configKeyPendingTTLSeconds   = "pending_ttl_seconds"
	configKeyConfidenceThreshold = "confidence_threshold"

	defaultDatabaseURL       = "sqlite:///tmp/voicekhata.db"
	defaultListenAddr        = ":8080"
	defaultAllowedOrigins    = "http://localhost:5173"
	defaultPendingTTLSeconds = 600
)

type runtimeConfig struct {
	DatabaseURL         string
	ListenAddr          string
	AllowedOrigins      []string
	GeminiAPIKey        string
	GeminiModel         string
	WhatsAppToken       string
	WhatsAppPhoneID     string
	WebhookVerifyToken  string
	PendingTTL          time.Duration
	ConfidenceThreshold float64
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "khatad: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "khatad",
		Short:         "Conversational khata ledger server",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, defaultAllowedOrigins, "comma separated CORS origins")
	cmd.Flags().String(flagGeminiAPIKey, "", "Gemini API key")
	cmd.Flags().String(flagGeminiModel, "", "Gemini model name")
	cmd.Flags().String(flagWhatsAppToken, "", "WhatsApp Cloud API access token")
	cmd.Flags().String(flagWhatsAppPhoneID, "", "WhatsApp business phone number id")
	cmd.Flags().String(flagWebhookVerifyToken, "", "webhook verification token")
	cmd.Flags().Int(flagPendingTTLSeconds, defaultPendingTTLSeconds, "confirmation window in seconds")
	cmd.Flags().Float64(flagConfidenceThreshold, bot.DefaultConfidenceThreshold, "minimum intent confidence for mutations")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:         "DATABASE_URL",
		configKeyListenAddr:          "LISTEN_ADDR",
		configKeyAllowedOrigins:      "ALLOWED_ORIGINS",
		configKeyGeminiAPIKey:        "GEMINI_API_KEY",
		configKeyGeminiModel:         "GEMINI_MODEL",
		configKeyWhatsAppToken:       "WHATSAPP_TOKEN",
		configKeyWhatsAppPhoneID:     "WHATSAPP_PHONE_NUMBER_ID",
		configKeyWebhookVerifyToken:  "WEBHOOK_VERIFY_TOKEN",
		configKeyPendingTTLSeconds:   "PENDING_TTL_SECONDS",
		configKeyConfidenceThreshold: "CONFIDENCE_THRESHOLD",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:         flagDatabaseURL,
		configKeyListenAddr:          flagListenAddr,
		configKeyAllowedOrigins:      flagAllowedOrigins,
		configKeyGeminiAPIKey:        flagGeminiAPIKey,
		configKeyGeminiModel:         flagGeminiModel,
		configKeyWhatsAppToken:       flagWhatsAppToken,
		configKeyWhatsAppPhoneID:     flagWhatsAppPhoneID,
		configKeyWebhookVerifyToken:  flagWebhookVerifyToken,
		configKeyPendingTTLSeconds:   flagPendingTTLSeconds,
		configKeyConfidenceThreshold: flagConfidenceThreshold,
	}
	for key, flagName := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	origins := viper.GetString(configKeyAllowedOrigins)
	if origins == "" {
		origins = defaultAllowedOrigins
	}
	cfg.AllowedOrigins = splitAndTrim(origins)
	cfg.GeminiAPIKey = viper.GetString(configKeyGeminiAPIKey)
	cfg.GeminiModel = viper.GetString(configKeyGeminiModel)
	cfg.WhatsAppToken = viper.GetString(configKeyWhatsAppToken)
	cfg.WhatsAppPhoneID = viper.GetString(configKeyWhatsAppPhoneID)
	cfg.WebhookVerifyToken = viper.GetString(configKeyWebhookVerifyToken)
	cfg.PendingTTL = time.Duration(viper.GetInt(configKeyPendingTTLSeconds)) * time.Second
	cfg.ConfidenceThreshold = viper.GetFloat64(configKeyConfidenceThreshold)

	if cfg.GeminiAPIKey == "" {
		return fmt.Errorf("gemini api key is required")
	}
	if cfg.WhatsAppToken == "" || cfg.WhatsAppPhoneID == "" {
		return fmt.Errorf("whatsapp credentials are required")
	}
	return nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		if cleaned := strings.TrimSpace(part); cleaned != "" {
			trimmed = append(trimmed, cleaned)
		}
	}
	return trimmed
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
	clock := func() time.Time { return time.Now().UTC() }

	resolver, err := khata.NewResolver(store)
	if err != nil {
		return fmt.Errorf("resolver init: %w", err)
	}
	ledger, err := khata.NewLedger(store, resolver, clock, khata.WithOperationLogger(operationZapLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("ledger init: %w", err)
	}
	inventory, err := khata.NewInventory(store, clock)
	if err != nil {
		return fmt.Errorf("inventory init: %w", err)
	}
	settlement, err := khata.NewSettlement(store, resolver, ledger, inventory, clock)
	if err != nil {
		return fmt.Errorf("settlement init: %w", err)
	}
	pending, err := khata.NewPending(store, clock, cfg.PendingTTL)
	if err != nil {
		return fmt.Errorf("pending init: %w", err)
	}

	nluClient, err := nlu.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		return fmt.Errorf("nlu init: %w", err)
	}
	defer func() { _ = nluClient.Close() }()

	waClient, err := whatsapp.NewClient(cfg.WhatsAppToken, cfg.WhatsAppPhoneID, logger)
	if err != nil {
		return fmt.Errorf("whatsapp init: %w", err)
	}

	hub := livehub.New()
	chatBot, err := bot.New(bot.Config{
		Resolver:            resolver,
		Ledger:              ledger,
		Pending:             pending,
		Settlement:          settlement,
		Extractor:           nluClient,
		Sender:              waClient,
		Media:               waClient,
		Hub:                 hub,
		Logger:              logger,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	})
	if err != nil {
		return fmt.Errorf("bot init: %w", err)
	}

	return httpserver.Run(ctx, httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		VerifyToken:    cfg.WebhookVerifyToken,
	}, httpserver.Deps{
		Bot:    chatBot,
		Ledger: ledger,
		Hub:    hub,
		Logger: logger,
	})
}

type operationZapLogger struct {
	logger *zap.Logger
}

func (adapter operationZapLogger) LogOperation(_ context.Context, entry khata.OperationLog) {
	adapter.logger.Info("ledger operation",
		zap.String("operation", entry.Operation),
		zap.String("shop", entry.ShopKey),
		zap.String("customer_id", entry.CustomerID),
		zap.String("entry_id", entry.EntryID),
		zap.Float64("amount", entry.Amount),
		zap.String("status", entry.Status),
		zap.Error(entry.Error),
	)
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
			path = "voicekhata.db"
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

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(gormstore.Tables()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
