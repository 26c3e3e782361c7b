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

	"github.com/kiranalabs/voicekhata/internal/store/gormstore"
	"github.com/kiranalabs/voicekhata/internal/whatsapp"
	"github.com/kiranalabs/voicekhata/pkg/khata"
)

const (
	flagDatabaseURL     = "database-url"
	flagShopPhone       = "shop-phone"
	flagCutoffDays      = "cutoff-days"
	flagCooldownHours   = "cooldown-hours"
	flagDryRun          = "dry-run"
	flagWhatsAppToken   = "whatsapp-token"
	flagWhatsAppPhoneID = "whatsapp-phone-number-id"

	configKeyDatabaseURL     = "database_url"
	configKeyShopPhone       = "shop_phone"
	configKeyCutoffDays      = "cutoff_days"
	configKeyCooldownHours   = "cooldown_hours"
	configKeyDryRun          = "dry_run"
	configKeyWhatsAppToken   = "whatsapp_token"
	configKeyWhatsAppPhoneID = "whatsapp_phone_number_id"

	defaultDatabaseURL   = "sqlite:///tmp/voicekhata.db"
	defaultCutoffDays    = 3
	defaultCooldownHours = 24
)

type runtimeConfig struct {
	DatabaseURL     string
	ShopPhone       string
	CutoffDays      int
	CooldownHours   int
	DryRun          bool
	WhatsAppToken   string
	WhatsAppPhoneID string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "reminderd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "reminderd",
		Short:         "One-shot payment hold reminder run",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runReminders(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagShopPhone, "", "shop phone number to remind")
	cmd.Flags().Int(flagCutoffDays, defaultCutoffDays, "minimum age in days before a hold is due")
	cmd.Flags().Int(flagCooldownHours, defaultCooldownHours, "minimum hours between reminders for one hold")
	cmd.Flags().Bool(flagDryRun, false, "log reminders without sending")
	cmd.Flags().String(flagWhatsAppToken, "", "WhatsApp Cloud API access token")
	cmd.Flags().String(flagWhatsAppPhoneID, "", "WhatsApp business phone number id")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:     "DATABASE_URL",
		configKeyShopPhone:       "SHOP_PHONE",
		configKeyCutoffDays:      "CUTOFF_DAYS",
		configKeyCooldownHours:   "COOLDOWN_HOURS",
		configKeyDryRun:          "DRY_RUN",
		configKeyWhatsAppToken:   "WHATSAPP_TOKEN",
		configKeyWhatsAppPhoneID: "WHATSAPP_PHONE_NUMBER_ID",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:     flagDatabaseURL,
		configKeyShopPhone:       flagShopPhone,
		configKeyCutoffDays:      flagCutoffDays,
		configKeyCooldownHours:   flagCooldownHours,
		configKeyDryRun:          flagDryRun,
		configKeyWhatsAppToken:   flagWhatsAppToken,
		configKeyWhatsAppPhoneID: flagWhatsAppPhoneID,
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
	cfg.ShopPhone = viper.GetString(configKeyShopPhone)
	cfg.CutoffDays = viper.GetInt(configKeyCutoffDays)
	cfg.CooldownHours = viper.GetInt(configKeyCooldownHours)
	cfg.DryRun = viper.GetBool(configKeyDryRun)
	cfg.WhatsAppToken = viper.GetString(configKeyWhatsAppToken)
	cfg.WhatsAppPhoneID = viper.GetString(configKeyWhatsAppPhoneID)

	if cfg.ShopPhone == "" {
		return fmt.Errorf("shop phone is required")
	}
	if cfg.CutoffDays < 0 || cfg.CooldownHours < 0 {
		return fmt.Errorf("cutoff and cooldown must be non-negative")
	}
	if !cfg.DryRun && (cfg.WhatsAppToken == "" || cfg.WhatsAppPhoneID == "") {
		return fmt.Errorf("whatsapp credentials are required unless --dry-run")
	}
	return nil
}

func runReminders(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	store := gormstore.New(gormDB)
	clock := func() time.Time { return time.Now().UTC() }
	holds, err := khata.NewHolds(store, clock)
	if err != nil {
		return fmt.Errorf("holds init: %w", err)
	}

	shop, err := khata.NewShopKey(cfg.ShopPhone)
	if err != nil {
		return fmt.Errorf("shop phone: %w", err)
	}

	var sender *whatsapp.Client
	if !cfg.DryRun {
		sender, err = whatsapp.NewClient(cfg.WhatsAppToken, cfg.WhatsAppPhoneID, logger)
		if err != nil {
			return fmt.Errorf("whatsapp init: %w", err)
		}
	}

	due, err := holds.ListDue(ctx, shop, cfg.CutoffDays, cfg.CooldownHours)
	if err != nil {
		return fmt.Errorf("list due holds: %w", err)
	}
	logger.Info("reminder run starting",
		zap.String("shop", shop.String()),
		zap.Int("due_holds", len(due)),
		zap.Bool("dry_run", cfg.DryRun),
	)

	// One failed hold must not block the rest of the run; every attempt is
	// logged and recorded individually.
	var sent, failed int
	for _, hold := range due {
		message := reminderMessage(hold, clock())
		if cfg.DryRun {
			logger.Info("would send reminder",
				zap.String("hold_id", hold.HoldID),
				zap.String("message", message),
			)
			continue
		}

		sendErr := sender.SendText(ctx, shop.String(), message)
		status := "sent"
		errorText := ""
		if sendErr != nil {
			status = "failed"
			errorText = sendErr.Error()
			failed++
			logger.Warn("reminder send failed", zap.String("hold_id", hold.HoldID), zap.Error(sendErr))
		} else {
			sent++
		}

		if logErr := store.InsertNotificationLog(ctx, khata.NotificationLog{
			ShopKey:     shop.String(),
			Channel:     "whatsapp",
			Type:        "payment_hold_reminder",
			EntityTable: "payment_holds",
			EntityID:    hold.HoldID,
			Message:     message,
			Status:      status,
			Error:       errorText,
		}); logErr != nil {
			logger.Warn("notification log write failed", zap.String("hold_id", hold.HoldID), zap.Error(logErr))
		}
		if sendErr != nil {
			continue
		}
		if markErr := holds.MarkNotified(ctx, hold.HoldID); markErr != nil {
			logger.Warn("notify bookkeeping failed", zap.String("hold_id", hold.HoldID), zap.Error(markErr))
		}
	}

	logger.Info("reminder run finished", zap.Int("sent", sent), zap.Int("failed", failed))
	return nil
}

func reminderMessage(hold khata.PaymentHold, now time.Time) string {
	name := hold.CustomerName
	if name == "" {
		name = "customer"
	}
	ageDays := int(now.Sub(hold.CreatedAt).Hours() / 24)
	amount := hold.Amount
	if amount == float64(int64(amount)) {
		return fmt.Sprintf("🔔 Reminder: %s ka ₹%.0f baaki hai (%d din se). Settle karne ke liye reply kijiye.", name, amount, ageDays)
	}
	return fmt.Sprintf("🔔 Reminder: %s ka ₹%.2f baaki hai (%d din se). Settle karne ke liye reply kijiye.", name, amount, ageDays)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	gormCfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
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
