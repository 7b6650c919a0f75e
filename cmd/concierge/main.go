package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/conciergelabs/concierge/internal/actions"
	"github.com/conciergelabs/concierge/internal/api"
	"github.com/conciergelabs/concierge/internal/auth"
	"github.com/conciergelabs/concierge/internal/conversation"
	"github.com/conciergelabs/concierge/internal/directory"
	"github.com/conciergelabs/concierge/internal/genai"
	"github.com/conciergelabs/concierge/internal/messaging"
	"github.com/conciergelabs/concierge/internal/onboarding"
	"github.com/conciergelabs/concierge/internal/store"
	"github.com/conciergelabs/concierge/internal/tokens"
	"github.com/conciergelabs/concierge/internal/util"
	"github.com/conciergelabs/concierge/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Concierge state data
	DefaultStateDir = "/var/lib/concierge"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "concierge.db"
	// DefaultTransport is the chat transport used when none is configured
	DefaultTransport = "bridge"
)

// appStore is the combined storage surface the service wires: the user
// directory plus the inbound event idempotency ledger, backed by one database.
type appStore interface {
	directory.Directory
	store.EventRepo
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("Concierge failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Concierge exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	DatabaseDSN      string
	APIAddr          string
	SharedSecret     string
	OpenAIKey        string
	OpenAIModel      string
	AuthBaseURL      string
	AuthAPIKey       string
	ActionsBaseURL   string
	DashboardBaseURL string
	Transport        string
	BridgeURL        string
	BridgePassword   string
	WhatsAppDBDSN    string
	TokenBudget      int
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	dbDSN            *string
	apiAddr          *string
	sharedSecret     *string
	openaiKey        *string
	openaiModel      *string
	authBaseURL      *string
	authAPIKey       *string
	actionsBaseURL   *string
	dashboardBaseURL *string
	transport        *string
	bridgeURL        *string
	bridgePassword   *string
	whatsappDBDSN    *string
	qrOutput         *string
	numeric          *bool
	tokenBudget      *int
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("CONCIERGE_STATE_DIR"),
		DatabaseDSN:      os.Getenv("DATABASE_DSN"),
		APIAddr:          os.Getenv("API_ADDR"),
		SharedSecret:     os.Getenv("WEBHOOK_SHARED_SECRET"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		AuthBaseURL:      os.Getenv("AUTH_BASE_URL"),
		AuthAPIKey:       os.Getenv("AUTH_API_KEY"),
		ActionsBaseURL:   os.Getenv("ACTIONS_BASE_URL"),
		DashboardBaseURL: os.Getenv("DASHBOARD_BASE_URL"),
		Transport:        os.Getenv("CHAT_TRANSPORT"),
		BridgeURL:        os.Getenv("BRIDGE_SERVER_URL"),
		BridgePassword:   os.Getenv("BRIDGE_PASSWORD"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		TokenBudget:      util.ParseIntEnv("TOKEN_BUDGET", conversation.DefaultTokenBudget),
	}

	// Legacy variable support
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = os.Getenv("DATABASE_URL")
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CONCIERGE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database DSN is provided, default to SQLite in the state directory
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseDSN)
	}

	if config.Transport == "" {
		config.Transport = DefaultTransport
	}

	slog.Debug("environment variables loaded",
		"CONCIERGE_STATE_DIR", config.StateDir,
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"API_ADDR", config.APIAddr,
		"WEBHOOK_SHARED_SECRET_SET", config.SharedSecret != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"AUTH_BASE_URL", config.AuthBaseURL,
		"ACTIONS_BASE_URL", config.ActionsBaseURL,
		"DASHBOARD_BASE_URL", config.DashboardBaseURL,
		"CHAT_TRANSPORT", config.Transport,
		"BRIDGE_SERVER_URL_SET", config.BridgeURL != "",
		"TOKEN_BUDGET", config.TokenBudget)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for Concierge data (overrides $CONCIERGE_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseDSN, "database DSN for the user directory and event ledger (overrides $DATABASE_DSN)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sharedSecret:     flag.String("webhook-secret", config.SharedSecret, "shared secret required on webhook deliveries (overrides $WEBHOOK_SHARED_SECRET)"),
		openaiKey:        flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:      flag.String("openai-model", config.OpenAIModel, "OpenAI model name (overrides $OPENAI_MODEL)"),
		authBaseURL:      flag.String("auth-base-url", config.AuthBaseURL, "auth service base URL for email OTP (overrides $AUTH_BASE_URL)"),
		authAPIKey:       flag.String("auth-api-key", config.AuthAPIKey, "auth service API key (overrides $AUTH_API_KEY)"),
		actionsBaseURL:   flag.String("actions-base-url", config.ActionsBaseURL, "action provider base URL for email/calendar calls (overrides $ACTIONS_BASE_URL)"),
		dashboardBaseURL: flag.String("dashboard-base-url", config.DashboardBaseURL, "integrations dashboard base URL (overrides $DASHBOARD_BASE_URL)"),
		transport:        flag.String("transport", config.Transport, "chat transport: bridge, twilio, or whatsapp (overrides $CHAT_TRANSPORT)"),
		bridgeURL:        flag.String("bridge-url", config.BridgeURL, "iMessage bridge server URL (overrides $BRIDGE_SERVER_URL)"),
		bridgePassword:   flag.String("bridge-password", config.BridgePassword, "iMessage bridge server password (overrides $BRIDGE_PASSWORD)"),
		whatsappDBDSN:    flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "database DSN for the WhatsApp session store (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:         flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:          flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		tokenBudget:      flag.Int("token-budget", config.TokenBudget, "conversation token budget (overrides $TOKEN_BUDGET)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"transport", *flags.transport,
		"openaiKeySet", *flags.openaiKey != "",
		"tokenBudget", *flags.tokenBudget)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseDSN && config.DatabaseDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// buildStore opens the configured storage backend for the user directory and
// the event ledger.
func buildStore(flags Flags) (appStore, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildTransport constructs the configured chat transport and returns it with
// a cleanup function.
func buildTransport(flags Flags) (messaging.Transport, func(), error) {
	switch *flags.transport {
	case "bridge":
		t, err := messaging.NewBridgeClient(
			messaging.WithBridgeServerURL(*flags.bridgeURL),
			messaging.WithBridgePassword(*flags.bridgePassword),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("bridge transport: %w", err)
		}
		return t, func() {}, nil
	case "twilio":
		t, err := messaging.NewTwilioTransport()
		if err != nil {
			return nil, nil, fmt.Errorf("twilio transport: %w", err)
		}
		return t, func() {}, nil
	case "whatsapp":
		var waOpts []whatsapp.Option
		if *flags.whatsappDBDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDBDSN))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("whatsapp transport: %w", err)
		}
		return messaging.NewWhatsAppTransport(client), client.Disconnect, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", *flags.transport)
	}
}

// actionsDispatcher builds the action provider and its dispatcher.
func actionsDispatcher(flags Flags) *actions.Dispatcher {
	provider := actions.NewHTTPProvider(*flags.actionsBaseURL)
	return actions.NewDispatcher(provider)
}

// run wires the modules together and serves until the context is cancelled.
func run(ctx context.Context, flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	model, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("genai client: %w", err)
	}

	counter, err := tokens.NewCounter()
	if err != nil {
		return fmt.Errorf("token counter: %w", err)
	}

	otp, err := auth.NewClient(
		auth.WithBaseURL(*flags.authBaseURL),
		auth.WithAPIKey(*flags.authAPIKey),
	)
	if err != nil {
		return fmt.Errorf("auth client: %w", err)
	}

	dispatcher := actionsDispatcher(flags)
	manager := conversation.NewManager(st, model, counter, dispatcher,
		conversation.WithTokenBudget(*flags.tokenBudget),
		conversation.WithDashboardBaseURL(*flags.dashboardBaseURL),
	)
	machine := onboarding.NewMachine(st, otp,
		onboarding.WithDashboardBaseURL(*flags.dashboardBaseURL),
	)

	transport, cleanup, err := buildTransport(flags)
	if err != nil {
		return err
	}
	defer cleanup()

	router := messaging.NewRouter(st, transport, machine, manager)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.sharedSecret != "" {
		apiOpts = append(apiOpts, api.WithSharedSecret(*flags.sharedSecret))
	}
	server := api.NewServer(st, router, apiOpts...)

	slog.Info("Bootstrapping Concierge with configured modules",
		"transport", *flags.transport, "db_type", store.DetectDSNType(*flags.dbDSN))
	return server.Run(ctx)
}
