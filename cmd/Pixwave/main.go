package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/Pixwave/internal/api"
	"github.com/BTreeMap/Pixwave/internal/content"
	"github.com/BTreeMap/Pixwave/internal/flow"
	"github.com/BTreeMap/Pixwave/internal/lockfile"
	"github.com/BTreeMap/Pixwave/internal/session"
	"github.com/BTreeMap/Pixwave/internal/store"
	"github.com/BTreeMap/Pixwave/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Pixwave state data
	DefaultStateDir = "/var/lib/pixwave"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "pixwave.db"
	// DefaultLogLevel is used when no level is configured
	DefaultLogLevel = "info"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run wires configuration into the server and returns the process exit code.
// Deferred cleanup, including the state directory lock, runs before exit.
func run(args []string) int {
	config := loadEnvironmentConfig()

	flags, err := parseCommandLineFlags(config, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	initializeLogger(flags.logLevel)

	// Only a SQLite store lives in the state directory.
	if dir := lockDirectory(flags); dir != "" {
		lock, err := lockfile.Acquire(dir)
		if err != nil {
			slog.Error("Failed to lock state directory", "error", err)
			return 1
		}
		defer lock.Release()
	}

	storeOpts := buildStoreOptions(flags)
	apiOpts, err := buildAPIOptions(flags)
	if err != nil {
		slog.Error("Invalid API configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping Pixwave")
	slog.Debug("Final configuration", "state_dir", flags.stateDir, "dsn_set", flags.dbDSN != "", "in_memory", flags.inMemory, "api_addr", flags.apiAddr)
	if err := api.Run(ctx, storeOpts, apiOpts); err != nil {
		slog.Error("Pixwave failed to run", "error", err)
		return 1
	}
	slog.Info("Pixwave exited successfully")
	return 0
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	DatabaseURL      string
	InMemory         bool
	APIAddr          string
	GenerationDelay  time.Duration
	SessionTTL       time.Duration
	ReceiptRetention time.Duration
	LogLevel         string
	SecureCookies    bool
	ContentFile      string
}

// Flags holds command line flag values
type Flags struct {
	stateDir         string
	dbDSN            string
	inMemory         bool
	apiAddr          string
	generationDelay  time.Duration
	sessionTTL       time.Duration
	receiptRetention time.Duration
	logLevel         string
	secureCookies    bool
	contentFile      string
}

// initializeLogger sets up structured logging at the configured level
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// parseLogLevel maps a level name to slog.Level, defaulting to Info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         util.GetenvDefault("PIXWAVE_STATE_DIR", DefaultStateDir),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		InMemory:         util.ParseBoolEnv("PIXWAVE_IN_MEMORY", false),
		APIAddr:          os.Getenv("API_ADDR"),
		GenerationDelay:  util.ParseDurationEnv("PIXWAVE_GENERATION_DELAY", flow.DefaultGenerationDelay),
		SessionTTL:       util.ParseDurationEnv("PIXWAVE_SESSION_TTL", session.DefaultTTL),
		ReceiptRetention: util.ParseDurationEnv("PIXWAVE_RECEIPT_RETENTION", 0),
		LogLevel:         util.GetenvDefault("PIXWAVE_LOG_LEVEL", DefaultLogLevel),
		SecureCookies:    util.ParseBoolEnv("PIXWAVE_SECURE_COOKIES", false),
		ContentFile:      os.Getenv("PIXWAVE_CONTENT_FILE"),
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"PIXWAVE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"PIXWAVE_IN_MEMORY", config.InMemory,
		"API_ADDR", config.APIAddr,
		"PIXWAVE_GENERATION_DELAY", config.GenerationDelay,
		"PIXWAVE_SESSION_TTL", config.SessionTTL,
		"PIXWAVE_RECEIPT_RETENTION", config.ReceiptRetention,
		"PIXWAVE_LOG_LEVEL", config.LogLevel,
		"PIXWAVE_SECURE_COOKIES", config.SecureCookies,
		"PIXWAVE_CONTENT_FILE", config.ContentFile)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config, args []string) (Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("pixwave", flag.ContinueOnError)
	fs.StringVar(&flags.stateDir, "state-dir", config.StateDir, "state directory for Pixwave data (overrides $PIXWAVE_STATE_DIR)")
	fs.StringVar(&flags.dbDSN, "db-dsn", config.DatabaseURL, "database DSN for generation receipts (overrides $DATABASE_URL)")
	fs.BoolVar(&flags.inMemory, "in-memory", config.InMemory, "keep generation receipts in memory only (overrides $PIXWAVE_IN_MEMORY)")
	fs.StringVar(&flags.apiAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	durationFlag(fs, &flags.generationDelay, "generation-delay", config.GenerationDelay, "simulated generation delay (overrides $PIXWAVE_GENERATION_DELAY)")
	durationFlag(fs, &flags.sessionTTL, "session-ttl", config.SessionTTL, "idle session lifetime (overrides $PIXWAVE_SESSION_TTL)")
	durationFlag(fs, &flags.receiptRetention, "receipt-retention", config.ReceiptRetention, "delete generation receipts older than this, 0 keeps them (overrides $PIXWAVE_RECEIPT_RETENTION)")
	fs.StringVar(&flags.logLevel, "log-level", config.LogLevel, "log level: debug, info, warn, error (overrides $PIXWAVE_LOG_LEVEL)")
	fs.BoolVar(&flags.secureCookies, "secure-cookies", config.SecureCookies, "mark the session cookie Secure (overrides $PIXWAVE_SECURE_COOKIES)")
	fs.StringVar(&flags.contentFile, "content-file", config.ContentFile, "JSON file overriding page content (overrides $PIXWAVE_CONTENT_FILE)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"stateDir", flags.stateDir,
		"dbDSN_set", flags.dbDSN != "",
		"inMemory", flags.inMemory,
		"apiAddr", flags.apiAddr,
		"generationDelay", flags.generationDelay,
		"sessionTTL", flags.sessionTTL,
		"receiptRetention", flags.receiptRetention,
		"logLevel", flags.logLevel,
		"secureCookies", flags.secureCookies,
		"contentFile", flags.contentFile)

	// Follow -state-dir when the DSN is still the default SQLite path
	if flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && flags.stateDir != config.StateDir {
		flags.dbDSN = filepath.Join(flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", flags.stateDir)
	}

	return flags, nil
}

// durationFlag registers a duration flag that, like the environment, also
// accepts a bare number of milliseconds.
func durationFlag(fs *flag.FlagSet, p *time.Duration, name string, value time.Duration, usage string) {
	*p = value
	fs.Func(name, fmt.Sprintf("%s (default %v)", usage, value), func(s string) error {
		d, err := util.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*p = d
		return nil
	})
}

// lockDirectory returns the directory to lock, or "" when the store does not
// live on the local filesystem.
func lockDirectory(flags Flags) string {
	if flags.inMemory || flags.dbDSN == "" || store.DetectDSNType(flags.dbDSN) != "sqlite" {
		return ""
	}
	return filepath.Dir(store.SQLiteFilePath(flags.dbDSN))
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if flags.inMemory || flags.dbDSN == "" {
		slog.Debug("No persistent store configured, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(flags.dbDSN))
	}
	return storeOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) ([]api.Option, error) {
	var apiOpts []api.Option
	if flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(flags.apiAddr))
	}
	if flags.generationDelay < 0 {
		return nil, fmt.Errorf("generation delay must not be negative: %v", flags.generationDelay)
	}
	apiOpts = append(apiOpts, api.WithGenerationDelay(flags.generationDelay))
	if flags.sessionTTL <= 0 {
		return nil, fmt.Errorf("session TTL must be positive: %v", flags.sessionTTL)
	}
	apiOpts = append(apiOpts, api.WithSessionTTL(flags.sessionTTL))
	if flags.receiptRetention < 0 {
		return nil, fmt.Errorf("receipt retention must not be negative: %v", flags.receiptRetention)
	}
	if flags.receiptRetention > 0 {
		apiOpts = append(apiOpts, api.WithReceiptRetention(flags.receiptRetention))
	}
	if flags.secureCookies {
		apiOpts = append(apiOpts, api.WithSecureCookies(true))
	}
	if flags.contentFile != "" {
		cat, err := content.LoadFile(flags.contentFile)
		if err != nil {
			return nil, err
		}
		apiOpts = append(apiOpts, api.WithCatalog(cat))
	}
	return apiOpts, nil
}
