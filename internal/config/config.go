package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverMongoDB = "mongodb"
	DriverSQLite  = "sqlite"
	DriverMemory  = "memory"
)

// Config represents the full application configuration surface.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Sheets    SheetsConfig
	WhatsApp  WhatsAppConfig
	Scheduler SchedulerConfig
	Board     BoardConfig
	Workflow  WorkflowConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port     string
	LogLevel string
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Driver     string
	MongoURI   string
	MongoDB    string
	SQLitePath string
}

// SheetsConfig configures the optional ledger mirror spreadsheet.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
}

// Enabled reports whether the ledger mirror is configured.
func (s SheetsConfig) Enabled() bool {
	return s.CredentialsPath != "" && s.SpreadsheetID != ""
}

// WhatsAppConfig contains credentials and options for the Meta WhatsApp Cloud API.
type WhatsAppConfig struct {
	AccessToken    string
	PhoneNumberID  string
	VerifyToken    string
	BaseURL        string
	APIVersion     string
	AlarmRecipient string
}

// Enabled reports whether alarms and operator commands go through WhatsApp.
func (w WhatsAppConfig) Enabled() bool {
	return w.AccessToken != "" && w.PhoneNumberID != ""
}

// SchedulerConfig holds the cron expressions of the background jobs.
type SchedulerConfig struct {
	TimerSweep    string
	AlarmReminder string
	Timezone      string
}

// BoardConfig tunes the production board reconciliation.
type BoardConfig struct {
	Debounce time.Duration
	Window   time.Duration
}

// WorkflowConfig tunes the retries of idempotent status writes and how long
// a transition claim may stay on a record before it is recovered.
type WorkflowConfig struct {
	RetryAttempts uint64
	RetryBase     time.Duration
	ClaimTimeout  time.Duration
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// A missing .env is fine when the environment is set directly.
		_ = godotenv.Load()
	}

	debounce, err := durationEnv("RECONCILE_DEBOUNCE", 300*time.Millisecond)
	if err != nil {
		return nil, err
	}
	window, err := durationEnv("BOARD_WINDOW", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	retryBase, err := durationEnv("STATUS_RETRY_BASE", 50*time.Millisecond)
	if err != nil {
		return nil, err
	}
	claimTimeout, err := durationEnv("CLAIM_TIMEOUT", time.Minute)
	if err != nil {
		return nil, err
	}
	retryAttempts, err := strconv.ParseUint(getenvWithDefault("STATUS_RETRY_ATTEMPTS", "5"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("STATUS_RETRY_ATTEMPTS must be a non-negative integer: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     getenvWithDefault("APP_PORT", "8080"),
			LogLevel: getenvWithDefault("LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			Driver:     getenvWithDefault("STORE_DRIVER", DriverMongoDB),
			MongoURI:   os.Getenv("MONGODB_URI"),
			MongoDB:    getenvWithDefault("MONGODB_DB_NAME", "producao"),
			SQLitePath: getenvWithDefault("SQLITE_PATH", "producao.db"),
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_LEDGER_ID"),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:    os.Getenv("WHATSAPP_TOKEN"),
			PhoneNumberID:  os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			VerifyToken:    os.Getenv("META_VERIFY_TOKEN"),
			BaseURL:        getenvWithDefault("WHATSAPP_BASE_URL", "https://graph.facebook.com"),
			APIVersion:     getenvWithDefault("WHATSAPP_API_VERSION", "v20.0"),
			AlarmRecipient: os.Getenv("WHATSAPP_ALARM_RECIPIENT"),
		},
		Scheduler: SchedulerConfig{
			TimerSweep:    getenvWithDefault("TIMER_SWEEP_SCHEDULE", "@every 15s"),
			AlarmReminder: getenvWithDefault("ALARM_REMINDER_SCHEDULE", "@every 1m"),
			Timezone:      getenvWithDefault("TIMEZONE", "America/Sao_Paulo"),
		},
		Board: BoardConfig{
			Debounce: debounce,
			Window:   window,
		},
		Workflow: WorkflowConfig{
			RetryAttempts: retryAttempts,
			RetryBase:     retryBase,
			ClaimTimeout:  claimTimeout,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch c.Store.Driver {
	case DriverMongoDB:
		if c.Store.MongoURI == "" {
			return errors.New("MONGODB_URI must be provided for the mongodb store")
		}
		if c.Store.MongoDB == "" {
			return errors.New("MONGODB_DB_NAME must not be empty")
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("SQLITE_PATH must not be empty")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER %q is not one of mongodb, sqlite, memory", c.Store.Driver)
	}

	if (c.Sheets.CredentialsPath == "") != (c.Sheets.SpreadsheetID == "") {
		return errors.New("GOOGLE_SHEETS_CREDENTIALS_PATH and GOOGLE_SHEET_LEDGER_ID must be provided together")
	}

	if c.WhatsApp.AccessToken != "" || c.WhatsApp.PhoneNumberID != "" {
		switch {
		case c.WhatsApp.AccessToken == "":
			return errors.New("WHATSAPP_TOKEN must be provided")
		case c.WhatsApp.PhoneNumberID == "":
			return errors.New("WHATSAPP_PHONE_NUMBER_ID must be provided")
		case c.WhatsApp.VerifyToken == "":
			return errors.New("META_VERIFY_TOKEN must be provided")
		case c.WhatsApp.BaseURL == "":
			return errors.New("WHATSAPP_BASE_URL must not be empty")
		case c.WhatsApp.APIVersion == "":
			return errors.New("WHATSAPP_API_VERSION must not be empty")
		}
	}

	if c.Scheduler.TimerSweep == "" {
		return errors.New("TIMER_SWEEP_SCHEDULE must be provided")
	}

	if c.Scheduler.AlarmReminder == "" {
		return errors.New("ALARM_REMINDER_SCHEDULE must be provided")
	}

	if c.Scheduler.Timezone == "" {
		return errors.New("TIMEZONE must be provided")
	}

	if c.Workflow.RetryBase <= 0 {
		return errors.New("STATUS_RETRY_BASE must be positive")
	}

	if c.Workflow.ClaimTimeout <= 0 {
		return errors.New("CLAIM_TIMEOUT must be positive")
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
