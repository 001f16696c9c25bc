package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mamadbah2/bloodbank/internal/domain/models"
)

// Config represents the full application configuration surface.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	MongoDB   MongoDBConfig
	Inventory InventoryConfig
	Scheduler SchedulerConfig
	Alerts    AlertsConfig
	Sheets    SheetsConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port string
}

// LoggingConfig selects the minimum log level.
type LoggingConfig struct {
	Level string
}

// MongoDBConfig holds settings for MongoDB.
type MongoDBConfig struct {
	URI    string
	DBName string
}

// InventoryConfig holds the stock policy.
type InventoryConfig struct {
	ShelfLife           time.Duration
	UnitVolumeML        int
	Thresholds          models.Thresholds
	TypeThresholds      map[models.BloodType]models.Thresholds
	ReservedGrace       time.Duration
	EscalateOnShortfall bool
	DisableFallback     bool
}

// SchedulerConfig holds the cron expressions of the background jobs.
type SchedulerConfig struct {
	ExpirySchedule     string
	AllocationSchedule string
	ReportSchedule     string
	Timezone           string
}

// AlertsConfig points at the webhook that receives stock alerts. Alerts are
// only logged when no URL is set.
type AlertsConfig struct {
	WebhookURL string
	Token      string
}

// SheetsConfig contains configuration required to interact with Google Sheets.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
}

// Enabled reports whether the daily report should be written to a sheet.
func (s SheetsConfig) Enabled() bool {
	return s.CredentialsPath != "" && s.SpreadsheetID != ""
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
		// missing .env files are fine when configuration comes from the environment
		_ = godotenv.Load()
	}

	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() (*Config, error) {
	shelfDays, err := getenvInt("SHELF_LIFE_DAYS", int(models.DefaultShelfLife/(24*time.Hour)))
	if err != nil {
		return nil, err
	}
	volume, err := getenvInt("UNIT_VOLUME_ML", models.DefaultUnitVolumeML)
	if err != nil {
		return nil, err
	}
	critical, err := getenvInt("STOCK_THRESHOLD_CRITICAL", models.DefaultThresholds.Critical)
	if err != nil {
		return nil, err
	}
	low, err := getenvInt("STOCK_THRESHOLD_LOW", models.DefaultThresholds.Low)
	if err != nil {
		return nil, err
	}
	optimal, err := getenvInt("STOCK_THRESHOLD_OPTIMAL", models.DefaultThresholds.Optimal)
	if err != nil {
		return nil, err
	}
	overrides, err := ParseTypeThresholds(os.Getenv("STOCK_THRESHOLDS"))
	if err != nil {
		return nil, err
	}
	grace, err := getenvDuration("RESERVED_EXPIRY_GRACE", 12*time.Hour)
	if err != nil {
		return nil, err
	}
	escalate, err := getenvBool("ESCALATE_ON_SHORTFALL", false)
	if err != nil {
		return nil, err
	}
	exactOnly, err := getenvBool("DISABLE_FALLBACK", false)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Port: getenvWithDefault("APP_PORT", "8080"),
		},
		Logging: LoggingConfig{
			Level: getenvWithDefault("LOG_LEVEL", "info"),
		},
		MongoDB: MongoDBConfig{
			URI:    getenvWithDefault("MONGODB_URI", "mongodb://localhost:27017"),
			DBName: getenvWithDefault("MONGODB_DB_NAME", "bloodbank"),
		},
		Inventory: InventoryConfig{
			ShelfLife:           time.Duration(shelfDays) * 24 * time.Hour,
			UnitVolumeML:        volume,
			Thresholds:          models.Thresholds{Critical: critical, Low: low, Optimal: optimal},
			TypeThresholds:      overrides,
			ReservedGrace:       grace,
			EscalateOnShortfall: escalate,
			DisableFallback:     exactOnly,
		},
		Scheduler: SchedulerConfig{
			ExpirySchedule:     getenvWithDefault("EXPIRY_CRON_SCHEDULE", "*/15 * * * *"),
			AllocationSchedule: getenvWithDefault("ALLOCATION_CRON_SCHEDULE", "*/5 * * * *"),
			ReportSchedule:     getenvWithDefault("REPORT_CRON_SCHEDULE", "0 20 * * *"),
			Timezone:           getenvWithDefault("TIMEZONE", "UTC"),
		},
		Alerts: AlertsConfig{
			WebhookURL: os.Getenv("ALERT_WEBHOOK_URL"),
			Token:      os.Getenv("ALERT_WEBHOOK_TOKEN"),
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_DATABASE_ID"),
		},
	}, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch {
	case c.MongoDB.URI == "":
		return errors.New("MONGODB_URI must be provided")
	case c.MongoDB.DBName == "":
		return errors.New("MONGODB_DB_NAME must be provided")
	}

	if c.Inventory.ShelfLife <= 0 {
		return errors.New("SHELF_LIFE_DAYS must be positive")
	}
	if c.Inventory.UnitVolumeML <= 0 {
		return errors.New("UNIT_VOLUME_ML must be positive")
	}
	if c.Inventory.ReservedGrace < 0 {
		return errors.New("RESERVED_EXPIRY_GRACE must not be negative")
	}
	if err := c.Inventory.Thresholds.Validate(); err != nil {
		return fmt.Errorf("STOCK_THRESHOLD_*: %w", err)
	}

	switch {
	case c.Scheduler.ExpirySchedule == "":
		return errors.New("EXPIRY_CRON_SCHEDULE must be provided")
	case c.Scheduler.AllocationSchedule == "":
		return errors.New("ALLOCATION_CRON_SCHEDULE must be provided")
	case c.Scheduler.ReportSchedule == "":
		return errors.New("REPORT_CRON_SCHEDULE must be provided")
	}

	if c.Scheduler.Timezone == "" {
		return errors.New("TIMEZONE must be provided")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Scheduler.Timezone, err)
	}

	if (c.Sheets.CredentialsPath == "") != (c.Sheets.SpreadsheetID == "") {
		return errors.New("GOOGLE_SHEETS_CREDENTIALS_PATH and GOOGLE_SHEET_DATABASE_ID must be provided together")
	}

	if c.Alerts.Token != "" && c.Alerts.WebhookURL == "" {
		return errors.New("ALERT_WEBHOOK_TOKEN requires ALERT_WEBHOOK_URL")
	}

	return nil
}

// ParseTypeThresholds reads per-type overrides written as
// "O-=8:15:30;AB-=2:4:8" (critical:low:optimal).
func ParseTypeThresholds(raw string) (map[models.BloodType]models.Thresholds, error) {
	out := make(map[models.BloodType]models.Thresholds)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, levels, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("STOCK_THRESHOLDS entry %q: expected TYPE=critical:low:optimal", entry)
		}
		bt, err := models.ParseBloodType(name)
		if err != nil {
			return nil, fmt.Errorf("STOCK_THRESHOLDS entry %q: %w", entry, err)
		}
		parts := strings.Split(levels, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("STOCK_THRESHOLDS entry %q: expected three levels", entry)
		}
		var n [3]int
		for i, p := range parts {
			n[i], err = strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("STOCK_THRESHOLDS entry %q: %w", entry, err)
			}
		}
		t := models.Thresholds{Critical: n[0], Low: n[1], Optimal: n[2]}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("STOCK_THRESHOLDS entry %q: %w", entry, err)
		}
		if _, dup := out[bt]; dup {
			return nil, fmt.Errorf("STOCK_THRESHOLDS lists %s twice", bt)
		}
		out[bt] = t
	}
	return out, nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func getenvBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}
