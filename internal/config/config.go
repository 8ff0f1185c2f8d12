package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	// DB
	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/gatekeeper.db"

	// Facility access window (facility-local wall-clock hours).
	Timezone    string // IANA zone, e.g. "America/Mexico_City"
	WindowStart string // "HH:MM", inclusive
	WindowEnd   string // "HH:MM", exclusive

	// Token issuance
	TokenKey         string // HMAC key over the QR payload
	MaxTokenLifetime time.Duration
	DefaultTokenTTL  time.Duration

	// Resident sessions
	JWTSecret  string
	SessionTTL time.Duration

	// Shared key the gate terminal sends in X-Gate-Key on scan/exit.
	// Empty disables the check (dev).
	GateKey string

	// Sync reconciler
	SyncInterval time.Duration
	PushTimeout  time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration

	// Remote system of record (Google Sheets). An empty spreadsheet ID
	// runs the server fully offline with no reconciler remote.
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("GATE_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	return Config{
		HTTPAddr: getenvDefault("GATE_HTTP_ADDR", ":8080"),

		Env:    env,
		DBPath: getenvDefault("GATE_DB_PATH", "./data/gatekeeper.db"),

		Timezone:    getenvDefault("GATE_TIMEZONE", "America/Mexico_City"),
		WindowStart: getenvDefault("GATE_WINDOW_START", "06:00"),
		WindowEnd:   getenvDefault("GATE_WINDOW_END", "23:00"),

		TokenKey:         getenvDefault("GATE_TOKEN_KEY", "dev-only-token-key-change-me"),
		MaxTokenLifetime: getenvDuration("GATE_MAX_TOKEN_LIFETIME", 60*24*time.Hour),
		DefaultTokenTTL:  getenvDuration("GATE_DEFAULT_TOKEN_TTL", 12*time.Hour),

		JWTSecret:  getenvDefault("GATE_JWT_SECRET", "dev-only-jwt-secret-change-me"),
		SessionTTL: getenvDuration("GATE_SESSION_TTL", 8*time.Hour),

		GateKey: os.Getenv("GATE_TERMINAL_KEY"),

		SyncInterval: getenvDuration("GATE_SYNC_INTERVAL", 30*time.Second),
		PushTimeout:  getenvDuration("GATE_PUSH_TIMEOUT", 10*time.Second),
		BackoffBase:  getenvDuration("GATE_BACKOFF_BASE", time.Second),
		BackoffCap:   getenvDuration("GATE_BACKOFF_CAP", 60*time.Second),

		SpreadsheetID:   os.Getenv("GATE_SHEETS_SPREADSHEET_ID"),
		SheetName:       getenvDefault("GATE_SHEETS_SHEET_NAME", "ControlAccesoQR"),
		CredentialsFile: os.Getenv("GATE_SHEETS_CREDENTIALS_FILE"),
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	// Accept either a Go duration ("90s") or a bare number of seconds.
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
