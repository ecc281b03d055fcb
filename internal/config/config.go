package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Config is the configuration needed to start the bot, the scheduler
// and the event form server. It is populated from the environment, the
// same way the original event bot was: no config file, no flags beyond
// the ones cobra exposes for overriding a handful of server settings.
type Config struct {
	DBUser   string
	DBPass   string
	DBHost   string
	DBPort   string
	DBName   string

	// TestDBName, when set, causes the store to run against a separate
	// database reserved for integration tests instead of DBName.
	TestDBName string

	TelegramBotToken string

	// EventURL is the externally reachable base URL of the event form
	// server; it is what gets embedded in one-time links sent to hosts.
	EventURL string

	Addr string
	Port int

	// Workers bounds how many concurrent store operations the Store
	// Gateway will run against the database at once.
	Workers int64
}

func getEnv(key string) string {
	return os.Getenv(key)
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// FromEnv populates a Config from the process environment. It does not
// validate; call Validate afterward.
func FromEnv() *Config {
	c := &Config{
		DBUser:           getEnv("DB_USER"),
		DBPass:           getEnv("DB_PASS"),
		DBHost:           getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:           getEnvOrDefault("DB_PORT", "5432"),
		DBName:           getEnv("DB_NAME"),
		TestDBName:       getEnv("TEST_DB_NAME"),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN"),
		EventURL:         strings.TrimRight(getEnv("EVENT_URL"), "/"),
		Addr:             getEnvOrDefault("EVENTBOT_ADDR", "0.0.0.0"),
		Port:             getEnvOrDefaultInt("EVENTBOT_PORT", 8080),
		Workers:          int64(getEnvOrDefaultInt("EVENTBOT_DB_WORKERS", 8)),
	}
	return c
}

// MissingEnvError is returned by Validate for every required variable
// that was left unset.
type MissingEnvError struct {
	Vars []string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Vars, ", "))
}

// Validate checks that every variable required to run the bot is
// present. It does not attempt a database connection; that happens
// when the store driver is constructed, so connection failures surface
// as a distinct, friendlier error (see PrintConnectionError).
func (c *Config) Validate() error {
	var missing []string

	if c.DBUser == "" {
		missing = append(missing, "DB_USER")
	}
	if c.DBName == "" {
		missing = append(missing, "DB_NAME")
	}
	if c.TelegramBotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if c.EventURL == "" {
		missing = append(missing, "EVENT_URL")
	}

	if len(missing) > 0 {
		return &MissingEnvError{Vars: missing}
	}

	return nil
}

// DSN builds the lib/pq connection string for the configured database,
// or for TestDBName when useTestDB is true.
func (c *Config) DSN(useTestDB bool) string {
	name := c.DBName
	if useTestDB && c.TestDBName != "" {
		name = c.TestDBName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%s user=%s dbname=%s sslmode=disable", c.DBHost, c.DBPort, c.DBUser, name)
	if c.DBPass != "" {
		fmt.Fprintf(&b, " password=%s", c.DBPass)
	}
	return b.String()
}

// PrintConnectionError prints a human-readable diagnosis of a failed
// database connection, the same way the divinesense entrypoint
// diagnoses a bad DSN before giving up.
func PrintConnectionError(err error) {
	msg := errors.Cause(err).Error()

	switch {
	case strings.Contains(msg, "connection refused"):
		fmt.Fprintln(os.Stderr, "could not reach postgres: is it running, and is DB_HOST/DB_PORT correct?")
	case strings.Contains(msg, "password authentication failed"):
		fmt.Fprintln(os.Stderr, "postgres rejected the credentials: check DB_USER/DB_PASS")
	case strings.Contains(msg, "does not exist"):
		fmt.Fprintln(os.Stderr, "the configured database does not exist: check DB_NAME/TEST_DB_NAME, or create it")
	default:
		fmt.Fprintf(os.Stderr, "could not connect to the database: %s\n", msg)
	}
}
