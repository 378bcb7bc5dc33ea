package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Store backends
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

type Config struct {
	// HTTP Configuration
	HTTPAddr       string
	HTTPRequestLog bool

	// Persistence
	StoreBackend string
	DataFile     string
	SQLitePath   string

	// Device behaviour
	HeartbeatTimeout time.Duration
	WakeFreshness    time.Duration
	ScheduleTimezone string

	// Admin authentication
	AdminUsername string
	AdminPassword string
	SessionTTL    time.Duration

	// MQTT Configuration (disabled when MQTTBroker is empty)
	MQTTBroker         string
	MQTTClientID       string
	MQTTUsername       string
	MQTTPassword       string
	MQTTTopicHeartbeat string
	MQTTTopicCommands  string
	MQTTTopicEvents    string

	// ClickHouse Configuration (disabled when ClickHouseAddr is empty)
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// Event fan-out
	EventBuffer int
}

// Load reads configuration from the environment after loading the given
// .env files, if they exist
func Load(envFiles ...string) *Config {
	if err := godotenv.Load(envFiles...); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load env file: %v", err)
	}

	return &Config{
		// HTTP Configuration
		HTTPAddr:       getEnv("HTTP_ADDR", ":3000"),
		HTTPRequestLog: getEnvBool("HTTP_REQUEST_LOG", true),

		// Persistence
		StoreBackend: getEnv("STORE_BACKEND", StoreJSON),
		DataFile:     getEnv("DATA_FILE", "./data/devices.json"),
		SQLitePath:   getEnv("SQLITE_PATH", "./data/power.db"),

		// Device behaviour
		HeartbeatTimeout: getEnvDuration("HEARTBEAT_TIMEOUT", 60*time.Second),
		WakeFreshness:    getEnvDuration("WAKE_FRESHNESS", 5*time.Minute),
		ScheduleTimezone: getEnv("SCHEDULE_TIMEZONE", "Local"),

		// Admin authentication
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		SessionTTL:    getEnvDuration("SESSION_TTL", 12*time.Hour),

		// MQTT Configuration
		MQTTBroker:         getEnv("MQTT_BROKER", ""),
		MQTTClientID:       getEnv("MQTT_CLIENT_ID", ""),
		MQTTUsername:       getEnv("MQTT_USERNAME", ""),
		MQTTPassword:       getEnv("MQTT_PASSWORD", ""),
		MQTTTopicHeartbeat: getEnv("MQTT_TOPIC_HEARTBEAT", "power/+/heartbeat"),
		MQTTTopicCommands:  getEnv("MQTT_TOPIC_COMMANDS", "power/{device_id}/commands"),
		MQTTTopicEvents:    getEnv("MQTT_TOPIC_EVENTS", "power/{device_id}/events"),

		// ClickHouse Configuration
		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "power"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),

		EventBuffer: getEnvInt("EVENT_BUFFER", 256),
	}
}

// FromArgs parses command-line flags, loads the environment (honouring
// --env-file) and lets explicitly set flags override it
func FromArgs(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("power-backend", pflag.ContinueOnError)
	envFile := fs.String("env-file", ".env", "path to a .env file")
	httpAddr := fs.String("http-addr", "", "HTTP listen address (HTTP_ADDR)")
	store := fs.String("store", "", "snapshot backend: json or sqlite (STORE_BACKEND)")
	dataFile := fs.String("data-file", "", "JSON snapshot path (DATA_FILE)")
	sqlitePath := fs.String("sqlite-path", "", "SQLite database path (SQLITE_PATH)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Load(*envFile)
	if fs.Changed("http-addr") {
		cfg.HTTPAddr = *httpAddr
	}
	if fs.Changed("store") {
		cfg.StoreBackend = *store
	}
	if fs.Changed("data-file") {
		cfg.DataFile = *dataFile
	}
	if fs.Changed("sqlite-path") {
		cfg.SQLitePath = *sqlitePath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreJSON, StoreSQLite:
	default:
		return fmt.Errorf("unknown store backend %q (want %s or %s)", c.StoreBackend, StoreJSON, StoreSQLite)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.HeartbeatTimeout <= 0 || c.WakeFreshness <= 0 {
		return fmt.Errorf("heartbeat timeout and wake freshness must be positive")
	}
	if c.MQTTBroker != "" {
		if err := validateHeartbeatTopic(c.MQTTTopicHeartbeat); err != nil {
			return err
		}
	}
	return nil
}

// validateHeartbeatTopic requires exactly one "+" segment, which carries the
// device id, and no multi-level wildcard
func validateHeartbeatTopic(pattern string) error {
	wildcards := 0
	for _, segment := range strings.Split(pattern, "/") {
		switch {
		case segment == "+":
			wildcards++
		case strings.ContainsAny(segment, "+#"):
			return fmt.Errorf("heartbeat topic %q: only a single-level \"+\" wildcard is allowed", pattern)
		}
	}
	if wildcards != 1 {
		return fmt.Errorf("heartbeat topic %q must contain exactly one \"+\" segment for the device id", pattern)
	}
	return nil
}

// Location resolves the schedule time zone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_TIMEZONE %q: %w", c.ScheduleTimezone, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as duration, using default: %v", key, err)
		return defaultValue
	}
	return duration
}
