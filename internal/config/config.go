package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Chrome      ChromeConfig
	Recording   RecordingConfig
	Replay      ReplayConfig
	Maintenance MaintenanceConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Mode         string
	ReadTimeout  int
	WriteTimeout int
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Charset  string
}

type JWTConfig struct {
	Secret      string
	ExpireHours int
}

type ChromeConfig struct {
	// Tours are authored and replayed in a visible browser; headless is
	// only for CI smoke runs.
	Headless     bool
	DebugPortMin int
	DebugPortMax int
	DataDir      string
}

type RecordingConfig struct {
	MaxSessions       int
	CaptureAttribute  string
	DrainIntervalMs   int
	SessionTTLMinutes int
}

type ReplayConfig struct {
	MaxWorkers       int
	ShowDelayMs      int
	StepDelayMs      int
	GuidedTimeoutSec int
	HighlightTTLSec  int
	RunTTLMinutes    int
}

type MaintenanceConfig struct {
	// LintCron uses the six-field form with seconds.
	LintCron string
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Mode:         getEnv("SERVER_MODE", "debug"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "127.0.0.1"),
			Port:     getEnv("DB_PORT", "3306"),
			Username: getEnv("DB_USERNAME", "root"),
			Password: getEnv("DB_PASSWORD", "root"),
			Database: getEnv("DB_NAME", "tourflow"),
			Charset:  getEnv("DB_CHARSET", "utf8mb4"),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "tourflow-secret-key"),
			ExpireHours: getEnvAsInt("JWT_EXPIRE_HOURS", 24),
		},
		Chrome: ChromeConfig{
			Headless:     getEnvAsBool("CHROME_HEADLESS", false),
			DebugPortMin: getEnvAsInt("CHROME_DEBUG_PORT_MIN", 9222),
			DebugPortMax: getEnvAsInt("CHROME_DEBUG_PORT_MAX", 9322),
			DataDir:      getEnv("CHROME_DATA_DIR", "/tmp/tourflow-chrome"),
		},
		Recording: RecordingConfig{
			MaxSessions:       getEnvAsInt("RECORDING_MAX_SESSIONS", 4),
			CaptureAttribute:  getEnv("RECORDING_CAPTURE_ATTRIBUTE", "data-testid"),
			DrainIntervalMs:   getEnvAsInt("RECORDING_DRAIN_INTERVAL_MS", 100),
			SessionTTLMinutes: getEnvAsInt("RECORDING_SESSION_TTL_MIN", 30),
		},
		Replay: ReplayConfig{
			MaxWorkers:       getEnvAsInt("REPLAY_MAX_WORKERS", 4),
			ShowDelayMs:      getEnvAsInt("REPLAY_SHOW_DELAY_MS", 300),
			StepDelayMs:      getEnvAsInt("REPLAY_STEP_DELAY_MS", 500),
			GuidedTimeoutSec: getEnvAsInt("REPLAY_GUIDED_TIMEOUT", 30),
			HighlightTTLSec:  getEnvAsInt("REPLAY_HIGHLIGHT_TTL", 45),
			RunTTLMinutes:    getEnvAsInt("REPLAY_RUN_TTL_MIN", 60),
		},
		Maintenance: MaintenanceConfig{
			LintCron: getEnv("MAINTENANCE_LINT_CRON", "0 0 3 * * *"),
		},
	}

	return config, nil
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.Charset,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
