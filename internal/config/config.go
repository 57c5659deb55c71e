package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings root. Each section maps onto one
// subsystem so subsystems never read the environment directly.
type Config struct {
	Database      *DatabaseConfig      `json:"database"`
	HTTP          *HTTPConfig          `json:"http"`
	WebSocket     *WebSocketConfig     `json:"websocket"`
	Collaboration *CollaborationConfig `json:"collaboration"`
}

// DatabaseConfig selects the session directory backend. Driver is either
// "postgres" (lib/pq DSN) or "sqlite3" (file path).
type DatabaseConfig struct {
	Driver       string        `json:"driver"`
	DSN          string        `json:"dsn"`
	QueryTimeout time.Duration `json:"query_timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// CollaborationConfig tunes the in-memory session state machine: the
// presence demotion ladder, lock and session lifetimes, the reaper cadence,
// and the bounded per-session change log.
type CollaborationConfig struct {
	IdleAfter      time.Duration `json:"idle_after"`
	OfflineAfter   time.Duration `json:"offline_after"`
	SessionTTL     time.Duration `json:"session_ttl"`
	LockTTL        time.Duration `json:"lock_ttl"`
	SweepInterval  time.Duration `json:"sweep_interval"`
	ChangeLogLimit int           `json:"change_log_limit"`
}

// DefaultConfig returns production defaults: SQLite directory on the local
// filesystem, HTTP on 8080, 30s WebSocket heartbeat, and the documented
// presence ladder (5m idle, 30m offline, 24h session eviction, 30m locks).
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:       "sqlite3",
			DSN:          "./surveysync.db",
			QueryTimeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Collaboration: &CollaborationConfig{
			IdleAfter:      5 * time.Minute,
			OfflineAfter:   30 * time.Minute,
			SessionTTL:     24 * time.Hour,
			LockTTL:        30 * time.Minute,
			SweepInterval:  60 * time.Second,
			ChangeLogLimit: 100,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite3" {
		return fmt.Errorf("database driver must be postgres or sqlite3, got %q", c.Database.Driver)
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}

	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("database query timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}

	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}

	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}

	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}

	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}

	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}

	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Collaboration == nil {
		return fmt.Errorf("collaboration configuration is required")
	}

	if c.Collaboration.IdleAfter <= 0 {
		return fmt.Errorf("collaboration idle threshold must be positive")
	}

	if c.Collaboration.OfflineAfter <= c.Collaboration.IdleAfter {
		return fmt.Errorf("collaboration offline threshold must exceed the idle threshold")
	}

	if c.Collaboration.SessionTTL <= c.Collaboration.OfflineAfter {
		return fmt.Errorf("collaboration session TTL must exceed the offline threshold")
	}

	if c.Collaboration.LockTTL <= 0 {
		return fmt.Errorf("collaboration lock TTL must be positive")
	}

	if c.Collaboration.SweepInterval <= 0 {
		return fmt.Errorf("collaboration sweep interval must be positive")
	}

	if c.Collaboration.ChangeLogLimit <= 0 {
		return fmt.Errorf("collaboration change log limit must be positive")
	}

	return nil
}

// LoadFromEnv overlays SURVEYSYNC_* environment variables onto the
// defaults. Malformed values fall back silently.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("SURVEYSYNC_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}

	if host := os.Getenv("SURVEYSYNC_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}

	if driver := os.Getenv("SURVEYSYNC_DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}

	if dsn := os.Getenv("SURVEYSYNC_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if readTimeout := os.Getenv("SURVEYSYNC_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}

	if writeTimeout := os.Getenv("SURVEYSYNC_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}

	if dbTimeout := os.Getenv("SURVEYSYNC_DATABASE_QUERY_TIMEOUT"); dbTimeout != "" {
		if timeout, err := time.ParseDuration(dbTimeout); err == nil {
			config.Database.QueryTimeout = timeout
		}
	}

	if pingInterval := os.Getenv("SURVEYSYNC_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if interval, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = interval
		}
	}

	if wsReadTimeout := os.Getenv("SURVEYSYNC_WEBSOCKET_READ_TIMEOUT"); wsReadTimeout != "" {
		if timeout, err := time.ParseDuration(wsReadTimeout); err == nil {
			config.WebSocket.ReadTimeout = timeout
		}
	}

	if wsWriteTimeout := os.Getenv("SURVEYSYNC_WEBSOCKET_WRITE_TIMEOUT"); wsWriteTimeout != "" {
		if timeout, err := time.ParseDuration(wsWriteTimeout); err == nil {
			config.WebSocket.WriteTimeout = timeout
		}
	}

	if bufferSize := os.Getenv("SURVEYSYNC_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}

	if idleAfter := os.Getenv("SURVEYSYNC_COLLABORATION_IDLE_AFTER"); idleAfter != "" {
		if d, err := time.ParseDuration(idleAfter); err == nil {
			config.Collaboration.IdleAfter = d
		}
	}

	if offlineAfter := os.Getenv("SURVEYSYNC_COLLABORATION_OFFLINE_AFTER"); offlineAfter != "" {
		if d, err := time.ParseDuration(offlineAfter); err == nil {
			config.Collaboration.OfflineAfter = d
		}
	}

	if sessionTTL := os.Getenv("SURVEYSYNC_COLLABORATION_SESSION_TTL"); sessionTTL != "" {
		if d, err := time.ParseDuration(sessionTTL); err == nil {
			config.Collaboration.SessionTTL = d
		}
	}

	if lockTTL := os.Getenv("SURVEYSYNC_COLLABORATION_LOCK_TTL"); lockTTL != "" {
		if d, err := time.ParseDuration(lockTTL); err == nil {
			config.Collaboration.LockTTL = d
		}
	}

	if sweepInterval := os.Getenv("SURVEYSYNC_COLLABORATION_SWEEP_INTERVAL"); sweepInterval != "" {
		if d, err := time.ParseDuration(sweepInterval); err == nil {
			config.Collaboration.SweepInterval = d
		}
	}

	if logLimit := os.Getenv("SURVEYSYNC_COLLABORATION_CHANGE_LOG_LIMIT"); logLimit != "" {
		if n, err := strconv.Atoi(logLimit); err == nil {
			config.Collaboration.ChangeLogLimit = n
		}
	}

	return config
}

// ConfigFile mirrors Config for JSON parsing; durations arrive as strings
// ("30s", "5m") and are parsed into time.Duration.
type ConfigFile struct {
	Database      *DatabaseConfigFile      `json:"database"`
	HTTP          *HTTPConfigFile          `json:"http"`
	WebSocket     *WebSocketConfigFile     `json:"websocket"`
	Collaboration *CollaborationConfigFile `json:"collaboration"`
}

type DatabaseConfigFile struct {
	Driver       string `json:"driver"`
	DSN          string `json:"dsn"`
	QueryTimeout string `json:"query_timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type CollaborationConfigFile struct {
	IdleAfter      string `json:"idle_after"`
	OfflineAfter   string `json:"offline_after"`
	SessionTTL     string `json:"session_ttl"`
	LockTTL        string `json:"lock_ttl"`
	SweepInterval  string `json:"sweep_interval"`
	ChangeLogLimit int    `json:"change_log_limit"`
}

// LoadFromFile reads a JSON configuration file over the defaults and
// validates the result.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Database != nil {
		if configFile.Database.Driver != "" {
			config.Database.Driver = configFile.Database.Driver
		}
		if configFile.Database.DSN != "" {
			config.Database.DSN = configFile.Database.DSN
		}
		if configFile.Database.QueryTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.Database.QueryTimeout); err == nil {
				config.Database.QueryTimeout = timeout
			}
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = timeout
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = timeout
			}
		}
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		if configFile.WebSocket.PingInterval != "" {
			if interval, err := time.ParseDuration(configFile.WebSocket.PingInterval); err == nil {
				config.WebSocket.PingInterval = interval
			}
		}
		if configFile.WebSocket.ReadTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.ReadTimeout); err == nil {
				config.WebSocket.ReadTimeout = timeout
			}
		}
		if configFile.WebSocket.WriteTimeout != "" {
			if timeout, err := time.ParseDuration(configFile.WebSocket.WriteTimeout); err == nil {
				config.WebSocket.WriteTimeout = timeout
			}
		}
	}

	if configFile.Collaboration != nil {
		if configFile.Collaboration.ChangeLogLimit > 0 {
			config.Collaboration.ChangeLogLimit = configFile.Collaboration.ChangeLogLimit
		}
		if configFile.Collaboration.IdleAfter != "" {
			if d, err := time.ParseDuration(configFile.Collaboration.IdleAfter); err == nil {
				config.Collaboration.IdleAfter = d
			}
		}
		if configFile.Collaboration.OfflineAfter != "" {
			if d, err := time.ParseDuration(configFile.Collaboration.OfflineAfter); err == nil {
				config.Collaboration.OfflineAfter = d
			}
		}
		if configFile.Collaboration.SessionTTL != "" {
			if d, err := time.ParseDuration(configFile.Collaboration.SessionTTL); err == nil {
				config.Collaboration.SessionTTL = d
			}
		}
		if configFile.Collaboration.LockTTL != "" {
			if d, err := time.ParseDuration(configFile.Collaboration.LockTTL); err == nil {
				config.Collaboration.LockTTL = d
			}
		}
		if configFile.Collaboration.SweepInterval != "" {
			if d, err := time.ParseDuration(configFile.Collaboration.SweepInterval); err == nil {
				config.Collaboration.SweepInterval = d
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment >
// defaults. A missing or unreadable file is ignored.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
