package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration. Values come from the
// environment (a .env file is loaded first when present); every field
// has a default except the JWT secret.
type Config struct {
	HTTP      *HTTPConfig
	WebSocket *WebSocketConfig
	Database  *DatabaseConfig
	Auth      *AuthConfig
	Chat      *ChatConfig
	LogLevel  string
}

type HTTPConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type WebSocketConfig struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int
}

type DatabaseConfig struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	WriteTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret  string
	CookieName string
}

type ChatConfig struct {
	HistoryPageSize int
}

// DefaultConfig returns production defaults. The JWT secret has no
// default and must come from the environment.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		WebSocket: &WebSocketConfig{
			HandshakeTimeout: 10 * time.Second,
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			SendBuffer:       100,
		},
		Database: &DatabaseConfig{
			Path:            "./mentorchat.db",
			MaxConnections:  10,
			ConnMaxLifetime: 30 * time.Minute,
			WriteTimeout:    30 * time.Second,
		},
		Auth: &AuthConfig{
			CookieName: "accessToken",
		},
		Chat: &ChatConfig{
			HistoryPageSize: 50,
		},
		LogLevel: "info",
	}
}

// LoadFromEnv overlays environment variables on the defaults.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	setString(&cfg.HTTP.Host, "MENTORCHAT_HTTP_HOST")
	setInt(&cfg.HTTP.Port, "MENTORCHAT_HTTP_PORT")
	setDuration(&cfg.HTTP.ReadTimeout, "MENTORCHAT_HTTP_READ_TIMEOUT")
	setDuration(&cfg.HTTP.WriteTimeout, "MENTORCHAT_HTTP_WRITE_TIMEOUT")
	if origins := os.Getenv("MENTORCHAT_HTTP_ALLOWED_ORIGINS"); origins != "" {
		cfg.HTTP.AllowedOrigins = strings.Split(origins, ",")
	}

	setDuration(&cfg.WebSocket.HandshakeTimeout, "MENTORCHAT_WS_HANDSHAKE_TIMEOUT")
	setDuration(&cfg.WebSocket.PingInterval, "MENTORCHAT_WS_PING_INTERVAL")
	setDuration(&cfg.WebSocket.ReadTimeout, "MENTORCHAT_WS_READ_TIMEOUT")
	setDuration(&cfg.WebSocket.WriteTimeout, "MENTORCHAT_WS_WRITE_TIMEOUT")
	setInt(&cfg.WebSocket.SendBuffer, "MENTORCHAT_WS_SEND_BUFFER")

	setString(&cfg.Database.Path, "MENTORCHAT_DATABASE_PATH")
	setInt(&cfg.Database.MaxConnections, "MENTORCHAT_DATABASE_MAX_CONNECTIONS")
	setDuration(&cfg.Database.ConnMaxLifetime, "MENTORCHAT_DATABASE_CONN_MAX_LIFETIME")
	setDuration(&cfg.Database.WriteTimeout, "MENTORCHAT_DATABASE_WRITE_TIMEOUT")

	setString(&cfg.Auth.JWTSecret, "MENTORCHAT_JWT_SECRET")
	setString(&cfg.Auth.CookieName, "MENTORCHAT_AUTH_COOKIE")

	setInt(&cfg.Chat.HistoryPageSize, "MENTORCHAT_CHAT_HISTORY_PAGE_SIZE")
	setString(&cfg.LogLevel, "MENTORCHAT_LOG_LEVEL")

	return cfg
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Database == nil || c.Auth == nil || c.Chat == nil {
		return fmt.Errorf("incomplete configuration")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket intervals must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WebSocket send buffer must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required (MENTORCHAT_JWT_SECRET)")
	}
	if c.Auth.CookieName == "" {
		return fmt.Errorf("auth cookie name cannot be empty")
	}
	if c.Chat.HistoryPageSize <= 0 {
		return fmt.Errorf("history page size must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			*dst = parsed
		}
	}
}
