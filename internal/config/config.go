package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrInvalidPort       = errors.New("invalid port")
	ErrInvalidSendBuffer = errors.New("send buffer must be positive")
)

// Config is read from the environment; every key has a default.
type Config struct {
	Port              string
	CORSOrigins       []string
	RedisAddr         string
	RoomEventsChannel string
	SendBuffer        int
	ShutdownTimeout   time.Duration
	LogLevel          string
}

func defaults(v *viper.Viper) {
	v.SetDefault("PORT", "3001")
	v.SetDefault("CORS_ORIGIN", "http://localhost:5173")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("ROOM_EVENTS_CHANNEL", "coderoom:rooms")
	v.SetDefault("SEND_BUFFER", 256)
	v.SetDefault("SHUTDOWN_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:              strings.TrimSpace(v.GetString("PORT")),
		CORSOrigins:       splitList(v.GetString("CORS_ORIGIN")),
		RedisAddr:         strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RoomEventsChannel: v.GetString("ROOM_EVENTS_CHANNEL"),
		SendBuffer:        v.GetInt("SEND_BUFFER"),
		ShutdownTimeout:   v.GetDuration("SHUTDOWN_TIMEOUT"),
		LogLevel:          v.GetString("LOG_LEVEL"),
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	p, err := strconv.Atoi(cfg.Port)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("%w: %q", ErrInvalidPort, cfg.Port)
	}
	if cfg.SendBuffer <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSendBuffer, cfg.SendBuffer)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return ":" + c.Port }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
