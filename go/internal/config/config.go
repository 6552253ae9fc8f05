// Package config loads livepoll settings from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/livepoll/go/internal/classroom/coordinator"
	"github.com/mcdev12/livepoll/go/internal/classroom/gateway"
	"github.com/mcdev12/livepoll/go/internal/classroom/relay"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when LIVEPOLL_CONFIG is unset. A missing default file
// is not an error.
const DefaultPath = "livepoll.yaml"

type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Classroom ClassroomConfig `yaml:"classroom"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Relay     RelayConfig     `yaml:"relay"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type ClassroomConfig struct {
	DefaultTimeLimit int           `yaml:"default_time_limit"`
	MaxTimeLimit     int           `yaml:"max_time_limit"`
	HistoryLimit     int           `yaml:"history_limit"`
	ChatLimit        int           `yaml:"chat_limit"`
	TickInterval     time.Duration `yaml:"tick_interval"`
}

type WebSocketConfig struct {
	PingInterval      time.Duration `yaml:"ping_interval"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
	SendBufferSize    int           `yaml:"send_buffer_size"`
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	MessageBurst      int           `yaml:"message_burst"`
}

type RelayConfig struct {
	Driver        string `yaml:"driver"`
	NATSURL       string `yaml:"nats_url"`
	StreamName    string `yaml:"stream_name"`
	SubjectPrefix string `yaml:"subject_prefix"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisChannel  string `yaml:"redis_channel"`
}

// Default returns the built-in settings.
func Default() *Config {
	room := coordinator.DefaultRoomConfig()
	conn := gateway.DefaultConnectionConfig()
	rel := relay.DefaultConfig()

	return &Config{
		LogLevel: zerolog.InfoLevel.String(),
		Server: ServerConfig{
			Port:              5000,
			AllowedOrigins:    []string{"http://localhost:3000", "http://localhost:3001"},
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Classroom: ClassroomConfig{
			DefaultTimeLimit: room.DefaultTimeLimit,
			MaxTimeLimit:     room.MaxTimeLimit,
			HistoryLimit:     room.HistoryLimit,
			ChatLimit:        room.ChatLimit,
			TickInterval:     time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:      conn.PingInterval,
			ReadTimeout:       conn.ReadTimeout,
			WriteTimeout:      conn.WriteTimeout,
			MaxMessageSize:    conn.MaxMessageSize,
			SendBufferSize:    conn.SendBufferSize,
			MessagesPerSecond: conn.MessagesPerSecond,
			MessageBurst:      conn.MessageBurst,
		},
		Relay: RelayConfig{
			Driver:        rel.Driver,
			NATSURL:       rel.NATS.URL,
			StreamName:    rel.NATS.StreamName,
			SubjectPrefix: rel.NATS.SubjectPrefix,
			RedisAddr:     rel.Redis.Addr,
			RedisChannel:  rel.Redis.Channel,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// LIVEPOLL_CONFIG (or DefaultPath) and environment overrides, then
// validates it.
func Load() (*Config, error) {
	path, explicit := os.LookupEnv("LIVEPOLL_CONFIG")
	if !explicit || path == "" {
		path = DefaultPath
	}

	cfg := Default()
	if err := cfg.loadFile(path); err != nil && (explicit || !errors.Is(err, fs.ErrNotExist)) {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	for _, key := range []string{"FRONTEND_URL", "CLIENT_URL"} {
		if v, ok := lookup(key); ok && v != "" {
			c.Server.AllowedOrigins = appendUnique(c.Server.AllowedOrigins, strings.TrimRight(v, "/"))
		}
	}
	if v, ok := lookup("LIVEPOLL_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("RELAY_DRIVER"); ok && v != "" {
		c.Relay.Driver = v
	}
	if v, ok := lookup("NATS_URL"); ok && v != "" {
		c.Relay.NATSURL = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Relay.RedisAddr = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		c.Relay.RedisPassword = v
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}
	if len(c.Server.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin is required")
	}
	if c.Classroom.MaxTimeLimit < 1 {
		return fmt.Errorf("max time limit must be positive")
	}
	if c.Classroom.DefaultTimeLimit < 1 || c.Classroom.DefaultTimeLimit > c.Classroom.MaxTimeLimit {
		return fmt.Errorf("default time limit must be between 1 and %d", c.Classroom.MaxTimeLimit)
	}
	if c.Classroom.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive")
	}
	if c.Classroom.ChatLimit <= 0 {
		return fmt.Errorf("chat limit must be positive")
	}
	if c.Classroom.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket timeouts must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return fmt.Errorf("websocket ping interval must be shorter than the read timeout")
	}
	if c.WebSocket.MaxMessageSize <= 0 || c.WebSocket.SendBufferSize <= 0 {
		return fmt.Errorf("websocket buffer sizes must be positive")
	}
	if c.WebSocket.MessagesPerSecond <= 0 || c.WebSocket.MessageBurst <= 0 {
		return fmt.Errorf("websocket rate limit must be positive")
	}
	switch c.Relay.Driver {
	case relay.DriverNone, "":
	case relay.DriverNATS:
		if c.Relay.NATSURL == "" {
			return fmt.Errorf("nats relay requires a url")
		}
	case relay.DriverRedis:
		if c.Relay.RedisAddr == "" {
			return fmt.Errorf("redis relay requires an address")
		}
	default:
		return fmt.Errorf("unknown relay driver %q", c.Relay.Driver)
	}
	return nil
}

// Level returns the parsed log level. Call after Validate.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// CoordinatorConfig maps the classroom section onto the coordinator.
func (c *Config) CoordinatorConfig() coordinator.Config {
	cfg := coordinator.DefaultConfig()
	cfg.Room = coordinator.RoomConfig{
		DefaultTimeLimit: c.Classroom.DefaultTimeLimit,
		MaxTimeLimit:     c.Classroom.MaxTimeLimit,
		HistoryLimit:     c.Classroom.HistoryLimit,
		ChatLimit:        c.Classroom.ChatLimit,
	}
	cfg.TickInterval = c.Classroom.TickInterval
	return cfg
}

// GatewayConfig maps the server and websocket sections onto the gateway.
func (c *Config) GatewayConfig() gateway.Config {
	conn := gateway.DefaultConnectionConfig()
	conn.PingInterval = c.WebSocket.PingInterval
	conn.ReadTimeout = c.WebSocket.ReadTimeout
	conn.WriteTimeout = c.WebSocket.WriteTimeout
	conn.MaxMessageSize = c.WebSocket.MaxMessageSize
	conn.SendBufferSize = c.WebSocket.SendBufferSize
	conn.MessagesPerSecond = c.WebSocket.MessagesPerSecond
	conn.MessageBurst = c.WebSocket.MessageBurst
	conn.CheckOrigin = gateway.OriginChecker(c.Server.AllowedOrigins)

	return gateway.Config{
		ConnectionConfig: conn,
		AllowedOrigins:   append([]string(nil), c.Server.AllowedOrigins...),
	}
}

// RelayConfig maps the relay section onto the relay package.
func (c *Config) RelayConfig() relay.Config {
	cfg := relay.DefaultConfig()
	cfg.Driver = c.Relay.Driver
	if cfg.Driver == "" {
		cfg.Driver = relay.DriverNone
	}
	cfg.NATS.URL = c.Relay.NATSURL
	if c.Relay.StreamName != "" {
		cfg.NATS.StreamName = c.Relay.StreamName
	}
	if c.Relay.SubjectPrefix != "" {
		cfg.NATS.SubjectPrefix = c.Relay.SubjectPrefix
	}
	cfg.Redis.Addr = c.Relay.RedisAddr
	cfg.Redis.Password = c.Relay.RedisPassword
	cfg.Redis.DB = c.Relay.RedisDB
	if c.Relay.RedisChannel != "" {
		cfg.Redis.Channel = c.Relay.RedisChannel
	}
	return cfg
}
