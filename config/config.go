package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Rooms     RoomsConfig
	Join      JoinConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port              string
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type WebSocketConfig struct {
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendQueue      int           `mapstructure:"send_queue"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type RoomsConfig struct {
	ChatIncludeSender bool          `mapstructure:"chat_include_sender"`
	ReapEmpty         bool          `mapstructure:"reap_empty"`
	ReapGrace         time.Duration `mapstructure:"reap_grace"`
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
	IDLength          int           `mapstructure:"id_length"`
}

type JoinConfig struct {
	RedirectURL string `mapstructure:"redirect_url"`
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads .env, then config.yaml from . or ./config, then the environment.
// A missing file at either step is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	return load(".", "./config")
}

func load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_queue", 256)
	v.SetDefault("websocket.allowed_origins", []string{"*"})
	v.SetDefault("rooms.chat_include_sender", true)
	v.SetDefault("rooms.reap_empty", false)
	v.SetDefault("rooms.reap_grace", "30s")
	v.SetDefault("rooms.reap_interval", "10s")
	v.SetDefault("rooms.id_length", 8)
	v.SetDefault("join.redirect_url", "https://www.youtube.com/watch")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// names used by earlier deployments
	legacyEnv := map[string][]string{
		"server.port": {"SERVER_PORT", "PORT"},
		"log.level":   {"LOG_LEVEL"},
	}
	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.WebSocket.PongWait <= 0 || c.WebSocket.WriteWait <= 0 {
		return errors.New("websocket timeouts must be positive")
	}
	if c.WebSocket.SendQueue < 1 {
		return fmt.Errorf("websocket.send_queue must be at least 1, got %d", c.WebSocket.SendQueue)
	}
	if c.Rooms.IDLength < 4 || c.Rooms.IDLength > 64 {
		return fmt.Errorf("rooms.id_length must be between 4 and 64, got %d", c.Rooms.IDLength)
	}
	if c.Rooms.ReapEmpty && c.Rooms.ReapInterval <= 0 {
		return errors.New("rooms.reap_interval must be positive when reaping is enabled")
	}
	return nil
}

func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
