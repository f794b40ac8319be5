package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logger       LoggerConfig       `yaml:"logger"`
	Redis        RedisConfig        `yaml:"redis"`
	Auth         AuthConfig         `yaml:"auth"`
	Services     ServicesConfig     `yaml:"services"`
	Directory    DirectoryConfig    `yaml:"directory"`
	Presence     PresenceConfig     `yaml:"presence"`
	OfflineQueue OfflineQueueConfig `yaml:"offline_queue"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	BasePath        string        `yaml:"base_path"`
	Env             string        `yaml:"env"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	ServiceURL string `yaml:"service_url"`
	SecretKey  string `yaml:"secret_key"`
	JWKSURL    string `yaml:"jwks_url"`
	Issuer     string `yaml:"issuer"`
}

type ServicesConfig struct {
	UserServiceURL string        `yaml:"user_service_url"`
	Timeout        time.Duration `yaml:"timeout"`
}

// DirectoryConfig selects where user profiles and workspace memberships are read from.
type DirectoryConfig struct {
	Source      string `yaml:"source"` // http | database
	DatabaseURL string `yaml:"database_url"`
}

type PresenceConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	TypingTTL       time.Duration `yaml:"typing_ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type OfflineQueueConfig struct {
	MaxLength     int           `yaml:"max_length"`
	MaxAge        time.Duration `yaml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type BridgeConfig struct {
	Transport string `yaml:"transport"` // redis | nats
	NATSURL   string `yaml:"nats_url"`
	NATSUser  string `yaml:"nats_user"`
	NATSPass  string `yaml:"nats_pass"`
}

type WebSocketConfig struct {
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	AllowedOrigins string        `yaml:"allowed_origins"`
}

const (
	DirectorySourceHTTP     = "http"
	DirectorySourceDatabase = "database"

	BridgeTransportRedis = "redis"
	BridgeTransportNATS  = "nats"
)

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8003,
			BasePath:        "/api/realtime",
			Env:             "dev",
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logger: LoggerConfig{Level: "info"},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
		},
		Services: ServicesConfig{
			UserServiceURL: "http://localhost:8080/api",
			Timeout:        5 * time.Second,
		},
		Directory: DirectoryConfig{Source: DirectorySourceHTTP},
		Presence: PresenceConfig{
			TTL:             5 * time.Minute,
			TypingTTL:       10 * time.Second,
			RefreshInterval: 2 * time.Minute,
		},
		OfflineQueue: OfflineQueueConfig{
			MaxLength:     100,
			MaxAge:        24 * time.Hour,
			SweepInterval: time.Minute,
		},
		Bridge: BridgeConfig{
			Transport: BridgeTransportRedis,
			NATSURL:   "nats://localhost:4222",
		},
		WebSocket: WebSocketConfig{
			PongWait:       60 * time.Second,
			WriteWait:      10 * time.Second,
			MaxMessageSize: 8192,
			AllowedOrigins: "*",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from yaml file if exists
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.Bridge.Transport = strings.ToLower(cfg.Bridge.Transport)
	cfg.Directory.Source = strings.ToLower(cfg.Directory.Source)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if basePath := os.Getenv("SERVER_BASE_PATH"); basePath != "" {
		cfg.Server.BasePath = basePath
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Server.Env = env
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logger.Level = logLevel
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		cfg.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			cfg.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}
	if authURL := os.Getenv("AUTH_SERVICE_URL"); authURL != "" {
		cfg.Auth.ServiceURL = authURL
	}
	if secretKey := os.Getenv("SECRET_KEY"); secretKey != "" {
		cfg.Auth.SecretKey = secretKey
	}
	if jwksURL := os.Getenv("JWKS_URL"); jwksURL != "" {
		cfg.Auth.JWKSURL = jwksURL
	}
	if userURL := os.Getenv("USER_SERVICE_URL"); userURL != "" {
		cfg.Services.UserServiceURL = userURL
	}
	if source := os.Getenv("DIRECTORY_SOURCE"); source != "" {
		cfg.Directory.Source = source
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Directory.DatabaseURL = dbURL
	}
	if transport := os.Getenv("BRIDGE_TRANSPORT"); transport != "" {
		cfg.Bridge.Transport = transport
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		cfg.Bridge.NATSURL = natsURL
	}
	if natsUser := os.Getenv("NATS_USER"); natsUser != "" {
		cfg.Bridge.NATSUser = natsUser
	}
	if natsPass := os.Getenv("NATS_PASS"); natsPass != "" {
		cfg.Bridge.NATSPass = natsPass
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.WebSocket.AllowedOrigins = origins
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Presence.TTL <= 0 || c.Presence.TypingTTL <= 0 {
		return fmt.Errorf("presence ttl and typing ttl must be positive")
	}
	if c.Presence.RefreshInterval <= 0 || c.Presence.RefreshInterval >= c.Presence.TTL {
		return fmt.Errorf("presence refresh interval must be positive and shorter than the presence ttl")
	}
	if c.OfflineQueue.MaxLength <= 0 {
		return fmt.Errorf("offline queue max length must be positive")
	}
	if c.OfflineQueue.MaxAge <= 0 || c.OfflineQueue.SweepInterval <= 0 {
		return fmt.Errorf("offline queue max age and sweep interval must be positive")
	}
	switch c.Directory.Source {
	case DirectorySourceHTTP:
	case DirectorySourceDatabase:
		if c.Directory.DatabaseURL == "" {
			return fmt.Errorf("directory source %q requires database_url", c.Directory.Source)
		}
	default:
		return fmt.Errorf("unknown directory source %q", c.Directory.Source)
	}
	switch c.Bridge.Transport {
	case BridgeTransportRedis, BridgeTransportNATS:
	default:
		return fmt.Errorf("unknown bridge transport %q", c.Bridge.Transport)
	}
	if c.WebSocket.PongWait <= 0 || c.WebSocket.WriteWait <= 0 {
		return fmt.Errorf("websocket pong_wait and write_wait must be positive")
	}
	return nil
}
