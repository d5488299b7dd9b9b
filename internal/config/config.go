package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	API APIConfig `yaml:"api"`
	Web WebConfig `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
	Redis RedisConfig `yaml:"redis"`
	NATS NATSConfig `yaml:"nats"`
	JWT JWTConfig `yaml:"jwt"`
	Log LogConfig `yaml:"log"`
	Network NetworkConfig `yaml:"network"`
	Gateway GatewayConfig `yaml:"gateway"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int `yaml:"port"`
}

// WebConfig represents web UI configuration
type WebConfig struct {
	Host string `yaml:"host"`
	Port int `yaml:"port"`
	StaticDir string `yaml:"static_dir"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr string `yaml:"addr"`
	Password string `yaml:"password"`
	DB int `yaml:"db"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL string `yaml:"url"`
	ClusterID string `yaml:"cluster_id"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	MaxReconnects int `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
	Format string `yaml:"format"`
}

// NetworkConfig represents network server configuration. Region is the
// network's region tag, which cmd/network-server checks against
// internal/region.Get at startup; Devices do not inherit it, since each
// Device carries its own region tag and the engine resolves the table
// from that tag alone. It replaces the original
// CN470-only Band/CN470Config knobs now that internal/region carries its
// own per-region defaults (EU868/US915/CN470 + its three deployment
// modes), selected once at startup instead of threaded through config.
type NetworkConfig struct {
	NetIDHex string `yaml:"net_id"`
	DeduplicationWindow time.Duration `yaml:"deduplication_window"`
	DeviceSessionTTL time.Duration `yaml:"device_session_ttl"`
	Region string `yaml:"region"`
	ADREnabled bool `yaml:"adr_enabled"`
	// PreprocessingDelay budgets MAC-processing time before the RX1
	// window closes ; subtracted from RX1Delay in choose_tx.
	PreprocessingDelay time.Duration `yaml:"preprocessing_delay"`
}

// NetID parses NetIDHex (3 bytes, hex-encoded, e.g. "000013") into the
// wire form the join/uplink engines need.
func (n NetworkConfig) NetID() ([3]byte, error) {
	var id [3]byte
	raw, err := hex.DecodeString(n.NetIDHex)
	if err != nil {
 return id, fmt.Errorf("parse net_id %q: %w", n.NetIDHex, err)
	}
	if len(raw) != 3 {
 return id, fmt.Errorf("net_id %q: want 3 bytes, got %d", n.NetIDHex, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// GatewayConfig represents gateway bridge configuration
type GatewayConfig struct {
	UDPBind string `yaml:"udp_bind"`
	StatsInterval time.Duration `yaml:"stats_interval"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PushTimeout time.Duration `yaml:"push_timeout"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
 return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
 return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()

	if _, err := cfg.Network.NetID(); err != nil {
 return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
 c.Database.DSN = dsn
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
 c.Redis.Addr = redisAddr
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
 c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
 c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
 c.Log.Level = logLevel
	}

	if region := os.Getenv("NETWORK_REGION"); region != "" {
 c.Network.Region = region
	}
}

// PrintConfigSummary prints a summary of the loaded configuration.
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== LoRaWAN Server Configuration ===\n")
	fmt.Printf("Server: %s v%s\n", c.Server.Name, c.Server.Version)
	fmt.Printf("Network Region: %s\n", c.Network.Region)
	fmt.Printf("Network ID: %s\n", c.Network.NetIDHex)
	fmt.Printf("ADR Enabled: %v\n", c.Network.ADREnabled)
	fmt.Printf("Preprocessing Delay: %s\n", c.Network.PreprocessingDelay)
	fmt.Printf("==========================================\n")
}
