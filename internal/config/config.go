package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the configuration shared by the gateway and the
// application server. Each binary reads the sections it needs.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	API           APIConfig           `yaml:"api"`
	Database      DatabaseConfig      `yaml:"database"`
	NATS          NATSConfig          `yaml:"nats"`
	JWT           JWTConfig           `yaml:"jwt"`
	Internal      InternalConfig      `yaml:"internal"`
	Log           LogConfig           `yaml:"log"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Collaborator  CollaboratorConfig  `yaml:"collaborator"`
	Alarm         AlarmConfig         `yaml:"alarm"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents the application server HTTP listener
type APIConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig represents database configuration.
// An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientID          string        `yaml:"client_id"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	CommandSubject    string        `yaml:"command_subject"`
}

// JWTConfig represents user token configuration
type JWTConfig struct {
	Secret         string        `yaml:"secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

// InternalConfig holds the secret shared between the gateway and the
// application server
type InternalConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatewayConfig represents the device gateway listener and identity
type GatewayConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MaxClockSkew     time.Duration `yaml:"max_clock_skew"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	SigningKeyFile   string        `yaml:"signing_key_file"`
	CertChainFile    string        `yaml:"cert_chain_file"`
}

// CollaboratorConfig points the two binaries at each other. BaseURL is the
// application server's internal API, GatewayURL the gateway's command
// endpoint used when NATS is not configured.
type CollaboratorConfig struct {
	BaseURL    string        `yaml:"base_url"`
	GatewayURL string        `yaml:"gateway_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// AlarmConfig sizes the siren command dispatcher
type AlarmConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// NotificationsConfig controls audit event publication
type NotificationsConfig struct {
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, applies environment overrides and
// fills in defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()

	if err := cfg.validateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if secret := os.Getenv("INTERNAL_SECRET"); secret != "" {
		c.Internal.Secret = secret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if baseURL := os.Getenv("APPLICATION_SERVER_URL"); baseURL != "" {
		c.Collaborator.BaseURL = baseURL
	}

	if gatewayURL := os.Getenv("GATEWAY_URL"); gatewayURL != "" {
		c.Collaborator.GatewayURL = gatewayURL
	}

	if keyFile := os.Getenv("SIGNING_KEY_FILE"); keyFile != "" {
		c.Gateway.SigningKeyFile = keyFile
	}
}

// validateAndSetDefaults checks required values and sets defaults
func (c *Config) validateAndSetDefaults() error {
	if c.Server.Name == "" {
		c.Server.Name = "hearth"
	}

	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.NATS.CommandSubject == "" {
		c.NATS.CommandSubject = "gateway.commands"
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = time.Hour
	}

	if c.Internal.Secret == "" {
		return fmt.Errorf("internal.secret is required")
	}
	if c.Internal.TokenTTL == 0 {
		c.Internal.TokenTTL = time.Minute
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	switch c.Log.Level {
	case "":
		c.Log.Level = "info"
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Gateway.Host == "" {
		c.Gateway.Host = "0.0.0.0"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 8443
	}
	if c.Gateway.HandshakeTimeout == 0 {
		c.Gateway.HandshakeTimeout = 30 * time.Second
	}
	if c.Gateway.MaxClockSkew == 0 {
		c.Gateway.MaxClockSkew = 60 * time.Second
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = 10 * time.Second
	}
	if c.Gateway.IdleTimeout == 0 {
		c.Gateway.IdleTimeout = 5 * time.Minute
	}

	if c.Collaborator.BaseURL == "" {
		c.Collaborator.BaseURL = fmt.Sprintf("http://127.0.0.1:%d/internal/v1", c.API.Port)
	}
	c.Collaborator.BaseURL = strings.TrimRight(c.Collaborator.BaseURL, "/")
	if c.Collaborator.GatewayURL == "" {
		c.Collaborator.GatewayURL = fmt.Sprintf("http://127.0.0.1:%d", c.Gateway.Port)
	}
	c.Collaborator.GatewayURL = strings.TrimRight(c.Collaborator.GatewayURL, "/")
	if c.Collaborator.Timeout == 0 {
		c.Collaborator.Timeout = 10 * time.Second
	}

	if c.Alarm.Workers == 0 {
		c.Alarm.Workers = 4
	}
	if c.Alarm.QueueSize == 0 {
		c.Alarm.QueueSize = 256
	}
	if c.Alarm.CommandTimeout == 0 {
		c.Alarm.CommandTimeout = 5 * time.Second
	}
	if c.Alarm.Workers < 0 || c.Alarm.QueueSize < 0 {
		return fmt.Errorf("alarm workers and queue size must be positive")
	}

	if c.Notifications.SubjectPrefix == "" {
		c.Notifications.SubjectPrefix = "notifications.space"
	}

	return nil
}

// PrintConfigSummary prints a configuration summary without secrets
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== Hearth Configuration ===\n")
	fmt.Printf("Server: %s v%s\n", c.Server.Name, c.Server.Version)
	fmt.Printf("API: %s:%d\n", c.API.Host, c.API.Port)
	fmt.Printf("Gateway: %s:%d (handshake timeout %s, clock skew %s)\n",
		c.Gateway.Host, c.Gateway.Port, c.Gateway.HandshakeTimeout, c.Gateway.MaxClockSkew)
	if c.Database.DSN == "" {
		fmt.Printf("Database: in-memory\n")
	} else {
		fmt.Printf("Database: postgres (max open %d)\n", c.Database.MaxOpenConns)
	}
	if c.NATS.URL == "" {
		fmt.Printf("NATS: disabled\n")
	} else {
		fmt.Printf("NATS: %s (commands on %s)\n", c.NATS.URL, c.NATS.CommandSubject)
	}
	fmt.Printf("Collaborator: %s (gateway %s)\n", c.Collaborator.BaseURL, c.Collaborator.GatewayURL)
	fmt.Printf("Alarm dispatcher: %d workers, queue %d\n", c.Alarm.Workers, c.Alarm.QueueSize)
	fmt.Printf("Log level: %s\n", c.Log.Level)
	fmt.Printf("============================\n")
}
