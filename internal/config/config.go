package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable (CLASSCAST_HTTP_PORT, ...)
const EnvPrefix = "CLASSCAST"

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database    *DatabaseConfig    `json:"database" mapstructure:"database"`
	HTTP        *HTTPConfig        `json:"http" mapstructure:"http"`
	WebSocket   *WebSocketConfig   `json:"websocket" mapstructure:"websocket"`
	Translation *TranslationConfig `json:"translation" mapstructure:"translation"`
	Log         *LogConfig         `json:"log" mapstructure:"log"`
}

// DatabaseConfig selects and tunes the Store backend
type DatabaseConfig struct {
	Driver          string        `json:"driver" mapstructure:"driver"`
	Path            string        `json:"path" mapstructure:"path"`
	DSN             string        `json:"dsn" mapstructure:"dsn"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	ConnectAttempts int           `json:"connect_attempts" mapstructure:"connect_attempts"`
}

// FUNCTIONAL DISCOVERY: HTTP configuration balances performance and reliability
type HTTPConfig struct {
	Port            int           `json:"port" mapstructure:"port"`
	Host            string        `json:"host" mapstructure:"host"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration optimized for classroom scenarios
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval" mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	BufferSize   int           `json:"buffer_size" mapstructure:"buffer_size"`
	ReplayLimit  int           `json:"replay_limit" mapstructure:"replay_limit"`
}

// TranslationConfig selects the translation provider and bounds the fan-out
type TranslationConfig struct {
	Provider    string        `json:"provider" mapstructure:"provider"`
	Endpoint    string        `json:"endpoint" mapstructure:"endpoint"`
	APIKey      string        `json:"api_key" mapstructure:"api_key"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	Concurrency int           `json:"concurrency" mapstructure:"concurrency"`
}

// LogConfig controls log level and error reporting
type LogConfig struct {
	Level        string `json:"level" mapstructure:"level"`
	RollbarToken string `json:"rollbar_token" mapstructure:"rollbar_token"`
	Environment  string `json:"environment" mapstructure:"environment"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults based on classroom requirements
// Database on local filesystem, HTTP on standard port, WebSocket with 30s heartbeat
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:          DriverSQLite,
			Path:            "./data/classcast.db",
			Timeout:         30 * time.Second,
			MaxConnections:  10,
			ConnectAttempts: 5,
		},
		HTTP: &HTTPConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 5 * time.Second,
			BufferSize:   100,
			ReplayLimit:  50,
		},
		Translation: &TranslationConfig{
			Provider:    "passthrough",
			Timeout:     10 * time.Second,
			Concurrency: 4,
		},
		Log: &LogConfig{
			Level:       "info",
			Environment: "development",
		},
	}
}

// defaultValues flattens DefaultConfig into viper keys
func defaultValues() map[string]interface{} {
	d := DefaultConfig()
	return map[string]interface{}{
		"database.driver":           d.Database.Driver,
		"database.path":             d.Database.Path,
		"database.dsn":              d.Database.DSN,
		"database.timeout":          d.Database.Timeout,
		"database.max_connections":  d.Database.MaxConnections,
		"database.connect_attempts": d.Database.ConnectAttempts,
		"http.port":                 d.HTTP.Port,
		"http.host":                 d.HTTP.Host,
		"http.read_timeout":         d.HTTP.ReadTimeout,
		"http.write_timeout":        d.HTTP.WriteTimeout,
		"http.shutdown_timeout":     d.HTTP.ShutdownTimeout,
		"websocket.ping_interval":   d.WebSocket.PingInterval,
		"websocket.read_timeout":    d.WebSocket.ReadTimeout,
		"websocket.write_timeout":   d.WebSocket.WriteTimeout,
		"websocket.buffer_size":     d.WebSocket.BufferSize,
		"websocket.replay_limit":    d.WebSocket.ReplayLimit,
		"translation.provider":      d.Translation.Provider,
		"translation.endpoint":      d.Translation.Endpoint,
		"translation.api_key":       d.Translation.APIKey,
		"translation.timeout":       d.Translation.Timeout,
		"translation.concurrency":   d.Translation.Concurrency,
		"log.level":                 d.Log.Level,
		"log.rollbar_token":         d.Log.RollbarToken,
		"log.environment":           d.Log.Environment,
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
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

	if c.WebSocket.ReplayLimit < 0 {
		return fmt.Errorf("WebSocket replay limit cannot be negative")
	}

	if c.Translation == nil {
		return fmt.Errorf("translation configuration is required")
	}

	switch c.Translation.Provider {
	case "passthrough":
	case "http":
		if c.Translation.Endpoint == "" {
			return fmt.Errorf("translation endpoint is required for the http provider")
		}
	default:
		return fmt.Errorf("unknown translation provider %q", c.Translation.Provider)
	}

	if c.Translation.Timeout <= 0 {
		return fmt.Errorf("translation timeout must be positive")
	}

	if c.Translation.Concurrency <= 0 {
		return fmt.Errorf("translation concurrency must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}

	return nil
}

// Address returns host:port for the HTTP listener
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadDotEnv loads a .env file into the process environment when it exists.
// Variables already set in the environment win.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func newViper(withEnv bool) *viper.Viper {
	v := viper.New()
	for key, value := range defaultValues() {
		v.SetDefault(key, value)
	}
	if withEnv {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
	return v
}

// sanitize resets keys whose raw value cannot be parsed into the default's type.
// FUNCTIONAL DISCOVERY: A typo in one variable falls back to its default instead
// of discarding the whole configuration
func sanitize(v *viper.Viper) {
	for key, def := range defaultValues() {
		raw, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		switch def.(type) {
		case int:
			if _, err := strconv.Atoi(raw); err != nil {
				v.Set(key, def)
			}
		case time.Duration:
			if _, err := time.ParseDuration(raw); err != nil {
				v.Set(key, def)
			}
		}
	}
}

func decode(v *viper.Viper) (*Config, error) {
	sanitize(v)
	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}
	return config, nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Supports containerized deployments and configuration management systems
func LoadFromEnv() *Config {
	_ = LoadDotEnv("")

	config, err := decode(newViper(true))
	if err != nil {
		return DefaultConfig()
	}
	return config
}

// LoadFromFile reads a json, yaml or toml file over the defaults
func LoadFromFile(filepath string) (*Config, error) {
	v := newViper(false)
	v.SetConfigFile(filepath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	config, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// Enables flexible deployment patterns while maintaining sane defaults
func LoadConfigWithPrecedence(filepath string) *Config {
	_ = LoadDotEnv("")
	v := newViper(true)

	// Keys present in the file are forced over the environment
	if filepath != "" {
		file := viper.New()
		file.SetConfigFile(filepath)
		if err := file.ReadInConfig(); err == nil {
			for _, key := range file.AllKeys() {
				v.Set(key, file.Get(key))
			}
		}
		// Silently ignore file errors - environment/defaults still work
	}

	config, err := decode(v)
	if err != nil {
		return DefaultConfig()
	}
	return config
}
