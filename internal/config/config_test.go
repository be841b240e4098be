package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, pattern, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), pattern)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// FUNCTIONAL VALIDATION TEST: Default configuration provides production-ready settings
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Database.Driver != DriverSQLite || config.Database.Path == "" {
		t.Errorf("Unexpected database defaults: %+v", config.Database)
	}
	if config.HTTP.Port != 8080 || config.HTTP.Address() != "0.0.0.0:8080" {
		t.Errorf("Unexpected HTTP defaults: %+v", config.HTTP)
	}
	if config.WebSocket.PingInterval != 30*time.Second || config.WebSocket.ReplayLimit != 50 {
		t.Errorf("Unexpected WebSocket defaults: %+v", config.WebSocket)
	}
	if config.Translation.Provider != "passthrough" || config.Translation.Concurrency != 4 {
		t.Errorf("Unexpected translation defaults: %+v", config.Translation)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

// TECHNICAL VALIDATION TEST: Complete validation coverage
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"nil database", func(c *Config) { c.Database = nil }},
		{"empty sqlite path", func(c *Config) { c.Database.Path = "" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"zero database timeout", func(c *Config) { c.Database.Timeout = 0 }},
		{"nil http", func(c *Config) { c.HTTP = nil }},
		{"port zero", func(c *Config) { c.HTTP.Port = 0 }},
		{"port too large", func(c *Config) { c.HTTP.Port = 65536 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"zero read timeout", func(c *Config) { c.HTTP.ReadTimeout = 0 }},
		{"zero write timeout", func(c *Config) { c.HTTP.WriteTimeout = 0 }},
		{"nil websocket", func(c *Config) { c.WebSocket = nil }},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingInterval = 0 }},
		{"zero ws read timeout", func(c *Config) { c.WebSocket.ReadTimeout = 0 }},
		{"zero ws write timeout", func(c *Config) { c.WebSocket.WriteTimeout = 0 }},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"negative replay", func(c *Config) { c.WebSocket.ReplayLimit = -1 }},
		{"nil translation", func(c *Config) { c.Translation = nil }},
		{"http provider without endpoint", func(c *Config) { c.Translation.Provider = "http" }},
		{"unknown provider", func(c *Config) { c.Translation.Provider = "deepl" }},
		{"zero translation timeout", func(c *Config) { c.Translation.Timeout = 0 }},
		{"zero concurrency", func(c *Config) { c.Translation.Concurrency = 0 }},
		{"nil log", func(c *Config) { c.Log = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("Validate should fail")
			}
			if err.Error() == "" {
				t.Error("Validation error should have descriptive message")
			}
		})
	}

	valid := DefaultConfig()
	valid.Database.Driver = DriverPostgres
	valid.Database.DSN = "postgres://classcast@localhost/classcast"
	valid.Translation.Provider = "http"
	valid.Translation.Endpoint = "http://localhost:5000"
	if err := valid.Validate(); err != nil {
		t.Errorf("Postgres + http provider should validate: %v", err)
	}

	memory := DefaultConfig()
	memory.Database.Driver = DriverMemory
	memory.Database.Path = ""
	if err := memory.Validate(); err != nil {
		t.Errorf("Memory driver needs no path: %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Environment variable configuration loading
func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("CLASSCAST_HTTP_PORT", "9090")
	t.Setenv("CLASSCAST_DATABASE_PATH", "/tmp/test.db")
	t.Setenv("CLASSCAST_WEBSOCKET_PING_INTERVAL", "15s")
	t.Setenv("CLASSCAST_TRANSLATION_API_KEY", "secret")
	t.Setenv("CLASSCAST_LOG_LEVEL", "debug")

	config := LoadFromEnv()

	if config.HTTP.Port != 9090 {
		t.Errorf("Expected HTTP port 9090, got %d", config.HTTP.Port)
	}
	if config.Database.Path != "/tmp/test.db" {
		t.Errorf("Expected database path /tmp/test.db, got %s", config.Database.Path)
	}
	if config.WebSocket.PingInterval != 15*time.Second {
		t.Errorf("Expected ping interval 15s, got %v", config.WebSocket.PingInterval)
	}
	if config.Translation.APIKey != "secret" {
		t.Errorf("Expected api key from env, got %q", config.Translation.APIKey)
	}
	if config.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", config.Log.Level)
	}
	if config.HTTP.Host != "0.0.0.0" {
		t.Errorf("Unset variables should keep defaults, got host %s", config.HTTP.Host)
	}
}

// TECHNICAL VALIDATION TEST: Environment variable edge cases
func TestConfig_LoadFromEnvEdgeCases(t *testing.T) {
	t.Setenv("CLASSCAST_HTTP_PORT", "invalid")
	t.Setenv("CLASSCAST_HTTP_READ_TIMEOUT", "invalid")
	t.Setenv("CLASSCAST_HTTP_HOST", "127.0.0.1")

	config := LoadFromEnv()
	if config.HTTP.Port != 8080 {
		t.Errorf("Expected default port 8080 when env var is invalid, got %d", config.HTTP.Port)
	}
	if config.HTTP.ReadTimeout != DefaultConfig().HTTP.ReadTimeout {
		t.Error("Should fall back to default when duration parsing fails")
	}
	if config.HTTP.Host != "127.0.0.1" {
		t.Errorf("Valid variables should still apply, got host %s", config.HTTP.Host)
	}
}

// TECHNICAL VALIDATION TEST: Configuration file parsing
func TestConfig_LoadFromFile(t *testing.T) {
	path := writeTempConfig(t, "config.json", `{
		"database": {"path": "/tmp/testfile.db", "timeout": "30s"},
		"http": {"port": 8081, "read_timeout": "10s", "write_timeout": "10s"},
		"websocket": {"replay_limit": 20},
		"translation": {"provider": "http", "endpoint": "http://translate:5000", "concurrency": 8}
	}`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile should succeed: %v", err)
	}

	if config.Database.Path != "/tmp/testfile.db" {
		t.Errorf("Expected database path /tmp/testfile.db, got %s", config.Database.Path)
	}
	if config.HTTP.Port != 8081 || config.HTTP.ReadTimeout != 10*time.Second {
		t.Errorf("Unexpected HTTP config: %+v", config.HTTP)
	}
	if config.WebSocket.ReplayLimit != 20 || config.WebSocket.PingInterval != 30*time.Second {
		t.Errorf("Unexpected WebSocket config: %+v", config.WebSocket)
	}
	if config.Translation.Endpoint != "http://translate:5000" || config.Translation.Concurrency != 8 {
		t.Errorf("Unexpected translation config: %+v", config.Translation)
	}
}

func TestConfig_LoadFromYAMLFile(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", "http:\n  port: 9191\nlog:\n  level: warn\n")

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile should succeed: %v", err)
	}
	if config.HTTP.Port != 9191 || config.Log.Level != "warn" {
		t.Errorf("Unexpected config: http=%+v log=%+v", config.HTTP, config.Log)
	}
}

// TECHNICAL VALIDATION TEST: Invalid configuration file handling
func TestConfig_LoadFromFileErrors(t *testing.T) {
	broken := writeTempConfig(t, "broken.json", `{
		"database": {
			"path": "/tmp/testfile.db"
		// Invalid JSON - missing closing brace
	}`)
	if _, err := LoadFromFile(broken); err == nil {
		t.Error("LoadFromFile should fail with invalid JSON")
	}

	invalid := writeTempConfig(t, "invalid.json", `{"http": {"port": 70000}}`)
	if _, err := LoadFromFile(invalid); err == nil {
		t.Error("LoadFromFile should reject an invalid configuration")
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadFromFile should fail for a missing file")
	}
}

// FUNCTIONAL VALIDATION TEST: LoadConfigWithPrecedence function
func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	config := LoadConfigWithPrecedence("")
	if config.HTTP.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", config.HTTP.Port)
	}

	config = LoadConfigWithPrecedence("nonexistent.json")
	if config.HTTP.Port != 8080 {
		t.Errorf("Expected default port 8080 with nonexistent file, got %d", config.HTTP.Port)
	}

	t.Setenv("CLASSCAST_HTTP_PORT", "9999")
	t.Setenv("CLASSCAST_HTTP_HOST", "10.0.0.1")

	config = LoadConfigWithPrecedence("")
	if config.HTTP.Port != 9999 {
		t.Errorf("Expected env var port 9999, got %d", config.HTTP.Port)
	}

	path := writeTempConfig(t, "config.json", `{"http": {"port": 7777}}`)
	config = LoadConfigWithPrecedence(path)
	if config.HTTP.Port != 7777 {
		t.Errorf("Expected file config port 7777, got %d", config.HTTP.Port)
	}
	if config.HTTP.Host != "10.0.0.1" {
		t.Errorf("Keys absent from the file should come from the environment, got %s", config.HTTP.Host)
	}
}

func TestConfig_LoadDotEnv(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Missing .env should be ignored, got %v", err)
	}

	path := writeTempConfig(t, ".env", "CLASSCAST_TEST_DOTENV=from-file\n")
	t.Setenv("CLASSCAST_TEST_DOTENV", "")
	os.Unsetenv("CLASSCAST_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("CLASSCAST_TEST_DOTENV"); got != "from-file" {
		t.Errorf("Expected value from .env, got %q", got)
	}
}
