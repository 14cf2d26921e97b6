package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Storage.Type = "memory"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := defaultConfig().Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestConfig_Validate_InvalidAdminPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"port negative", -1},
		{"port too high", 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.AdminPort = tt.port
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error for invalid admin port")
			}
		})
	}
}

func TestConfig_Validate_AdminDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Server.AdminPort = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_Validate_Storage(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StorageConfig)
		wantErr bool
	}{
		{"memory", func(s *StorageConfig) { s.Type = "memory" }, false},
		{"file", func(s *StorageConfig) { s.Type = "file" }, false},
		{"file without path", func(s *StorageConfig) { s.Type = "file"; s.File.Path = "" }, true},
		{"mongodb", func(s *StorageConfig) { s.Type = "mongodb" }, false},
		{"mongodb without uri", func(s *StorageConfig) { s.Type = "mongodb"; s.MongoDB.URI = "" }, true},
		{"redis", func(s *StorageConfig) { s.Type = "redis" }, false},
		{"redis without address", func(s *StorageConfig) { s.Type = "redis"; s.Redis.Address = "" }, true},
		{"unknown", func(s *StorageConfig) { s.Type = "sqlite" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg.Storage)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CORSWildcardWithCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.CORS.AllowCredentials = true
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for wildcard origin with credentials")
	}

	cfg.CORS.AllowedOrigins = []string{"https://interpret.example.org"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestAuthRateLimitConfig_SetDefaults(t *testing.T) {
	cfg := AuthRateLimitConfig{MaxAttempts: 10}
	cfg.SetDefaults()

	if cfg.MaxAttempts != 10 {
		t.Errorf("MaxAttempts overwritten: %d", cfg.MaxAttempts)
	}
	if cfg.WindowSeconds != 60 || cfg.LockoutSeconds != 300 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestServerConfig_Durations(t *testing.T) {
	cfg := ServerConfig{AdminHost: "127.0.0.1", AdminPort: 9000, SessionMaxAgeMinutes: 240, NetInfoIntervalSeconds: 10}

	if got := cfg.AdminAddress(); got != "127.0.0.1:9000" {
		t.Errorf("AdminAddress() = %q", got)
	}
	if got := cfg.SessionMaxAge(); got != 4*time.Hour {
		t.Errorf("SessionMaxAge() = %v", got)
	}
	if got := cfg.NetInfoInterval(); got != 10*time.Second {
		t.Errorf("NetInfoInterval() = %v", got)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Type != "file" {
		t.Errorf("Expected default storage type file, got %q", cfg.Storage.Type)
	}
	if cfg.Server.AdminPort != 8090 {
		t.Errorf("Expected default admin port 8090, got %d", cfg.Server.AdminPort)
	}
}

func TestLoad_ValidYAMLFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
server:
  host: 127.0.0.1
  admin_port: 9100
  static_dir: ./public
storage:
  type: redis
  redis:
    address: redis:6379
logging:
  level: debug
  format: text
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.AdminPort != 9100 {
		t.Errorf("Expected admin port 9100, got %d", cfg.Server.AdminPort)
	}
	if cfg.Storage.Redis.Address != "redis:6379" {
		t.Errorf("Expected redis address, got %q", cfg.Storage.Redis.Address)
	}
	// Unset values keep their defaults
	if cfg.Storage.Redis.KeyPrefix != "interp:" {
		t.Errorf("Expected default key prefix, got %q", cfg.Storage.Redis.KeyPrefix)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  admin_port: 9100\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("INTERP_SERVER_ADMIN_PORT", "9200")
	t.Setenv("INTERP_STORAGE_TYPE", "memory")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.AdminPort != 9200 {
		t.Errorf("Expected env admin port 9200, got %d", cfg.Server.AdminPort)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Expected env storage type memory, got %q", cfg.Storage.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	content := `
server:
  admin_port: "invalid"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for invalid configuration")
	}
}

func TestLoad_InvalidStorageType(t *testing.T) {
	t.Setenv("INTERP_STORAGE_TYPE", "sqlite")
	if _, err := Load(""); err == nil {
		t.Error("Expected error for invalid storage type")
	}
}
