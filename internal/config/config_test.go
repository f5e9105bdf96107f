package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.Port != 4406 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Addr() != "127.0.0.1:4406" {
		t.Fatalf("addr = %s", cfg.Addr())
	}
	if cfg.Auth.Enabled {
		t.Fatal("auth should default off")
	}
	if filepath.Base(cfg.DataFile()) != "crabsql.db" {
		t.Fatalf("data file = %s", cfg.DataFile())
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("server:\n  host: 0.0.0.0\n  port: 5000\nlog:\n  level: debug\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 5000 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("level = %s", cfg.Log.Level)
	}
	// Values missing from the file keep their defaults.
	if cfg.Storage.DataDir != "./data" {
		t.Fatalf("data_dir = %s", cfg.Storage.DataDir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Host: "x", Port: -1},
		Storage: StorageConfig{DataDir: "d"},
		Log:     LogConfig{Level: "info"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative port accepted")
	}
	cfg.Server.Port = 4406
	cfg.Log.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad log level accepted")
	}
	cfg.Log.Level = "warn"
	cfg.Storage.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty data dir accepted")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CRABSQL_SERVER_PORT", "9999")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("port = %d, want env override 9999", cfg.Server.Port)
	}
}
