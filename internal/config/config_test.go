package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadJSONResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9000", "file_base_dir": "uploads"},
		"databases": {"sqlite3": {"dsn": "chat.db"}},
		"providers": {"openai": {"base_url": "https://example.test/v1", "api_key": "k"}}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Fatalf("unexpected address %q", cfg.BasicConfig.ServerAddress)
	}
	if got := cfg.Databases["sqlite3"].DSN; got != filepath.Join(dir, "chat.db") {
		t.Fatalf("dsn not resolved: %q", got)
	}
	if cfg.BasicConfig.FileBaseDir != filepath.Join(dir, "uploads") {
		t.Fatalf("file base not resolved: %q", cfg.BasicConfig.FileBaseDir)
	}
	if cfg.BasicConfig.MaxWorkers < cfg.BasicConfig.MinWorkers {
		t.Fatalf("worker defaults not applied: %+v", cfg.BasicConfig)
	}
	if cfg.RedisEnabled() {
		t.Fatalf("redis should be disabled without host")
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[basic_config]
server_address = ":7000"

[databases.sqlite3]
dsn = ":memory:"

[redis]
host = "127.0.0.1"
port = 6380

[ocr]
model = "google/gemini-3-flash-preview"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Databases["sqlite3"].DSN != ":memory:" {
		t.Fatalf("memory dsn rewritten: %q", cfg.Databases["sqlite3"].DSN)
	}
	if !cfg.RedisEnabled() || cfg.Redis.Port != 6380 {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.OCR.Model != "google/gemini-3-flash-preview" {
		t.Fatalf("unexpected ocr model %q", cfg.OCR.Model)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadRequiresDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"basic_config":{}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error without databases")
	}
}

func TestDatabaseSelection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"databases": {"mysql": {"host": "db"}, "sqlite3": {"dsn": ":memory:"}}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.Database != "sqlite3" {
		t.Fatalf("expected sqlite3 default, got %q", cfg.BasicConfig.Database)
	}

	t.Setenv("OMNICHAT_DB", "mysql")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.Database != "mysql" {
		t.Fatalf("OMNICHAT_DB not applied: %q", cfg.BasicConfig.Database)
	}
}
