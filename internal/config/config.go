package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" toml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" toml:"databases"`
	Redis       RedisConfig               `json:"redis" toml:"redis"`
	Providers   map[string]ProviderConfig `json:"providers" toml:"providers"`
	Catalog     CatalogConfig             `json:"catalog" toml:"catalog"`
	Search      SearchConfig              `json:"search" toml:"search"`
	OCR         OCRConfig                 `json:"ocr" toml:"ocr"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" toml:"base_url"`
	Model   string `json:"model" toml:"model"`
	APIKey  string `json:"api_key" toml:"api_key"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" toml:"server_address"`
	FileBaseDir       string `json:"file_base_dir" toml:"file_base_dir"`
	UploadTTL         int    `json:"upload_ttl_minutes" toml:"upload_ttl_minutes"`
	UploadCleanPeriod int    `json:"upload_clean_minutes" toml:"upload_clean_minutes"`
	MinWorkers        int    `json:"min_workers" toml:"min_workers"`
	MaxWorkers        int    `json:"max_workers" toml:"max_workers"`
	QueueSize         int    `json:"queue_size" toml:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_minutes" toml:"worker_idle_minutes"`
	TokenTTL          int    `json:"token_ttl_hours" toml:"token_ttl_hours"`
	LogFile           string `json:"log_file" toml:"log_file"`
	LogLevel          string `json:"log_level" toml:"log_level"`
	TelemetryDir      string `json:"telemetry_dir" toml:"telemetry_dir"`
	// Database names the entry of Databases to use; OMNICHAT_DB overrides it.
	Database string `json:"database" toml:"database"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" toml:"dsn"`
	Host     string `json:"host" toml:"host"`
	Port     int    `json:"port" toml:"port"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
	DBName   string `json:"db_name" toml:"db_name"`
	Params   string `json:"params" toml:"params"`
}

// RedisConfig enables the redis key-value backend when Host is set.
type RedisConfig struct {
	Host     string `json:"host" toml:"host"`
	Port     int    `json:"port" toml:"port"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
	DB       int    `json:"db" toml:"db"`
}

// CatalogConfig points at an OpenAI-compatible model listing.
type CatalogConfig struct {
	ListURL string `json:"list_url" toml:"list_url"`
	APIKey  string `json:"api_key" toml:"api_key"`
}

type SearchConfig struct {
	GoogleAPIKey   string `json:"google_api_key" toml:"google_api_key"`
	GoogleEngineID string `json:"google_engine_id" toml:"google_engine_id"`
	DisableDDG     bool   `json:"disable_duckduckgo" toml:"disable_duckduckgo"`
	RatePerMinute  int    `json:"rate_per_minute" toml:"rate_per_minute"`
}

type OCRConfig struct {
	Model string `json:"model" toml:"model"`
}

// ErrNotFound is returned by Load when the configuration file does not exist.
var ErrNotFound = errors.New("config file not found")

// Default returns a configuration usable without a file: sqlite next to the binary, no redis.
func Default() *Config {
	cfg := &Config{
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "omnichat.db"},
		},
		Providers: map[string]ProviderConfig{},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// Files ending in .toml are decoded as TOML, everything else as JSON.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, absPath)
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if strings.EqualFold(filepath.Ext(absPath), ".toml") {
		if _, err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else {
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	base := filepath.Dir(absPath)
	for name, db := range cfg.Databases {
		if isSQLite(name) && db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) && !strings.HasPrefix(db.DSN, "file:") {
			db.DSN = filepath.Join(base, db.DSN)
			cfg.Databases[name] = db
		}
	}
	if cfg.BasicConfig.FileBaseDir != "" && !filepath.IsAbs(cfg.BasicConfig.FileBaseDir) {
		cfg.BasicConfig.FileBaseDir = filepath.Join(base, cfg.BasicConfig.FileBaseDir)
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.FileBaseDir == "" {
		b.FileBaseDir = "./data/uploads"
	}
	if b.UploadTTL <= 0 {
		b.UploadTTL = 24 * 60
	}
	if b.UploadCleanPeriod <= 0 {
		b.UploadCleanPeriod = 60
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 5
	}
	if b.TokenTTL <= 0 {
		b.TokenTTL = 24
	}
	if env := strings.TrimSpace(os.Getenv("OMNICHAT_DB")); env != "" {
		b.Database = env
	}
	if b.Database == "" {
		b.Database = c.defaultDatabase()
	}
	if c.Search.GoogleAPIKey == "" {
		c.Search.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if c.Search.GoogleEngineID == "" {
		c.Search.GoogleEngineID = os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	}
	if c.Search.RatePerMinute <= 0 {
		c.Search.RatePerMinute = 10
	}
	if c.OCR.Model == "" {
		c.OCR.Model = "gpt-4o"
	}
}

// RedisEnabled reports whether a redis host was configured.
func (c *Config) RedisEnabled() bool {
	return c != nil && strings.TrimSpace(c.Redis.Host) != ""
}

func (c *Config) defaultDatabase() string {
	for _, name := range []string{"sqlite3", "sqlite", "mysql"} {
		if _, ok := c.Databases[name]; ok {
			return name
		}
	}
	for name := range c.Databases {
		return name
	}
	return "sqlite3"
}

func isSQLite(name string) bool {
	name = strings.ToLower(name)
	return name == "sqlite" || name == "sqlite3"
}
