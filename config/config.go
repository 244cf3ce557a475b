package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the knowledge service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Vector    VectorConfig    `mapstructure:"vector"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// WarehouseConfig points at the Postgres warehouse holding the chunk table
// and the indexer state row.
type WarehouseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds a postgres connection string from either the URL or the
// individual fields.
func (w WarehouseConfig) DSN() (string, error) {
	if w.URL != "" {
		return w.URL, nil
	}
	if w.Host == "" || w.DBName == "" {
		return "", fmt.Errorf("warehouse not configured (warehouse.host/dbname or url)")
	}
	port := w.Port
	if port == "" {
		port = "5432"
	}
	ssl := w.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", w.User, w.Password, w.Host, port, w.DBName, ssl), nil
}

// VectorConfig contains vector index settings.
type VectorConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	APIVersion string        `mapstructure:"api_version"`
	BaseURL    string        `mapstructure:"base_url"`
	IndexName  string        `mapstructure:"index_name"`
	IndexHost  string        `mapstructure:"index_host"`
	Namespace  string        `mapstructure:"namespace"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

func (v VectorConfig) Validate() error {
	if strings.TrimSpace(v.APIKey) == "" {
		return fmt.Errorf("vector.api_key is required")
	}
	if strings.TrimSpace(v.IndexName) == "" {
		return fmt.Errorf("vector.index_name is required")
	}
	return nil
}

// LLMConfig contains the embedding/chat provider settings.
type LLMConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	ChatModel      string        `mapstructure:"chat_model"`
	Dimensions     int           `mapstructure:"dimensions"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if l.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		return fmt.Errorf("llm.api_key is required (or OPENAI_API_KEY)")
	}
	if l.Dimensions <= 0 {
		return fmt.Errorf("llm.dimensions must be > 0")
	}
	return nil
}

// IndexerConfig controls the incremental sync loop.
type IndexerConfig struct {
	Stream      string        `mapstructure:"stream"`
	PageLimit   int           `mapstructure:"page_limit"`
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinWait     time.Duration `mapstructure:"min_wait"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
	Cron        string        `mapstructure:"cron"`
}

// Normalize applies defaults for unset indexer values.
func (c IndexerConfig) Normalize() IndexerConfig {
	if c.Stream == "" {
		c.Stream = "chunks"
	}
	if c.PageLimit <= 0 {
		c.PageLimit = 5000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.MinWait <= 0 {
		c.MinWait = time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 30 * time.Second
	}
	return c
}

// CacheConfig contains Redis settings for the answer cache and the
// scheduler run lock. Leaving addr empty disables both.
type CacheConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig reads configuration from disk and the environment. Env vars use
// the KNOWLEDGED_ prefix with underscores (e.g. KNOWLEDGED_WAREHOUSE_URL).
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("general.default_timeout", 30*time.Second)
	viper.SetDefault("server.address", ":10020")
	viper.SetDefault("server.request_timeout", 60*time.Second)
	viper.SetDefault("vector.index_name", "company-knowledge")
	viper.SetDefault("vector.timeout", 30*time.Second)
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-large")
	viper.SetDefault("llm.chat_model", "gpt-4.1-mini")
	viper.SetDefault("llm.dimensions", 3072)
	viper.SetDefault("llm.timeout", 60*time.Second)
	viper.SetDefault("cache.ttl", 5*time.Minute)
	viper.SetDefault("telemetry.enabled", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("KNOWLEDGED")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
		// env-only configuration is fine
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Indexer = config.Indexer.Normalize()
	return &config
}
