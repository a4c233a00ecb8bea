package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

type SiteConfig struct {
	BaseURL    string `yaml:"base_url" validate:"required,url"`
	SearchPath string `yaml:"search_path" validate:"required"`
	PageSize   int    `yaml:"page_size" validate:"min=1"`
	UserAgent  string `yaml:"user_agent" validate:"required"`
	// Category restricts every query to one upstream category id ("" = all).
	Category string `yaml:"category"`
}

// SearchURL is the query endpoint every facet request is built on.
func (s SiteConfig) SearchURL() string {
	return s.BaseURL + s.SearchPath
}

type LogicConfig struct {
	TimeoutSec        int     `yaml:"timeout_sec" validate:"min=1"`
	MaxRetries        int     `yaml:"max_retries" validate:"min=1"`
	MinDelayMS        int     `yaml:"min_delay_ms" validate:"min=0"`
	MaxDelayMS        int     `yaml:"max_delay_ms" validate:"gtefield=MinDelayMS"`
	Backoff           string  `yaml:"backoff" validate:"oneof=fixed exponential"`
	RetryDelayMS      int     `yaml:"retry_delay_ms" validate:"min=0"`
	MaxBackoffSec     int     `yaml:"max_backoff_sec" validate:"min=1"`
	PageWorkers       int     `yaml:"page_workers" validate:"min=1,max=64"`
	FacetWorkers      int     `yaml:"facet_workers" validate:"min=1,max=32"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
	RespectRobots     bool    `yaml:"respect_robots"`
	// DailyPages fixes the page count per day in the daily run; 0 plans it.
	DailyPages int `yaml:"daily_pages" validate:"min=0"`
}

func (l LogicConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSec) * time.Second
}

type StorageConfig struct {
	DataDir         string `yaml:"data_dir" validate:"required"`
	NaturesFile     string `yaml:"natures_file" validate:"required"`
	InfructuousFile string `yaml:"infructuous_file" validate:"required"`
	Format          string `yaml:"format" validate:"oneof=json jsonl"`
}

type MongoConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Connection  string `yaml:"connection" validate:"required_if=Enabled true"`
	Database    string `yaml:"database" validate:"required_if=Enabled true"`
	Collections struct {
		Records string `yaml:"records"`
		Runs    string `yaml:"runs"`
	} `yaml:"collections"`
}

type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn" validate:"required_if=Enabled true"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true"`
	Prefix  string `yaml:"prefix"`
}

type DBConfig struct {
	Mongo    MongoConfig    `yaml:"mongo"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

type SpiderConfig struct {
	Site    SiteConfig    `yaml:"site"`
	Logic   LogicConfig   `yaml:"logic"`
	Storage StorageConfig `yaml:"storage"`
	DB      DBConfig      `yaml:"db"`
	Debug   bool          `yaml:"debug"`
}

func DefaultConfig() *SpiderConfig {
	cfg := &SpiderConfig{
		Site: SiteConfig{
			BaseURL:    "https://www.marchespublics.gov.ma",
			SearchPath: "/bdc/entreprise/consultation/resultat",
			PageSize:   50,
			UserAgent:  "Mozilla/5.0",
		},
		Logic: LogicConfig{
			TimeoutSec:    80,
			MaxRetries:    5,
			MinDelayMS:    250,
			MaxDelayMS:    350,
			Backoff:       "fixed",
			RetryDelayMS:  300,
			MaxBackoffSec: 60,
			PageWorkers:   8,
			FacetWorkers:  4,
		},
		Storage: StorageConfig{
			DataDir:         "data",
			NaturesFile:     "natures.json",
			InfructuousFile: "infructueux.json",
			Format:          "json",
		},
	}
	cfg.DB.Mongo.Database = "awards"
	cfg.DB.Mongo.Collections.Records = "records"
	cfg.DB.Mongo.Collections.Runs = "runs"
	cfg.DB.Redis.Prefix = "awards:"
	return cfg
}

// LoadConfig reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func LoadConfig(path string) (*SpiderConfig, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *SpiderConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *SpiderConfig) error {
	if v := os.Getenv("SPIDER_BASE_URL"); v != "" {
		cfg.Site.BaseURL = v
	}
	if v := os.Getenv("SPIDER_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.DB.Mongo.Connection = v
		cfg.DB.Mongo.Enabled = true
	}
	if v := os.Getenv("PG_DSN"); v != "" {
		cfg.DB.Postgres.DSN = v
		cfg.DB.Postgres.Enabled = true
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.DB.Redis.URL = v
		cfg.DB.Redis.Enabled = true
	}
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Debug = v == "true" || v == "1"
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SPIDER_PAGE_WORKERS", &cfg.Logic.PageWorkers},
		{"SPIDER_FACET_WORKERS", &cfg.Logic.FacetWorkers},
		{"SPIDER_MAX_RETRIES", &cfg.Logic.MaxRetries},
		{"SPIDER_TIMEOUT_SEC", &cfg.Logic.TimeoutSec},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = n
	}
	return nil
}
