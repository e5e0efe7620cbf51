package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Http struct {
		Port           int           `yaml:"port"`
		Timeout        time.Duration `yaml:"timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"http"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Model struct {
		Dir string `yaml:"dir"`
	} `yaml:"model"`
	Report struct {
		Dir string `yaml:"dir"`
	} `yaml:"report"`
	Training struct {
		DataPath   string  `yaml:"data_path"`
		Delimiter  string  `yaml:"delimiter"`
		Charset    string  `yaml:"charset"`
		TestRatio  float64 `yaml:"test_ratio"`
		Seed       int64   `yaml:"seed"`
		Estimators int     `yaml:"estimators"`
	} `yaml:"training"`
	Database struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Cache struct {
		Driver    string        `yaml:"driver"`
		Size      int           `yaml:"size"`
		RedisAddr string        `yaml:"redis_addr"`
		TTL       time.Duration `yaml:"ttl"`
	} `yaml:"cache"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Alerts struct {
		WebhookURL string        `yaml:"webhook_url"`
		MaxPerHour int           `yaml:"max_per_hour"`
		Cooldown   time.Duration `yaml:"cooldown"`
	} `yaml:"alerts"`
}

func Default() *Config {
	c := preset()
	c.applyDefaults()
	return &c
}

// preset fills the fields whose zero value is a legal setting, so the YAML
// decoder only overrides them when the key is present.
func preset() Config {
	var c Config
	c.Training.Seed = 42
	return c
}

// Load reads path; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := preset()
	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(&config); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Http.Port == 0 {
		c.Http.Port = 8080
	}
	if c.Http.Timeout == 0 {
		c.Http.Timeout = 30 * time.Second
	}
	if len(c.Http.AllowedOrigins) == 0 {
		c.Http.AllowedOrigins = []string{"*"}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Model.Dir == "" {
		c.Model.Dir = "model"
	}
	if c.Report.Dir == "" {
		c.Report.Dir = "static"
	}
	if c.Training.DataPath == "" {
		c.Training.DataPath = "data/student-mat.csv"
	}
	if c.Training.Delimiter == "" {
		c.Training.Delimiter = ";"
	}
	if c.Training.Charset == "" {
		c.Training.Charset = "utf-8"
	}
	if c.Training.TestRatio == 0 {
		c.Training.TestRatio = 0.2
	}
	if c.Training.Estimators == 0 {
		c.Training.Estimators = 100
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/studentrisk.db"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "lru"
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = 1024
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = time.Hour
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "studentrisk.decisions"
	}
	if c.Alerts.MaxPerHour == 0 {
		c.Alerts.MaxPerHour = 60
	}
}

func (c *Config) Validate() error {
	if c.Http.Port < 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.Http.Port)
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		return fmt.Errorf("training.test_ratio %v must be in (0,1)", c.Training.TestRatio)
	}
	if c.Training.Estimators < 1 {
		return errors.New("training.estimators must be positive")
	}
	if len([]rune(c.Training.Delimiter)) != 1 {
		return fmt.Errorf("training.delimiter %q must be a single character", c.Training.Delimiter)
	}
	if c.Alerts.MaxPerHour < 0 || c.Alerts.Cooldown < 0 {
		return errors.New("alerts.max_per_hour and alerts.cooldown must not be negative")
	}
	switch c.Database.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	switch c.Cache.Driver {
	case "lru", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return errors.New("cache.redis_addr is required for redis")
		}
	default:
		return fmt.Errorf("unsupported cache.driver %q", c.Cache.Driver)
	}
	return nil
}
