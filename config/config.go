package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"
)

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxJobs        int           `yaml:"max_jobs"`
	JobTTL         time.Duration `yaml:"job_ttl"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	Console    bool   `yaml:"console"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// MLConfig holds training defaults used when a request leaves them out.
type MLConfig struct {
	DefaultCenters int     `yaml:"default_centers"`
	DefaultError   float64 `yaml:"default_error"`
	TrainRatio     float64 `yaml:"train_ratio"`
	Seed           int64   `yaml:"seed"`
	Normalize      bool    `yaml:"normalize"`
	ModelCacheSize int     `yaml:"model_cache_size"`
	MaxUploadMB    int64   `yaml:"max_upload_mb"`
}

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	ML       MLConfig       `yaml:"ml"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills every zero-valued field.
func (c *Config) ApplyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/rbfnet.db"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"*"}
	}
	if c.HTTP.MaxJobs == 0 {
		c.HTTP.MaxJobs = 1000
	}
	if c.HTTP.JobTTL == 0 {
		c.HTTP.JobTTL = time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAge == 0 {
		c.Log.MaxAge = 30
	}
	if c.Log.File == "" {
		c.Log.Console = true
	}
	if c.ML.TrainRatio == 0 {
		c.ML.TrainRatio = 0.8
	}
	if c.ML.ModelCacheSize == 0 {
		c.ML.ModelCacheSize = 32
	}
	if c.ML.MaxUploadMB == 0 {
		c.ML.MaxUploadMB = 32
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var err error
	if c.Database.Path == "" {
		err = multierr.Append(err, fmt.Errorf("database.path is required"))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.HTTP.Timeout < 0 {
		err = multierr.Append(err, fmt.Errorf("http.timeout must not be negative"))
	}
	if c.HTTP.MaxJobs < 0 {
		err = multierr.Append(err, fmt.Errorf("http.max_jobs must not be negative"))
	}
	if c.HTTP.JobTTL < 0 {
		err = multierr.Append(err, fmt.Errorf("http.job_ttl must not be negative"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		err = multierr.Append(err, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if !c.Log.Console && c.Log.File == "" {
		err = multierr.Append(err, fmt.Errorf("log needs console output or a file"))
	}
	if c.ML.DefaultCenters < 0 || c.ML.DefaultCenters == 1 {
		err = multierr.Append(err, fmt.Errorf("ml.default_centers must be 0 (auto) or at least 2"))
	}
	if c.ML.DefaultError < 0 || math.IsNaN(c.ML.DefaultError) || math.IsInf(c.ML.DefaultError, 0) {
		err = multierr.Append(err, fmt.Errorf("ml.default_error must be 0 (auto) or a positive number"))
	}
	if !(c.ML.TrainRatio > 0 && c.ML.TrainRatio < 1) {
		err = multierr.Append(err, fmt.Errorf("ml.train_ratio %v must be in (0, 1)", c.ML.TrainRatio))
	}
	if c.ML.ModelCacheSize < 0 {
		err = multierr.Append(err, fmt.Errorf("ml.model_cache_size must not be negative"))
	}
	if c.ML.MaxUploadMB < 0 {
		err = multierr.Append(err, fmt.Errorf("ml.max_upload_mb must not be negative"))
	}
	return err
}

// Load reads path, applies defaults and validates. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &config, nil
}
