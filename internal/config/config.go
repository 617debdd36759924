package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	KVBackendRedis = "redis"
	KVBackendFile  = "file"

	EnvPrefix = "OFFLINECACHE_"

	defaultListen       = "127.0.0.1:8090"
	defaultDownloadDir  = "offline"
	defaultKVDir        = "offline/kv"
	defaultFileExt      = "mp3"
	defaultNamespace    = "offline"
	defaultConcurrency  = 3
	defaultMaxValueSize = 2 << 20
)

type KVConfig struct {
	Backend   string `yaml:"backend"`
	RedisURL  string `yaml:"redis_url"`
	Namespace string `yaml:"namespace"`
	Dir       string `yaml:"dir"`
}

type FSAdapterConfig struct {
	DownloadDir   string `yaml:"download_dir"`
	FileExt       string `yaml:"file_ext"`
	CapacityBytes int64  `yaml:"capacity_bytes"`
}

type DownloadConfig struct {
	Concurrency int           `yaml:"concurrency"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

type CacheConfig struct {
	MaxValueSize int                      `yaml:"max_value_size"`
	TTL          map[string]time.Duration `yaml:"ttl"`
}

type Config struct {
	Listen         string          `yaml:"listen"`
	LogLevel       string          `yaml:"log_level"`
	Manifest       string          `yaml:"manifest"`
	KVConfig       KVConfig        `yaml:"kv"`
	FSConfig       FSAdapterConfig `yaml:"storage"`
	DownloadConfig DownloadConfig  `yaml:"download"`
	CacheConfig    CacheConfig     `yaml:"cache"`
}

func (c *Config) SetDefaults() {
	c.Listen = defaultListen
	c.LogLevel = LogLevelInfo
	c.KVConfig = KVConfig{
		Backend:   KVBackendFile,
		Namespace: defaultNamespace,
		Dir:       defaultKVDir,
	}
	c.FSConfig = FSAdapterConfig{
		DownloadDir: defaultDownloadDir,
		FileExt:     defaultFileExt,
	}
	c.DownloadConfig = DownloadConfig{
		Concurrency: defaultConcurrency,
	}
	c.CacheConfig = CacheConfig{
		MaxValueSize: defaultMaxValueSize,
	}
}

func (c *Config) FSAdapterConfig() *FSAdapterConfig {
	return &c.FSConfig
}

func (c *Config) Validate() error {
	var errs []error

	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}

	switch c.KVConfig.Backend {
	case KVBackendRedis:
		if c.KVConfig.RedisURL == "" {
			errs = append(errs, fmt.Errorf("kv.redis_url is required for redis backend"))
		}
	case KVBackendFile:
		if c.KVConfig.Dir == "" {
			errs = append(errs, fmt.Errorf("kv.dir is required for file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown kv backend %q", c.KVConfig.Backend))
	}

	if c.FSConfig.DownloadDir == "" {
		errs = append(errs, fmt.Errorf("storage.download_dir is required"))
	}

	if c.DownloadConfig.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("download.concurrency must be positive, got %d", c.DownloadConfig.Concurrency))
	}

	for ct := range c.CacheConfig.TTL {
		// Cache storage keys are joined with "_", so such a type would
		// overlap the key prefix of another one.
		if ct == "" || strings.Contains(ct, "_") {
			errs = append(errs, fmt.Errorf("cache.ttl: invalid content type %q", ct))
		}
	}

	if c.CacheConfig.MaxValueSize < 1 {
		errs = append(errs, fmt.Errorf("cache.max_value_size must be positive, got %d", c.CacheConfig.MaxValueSize))
	}

	return errors.Join(errs...)
}

// Load reads the YAML file at path (optional when empty), then applies .env
// and OFFLINECACHE_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.SetDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("cannot load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"LISTEN":       &c.Listen,
		"LOG_LEVEL":    &c.LogLevel,
		"MANIFEST":     &c.Manifest,
		"KV_BACKEND":   &c.KVConfig.Backend,
		"REDIS_URL":    &c.KVConfig.RedisURL,
		"KV_NAMESPACE": &c.KVConfig.Namespace,
		"KV_DIR":       &c.KVConfig.Dir,
		"DOWNLOAD_DIR": &c.FSConfig.DownloadDir,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "CONCURRENCY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("cannot parse %sCONCURRENCY: %w", EnvPrefix, err)
		}
		c.DownloadConfig.Concurrency = n
	}

	if v, ok := os.LookupEnv(EnvPrefix + "HTTP_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("cannot parse %sHTTP_TIMEOUT: %w", EnvPrefix, err)
		}
		c.DownloadConfig.HTTPTimeout = d
	}

	return nil
}
