package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	FeedAddr string `yaml:"feed_addr"`

	StockfishPath string `yaml:"stockfish_path"`
	RedisURL      string `yaml:"redis_url"`
	DatabaseURL   string `yaml:"database_url"`
	MessagesDir   string `yaml:"messages_dir"`

	Engine  EngineConfig  `yaml:"engine"`
	Review  ReviewConfig  `yaml:"review"`
	Book    BookConfig    `yaml:"book"`
	Cache   CacheConfig   `yaml:"cache"`
	Webhook WebhookConfig `yaml:"webhook"`
	Log     LogConfig     `yaml:"log"`
}

type EngineConfig struct {
	Threads     int `yaml:"threads"`
	HashMB      int `yaml:"hash_mb"`
	PoolSize    int `yaml:"pool_size"`
	Depth       int `yaml:"depth"`
	MultiPV     int `yaml:"multipv"`
	MaxRestarts int `yaml:"max_restarts"`
	RetryDelay  int `yaml:"retry_delay_ms"`
}

type ReviewConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	MaxPlies      int `yaml:"max_plies"`
	RunTimeoutSec int `yaml:"run_timeout_sec"`
	// ExchangeDepth bounds capture-tree recursion in sacrifice detection.
	ExchangeDepth int `yaml:"exchange_depth"`
}

type BookConfig struct {
	CatalogPath  string `yaml:"catalog_path"`
	PolyglotPath string `yaml:"polyglot_path"`
}

type CacheConfig struct {
	TTLSec int `yaml:"ttl_sec"`
}

type WebhookConfig struct {
	Workers    int  `yaml:"workers"`
	TimeoutSec int  `yaml:"timeout_sec"`
	RetryMax   int  `yaml:"retry_max"`
	PlyEvents  bool `yaml:"ply_events"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Console bool   `yaml:"console"`
	ToFile  bool   `yaml:"to_file"`
	File    string `yaml:"file"`
	Caller  bool   `yaml:"caller"`
}

func (e EngineConfig) RetryDelayDuration() time.Duration {
	return time.Duration(e.RetryDelay) * time.Millisecond
}

func (r ReviewConfig) RunTimeout() time.Duration {
	return time.Duration(r.RunTimeoutSec) * time.Second
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSec) * time.Second
}

func defaults() *AppConfig {
	return &AppConfig{
		HTTPAddr: ":8080",
		FeedAddr: ":8081",
		Engine: EngineConfig{
			Threads:    1,
			HashMB:     64,
			Depth:      12,
			MultiPV:    5,
			RetryDelay: 500,
		},
		Review: ReviewConfig{
			MaxConcurrent: 4,
			MaxPlies:      600,
			RunTimeoutSec: 900,
			ExchangeDepth: 12,
		},
		Cache:   CacheConfig{TTLSec: 7 * 24 * 3600},
		Webhook: WebhookConfig{Workers: 2, TimeoutSec: 5, RetryMax: 3},
		Log: LogConfig{
			Level:   "info",
			Format:  "legacy",
			Console: true,
			File:    "logs/review.log",
		},
	}
}

// Load applies defaults, then the YAML file named by REVIEW_CONFIG_FILE, then env overrides.
func Load() (*AppConfig, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("REVIEW_CONFIG_FILE")); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *AppConfig, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) {
	setString(&cfg.HTTPAddr, "REVIEW_HTTP_ADDR")
	setString(&cfg.FeedAddr, "REVIEW_FEED_ADDR")
	setString(&cfg.StockfishPath, "STOCKFISH_PATH")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.MessagesDir, "REVIEW_MESSAGES_DIR")

	setInt(&cfg.Engine.Threads, "REVIEW_ENGINE_THREADS")
	setInt(&cfg.Engine.HashMB, "REVIEW_ENGINE_HASH_MB")
	setInt(&cfg.Engine.PoolSize, "REVIEW_ENGINE_POOL")
	setInt(&cfg.Engine.Depth, "REVIEW_DEPTH")
	setInt(&cfg.Engine.MultiPV, "REVIEW_MULTIPV")
	setInt(&cfg.Engine.MaxRestarts, "REVIEW_ENGINE_MAX_RESTARTS")
	setInt(&cfg.Engine.RetryDelay, "REVIEW_ENGINE_RETRY_DELAY_MS")

	setInt(&cfg.Review.MaxConcurrent, "REVIEW_MAX_CONCURRENT")
	setInt(&cfg.Review.MaxPlies, "REVIEW_MAX_PLIES")
	setInt(&cfg.Review.RunTimeoutSec, "REVIEW_RUN_TIMEOUT_SEC")
	setInt(&cfg.Review.ExchangeDepth, "REVIEW_EXCHANGE_DEPTH")

	setString(&cfg.Book.CatalogPath, "REVIEW_BOOK_CATALOG")
	setString(&cfg.Book.PolyglotPath, "REVIEW_BOOK_POLYGLOT")
	setInt(&cfg.Cache.TTLSec, "REVIEW_CACHE_TTL_SEC")

	setInt(&cfg.Webhook.Workers, "REVIEW_WEBHOOK_WORKERS")
	setInt(&cfg.Webhook.TimeoutSec, "REVIEW_WEBHOOK_TIMEOUT_SEC")
	setInt(&cfg.Webhook.RetryMax, "REVIEW_WEBHOOK_RETRY_MAX")
	setBool(&cfg.Webhook.PlyEvents, "REVIEW_WEBHOOK_PLY_EVENTS")

	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setBool(&cfg.Log.Console, "LOG_TO_CONSOLE")
	setBool(&cfg.Log.ToFile, "LOG_TO_FILE")
	setString(&cfg.Log.File, "LOG_FILE")
	setBool(&cfg.Log.Caller, "LOG_CALLER")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (c *AppConfig) Validate() error {
	if c.StockfishPath == "" {
		return errors.New("STOCKFISH_PATH is required")
	}
	if c.Engine.Depth < 1 || c.Engine.Depth > 60 {
		return fmt.Errorf("engine depth must be within 1..60, got %d", c.Engine.Depth)
	}
	// 후보가 하나뿐이면 강제수로 판정하므로 MultiPV는 최소 2.
	if c.Engine.MultiPV < 2 || c.Engine.MultiPV > 500 {
		return fmt.Errorf("engine multipv must be within 2..500, got %d", c.Engine.MultiPV)
	}
	if c.Engine.Threads < 1 {
		return fmt.Errorf("engine threads must be positive, got %d", c.Engine.Threads)
	}
	if c.Engine.HashMB < 1 {
		return fmt.Errorf("engine hash must be positive, got %d", c.Engine.HashMB)
	}
	if c.Engine.PoolSize < 0 || c.Engine.MaxRestarts < 0 || c.Engine.RetryDelay < 0 {
		return errors.New("engine pool size, max restarts and retry delay must not be negative")
	}
	if c.Review.MaxConcurrent < 1 {
		return fmt.Errorf("review max concurrent must be positive, got %d", c.Review.MaxConcurrent)
	}
	if c.Review.MaxPlies < 1 {
		return fmt.Errorf("review max plies must be positive, got %d", c.Review.MaxPlies)
	}
	if c.Review.RunTimeoutSec < 1 {
		return fmt.Errorf("review run timeout must be positive, got %d", c.Review.RunTimeoutSec)
	}
	if c.Review.ExchangeDepth < 1 {
		return fmt.Errorf("exchange depth must be positive, got %d", c.Review.ExchangeDepth)
	}
	if c.Cache.TTLSec < 0 {
		return fmt.Errorf("cache ttl must not be negative, got %d", c.Cache.TTLSec)
	}
	return nil
}
