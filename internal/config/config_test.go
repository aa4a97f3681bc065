package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("REVIEW_CONFIG_FILE", "")
	t.Setenv("STOCKFISH_PATH", "/usr/bin/stockfish")
	t.Setenv("REVIEW_MULTIPV", "3")
	t.Setenv("LOG_TO_CONSOLE", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Depth != 12 || cfg.Engine.MultiPV != 3 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Log.Console {
		t.Fatalf("LOG_TO_CONSOLE override ignored")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr)
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "review.yaml")
	body := `
stockfish_path: /opt/sf
engine:
  depth: 16
  multipv: 4
review:
  max_concurrent: 2
book:
  catalog_path: /etc/book.json
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("REVIEW_CONFIG_FILE", path)
	t.Setenv("STOCKFISH_PATH", "")
	t.Setenv("REVIEW_DEPTH", "18")
	t.Setenv("REVIEW_MULTIPV", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StockfishPath != "/opt/sf" {
		t.Fatalf("stockfish path = %q", cfg.StockfishPath)
	}
	if cfg.Engine.Depth != 18 || cfg.Engine.MultiPV != 4 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.Review.MaxConcurrent != 2 || cfg.Review.MaxPlies != 600 {
		t.Fatalf("review = %+v", cfg.Review)
	}
	if cfg.Book.CatalogPath != "/etc/book.json" {
		t.Fatalf("book = %+v", cfg.Book)
	}
}

func TestLoadRejectsUnknownFileKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("stockfish: /opt/sf\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("REVIEW_CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"missing stockfish", func(c *AppConfig) { c.StockfishPath = "" }, "STOCKFISH_PATH"},
		{"single pv", func(c *AppConfig) { c.Engine.MultiPV = 1 }, "multipv"},
		{"zero depth", func(c *AppConfig) { c.Engine.Depth = 0 }, "depth"},
		{"negative pool", func(c *AppConfig) { c.Engine.PoolSize = -1 }, "pool"},
		{"no concurrency", func(c *AppConfig) { c.Review.MaxConcurrent = 0 }, "concurrent"},
	}
	for _, tc := range cases {
		cfg := defaults()
		cfg.StockfishPath = "/usr/bin/stockfish"
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v, want mention of %q", tc.name, err, tc.want)
		}
	}
	ok := defaults()
	ok.StockfishPath = "/usr/bin/stockfish"
	if err := ok.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}
