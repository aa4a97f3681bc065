package reviewbuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-review/internal/adapter/reviewpresenter"
	"github.com/park285/cheese-review/internal/chess/openingbook"
	"github.com/park285/cheese-review/internal/chess/uci"
	"github.com/park285/cheese-review/internal/config"
	"github.com/park285/cheese-review/internal/msgcat"
	"github.com/park285/cheese-review/internal/progress"
	"github.com/park285/cheese-review/internal/review/analysis"
	"github.com/park285/cheese-review/internal/review/exchange"
	"github.com/park285/cheese-review/internal/service/review"
	"github.com/park285/cheese-review/internal/store/evalcache"
)

type Deps struct {
	Service   *review.Service
	Pool      *uci.Pool
	Book      *openingbook.Book
	Hub       *progress.Hub
	Notifier  *progress.Notifier
	Repo      review.Repository
	Formatter *reviewpresenter.Formatter

	closers []func() error
}

// Options swap out pieces for callers that do not run the full server.
type Options struct {
	// Launch replaces engine process creation.
	Launch uci.LaunchFunc
	// Ephemeral skips Postgres and Redis even when configured.
	Ephemeral bool
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, opts Options) (deps *Deps, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	// Engine pool
	pool, err := uci.NewPool(uci.PoolConfig{
		BinaryPath: cfg.StockfishPath,
		Options: uci.Options{
			Threads: cfg.Engine.Threads,
			HashMB:  cfg.Engine.HashMB,
			MultiPV: cfg.Engine.MultiPV,
		},
		Capacity: cfg.Engine.PoolSize,
		Logger:   logger.Named("uci"),
		Launch:   opts.Launch,
	})
	if err != nil {
		return nil, fmt.Errorf("init engine pool: %w", err)
	}
	d.Pool = pool
	d.closers = append(d.closers, pool.Close)

	book, err := openingbook.Open(openingbook.Config{
		CatalogPath:  cfg.Book.CatalogPath,
		PolyglotPath: cfg.Book.PolyglotPath,
		Logger:       logger.Named("book"),
	})
	if err != nil {
		return nil, fmt.Errorf("open opening book: %w", err)
	}
	d.Book = book

	// Eval cache (Redis optional)
	var cache analysis.EvalCache
	if strings.TrimSpace(cfg.RedisURL) != "" && !opts.Ephemeral {
		rdb, err := dialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, rdb.Close)
		cache = evalcache.New(rdb, cfg.Cache.TTL(), logger.Named("evalcache"))
	} else {
		logger.Info("REDIS_URL not set, engine results are not cached")
	}

	// Repository (memory fallback without DATABASE_URL)
	if strings.TrimSpace(cfg.DatabaseURL) != "" && !opts.Ephemeral {
		db, err := openPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, db.Close)
		d.Repo = review.NewRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, reviews are kept in memory only")
		d.Repo = review.NewMemoryRepository()
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	d.Formatter = reviewpresenter.NewFormatter(cat)

	d.Hub = progress.NewHub(logger.Named("progress"))
	d.Notifier = progress.NewNotifier(progress.WebhookConfig{
		Workers:   cfg.Webhook.Workers,
		Timeout:   cfg.Webhook.Timeout(),
		RetryMax:  cfg.Webhook.RetryMax,
		PlyEvents: cfg.Webhook.PlyEvents,
	}, logger.Named("webhook"))
	d.closers = append(d.closers, func() error { d.Notifier.Close(); return nil })

	service, err := review.NewService(review.PoolEngines(pool), d.Repo, book, cache, review.Config{
		Depth:         cfg.Engine.Depth,
		MultiPV:       cfg.Engine.MultiPV,
		Exchange:      exchange.Options{MaxDepth: cfg.Review.ExchangeDepth},
		MaxRestarts:   cfg.Engine.MaxRestarts,
		RetryDelay:    cfg.Engine.RetryDelayDuration(),
		MaxConcurrent: cfg.Review.MaxConcurrent,
		MaxPlies:      cfg.Review.MaxPlies,
		RunTimeout:    cfg.Review.RunTimeout(),
	}, logger.Named("review"), d.Hub, d.Notifier)
	if err != nil {
		return nil, err
	}
	d.Service = service
	d.closers = append(d.closers, func() error { service.Close(); return nil })

	return d, nil
}

// Close releases resources in reverse construction order.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func dialRedis(ctx context.Context, url string) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rdb, err := evalcache.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("init eval cache: %w", err)
	}
	return rdb, nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := review.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
