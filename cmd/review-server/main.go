package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appcfg "github.com/park285/cheese-review/internal/config"
	"github.com/park285/cheese-review/internal/httpapi"
	"github.com/park285/cheese-review/internal/obslog"
	"github.com/park285/cheese-review/internal/progress"
	"github.com/park285/cheese-review/internal/reviewbuilder"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(cfg.Log); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := reviewbuilder.New(ctx, cfg, logger, reviewbuilder.Options{})
	if err != nil {
		logger.Fatal("review init error", zap.Error(err))
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	api := httpapi.NewServer(deps.Service, logger.Named("http"))
	feed := &http.Server{
		Addr:              cfg.FeedAddr,
		Handler:           progress.NewFeed(deps.Hub, deps.Service, logger.Named("feed")).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("review api listening", zap.String("addr", cfg.HTTPAddr))
		return api.ListenAndServe(cfg.HTTPAddr)
	})
	g.Go(func() error {
		logger.Info("progress feed listening", zap.String("addr", cfg.FeedAddr))
		if err := feed.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(api.Shutdown(shutdownCtx), feed.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}
