package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-review/internal/adapter/reviewpresenter"
	"github.com/park285/cheese-review/internal/chess/openingbook"
	appcfg "github.com/park285/cheese-review/internal/config"
	"github.com/park285/cheese-review/internal/httpapi"
	"github.com/park285/cheese-review/internal/msgcat"
	"github.com/park285/cheese-review/internal/obslog"
	"github.com/park285/cheese-review/internal/progress"
	"github.com/park285/cheese-review/internal/reviewbuilder"
	"github.com/park285/cheese-review/pkg/reviewdto"
)

type options struct {
	pgnPath  string
	moves    string
	fen      string
	server   string
	feed     string
	asJSON   bool
	quiet    bool
	timeout  time.Duration
	catalog  string
	out      string
	maxPly   int
	minWeight int
}

func main() {
	var opt options
	flag.StringVar(&opt.pgnPath, "pgn", "", "PGN file to review (- for stdin)")
	flag.StringVar(&opt.moves, "moves", "", "space separated UCI moves instead of a PGN")
	flag.StringVar(&opt.fen, "fen", "", "start position for -moves")
	flag.StringVar(&opt.server, "server", "", "review server base URL; reviews locally when empty")
	flag.StringVar(&opt.feed, "feed", "", "progress feed base URL for -server (ws://host:port)")
	flag.BoolVar(&opt.asJSON, "json", false, "print the report as JSON")
	flag.BoolVar(&opt.quiet, "q", false, "do not print per-ply progress")
	flag.DurationVar(&opt.timeout, "timeout", 15*time.Minute, "overall time limit")
	flag.StringVar(&opt.catalog, "build-catalog", "", "polyglot book to convert into a JSON opening catalog")
	flag.StringVar(&opt.out, "out", "", "catalog output path (stdout when empty)")
	flag.IntVar(&opt.maxPly, "max-ply", 12, "catalog depth in plies")
	flag.IntVar(&opt.minWeight, "min-weight", 1, "minimum polyglot weight kept in the catalog")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch {
	case opt.catalog != "":
		err = buildCatalog(opt)
	case opt.server != "":
		err = reviewRemote(ctx, opt)
	default:
		err = reviewLocal(ctx, opt)
	}
	if err != nil {
		log.Fatalf("pgnreview: %v", err)
	}
}

func submitRequest(opt options) (reviewdto.SubmitRequest, error) {
	if opt.moves != "" {
		return reviewdto.SubmitRequest{StartFEN: opt.fen, Moves: strings.Fields(opt.moves)}, nil
	}
	var (
		raw []byte
		err error
	)
	switch opt.pgnPath {
	case "":
		return reviewdto.SubmitRequest{}, errors.New("-pgn or -moves is required")
	case "-":
		raw, err = io.ReadAll(os.Stdin)
	default:
		raw, err = os.ReadFile(opt.pgnPath)
	}
	if err != nil {
		return reviewdto.SubmitRequest{}, fmt.Errorf("read pgn: %w", err)
	}
	return reviewdto.SubmitRequest{PGN: string(raw)}, nil
}

func reviewLocal(ctx context.Context, opt options) error {
	req, err := submitRequest(opt)
	if err != nil {
		return err
	}
	cfg, err := appcfg.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg.Log.ToFile = false
	if err := obslog.Init(cfg.Log); err != nil {
		return err
	}
	logger := obslog.L()

	deps, err := reviewbuilder.New(ctx, cfg, logger, reviewbuilder.Options{Ephemeral: true})
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx, cancel := context.WithTimeout(ctx, opt.timeout)
	defer cancel()

	resp, err := deps.Service.Submit(ctx, req)
	if err != nil {
		return err
	}
	events, unsubscribe := deps.Hub.Subscribe(resp.ID)
	defer unsubscribe()

	presenter := newPresenter(deps.Formatter)
	if rep, err := deps.Service.Get(ctx, resp.ID); err == nil && terminal(rep.Status) {
		return printReport(rep, presenter, opt)
	}
	if err := waitLocal(ctx, events, presenter, opt); err != nil {
		logger.Warn("review interrupted", zap.Error(err))
		_ = deps.Service.Cancel(context.Background(), resp.ID)
	}

	rep, err := deps.Service.Get(context.Background(), resp.ID)
	if err != nil {
		return err
	}
	return printReport(rep, presenter, opt)
}

// waitLocal returns once the review reaches a terminal state.
func waitLocal(ctx context.Context, events <-chan reviewdto.ProgressEvent, presenter *reviewpresenter.Presenter, opt options) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !opt.quiet && !opt.asJSON {
				_ = presenter.Progress(ev)
			}
		}
	}
}

func reviewRemote(ctx context.Context, opt options) error {
	req, err := submitRequest(opt)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opt.timeout)
	defer cancel()

	client := httpapi.NewClient(opt.server)
	resp, err := client.Submit(ctx, req)
	if err != nil {
		return err
	}

	cat, err := msgcat.New("")
	if err != nil {
		return err
	}
	presenter := newPresenter(reviewpresenter.NewFormatter(cat))

	if opt.feed != "" {
		url := strings.TrimRight(opt.feed, "/") + "/reviews/" + resp.ID + "/events"
		_, err := progress.Follow(ctx, url, progress.FollowOptions{MaxReconnects: 3}, func(ev reviewdto.ProgressEvent) {
			if !opt.quiet && !opt.asJSON {
				_ = presenter.Progress(ev)
			}
		})
		if err != nil {
			return fmt.Errorf("follow progress: %w", err)
		}
	} else if err := pollRemote(ctx, client, resp.ID); err != nil {
		return err
	}

	rep, err := client.Get(ctx, resp.ID)
	if err != nil {
		return err
	}
	return printReport(rep, presenter, opt)
}

func pollRemote(ctx context.Context, client *httpapi.Client, id string) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		rep, err := client.Get(ctx, id)
		if err != nil {
			return err
		}
		if terminal(rep.Status) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func terminal(status reviewdto.ReviewStatus) bool {
	switch status {
	case reviewdto.StatusDone, reviewdto.StatusFailed, reviewdto.StatusCanceled:
		return true
	}
	return false
}

func newPresenter(f *reviewpresenter.Formatter) *reviewpresenter.Presenter {
	return reviewpresenter.NewPresenter(f, func(message string) error {
		_, err := fmt.Fprintln(os.Stdout, message)
		return err
	})
}

func printReport(rep reviewdto.Report, presenter *reviewpresenter.Presenter, opt options) error {
	if opt.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	if err := presenter.Report(rep); err != nil {
		return err
	}
	if rep.Status != reviewdto.StatusDone {
		return fmt.Errorf("review %s ended with status %s", rep.ID, rep.Status)
	}
	return nil
}

func buildCatalog(opt options) error {
	poly, err := openingbook.LoadPolyglot(opt.catalog)
	if err != nil {
		return err
	}
	if opt.minWeight < 0 || opt.minWeight > 0xffff {
		return fmt.Errorf("min-weight out of range: %d", opt.minWeight)
	}
	entries, err := openingbook.BuildCatalog(poly, openingbook.CatalogOptions{
		MaxPly:    opt.maxPly,
		MinWeight: uint16(opt.minWeight),
	})
	if err != nil {
		return err
	}
	w := io.Writer(os.Stdout)
	if opt.out != "" {
		f, err := os.Create(opt.out)
		if err != nil {
			return fmt.Errorf("create catalog: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := openingbook.EncodeCatalog(w, entries); err != nil {
		return err
	}
	log.Printf("catalog written: %d entries", len(entries))
	return nil
}
