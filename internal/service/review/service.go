// Package review runs submitted games through the analysis pipeline and keeps their reports.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-review/internal/chess/rules"
	"github.com/park285/cheese-review/internal/domain"
	"github.com/park285/cheese-review/internal/review/analysis"
	"github.com/park285/cheese-review/internal/review/classify"
	"github.com/park285/cheese-review/internal/review/exchange"
	"github.com/park285/cheese-review/pkg/reviewdto"
)

var (
	ErrReviewNotFound = errors.New("review not found")
	ErrReviewBusy     = errors.New("too many reviews in progress")
	ErrInvalidInput   = errors.New("invalid review input")
)

const (
	defaultMaxConcurrent = 4
	defaultMaxPlies      = 600
	defaultRunTimeout    = 15 * time.Minute
	persistTimeout       = 5 * time.Second
)

// OpeningBook names book positions and the opening reached by a game.
type OpeningBook interface {
	classify.OpeningBook
	Opening(game *rules.Game) string
}

// Publisher receives progress for a review; webhook is empty when none was requested.
type Publisher interface {
	Publish(ctx context.Context, webhook string, ev reviewdto.ProgressEvent)
}

type Config struct {
	Depth       int
	MultiPV     int
	Exchange    exchange.Options
	MaxRestarts int
	RetryDelay  time.Duration
	// MaxConcurrent bounds reviews analysed at the same time.
	MaxConcurrent int
	MaxPlies      int
	RunTimeout    time.Duration
}

type Service struct {
	engines    analysis.EngineFactory
	repo       Repository
	book       OpeningBook
	cache      analysis.EvalCache
	publishers []Publisher
	cfg        Config
	logger     *zap.Logger

	slots   chan struct{}
	base    context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	now func() time.Time
}

func NewService(engines analysis.EngineFactory, repo Repository, book OpeningBook, cache analysis.EvalCache, cfg Config, logger *zap.Logger, publishers ...Publisher) (*Service, error) {
	if engines == nil {
		return nil, fmt.Errorf("engine factory is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("review repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.MaxPlies <= 0 {
		cfg.MaxPlies = defaultMaxPlies
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	base, stop := context.WithCancel(context.Background())
	return &Service{
		engines:    engines,
		repo:       repo,
		book:       book,
		cache:      cache,
		publishers: publishers,
		cfg:        cfg,
		logger:     logger,
		slots:      make(chan struct{}, cfg.MaxConcurrent),
		base:       base,
		stopAll:    stop,
		cancels:    make(map[string]context.CancelFunc),
		now:        time.Now,
	}, nil
}

// Submit validates the game and starts its analysis in the background.
func (s *Service) Submit(ctx context.Context, req reviewdto.SubmitRequest) (reviewdto.SubmitResponse, error) {
	game, err := s.parseGame(req)
	if err != nil {
		return reviewdto.SubmitResponse{}, err
	}

	select {
	case s.slots <- struct{}{}:
	default:
		return reviewdto.SubmitResponse{}, ErrReviewBusy
	}

	now := s.now()
	review := &domain.Review{
		ID:        uuid.NewString(),
		Status:    reviewdto.StatusQueued,
		PGN:       strings.TrimSpace(req.PGN),
		StartFEN:  game.Plies[0].Before.FEN(),
		MovesUCI:  game.UCIMoves(),
		Webhook:   strings.TrimSpace(req.Webhook),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertReview(ctx, review); err != nil {
		<-s.slots
		return reviewdto.SubmitResponse{}, fmt.Errorf("store review: %w", err)
	}

	runCtx, cancel := context.WithTimeout(s.base, s.cfg.RunTimeout)
	s.mu.Lock()
	s.cancels[review.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx, review, game)

	s.logger.Info("review submitted",
		zap.String("review_id", review.ID),
		zap.Int("plies", len(game.Plies)),
	)
	return reviewdto.SubmitResponse{ID: review.ID, Status: review.Status}, nil
}

func (s *Service) parseGame(req reviewdto.SubmitRequest) (*rules.Game, error) {
	var (
		game *rules.Game
		err  error
	)
	switch {
	case strings.TrimSpace(req.PGN) != "":
		game, err = rules.ParsePGN(req.PGN)
	case len(req.Moves) > 0:
		game, err = rules.FromMoves(req.StartFEN, req.Moves)
	default:
		return nil, fmt.Errorf("%w: pgn or moves required", ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if len(game.Plies) == 0 {
		return nil, fmt.Errorf("%w: no moves", ErrInvalidInput)
	}
	if len(game.Plies) > s.cfg.MaxPlies {
		return nil, fmt.Errorf("%w: %d plies exceeds limit %d", ErrInvalidInput, len(game.Plies), s.cfg.MaxPlies)
	}
	return game, nil
}

func (s *Service) run(ctx context.Context, review *domain.Review, game *rules.Game) {
	defer s.wg.Done()
	defer func() { <-s.slots }()
	defer s.forget(review.ID)

	log := s.logger.With(zap.String("review_id", review.ID))

	orch, err := analysis.New(game, s.engines, analysis.Config{
		Depth:       s.cfg.Depth,
		MultiPV:     s.cfg.MultiPV,
		Exchange:    s.cfg.Exchange,
		Book:        s.book,
		Cache:       s.cache,
		Logger:      log,
		Autoplay:    true,
		MaxRestarts: s.cfg.MaxRestarts,
		RetryDelay:  s.cfg.RetryDelay,
		Observer: func(u analysis.Update) {
			s.observe(ctx, review, u)
		},
	})
	if err != nil {
		s.finish(review, game, nil, err)
		return
	}

	review.Status = reviewdto.StatusRunning
	review.Plies = orch.Records()
	s.persist(ctx, review)

	started := s.now()
	err = orch.Run(ctx)
	log.Info("review finished",
		zap.Duration("elapsed", s.now().Sub(started)),
		zap.Int("progress", orch.Progress()),
		zap.Error(err),
	)
	s.finish(review, game, orch, err)
}

// observe runs on the analysis goroutine, which owns review until run returns.
func (s *Service) observe(ctx context.Context, review *domain.Review, u analysis.Update) {
	review.Progress = u.Progress
	if u.Ply == nil {
		return
	}
	rec := analysis.Record(u.Ply)
	if u.Ply.Index < len(review.Plies) {
		review.Plies[u.Ply.Index] = rec
	}
	s.persist(ctx, review)
	s.publish(ctx, review, reviewdto.ProgressEvent{
		ReviewID: review.ID,
		Kind:     reviewdto.ProgressPly,
		Progress: u.Progress,
		Ply:      &rec,
	})
}

func (s *Service) finish(review *domain.Review, game *rules.Game, orch *analysis.Orchestrator, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if orch != nil {
		review.Plies = orch.Records()
		review.Progress = orch.Progress()
	}
	ev := reviewdto.ProgressEvent{ReviewID: review.ID, Progress: review.Progress}
	switch {
	case runErr == nil:
		review.Status = reviewdto.StatusDone
		summary := Summarize(game, review.Plies, s.book)
		review.Summary = &summary
		ev.Kind = reviewdto.ProgressFinished
	case errors.Is(runErr, context.Canceled):
		review.Status = reviewdto.StatusCanceled
		review.Error = "review canceled"
		ev.Kind = reviewdto.ProgressFailed
		ev.Error = review.Error
	default:
		review.Status = reviewdto.StatusFailed
		review.Error = runErr.Error()
		ev.Kind = reviewdto.ProgressFailed
		ev.Error = review.Error
	}
	ev.Progress = review.Progress
	s.persist(ctx, review)
	s.publish(ctx, review, ev)
}

func (s *Service) persist(ctx context.Context, review *domain.Review) {
	review.UpdatedAt = s.now()
	if err := s.repo.UpdateReview(ctx, review); err != nil {
		s.logger.Warn("persist review failed", zap.String("review_id", review.ID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, review *domain.Review, ev reviewdto.ProgressEvent) {
	for _, p := range s.publishers {
		p.Publish(ctx, review.Webhook, ev)
	}
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	delete(s.cancels, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Service) Get(ctx context.Context, id string) (reviewdto.Report, error) {
	review, err := s.load(ctx, id)
	if err != nil {
		return reviewdto.Report{}, err
	}
	return review.Report(), nil
}

// Plies returns the ply records only; cheaper for clients polling a running review.
func (s *Service) Plies(ctx context.Context, id string) ([]reviewdto.PlyRecord, error) {
	review, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return review.Report().Plies, nil
}

func (s *Service) Recent(ctx context.Context, limit int) ([]reviewdto.Report, error) {
	reviews, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	out := make([]reviewdto.Report, 0, len(reviews))
	for _, r := range reviews {
		rep := r.Report()
		rep.Plies = nil
		out = append(out, rep)
	}
	return out, nil
}

// Cancel stops a running review. Finished reviews are left untouched.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*domain.Review, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrReviewNotFound
	}
	review, err := s.repo.GetReview(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load review: %w", err)
	}
	if review == nil {
		return nil, ErrReviewNotFound
	}
	return review, nil
}

// Close cancels running reviews and waits for them to record their final state.
func (s *Service) Close() {
	s.stopAll()
	s.wg.Wait()
}
