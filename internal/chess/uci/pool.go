package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// LaunchFunc starts one ready engine session.
type LaunchFunc func(ctx context.Context) (*Session, error)

type PoolConfig struct {
	BinaryPath string
	Options    Options
	// Capacity bounds live engine processes; zero picks a CPU-based default.
	Capacity int
	Logger   *zap.Logger
	// Launch overrides process creation.
	Launch LaunchFunc
}

// Pool hands out engine sessions, reusing idle ones and never exceeding capacity.
type Pool struct {
	launch   LaunchFunc
	capacity int
	logger   *zap.Logger

	mu     sync.Mutex
	total  int
	closed bool
	idle   chan *Session
	leased map[*Session]struct{}
}

var (
	errPoolAtCapacity = errors.New("uci: pool at capacity")
	ErrPoolClosed     = errors.New("uci: pool closed")
)

func NewPool(cfg PoolConfig) (*Pool, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	launch := cfg.Launch
	if launch == nil {
		if cfg.BinaryPath == "" {
			return nil, fmt.Errorf("binary path required")
		}
		if _, err := os.Stat(cfg.BinaryPath); err != nil {
			return nil, fmt.Errorf("stockfish binary check: %w", err)
		}
		if err := validateOptions(cfg.Options); err != nil {
			return nil, err
		}
		binary, opt := cfg.BinaryPath, cfg.Options
		launch = func(ctx context.Context) (*Session, error) {
			return NewSession(ctx, binary, opt, logger)
		}
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	return &Pool{
		launch:   launch,
		capacity: capacity,
		logger:   logger,
		idle:     make(chan *Session, capacity),
		leased:   make(map[*Session]struct{}),
	}, nil
}

func (p *Pool) Capacity() int { return p.capacity }

// Acquire blocks until a session is free or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	for {
		if s, ok := p.takeIdle(ctx); ok {
			return s, nil
		}

		s, err := p.create(ctx)
		if err == nil {
			p.track(s)
			return s, nil
		}
		if !errors.Is(err, errPoolAtCapacity) {
			return nil, err
		}

		select {
		case s := <-p.idle:
			if s == nil {
				continue
			}
			if err := s.EnsureReady(ctx); err != nil {
				p.logger.Warn("discarding stale engine session", zap.Error(err))
				p.drop(s)
				continue
			}
			p.track(s)
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) takeIdle(ctx context.Context) (*Session, bool) {
	for {
		select {
		case s := <-p.idle:
			if s == nil {
				continue
			}
			if err := s.EnsureReady(ctx); err != nil {
				p.logger.Warn("discarding stale engine session", zap.Error(err))
				p.drop(s)
				continue
			}
			p.track(s)
			return s, true
		default:
			return nil, false
		}
	}
}

// Release returns a session; a non-nil err or a dead process discards it.
func (p *Pool) Release(s *Session, err error) {
	if s == nil {
		return
	}
	p.mu.Lock()
	_, ok := p.leased[s]
	delete(p.leased, s)
	closed := p.closed
	p.mu.Unlock()

	if !ok {
		_ = s.Close()
		return
	}
	if err != nil || s.Err() != nil || closed {
		p.drop(s)
		return
	}
	select {
	case p.idle <- s:
	default:
		p.drop(s)
	}
}

func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case s := <-p.idle:
			if s == nil {
				continue
			}
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
			p.decrement()
		default:
			return errors.Join(errs...)
		}
	}
}

func (p *Pool) create(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.total >= p.capacity {
		p.mu.Unlock()
		return nil, errPoolAtCapacity
	}
	p.total++
	p.mu.Unlock()

	s, err := p.launch(ctx)
	if err != nil {
		p.decrement()
		return nil, err
	}
	return s, nil
}

func (p *Pool) track(s *Session) {
	p.mu.Lock()
	p.leased[s] = struct{}{}
	p.mu.Unlock()
}

func (p *Pool) drop(s *Session) {
	_ = s.Close()
	p.decrement()
}

func (p *Pool) decrement() {
	p.mu.Lock()
	if p.total > 0 {
		p.total--
	}
	p.mu.Unlock()
}

func defaultCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
