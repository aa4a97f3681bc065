package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultReadyTimeout = 4 * time.Second
	lineBuffer          = 256
)

var (
	ErrEngineUnavailable = errors.New("uci: engine unavailable")
	ErrSessionClosed     = errors.New("uci: session closed")
)

type Options struct {
	Threads int
	HashMB  int
	MultiPV int
}

// Session is a running engine process. Output lines are delivered on Lines
// until the process exits, after which Err reports why.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *zap.Logger

	mu     sync.Mutex
	closed bool

	lines chan string
	quit  chan struct{}
	done  chan struct{}
	err   error
}

// NewSession starts the engine and completes the uci handshake.
func NewSession(ctx context.Context, binaryPath string, opt Options, logger *zap.Logger) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: start engine: %v", ErrEngineUnavailable, err)
	}

	s := newSession(stdin, stdout, logger)
	s.cmd = cmd
	if err := s.initialize(ctx, opt); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Attach runs the uci handshake over an already connected engine stream.
func Attach(ctx context.Context, stdin io.WriteCloser, stdout io.Reader, opt Options, logger *zap.Logger) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := newSession(stdin, stdout, logger)
	if err := s.initialize(ctx, opt); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newSession(stdin io.WriteCloser, stdout io.Reader, logger *zap.Logger) *Session {
	s := &Session{
		stdin:  stdin,
		logger: logger,
		lines:  make(chan string, lineBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.readLoop(stdout)
	return s
}

func (s *Session) readLoop(r io.Reader) {
	defer close(s.done)
	defer close(s.lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case s.lines <- strings.TrimSpace(sc.Text()):
		case <-s.quit:
			s.setErr(ErrSessionClosed)
			return
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	s.setErr(fmt.Errorf("%w: %v", ErrEngineUnavailable, err))
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		err = ErrSessionClosed
	}
	s.err = err
}

// Lines is closed when the engine output ends.
func (s *Session) Lines() <-chan string { return s.lines }

// Err is nil while the engine is running.
func (s *Session) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if _, err := io.WriteString(s.stdin, strings.TrimRight(cmd, "\n")+"\n"); err != nil {
		return fmt.Errorf("%w: write: %v", ErrEngineUnavailable, err)
	}
	return nil
}

// EnsureReady stops any running search and drains output up to the next readyok.
func (s *Session) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.Send("stop"); err != nil {
		return err
	}
	if err := s.Send("isready"); err != nil {
		return err
	}
	if err := s.awaitKind(readyCtx, KindReadyOK); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.quit)
	if s.stdin != nil {
		s.stdin.Close()
	}
	s.mu.Unlock()

	if s.cmd == nil {
		return nil
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	<-s.done
	err := s.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func (s *Session) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.Send("uci"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitKind(initCtx, KindUCIOK); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	for _, cmd := range optionCommands(opt) {
		if err := s.Send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	if err := s.Send("isready"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitKind(initCtx, KindReadyOK); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	s.logger.Debug("engine ready", zap.Int("multipv", opt.MultiPV), zap.Int("threads", opt.Threads))
	return nil
}

func (s *Session) awaitKind(ctx context.Context, kind Kind) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-s.lines:
			if !ok {
				if err := s.Err(); err != nil {
					return err
				}
				return ErrEngineUnavailable
			}
			if Parse(line).Kind == kind {
				return nil
			}
		}
	}
}

func optionCommands(opt Options) []string {
	threads := opt.Threads
	if threads <= 0 {
		threads = 1
	}
	return []string{
		fmt.Sprintf("setoption name Threads value %d", threads),
		fmt.Sprintf("setoption name Hash value %d", opt.HashMB),
		fmt.Sprintf("setoption name MultiPV value %d", opt.MultiPV),
	}
}

func validateOptions(opt Options) error {
	if opt.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", opt.HashMB)
	}
	if opt.MultiPV <= 0 {
		return fmt.Errorf("multipv must be > 0: %d", opt.MultiPV)
	}
	if opt.Threads < 0 {
		return fmt.Errorf("threads must be >= 0: %d", opt.Threads)
	}
	return nil
}
