package review

import (
	"context"
	"sync"

	"github.com/park285/cheese-review/internal/chess/uci"
	"github.com/park285/cheese-review/internal/review/analysis"
)

// PoolEngines leases pooled sessions to analysis runs. Closing a lease hands the session back.
func PoolEngines(pool *uci.Pool) analysis.EngineFactory {
	return func(ctx context.Context) (analysis.Engine, error) {
		s, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return newLease(pool, s), nil
	}
}

// lease forwards session output until closed so the next holder never loses a line.
type lease struct {
	pool    *uci.Pool
	session *uci.Session
	lines   chan string
	stop    chan struct{}
	fwdDone chan struct{}
	once    sync.Once
}

func newLease(pool *uci.Pool, s *uci.Session) *lease {
	l := &lease{
		pool:    pool,
		session: s,
		lines:   make(chan string),
		stop:    make(chan struct{}),
		fwdDone: make(chan struct{}),
	}
	go l.forward()
	return l
}

func (l *lease) forward() {
	defer close(l.fwdDone)
	src := l.session.Lines()
	for {
		select {
		case <-l.stop:
			return
		case line, ok := <-src:
			if !ok {
				close(l.lines)
				return
			}
			select {
			case l.lines <- line:
			case <-l.stop:
				return
			}
		}
	}
}

func (l *lease) Send(cmd string) error { return l.session.Send(cmd) }

func (l *lease) Lines() <-chan string { return l.lines }

func (l *lease) Err() error { return l.session.Err() }

func (l *lease) Close() error {
	l.once.Do(func() {
		close(l.stop)
		<-l.fwdDone
		l.pool.Release(l.session, l.session.Err())
	})
	return nil
}
