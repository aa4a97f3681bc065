package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-review/pkg/reviewdto"
)

type WebhookConfig struct {
	Workers  int
	Queue    int
	Timeout  time.Duration
	RetryMax int
	// Dial overrides the transport dialer.
	Dial fasthttp.DialFunc
	// PlyEvents also posts every classified ply, not only the terminal event.
	PlyEvents bool
}

// Notifier posts progress events to per-review webhook URLs from a worker pool.
type Notifier struct {
	http   *fasthttp.Client
	cfg    WebhookConfig
	logger *zap.Logger

	jobs     chan webhookJob
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

type webhookJob struct {
	url string
	ev  reviewdto.ProgressEvent
}

func NewNotifier(cfg WebhookConfig, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	n := &Notifier{
		http: &fasthttp.Client{
			ReadTimeout:     cfg.Timeout,
			WriteTimeout:    cfg.Timeout,
			MaxConnsPerHost: 16,
			Dial:            cfg.Dial,
		},
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan webhookJob, cfg.Queue),
	}
	n.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go n.worker()
	}
	return n
}

// Publish queues the event for delivery and drops it when the queue is full.
func (n *Notifier) Publish(ctx context.Context, webhook string, ev reviewdto.ProgressEvent) {
	if webhook == "" {
		return
	}
	if ev.Kind == reviewdto.ProgressPly && !n.cfg.PlyEvents {
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.jobs <- webhookJob{url: webhook, ev: ev}:
	default:
		n.logger.Warn("webhook queue full, event dropped",
			zap.String("review_id", ev.ReviewID),
			zap.String("kind", string(ev.Kind)),
		)
	}
}

// Close stops accepting events and waits for queued deliveries.
func (n *Notifier) Close() {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.jobs)
		n.mu.Unlock()
	})
	n.wg.Wait()
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for job := range n.jobs {
		if err := n.deliver(job); err != nil {
			n.logger.Warn("webhook delivery failed",
				zap.String("review_id", job.ev.ReviewID),
				zap.String("url", job.url),
				zap.Error(err),
			)
		}
	}
}

func (n *Notifier) deliver(job webhookJob) error {
	payload, err := json.Marshal(job.ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(job.url)
	req.Header.SetContentType("application/json")
	req.Header.Set("X-Review-Id", job.ev.ReviewID)
	req.SetBody(payload)

	var lastErr error
	for attempt := 1; attempt <= n.cfg.RetryMax; attempt++ {
		err := n.http.DoTimeout(req, resp, n.cfg.Timeout)
		switch {
		case err != nil:
			lastErr = fmt.Errorf("request failed: %w", err)
		case resp.StatusCode() >= 500:
			lastErr = fmt.Errorf("webhook status=%d", resp.StatusCode())
		case resp.StatusCode() >= 300:
			return fmt.Errorf("webhook status=%d", resp.StatusCode())
		default:
			return nil
		}
		if attempt < n.cfg.RetryMax {
			time.Sleep(backoffDuration(attempt))
		}
	}
	return lastErr
}
