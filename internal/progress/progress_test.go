package progress

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/cheese-review/internal/service/review"
	"github.com/park285/cheese-review/pkg/reviewdto"
)

const reviewID = "3c1c3f0e-8d55-4a43-9d0b-0f3a0e4b5a11"

func TestHubDeliversUntilTerminal(t *testing.T) {
	hub := NewHub(nil)
	events, cancel := hub.Subscribe(reviewID)
	defer cancel()

	hub.Publish(context.Background(), "", reviewdto.ProgressEvent{ReviewID: reviewID, Kind: reviewdto.ProgressPly, Progress: 50})
	hub.Publish(context.Background(), "", reviewdto.ProgressEvent{ReviewID: "other", Kind: reviewdto.ProgressPly})
	hub.Publish(context.Background(), "", reviewdto.ProgressEvent{ReviewID: reviewID, Kind: reviewdto.ProgressFinished, Progress: 100})

	var got []reviewdto.ProgressKind
	for ev := range events {
		got = append(got, ev.Kind)
	}
	if len(got) != 2 || got[0] != reviewdto.ProgressPly || got[1] != reviewdto.ProgressFinished {
		t.Fatalf("events = %v", got)
	}
	if n := hub.Subscribers(reviewID); n != 0 {
		t.Fatalf("subscribers after terminal = %d", n)
	}
}

func TestHubDropsForLaggingSubscriber(t *testing.T) {
	hub := NewHub(nil)
	_, cancel := hub.Subscribe(reviewID)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Publish(context.Background(), "", reviewdto.ProgressEvent{ReviewID: reviewID, Kind: reviewdto.ProgressPly})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a full subscriber")
	}
	cancel()
	cancel()
	if n := hub.Subscribers(reviewID); n != 0 {
		t.Fatalf("subscribers after cancel = %d", n)
	}
}

type staticReports struct {
	report reviewdto.Report
}

func (s staticReports) Get(ctx context.Context, id string) (reviewdto.Report, error) {
	if id != s.report.ID {
		return reviewdto.Report{}, review.ErrReviewNotFound
	}
	return s.report, nil
}

func feedURL(srv *httptest.Server, id string) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://") + "/reviews/" + id + "/events"
}

func TestFeedStreamsSnapshotThenLiveEvents(t *testing.T) {
	hub := NewHub(nil)
	rep := reviewdto.Report{
		ID:     reviewID,
		Status: reviewdto.StatusRunning,
		Plies: []reviewdto.PlyRecord{
			{Ply: 0, PlayedMove: reviewdto.PlayedRecord{Status: "done", Move: reviewdto.PlayedMoveRecord{Move: "e2e4", Classification: "book"}}},
			{Ply: 1},
		},
		Progress: 50,
	}
	srv := httptest.NewServer(NewFeed(hub, staticReports{report: rep}, nil).Routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		last reviewdto.ProgressEvent
		seen []int
		err  error
	}
	out := make(chan result, 1)
	go func() {
		var seen []int
		last, err := Follow(ctx, feedURL(srv, reviewID), FollowOptions{}, func(ev reviewdto.ProgressEvent) {
			if ev.Ply != nil {
				seen = append(seen, ev.Ply.Ply)
			}
		})
		out <- result{last: last, seen: seen, err: err}
	}()

	for hub.Subscribers(reviewID) == 0 {
		if ctx.Err() != nil {
			t.Fatalf("follower never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	ply := reviewdto.PlyRecord{Ply: 1, PlayedMove: reviewdto.PlayedRecord{Status: "done", Move: reviewdto.PlayedMoveRecord{Move: "e7e5", Classification: "book"}}}
	hub.Publish(ctx, "", reviewdto.ProgressEvent{ReviewID: reviewID, Kind: reviewdto.ProgressPly, Progress: 100, Ply: &ply})
	hub.Publish(ctx, "", reviewdto.ProgressEvent{ReviewID: reviewID, Kind: reviewdto.ProgressFinished, Progress: 100})

	res := <-out
	if res.err != nil {
		t.Fatalf("Follow: %v", res.err)
	}
	if res.last.Kind != reviewdto.ProgressFinished {
		t.Fatalf("last event = %+v", res.last)
	}
	if len(res.seen) != 2 || res.seen[0] != 0 || res.seen[1] != 1 {
		t.Fatalf("plies seen = %v", res.seen)
	}
}

func TestFeedFinishedReviewEndsImmediately(t *testing.T) {
	rep := reviewdto.Report{ID: reviewID, Status: reviewdto.StatusFailed, Error: "engine unavailable"}
	srv := httptest.NewServer(NewFeed(NewHub(nil), staticReports{report: rep}, nil).Routes())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	last, err := Follow(ctx, feedURL(srv, reviewID), FollowOptions{}, nil)
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if last.Kind != reviewdto.ProgressFailed || last.Error != "engine unavailable" {
		t.Fatalf("last event = %+v", last)
	}

	if _, err := Follow(ctx, feedURL(srv, "missing"), FollowOptions{}, nil); err == nil {
		t.Fatalf("expected dial error for unknown review")
	}
}

type hookRecorder struct {
	mu       sync.Mutex
	attempts int
	failFor  int
	bodies   []reviewdto.ProgressEvent
}

func (h *hookRecorder) handle(rc *fasthttp.RequestCtx) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts++
	if h.attempts <= h.failFor {
		rc.SetStatusCode(fasthttp.StatusBadGateway)
		return
	}
	var ev reviewdto.ProgressEvent
	if err := json.Unmarshal(rc.PostBody(), &ev); err == nil {
		h.bodies = append(h.bodies, ev)
	}
	rc.SetStatusCode(fasthttp.StatusOK)
}

func startHook(t *testing.T, rec *hookRecorder) fasthttp.DialFunc {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: rec.handle}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		ln.Close()
	})
	return func(addr string) (net.Conn, error) { return ln.Dial() }
}

func TestNotifierPostsTerminalEvents(t *testing.T) {
	rec := &hookRecorder{failFor: 1}
	n := NewNotifier(WebhookConfig{Dial: startHook(t, rec), Workers: 1}, nil)

	ctx := context.Background()
	n.Publish(ctx, "", reviewdto.ProgressEvent{ReviewID: reviewID, Kind: reviewdto.ProgressFinished})
	n.Publish(ctx, "http://hook.test/cb", reviewdto.ProgressEvent{ReviewID: reviewID, Kind: reviewdto.ProgressPly})
	n.Publish(ctx, "http://hook.test/cb", reviewdto.ProgressEvent{ReviewID: reviewID, Kind: reviewdto.ProgressFinished, Progress: 100})
	n.Close()
	n.Publish(ctx, "http://hook.test/cb", reviewdto.ProgressEvent{ReviewID: reviewID, Kind: reviewdto.ProgressFailed})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (one retry)", rec.attempts)
	}
	if len(rec.bodies) != 1 || rec.bodies[0].Kind != reviewdto.ProgressFinished || rec.bodies[0].Progress != 100 {
		t.Fatalf("delivered = %+v", rec.bodies)
	}
}
