package progress

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-review/internal/service/review"
	"github.com/park285/cheese-review/pkg/reviewdto"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 5 * time.Second
)

// Reports provides the current state of a review for followers that join late.
type Reports interface {
	Get(ctx context.Context, id string) (reviewdto.Report, error)
}

// Feed streams progress events over websocket. A follower first receives the plies
// classified so far, then live events; a ply may therefore arrive twice.
type Feed struct {
	hub          *Hub
	reports      Reports
	logger       *zap.Logger
	pingInterval time.Duration
}

func NewFeed(hub *Hub, reports Reports, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{hub: hub, reports: reports, logger: logger, pingInterval: defaultPingInterval}
}

func (f *Feed) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/reviews/{id}/events", f.follow)
	return r
}

func (f *Feed) follow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	log := f.logger.With(zap.String("review_id", id), zap.String("request_id", middleware.GetReqID(r.Context())))

	events, cancel := f.hub.Subscribe(id)
	defer cancel()

	rep, err := f.reports.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, review.ErrReviewNotFound) {
			http.Error(w, "review not found", http.StatusNotFound)
			return
		}
		log.Error("load review for feed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		log.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed aborted")

	ctx := conn.CloseRead(r.Context())
	for _, ev := range snapshot(rep) {
		if err := f.write(ctx, conn, ev); err != nil {
			return
		}
		if terminal(ev) {
			conn.Close(websocket.StatusNormalClosure, "review finished")
			return
		}
	}

	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				log.Debug("follower ping failed", zap.Error(err))
				return
			}
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "review finished")
				return
			}
			if err := f.write(ctx, conn, ev); err != nil {
				log.Debug("follower write failed", zap.Error(err))
				return
			}
		}
	}
}

func (f *Feed) write(ctx context.Context, conn *websocket.Conn, ev reviewdto.ProgressEvent) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}

// snapshot replays the stored report as events.
func snapshot(rep reviewdto.Report) []reviewdto.ProgressEvent {
	var out []reviewdto.ProgressEvent
	for i := range rep.Plies {
		p := rep.Plies[i]
		if p.PlayedMove.Move.Classification == "" {
			continue
		}
		out = append(out, reviewdto.ProgressEvent{
			ReviewID: rep.ID,
			Kind:     reviewdto.ProgressPly,
			Progress: rep.Progress,
			Ply:      &p,
		})
	}
	switch rep.Status {
	case reviewdto.StatusDone:
		out = append(out, reviewdto.ProgressEvent{ReviewID: rep.ID, Kind: reviewdto.ProgressFinished, Progress: rep.Progress})
	case reviewdto.StatusFailed, reviewdto.StatusCanceled:
		out = append(out, reviewdto.ProgressEvent{ReviewID: rep.ID, Kind: reviewdto.ProgressFailed, Progress: rep.Progress, Error: rep.Error})
	}
	return out
}

func terminal(ev reviewdto.ProgressEvent) bool {
	return ev.Kind == reviewdto.ProgressFinished || ev.Kind == reviewdto.ProgressFailed
}
