package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-review/pkg/reviewdto"
)

var ErrFeedClosed = errors.New("progress feed closed before the review finished")

type FollowOptions struct {
	// MaxReconnects bounds redials after a dropped connection.
	MaxReconnects int
	DialTimeout   time.Duration
}

// Follow reads events from a feed URL until a terminal event arrives.
func Follow(ctx context.Context, url string, opts FollowOptions, fn func(reviewdto.ProgressEvent)) (reviewdto.ProgressEvent, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	var lastErr error
	for attempt := 0; attempt <= opts.MaxReconnects; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return reviewdto.ProgressEvent{}, ctx.Err()
			case <-time.After(backoffDuration(attempt)):
			}
		}
		ev, err := followOnce(ctx, url, opts.DialTimeout, fn)
		if err == nil {
			return ev, nil
		}
		if ctx.Err() != nil {
			return reviewdto.ProgressEvent{}, ctx.Err()
		}
		lastErr = err
	}
	return reviewdto.ProgressEvent{}, lastErr
}

func followOnce(ctx context.Context, url string, dialTimeout time.Duration, fn func(reviewdto.ProgressEvent)) (reviewdto.ProgressEvent, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	cancel()
	if err != nil {
		return reviewdto.ProgressEvent{}, fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for {
		var ev reviewdto.ProgressEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return reviewdto.ProgressEvent{}, ErrFeedClosed
			}
			return reviewdto.ProgressEvent{}, fmt.Errorf("read feed: %w", err)
		}
		if fn != nil {
			fn(ev)
		}
		if terminal(ev) {
			return ev, nil
		}
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}
