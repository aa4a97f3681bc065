// Package httpapi serves review submission and reports over fasthttp.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-review/internal/service/review"
	"github.com/park285/cheese-review/pkg/reviewdto"
)

const (
	maxBodySize   = 1 << 20
	defaultRecent = 20
)

type ReviewService interface {
	Submit(ctx context.Context, req reviewdto.SubmitRequest) (reviewdto.SubmitResponse, error)
	Get(ctx context.Context, id string) (reviewdto.Report, error)
	Plies(ctx context.Context, id string) ([]reviewdto.PlyRecord, error)
	Recent(ctx context.Context, limit int) ([]reviewdto.Report, error)
	Cancel(ctx context.Context, id string) error
}

type Server struct {
	svc     ReviewService
	logger  *zap.Logger
	srv     *fasthttp.Server
	router  *router.Router
	timeout time.Duration
}

func NewServer(svc ReviewService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, logger: logger, timeout: 10 * time.Second}
	s.router = s.routes()
	s.srv = &fasthttp.Server{
		Handler:            s.Handle,
		Name:               "cheese-review",
		MaxRequestBodySize: maxBodySize,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error { return s.srv.ListenAndServe(addr) }

func (s *Server) Serve(ln net.Listener) error { return s.srv.Serve(ln) }

func (s *Server) Shutdown(ctx context.Context) error { return s.srv.ShutdownWithContext(ctx) }

func (s *Server) routes() *router.Router {
	r := router.New()
	r.GET("/healthz", func(rc *fasthttp.RequestCtx) {
		writeJSON(rc, fasthttp.StatusOK, map[string]string{"status": "ok"})
	})
	r.POST("/reviews", s.bind(s.submit))
	r.GET("/reviews", s.bind(s.recent))
	r.GET("/reviews/{id}", s.bind(s.get))
	r.DELETE("/reviews/{id}", s.bind(s.cancel))
	r.GET("/reviews/{id}/plies", s.bind(s.plies))
	r.NotFound = func(rc *fasthttp.RequestCtx) {
		writeJSON(rc, fasthttp.StatusNotFound, reviewdto.DomainError{Code: "not_found", Message: "route not found"})
	}
	r.MethodNotAllowed = func(rc *fasthttp.RequestCtx) {
		writeJSON(rc, fasthttp.StatusMethodNotAllowed, reviewdto.DomainError{Code: "method_not_allowed", Message: "method not allowed"})
	}
	return r
}

// bind gives a handler a request-scoped context.
func (s *Server) bind(fn func(ctx context.Context, rc *fasthttp.RequestCtx)) fasthttp.RequestHandler {
	return func(rc *fasthttp.RequestCtx) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		fn(ctx, rc)
	}
}

// Handle serves one request through the router and logs it.
func (s *Server) Handle(rc *fasthttp.RequestCtx) {
	started := time.Now()
	s.router.Handler(rc)
	s.logger.Debug("http request",
		zap.ByteString("method", rc.Method()),
		zap.ByteString("path", rc.Path()),
		zap.Int("status", rc.Response.StatusCode()),
		zap.Duration("elapsed", time.Since(started)),
	)
}

func reviewID(rc *fasthttp.RequestCtx) string {
	id, _ := rc.UserValue("id").(string)
	return id
}

func (s *Server) submit(ctx context.Context, rc *fasthttp.RequestCtx) {
	var req reviewdto.SubmitRequest
	if err := json.Unmarshal(rc.PostBody(), &req); err != nil {
		writeJSON(rc, fasthttp.StatusBadRequest, reviewdto.DomainError{Code: "invalid_json", Message: err.Error()})
		return
	}
	resp, err := s.svc.Submit(ctx, req)
	if err != nil {
		s.writeError(rc, err)
		return
	}
	rc.Response.Header.Set("Location", "/reviews/"+resp.ID)
	writeJSON(rc, fasthttp.StatusAccepted, resp)
}

func (s *Server) recent(ctx context.Context, rc *fasthttp.RequestCtx) {
	limit := defaultRecent
	if raw := rc.QueryArgs().Peek("limit"); len(raw) > 0 {
		n, err := strconv.Atoi(string(raw))
		if err != nil || n <= 0 {
			writeJSON(rc, fasthttp.StatusBadRequest, reviewdto.DomainError{Code: "invalid_input", Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	reports, err := s.svc.Recent(ctx, limit)
	if err != nil {
		s.writeError(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, reports)
}

func (s *Server) get(ctx context.Context, rc *fasthttp.RequestCtx) {
	id := reviewID(rc)
	rep, err := s.svc.Get(ctx, id)
	if err != nil {
		s.writeError(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, rep)
}

func (s *Server) plies(ctx context.Context, rc *fasthttp.RequestCtx) {
	id := reviewID(rc)
	plies, err := s.svc.Plies(ctx, id)
	if err != nil {
		s.writeError(rc, err)
		return
	}
	writeJSON(rc, fasthttp.StatusOK, plies)
}

func (s *Server) cancel(ctx context.Context, rc *fasthttp.RequestCtx) {
	id := reviewID(rc)
	if err := s.svc.Cancel(ctx, id); err != nil {
		s.writeError(rc, err)
		return
	}
	rc.SetStatusCode(fasthttp.StatusNoContent)
}

func (s *Server) writeError(rc *fasthttp.RequestCtx, err error) {
	status, body := domainError(err)
	if status >= fasthttp.StatusInternalServerError {
		s.logger.Error("review api failure", zap.ByteString("path", rc.Path()), zap.Error(err))
	}
	writeJSON(rc, status, body)
}

func domainError(err error) (int, reviewdto.DomainError) {
	switch {
	case errors.Is(err, review.ErrInvalidInput):
		return fasthttp.StatusBadRequest, reviewdto.DomainError{Code: "invalid_input", Message: err.Error()}
	case errors.Is(err, review.ErrReviewNotFound):
		return fasthttp.StatusNotFound, reviewdto.DomainError{Code: "not_found", Message: err.Error()}
	case errors.Is(err, review.ErrReviewBusy):
		return fasthttp.StatusTooManyRequests, reviewdto.DomainError{Code: "busy", Message: err.Error(), Retryable: true}
	default:
		return fasthttp.StatusInternalServerError, reviewdto.DomainError{Code: "internal", Message: "internal error", Retryable: true}
	}
}

func writeJSON(rc *fasthttp.RequestCtx, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		rc.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	rc.SetStatusCode(status)
	rc.SetContentType("application/json")
	rc.SetBody(payload)
}
