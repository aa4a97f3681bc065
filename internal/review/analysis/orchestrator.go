// Package analysis drives a search engine across a game and classifies every ply in order.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-review/internal/chess/rules"
	"github.com/park285/cheese-review/internal/chess/uci"
	"github.com/park285/cheese-review/internal/review/classify"
	"github.com/park285/cheese-review/internal/review/exchange"
	"github.com/park285/cheese-review/internal/review/score"
)

const (
	DefaultDepth      = 12
	DefaultMultiPV    = 5
	defaultRetryDelay = 500 * time.Millisecond
	eventQueue        = 64
)

var (
	ErrEngineUnavailable = errors.New("analysis: engine unavailable")
	ErrNoGame            = errors.New("analysis: game required")
)

// Engine is one live search-engine handle. Lines closes when the engine dies.
type Engine interface {
	Send(cmd string) error
	Lines() <-chan string
	Err() error
	Close() error
}

// EngineFactory returns a handle that has completed the uci handshake.
type EngineFactory func(ctx context.Context) (Engine, error)

// EvalCache stores frozen search results by request key.
type EvalCache interface {
	Get(ctx context.Context, key string) ([]score.Candidate, bool)
	Put(ctx context.Context, key string, cands []score.Candidate)
}

type Update struct {
	Ply      *PlyAnalysis
	Progress int
	Finished bool
}

// Observer is called from the reactor goroutine.
type Observer func(Update)

type Config struct {
	Depth    int
	MultiPV  int
	Exchange exchange.Options
	Book     classify.OpeningBook
	Cache    EvalCache
	Observer Observer
	Logger   *zap.Logger
	// Autoplay advances the cursor after every classified ply.
	Autoplay bool
	// MaxRestarts bounds consecutive engine starts that fail before readyok; zero retries forever.
	MaxRestarts int
	RetryDelay  time.Duration
}

type requestKind int

const (
	requestBestMoves requestKind = iota
	requestPlayed
)

type request struct {
	kind requestKind
	ply  int
	sent bool
}

type Orchestrator struct {
	cfg     Config
	factory EngineFactory
	logger  *zap.Logger

	plies    []*PlyAnalysis
	cursor   int
	autoplay bool
	enabled  bool
	finished bool

	engine     Engine
	generation uint64
	ready      bool
	stopPump   chan struct{}
	inflight   *request
	buffer     map[int]CandidateMove
	failures   int

	events chan Event
	done   chan struct{}
}

func New(game *rules.Game, factory EngineFactory, cfg Config) (*Orchestrator, error) {
	if game == nil {
		return nil, ErrNoGame
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: no engine factory", ErrEngineUnavailable)
	}
	if cfg.Depth <= 0 {
		cfg.Depth = DefaultDepth
	}
	if cfg.MultiPV <= 0 {
		cfg.MultiPV = DefaultMultiPV
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	plies := make([]*PlyAnalysis, len(game.Plies))
	for i, p := range game.Plies {
		plies[i] = &PlyAnalysis{
			Index:    i,
			Position: p.Before,
			FEN:      p.Before.FEN(),
			Played:   PlayedMove{Move: CandidateMove{Move: p.UCI}, SAN: p.SAN},
		}
	}
	return &Orchestrator{
		cfg:      cfg,
		factory:  factory,
		logger:   logger,
		plies:    plies,
		autoplay: cfg.Autoplay,
		enabled:  true,
		events:   make(chan Event, eventQueue),
		done:     make(chan struct{}),
	}, nil
}

// Run owns all ply state until every ply is classified or ctx ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.done)
	defer o.release()

	if err := o.connect(ctx); err != nil {
		return err
	}
	if err := o.drive(ctx); err != nil {
		return err
	}
	for !o.finished {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-o.events:
			if err := o.Handle(ctx, ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// Seek moves the navigation cursor; positions range over 0..len(plies).
func (o *Orchestrator) Seek(cursor int) { o.post(nil, Event{Kind: EventSeek, Cursor: cursor}) }

func (o *Orchestrator) SetAutoplay(on bool) { o.post(nil, Event{Kind: EventAutoplay, On: on}) }

func (o *Orchestrator) Enable() { o.post(nil, Event{Kind: EventEnable}) }

func (o *Orchestrator) Disable() { o.post(nil, Event{Kind: EventDisable}) }

// Handle applies one event. It must only be called from the reactor goroutine.
func (o *Orchestrator) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventLine:
		if !o.current(ev) {
			return nil
		}
		if err := o.onMessage(ctx, uci.Parse(ev.Line)); err != nil {
			return err
		}
	case EventEngineFailed:
		if !o.current(ev) {
			return nil
		}
		if err := o.restart(ctx, ev.Err); err != nil {
			return err
		}
	case EventSeek:
		o.cursor = clampCursor(ev.Cursor, len(o.plies))
	case EventAutoplay:
		o.autoplay = ev.On
	case EventEnable:
		if o.enabled {
			return nil
		}
		o.enabled = true
		if err := o.connect(ctx); err != nil {
			return err
		}
	case EventDisable:
		o.disable()
		return nil
	case EventRetry:
		if !o.enabled || o.engine != nil || ev.Generation != o.generation {
			return nil
		}
		if err := o.connect(ctx); err != nil {
			return err
		}
	}
	return o.drive(ctx)
}

func (o *Orchestrator) current(ev Event) bool {
	return o.enabled && o.engine != nil && ev.Generation == o.generation
}

func (o *Orchestrator) Cursor() int { return o.cursor }

func (o *Orchestrator) Plies() []*PlyAnalysis { return o.plies }

// Progress is the cursor position as a percentage of the game.
func (o *Orchestrator) Progress() int {
	if len(o.plies) == 0 {
		return 100
	}
	return int(math.Round(float64(o.cursor) / float64(len(o.plies)) * 100))
}

func (o *Orchestrator) connect(ctx context.Context) error {
	if !o.enabled {
		return nil
	}
	o.generation++
	eng, err := o.factory(ctx)
	if err != nil {
		o.failures++
		o.logger.Warn("engine start failed", zap.Error(err), zap.Int("failures", o.failures))
		if o.cfg.MaxRestarts > 0 && o.failures > o.cfg.MaxRestarts {
			return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		gen := o.generation
		time.AfterFunc(o.cfg.RetryDelay, func() {
			o.post(nil, Event{Kind: EventRetry, Generation: gen})
		})
		return nil
	}

	o.engine = eng
	o.ready = false
	o.stopPump = make(chan struct{})
	go o.pump(o.generation, eng, o.stopPump)
	if err := eng.Send("isready"); err != nil {
		return o.restart(ctx, err)
	}
	return nil
}

func (o *Orchestrator) pump(gen uint64, eng Engine, stop <-chan struct{}) {
	lines := eng.Lines()
	for {
		select {
		case <-stop:
			return
		case line, ok := <-lines:
			if !ok {
				err := eng.Err()
				if err == nil {
					err = ErrEngineUnavailable
				}
				o.post(stop, Event{Kind: EventEngineFailed, Generation: gen, Err: err})
				return
			}
			if !o.post(stop, Event{Kind: EventLine, Generation: gen, Line: line}) {
				return
			}
		}
	}
}

func (o *Orchestrator) post(stop <-chan struct{}, ev Event) bool {
	select {
	case o.events <- ev:
		return true
	case <-stop:
		return false
	case <-o.done:
		return false
	}
}

// restart swaps in a fresh engine; the in-flight request is reissued once it reports ready.
func (o *Orchestrator) restart(ctx context.Context, cause error) error {
	o.logger.Warn("engine failed, restarting", zap.Error(cause), zap.Uint64("generation", o.generation))
	wasReady := o.ready
	o.release()
	// A session that never answered readyok is a failed start.
	if !wasReady {
		o.failures++
		if o.cfg.MaxRestarts > 0 && o.failures > o.cfg.MaxRestarts {
			return fmt.Errorf("%w: %v", ErrEngineUnavailable, cause)
		}
	}
	if o.inflight != nil {
		o.inflight.sent = false
		o.buffer = nil
	}
	return o.connect(ctx)
}

func (o *Orchestrator) release() {
	if o.stopPump != nil {
		close(o.stopPump)
		o.stopPump = nil
	}
	if o.engine != nil {
		if err := o.engine.Close(); err != nil {
			o.logger.Debug("engine close", zap.Error(err))
		}
		o.engine = nil
	}
	o.ready = false
}

func (o *Orchestrator) disable() {
	if !o.enabled {
		return
	}
	o.enabled = false
	o.release()
	o.generation++
	if req := o.inflight; req != nil {
		ply := o.plies[req.ply]
		switch req.kind {
		case requestBestMoves:
			ply.Candidates = CandidateSet{}
		case requestPlayed:
			ply.Played.Status = StatusNone
		}
		o.inflight = nil
		o.buffer = nil
	}
}

func (o *Orchestrator) onMessage(ctx context.Context, msg uci.Message) error {
	switch msg.Kind {
	case uci.KindReadyOK:
		if o.ready {
			return nil
		}
		o.ready = true
		o.failures = 0
		if o.inflight != nil && !o.inflight.sent {
			return o.send(ctx, o.inflight)
		}
	case uci.KindInfo:
		if o.inflight == nil || !o.inflight.sent {
			return nil
		}
		if o.inflight.kind == requestPlayed && msg.MultiPV != 1 {
			return nil
		}
		if msg.MultiPV > o.cfg.MultiPV {
			return nil
		}
		o.buffer[msg.MultiPV] = CandidateMove{Move: msg.Move(), Evaluation: evaluation(msg)}
	case uci.KindBestMove:
		if o.inflight == nil || !o.inflight.sent {
			return nil
		}
		o.freeze(ctx, o.inflight, o.collect())
	}
	return nil
}

// drive issues the next request or classification for the ply behind the cursor.
func (o *Orchestrator) drive(ctx context.Context) error {
	if !o.enabled || o.finished {
		return nil
	}
	for {
		target := o.target()
		if target == nil {
			if o.autoplay && o.cursor < len(o.plies) {
				o.cursor++
				continue
			}
			break
		}
		switch target.State() {
		case NeedsBestMoves:
			issued, err := o.request(ctx, requestBestMoves, target)
			if err != nil || issued {
				return err
			}
			continue
		case NeedsPlayedEval:
			issued, err := o.request(ctx, requestPlayed, target)
			if err != nil || issued {
				return err
			}
			continue
		case BestMovesPending, PlayedEvalPending:
			return nil
		case Done:
			o.classify(target)
			if o.autoplay && target.Index == o.cursor-1 && o.cursor < len(o.plies) {
				o.cursor++
			}
			o.notify(Update{Ply: target, Progress: o.Progress()})
		}
	}

	if o.complete() {
		o.finished = true
		o.autoplay = false
		o.notify(Update{Progress: 100, Finished: true})
		return nil
	}
	if o.cursor < len(o.plies) && o.plies[o.cursor].State() == NeedsBestMoves {
		_, err := o.request(ctx, requestBestMoves, o.plies[o.cursor])
		return err
	}
	return nil
}

// target is the earliest unfinished ply behind the cursor, so ply i never classifies before i-1.
func (o *Orchestrator) target() *PlyAnalysis {
	for i := 0; i < o.cursor && i < len(o.plies); i++ {
		if !o.plies[i].Finished() {
			return o.plies[i]
		}
	}
	return nil
}

func (o *Orchestrator) complete() bool {
	for _, p := range o.plies {
		if !p.Finished() {
			return false
		}
	}
	return true
}

// request reports whether an engine request is now outstanding. A cache hit freezes
// the record immediately and reports false.
func (o *Orchestrator) request(ctx context.Context, kind requestKind, ply *PlyAnalysis) (bool, error) {
	if o.inflight != nil {
		return true, nil
	}
	req := &request{kind: kind, ply: ply.Index}
	if o.cfg.Cache != nil {
		if cands, ok := o.cfg.Cache.Get(ctx, o.cacheKey(req)); ok {
			o.inflight = req
			o.freeze(ctx, req, fromScore(cands))
			return false, nil
		}
	}

	switch kind {
	case requestBestMoves:
		ply.Candidates.Status = StatusPending
	case requestPlayed:
		ply.Played.Status = StatusPending
	}
	o.inflight = req
	if o.engine == nil || !o.ready {
		return true, nil
	}
	return true, o.send(ctx, req)
}

func (o *Orchestrator) send(ctx context.Context, req *request) error {
	ply := o.plies[req.ply]
	limits := uci.Limits{Depth: o.cfg.Depth}
	if req.kind == requestPlayed {
		limits.SearchMoves = []string{ply.Played.Move.Move}
	}
	goCmd, err := uci.GoCommand(limits)
	if err != nil {
		return err
	}
	o.buffer = make(map[int]CandidateMove)
	for _, cmd := range []string{uci.PositionCommand(ply.FEN, nil), goCmd} {
		if err := o.engine.Send(cmd); err != nil {
			return o.restart(ctx, err)
		}
	}
	req.sent = true
	o.logger.Debug("engine request",
		zap.Int("ply", ply.Index),
		zap.String("go", goCmd),
		zap.Uint64("generation", o.generation))
	return nil
}

func (o *Orchestrator) freeze(ctx context.Context, req *request, cands []CandidateMove) {
	ply := o.plies[req.ply]
	switch req.kind {
	case requestBestMoves:
		ply.Candidates = CandidateSet{Status: StatusDone, Moves: cands}
	case requestPlayed:
		ev := score.Centipawns(0)
		if len(cands) > 0 && cands[0].Move != "" {
			ev = cands[0].Evaluation
		} else {
			o.logger.Warn("played move evaluation missing", zap.Int("ply", ply.Index), zap.String("move", ply.Played.Move.Move))
		}
		ply.Played.Move.Evaluation = ev
		ply.Played.Status = StatusDone
	}
	if o.cfg.Cache != nil && req.sent {
		o.cfg.Cache.Put(ctx, o.cacheKey(req), toScore(cands))
	}
	o.inflight = nil
	o.buffer = nil
}

func (o *Orchestrator) collect() []CandidateMove {
	ranks := make([]int, 0, len(o.buffer))
	for k := range o.buffer {
		ranks = append(ranks, k)
	}
	sort.Ints(ranks)
	if len(ranks) == 0 {
		return nil
	}
	out := make([]CandidateMove, ranks[len(ranks)-1])
	for _, k := range ranks {
		out[k-1] = o.buffer[k]
	}
	return out
}

func (o *Orchestrator) classify(ply *PlyAnalysis) {
	ply.Classified = true
	if !ply.hasCandidates() {
		return
	}
	in := classify.Input{
		Position:   ply.Position,
		Candidates: ply.candidates(),
		Played:     score.Candidate{Move: ply.Played.Move.Move, Evaluation: ply.Played.Move.Evaluation},
		Book:       o.cfg.Book,
		Exchange:   o.cfg.Exchange,
	}
	if ply.Index > 0 {
		in.PreviousLabel = o.plies[ply.Index-1].Played.Move.Label
	}
	res, err := classify.Classify(in)
	if err != nil {
		o.logger.Warn("classification skipped", zap.Int("ply", ply.Index), zap.Error(err))
		return
	}
	labels := make(map[string]classify.Label, len(res.Candidates))
	for _, r := range res.Candidates {
		labels[r.Move] = r.Label
	}
	for i := range ply.Candidates.Moves {
		ply.Candidates.Moves[i].Label = labels[ply.Candidates.Moves[i].Move]
	}
	ply.Played.Move.Label = res.Played
	ply.Accuracy = res.Accuracy
}

func (o *Orchestrator) notify(u Update) {
	if o.cfg.Observer != nil {
		o.cfg.Observer(u)
	}
}

func (o *Orchestrator) cacheKey(req *request) string {
	ply := o.plies[req.ply]
	key := fmt.Sprintf("%s|d%d|pv%d", ply.FEN, o.cfg.Depth, o.cfg.MultiPV)
	if req.kind == requestPlayed {
		key += "|sm " + ply.Played.Move.Move
	}
	return key
}

func evaluation(msg uci.Message) score.Evaluation {
	if msg.Score == uci.ScoreMate {
		return score.MateIn(msg.Value)
	}
	return score.Centipawns(msg.Value)
}

func fromScore(in []score.Candidate) []CandidateMove {
	out := make([]CandidateMove, len(in))
	for i, c := range in {
		out[i] = CandidateMove{Move: c.Move, Evaluation: c.Evaluation}
	}
	return out
}

func toScore(in []CandidateMove) []score.Candidate {
	out := make([]score.Candidate, len(in))
	for i, c := range in {
		out[i] = score.Candidate{Move: c.Move, Evaluation: c.Evaluation}
	}
	return out
}

func clampCursor(c, n int) int {
	if c < 0 {
		return 0
	}
	if c > n {
		return n
	}
	return c
}
