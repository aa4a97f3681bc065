package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-review/internal/chess/rules"
	"github.com/park285/cheese-review/internal/review/classify"
	"github.com/park285/cheese-review/internal/review/score"
)

var errCrashed = errors.New("engine crashed")

// scriptEngine answers isready and go commands from the last position it was given.
type scriptEngine struct {
	mu      sync.Mutex
	lines   chan string
	fen     string
	sent    []string
	goCount int
	closed  bool
	err     error

	// crashOnGo closes the output when the nth go command arrives (1-based).
	crashOnGo int
	// silent disables all automatic output.
	silent  bool
	respond func(fen, cmd string) []string
}

func newScriptEngine() *scriptEngine {
	return &scriptEngine{lines: make(chan string, 4096), respond: defaultResponder}
}

func (e *scriptEngine) Send(cmd string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errCrashed
	}
	e.sent = append(e.sent, cmd)
	if e.silent {
		return nil
	}
	switch {
	case cmd == "isready":
		e.lines <- "readyok"
	case strings.HasPrefix(cmd, "position fen "):
		e.fen = strings.TrimPrefix(cmd, "position fen ")
	case strings.HasPrefix(cmd, "go "):
		e.goCount++
		if e.crashOnGo > 0 && e.goCount == e.crashOnGo {
			e.err = errCrashed
			e.closed = true
			close(e.lines)
			return nil
		}
		for _, line := range e.respond(e.fen, cmd) {
			e.lines <- line
		}
	}
	return nil
}

func (e *scriptEngine) Lines() <-chan string { return e.lines }

func (e *scriptEngine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *scriptEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.lines)
	}
	return nil
}

func (e *scriptEngine) commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.sent...)
}

func defaultResponder(fen, cmd string) []string {
	if i := strings.Index(cmd, "searchmoves "); i >= 0 {
		mv := strings.Fields(cmd[i+len("searchmoves "):])[0]
		return []string{
			"info depth 12 multipv 1 score cp 10 pv " + mv,
			"bestmove " + mv,
		}
	}
	pos, err := rules.FromFEN(fen)
	if err != nil {
		return []string{"bestmove (none)"}
	}
	legal := pos.LegalMoves()
	if len(legal) > 3 {
		legal = legal[:3]
	}
	out := []string{"info string scripted"}
	for i, mv := range legal {
		out = append(out, fmt.Sprintf("info depth 12 multipv %d score cp %d pv %s", i+1, 50-10*i, mv.UCI))
	}
	if len(legal) == 0 {
		return append(out, "bestmove (none)")
	}
	return append(out, "bestmove "+legal[0].UCI)
}

type factoryLog struct {
	mu      sync.Mutex
	engines []*scriptEngine
	make    func(n int) *scriptEngine
}

func (f *factoryLog) factory(ctx context.Context) (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var e *scriptEngine
	if f.make != nil {
		e = f.make(len(f.engines))
	} else {
		e = newScriptEngine()
	}
	f.engines = append(f.engines, e)
	return e, nil
}

func (f *factoryLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

func testGame(t *testing.T) *rules.Game {
	t.Helper()
	g, err := rules.FromMoves("", []string{"e2e4", "e7e5", "g1f3", "b8c6"})
	if err != nil {
		t.Fatalf("FromMoves: %v", err)
	}
	return g
}

func runToEnd(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func goCommands(cmds []string) []string {
	var out []string
	for _, c := range cmds {
		if strings.HasPrefix(c, "go ") {
			out = append(out, c)
		}
	}
	return out
}

func TestAutoplayClassifiesWholeGame(t *testing.T) {
	var (
		order    []int
		finished []Update
	)
	f := &factoryLog{}
	o, err := New(testGame(t), f.factory, Config{
		Autoplay: true,
		Observer: func(u Update) {
			if u.Finished {
				finished = append(finished, u)
				return
			}
			order = append(order, u.Ply.Index)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runToEnd(t, o)

	if fmt.Sprint(order) != "[0 1 2 3]" {
		t.Fatalf("classification order = %v", order)
	}
	if len(finished) != 1 || finished[0].Progress != 100 {
		t.Fatalf("finished updates = %+v", finished)
	}
	if o.Progress() != 100 {
		t.Fatalf("progress = %d", o.Progress())
	}
	for _, p := range o.Plies() {
		if !p.Finished() {
			t.Fatalf("ply %d not finished: %s", p.Index, p.State())
		}
		if len(p.Candidates.Moves) != 3 {
			t.Fatalf("ply %d candidates = %d", p.Index, len(p.Candidates.Moves))
		}
		if !p.Played.Move.Label.Valid() {
			t.Fatalf("ply %d label %q invalid", p.Index, p.Played.Move.Label)
		}
		for _, c := range p.Candidates.Moves {
			if !c.Label.Valid() {
				t.Fatalf("ply %d candidate %s label %q invalid", p.Index, c.Move, c.Label)
			}
		}
	}
	if n := len(goCommands(f.engines[0].commands())); n != 8 {
		t.Fatalf("go commands = %d, want 8", n)
	}
}

func TestOneOutstandingRequest(t *testing.T) {
	f := &factoryLog{}
	o, err := New(testGame(t), f.factory, Config{Autoplay: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runToEnd(t, o)

	// every go must be preceded by its own position command
	cmds := f.engines[0].commands()
	for i, c := range cmds {
		if strings.HasPrefix(c, "go ") && (i == 0 || !strings.HasPrefix(cmds[i-1], "position ")) {
			t.Fatalf("go at %d not preceded by position: %v", i, cmds)
		}
	}
	played := 0
	for _, c := range goCommands(cmds) {
		if strings.Contains(c, "searchmoves") {
			played++
		}
	}
	if played != 4 {
		t.Fatalf("played evaluations = %d, want 4", played)
	}
}

func TestRestartReissuesInflightRequest(t *testing.T) {
	f := &factoryLog{make: func(n int) *scriptEngine {
		e := newScriptEngine()
		if n == 0 {
			e.crashOnGo = 3
		}
		return e
	}}
	o, err := New(testGame(t), f.factory, Config{Autoplay: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runToEnd(t, o)

	if f.count() != 2 {
		t.Fatalf("engines started = %d, want 2", f.count())
	}
	second := f.engines[1].commands()
	ply0 := o.Plies()[0].FEN
	for _, c := range second {
		if c == "position fen "+ply0 {
			t.Fatalf("frozen ply 0 was re-requested after restart: %v", second)
		}
	}
	var firstGo string
	for i, c := range second {
		if strings.HasPrefix(c, "go ") {
			firstGo = second[i-1]
			break
		}
	}
	if firstGo != "position fen "+o.Plies()[1].FEN {
		t.Fatalf("first request after restart = %q, want ply 1 position", firstGo)
	}
	for _, p := range o.Plies() {
		if !p.Finished() {
			t.Fatalf("ply %d not finished after restart", p.Index)
		}
	}
}

func TestEngineStartFailureGivesUp(t *testing.T) {
	factory := func(ctx context.Context) (Engine, error) { return nil, errCrashed }
	o, err := New(testGame(t), factory, Config{MaxRestarts: 2, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Run(ctx); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("Run = %v, want ErrEngineUnavailable", err)
	}
}

func TestCrashThenFailedStartWithinRestartLimit(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	factory := func(ctx context.Context) (Engine, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls {
		case 1:
			e := newScriptEngine()
			e.crashOnGo = 3
			return e, nil
		case 2:
			return nil, errCrashed
		default:
			return newScriptEngine(), nil
		}
	}
	o, err := New(testGame(t), factory, Config{Autoplay: true, MaxRestarts: 1, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runToEnd(t, o)

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("factory calls = %d, want 3", calls)
	}
	for _, p := range o.Plies() {
		if !p.Finished() {
			t.Fatalf("ply %d not finished", p.Index)
		}
	}
}

func TestDisableIgnoresTrailingMessages(t *testing.T) {
	ctx := context.Background()
	f := &factoryLog{make: func(int) *scriptEngine {
		e := newScriptEngine()
		e.silent = true
		return e
	}}
	o, err := New(testGame(t), f.factory, Config{Autoplay: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer close(o.done)
	defer o.release()

	if err := o.connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := o.drive(ctx); err != nil {
		t.Fatalf("drive: %v", err)
	}
	gen := o.generation
	if err := o.Handle(ctx, Event{Kind: EventLine, Generation: gen, Line: "readyok"}); err != nil {
		t.Fatalf("readyok: %v", err)
	}
	ply := o.Plies()[0]
	if ply.State() != BestMovesPending {
		t.Fatalf("ply 0 state = %s, want pending", ply.State())
	}
	if err := o.Handle(ctx, Event{Kind: EventLine, Generation: gen, Line: "info depth 3 multipv 1 score cp 20 pv e2e4"}); err != nil {
		t.Fatalf("info: %v", err)
	}

	if err := o.Handle(ctx, Event{Kind: EventDisable}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if ply.State() != NeedsBestMoves {
		t.Fatalf("in-flight bookkeeping kept after disable: %s", ply.State())
	}
	if err := o.Handle(ctx, Event{Kind: EventLine, Generation: gen, Line: "bestmove e2e4"}); err != nil {
		t.Fatalf("trailing bestmove: %v", err)
	}
	if ply.Candidates.Status != StatusNone {
		t.Fatalf("trailing message applied after disable: %+v", ply.Candidates)
	}

	if err := o.Handle(ctx, Event{Kind: EventEnable}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if f.count() != 2 {
		t.Fatalf("engines = %d, want a fresh handle on enable", f.count())
	}
	if err := o.Handle(ctx, Event{Kind: EventLine, Generation: gen, Line: "readyok"}); err != nil {
		t.Fatalf("stale readyok: %v", err)
	}
	if o.ready {
		t.Fatal("readyok from a previous generation was applied")
	}
	if err := o.Handle(ctx, Event{Kind: EventLine, Generation: o.generation, Line: "readyok"}); err != nil {
		t.Fatalf("readyok: %v", err)
	}
	if ply.State() != BestMovesPending {
		t.Fatalf("ply 0 state after enable = %s, want pending", ply.State())
	}
	if n := len(goCommands(f.engines[1].commands())); n != 1 {
		t.Fatalf("go commands on new handle = %d, want 1", n)
	}
}

func TestMalformedLinesIgnored(t *testing.T) {
	ctx := context.Background()
	f := &factoryLog{make: func(int) *scriptEngine {
		e := newScriptEngine()
		e.silent = true
		return e
	}}
	o, err := New(testGame(t), f.factory, Config{Autoplay: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer close(o.done)
	defer o.release()

	if err := o.connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	gen := o.generation
	for _, line := range []string{"readyok", "garbage", "info depth x score", "info depth 2 score cp 5"} {
		if err := o.Handle(ctx, Event{Kind: EventLine, Generation: gen, Line: line}); err != nil {
			t.Fatalf("Handle(%q): %v", line, err)
		}
	}
	ply := o.Plies()[0]
	if ply.State() != BestMovesPending || len(o.buffer) != 0 {
		t.Fatalf("malformed lines mutated state: %s buffer=%v", ply.State(), o.buffer)
	}
}

func TestNoCandidatesAdvancesWithoutPlayedEval(t *testing.T) {
	g := testGame(t)
	skip := g.Plies[1].Before.FEN()
	f := &factoryLog{make: func(int) *scriptEngine {
		e := newScriptEngine()
		e.respond = func(fen, cmd string) []string {
			if fen == skip {
				return []string{"bestmove (none)"}
			}
			return defaultResponder(fen, cmd)
		}
		return e
	}}
	o, err := New(g, f.factory, Config{Autoplay: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runToEnd(t, o)

	ply := o.Plies()[1]
	if !ply.Finished() || ply.Played.Move.Label != classify.None {
		t.Fatalf("ply 1 = finished %v label %q", ply.Finished(), ply.Played.Move.Label)
	}
	if ply.Played.Status != StatusNone {
		t.Fatalf("played evaluation requested for ply without candidates")
	}
	if !o.Plies()[2].Finished() {
		t.Fatal("driver stalled after empty ply")
	}
}

func TestSeekDrivesSequentially(t *testing.T) {
	var order []int
	f := &factoryLog{}
	o, err := New(testGame(t), f.factory, Config{
		Observer: func(u Update) {
			if u.Ply != nil {
				order = append(order, u.Ply.Index)
			}
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.Seek(4)
	runToEnd(t, o)

	if fmt.Sprint(order) != "[0 1 2 3]" {
		t.Fatalf("classification order = %v", order)
	}
	if o.Cursor() != 4 {
		t.Fatalf("cursor = %d", o.Cursor())
	}
}

type mapCache struct {
	mu sync.Mutex
	m  map[string][]score.Candidate
}

func (c *mapCache) Get(_ context.Context, key string) ([]score.Candidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *mapCache) Put(_ context.Context, key string, cands []score.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = cands
}

func TestEvalCacheSkipsEngine(t *testing.T) {
	cache := &mapCache{m: make(map[string][]score.Candidate)}
	first := &factoryLog{}
	o, err := New(testGame(t), first.factory, Config{Autoplay: true, Cache: cache})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runToEnd(t, o)
	if len(cache.m) != 8 {
		t.Fatalf("cache entries = %d, want 8", len(cache.m))
	}

	second := &factoryLog{}
	again, err := New(testGame(t), second.factory, Config{Autoplay: true, Cache: cache})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runToEnd(t, again)
	if n := len(goCommands(second.engines[0].commands())); n != 0 {
		t.Fatalf("go commands with warm cache = %d, want 0", n)
	}
	for i, p := range again.Plies() {
		want := o.Plies()[i].Played.Move.Label
		if p.Played.Move.Label != want {
			t.Fatalf("ply %d label = %s, want %s", i, p.Played.Move.Label, want)
		}
	}
}

func TestRecords(t *testing.T) {
	f := &factoryLog{}
	o, err := New(testGame(t), f.factory, Config{Autoplay: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runToEnd(t, o)

	recs := o.Records()
	if len(recs) != 4 {
		t.Fatalf("records = %d", len(recs))
	}
	r := recs[1]
	if r.Color != "black" || r.PlayedMove.Move.Move != "e7e5" || r.PlayedMove.Move.SAN != "e5" {
		t.Fatalf("record = %+v", r.PlayedMove)
	}
	if r.PlayedMove.Status != "done" || r.PlayedMove.Move.Classification == "" {
		t.Fatalf("played record = %+v", r.PlayedMove)
	}
	if len(r.CandidateMoves) != 3 || r.CandidateMoves[0].Move == nil || r.CandidateMoves[0].ScoreType != "cp" {
		t.Fatalf("candidates = %+v", r.CandidateMoves)
	}
}
