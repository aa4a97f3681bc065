package classify

import (
	"errors"
	"testing"

	"github.com/park285/cheese-review/internal/chess/rules"
	"github.com/park285/cheese-review/internal/review/score"
)

type mapBook map[string]string

func (b mapBook) Lookup(fen string) (string, bool) {
	name, ok := b[fen]
	return name, ok
}

func mustFEN(t *testing.T, fen string) *rules.Position {
	t.Helper()
	pos, err := rules.FromFEN(fen)
	if err != nil {
		t.Fatalf("FromFEN(%q): %v", fen, err)
	}
	return pos
}

func cand(move string, cp int) score.Candidate {
	return score.Candidate{Move: move, Evaluation: score.Centipawns(cp)}
}

func labelOf(t *testing.T, res Result, move string) Label {
	t.Helper()
	for _, r := range res.Candidates {
		if r.Move == move {
			return r.Label
		}
	}
	t.Fatalf("candidate %s missing from %+v", move, res.Candidates)
	return None
}

func TestBookMoveFromStart(t *testing.T) {
	start := rules.Start()
	after, err := start.Apply("e2e4")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	book := mapBook{after.FEN(): "King's Pawn Game"}

	res, err := Classify(Input{
		Position:   start,
		Candidates: []score.Candidate{cand("e2e4", 30), cand("d2d4", 28)},
		Played:     cand("e2e4", 30),
		Book:       book,
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Played != Book {
		t.Fatalf("played label = %s, want book", res.Played)
	}
	if got := labelOf(t, res, "d2d4"); got != Excellent {
		t.Fatalf("d2d4 label = %s, want excellent", got)
	}
}

func TestBookOverridesForced(t *testing.T) {
	start := rules.Start()
	after, _ := start.Apply("e2e4")
	res, err := Classify(Input{
		Position:   start,
		Candidates: []score.Candidate{cand("e2e4", 30)},
		Played:     cand("e2e4", 30),
		Book:       mapBook{after.FEN(): "King's Pawn Game"},
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Played != Book {
		t.Fatalf("played label = %s, want book", res.Played)
	}
}

func TestSingleCandidateIsForced(t *testing.T) {
	pos := mustFEN(t, "7k/8/8/8/8/8/7P/r6K w - - 0 1")
	res, err := Classify(Input{
		Position:   pos,
		Candidates: []score.Candidate{{Move: "h1g2", Evaluation: score.Centipawns(0)}, {Move: ""}},
		Played:     cand("h1g2", 0),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(res.Candidates) != 1 {
		t.Fatalf("empty candidates were not filtered: %+v", res.Candidates)
	}
	if res.Played != Forced {
		t.Fatalf("played label = %s, want forced", res.Played)
	}
}

func TestNoCandidates(t *testing.T) {
	_, err := Classify(Input{Position: rules.Start(), Candidates: []score.Candidate{{Move: ""}}})
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("err = %v, want ErrNoCandidates", err)
	}
	if _, err := Classify(Input{Candidates: []score.Candidate{cand("e2e4", 0)}}); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("err = %v, want ErrNoPosition", err)
	}
}

func TestHangingQueenIsBlunder(t *testing.T) {
	pos := mustFEN(t, "4k3/8/8/4p3/8/8/8/3QK3 w - - 0 1")
	res, err := Classify(Input{
		Position:   pos,
		Candidates: []score.Candidate{cand("d1a4", 900), cand("d1d3", 890)},
		Played:     cand("d1d4", -100),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Accuracy >= 20 {
		t.Fatalf("accuracy = %.2f, want < 20", res.Accuracy)
	}
	if res.Played != Blunder {
		t.Fatalf("played label = %s, want blunder", res.Played)
	}
	if got := labelOf(t, res, "d1a4"); got != Best {
		t.Fatalf("d1a4 label = %s, want best", got)
	}
	if got := labelOf(t, res, "d1d3"); got != Excellent {
		t.Fatalf("d1d3 label = %s, want excellent", got)
	}
}

func TestMissAfterBlunder(t *testing.T) {
	in := Input{
		Position:   rules.Start(),
		Candidates: []score.Candidate{cand("e2e4", 50), cand("d2d4", 45)},
		Played:     cand("a2a3", 20),
	}
	res, err := Classify(in)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Played != Inaccuracy {
		t.Fatalf("played label = %s, want inaccuracy", res.Played)
	}

	in.PreviousLabel = Blunder
	res, err = Classify(in)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Played != Miss {
		t.Fatalf("played label = %s, want miss", res.Played)
	}
}

func TestGreatFind(t *testing.T) {
	res, err := Classify(Input{
		Position:   rules.Start(),
		Candidates: []score.Candidate{cand("e2e4", 50), cand("a2a3", 20)},
		Played:     cand("e2e4", 50),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got := labelOf(t, res, "a2a3"); got != Inaccuracy {
		t.Fatalf("runner-up label = %s, want inaccuracy", got)
	}
	if res.Played != GreatFind {
		t.Fatalf("played label = %s, want greatFind", res.Played)
	}
}

func TestMissedMateIsBlunder(t *testing.T) {
	res, err := Classify(Input{
		Position: rules.Start(),
		Candidates: []score.Candidate{
			{Move: "e2e4", Evaluation: score.MateIn(3)},
			cand("d2d4", 200),
		},
		Played: cand("d2d4", 200),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Accuracy != 0 {
		t.Fatalf("accuracy = %.2f, want 0", res.Accuracy)
	}
	if res.Played != Blunder {
		t.Fatalf("played label = %s, want blunder", res.Played)
	}
}

func TestQueenSacrificeIsBrilliant(t *testing.T) {
	pos := mustFEN(t, "4k3/8/8/4p3/8/8/8/3QK3 w - - 0 1")
	res, err := Classify(Input{
		Position:   pos,
		Candidates: []score.Candidate{cand("d1d4", 500), cand("d1a4", 450)},
		Played:     cand("d1d4", 500),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Played != Brilliant {
		t.Fatalf("played label = %s, want brilliant", res.Played)
	}
	if res.Accuracy != 100 {
		t.Fatalf("accuracy = %.2f, want 100", res.Accuracy)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	in := Input{
		Position:   rules.Start(),
		Candidates: []score.Candidate{cand("e2e4", 50), cand("d2d4", 45), cand("a2a3", 20)},
		Played:     cand("g1f3", 40),
	}
	first, err := Classify(in)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := Classify(in)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if again.Played != first.Played || len(again.Candidates) != len(first.Candidates) {
			t.Fatalf("run %d diverged: %+v vs %+v", i, again, first)
		}
		for j := range again.Candidates {
			if again.Candidates[j] != first.Candidates[j] {
				t.Fatalf("candidate %d diverged: %+v vs %+v", j, again.Candidates[j], first.Candidates[j])
			}
		}
	}
}
