package score

import (
	"math"
	"testing"
)

func TestWinProbabilityBounds(t *testing.T) {
	evals := []Evaluation{
		Centipawns(-100000), Centipawns(-350), Centipawns(0), Centipawns(42), Centipawns(100000),
		MateIn(3), MateIn(-2), MateIn(0),
	}
	for _, e := range evals {
		p := WinProbability(e)
		if p < 0 || p > 100 || math.IsNaN(p) {
			t.Fatalf("win probability out of range for %+v: %v", e, p)
		}
	}
	if WinProbability(Centipawns(0)) != 50 {
		t.Fatalf("expected 50 at equality, got %v", WinProbability(Centipawns(0)))
	}
}

func TestWinProbabilityMonotonic(t *testing.T) {
	prev := WinProbability(Centipawns(-2000))
	for cp := -1990; cp <= 2000; cp += 10 {
		cur := WinProbability(Centipawns(cp))
		if cur <= prev {
			t.Fatalf("not strictly increasing at %d: %v <= %v", cp, cur, prev)
		}
		prev = cur
	}
}

func TestWinProbabilityMate(t *testing.T) {
	if WinProbability(MateIn(4)) != 100 {
		t.Fatalf("mating side should saturate to 100")
	}
	if WinProbability(MateIn(-4)) != 0 {
		t.Fatalf("mated side should saturate to 0")
	}
}

func TestAccuracySelf(t *testing.T) {
	evals := []Evaluation{Centipawns(-300), Centipawns(0), Centipawns(77), MateIn(2), MateIn(-5)}
	for _, e := range evals {
		c := Candidate{Move: "e2e4", Evaluation: e}
		if got := Accuracy(c, c); got != 100 {
			t.Fatalf("accuracy(e,e) = %v for %+v", got, e)
		}
		other := Candidate{Move: "d2d4", Evaluation: e}
		if got := Accuracy(c, other); got != 100 {
			t.Fatalf("equal evaluations with different moves = %v for %+v", got, e)
		}
	}
}

func TestAccuracyMateTable(t *testing.T) {
	cases := []struct {
		best, played Evaluation
		want         float64
	}{
		{MateIn(3), MateIn(5), 100},
		{MateIn(-3), MateIn(-1), 100},
		{MateIn(3), MateIn(-2), 0},
		{MateIn(-3), MateIn(2), 100},
		{MateIn(2), Centipawns(500), 0},
		{MateIn(-2), Centipawns(-500), 100},
		{Centipawns(50), MateIn(-4), 0},
		{Centipawns(50), MateIn(4), 100},
	}
	for _, tc := range cases {
		got := Accuracy(Candidate{Move: "a", Evaluation: tc.best}, Candidate{Move: "b", Evaluation: tc.played})
		if got != tc.want {
			t.Fatalf("accuracy(%+v, %+v) = %v, want %v", tc.best, tc.played, got, tc.want)
		}
	}
}

func TestAccuracyDecreasesWithLoss(t *testing.T) {
	best := Candidate{Move: "a", Evaluation: Centipawns(100)}
	prev := 101.0
	for cp := 100; cp >= -900; cp -= 50 {
		acc := Accuracy(best, Candidate{Move: "b", Evaluation: Centipawns(cp)})
		if acc > prev {
			t.Fatalf("accuracy rose as the played move got worse: %v > %v", acc, prev)
		}
		if acc < 0 || acc > 100 {
			t.Fatalf("accuracy out of range: %v", acc)
		}
		prev = acc
	}
	if got := Accuracy(best, Candidate{Move: "b", Evaluation: Centipawns(400)}); got != 100 {
		t.Fatalf("a better-than-best move should clamp to 100, got %v", got)
	}
}

func TestSideAccuracy(t *testing.T) {
	if SideAccuracy(nil) != 0 {
		t.Fatalf("empty mean should be 0")
	}
	if got := SideAccuracy([]float64{100, 50}); got != 75 {
		t.Fatalf("expected 75, got %v", got)
	}
}
