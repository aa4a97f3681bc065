// Package score converts engine evaluations into win probabilities and move accuracy.
package score

import "math"

type ScoreType string

const (
	Centipawn ScoreType = "cp"
	Mate      ScoreType = "mate"
)

// winScale is the logistic steepness in pawn units.
const winScale = math.E

// Evaluation is always from the perspective of the side to move in the evaluated position.
// Centipawn scores are stored in pawn units; mate scores are signed plies to mate.
type Evaluation struct {
	Type  ScoreType `json:"scoreType"`
	Score float64   `json:"score"`
}

// Centipawns converts an engine cp score into pawn units.
func Centipawns(cp int) Evaluation { return Evaluation{Type: Centipawn, Score: float64(cp) / 100} }

// MateIn is a mate score; negative n means the side to move gets mated.
func MateIn(n int) Evaluation { return Evaluation{Type: Mate, Score: float64(n)} }

func (e Evaluation) IsMate() bool { return e.Type == Mate }

// Candidate pairs a move with its evaluation; an empty Move is an unavailable slot.
type Candidate struct {
	Move       string     `json:"move"`
	Evaluation Evaluation `json:"evaluation"`
}

// WinProbability maps an evaluation onto [0,100]. A mate counts as a certain win or loss.
func WinProbability(e Evaluation) float64 {
	if e.IsMate() {
		if e.Score > 0 {
			return 100
		}
		return 0
	}
	return clamp(100/(1+math.Exp(-e.Score/winScale)), 0, 100)
}

// Accuracy scores played against best in [0,100] by the drop in win probability.
// When either side of the comparison is a mate score only the mate classes are compared.
func Accuracy(best, played Candidate) float64 {
	if best.Move != "" && best.Move == played.Move {
		return 100
	}
	if best.Evaluation.IsMate() || played.Evaluation.IsMate() {
		if mateClass(best.Evaluation) > mateClass(played.Evaluation) {
			return 0
		}
		return 100
	}
	loss := WinProbability(best.Evaluation) - WinProbability(played.Evaluation)
	return clamp(100*math.Exp(-loss/math.Exp(2)), 0, 100)
}

// mateClass ranks an evaluation: delivering mate, ordinary, being mated.
func mateClass(e Evaluation) int {
	if !e.IsMate() {
		return 0
	}
	if e.Score > 0 {
		return 1
	}
	return -1
}

// SideAccuracy is the mean of per-move accuracies, 0 when there are none.
func SideAccuracy(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
