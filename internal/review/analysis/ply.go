package analysis

import (
	"github.com/park285/cheese-review/internal/chess/rules"
	"github.com/park285/cheese-review/internal/review/classify"
	"github.com/park285/cheese-review/internal/review/score"
)

type Status int

const (
	StatusNone Status = iota
	StatusPending
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDone:
		return "done"
	default:
		return "none"
	}
}

// State is the per-ply pipeline position derived from the record statuses.
type State int

const (
	NeedsBestMoves State = iota
	BestMovesPending
	NeedsPlayedEval
	PlayedEvalPending
	Done
)

func (s State) String() string {
	switch s {
	case NeedsBestMoves:
		return "needs-best-moves"
	case BestMovesPending:
		return "best-moves-pending"
	case NeedsPlayedEval:
		return "needs-played-eval"
	case PlayedEvalPending:
		return "played-eval-pending"
	default:
		return "done"
	}
}

// CandidateMove is an engine alternative; Move is empty for an unavailable slot.
type CandidateMove struct {
	Move       string
	Evaluation score.Evaluation
	Label      classify.Label
}

type CandidateSet struct {
	Status Status
	Moves  []CandidateMove
}

type PlayedMove struct {
	Status Status
	Move   CandidateMove
	SAN    string
}

// PlyAnalysis is the review state of one played move, keyed by the position it was played from.
type PlyAnalysis struct {
	Index      int
	Position   *rules.Position
	FEN        string
	Candidates CandidateSet
	Played     PlayedMove
	Accuracy   float64
	// Classified is set once labels are frozen, including the no-candidates case.
	Classified bool
}

func (p *PlyAnalysis) State() State {
	switch p.Candidates.Status {
	case StatusNone:
		return NeedsBestMoves
	case StatusPending:
		return BestMovesPending
	}
	if !p.hasCandidates() {
		return Done
	}
	switch p.Played.Status {
	case StatusNone:
		return NeedsPlayedEval
	case StatusPending:
		return PlayedEvalPending
	}
	return Done
}

func (p *PlyAnalysis) Finished() bool {
	return p.Classified && p.State() == Done
}

func (p *PlyAnalysis) hasCandidates() bool {
	for _, c := range p.Candidates.Moves {
		if c.Move != "" {
			return true
		}
	}
	return false
}

func (p *PlyAnalysis) candidates() []score.Candidate {
	out := make([]score.Candidate, 0, len(p.Candidates.Moves))
	for _, c := range p.Candidates.Moves {
		out = append(out, score.Candidate{Move: c.Move, Evaluation: c.Evaluation})
	}
	return out
}
