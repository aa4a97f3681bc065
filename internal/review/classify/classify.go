// Package classify assigns quality labels to the candidate moves of a ply and to the move played.
package classify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/park285/cheese-review/internal/chess/rules"
	"github.com/park285/cheese-review/internal/review/exchange"
	"github.com/park285/cheese-review/internal/review/score"
)

var (
	ErrNoCandidates = errors.New("classify: no candidate moves")
	ErrNoPosition   = errors.New("classify: position required")
)

// OpeningBook is the opening-book collaborator: exact position lookup.
type OpeningBook interface {
	Lookup(fen string) (string, bool)
}

type Input struct {
	Position *rules.Position
	// Candidates in engine rank order; empty moves are dropped before ranking.
	Candidates    []score.Candidate
	Played        score.Candidate
	PreviousLabel Label
	Book          OpeningBook
	Exchange      exchange.Options
}

type Ranked struct {
	Move     string
	Label    Label
	Accuracy float64
}

type Result struct {
	Candidates []Ranked
	Played     Label
	// Accuracy of the played move against the principal candidate.
	Accuracy float64
}

type band struct {
	min   float64
	label Label
}

// bands maps accuracy to the base label; excellent and good form the excellent tier.
var bands = []band{
	{min: 90, label: Excellent},
	{min: 80, label: Good},
	{min: 60, label: Inaccuracy},
	{min: 0, label: Mistake},
}

func baseLabel(acc float64) Label {
	for _, b := range bands {
		if acc >= b.min {
			return b.label
		}
	}
	return Mistake
}

// Classify is pure: the same input always yields the same result.
func Classify(in Input) (Result, error) {
	if in.Position == nil {
		return Result{}, ErrNoPosition
	}
	cands := filterCandidates(in.Candidates)
	if len(cands) == 0 {
		return Result{}, ErrNoCandidates
	}

	c := &classifier{in: in, sacrifices: make(map[string]exchange.Sacrifice)}
	played := normalize(in.Played.Move)
	principal := cands[0]
	res := Result{
		Candidates: make([]Ranked, len(cands)),
		Accuracy:   score.Accuracy(principal, score.Candidate{Move: played, Evaluation: in.Played.Evaluation}),
	}

	if len(cands) == 1 {
		res.Candidates[0] = Ranked{Move: principal.Move, Label: Forced, Accuracy: 100}
	} else {
		for rank := len(cands) - 1; rank >= 1; rank-- {
			acc := score.Accuracy(principal, cands[rank])
			label, err := c.derive(cands[rank].Move, acc)
			if err != nil {
				return Result{}, err
			}
			res.Candidates[rank] = Ranked{Move: cands[rank].Move, Label: label, Accuracy: acc}
		}
		label, err := c.principal(principal.Move, res.Candidates[1].Label)
		if err != nil {
			return Result{}, err
		}
		res.Candidates[0] = Ranked{Move: principal.Move, Label: label, Accuracy: 100}
	}

	for i := range res.Candidates {
		if c.inBook(res.Candidates[i].Move) {
			res.Candidates[i].Label = Book
		}
	}

	for _, r := range res.Candidates {
		if r.Move == played {
			res.Played = r.Label
			return res, nil
		}
	}
	if played == "" {
		return res, nil
	}
	label, err := c.derive(played, res.Accuracy)
	if err != nil {
		return Result{}, err
	}
	if c.inBook(played) {
		label = Book
	}
	res.Played = label
	return res, nil
}

type classifier struct {
	in         Input
	sacrifices map[string]exchange.Sacrifice
}

func (c *classifier) derive(move string, acc float64) (Label, error) {
	label := baseLabel(acc)
	switch label {
	case Mistake:
		if acc == 0 {
			return Blunder, nil
		}
		sac, err := c.sacrifice(move)
		if err != nil {
			return None, err
		}
		if sac.Sacrifice {
			return Blunder, nil
		}
	case Inaccuracy:
		if c.in.PreviousLabel.in(Mistake, Blunder, Miss) {
			return Miss, nil
		}
	case Excellent, Good:
		ok, err := c.brilliant(move)
		if err != nil {
			return None, err
		}
		if ok {
			return Brilliant, nil
		}
	}
	return label, nil
}

func (c *classifier) principal(move string, runnerUp Label) (Label, error) {
	ok, err := c.brilliant(move)
	if err != nil {
		return None, err
	}
	if ok {
		return Brilliant, nil
	}
	if runnerUp.in(Inaccuracy, Miss, Mistake, Blunder) {
		return GreatFind, nil
	}
	return Best, nil
}

// brilliant holds for a genuine sacrifice of a piece other than a pawn.
func (c *classifier) brilliant(move string) (bool, error) {
	sac, err := c.sacrifice(move)
	if err != nil {
		return false, err
	}
	if !sac.Sacrifice || sac.PawnTaken {
		return false, nil
	}
	mv, err := c.in.Position.Lookup(move)
	if err != nil {
		return false, err
	}
	return mv.Piece != rules.Pawn, nil
}

func (c *classifier) sacrifice(move string) (exchange.Sacrifice, error) {
	if sac, ok := c.sacrifices[move]; ok {
		return sac, nil
	}
	sac, err := exchange.IsSacrifice(c.in.Position, move, c.in.Exchange)
	if err != nil {
		return exchange.Sacrifice{}, fmt.Errorf("classify %s: %w", move, err)
	}
	c.sacrifices[move] = sac
	return sac, nil
}

func (c *classifier) inBook(move string) bool {
	if c.in.Book == nil || move == "" {
		return false
	}
	next, err := c.in.Position.Apply(move)
	if err != nil {
		return false
	}
	_, ok := c.in.Book.Lookup(next.FEN())
	return ok
}

func filterCandidates(in []score.Candidate) []score.Candidate {
	out := make([]score.Candidate, 0, len(in))
	for _, c := range in {
		mv := normalize(c.Move)
		if mv == "" {
			continue
		}
		c.Move = mv
		out = append(out, c)
	}
	return out
}

func normalize(move string) string {
	return strings.ToLower(strings.TrimSpace(move))
}
