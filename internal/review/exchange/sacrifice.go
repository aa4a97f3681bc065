package exchange

import "github.com/park285/cheese-review/internal/chess/rules"

// Sacrifice is the principal-line summary of a capture tree.
type Sacrifice struct {
	Value         int
	Sacrifice     bool
	PieceCaptured bool
	// PawnTaken is set when a pawn falls on an odd line depth, i.e. to the opponent.
	PawnTaken bool
	Line      []rules.Move
}

func DetectSacrifice(tree *Node) Sacrifice {
	if tree == nil {
		return Sacrifice{}
	}
	out := Sacrifice{
		Value:         tree.BestValue,
		Sacrifice:     tree.BestValue > 0,
		PieceCaptured: tree.Move.IsCapture(),
		Line:          []rules.Move{tree.Move},
	}
	depth := 0
	for node := tree.Best(); node != nil; node = node.Best() {
		depth++
		out.Line = append(out.Line, node.Move)
		if !node.Move.IsCapture() {
			continue
		}
		out.PieceCaptured = true
		if node.Move.Captured == rules.Pawn && depth%2 == 1 {
			out.PawnTaken = true
		}
	}
	return out
}

// IsSacrifice evaluates the capture tree of move and summarises its principal line.
func IsSacrifice(pos *rules.Position, move string, opts Options) (Sacrifice, error) {
	tree, err := Evaluate(pos, move, opts)
	if err != nil {
		return Sacrifice{}, err
	}
	return DetectSacrifice(tree), nil
}
