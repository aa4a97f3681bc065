package exchange

import (
	"errors"
	"fmt"
	"sort"

	"github.com/park285/cheese-review/internal/chess/rules"
)

const (
	// Stop marks a node where halting the exchange is optimal.
	Stop            = -1
	DefaultMaxDepth = 12

	negInf = -1 << 30
)

var ErrInvalidMove = errors.New("exchange: invalid initiating move")

type Options struct {
	MaxDepth int
	// Exhaustive disables alpha-beta pruning.
	Exhaustive bool
}

// Node is one position of the capture tree. Values are material balances in pawn units
// from the perspective of the side to move at the node.
type Node struct {
	Move            rules.Move
	Depth           int
	CumulativeValue int
	Children        []*Node
	BestChild       int
	BestValue       int
}

func (n *Node) Best() *Node {
	if n == nil || n.BestChild == Stop || n.BestChild >= len(n.Children) {
		return nil
	}
	return n.Children[n.BestChild]
}

// Size counts the nodes of the tree.
func (n *Node) Size() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += c.Size()
	}
	return total
}

// Evaluate plays move from pos and searches the forced capture sequences on the squares it touches.
// The root's BestValue is the opponent's net material result under best play: positive means the
// mover loses material.
func Evaluate(pos *rules.Position, move string, opts Options) (*Node, error) {
	if pos == nil {
		return nil, fmt.Errorf("%w: nil position", ErrInvalidMove)
	}
	mv, err := pos.Lookup(move)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMove, err)
	}
	after, err := pos.Play(mv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMove, err)
	}

	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	s := &searcher{
		tracked:  trackedSquares(after),
		maxDepth: maxDepth,
		prune:    !opts.Exhaustive,
	}
	root := &Node{Move: mv, CumulativeValue: -mv.Gain()}
	s.search(after, root, negInf, negInf)
	return root, nil
}

type searcher struct {
	tracked  map[string]struct{}
	maxDepth int
	prune    bool
}

// search is negamax with stand-pat. alpha is the best value secured by the side to move, beta the
// best value secured by its opponent (in the opponent's own terms), so the window is swapped
// rather than negated when descending and the cutoff is alpha >= -beta.
func (s *searcher) search(pos *rules.Position, node *Node, alpha, beta int) int {
	node.BestChild = Stop
	best := node.CumulativeValue
	node.BestValue = best
	if best > alpha {
		alpha = best
	}
	if node.Depth >= s.maxDepth || len(s.tracked) == 0 {
		return best
	}
	if s.prune && alpha >= -beta {
		return best
	}

	for _, c := range orderCaptures(pos.Captures(s.tracked)) {
		next, err := pos.Play(c)
		if err != nil {
			continue
		}
		child := &Node{
			Move:            c,
			Depth:           node.Depth + 1,
			CumulativeValue: -(node.CumulativeValue + c.Gain()),
		}
		node.Children = append(node.Children, child)
		v := -s.search(next, child, beta, alpha)
		if v > best {
			best = v
			node.BestChild = len(node.Children) - 1
		}
		if best > alpha {
			alpha = best
		}
		if s.prune && alpha >= -beta {
			break
		}
	}
	node.BestValue = best
	return best
}

// trackedSquares collects squares captured on right after the move plus squares capturable
// after each first recapture.
func trackedSquares(after *rules.Position) map[string]struct{} {
	tracked := make(map[string]struct{})
	for _, first := range after.Captures(nil) {
		tracked[first.To] = struct{}{}
		next, err := after.Play(first)
		if err != nil {
			continue
		}
		for _, second := range next.Captures(nil) {
			tracked[second.To] = struct{}{}
		}
	}
	return tracked
}

// orderCaptures sorts most valuable victim first, cheapest attacker first within a victim.
func orderCaptures(moves []rules.Move) []rules.Move {
	sort.SliceStable(moves, func(i, j int) bool {
		vi, vj := moves[i].Gain(), moves[j].Gain()
		if vi != vj {
			return vi > vj
		}
		return attackerRank(moves[i].Piece) < attackerRank(moves[j].Piece)
	})
	return moves
}

func attackerRank(k rules.PieceKind) int {
	if k == rules.King {
		return 100
	}
	return k.Value()
}
