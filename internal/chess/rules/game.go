package rules

import (
	"errors"
	"fmt"
	"strings"

	chess "github.com/corentings/chess/v2"
)

var ErrInvalidPGN = errors.New("invalid pgn")

// Ply is one played move together with the position it was played from.
type Ply struct {
	Before *Position
	UCI    string
	SAN    string
}

// Game is a parsed move sequence; Final is the position after the last ply.
type Game struct {
	Plies []Ply
	Final *Position
}

// Positions returns every position of the game, starting position first.
func (g *Game) Positions() []*Position {
	out := make([]*Position, 0, len(g.Plies)+1)
	for _, p := range g.Plies {
		out = append(out, p.Before)
	}
	return append(out, g.Final)
}

func (g *Game) UCIMoves() []string {
	out := make([]string, 0, len(g.Plies))
	for _, p := range g.Plies {
		out = append(out, p.UCI)
	}
	return out
}

func ParsePGN(text string) (*Game, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidPGN)
	}
	option, err := chess.PGN(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPGN, err)
	}
	parsed := chess.NewGame(option)
	moves := parsed.Moves()
	if len(moves) == 0 {
		return nil, fmt.Errorf("%w: no moves", ErrInvalidPGN)
	}
	ucis := make([]string, 0, len(moves))
	for _, mv := range moves {
		ucis = append(ucis, mv.String())
	}
	positions := parsed.Positions()
	start := Start()
	if len(positions) > 0 && positions[0] != nil {
		if start, err = FromFEN(positions[0].String()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPGN, err)
		}
	}
	g, err := replay(start, ucis)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPGN, err)
	}
	return g, nil
}

// FromMoves replays UCI moves from fen ("" or "startpos" for the initial position).
func FromMoves(fen string, moves []string) (*Game, error) {
	start, err := FromFEN(fen)
	if err != nil {
		return nil, err
	}
	if len(moves) == 0 {
		return nil, fmt.Errorf("%w: no moves", ErrInvalidPGN)
	}
	return replay(start, moves)
}

func replay(start *Position, moves []string) (*Game, error) {
	g := &Game{Plies: make([]Ply, 0, len(moves))}
	cur := start
	for i, uci := range moves {
		san, err := cur.SAN(uci)
		if err != nil {
			return nil, fmt.Errorf("ply %d: %w", i+1, err)
		}
		next, err := cur.Apply(uci)
		if err != nil {
			return nil, fmt.Errorf("ply %d: %w", i+1, err)
		}
		g.Plies = append(g.Plies, Ply{Before: cur, UCI: strings.ToLower(strings.TrimSpace(uci)), SAN: san})
		cur = next
	}
	g.Final = cur
	return g, nil
}
