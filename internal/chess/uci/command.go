package uci

import (
	"errors"
	"strconv"
	"strings"
)

var ErrNoLimits = errors.New("uci: no search limits specified")

type Limits struct {
	Depth          int
	MoveTimeMillis int
	NodeCap        int
	// SearchMoves restricts the search to the listed moves.
	SearchMoves []string
}

func PositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(strings.TrimSpace(fen))
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	return sb.String()
}

func GoCommand(l Limits) (string, error) {
	args := []string{"go"}
	if l.Depth > 0 {
		args = append(args, "depth", strconv.Itoa(l.Depth))
	}
	if l.MoveTimeMillis > 0 {
		args = append(args, "movetime", strconv.Itoa(l.MoveTimeMillis))
	}
	if l.NodeCap > 0 {
		args = append(args, "nodes", strconv.Itoa(l.NodeCap))
	}
	if len(args) == 1 {
		return "", ErrNoLimits
	}
	if len(l.SearchMoves) > 0 {
		args = append(args, "searchmoves")
		args = append(args, l.SearchMoves...)
	}
	return strings.Join(args, " "), nil
}
