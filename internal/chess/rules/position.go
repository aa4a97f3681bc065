package rules

import (
	"errors"
	"fmt"
	"strings"

	chess "github.com/corentings/chess/v2"
)

var (
	ErrInvalidFEN  = errors.New("invalid fen")
	ErrIllegalMove = errors.New("illegal move")
)

// Move is the verbose form of a legal move.
type Move struct {
	From      string
	To        string
	Piece     PieceKind
	Captured  PieceKind
	Promotion PieceKind
	UCI       string
}

func (m Move) IsCapture() bool { return m.Captured != NoPiece }

// Gain is the material won by the move itself: the captured piece plus any promotion upgrade.
func (m Move) Gain() int {
	gain := m.Captured.Value()
	if m.Promotion != NoPiece {
		gain += m.Promotion.Value() - Pawn.Value()
	}
	return gain
}

type cell struct {
	kind  PieceKind
	color Color
}

// Position is an immutable snapshot; Apply returns a new Position and never mutates the receiver.
type Position struct {
	pos   *chess.Position
	board [64]cell
	check bool
}

func Start() *Position {
	return wrap(chess.NewGame().Position(), false)
}

func FromFEN(fen string) (*Position, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return Start(), nil
	}
	option, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidFEN, fen, err)
	}
	pos := chess.NewGame(option).Position()
	return wrap(pos, rootCheck(pos)), nil
}

func wrap(pos *chess.Position, check bool) *Position {
	p := &Position{pos: pos, check: check}
	board := pos.Board()
	for i := 0; i < 64; i++ {
		piece := board.Piece(chess.Square(i))
		if piece == chess.NoPiece {
			continue
		}
		p.board[i] = cell{kind: kindOf(piece.Type()), color: colorOf(piece.Color())}
	}
	return p
}

func (p *Position) FEN() string { return p.pos.String() }

func (p *Position) Turn() Color { return colorOf(p.pos.Turn()) }

// LegalMoves enumerates all legal moves in verbose form.
func (p *Position) LegalMoves() []Move {
	valid := p.pos.ValidMoves()
	out := make([]Move, 0, len(valid))
	for _, mv := range valid {
		from := int(mv.S1())
		to := int(mv.S2())
		m := Move{
			From:      squareName(from),
			To:        squareName(to),
			Piece:     p.board[from].kind,
			Captured:  p.board[to].kind,
			Promotion: kindOf(mv.Promo()),
			UCI:       mv.String(),
		}
		if mv.HasTag(chess.EnPassant) {
			m.Captured = Pawn
		}
		out = append(out, m)
	}
	return out
}

// MovesFrom filters LegalMoves by origin square.
func (p *Position) MovesFrom(square string) []Move {
	var out []Move
	for _, m := range p.LegalMoves() {
		if m.From == square {
			out = append(out, m)
		}
	}
	return out
}

// Captures returns the legal captures, optionally restricted to the given destination squares.
func (p *Position) Captures(onto map[string]struct{}) []Move {
	var out []Move
	for _, m := range p.LegalMoves() {
		if !m.IsCapture() {
			continue
		}
		if onto != nil {
			if _, ok := onto[m.To]; !ok {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// Lookup resolves a UCI string to its verbose legal move.
func (p *Position) Lookup(uci string) (Move, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	for _, m := range p.LegalMoves() {
		if m.UCI == uci {
			return m, nil
		}
	}
	return Move{}, fmt.Errorf("%w: %q", ErrIllegalMove, uci)
}

func (p *Position) Apply(uci string) (*Position, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	mv, err := chess.UCINotation{}.Decode(p.pos, uci)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrIllegalMove, uci, err)
	}
	if _, err := p.Lookup(uci); err != nil {
		return nil, err
	}
	return wrap(p.pos.Update(mv), mv.HasTag(chess.Check)), nil
}

// Play applies a move previously returned by LegalMoves without re-validating it.
func (p *Position) Play(m Move) (*Position, error) {
	mv, err := chess.UCINotation{}.Decode(p.pos, m.UCI)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrIllegalMove, m.UCI, err)
	}
	return wrap(p.pos.Update(mv), mv.HasTag(chess.Check)), nil
}

func (p *Position) SAN(uci string) (string, error) {
	mv, err := chess.UCINotation{}.Decode(p.pos, strings.ToLower(strings.TrimSpace(uci)))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrIllegalMove, uci, err)
	}
	return chess.AlgebraicNotation{}.Encode(p.pos, mv), nil
}

// InCheck reports whether the side to move is in check.
func (p *Position) InCheck() bool { return p.check }

func (p *Position) IsCheckmate() bool { return p.pos.Status() == chess.Checkmate }

func (p *Position) IsStalemate() bool { return p.pos.Status() == chess.Stalemate }

// IsDraw covers stalemate, dead positions and a claimable fifty-move rule.
func (p *Position) IsDraw() bool {
	if p.IsStalemate() || p.pos.HalfMoveClock() >= 100 {
		return true
	}
	option, err := chess.FEN(p.pos.String())
	if err != nil {
		return false
	}
	return chess.NewGame(option).Method() == chess.InsufficientMaterial
}

// rootCheck is only needed for positions that were not reached by a move.
// The side to move passes and the opponent's legal replies are searched for a king capture.
func rootCheck(pos *chess.Position) bool {
	switch pos.Status() {
	case chess.Checkmate:
		return true
	case chess.Stalemate:
		return false
	}
	passed := pos.Update(nil)
	board := passed.Board()
	for _, mv := range passed.ValidMoves() {
		if mv.HasTag(chess.Capture) && board.Piece(mv.S2()).Type() == chess.King {
			return true
		}
	}
	return false
}

func squareName(idx int) string {
	return string([]byte{byte('a' + idx%8), byte('1' + idx/8)})
}
