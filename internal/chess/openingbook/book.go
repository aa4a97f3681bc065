// Package openingbook answers whether a position is a known opening position and what it is called.
package openingbook

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
	"go.uber.org/zap"

	"github.com/park285/cheese-review/internal/chess/rules"
)

//go:embed default_catalog.json
var defaultCatalog []byte

type Config struct {
	// CatalogPath replaces the embedded catalog when set.
	CatalogPath  string
	PolyglotPath string
	Logger       *zap.Logger
}

// Book is read-only after construction and safe for concurrent use.
type Book struct {
	positions map[string]string
	poly      *chesslib.PolyglotBook
	eco       *opening.BookECO
}

func Open(cfg Config) (*Book, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		entries []CatalogEntry
		err     error
	)
	if strings.TrimSpace(cfg.CatalogPath) != "" {
		entries, err = LoadCatalogFromPath(cfg.CatalogPath)
	} else {
		entries, err = DecodeCatalog(bytes.NewReader(defaultCatalog))
	}
	if err != nil {
		return nil, err
	}

	var poly *chesslib.PolyglotBook
	if strings.TrimSpace(cfg.PolyglotPath) != "" {
		if poly, err = LoadPolyglot(cfg.PolyglotPath); err != nil {
			return nil, err
		}
	}
	b, err := New(entries, poly)
	if err != nil {
		return nil, err
	}
	logger.Info("opening book loaded",
		zap.Int("positions", b.Len()),
		zap.Bool("polyglot", poly != nil))
	return b, nil
}

// New indexes every position along every catalog variation. A position keeps the
// title of the shortest variation that reaches it.
func New(entries []CatalogEntry, poly *chesslib.PolyglotBook) (*Book, error) {
	type line struct {
		title string
		moves []string
	}
	var lines []line
	for _, entry := range entries {
		title := strings.TrimSpace(entry.ECOTitle)
		if title == "" {
			title = strings.TrimSpace(entry.Key)
		}
		for _, v := range entry.Variations {
			moves := make([]string, 0, len(v.Moves))
			for _, mv := range v.Moves {
				moves = append(moves, strings.ToLower(strings.TrimSpace(mv.Move)))
			}
			if len(moves) > 0 {
				lines = append(lines, line{title: title, moves: moves})
			}
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return len(lines[i].moves) < len(lines[j].moves) })

	b := &Book{positions: make(map[string]string), poly: poly, eco: opening.NewBookECO()}
	for _, l := range lines {
		game, err := rules.FromMoves("", l.moves)
		if err != nil {
			return nil, fmt.Errorf("catalog line %q: %w", l.title, err)
		}
		for _, pos := range game.Positions()[1:] {
			key := PositionKey(pos.FEN())
			if _, ok := b.positions[key]; !ok {
				b.positions[key] = l.title
			}
		}
		b.positions[PositionKey(game.Final.FEN())] = l.title
	}
	return b, nil
}

func (b *Book) Len() int { return len(b.positions) }

// Lookup matches on placement, side to move, castling and en passant; move counters are ignored.
// Positions known only to the polyglot book report an empty name.
func (b *Book) Lookup(fen string) (string, bool) {
	if b == nil {
		return "", false
	}
	if name, ok := b.positions[PositionKey(fen)]; ok {
		return name, true
	}
	if b.poly == nil {
		return "", false
	}
	hashStr, err := chesslib.NewZobristHasher().HashPosition(fen)
	if err != nil {
		return "", false
	}
	return "", len(b.poly.FindMoves(chesslib.ZobristHashToUint64(hashStr))) > 0
}

// Opening names the game by the last catalog position it passes through, falling
// back to the ECO classification of the move sequence.
func (b *Book) Opening(game *rules.Game) string {
	if b == nil || game == nil {
		return ""
	}
	name := ""
	for _, pos := range game.Positions() {
		if n, ok := b.positions[PositionKey(pos.FEN())]; ok && n != "" {
			name = n
		}
	}
	if name != "" {
		return name
	}
	return b.ecoTitle(game)
}

func (b *Book) ecoTitle(game *rules.Game) string {
	start := game.Positions()[0]
	option, err := chesslib.FEN(start.FEN())
	if err != nil {
		return ""
	}
	g := chesslib.NewGame(option)
	for _, mv := range game.UCIMoves() {
		if err := g.PushNotationMove(mv, chesslib.UCINotation{}, nil); err != nil {
			return ""
		}
	}
	if eco := b.eco.Find(g.Moves()); eco != nil {
		return eco.Title()
	}
	return ""
}

// PositionKey strips the halfmove and fullmove counters from a FEN.
func PositionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}
