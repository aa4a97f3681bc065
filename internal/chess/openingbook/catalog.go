package openingbook

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	chesslib "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

type LineMove struct {
	Ply    int    `json:"ply"`
	Color  string `json:"color"`
	Move   string `json:"move"`
	SAN    string `json:"san"`
	Weight int    `json:"weight"`
}

type CatalogVariation struct {
	Moves       []LineMove `json:"moves"`
	FinalFEN    string     `json:"final_fen"`
	TotalWeight int        `json:"total_weight"`
}

type CatalogEntry struct {
	Key         string             `json:"key"`
	ECOCode     string             `json:"eco_code,omitempty"`
	ECOTitle    string             `json:"eco_title,omitempty"`
	TotalWeight int                `json:"total_weight"`
	Variations  []CatalogVariation `json:"variations"`
}

type CatalogOptions struct {
	MaxPly    int
	MinWeight uint16
}

type catalogFile struct {
	Entries []CatalogEntry `json:"entries"`
}

func DecodeCatalog(r io.Reader) ([]CatalogEntry, error) {
	var payload catalogFile
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode opening catalog: %w", err)
	}
	return payload.Entries, nil
}

func EncodeCatalog(w io.Writer, entries []CatalogEntry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(catalogFile{Entries: entries})
}

func LoadCatalogFromPath(path string) ([]CatalogEntry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open opening catalog %q: %w", path, err)
	}
	defer file.Close()
	return DecodeCatalog(file)
}

func LoadPolyglot(bookPath string) (*chesslib.PolyglotBook, error) {
	if strings.TrimSpace(bookPath) == "" {
		return nil, fmt.Errorf("polyglot book path required")
	}
	file, err := os.Open(bookPath)
	if err != nil {
		return nil, fmt.Errorf("open polyglot book %q: %w", bookPath, err)
	}
	defer file.Close()

	book, err := chesslib.LoadFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("load polyglot book %q: %w", bookPath, err)
	}
	return book, nil
}

// BuildCatalog walks the polyglot tree from the initial position and groups the
// resulting lines by ECO classification.
func BuildCatalog(book *chesslib.PolyglotBook, opts CatalogOptions) ([]CatalogEntry, error) {
	if book == nil {
		return nil, fmt.Errorf("polyglot book is nil")
	}
	maxPly := opts.MaxPly
	if maxPly <= 0 {
		maxPly = 12
	}
	minWeight := opts.MinWeight
	if minWeight == 0 {
		minWeight = 1
	}

	hasher := chesslib.NewZobristHasher()
	ecoBook := opening.NewBookECO()
	uciNotation := chesslib.UCINotation{}
	algebraic := chesslib.AlgebraicNotation{}

	groups := make(map[string]*CatalogEntry)

	var walk func(game *chesslib.Game, path []LineMove) error
	walk = func(game *chesslib.Game, path []LineMove) error {
		if len(path) >= maxPly {
			appendCatalogEntry(groups, game, path, ecoBook)
			return nil
		}

		hashStr, err := hasher.HashPosition(game.FEN())
		if err != nil {
			return fmt.Errorf("compute polyglot hash: %w", err)
		}
		entries := book.FindMoves(chesslib.ZobristHashToUint64(hashStr))
		filtered := make([]chesslib.PolyglotEntry, 0, len(entries))
		for _, entry := range entries {
			if entry.Weight >= minWeight {
				filtered = append(filtered, entry)
			}
		}
		if len(filtered) == 0 {
			appendCatalogEntry(groups, game, path, ecoBook)
			return nil
		}

		for _, entry := range filtered {
			move := chesslib.DecodeMove(entry.Move).ToMove()
			moveStr := move.String()
			lineMove := LineMove{
				Ply:    len(path) + 1,
				Color:  colorToString(game.Position().Turn()),
				Move:   moveStr,
				SAN:    algebraic.Encode(game.Position(), &move),
				Weight: int(entry.Weight),
			}

			child := game.Clone()
			if err := child.PushNotationMove(moveStr, uciNotation, nil); err != nil {
				return fmt.Errorf("apply move %q: %w", moveStr, err)
			}
			nextPath := append(append([]LineMove(nil), path...), lineMove)
			if err := walk(child, nextPath); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(chesslib.NewGame(), nil); err != nil {
		return nil, err
	}

	entries := make([]CatalogEntry, 0, len(groups))
	for _, group := range groups {
		sort.Slice(group.Variations, func(i, j int) bool {
			return joinMoves(group.Variations[i].Moves) < joinMoves(group.Variations[j].Moves)
		})
		entries = append(entries, *group)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Key == entries[j].Key {
			return entries[i].TotalWeight > entries[j].TotalWeight
		}
		return entries[i].Key < entries[j].Key
	})
	return entries, nil
}

func appendCatalogEntry(groups map[string]*CatalogEntry, game *chesslib.Game, path []LineMove, ecoBook *opening.BookECO) {
	if len(path) == 0 {
		return
	}
	movesCopy := append([]LineMove(nil), path...)
	totalWeight := 0
	for _, mv := range movesCopy {
		totalWeight += mv.Weight
	}

	var ecoCode, ecoTitle string
	if eco := ecoBook.Find(game.Moves()); eco != nil {
		ecoCode = eco.Code()
		ecoTitle = eco.Title()
	}
	key := ecoCode
	if key == "" {
		key = joinMoves(movesCopy)
	}

	group, ok := groups[key]
	if !ok {
		group = &CatalogEntry{Key: key, ECOCode: ecoCode, ECOTitle: ecoTitle}
		groups[key] = group
	}
	group.Variations = append(group.Variations, CatalogVariation{
		Moves:       movesCopy,
		FinalFEN:    game.FEN(),
		TotalWeight: totalWeight,
	})
	group.TotalWeight += totalWeight
}

func colorToString(color chesslib.Color) string {
	switch color {
	case chesslib.White:
		return "white"
	case chesslib.Black:
		return "black"
	default:
		return "unknown"
	}
}

func joinMoves(moves []LineMove) string {
	parts := make([]string, 0, len(moves))
	for _, mv := range moves {
		parts = append(parts, mv.Move)
	}
	return strings.Join(parts, " ")
}
