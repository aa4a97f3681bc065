package openingbook

import (
	"bytes"
	"strings"
	"testing"

	"github.com/park285/cheese-review/internal/chess/rules"
)

func defaultBook(t *testing.T) *Book {
	t.Helper()
	b, err := Open(Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return b
}

func fenAfter(t *testing.T, moves ...string) string {
	t.Helper()
	g, err := rules.FromMoves("", moves)
	if err != nil {
		t.Fatalf("FromMoves: %v", err)
	}
	return g.Final.FEN()
}

func TestLookupAfterE4(t *testing.T) {
	b := defaultBook(t)
	name, ok := b.Lookup(fenAfter(t, "e2e4"))
	if !ok || name != "King's Pawn Game" {
		t.Fatalf("Lookup(e4) = %q %v", name, ok)
	}
}

func TestLookupIgnoresMoveCounters(t *testing.T) {
	b := defaultBook(t)
	fen := fenAfter(t, "e2e4", "c7c5")
	fields := strings.Fields(fen)
	fields[4], fields[5] = "7", "42"
	name, ok := b.Lookup(strings.Join(fields, " "))
	if !ok || name != "Sicilian Defense" {
		t.Fatalf("Lookup = %q %v", name, ok)
	}
}

func TestIntermediatePositionsAreBook(t *testing.T) {
	b := defaultBook(t)
	// only reachable through the Najdorf line
	if _, ok := b.Lookup(fenAfter(t, "e2e4", "c7c5", "g1f3", "d7d6", "d2d4")); !ok {
		t.Fatal("expected intermediate Najdorf position in book")
	}
	name, ok := b.Lookup(fenAfter(t, "e2e4", "c7c5", "g1f3", "d7d6", "d2d4", "c5d4", "f3d4", "g8f6", "b1c3", "a7a6"))
	if !ok || name != "Sicilian Defense: Najdorf Variation" {
		t.Fatalf("Najdorf = %q %v", name, ok)
	}
}

func TestOffBook(t *testing.T) {
	b := defaultBook(t)
	if _, ok := b.Lookup(fenAfter(t, "a2a4", "h7h5")); ok {
		t.Fatal("unexpected book hit")
	}
	if _, ok := b.Lookup(rules.Start().FEN()); ok {
		t.Fatal("initial position is not a book move")
	}
	var nilBook *Book
	if _, ok := nilBook.Lookup(rules.Start().FEN()); ok {
		t.Fatal("nil book hit")
	}
}

func TestOpeningName(t *testing.T) {
	b := defaultBook(t)
	g, err := rules.FromMoves("", []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5", "a7a6", "b5a4"})
	if err != nil {
		t.Fatalf("FromMoves: %v", err)
	}
	if got := b.Opening(g); got != "Ruy Lopez" {
		t.Fatalf("Opening = %q, want Ruy Lopez", got)
	}
}

func TestCatalogRoundTrip(t *testing.T) {
	entries := []CatalogEntry{{
		Key:      "X",
		ECOTitle: "Test Line",
		Variations: []CatalogVariation{{
			Moves: []LineMove{{Ply: 1, Move: "g2g3"}, {Ply: 2, Move: "g7g6"}},
		}},
	}}
	var buf bytes.Buffer
	if err := EncodeCatalog(&buf, entries); err != nil {
		t.Fatalf("EncodeCatalog: %v", err)
	}
	decoded, err := DecodeCatalog(&buf)
	if err != nil {
		t.Fatalf("DecodeCatalog: %v", err)
	}
	b, err := New(decoded, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if name, ok := b.Lookup(fenAfter(t, "g2g3", "g7g6")); !ok || name != "Test Line" {
		t.Fatalf("Lookup = %q %v", name, ok)
	}
	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2", b.Len())
	}
}

func TestNewRejectsIllegalLine(t *testing.T) {
	_, err := New([]CatalogEntry{{Key: "bad", Variations: []CatalogVariation{{Moves: []LineMove{{Move: "e2e5"}}}}}}, nil)
	if err == nil {
		t.Fatal("expected error for illegal catalog line")
	}
}
