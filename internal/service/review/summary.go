package review

import (
	"github.com/park285/cheese-review/internal/chess/rules"
	"github.com/park285/cheese-review/internal/review/classify"
	"github.com/park285/cheese-review/internal/review/score"
	"github.com/park285/cheese-review/pkg/reviewdto"
)

// Summarize averages the non-zero accuracies and counts labels per side over the classified plies.
func Summarize(game *rules.Game, records []reviewdto.PlyRecord, book OpeningBook) reviewdto.Summary {
	sides := map[string]*sideTally{
		rules.White.String(): newSideTally(),
		rules.Black.String(): newSideTally(),
	}
	for _, rec := range records {
		label := classify.Label(rec.PlayedMove.Move.Classification)
		if !label.Valid() {
			continue
		}
		tally, ok := sides[rec.Color]
		if !ok {
			continue
		}
		tally.counts[string(label)]++
		// Zero-accuracy moves (missed mates) are counted but left out of the average.
		if acc := rec.PlayedMove.Move.Accuracy; acc > 0 {
			tally.accuracies = append(tally.accuracies, acc)
		}
	}

	out := reviewdto.Summary{
		White: sides[rules.White.String()].summary(),
		Black: sides[rules.Black.String()].summary(),
	}
	if book != nil && game != nil {
		out.Opening = book.Opening(game)
	}
	return out
}

type sideTally struct {
	accuracies []float64
	counts     map[string]int
}

func newSideTally() *sideTally {
	counts := make(map[string]int, len(classify.Labels()))
	for _, l := range classify.Labels() {
		counts[string(l)] = 0
	}
	return &sideTally{counts: counts}
}

func (t *sideTally) summary() reviewdto.SideSummary {
	return reviewdto.SideSummary{
		Accuracy: score.SideAccuracy(t.accuracies),
		Counts:   t.counts,
	}
}
