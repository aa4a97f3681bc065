package reviewpresenter

import (
	"fmt"
	"strings"

	"github.com/park285/cheese-review/internal/msgcat"
	"github.com/park285/cheese-review/internal/review/classify"
	"github.com/park285/cheese-review/pkg/reviewdto"
)

// Formatter renders review DTOs into plain text blocks using the message catalog.
type Formatter struct {
	cat *msgcat.Catalog
}

func NewFormatter(cat *msgcat.Catalog) *Formatter {
	return &Formatter{cat: cat}
}

func (f *Formatter) render(key string, data map[string]any, fallback string) string {
	if f == nil || f.cat == nil {
		return fallback
	}
	out, err := f.cat.Render(key, data)
	if err != nil {
		return fallback
	}
	return out
}

func (f *Formatter) text(key, fallback string) string {
	if f == nil || f.cat == nil {
		return fallback
	}
	return f.cat.Text(key, fallback)
}

func (f *Formatter) Label(label string) string {
	if label == "" {
		return f.text("label.none", "-")
	}
	return f.text("label."+label, label)
}

func (f *Formatter) Report(rep reviewdto.Report) string {
	var sb strings.Builder
	sb.WriteString(f.render("review.header", map[string]any{"ID": rep.ID}, "Review "+rep.ID))
	sb.WriteByte('\n')
	sb.WriteString(f.render("review.status", map[string]any{
		"Status":   f.text("status."+string(rep.Status), string(rep.Status)),
		"Progress": rep.Progress,
	}, fmt.Sprintf("status: %s (%d%%)", rep.Status, rep.Progress)))
	sb.WriteByte('\n')
	if rep.Error != "" {
		sb.WriteString(f.render("review.error", map[string]any{"Error": rep.Error}, "error: "+rep.Error))
		sb.WriteByte('\n')
	}
	if s := rep.Summary; s != nil {
		if s.Opening != "" {
			sb.WriteString(f.render("review.opening", map[string]any{"Opening": s.Opening}, "opening: "+s.Opening))
			sb.WriteByte('\n')
		}
		f.writeSide(&sb, "white", s.White)
		f.writeSide(&sb, "black", s.Black)
	}
	if len(rep.Plies) > 0 {
		sb.WriteByte('\n')
		sb.WriteString(f.text("review.moves", "Moves"))
		sb.WriteByte('\n')
		for _, p := range rep.Plies {
			sb.WriteString(f.Ply(p))
			sb.WriteByte('\n')
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Formatter) writeSide(sb *strings.Builder, side string, s reviewdto.SideSummary) {
	name := f.text("side."+side, side)
	sb.WriteString(f.render("review.side", map[string]any{"Side": name, "Accuracy": s.Accuracy},
		fmt.Sprintf("%s accuracy: %.1f%%", name, s.Accuracy)))
	sb.WriteByte('\n')
	if counts := f.counts(s.Counts); counts != "" {
		sb.WriteString(f.render("review.counts", map[string]any{"Counts": counts}, "  "+counts))
		sb.WriteByte('\n')
	}
}

// counts lists non-zero label counts in report order.
func (f *Formatter) counts(counts map[string]int) string {
	parts := make([]string, 0, len(counts))
	for _, l := range classify.Labels() {
		if n := counts[string(l)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", f.Label(string(l)), n))
		}
	}
	return strings.Join(parts, " · ")
}

func (f *Formatter) Ply(p reviewdto.PlyRecord) string {
	number, dots := moveNumber(p)
	san := p.PlayedMove.Move.SAN
	if san == "" {
		san = p.PlayedMove.Move.Move
	}
	best := ""
	label := p.PlayedMove.Move.Classification
	if len(p.CandidateMoves) > 0 && p.CandidateMoves[0].Move != nil && *p.CandidateMoves[0].Move != p.PlayedMove.Move.Move {
		switch classify.Label(label) {
		case classify.Inaccuracy, classify.Mistake, classify.Miss, classify.Blunder:
			best = *p.CandidateMoves[0].Move
		}
	}
	return f.render("review.ply", map[string]any{
		"Number": number,
		"Dots":   dots,
		"SAN":    san,
		"Label":  f.Label(label),
		"Best":   best,
	}, fmt.Sprintf("%d%s %s %s", number, dots, san, f.Label(label)))
}

func (f *Formatter) Progress(ev reviewdto.ProgressEvent) string {
	switch ev.Kind {
	case reviewdto.ProgressPly:
		if ev.Ply == nil {
			return ""
		}
		number, dots := moveNumber(*ev.Ply)
		san := ev.Ply.PlayedMove.Move.SAN
		if san == "" {
			san = ev.Ply.PlayedMove.Move.Move
		}
		return f.render("progress.ply", map[string]any{
			"Progress": ev.Progress,
			"Number":   number,
			"Dots":     dots,
			"SAN":      san,
			"Label":    f.Label(ev.Ply.PlayedMove.Move.Classification),
		}, fmt.Sprintf("[%d%%] %d%s %s", ev.Progress, number, dots, san))
	case reviewdto.ProgressFinished:
		return f.text("progress.finished", "finished")
	case reviewdto.ProgressFailed:
		return f.render("progress.failed", map[string]any{"Error": ev.Error}, "failed: "+ev.Error)
	}
	return ""
}

// moveNumber derives the full-move number from the ply's FEN, falling back to its index.
func moveNumber(p reviewdto.PlyRecord) (int, string) {
	dots := "."
	if p.Color == "black" {
		dots = "..."
	}
	fields := strings.Fields(p.FEN)
	if len(fields) >= 6 {
		var n int
		if _, err := fmt.Sscanf(fields[5], "%d", &n); err == nil && n > 0 {
			return n, dots
		}
	}
	return p.Ply/2 + 1, dots
}
