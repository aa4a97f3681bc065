package domain

import (
	"time"

	"github.com/park285/cheese-review/pkg/reviewdto"
)

// Review is the persisted state of one submitted game review.
type Review struct {
	ID        string
	Status    reviewdto.ReviewStatus
	PGN       string
	StartFEN  string
	MovesUCI  []string
	Webhook   string
	Progress  int
	Plies     []reviewdto.PlyRecord
	Summary   *reviewdto.Summary
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Review) Terminal() bool {
	switch r.Status {
	case reviewdto.StatusDone, reviewdto.StatusFailed, reviewdto.StatusCanceled:
		return true
	}
	return false
}

func (r *Review) Report() reviewdto.Report {
	plies := r.Plies
	if plies == nil {
		plies = []reviewdto.PlyRecord{}
	}
	moves := r.MovesUCI
	if moves == nil {
		moves = []string{}
	}
	return reviewdto.Report{
		ID:        r.ID,
		Status:    r.Status,
		Error:     r.Error,
		PGN:       r.PGN,
		StartFEN:  r.StartFEN,
		MovesUCI:  moves,
		Progress:  r.Progress,
		Plies:     plies,
		Summary:   r.Summary,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Clone deep-copies the slices so callers cannot mutate stored state.
func (r *Review) Clone() *Review {
	if r == nil {
		return nil
	}
	out := *r
	out.MovesUCI = append([]string(nil), r.MovesUCI...)
	out.Plies = append([]reviewdto.PlyRecord(nil), r.Plies...)
	if r.Summary != nil {
		s := *r.Summary
		out.Summary = &s
	}
	return &out
}
