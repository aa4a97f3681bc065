package reviewdto

import "time"

type ReviewStatus string

const (
	StatusQueued   ReviewStatus = "queued"
	StatusRunning  ReviewStatus = "running"
	StatusDone     ReviewStatus = "done"
	StatusFailed   ReviewStatus = "failed"
	StatusCanceled ReviewStatus = "canceled"
)

type SideSummary struct {
	Accuracy float64        `json:"accuracy"`
	Counts   map[string]int `json:"counts"`
}

type Summary struct {
	Opening string      `json:"opening,omitempty"`
	White   SideSummary `json:"white"`
	Black   SideSummary `json:"black"`
}

type Report struct {
	ID        string       `json:"id"`
	Status    ReviewStatus `json:"status"`
	Error     string       `json:"error,omitempty"`
	PGN       string       `json:"pgn,omitempty"`
	StartFEN  string       `json:"startFen"`
	MovesUCI  []string     `json:"movesUci"`
	Progress  int          `json:"progress"`
	Plies     []PlyRecord  `json:"plies"`
	Summary   *Summary     `json:"summary,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type SubmitRequest struct {
	PGN      string   `json:"pgn,omitempty"`
	StartFEN string   `json:"startFen,omitempty"`
	Moves    []string `json:"moves,omitempty"`
	Webhook  string   `json:"webhook,omitempty"`
}

type SubmitResponse struct {
	ID     string       `json:"id"`
	Status ReviewStatus `json:"status"`
}
