package reviewdto

// CandidateRecord is one engine-ranked alternative. Move is nil for an unavailable slot.
type CandidateRecord struct {
	Move           *string `json:"move"`
	ScoreType      string  `json:"scoreType"`
	Score          float64 `json:"score"`
	Classification string  `json:"classification,omitempty"`
}

type PlayedMoveRecord struct {
	Move           string  `json:"move"`
	SAN            string  `json:"san,omitempty"`
	ScoreType      string  `json:"scoreType,omitempty"`
	Score          float64 `json:"score"`
	Classification string  `json:"classification,omitempty"`
	Accuracy       float64 `json:"accuracy"`
}

type PlayedRecord struct {
	Status string           `json:"status"`
	Move   PlayedMoveRecord `json:"move"`
}

type PlyRecord struct {
	Ply            int               `json:"ply"`
	FEN            string            `json:"fen"`
	Color          string            `json:"color"`
	CandidateMoves []CandidateRecord `json:"candidateMoves"`
	PlayedMove     PlayedRecord      `json:"playedMove"`
}
