package reviewdto

type ProgressKind string

const (
	ProgressPly      ProgressKind = "ply"
	ProgressFinished ProgressKind = "finished"
	ProgressFailed   ProgressKind = "failed"
)

// ProgressEvent is pushed to websocket subscribers and webhooks while a review runs.
type ProgressEvent struct {
	ReviewID string       `json:"reviewId"`
	Kind     ProgressKind `json:"kind"`
	Progress int          `json:"progress"`
	Ply      *PlyRecord   `json:"ply,omitempty"`
	Error    string       `json:"error,omitempty"`
}
