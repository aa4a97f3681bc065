package analysis

import "github.com/park285/cheese-review/pkg/reviewdto"

// Records exports the exposed ply records in game order.
func (o *Orchestrator) Records() []reviewdto.PlyRecord {
	out := make([]reviewdto.PlyRecord, 0, len(o.plies))
	for _, p := range o.plies {
		out = append(out, Record(p))
	}
	return out
}

func Record(p *PlyAnalysis) reviewdto.PlyRecord {
	rec := reviewdto.PlyRecord{
		Ply:            p.Index,
		FEN:            p.FEN,
		CandidateMoves: make([]reviewdto.CandidateRecord, 0, len(p.Candidates.Moves)),
		PlayedMove: reviewdto.PlayedRecord{
			Status: p.Played.Status.String(),
			Move: reviewdto.PlayedMoveRecord{
				Move:           p.Played.Move.Move,
				SAN:            p.Played.SAN,
				Classification: string(p.Played.Move.Label),
				Accuracy:       p.Accuracy,
			},
		},
	}
	if p.Position != nil {
		rec.Color = p.Position.Turn().String()
	}
	if p.Played.Status == StatusDone {
		rec.PlayedMove.Move.ScoreType = string(p.Played.Move.Evaluation.Type)
		rec.PlayedMove.Move.Score = p.Played.Move.Evaluation.Score
	}
	for _, c := range p.Candidates.Moves {
		cr := reviewdto.CandidateRecord{
			ScoreType:      string(c.Evaluation.Type),
			Score:          c.Evaluation.Score,
			Classification: string(c.Label),
		}
		if c.Move != "" {
			mv := c.Move
			cr.Move = &mv
		}
		rec.CandidateMoves = append(rec.CandidateMoves, cr)
	}
	return rec
}
