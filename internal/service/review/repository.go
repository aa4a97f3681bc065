package review

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/park285/cheese-review/internal/domain"
	"github.com/park285/cheese-review/pkg/reviewdto"
)

var ErrDuplicateReview = errors.New("review already exists")

type Repository interface {
	InsertReview(ctx context.Context, review *domain.Review) error
	UpdateReview(ctx context.Context, review *domain.Review) error
	GetReview(ctx context.Context, id string) (*domain.Review, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.Review, error)
}

const schema = `
	CREATE TABLE IF NOT EXISTS game_reviews (
		id          UUID PRIMARY KEY,
		status      TEXT        NOT NULL,
		pgn         TEXT        NOT NULL DEFAULT '',
		start_fen   TEXT        NOT NULL,
		moves_uci   JSONB       NOT NULL,
		webhook     TEXT        NOT NULL DEFAULT '',
		progress    INTEGER     NOT NULL DEFAULT 0,
		plies       JSONB       NOT NULL,
		summary     JSONB,
		error       TEXT        NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// Migrate creates the review table when it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create game_reviews: %w", err)
	}
	return nil
}

func (r *repository) InsertReview(ctx context.Context, review *domain.Review) error {
	if review == nil {
		return fmt.Errorf("nil review payload")
	}
	moves, plies, summary, err := marshalReview(review)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO game_reviews (
			id,
			status,
			pgn,
			start_fen,
			moves_uci,
			webhook,
			progress,
			plies,
			summary,
			error,
			created_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8::jsonb, $9::jsonb, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	res, err := r.db.ExecContext(
		ctx,
		query,
		review.ID,
		string(review.Status),
		review.PGN,
		review.StartFEN,
		moves,
		review.Webhook,
		review.Progress,
		plies,
		summary,
		review.Error,
		review.CreatedAt,
		review.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateReview
	}
	return nil
}

func (r *repository) UpdateReview(ctx context.Context, review *domain.Review) error {
	if review == nil {
		return fmt.Errorf("nil review payload")
	}
	_, plies, summary, err := marshalReview(review)
	if err != nil {
		return err
	}

	const query = `
		UPDATE game_reviews
		SET status = $2,
			progress = $3,
			plies = $4::jsonb,
			summary = $5::jsonb,
			error = $6,
			updated_at = $7
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		review.ID,
		string(review.Status),
		review.Progress,
		plies,
		summary,
		review.Error,
		review.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrReviewNotFound
	}
	return nil
}

const selectColumns = `
		SELECT
			id,
			status,
			pgn,
			start_fen,
			moves_uci,
			webhook,
			progress,
			plies,
			summary,
			error,
			created_at,
			updated_at
		FROM game_reviews`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *repository) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+`
		WHERE id = $1`, id)
	review, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return review, nil
}

func (r *repository) ListRecent(ctx context.Context, limit int) ([]*domain.Review, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, selectColumns+`
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select reviews: %w", err)
	}
	defer rows.Close()

	reviews := make([]*domain.Review, 0, limit)
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return reviews, nil
}

func scanReview(row rowScanner) (*domain.Review, error) {
	var (
		review      domain.Review
		status      string
		movesJSON   []byte
		pliesJSON   []byte
		summaryJSON []byte
	)
	if err := row.Scan(
		&review.ID,
		&status,
		&review.PGN,
		&review.StartFEN,
		&movesJSON,
		&review.Webhook,
		&review.Progress,
		&pliesJSON,
		&summaryJSON,
		&review.Error,
		&review.CreatedAt,
		&review.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan review: %w", err)
	}
	review.Status = reviewdto.ReviewStatus(status)
	if err := json.Unmarshal(movesJSON, &review.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if err := json.Unmarshal(pliesJSON, &review.Plies); err != nil {
		return nil, fmt.Errorf("unmarshal plies: %w", err)
	}
	if len(summaryJSON) > 0 && string(summaryJSON) != "null" {
		var summary reviewdto.Summary
		if err := json.Unmarshal(summaryJSON, &summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
		review.Summary = &summary
	}
	return &review, nil
}

func marshalReview(review *domain.Review) (moves, plies, summary []byte, err error) {
	movesUCI := review.MovesUCI
	if movesUCI == nil {
		movesUCI = []string{}
	}
	if moves, err = json.Marshal(movesUCI); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal moves_uci: %w", err)
	}
	records := review.Plies
	if records == nil {
		records = []reviewdto.PlyRecord{}
	}
	if plies, err = json.Marshal(records); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal plies: %w", err)
	}
	if review.Summary != nil {
		if summary, err = json.Marshal(review.Summary); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal summary: %w", err)
		}
	}
	return moves, plies, summary, nil
}
