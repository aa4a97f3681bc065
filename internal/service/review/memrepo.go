package review

import (
	"context"
	"sort"
	"sync"

	"github.com/park285/cheese-review/internal/domain"
)

// memrepo keeps reviews in process memory when no database is configured.
type memrepo struct {
	mu      sync.RWMutex
	reviews map[string]*domain.Review
}

func NewMemoryRepository() Repository {
	return &memrepo{reviews: make(map[string]*domain.Review)}
}

func (m *memrepo) InsertReview(ctx context.Context, review *domain.Review) error {
	if review == nil {
		return ErrDuplicateReview
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reviews[review.ID]; exists {
		return ErrDuplicateReview
	}
	m.reviews[review.ID] = review.Clone()
	return nil
}

func (m *memrepo) UpdateReview(ctx context.Context, review *domain.Review) error {
	if review == nil {
		return ErrReviewNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reviews[review.ID]; !exists {
		return ErrReviewNotFound
	}
	m.reviews[review.ID] = review.Clone()
	return nil
}

func (m *memrepo) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	review, ok := m.reviews[id]
	if !ok {
		return nil, nil
	}
	return review.Clone(), nil
}

func (m *memrepo) ListRecent(ctx context.Context, limit int) ([]*domain.Review, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	out := make([]*domain.Review, 0, len(m.reviews))
	for _, r := range m.reviews {
		out = append(out, r.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
