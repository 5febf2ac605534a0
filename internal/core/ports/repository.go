package ports

import (
	"context"

	"github.com/ewilliams-labs/duet/internal/core/domain"
)

// UserRepository persists user records. GetByID returns domain.ErrNotFound
// when the id is unknown.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (domain.User, error)
	ListOthers(ctx context.Context, excludeID string) ([]domain.User, error)
	Save(ctx context.Context, u domain.User) error
	UpdateFaceEmbedding(ctx context.Context, id string, embedding []float32) error
}
