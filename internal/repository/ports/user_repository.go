package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/danpav1/Auth_Portal_BackEnd/internal/domain"
)

// UserRepository receives emails already normalized by the service layer.
type UserRepository interface {
	Create(ctx context.Context, email, name string, passwordHash, passwordSalt []byte) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash, passwordSalt []byte) error
}
