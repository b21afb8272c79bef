package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/danpav1/Auth_Portal_BackEnd/internal/domain"
)

type PasswordResetRepository interface {
	// Replace supersedes any unconsumed code for the user and stores the new
	// one in a single transaction, so at most one live code exists per user.
	Replace(ctx context.Context, userID uuid.UUID, otpHash, otpSalt []byte, expiresAt time.Time) (*domain.PasswordReset, error)
	FindActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) (*domain.PasswordReset, error)
	// MarkConsumed retires a code by id. A code that is already consumed (or
	// gone) is reported as sql.ErrNoRows, which keeps redemption single-use
	// when confirmations race.
	MarkConsumed(ctx context.Context, id int64) error
}
