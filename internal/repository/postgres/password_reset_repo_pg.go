package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/danpav1/Auth_Portal_BackEnd/internal/domain"
)

type PasswordResetRepository struct {
	db *sqlx.DB
}

func NewPasswordResetRepo(db *sqlx.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Replace retires every live code for the user and inserts the new one in
// the same transaction. Two concurrent forgot-password requests therefore
// serialize on the user's rows and only the later code stays valid.
func (r *PasswordResetRepository) Replace(ctx context.Context, userID uuid.UUID, otpHash, otpSalt []byte, expiresAt time.Time) (*domain.PasswordReset, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	const supersede = `
        UPDATE password_reset
        SET consumed = TRUE,
            updated_at = NOW()
        WHERE user_id = $1 AND consumed = FALSE
    `
	if _, err := tx.ExecContext(ctx, supersede, userID); err != nil {
		return nil, fmt.Errorf("supersede pending reset codes: %w", err)
	}

	const insert = `
        INSERT INTO password_reset (user_id, otp_hash, otp_salt, expires_at)
        VALUES ($1, $2, $3, $4)
        RETURNING id, user_id, otp_hash, otp_salt, expires_at, consumed, created_at
    `
	row := tx.QueryRowxContext(ctx, insert, userID, otpHash, otpSalt, expiresAt)
	var reset domain.PasswordReset
	if err := row.StructScan(&reset); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &reset, nil
}

func (r *PasswordResetRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) (*domain.PasswordReset, error) {
	const query = `
        SELECT id, user_id, otp_hash, otp_salt, expires_at, consumed, created_at
        FROM password_reset
        WHERE user_id = $1 AND consumed = FALSE AND expires_at >= $2
        ORDER BY created_at DESC
        LIMIT 1
    `
	var reset domain.PasswordReset
	if err := r.db.GetContext(ctx, &reset, query, userID, now); err != nil {
		return nil, err
	}
	return &reset, nil
}

// MarkConsumed retires a single code. The consumed flag acts as a
// compare-and-set guard: a row that was already retired is not matched and
// the lost race surfaces as sql.ErrNoRows, so concurrent confirmations can
// redeem a code at most once.
func (r *PasswordResetRepository) MarkConsumed(ctx context.Context, id int64) error {
	const query = `
        UPDATE password_reset
        SET consumed = TRUE,
            updated_at = NOW()
        WHERE id = $1 AND consumed = FALSE
    `
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
