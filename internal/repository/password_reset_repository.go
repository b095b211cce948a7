package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"groundwork/internal/models"
)

type PasswordResetRepository interface {
	Create(ctx context.Context, token *models.PasswordResetToken) error
	// ConsumeAndResetPassword atomically marks the token consumed and
	// updates the subject's credential in one transaction. The conditional
	// update on used_at guarantees at most one concurrent submission wins.
	ConsumeAndResetPassword(ctx context.Context, tokenHash string, passwordHash string, now time.Time) (*models.PasswordResetToken, error)
}

type passwordResetRepository struct {
	db *sql.DB
}

func NewPasswordResetRepository(db *sql.DB) PasswordResetRepository {
	return &passwordResetRepository{db: db}
}

func (r *passwordResetRepository) Create(ctx context.Context, token *models.PasswordResetToken) error {
	query := `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query, token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt).Scan(&token.CreatedAt)
	return err
}

func (r *passwordResetRepository) ConsumeAndResetPassword(ctx context.Context, tokenHash string, passwordHash string, now time.Time) (*models.PasswordResetToken, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	consume := `
		UPDATE password_reset_tokens
		SET used_at = $1
		WHERE token_hash = $2
		AND used_at IS NULL
		AND expires_at > $1
		RETURNING id, user_id, expires_at, created_at
	`

	var t models.PasswordResetToken
	t.TokenHash = tokenHash
	t.UsedAt = &now
	err = tx.QueryRowContext(ctx, consume, now, tokenHash).Scan(&t.ID, &t.UserID, &t.ExpiresAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, r.classifyFailure(ctx, tokenHash, now)
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, t.UserID)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Token exists but its subject is gone; roll the consumption back.
		return nil, ErrTokenNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &t, nil
}

// classifyFailure runs after a failed conditional consume to produce a
// precise token error. Read-only, outside the aborted transaction.
func (r *passwordResetRepository) classifyFailure(ctx context.Context, tokenHash string, now time.Time) error {
	query := `
		SELECT expires_at, used_at
		FROM password_reset_tokens
		WHERE token_hash = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var expiresAt time.Time
	var usedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, tokenHash).Scan(&expiresAt, &usedAt)
	if err == sql.ErrNoRows {
		return ErrTokenNotFound
	}
	if err != nil {
		return err
	}
	if usedAt.Valid {
		return ErrTokenConsumed
	}
	if !expiresAt.After(now) {
		return ErrTokenExpired
	}
	return ErrTokenNotFound
}
