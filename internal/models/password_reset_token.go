package models

import "time"

// PasswordResetToken is single use: UsedAt flips exactly once via a
// conditional update, never back.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
