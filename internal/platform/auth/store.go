package auth

import (
	"context"
	"database/sql"
	"errors"
)

// Credential はログイン判定に必要な users の列
type Credential struct {
	UserID       int64
	Email        string
	PasswordHash string
	IsActive     bool
}

type CredentialStore interface {
	GetByEmail(ctx context.Context, email string) (*Credential, error)
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) CredentialStore {
	return &Store{db: db}
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*Credential, error) {
	const q = `
SELECT id, email, hashed_password, is_active
FROM users
WHERE email = ?
LIMIT 1
`
	var c Credential
	err := s.db.QueryRowContext(ctx, q, email).Scan(&c.UserID, &c.Email, &c.PasswordHash, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
