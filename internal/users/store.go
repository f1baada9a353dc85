package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const selectUser = `SELECT id, first_name, last_name, email, is_active, registration_date FROM users`

func (s *Store) Insert(ctx context.Context, u *User, hash string) error {
	const q = `
	INSERT INTO users (first_name, last_name, email, hashed_password, is_active, registration_date)
	VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, u.FirstName, u.LastName, u.Email, hash, u.IsActive, u.RegistrationDate)
	if err != nil {
		return err
	}
	u.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.getOne(ctx, selectUser+` WHERE id = ?`, id)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, selectUser+` WHERE email = ?`, email)
}

func (s *Store) getOne(ctx context.Context, q string, arg any) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, q, arg).Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.IsActive, &u.RegistrationDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// List は activeOnly なら is_active = TRUE のみ
func (s *Store) List(ctx context.Context, activeOnly bool, limit, offset int, order string) ([]User, int64, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if activeOnly {
		where += ` AND is_active = ?`
		args = append(args, true)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`%s%s ORDER BY id %s LIMIT ? OFFSET ?`, selectUser, where, order)
	rows, err := s.db.QueryContext(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.IsActive, &u.RegistrationDate); err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

// Update は動的UPDATE。hash が空ならパスワードは変えない
func (s *Store) Update(ctx context.Context, id int64, in UpdateUserRequest, hash string) error {
	sets := []string{}
	args := []any{}
	if in.FirstName != nil {
		sets = append(sets, "first_name = ?")
		args = append(args, strings.TrimSpace(*in.FirstName))
	}
	if in.LastName != nil {
		sets = append(sets, "last_name = ?")
		args = append(args, strings.TrimSpace(*in.LastName))
	}
	if in.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, strings.TrimSpace(*in.Email))
	}
	if hash != "" {
		sets = append(sets, "hashed_password = ?")
		args = append(args, hash)
	}
	if in.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *in.IsActive)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE users SET %s WHERE id = ?`, strings.Join(sets, ", "))
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}
