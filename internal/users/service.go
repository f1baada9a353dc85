package users

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/auth"
	"library-backend/internal/platform/db"
	"library-backend/internal/platform/page"
)

type Service struct {
	store *Store
	now   func() time.Time
}

func NewService(store *Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Create(ctx context.Context, in CreateUserRequest) (User, error) {
	u := User{
		FirstName:        strings.TrimSpace(in.FirstName),
		LastName:         strings.TrimSpace(in.LastName),
		Email:            strings.ToLower(strings.TrimSpace(in.Email)),
		IsActive:         true,
		RegistrationDate: s.now(),
	}
	if u.FirstName == "" || u.LastName == "" || u.Email == "" {
		return User{}, apierr.Invalid("first_name, last_name and email are required")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, apierr.Storage(err, "hash password")
	}
	if err := s.store.Insert(ctx, &u, hash); err != nil {
		if db.IsDuplicate(err) {
			return User{}, apierr.Conflict("email already registered")
		}
		return User{}, apierr.Storage(err, "insert user")
	}
	log.Printf("[INFO] user registered id=%d", u.ID)
	return u, nil
}

func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		return User{}, apierr.Storage(err, "get user")
	}
	if u == nil {
		return User{}, apierr.NotFound(fmt.Sprintf("user %d not found", id))
	}
	return *u, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, apierr.Invalid("email is required")
	}
	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return User{}, apierr.Storage(err, "get user")
	}
	if u == nil {
		return User{}, apierr.NotFound(fmt.Sprintf("user %q not found", email))
	}
	return *u, nil
}

func (s *Service) List(ctx context.Context, activeOnly bool, p page.Page) ([]User, int64, error) {
	p = p.Normalize()
	items, total, err := s.store.List(ctx, activeOnly, p.Limit, p.Offset, p.SQLOrder())
	if err != nil {
		return nil, 0, apierr.Storage(err, "list users")
	}
	return items, total, nil
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateUserRequest) (User, error) {
	if (in.FirstName != nil && strings.TrimSpace(*in.FirstName) == "") ||
		(in.LastName != nil && strings.TrimSpace(*in.LastName) == "") {
		return User{}, apierr.Invalid("names must not be blank")
	}
	if in.Email != nil {
		e := strings.ToLower(strings.TrimSpace(*in.Email))
		if e == "" {
			return User{}, apierr.Invalid("email must not be blank")
		}
		in.Email = &e
	}
	if _, err := s.Get(ctx, id); err != nil {
		return User{}, err
	}

	var hash string
	if in.Password != nil {
		h, err := auth.HashPassword(*in.Password)
		if err != nil {
			return User{}, apierr.Storage(err, "hash password")
		}
		hash = h
	}
	if err := s.store.Update(ctx, id, in, hash); err != nil {
		if db.IsDuplicate(err) {
			return User{}, apierr.Conflict("email already registered")
		}
		return User{}, apierr.Storage(err, "update user")
	}
	if in.IsActive != nil && !*in.IsActive {
		log.Printf("[INFO] user deactivated id=%d", id)
	}
	return s.Get(ctx, id)
}
