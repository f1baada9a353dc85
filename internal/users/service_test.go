package users

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/dbtest"
	"library-backend/internal/platform/page"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(NewStore(dbtest.Open(t).DB))
}

func newUser(email string) CreateUserRequest {
	return CreateUserRequest{FirstName: "Ada", LastName: "Lovelace", Email: email, Password: "correct horse"}
}

func ptr[T any](v T) *T { return &v }

func TestCreateAndLookup(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.Create(ctx, newUser(" Ada@Example.com "))
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.True(t, u.IsActive)
	assert.NotZero(t, u.ID)

	_, err = svc.Create(ctx, newUser("ada@example.com"))
	assert.True(t, errors.Is(err, apierr.ErrConflict))

	got, err := svc.GetByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = svc.GetByEmail(ctx, "nobody@example.com")
	assert.True(t, errors.Is(err, apierr.ErrNotFound))

	_, err = svc.Get(ctx, 999)
	assert.True(t, errors.Is(err, apierr.ErrNotFound))

	_, err = svc.Create(ctx, CreateUserRequest{FirstName: " ", LastName: "x", Email: "b@example.com", Password: "12345678"})
	assert.True(t, errors.Is(err, apierr.ErrInvalidArgument))
}

func TestUpdateAndActiveList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	a, err := svc.Create(ctx, newUser("a@example.com"))
	require.NoError(t, err)
	b, err := svc.Create(ctx, newUser("b@example.com"))
	require.NoError(t, err)

	up, err := svc.Update(ctx, b.ID, UpdateUserRequest{IsActive: ptr(false), FirstName: ptr("Grace")})
	require.NoError(t, err)
	assert.False(t, up.IsActive)
	assert.Equal(t, "Grace", up.FirstName)

	active, total, err := svc.List(ctx, true, page.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	_, total, err = svc.List(ctx, false, page.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	_, err = svc.Update(ctx, b.ID, UpdateUserRequest{Email: ptr("a@example.com")})
	assert.True(t, errors.Is(err, apierr.ErrConflict))

	_, err = svc.Update(ctx, b.ID, UpdateUserRequest{LastName: ptr("")})
	assert.True(t, errors.Is(err, apierr.ErrInvalidArgument))

	_, err = svc.Update(ctx, 404, UpdateUserRequest{FirstName: ptr("x")})
	assert.True(t, errors.Is(err, apierr.ErrNotFound))
}
