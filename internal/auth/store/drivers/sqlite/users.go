package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/aussiebroadwan/academy/internal/auth/domain"
	"github.com/aussiebroadwan/academy/internal/auth/store"
)

type usersRepo struct {
	q   *queries
	now func() time.Time
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row, err := r.q.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return mapUser(row), nil
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row, err := r.q.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return mapUser(row), nil
}

// CreateUser checks for the email first so the common duplicate case maps to
// ErrAlreadyExists without parsing driver errors. The unique index still
// guards against a concurrent insert.
func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	email := normalizeEmail(u.Email)

	n, err := r.q.CountUsersByEmail(ctx, email)
	if err != nil {
		return err
	}
	if n > 0 {
		return store.ErrAlreadyExists
	}

	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}

	err = r.q.CreateUser(ctx, createUserParams{
		ID:           u.ID,
		Email:        email,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		CreatedAt:    createdAt.UTC(),
	})
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID string, newHash string) error {
	n, err := r.q.UpdateUserPasswordHash(ctx, userID, newHash, r.now().UTC())
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *usersRepo) DeleteUser(ctx context.Context, userID string) error {
	n, err := r.q.DeleteUser(ctx, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
