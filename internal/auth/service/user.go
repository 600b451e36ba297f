package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/academy/internal/auth/domain"
	"github.com/aussiebroadwan/academy/internal/auth/store"
	"github.com/aussiebroadwan/academy/pkg/cryptox"
	"github.com/aussiebroadwan/academy/pkg/idx"
	"github.com/aussiebroadwan/academy/pkg/slogx"
)

const (
	maxUsernameLength = 64
	maxPasswordLength = 256
)

// UserService owns the credential side: accounts and password checks.
type UserService struct {
	Store store.CredentialStore

	// Now defaults to time.Now.
	Now func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

var _ IdentityLookup = (*UserService)(nil)

func (s *UserService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Register creates an account. The email is matched case-insensitively
// against existing accounts.
func (s *UserService) Register(ctx context.Context, email, username, password string) (domain.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return domain.User{}, err
	}
	username = strings.TrimSpace(username)
	if username == "" || len(username) > maxUsernameLength {
		return domain.User{}, fmt.Errorf("%w: username must be 1 to %d characters", ErrInvalidRequest, maxUsernameLength)
	}
	if len(password) < cryptox.MinPasswordLength || len(password) > maxPasswordLength {
		return domain.User{}, fmt.Errorf("%w: password must be %d to %d characters", ErrInvalidRequest, cryptox.MinPasswordLength, maxPasswordLength)
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.User{}, internal("hash password", err)
	}

	now := s.now()
	u := domain.User{
		ID:           idx.NewAt(now).String(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.Users().CreateUser(ctx, u)
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return domain.User{}, ErrEmailTaken
	}
	if err != nil {
		return domain.User{}, internal("create user", err)
	}

	slogx.FromContext(ctx).Info("user registered", slog.String("user_id", u.ID))
	return u, nil
}

// Authenticate checks an email and password pair. Unknown emails and wrong
// passwords both come back as ErrInvalidCredentials and take about as long.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	l := slogx.FromContext(ctx)

	email, err := normalizeEmail(email)
	if err != nil || password == "" || len(password) > maxPasswordLength {
		return domain.User{}, ErrInvalidCredentials
	}

	u, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		_ = cryptox.VerifyPassword(password, s.dummy())
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, internal("load user", err)
	}

	if err := cryptox.VerifyPassword(password, u.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			l.Error("stored password hash unreadable", slog.String("user_id", u.ID), slog.Any("error", err))
		}
		return domain.User{}, ErrInvalidCredentials
	}

	// Upgrade hashes made with older parameters while we have the password.
	if cryptox.NeedsRehash(u.PasswordHash) {
		if hash, err := cryptox.HashPassword(password); err == nil {
			if err := s.Store.Users().UpdatePasswordHash(ctx, u.ID, hash); err != nil {
				l.Warn("password rehash failed", slog.String("user_id", u.ID), slog.Any("error", err))
			} else {
				u.PasswordHash = hash
			}
		}
	}

	return u, nil
}

// Me returns the account behind an authenticated identity.
func (s *UserService) Me(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, internal("load user", err)
	}
	return u, nil
}

// LookupIdentity lets the session manager re-check users on refresh.
func (s *UserService) LookupIdentity(ctx context.Context, userID string) (domain.Identity, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.Identity{}, err
	}
	return u.Identity(), nil
}

func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = cryptox.HashPassword("not-a-real-password")
	})
	return s.dummyHash
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email address is not valid", ErrInvalidRequest)
	}
	return email, nil
}
