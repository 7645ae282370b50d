package auth

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/flowwatch/flowwatch/internal/domain"
	"github.com/flowwatch/flowwatch/internal/repository"
	"github.com/flowwatch/flowwatch/pkg/config"
)

type fakeUserRepo struct {
	byEmail map[string]*domain.User
	byID    map[string]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byEmail: make(map[string]*domain.User),
		byID:    make(map[string]*domain.User),
	}
}

func (f *fakeUserRepo) CreateUser(_ context.Context, user *domain.User) error {
	if _, exists := f.byEmail[user.Email]; exists {
		return repository.ErrInvalidArgument
	}
	copied := *user
	f.byEmail[user.Email] = &copied
	f.byID[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	user, ok := f.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	user, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

func newTestService(users repository.UserRepository) Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg := config.ServerConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	}
	return New(users, logger, cfg)
}

func TestSignupThenLogin(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)

	user, tokens, err := svc.Signup(context.Background(), "ops@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatal("expected issued tokens")
	}
	if string(user.PasswordHash) == "correct horse" {
		t.Fatal("password must be hashed before storage")
	}

	_, loginTokens, err := svc.Login(context.Background(), "ops@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if loginTokens.AccessToken == "" {
		t.Fatal("expected access token on login")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)

	if _, _, err := svc.Signup(context.Background(), "ops@example.com", "correct horse"); err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "ops@example.com", "battery staple"); err == nil {
		t.Fatal("expected login failure for wrong password")
	}
	if _, _, err := svc.Login(context.Background(), "nobody@example.com", "x"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found for unknown email, got %v", err)
	}
}

func TestAuthorizeRoundTrip(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)

	user, tokens, err := svc.Signup(context.Background(), "ops@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}

	resolved, err := svc.Authorize(context.Background(), tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if resolved.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, resolved.ID)
	}

	if _, err := svc.Authorize(context.Background(), "not-a-token"); err == nil {
		t.Fatal("expected failure for malformed token")
	}
	if _, err := svc.Authorize(context.Background(), ""); err == nil {
		t.Fatal("expected failure for empty token")
	}
}
