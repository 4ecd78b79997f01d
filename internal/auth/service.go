package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/noah-isme/grimoire-api/internal/access"
	"github.com/noah-isme/grimoire-api/internal/shared"
	"github.com/noah-isme/grimoire-api/internal/users"
)

// Service implements registration and login on top of the account service.
type Service struct {
	accounts *users.Service
	tokens   *Tokens
	logger   *slog.Logger
}

// NewService constructs the auth service.
func NewService(accounts *users.Service, tokens *Tokens, logger *slog.Logger) *Service {
	return &Service{accounts: accounts, tokens: tokens, logger: logger}
}

// Register creates a USER account and returns it with a fresh token.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*users.User, string, error) {
	hash, err := users.HashPassword(req.Password)
	if err != nil {
		return nil, "", err
	}
	account := users.User{
		ID:           uuid.New(),
		Email:        req.Email,
		Username:     req.Username,
		Role:         access.RoleUser,
		PasswordHash: hash,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, "", err
	}
	token, err := s.tokens.Issue(access.Identity{ID: account.ID, Role: account.Role})
	if err != nil {
		return nil, "", err
	}
	account.PasswordHash = ""
	return &account, token, nil
}

// Login verifies credentials and mints a token. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*users.User, string, error) {
	account, err := s.accounts.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: invalid credentials", shared.ErrUnauthorized)
		}
		return nil, "", fmt.Errorf("lookup account: %w", err)
	}
	if !users.CheckPassword(account.PasswordHash, req.Password) {
		return nil, "", fmt.Errorf("%w: invalid credentials", shared.ErrUnauthorized)
	}
	token, err := s.tokens.Issue(access.Identity{ID: account.ID, Role: account.Role})
	if err != nil {
		return nil, "", err
	}
	return account, token, nil
}

// Me resolves the caller's own account.
func (s *Service) Me(ctx context.Context, caller *access.Identity) (*users.User, error) {
	if caller == nil {
		return nil, fmt.Errorf("%w: authentication required", shared.ErrUnauthorized)
	}
	return s.accounts.Get(ctx, caller, caller.ID)
}
