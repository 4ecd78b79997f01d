package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grimoire-api/internal/platform/db"
	"github.com/noah-isme/grimoire-api/internal/shared"
	"github.com/noah-isme/grimoire-api/internal/users"
)

type fakeAccountRepo struct {
	rows map[uuid.UUID]users.User
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{rows: make(map[uuid.UUID]users.User)}
}

func (f *fakeAccountRepo) Get(_ context.Context, id uuid.UUID) (*users.User, error) {
	u, ok := f.rows[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &u, nil
}

func (f *fakeAccountRepo) GetByEmail(_ context.Context, email string) (*users.User, error) {
	norm := shared.NormalizeName(email)
	for _, u := range f.rows {
		if shared.NormalizeName(u.Email) == norm {
			match := u
			return &match, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakeAccountRepo) GetByUsername(_ context.Context, username string) (*users.User, error) {
	norm := shared.NormalizeName(username)
	for _, u := range f.rows {
		if shared.NormalizeName(u.Username) == norm {
			match := u
			return &match, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakeAccountRepo) FindMany(_ context.Context, _ db.ListArgs) ([]users.User, error) {
	return nil, nil
}

func (f *fakeAccountRepo) Create(_ context.Context, u users.User) error {
	u.CreatedAt = time.Now()
	f.rows[u.ID] = u
	return nil
}

func (f *fakeAccountRepo) Update(_ context.Context, _ uuid.UUID, _ map[string]any) error {
	return nil
}

func (f *fakeAccountRepo) Delete(_ context.Context, _ uuid.UUID) error { return nil }

func (f *fakeAccountRepo) CountOwnedRows(_ context.Context, _ uuid.UUID) (int, error) {
	return 0, nil
}

func (f *fakeAccountRepo) Stats(_ context.Context, _ time.Duration) (*users.Stats, error) {
	return &users.Stats{}, nil
}

func newTestService(t *testing.T) (*Service, *fakeAccountRepo, *Tokens) {
	t.Helper()
	repo := newFakeAccountRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	accounts := users.NewService(repo, nil, logger)
	tokens := NewTokens("test-secret", time.Hour)
	return NewService(accounts, tokens, logger), repo, tokens
}

func TestRegisterIssuesVerifiableToken(t *testing.T) {
	svc, repo, tokens := newTestService(t)

	account, raw, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "morgana@grimoire.local",
		Username: "morgana",
		Password: "swordfish123",
	})
	require.NoError(t, err)
	require.Empty(t, account.PasswordHash)

	id, err := tokens.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, account.ID, id.ID)

	stored, ok := repo.rows[account.ID]
	require.True(t, ok)
	require.True(t, users.CheckPassword(stored.PasswordHash, "swordfish123"))
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, err := svc.Register(context.Background(), RegisterRequest{
		Email: "morgana@grimoire.local", Username: "morgana", Password: "swordfish123",
	})
	require.NoError(t, err)

	_, _, err = svc.Register(context.Background(), RegisterRequest{
		Email: "MORGANA@grimoire.local", Username: "other", Password: "swordfish123",
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestLoginDoesNotLeakWhichCredentialFailed(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, err := svc.Register(context.Background(), RegisterRequest{
		Email: "morgana@grimoire.local", Username: "morgana", Password: "swordfish123",
	})
	require.NoError(t, err)

	_, _, unknownErr := svc.Login(context.Background(), LoginRequest{
		Email: "nobody@grimoire.local", Password: "swordfish123",
	})
	require.ErrorIs(t, unknownErr, shared.ErrUnauthorized)

	_, _, wrongErr := svc.Login(context.Background(), LoginRequest{
		Email: "morgana@grimoire.local", Password: "wrong-password",
	})
	require.ErrorIs(t, wrongErr, shared.ErrUnauthorized)

	require.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestLoginReturnsAccountAndToken(t *testing.T) {
	svc, _, tokens := newTestService(t)

	registered, _, err := svc.Register(context.Background(), RegisterRequest{
		Email: "morgana@grimoire.local", Username: "morgana", Password: "swordfish123",
	})
	require.NoError(t, err)

	account, raw, err := svc.Login(context.Background(), LoginRequest{
		Email: "morgana@grimoire.local", Password: "swordfish123",
	})
	require.NoError(t, err)
	require.Equal(t, registered.ID, account.ID)

	id, err := tokens.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, registered.ID, id.ID)
}

func TestMeRequiresAuthentication(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Me(context.Background(), nil)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}
