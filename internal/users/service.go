package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/grimoire-api/internal/access"
	"github.com/noah-isme/grimoire-api/internal/cursor"
	"github.com/noah-isme/grimoire-api/internal/platform/cache"
	"github.com/noah-isme/grimoire-api/internal/platform/db"
	"github.com/noah-isme/grimoire-api/internal/shared"
)

const cacheResource = "users"

// recentWindow bounds the "recent signups" stat.
const recentWindow = 30 * 24 * time.Hour

// HashPassword derives the stored bcrypt hash for a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Service orchestrates account operations: projection for privacy, account
// patches, privileged stats and the in-use guard on delete.
type Service struct {
	repo   Repository
	cache  *cache.PageCache
	logger *slog.Logger
}

// NewService constructs the account service.
func NewService(repo Repository, pageCache *cache.PageCache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: pageCache, logger: logger}
}

// Get returns one account, projected for the viewer. Unknown ids are
// not-found; profiles themselves are viewable by anyone.
func (s *Service) Get(ctx context.Context, caller *access.Identity, id uuid.UUID) (*User, error) {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Project(caller)
	return u, nil
}

// List pages through accounts. Every row is listable; privacy comes from
// projection, the parallel of the visibility filter for resources that do
// not carry a visibility column.
func (s *Service) List(ctx context.Context, caller *access.Identity, q ListQuery) (*ListResponse, error) {
	sort, err := cursor.ParseSort(SortFields, q.SortBy, q.SortDir, "createdAt")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	limit := cursor.ClampLimit(q.Limit)

	var conds []string
	var args []any
	argPos := 1

	if q.Search != "" {
		pattern := "%" + q.Search + "%"
		if caller.Privileged() {
			conds = append(conds, fmt.Sprintf("(username ILIKE $%d OR email ILIKE $%d)", argPos, argPos))
		} else {
			conds = append(conds, fmt.Sprintf("username ILIKE $%d", argPos))
		}
		args = append(args, pattern)
		argPos++
	}

	hadCursor := q.Cursor != ""
	if hadCursor {
		c, err := cursor.Decode(q.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
		}
		cond, curArgs, next := sort.Predicate(c, "", argPos)
		conds = append(conds, cond)
		args = append(args, curArgs...)
		argPos = next
	}

	compute := func() (any, error) {
		rows, err := s.repo.FindMany(ctx, db.ListArgs{
			Conds:   conds,
			Args:    args,
			OrderBy: sort.OrderBy(""),
			Limit:   limit + 1,
		})
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		page, hasNext := cursor.Trim(rows, limit)
		// Mint the cursor before projection: Project nils UpdatedAt for
		// strangers, which would corrupt an updatedAt cursor.
		var next cursor.Cursor
		if hasNext {
			last := page[len(page)-1]
			next = cursor.Cursor{LastValue: last.CursorValue(sort.FieldName()), LastID: last.ID}
		}
		for i := range page {
			page[i].Project(caller)
		}
		if page == nil {
			page = []User{}
		}
		return &ListResponse{Items: page, Pagination: cursor.NewPageInfo(limit, hasNext, hadCursor, next)}, nil
	}

	if caller == nil {
		key := cache.ListKey(cacheResource, listCacheQuery(q))
		var out ListResponse
		if err := s.cache.Fetch(ctx, key, &out, compute); err != nil {
			return nil, err
		}
		return &out, nil
	}

	result, err := compute()
	if err != nil {
		return nil, err
	}
	return result.(*ListResponse), nil
}

// Update patches an account. Self-service for the holder, unrestricted for
// privileged callers; role changes always need privilege.
func (s *Service) Update(ctx context.Context, caller *access.Identity, id uuid.UUID, req UpdateUserRequest) (*User, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	self := caller != nil && caller.ID == existing.ID
	if !self && !caller.Privileged() {
		return nil, fmt.Errorf("%w: cannot modify another account", shared.ErrForbidden)
	}
	if req.Role != nil && !caller.Privileged() {
		return nil, fmt.Errorf("%w: role changes require a privileged caller", shared.ErrForbidden)
	}

	updates := make(map[string]any)
	if req.Username != nil && *req.Username != existing.Username {
		if err := s.ensureUsernameFree(ctx, *req.Username, id); err != nil {
			return nil, err
		}
		updates["username"] = *req.Username
	}
	if req.Email != nil && *req.Email != existing.Email {
		if err := s.ensureEmailFree(ctx, *req.Email, id); err != nil {
			return nil, err
		}
		updates["email"] = *req.Email
	}
	if req.Password != nil {
		hash, err := HashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		updates["password_hash"] = hash
	}
	if req.Role != nil {
		updates["role"] = *req.Role
	}

	if len(updates) > 0 {
		if err := s.repo.Update(ctx, id, updates); err != nil {
			if db.IsUniqueViolation(err) {
				return nil, fmt.Errorf("%w: username or email already taken", shared.ErrConflict)
			}
			return nil, fmt.Errorf("update user: %w", err)
		}
		s.invalidate(ctx)
	}

	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload user: %w", err)
	}
	updated.Project(caller)
	return updated, nil
}

// Delete removes an account. Privileged-only; refused while the user still
// owns resource rows so no owner reference can dangle.
func (s *Service) Delete(ctx context.Context, caller *access.Identity, id uuid.UUID) error {
	if !caller.Privileged() {
		return fmt.Errorf("%w: deleting accounts requires a privileged caller", shared.ErrForbidden)
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	owned, err := s.repo.CountOwnedRows(ctx, id)
	if err != nil {
		return fmt.Errorf("count owned rows: %w", err)
	}
	if owned > 0 {
		return fmt.Errorf("%w: user still owns %d resources", shared.ErrConflict, owned)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: user is still referenced", shared.ErrConflict)
		}
		return fmt.Errorf("delete user: %w", err)
	}
	s.invalidate(ctx)
	return nil
}

// Stats returns the privileged aggregate view of the user base.
func (s *Service) Stats(ctx context.Context, caller *access.Identity) (*Stats, error) {
	if !caller.Privileged() {
		return nil, fmt.Errorf("%w: stats require a privileged caller", shared.ErrForbidden)
	}
	stats, err := s.repo.Stats(ctx, recentWindow)
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	return stats, nil
}

// CreateAccount persists a new account after checking both unique handles.
// Used by the auth registration flow.
func (s *Service) CreateAccount(ctx context.Context, u User) error {
	if err := s.ensureUsernameFree(ctx, u.Username, uuid.Nil); err != nil {
		return err
	}
	if err := s.ensureEmailFree(ctx, u.Email, uuid.Nil); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: username or email already taken", shared.ErrConflict)
		}
		return fmt.Errorf("create user: %w", err)
	}
	s.invalidate(ctx)
	return nil
}

// GetByEmail resolves an account for credential checks.
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetByEmail(ctx, email)
}

func (s *Service) ensureUsernameFree(ctx context.Context, username string, exclude uuid.UUID) error {
	existing, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("check username: %w", err)
	}
	if existing.ID != exclude {
		return fmt.Errorf("%w: username already taken", shared.ErrConflict)
	}
	return nil
}

func (s *Service) ensureEmailFree(ctx context.Context, email string, exclude uuid.UUID) error {
	existing, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("check email: %w", err)
	}
	if existing.ID != exclude {
		return fmt.Errorf("%w: email already registered", shared.ErrConflict)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, cacheResource); err != nil {
		s.logger.Warn("invalidate user pages", slog.Any("error", err))
	}
}

func listCacheQuery(q ListQuery) url.Values {
	v := url.Values{}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.SortBy != "" {
		v.Set("sortBy", q.SortBy)
	}
	if q.SortDir != "" {
		v.Set("sortDir", q.SortDir)
	}
	v.Set("limit", strconv.Itoa(cursor.ClampLimit(q.Limit)))
	if q.Cursor != "" {
		v.Set("cursor", q.Cursor)
	}
	return v
}
