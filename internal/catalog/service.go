package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/grimoire-api/internal/access"
	"github.com/noah-isme/grimoire-api/internal/cursor"
	"github.com/noah-isme/grimoire-api/internal/platform/cache"
	"github.com/noah-isme/grimoire-api/internal/platform/db"
	"github.com/noah-isme/grimoire-api/internal/shared"
)

const (
	recentWindow = 30 * 24 * time.Hour
	statsTopN    = 5
)

// Service applies the resource template to one catalog resource: view-gate
// then mask on reads, security filter on lists, uniqueness and in-use
// guards on writes.
type Service struct {
	def    Definition
	repo   Repository
	cache  *cache.PageCache
	logger *slog.Logger
}

// NewService constructs the service for one catalog definition.
func NewService(def Definition, repo Repository, pageCache *cache.PageCache, logger *slog.Logger) *Service {
	return &Service{def: def, repo: repo, cache: pageCache, logger: logger}
}

// Definition exposes the resource parameters, used by routing and jobs.
func (s *Service) Definition() Definition { return s.def }

// Get returns one row. An unviewable PRIVATE row is reported as not-found so
// its existence stays concealed; a HIDDEN row comes back masked.
func (s *Service) Get(ctx context.Context, caller *access.Identity, id uuid.UUID) (*Entity, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.def.Singular, err)
	}
	if !access.CanView(caller, e.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: %s %s", shared.ErrNotFound, s.def.Singular, id)
	}
	access.Mask(caller, e)
	return e, nil
}

// List pages through rows the caller may see, masking HIDDEN content after
// retrieval. Anonymous results are served through the page cache.
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
		conds = append(conds, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+q.Search+"%")
		argPos++
	}
	if q.Visibility != "" {
		conds = append(conds, fmt.Sprintf("visibility = $%d", argPos))
		args = append(args, q.Visibility)
		argPos++
	}

	if cond, secArgs, next := access.Condition(caller, "", argPos); cond != "" {
		conds = append(conds, cond)
		args = append(args, secArgs...)
		argPos = next
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
			return nil, fmt.Errorf("list %s: %w", s.def.Path, err)
		}
		page, hasNext := cursor.Trim(rows, limit)
		// Mint the cursor before masking: a HIDDEN boundary row must
		// contribute its real sort value, not the placeholder.
		var next cursor.Cursor
		if hasNext {
			last := page[len(page)-1]
			next = cursor.Cursor{LastValue: last.CursorValue(sort.FieldName()), LastID: last.ID}
		}
		for i := range page {
			access.Mask(caller, &page[i])
		}
		if page == nil {
			page = []Entity{}
		}
		return &ListResponse{Items: page, Pagination: cursor.NewPageInfo(limit, hasNext, hadCursor, next)}, nil
	}

	if caller == nil {
		var out ListResponse
		if err := s.cache.Fetch(ctx, cache.ListKey(s.def.Path, q.cacheValues()), &out, compute); err != nil {
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

// Create persists a new row owned by the caller, or by an explicit owner
// when the caller is privileged. Names are unique per resource.
func (s *Service) Create(ctx context.Context, caller *access.Identity, req CreateRequest) (*Entity, error) {
	owner := req.OwnerID
	if owner == nil && caller != nil {
		owner = &caller.ID
	}
	if !access.CanCreate(caller, owner) {
		if caller == nil {
			return nil, fmt.Errorf("%w: authentication required", shared.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: cannot create %s for another owner", shared.ErrForbidden, s.def.Singular)
	}

	e := Entity{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     owner,
		Visibility:  access.Visibility(req.Visibility),
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := s.ensureNameFree(ctx, repo, e.Name, uuid.Nil); err != nil {
			return err
		}
		return repo.Create(ctx, e)
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s name already exists", shared.ErrConflict, s.def.Singular)
		}
		return nil, err
	}

	s.invalidate(ctx)
	return s.repo.Get(ctx, e.ID)
}

// Update patches a row behind the two gates: not-found when the caller may
// not even see it, forbidden when seen but not owned.
func (s *Service) Update(ctx context.Context, caller *access.Identity, id uuid.UUID, req UpdateRequest) (*Entity, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.def.Singular, err)
	}
	if !access.CanView(caller, existing.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: %s %s", shared.ErrNotFound, s.def.Singular, id)
	}
	if !access.CanModify(caller, existing.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: cannot modify this %s", shared.ErrForbidden, s.def.Singular)
	}

	updates := make(map[string]any)
	if req.Name != nil && *req.Name != existing.Name {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Visibility != nil {
		updates["visibility"] = *req.Visibility
	}
	if len(updates) == 0 {
		access.Mask(caller, existing)
		return existing, nil
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if name, ok := updates["name"]; ok {
			if err := s.ensureNameFree(ctx, repo, name.(string), id); err != nil {
				return err
			}
		}
		return repo.Update(ctx, id, updates)
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s name already exists", shared.ErrConflict, s.def.Singular)
		}
		return nil, err
	}

	s.invalidate(ctx)
	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload %s: %w", s.def.Singular, err)
	}
	access.Mask(caller, updated)
	return updated, nil
}

// Delete removes a row unless other entities still reference it. The count
// and the delete run in one transaction so a concurrent reference cannot
// slip in between.
func (s *Service) Delete(ctx context.Context, caller *access.Identity, id uuid.UUID) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get %s: %w", s.def.Singular, err)
	}
	if !access.CanView(caller, existing.AccessDescriptor()) {
		return fmt.Errorf("%w: %s %s", shared.ErrNotFound, s.def.Singular, id)
	}
	if !access.CanModify(caller, existing.AccessDescriptor()) {
		return fmt.Errorf("%w: cannot delete this %s", shared.ErrForbidden, s.def.Singular)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		used, err := repo.CountReferences(ctx, id)
		if err != nil {
			return fmt.Errorf("count references: %w", err)
		}
		if used > 0 {
			return fmt.Errorf("%w: %s is in use by %d entities", shared.ErrConflict, s.def.Singular, used)
		}
		return repo.Delete(ctx, id)
	})
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: %s is still referenced", shared.ErrConflict, s.def.Singular)
		}
		return err
	}

	s.invalidate(ctx)
	return nil
}

// Stats returns the privileged aggregate view, cached briefly because the
// usage ranking touches every relation table.
func (s *Service) Stats(ctx context.Context, caller *access.Identity) (*Stats, error) {
	if !caller.Privileged() {
		return nil, fmt.Errorf("%w: stats require a privileged caller", shared.ErrForbidden)
	}
	var out Stats
	err := s.cache.Fetch(ctx, s.statsKey(), &out, func() (any, error) {
		return s.repo.Stats(ctx, recentWindow, statsTopN)
	})
	if err != nil {
		return nil, fmt.Errorf("%s stats: %w", s.def.Singular, err)
	}
	return &out, nil
}

// WarmStats precomputes the stats payload, used by the background warmup job.
func (s *Service) WarmStats(ctx context.Context) error {
	var out Stats
	return s.cache.Fetch(ctx, s.statsKey(), &out, func() (any, error) {
		return s.repo.Stats(ctx, recentWindow, statsTopN)
	})
}

func (s *Service) statsKey() string {
	return cache.ListKey(s.def.Path, url.Values{"stats": []string{"1"}})
}

func (s *Service) ensureNameFree(ctx context.Context, repo Repository, name string, exclude uuid.UUID) error {
	existing, err := repo.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("check %s name: %w", s.def.Singular, err)
	}
	if existing.ID != exclude {
		return fmt.Errorf("%w: %s name already exists", shared.ErrConflict, s.def.Singular)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, s.def.Path); err != nil {
		s.logger.Warn("invalidate pages", slog.String("resource", s.def.Path), slog.Any("error", err))
	}
}

func (q ListQuery) cacheValues() url.Values {
	v := url.Values{}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Visibility != "" {
		v.Set("visibility", q.Visibility)
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
