package images

import (
	"context"
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
	cacheResource = "images"
	recentWindow  = 30 * 24 * time.Hour

	// OrphanGracePeriod is how long an unreferenced image survives before
	// the background sweep may remove it.
	OrphanGracePeriod = 24 * time.Hour
)

// Service implements the image metadata operations. Images have no unique
// name; the storage key is the only uniqueness constraint and is enforced by
// the store.
type Service struct {
	repo   Repository
	cache  *cache.PageCache
	logger *slog.Logger
}

// NewService constructs the image service.
func NewService(repo Repository, pageCache *cache.PageCache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: pageCache, logger: logger}
}

// Get returns one image's metadata behind the view gate.
func (s *Service) Get(ctx context.Context, caller *access.Identity, id uuid.UUID) (*Image, error) {
	i, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	if !access.CanView(caller, i.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: image %s", shared.ErrNotFound, id)
	}
	access.Mask(caller, i)
	return i, nil
}

// List pages through image metadata visible to the caller.
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
		conds = append(conds, fmt.Sprintf("(filename ILIKE $%d OR alt ILIKE $%d)", argPos, argPos))
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
			return nil, fmt.Errorf("list images: %w", err)
		}
		page, hasNext := cursor.Trim(rows, limit)
		// Mint the cursor before masking: a HIDDEN boundary row must
		// contribute its real sort value, not the placeholder.
		var next cursor.Cursor
		if hasNext {
			last := page[len(page)-1]
			next = cursor.Cursor{LastValue: last.CursorValue(sort.FieldName()), LastID: last.ID}
		}
		for n := range page {
			access.Mask(caller, &page[n])
		}
		if page == nil {
			page = []Image{}
		}
		return &ListResponse{Items: page, Pagination: cursor.NewPageInfo(limit, hasNext, hadCursor, next)}, nil
	}

	if caller == nil {
		var out ListResponse
		if err := s.cache.Fetch(ctx, cache.ListKey(cacheResource, q.cacheValues()), &out, compute); err != nil {
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

// Create registers uploaded metadata. A duplicate storage key is a conflict.
func (s *Service) Create(ctx context.Context, caller *access.Identity, req CreateRequest) (*Image, error) {
	owner := req.OwnerID
	if owner == nil && caller != nil {
		owner = &caller.ID
	}
	if !access.CanCreate(caller, owner) {
		if caller == nil {
			return nil, fmt.Errorf("%w: authentication required", shared.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: cannot create an image for another owner", shared.ErrForbidden)
	}

	i := Image{
		ID:          uuid.New(),
		Filename:    req.Filename,
		ContentType: req.ContentType,
		ByteSize:    req.ByteSize,
		StorageKey:  req.StorageKey,
		Alt:         req.Alt,
		OwnerID:     owner,
		Visibility:  access.Visibility(req.Visibility),
	}
	if err := s.repo.Create(ctx, i); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: storage key already registered", shared.ErrConflict)
		}
		return nil, err
	}

	s.invalidate(ctx)
	return s.repo.Get(ctx, i.ID)
}

// Update patches metadata behind the view and modify gates.
func (s *Service) Update(ctx context.Context, caller *access.Identity, id uuid.UUID, req UpdateRequest) (*Image, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get image: %w", err)
	}
	if !access.CanView(caller, existing.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: image %s", shared.ErrNotFound, id)
	}
	if !access.CanModify(caller, existing.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: cannot modify this image", shared.ErrForbidden)
	}

	updates := make(map[string]any)
	if req.Filename != nil {
		updates["filename"] = *req.Filename
	}
	if req.Alt != nil {
		updates["alt"] = *req.Alt
	}
	if req.Visibility != nil {
		updates["visibility"] = *req.Visibility
	}
	if len(updates) == 0 {
		access.Mask(caller, existing)
		return existing, nil
	}

	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	updated, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload image: %w", err)
	}
	access.Mask(caller, updated)
	return updated, nil
}

// Delete removes an image unless items or characters still reference it.
func (s *Service) Delete(ctx context.Context, caller *access.Identity, id uuid.UUID) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get image: %w", err)
	}
	if !access.CanView(caller, existing.AccessDescriptor()) {
		return fmt.Errorf("%w: image %s", shared.ErrNotFound, id)
	}
	if !access.CanModify(caller, existing.AccessDescriptor()) {
		return fmt.Errorf("%w: cannot delete this image", shared.ErrForbidden)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		used, err := repo.CountReferences(ctx, id)
		if err != nil {
			return fmt.Errorf("count references: %w", err)
		}
		if used > 0 {
			return fmt.Errorf("%w: image is used by %d entities", shared.ErrConflict, used)
		}
		return repo.Delete(ctx, id)
	})
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: image is still referenced", shared.ErrConflict)
		}
		return err
	}

	s.invalidate(ctx)
	return nil
}

// SweepOrphans deletes unreferenced images older than the grace period.
// Called by the background job; returns how many rows were removed.
func (s *Service) SweepOrphans(ctx context.Context) (int, error) {
	removed, err := s.repo.DeleteOrphansBefore(ctx, time.Now().Add(-OrphanGracePeriod))
	if err != nil {
		return 0, fmt.Errorf("sweep orphan images: %w", err)
	}
	if removed > 0 {
		s.invalidate(ctx)
	}
	return removed, nil
}

// Stats returns the privileged aggregate view of the image store.
func (s *Service) Stats(ctx context.Context, caller *access.Identity) (*Stats, error) {
	if !caller.Privileged() {
		return nil, fmt.Errorf("%w: stats require a privileged caller", shared.ErrForbidden)
	}
	var out Stats
	err := s.cache.Fetch(ctx, s.statsKey(), &out, func() (any, error) {
		return s.repo.Stats(ctx, recentWindow)
	})
	if err != nil {
		return nil, fmt.Errorf("image stats: %w", err)
	}
	return &out, nil
}

// WarmStats precomputes the stats payload for the background warmup job.
func (s *Service) WarmStats(ctx context.Context) error {
	var out Stats
	return s.cache.Fetch(ctx, s.statsKey(), &out, func() (any, error) {
		return s.repo.Stats(ctx, recentWindow)
	})
}

func (s *Service) statsKey() string {
	return cache.ListKey(cacheResource, url.Values{"stats": []string{"1"}})
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, cacheResource); err != nil {
		s.logger.Warn("invalidate pages", slog.String("resource", cacheResource), slog.Any("error", err))
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
