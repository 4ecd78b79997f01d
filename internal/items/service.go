package items

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
	cacheResource = "items"
	recentWindow  = 30 * 24 * time.Hour
	statsTopN     = 5
)

// Service implements the inventory operations: the shared view/modify gates
// plus tag linking and the equipped-by guard on delete.
type Service struct {
	repo   Repository
	cache  *cache.PageCache
	logger *slog.Logger
}

// NewService constructs the item service.
func NewService(repo Repository, pageCache *cache.PageCache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: pageCache, logger: logger}
}

// Get returns one item with its tags. PRIVATE rows are concealed as
// not-found for non-owners; HIDDEN rows and HIDDEN tags come back masked.
func (s *Service) Get(ctx context.Context, caller *access.Identity, id uuid.UUID) (*Item, error) {
	i, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if !access.CanView(caller, i.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: item %s", shared.ErrNotFound, id)
	}
	page := []Item{*i}
	if err := s.repo.LoadTags(ctx, page); err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	maskItem(caller, &page[0])
	return &page[0], nil
}

// List pages through the inventory visible to the caller. Anonymous results
// are served through the page cache.
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
	if q.Slot != "" {
		conds = append(conds, fmt.Sprintf("slot = $%d", argPos))
		args = append(args, q.Slot)
		argPos++
	}
	if q.Rarity != "" {
		conds = append(conds, fmt.Sprintf("rarity = $%d", argPos))
		args = append(args, q.Rarity)
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
			return nil, fmt.Errorf("list items: %w", err)
		}
		page, hasNext := cursor.Trim(rows, limit)
		if err := s.repo.LoadTags(ctx, page); err != nil {
			return nil, fmt.Errorf("load tags: %w", err)
		}
		// Mint the cursor before masking: a HIDDEN boundary row must
		// contribute its real sort value, not the placeholder.
		var next cursor.Cursor
		if hasNext {
			last := page[len(page)-1]
			next = cursor.Cursor{LastValue: last.CursorValue(sort.FieldName()), LastID: last.ID}
		}
		for n := range page {
			maskItem(caller, &page[n])
		}
		if page == nil {
			page = []Item{}
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

// Create persists a new item with its tag links. Every linked tag must exist
// and be viewable by the caller.
func (s *Service) Create(ctx context.Context, caller *access.Identity, req CreateRequest) (*Item, error) {
	owner := req.OwnerID
	if owner == nil && caller != nil {
		owner = &caller.ID
	}
	if !access.CanCreate(caller, owner) {
		if caller == nil {
			return nil, fmt.Errorf("%w: authentication required", shared.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: cannot create an item for another owner", shared.ErrForbidden)
	}

	i := Item{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		Slot:        Slot(req.Slot),
		Rarity:      Rarity(req.Rarity),
		ImageID:     req.ImageID,
		OwnerID:     owner,
		Visibility:  access.Visibility(req.Visibility),
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := ensureNameFree(ctx, repo, i.Name, uuid.Nil); err != nil {
			return err
		}
		if err := s.checkTags(ctx, repo, caller, req.TagIDs); err != nil {
			return err
		}
		if err := repo.Create(ctx, i); err != nil {
			return err
		}
		return repo.ReplaceTags(ctx, i.ID, req.TagIDs)
	})
	if err != nil {
		return nil, translateWriteError(err)
	}

	s.invalidate(ctx)
	return s.Get(ctx, caller, i.ID)
}

// Update patches an item behind the view and modify gates.
func (s *Service) Update(ctx context.Context, caller *access.Identity, id uuid.UUID, req UpdateRequest) (*Item, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if !access.CanView(caller, existing.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: item %s", shared.ErrNotFound, id)
	}
	if !access.CanModify(caller, existing.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: cannot modify this item", shared.ErrForbidden)
	}

	updates := make(map[string]any)
	if req.Name != nil && *req.Name != existing.Name {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Slot != nil {
		updates["slot"] = *req.Slot
	}
	if req.Rarity != nil {
		updates["rarity"] = *req.Rarity
	}
	if req.ImageID != nil {
		updates["image_id"] = *req.ImageID
	}
	if req.Visibility != nil {
		updates["visibility"] = *req.Visibility
	}
	if len(updates) == 0 && req.TagIDs == nil {
		page := []Item{*existing}
		if err := s.repo.LoadTags(ctx, page); err != nil {
			return nil, fmt.Errorf("load tags: %w", err)
		}
		maskItem(caller, &page[0])
		return &page[0], nil
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if name, ok := updates["name"]; ok {
			if err := ensureNameFree(ctx, repo, name.(string), id); err != nil {
				return err
			}
		}
		if len(updates) > 0 {
			if err := repo.Update(ctx, id, updates); err != nil {
				return err
			}
		}
		if req.TagIDs != nil {
			if err := s.checkTags(ctx, repo, caller, *req.TagIDs); err != nil {
				return err
			}
			return repo.ReplaceTags(ctx, id, *req.TagIDs)
		}
		return nil
	})
	if err != nil {
		return nil, translateWriteError(err)
	}

	s.invalidate(ctx)
	return s.Get(ctx, caller, id)
}

// Delete removes an item unless a character still has it equipped. The count
// runs in the delete transaction so an equip cannot race past it.
func (s *Service) Delete(ctx context.Context, caller *access.Identity, id uuid.UUID) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get item: %w", err)
	}
	if !access.CanView(caller, existing.AccessDescriptor()) {
		return fmt.Errorf("%w: item %s", shared.ErrNotFound, id)
	}
	if !access.CanModify(caller, existing.AccessDescriptor()) {
		return fmt.Errorf("%w: cannot delete this item", shared.ErrForbidden)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		equipped, err := repo.CountEquipped(ctx, id)
		if err != nil {
			return fmt.Errorf("count equipped: %w", err)
		}
		if equipped > 0 {
			return fmt.Errorf("%w: item is equipped by %d characters", shared.ErrConflict, equipped)
		}
		return repo.Delete(ctx, id)
	})
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: item is still referenced", shared.ErrConflict)
		}
		return err
	}

	s.invalidate(ctx)
	return nil
}

// Stats returns the privileged aggregate view of the inventory.
func (s *Service) Stats(ctx context.Context, caller *access.Identity) (*Stats, error) {
	if !caller.Privileged() {
		return nil, fmt.Errorf("%w: stats require a privileged caller", shared.ErrForbidden)
	}
	var out Stats
	err := s.cache.Fetch(ctx, s.statsKey(), &out, func() (any, error) {
		return s.repo.Stats(ctx, recentWindow, statsTopN)
	})
	if err != nil {
		return nil, fmt.Errorf("item stats: %w", err)
	}
	return &out, nil
}

// WarmStats precomputes the stats payload for the background warmup job.
func (s *Service) WarmStats(ctx context.Context) error {
	var out Stats
	return s.cache.Fetch(ctx, s.statsKey(), &out, func() (any, error) {
		return s.repo.Stats(ctx, recentWindow, statsTopN)
	})
}

func (s *Service) statsKey() string {
	return cache.ListKey(cacheResource, url.Values{"stats": []string{"1"}})
}

// checkTags verifies every linked tag exists and is viewable by the caller.
// Linking a tag you cannot see would leak its name back through the item.
func (s *Service) checkTags(ctx context.Context, repo Repository, caller *access.Identity, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	refs, err := repo.GetTagRefs(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolve tags: %w", err)
	}
	found := make(map[uuid.UUID]TagRef, len(refs))
	for _, ref := range refs {
		found[ref.ID] = ref
	}
	for _, id := range ids {
		ref, ok := found[id]
		if !ok || !access.CanView(caller, ref.AccessDescriptor()) {
			return fmt.Errorf("%w: unknown tag %s", shared.ErrValidation, id)
		}
	}
	return nil
}

func ensureNameFree(ctx context.Context, repo Repository, name string, exclude uuid.UUID) error {
	existing, err := repo.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("check item name: %w", err)
	}
	if existing.ID != exclude {
		return fmt.Errorf("%w: item name already exists", shared.ErrConflict)
	}
	return nil
}

func translateWriteError(err error) error {
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: item name already exists", shared.ErrConflict)
	}
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: referenced row does not exist", shared.ErrValidation)
	}
	return err
}

// maskItem masks the item itself, then its embedded tags independently. A
// HIDDEN tag stays masked even inside a fully visible item.
func maskItem(caller *access.Identity, i *Item) {
	access.Mask(caller, i)
	for n := range i.Tags {
		access.MaskEmbedded(caller, &i.Tags[n])
	}
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
	if q.Slot != "" {
		v.Set("slot", q.Slot)
	}
	if q.Rarity != "" {
		v.Set("rarity", q.Rarity)
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
