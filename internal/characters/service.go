package characters

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
	"github.com/noah-isme/grimoire-api/internal/items"
	"github.com/noah-isme/grimoire-api/internal/platform/cache"
	"github.com/noah-isme/grimoire-api/internal/platform/db"
	"github.com/noah-isme/grimoire-api/internal/shared"
)

const (
	cacheResource = "characters"
	recentWindow  = 30 * 24 * time.Hour
	statsTopN     = 5
)

// Service implements the character sheet operations: the shared view/modify
// gates, link management and the equipment slot assignments.
type Service struct {
	repo   Repository
	cache  *cache.PageCache
	logger *slog.Logger
}

// NewService constructs the character service.
func NewService(repo Repository, pageCache *cache.PageCache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: pageCache, logger: logger}
}

// Get returns the expanded view of one character: race, archetype, perks,
// skills, tags and equipment, each masked through the same engine as its own
// endpoint. An equipped item the caller cannot view renders as the masked
// placeholder; a null slot always means "empty".
func (s *Service) Get(ctx context.Context, caller *access.Identity, id uuid.UUID) (*Character, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	if !access.CanView(caller, c.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: character %s", shared.ErrNotFound, id)
	}
	if err := s.repo.LoadExpansion(ctx, c); err != nil {
		return nil, fmt.Errorf("expand character: %w", err)
	}
	maskCharacter(caller, c)
	return c, nil
}

// List pages through the roster visible to the caller. List rows stay flat;
// expansion is a single-read concern.
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
	if q.RaceID != "" {
		conds = append(conds, fmt.Sprintf("race_id = $%d", argPos))
		args = append(args, q.RaceID)
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
			return nil, fmt.Errorf("list characters: %w", err)
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
			page = []Character{}
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

// Create persists a new character with its links. Every referenced entity
// must exist and be viewable by the caller.
func (s *Service) Create(ctx context.Context, caller *access.Identity, req CreateRequest) (*Character, error) {
	owner := req.OwnerID
	if owner == nil && caller != nil {
		owner = &caller.ID
	}
	if !access.CanCreate(caller, owner) {
		if caller == nil {
			return nil, fmt.Errorf("%w: authentication required", shared.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: cannot create a character for another owner", shared.ErrForbidden)
	}

	c := Character{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		RaceID:      req.RaceID,
		ArchetypeID: req.ArchetypeID,
		ImageID:     req.ImageID,
		OwnerID:     owner,
		Visibility:  access.Visibility(req.Visibility),
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := ensureNameFree(ctx, repo, c.Name, uuid.Nil); err != nil {
			return err
		}
		if err := s.checkSingleRef(ctx, repo, caller, RefRaces, req.RaceID); err != nil {
			return err
		}
		if err := s.checkSingleRef(ctx, repo, caller, RefArchetypes, req.ArchetypeID); err != nil {
			return err
		}
		if err := s.checkRefs(ctx, repo, caller, RefPerks, req.PerkIDs); err != nil {
			return err
		}
		if err := s.checkRefs(ctx, repo, caller, RefSkills, req.SkillIDs); err != nil {
			return err
		}
		if err := s.checkRefs(ctx, repo, caller, RefTags, req.TagIDs); err != nil {
			return err
		}
		if err := repo.Create(ctx, c); err != nil {
			return err
		}
		if err := repo.ReplacePerks(ctx, c.ID, req.PerkIDs); err != nil {
			return err
		}
		if err := repo.ReplaceSkills(ctx, c.ID, req.SkillIDs); err != nil {
			return err
		}
		return repo.ReplaceTags(ctx, c.ID, req.TagIDs)
	})
	if err != nil {
		return nil, translateWriteError(err)
	}

	s.invalidate(ctx)
	return s.Get(ctx, caller, c.ID)
}

// Update patches a character behind the view and modify gates.
func (s *Service) Update(ctx context.Context, caller *access.Identity, id uuid.UUID, req UpdateRequest) (*Character, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	if !access.CanView(caller, existing.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: character %s", shared.ErrNotFound, id)
	}
	if !access.CanModify(caller, existing.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: cannot modify this character", shared.ErrForbidden)
	}

	updates := make(map[string]any)
	if req.Name != nil && *req.Name != existing.Name {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.RaceID.Set {
		updates["race_id"] = fkValue(req.RaceID)
	}
	if req.ArchetypeID.Set {
		updates["archetype_id"] = fkValue(req.ArchetypeID)
	}
	if req.ImageID.Set {
		updates["image_id"] = fkValue(req.ImageID)
	}
	if req.Visibility != nil {
		updates["visibility"] = *req.Visibility
	}
	hasLinks := req.PerkIDs != nil || req.SkillIDs != nil || req.TagIDs != nil
	if len(updates) == 0 && !hasLinks {
		return s.Get(ctx, caller, id)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if name, ok := updates["name"]; ok {
			if err := ensureNameFree(ctx, repo, name.(string), id); err != nil {
				return err
			}
		}
		if err := s.checkSingleRef(ctx, repo, caller, RefRaces, req.RaceID.Ptr()); err != nil {
			return err
		}
		if err := s.checkSingleRef(ctx, repo, caller, RefArchetypes, req.ArchetypeID.Ptr()); err != nil {
			return err
		}
		if len(updates) > 0 {
			if err := repo.Update(ctx, id, updates); err != nil {
				return err
			}
		}
		if req.PerkIDs != nil {
			if err := s.checkRefs(ctx, repo, caller, RefPerks, *req.PerkIDs); err != nil {
				return err
			}
			if err := repo.ReplacePerks(ctx, id, *req.PerkIDs); err != nil {
				return err
			}
		}
		if req.SkillIDs != nil {
			if err := s.checkRefs(ctx, repo, caller, RefSkills, *req.SkillIDs); err != nil {
				return err
			}
			if err := repo.ReplaceSkills(ctx, id, *req.SkillIDs); err != nil {
				return err
			}
		}
		if req.TagIDs != nil {
			if err := s.checkRefs(ctx, repo, caller, RefTags, *req.TagIDs); err != nil {
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

// Delete removes a character and its links. Nothing references characters,
// so there is no in-use conflict to guard.
func (s *Service) Delete(ctx context.Context, caller *access.Identity, id uuid.UUID) error {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get character: %w", err)
	}
	if !access.CanView(caller, existing.AccessDescriptor()) {
		return fmt.Errorf("%w: character %s", shared.ErrNotFound, id)
	}
	if !access.CanModify(caller, existing.AccessDescriptor()) {
		return fmt.Errorf("%w: cannot delete this character", shared.ErrForbidden)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx)
	return nil
}

// Equip assigns an item to an equipment slot. The caller must be able to
// modify the character and to view the item, and the item must fit the slot.
func (s *Service) Equip(ctx context.Context, caller *access.Identity, charID uuid.UUID, slot items.Slot, itemID uuid.UUID) (*Character, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: unknown equipment slot %q", shared.ErrValidation, slot)
	}
	existing, err := s.repo.Get(ctx, charID)
	if err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	if !access.CanView(caller, existing.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: character %s", shared.ErrNotFound, charID)
	}
	if !access.CanModify(caller, existing.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: cannot modify this character", shared.ErrForbidden)
	}

	item, err := s.repo.GetItemRef(ctx, itemID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown item %s", shared.ErrValidation, itemID)
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	// Equipping an unviewable item would leak its name back through the
	// expanded view, so it is indistinguishable from a missing item.
	if !access.CanView(caller, item.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: unknown item %s", shared.ErrValidation, itemID)
	}
	if item.Slot != slot {
		return nil, fmt.Errorf("%w: item fits slot %s, not %s", shared.ErrValidation, item.Slot, slot)
	}

	if err := s.repo.Equip(ctx, charID, slot, itemID); err != nil {
		return nil, fmt.Errorf("equip: %w", err)
	}
	s.invalidate(ctx)
	return s.Get(ctx, caller, charID)
}

// Unequip clears an equipment slot. An already-empty slot is not-found.
func (s *Service) Unequip(ctx context.Context, caller *access.Identity, charID uuid.UUID, slot items.Slot) (*Character, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: unknown equipment slot %q", shared.ErrValidation, slot)
	}
	existing, err := s.repo.Get(ctx, charID)
	if err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	if !access.CanView(caller, existing.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: character %s", shared.ErrNotFound, charID)
	}
	if !access.CanModify(caller, existing.AccessDescriptor()) {
		return nil, fmt.Errorf("%w: cannot modify this character", shared.ErrForbidden)
	}

	if err := s.repo.Unequip(ctx, charID, slot); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("%w: slot %s is empty", shared.ErrNotFound, slot)
		}
		return nil, fmt.Errorf("unequip: %w", err)
	}
	s.invalidate(ctx)
	return s.Get(ctx, caller, charID)
}

// Stats returns the privileged aggregate view of the roster.
func (s *Service) Stats(ctx context.Context, caller *access.Identity) (*Stats, error) {
	if !caller.Privileged() {
		return nil, fmt.Errorf("%w: stats require a privileged caller", shared.ErrForbidden)
	}
	var out Stats
	err := s.cache.Fetch(ctx, s.statsKey(), &out, func() (any, error) {
		return s.repo.Stats(ctx, recentWindow, statsTopN)
	})
	if err != nil {
		return nil, fmt.Errorf("character stats: %w", err)
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

// fkValue renders a nullable FK patch for the repository: explicit null
// clears the column.
func fkValue(n shared.Nullable[uuid.UUID]) any {
	if p := n.Ptr(); p != nil {
		return *p
	}
	return nil
}

func (s *Service) checkSingleRef(ctx context.Context, repo Repository, caller *access.Identity, table RefTable, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	return s.checkRefs(ctx, repo, caller, table, []uuid.UUID{*id})
}

// checkRefs verifies every referenced entity exists and is viewable by the
// caller. Linking what you cannot see would leak its name back through the
// expanded view.
func (s *Service) checkRefs(ctx context.Context, repo Repository, caller *access.Identity, table RefTable, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	refs, err := repo.GetRefs(ctx, table, ids)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", table, err)
	}
	found := make(map[uuid.UUID]Ref, len(refs))
	for _, ref := range refs {
		found[ref.ID] = ref
	}
	for _, id := range ids {
		ref, ok := found[id]
		if !ok || !access.CanView(caller, ref.AccessDescriptor()) {
			return fmt.Errorf("%w: unknown %s %s", shared.ErrValidation, table, id)
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
		return fmt.Errorf("check character name: %w", err)
	}
	if existing.ID != exclude {
		return fmt.Errorf("%w: character name already exists", shared.ErrConflict)
	}
	return nil
}

func translateWriteError(err error) error {
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: character name already exists", shared.ErrConflict)
	}
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: referenced row does not exist", shared.ErrValidation)
	}
	return err
}

// maskCharacter masks the sheet itself, then every embedded entity through
// its own descriptor. Embedded rows the caller cannot view render as the
// masked placeholder instead of being concealed.
func maskCharacter(caller *access.Identity, c *Character) {
	access.Mask(caller, c)
	if c.Race != nil {
		access.MaskEmbedded(caller, c.Race)
	}
	if c.Archetype != nil {
		access.MaskEmbedded(caller, c.Archetype)
	}
	for n := range c.Perks {
		access.MaskEmbedded(caller, &c.Perks[n])
	}
	for n := range c.Skills {
		access.MaskEmbedded(caller, &c.Skills[n])
	}
	for n := range c.Tags {
		access.MaskEmbedded(caller, &c.Tags[n])
	}
	for _, equipped := range c.Equipment {
		access.MaskEmbedded(caller, equipped)
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
	if q.RaceID != "" {
		v.Set("raceId", q.RaceID)
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
