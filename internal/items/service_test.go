package items

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grimoire-api/internal/access"
	"github.com/noah-isme/grimoire-api/internal/platform/db"
	"github.com/noah-isme/grimoire-api/internal/shared"
)

type fakeRepo struct {
	items    map[uuid.UUID]*Item
	tags     map[uuid.UUID]TagRef
	links    map[uuid.UUID][]uuid.UUID
	equipped map[uuid.UUID]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		items:    make(map[uuid.UUID]*Item),
		tags:     make(map[uuid.UUID]TagRef),
		links:    make(map[uuid.UUID][]uuid.UUID),
		equipped: make(map[uuid.UUID]int),
	}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, f)
}

func (f *fakeRepo) Get(_ context.Context, id uuid.UUID) (*Item, error) {
	i, ok := f.items[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *i
	return &clone, nil
}

func (f *fakeRepo) GetByName(_ context.Context, name string) (*Item, error) {
	norm := shared.NormalizeName(name)
	for _, i := range f.items {
		if shared.NormalizeName(i.Name) == norm {
			clone := *i
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakeRepo) FindMany(_ context.Context, args db.ListArgs) ([]Item, error) {
	anonymousOnly := false
	for _, c := range args.Conds {
		if strings.Contains(c, "visibility IN") && !strings.Contains(c, "owner_id") {
			anonymousOnly = true
		}
	}
	var out []Item
	for _, i := range f.items {
		if anonymousOnly && i.Visibility == access.VisibilityPrivate {
			continue
		}
		out = append(out, *i)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID.String() > out[b].ID.String()
	})
	if len(out) > args.Limit {
		out = out[:args.Limit]
	}
	return out, nil
}

func (f *fakeRepo) Create(_ context.Context, i Item) error {
	now := time.Now()
	i.CreatedAt, i.UpdatedAt = now, now
	f.items[i.ID] = &i
	return nil
}

func (f *fakeRepo) Update(_ context.Context, id uuid.UUID, updates map[string]any) error {
	i, ok := f.items[id]
	if !ok {
		return shared.ErrNotFound
	}
	if v, ok := updates["name"]; ok {
		i.Name = v.(string)
	}
	if v, ok := updates["slot"]; ok {
		i.Slot = Slot(v.(string))
	}
	if v, ok := updates["rarity"]; ok {
		i.Rarity = Rarity(v.(string))
	}
	if v, ok := updates["visibility"]; ok {
		i.Visibility = access.Visibility(v.(string))
	}
	i.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.items[id]; !ok {
		return shared.ErrNotFound
	}
	delete(f.items, id)
	delete(f.links, id)
	return nil
}

func (f *fakeRepo) ReplaceTags(_ context.Context, itemID uuid.UUID, tagIDs []uuid.UUID) error {
	f.links[itemID] = append([]uuid.UUID(nil), tagIDs...)
	return nil
}

func (f *fakeRepo) LoadTags(_ context.Context, items []Item) error {
	for n := range items {
		items[n].Tags = []TagRef{}
		for _, tagID := range f.links[items[n].ID] {
			if ref, ok := f.tags[tagID]; ok {
				items[n].Tags = append(items[n].Tags, ref)
			}
		}
	}
	return nil
}

func (f *fakeRepo) GetTagRefs(_ context.Context, ids []uuid.UUID) ([]TagRef, error) {
	out := []TagRef{}
	for _, id := range ids {
		if ref, ok := f.tags[id]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (f *fakeRepo) CountEquipped(_ context.Context, id uuid.UUID) (int, error) {
	return f.equipped[id], nil
}

func (f *fakeRepo) Stats(_ context.Context, _ time.Duration, _ int) (*Stats, error) {
	stats := &Stats{
		ByVisibility: make(map[string]int),
		BySlot:       make(map[string]int),
		ByRarity:     make(map[string]int),
		TopEquipped:  []UsageEntry{},
	}
	for _, i := range f.items {
		stats.Total++
		stats.ByVisibility[string(i.Visibility)]++
		stats.BySlot[string(i.Slot)]++
		stats.ByRarity[string(i.Rarity)]++
	}
	return stats, nil
}

func newTestService(repo Repository) *Service {
	return NewService(repo, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func identity(role access.Role) *access.Identity {
	return &access.Identity{ID: uuid.New(), Role: role}
}

func seedItem(t *testing.T, repo *fakeRepo, owner *uuid.UUID, name string, vis access.Visibility) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, repo.Create(context.Background(), Item{
		ID: id, Name: name, Slot: SlotWeapon, Rarity: RarityCommon, OwnerID: owner, Visibility: vis,
	}))
	return id
}

func seedTag(repo *fakeRepo, owner *uuid.UUID, name string, vis access.Visibility) uuid.UUID {
	id := uuid.New()
	repo.tags[id] = TagRef{ID: id, Name: name, OwnerID: owner, Visibility: vis}
	return id
}

func TestGetMasksHiddenTagInsideVisibleItem(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)

	itemID := seedItem(t, repo, &owner.ID, "Ember Blade", access.VisibilityPublic)
	visible := seedTag(repo, &owner.ID, "fire", access.VisibilityPublic)
	hidden := seedTag(repo, &owner.ID, "cursed", access.VisibilityHidden)
	repo.links[itemID] = []uuid.UUID{visible, hidden}

	got, err := svc.Get(context.Background(), identity(access.RoleUser), itemID)
	require.NoError(t, err)
	require.Equal(t, "Ember Blade", got.Name)
	require.Len(t, got.Tags, 2)

	names := map[string]bool{}
	for _, tag := range got.Tags {
		names[tag.Name] = true
	}
	require.True(t, names["fire"])
	require.True(t, names[access.Masked])
	require.False(t, names["cursed"])

	// The owner sees the tag unmasked.
	got, err = svc.Get(context.Background(), owner, itemID)
	require.NoError(t, err)
	for _, tag := range got.Tags {
		require.NotEqual(t, access.Masked, tag.Name)
	}
}

func TestGetConcealsPrivateItem(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)
	id := seedItem(t, repo, &owner.ID, "Secret Dagger", access.VisibilityPrivate)

	_, err := svc.Get(context.Background(), identity(access.RoleUser), id)
	require.ErrorIs(t, err, shared.ErrNotFound)

	got, err := svc.Get(context.Background(), owner, id)
	require.NoError(t, err)
	require.Equal(t, "Secret Dagger", got.Name)
}

func TestCreateLinksTags(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	caller := identity(access.RoleUser)
	tag := seedTag(repo, &caller.ID, "sturdy", access.VisibilityPublic)

	i, err := svc.Create(context.Background(), caller, CreateRequest{
		Name: "Iron Helm", Slot: "HEAD", Rarity: "COMMON", Visibility: "PUBLIC",
		TagIDs: []uuid.UUID{tag},
	})
	require.NoError(t, err)
	require.Len(t, i.Tags, 1)
	require.Equal(t, "sturdy", i.Tags[0].Name)
	require.Equal(t, caller.ID, *i.OwnerID)
}

func TestCreateRejectsUnviewableTag(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	caller := identity(access.RoleUser)
	other := identity(access.RoleUser)
	private := seedTag(repo, &other.ID, "secret", access.VisibilityPrivate)

	_, err := svc.Create(context.Background(), caller, CreateRequest{
		Name: "Iron Helm", Slot: "HEAD", Rarity: "COMMON", Visibility: "PUBLIC",
		TagIDs: []uuid.UUID{private},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(context.Background(), caller, CreateRequest{
		Name: "Iron Helm", Slot: "HEAD", Rarity: "COMMON", Visibility: "PUBLIC",
		TagIDs: []uuid.UUID{uuid.New()},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateDuplicateNameConflicts(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	caller := identity(access.RoleUser)
	seedItem(t, repo, &caller.ID, "Iron Helm", access.VisibilityPublic)

	_, err := svc.Create(context.Background(), caller, CreateRequest{
		Name: "iron helm", Slot: "HEAD", Rarity: "COMMON", Visibility: "PUBLIC",
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestUpdateReplacesTagSet(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)
	itemID := seedItem(t, repo, &owner.ID, "Ember Blade", access.VisibilityPublic)
	old := seedTag(repo, &owner.ID, "fire", access.VisibilityPublic)
	next := seedTag(repo, &owner.ID, "ice", access.VisibilityPublic)
	repo.links[itemID] = []uuid.UUID{old}

	got, err := svc.Update(context.Background(), owner, itemID, UpdateRequest{
		TagIDs: &[]uuid.UUID{next},
	})
	require.NoError(t, err)
	require.Len(t, got.Tags, 1)
	require.Equal(t, "ice", got.Tags[0].Name)

	// Nil TagIDs leaves links untouched.
	newSlot := "CHEST"
	got, err = svc.Update(context.Background(), owner, itemID, UpdateRequest{Slot: &newSlot})
	require.NoError(t, err)
	require.Equal(t, SlotChest, got.Slot)
	require.Len(t, got.Tags, 1)
}

func TestUpdateGates(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)
	public := seedItem(t, repo, &owner.ID, "Public Blade", access.VisibilityPublic)
	private := seedItem(t, repo, &owner.ID, "Private Blade", access.VisibilityPrivate)
	name := "Renamed"

	_, err := svc.Update(context.Background(), identity(access.RoleUser), public, UpdateRequest{Name: &name})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Update(context.Background(), identity(access.RoleUser), private, UpdateRequest{Name: &name})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteEquippedConflicts(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)
	id := seedItem(t, repo, &owner.ID, "Ember Blade", access.VisibilityPublic)
	repo.equipped[id] = 2

	err := svc.Delete(context.Background(), owner, id)
	require.ErrorIs(t, err, shared.ErrConflict)

	repo.equipped[id] = 0
	require.NoError(t, svc.Delete(context.Background(), owner, id))
}

func TestListFiltersPrivateForAnonymous(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)
	seedItem(t, repo, &owner.ID, "Public Blade", access.VisibilityPublic)
	seedItem(t, repo, &owner.ID, "Private Blade", access.VisibilityPrivate)

	result, err := svc.List(context.Background(), nil, ListQuery{})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, "Public Blade", result.Items[0].Name)
}

func TestStatsRequiresPrivilege(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)
	seedItem(t, repo, &owner.ID, "Ember Blade", access.VisibilityPublic)

	_, err := svc.Stats(context.Background(), identity(access.RoleUser))
	require.ErrorIs(t, err, shared.ErrForbidden)

	stats, err := svc.Stats(context.Background(), identity(access.RoleAdmin))
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.BySlot["WEAPON"])
}
