package characters

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grimoire-api/internal/access"
	"github.com/noah-isme/grimoire-api/internal/items"
	"github.com/noah-isme/grimoire-api/internal/platform/db"
	"github.com/noah-isme/grimoire-api/internal/shared"
)

type fakeRepo struct {
	chars     map[uuid.UUID]*Character
	refs      map[RefTable]map[uuid.UUID]Ref
	itemRefs  map[uuid.UUID]EquippedItem
	perks     map[uuid.UUID][]uuid.UUID
	skills    map[uuid.UUID][]uuid.UUID
	tags      map[uuid.UUID][]uuid.UUID
	equipment map[uuid.UUID]map[items.Slot]uuid.UUID
}

func newFakeRepo() *fakeRepo {
	f := &fakeRepo{
		chars:     make(map[uuid.UUID]*Character),
		refs:      make(map[RefTable]map[uuid.UUID]Ref),
		itemRefs:  make(map[uuid.UUID]EquippedItem),
		perks:     make(map[uuid.UUID][]uuid.UUID),
		skills:    make(map[uuid.UUID][]uuid.UUID),
		tags:      make(map[uuid.UUID][]uuid.UUID),
		equipment: make(map[uuid.UUID]map[items.Slot]uuid.UUID),
	}
	for _, table := range []RefTable{RefRaces, RefArchetypes, RefPerks, RefSkills, RefTags} {
		f.refs[table] = make(map[uuid.UUID]Ref)
	}
	return f
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, f)
}

func (f *fakeRepo) Get(_ context.Context, id uuid.UUID) (*Character, error) {
	c, ok := f.chars[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (f *fakeRepo) GetByName(_ context.Context, name string) (*Character, error) {
	norm := shared.NormalizeName(name)
	for _, c := range f.chars {
		if shared.NormalizeName(c.Name) == norm {
			clone := *c
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (f *fakeRepo) FindMany(_ context.Context, args db.ListArgs) ([]Character, error) {
	anonymousOnly := false
	for _, c := range args.Conds {
		if strings.Contains(c, "visibility IN") && !strings.Contains(c, "owner_id") {
			anonymousOnly = true
		}
	}
	var out []Character
	for _, c := range f.chars {
		if anonymousOnly && c.Visibility == access.VisibilityPrivate {
			continue
		}
		out = append(out, *c)
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

func (f *fakeRepo) Create(_ context.Context, c Character) error {
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	f.chars[c.ID] = &c
	return nil
}

func (f *fakeRepo) Update(_ context.Context, id uuid.UUID, updates map[string]any) error {
	c, ok := f.chars[id]
	if !ok {
		return shared.ErrNotFound
	}
	if v, ok := updates["name"]; ok {
		c.Name = v.(string)
	}
	if v, ok := updates["visibility"]; ok {
		c.Visibility = access.Visibility(v.(string))
	}
	if v, ok := updates["race_id"]; ok {
		c.RaceID = uuidPtrFromUpdate(v)
	}
	if v, ok := updates["archetype_id"]; ok {
		c.ArchetypeID = uuidPtrFromUpdate(v)
	}
	if v, ok := updates["image_id"]; ok {
		c.ImageID = uuidPtrFromUpdate(v)
	}
	c.UpdatedAt = time.Now()
	return nil
}

func uuidPtrFromUpdate(v any) *uuid.UUID {
	if v == nil {
		return nil
	}
	id := v.(uuid.UUID)
	return &id
}

func (f *fakeRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.chars[id]; !ok {
		return shared.ErrNotFound
	}
	delete(f.chars, id)
	delete(f.perks, id)
	delete(f.skills, id)
	delete(f.tags, id)
	delete(f.equipment, id)
	return nil
}

func (f *fakeRepo) ReplacePerks(_ context.Context, charID uuid.UUID, ids []uuid.UUID) error {
	f.perks[charID] = append([]uuid.UUID(nil), ids...)
	return nil
}

func (f *fakeRepo) ReplaceSkills(_ context.Context, charID uuid.UUID, ids []uuid.UUID) error {
	f.skills[charID] = append([]uuid.UUID(nil), ids...)
	return nil
}

func (f *fakeRepo) ReplaceTags(_ context.Context, charID uuid.UUID, ids []uuid.UUID) error {
	f.tags[charID] = append([]uuid.UUID(nil), ids...)
	return nil
}

func (f *fakeRepo) LoadExpansion(_ context.Context, c *Character) error {
	if c.RaceID != nil {
		if ref, ok := f.refs[RefRaces][*c.RaceID]; ok {
			clone := ref
			c.Race = &clone
		}
	}
	if c.ArchetypeID != nil {
		if ref, ok := f.refs[RefArchetypes][*c.ArchetypeID]; ok {
			clone := ref
			c.Archetype = &clone
		}
	}
	c.Perks = f.collect(RefPerks, f.perks[c.ID])
	c.Skills = f.collect(RefSkills, f.skills[c.ID])
	c.Tags = f.collect(RefTags, f.tags[c.ID])
	c.Equipment = make(map[items.Slot]*EquippedItem)
	for slot, itemID := range f.equipment[c.ID] {
		if e, ok := f.itemRefs[itemID]; ok {
			clone := e
			c.Equipment[slot] = &clone
		}
	}
	return nil
}

func (f *fakeRepo) collect(table RefTable, ids []uuid.UUID) []Ref {
	out := []Ref{}
	for _, id := range ids {
		if ref, ok := f.refs[table][id]; ok {
			out = append(out, ref)
		}
	}
	return out
}

func (f *fakeRepo) GetRefs(_ context.Context, table RefTable, ids []uuid.UUID) ([]Ref, error) {
	out := []Ref{}
	for _, id := range ids {
		if ref, ok := f.refs[table][id]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetItemRef(_ context.Context, id uuid.UUID) (*EquippedItem, error) {
	e, ok := f.itemRefs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := e
	return &clone, nil
}

func (f *fakeRepo) Equip(_ context.Context, charID uuid.UUID, slot items.Slot, itemID uuid.UUID) error {
	if f.equipment[charID] == nil {
		f.equipment[charID] = make(map[items.Slot]uuid.UUID)
	}
	f.equipment[charID][slot] = itemID
	return nil
}

func (f *fakeRepo) Unequip(_ context.Context, charID uuid.UUID, slot items.Slot) error {
	if _, ok := f.equipment[charID][slot]; !ok {
		return shared.ErrNotFound
	}
	delete(f.equipment[charID], slot)
	return nil
}

func (f *fakeRepo) Stats(_ context.Context, _ time.Duration, _ int) (*Stats, error) {
	stats := &Stats{ByVisibility: make(map[string]int), TopRaces: []UsageEntry{}, TopArchetypes: []UsageEntry{}}
	for _, c := range f.chars {
		stats.Total++
		stats.ByVisibility[string(c.Visibility)]++
	}
	return stats, nil
}

func newTestService(repo Repository) *Service {
	return NewService(repo, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func identity(role access.Role) *access.Identity {
	return &access.Identity{ID: uuid.New(), Role: role}
}

func seedCharacter(t *testing.T, repo *fakeRepo, owner *uuid.UUID, name string, vis access.Visibility) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, repo.Create(context.Background(), Character{
		ID: id, Name: name, OwnerID: owner, Visibility: vis,
	}))
	return id
}

func seedRef(repo *fakeRepo, table RefTable, owner *uuid.UUID, name string, vis access.Visibility) uuid.UUID {
	id := uuid.New()
	repo.refs[table][id] = Ref{ID: id, Name: name, OwnerID: owner, Visibility: vis}
	return id
}

func seedItemRef(repo *fakeRepo, owner *uuid.UUID, name string, slot items.Slot, vis access.Visibility) uuid.UUID {
	id := uuid.New()
	repo.itemRefs[id] = EquippedItem{ID: id, Name: name, Slot: slot, Rarity: items.RarityCommon, OwnerID: owner, Visibility: vis}
	return id
}

func TestGetExpandsAndMasksEmbedded(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)

	race := seedRef(repo, RefRaces, nil, "Dwarf", access.VisibilityPublic)
	perk := seedRef(repo, RefPerks, &owner.ID, "Nightstalker", access.VisibilityHidden)
	charID := seedCharacter(t, repo, &owner.ID, "Brunhild", access.VisibilityPublic)
	repo.chars[charID].RaceID = &race
	repo.perks[charID] = []uuid.UUID{perk}

	got, err := svc.Get(context.Background(), identity(access.RoleUser), charID)
	require.NoError(t, err)
	require.Equal(t, "Brunhild", got.Name)
	require.NotNil(t, got.Race)
	require.Equal(t, "Dwarf", got.Race.Name)
	require.Len(t, got.Perks, 1)
	require.Equal(t, access.Masked, got.Perks[0].Name)

	// The owner sees the hidden perk unmasked.
	got, err = svc.Get(context.Background(), owner, charID)
	require.NoError(t, err)
	require.Equal(t, "Nightstalker", got.Perks[0].Name)
}

func TestGetRendersUnviewableEquippedItemAsPlaceholder(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)

	charID := seedCharacter(t, repo, &owner.ID, "Brunhild", access.VisibilityPublic)
	private := seedItemRef(repo, &owner.ID, "Secret Blade", items.SlotWeapon, access.VisibilityPrivate)
	repo.equipment[charID] = map[items.Slot]uuid.UUID{items.SlotWeapon: private}

	got, err := svc.Get(context.Background(), identity(access.RoleUser), charID)
	require.NoError(t, err)
	// The slot is occupied: placeholder, never null.
	require.NotNil(t, got.Equipment[items.SlotWeapon])
	require.Equal(t, access.Masked, got.Equipment[items.SlotWeapon].Name)

	got, err = svc.Get(context.Background(), owner, charID)
	require.NoError(t, err)
	require.Equal(t, "Secret Blade", got.Equipment[items.SlotWeapon].Name)
}

func TestCreateRejectsUnviewableRefs(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	caller := identity(access.RoleUser)
	other := identity(access.RoleUser)
	privateRace := seedRef(repo, RefRaces, &other.ID, "Shadowkin", access.VisibilityPrivate)

	_, err := svc.Create(context.Background(), caller, CreateRequest{
		Name: "Brunhild", Visibility: "PUBLIC", RaceID: &privateRace,
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	publicRace := seedRef(repo, RefRaces, nil, "Dwarf", access.VisibilityPublic)
	c, err := svc.Create(context.Background(), caller, CreateRequest{
		Name: "Brunhild", Visibility: "PUBLIC", RaceID: &publicRace,
	})
	require.NoError(t, err)
	require.Equal(t, "Dwarf", c.Race.Name)
}

func TestUpdateClearsNullableReferences(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)
	race := seedRef(repo, RefRaces, nil, "Dwarf", access.VisibilityPublic)
	charID := seedCharacter(t, repo, &owner.ID, "Brunhild", access.VisibilityPublic)
	repo.chars[charID].RaceID = &race

	// Omitting the field leaves the reference alone.
	name := "Brunhild the Bold"
	got, err := svc.Update(context.Background(), owner, charID, UpdateRequest{Name: &name})
	require.NoError(t, err)
	require.NotNil(t, got.Race)

	// Explicit null detaches it.
	got, err = svc.Update(context.Background(), owner, charID, UpdateRequest{RaceID: shared.NullableNull[uuid.UUID]()})
	require.NoError(t, err)
	require.Nil(t, got.Race)
	require.Nil(t, repo.chars[charID].RaceID)

	// A value re-attaches.
	got, err = svc.Update(context.Background(), owner, charID, UpdateRequest{RaceID: shared.NullableOf(race)})
	require.NoError(t, err)
	require.NotNil(t, got.Race)
	require.Equal(t, "Dwarf", got.Race.Name)
}

func TestUpdateRequestDistinguishesNullFromAbsent(t *testing.T) {
	var absent UpdateRequest
	require.NoError(t, json.Unmarshal([]byte(`{"name":"x"}`), &absent))
	require.False(t, absent.RaceID.Set)

	var cleared UpdateRequest
	require.NoError(t, json.Unmarshal([]byte(`{"raceId":null}`), &cleared))
	require.True(t, cleared.RaceID.Set)
	require.False(t, cleared.RaceID.Valid)

	id := uuid.New()
	var set UpdateRequest
	require.NoError(t, json.Unmarshal([]byte(`{"raceId":"`+id.String()+`"}`), &set))
	require.True(t, set.RaceID.Set)
	require.True(t, set.RaceID.Valid)
	require.Equal(t, id, set.RaceID.Value)
}

func TestEquipChecksSlotAndViewability(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)
	other := identity(access.RoleUser)
	charID := seedCharacter(t, repo, &owner.ID, "Brunhild", access.VisibilityPublic)

	helm := seedItemRef(repo, &owner.ID, "Iron Helm", items.SlotHead, access.VisibilityPublic)
	privateBlade := seedItemRef(repo, &other.ID, "Secret Blade", items.SlotWeapon, access.VisibilityPrivate)

	// Wrong slot.
	_, err := svc.Equip(context.Background(), owner, charID, items.SlotWeapon, helm)
	require.ErrorIs(t, err, shared.ErrValidation)

	// Unviewable item is indistinguishable from a missing one.
	_, err = svc.Equip(context.Background(), owner, charID, items.SlotWeapon, privateBlade)
	require.ErrorIs(t, err, shared.ErrValidation)

	// Non-owner cannot equip on someone else's character.
	_, err = svc.Equip(context.Background(), identity(access.RoleUser), charID, items.SlotHead, helm)
	require.ErrorIs(t, err, shared.ErrForbidden)

	got, err := svc.Equip(context.Background(), owner, charID, items.SlotHead, helm)
	require.NoError(t, err)
	require.Equal(t, "Iron Helm", got.Equipment[items.SlotHead].Name)

	// Equipping the slot again replaces the item.
	helm2 := seedItemRef(repo, &owner.ID, "Steel Helm", items.SlotHead, access.VisibilityPublic)
	got, err = svc.Equip(context.Background(), owner, charID, items.SlotHead, helm2)
	require.NoError(t, err)
	require.Equal(t, "Steel Helm", got.Equipment[items.SlotHead].Name)
}

func TestUnequipEmptySlotIsNotFound(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)
	charID := seedCharacter(t, repo, &owner.ID, "Brunhild", access.VisibilityPublic)

	_, err := svc.Unequip(context.Background(), owner, charID, items.SlotHead)
	require.ErrorIs(t, err, shared.ErrNotFound)

	helm := seedItemRef(repo, &owner.ID, "Iron Helm", items.SlotHead, access.VisibilityPublic)
	_, err = svc.Equip(context.Background(), owner, charID, items.SlotHead, helm)
	require.NoError(t, err)

	got, err := svc.Unequip(context.Background(), owner, charID, items.SlotHead)
	require.NoError(t, err)
	require.Nil(t, got.Equipment[items.SlotHead])
}

func TestEquipRejectsUnknownSlot(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)
	charID := seedCharacter(t, repo, &owner.ID, "Brunhild", access.VisibilityPublic)

	_, err := svc.Equip(context.Background(), owner, charID, items.Slot("BELT"), uuid.New())
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateReplacesLinkSets(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)
	charID := seedCharacter(t, repo, &owner.ID, "Brunhild", access.VisibilityPublic)

	sword := seedRef(repo, RefSkills, nil, "Swordplay", access.VisibilityPublic)
	smith := seedRef(repo, RefSkills, nil, "Smithing", access.VisibilityPublic)
	repo.skills[charID] = []uuid.UUID{sword}

	got, err := svc.Update(context.Background(), owner, charID, UpdateRequest{
		SkillIDs: &[]uuid.UUID{smith},
	})
	require.NoError(t, err)
	require.Len(t, got.Skills, 1)
	require.Equal(t, "Smithing", got.Skills[0].Name)

	// Nil collections stay untouched.
	newName := "Brunhild the Bold"
	got, err = svc.Update(context.Background(), owner, charID, UpdateRequest{Name: &newName})
	require.NoError(t, err)
	require.Equal(t, newName, got.Name)
	require.Len(t, got.Skills, 1)
}

func TestDeleteGatesAndCascades(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)
	charID := seedCharacter(t, repo, &owner.ID, "Brunhild", access.VisibilityPrivate)

	err := svc.Delete(context.Background(), identity(access.RoleUser), charID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.NoError(t, svc.Delete(context.Background(), owner, charID))
	_, stillThere := repo.chars[charID]
	require.False(t, stillThere)
}

func TestListConcealsPrivateFromAnonymous(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	owner := identity(access.RoleUser)
	seedCharacter(t, repo, &owner.ID, "Public Hero", access.VisibilityPublic)
	seedCharacter(t, repo, &owner.ID, "Private Hero", access.VisibilityPrivate)

	result, err := svc.List(context.Background(), nil, ListQuery{})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, "Public Hero", result.Items[0].Name)
}
