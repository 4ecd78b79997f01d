package characters

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/grimoire-api/internal/items"
	"github.com/noah-isme/grimoire-api/internal/platform/db"
	"github.com/noah-isme/grimoire-api/internal/shared"
)

// RefTable names a catalog relation the repository can resolve refs from.
type RefTable string

const (
	RefRaces      RefTable = "races"
	RefArchetypes RefTable = "archetypes"
	RefPerks      RefTable = "perks"
	RefSkills     RefTable = "skills"
	RefTags       RefTable = "tags"
)

// Repository is the character persistence contract. Filters arrive fully
// built from the service; no authorization logic lives here.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id uuid.UUID) (*Character, error)
	GetByName(ctx context.Context, name string) (*Character, error)
	FindMany(ctx context.Context, args db.ListArgs) ([]Character, error)
	Create(ctx context.Context, c Character) error
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
	ReplacePerks(ctx context.Context, charID uuid.UUID, ids []uuid.UUID) error
	ReplaceSkills(ctx context.Context, charID uuid.UUID, ids []uuid.UUID) error
	ReplaceTags(ctx context.Context, charID uuid.UUID, ids []uuid.UUID) error
	LoadExpansion(ctx context.Context, c *Character) error
	GetRefs(ctx context.Context, table RefTable, ids []uuid.UUID) ([]Ref, error)
	GetItemRef(ctx context.Context, id uuid.UUID) (*EquippedItem, error)
	Equip(ctx context.Context, charID uuid.UUID, slot items.Slot, itemID uuid.UUID) error
	Unequip(ctx context.Context, charID uuid.UUID, slot items.Slot) error
	Stats(ctx context.Context, recentWindow time.Duration, topN int) (*Stats, error)
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository creates the pgx-backed character repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const characterColumns = "id, name, description, race_id, archetype_id, image_id, owner_id, visibility, created_at, updated_at"

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Character, error) {
	query := fmt.Sprintf("SELECT %s FROM characters WHERE id = $1", characterColumns)
	c, err := scanCharacter(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *repository) GetByName(ctx context.Context, name string) (*Character, error) {
	query := fmt.Sprintf("SELECT %s FROM characters WHERE name_norm = $1", characterColumns)
	c, err := scanCharacter(r.db.QueryRow(ctx, query, shared.NormalizeName(name)))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *repository) FindMany(ctx context.Context, args db.ListArgs) ([]Character, error) {
	query := fmt.Sprintf("SELECT %s FROM characters %s ORDER BY %s LIMIT %d",
		characterColumns, db.WhereClause(args.Conds), args.OrderBy, args.Limit)

	rows, err := r.db.Query(ctx, query, args.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, c Character) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO characters (id, name, name_norm, description, race_id, archetype_id, image_id, owner_id, visibility, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, c.ID, c.Name, shared.NormalizeName(c.Name), c.Description, c.RaceID, c.ArchetypeID, c.ImageID, c.OwnerID, c.Visibility)
	return err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	query := "UPDATE characters SET updated_at = NOW()"
	var args []any
	argPos := 1

	appendSet := func(col string, v any) {
		query += fmt.Sprintf(", %s = $%d", col, argPos)
		args = append(args, v)
		argPos++
	}
	if v, ok := updates["name"]; ok {
		appendSet("name", v)
		appendSet("name_norm", shared.NormalizeName(v.(string)))
	}
	for _, col := range []string{"description", "race_id", "archetype_id", "image_id", "visibility"} {
		if v, ok := updates[col]; ok {
			appendSet(col, v)
		}
	}

	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	_, err := r.db.Exec(ctx, query, args...)
	return err
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	for _, table := range []string{"character_perks", "character_skills", "character_tags", "character_equipment"} {
		if _, err := r.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE character_id = $1", table), id); err != nil {
			return err
		}
	}
	tag, err := r.db.Exec(ctx, "DELETE FROM characters WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) ReplacePerks(ctx context.Context, charID uuid.UUID, ids []uuid.UUID) error {
	return r.replaceLinks(ctx, "character_perks", "perk_id", charID, ids)
}

func (r *repository) ReplaceSkills(ctx context.Context, charID uuid.UUID, ids []uuid.UUID) error {
	return r.replaceLinks(ctx, "character_skills", "skill_id", charID, ids)
}

func (r *repository) ReplaceTags(ctx context.Context, charID uuid.UUID, ids []uuid.UUID) error {
	return r.replaceLinks(ctx, "character_tags", "tag_id", charID, ids)
}

func (r *repository) replaceLinks(ctx context.Context, table, column string, charID uuid.UUID, ids []uuid.UUID) error {
	if _, err := r.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE character_id = $1", table), charID); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := r.db.Exec(ctx,
			fmt.Sprintf("INSERT INTO %s (character_id, %s) VALUES ($1, $2)", table, column), charID, id); err != nil {
			return err
		}
	}
	return nil
}

// LoadExpansion populates the embedded race, archetype, link collections and
// equipment of one character.
func (r *repository) LoadExpansion(ctx context.Context, c *Character) error {
	if c.RaceID != nil {
		ref, err := r.getRef(ctx, RefRaces, *c.RaceID)
		if err != nil {
			return err
		}
		c.Race = ref
	}
	if c.ArchetypeID != nil {
		ref, err := r.getRef(ctx, RefArchetypes, *c.ArchetypeID)
		if err != nil {
			return err
		}
		c.Archetype = ref
	}

	var err error
	if c.Perks, err = r.loadLinks(ctx, "character_perks", "perk_id", RefPerks, c.ID); err != nil {
		return err
	}
	if c.Skills, err = r.loadLinks(ctx, "character_skills", "skill_id", RefSkills, c.ID); err != nil {
		return err
	}
	if c.Tags, err = r.loadLinks(ctx, "character_tags", "tag_id", RefTags, c.ID); err != nil {
		return err
	}
	return r.loadEquipment(ctx, c)
}

func (r *repository) loadLinks(ctx context.Context, table, column string, ref RefTable, charID uuid.UUID) ([]Ref, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT t.id, t.name, t.owner_id, t.visibility
		FROM %s l
		JOIN %s t ON t.id = l.%s
		WHERE l.character_id = $1
		ORDER BY t.name
	`, table, ref, column), charID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Ref{}
	for rows.Next() {
		ref, err := scanRef(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ref)
	}
	return out, rows.Err()
}

func (r *repository) loadEquipment(ctx context.Context, c *Character) error {
	rows, err := r.db.Query(ctx, `
		SELECT ce.slot, i.id, i.name, i.slot, i.rarity, i.owner_id, i.visibility
		FROM character_equipment ce
		JOIN items i ON i.id = ce.item_id
		WHERE ce.character_id = $1
	`, c.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	c.Equipment = make(map[items.Slot]*EquippedItem)
	for rows.Next() {
		var slot items.Slot
		var e EquippedItem
		var ownerID pgtype.UUID
		if err := rows.Scan(&slot, &e.ID, &e.Name, &e.Slot, &e.Rarity, &ownerID, &e.Visibility); err != nil {
			return err
		}
		if ownerID.Valid {
			id := uuid.UUID(ownerID.Bytes)
			e.OwnerID = &id
		}
		c.Equipment[slot] = &e
	}
	return rows.Err()
}

func (r *repository) getRef(ctx context.Context, table RefTable, id uuid.UUID) (*Ref, error) {
	refs, err := r.GetRefs(ctx, table, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return &refs[0], nil
}

// GetRefs resolves catalog ids to refs. Missing ids are absent from the
// result rather than an error.
func (r *repository) GetRefs(ctx context.Context, table RefTable, ids []uuid.UUID) ([]Ref, error) {
	if len(ids) == 0 {
		return []Ref{}, nil
	}
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT id, name, owner_id, visibility FROM %s WHERE id = ANY($1)", table), ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Ref{}
	for rows.Next() {
		ref, err := scanRef(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ref)
	}
	return out, rows.Err()
}

func (r *repository) GetItemRef(ctx context.Context, id uuid.UUID) (*EquippedItem, error) {
	var e EquippedItem
	var ownerID pgtype.UUID
	err := r.db.QueryRow(ctx,
		"SELECT id, name, slot, rarity, owner_id, visibility FROM items WHERE id = $1", id).
		Scan(&e.ID, &e.Name, &e.Slot, &e.Rarity, &ownerID, &e.Visibility)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if ownerID.Valid {
		oid := uuid.UUID(ownerID.Bytes)
		e.OwnerID = &oid
	}
	return &e, nil
}

// Equip upserts the slot assignment.
func (r *repository) Equip(ctx context.Context, charID uuid.UUID, slot items.Slot, itemID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO character_equipment (character_id, slot, item_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (character_id, slot) DO UPDATE SET item_id = EXCLUDED.item_id
	`, charID, slot, itemID)
	return err
}

func (r *repository) Unequip(ctx context.Context, charID uuid.UUID, slot items.Slot) error {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM character_equipment WHERE character_id = $1 AND slot = $2", charID, slot)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) Stats(ctx context.Context, recentWindow time.Duration, topN int) (*Stats, error) {
	stats := &Stats{
		ByVisibility:  make(map[string]int),
		TopRaces:      []UsageEntry{},
		TopArchetypes: []UsageEntry{},
	}

	rows, err := r.db.Query(ctx, "SELECT visibility, COUNT(*) FROM characters GROUP BY visibility")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var visibility string
		var n int
		if err := rows.Scan(&visibility, &n); err != nil {
			return nil, err
		}
		stats.ByVisibility[visibility] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM characters WHERE created_at > NOW() - $1::interval",
		recentWindow.String()).Scan(&stats.RecentCreated)
	if err != nil {
		return nil, err
	}

	if stats.TopRaces, err = r.topGrouped(ctx, "race_id", RefRaces, topN); err != nil {
		return nil, err
	}
	if stats.TopArchetypes, err = r.topGrouped(ctx, "archetype_id", RefArchetypes, topN); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *repository) topGrouped(ctx context.Context, column string, table RefTable, topN int) ([]UsageEntry, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT t.id, t.name, COUNT(*)::int AS uses
		FROM characters c
		JOIN %s t ON t.id = c.%s
		WHERE c.%s IS NOT NULL
		GROUP BY t.id, t.name
		ORDER BY uses DESC, t.name ASC
		LIMIT $1
	`, table, column, column), topN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []UsageEntry{}
	for rows.Next() {
		var e UsageEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Count); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row rowScanner) (*Character, error) {
	var c Character
	var description pgtype.Text
	var raceID, archetypeID, imageID, ownerID pgtype.UUID
	if err := row.Scan(&c.ID, &c.Name, &description, &raceID, &archetypeID,
		&imageID, &ownerID, &c.Visibility, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		c.Description = &description.String
	}
	c.RaceID = uuidPtr(raceID)
	c.ArchetypeID = uuidPtr(archetypeID)
	c.ImageID = uuidPtr(imageID)
	c.OwnerID = uuidPtr(ownerID)
	return &c, nil
}

func uuidPtr(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}

func scanRef(row rowScanner) (*Ref, error) {
	var ref Ref
	var ownerID pgtype.UUID
	if err := row.Scan(&ref.ID, &ref.Name, &ownerID, &ref.Visibility); err != nil {
		return nil, err
	}
	if ownerID.Valid {
		id := uuid.UUID(ownerID.Bytes)
		ref.OwnerID = &id
	}
	return &ref, nil
}
