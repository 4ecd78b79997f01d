package items

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/grimoire-api/internal/platform/db"
	"github.com/noah-isme/grimoire-api/internal/shared"
)

// Repository is the item persistence contract. Filters arrive fully built
// from the service; no authorization logic lives here.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id uuid.UUID) (*Item, error)
	GetByName(ctx context.Context, name string) (*Item, error)
	FindMany(ctx context.Context, args db.ListArgs) ([]Item, error)
	Create(ctx context.Context, i Item) error
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
	ReplaceTags(ctx context.Context, itemID uuid.UUID, tagIDs []uuid.UUID) error
	LoadTags(ctx context.Context, items []Item) error
	GetTagRefs(ctx context.Context, ids []uuid.UUID) ([]TagRef, error)
	CountEquipped(ctx context.Context, id uuid.UUID) (int, error)
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

// NewRepository creates the pgx-backed item repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const itemColumns = "id, name, description, slot, rarity, image_id, owner_id, visibility, created_at, updated_at"

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	query := fmt.Sprintf("SELECT %s FROM items WHERE id = $1", itemColumns)
	i, err := scanItem(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return i, nil
}

func (r *repository) GetByName(ctx context.Context, name string) (*Item, error) {
	query := fmt.Sprintf("SELECT %s FROM items WHERE name_norm = $1", itemColumns)
	i, err := scanItem(r.db.QueryRow(ctx, query, shared.NormalizeName(name)))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return i, nil
}

func (r *repository) FindMany(ctx context.Context, args db.ListArgs) ([]Item, error) {
	query := fmt.Sprintf("SELECT %s FROM items %s ORDER BY %s LIMIT %d",
		itemColumns, db.WhereClause(args.Conds), args.OrderBy, args.Limit)

	rows, err := r.db.Query(ctx, query, args.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, i Item) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO items (id, name, name_norm, description, slot, rarity, image_id, owner_id, visibility, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, i.ID, i.Name, shared.NormalizeName(i.Name), i.Description, i.Slot, i.Rarity, i.ImageID, i.OwnerID, i.Visibility)
	return err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	query := "UPDATE items SET updated_at = NOW()"
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
	for _, col := range []string{"description", "slot", "rarity", "image_id", "visibility"} {
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
	if _, err := r.db.Exec(ctx, "DELETE FROM item_tags WHERE item_id = $1", id); err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, "DELETE FROM items WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ReplaceTags swaps the tag link set wholesale. Called inside the same
// transaction as the item write.
func (r *repository) ReplaceTags(ctx context.Context, itemID uuid.UUID, tagIDs []uuid.UUID) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM item_tags WHERE item_id = $1", itemID); err != nil {
		return err
	}
	for _, tagID := range tagIDs {
		if _, err := r.db.Exec(ctx,
			"INSERT INTO item_tags (item_id, tag_id) VALUES ($1, $2)", itemID, tagID); err != nil {
			return err
		}
	}
	return nil
}

// LoadTags attaches tag refs to a page of items with one query.
func (r *repository) LoadTags(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	index := make(map[uuid.UUID]int, len(items))
	ids := make([]uuid.UUID, len(items))
	for n := range items {
		items[n].Tags = []TagRef{}
		index[items[n].ID] = n
		ids[n] = items[n].ID
	}

	rows, err := r.db.Query(ctx, `
		SELECT it.item_id, t.id, t.name, t.owner_id, t.visibility
		FROM item_tags it
		JOIN tags t ON t.id = it.tag_id
		WHERE it.item_id = ANY($1)
		ORDER BY t.name
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var itemID uuid.UUID
		ref, err := scanTagRef(rows, &itemID)
		if err != nil {
			return err
		}
		if n, ok := index[itemID]; ok {
			items[n].Tags = append(items[n].Tags, *ref)
		}
	}
	return rows.Err()
}

// GetTagRefs resolves tag ids to refs, in no particular order. Missing ids
// are simply absent from the result.
func (r *repository) GetTagRefs(ctx context.Context, ids []uuid.UUID) ([]TagRef, error) {
	if len(ids) == 0 {
		return []TagRef{}, nil
	}
	rows, err := r.db.Query(ctx,
		"SELECT id, name, owner_id, visibility FROM tags WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TagRef{}
	for rows.Next() {
		ref, err := scanTagRef(rows, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, *ref)
	}
	return out, rows.Err()
}

func (r *repository) CountEquipped(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM character_equipment WHERE item_id = $1", id).Scan(&n)
	return n, err
}

func (r *repository) Stats(ctx context.Context, recentWindow time.Duration, topN int) (*Stats, error) {
	stats := &Stats{
		ByVisibility: make(map[string]int),
		BySlot:       make(map[string]int),
		ByRarity:     make(map[string]int),
		TopEquipped:  []UsageEntry{},
	}

	rows, err := r.db.Query(ctx, "SELECT visibility, slot, rarity FROM items")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var visibility, slot, rarity string
		if err := rows.Scan(&visibility, &slot, &rarity); err != nil {
			return nil, err
		}
		stats.Total++
		stats.ByVisibility[visibility]++
		stats.BySlot[slot]++
		stats.ByRarity[rarity]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM items WHERE created_at > NOW() - $1::interval",
		recentWindow.String()).Scan(&stats.RecentCreated)
	if err != nil {
		return nil, err
	}

	rows, err = r.db.Query(ctx, `
		SELECT i.id, i.name, COUNT(*)::int AS uses
		FROM character_equipment ce
		JOIN items i ON i.id = ce.item_id
		GROUP BY i.id, i.name
		ORDER BY uses DESC, i.name ASC
		LIMIT $1
	`, topN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e UsageEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Count); err != nil {
			return nil, err
		}
		stats.TopEquipped = append(stats.TopEquipped, e)
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var i Item
	var description pgtype.Text
	var imageID, ownerID pgtype.UUID
	if err := row.Scan(&i.ID, &i.Name, &description, &i.Slot, &i.Rarity,
		&imageID, &ownerID, &i.Visibility, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		i.Description = &description.String
	}
	if imageID.Valid {
		id := uuid.UUID(imageID.Bytes)
		i.ImageID = &id
	}
	if ownerID.Valid {
		id := uuid.UUID(ownerID.Bytes)
		i.OwnerID = &id
	}
	i.Tags = []TagRef{}
	return &i, nil
}

// scanTagRef scans a tag ref row; when itemID is non-nil it is scanned as the
// leading column (the LoadTags join shape).
func scanTagRef(row rowScanner, itemID *uuid.UUID) (*TagRef, error) {
	var ref TagRef
	var ownerID pgtype.UUID
	dest := []any{&ref.ID, &ref.Name, &ownerID, &ref.Visibility}
	if itemID != nil {
		dest = append([]any{itemID}, dest...)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if ownerID.Valid {
		id := uuid.UUID(ownerID.Bytes)
		ref.OwnerID = &id
	}
	return &ref, nil
}
