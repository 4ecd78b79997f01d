package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/grimoire-api/internal/platform/db"
	"github.com/noah-isme/grimoire-api/internal/shared"
)

// Repository is the persistence contract of one catalog resource. Filters
// arrive fully built from the service; no authorization happens here.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id uuid.UUID) (*Entity, error)
	GetByName(ctx context.Context, name string) (*Entity, error)
	FindMany(ctx context.Context, args db.ListArgs) ([]Entity, error)
	Create(ctx context.Context, e Entity) error
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountReferences(ctx context.Context, id uuid.UUID) (int, error)
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
	def  Definition
}

// NewRepository creates the pgx-backed repository for one catalog resource.
func NewRepository(pool *pgxpool.Pool, def Definition) Repository {
	return &repository{db: pool, pool: pool, def: def}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool, def: r.def})
	})
}

const entityColumns = "id, name, description, owner_id, visibility, created_at, updated_at"

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Entity, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", entityColumns, r.def.Table)
	e, err := scanEntity(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *repository) GetByName(ctx context.Context, name string) (*Entity, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE name_norm = $1", entityColumns, r.def.Table)
	e, err := scanEntity(r.db.QueryRow(ctx, query, shared.NormalizeName(name)))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *repository) FindMany(ctx context.Context, args db.ListArgs) ([]Entity, error) {
	query := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY %s LIMIT %d",
		entityColumns, r.def.Table, db.WhereClause(args.Conds), args.OrderBy, args.Limit)

	rows, err := r.db.Query(ctx, query, args.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, e Entity) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, name_norm, description, owner_id, visibility, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, r.def.Table)
	_, err := r.db.Exec(ctx, query, e.ID, e.Name, shared.NormalizeName(e.Name), e.Description, e.OwnerID, e.Visibility)
	return err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	query := fmt.Sprintf("UPDATE %s SET updated_at = NOW()", r.def.Table)
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
	if v, ok := updates["description"]; ok {
		appendSet("description", v)
	}
	if v, ok := updates["visibility"]; ok {
		appendSet("visibility", v)
	}

	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	_, err := r.db.Exec(ctx, query, args...)
	return err
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", r.def.Table)
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) CountReferences(ctx context.Context, id uuid.UUID) (int, error) {
	total := 0
	for _, ref := range r.def.Refs {
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = $1", ref.Table, ref.Column)
		var n int
		if err := r.db.QueryRow(ctx, query, id).Scan(&n); err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (r *repository) Stats(ctx context.Context, recentWindow time.Duration, topN int) (*Stats, error) {
	stats := &Stats{ByVisibility: make(map[string]int), TopUsed: []UsageEntry{}}

	query := fmt.Sprintf("SELECT visibility, COUNT(*) FROM %s GROUP BY visibility", r.def.Table)
	rows, err := r.db.Query(ctx, query)
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

	query = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE created_at > NOW() - $1::interval", r.def.Table)
	if err := r.db.QueryRow(ctx, query, recentWindow.String()).Scan(&stats.RecentCreated); err != nil {
		return nil, err
	}

	top, err := r.topUsed(ctx, topN)
	if err != nil {
		return nil, err
	}
	stats.TopUsed = top
	return stats, nil
}

// topUsed sums reference counts across all relation tables and resolves the
// names of the leaders.
func (r *repository) topUsed(ctx context.Context, topN int) ([]UsageEntry, error) {
	if len(r.def.Refs) == 0 || topN <= 0 {
		return []UsageEntry{}, nil
	}

	var unions []string
	for _, ref := range r.def.Refs {
		unions = append(unions, fmt.Sprintf(
			"SELECT %s AS ref_id, COUNT(*) AS n FROM %s WHERE %s IS NOT NULL GROUP BY %s",
			ref.Column, ref.Table, ref.Column, ref.Column))
	}
	query := fmt.Sprintf(`
		SELECT u.ref_id, t.name, SUM(u.n)::int AS uses
		FROM (%s) u
		JOIN %s t ON t.id = u.ref_id
		GROUP BY u.ref_id, t.name
		ORDER BY uses DESC, t.name ASC
		LIMIT $1
	`, strings.Join(unions, " UNION ALL "), r.def.Table)

	rows, err := r.db.Query(ctx, query, topN)
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

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var description pgtype.Text
	var ownerID pgtype.UUID
	if err := row.Scan(&e.ID, &e.Name, &description, &ownerID, &e.Visibility, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		e.Description = &description.String
	}
	if ownerID.Valid {
		owner := uuid.UUID(ownerID.Bytes)
		e.OwnerID = &owner
	}
	return &e, nil
}
