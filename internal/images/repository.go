package images

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

// Repository is the image persistence contract.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id uuid.UUID) (*Image, error)
	FindMany(ctx context.Context, args db.ListArgs) ([]Image, error)
	Create(ctx context.Context, i Image) error
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountReferences(ctx context.Context, id uuid.UUID) (int, error)
	DeleteOrphansBefore(ctx context.Context, cutoff time.Time) (int, error)
	Stats(ctx context.Context, recentWindow time.Duration) (*Stats, error)
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

// NewRepository creates the pgx-backed image repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const imageColumns = "id, filename, content_type, byte_size, storage_key, alt, owner_id, visibility, created_at, updated_at"

// orphanFilter matches images no item or character points at.
const orphanFilter = `
	NOT EXISTS (SELECT 1 FROM items WHERE items.image_id = images.id)
	AND NOT EXISTS (SELECT 1 FROM characters WHERE characters.image_id = images.id)`

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*Image, error) {
	query := fmt.Sprintf("SELECT %s FROM images WHERE id = $1", imageColumns)
	i, err := scanImage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return i, nil
}

func (r *repository) FindMany(ctx context.Context, args db.ListArgs) ([]Image, error) {
	query := fmt.Sprintf("SELECT %s FROM images %s ORDER BY %s LIMIT %d",
		imageColumns, db.WhereClause(args.Conds), args.OrderBy, args.Limit)

	rows, err := r.db.Query(ctx, query, args.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Image
	for rows.Next() {
		i, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, i Image) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO images (id, filename, content_type, byte_size, storage_key, alt, owner_id, visibility, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, i.ID, i.Filename, i.ContentType, i.ByteSize, i.StorageKey, i.Alt, i.OwnerID, i.Visibility)
	return err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	query := "UPDATE images SET updated_at = NOW()"
	var args []any
	argPos := 1

	for _, col := range []string{"filename", "alt", "visibility"} {
		if v, ok := updates[col]; ok {
			query += fmt.Sprintf(", %s = $%d", col, argPos)
			args = append(args, v)
			argPos++
		}
	}

	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	_, err := r.db.Exec(ctx, query, args...)
	return err
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM images WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) CountReferences(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM items WHERE image_id = $1)
		     + (SELECT COUNT(*) FROM characters WHERE image_id = $1)
	`, id).Scan(&n)
	return n, err
}

// DeleteOrphansBefore removes unreferenced images created before the cutoff.
// Used by the background sweep; the grace period keeps freshly uploaded rows
// alive while the owning entity is still being created.
func (r *repository) DeleteOrphansBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM images WHERE created_at < $1 AND "+orphanFilter, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repository) Stats(ctx context.Context, recentWindow time.Duration) (*Stats, error) {
	stats := &Stats{ByVisibility: make(map[string]int)}

	rows, err := r.db.Query(ctx,
		"SELECT visibility, COUNT(*), COALESCE(SUM(byte_size), 0) FROM images GROUP BY visibility")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var visibility string
		var n int
		var bytes int64
		if err := rows.Scan(&visibility, &n, &bytes); err != nil {
			return nil, err
		}
		stats.ByVisibility[visibility] = n
		stats.Total += n
		stats.TotalBytes += bytes
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM images WHERE created_at > NOW() - $1::interval",
		recentWindow.String()).Scan(&stats.RecentCreated)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx, "SELECT COUNT(*) FROM images WHERE "+orphanFilter).Scan(&stats.Orphans)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*Image, error) {
	var i Image
	var alt pgtype.Text
	var ownerID pgtype.UUID
	if err := row.Scan(&i.ID, &i.Filename, &i.ContentType, &i.ByteSize, &i.StorageKey,
		&alt, &ownerID, &i.Visibility, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	if alt.Valid {
		i.Alt = &alt.String
	}
	if ownerID.Valid {
		id := uuid.UUID(ownerID.Bytes)
		i.OwnerID = &id
	}
	return &i, nil
}
