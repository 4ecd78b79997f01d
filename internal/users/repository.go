package users

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/grimoire-api/internal/platform/db"
	"github.com/noah-isme/grimoire-api/internal/shared"
)

// Repository is the account persistence contract. It accepts fully built
// filters from the service and applies no authorization of its own.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	FindMany(ctx context.Context, args db.ListArgs) ([]User, error)
	Create(ctx context.Context, u User) error
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountOwnedRows(ctx context.Context, id uuid.UUID) (int, error)
	Stats(ctx context.Context, recentWindow time.Duration) (*Stats, error)
}

// ownedTables are the resource tables whose owner_id references users. A
// user with surviving rows in any of them cannot be deleted.
var ownedTables = []string{
	"characters", "items", "images",
	"races", "archetypes", "perks", "skills", "tags",
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates the pgx-backed account repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const userColumns = "id, email, username, role, password_hash, created_at, updated_at"

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getBy(ctx, "id = $1", id)
}

func (r *repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getBy(ctx, "email_norm = $1", shared.NormalizeName(email))
}

func (r *repository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getBy(ctx, "username_norm = $1", shared.NormalizeName(username))
}

func (r *repository) getBy(ctx context.Context, cond string, arg any) (*User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE %s", userColumns, cond)
	row := r.pool.QueryRow(ctx, query, arg)
	u, err := scanUser(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func (r *repository) FindMany(ctx context.Context, args db.ListArgs) ([]User, error) {
	query := fmt.Sprintf("SELECT %s FROM users %s ORDER BY %s LIMIT %d",
		userColumns, db.WhereClause(args.Conds), args.OrderBy, args.Limit)

	rows, err := r.pool.Query(ctx, query, args.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, u User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, email_norm, username, username_norm, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, u.ID, u.Email, shared.NormalizeName(u.Email), u.Username, shared.NormalizeName(u.Username), u.Role, u.PasswordHash)
	return err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	query := "UPDATE users SET updated_at = NOW()"
	var args []any
	argPos := 1

	appendSet := func(col string, v any) {
		query += fmt.Sprintf(", %s = $%d", col, argPos)
		args = append(args, v)
		argPos++
	}
	if v, ok := updates["email"]; ok {
		appendSet("email", v)
		appendSet("email_norm", shared.NormalizeName(v.(string)))
	}
	if v, ok := updates["username"]; ok {
		appendSet("username", v)
		appendSet("username_norm", shared.NormalizeName(v.(string)))
	}
	if v, ok := updates["role"]; ok {
		appendSet("role", v)
	}
	if v, ok := updates["password_hash"]; ok {
		appendSet("password_hash", v)
	}

	query += fmt.Sprintf(" WHERE id = $%d", argPos)
	args = append(args, id)

	_, err := r.pool.Exec(ctx, query, args...)
	return err
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *repository) CountOwnedRows(ctx context.Context, id uuid.UUID) (int, error) {
	total := 0
	for _, table := range ownedTables {
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE owner_id = $1", table)
		var n int
		if err := r.pool.QueryRow(ctx, query, id).Scan(&n); err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (r *repository) Stats(ctx context.Context, recentWindow time.Duration) (*Stats, error) {
	stats := &Stats{ByRole: make(map[string]int)}

	rows, err := r.pool.Query(ctx, "SELECT role, COUNT(*) FROM users GROUP BY role")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		stats.ByRole[role] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM users WHERE created_at > NOW() - $1::interval",
		recentWindow.String(),
	).Scan(&stats.RecentSignups)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var updatedAt pgtype.Timestamptz
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Role, &u.PasswordHash, &u.CreatedAt, &updatedAt); err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		u.UpdatedAt = &updatedAt.Time
	}
	return &u, nil
}
