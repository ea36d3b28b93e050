package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"leadflow.org/internal/auth"
)

// UserStore implements auth.UserStore on PostgreSQL.
type UserStore struct {
	db *sql.DB
}

var _ auth.UserStore = (*UserStore)(nil)

// NewUserStore wraps an existing connection, typically Store.DB().
func NewUserStore(db *sql.DB) *UserStore { return &UserStore{db: db} }

const userColumns = `id, name, email, password_hash, role, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	var u auth.User
	var role string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	u.Role = auth.ParseRole(role)
	return &u, nil
}

func (s *UserStore) Create(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users(`+userColumns+`)
		values($1,$2,$3,$4,$5,$6,$7)
	`, u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt, u.UpdatedAt)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return auth.ErrConflict
	}
	return err
}

func (s *UserStore) Find(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email=$1`,
		strings.ToLower(email))
	return scanUser(row)
}

func (s *UserStore) List(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at, id`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var users []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, storeErr(rows.Err())
}
