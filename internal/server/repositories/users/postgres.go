package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shigotoin/authcore/internal/dbx"
	"github.com/shigotoin/authcore/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Credential) (*models.Credential, error) {

	query :=
		`INSERT INTO users (username, email, nickname, hashed_password, is_active, auth_method, password_is_temporary, password_expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		c.Username, c.Email, c.Nickname, c.HashedPassword, c.Active,
		c.AuthMethod, c.PasswordTemporary, c.PasswordExpiresAt).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return c, nil
}

// FindByUsernameOrEmail resolves an account by either unique column so a
// sign-in form can accept both.
func (r *PostgresRepository) FindByUsernameOrEmail(ctx context.Context, identifier string) (*models.Credential, error) {
	query :=
		`SELECT id, username, email, nickname, hashed_password, is_active, auth_method, password_is_temporary, password_expires_at, created_at, updated_at
		 FROM users
		 WHERE username = $1 OR email = $1
		 `

	c := &models.Credential{}
	err := r.db.QueryRowContext(ctx, query, identifier).Scan(
		&c.ID, &c.Username, &c.Email, &c.Nickname, &c.HashedPassword,
		&c.Active, &c.AuthMethod, &c.PasswordTemporary, &c.PasswordExpiresAt,
		&c.CreatedAt, &c.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return c, nil
}

func (r *PostgresRepository) Save(ctx context.Context, c *models.Credential) error {
	query :=
		`UPDATE users
		 SET email = $2, nickname = $3, hashed_password = $4, is_active = $5,
		     auth_method = $6, password_is_temporary = $7, password_expires_at = $8,
		     updated_at = now()
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query,
		c.ID, c.Email, c.Nickname, c.HashedPassword, c.Active,
		c.AuthMethod, c.PasswordTemporary, c.PasswordExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
