package store

import (
	"context"
	"database/sql"
	"errors"

	"jewelcraft/internal/models"

	"github.com/google/uuid"
)

const userColumns = `id, username, email, password_hash, role, created_at`

// CreateUser inserts a staff account
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	err := s.db.GetContext(ctx, &user.CreatedAt, `
		INSERT INTO users (id, username, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.Role)
	return translateError(err)
}

// GetUserByEmail looks a user up by login email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email)
}

// GetUserByID looks a user up by ID
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
}

func (s *Store) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers returns all accounts, oldest first
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	err := s.db.SelectContext(ctx, &users, "SELECT "+userColumns+" FROM users ORDER BY created_at, id")
	return users, err
}

// CountUsersByRole returns how many accounts hold role
func (s *Store) CountUsersByRole(ctx context.Context, role string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM users WHERE role = $1", role)
	return n, err
}
