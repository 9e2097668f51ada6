package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/patric-chuzhbe/emergency/internal/models"
)

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           int64     `bun:"id,pk,autoincrement"`
	Name         string    `bun:"name,notnull"`
	Email        string    `bun:"email,notnull"`
	Phone        string    `bun:"phone,notnull"`
	PasswordHash string    `bun:"password_hash,notnull"`
	Role         string    `bun:"role,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

func userRowToModel(r userRow) *models.User {
	return &models.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		Phone:        r.Phone,
		PasswordHash: r.PasswordHash,
		Role:         models.Role(r.Role),
		CreatedAt:    r.CreatedAt,
	}
}

func userModelToRow(u *models.User) *userRow {
	return &userRow{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Phone:        u.Phone,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
	}
}

// CreateUser inserts u and sets its ID. A taken email yields models.ErrDuplicate.
func (s *Store) CreateUser(outerCtx context.Context, u *models.User) error {
	ctx, cancel := s.withTimeout(outerCtx)
	defer cancel()

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	row := userModelToRow(u)
	_, err := s.db.NewInsert().
		Model(row).
		Column("name", "email", "phone", "password_hash", "role", "created_at").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("in internal/storage/users.go/CreateUser(): error while inserting user: %w", MapDBError(err))
	}

	u.ID = row.ID

	return nil
}

// GetUserByID returns models.ErrNotFound when no user has the id.
func (s *Store) GetUserByID(outerCtx context.Context, id int64) (*models.User, error) {
	return s.getUser(outerCtx, "u.id = ?", id)
}

// GetUserByEmail looks the user up by the exact stored email.
func (s *Store) GetUserByEmail(outerCtx context.Context, email string) (*models.User, error) {
	return s.getUser(outerCtx, "u.email = ?", email)
}

func (s *Store) getUser(outerCtx context.Context, where string, arg interface{}) (*models.User, error) {
	ctx, cancel := s.withTimeout(outerCtx)
	defer cancel()

	var row userRow
	err := s.db.NewSelect().Model(&row).Where(where, arg).Limit(1).Scan(ctx)
	if isNoRows(err) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("in internal/storage/users.go/getUser(): error while selecting user: %w", err)
	}

	return userRowToModel(row), nil
}

// CountUsersByRole returns the number of accounts per role. Every known role
// is present in the result.
func (s *Store) CountUsersByRole(outerCtx context.Context) (map[models.Role]int, error) {
	ctx, cancel := s.withTimeout(outerCtx)
	defer cancel()

	var counts []struct {
		Role  string `bun:"role"`
		Count int    `bun:"count"`
	}
	err := s.db.NewRaw("SELECT role, COUNT(*) AS count FROM users GROUP BY role").Scan(ctx, &counts)
	if err != nil && !isNoRows(err) {
		return nil, fmt.Errorf("in internal/storage/users.go/CountUsersByRole(): error while counting users: %w", err)
	}

	result := make(map[models.Role]int, len(models.Roles))
	for _, r := range models.Roles {
		result[r] = 0
	}
	for _, c := range counts {
		result[models.Role(c.Role)] = c.Count
	}

	return result, nil
}
