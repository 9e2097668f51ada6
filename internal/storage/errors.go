package storage

import (
	"strings"

	"github.com/patric-chuzhbe/emergency/internal/models"
)

// MapDBError maps unique-constraint violations from any supported driver to
// models.ErrDuplicate and returns other errors unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	le := strings.ToLower(err.Error())
	// Postgres unique_violation is SQLSTATE 23505, SQLite says "UNIQUE constraint failed".
	if strings.Contains(le, "unique") || strings.Contains(le, "duplicate") || strings.Contains(le, "23505") {
		return models.ErrDuplicate
	}
	return err
}
