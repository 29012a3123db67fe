package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrDuplicate is returned when a write violates a unique constraint,
// e.g. a second Feedback row or a reused transcript sequence number
var ErrDuplicate = errors.New("duplicate key")

// pgUniqueViolation is the SQLSTATE of a unique constraint violation
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	// sqlite reports constraint failures as plain text when the translator is bypassed
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
