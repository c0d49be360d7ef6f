package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// handlePSQLError maps driver errors onto the package errors.
func handlePSQLError(err error, description string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return ErrDuplicateKey
		case "foreign_key_violation", "invalid_text_representation", "check_violation":
			return fmt.Errorf("%s: %w", description, ErrInvalidData)
		}
	}

	return fmt.Errorf("%s: %w", description, err)
}
