package repositories

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/tenantcrm/crm/internal/store"
)

// pqUniqueViolation is the SQLSTATE for unique_violation
const pqUniqueViolation = "23505"

// wrapWriteErr maps unique violations to store.ErrConflict and wraps everything else
func wrapWriteErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return fmt.Errorf("%s: %w (%s)", op, store.ErrConflict, pqErr.Constraint)
	}
	return fmt.Errorf("%s: %w", op, err)
}
