package repositories

import (
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

const (
	orgID    = "6f1c1f9e-3a51-4c53-9d1b-0f2b8a1e7c10"
	memberID = "a3d2b8c4-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
)

var errDB = errors.New("db error")

func strPtr(s string) *string { return &s }

// newMockDB returns a sqlx handle over sqlmock; expectations are verified on cleanup
func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet sqlmock expectations: %v", err)
		}
		db.Close()
	})
	return sqlx.NewDb(db, "sqlmock"), mock
}
