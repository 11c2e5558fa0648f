package store

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestStoreContractMattn(t *testing.T) {
	runContract(t, func(t *testing.T) *Store {
		t.Helper()
		db, err := sql.Open("sqlite3", ":memory:")
		if err != nil {
			t.Fatalf("open sqlite3: %v", err)
		}
		// One connection keeps the in-memory database shared across queries.
		db.SetMaxOpenConns(1)
		s, err := OpenDB(db)
		if err != nil {
			t.Fatalf("apply schema: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
