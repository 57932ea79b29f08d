package store

import (
	"context"
	"database/sql"
	"testing"
)

func TestMigrate_AppliesOnce(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	applied := 0
	migs := []Migration{
		{
			Version:     1,
			Description: "create test table",
			Up: func(tx *sql.Tx) error {
				applied++
				_, err := tx.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`)
				return err
			},
		},
	}

	if err := s.Migrate(ctx, "test", migs); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := s.Migrate(ctx, "test", migs); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if applied != 1 {
		t.Errorf("migration applied %d times, want 1", applied)
	}
}

func TestMigrate_TracksComponentsSeparately(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	mk := func(table string) []Migration {
		return []Migration{
			{
				Version:     1,
				Description: "create " + table,
				Up: func(tx *sql.Tx) error {
					_, err := tx.Exec(`CREATE TABLE ` + table + ` (id INTEGER PRIMARY KEY)`)
					return err
				},
			},
		}
	}

	if err := s.Migrate(ctx, "a", mk("a_rows")); err != nil {
		t.Fatalf("migrate a: %v", err)
	}
	if err := s.Migrate(ctx, "b", mk("b_rows")); err != nil {
		t.Fatalf("migrate b: %v", err)
	}

	for _, table := range []string{"a_rows", "b_rows"} {
		var name string
		err := s.DB().QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}
}

func TestTx_RollsBackOnError(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if _, err := s.DB().Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	wantErr := sql.ErrConnDone
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (id) VALUES (1)`); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Tx error = %v, want %v", err, wantErr)
	}

	var count int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM t").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("rows after rollback = %d, want 0", count)
	}
}
