package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"modbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " None "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: error %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRecordBan(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	records := []BanRecord{
		{ChatID: -100, UserID: 7, UserName: "bob", Elapsed: 5 * time.Minute, Banned: true},
		{ChatID: -100, UserID: 8, Elapsed: 30 * time.Second, Banned: false, Error: "rights missing"},
	}
	for _, r := range records {
		if err := st.RecordBan(ctx, r); err != nil {
			t.Fatalf("RecordBan(%+v): %v", r, err)
		}
	}

	var n int
	row := st.(*sqliteStore).db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bans")
	if err := row.Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
}

func TestRecordBroadcast(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	r := BroadcastRecord{OperatorID: 42, Succeeded: 3, Failed: 1, ItemsPerChat: 2, TookMS: 1500}
	if err := st.RecordBroadcast(ctx, r); err != nil {
		t.Fatalf("RecordBroadcast: %v", err)
	}

	var succeeded, failed int
	row := st.(*sqliteStore).db.QueryRowContext(ctx,
		"SELECT succeeded, failed FROM broadcasts WHERE operator_id = 42")
	if err := row.Scan(&succeeded, &failed); err != nil {
		t.Fatalf("query: %v", err)
	}
	if succeeded != 3 || failed != 1 {
		t.Fatalf("stored %d/%d, want 3/1", succeeded, failed)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.db")
	for i := 0; i < 2; i++ {
		st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		if err := st.Close(); err != nil {
			t.Fatalf("close #%d: %v", i+1, err)
		}
	}
}
