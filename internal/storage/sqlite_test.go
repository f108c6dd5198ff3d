package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	if ok, err := s.Has(ctx, KeyNotifications); err != nil || ok {
		t.Fatalf("has on empty db: ok = %v, err = %v", ok, err)
	}

	if err := s.Set(ctx, KeyNotifications, []byte(`[]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, KeyNotifications, []byte(`[{"id":"n1"}]`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	v, ok, err := s.Get(ctx, KeyNotifications)
	if err != nil || !ok {
		t.Fatalf("get: ok = %v, err = %v", ok, err)
	}
	if string(v) != `[{"id":"n1"}]` {
		t.Fatalf("value = %q, want last write", v)
	}

	if err := s.Delete(ctx, KeyNotifications); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := s.Has(ctx, KeyNotifications); ok {
		t.Fatal("key still present after delete")
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Set(ctx, KeyOfflineQueue, []byte(`[{"ts":1}]`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	v, ok, err := reopened.Get(ctx, KeyOfflineQueue)
	if err != nil || !ok {
		t.Fatalf("get after reopen: ok = %v, err = %v", ok, err)
	}
	if string(v) != `[{"ts":1}]` {
		t.Fatalf("value = %q, want persisted queue", v)
	}
}
