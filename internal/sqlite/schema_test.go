package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eogum.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store.db.ExecContext(ctx, "UPDATE schema_version SET version = ?", schemaVersion+1); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = store.Close()

	if _, err := Open(ctx, path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestForeignKeysEnabledOnEveryConnection(t *testing.T) {
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "eogum.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	store.db.SetMaxIdleConns(0)
	for i := 0; i < 3; i++ {
		var on int
		if err := store.db.QueryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
			t.Fatalf("read pragma: %v", err)
		}
		if on != 1 {
			t.Fatalf("expected foreign_keys on for connection %d", i)
		}
	}
}
