package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"omnichat/internal/config"
	"omnichat/internal/platform"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestKVStoreUpsertAndIsolation(t *testing.T) {
	db := openTestDB(t)
	store, err := NewKVStore(db, "sqlite3")
	if err != nil {
		t.Fatalf("new kv store: %v", err)
	}
	ctx := context.Background()
	alice := store.ForUser("1")
	bob := store.ForUser("2")

	if _, found, err := alice.Get(ctx, "omnichat_sessions"); err != nil || found {
		t.Fatalf("expected absent key, found=%v err=%v", found, err)
	}
	if err := alice.Set(ctx, "omnichat_sessions", "[1]"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := alice.Set(ctx, "omnichat_sessions", "[2]"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, found, err := alice.Get(ctx, "omnichat_sessions")
	if err != nil || !found || got != "[2]" {
		t.Fatalf("unexpected value %q found=%v err=%v", got, found, err)
	}
	if _, found, _ := bob.Get(ctx, "omnichat_sessions"); found {
		t.Fatalf("value leaked across users")
	}
}

func TestKVStoreUnsupportedDriver(t *testing.T) {
	if _, err := NewKVStore(nil, "postgres"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestLocalFilesWriteRead(t *testing.T) {
	files, err := NewLocalFiles(t.TempDir())
	if err != nil {
		t.Fatalf("new local files: %v", err)
	}
	ctx := context.Background()
	fs := files.ForUser("7")

	err = fs.Write(ctx, "omnichat/uploads/a.txt", []byte("hi"), platform.WriteOptions{})
	if !errors.Is(err, platform.ErrFileNotFound) {
		t.Fatalf("expected missing parent error, got %v", err)
	}
	if err := fs.Write(ctx, "omnichat/uploads/a.txt", []byte("hi"), platform.WriteOptions{CreateMissingParents: true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := fs.Read(ctx, "omnichat/uploads/a.txt")
	if err != nil || string(data) != "hi" {
		t.Fatalf("read back %q err=%v", data, err)
	}
	if _, err := os.Stat(filepath.Join(files.Base(), "7", "omnichat", "uploads", "a.txt")); err != nil {
		t.Fatalf("file not under user root: %v", err)
	}
	if _, err := fs.Read(ctx, "omnichat/uploads/missing.txt"); !errors.Is(err, platform.ErrFileNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLocalFilesRejectTraversal(t *testing.T) {
	files, err := NewLocalFiles(t.TempDir())
	if err != nil {
		t.Fatalf("new local files: %v", err)
	}
	fs := files.ForUser("7")
	err = fs.Write(context.Background(), "../8/secret.txt", []byte("x"), platform.WriteOptions{CreateMissingParents: true})
	if !errors.Is(err, platform.ErrInvalidPath) {
		t.Fatalf("expected invalid path, got %v", err)
	}
}

func TestCleanupExpired(t *testing.T) {
	files, err := NewLocalFiles(t.TempDir())
	if err != nil {
		t.Fatalf("new local files: %v", err)
	}
	ctx := context.Background()
	fs := files.ForUser("3")
	opts := platform.WriteOptions{CreateMissingParents: true}
	if err := fs.Write(ctx, "omnichat/uploads/old.txt", []byte("old"), opts); err != nil {
		t.Fatalf("write old: %v", err)
	}
	if err := fs.Write(ctx, "omnichat/keep/new.txt", []byte("new"), opts); err != nil {
		t.Fatalf("write new: %v", err)
	}
	oldPath := filepath.Join(files.Base(), "3", "omnichat", "uploads", "old.txt")
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := files.CleanupExpired(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed file, got %d", removed)
	}
	if _, err := os.Stat(filepath.Dir(oldPath)); !os.IsNotExist(err) {
		t.Fatalf("empty upload directory not pruned: %v", err)
	}
	if _, err := fs.Read(ctx, "omnichat/keep/new.txt"); err != nil {
		t.Fatalf("fresh file removed: %v", err)
	}
}
