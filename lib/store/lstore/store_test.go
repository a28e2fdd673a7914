package lstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple"
	"github.com/ValentinKolb/rKV/lib/expire"
	"github.com/ValentinKolb/rKV/lib/store"
)

func newStore(t *testing.T, snapshotFile string) store.IStore {
	t.Helper()
	s, err := NewLocalStore(func() (db.KVDB, error) {
		return maple.NewMapleDB(maple.DefaultOptions()), nil
	}, snapshotFile)
	if err != nil {
		t.Fatalf("NewLocalStore() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func setClock(t *testing.T, now *int64) {
	t.Helper()
	prev := expire.Now
	expire.Now = func() int64 { return *now }
	t.Cleanup(func() { expire.Now = prev })
}

func TestLocalStoreUsesClock(t *testing.T) {
	now := int64(1_000)
	setClock(t, &now)
	s := newStore(t, "")

	if err := s.Set(0, "k", &db.StoredValue{Value: db.Scalar("v"), ExpireAt: 2_000}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists(0, "k"); !ok {
		t.Fatal("key should exist before its deadline")
	}

	now = 2_000
	if ok, _ := s.Exists(0, "k"); ok {
		t.Error("key should be gone at its deadline")
	}
	if v, err := s.Get(0, "k"); err != nil || v != nil {
		t.Errorf("Get() = %v, %v, want nil", v, err)
	}
}

func TestLocalStoreExpireCycle(t *testing.T) {
	now := int64(1_000)
	setClock(t, &now)
	s := newStore(t, "")

	for _, key := range []string{"a", "b", "c"} {
		if err := s.Set(1, key, &db.StoredValue{Value: db.Scalar("v"), ExpireAt: 1_500}); err != nil {
			t.Fatal(err)
		}
	}
	now = 2_000
	removed, err := s.ExpireCycle(1, 10)
	if err != nil || removed != 3 {
		t.Fatalf("ExpireCycle() = %d, %v, want 3", removed, err)
	}
	if n, _ := s.Size(1); n != 0 {
		t.Errorf("Size() = %d, want 0", n)
	}
}

func TestLocalStoreErrors(t *testing.T) {
	s := newStore(t, "")

	var se *store.Error
	if _, _, err := s.Scan(0, 12345, "", 10); !errors.Is(err, store.ErrInvalidCursor) {
		t.Errorf("expected invalid operation for unknown cursor, got %v", err)
	}
	if err := s.Set(99, "k", db.NewStoredValue(db.Scalar("v"))); !errors.As(err, &se) || se.Code != store.RetCInternalError {
		t.Errorf("expected internal error for bad db index, got %v", err)
	}
	if err := s.Save(); !errors.As(err, &se) || se.Code != store.RetCInvalidOperation {
		t.Errorf("expected Save() to fail without snapshot file, got %v", err)
	}
}

func TestLocalStoreSnapshotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.rkv")

	s := newStore(t, path)
	if err := s.Set(3, "list", db.NewStoredValue(db.NewList([]byte("a"), []byte("b")))); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	restored := newStore(t, path)
	v, err := restored.Get(3, "list")
	if err != nil || v == nil {
		t.Fatalf("Get() after restore = %v, %v", v, err)
	}
	if l, ok := v.Value.(*db.List); !ok || l.Len() != 2 {
		t.Errorf("unexpected restored value %#v", v.Value)
	}
	matches, _ := filepath.Glob(path + ".tmp-*")
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}
