package maple

import (
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
	dbtesting "github.com/ValentinKolb/rKV/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}

func TestGetReturnsStoredInstance(t *testing.T) {
	m := NewMapleDB(&DBOptions{Databases: 1})
	defer m.Close()

	l := db.NewList([]byte("a"))
	if err := m.Set(0, "list", db.NewStoredValue(l), 0); err != nil {
		t.Fatal(err)
	}
	sv, err := m.Get(0, "list", 0)
	if err != nil || sv == nil {
		t.Fatalf("Get() = %v, %v", sv, err)
	}
	if sv.Value.(*db.List) != l {
		t.Error("Get() should return the stored instance")
	}
}

func TestScanCursorEviction(t *testing.T) {
	m := NewMapleDB(&DBOptions{Databases: 1, CursorCapacity: 1})
	defer m.Close()

	for _, key := range []string{"a", "b", "c", "d"} {
		if err := m.Set(0, key, db.NewStoredValue(db.Scalar("v")), 0); err != nil {
			t.Fatal(err)
		}
	}

	first, _, err := m.Scan(0, 0, "", 1, 0)
	if err != nil || first == 0 {
		t.Fatalf("Scan() = %d, %v", first, err)
	}
	// a second iteration evicts the cursor of the first one
	if _, _, err := m.Scan(0, 0, "", 1, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Scan(0, first, "", 1, 0); err != db.ErrInvalidCursor {
		t.Errorf("expected ErrInvalidCursor for an evicted cursor, got %v", err)
	}
}
