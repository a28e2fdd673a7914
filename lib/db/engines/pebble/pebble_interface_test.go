package pebble

import (
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
	dbtesting "github.com/ValentinKolb/rKV/lib/db/testing"
	"github.com/cockroachdb/pebble/vfs"
)

func newMemDB(t testing.TB, fs vfs.FS) db.KVDB {
	opts := DefaultOptions("/data")
	opts.FS = fs
	opts.Sync = false
	pdb, err := NewPebbleDB(opts)
	if err != nil {
		t.Fatalf("NewPebbleDB() failed: %v", err)
	}
	return pdb
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "PebbleDB", func() db.KVDB {
		return newMemDB(t, vfs.NewMem())
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "PebbleDB", func() db.KVDB {
		return newMemDB(b, vfs.NewMem())
	})
}

func TestReopenKeepsDataAndSwap(t *testing.T) {
	fs := vfs.NewMem()

	first := newMemDB(t, fs)
	if err := first.Set(0, "a", &db.StoredValue{Value: db.Scalar("v"), ExpireAt: 5000}, 0); err != nil {
		t.Fatal(err)
	}
	if err := first.Set(1, "b", db.NewStoredValue(db.Set{"m": {}}), 0); err != nil {
		t.Fatal(err)
	}
	if err := first.Swap(0, 1); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := newMemDB(t, fs)
	defer second.Close()

	sv, err := second.Get(1, "a", 0)
	if err != nil || sv == nil {
		t.Fatalf("expected a in db 1 after reopen, got %v, %v", sv, err)
	}
	if sv.ExpireAt != 5000 {
		t.Errorf("ExpireAt = %d after reopen, want 5000", sv.ExpireAt)
	}
	if sv, _ := second.Get(0, "b", 0); sv == nil || sv.Value.Kind() != db.KindSet {
		t.Error("expected set b in db 0 after reopen")
	}

	// counters are rebuilt on open
	info := second.GetInfo()
	if info.Keys[0] != 1 || info.Keys[1] != 1 || info.Expires[1] != 1 {
		t.Errorf("unexpected counters after reopen: keys=%v expires=%v", info.Keys, info.Expires)
	}
	if removed, _ := second.ExpireCycle(1, 10, 5000); removed != 1 {
		t.Errorf("expiry index should survive a reopen, removed %d", removed)
	}
}

func TestFewerDatabasesThanStoredFails(t *testing.T) {
	fs := vfs.NewMem()
	first := newMemDB(t, fs)
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions("/data")
	opts.FS = fs
	opts.Databases = 4
	if _, err := NewPebbleDB(opts); err == nil {
		t.Error("opening with fewer databases than stored should fail")
	}
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		in, want []byte
	}{
		{[]byte{'d', 0, 1}, []byte{'d', 0, 2}},
		{[]byte{'d', 0, 0xff}, []byte{'d', 1}},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, tt := range tests {
		if got := prefixEnd(tt.in); string(got) != string(tt.want) {
			t.Errorf("prefixEnd(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
