package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/codec"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// now is the logical time used by the suite (unix ms)
const now int64 = 1_700_000_000_000

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("ValueVariants", func(t *testing.T) {
			testValueVariants(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Expiration", func(t *testing.T) {
			testExpiration(t, factory())
		})

		t.Run("ExpireCycle", func(t *testing.T) {
			testExpireCycle(t, factory())
		})

		t.Run("Keys", func(t *testing.T) {
			testKeys(t, factory())
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, factory())
		})

		t.Run("WriteBatch", func(t *testing.T) {
			testWriteBatch(t, factory())
		})

		t.Run("Databases", func(t *testing.T) {
			testDatabases(t, factory())
		})

		t.Run("Flush", func(t *testing.T) {
			testFlush(t, factory())
		})

		t.Run("Swap", func(t *testing.T) {
			testSwap(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("GetInfo", func(t *testing.T) {
			testGetInfo(t, factory())
		})

		t.Run("Concurrency", func(t *testing.T) {
			testConcurrency(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func scalar(s string) *db.StoredValue {
	return db.NewStoredValue(db.Scalar(s))
}

func volatile(s string, expireAt int64) *db.StoredValue {
	return &db.StoredValue{Value: db.Scalar(s), ExpireAt: expireAt}
}

// sameValue compares two values through their canonical encoding
func sameValue(a, b *db.StoredValue) bool {
	if a == nil || b == nil {
		return a == b
	}
	return bytes.Equal(codec.EncodeValue(a), codec.EncodeValue(b))
}

func requireScalar(t testing.TB, database db.KVDB, dbIdx int, key, want string) {
	t.Helper()
	sv, err := database.Get(dbIdx, key, now)
	must(t, err)
	if sv == nil {
		t.Fatalf("expected key %q to exist in db %d", key, dbIdx)
	}
	got, ok := sv.Value.(db.Scalar)
	if !ok {
		t.Fatalf("expected scalar for %q, got %s", key, sv.Value.Kind())
	}
	if string(got) != want {
		t.Fatalf("expected %q for %q, got %q", want, key, got)
	}
}

func requireAbsent(t testing.TB, database db.KVDB, dbIdx int, key string, at int64) {
	t.Helper()
	sv, err := database.Get(dbIdx, key, at)
	must(t, err)
	if sv != nil {
		t.Fatalf("expected key %q to be absent in db %d", key, dbIdx)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	must(t, database.Set(0, "key", scalar("value1"), now))
	requireScalar(t, database, 0, "key", "value1")

	must(t, database.Set(0, "key", scalar("value2"), now))
	requireScalar(t, database, 0, "key", "value2")

	requireAbsent(t, database, 0, "nonexistent-key", now)

	// the empty key and empty values are valid
	must(t, database.Set(0, "", scalar(""), now))
	requireScalar(t, database, 0, "", "")

	// binary safe keys and values
	bin := string([]byte{0, 1, 2, '\r', '\n', 255})
	must(t, database.Set(0, bin, scalar(bin), now))
	requireScalar(t, database, 0, bin, bin)

	ok, err := database.Exists(0, "key", now)
	must(t, err)
	if !ok {
		t.Error("Exists() should report a stored key")
	}
	ok, err = database.Exists(0, "nonexistent-key", now)
	must(t, err)
	if ok {
		t.Error("Exists() should not report a missing key")
	}
}

func testValueVariants(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	z := db.NewOrderedSet()
	z.Add("a", 1)
	z.Add("b", 2.5)
	values := map[string]*db.StoredValue{
		"string":   scalar("abc"),
		"list":     db.NewStoredValue(db.NewList([]byte("x"), []byte("y"))),
		"hash":     db.NewStoredValue(db.Map{"f": []byte("v")}),
		"set":      db.NewStoredValue(db.Set{"m": {}}),
		"zset":     db.NewStoredValue(z),
		"document": db.NewStoredValue(db.Document(`{"a":1}`)),
	}

	for key, sv := range values {
		must(t, database.Set(0, key, sv.Clone(), now))
	}
	for key, want := range values {
		got, err := database.Get(0, key, now)
		must(t, err)
		if !sameValue(got, want) {
			t.Errorf("value of %q changed after storing it", key)
		}
		if got.Value.Kind().String() != key && !(key == "document" && got.Value.Kind() == db.KindDocument) {
			t.Errorf("kind of %q is %s", key, got.Value.Kind())
		}
	}

	// replacing a key replaces its variant
	must(t, database.Set(0, "list", scalar("now a string"), now))
	requireScalar(t, database, 0, "list", "now a string")
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureDelete)

	must(t, database.Set(0, "key", scalar("value"), now))

	removed, err := database.Delete(0, "key", now)
	must(t, err)
	if !removed {
		t.Error("Delete() should report a removed key")
	}
	requireAbsent(t, database, 0, "key", now)

	removed, err = database.Delete(0, "key", now)
	must(t, err)
	if removed {
		t.Error("Delete() of a missing key should report false")
	}

	// deleting an expired key reports false but removes it
	must(t, database.Set(0, "expired", volatile("v", now-1), now-10))
	removed, err = database.Delete(0, "expired", now)
	must(t, err)
	if removed {
		t.Error("Delete() of an expired key should report false")
	}
	n, err := database.Size(0)
	must(t, err)
	if n != 0 {
		t.Errorf("expected empty database after deletes, got %d keys", n)
	}
}

func testExpiration(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureExpire)

	must(t, database.Set(0, "volatile", volatile("v", now+1000), now))
	must(t, database.Set(0, "persistent", scalar("v"), now))

	// lazy expiration: visible strictly before expireAt, absent from expireAt on
	requireScalar(t, database, 0, "volatile", "v")
	requireAbsent(t, database, 0, "volatile", now+1000)
	if ok, _ := database.Exists(0, "volatile", now+1000); ok {
		t.Error("Exists() should not report an expired key")
	}

	at, ok, err := database.GetExpiration(0, "volatile", now)
	must(t, err)
	if !ok || at != now+1000 {
		t.Errorf("GetExpiration() = %d, %v; want %d, true", at, ok, now+1000)
	}
	at, ok, err = database.GetExpiration(0, "persistent", now)
	must(t, err)
	if !ok || at != 0 {
		t.Errorf("GetExpiration() of persistent key = %d, %v; want 0, true", at, ok)
	}
	if _, ok, _ = database.GetExpiration(0, "missing", now); ok {
		t.Error("GetExpiration() of missing key should report false")
	}

	// set and remove an expiration
	ok, err = database.SetExpiration(0, "persistent", now+500, now)
	must(t, err)
	if !ok {
		t.Error("SetExpiration() on a live key should succeed")
	}
	requireAbsent(t, database, 0, "persistent", now+500)

	ok, err = database.RemoveExpiration(0, "persistent", now)
	must(t, err)
	if !ok {
		t.Error("RemoveExpiration() on a volatile key should succeed")
	}
	requireScalar(t, database, 0, "persistent", "v")
	sv, err := database.Get(0, "persistent", now+10_000)
	must(t, err)
	if sv == nil || sv.ExpireAt != 0 {
		t.Error("key should be persistent after RemoveExpiration()")
	}

	ok, err = database.RemoveExpiration(0, "persistent", now)
	must(t, err)
	if ok {
		t.Error("RemoveExpiration() on a persistent key should report false")
	}
	ok, err = database.SetExpiration(0, "missing", now+1, now)
	must(t, err)
	if ok {
		t.Error("SetExpiration() on a missing key should report false")
	}
	ok, err = database.SetExpiration(0, "volatile", now+5000, now+2000)
	must(t, err)
	if ok {
		t.Error("SetExpiration() on an expired key should report false")
	}

	// overwriting a volatile key with a persistent value clears the expiration
	must(t, database.Set(0, "overwrite", volatile("a", now+10), now))
	must(t, database.Set(0, "overwrite", scalar("b"), now))
	sv, err = database.Get(0, "overwrite", now+100)
	must(t, err)
	if sv == nil {
		t.Error("overwritten key should not inherit the old expiration")
	}
}

func testExpireCycle(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureExpireCycle)

	const numKeys = 100
	for i := 0; i < numKeys; i++ {
		must(t, database.Set(0, fmt.Sprintf("key-%03d", i), volatile("v", now+int64(i)), now))
	}
	must(t, database.Set(0, "persistent", scalar("v"), now))

	// nothing is expired yet
	removed, err := database.ExpireCycle(0, 1000, now-1)
	must(t, err)
	if removed != 0 {
		t.Errorf("ExpireCycle() removed %d keys before any expiration", removed)
	}

	// the limit bounds the work of one cycle
	removed, err = database.ExpireCycle(0, 10, now+numKeys)
	must(t, err)
	if removed != 10 {
		t.Errorf("ExpireCycle() with limit 10 removed %d keys", removed)
	}

	total := removed
	for i := 0; i < numKeys; i++ {
		removed, err = database.ExpireCycle(0, 25, now+numKeys)
		must(t, err)
		total += removed
		if removed == 0 {
			break
		}
	}
	if total != numKeys {
		t.Errorf("expected %d removed keys in total, got %d", numKeys, total)
	}

	n, err := database.Size(0)
	must(t, err)
	if n != 1 {
		t.Errorf("expected only the persistent key to remain, got %d keys", n)
	}
	requireScalar(t, database, 0, "persistent", "v")

	// keys touched after they expired are collected as well
	must(t, database.Set(0, "touched", volatile("v", now+5), now))
	requireAbsent(t, database, 0, "touched", now+10)
	removed, err = database.ExpireCycle(0, 10, now+10)
	must(t, err)
	if removed != 1 {
		t.Errorf("expected the touched key to be collected, removed %d", removed)
	}
}

func testKeys(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureKeys)

	for _, key := range []string{"user:1", "user:2", "user:10", "session:1"} {
		must(t, database.Set(0, key, scalar("v"), now))
	}
	must(t, database.Set(0, "user:expired", volatile("v", now), now-1))

	keys, err := database.Keys(0, "user:*", now)
	must(t, err)
	sort.Strings(keys)
	if fmt.Sprint(keys) != "[user:1 user:10 user:2]" {
		t.Errorf("Keys(user:*) = %v", keys)
	}

	keys, err = database.Keys(0, "user:?", now)
	must(t, err)
	if len(keys) != 2 {
		t.Errorf("Keys(user:?) = %v", keys)
	}

	keys, err = database.Keys(0, "*", now)
	must(t, err)
	if len(keys) != 4 {
		t.Errorf("Keys(*) should skip expired keys, got %v", keys)
	}
}

func testScan(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureKeys)

	const numKeys = 95
	for i := 0; i < numKeys; i++ {
		must(t, database.Set(0, fmt.Sprintf("key:%d", i), scalar("v"), now))
	}

	seen := make(map[string]int)
	cursor := uint64(0)
	calls := 0
	for {
		next, keys, err := database.Scan(0, cursor, "", 10, now)
		must(t, err)
		for _, k := range keys {
			seen[k]++
		}
		calls++
		if next == 0 {
			break
		}
		if calls > numKeys {
			t.Fatal("scan did not terminate")
		}
		cursor = next

		// keys added during the iteration must not break it
		if calls == 3 {
			must(t, database.Set(0, "added-during-scan", scalar("v"), now))
		}
	}
	for i := 0; i < numKeys; i++ {
		if seen[fmt.Sprintf("key:%d", i)] != 1 {
			t.Errorf("key:%d was returned %d times", i, seen[fmt.Sprintf("key:%d", i)])
		}
	}

	// pattern filtering
	count := 0
	cursor = 0
	for {
		next, keys, err := database.Scan(0, cursor, "key:1*", 7, now)
		must(t, err)
		count += len(keys)
		if next == 0 {
			break
		}
		cursor = next
	}
	if count != 11 { // key:1, key:10-19
		t.Errorf("Scan(key:1*) returned %d keys, want 11", count)
	}

	// unknown cursors are rejected
	if _, _, err := database.Scan(0, 987654321, "", 10, now); !errors.Is(err, db.ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}
}

func testWriteBatch(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureWriteBatch)

	must(t, database.Set(0, "old", scalar("v"), now))

	must(t, database.WriteBatch(0, []db.BatchOp{
		{Key: "a", Value: scalar("1")},
		{Key: "b", Value: volatile("2", now+1000)},
		{Key: "old", Value: nil},
		{Key: "a", Value: scalar("3")}, // later operations win
		{Key: "never-existed", Value: nil},
	}, now))

	requireScalar(t, database, 0, "a", "3")
	requireScalar(t, database, 0, "b", "2")
	requireAbsent(t, database, 0, "old", now)
	requireAbsent(t, database, 0, "b", now+1000)

	n, err := database.Size(0)
	must(t, err)
	if n != 2 {
		t.Errorf("Size() = %d after batch, want 2", n)
	}

	// an empty batch is a no-op
	must(t, database.WriteBatch(0, nil, now))

	// concurrent readers see all or nothing of a batch
	const batchSize = 50
	ops := make([]db.BatchOp, batchSize)
	for i := range ops {
		ops[i] = db.BatchOp{Key: fmt.Sprintf("batch:%d", i), Value: scalar("x")}
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			keys, err := database.Keys(0, "batch:*", now)
			if err != nil {
				t.Error(err)
				return
			}
			if len(keys) != 0 && len(keys) != batchSize {
				t.Errorf("observed a partial batch with %d keys", len(keys))
				return
			}
		}
	}()
	must(t, database.WriteBatch(0, ops, now))
	close(stop)
	wg.Wait()
}

func testDatabases(t *testing.T, database db.KVDB) {
	defer database.Close()

	n := database.NumDatabases()
	if n < 2 {
		t.Skip("engine has a single database")
	}

	must(t, database.Set(0, "key", scalar("db0"), now))
	must(t, database.Set(1, "key", scalar("db1"), now))
	requireScalar(t, database, 0, "key", "db0")
	requireScalar(t, database, 1, "key", "db1")

	if _, err := database.Get(n, "key", now); !errors.Is(err, db.ErrInvalidDB) {
		t.Errorf("expected ErrInvalidDB for index %d, got %v", n, err)
	}
	if err := database.Set(-1, "key", scalar("v"), now); !errors.Is(err, db.ErrInvalidDB) {
		t.Errorf("expected ErrInvalidDB for index -1, got %v", err)
	}
}

func testFlush(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureFlush)

	for i := 0; i < 10; i++ {
		must(t, database.Set(0, fmt.Sprintf("k%d", i), scalar("v"), now))
		must(t, database.Set(1, fmt.Sprintf("k%d", i), volatile("v", now+100), now))
	}

	must(t, database.Flush(0))
	if n, _ := database.Size(0); n != 0 {
		t.Errorf("Size(0) = %d after Flush(0)", n)
	}
	if n, _ := database.Size(1); n != 10 {
		t.Errorf("Flush(0) must not touch db 1, Size(1) = %d", n)
	}

	// the database is usable after a flush
	must(t, database.Set(0, "k0", scalar("again"), now))
	requireScalar(t, database, 0, "k0", "again")

	must(t, database.FlushAll())
	for i := 0; i < database.NumDatabases(); i++ {
		if n, _ := database.Size(i); n != 0 {
			t.Errorf("Size(%d) = %d after FlushAll()", i, n)
		}
	}
	if removed, _ := database.ExpireCycle(1, 100, now+1000); removed != 0 {
		t.Errorf("flushed keys must not be expired again, removed %d", removed)
	}
}

func testSwap(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureSwap)
	if database.NumDatabases() < 3 {
		t.Skip("engine has less than three databases")
	}

	must(t, database.Set(0, "a", scalar("from0"), now))
	must(t, database.Set(1, "b", volatile("from1", now+100), now))

	must(t, database.Swap(0, 1))
	requireScalar(t, database, 1, "a", "from0")
	requireScalar(t, database, 0, "b", "from1")
	requireAbsent(t, database, 0, "a", now)
	requireAbsent(t, database, 1, "b", now)

	// expirations move with the data
	if removed, _ := database.ExpireCycle(0, 10, now+100); removed != 1 {
		t.Errorf("expected the swapped volatile key to expire in db 0, removed %d", removed)
	}

	// writes after a swap go to the new location
	must(t, database.Set(1, "c", scalar("v"), now))
	must(t, database.Swap(1, 2))
	requireScalar(t, database, 2, "c", "v")
	requireScalar(t, database, 2, "a", "from0")

	// swapping a database with itself is a no-op
	must(t, database.Swap(2, 2))
	requireScalar(t, database, 2, "a", "from0")

	if err := database.Swap(0, database.NumDatabases()); !errors.Is(err, db.ErrInvalidDB) {
		t.Errorf("expected ErrInvalidDB, got %v", err)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	source := factory()
	defer source.Close()
	requireFeature(t, source, db.FeatureSave|db.FeatureLoad)

	z := db.NewOrderedSet()
	z.Add("m", 3)
	values := map[string]*db.StoredValue{
		"string": volatile("v", now+5000),
		"list":   db.NewStoredValue(db.NewList([]byte("a"), []byte("b"))),
		"zset":   db.NewStoredValue(z),
	}
	for key, sv := range values {
		must(t, source.Set(0, key, sv.Clone(), now))
	}
	must(t, source.Set(1, "other-db", scalar("v"), now))

	var buf bytes.Buffer
	must(t, source.Save(&buf))

	target := factory()
	defer target.Close()
	must(t, target.Set(0, "stale", scalar("must disappear"), now))
	must(t, target.Load(bytes.NewReader(buf.Bytes())))

	for key, want := range values {
		got, err := target.Get(0, key, now)
		must(t, err)
		if !sameValue(got, want) {
			t.Errorf("value of %q differs after Load()", key)
		}
	}
	requireScalar(t, target, 1, "other-db", "v")
	requireAbsent(t, target, 0, "stale", now)

	// restored expirations still apply
	requireAbsent(t, target, 0, "string", now+5000)

	// a broken snapshot leaves the data untouched
	if err := target.Load(bytes.NewReader(buf.Bytes()[:buf.Len()/2])); err == nil {
		t.Error("Load() of a truncated snapshot should fail")
	}
	requireScalar(t, target, 1, "other-db", "v")
}

func testGetInfo(t *testing.T, database db.KVDB) {
	defer database.Close()

	must(t, database.Set(0, "a", scalar("v"), now))
	must(t, database.Set(0, "b", volatile("v", now+100), now))

	info := database.GetInfo()
	if info.DbType == "" {
		t.Error("GetInfo() should report the engine type")
	}
	if len(info.Keys) != database.NumDatabases() || info.Keys[0] != 2 {
		t.Errorf("GetInfo().Keys = %v", info.Keys)
	}
	if len(info.Expires) != database.NumDatabases() || info.Expires[0] != 1 {
		t.Errorf("GetInfo().Expires = %v", info.Expires)
	}
	for _, f := range info.SupportedFeatures {
		if !database.SupportsFeature(f) {
			t.Errorf("feature %s is reported but not supported", f)
		}
	}
}

func testConcurrency(t *testing.T, database db.KVDB) {
	defer database.Close()

	const workers = 8
	const opsPerWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < opsPerWorker; i++ {
				key := fmt.Sprintf("w%d:k%d", w, i%50)
				dbIdx := i % 2
				if err := database.Set(dbIdx, key, scalar(key), now); err != nil {
					t.Error(err)
					return
				}
				sv, err := database.Get(dbIdx, key, now)
				if err != nil {
					t.Error(err)
					return
				}
				if sv == nil || string(sv.Value.(db.Scalar)) != key {
					t.Errorf("read own write failed for %q", key)
					return
				}
				if i%10 == 0 {
					if _, err := database.Delete(dbIdx, key, now); err != nil {
						t.Error(err)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
}
