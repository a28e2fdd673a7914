package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Set", func(b *testing.B) {
			benchmarkSet(b, factory())
		})

		b.Run("SetWithExpiry", func(b *testing.B) {
			benchmarkSetWithExpiry(b, factory())
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory())
		})

		b.Run("WriteBatch", func(b *testing.B) {
			benchmarkWriteBatch(b, factory())
		})

		b.Run("ExpireCycle", func(b *testing.B) {
			benchmarkExpireCycle(b, factory())
		})

		b.Run("Scan", func(b *testing.B) {
			benchmarkScan(b, factory())
		})

		b.Run("SaveLoad", func(b *testing.B) {
			benchmarkSaveLoad(b, factory)
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkSet(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSet)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("key-%d", counter%10_000)
			_ = database.Set(0, key, scalar("value"), now)
			counter++
		}
	})
}

func benchmarkSetWithExpiry(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSet|db.FeatureExpire)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("key-%d", counter%10_000)
			_ = database.Set(0, key, volatile("value", now+int64(counter)), now)
			counter++
		}
	})
}

func benchmarkGet(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSet|db.FeatureGet)

	const numKeys = 10_000
	for i := 0; i < numKeys; i++ {
		must(b, database.Set(0, fmt.Sprintf("key-%d", i), scalar("value"), now))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			_, _ = database.Get(0, fmt.Sprintf("key-%d", rng.Intn(numKeys)), now)
		}
	})
}

func benchmarkWriteBatch(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureWriteBatch)

	ops := make([]db.BatchOp, 16)
	for i := range ops {
		ops[i] = db.BatchOp{Key: fmt.Sprintf("batch-%d", i), Value: scalar("value")}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = database.WriteBatch(0, ops, now)
	}
}

func benchmarkExpireCycle(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureExpireCycle)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < 200; j++ {
			_ = database.Set(0, fmt.Sprintf("key-%d", j), volatile("value", now), now-1)
		}
		b.StartTimer()
		_, _ = database.ExpireCycle(0, 200, now)
	}
}

func benchmarkScan(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureKeys)

	for i := 0; i < 10_000; i++ {
		must(b, database.Set(0, fmt.Sprintf("key-%d", i), scalar("value"), now))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cursor := uint64(0)
		for {
			next, _, err := database.Scan(0, cursor, "", 100, now)
			if err != nil {
				b.Fatal(err)
			}
			if next == 0 {
				break
			}
			cursor = next
		}
	}
}

func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	database := factory()
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSave|db.FeatureLoad)

	for i := 0; i < 10_000; i++ {
		must(b, database.Set(i%2, fmt.Sprintf("key-%d", i), scalar("value"), now))
	}

	var buf bytes.Buffer
	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf.Reset()
			must(b, database.Save(&buf))
		}
	})

	b.Run("Load", func(b *testing.B) {
		target := factory()
		defer target.Close()
		for i := 0; i < b.N; i++ {
			must(b, target.Load(bytes.NewReader(buf.Bytes())))
		}
	})
}

func benchmarkMixedUsage(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })

	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		must(b, database.Set(0, fmt.Sprintf("key-%d", i), scalar("value"), now))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("key-%d", rng.Intn(numKeys))
			switch op := rng.Intn(100); {
			case op < 70:
				_, _ = database.Get(0, key, now)
			case op < 90:
				_ = database.Set(0, key, scalar("value"), now)
			case op < 95:
				_, _ = database.Exists(0, key, now)
			default:
				_, _ = database.Delete(0, key, now)
			}
		}
	})
}
