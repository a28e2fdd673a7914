package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
)

func sampleValues() map[string]*db.StoredValue {
	z := db.NewOrderedSet()
	z.Add("x", 1)
	z.Add("y", -2.5)
	return map[string]*db.StoredValue{
		"scalar":   {Value: db.Scalar("hello"), ExpireAt: 1700000000000},
		"empty":    {Value: db.Scalar{}},
		"list":     {Value: db.NewList([]byte("a"), []byte{}, []byte("c"))},
		"map":      {Value: db.Map{"f1": []byte("v1"), "f2": []byte{0, 1}}},
		"set":      {Value: db.Set{"m1": {}, "m2": {}}, ExpireAt: 42},
		"zset":     {Value: z},
		"document": {Value: db.Document(`{"a":[1,2,{"b":null}]}`)},
	}
}

func assertSameValue(t *testing.T, want, got *db.StoredValue) {
	t.Helper()
	if got.ExpireAt != want.ExpireAt {
		t.Errorf("ExpireAt = %d, want %d", got.ExpireAt, want.ExpireAt)
	}
	if got.Value.Kind() != want.Value.Kind() {
		t.Fatalf("Kind = %s, want %s", got.Value.Kind(), want.Value.Kind())
	}
	// the encoding is canonical, so equal values encode identically
	if !bytes.Equal(EncodeValue(got), EncodeValue(want)) {
		t.Errorf("decoded value differs from original")
	}
}

func TestEncodeDecodeValue(t *testing.T) {
	for name, sv := range sampleValues() {
		t.Run(name, func(t *testing.T) {
			got, err := DecodeValue(EncodeValue(sv))
			if err != nil {
				t.Fatalf("DecodeValue() failed: %v", err)
			}
			assertSameValue(t, sv, got)
		})
	}
}

func TestDecodeDoesNotAlias(t *testing.T) {
	data := EncodeValue(&db.StoredValue{Value: db.NewList([]byte("abc"))})
	got, err := DecodeValue(data)
	if err != nil {
		t.Fatal(err)
	}
	for i := range data {
		data[i] = 0
	}
	v, _ := got.Value.(*db.List).Index(0)
	if string(v) != "abc" {
		t.Errorf("decoded value aliases input buffer: %q", v)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	valid := EncodeValue(&db.StoredValue{Value: db.Map{"field": []byte("value")}})

	tests := map[string][]byte{
		"too short":    {1, 2, 3},
		"unknown kind": append([]byte{99}, valid[1:]...),
		"truncated":    valid[:len(valid)-3],
		"huge count":   append(append([]byte{}, valid[:headerSize]...), 0xff, 0xff, 0xff, 0x7f),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeValue(data); !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestSnapshot(t *testing.T) {
	values := sampleValues()
	var buf bytes.Buffer

	w, err := NewSnapshotWriter(&buf, 16)
	if err != nil {
		t.Fatal(err)
	}
	dbIdx := 0
	for key, sv := range values {
		if err := w.Write(dbIdx%16, key, sv); err != nil {
			t.Fatal(err)
		}
		dbIdx += 5
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	seen := 0
	numDBs, err := ReadSnapshot(&buf, func(_ int, key string, sv *db.StoredValue) error {
		want, ok := values[key]
		if !ok {
			t.Errorf("unexpected key %q", key)
			return nil
		}
		assertSameValue(t, want, sv)
		seen++
		return nil
	})
	if err != nil {
		t.Fatalf("ReadSnapshot() failed: %v", err)
	}
	if numDBs != 16 {
		t.Errorf("numDBs = %d, want 16", numDBs)
	}
	if seen != len(values) {
		t.Errorf("read %d entries, want %d", seen, len(values))
	}
}

func TestSnapshotRejectsGarbage(t *testing.T) {
	if _, err := ReadSnapshot(bytes.NewReader([]byte("definitely not a snapshot")), nil); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestPatchExpireAt(t *testing.T) {
	data := EncodeValue(&db.StoredValue{Value: db.Scalar("v"), ExpireAt: 10})

	at, err := PeekExpireAt(data)
	if err != nil || at != 10 {
		t.Fatalf("PeekExpireAt() = %d, %v", at, err)
	}

	patched, err := WithExpireAt(data, 99)
	if err != nil {
		t.Fatal(err)
	}
	sv, err := DecodeValue(patched)
	if err != nil {
		t.Fatal(err)
	}
	if sv.ExpireAt != 99 || string(sv.Value.(db.Scalar)) != "v" {
		t.Errorf("unexpected value after patch: %+v", sv)
	}
	if at, _ := PeekExpireAt(data); at != 10 {
		t.Error("WithExpireAt() must not modify its input")
	}
	if _, err := PeekExpireAt([]byte{1}); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}
