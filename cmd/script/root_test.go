package script

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSplitKeys(t *testing.T) {
	keys, argv, err := splitKeys("2", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("keys = %v, want [a b]", keys)
	}
	if len(argv) != 1 || argv[0] != "c" {
		t.Errorf("argv = %v, want [c]", argv)
	}

	for _, tc := range []struct {
		numKeys string
		rest    []string
	}{
		{"x", nil},
		{"-1", nil},
		{"3", []string{"a"}},
	} {
		if _, _, err := splitKeys(tc.numKeys, tc.rest); err == nil {
			t.Errorf("splitKeys(%q, %v) should fail", tc.numKeys, tc.rest)
		}
	}
}

func TestReadSource(t *testing.T) {
	src, err := readSource("return 1")
	if err != nil || src != "return 1" {
		t.Fatalf("readSource inline = %q, %v", src, err)
	}

	path := filepath.Join(t.TempDir(), "s.lua")
	if err := os.WriteFile(path, []byte("return 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	src, err = readSource("@" + path)
	if err != nil || src != "return 2" {
		t.Fatalf("readSource file = %q, %v", src, err)
	}

	if _, err := readSource("@" + filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("reading a missing file should fail")
	}
}
