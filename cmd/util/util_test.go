package util

import (
	"strings"
	"testing"

	"github.com/ValentinKolb/rKV/lib/resp"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("Line exceeds %d characters: %q", Wrap, line)
		}
	}
	if WrapString("short text") != "short text" {
		t.Errorf("Expected short text to stay on one line")
	}
}

func TestPrintValue(t *testing.T) {
	tests := []struct {
		name string
		v    resp.Value
		want string
	}{
		{"status", resp.OK, "OK\n"},
		{"bulk", resp.BulkString("hi"), "\"hi\"\n"},
		{"nil", resp.NullBulk(), "(nil)\n"},
		{"integer", resp.Integer(7), "(integer) 7\n"},
		{"error", resp.Error("ERR boom"), "(error) ERR boom\n"},
		{"empty", resp.Array(), "(empty array)\n"},
		{"array", resp.Array(resp.BulkString("a"), resp.Integer(1)), "1) \"a\"\n2) (integer) 1\n"},
		{"nested", resp.Array(resp.Array(resp.BulkString("x"), resp.BulkString("y"))), "1) 1) \"x\"\n   2) \"y\"\n"},
		{"map", resp.Map(resp.BulkString("k"), resp.BulkString("v")), "1# \"k\" => \"v\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sb strings.Builder
			PrintValue(&sb, tt.v)
			if sb.String() != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, sb.String())
			}
		})
	}
}
