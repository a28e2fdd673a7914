package cluster

import (
	"errors"
	"testing"
)

func TestSlot(t *testing.T) {
	tests := []struct {
		key  string
		want uint16
	}{
		{"", 0},
		{"123456789", 0x31C3 % NumSlots}, // CRC16/XMODEM check value
		{"foo", 12182},
		{"bar", 5061},
		{"{user1000}.following", Slot("user1000")},
		{"{}foo", Slot("{}foo")},
	}
	for _, tt := range tests {
		if got := Slot(tt.key); got != tt.want {
			t.Errorf("Slot(%q) = %d, want %d", tt.key, got, tt.want)
		}
	}
	if Slot("{user1000}.following") != Slot("{user1000}.followers") {
		t.Error("keys with the same hash tag must share a slot")
	}
}

func TestParseSlotMap(t *testing.T) {
	m, err := ParseSlotMap("8192-16383=b:2, 0-8191=a:1")
	if err != nil {
		t.Fatal(err)
	}
	if owner, _ := m.Owner(0); owner != "a:1" {
		t.Errorf("Owner(0) = %q", owner)
	}
	if owner, _ := m.Owner(16383); owner != "b:2" {
		t.Errorf("Owner(16383) = %q", owner)
	}
	if m.Assigned() != NumSlots {
		t.Errorf("Assigned() = %d, want %d", m.Assigned(), NumSlots)
	}

	partial, err := ParseSlotMap("5=a:1")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := partial.Owner(6); ok {
		t.Error("slot 6 should be unassigned")
	}

	for _, bad := range []string{"0-10=a,5-20=b", "x=a", "10-5=a", "0-16384=a", "0-10"} {
		if _, err := ParseSlotMap(bad); err == nil {
			t.Errorf("ParseSlotMap(%q) should fail", bad)
		}
	}
}

func TestRouter(t *testing.T) {
	var disabled *Router
	if err := disabled.Route([]string{"a", "b"}); err != nil {
		t.Errorf("disabled router must accept every key, got %v", err)
	}

	m, _ := ParseSlotMap("0-8191=self:1,8192-16383=other:2")
	r := NewRouter(m, "self:1")

	if err := r.Route([]string{"bar"}); err != nil { // slot 5061
		t.Errorf("local key rejected: %v", err)
	}
	var redirect *RedirectError
	if err := r.Route([]string{"foo"}); !errors.As(err, &redirect) || redirect.Addr != "other:2" || redirect.Slot != 12182 {
		t.Errorf("expected MOVED to other:2, got %v", err)
	}
	if err := r.Route([]string{"foo", "bar"}); !errors.Is(err, ErrCrossSlot) {
		t.Errorf("expected CROSSSLOT, got %v", err)
	}
	if err := r.Route([]string{"{t}a", "{t}b"}); errors.Is(err, ErrCrossSlot) {
		t.Error("hash tagged keys must not be cross slot")
	}
}
