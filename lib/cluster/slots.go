package cluster

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NumSlots is the number of hash slots the key space is partitioned into.
const NumSlots = 16384

// crc16Table is the CRC16/XMODEM (polynomial 0x1021) lookup table.
var crc16Table = func() (table [256]uint16) {
	for i := range table {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()

func crc16(s string) uint16 {
	var crc uint16
	for i := 0; i < len(s); i++ {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^s[i]]
	}
	return crc
}

// Slot returns the hash slot of a key. If the key contains a non empty hash
// tag ("{...}"), only the tag is hashed, so related keys can share a slot.
func Slot(key string) uint16 {
	if start := strings.IndexByte(key, '{'); start >= 0 {
		if end := strings.IndexByte(key[start+1:], '}'); end > 0 {
			key = key[start+1 : start+1+end]
		}
	}
	return crc16(key) % NumSlots
}

// SlotRange is an inclusive range of slots served by one address.
type SlotRange struct {
	From, To uint16
	Addr     string
}

// SlotMap assigns slot ranges to node addresses.
type SlotMap struct {
	ranges []SlotRange // sorted by From, non overlapping
}

// ParseSlotMap parses a comma separated list of "from-to=addr" (or "slot=addr")
// assignments, e.g. "0-8191=10.0.0.1:6379,8192-16383=10.0.0.2:6379".
// Unassigned slots are allowed, overlapping ranges are not.
func ParseSlotMap(conf string) (*SlotMap, error) {
	m := &SlotMap{}
	for _, part := range strings.Split(conf, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		rng, addr, ok := strings.Cut(part, "=")
		if !ok || addr == "" {
			return nil, fmt.Errorf("invalid slot assignment %q: expected range=addr", part)
		}
		fromStr, toStr, isRange := strings.Cut(rng, "-")
		if !isRange {
			toStr = fromStr
		}
		from, err := parseSlot(fromStr)
		if err != nil {
			return nil, err
		}
		to, err := parseSlot(toStr)
		if err != nil {
			return nil, err
		}
		if from > to {
			return nil, fmt.Errorf("invalid slot range %q", rng)
		}
		m.ranges = append(m.ranges, SlotRange{From: from, To: to, Addr: strings.TrimSpace(addr)})
	}

	sort.Slice(m.ranges, func(i, j int) bool { return m.ranges[i].From < m.ranges[j].From })
	for i := 1; i < len(m.ranges); i++ {
		if m.ranges[i].From <= m.ranges[i-1].To {
			return nil, fmt.Errorf("slot ranges %d-%d and %d-%d overlap",
				m.ranges[i-1].From, m.ranges[i-1].To, m.ranges[i].From, m.ranges[i].To)
		}
	}
	return m, nil
}

func parseSlot(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil || n >= NumSlots {
		return 0, fmt.Errorf("invalid slot %q", s)
	}
	return uint16(n), nil
}

// Owner returns the address serving a slot.
func (m *SlotMap) Owner(slot uint16) (string, bool) {
	i := sort.Search(len(m.ranges), func(i int) bool { return m.ranges[i].To >= slot })
	if i < len(m.ranges) && m.ranges[i].From <= slot {
		return m.ranges[i].Addr, true
	}
	return "", false
}

// Ranges returns the slot ranges in slot order.
func (m *SlotMap) Ranges() []SlotRange {
	return append([]SlotRange(nil), m.ranges...)
}

// Assigned returns the number of slots with an owner.
func (m *SlotMap) Assigned() int {
	n := 0
	for _, r := range m.ranges {
		n += int(r.To-r.From) + 1
	}
	return n
}
