package db

import (
	"fmt"
	"sort"
)

// --------------------------------------------------------------------------
// Value Model
// --------------------------------------------------------------------------

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindScalar Kind = iota + 1
	KindList
	KindMap
	KindSet
	KindOrderedSet
	KindDocument
)

// String returns the type name reported to clients by TYPE.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "hash"
	case KindSet:
		return "set"
	case KindOrderedSet:
		return "zset"
	case KindDocument:
		return "ReJSON-RL"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Value is the payload stored under a key. The set of implementations is
// closed: Scalar, *List, Map, Set, *OrderedSet and Document.
type Value interface {
	// Kind reports the active variant.
	Kind() Kind
	// Clone returns a deep copy that shares no mutable state with the receiver.
	Clone() Value
	// SizeBytes estimates the memory held by the payload.
	SizeBytes() int

	sealed()
}

// Scalar is a plain byte string.
type Scalar []byte

func (s Scalar) Kind() Kind { return KindScalar }

func (s Scalar) Clone() Value {
	return Scalar(append([]byte{}, s...))
}

func (s Scalar) SizeBytes() int { return len(s) }

func (Scalar) sealed() {}

// Map maps field names to byte strings.
type Map map[string][]byte

func (m Map) Kind() Kind { return KindMap }

func (m Map) Clone() Value {
	c := make(Map, len(m))
	for k, v := range m {
		c[k] = append([]byte{}, v...)
	}
	return c
}

func (m Map) SizeBytes() int {
	size := 0
	for k, v := range m {
		size += len(k) + len(v)
	}
	return size
}

// Fields returns the field names in sorted order.
func (m Map) Fields() []string {
	fields := make([]string, 0, len(m))
	for k := range m {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func (Map) sealed() {}

// Set is a set of byte strings compared by exact equality.
type Set map[string]struct{}

func (s Set) Kind() Kind { return KindSet }

func (s Set) Clone() Value {
	c := make(Set, len(s))
	for k := range s {
		c[k] = struct{}{}
	}
	return c
}

func (s Set) SizeBytes() int {
	size := 0
	for k := range s {
		size += len(k)
	}
	return size
}

// Members returns the members in sorted order.
func (s Set) Members() []string {
	members := make([]string, 0, len(s))
	for k := range s {
		members = append(members, k)
	}
	sort.Strings(members)
	return members
}

func (s Set) Has(member string) bool {
	_, ok := s[member]
	return ok
}

func (Set) sealed() {}

// Document is a JSON document. Only valid JSON text is ever stored.
type Document string

func (d Document) Kind() Kind { return KindDocument }

func (d Document) Clone() Value { return d }

func (d Document) SizeBytes() int { return len(d) }

func (Document) sealed() {}

// --------------------------------------------------------------------------
// Stored Value
// --------------------------------------------------------------------------

// StoredValue is a Value together with its absolute expiration time in unix
// milliseconds. ExpireAt == 0 means the key never expires.
type StoredValue struct {
	Value    Value
	ExpireAt int64
}

// NewStoredValue wraps v without expiration.
func NewStoredValue(v Value) *StoredValue {
	return &StoredValue{Value: v}
}

// Expired reports whether the value is logically absent at time now (ms).
func (s *StoredValue) Expired(now int64) bool {
	return s.ExpireAt != 0 && now >= s.ExpireAt
}

// Clone returns a deep copy.
func (s *StoredValue) Clone() *StoredValue {
	if s == nil {
		return nil
	}
	return &StoredValue{Value: s.Value.Clone(), ExpireAt: s.ExpireAt}
}

// SizeBytes estimates the memory held by the entry.
func (s *StoredValue) SizeBytes() int {
	if s == nil || s.Value == nil {
		return 0
	}
	return s.Value.SizeBytes() + 8
}

// BatchOp is one step of an atomic batch write. A nil Value deletes the key.
type BatchOp struct {
	Key   string
	Value *StoredValue
}
