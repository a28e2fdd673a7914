package resp

import (
	"math"
	"strconv"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Type is the one byte marker that starts every frame on the wire.
type Type byte

const (
	TypeSimpleString Type = '+'
	TypeError        Type = '-'
	TypeInteger      Type = ':'
	TypeBulkString   Type = '$'
	TypeArray        Type = '*'

	// only emitted once protocol 3 was negotiated
	TypeNull    Type = '_'
	TypeBoolean Type = '#'
	TypeDouble  Type = ','
	TypeMap     Type = '%'
	TypeSet     Type = '~'
	TypePush    Type = '>'
)

const (
	Proto2 = 2
	Proto3 = 3
)

func (t Type) String() string {
	switch t {
	case TypeSimpleString:
		return "simple-string"
	case TypeError:
		return "error"
	case TypeInteger:
		return "integer"
	case TypeBulkString:
		return "bulk-string"
	case TypeArray:
		return "array"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeDouble:
		return "double"
	case TypeMap:
		return "map"
	case TypeSet:
		return "set"
	case TypePush:
		return "push"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// Value is a single reply (or request) frame.
// Which fields are meaningful depends on Type. Maps keep their entries as a
// flat list of alternating keys and values in Elems.
type Value struct {
	Type  Type
	Str   string  // simple string and error text
	Int   int64   // integer
	Bulk  []byte  // bulk string payload
	Null  bool    // null bulk string or null array (protocol 2 encoding)
	Bool  bool    // boolean
	Float float64 // double
	Elems []Value // array, set, push and map entries
}

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

var OK = SimpleString("OK")

func SimpleString(s string) Value { return Value{Type: TypeSimpleString, Str: s} }

// Error builds an error reply. msg must carry its kind prefix (e.g. "ERR ...").
func Error(msg string) Value { return Value{Type: TypeError, Str: msg} }

func Integer(n int64) Value { return Value{Type: TypeInteger, Int: n} }

func Bulk(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{Type: TypeBulkString, Bulk: b}
}

func BulkString(s string) Value { return Value{Type: TypeBulkString, Bulk: []byte(s)} }

// NullBulk is the null reply used by most commands for a missing value.
func NullBulk() Value { return Value{Type: TypeBulkString, Null: true} }

// NullArray is the null reply for a missing aggregate.
func NullArray() Value { return Value{Type: TypeArray, Null: true} }

// Null is the protocol 3 null. Writers downgrade it to a null bulk string.
func Null() Value { return Value{Type: TypeNull} }

func Bool(b bool) Value { return Value{Type: TypeBoolean, Bool: b} }

func Double(f float64) Value { return Value{Type: TypeDouble, Float: f} }

func Array(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Type: TypeArray, Elems: elems}
}

// Map builds a map reply from alternating keys and values.
func Map(kv ...Value) Value {
	if kv == nil {
		kv = []Value{}
	}
	return Value{Type: TypeMap, Elems: kv}
}

func Set(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Type: TypeSet, Elems: elems}
}

func Push(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Type: TypePush, Elems: elems}
}

// BulkArray builds an array of bulk strings. Nil entries become null bulks.
func BulkArray(items [][]byte) Value {
	elems := make([]Value, len(items))
	for i, it := range items {
		if it == nil {
			elems[i] = NullBulk()
		} else {
			elems[i] = Bulk(it)
		}
	}
	return Array(elems...)
}

// StringArray builds an array of bulk strings from Go strings.
func StringArray(items []string) Value {
	elems := make([]Value, len(items))
	for i, it := range items {
		elems[i] = BulkString(it)
	}
	return Array(elems...)
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// IsError reports whether v is an error reply.
func (v Value) IsError() bool { return v.Type == TypeError }

// IsNull reports whether v is any flavour of null.
func (v Value) IsNull() bool { return v.Type == TypeNull || v.Null }

// Text returns the textual content of string-like values.
func (v Value) Text() string {
	switch v.Type {
	case TypeSimpleString, TypeError:
		return v.Str
	case TypeBulkString:
		return string(v.Bulk)
	case TypeInteger:
		return strconv.FormatInt(v.Int, 10)
	case TypeDouble:
		return FormatFloat(v.Float)
	case TypeBoolean:
		if v.Bool {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

// Equal compares two values structurally.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type || v.Null != o.Null {
		return false
	}
	switch v.Type {
	case TypeSimpleString, TypeError:
		return v.Str == o.Str
	case TypeInteger:
		return v.Int == o.Int
	case TypeBulkString:
		return v.Null || string(v.Bulk) == string(o.Bulk)
	case TypeBoolean:
		return v.Bool == o.Bool
	case TypeDouble:
		return v.Float == o.Float || (math.IsNaN(v.Float) && math.IsNaN(o.Float))
	case TypeNull:
		return true
	default:
		if v.Null {
			return true
		}
		if len(v.Elems) != len(o.Elems) {
			return false
		}
		for i := range v.Elems {
			if !v.Elems[i].Equal(o.Elems[i]) {
				return false
			}
		}
		return true
	}
}

// FormatFloat renders a float the way scores and doubles are shown to clients.
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
