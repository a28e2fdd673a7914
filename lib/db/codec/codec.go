package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ValentinKolb/rKV/lib/db"
)

// ErrCorrupt is returned for data that can not be decoded.
var ErrCorrupt = errors.New("codec: corrupt value")

// header: 1 byte kind + 8 bytes expireAt
const headerSize = 9

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// AppendValue appends the binary encoding of sv to dst with the format:
// 1 byte kind,
// 8 bytes expireAt (big endian),
// N bytes payload (layout depends on the kind)
func AppendValue(dst []byte, sv *db.StoredValue) []byte {
	dst = append(dst, byte(sv.Value.Kind()))
	dst = binary.BigEndian.AppendUint64(dst, uint64(sv.ExpireAt))

	switch v := sv.Value.(type) {
	case db.Scalar:
		dst = append(dst, v...)
	case db.Document:
		dst = append(dst, v...)
	case *db.List:
		dst = binary.AppendUvarint(dst, uint64(v.Len()))
		for _, it := range v.Values() {
			dst = appendBytes(dst, it)
		}
	case db.Map:
		dst = binary.AppendUvarint(dst, uint64(len(v)))
		for _, field := range v.Fields() {
			dst = appendBytes(dst, []byte(field))
			dst = appendBytes(dst, v[field])
		}
	case db.Set:
		dst = binary.AppendUvarint(dst, uint64(len(v)))
		for _, m := range v.Members() {
			dst = appendBytes(dst, []byte(m))
		}
	case *db.OrderedSet:
		dst = binary.AppendUvarint(dst, uint64(v.Len()))
		for _, e := range v.Entries() {
			dst = appendBytes(dst, []byte(e.Member))
			dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(e.Score))
		}
	}
	return dst
}

// EncodeValue returns the binary encoding of sv.
func EncodeValue(sv *db.StoredValue) []byte {
	return AppendValue(make([]byte, 0, headerSize+sv.SizeBytes()+16), sv)
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// DecodeValue decodes a value produced by EncodeValue. The result does not
// alias data.
func DecodeValue(data []byte) (*db.StoredValue, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: data too short (%d bytes)", ErrCorrupt, len(data))
	}
	kind := db.Kind(data[0])
	expireAt := int64(binary.BigEndian.Uint64(data[1:9]))
	r := &reader{data: data[headerSize:]}

	var value db.Value
	switch kind {
	case db.KindScalar:
		value = db.Scalar(append([]byte{}, r.data...))
	case db.KindDocument:
		value = db.Document(r.data)
	case db.KindList:
		n := r.count()
		l := db.NewList()
		for i := 0; i < n && r.err == nil; i++ {
			l.PushBack(r.bytes())
		}
		value = l
	case db.KindMap:
		n := r.count()
		m := make(db.Map, n)
		for i := 0; i < n && r.err == nil; i++ {
			field := string(r.bytes())
			m[field] = r.bytes()
		}
		value = m
	case db.KindSet:
		n := r.count()
		s := make(db.Set, n)
		for i := 0; i < n && r.err == nil; i++ {
			s[string(r.bytes())] = struct{}{}
		}
		value = s
	case db.KindOrderedSet:
		n := r.count()
		z := db.NewOrderedSet()
		for i := 0; i < n && r.err == nil; i++ {
			member := string(r.bytes())
			z.Add(member, math.Float64frombits(r.uint64()))
		}
		value = z
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrCorrupt, kind)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &db.StoredValue{Value: value, ExpireAt: expireAt}, nil
}

// reader is a cursor over an encoded payload. The first error sticks.
type reader struct {
	data []byte
	err  error
}

func (r *reader) fail(msg string) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s", ErrCorrupt, msg)
	}
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data)
	if n <= 0 {
		r.fail("bad length prefix")
		return 0
	}
	r.data = r.data[n:]
	return v
}

// count reads an element count and rejects counts larger than the remaining
// data could possibly hold.
func (r *reader) count() int {
	n := r.uvarint()
	if n > uint64(len(r.data)) {
		r.fail("element count exceeds payload")
		return 0
	}
	return int(n)
}

func (r *reader) bytes() []byte {
	n := r.uvarint()
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.data)) {
		r.fail("truncated payload")
		return nil
	}
	out := append([]byte{}, r.data[:n]...)
	r.data = r.data[n:]
	return out
}

func (r *reader) uint64() uint64 {
	if r.err != nil {
		return 0
	}
	if len(r.data) < 8 {
		r.fail("truncated number")
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[:8])
	r.data = r.data[8:]
	return v
}

// PeekExpireAt returns the expiration of an encoded value without decoding
// the payload.
func PeekExpireAt(data []byte) (int64, error) {
	if len(data) < headerSize {
		return 0, fmt.Errorf("%w: data too short (%d bytes)", ErrCorrupt, len(data))
	}
	return int64(binary.BigEndian.Uint64(data[1:9])), nil
}

// WithExpireAt returns a copy of an encoded value with its expiration replaced.
func WithExpireAt(data []byte, at int64) ([]byte, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: data too short (%d bytes)", ErrCorrupt, len(data))
	}
	out := append([]byte{}, data...)
	binary.BigEndian.PutUint64(out[1:9], uint64(at))
	return out, nil
}
