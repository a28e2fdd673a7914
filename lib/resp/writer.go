package resp

import (
	"bufio"
	"io"
	"strconv"
)

// AppendValue appends the wire encoding of v for the given protocol version.
// Protocol 2 has no null, boolean, double, map, set or push markers, so those
// values are downgraded to their closest protocol 2 shape:
//
//	null    -> $-1 (or *-1 for null arrays)
//	boolean -> :1 / :0
//	double  -> bulk string
//	map     -> flat array of keys and values
//	set     -> array
//	push    -> array
func AppendValue(dst []byte, v Value, proto int) []byte {
	switch v.Type {
	case TypeSimpleString, TypeError:
		dst = append(dst, byte(v.Type))
		dst = appendSafeLine(dst, v.Str)
		return append(dst, '\r', '\n')

	case TypeInteger:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, v.Int, 10)
		return append(dst, '\r', '\n')

	case TypeBulkString:
		if v.Null {
			if proto >= Proto3 {
				return append(dst, '_', '\r', '\n')
			}
			return append(dst, "$-1\r\n"...)
		}
		return appendBulk(dst, v.Bulk)

	case TypeNull:
		if proto >= Proto3 {
			return append(dst, '_', '\r', '\n')
		}
		return append(dst, "$-1\r\n"...)

	case TypeBoolean:
		if proto >= Proto3 {
			if v.Bool {
				return append(dst, "#t\r\n"...)
			}
			return append(dst, "#f\r\n"...)
		}
		if v.Bool {
			return append(dst, ":1\r\n"...)
		}
		return append(dst, ":0\r\n"...)

	case TypeDouble:
		if proto >= Proto3 {
			dst = append(dst, ',')
			dst = append(dst, FormatFloat(v.Float)...)
			return append(dst, '\r', '\n')
		}
		return appendBulk(dst, []byte(FormatFloat(v.Float)))

	case TypeArray:
		if v.Null {
			if proto >= Proto3 {
				return append(dst, '_', '\r', '\n')
			}
			return append(dst, "*-1\r\n"...)
		}
		return appendAggregate(dst, '*', len(v.Elems), v.Elems, proto)

	case TypeMap:
		if proto >= Proto3 {
			return appendAggregate(dst, '%', len(v.Elems)/2, v.Elems, proto)
		}
		return appendAggregate(dst, '*', len(v.Elems), v.Elems, proto)

	case TypeSet:
		if proto >= Proto3 {
			return appendAggregate(dst, '~', len(v.Elems), v.Elems, proto)
		}
		return appendAggregate(dst, '*', len(v.Elems), v.Elems, proto)

	case TypePush:
		if proto >= Proto3 {
			return appendAggregate(dst, '>', len(v.Elems), v.Elems, proto)
		}
		return appendAggregate(dst, '*', len(v.Elems), v.Elems, proto)

	default:
		return AppendValue(dst, Error("ERR unknown reply type "+v.Type.String()), proto)
	}
}

// Encode returns the wire encoding of v.
func Encode(v Value, proto int) []byte {
	return AppendValue(nil, v, proto)
}

func appendBulk(dst, b []byte) []byte {
	dst = append(dst, '$')
	dst = strconv.AppendInt(dst, int64(len(b)), 10)
	dst = append(dst, '\r', '\n')
	dst = append(dst, b...)
	return append(dst, '\r', '\n')
}

func appendAggregate(dst []byte, marker byte, n int, elems []Value, proto int) []byte {
	dst = append(dst, marker)
	dst = strconv.AppendInt(dst, int64(n), 10)
	dst = append(dst, '\r', '\n')
	for _, e := range elems {
		dst = AppendValue(dst, e, proto)
	}
	return dst
}

// appendSafeLine strips CR and LF so a status or error line can not break framing.
func appendSafeLine(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\r' || c == '\n' {
			c = ' '
		}
		dst = append(dst, c)
	}
	return dst
}

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// Writer serializes replies for one connection using the negotiated protocol.
//
// Thread-safety: A Writer is not safe for concurrent use. Connections that
// emit push frames from other goroutines must serialize access themselves.
type Writer struct {
	bw    *bufio.Writer
	proto int
	buf   []byte
}

// NewWriter creates a writer that starts out speaking protocol 2.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw:    bufio.NewWriterSize(w, 16*1024),
		proto: Proto2,
	}
}

// SetProtocol switches the encoding of all following replies.
func (w *Writer) SetProtocol(proto int) { w.proto = proto }

func (w *Writer) Protocol() int { return w.proto }

// WriteValue buffers the encoding of v. Call Flush to send it.
func (w *Writer) WriteValue(v Value) error {
	w.buf = AppendValue(w.buf[:0], v, w.proto)
	_, err := w.bw.Write(w.buf)
	if cap(w.buf) > 1<<20 {
		// don't pin huge replies
		w.buf = nil
	}
	return err
}

// WriteCommand encodes a request as an array of bulk strings.
func (w *Writer) WriteCommand(args ...[]byte) error {
	w.buf = append(w.buf[:0], '*')
	w.buf = strconv.AppendInt(w.buf, int64(len(args)), 10)
	w.buf = append(w.buf, '\r', '\n')
	for _, a := range args {
		w.buf = appendBulk(w.buf, a)
	}
	_, err := w.bw.Write(w.buf)
	return err
}

func (w *Writer) Flush() error { return w.bw.Flush() }

// Buffered returns the number of bytes not yet flushed.
func (w *Writer) Buffered() int { return w.bw.Buffered() }
