package resp

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Reader parses complete reply frames of either protocol version from a
// blocking stream. It is used on the client side of a connection.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 16*1024)}
}

// ReadValue blocks until one full frame was read.
func (r *Reader) ReadValue() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}
	if len(line) == 0 {
		return Value{}, protoErr("empty line")
	}
	body := string(line[1:])

	switch Type(line[0]) {
	case TypeSimpleString:
		return SimpleString(body), nil
	case TypeError:
		return Error(body), nil
	case TypeInteger:
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return Value{}, protoErr("invalid integer " + body)
		}
		return Integer(n), nil
	case TypeBulkString:
		n, err := strconv.Atoi(body)
		if err != nil || n < -1 || n > MaxBulkLen {
			return Value{}, protoErr("invalid bulk length")
		}
		if n == -1 {
			return NullBulk(), nil
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(r.br, buf); err != nil {
			return Value{}, err
		}
		if buf[n] != '\r' || buf[n+1] != '\n' {
			return Value{}, protoErr("bulk payload not terminated by CRLF")
		}
		return Value{Type: TypeBulkString, Bulk: buf[:n]}, nil
	case TypeNull:
		return Null(), nil
	case TypeBoolean:
		switch body {
		case "t":
			return Bool(true), nil
		case "f":
			return Bool(false), nil
		}
		return Value{}, protoErr("invalid boolean " + body)
	case TypeDouble:
		f, err := parseDouble(body)
		if err != nil {
			return Value{}, protoErr("invalid double " + body)
		}
		return Double(f), nil
	case TypeArray, TypeSet, TypePush, TypeMap:
		n, err := strconv.Atoi(body)
		if err != nil || n < -1 || n > MaxArgs {
			return Value{}, protoErr("invalid aggregate length")
		}
		if n == -1 {
			return NullArray(), nil
		}
		count := n
		if Type(line[0]) == TypeMap {
			count = 2 * n
		}
		elems := make([]Value, count)
		for i := range elems {
			if elems[i], err = r.ReadValue(); err != nil {
				return Value{}, err
			}
		}
		return Value{Type: Type(line[0]), Elems: elems}, nil
	default:
		return Value{}, protoErr(fmt.Sprintf("unexpected type marker %q", line[0]))
	}
}

func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return nil, protoErr("line too long")
	}
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, protoErr("line not terminated by CRLF")
	}
	return line[:len(line)-2], nil
}

func parseDouble(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "inf", "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	case "nan":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
