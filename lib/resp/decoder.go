package resp

import (
	"bytes"
	"strconv"
)

const (
	// MaxArgs is the largest argument count accepted in one request.
	MaxArgs = 1024 * 1024
	// MaxBulkLen is the largest single argument accepted (512 MiB).
	MaxBulkLen = 512 * 1024 * 1024
	// MaxInlineLen bounds inline requests, which have no length prefix.
	MaxInlineLen = 64 * 1024

	// bulk arguments of at least this size are streamed into an exact-size
	// buffer instead of being held in the read buffer until complete
	largeBulk = 32 * 1024
)

// ProtocolError is a malformed frame. The connection can not be resynchronized
// after one and must be closed once the error was reported.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "ERR Protocol error: " + e.Msg
}

func protoErr(msg string) error { return &ProtocolError{Msg: msg} }

// decoder states
const (
	stateFrame  = iota // waiting for the start of a frame
	stateBulk          // waiting for a "$<len>" line
	stateData          // inside the payload of a bulk argument
	stateStream        // streaming a large payload into its own buffer
	stateCRLF          // expecting the CRLF after a streamed payload
)

// Decoder turns a byte stream into request frames. Bytes are handed in with
// Feed as they arrive; Next returns complete frames in order.
//
// A frame that is only partially buffered is not re-parsed: the decoder keeps
// the argument count, the arguments decoded so far, the pending bulk length and
// the offset at which the line scan stopped, and resumes from there on the next
// call. Large bulk arguments are copied exactly once, straight into a buffer of
// their final size.
//
// Thread-safety: A Decoder belongs to one connection and is not safe for
// concurrent use.
type Decoder struct {
	buf []byte // unconsumed input starts at pos
	pos int

	state     int
	scanFrom  int // offset (relative to pos) where the last CRLF search stopped
	remaining int // arguments still missing in the current frame
	args      [][]byte
	bulkLen   int
	stream    []byte // destination for a streamed payload
	streamed  int
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{state: stateFrame}
}

// Feed appends freshly read bytes.
func (d *Decoder) Feed(p []byte) {
	if d.pos > 0 && d.pos == len(d.buf) {
		d.buf = d.buf[:0]
		d.pos = 0
	} else if d.pos > 4096 && d.pos > len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.pos:])
		d.buf = d.buf[:n]
		d.pos = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes fed but not yet consumed by a frame.
func (d *Decoder) Buffered() int { return len(d.buf) - d.pos }

// Pending reports whether a frame is partially decoded.
func (d *Decoder) Pending() bool { return d.state != stateFrame || d.Buffered() > 0 }

// Next returns the next complete frame. It returns (nil, nil) when more input
// is needed. Any error is a *ProtocolError.
func (d *Decoder) Next() ([][]byte, error) {
	for {
		switch d.state {
		case stateFrame:
			if d.Buffered() == 0 {
				return nil, nil
			}
			if d.buf[d.pos] != '*' {
				args, ok, err := d.inline()
				if err != nil || !ok {
					return nil, err
				}
				if len(args) == 0 {
					continue // empty line
				}
				return args, nil
			}
			line, ok, err := d.line()
			if err != nil || !ok {
				return nil, err
			}
			n, perr := strconv.Atoi(string(line[1:]))
			if perr != nil || n > MaxArgs {
				return nil, protoErr("invalid multibulk length")
			}
			if n <= 0 {
				// "*0" and "*-1" carry no command
				continue
			}
			d.remaining = n
			d.args = make([][]byte, 0, min(n, 1024))
			d.state = stateBulk

		case stateBulk:
			if d.Buffered() == 0 {
				return nil, nil
			}
			if d.buf[d.pos] != '$' {
				return nil, protoErr("expected '$', got '" + string(d.buf[d.pos]) + "'")
			}
			line, ok, err := d.line()
			if err != nil || !ok {
				return nil, err
			}
			n, perr := strconv.Atoi(string(line[1:]))
			if perr != nil || n < 0 || n > MaxBulkLen {
				return nil, protoErr("invalid bulk length")
			}
			d.bulkLen = n
			if n >= largeBulk {
				d.stream = make([]byte, n)
				d.streamed = 0
				d.state = stateStream
			} else {
				d.state = stateData
			}

		case stateData:
			if d.Buffered() < d.bulkLen+2 {
				return nil, nil
			}
			end := d.pos + d.bulkLen
			if d.buf[end] != '\r' || d.buf[end+1] != '\n' {
				return nil, protoErr("bulk payload not terminated by CRLF")
			}
			arg := make([]byte, d.bulkLen)
			copy(arg, d.buf[d.pos:end])
			d.pos = end + 2
			if frame := d.pushArg(arg); frame != nil {
				return frame, nil
			}

		case stateStream:
			avail := d.Buffered()
			if avail == 0 {
				return nil, nil
			}
			n := copy(d.stream[d.streamed:], d.buf[d.pos:d.pos+min(avail, d.bulkLen-d.streamed)])
			d.streamed += n
			d.pos += n
			if d.streamed < d.bulkLen {
				return nil, nil
			}
			d.state = stateCRLF

		case stateCRLF:
			if d.Buffered() < 2 {
				return nil, nil
			}
			if d.buf[d.pos] != '\r' || d.buf[d.pos+1] != '\n' {
				return nil, protoErr("bulk payload not terminated by CRLF")
			}
			d.pos += 2
			arg := d.stream
			d.stream = nil
			if frame := d.pushArg(arg); frame != nil {
				return frame, nil
			}
		}
	}
}

// pushArg stores a decoded argument and returns the frame once it is complete.
func (d *Decoder) pushArg(arg []byte) [][]byte {
	d.args = append(d.args, arg)
	d.remaining--
	if d.remaining > 0 {
		d.state = stateBulk
		return nil
	}
	frame := d.args
	d.args = nil
	d.state = stateFrame
	return frame
}

// line returns the next CRLF terminated line (without CRLF) and consumes it.
// The search resumes where the previous unsuccessful search stopped.
func (d *Decoder) line() ([]byte, bool, error) {
	window := d.buf[d.pos:]
	from := d.scanFrom
	if from > 0 {
		from-- // the '\r' may have been the last byte seen
	}
	idx := bytes.Index(window[from:], []byte{'\r', '\n'})
	if idx < 0 {
		d.scanFrom = len(window)
		if len(window) > MaxInlineLen {
			return nil, false, protoErr("too big request line")
		}
		return nil, false, nil
	}
	end := from + idx
	d.scanFrom = 0
	d.pos += end + 2
	return window[:end], true, nil
}

// inline parses a space separated command line (e.g. "PING\r\n" typed into telnet).
func (d *Decoder) inline() ([][]byte, bool, error) {
	window := d.buf[d.pos:]
	from := d.scanFrom
	if from > 0 {
		from--
	}
	idx := bytes.IndexByte(window[from:], '\n')
	if idx < 0 {
		d.scanFrom = len(window)
		if len(window) > MaxInlineLen {
			return nil, false, protoErr("too big inline request")
		}
		return nil, false, nil
	}
	end := from + idx
	d.scanFrom = 0
	d.pos += end + 1
	text := window[:end]
	if len(text) > 0 && text[len(text)-1] == '\r' {
		text = text[:len(text)-1]
	}
	args, err := splitInline(text)
	return args, err == nil, err
}

// splitInline splits a line on whitespace honouring double and single quotes.
func splitInline(line []byte) ([][]byte, error) {
	var args [][]byte
	i := 0
	for {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i >= len(line) {
			return args, nil
		}
		var cur []byte
		switch line[i] {
		case '"', '\'':
			quote := line[i]
			i++
			closed := false
			for i < len(line) {
				c := line[i]
				if quote == '"' && c == '\\' && i+1 < len(line) {
					i++
					switch line[i] {
					case 'n':
						c = '\n'
					case 'r':
						c = '\r'
					case 't':
						c = '\t'
					default:
						c = line[i]
					}
					cur = append(cur, c)
					i++
					continue
				}
				if c == quote {
					closed = true
					i++
					break
				}
				cur = append(cur, c)
				i++
			}
			if !closed || (i < len(line) && line[i] != ' ' && line[i] != '\t') {
				return nil, protoErr("unbalanced quotes in request")
			}
			if cur == nil {
				cur = []byte{}
			}
		default:
			start := i
			for i < len(line) && line[i] != ' ' && line[i] != '\t' {
				i++
			}
			cur = append([]byte(nil), line[start:i]...)
		}
		args = append(args, cur)
	}
}
