package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ValentinKolb/rKV/lib/db"
)

// Snapshot stream layout:
//
//	magic "RKVSNAP\x00" | version (1 byte) | uvarint number of databases
//	records: 0x01 | uvarint db | uvarint key length | key | uvarint value length | value
//	end:     0x00
//
// Values use the EncodeValue format, so snapshots are portable between engines.
var snapshotMagic = []byte("RKVSNAP\x00")

const (
	snapshotVersion = 1
	recordEntry     = 1
	recordEnd       = 0
)

// SnapshotWriter streams database entries into a snapshot.
type SnapshotWriter struct {
	bw      *bufio.Writer
	scratch []byte
	entries int
}

// NewSnapshotWriter writes the snapshot header for numDBs databases.
func NewSnapshotWriter(w io.Writer, numDBs int) (*SnapshotWriter, error) {
	bw := bufio.NewWriterSize(w, 64*1024)
	header := append([]byte{}, snapshotMagic...)
	header = append(header, snapshotVersion)
	header = binary.AppendUvarint(header, uint64(numDBs))
	if _, err := bw.Write(header); err != nil {
		return nil, err
	}
	return &SnapshotWriter{bw: bw}, nil
}

// Write appends one entry.
func (s *SnapshotWriter) Write(dbIdx int, key string, sv *db.StoredValue) error {
	return s.WriteEncoded(dbIdx, key, EncodeValue(sv))
}

// WriteEncoded appends one entry whose value is already in the EncodeValue format.
func (s *SnapshotWriter) WriteEncoded(dbIdx int, key string, encoded []byte) error {
	s.scratch = append(s.scratch[:0], recordEntry)
	s.scratch = binary.AppendUvarint(s.scratch, uint64(dbIdx))
	s.scratch = appendBytes(s.scratch, []byte(key))
	s.scratch = binary.AppendUvarint(s.scratch, uint64(len(encoded)))
	if _, err := s.bw.Write(s.scratch); err != nil {
		return err
	}
	if _, err := s.bw.Write(encoded); err != nil {
		return err
	}
	s.entries++
	return nil
}

// Entries returns the number of entries written so far.
func (s *SnapshotWriter) Entries() int { return s.entries }

// Close writes the end marker and flushes. It does not close the underlying writer.
func (s *SnapshotWriter) Close() error {
	if err := s.bw.WriteByte(recordEnd); err != nil {
		return err
	}
	return s.bw.Flush()
}

// ReadSnapshot reads a snapshot and calls fn for every entry in stream order.
// It returns the number of databases recorded in the header.
func ReadSnapshot(r io.Reader, fn func(dbIdx int, key string, sv *db.StoredValue) error) (int, error) {
	return ReadSnapshotEncoded(r, func(dbIdx int, key string, encoded []byte) error {
		sv, err := DecodeValue(encoded)
		if err != nil {
			return fmt.Errorf("entry %q: %w", key, err)
		}
		return fn(dbIdx, key, sv)
	})
}

// ReadSnapshotEncoded is like ReadSnapshot but passes the values in the
// EncodeValue format. The header of every value is validated.
func ReadSnapshotEncoded(r io.Reader, fn func(dbIdx int, key string, encoded []byte) error) (int, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return 0, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if !bytes.Equal(magic, snapshotMagic) {
		return 0, fmt.Errorf("%w: not a snapshot", ErrCorrupt)
	}
	version, err := br.ReadByte()
	if err != nil {
		return 0, err
	}
	if version != snapshotVersion {
		return 0, fmt.Errorf("unsupported snapshot version %d", version)
	}
	numDBs, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, err
	}

	for {
		marker, err := br.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("snapshot truncated: %w", err)
		}
		if marker == recordEnd {
			return int(numDBs), nil
		}
		if marker != recordEntry {
			return 0, fmt.Errorf("%w: unexpected record marker %d", ErrCorrupt, marker)
		}
		dbIdx, err := binary.ReadUvarint(br)
		if err != nil {
			return 0, err
		}
		key, err := readChunk(br)
		if err != nil {
			return 0, err
		}
		raw, err := readChunk(br)
		if err != nil {
			return 0, err
		}
		if len(raw) < headerSize {
			return 0, fmt.Errorf("%w: entry %q too short", ErrCorrupt, key)
		}
		if err := fn(int(dbIdx), string(key), raw); err != nil {
			return 0, err
		}
	}
}

func readChunk(br *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if n > 1<<32 {
		return nil, fmt.Errorf("%w: chunk of %d bytes", ErrCorrupt, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
