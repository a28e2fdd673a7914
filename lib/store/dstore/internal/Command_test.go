package internal

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
)

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name: "Set with payload",
			command: Command{
				Type:    CommandTSet,
				DB:      3,
				Now:     1_700_000_000_000,
				Key:     "testkey",
				Payload: []byte{1, 0, 0, 0, 0, 0, 0, 0, 0, 'v'},
			},
		},
		{
			name: "Swap without key",
			command: Command{
				Type: CommandTSwap,
				DB:   0,
				DB2:  15,
			},
		},
		{
			name: "Negative argument",
			command: Command{
				Type: CommandTSetExpiration,
				Key:  "你好世界",
				Arg:  -1,
				Now:  -2,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.command.Serialize()

			var got Command
			if err := got.Deserialize(data); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			if got.Type != tt.command.Type || got.DB != tt.command.DB || got.DB2 != tt.command.DB2 {
				t.Errorf("header mismatch: got %+v, want %+v", got, tt.command)
			}
			if got.Now != tt.command.Now || got.Arg != tt.command.Arg {
				t.Errorf("Now/Arg mismatch: got %d/%d, want %d/%d", got.Now, got.Arg, tt.command.Now, tt.command.Arg)
			}
			if got.Key != tt.command.Key {
				t.Errorf("Key mismatch: got %q, want %q", got.Key, tt.command.Key)
			}
			if !bytes.Equal(got.Payload, tt.command.Payload) {
				t.Errorf("Payload mismatch: got %v, want %v", got.Payload, tt.command.Payload)
			}
			if tt.command.SizeBytes() != len(data) {
				t.Errorf("SizeBytes() = %d, but serialized data length = %d", tt.command.SizeBytes(), len(data))
			}
		})
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectedErr: "data too short for command",
		},
		{
			name:        "Data too short (less than header)",
			data:        []byte{1, 2, 3, 4, 5},
			expectedErr: "data too short for command",
		},
		{
			name: "Invalid key length",
			data: func() []byte {
				data := make([]byte, headerSize)
				data[0] = byte(CommandTSet)
				binary.BigEndian.PutUint32(data[25:29], 1000)
				return data
			}(),
			expectedErr: "data too short for key of length 1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)
			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("Expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of serialized commands
func TestBinaryFormat(t *testing.T) {
	cmd := Command{
		Type:    CommandTExpireCycle,
		DB:      7,
		DB2:     9,
		Now:     12345,
		Arg:     200,
		Key:     "key",
		Payload: []byte("xy"),
	}

	expected := make([]byte, cmd.SizeBytes())
	expected[0] = byte(CommandTExpireCycle)
	binary.BigEndian.PutUint32(expected[1:5], 7)
	binary.BigEndian.PutUint32(expected[5:9], 9)
	binary.BigEndian.PutUint64(expected[9:17], 12345)
	binary.BigEndian.PutUint64(expected[17:25], 200)
	binary.BigEndian.PutUint32(expected[25:29], 3)
	copy(expected[29:32], "key")
	copy(expected[32:], "xy")

	if serialized := cmd.Serialize(); !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

func TestBatchPayload(t *testing.T) {
	ops := []db.BatchOp{
		{Key: "a", Value: &db.StoredValue{Value: db.Scalar("1"), ExpireAt: 99}},
		{Key: "b"},
		{Key: "", Value: db.NewStoredValue(db.Set{"m": {}})},
	}

	got, err := DecodeBatch(EncodeBatch(ops))
	if err != nil {
		t.Fatalf("DecodeBatch() failed: %v", err)
	}
	if len(got) != len(ops) {
		t.Fatalf("decoded %d ops, want %d", len(got), len(ops))
	}
	if got[0].Key != "a" || got[0].Value.ExpireAt != 99 || string(got[0].Value.Value.(db.Scalar)) != "1" {
		t.Errorf("unexpected first op %+v", got[0])
	}
	if got[1].Key != "b" || got[1].Value != nil {
		t.Errorf("expected delete op, got %+v", got[1])
	}
	if s, ok := got[2].Value.Value.(db.Set); !ok || !s.Has("m") {
		t.Errorf("unexpected third op %+v", got[2])
	}

	data := EncodeBatch(ops)
	if _, err := DecodeBatch(data[:len(data)-2]); err == nil {
		t.Error("expected error for truncated batch")
	}
	if _, err := DecodeBatch(append(data, 0)); err == nil {
		t.Error("expected error for trailing bytes")
	}
}
