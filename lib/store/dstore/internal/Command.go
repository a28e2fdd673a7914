package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/codec"
)

// CommandType defines the possible operations for the state machine.
type CommandType uint8

const (
	CommandTSet              CommandType = iota // Insert or replace an entry.
	CommandTDelete                              // Delete an entry.
	CommandTFlush                               // Remove every key of one database.
	CommandTFlushAll                            // Remove every key of all databases.
	CommandTSwap                                // Exchange two databases.
	CommandTSetExpiration                       // Set the absolute expiration of an entry.
	CommandTRemoveExpiration                    // Make an entry persistent.
	CommandTWriteBatch                          // Apply a batch of sets and deletes atomically.
	CommandTExpireCycle                         // Remove expired entries (proposed by the leader).
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTSet:
		return "Set"
	case CommandTDelete:
		return "Delete"
	case CommandTFlush:
		return "Flush"
	case CommandTFlushAll:
		return "FlushAll"
	case CommandTSwap:
		return "Swap"
	case CommandTSetExpiration:
		return "SetExpiration"
	case CommandTRemoveExpiration:
		return "RemoveExpiration"
	case CommandTWriteBatch:
		return "WriteBatch"
	case CommandTExpireCycle:
		return "ExpireCycle"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ToDBFeature converts a CommandType to the corresponding db.Feature.
// This can be used for checking if the database supports a certain operation.
func (ct CommandType) ToDBFeature() (db.Feature, error) {
	switch ct {
	case CommandTSet:
		return db.FeatureSet, nil
	case CommandTDelete:
		return db.FeatureDelete, nil
	case CommandTFlush, CommandTFlushAll:
		return db.FeatureFlush, nil
	case CommandTSwap:
		return db.FeatureSwap, nil
	case CommandTSetExpiration, CommandTRemoveExpiration:
		return db.FeatureExpire, nil
	case CommandTWriteBatch:
		return db.FeatureWriteBatch, nil
	case CommandTExpireCycle:
		return db.FeatureExpireCycle, nil
	default:
		return 0, fmt.Errorf("unknown command type %d", ct)
	}
}

// header: Type + DB + DB2 + Now + Arg + KeyLen
const headerSize = 1 + 4 + 4 + 8 + 8 + 4

// Command represents a command to be executed by the state machine (a single entry in the raft log).
//
// Now is the time of the proposer. Every replica evaluates expiration against
// it, so all replicas apply the entry identically.
type Command struct {
	Type    CommandType
	DB      uint32 // target database
	DB2     uint32 // second database (Swap)
	Now     int64  // proposer time in unix ms
	Arg     int64  // expiration (SetExpiration) or limit (ExpireCycle)
	Key     string
	Payload []byte // encoded value (Set) or encoded batch (WriteBatch)
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Key) + len(command.Payload)
}

// Serialize serializes a command into a byte array with the format:
// 1 byte for operation type,
// 4 bytes for the database,
// 4 bytes for the second database,
// 8 bytes for now,
// 8 bytes for the argument,
// 4 bytes for key length (big endian),
// N bytes for key data,
// N bytes for payload data (optional)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	binary.BigEndian.PutUint32(result[1:5], command.DB)
	binary.BigEndian.PutUint32(result[5:9], command.DB2)
	binary.BigEndian.PutUint64(result[9:17], uint64(command.Now))
	binary.BigEndian.PutUint64(result[17:25], uint64(command.Arg))
	binary.BigEndian.PutUint32(result[25:29], uint32(len(command.Key)))

	n := copy(result[headerSize:], command.Key)
	copy(result[headerSize+n:], command.Payload)

	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.DB = binary.BigEndian.Uint32(data[1:5])
	command.DB2 = binary.BigEndian.Uint32(data[5:9])
	command.Now = int64(binary.BigEndian.Uint64(data[9:17]))
	command.Arg = int64(binary.BigEndian.Uint64(data[17:25]))
	keyLen := binary.BigEndian.Uint32(data[25:29])

	if uint64(len(data)) < headerSize+uint64(keyLen) {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	end := headerSize + int(keyLen)
	command.Key = string(data[headerSize:end])

	if len(data) > end {
		// Reuse existing buffer if possible to reduce allocations
		payloadLen := len(data) - end
		if cap(command.Payload) < payloadLen {
			command.Payload = make([]byte, payloadLen)
		} else {
			command.Payload = command.Payload[:payloadLen]
		}
		copy(command.Payload, data[end:])
	} else {
		command.Payload = nil
	}

	return nil
}

// --------------------------------------------------------------------------
// Batch payload
// --------------------------------------------------------------------------

// EncodeBatch serializes batch operations into a WriteBatch payload:
// uvarint count, then per operation a length prefixed key, one flag byte
// (1 = set, 0 = delete) and for sets the length prefixed encoded value.
func EncodeBatch(ops []db.BatchOp) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(ops)))
	for _, op := range ops {
		buf = binary.AppendUvarint(buf, uint64(len(op.Key)))
		buf = append(buf, op.Key...)
		if op.Value == nil {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		encoded := codec.EncodeValue(op.Value)
		buf = binary.AppendUvarint(buf, uint64(len(encoded)))
		buf = append(buf, encoded...)
	}
	return buf
}

// DecodeBatch is the inverse of EncodeBatch.
func DecodeBatch(data []byte) ([]db.BatchOp, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 || count > uint64(len(data)) {
		return nil, fmt.Errorf("invalid batch header")
	}
	data = data[n:]

	chunk := func() ([]byte, error) {
		l, n := binary.Uvarint(data)
		if n <= 0 || l > uint64(len(data)-n) {
			return nil, fmt.Errorf("truncated batch")
		}
		out := data[n : n+int(l)]
		data = data[n+int(l):]
		return out, nil
	}

	ops := make([]db.BatchOp, 0, count)
	for i := uint64(0); i < count; i++ {
		key, err := chunk()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("truncated batch")
		}
		flag := data[0]
		data = data[1:]

		op := db.BatchOp{Key: string(key)}
		if flag == 1 {
			raw, err := chunk()
			if err != nil {
				return nil, err
			}
			if op.Value, err = codec.DecodeValue(raw); err != nil {
				return nil, err
			}
		}
		ops = append(ops, op)
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after batch", len(data))
	}
	return ops, nil
}
