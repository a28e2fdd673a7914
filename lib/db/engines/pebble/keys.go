package pebble

import (
	"encoding/binary"
)

// Key layout. Every logical database is stored under a physical id, so that
// SWAPDB only rewrites the mapping.
//
//	'd' | phys (2 bytes) | key                      -> encoded value
//	'e' | phys (2 bytes) | expireAt (8 bytes) | key -> empty, the expiry index
//	'm' "dbmap"                                     -> phys id per logical database (2 bytes each)
const (
	prefixData   = 'd'
	prefixExpire = 'e'
	physSize     = 2
	tsSize       = 8
)

var keyDBMap = []byte("mdbmap")

func dataPrefix(phys uint16) []byte {
	return binary.BigEndian.AppendUint16([]byte{prefixData}, phys)
}

func dataKey(phys uint16, key string) []byte {
	return append(dataPrefix(phys), key...)
}

func expirePrefix(phys uint16) []byte {
	return binary.BigEndian.AppendUint16([]byte{prefixExpire}, phys)
}

func expireKey(phys uint16, at int64, key string) []byte {
	k := binary.BigEndian.AppendUint64(expirePrefix(phys), uint64(at))
	return append(k, key...)
}

// expireUpperBound is the first index key that expires after now
func expireUpperBound(phys uint16, now int64) []byte {
	return binary.BigEndian.AppendUint64(expirePrefix(phys), uint64(now)+1)
}

// parseExpireKey splits an expiry index key into timestamp and user key
func parseExpireKey(k []byte) (int64, string) {
	off := 1 + physSize
	at := int64(binary.BigEndian.Uint64(k[off : off+tsSize]))
	return at, string(k[off+tsSize:])
}

// userKey strips the data prefix
func userKey(k []byte) string {
	return string(k[1+physSize:])
}

// prefixEnd returns the smallest key greater than every key with prefix p
func prefixEnd(p []byte) []byte {
	end := append([]byte{}, p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func encodeDBMap(mapping []uint16) []byte {
	out := make([]byte, 0, len(mapping)*physSize)
	for _, phys := range mapping {
		out = binary.BigEndian.AppendUint16(out, phys)
	}
	return out
}

func decodeDBMap(data []byte) []uint16 {
	mapping := make([]uint16, len(data)/physSize)
	for i := range mapping {
		mapping[i] = binary.BigEndian.Uint16(data[i*physSize:])
	}
	return mapping
}
