// Package broker bridges shard traffic to the Redis-like broker: a
// blocking per-shard consumer for outbound commands (BLPOP), a shared
// producer for inbound events (RPUSH), and the wire framing that tags
// every published event with its shard id.
package broker

import (
	"encoding/binary"
	"strconv"
)

// ToKey returns the list key a shard's outbound commands are popped from.
func ToKey(shardID uint16) string {
	return "sharder:to:" + strconv.FormatUint(uint64(shardID), 10)
}

// FromKey is the shared list key inbound events are pushed to.
const FromKey = "sharder:from"

// Encode appends the shard id, little-endian u16, to payload. The result
// is the exact record published to sharder:from (spec.md §3 "Outbound
// record").
func Encode(payload []byte, shardID uint16) []byte {
	out := make([]byte, len(payload)+2)
	copy(out, payload)
	binary.LittleEndian.PutUint16(out[len(payload):], shardID)

	return out
}

// Decode splits a record produced by Encode back into its payload and
// shard id. It is the left inverse of Encode: Decode(Encode(b, id)) ==
// (b, id, true) for every b and id.
func Decode(record []byte) (payload []byte, shardID uint16, ok bool) {
	if len(record) < 2 {
		return nil, 0, false
	}

	split := len(record) - 2

	return record[:split], binary.LittleEndian.Uint16(record[split:]), true
}
