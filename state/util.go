package state

import (
	"encoding/binary"
	"strconv"
)

// encodeUint and encodeInt render fixed-width scalar values (heights,
// epochs, timestamps, counters) as big-endian bytes rather than through
// the CBOR codec, the same way the reference pack hand-rolls its own
// height/block-number keys instead of reaching for a general encoder for
// values that are just one machine word (§3).
func encodeUint(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func encodeInt(v int64) []byte {
	return encodeUint(uint64(v))
}

func decodeInt(b []byte) int64 {
	return int64(decodeUint(b))
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}
