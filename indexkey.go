package docbase

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeIndexValue turns a document field value into a byte string whose
// lexicographic order matches the value's natural order: numbers sort
// numerically (not as their decimal text), strings sort byte-wise, and
// everything else falls back to its fmt representation. Composite index
// keys are built by appending "\x00" + document id to this, so entries for
// equal field values additionally sort by id ascending.
func encodeIndexValue(v interface{}) []byte {
	switch t := v.(type) {
	case string:
		return []byte(t)
	case bool:
		if t {
			return []byte{1}
		}
		return []byte{0}
	case float64:
		return encodeFloatSortable(t)
	case float32:
		return encodeFloatSortable(float64(t))
	case int:
		return encodeFloatSortable(float64(t))
	case int64:
		return encodeFloatSortable(float64(t))
	case nil:
		return []byte{}
	default:
		return []byte(fmt.Sprintf("%v", t))
	}
}

// encodeFloatSortable encodes f as 8 big-endian bytes that compare, under
// plain byte comparison, in the same order as the floats themselves: flip
// the sign bit for non-negatives, invert every bit for negatives.
func encodeFloatSortable(f float64) []byte {
	bits := math.Float64bits(f)
	if f >= 0 {
		bits ^= 0x8000000000000000
	} else {
		bits = ^bits
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}

// compositeKey builds a secondary-index key: value + "\x00" + id.
func compositeKey(value interface{}, id string) []byte {
	enc := encodeIndexValue(value)
	key := make([]byte, 0, len(enc)+1+len(id))
	key = append(key, enc...)
	key = append(key, 0x00)
	key = append(key, id...)
	return key
}

// rangeForValue returns the [start, end] byte bounds covering every
// composite key built from value, regardless of the id suffix.
func rangeForValue(value interface{}) (start, end []byte) {
	enc := encodeIndexValue(value)
	start = append(append([]byte{}, enc...), 0x00)
	end = append(append([]byte{}, enc...), 0xFF)
	return start, end
}

// groupCompositeKey builds a collection-group index key: value + "\x00" +
// collection + "\x00" + id, so the same value can appear across multiple
// collections without colliding.
func groupCompositeKey(value interface{}, collection, id string) []byte {
	enc := encodeIndexValue(value)
	key := make([]byte, 0, len(enc)+2+len(collection)+len(id))
	key = append(key, enc...)
	key = append(key, 0x00)
	key = append(key, collection...)
	key = append(key, 0x00)
	key = append(key, id...)
	return key
}
