package chunk

import "github.com/prn-tf/gitobjdb/internal/domain"

// PackChunkRefs encodes an ordered sequence of chunk row ids as: the
// first id as an unsigned LEB128 varint, then for each following id the
// zigzag-encoded signed delta from its predecessor, also as an unsigned
// LEB128 varint. An empty input packs to an empty slice.
func PackChunkRefs(ids []domain.ChunkRowID) []byte {
	if len(ids) == 0 {
		return nil
	}

	out := appendUvarint(nil, uint64(ids[0]))
	prev := int64(ids[0])
	for _, id := range ids[1:] {
		cur := int64(id)
		delta := cur - prev
		out = appendUvarint(out, zigzagEncode(delta))
		prev = cur
	}
	return out
}

// UnpackChunkRefs is the exact inverse of PackChunkRefs; an empty input
// unpacks to an empty sequence.
func UnpackChunkRefs(b []byte) []domain.ChunkRowID {
	if len(b) == 0 {
		return nil
	}

	var ids []domain.ChunkRowID
	first, n := readUvarint(b)
	b = b[n:]
	prev := int64(first)
	ids = append(ids, domain.ChunkRowID(prev))

	for len(b) > 0 {
		zz, n := readUvarint(b)
		b = b[n:]
		delta := zigzagDecode(zz)
		prev += delta
		ids = append(ids, domain.ChunkRowID(prev))
	}
	return ids
}

// zigzagEncode maps a signed 64-bit delta onto the unsigned range so
// that small-magnitude negative and positive values both encode small.
func zigzagEncode(d int64) uint64 {
	return uint64(d<<1) ^ uint64(d>>63)
}

// zigzagDecode is the inverse of zigzagEncode.
func zigzagDecode(z uint64) int64 {
	return int64(z>>1) ^ -int64(z&1)
}

// appendUvarint appends v to buf as an unsigned LEB128 varint.
func appendUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// readUvarint reads an unsigned LEB128 varint from the start of b,
// returning its value and the number of bytes consumed.
func readUvarint(b []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i, byt := range b {
		if byt < 0x80 {
			v |= uint64(byt) << shift
			return v, i + 1
		}
		v |= uint64(byt&0x7f) << shift
		shift += 7
	}
	return v, len(b)
}
