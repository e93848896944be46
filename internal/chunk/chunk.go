// Package chunk implements content-defined chunking of blob data (text
// line-boundary chunking and FastCDC for binary data) and the compact
// delta+zigzag+varint encoding used to reference a chunk sequence from an
// object row.
package chunk

import (
	"bytes"
	"hash/crc32"

	"github.com/prn-tf/gitobjdb/internal/domain"
)

// Threshold is the minimum blob size, in bytes, before chunking is even
// attempted. Smaller blobs are always stored inline.
const Threshold = 4096

// Text-mode tuning constants.
const (
	textCutMask      = 0x7
	textMinLines     = 3
	textMaxChunkSize = 4096
)

// Binary-mode (FastCDC) size bounds.
const (
	BinaryMinSize = 2048
	BinaryAvgSize = 8192
	BinaryMaxSize = 65536
)

// classifyWindow is the number of leading bytes inspected for a NUL byte
// when deciding whether to treat data as text or binary.
const classifyWindow = 8000

// Piece is one chunk produced by Split: its content hash and raw bytes,
// in the order they must be concatenated to reproduce the original data.
type Piece struct {
	Hash domain.ChunkHash
	Data []byte
}

// Split partitions data into content-defined chunks, or returns nil if
// the data should be stored inline: either because it is smaller than
// Threshold, or because chunking produced one piece or fewer. The
// concatenation of the returned pieces' Data, in order, always
// reproduces data exactly.
func Split(data []byte) []Piece {
	if len(data) < Threshold {
		return nil
	}

	var raw [][]byte
	if isText(data) {
		raw = chunkText(data)
	} else {
		raw = chunkBinary(data)
	}

	if len(raw) <= 1 {
		return nil
	}

	pieces := make([]Piece, len(raw))
	for i, b := range raw {
		pieces[i] = Piece{Hash: domain.HashChunk(b), Data: b}
	}
	return pieces
}

// isText reports whether data should be treated as text: the first
// classifyWindow bytes contain no NUL byte.
func isText(data []byte) bool {
	n := len(data)
	if n > classifyWindow {
		n = classifyWindow
	}
	return bytes.IndexByte(data[:n], 0) == -1
}

// chunkText splits data at newlines, re-attaching the newline to every
// line except possibly the final one, and closes the current chunk once
// it has accumulated at least textMinLines lines and the CRC-32 of the
// most recent line has every bit of textCutMask clear, or once the
// current chunk has reached textMaxChunkSize bytes.
func chunkText(data []byte) [][]byte {
	var chunks [][]byte
	var cur bytes.Buffer
	lineCount := 0

	start := 0
	for start < len(data) {
		nl := bytes.IndexByte(data[start:], '\n')
		var line []byte
		if nl == -1 {
			line = data[start:]
			start = len(data)
		} else {
			line = data[start : start+nl+1]
			start += nl + 1
		}

		cur.Write(line)
		lineCount++

		closeChunk := cur.Len() >= textMaxChunkSize
		if !closeChunk && lineCount >= textMinLines {
			sum := crc32.ChecksumIEEE(line)
			if sum&textCutMask == 0 {
				closeChunk = true
			}
		}

		if closeChunk {
			chunks = append(chunks, append([]byte(nil), cur.Bytes()...))
			cur.Reset()
			lineCount = 0
		}
	}

	if cur.Len() > 0 {
		chunks = append(chunks, append([]byte(nil), cur.Bytes()...))
	}

	return chunks
}

// chunkBinary runs FastCDC over the full buffer with the package's
// documented min/avg/max size bounds.
func chunkBinary(data []byte) [][]byte {
	c := newFastCDC(BinaryMinSize, BinaryAvgSize, BinaryMaxSize)
	return c.Split(data)
}
