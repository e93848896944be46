package chunk

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_BelowThresholdIsInline(t *testing.T) {
	data := bytes.Repeat([]byte("x"), Threshold-1)
	assert.Nil(t, Split(data))
}

func TestSplit_TextReconstitutesExactly(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&buf, "line %d of the file\n", i)
	}
	data := buf.Bytes()
	require.GreaterOrEqual(t, len(data), Threshold)

	pieces := Split(data)
	require.NotNil(t, pieces)
	require.Greater(t, len(pieces), 1)

	var reassembled bytes.Buffer
	for _, p := range pieces {
		reassembled.Write(p.Data)
	}
	assert.Equal(t, data, reassembled.Bytes())
}

func TestSplit_BinaryReconstitutesExactly(t *testing.T) {
	data := make([]byte, 200000)
	state := uint32(12345)
	for i := range data {
		state = state*1664525 + 1013904223
		data[i] = byte(state >> 24)
	}
	// force binary classification: inject a NUL in the first 8000 bytes
	data[10] = 0

	pieces := Split(data)
	require.NotNil(t, pieces)
	require.Greater(t, len(pieces), 1)

	var reassembled bytes.Buffer
	for _, p := range pieces {
		reassembled.Write(p.Data)
	}
	assert.Equal(t, data, reassembled.Bytes())

	for _, p := range pieces {
		assert.LessOrEqual(t, len(p.Data), BinaryMaxSize)
	}
}

func TestSplit_DedupAcrossSharedPrefix(t *testing.T) {
	var shared bytes.Buffer
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&shared, "shared line %d\n", i)
	}

	a := append(append([]byte(nil), shared.Bytes()...), []byte("unique-a-suffix-data-that-is-long-enough\n")...)
	b := append(append([]byte(nil), shared.Bytes()...), []byte("unique-b-suffix-data-that-is-long-enough\n")...)

	piecesA := Split(a)
	piecesB := Split(b)
	require.NotEmpty(t, piecesA)
	require.NotEmpty(t, piecesB)

	seen := map[string]bool{}
	for _, p := range piecesA {
		seen[p.Hash.String()] = true
	}
	overlap := 0
	for _, p := range piecesB {
		if seen[p.Hash.String()] {
			overlap++
		}
	}
	assert.Greater(t, overlap, 0, "identical leading chunks should hash identically across both blobs")
}

func TestIsText(t *testing.T) {
	assert.True(t, isText([]byte("hello\nworld\n")))
	assert.False(t, isText([]byte("hello\x00world")))
}
