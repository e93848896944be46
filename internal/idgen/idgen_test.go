package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpoolName_UniqueAndPrefixed(t *testing.T) {
	a := SpoolName()
	b := SpoolName()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "pack-spool-"))
	assert.True(t, strings.HasPrefix(b, "pack-spool-"))
}
