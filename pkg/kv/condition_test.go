package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRange(t *testing.T) {
	in := QueryInput{Prefix: "L:", Start: "L:b", End: "L:z", Cursor: EncodeCursor("L:c")}

	lower, after, upper, err := in.Range()
	require.NoError(t, err)
	assert.Equal(t, "L:b", lower)
	assert.Equal(t, "L:c", after)
	assert.Equal(t, "L:z", upper)

	lower, upper, err = in.Bounds()
	require.NoError(t, err)
	assert.Equal(t, "L:c\x00", lower, "byte-ordered stores seek just past the cursor")
	assert.Equal(t, "L:z", upper)
}

func TestQueryRangeWithoutCursor(t *testing.T) {
	lower, after, upper, err := QueryInput{Prefix: "D:root:"}.Range()
	require.NoError(t, err)
	assert.Equal(t, "D:root:", lower)
	assert.Empty(t, after)
	assert.Empty(t, upper)
}
