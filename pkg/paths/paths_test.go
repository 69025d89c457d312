package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittodrive/pkg/metadata"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"///", ""},
		{"a", "a"},
		{"/a//b/", "a/b"},
		{"a/b/c.txt", "a/b/c.txt"},
		{" spaced /x", " spaced /x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	for _, in := range []string{"a/../b", "./a", "a/.", "a/\x00b"} {
		t.Run(in, func(t *testing.T) {
			_, err := Normalize(in)
			assert.True(t, metadata.HasCode(err, metadata.ErrInvalidPath), "got %v", err)
		})
	}
}

func TestSplit(t *testing.T) {
	folders, leaf, err := Split("/photos//2024/beach.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"photos", "2024"}, folders)
	assert.Equal(t, "beach.jpg", leaf)

	folders, leaf, err = Split("top.txt")
	require.NoError(t, err)
	assert.Empty(t, folders)
	assert.Equal(t, "top.txt", leaf)

	_, _, err = Split("/")
	assert.True(t, metadata.HasCode(err, metadata.ErrInvalidPath))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "/", Join())
	assert.Equal(t, "/a/b.txt", Join("a", "b.txt"))
}

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("report (1).pdf"))

	long := make([]byte, MaxNameBytes+1)
	for i := range long {
		long[i] = 'x'
	}
	for _, bad := range []string{"", ".", "..", "a/b", string(long), "\xff"} {
		assert.True(t, metadata.HasCode(ValidateName(bad), metadata.ErrInvalidName), "%q", bad)
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "report.pdf", NormalizeName("Report.PDF"))
	// NFKC folds the "fi" ligature and full-width letters.
	assert.Equal(t, NormalizeName("file"), NormalizeName("ﬁle"))
	assert.Equal(t, NormalizeName("abc"), NormalizeName("ＡＢＣ"))
}
