//go:build integration

package minio

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittodrive/pkg/blob"
)

// Requires a MinIO server; configure with DITTODRIVE_TEST_MINIO_ENDPOINT,
// DITTODRIVE_TEST_MINIO_ACCESS_KEY and DITTODRIVE_TEST_MINIO_SECRET_KEY.
func newTestStore(t *testing.T) *Store {
	endpoint := os.Getenv("DITTODRIVE_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("DITTODRIVE_TEST_MINIO_ENDPOINT not set")
	}
	s, err := New(context.Background(), Config{
		Endpoint:     endpoint,
		AccessKey:    os.Getenv("DITTODRIVE_TEST_MINIO_ACCESS_KEY"),
		SecretKey:    os.Getenv("DITTODRIVE_TEST_MINIO_SECRET_KEY"),
		Bucket:       "dittodrive-test",
		CreateBucket: true,
	})
	require.NoError(t, err)
	return s
}

func TestMinioVersionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := "objects/" + uuid.NewString()

	_, err := s.Put(ctx, key, strings.NewReader("one"), 3, "text/plain")
	require.NoError(t, err)
	_, err = s.Put(ctx, key, strings.NewReader("two"), 3, "text/plain")
	require.NoError(t, err)

	versions, err := s.ListVersions(ctx, key)
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	require.NoError(t, s.SetTags(ctx, key, map[string]string{blob.TagLifecycle: blob.TagLifecycleTrash}))

	_, remaining, err := blob.DeleteAllVersions(ctx, s, []string{key}, nil)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	exists, err := blob.CurrentExists(ctx, s, key)
	require.NoError(t, err)
	assert.False(t, exists)
}
