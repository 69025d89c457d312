package dedup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kvbadger "github.com/marmos91/dittodrive/pkg/kv/badger"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

var photos = metadata.Space{TenantID: "acme", SpaceID: "photos", Kind: metadata.SpaceKindMedia}

func TestFindDuplicateCandidate(t *testing.T) {
	ctx := context.Background()
	store, err := kvbadger.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	put := func(file *metadata.FileNode) {
		require.NoError(t, store.Put(ctx, metadata.FileKey(photos, file.ID), metadata.MustEncode(file), nil))
		entry := &metadata.MediaHashEntry{ContentHash: file.ContentHash, FileID: file.ID}
		require.NoError(t, store.Put(ctx, metadata.MediaHashKey(photos, file.ContentHash, file.ID), metadata.MustEncode(entry), nil))
	}

	put(&metadata.FileNode{ID: "f1", Name: "a.jpg", ContentType: "image/jpeg", ContentHash: "aaa"})
	deleted := time.Now()
	put(&metadata.FileNode{ID: "f2", Name: "b.jpg", ContentType: "image/jpeg", ContentHash: "bbb", DeletedAt: &deleted})

	idx := New(store)

	id, found, err := idx.FindDuplicateCandidate(ctx, photos, "aaa")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "f1", id)

	_, found, err = idx.FindDuplicateCandidate(ctx, photos, "bbb")
	require.NoError(t, err)
	assert.False(t, found, "trashed files are not duplicates")

	_, found, err = idx.FindDuplicateCandidate(ctx, photos, "aa")
	require.NoError(t, err)
	assert.False(t, found, "hash prefixes do not match")

	_, found, err = idx.FindDuplicateCandidate(ctx, metadata.Space{TenantID: "other", SpaceID: "photos"}, "aaa")
	require.NoError(t, err)
	assert.False(t, found, "the index is per space")

	_, found, err = idx.FindDuplicateCandidate(ctx, photos, "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindDuplicateCandidateSkipsStaleEntries(t *testing.T) {
	ctx := context.Background()
	store, err := kvbadger.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	deleted := time.Now()
	for i := 0; i < candidatePageSize+3; i++ {
		file := &metadata.FileNode{ID: fmt.Sprintf("f%03d", i), ContentType: "image/jpeg", ContentHash: "ccc"}
		if i < candidatePageSize+2 {
			file.DeletedAt = &deleted
		}
		require.NoError(t, store.Put(ctx, metadata.FileKey(photos, file.ID), metadata.MustEncode(file), nil))
		entry := &metadata.MediaHashEntry{ContentHash: file.ContentHash, FileID: file.ID}
		require.NoError(t, store.Put(ctx, metadata.MediaHashKey(photos, file.ContentHash, file.ID), metadata.MustEncode(entry), nil))
	}
	entry := &metadata.MediaHashEntry{ContentHash: "ccc", FileID: "a-missing"}
	require.NoError(t, store.Put(ctx, metadata.MediaHashKey(photos, "ccc", "a-missing"), metadata.MustEncode(entry), nil))

	id, found, err := New(store).FindDuplicateCandidate(ctx, photos, "ccc")
	require.NoError(t, err)
	assert.True(t, found, "an ACTIVE file past stale entries and a page boundary is found")
	assert.Equal(t, fmt.Sprintf("f%03d", candidatePageSize+2), id)
}

func TestEligible(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		file metadata.FileNode
		want bool
	}{
		{"active image", metadata.FileNode{ContentType: "image/png", ContentHash: "h"}, true},
		{"video with params", metadata.FileNode{ContentType: "Video/MP4; codecs=avc1", ContentHash: "h"}, true},
		{"no hash", metadata.FileNode{ContentType: "image/png"}, false},
		{"document", metadata.FileNode{ContentType: "application/pdf", ContentHash: "h"}, false},
		{"trashed", metadata.FileNode{ContentType: "image/png", ContentHash: "h", DeletedAt: &now}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Eligible(&tc.file))
		})
	}
}
