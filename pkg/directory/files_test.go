package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

func mediaHashCount(t *testing.T, store kv.Store, space metadata.Space, hash string) int {
	t.Helper()
	res, err := store.Query(context.Background(), kv.QueryInput{
		Partition: space.Partition(),
		Prefix:    metadata.MediaHashPrefix(hash),
	})
	require.NoError(t, err)
	return len(res.Items)
}

func TestUpsertCreatesThenOverwrites(t *testing.T) {
	r, _ := newTestRepository(t)
	ctx := context.Background()

	created := upsert(t, r, testSpace, "/docs/report.txt", "e1")
	assert.True(t, created.Created)
	assert.Nil(t, created.Previous)
	assert.Equal(t, metadata.StateActive, created.File.State())

	overwritten := upsert(t, r, testSpace, "/DOCS/Report.TXT", "e2")
	assert.False(t, overwritten.Created)
	assert.Equal(t, created.File.ID, overwritten.File.ID, "overwrite keeps the file id")
	assert.Equal(t, "e1", overwritten.Previous.ETag)
	assert.Equal(t, "Report.TXT", overwritten.File.Name)

	got, err := r.LookupFile(ctx, testSpace, "/docs/report.txt")
	require.NoError(t, err)
	assert.Equal(t, "e2", got.ETag)
	assert.Equal(t, created.File.CreatedAt, got.CreatedAt)
	assert.Equal(t, []string{"objects/e2", "objects/e1"}, got.ContentKeys(), "overwrites keep earlier content keys")

	again := upsert(t, r, testSpace, "/docs/report.txt", "e1")
	assert.Equal(t, "objects/e1", again.File.StorageKey)
	assert.Equal(t, []string{"objects/e2"}, again.File.SupersededKeys, "a key is never both current and superseded")
}

func TestUpsertRejectsBadInput(t *testing.T) {
	r, _ := newTestRepository(t)
	ctx := context.Background()

	_, err := r.UpsertActiveFile(ctx, testSpace, UpsertFileInput{Path: "/", StorageKey: "k"})
	assert.True(t, metadata.HasCode(err, metadata.ErrInvalidPath))

	_, err = r.UpsertActiveFile(ctx, testSpace, UpsertFileInput{Path: "/a"})
	assert.True(t, metadata.HasCode(err, metadata.ErrInvalidArgument))

	_, err = r.UpsertActiveFile(ctx, testSpace, UpsertFileInput{Path: "/a", StorageKey: "k", Size: -1})
	assert.True(t, metadata.HasCode(err, metadata.ErrInvalidArgument))
}

func TestUpsertMaintainsMediaHash(t *testing.T) {
	r, store := newTestRepository(t)
	ctx := context.Background()
	media := metadata.Space{TenantID: "acme", SpaceID: "photos", Kind: metadata.SpaceKindMedia}

	in := UpsertFileInput{Path: "/img.jpg", StorageKey: "k1", Size: 10, ContentType: "image/jpeg", ContentHash: "h1", ETag: "e1"}
	_, err := r.UpsertActiveFile(ctx, media, in)
	require.NoError(t, err)
	assert.Equal(t, 1, mediaHashCount(t, store, media, "h1"))

	in.ContentHash, in.ETag = "h2", "e2"
	_, err = r.UpsertActiveFile(ctx, media, in)
	require.NoError(t, err)
	assert.Zero(t, mediaHashCount(t, store, media, "h1"))
	assert.Equal(t, 1, mediaHashCount(t, store, media, "h2"))

	in.ContentType, in.ETag = "text/plain", "e3"
	_, err = r.UpsertActiveFile(ctx, media, in)
	require.NoError(t, err)
	assert.Zero(t, mediaHashCount(t, store, media, "h2"), "non-media content is not indexed")
}

func TestMoveTrashedFileConflicts(t *testing.T) {
	r, store := newTestRepository(t)
	ctx := context.Background()

	file := upsert(t, r, testSpace, "/a.txt", "e1").File
	trashed := file.Clone()
	deletedAt := r.Now()
	trashed.DeletedAt = &deletedAt
	require.NoError(t, store.Put(ctx, metadata.FileKey(testSpace, file.ID), metadata.MustEncode(trashed), nil))

	_, err := r.MoveOrRenameActiveFile(ctx, testSpace, file.ID, metadata.RootFolderID, "b.txt")
	require.Error(t, err)
	se, ok := metadata.AsStoreError(err)
	require.True(t, ok)
	assert.Equal(t, metadata.ErrConflict, se.Code)
	assert.Equal(t, metadata.StateTrash, se.State)
}

func TestMoveAcrossFolders(t *testing.T) {
	r, _ := newTestRepository(t)
	ctx := context.Background()

	file := upsert(t, r, testSpace, "/inbox/a.txt", "e1").File
	archive, err := r.EnsureFolder(ctx, testSpace, "/archive")
	require.NoError(t, err)

	moved, err := r.MoveOrRenameActiveFile(ctx, testSpace, file.ID, archive, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, archive, moved.ParentFolderID)
	assert.Equal(t, "b.txt", moved.Name)

	_, err = r.LookupFile(ctx, testSpace, "/inbox/a.txt")
	assert.True(t, metadata.IsNotFound(err))

	got, err := r.LookupFile(ctx, testSpace, "/archive/b.txt")
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.ID)
}

func TestMoveAndMoveBack(t *testing.T) {
	r, _ := newTestRepository(t)
	ctx := context.Background()

	file := upsert(t, r, testSpace, "/inbox/a.txt", "e1").File
	archive, err := r.EnsureFolder(ctx, testSpace, "/archive")
	require.NoError(t, err)

	_, err = r.MoveOrRenameActiveFile(ctx, testSpace, file.ID, archive, "b.txt")
	require.NoError(t, err)
	back, err := r.MoveOrRenameActiveFile(ctx, testSpace, file.ID, file.ParentFolderID, "a.txt")
	require.NoError(t, err)

	assert.Equal(t, file.ParentFolderID, back.ParentFolderID)
	assert.Equal(t, "a.txt", back.Name)
	assert.Equal(t, file.StorageKey, back.StorageKey)
	assert.Equal(t, file.ETag, back.ETag)
	assert.Equal(t, file.Size, back.Size)

	_, err = r.GetEntry(ctx, testSpace, archive, metadata.EntryFile, "b.txt")
	assert.True(t, metadata.IsNotFound(err), "no entry left at the intermediate location")
	listing, err := r.ListChildren(ctx, testSpace, archive, "", 0)
	require.NoError(t, err)
	assert.Empty(t, listing.Files)

	entry, err := r.GetEntry(ctx, testSpace, file.ParentFolderID, metadata.EntryFile, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, file.ID, entry.ChildID)
}

func TestMoveCaseOnlyRename(t *testing.T) {
	r, _ := newTestRepository(t)
	ctx := context.Background()

	file := upsert(t, r, testSpace, "/notes.txt", "e1").File

	moved, err := r.MoveOrRenameActiveFile(ctx, testSpace, file.ID, metadata.RootFolderID, "NOTES.txt")
	require.NoError(t, err)
	assert.Equal(t, "NOTES.txt", moved.Name)

	listing, err := r.ListChildren(ctx, testSpace, metadata.RootFolderID, "", 0)
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "NOTES.txt", listing.Files[0].Name)

	entry, err := r.GetEntry(ctx, testSpace, metadata.RootFolderID, metadata.EntryFile, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "NOTES.txt", entry.Name)
}

func TestMoveNoop(t *testing.T) {
	r, _ := newTestRepository(t)
	file := upsert(t, r, testSpace, "/same.txt", "e1").File

	moved, err := r.MoveOrRenameActiveFile(context.Background(), testSpace, file.ID, metadata.RootFolderID, "same.txt")
	require.NoError(t, err)
	assert.Equal(t, file.UpdatedAt, moved.UpdatedAt)
}

func TestMoveOntoTakenName(t *testing.T) {
	r, _ := newTestRepository(t)
	ctx := context.Background()

	a := upsert(t, r, testSpace, "/a.txt", "e1").File
	upsert(t, r, testSpace, "/b.txt", "e2")

	_, err := r.MoveOrRenameActiveFile(ctx, testSpace, a.ID, metadata.RootFolderID, "B.TXT")
	require.Error(t, err)
	assert.True(t, metadata.HasCode(err, metadata.ErrConflict))

	got, err := r.LookupFile(ctx, testSpace, "/a.txt")
	require.NoError(t, err, "a failed move leaves the source untouched")
	assert.Equal(t, a.ID, got.ID)
}

func TestMoveRejectsInvalidTargets(t *testing.T) {
	r, _ := newTestRepository(t)
	ctx := context.Background()
	file := upsert(t, r, testSpace, "/a.txt", "e1").File

	_, err := r.MoveOrRenameActiveFile(ctx, testSpace, file.ID, metadata.RootFolderID, "bad/name")
	assert.True(t, metadata.HasCode(err, metadata.ErrInvalidName))

	_, err = r.MoveOrRenameActiveFile(ctx, testSpace, file.ID, "missing-folder", "x.txt")
	assert.True(t, metadata.IsNotFound(err))

	_, err = r.MoveOrRenameActiveFile(ctx, testSpace, "missing-file", metadata.RootFolderID, "x.txt")
	assert.True(t, metadata.IsNotFound(err))
}

func TestMoveByPathCreatesDestination(t *testing.T) {
	r, _ := newTestRepository(t)
	ctx := context.Background()
	file := upsert(t, r, testSpace, "/a.txt", "e1").File

	moved, err := r.MoveOrRenameActiveFileByPath(ctx, testSpace, "/a.txt", "/new/place/c.txt")
	require.NoError(t, err)
	assert.Equal(t, file.ID, moved.ID)

	path, err := r.FilePath(ctx, testSpace, moved)
	require.NoError(t, err)
	assert.Equal(t, "/new/place/c.txt", path)
}
