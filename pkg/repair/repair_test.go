package repair

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittodrive/pkg/blob/memory"
	"github.com/marmos91/dittodrive/pkg/directory"
	"github.com/marmos91/dittodrive/pkg/kv"
	kvbadger "github.com/marmos91/dittodrive/pkg/kv/badger"
	"github.com/marmos91/dittodrive/pkg/lifecycle"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

var space = metadata.Space{TenantID: "acme", SpaceID: "library"}

type fixture struct {
	store   kv.Store
	blobs   *memory.Store
	dir     *directory.Repository
	manager *lifecycle.Manager
	runner  *Runner
	env     Env
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := kvbadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{store: store, blobs: memory.New(), now: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.dir = directory.New(store, directory.Options{Now: clock})
	f.manager = lifecycle.New(f.dir, f.blobs, nil)
	f.runner = NewRunner(store, nil)
	f.env = Env{Store: store, Blobs: f.blobs, Retention: 7 * 24 * time.Hour, Now: clock}
	return f
}

func (f *fixture) upload(t *testing.T, path, contentType, hash string) *metadata.FileNode {
	t.Helper()
	ctx := context.Background()
	key := metadata.ContentObjectKey(space, strings.Trim(path, "/"))
	info, err := f.blobs.Put(ctx, key, strings.NewReader(path), int64(len(path)), contentType)
	require.NoError(t, err)

	res, err := f.dir.UpsertActiveFile(ctx, space, directory.UpsertFileInput{
		Path: path, StorageKey: key, Size: info.Size, ContentType: contentType, ContentHash: hash, ETag: info.ETag,
	})
	require.NoError(t, err)
	return res.File
}

func (f *fixture) run(t *testing.T, name string, dryRun bool) *Stats {
	t.Helper()
	job, err := Lookup(name, f.env)
	require.NoError(t, err)
	stats, err := f.runner.Run(context.Background(), job, Options{DryRun: dryRun, Spaces: []metadata.Space{space}})
	require.NoError(t, err)
	return stats
}

func (f *fixture) exists(t *testing.T, key kv.Key) bool {
	t.Helper()
	_, present, err := lookup(context.Background(), f.store, key)
	require.NoError(t, err)
	return present
}

func (f *fixture) file(t *testing.T, id string) *metadata.FileNode {
	t.Helper()
	file, err := f.dir.GetFile(context.Background(), space, id)
	require.NoError(t, err)
	return file
}

func TestRunValidatesInput(t *testing.T) {
	f := newFixture(t)
	job, err := Lookup(JobMediaHash, f.env)
	require.NoError(t, err)

	_, err = f.runner.Run(context.Background(), job, Options{})
	assert.True(t, metadata.HasCode(err, metadata.ErrInvalidArgument))

	_, err = Lookup("no-such-job", f.env)
	assert.True(t, metadata.HasCode(err, metadata.ErrInvalidArgument))

	assert.Equal(t, []string{JobAggregateMetrics, JobContentHash, JobFileState, JobMediaHash, JobPurgeDue}, Names())
}

func TestContentHashBackfill(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, "/photo.jpg", "image/jpeg", "")
	f.upload(t, "/hashed.txt", "text/plain", "abc")

	dry := f.run(t, JobContentHash, true)
	assert.Equal(t, 2, dry.Scanned)
	assert.Equal(t, 1, dry.Eligible)
	assert.Equal(t, 1, dry.SkippedIneligible)
	assert.Equal(t, 1, dry.Written)
	assert.Empty(t, f.file(t, file.ID).ContentHash, "dry run writes nothing")

	stats := f.run(t, JobContentHash, false)
	assert.Equal(t, 1, stats.Written)

	sum := sha256.Sum256([]byte("/photo.jpg"))
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, f.file(t, file.ID).ContentHash)
	assert.True(t, f.exists(t, metadata.MediaHashKey(space, want, file.ID)), "media index follows the backfill")

	again := f.run(t, JobContentHash, false)
	assert.Zero(t, again.Eligible)
	assert.Zero(t, again.Written)
}

func TestContentHashSkipsChangedContent(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, "/doc.txt", "text/plain", "")
	_, err := f.blobs.Put(context.Background(), file.StorageKey, strings.NewReader("rewritten"), 9, "text/plain")
	require.NoError(t, err)

	stats := f.run(t, JobContentHash, false)
	assert.Equal(t, 1, stats.Failed)
	assert.Len(t, stats.Errors, 1)
	assert.Empty(t, f.file(t, file.ID).ContentHash)
}

func TestMediaHashJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	active := f.upload(t, "/a.png", "image/png", "h1")
	trashed := f.upload(t, "/b.png", "image/png", "h2")
	f.upload(t, "/c.txt", "text/plain", "h3")

	activeKey := metadata.MediaHashKey(space, "h1", active.ID)
	strayKey := metadata.MediaHashKey(space, "h2", trashed.ID)

	_, err := f.manager.Trash(ctx, space, trashed.ID, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, activeKey, nil))
	stray := &metadata.MediaHashEntry{ContentHash: "h2", FileID: trashed.ID}
	require.NoError(t, f.store.Put(ctx, strayKey, metadata.MustEncode(stray), nil))

	stats := f.run(t, JobMediaHash, false)
	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 2, stats.Eligible)
	assert.Equal(t, 1, stats.SkippedIneligible)
	assert.Equal(t, 2, stats.Written)
	assert.True(t, f.exists(t, activeKey))
	assert.False(t, f.exists(t, strayKey))

	again := f.run(t, JobMediaHash, false)
	assert.Zero(t, again.Written)
	assert.Equal(t, 2, again.AlreadySatisfied)
}

func TestFileStateJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	active := f.upload(t, "/docs/a.txt", "text/plain", "")
	trashed := f.upload(t, "/docs/b.txt", "text/plain", "")

	trashedFile, err := f.manager.Trash(ctx, space, trashed.ID, time.Hour)
	require.NoError(t, err)

	activeEntry := directory.FileEntryKey(space, active)
	require.NoError(t, f.store.Delete(ctx, activeEntry, nil))
	ghost := directory.NewFileEntry(trashedFile.ParentFolderID, trashedFile.Name, trashed.ID)
	ghostKey := directory.FileEntryKey(space, trashedFile)
	require.NoError(t, f.store.Put(ctx, ghostKey, metadata.MustEncode(ghost), nil))

	stats := f.run(t, JobFileState, false)
	assert.Equal(t, 2, stats.Written)
	assert.True(t, f.exists(t, activeEntry))
	assert.False(t, f.exists(t, ghostKey))

	listing, err := f.dir.ListChildren(ctx, space, active.ParentFolderID, "", 10)
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, active.ID, listing.Files[0].ID)

	again := f.run(t, JobFileState, false)
	assert.Zero(t, again.Written)
}

func TestPurgeDueJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lost := f.upload(t, "/lost.txt", "text/plain", "")
	legacy := f.upload(t, "/legacy.txt", "text/plain", "")
	f.upload(t, "/active.txt", "text/plain", "")

	lostFile, err := f.manager.Trash(ctx, space, lost.ID, time.Hour)
	require.NoError(t, err)
	lostDue := metadata.PurgeDueKey(space, lost.ID, *lostFile.PurgeDueAt)
	require.NoError(t, f.store.Delete(ctx, lostDue, nil))

	// A file trashed before due times were recorded.
	legacyFile, err := f.manager.Trash(ctx, space, legacy.ID, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, metadata.PurgeDueKey(space, legacy.ID, *legacyFile.PurgeDueAt), nil))
	legacyFile.PurgeDueAt = nil
	require.NoError(t, f.store.Put(ctx, metadata.FileKey(space, legacy.ID), metadata.MustEncode(legacyFile), nil))

	stats := f.run(t, JobPurgeDue, false)
	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 2, stats.Eligible)
	assert.Equal(t, 2, stats.Written)
	assert.True(t, f.exists(t, lostDue))

	backfilled := f.file(t, legacy.ID)
	require.NotNil(t, backfilled.PurgeDueAt)
	assert.True(t, legacyFile.DeletedAt.Add(f.env.Retention).Equal(*backfilled.PurgeDueAt))
	assert.True(t, f.exists(t, metadata.PurgeDueKey(space, legacy.ID, *backfilled.PurgeDueAt)))

	again := f.run(t, JobPurgeDue, false)
	assert.Zero(t, again.Written)
	assert.Equal(t, 2, again.AlreadySatisfied)
}

func TestAggregateMetricsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, "/a/one.txt", "text/plain", "")
	f.upload(t, "/a/two.txt", "text/plain", "")
	gone := f.upload(t, "/three.txt", "text/plain", "")
	_, err := f.manager.Trash(ctx, space, gone.ID, time.Hour)
	require.NoError(t, err)

	stats := f.run(t, JobAggregateMetrics, false)
	assert.Equal(t, 1, stats.Written)

	raw, err := f.store.Get(ctx, metadata.UsageKey(space))
	require.NoError(t, err)
	usage, err := metadata.DecodeAs[*metadata.SpaceUsage](raw)
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage.ActiveFiles)
	assert.Equal(t, int64(len("/a/one.txt")+len("/a/two.txt")), usage.ActiveBytes)
	assert.Equal(t, int64(1), usage.TrashedFiles)
	assert.Equal(t, int64(1), usage.Folders)

	again := f.run(t, JobAggregateMetrics, false)
	assert.Zero(t, again.Written, "unchanged totals are not rewritten")
}

func TestRunPagesAndRateLimits(t *testing.T) {
	f := newFixture(t)
	for _, p := range []string{"/1.txt", "/2.txt", "/3.txt"} {
		f.upload(t, p, "text/plain", "")
	}
	job, err := Lookup(JobFileState, f.env)
	require.NoError(t, err)

	stats, err := f.runner.Run(context.Background(), job, Options{PageSize: 1, RateLimit: 1000, Spaces: []metadata.Space{space}})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 3, stats.AlreadySatisfied)
	assert.Contains(t, stats.Summary(), "scanned=3")
}
