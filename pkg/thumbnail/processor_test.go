package thumbnail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittodrive/pkg/blob"
	"github.com/marmos91/dittodrive/pkg/blob/memory"
	"github.com/marmos91/dittodrive/pkg/directory"
	kvbadger "github.com/marmos91/dittodrive/pkg/kv/badger"
	"github.com/marmos91/dittodrive/pkg/lifecycle"
	"github.com/marmos91/dittodrive/pkg/metadata"
	qbadger "github.com/marmos91/dittodrive/pkg/queue/badger"
)

var photos = metadata.Space{TenantID: "acme", SpaceID: "photos", Kind: metadata.SpaceKindMedia}

type fakeFrames struct {
	frame []byte
	err   error
	calls int
}

func (f *fakeFrames) ExtractFrame(context.Context, string) ([]byte, error) {
	f.calls++
	return f.frame, f.err
}

type fixture struct {
	dir       *directory.Repository
	blobs     *memory.Store
	queue     *qbadger.Queue
	enqueuer  *Enqueuer
	processor *Processor
	worker    *Worker
	frames    *fakeFrames
	now       time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store, err := kvbadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	q, err := qbadger.Open(context.Background(), qbadger.Config{InMemory: true, Name: "thumbnails"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	f := &fixture{blobs: memory.New(), queue: q, frames: &fakeFrames{}, now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	q.Now = clock

	f.dir = directory.New(store, directory.Options{Now: clock})
	f.enqueuer = NewEnqueuer(store, f.blobs, q, nil)
	f.enqueuer.Now = clock
	f.processor = NewProcessor(f.dir, f.blobs, q, cfg, nil)
	f.processor.Now = clock
	f.processor.Frames = f.frames
	f.worker = NewWorker(f.processor, q, cfg, nil)
	return f
}

func (f *fixture) upload(t *testing.T, path, contentType string, data []byte) *metadata.FileNode {
	t.Helper()
	ctx := context.Background()
	key := metadata.ContentObjectKey(photos, path)
	info, err := f.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	require.NoError(t, err)

	res, err := f.dir.UpsertActiveFile(ctx, photos, directory.UpsertFileInput{
		Path: "/" + path, StorageKey: key, Size: info.Size, ContentType: contentType, ETag: info.ETag,
	})
	require.NoError(t, err)
	return res.File
}

func (f *fixture) enqueue(t *testing.T, file *metadata.FileNode) {
	t.Helper()
	sent, err := f.enqueuer.Enqueue(context.Background(), photos, file)
	require.NoError(t, err)
	require.True(t, sent)
}

func (f *fixture) meta(t *testing.T, fileID string) *metadata.ThumbnailMetadata {
	t.Helper()
	m, err := GetMetadata(context.Background(), f.dir.Store(), photos, fileID)
	require.NoError(t, err)
	return m
}

func (f *fixture) queued(t *testing.T) int {
	t.Helper()
	n, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	return n
}

func (f *fixture) deadLetters(t *testing.T) []*DeadLetter {
	t.Helper()
	dls, err := ListDeadLetters(context.Background(), f.queue, 100)
	require.NoError(t, err)
	return dls
}

func TestEnqueueAndProcessImage(t *testing.T) {
	f := newFixture(t, Config{})
	file := f.upload(t, "beach.png", "image/png", pngBytes(t, 800, 600))
	f.enqueue(t, file)
	assert.Equal(t, metadata.ThumbnailPending, f.meta(t, file.ID).Status)

	n, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.queued(t), "message acknowledged")

	m := f.meta(t, file.ID)
	assert.True(t, m.ReadyFor(file.ETag))
	assert.Equal(t, 512, m.Width)
	assert.Equal(t, 384, m.Height)
	assert.Equal(t, 1, m.Attempts)
	assert.Equal(t, metadata.ThumbnailObjectKey(photos, file.ID, file.ETag), m.ThumbnailKey)

	info, err := f.blobs.Head(context.Background(), m.ThumbnailKey)
	require.NoError(t, err)
	assert.Equal(t, m.Size, info.Size)
	assert.Equal(t, ThumbnailContentType, info.ContentType)
}

func TestEnqueueSkipsReadyEtag(t *testing.T) {
	f := newFixture(t, Config{})
	file := f.upload(t, "a.png", "image/png", pngBytes(t, 10, 10))
	f.enqueue(t, file)
	_, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)

	sent, err := f.enqueuer.Enqueue(context.Background(), photos, file)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Zero(t, f.queued(t))
}

func TestEnqueueRegeneratesReadyWithMissingObject(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	file := f.upload(t, "a.png", "image/png", pngBytes(t, 10, 10))
	f.enqueue(t, file)
	_, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, metadata.ThumbnailReady, f.meta(t, file.ID).Status)

	_, _, err = blob.DeleteAllVersions(ctx, f.blobs, nil, []string{metadata.ThumbnailObjectPrefix(photos, file.ID)})
	require.NoError(t, err)

	sent, err := f.enqueuer.Enqueue(ctx, photos, file)
	require.NoError(t, err)
	assert.True(t, sent, "a READY row without its object is re-enqueued")
	assert.Equal(t, metadata.ThumbnailPending, f.meta(t, file.ID).Status)
	assert.Equal(t, 1, f.queued(t))

	_, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	row := f.meta(t, file.ID)
	assert.Equal(t, metadata.ThumbnailReady, row.Status)
	exists, err := blob.CurrentExists(ctx, f.blobs, row.ThumbnailKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEnqueueRequiresActiveFile(t *testing.T) {
	f := newFixture(t, Config{})
	file := f.upload(t, "a.png", "image/png", pngBytes(t, 10, 10))
	trashed, err := lifecycle.New(f.dir, f.blobs, nil).Trash(context.Background(), photos, file.ID, time.Hour)
	require.NoError(t, err)

	_, err = f.enqueuer.Enqueue(context.Background(), photos, trashed)
	assert.True(t, metadata.IsConflict(err))
}

func TestProcessIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	file := f.upload(t, "a.png", "image/png", pngBytes(t, 64, 64))
	body, err := NewJob(photos, file, f.now).Encode()
	require.NoError(t, err)

	outcome, err := f.processor.Process(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)

	outcome, err = f.processor.Process(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestProcessRegeneratesMissingThumbnail(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	file := f.upload(t, "a.png", "image/png", pngBytes(t, 64, 64))
	body, err := NewJob(photos, file, f.now).Encode()
	require.NoError(t, err)

	_, err = f.processor.Process(ctx, body)
	require.NoError(t, err)
	_, _, err = blob.DeleteAllVersions(ctx, f.blobs, nil, []string{metadata.ThumbnailObjectPrefix(photos, file.ID)})
	require.NoError(t, err)

	outcome, err := f.processor.Process(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)

	exists, err := blob.CurrentExists(ctx, f.blobs, f.meta(t, file.ID).ThumbnailKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestProcessDiscardsStaleJobs(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	file := f.upload(t, "a.png", "image/png", pngBytes(t, 64, 64))
	oldJob, err := NewJob(photos, file, f.now).Encode()
	require.NoError(t, err)

	replaced := f.upload(t, "a.png", "image/png", pngBytes(t, 32, 32))
	require.Equal(t, file.ID, replaced.ID)
	require.NotEqual(t, file.ETag, replaced.ETag)

	outcome, err := f.processor.Process(ctx, oldJob)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)

	_, err = lifecycle.New(f.dir, f.blobs, nil).Trash(ctx, photos, file.ID, time.Hour)
	require.NoError(t, err)
	currentJob, err := NewJob(photos, replaced, f.now).Encode()
	require.NoError(t, err)
	outcome, err = f.processor.Process(ctx, currentJob)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)

	missing := NewJob(photos, &metadata.FileNode{ID: "ghost", StorageKey: "k", ETag: "e"}, f.now)
	body, err := missing.Encode()
	require.NoError(t, err)
	outcome, err = f.processor.Process(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, outcome)
}

func TestProcessMarksNonMediaUnsupported(t *testing.T) {
	f := newFixture(t, Config{})
	file := f.upload(t, "notes.txt", "text/plain", []byte("hello"))
	f.enqueue(t, file)

	_, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, metadata.ThumbnailUnsupported, f.meta(t, file.ID).Status)
	assert.Zero(t, f.queued(t))
	assert.Empty(t, f.deadLetters(t))
}

func TestCorruptJPEGIsDeadLettered(t *testing.T) {
	f := newFixture(t, Config{})
	corrupt := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("definitely not jpeg scan data")...)
	file := f.upload(t, "broken.jpg", "image/jpeg", corrupt)
	f.enqueue(t, file)

	_, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)

	m := f.meta(t, file.ID)
	assert.Equal(t, metadata.ThumbnailFailed, m.Status)
	assert.NotEmpty(t, m.LastError)
	assert.Zero(t, f.queued(t), "non-retryable failures are not re-sent")

	dls := f.deadLetters(t)
	require.Len(t, dls, 1)
	assert.Equal(t, ReasonNonRetryableFailure, dls[0].Reason)
	assert.Equal(t, file.ID, dls[0].FileID)

	var payload Job
	require.NoError(t, json.Unmarshal(dls[0].Payload, &payload))
	assert.Equal(t, file.ETag, payload.ETag)
}

func TestMissingSourceIsDeadLettered(t *testing.T) {
	f := newFixture(t, Config{})
	file := f.upload(t, "gone.png", "image/png", pngBytes(t, 8, 8))
	require.NoError(t, f.blobs.Remove(context.Background(), file.StorageKey))
	f.enqueue(t, file)

	_, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)

	dls := f.deadLetters(t)
	require.Len(t, dls, 1)
	assert.Equal(t, ReasonNonRetryableFailure, dls[0].Reason)
}

func TestRetryableFailuresBackOffThenDeadLetter(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 2})
	ctx := context.Background()
	f.frames.err = errors.New("connection reset")
	file := f.upload(t, "clip.mp4", "video/mp4", []byte("fake video bytes"))
	f.enqueue(t, file)

	_, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	m := f.meta(t, file.ID)
	assert.Equal(t, metadata.ThumbnailPending, m.Status)
	assert.Equal(t, 1, m.Attempts)
	assert.Contains(t, m.LastError, "connection reset")
	assert.Equal(t, 1, f.queued(t))

	n, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "retry is delayed")

	f.now = f.now.Add(RetryDelay(1))
	n, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.frames.calls)

	m = f.meta(t, file.ID)
	assert.Equal(t, metadata.ThumbnailFailed, m.Status)
	assert.Equal(t, 2, m.Attempts)
	assert.Zero(t, f.queued(t))

	dls := f.deadLetters(t)
	require.Len(t, dls, 1)
	assert.Equal(t, ReasonAttemptsExceeded, dls[0].Reason)
	assert.Equal(t, 2, dls[0].Attempt)
}

func TestVideoFrameRendered(t *testing.T) {
	f := newFixture(t, Config{})
	f.frames.frame = pngBytes(t, 1920, 1080)
	file := f.upload(t, "clip.mp4", "video/mp4", []byte("fake video bytes"))
	f.enqueue(t, file)

	_, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)

	m := f.meta(t, file.ID)
	assert.Equal(t, metadata.ThumbnailReady, m.Status)
	assert.Equal(t, 512, m.Width)
	assert.Equal(t, 288, m.Height)
}

func TestMalformedMessagesAreDeadLettered(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.queue.Send(ctx, []byte("{not json"), 0)
	require.NoError(t, err)
	_, err = f.queue.Send(ctx, []byte(`{"version":1}`), 0)
	require.NoError(t, err)

	n, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, f.queued(t))

	dls := f.deadLetters(t)
	require.Len(t, dls, 2)
	reasons := []DeadLetterReason{dls[0].Reason, dls[1].Reason}
	assert.ElementsMatch(t, []DeadLetterReason{ReasonParseFailure, ReasonValidationFailure}, reasons)
	for _, dl := range dls {
		if dl.Reason == ReasonParseFailure {
			assert.Equal(t, []byte("{not json"), dl.Payload)
		}
	}
}

func TestWorkerStartStop(t *testing.T) {
	f := newFixture(t, Config{Enabled: true, PollInterval: 5 * time.Millisecond})
	file := f.upload(t, "a.png", "image/png", pngBytes(t, 16, 16))
	f.enqueue(t, file)

	f.worker.Start()
	f.worker.Start()
	require.Eventually(t, func() bool {
		m, err := GetMetadata(context.Background(), f.dir.Store(), photos, file.ID)
		return err == nil && m.Status == metadata.ThumbnailReady
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.worker.Stop(ctx))
}

func TestWorkerStopWithoutStart(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.worker.Stop(context.Background()))
}
