package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/repair"
	"github.com/marmos91/dittodrive/pkg/thumbnail"
	"github.com/marmos91/dittodrive/pkg/uploads"
)

var photos = metadata.Space{TenantID: "acme", SpaceID: "photos", Kind: metadata.SpaceKindMedia}

func testConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Metadata.Badger = map[string]any{"in_memory": true}
	cfg.Queue.Badger = map[string]any{"in_memory": true, "name": "thumbnails"}
	cfg.Purge.Interval = time.Hour
	cfg.Thumbnail.PollInterval = 10 * time.Millisecond
	cfg.Server.ShutdownTimeout = 5 * time.Second
	return cfg
}

func openRuntime(t *testing.T, cfg *config.Config) *Runtime {
	t.Helper()
	rt, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func pngData(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

// upload runs the prepare/put/confirm sequence of a client.
func upload(t *testing.T, rt *Runtime, path string, data []byte) *metadata.FileNode {
	t.Helper()
	ctx := context.Background()
	prep, err := rt.Uploads.PrepareUpload(ctx, photos, path, "image/png")
	require.NoError(t, err)
	_, err = rt.Stores().Blobs.Put(ctx, prep.StorageKey, bytes.NewReader(data), int64(len(data)), "image/png")
	require.NoError(t, err)
	res, err := rt.Uploads.ConfirmUpload(ctx, photos, uploads.ConfirmInput{Path: path, StorageKey: prep.StorageKey})
	require.NoError(t, err)
	require.True(t, res.ThumbnailQueued)
	return res.File
}

func TestServeGeneratesThumbnailsAndStops(t *testing.T) {
	rt := openRuntime(t, testConfig())
	file := upload(t, rt, "/a/photo.png", pngData(t, 64, 32))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx) }()

	require.Eventually(t, func() bool {
		meta, err := thumbnail.GetMetadata(context.Background(), rt.Stores().KV, photos, file.ID)
		return err == nil && meta.Status == metadata.ThumbnailReady
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	assert.Error(t, rt.Serve(context.Background()), "second Serve is rejected")
}

func TestTrashAndPurgeThroughRuntime(t *testing.T) {
	cfg := testConfig()
	cfg.Thumbnail.Enabled = false
	rt := openRuntime(t, cfg)
	ctx := context.Background()

	file := upload(t, rt, "/b/photo.png", pngData(t, 8, 8))
	_, err := rt.Lifecycle.Trash(ctx, photos, file.ID, 0)
	require.NoError(t, err)

	stats, err := rt.Purge.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Purged)

	got, err := rt.Directory.GetFile(ctx, photos, file.ID)
	require.NoError(t, err)
	assert.Equal(t, metadata.StatePurged, got.State())
}

func TestRepairEnvRunsJobs(t *testing.T) {
	rt := openRuntime(t, testConfig())
	upload(t, rt, "/c/photo.png", pngData(t, 8, 8))

	job, err := repair.Lookup(repair.JobAggregateMetrics, rt.RepairEnv())
	require.NoError(t, err)
	stats, err := rt.Repair.Run(context.Background(), job, repair.Options{Spaces: []metadata.Space{photos}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, rt.Config().Lifecycle.Retention, rt.Retention())
}

func TestHealthCheck(t *testing.T) {
	rt := openRuntime(t, testConfig())
	assert.NoError(t, rt.checkMetadata(context.Background()))
}
