package repair

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/marmos91/dittodrive/pkg/blob"
	"github.com/marmos91/dittodrive/pkg/directory"
	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/lifecycle"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

// Job names.
const (
	JobContentHash      = "content-hash"
	JobMediaHash        = "media-hash"
	JobFileState        = "file-state"
	JobPurgeDue         = "purge-due"
	JobAggregateMetrics = "aggregate-metrics"
)

var constructors = map[string]func(Env) *Job{
	JobContentHash:      ContentHashJob,
	JobMediaHash:        MediaHashJob,
	JobFileState:        FileStateJob,
	JobPurgeDue:         PurgeDueJob,
	JobAggregateMetrics: AggregateMetricsJob,
}

// Names lists the available jobs.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup builds the named job.
func Lookup(name string, env Env) (*Job, error) {
	build, ok := constructors[name]
	if !ok {
		return nil, metadata.NewInvalidArgumentError("unknown repair job %q (available: %v)", name, Names())
	}
	return build(env), nil
}

// ContentHashJob backfills the SHA-256 of files stored without one. The
// write only lands if the row is unchanged since it was read, which also
// pins the etag the hash was computed for.
func ContentHashJob(env Env) *Job {
	return &Job{
		Name: JobContentHash,
		Filter: func(f *metadata.FileNode) bool {
			return f.ContentHash == "" && f.StorageKey != "" && f.State() != metadata.StatePurged
		},
		Evaluate: func(ctx context.Context, space metadata.Space, row Row) ([]kv.WriteOp, error) {
			file := row.File
			body, info, err := env.Blobs.Get(ctx, file.StorageKey)
			if errors.Is(err, blob.ErrNotFound) {
				return nil, fmt.Errorf("content %s has no current version", file.StorageKey)
			}
			if err != nil {
				return nil, err
			}
			defer body.Close()

			if info.ETag != file.ETag {
				return nil, fmt.Errorf("current version of %s has etag %s, file records %s", file.StorageKey, info.ETag, file.ETag)
			}

			h := sha256.New()
			if _, err := io.Copy(h, body); err != nil {
				return nil, fmt.Errorf("failed to hash %s: %w", file.StorageKey, err)
			}

			hashed := file.Clone()
			hashed.ContentHash = hex.EncodeToString(h.Sum(nil))
			ops := []kv.WriteOp{
				kv.Put(metadata.FileKey(space, file.ID), metadata.MustEncode(hashed), metadata.Unchanged(row.Raw)),
			}
			return append(ops, directory.MediaHashSwap(space, file, hashed)...), nil
		},
	}
}

// MediaHashJob makes the media-hash index match the media files: an entry
// for every ACTIVE media file with a hash, none for the others.
func MediaHashJob(env Env) *Job {
	return &Job{
		Name: JobMediaHash,
		Filter: func(f *metadata.FileNode) bool {
			return f.ContentHash != "" && f.IsMedia()
		},
		Evaluate: func(ctx context.Context, space metadata.Space, row Row) ([]kv.WriteOp, error) {
			file := row.File
			key := metadata.MediaHashKey(space, file.ContentHash, file.ID)
			_, present, err := lookup(ctx, env.Store, key)
			if err != nil {
				return nil, err
			}

			guard := kv.Check(metadata.FileKey(space, file.ID), metadata.Unchanged(row.Raw))
			switch indexed := file.MediaIndexed(); {
			case indexed && !present:
				entry := &metadata.MediaHashEntry{ContentHash: file.ContentHash, FileID: file.ID}
				return []kv.WriteOp{kv.Put(key, metadata.MustEncode(entry), kv.IfNotExists()), guard}, nil
			case !indexed && present:
				return []kv.WriteOp{kv.Delete(key, kv.IfExists()), guard}, nil
			default:
				return nil, nil
			}
		},
	}
}

// FileStateJob makes directory entries match file states: an ACTIVE file
// is named by its entry, a non-ACTIVE file by none.
func FileStateJob(env Env) *Job {
	return &Job{
		Name: JobFileState,
		Evaluate: func(ctx context.Context, space metadata.Space, row Row) ([]kv.WriteOp, error) {
			file := row.File
			key := directory.FileEntryKey(space, file)
			raw, present, err := lookup(ctx, env.Store, key)
			if err != nil {
				return nil, err
			}

			var owner string
			if present {
				entry, err := metadata.DecodeAs[*metadata.DirectoryEntry](raw)
				if err != nil {
					return nil, err
				}
				owner = entry.ChildID
			}

			guard := kv.Check(metadata.FileKey(space, file.ID), metadata.Unchanged(row.Raw))
			active := file.State() == metadata.StateActive
			switch {
			case active && !present:
				entry := directory.NewFileEntry(file.ParentFolderID, file.Name, file.ID)
				return []kv.WriteOp{kv.Put(key, metadata.MustEncode(entry), kv.IfNotExists()), guard}, nil
			case active && owner != file.ID:
				// Two active files share a name; picking a winner needs a human.
				return nil, metadata.NewConflictError(fmt.Sprintf("name %q is held by file %s", file.Name, owner), file.ID, file.State())
			case !active && owner == file.ID:
				return []kv.WriteOp{kv.Delete(key, metadata.EntryPointsTo(file.ID)), guard}, nil
			default:
				return nil, nil
			}
		},
	}
}

// PurgeDueJob makes the purge-due index match trashed files. Trashed files
// recorded without a due time get deletedAt plus the default retention.
func PurgeDueJob(env Env) *Job {
	if env.Retention <= 0 {
		env.Retention = lifecycle.DefaultRetention
	}
	return &Job{
		Name: JobPurgeDue,
		Filter: func(f *metadata.FileNode) bool {
			return f.State() == metadata.StateTrash || f.PurgeDueAt != nil
		},
		Evaluate: func(ctx context.Context, space metadata.Space, row Row) ([]kv.WriteOp, error) {
			file := row.File
			fileKey := metadata.FileKey(space, file.ID)

			if file.State() != metadata.StateTrash {
				key := metadata.PurgeDueKey(space, file.ID, *file.PurgeDueAt)
				_, present, err := lookup(ctx, env.Store, key)
				if err != nil || !present {
					return nil, err
				}
				return []kv.WriteOp{kv.Delete(key, kv.IfExists()), kv.Check(fileKey, metadata.Unchanged(row.Raw))}, nil
			}

			if file.PurgeDueAt == nil {
				due := file.DeletedAt.Add(env.Retention)
				scheduled := file.Clone()
				scheduled.PurgeDueAt = &due
				return []kv.WriteOp{
					kv.Put(fileKey, metadata.MustEncode(scheduled), metadata.Unchanged(row.Raw)),
					kv.Put(metadata.PurgeDueKey(space, file.ID, due), metadata.MustEncode(metadata.NewPurgeDueEntry(space, scheduled)), nil),
				}, nil
			}

			key := metadata.PurgeDueKey(space, file.ID, *file.PurgeDueAt)
			_, present, err := lookup(ctx, env.Store, key)
			if err != nil || present {
				return nil, err
			}
			return []kv.WriteOp{
				kv.Put(key, metadata.MustEncode(metadata.NewPurgeDueEntry(space, file)), kv.IfNotExists()),
				kv.Check(fileKey, metadata.Unchanged(row.Raw)),
			}, nil
		},
	}
}

// AggregateMetricsJob recomputes each space's usage totals and rewrites
// the usage row only when they changed. Rows are tallied as satisfied; the
// usage write counts as the space's one write.
func AggregateMetricsJob(env Env) *Job {
	totals := map[string]*metadata.SpaceUsage{}
	usageOf := func(space metadata.Space) *metadata.SpaceUsage {
		u, ok := totals[space.Partition()]
		if !ok {
			u = &metadata.SpaceUsage{}
			totals[space.Partition()] = u
		}
		return u
	}

	return &Job{
		Name: JobAggregateMetrics,
		Evaluate: func(_ context.Context, space metadata.Space, row Row) ([]kv.WriteOp, error) {
			u := usageOf(space)
			switch row.File.State() {
			case metadata.StateActive:
				u.ActiveFiles++
				u.ActiveBytes += row.File.Size
			case metadata.StateTrash:
				u.TrashedFiles++
				u.TrashedBytes += row.File.Size
			case metadata.StatePurged:
				u.PurgedFiles++
			}
			return nil, nil
		},
		Finish: func(ctx context.Context, space metadata.Space) ([]kv.WriteOp, error) {
			u := usageOf(space)
			folders, err := countPrefix(ctx, env.Store, space, metadata.FolderPrefix())
			if err != nil {
				return nil, err
			}
			u.Folders = int64(folders)
			u.ComputedAt = env.now()

			key := metadata.UsageKey(space)
			raw, present, err := lookup(ctx, env.Store, key)
			if err != nil {
				return nil, err
			}
			cond := kv.IfNotExists()
			if present {
				stored, err := metadata.DecodeAs[*metadata.SpaceUsage](raw)
				if err == nil && stored.SameTotals(u) {
					return nil, nil
				}
				cond = metadata.Unchanged(raw)
			}
			return []kv.WriteOp{kv.Put(key, metadata.MustEncode(u), cond)}, nil
		},
	}
}

func lookup(ctx context.Context, store kv.Store, key kv.Key) ([]byte, bool, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return raw, true, nil
}

func countPrefix(ctx context.Context, store kv.Store, space metadata.Space, prefix string) (int, error) {
	n, cursor := 0, ""
	for {
		res, err := store.Query(ctx, kv.QueryInput{Partition: space.Partition(), Prefix: prefix, Cursor: cursor, Limit: 1000})
		if err != nil {
			return 0, fmt.Errorf("failed to count %s in %s: %w", prefix, space, err)
		}
		n += len(res.Items)
		if res.NextCursor == "" {
			return n, nil
		}
		cursor = res.NextCursor
	}
}
