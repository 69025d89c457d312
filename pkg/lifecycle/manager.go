// Package lifecycle implements the ACTIVE -> TRASH -> PURGED state machine of
// files.
//
// Every transition is one conditional store transaction, so concurrent
// trash/restore/purge calls are serialized by the store: the loser observes a
// failed condition and reports the winner's state instead of mutating.
//
// Blob side effects:
//   - trash and restore tag the content blob best-effort after commit
//   - restore refuses unless the blob's current version still exists
//   - purge deletes every version of the content and its thumbnails first,
//     and marks PURGED only once nothing remains
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/blob"
	"github.com/marmos91/dittodrive/pkg/directory"
	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/metrics"
)

// DefaultRetention is how long trashed files are kept when callers do not
// configure otherwise.
const DefaultRetention = 30 * 24 * time.Hour

// Manager performs lifecycle transitions.
type Manager struct {
	dir     *directory.Repository
	store   kv.Store
	blobs   blob.Store
	metrics metrics.LifecycleMetrics
}

// New creates a Manager. m may be nil.
func New(dir *directory.Repository, blobs blob.Store, m metrics.LifecycleMetrics) *Manager {
	return &Manager{
		dir:     dir,
		store:   dir.Store(),
		blobs:   blobs,
		metrics: metrics.OrNoopLifecycle(m),
	}
}

// Directory returns the repository the manager writes through.
func (m *Manager) Directory() *directory.Repository {
	return m.dir
}

// Blobs returns the content blob store.
func (m *Manager) Blobs() blob.Store {
	return m.blobs
}

func (m *Manager) observe(operation string, start time.Time, err error) {
	m.metrics.RecordOperation(operation, time.Since(start), err)
}

// Trash moves an ACTIVE file to the trash for retention.
//
// The file leaves the namespace (its entry and media-hash entry are
// removed), remembers the path it had, and is scheduled for purge at
// now+retention. A file that is not ACTIVE yields ErrAlreadyTrashedOrPurged
// carrying its state.
func (m *Manager) Trash(ctx context.Context, space metadata.Space, fileID string, retention time.Duration) (file *metadata.FileNode, err error) {
	start := time.Now()
	defer func() { m.observe("trash", start, err) }()

	if retention < 0 {
		return nil, metadata.NewInvalidArgumentError("negative retention %s", retention)
	}

	current, raw, err := m.dir.GetFileRaw(ctx, space, fileID)
	if err != nil {
		return nil, err
	}
	if state := current.State(); state != metadata.StateActive {
		return nil, metadata.NewAlreadyTrashedOrPurgedError(fileID, state)
	}

	trashedPath, err := m.dir.FilePath(ctx, space, current)
	if err != nil {
		return nil, fmt.Errorf("failed to compute path of %s: %w", fileID, err)
	}

	now := m.dir.Now()
	due := now.Add(retention)
	trashed := current.Clone()
	trashed.DeletedAt = &now
	trashed.PurgeDueAt = &due
	trashed.TrashedPath = trashedPath
	trashed.UpdatedAt = now

	ops := []kv.WriteOp{
		kv.Put(metadata.FileKey(space, fileID), metadata.MustEncode(trashed), metadata.Unchanged(raw)),
		kv.Delete(directory.FileEntryKey(space, current), metadata.EntryPointsTo(fileID)),
		kv.Put(metadata.PurgeDueKey(space, fileID, due), metadata.MustEncode(metadata.NewPurgeDueEntry(space, trashed)), nil),
	}
	ops = append(ops, directory.MediaHashSwap(space, current, trashed)...)

	if err := m.store.TransactWrite(ctx, ops); err != nil {
		return nil, m.lostRace(ctx, space, fileID, err, "trash")
	}

	logger.Info("lifecycle: trashed %s (%s) in %s, purge due %s", trashedPath, fileID, space, due.Format(time.RFC3339))
	m.tag(ctx, trashed.StorageKey, blob.TagLifecycleTrash)
	return trashed, nil
}

// TrashPath trashes the ACTIVE file at path.
func (m *Manager) TrashPath(ctx context.Context, space metadata.Space, path string, retention time.Duration) (*metadata.FileNode, error) {
	file, err := m.dir.LookupFile(ctx, space, path)
	if err != nil {
		return nil, err
	}
	return m.Trash(ctx, space, file.ID, retention)
}

// Restore brings a trashed file back to its original folder and name.
//
// Outcomes when the content blob has no current version:
//   - older versions remain: Conflict "version unavailable", nothing changes
//   - no versions at all: the file is marked PURGED and Conflict "already
//     purged" is returned
func (m *Manager) Restore(ctx context.Context, space metadata.Space, fileID string) (file *metadata.FileNode, err error) {
	start := time.Now()
	defer func() { m.observe("restore", start, err) }()

	current, raw, err := m.dir.GetFileRaw(ctx, space, fileID)
	if err != nil {
		return nil, err
	}
	switch state := current.State(); state {
	case metadata.StateTrash:
	case metadata.StatePurged:
		return nil, metadata.NewConflictError("file already purged", fileID, state)
	default:
		return nil, metadata.NewConflictError("file is not in trash", fileID, state)
	}

	exists, err := blob.CurrentExists(ctx, m.blobs, current.StorageKey)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, m.restoreWithoutContent(ctx, space, current)
	}

	restored := current.Clone()
	restored.DeletedAt = nil
	restored.PurgeDueAt = nil
	restored.TrashedPath = ""
	restored.UpdatedAt = m.dir.Now()

	entry := directory.NewFileEntry(current.ParentFolderID, current.Name, fileID)

	ops := []kv.WriteOp{
		kv.Put(metadata.FileKey(space, fileID), metadata.MustEncode(restored), metadata.Unchanged(raw)),
		kv.Put(directory.FileEntryKey(space, current), metadata.MustEncode(entry), kv.IfNotExists()),
	}
	if current.PurgeDueAt != nil {
		ops = append(ops, kv.Delete(metadata.PurgeDueKey(space, fileID, *current.PurgeDueAt), nil))
	}
	ops = append(ops, directory.MediaHashSwap(space, current, restored)...)

	if err := m.store.TransactWrite(ctx, ops); err != nil {
		if cfe, ok := kv.FailedCondition(err); ok && cfe.Index == 1 {
			return nil, metadata.NewConflictError("name already taken", current.TrashedPath, metadata.StateTrash)
		}
		return nil, m.lostRace(ctx, space, fileID, err, "restore")
	}

	logger.Info("lifecycle: restored %s (%s) in %s", current.TrashedPath, fileID, space)
	m.tag(ctx, restored.StorageKey, blob.TagLifecycleActive)
	return restored, nil
}

func (m *Manager) restoreWithoutContent(ctx context.Context, space metadata.Space, file *metadata.FileNode) error {
	anyVersion, err := blob.HasAnyVersion(ctx, m.blobs, file.ContentKeys()...)
	if err != nil {
		return err
	}
	if anyVersion {
		logger.Warn("lifecycle: restore of %s refused, current version of %s is gone", file.ID, file.StorageKey)
		return metadata.NewConflictError("version unavailable", file.ID, metadata.StateTrash)
	}

	if err := m.SweepThumbnails(ctx, space, file.ID); err != nil {
		return err
	}
	if _, err := m.MarkPurged(ctx, space, file.ID); err != nil {
		return err
	}
	return metadata.NewConflictError("file already purged", file.ID, metadata.StatePurged)
}

// SweepThumbnails deletes every version of the derived thumbnails of a file.
// It fails with Conflict "purge incomplete" when versions survive.
func (m *Manager) SweepThumbnails(ctx context.Context, space metadata.Space, fileID string) error {
	deleted, remaining, err := blob.DeleteAllVersions(ctx, m.blobs, nil,
		[]string{metadata.ThumbnailObjectPrefix(space, fileID)})
	if remaining > 0 {
		if err != nil {
			logger.Warn("lifecycle: thumbnail sweep of %s left %d versions: %v", fileID, remaining, err)
		}
		return metadata.NewConflictError("purge incomplete", fileID, metadata.StateTrash)
	}
	if err != nil {
		return fmt.Errorf("failed to delete thumbnails of %s: %w", fileID, err)
	}
	if deleted > 0 {
		logger.Debug("lifecycle: removed %d thumbnail versions of %s", deleted, fileID)
	}
	return nil
}

// PurgeNow permanently deletes a trashed file's content and thumbnails, then
// marks it PURGED. If any blob version survives the sweep the metadata is
// left untouched and Conflict "purge incomplete" is returned.
func (m *Manager) PurgeNow(ctx context.Context, space metadata.Space, fileID string) (err error) {
	start := time.Now()
	defer func() { m.observe("purge_now", start, err) }()

	file, err := m.dir.GetFile(ctx, space, fileID)
	if err != nil {
		return err
	}
	if state := file.State(); state != metadata.StateTrash {
		return metadata.NewConflictError("file is not in trash", fileID, state)
	}

	deleted, remaining, err := blob.DeleteAllVersions(ctx, m.blobs,
		file.ContentKeys(),
		[]string{metadata.ThumbnailObjectPrefix(space, fileID)})
	if remaining > 0 {
		if err != nil {
			logger.Warn("lifecycle: purge of %s left %d versions: %v", fileID, remaining, err)
		}
		return metadata.NewConflictError("purge incomplete", fileID, metadata.StateTrash)
	}
	if err != nil {
		return fmt.Errorf("failed to delete blobs of %s: %w", fileID, err)
	}

	if _, err := m.MarkPurged(ctx, space, fileID); err != nil {
		return err
	}
	logger.Info("lifecycle: purged %s in %s (%d blob versions removed)", fileID, space, deleted)
	return nil
}

// MarkPurged records that a trashed file's content is gone. It removes the
// purge-due entry and thumbnail metadata with the transition.
//
// Returns false without error when the file was already PURGED.
func (m *Manager) MarkPurged(ctx context.Context, space metadata.Space, fileID string) (purged bool, err error) {
	start := time.Now()
	defer func() { m.observe("mark_purged", start, err) }()

	file, err := m.dir.GetFile(ctx, space, fileID)
	if err != nil {
		return false, err
	}
	switch state := file.State(); state {
	case metadata.StatePurged:
		return false, nil
	case metadata.StateTrash:
	default:
		return false, metadata.NewConflictError("file is not in trash", fileID, state)
	}

	now := m.dir.Now()
	marked := file.Clone()
	marked.PurgedAt = &now
	marked.UpdatedAt = now

	ops := []kv.WriteOp{
		kv.Put(metadata.FileKey(space, fileID), metadata.MustEncode(marked), metadata.FileInState(metadata.StateTrash)),
		kv.Delete(metadata.ThumbnailKey(space, fileID), nil),
	}
	if file.PurgeDueAt != nil {
		ops = append(ops, kv.Delete(metadata.PurgeDueKey(space, fileID, *file.PurgeDueAt), nil))
	}

	if err := m.store.TransactWrite(ctx, ops); err != nil {
		if kv.IsConditionFailed(err) || errors.Is(err, kv.ErrTransactionConflict) {
			if m.currentState(ctx, space, fileID) == metadata.StatePurged {
				return false, nil
			}
		}
		return false, m.lostRace(ctx, space, fileID, err, "mark purged")
	}

	logger.Debug("lifecycle: marked %s PURGED in %s", fileID, space)
	return true, nil
}

// lostRace converts a failed transition into a StoreError carrying the
// state another writer left behind.
func (m *Manager) lostRace(ctx context.Context, space metadata.Space, fileID string, err error, operation string) error {
	if !kv.IsConditionFailed(err) && !errors.Is(err, kv.ErrTransactionConflict) {
		return fmt.Errorf("failed to %s %s: %w", operation, fileID, err)
	}
	state := m.currentState(ctx, space, fileID)
	logger.Debug("lifecycle: %s of %s lost a race, file is now %s", operation, fileID, state)
	if operation == "trash" && state != metadata.StateActive {
		return metadata.NewAlreadyTrashedOrPurgedError(fileID, state)
	}
	return metadata.NewConflictError("file changed concurrently", fileID, state)
}

func (m *Manager) currentState(ctx context.Context, space metadata.Space, fileID string) metadata.FileState {
	file, err := m.dir.GetFile(ctx, space, fileID)
	if err != nil {
		return metadata.StateUnknown
	}
	return file.State()
}

// tag applies the lifecycle tag to a content blob. Failures are logged only.
func (m *Manager) tag(ctx context.Context, key, value string) {
	if err := m.blobs.SetTags(ctx, key, map[string]string{blob.TagLifecycle: value}); err != nil {
		logger.Warn("lifecycle: failed to tag %s %s=%s: %v", key, blob.TagLifecycle, value, err)
		m.metrics.RecordTagFailure(value)
	}
}
