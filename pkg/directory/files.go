package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/paths"
)

// UpsertFileInput describes the content being written at Path.
type UpsertFileInput struct {
	Path        string
	StorageKey  string
	Size        int64
	ContentType string
	ContentHash string
	ETag        string
}

// UpsertResult reports the outcome of UpsertActiveFile.
type UpsertResult struct {
	File    *metadata.FileNode
	Created bool

	// Previous is the file as it was before an overwrite. Nil on create.
	Previous *metadata.FileNode
}

// UpsertActiveFile creates the file at in.Path, or overwrites the ACTIVE
// file currently there. Missing parent folders are created.
//
// The overwrite keeps the file id and creation time, replaces content
// attributes, and swaps the media-hash entry when the hash changed. Either
// branch commits in one transaction; losing a race surfaces as a conflict.
func (r *Repository) UpsertActiveFile(ctx context.Context, space metadata.Space, in UpsertFileInput) (*UpsertResult, error) {
	if in.StorageKey == "" {
		return nil, metadata.NewInvalidArgumentError("storage key is required")
	}
	if in.Size < 0 {
		return nil, metadata.NewInvalidArgumentError("negative size %d", in.Size)
	}

	folders, leaf, err := paths.Split(in.Path)
	if err != nil {
		return nil, err
	}
	parentID, err := r.ensureSegments(ctx, space, folders)
	if err != nil {
		return nil, err
	}

	entry, err := r.GetEntry(ctx, space, parentID, metadata.EntryFile, leaf)
	switch {
	case err == nil:
		return r.overwriteFile(ctx, space, entry, leaf, in)
	case metadata.IsNotFound(err):
		return r.createFile(ctx, space, parentID, leaf, in)
	default:
		return nil, err
	}
}

func (r *Repository) createFile(ctx context.Context, space metadata.Space, parentID, name string, in UpsertFileInput) (*UpsertResult, error) {
	now := r.Now()
	file := &metadata.FileNode{
		ID:             r.newID(),
		ParentFolderID: parentID,
		Name:           name,
		StorageKey:     in.StorageKey,
		Size:           in.Size,
		ContentType:    in.ContentType,
		ContentHash:    in.ContentHash,
		ETag:           in.ETag,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	entry := NewFileEntry(parentID, name, file.ID)

	ops := []kv.WriteOp{
		kv.Put(metadata.FileKey(space, file.ID), metadata.MustEncode(file), kv.IfNotExists()),
		kv.Put(metadata.EntryKey(space, parentID, metadata.EntryFile, entry.NormalizedName), metadata.MustEncode(entry), kv.IfNotExists()),
	}
	if file.MediaIndexed() {
		ops = append(ops, putMediaHash(space, file))
	}

	if err := r.store.TransactWrite(ctx, ops); err != nil {
		if kv.IsConditionFailed(err) || errors.Is(err, kv.ErrTransactionConflict) {
			return nil, metadata.NewConflictError("name already taken", in.Path, metadata.StateActive)
		}
		return nil, fmt.Errorf("failed to create file %s: %w", in.Path, err)
	}

	logger.Debug("directory: created file %s (%s) in %s", in.Path, file.ID, space)
	return &UpsertResult{File: file, Created: true}, nil
}

func (r *Repository) overwriteFile(ctx context.Context, space metadata.Space, entry *metadata.DirectoryEntry, name string, in UpsertFileInput) (*UpsertResult, error) {
	previous, raw, err := r.GetFileRaw(ctx, space, entry.ChildID)
	if err != nil {
		if metadata.IsNotFound(err) {
			logger.Warn("directory: entry %s points at missing file %s", in.Path, entry.ChildID)
			return nil, metadata.NewConflictError("directory entry is dangling", in.Path, metadata.StateUnknown)
		}
		return nil, err
	}

	file := previous.Clone()
	file.Name = name
	file.ReplaceContentKey(in.StorageKey)
	file.Size = in.Size
	file.ContentType = in.ContentType
	file.ContentHash = in.ContentHash
	file.ETag = in.ETag
	file.UpdatedAt = r.Now()
	file.DeletedAt = nil
	file.PurgeDueAt = nil
	file.PurgedAt = nil
	file.TrashedPath = ""

	updatedEntry := *entry
	updatedEntry.Name = name

	ops := []kv.WriteOp{
		kv.Put(metadata.FileKey(space, file.ID), metadata.MustEncode(file), metadata.Unchanged(raw)),
		kv.Put(metadata.EntryKey(space, entry.ParentFolderID, metadata.EntryFile, entry.NormalizedName),
			metadata.MustEncode(&updatedEntry), metadata.EntryPointsTo(file.ID)),
	}
	ops = append(ops, MediaHashSwap(space, previous, file)...)
	if previous.PurgeDueAt != nil {
		ops = append(ops, kv.Delete(metadata.PurgeDueKey(space, previous.ID, *previous.PurgeDueAt), nil))
	}

	if err := r.store.TransactWrite(ctx, ops); err != nil {
		if kv.IsConditionFailed(err) || errors.Is(err, kv.ErrTransactionConflict) {
			return nil, metadata.NewConflictError("file changed concurrently", in.Path, r.currentState(ctx, space, file.ID))
		}
		return nil, fmt.Errorf("failed to overwrite file %s: %w", in.Path, err)
	}

	logger.Debug("directory: overwrote file %s (%s) etag %s -> %s", in.Path, file.ID, previous.ETag, file.ETag)
	return &UpsertResult{File: file, Previous: previous}, nil
}

// MoveOrRenameActiveFile moves an ACTIVE file under newParentID with newName.
//
// A case-only rename (same parent, same normalized name) rewrites the entry in
// place. Any other move deletes the old entry and creates the new one in the
// same transaction as the FileNode update.
func (r *Repository) MoveOrRenameActiveFile(ctx context.Context, space metadata.Space, fileID, newParentID, newName string) (*metadata.FileNode, error) {
	if err := paths.ValidateName(newName); err != nil {
		return nil, err
	}

	file, err := r.GetFile(ctx, space, fileID)
	if err != nil {
		return nil, err
	}
	if state := file.State(); state != metadata.StateActive {
		return nil, metadata.NewConflictError("file is not active", fileID, state)
	}
	if _, err := r.GetFolder(ctx, space, newParentID); err != nil {
		return nil, err
	}

	oldNormalized := paths.NormalizeName(file.Name)
	newNormalized := paths.NormalizeName(newName)
	sameKey := file.ParentFolderID == newParentID && oldNormalized == newNormalized
	if sameKey && file.Name == newName {
		return file, nil
	}

	if !sameKey {
		existing, err := r.GetEntry(ctx, space, newParentID, metadata.EntryFile, newName)
		if err == nil && existing.ChildID != fileID {
			return nil, metadata.NewConflictError("name already taken", newName, metadata.StateActive)
		}
		if err != nil && !metadata.IsNotFound(err) {
			return nil, err
		}
	}

	oldParentID, oldName := file.ParentFolderID, file.Name
	moved := file.Clone()
	moved.ParentFolderID = newParentID
	moved.Name = newName
	moved.UpdatedAt = r.Now()

	newEntry := NewFileEntry(newParentID, newName, fileID)
	newEntryKey := metadata.EntryKey(space, newParentID, metadata.EntryFile, newNormalized)

	ops := []kv.WriteOp{
		kv.Put(metadata.FileKey(space, fileID), metadata.MustEncode(moved),
			metadata.FileMatches("file_active_at_source", func(f *metadata.FileNode) bool {
				return f.State() == metadata.StateActive && f.ParentFolderID == oldParentID && f.Name == oldName
			})),
	}
	newEntryIndex := len(ops)
	if sameKey {
		ops = append(ops, kv.Put(newEntryKey, metadata.MustEncode(newEntry), metadata.EntryPointsTo(fileID)))
	} else {
		ops = append(ops,
			kv.Put(newEntryKey, metadata.MustEncode(newEntry), metadata.EntryFreeOrPointsTo(fileID)),
			kv.Delete(metadata.EntryKey(space, oldParentID, metadata.EntryFile, oldNormalized), metadata.EntryPointsTo(fileID)),
		)
	}

	if err := r.store.TransactWrite(ctx, ops); err != nil {
		var cfe *kv.ConditionFailedError
		if errors.As(err, &cfe) && cfe.Index == newEntryIndex && !sameKey {
			return nil, metadata.NewConflictError("name already taken", newName, metadata.StateActive)
		}
		if kv.IsConditionFailed(err) || errors.Is(err, kv.ErrTransactionConflict) {
			return nil, metadata.NewConflictError("file changed concurrently", fileID, r.currentState(ctx, space, fileID))
		}
		return nil, fmt.Errorf("failed to move file %s: %w", fileID, err)
	}

	logger.Debug("directory: moved file %s from %s/%s to %s/%s", fileID, oldParentID, oldName, newParentID, newName)
	return moved, nil
}

// MoveOrRenameActiveFileByPath moves the ACTIVE file at fromPath to toPath,
// creating missing destination folders.
func (r *Repository) MoveOrRenameActiveFileByPath(ctx context.Context, space metadata.Space, fromPath, toPath string) (*metadata.FileNode, error) {
	file, err := r.LookupFile(ctx, space, fromPath)
	if err != nil {
		return nil, err
	}
	folders, leaf, err := paths.Split(toPath)
	if err != nil {
		return nil, err
	}
	parentID, err := r.ensureSegments(ctx, space, folders)
	if err != nil {
		return nil, err
	}
	return r.MoveOrRenameActiveFile(ctx, space, file.ID, parentID, leaf)
}

// currentState re-reads a file after a lost race so the error carries the
// authoritative state.
func (r *Repository) currentState(ctx context.Context, space metadata.Space, fileID string) metadata.FileState {
	file, err := r.GetFile(ctx, space, fileID)
	if err != nil {
		return metadata.StateUnknown
	}
	return file.State()
}

// FileEntryKey is the key of the directory entry that names file while it
// is ACTIVE.
func FileEntryKey(space metadata.Space, file *metadata.FileNode) kv.Key {
	return metadata.EntryKey(space, file.ParentFolderID, metadata.EntryFile, paths.NormalizeName(file.Name))
}

// NewFileEntry builds the directory entry naming a file under parentID.
func NewFileEntry(parentID, name, fileID string) *metadata.DirectoryEntry {
	return &metadata.DirectoryEntry{
		ParentFolderID: parentID,
		Kind:           metadata.EntryFile,
		Name:           name,
		NormalizedName: paths.NormalizeName(name),
		ChildID:        fileID,
	}
}

func putMediaHash(space metadata.Space, file *metadata.FileNode) kv.WriteOp {
	entry := &metadata.MediaHashEntry{ContentHash: file.ContentHash, FileID: file.ID}
	return kv.Put(metadata.MediaHashKey(space, file.ContentHash, file.ID), metadata.MustEncode(entry), nil)
}

// MediaHashSwap returns the media-hash index writes that move a file from
// before to after. Nothing is written when both index the same hash.
func MediaHashSwap(space metadata.Space, before, after *metadata.FileNode) []kv.WriteOp {
	if before.MediaIndexed() && after.MediaIndexed() && before.ContentHash == after.ContentHash {
		return nil
	}
	var ops []kv.WriteOp
	if before.MediaIndexed() {
		ops = append(ops, kv.Delete(metadata.MediaHashKey(space, before.ContentHash, before.ID), nil))
	}
	if after.MediaIndexed() {
		ops = append(ops, putMediaHash(space, after))
	}
	return ops
}
