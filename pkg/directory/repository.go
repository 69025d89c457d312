// Package directory maintains the folder/file namespace of a space on top of
// the flat key-value store.
//
// Guarantees:
//   - At most one entry per (parent, kind, normalized name); enforced by a
//     conditional create of the entry key, never by a read-then-write.
//   - A file's entry exists iff the file is ACTIVE.
//   - Every multi-item mutation is one store transaction.
//
// Folders are never removed. The root folder is virtual.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/metadata"
	"github.com/marmos91/dittodrive/pkg/paths"
)

// ensureFolderAttempts bounds the create/re-read loop of one path segment.
const ensureFolderAttempts = 5

// Options configures a Repository.
type Options struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// NewID generates folder and file ids. Defaults to random UUIDs.
	NewID func() string
}

// Repository is the directory repository.
type Repository struct {
	store kv.Store
	now   func() time.Time
	newID func() string
}

// New creates a Repository over store.
func New(store kv.Store, opts Options) *Repository {
	r := &Repository{store: store, now: opts.Now, newID: opts.NewID}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

// Store returns the underlying key-value store.
func (r *Repository) Store() kv.Store {
	return r.store
}

// Now returns the repository clock.
func (r *Repository) Now() time.Time {
	return r.now().UTC()
}

// GetFolder returns a folder by id. The root always resolves.
func (r *Repository) GetFolder(ctx context.Context, space metadata.Space, folderID string) (*metadata.FolderNode, error) {
	if folderID == metadata.RootFolderID {
		return metadata.RootFolder(), nil
	}
	raw, err := r.store.Get(ctx, metadata.FolderKey(space, folderID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, metadata.NewNotFoundError("folder", folderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get folder %s: %w", folderID, err)
	}
	return metadata.DecodeAs[*metadata.FolderNode](raw)
}

// GetFile returns a file by id, whatever its lifecycle state.
func (r *Repository) GetFile(ctx context.Context, space metadata.Space, fileID string) (*metadata.FileNode, error) {
	file, _, err := r.GetFileRaw(ctx, space, fileID)
	return file, err
}

// GetFileRaw returns a file and the exact stored bytes, for callers that
// guard a later write with metadata.Unchanged.
func (r *Repository) GetFileRaw(ctx context.Context, space metadata.Space, fileID string) (*metadata.FileNode, []byte, error) {
	raw, err := r.store.Get(ctx, metadata.FileKey(space, fileID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil, metadata.NewNotFoundError("file", fileID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get file %s: %w", fileID, err)
	}
	file, err := metadata.DecodeAs[*metadata.FileNode](raw)
	if err != nil {
		return nil, nil, err
	}
	return file, raw, nil
}

// GetEntry returns the directory entry for (parent, kind, name).
func (r *Repository) GetEntry(ctx context.Context, space metadata.Space, parentID string, kind metadata.EntryKind, name string) (*metadata.DirectoryEntry, error) {
	normalized := paths.NormalizeName(name)
	raw, err := r.store.Get(ctx, metadata.EntryKey(space, parentID, kind, normalized))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, metadata.NewNotFoundError("entry", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s/%s: %w", parentID, name, err)
	}
	return metadata.DecodeAs[*metadata.DirectoryEntry](raw)
}

// ResolveFolder walks path from the root and returns the folder id.
func (r *Repository) ResolveFolder(ctx context.Context, space metadata.Space, path string) (string, error) {
	segments, err := paths.Segments(path)
	if err != nil {
		return "", err
	}

	current := metadata.RootFolderID
	for i, seg := range segments {
		entry, err := r.GetEntry(ctx, space, current, metadata.EntryFolder, seg)
		if err != nil {
			if metadata.IsNotFound(err) {
				return "", metadata.NewNotFoundError("folder", paths.Join(segments[:i+1]...))
			}
			return "", err
		}
		current = entry.ChildID
	}
	return current, nil
}

// EnsureFolder resolves path, creating any missing folders.
//
// Each missing segment is created as a FolderNode plus its entry in one
// transaction, the entry conditional on non-existence. When a concurrent
// creator wins, the loser re-reads and adopts the winner's folder, so every
// caller ends up with the same id.
func (r *Repository) EnsureFolder(ctx context.Context, space metadata.Space, path string) (string, error) {
	segments, err := paths.Segments(path)
	if err != nil {
		return "", err
	}
	return r.ensureSegments(ctx, space, segments)
}

func (r *Repository) ensureSegments(ctx context.Context, space metadata.Space, segments []string) (string, error) {
	if err := space.Validate(); err != nil {
		return "", err
	}

	current := metadata.RootFolderID
	for _, seg := range segments {
		id, err := r.ensureChildFolder(ctx, space, current, seg)
		if err != nil {
			return "", err
		}
		current = id
	}
	return current, nil
}

func (r *Repository) ensureChildFolder(ctx context.Context, space metadata.Space, parentID, name string) (string, error) {
	normalized := paths.NormalizeName(name)
	entryKey := metadata.EntryKey(space, parentID, metadata.EntryFolder, normalized)

	for attempt := 0; attempt < ensureFolderAttempts; attempt++ {
		entry, err := r.GetEntry(ctx, space, parentID, metadata.EntryFolder, name)
		if err == nil {
			return entry.ChildID, nil
		}
		if !metadata.IsNotFound(err) {
			return "", err
		}

		now := r.Now()
		folder := &metadata.FolderNode{
			ID:             r.newID(),
			ParentFolderID: parentID,
			Name:           name,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		newEntry := &metadata.DirectoryEntry{
			ParentFolderID: parentID,
			Kind:           metadata.EntryFolder,
			Name:           name,
			NormalizedName: normalized,
			ChildID:        folder.ID,
		}

		err = r.store.TransactWrite(ctx, []kv.WriteOp{
			kv.Put(metadata.FolderKey(space, folder.ID), metadata.MustEncode(folder), kv.IfNotExists()),
			kv.Put(entryKey, metadata.MustEncode(newEntry), kv.IfNotExists()),
		})
		if err == nil {
			logger.Debug("directory: created folder %s (%s) under %s in %s", name, folder.ID, parentID, space)
			return folder.ID, nil
		}
		if !kv.IsConditionFailed(err) && !errors.Is(err, kv.ErrTransactionConflict) {
			return "", fmt.Errorf("failed to create folder %s: %w", name, err)
		}
		logger.Debug("directory: lost folder creation race for %s under %s, re-reading", name, parentID)
	}
	return "", metadata.NewConflictError("folder creation kept conflicting", name, metadata.StateUnknown)
}

// FolderPath returns the absolute path of a folder.
func (r *Repository) FolderPath(ctx context.Context, space metadata.Space, folderID string) (string, error) {
	var names []string
	current := folderID
	for depth := 0; current != metadata.RootFolderID; depth++ {
		if depth > paths.MaxPathDepth {
			return "", fmt.Errorf("folder %s: parent chain exceeds %d levels", folderID, paths.MaxPathDepth)
		}
		folder, err := r.GetFolder(ctx, space, current)
		if err != nil {
			return "", err
		}
		names = append(names, folder.Name)
		current = folder.ParentFolderID
	}

	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return paths.Join(names...), nil
}

// FilePath returns the absolute path of a file from its current parent and name.
func (r *Repository) FilePath(ctx context.Context, space metadata.Space, file *metadata.FileNode) (string, error) {
	folderPath, err := r.FolderPath(ctx, space, file.ParentFolderID)
	if err != nil {
		return "", err
	}
	if folderPath == "/" {
		return "/" + file.Name, nil
	}
	return folderPath + "/" + file.Name, nil
}

// LookupFile resolves a file path to its ACTIVE file.
func (r *Repository) LookupFile(ctx context.Context, space metadata.Space, path string) (*metadata.FileNode, error) {
	folders, leaf, err := paths.Split(path)
	if err != nil {
		return nil, err
	}
	parentID, err := r.ResolveFolder(ctx, space, paths.Join(folders...))
	if err != nil {
		return nil, err
	}
	entry, err := r.GetEntry(ctx, space, parentID, metadata.EntryFile, leaf)
	if err != nil {
		if metadata.IsNotFound(err) {
			return nil, metadata.NewNotFoundError("file", path)
		}
		return nil, err
	}
	file, err := r.GetFile(ctx, space, entry.ChildID)
	if err != nil {
		return nil, err
	}
	if file.State() != metadata.StateActive {
		logger.Warn("directory: entry %s points at %s file %s", path, file.State(), file.ID)
		return nil, metadata.NewNotFoundError("file", path)
	}
	return file, nil
}
