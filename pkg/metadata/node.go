package metadata

import (
	"mime"
	"slices"
	"strings"
	"time"
)

// RootFolderID is the id of every space's root folder. The root is virtual:
// it is never stored and always resolves.
const RootFolderID = "root"

// FileState is the lifecycle state of a file.
//
// State is derived from the lifecycle timestamps and never stored on its own:
//
//	purgedAt set              -> PURGED
//	deletedAt set             -> TRASH
//	otherwise                 -> ACTIVE
//
// Transitions: ACTIVE -> TRASH -> PURGED, TRASH -> ACTIVE (restore).
// PURGED is terminal.
type FileState int

const (
	StateUnknown FileState = iota
	StateActive
	StateTrash
	StatePurged
)

func (s FileState) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateTrash:
		return "TRASH"
	case StatePurged:
		return "PURGED"
	default:
		return "UNKNOWN"
	}
}

// DeriveState maps lifecycle timestamps to a FileState.
func DeriveState(deletedAt, purgedAt *time.Time) FileState {
	switch {
	case purgedAt != nil:
		return StatePurged
	case deletedAt != nil:
		return StateTrash
	default:
		return StateActive
	}
}

// FolderNode is a stored folder.
type FolderNode struct {
	ID             string    `json:"id"`
	ParentFolderID string    `json:"parent_folder_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsRoot reports whether the folder is the virtual root.
func (f *FolderNode) IsRoot() bool {
	return f.ID == RootFolderID
}

// RootFolder returns the virtual root folder.
func RootFolder() *FolderNode {
	return &FolderNode{ID: RootFolderID}
}

// FileNode is a stored file. Rows are never physically deleted; PURGED is a
// terminal marker kept for audit.
type FileNode struct {
	ID             string `json:"id"`
	ParentFolderID string `json:"parent_folder_id"`
	Name           string `json:"name"`

	// StorageKey addresses the blob holding the file content.
	StorageKey  string `json:"storage_key"`

	// SupersededKeys are earlier storage keys left behind by overwrites.
	// Their versions are the file's history and are swept on purge.
	SupersededKeys []string `json:"superseded_keys,omitempty"`

	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	ContentHash string `json:"content_hash,omitempty"`
	ETag        string `json:"etag"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	PurgeDueAt *time.Time `json:"purge_due_at,omitempty"`
	PurgedAt   *time.Time `json:"purged_at,omitempty"`

	// TrashedPath is the full path at the moment the file was trashed.
	TrashedPath string `json:"trashed_path,omitempty"`
}

// State returns the derived lifecycle state.
func (f *FileNode) State() FileState {
	return DeriveState(f.DeletedAt, f.PurgedAt)
}

// IsMedia reports whether the content type is image/* or video/*.
func (f *FileNode) IsMedia() bool {
	return IsMediaType(f.ContentType)
}

// MediaIndexed reports whether the file must have a media-hash index entry:
// ACTIVE, media content type and a known content hash.
func (f *FileNode) MediaIndexed() bool {
	return f.State() == StateActive && f.ContentHash != "" && f.IsMedia()
}

// Clone returns a deep copy.
func (f *FileNode) Clone() *FileNode {
	c := *f
	c.DeletedAt = cloneTime(f.DeletedAt)
	c.PurgeDueAt = cloneTime(f.PurgeDueAt)
	c.PurgedAt = cloneTime(f.PurgedAt)
	if f.SupersededKeys != nil {
		c.SupersededKeys = append([]string(nil), f.SupersededKeys...)
	}
	return &c
}

// ContentKeys returns every blob key holding a version of the file's
// content: the current storage key first, then superseded ones.
func (f *FileNode) ContentKeys() []string {
	keys := make([]string, 0, 1+len(f.SupersededKeys))
	if f.StorageKey != "" {
		keys = append(keys, f.StorageKey)
	}
	for _, k := range f.SupersededKeys {
		if k != f.StorageKey {
			keys = append(keys, k)
		}
	}
	return keys
}

// ReplaceContentKey points the file at key, remembering the previous key
// as superseded.
func (f *FileNode) ReplaceContentKey(key string) {
	if f.StorageKey == key {
		return
	}
	if f.StorageKey != "" && !slices.Contains(f.SupersededKeys, f.StorageKey) {
		f.SupersededKeys = append(f.SupersededKeys, f.StorageKey)
	}
	f.SupersededKeys = slices.DeleteFunc(f.SupersededKeys, func(k string) bool { return k == key })
	if len(f.SupersededKeys) == 0 {
		f.SupersededKeys = nil
	}
	f.StorageKey = key
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// IsMediaType reports whether contentType is image/* or video/*.
// Parameters are ignored and matching is case-insensitive.
func IsMediaType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.HasPrefix(mediaType, "image/") || strings.HasPrefix(mediaType, "video/")
}

// IsVideoType reports whether contentType is video/*.
func IsVideoType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.HasPrefix(mediaType, "video/")
}
