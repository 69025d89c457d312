package metadata

import "time"

// EntryKind is the child type of a directory entry. Its value is part of the
// entry key.
type EntryKind string

const (
	EntryFolder EntryKind = "F"
	EntryFile   EntryKind = "L"
)

// DirectoryEntry is the parent->child edge of the namespace. At most one
// entry exists per (parent, kind, normalized name); a file entry exists iff
// the file is ACTIVE.
type DirectoryEntry struct {
	ParentFolderID string    `json:"parent_folder_id"`
	Kind           EntryKind `json:"kind"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	ChildID        string    `json:"child_id"`
}

// PurgeDueEntry schedules the hard delete of a trashed file. It exists iff
// the file is in TRASH.
type PurgeDueEntry struct {
	TenantID    string    `json:"tenant_id"`
	SpaceID     string    `json:"space_id"`
	FileID      string    `json:"file_id"`
	Name        string    `json:"name"`
	TrashedPath string    `json:"trashed_path"`
	StorageKey  string    `json:"storage_key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	DeletedAt   time.Time `json:"deleted_at"`
	PurgeDueAt  time.Time `json:"purge_due_at"`
}

// Space returns the space the entry belongs to.
func (e *PurgeDueEntry) Space() Space {
	return Space{TenantID: e.TenantID, SpaceID: e.SpaceID}
}

// NewPurgeDueEntry builds the due entry of a trashed file.
func NewPurgeDueEntry(space Space, file *FileNode) *PurgeDueEntry {
	e := &PurgeDueEntry{
		TenantID:    space.TenantID,
		SpaceID:     space.SpaceID,
		FileID:      file.ID,
		Name:        file.Name,
		TrashedPath: file.TrashedPath,
		StorageKey:  file.StorageKey,
		Size:        file.Size,
		ContentType: file.ContentType,
	}
	if file.DeletedAt != nil {
		e.DeletedAt = *file.DeletedAt
	}
	if file.PurgeDueAt != nil {
		e.PurgeDueAt = *file.PurgeDueAt
	}
	return e
}

// MediaHashEntry maps a content hash to an active media file.
type MediaHashEntry struct {
	ContentHash string `json:"content_hash"`
	FileID      string `json:"file_id"`
}

// SpaceUsage is the aggregate usage of a space, recomputed by the
// aggregate-metrics repair job.
type SpaceUsage struct {
	ActiveFiles  int64     `json:"active_files"`
	ActiveBytes  int64     `json:"active_bytes"`
	TrashedFiles int64     `json:"trashed_files"`
	TrashedBytes int64     `json:"trashed_bytes"`
	PurgedFiles  int64     `json:"purged_files"`
	Folders      int64     `json:"folders"`
	ComputedAt   time.Time `json:"computed_at"`
}

// SameTotals compares the counters, ignoring ComputedAt.
func (u *SpaceUsage) SameTotals(o *SpaceUsage) bool {
	if u == nil || o == nil {
		return u == o
	}
	a, b := *u, *o
	a.ComputedAt, b.ComputedAt = time.Time{}, time.Time{}
	return a == b
}
