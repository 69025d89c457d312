package metadata

import (
	"strings"
	"time"

	"github.com/marmos91/dittodrive/pkg/kv"
)

// Key Namespace Design
// ====================
//
// Every entity lives in one flat store addressed by (partition, sort). The
// partition of per-space entities is the space partition "<tenant>#<space>",
// so a space is a contiguous, independently scannable range. Sort keys are
// prefixed by entity type:
//
// Entity              Prefix  Sort key                                 Value
// ==========================================================================================
// Folder              "F:"    F:<folderId>                             FolderNode
// File                "L:"    L:<fileId>                               FileNode
// Directory entry     "D:"    D:<parentId>:<kind>:<normalizedName>     DirectoryEntry
// Media hash          "H:"    H:<contentHash>:<fileId>                 MediaHashEntry
// Thumbnail metadata  "T:"    T:<fileId>                               ThumbnailMetadata
// Space usage         "U:"    U:usage                                  SpaceUsage
//
// The purge-due index is global across tenants so the reconciler can walk
// every due item with one ordered range scan:
//
//	partition "#PURGE_DUE", sort "<dueTimestamp>#<tenant>#<space>#L:<fileId>"
//
// Key Design Rationale:
//
// 1. Directory entries (D:)
//    - The key is exactly the uniqueness tuple (parent, kind, normalized name),
//      so a conditional "not exists" put enforces one entry per name.
//    - The child id lives in the value; a key including it could not detect
//      a second child with the same name.
//    - List children: prefix scan of "D:<parentId>:"; folders ("F") sort
//      before files ("L") within a parent.
//
// 2. Media hash (H:)
//    - Prefix scan of "H:<hash>:" with limit 1 finds a duplicate candidate.
//    - The file id suffix keeps concurrent uploads of identical content from
//      overwriting each other's entry.
//
// 3. Purge due (#PURGE_DUE)
//    - dueTimestamp is fixed-width UTC with nanoseconds so lexicographic order
//      is chronological order.
//    - "everything due by now" is the range [start, dueTimestamp(now+1ns)).
const (
	prefixFolder    = "F:"
	prefixFile      = "L:"
	prefixEntry     = "D:"
	prefixMediaHash = "H:"
	prefixThumbnail = "T:"
	sortUsage       = "U:usage"

	partitionDelimiter = "#"
	keyDelimiter       = ":"

	// PurgeDuePartition is the global partition of the purge-due index.
	PurgeDuePartition = "#PURGE_DUE"

	dueTimestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// FolderKey returns the key of a FolderNode.
func FolderKey(space Space, folderID string) kv.Key {
	return kv.Key{Partition: space.Partition(), Sort: prefixFolder + folderID}
}

// FileKey returns the key of a FileNode.
func FileKey(space Space, fileID string) kv.Key {
	return kv.Key{Partition: space.Partition(), Sort: prefixFile + fileID}
}

// FilePrefix is the sort prefix of all FileNodes of a space.
func FilePrefix() string {
	return prefixFile
}

// FolderPrefix is the sort prefix of all FolderNodes of a space.
func FolderPrefix() string {
	return prefixFolder
}

// EntryKey returns the key of a directory entry.
//
// Format: D:<parentId>:<kind>:<normalizedName>
func EntryKey(space Space, parentID string, kind EntryKind, normalizedName string) kv.Key {
	return kv.Key{
		Partition: space.Partition(),
		Sort:      prefixEntry + parentID + keyDelimiter + string(kind) + keyDelimiter + normalizedName,
	}
}

// EntryPrefix is the sort prefix of every entry below parentID.
func EntryPrefix(parentID string) string {
	return prefixEntry + parentID + keyDelimiter
}

// MediaHashKey returns the key of a media-hash index entry.
func MediaHashKey(space Space, contentHash, fileID string) kv.Key {
	return kv.Key{Partition: space.Partition(), Sort: MediaHashPrefix(contentHash) + fileID}
}

// MediaHashPrefix is the sort prefix of every file sharing contentHash.
func MediaHashPrefix(contentHash string) string {
	return prefixMediaHash + contentHash + keyDelimiter
}

// ThumbnailKey returns the key of a file's ThumbnailMetadata.
func ThumbnailKey(space Space, fileID string) kv.Key {
	return kv.Key{Partition: space.Partition(), Sort: prefixThumbnail + fileID}
}

// UsageKey returns the key of a space's aggregate usage record.
func UsageKey(space Space) kv.Key {
	return kv.Key{Partition: space.Partition(), Sort: sortUsage}
}

// Blob keys
//
//	objects/<tenant>/<space>/<objectId>                 uploaded content
//	thumbnails/<tenant>/<space>/<fileId>/<etag>.jpg     derived thumbnails
//
// Thumbnails of one file share a prefix so purge can sweep them together.
const (
	objectKeyRoot    = "objects/"
	thumbnailKeyRoot = "thumbnails/"
)

// ContentObjectKey returns the blob key of uploaded content.
func ContentObjectKey(space Space, objectID string) string {
	return objectKeyRoot + space.TenantID + "/" + space.SpaceID + "/" + objectID
}

// ContentObjectPrefix is the blob prefix of a space's uploaded content.
func ContentObjectPrefix(space Space) string {
	return objectKeyRoot + space.TenantID + "/" + space.SpaceID + "/"
}

// ThumbnailObjectPrefix is the blob prefix of every thumbnail of a file.
func ThumbnailObjectPrefix(space Space, fileID string) string {
	return thumbnailKeyRoot + space.TenantID + "/" + space.SpaceID + "/" + fileID + "/"
}

// ThumbnailObjectKey returns the blob key of the thumbnail of one content version.
func ThumbnailObjectKey(space Space, fileID, etag string) string {
	return ThumbnailObjectPrefix(space, fileID) + strings.Trim(etag, `"`) + ".jpg"
}

// DueTimestamp formats t as a fixed-width, lexicographically sortable string.
func DueTimestamp(t time.Time) string {
	return t.UTC().Format(dueTimestampLayout)
}

// PurgeDueKey returns the key of a file's purge-due index entry.
func PurgeDueKey(space Space, fileID string, due time.Time) kv.Key {
	return kv.Key{
		Partition: PurgeDuePartition,
		Sort:      DueTimestamp(due) + partitionDelimiter + space.Partition() + partitionDelimiter + prefixFile + fileID,
	}
}

// PurgeDueUpperBound is the exclusive End of a query for entries due at or
// before now.
func PurgeDueUpperBound(now time.Time) string {
	return DueTimestamp(now.Add(time.Nanosecond))
}

// ParsePurgeDueSort extracts the space and file id from a purge-due sort key.
func ParsePurgeDueSort(sort string) (Space, string, error) {
	parts := strings.Split(sort, partitionDelimiter)
	if len(parts) != 4 || !strings.HasPrefix(parts[3], prefixFile) {
		return Space{}, "", NewInvalidArgumentError("malformed purge-due key %q", sort)
	}
	space := Space{TenantID: parts[1], SpaceID: parts[2]}
	return space, strings.TrimPrefix(parts[3], prefixFile), nil
}

// IDFromSort strips the entity prefix from a sort key ("L:abc" -> "abc").
func IDFromSort(sort string) string {
	if _, id, ok := strings.Cut(sort, keyDelimiter); ok {
		return id
	}
	return sort
}
