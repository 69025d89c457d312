package metadata

import (
	"bytes"

	"github.com/marmos91/dittodrive/pkg/kv"
)

// FileMatches is a store condition holding when the stored FileNode decodes
// and satisfies pred.
func FileMatches(name string, pred func(*FileNode) bool) *kv.Condition {
	return kv.IfMatch(name, func(current []byte) bool {
		f, err := DecodeAs[*FileNode](current)
		if err != nil {
			return false
		}
		return pred(f)
	})
}

// FileInState holds when the stored file is in state.
func FileInState(state FileState) *kv.Condition {
	return FileMatches("file_state_"+state.String(), func(f *FileNode) bool {
		return f.State() == state
	})
}

// Unchanged holds when the stored value is byte-identical to raw, i.e. no
// writer committed since raw was read.
func Unchanged(raw []byte) *kv.Condition {
	return kv.IfMatch("unchanged_since_read", func(current []byte) bool {
		return bytes.Equal(current, raw)
	})
}

// EntryPointsTo holds when the stored directory entry references childID.
func EntryPointsTo(childID string) *kv.Condition {
	return kv.IfMatch("entry_child_"+childID, func(current []byte) bool {
		e, err := DecodeAs[*DirectoryEntry](current)
		return err == nil && e.ChildID == childID
	})
}

// EntryFreeOrPointsTo holds when no entry exists or it already references childID.
func EntryFreeOrPointsTo(childID string) *kv.Condition {
	return kv.IfAbsentOr("entry_free_or_child_"+childID, func(current []byte) bool {
		e, err := DecodeAs[*DirectoryEntry](current)
		return err == nil && e.ChildID == childID
	})
}
