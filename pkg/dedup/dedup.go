// Package dedup answers "is this content already stored?" for media spaces
// from the media-hash index.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

// Index queries the media-hash index of a store.
type Index struct {
	store kv.Store
}

// New creates an Index over store.
func New(store kv.Store) *Index {
	return &Index{store: store}
}

// Eligible reports whether file belongs in the media-hash index.
func Eligible(file *metadata.FileNode) bool {
	return file.MediaIndexed()
}

// candidatePageSize is the number of index entries read per query.
const candidatePageSize = 25

// FindDuplicateCandidate returns the id of an ACTIVE file of space whose
// content hash is contentHash.
//
// Index entries for the hash are read page by page until one points at an
// ACTIVE file. Entries whose file is missing or no longer ACTIVE (the index
// lags a concurrent transition) are skipped.
func (x *Index) FindDuplicateCandidate(ctx context.Context, space metadata.Space, contentHash string) (string, bool, error) {
	if contentHash == "" {
		return "", false, nil
	}

	cursor := ""
	for {
		res, err := x.store.Query(ctx, kv.QueryInput{
			Partition: space.Partition(),
			Prefix:    metadata.MediaHashPrefix(contentHash),
			Cursor:    cursor,
			Limit:     candidatePageSize,
		})
		if err != nil {
			return "", false, fmt.Errorf("failed to query media hash %s: %w", contentHash, err)
		}

		for _, item := range res.Items {
			id, active, err := x.activeCandidate(ctx, space, contentHash, item)
			if err != nil || active {
				return id, active, err
			}
		}

		if res.NextCursor == "" {
			return "", false, nil
		}
		cursor = res.NextCursor
	}
}

func (x *Index) activeCandidate(ctx context.Context, space metadata.Space, contentHash string, item kv.Item) (string, bool, error) {
	entry, err := metadata.DecodeAs[*metadata.MediaHashEntry](item.Value)
	if err != nil {
		return "", false, err
	}

	raw, err := x.store.Get(ctx, metadata.FileKey(space, entry.FileID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			logger.Warn("dedup: media hash %s points at missing file %s", contentHash, entry.FileID)
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read candidate %s: %w", entry.FileID, err)
	}
	file, err := metadata.DecodeAs[*metadata.FileNode](raw)
	if err != nil {
		return "", false, err
	}
	if file.State() != metadata.StateActive {
		logger.Debug("dedup: candidate %s for %s is %s", file.ID, contentHash, file.State())
		return "", false, nil
	}
	return file.ID, true, nil
}
