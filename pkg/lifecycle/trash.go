package lifecycle

import (
	"context"
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

// maxTrashScanPages bounds how many index pages one ListTrash call reads
// while filtering other spaces out.
const maxTrashScanPages = 20

// TrashPage is one page of a space's trash, soonest purge first.
type TrashPage struct {
	Items      []*metadata.PurgeDueEntry
	NextCursor string
}

// ListTrash lists the trashed files of space from the purge-due index.
//
// The index is shared by all spaces, so a page may come back short with a
// NextCursor when the scan budget ran out before limit items matched.
func (m *Manager) ListTrash(ctx context.Context, space metadata.Space, cursor string, limit int) (*TrashPage, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = kv.DefaultQueryLimit
	}

	page := &TrashPage{}
	for pages := 0; pages < maxTrashScanPages; pages++ {
		res, err := m.store.Query(ctx, kv.QueryInput{
			Partition: metadata.PurgeDuePartition,
			Cursor:    cursor,
			Limit:     limit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan purge-due index: %w", err)
		}

		for _, item := range res.Items {
			itemSpace, _, err := metadata.ParsePurgeDueSort(item.Key.Sort)
			if err != nil {
				logger.Warn("lifecycle: skipping malformed purge-due key %q", item.Key.Sort)
				continue
			}
			if itemSpace.Partition() != space.Partition() {
				continue
			}
			entry, err := metadata.DecodeAs[*metadata.PurgeDueEntry](item.Value)
			if err != nil {
				return nil, err
			}
			page.Items = append(page.Items, entry)
			if len(page.Items) == limit {
				page.NextCursor = kv.EncodeCursor(item.Key.Sort)
				return page, nil
			}
		}

		if res.NextCursor == "" {
			return page, nil
		}
		cursor = res.NextCursor
	}
	page.NextCursor = cursor
	return page, nil
}
