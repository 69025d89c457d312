package directory

import (
	"context"
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/kv"
	"github.com/marmos91/dittodrive/pkg/metadata"
)

// Listing is one page of a folder's children. Folders come before files;
// within a kind, children are ordered by normalized name.
type Listing struct {
	Folders    []*metadata.FolderNode
	Files      []*metadata.FileNode
	NextCursor string
}

// ListChildren returns one page of the children of folderID.
//
// Entries whose file is missing or not ACTIVE are skipped and logged; the
// page may therefore hold fewer than limit children while NextCursor is set.
func (r *Repository) ListChildren(ctx context.Context, space metadata.Space, folderID, cursor string, limit int) (*Listing, error) {
	if _, err := r.GetFolder(ctx, space, folderID); err != nil {
		return nil, err
	}

	res, err := r.store.Query(ctx, kv.QueryInput{
		Partition: space.Partition(),
		Prefix:    metadata.EntryPrefix(folderID),
		Cursor:    cursor,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list folder %s: %w", folderID, err)
	}

	listing := &Listing{NextCursor: res.NextCursor}
	for _, item := range res.Items {
		entry, err := metadata.DecodeAs[*metadata.DirectoryEntry](item.Value)
		if err != nil {
			return nil, err
		}

		switch entry.Kind {
		case metadata.EntryFolder:
			folder, err := r.GetFolder(ctx, space, entry.ChildID)
			if err != nil {
				if metadata.IsNotFound(err) {
					logger.Warn("directory: entry %s points at missing folder %s", item.Key.Sort, entry.ChildID)
					continue
				}
				return nil, err
			}
			listing.Folders = append(listing.Folders, folder)

		case metadata.EntryFile:
			file, err := r.GetFile(ctx, space, entry.ChildID)
			if err != nil {
				if metadata.IsNotFound(err) {
					logger.Warn("directory: entry %s points at missing file %s", item.Key.Sort, entry.ChildID)
					continue
				}
				return nil, err
			}
			if file.State() != metadata.StateActive {
				logger.Warn("directory: entry %s points at %s file %s", item.Key.Sort, file.State(), file.ID)
				continue
			}
			listing.Files = append(listing.Files, file)
		}
	}
	return listing, nil
}
