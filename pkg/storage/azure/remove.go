package azure

import (
	"context"
	"net/http"

	"github.com/moizpgedge/pgbackrest/pkg/storage"
)

// PathRemove deletes every file under path.
//
// The walk pipelines deletion: while the listing engine processes entries
// (and fetches further pages), exactly one delete request is in flight.
// Each visited file first awaits the previous delete, then issues its own.
// Paths have no independent existence in the blob model, so only files are
// deleted, and a file already removed by a concurrent actor is tolerated.
func (d *Driver) PathRemove(ctx context.Context, path string) error {
	base := listPath(path)
	if base == "/" {
		base = ""
	}

	var pending *request
	defer func() { pending.release() }()

	err := d.listInternal(ctx, listPath(path), storage.InfoLevelType, "", true,
		func(info storage.Info) error {
			if pending != nil {
				if _, err := d.response(pending, responseParams{allowMissing: true}); err != nil {
					pending = nil
					return err
				}
				pending = nil
			}

			if info.Type != storage.TypeFile {
				return nil
			}

			next, err := d.requestAsync(ctx, http.MethodDelete, requestParams{path: base + "/" + info.Name})
			if err != nil {
				return err
			}
			pending = next

			return nil
		})
	if err != nil {
		return err
	}

	// Settle the delete issued for the final entry.
	if pending != nil {
		if _, err := d.response(pending, responseParams{allowMissing: true}); err != nil {
			pending = nil
			return err
		}
		pending = nil
	}

	return nil
}
