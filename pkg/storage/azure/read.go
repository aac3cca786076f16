package azure

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/moizpgedge/pgbackrest/pkg/storage"
)

// NewRead opens an entry for reading, streaming the response body rather
// than buffering it. Offset and limit map onto a Range header so only the
// requested window crosses the network.
func (d *Driver) NewRead(ctx context.Context, name string, opts storage.ReadOptions) (io.ReadCloser, error) {
	var header http.Header

	if opts.Offset > 0 || opts.Limit > 0 {
		header = http.Header{}

		if opts.Limit > 0 {
			header.Set("Range", fmt.Sprintf("bytes=%d-%d", opts.Offset, opts.Offset+opts.Limit-1))
		} else {
			header.Set("Range", fmt.Sprintf("bytes=%d-", opts.Offset))
		}
	}

	resp, err := d.request(
		ctx, http.MethodGet, requestParams{path: resourcePath(name), header: header},
		responseParams{contentIO: true})
	if err != nil {
		return nil, err
	}

	return resp.reader, nil
}
