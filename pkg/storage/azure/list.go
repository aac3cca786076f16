package azure

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/moizpgedge/pgbackrest/pkg/match"
	"github.com/moizpgedge/pgbackrest/pkg/storage"
)

// Listing query tokens.
const (
	queryComp      = "comp"
	queryDelimiter = "delimiter"
	queryMarker    = "marker"
	queryPrefix    = "prefix"
	queryRestype   = "restype"

	queryValueContainer = "container"
	queryValueList      = "list"
)

// listPage is one page of a container listing. The delimiter turns shared
// key prefixes into BlobPrefix entries instead of descending into them; a
// non-empty NextMarker means more pages follow.
type listPage struct {
	XMLName    xml.Name     `xml:"EnumerationResults"`
	Prefixes   []listPrefix `xml:"Blobs>BlobPrefix"`
	Blobs      []listBlob   `xml:"Blobs>Blob"`
	NextMarker string       `xml:"NextMarker"`
}

type listPrefix struct {
	Name string `xml:"Name"`
}

type listBlob struct {
	Name       string             `xml:"Name"`
	Properties listBlobProperties `xml:"Properties"`
}

type listBlobProperties struct {
	ContentLength int64  `xml:"Content-Length"`
	LastModified  string `xml:"Last-Modified"`
}

// listInternal enumerates entries under path and invokes visit once per
// entry, in server order: prefixes before blobs within a page, pages in
// continuation order.
//
// While a page is being processed, the next page's request is already in
// flight, so the round trip for page N+1 is hidden behind local processing
// of page N. At most one request is ever outstanding.
func (d *Driver) listInternal(
	ctx context.Context, path string, level storage.InfoLevel, expression string, recurse bool,
	visit storage.InfoVisitor,
) error {
	// Base prefix: empty for the root, otherwise the path without its
	// leading separator and with a trailing one.
	basePrefix := ""
	if path != "/" {
		basePrefix = strings.TrimPrefix(path, "/") + "/"
	}

	// A literal prefix extracted from the expression narrows the query.
	// This is only an optimization; exact matching stays with the caller.
	queryPfx := basePrefix + match.DerivePrefix(expression)

	query := url.Values{}

	// Without the delimiter the server descends into every key; with it,
	// shared prefixes come back as path-like groupings.
	if !recurse {
		query.Set(queryDelimiter, "/")
	}

	query.Set(queryRestype, queryValueContainer)
	query.Set(queryComp, queryValueList)

	// Empty prefix is the server default, so don't send it.
	if queryPfx != "" {
		query.Set(queryPrefix, queryPfx)
	}

	var pending *request
	defer func() { pending.release() }()

	for {
		var resp *response
		var err error

		// Await the page requested on the previous iteration, or fetch
		// the first page synchronously.
		if pending != nil {
			resp, err = d.response(pending, responseParams{})
			pending = nil
		} else {
			resp, err = d.request(ctx, http.MethodGet, requestParams{query: query}, responseParams{})
		}
		if err != nil {
			return err
		}

		var page listPage
		if err := xml.Unmarshal(resp.body, &page); err != nil {
			return d.protocolError("List", path, fmt.Errorf("decode listing: %v", err))
		}

		// Request the next page before processing this one.
		if page.NextMarker != "" {
			query.Set(queryMarker, page.NextMarker)

			pending, err = d.requestAsync(ctx, http.MethodGet, requestParams{query: query})
			if err != nil {
				return err
			}
		}

		for _, prefix := range page.Prefixes {
			name, err := d.stripPrefix(path, prefix.Name, basePrefix, true)
			if err != nil {
				return err
			}

			info := storage.Info{Name: name, Exists: true}
			if level >= storage.InfoLevelType {
				info.Type = storage.TypePath
			}

			if err := visit(info); err != nil {
				return err
			}
		}

		for _, blob := range page.Blobs {
			name, err := d.stripPrefix(path, blob.Name, basePrefix, false)
			if err != nil {
				return err
			}

			info := storage.Info{Name: name, Exists: true, Type: storage.TypeFile}

			if level >= storage.InfoLevelBasic {
				info.Size = blob.Properties.ContentLength

				modified, err := http.ParseTime(blob.Properties.LastModified)
				if err != nil {
					return d.protocolError("List", path,
						fmt.Errorf("entry %q: parse last-modified %q: %v", blob.Name, blob.Properties.LastModified, err))
				}
				info.ModTime = modified
			}

			if err := visit(info); err != nil {
				return err
			}
		}

		if pending == nil {
			return nil
		}
	}
}

// stripPrefix converts a raw entry name into a path-relative name. Prefix
// entries additionally lose their trailing separator. An entry that does
// not extend the base prefix is a defect in the server response.
func (d *Driver) stripPrefix(path, name, basePrefix string, isPrefix bool) (string, error) {
	relative, found := strings.CutPrefix(name, basePrefix)
	if isPrefix {
		relative = strings.TrimSuffix(relative, "/")
	}

	if !found || relative == "" {
		return "", d.protocolError("List", path,
			fmt.Errorf("entry %q does not extend listing prefix %q", name, basePrefix))
	}

	return relative, nil
}

func (d *Driver) protocolError(op, path string, err error) error {
	return &storage.DriverError{
		Op:        op,
		Driver:    storage.DriverAzure,
		Container: d.container,
		Key:       path,
		Err:       fmt.Errorf("%w: %v", storage.ErrProtocol, err),
	}
}
