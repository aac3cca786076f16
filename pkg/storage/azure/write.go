package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/moizpgedge/pgbackrest/pkg/storage"
)

// Upload query tokens and headers.
const (
	queryBlockID = "blockid"

	queryValueBlock     = "block"
	queryValueBlockList = "blocklist"

	headerBlobType     = "x-ms-blob-type"
	blobTypeBlockValue = "BlockBlob"
)

// blockList is the commit payload for a multi-block upload. Block order in
// the document is the order blocks appear in the final blob.
type blockList struct {
	XMLName     xml.Name `xml:"BlockList"`
	Uncommitted []string `xml:"Uncommitted"`
}

// writer uploads an object, buffering up to one block at a time.
//
// Writes that never exceed a single block are sent as one Put Blob on
// Close. Anything larger switches to the multi-block protocol: each full
// block is staged with Put Block, and Close commits the assembled list
// with Put Block List. Object tags are attached only by the final call, so
// an abandoned upload leaves no tagged object behind.
type writer struct {
	driver *Driver
	ctx    context.Context
	name   string
	path   string
	fileID uint64

	buf      bytes.Buffer
	blockIDs []string
	closed   bool
}

// Ensure writer implements io.WriteCloser.
var _ io.WriteCloser = (*writer)(nil)

// NewWrite opens an entry for writing. The object becomes visible only
// after Close returns nil.
func (d *Driver) NewWrite(ctx context.Context, name string) (io.WriteCloser, error) {
	return &writer{
		driver: d,
		ctx:    ctx,
		name:   name,
		path:   resourcePath(name),
		fileID: d.nextFileID(),
	}, nil
}

// Write buffers p, staging a block whenever a full block is available.
func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, &storage.DriverError{
			Op:        "PUT",
			Driver:    storage.DriverAzure,
			Container: w.driver.container,
			Key:       w.name,
			Err:       fmt.Errorf("write after close"),
		}
	}

	w.buf.Write(p)

	for int64(w.buf.Len()) >= w.driver.blockSize {
		if err := w.putBlock(); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

// putBlock stages one block of buffered content.
func (w *writer) putBlock() error {
	// The block id embeds the write's file id and the block ordinal, so
	// ids are unique across overlapping upload attempts and equal length
	// across the blob, which the protocol requires.
	id := base64.StdEncoding.EncodeToString(
		[]byte(fmt.Sprintf("%016x%07x", w.fileID, len(w.blockIDs))))

	size := w.driver.blockSize
	if int64(w.buf.Len()) < size {
		size = int64(w.buf.Len())
	}
	content := append([]byte(nil), w.buf.Next(int(size))...)

	query := url.Values{}
	query.Set(queryComp, queryValueBlock)
	query.Set(queryBlockID, id)

	_, err := w.driver.request(
		w.ctx, http.MethodPut, requestParams{path: w.path, query: query, content: content},
		responseParams{})
	if err != nil {
		return err
	}

	w.blockIDs = append(w.blockIDs, id)

	return nil
}

// Close flushes remaining content and makes the object visible.
func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	// Small object: a single Put Blob carries the whole payload.
	if len(w.blockIDs) == 0 {
		header := http.Header{}
		header.Set(headerBlobType, blobTypeBlockValue)

		content := append([]byte(nil), w.buf.Bytes()...)
		w.buf.Reset()

		_, err := w.driver.request(
			w.ctx, http.MethodPut,
			requestParams{path: w.path, header: header, content: content, tag: true},
			responseParams{})
		return err
	}

	// Stage the final partial block, then commit the list.
	if w.buf.Len() > 0 {
		if err := w.putBlock(); err != nil {
			return err
		}
	}

	manifest, err := xml.Marshal(blockList{Uncommitted: w.blockIDs})
	if err != nil {
		return &storage.DriverError{
			Op:        "PUT",
			Driver:    storage.DriverAzure,
			Container: w.driver.container,
			Key:       w.name,
			Err:       err,
		}
	}

	query := url.Values{}
	query.Set(queryComp, queryValueBlockList)

	content := append([]byte(xml.Header), manifest...)

	_, err = w.driver.request(
		w.ctx, http.MethodPut,
		requestParams{path: w.path, query: query, content: content, tag: true},
		responseParams{})
	return err
}
