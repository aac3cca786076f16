package azure

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moizpgedge/pgbackrest/pkg/storage"
)

// recordedRequest captures what the fake blob service saw.
type recordedRequest struct {
	method string
	path   string
	query  map[string]string
	header http.Header
	body   []byte
}

// blobServer is a minimal fake blob endpoint. It records every request and
// asserts that each pipeline keeps at most one request in flight: listing
// and deletion may overlap each other, but neither may overlap itself.
type blobServer struct {
	t *testing.T

	mu       sync.Mutex
	requests []recordedRequest
	inflight map[string]int

	handle func(w http.ResponseWriter, r *recordedRequest)
}

func newBlobServer(t *testing.T, handle func(w http.ResponseWriter, r *recordedRequest)) (*blobServer, *httptest.Server) {
	t.Helper()

	s := &blobServer{t: t, handle: handle, inflight: map[string]int{}}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.inflight[r.Method]++
		if s.inflight[r.Method] > 1 {
			s.mu.Unlock()
			s.t.Errorf("more than one %s request in flight", r.Method)
			return
		}
		s.mu.Unlock()

		// Give an accidental second request a chance to overlap.
		time.Sleep(5 * time.Millisecond)

		body, _ := io.ReadAll(r.Body)

		query := map[string]string{}
		for key := range r.URL.Query() {
			query[key] = r.URL.Query().Get(key)
		}

		rec := recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  query,
			header: r.Header.Clone(),
			body:   body,
		}

		assert.Contains(s.t, r.Header.Get("Authorization"), "SharedKey account:")

		s.mu.Lock()
		s.requests = append(s.requests, rec)
		s.mu.Unlock()

		s.handle(w, &rec)

		s.mu.Lock()
		s.inflight[r.Method]--
		s.mu.Unlock()
	}))
	t.Cleanup(server.Close)

	return s, server
}

func (s *blobServer) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

// count returns how many recorded requests satisfy keep.
func (s *blobServer) count(keep func(recordedRequest) bool) int {
	n := 0
	for _, rec := range s.recorded() {
		if keep(rec) {
			n++
		}
	}
	return n
}

func newTestDriver(t *testing.T, serverURL string, mutate ...func(*Config)) *Driver {
	t.Helper()

	cfg := Config{
		Account:   "account",
		Container: "container",
		Key:       base64.StdEncoding.EncodeToString([]byte("0123456789abcdef")),
		Endpoint:  serverURL,
		URIStyle:  URIStylePath,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	d, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

const lastModified = "Mon, 02 Jan 2006 15:04:05 GMT"

func enumeration(prefixes []string, blobs map[string]int64, nextMarker string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?><EnumerationResults><Blobs>`)
	for _, prefix := range prefixes {
		fmt.Fprintf(&b, "<BlobPrefix><Name>%s</Name></BlobPrefix>", prefix)
	}
	for name, size := range blobs {
		fmt.Fprintf(&b,
			"<Blob><Name>%s</Name><Properties><Content-Length>%d</Content-Length>"+
				"<Last-Modified>%s</Last-Modified></Properties></Blob>",
			name, size, lastModified)
	}
	b.WriteString("</Blobs><NextMarker>")
	b.WriteString(nextMarker)
	b.WriteString("</NextMarker></EnumerationResults>")
	return b.String()
}

func TestDriver_Info(t *testing.T) {
	server, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		require.Equal(t, http.MethodHead, r.method)

		switch r.path {
		case "/account/container/backup/backup.info":
			w.Header().Set("Content-Length", "1234")
			w.Header().Set("Last-Modified", lastModified)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	d := newTestDriver(t, ts.URL)

	info, err := d.Info(context.Background(), "backup/backup.info", storage.InfoLevelBasic)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, int64(1234), info.Size)
	assert.Equal(t, lastModified, info.ModTime.Format(http.TimeFormat))

	missing, err := d.Info(context.Background(), "backup/missing", storage.InfoLevelBasic)
	require.NoError(t, err)
	assert.False(t, missing.Exists)
	assert.Zero(t, missing.Size)

	require.Len(t, server.recorded(), 2)
}

func TestDriver_List_RootNonRecursive(t *testing.T) {
	server, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		_, _ = io.WriteString(w, enumeration(
			[]string{"archive/", "backup/"},
			map[string]int64{"lock.txt": 7},
			""))
	})

	d := newTestDriver(t, ts.URL)

	entries, err := d.List(context.Background(), "/", storage.ListOptions{Level: storage.InfoLevelBasic})
	require.NoError(t, err)

	require.Len(t, entries, 3)
	assert.Equal(t, "archive", entries[0].Name)
	assert.Equal(t, storage.TypePath, entries[0].Type)
	assert.Equal(t, "backup", entries[1].Name)
	assert.Equal(t, storage.TypePath, entries[1].Type)
	assert.Equal(t, "lock.txt", entries[2].Name)
	assert.Equal(t, storage.TypeFile, entries[2].Type)
	assert.Equal(t, int64(7), entries[2].Size)
	assert.Equal(t, lastModified, entries[2].ModTime.Format(http.TimeFormat))

	recorded := server.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, "/account/container", recorded[0].path)
	assert.Equal(t, "container", recorded[0].query[queryRestype])
	assert.Equal(t, "list", recorded[0].query[queryComp])
	assert.Equal(t, "/", recorded[0].query[queryDelimiter])

	// The root listing sends no prefix and no marker.
	assert.NotContains(t, recorded[0].query, queryPrefix)
	assert.NotContains(t, recorded[0].query, queryMarker)
}

func TestDriver_List_SubpathRecursive(t *testing.T) {
	server, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		_, _ = io.WriteString(w, enumeration(
			nil,
			map[string]int64{"backup/main/backup.info": 10},
			""))
	})

	d := newTestDriver(t, ts.URL)

	entries, err := d.List(context.Background(), "backup", storage.ListOptions{
		Level:   storage.InfoLevelType,
		Recurse: true,
	})
	require.NoError(t, err)

	require.Len(t, entries, 1)
	assert.Equal(t, "main/backup.info", entries[0].Name)
	assert.Equal(t, storage.TypeFile, entries[0].Type)

	recorded := server.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, "backup/", recorded[0].query[queryPrefix])
	assert.NotContains(t, recorded[0].query, queryDelimiter)
}

func TestDriver_List_ExpressionNarrowsPrefix(t *testing.T) {
	server, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		_, _ = io.WriteString(w, enumeration(
			nil,
			map[string]int64{"backup/20240601-120000F/manifest": 3},
			""))
	})

	d := newTestDriver(t, ts.URL)

	_, err := d.List(context.Background(), "backup", storage.ListOptions{
		Level:      storage.InfoLevelType,
		Expression: "20240601-120000F/**",
		Recurse:    true,
	})
	require.NoError(t, err)

	recorded := server.recorded()
	require.Len(t, recorded, 1)

	// The literal head of the expression extends the path prefix.
	assert.Equal(t, "backup/20240601-120000F/", recorded[0].query[queryPrefix])
}

func TestDriver_List_Pagination(t *testing.T) {
	server, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		switch r.query[queryMarker] {
		case "":
			_, _ = io.WriteString(w, enumeration(nil, map[string]int64{"a": 1}, "marker-1"))
		case "marker-1":
			_, _ = io.WriteString(w, enumeration(nil, map[string]int64{"b": 2}, "marker-2"))
		case "marker-2":
			_, _ = io.WriteString(w, enumeration(nil, map[string]int64{"c": 3}, ""))
		default:
			t.Errorf("unexpected marker %q", r.query[queryMarker])
		}
	})

	d := newTestDriver(t, ts.URL)

	var names []string
	err := d.Walk(context.Background(), "/", storage.ListOptions{
		Level:   storage.InfoLevelType,
		Recurse: true,
	}, func(info storage.Info) error {
		names = append(names, info.Name)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, names)

	recorded := server.recorded()
	require.Len(t, recorded, 3)
	assert.Equal(t, "marker-1", recorded[1].query[queryMarker])
	assert.Equal(t, "marker-2", recorded[2].query[queryMarker])
}

func TestDriver_List_AbandonsPendingPageOnVisitorError(t *testing.T) {
	_, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		if r.query[queryMarker] == "" {
			_, _ = io.WriteString(w, enumeration(nil, map[string]int64{"a": 1}, "marker-1"))
			return
		}
		_, _ = io.WriteString(w, enumeration(nil, map[string]int64{"b": 2}, ""))
	})

	d := newTestDriver(t, ts.URL)

	wantErr := fmt.Errorf("stop here")
	err := d.Walk(context.Background(), "/", storage.ListOptions{
		Level:   storage.InfoLevelType,
		Recurse: true,
	}, func(info storage.Info) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestDriver_List_MalformedPage(t *testing.T) {
	_, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		_, _ = io.WriteString(w, "this is not xml")
	})

	d := newTestDriver(t, ts.URL)

	_, err := d.List(context.Background(), "/", storage.ListOptions{Level: storage.InfoLevelType})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrProtocol)
}

func TestDriver_List_EntryOutsidePrefix(t *testing.T) {
	_, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		_, _ = io.WriteString(w, enumeration(nil, map[string]int64{"elsewhere/file": 1}, ""))
	})

	d := newTestDriver(t, ts.URL)

	_, err := d.List(context.Background(), "backup", storage.ListOptions{
		Level:   storage.InfoLevelType,
		Recurse: true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrProtocol)
	assert.Contains(t, err.Error(), "does not extend listing prefix")
}

func TestDriver_List_ErrorStatus(t *testing.T) {
	_, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		w.WriteHeader(http.StatusForbidden)
	})

	d := newTestDriver(t, ts.URL)

	_, err := d.List(context.Background(), "/", storage.ListOptions{Level: storage.InfoLevelType})
	require.Error(t, err)
	assert.True(t, storage.IsAccessDenied(err))
}

func TestDriver_Remove(t *testing.T) {
	server, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		require.Equal(t, http.MethodDelete, r.method)

		if r.path == "/account/container/backup/gone" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	d := newTestDriver(t, ts.URL)

	require.NoError(t, d.Remove(context.Background(), "backup/file"))

	// Removing an entry that is already gone is not an error.
	require.NoError(t, d.Remove(context.Background(), "backup/gone"))

	require.Len(t, server.recorded(), 2)
}

func TestDriver_PathRemove(t *testing.T) {
	server, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		switch r.method {
		case http.MethodGet:
			if r.query[queryMarker] == "" {
				_, _ = io.WriteString(w, enumeration(
					nil, map[string]int64{"backup/f1": 1}, "marker-1"))
				return
			}
			_, _ = io.WriteString(w, enumeration(
				nil, map[string]int64{"backup/f2": 2, "backup/f3": 3}, ""))

		case http.MethodDelete:
			// One file vanished between listing and deletion.
			if r.path == "/account/container/backup/f2" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusAccepted)

		default:
			t.Errorf("unexpected method %s", r.method)
		}
	})

	d := newTestDriver(t, ts.URL)

	require.NoError(t, d.PathRemove(context.Background(), "backup"))

	deletes := map[string]bool{}
	for _, rec := range server.recorded() {
		if rec.method == http.MethodDelete {
			deletes[rec.path] = true
		}
	}

	assert.Equal(t, map[string]bool{
		"/account/container/backup/f1": true,
		"/account/container/backup/f2": true,
		"/account/container/backup/f3": true,
	}, deletes)

	// Two listing pages plus three deletes.
	assert.Len(t, server.recorded(), 5)
}

func TestDriver_PathRemove_SkipsPrefixes(t *testing.T) {
	deleted := 0
	server, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		if r.method == http.MethodGet {
			// A recursive listing normally has no prefixes, but a server
			// that returns one anyway must not trigger a delete for it.
			_, _ = io.WriteString(w, enumeration(
				[]string{"backup/sub/"}, map[string]int64{"backup/f1": 1}, ""))
			return
		}
		deleted++
		w.WriteHeader(http.StatusAccepted)
	})

	d := newTestDriver(t, ts.URL)

	require.NoError(t, d.PathRemove(context.Background(), "backup"))
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 1, server.count(func(r recordedRequest) bool {
		return r.method == http.MethodDelete
	}))
}

func TestDriver_NewRead(t *testing.T) {
	content := "backup manifest content"

	server, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		require.Equal(t, http.MethodGet, r.method)
		require.Equal(t, "/account/container/backup/manifest", r.path)

		switch r.header.Get("Range") {
		case "":
			_, _ = io.WriteString(w, content)
		case "bytes=7-15":
			w.WriteHeader(http.StatusPartialContent)
			_, _ = io.WriteString(w, content[7:16])
		case "bytes=7-":
			w.WriteHeader(http.StatusPartialContent)
			_, _ = io.WriteString(w, content[7:])
		default:
			t.Errorf("unexpected range %q", r.header.Get("Range"))
		}
	})

	d := newTestDriver(t, ts.URL)

	read := func(opts storage.ReadOptions) string {
		reader, err := d.NewRead(context.Background(), "backup/manifest", opts)
		require.NoError(t, err)
		defer func() { _ = reader.Close() }()

		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		return string(data)
	}

	assert.Equal(t, content, read(storage.ReadOptions{}))
	assert.Equal(t, content[7:16], read(storage.ReadOptions{Offset: 7, Limit: 9}))
	assert.Equal(t, content[7:], read(storage.ReadOptions{Offset: 7}))

	require.Len(t, server.recorded(), 3)
}

func TestDriver_NewRead_Missing(t *testing.T) {
	_, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		w.WriteHeader(http.StatusNotFound)
	})

	d := newTestDriver(t, ts.URL)

	_, err := d.NewRead(context.Background(), "backup/missing", storage.ReadOptions{})
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))
}

func TestDriver_Write_SingleBlob(t *testing.T) {
	server, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		w.WriteHeader(http.StatusCreated)
	})

	d := newTestDriver(t, ts.URL, func(cfg *Config) {
		cfg.Tags = map[string]string{"retention": "30d"}
	})

	writer, err := d.NewWrite(context.Background(), "backup/small")
	require.NoError(t, err)

	_, err = writer.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = writer.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	recorded := server.recorded()
	require.Len(t, recorded, 1)

	put := recorded[0]
	assert.Equal(t, http.MethodPut, put.method)
	assert.Equal(t, "/account/container/backup/small", put.path)
	assert.Equal(t, "hello world", string(put.body))
	assert.Equal(t, blobTypeBlockValue, put.header.Get(headerBlobType))
	assert.Equal(t, "retention=30d", put.header.Get(headerTags))
	assert.NotEmpty(t, put.header.Get("Content-MD5"))
	assert.Empty(t, put.query[queryComp])

	// Close is idempotent; a second close sends nothing.
	require.NoError(t, writer.Close())
	require.Len(t, server.recorded(), 1)
}

func TestDriver_Write_MultiBlock(t *testing.T) {
	server, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		w.WriteHeader(http.StatusCreated)
	})

	d := newTestDriver(t, ts.URL, func(cfg *Config) {
		cfg.BlockSize = 8
		cfg.Tags = map[string]string{"retention": "30d"}
	})

	writer, err := d.NewWrite(context.Background(), "backup/large")
	require.NoError(t, err)

	_, err = writer.Write([]byte("01234567abcdefgh"))
	require.NoError(t, err)
	_, err = writer.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	recorded := server.recorded()
	require.Len(t, recorded, 4)

	// Three staged blocks: two full, one partial flushed by Close.
	var ids []string
	for i, want := range []string{"01234567", "abcdefgh", "tail"} {
		block := recorded[i]
		assert.Equal(t, http.MethodPut, block.method)
		assert.Equal(t, "/account/container/backup/large", block.path)
		assert.Equal(t, queryValueBlock, block.query[queryComp])
		assert.Equal(t, want, string(block.body))

		// Block ids are equal-length base64 and carry the block ordinal.
		id := block.query[queryBlockID]
		decoded, err := base64.StdEncoding.DecodeString(id)
		require.NoError(t, err)
		require.Len(t, decoded, 23)
		assert.Equal(t, fmt.Sprintf("%07x", i), string(decoded[16:]))

		// Blocks are staged without tags.
		assert.Empty(t, block.header.Get(headerTags))

		ids = append(ids, id)
	}

	// The commit lists every block in write order and attaches the tags.
	commit := recorded[3]
	assert.Equal(t, queryValueBlockList, commit.query[queryComp])
	assert.Equal(t, "retention=30d", commit.header.Get(headerTags))

	manifest := string(commit.body)
	assert.Contains(t, manifest, "<BlockList>")
	last := -1
	for _, id := range ids {
		idx := strings.Index(manifest, "<Uncommitted>"+id+"</Uncommitted>")
		require.GreaterOrEqual(t, idx, 0, "block %s missing from commit", id)
		assert.Greater(t, idx, last, "blocks committed out of order")
		last = idx
	}
}

func TestDriver_Write_AfterClose(t *testing.T) {
	_, ts := newBlobServer(t, func(w http.ResponseWriter, r *recordedRequest) {
		w.WriteHeader(http.StatusCreated)
	})

	d := newTestDriver(t, ts.URL)

	writer, err := d.NewWrite(context.Background(), "backup/file")
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	_, err = writer.Write([]byte("late"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write after close")
}
