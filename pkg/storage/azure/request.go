package azure

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // Content-MD5 is part of the blob protocol
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/moizpgedge/pgbackrest/pkg/storage"
)

// headerTags carries the rendered object tag set on tagged writes.
const headerTags = "x-ms-tags"

// request is an issued-but-not-yet-awaited HTTP exchange.
//
// The exchange runs in its own goroutine and delivers exactly one result
// into a single-slot channel. Ownership of the handle transfers to whoever
// awaits it; a handle must always be awaited or released, on every exit
// path, or the underlying connection leaks.
type request struct {
	verb string
	path string

	done    chan requestResult
	settled bool
}

type requestResult struct {
	resp *http.Response
	err  error
}

// release discards an unawaited request, draining its result and closing
// the response body. Safe to call after the request has been awaited.
func (r *request) release() {
	if r == nil || r.settled {
		return
	}
	r.settled = true

	result := <-r.done
	if result.resp != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(result.resp.Body, 1<<20))
		_ = result.resp.Body.Close()
	}
}

// requestParams configures a single blob request.
type requestParams struct {
	// path is the container-relative resource path, starting with /.
	// Empty addresses the container itself.
	path string

	// header is an optional base header set. Never mutated.
	header http.Header

	// query is an optional query set. Never mutated.
	query url.Values

	// content is the request body. nil means no body.
	content []byte

	// tag attaches the configured object tags, when any are configured.
	tag bool
}

// responseParams configures how a response is awaited.
type responseParams struct {
	// allowMissing reports a 404 as a normal response instead of an error.
	allowMissing bool

	// contentIO leaves the body as a stream for the caller instead of
	// buffering it. The caller owns closing Reader.
	contentIO bool
}

// response is a completed, validated exchange.
type response struct {
	status int
	header http.Header

	// body is the buffered content, unless the response was awaited with
	// contentIO, in which case Reader streams it instead.
	body   []byte
	reader io.ReadCloser
}

// ok reports whether the response carries a success status.
func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// requestAsync builds, signs, and dispatches a request without awaiting the
// response, so the caller can overlap the round trip with other work.
func (d *Driver) requestAsync(ctx context.Context, verb string, params requestParams) (*request, error) {
	// Resolve the effective path under the account/container prefix.
	path := d.pathPrefix
	if params.path != "" {
		path = d.pathPrefix + params.path
	}

	header := make(http.Header, len(params.header)+4)
	for name, values := range params.header {
		header[name] = values
	}

	// Content-Length is always present; the shared-key canonical string
	// depends on it.
	header.Set("Content-Length", strconv.Itoa(len(params.content)))

	if params.content != nil {
		digest := md5.Sum(params.content) //nolint:gosec
		header.Set("Content-MD5", base64.StdEncoding.EncodeToString(digest[:]))
	}

	if params.tag && d.tag != "" {
		header.Set(headerTags, d.tag)
	}

	header.Set("Host", d.host)

	encodedPath := encodePath(path)

	// Duplicate the query so the caller's copy is never mutated. When no
	// query was supplied and a SAS credential is active, a fresh query is
	// still needed for the credential merge.
	var query url.Values
	if params.query != nil {
		query = make(url.Values, len(params.query)+1)
		for key, values := range params.query {
			query[key] = values
		}
	} else if d.sas {
		query = url.Values{}
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	date := time.Now().UTC().Format(http.TimeFormat)
	if err := d.auth.sign(verb, encodedPath, query, date, header); err != nil {
		return nil, err
	}

	target := d.scheme + "://" + d.host + encodedPath
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if params.content != nil {
		body = bytes.NewReader(params.content)
	}

	req, err := http.NewRequestWithContext(ctx, verb, target, body)
	if err != nil {
		return nil, &storage.DriverError{
			Op:        verb,
			Driver:    storage.DriverAzure,
			Container: d.container,
			Key:       path,
			Err:       err,
		}
	}
	req.Header = header

	if d.log != nil {
		d.log.Debug("dispatching request",
			zap.String("verb", verb),
			zap.String("path", path),
			zap.String("query", redactQuery(query)),
			zap.Any("header", redactHeader(header)),
			zap.Int("contentLength", len(params.content)))
	}

	handle := &request{verb: verb, path: path, done: make(chan requestResult, 1)}

	go func() {
		resp, err := d.client.Do(req)
		handle.done <- requestResult{resp: resp, err: err}
	}()

	return handle, nil
}

// response awaits a previously issued request and validates its status.
//
// A non-success status is an error unless allowMissing was set and the
// status is 404, in which case the 404 response is returned for the caller
// to interpret as a normal negative outcome.
func (d *Driver) response(r *request, params responseParams) (*response, error) {
	r.settled = true
	result := <-r.done

	if result.err != nil {
		return nil, &storage.DriverError{
			Op:        r.verb,
			Driver:    storage.DriverAzure,
			Container: d.container,
			Key:       r.path,
			Err:       result.err,
		}
	}

	resp := result.resp
	status := resp.StatusCode

	if status < 200 || status >= 300 {
		if params.allowMissing && status == http.StatusNotFound {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
			_ = resp.Body.Close()
			return &response{status: status, header: resp.Header}, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, d.statusError(r.verb, r.path, status, body)
	}

	out := &response{status: status, header: resp.Header}

	if params.contentIO {
		out.reader = resp.Body
		return out, nil
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, &storage.DriverError{
			Op:        r.verb,
			Driver:    storage.DriverAzure,
			Container: d.container,
			Key:       r.path,
			Err:       err,
		}
	}
	out.body = body

	return out, nil
}

// request issues and awaits in one call, for the common case where no
// overlap is needed.
func (d *Driver) request(ctx context.Context, verb string, params requestParams, respParams responseParams) (*response, error) {
	handle, err := d.requestAsync(ctx, verb, params)
	if err != nil {
		return nil, err
	}
	return d.response(handle, respParams)
}

// statusError maps a non-success HTTP status to a driver error carrying the
// matching sentinel.
func (d *Driver) statusError(verb, path string, status int, body []byte) error {
	var err error

	switch status {
	case http.StatusNotFound:
		err = fmt.Errorf("%w (status %d)", storage.ErrNotFound, status)
	case http.StatusForbidden, http.StatusUnauthorized:
		err = fmt.Errorf("%w (status %d)", storage.ErrAccessDenied, status)
	case http.StatusTooManyRequests:
		err = fmt.Errorf("%w (status %d)", storage.ErrThrottled, status)
	case http.StatusServiceUnavailable, http.StatusInternalServerError:
		err = fmt.Errorf("%w (status %d)", storage.ErrUnavailable, status)
	default:
		err = fmt.Errorf("unexpected status %d: %s", status, strings.TrimSpace(string(body)))
	}

	return &storage.DriverError{
		Op:        verb,
		Driver:    storage.DriverAzure,
		Container: d.container,
		Key:       path,
		Err:       err,
	}
}

// encodePath percent-encodes each path segment while preserving separators.
func encodePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
