package azure

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/moizpgedge/pgbackrest/pkg/storage"
)

// Driver implements storage.Driver for Azure Blob Storage.
type Driver struct {
	account   string
	container string

	scheme     string
	host       string
	pathPrefix string // /container or /account/container

	auth authorizer
	sas  bool

	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger

	blockSize int64
	tag       string

	// fileID salts block identifiers so the blocks of overlapping upload
	// attempts can never collide. Randomly seeded, advanced once per write.
	fileID atomic.Uint64
}

// Ensure Driver implements the interface.
var _ storage.Driver = (*Driver)(nil)

// New creates an Azure driver from the given configuration.
func New(cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	scheme := "https"
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return nil, &ConfigError{Field: "Endpoint", Message: "invalid endpoint URL: " + err.Error()}
		}
		scheme = parsed.Scheme
		endpoint = parsed.Host
	}

	uriStyle := cfg.URIStyle
	if uriStyle == "" {
		uriStyle = URIStyleHost
	}

	host := endpoint
	pathPrefix := "/" + cfg.Account + "/" + cfg.Container
	if uriStyle == URIStyleHost {
		host = cfg.Account + "." + endpoint
		pathPrefix = "/" + cfg.Container
	}
	if cfg.Port != 0 {
		host = host + ":" + strconv.FormatUint(uint64(cfg.Port), 10)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	blockSize := cfg.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}

	d := &Driver{
		account:    cfg.Account,
		container:  cfg.Container,
		scheme:     scheme,
		host:       host,
		pathPrefix: pathPrefix,
		blockSize:  blockSize,
		log:        cfg.Logger,
	}

	// Render the tag set once; it rides along as a single header value.
	if len(cfg.Tags) > 0 {
		tags := url.Values{}
		for key, value := range cfg.Tags {
			tags.Set(key, value)
		}
		d.tag = tags.Encode()
	}

	keyType := cfg.KeyType
	if keyType == "" {
		keyType = KeyTypeShared
	}

	switch keyType {
	case KeyTypeShared:
		auth, err := newSharedKeyAuthorizer(cfg.Account, cfg.Key)
		if err != nil {
			return nil, err
		}
		d.auth = auth

	case KeyTypeSAS:
		auth, err := newSASAuthorizer(cfg.Key)
		if err != nil {
			return nil, err
		}
		d.auth = auth
		d.sas = true

	case KeyTypeAuto:
		d.auth = newTokenAuthorizer(d.host, timeout)
	}

	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	d.client = &http.Client{Timeout: timeout, Transport: transport}

	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	// Random starting file id.
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, &storage.DriverError{Op: "New", Driver: storage.DriverAzure, Err: err}
	}
	d.fileID.Store(binary.BigEndian.Uint64(seed[:]))

	return d, nil
}

// newTransport builds the HTTP transport with the configured TLS settings.
func newTransport(cfg Config) (*http.Transport, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify} //nolint:gosec // operator opt-in

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, &ConfigError{Field: "CAFile", Message: err.Error()}
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &ConfigError{Field: "CAFile", Message: "no certificates found in " + cfg.CAFile}
		}
		tlsConfig.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	return transport, nil
}

// Info returns metadata for a single entry. A missing entry yields a record
// with Exists false rather than an error.
func (d *Driver) Info(ctx context.Context, name string, level storage.InfoLevel) (storage.Info, error) {
	resp, err := d.request(
		ctx, http.MethodHead, requestParams{path: resourcePath(name)}, responseParams{allowMissing: true})
	if err != nil {
		return storage.Info{}, err
	}

	info := storage.Info{Name: name, Exists: resp.ok()}

	if info.Exists && level >= storage.InfoLevelBasic {
		size, err := strconv.ParseInt(resp.header.Get("Content-Length"), 10, 64)
		if err != nil {
			return storage.Info{}, d.protocolError("HEAD", name, fmt.Errorf("parse content-length: %v", err))
		}
		info.Size = size

		modified, err := http.ParseTime(resp.header.Get("Last-Modified"))
		if err != nil {
			return storage.Info{}, d.protocolError("HEAD", name, fmt.Errorf("parse last-modified: %v", err))
		}
		info.ModTime = modified
	}

	return info, nil
}

// List collects the entries under path into a slice.
func (d *Driver) List(ctx context.Context, path string, opts storage.ListOptions) ([]storage.Info, error) {
	var result []storage.Info

	err := d.Walk(ctx, path, opts, func(info storage.Info) error {
		result = append(result, info)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Walk invokes visit once per entry under path, in server order.
func (d *Driver) Walk(ctx context.Context, path string, opts storage.ListOptions, visit storage.InfoVisitor) error {
	return d.listInternal(ctx, listPath(path), opts.Level, opts.Expression, opts.Recurse, visit)
}

// Remove deletes a single entry, tolerating entries that are already gone.
func (d *Driver) Remove(ctx context.Context, name string) error {
	_, err := d.request(
		ctx, http.MethodDelete, requestParams{path: resourcePath(name)}, responseParams{allowMissing: true})
	return err
}

// Close releases any resources held by the driver.
func (d *Driver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

// resourcePath converts a storage-root-relative name into the
// container-relative request path.
func resourcePath(name string) string {
	return "/" + strings.TrimPrefix(name, "/")
}

// listPath normalizes a listing path: the empty string and "/" both address
// the root.
func listPath(path string) string {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return "/"
	}
	return "/" + strings.TrimPrefix(path, "/")
}

// nextFileID advances the block-identifier salt for a new write.
func (d *Driver) nextFileID() uint64 {
	return d.fileID.Add(1)
}
