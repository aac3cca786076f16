package azure

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/moizpgedge/pgbackrest/pkg/storage"
)

// Blob service version headers. Shared-key requests pin an older service
// version; bearer-token requests need a version that supports bearer
// authorization.
const (
	headerVersion      = "x-ms-version"
	versionSharedValue = "2019-12-12"
	versionBearerValue = "2024-08-04"
)

// Headers with the vendor prefix participate in shared-key canonicalization.
const vendorHeaderPrefix = "x-ms-"

// Instance metadata identity service. Fixed link-local address; tokens are
// only obtainable from inside the platform.
const (
	credentialEndpoint   = "http://169.254.169.254"
	credentialPath       = "/metadata/identity/oauth2/token"
	credentialAPIVersion = "2018-02-01"

	queryAPIVersion = "api-version"
	queryResource   = "resource"
)

// authorizer populates whatever headers or query parameters an
// authentication mode requires. Implementations mutate the supplied header
// and query sets in place; the header set always already carries a
// Content-Length header.
type authorizer interface {
	sign(verb, path string, query url.Values, date string, header http.Header) error
}

// sharedKeyAuthorizer signs requests with the account's shared key using
// the canonical string-to-sign layout documented at
// https://docs.microsoft.com/en-us/rest/api/storageservices/authorize-with-shared-key
type sharedKeyAuthorizer struct {
	account string
	key     []byte // raw decoded shared key
}

func newSharedKeyAuthorizer(account, key string) (*sharedKeyAuthorizer, error) {
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, &storage.DriverError{
			Op:     "New",
			Driver: storage.DriverAzure,
			Err:    fmt.Errorf("decode shared key: %w", err),
		}
	}
	return &sharedKeyAuthorizer{account: account, key: decoded}, nil
}

func (a *sharedKeyAuthorizer) sign(verb, path string, query url.Values, date string, header http.Header) error {
	header.Set("Date", date)
	header.Set(headerVersion, versionSharedValue)

	// Canonical header block: vendor-prefixed headers only, lowercased and
	// sorted by name, one name:value per line.
	names := make([]string, 0, len(header))
	for name := range header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, vendorHeaderPrefix) {
			names = append(names, lower)
		}
	}
	sort.Strings(names)

	var headerCanonical strings.Builder
	for _, name := range names {
		headerCanonical.WriteString(name)
		headerCanonical.WriteByte(':')
		headerCanonical.WriteString(header.Get(name))
		headerCanonical.WriteByte('\n')
	}

	// Canonical query block: every parameter, sorted by key, each on its
	// own line preceded by the separator.
	var queryCanonical strings.Builder
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for key := range query {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			queryCanonical.WriteByte('\n')
			queryCanonical.WriteString(key)
			queryCanonical.WriteByte(':')
			queryCanonical.WriteString(query.Get(key))
		}
	}

	contentLength := header.Get("Content-Length")
	if contentLength == "0" {
		contentLength = ""
	}

	stringToSign := strings.Join([]string{
		verb,
		"", // content-encoding
		"", // content-language
		contentLength,
		header.Get("Content-MD5"),
		"", // content-type
		date,
		"", // if-modified-since
		"", // if-match
		"", // if-none-match
		"", // if-unmodified-since
		header.Get("Range"),
		headerCanonical.String() + "/" + a.account + path + queryCanonical.String(),
	}, "\n")

	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(stringToSign))

	header.Set("Authorization",
		"SharedKey "+a.account+":"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	return nil
}

// sasAuthorizer merges a precomputed shared-access-signature query string
// into each request. No headers are touched.
type sasAuthorizer struct {
	params url.Values
}

func newSASAuthorizer(key string) (*sasAuthorizer, error) {
	params, err := url.ParseQuery(strings.TrimPrefix(key, "?"))
	if err != nil {
		return nil, &storage.DriverError{
			Op:     "New",
			Driver: storage.DriverAzure,
			Err:    fmt.Errorf("parse sas key: %w", err),
		}
	}
	return &sasAuthorizer{params: params}, nil
}

func (a *sasAuthorizer) sign(verb, path string, query url.Values, date string, header http.Header) error {
	for key, values := range a.params {
		query[key] = values
	}
	return nil
}

// tokenAuthorizer fetches bearer tokens from the instance metadata identity
// endpoint and caches them until shortly before expiry.
//
// The cached expiry is set to fetch time + expires_in - 2x the client
// timeout, so a token is never presented within one round-trip-timeout
// window of real expiry.
type tokenAuthorizer struct {
	host     string // blob endpoint host, used as the token resource
	endpoint string // metadata service base URL
	client   *http.Client
	timeout  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenAuthorizer(host string, timeout time.Duration) *tokenAuthorizer {
	return &tokenAuthorizer{
		host:     host,
		endpoint: credentialEndpoint,
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		now:      time.Now,
	}
}

func (a *tokenAuthorizer) sign(verb, path string, query url.Values, date string, header http.Header) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if now := a.now(); !now.Before(a.expires) {
		if err := a.refresh(now); err != nil {
			return err
		}
	}

	header.Set(headerVersion, versionBearerValue)
	header.Set("Authorization", "Bearer "+a.token)

	return nil
}

// refresh fetches a new token. Callers must hold a.mu.
func (a *tokenAuthorizer) refresh(now time.Time) error {
	req, err := http.NewRequest(http.MethodGet, a.endpoint+credentialPath, nil)
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set(queryAPIVersion, credentialAPIVersion)
	query.Set(queryResource, "https://"+a.host)
	req.URL.RawQuery = query.Encode()
	req.Header.Set("Metadata", "true")

	resp, err := a.client.Do(req)
	if err != nil {
		return &storage.DriverError{
			Op:     "GET",
			Driver: storage.DriverAzure,
			Key:    credentialPath,
			Err:    err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &storage.DriverError{
			Op:     "GET",
			Driver: storage.DriverAzure,
			Key:    credentialPath,
			Err:    fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()

	var credential map[string]any
	if err := decoder.Decode(&credential); err != nil {
		return &storage.DriverError{
			Op:     "GET",
			Driver: storage.DriverAzure,
			Key:    credentialPath,
			Err:    fmt.Errorf("%w: decode credential: %v", storage.ErrFormat, err),
		}
	}

	token, ok := credential["access_token"].(string)
	if !ok || token == "" {
		return credentialFormatError("access token missing")
	}

	expiresIn, err := credentialSeconds(credential["expires_in"])
	if err != nil {
		return credentialFormatError("expiry missing")
	}

	a.token = token
	// Back the expiry off by two client timeouts so the token cannot lapse
	// mid-exchange.
	a.expires = now.Add(time.Duration(expiresIn)*time.Second - 2*a.timeout)

	return nil
}

// credentialSeconds coerces the expires_in field, which real metadata
// services return as either a JSON number or a numeric string.
func credentialSeconds(value any) (int64, error) {
	switch v := value.(type) {
	case json.Number:
		return v.Int64()
	case string:
		return json.Number(v).Int64()
	default:
		return 0, fmt.Errorf("expires_in is %T, not a number", value)
	}
}

func credentialFormatError(message string) error {
	return &storage.DriverError{
		Op:     "GET",
		Driver: storage.DriverAzure,
		Key:    credentialPath,
		Err:    fmt.Errorf("%w: %s", storage.ErrFormat, message),
	}
}
