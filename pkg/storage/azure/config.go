// Package azure implements the storage driver interface for Azure Blob
// Storage.
//
// The driver speaks the blob REST protocol directly: it signs its own
// requests (shared key, SAS, or managed-identity bearer token), follows
// continuation markers through listing pages, and keeps one request in
// flight ahead of payload processing so network latency overlaps with
// local work.
package azure

import (
	"time"

	"go.uber.org/zap"
)

// KeyType selects the authentication mode. Exactly one mode is active per
// driver instance, fixed at construction.
type KeyType string

const (
	// KeyTypeShared authenticates with the account's shared key via
	// canonical-string HMAC-SHA256 signing.
	KeyTypeShared KeyType = "shared"

	// KeyTypeSAS authenticates with a precomputed shared-access-signature
	// query string merged into every request.
	KeyTypeSAS KeyType = "sas"

	// KeyTypeAuto fetches a bearer token from the instance metadata
	// identity endpoint and refreshes it before expiry.
	KeyTypeAuto KeyType = "auto"
)

// URIStyle selects how the account and container appear in request URIs.
type URIStyle string

const (
	// URIStyleHost embeds the account in the hostname and the container as
	// the first path segment.
	URIStyleHost URIStyle = "host"

	// URIStylePath places both the account and the container in the path.
	// Required for emulators and gateways that serve many accounts from
	// one hostname.
	URIStylePath URIStyle = "path"
)

// DefaultEndpoint is the Azure public-cloud blob endpoint suffix.
const DefaultEndpoint = "blob.core.windows.net"

// DefaultBlockSize is the default chunk size for multi-block uploads.
const DefaultBlockSize = 4 * 1024 * 1024

// DefaultTimeout is the default HTTP client timeout.
const DefaultTimeout = 60 * time.Second

// Config configures an Azure driver.
type Config struct {
	// Account is the storage account name (required).
	Account string

	// Container is the blob container name (required).
	Container string

	// Key is the key material for the selected KeyType: the base64-encoded
	// account key for KeyTypeShared, the SAS query string for KeyTypeSAS.
	// Must be empty for KeyTypeAuto.
	Key string

	// KeyType selects the authentication mode. Defaults to KeyTypeShared.
	KeyType KeyType

	// Endpoint is the blob endpoint suffix or a full URL for emulators,
	// e.g. "blob.core.windows.net" or "http://127.0.0.1:10000".
	// An http:// or https:// scheme in the endpoint selects the transport
	// scheme; otherwise https is used.
	Endpoint string

	// URIStyle selects host- or path-style addressing. Defaults to
	// URIStyleHost.
	URIStyle URIStyle

	// Port overrides the endpoint port when non-zero. The endpoint must
	// not already carry a port in that case.
	Port uint

	// Timeout is the HTTP client timeout for a single exchange.
	// Defaults to DefaultTimeout.
	Timeout time.Duration

	// BlockSize is the chunk size for multi-block uploads. Writes that
	// never exceed one block are sent as a single Put Blob. Defaults to
	// DefaultBlockSize.
	BlockSize int64

	// Tags are applied to written objects. Rendered once as a
	// query-encoded fragment and sent in the x-ms-tags header.
	Tags map[string]string

	// TLSSkipVerify disables server certificate verification.
	TLSSkipVerify bool

	// CAFile is an optional PEM bundle to verify the server against
	// instead of the system pool.
	CAFile string

	// RateLimit caps outbound requests per second. Zero means unlimited.
	RateLimit float64

	// Logger receives redacted debug logging for dispatched requests.
	// Nil disables logging.
	Logger *zap.Logger
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.Account == "" {
		return &ConfigError{Field: "Account", Message: "account name is required"}
	}
	if c.Container == "" {
		return &ConfigError{Field: "Container", Message: "container name is required"}
	}

	switch c.KeyType {
	case "", KeyTypeShared, KeyTypeSAS:
		if c.Key == "" {
			return &ConfigError{Field: "Key", Message: "key material is required for shared and sas key types"}
		}
	case KeyTypeAuto:
		if c.Key != "" {
			return &ConfigError{Field: "Key", Message: "key material must be empty for the auto key type"}
		}
	default:
		return &ConfigError{Field: "KeyType", Message: "unknown key type " + string(c.KeyType)}
	}

	switch c.URIStyle {
	case "", URIStyleHost, URIStylePath:
	default:
		return &ConfigError{Field: "URIStyle", Message: "unknown URI style " + string(c.URIStyle)}
	}

	if c.BlockSize < 0 {
		return &ConfigError{Field: "BlockSize", Message: "block size must be positive"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "azure config: " + e.Field + ": " + e.Message
}
