package azure

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Sensitive request material that must never reach diagnostic output.
const redacted = "<redacted>"

var (
	redactHeaders = []string{"Authorization", "Date"}
	redactQueries = []string{"sig"}
)

// redactQuery renders a query set for logging with sensitive parameters
// masked.
func redactQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out strings.Builder
	for i, key := range keys {
		if i > 0 {
			out.WriteByte('&')
		}
		out.WriteString(key)
		out.WriteByte('=')
		if redactedQueryKey(key) {
			out.WriteString(redacted)
		} else {
			out.WriteString(query.Get(key))
		}
	}
	return out.String()
}

// redactHeader renders a header set for logging with sensitive values
// masked.
func redactHeader(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for name := range header {
		if redactedHeaderName(name) {
			out[name] = redacted
		} else {
			out[name] = header.Get(name)
		}
	}
	return out
}

func redactedQueryKey(key string) bool {
	for _, r := range redactQueries {
		if key == r {
			return true
		}
	}
	return false
}

func redactedHeaderName(name string) bool {
	for _, r := range redactHeaders {
		if strings.EqualFold(name, r) {
			return true
		}
	}
	return false
}
