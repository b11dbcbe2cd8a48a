package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Params are the query parameters that take part in a cache key.
// Values should be primitives; nil values are left out of the key.
type Params map[string]any

// ParamsFromQuery converts a query string into Params, keeping the first
// value of every non-empty parameter.
func ParamsFromQuery(q url.Values) Params {
	p := make(Params, len(q))
	for k, vs := range q {
		if len(vs) == 0 || vs[0] == "" {
			continue
		}
		p[k] = vs[0]
	}
	return p
}

// KeyFor builds a stable cache key from namespace, endpoint and params.
// Parameter order does not matter: {page:1,sort:"a"} and {sort:"a",page:1}
// produce the same key.
func KeyFor(namespace, endpoint string, params Params) string {
	return namespace + ":" + endpoint + ":" + Canonicalize(params)
}

// Canonicalize encodes params as a JSON object with lexicographically sorted names.
func Canonicalize(params Params) string {
	names := make([]string, 0, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		n, _ := json.Marshal(name)
		b.Write(n)
		b.WriteByte(':')
		v, err := json.Marshal(params[name])
		if err != nil {
			// Fall back to the printed form so a key is always produced
			v, _ = json.Marshal(fmt.Sprint(params[name]))
		}
		b.Write(v)
	}
	b.WriteByte('}')
	return b.String()
}

// EndpointOf extracts the endpoint part of a key produced by KeyFor.
// Returns an empty string when key does not have that shape.
func EndpointOf(key string) string {
	i := strings.Index(key, ":")
	if i < 0 {
		return ""
	}
	rest := key[i+1:]
	j := strings.Index(rest, ":{")
	if j < 0 {
		return ""
	}
	return rest[:j]
}
