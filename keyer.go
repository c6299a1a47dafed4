package cachestore

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	// Prefixes keep derived keys from ever colliding with the reserved
	// plain names (the write counter and the maintenance locks).
	cacheKeyPrefix   = "md"
	bodyDigestPrefix = "en"
	fileDigestPrefix = "bf"

	// NonVaryingKey is the vary key used for responses stored without a
	// Vary header.
	NonVaryingKey = "non-varying"
)

// Keyer derives cache keys, vary keys and content digests.
// All methods are pure functions of their inputs.
type Keyer struct{}

// CacheKey returns the cache key for a request.
// The key is independent of the request scheme, so the http and https
// variants of the same URL share a single entry.
func (k Keyer) CacheKey(r *http.Request) string {
	host := r.URL.Host
	if host == "" {
		host = r.Host
	}
	return cacheKeyPrefix + hash(host+r.URL.RequestURI())
}

// CacheKeyForURL returns the cache key for a literal URL string.
// It produces the same key as CacheKey for a request to that URL.
func (k Keyer) CacheKeyForURL(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		url = url[i+3:]
	}
	return cacheKeyPrefix + hash(url)
}

// VaryKey returns the key identifying the response variant selected by
// the given Vary header names and the request's current values for them.
// An empty name list yields NonVaryingKey.
//
// Header names are lower-cased and sorted so the key does not depend on
// the order the origin listed them in. A request header that is absent
// contributes an empty value. Cookies are a special case: varying on
// Cookie appends every request cookie as a name=value pair in request
// order, since the Cookie header is multi-valued.
func (k Keyer) VaryKey(names []string, r *http.Request) string {
	if len(names) == 0 {
		return NonVaryingKey
	}
	sorted := make([]string, len(names))
	for i, name := range names {
		sorted[i] = strings.ToLower(name)
	}
	sort.Strings(sorted)

	var b strings.Builder
	for _, name := range sorted {
		if name == "cookie" {
			for _, c := range r.Cookies() {
				b.WriteString(c.Name + "=" + c.Value)
			}
			continue
		}
		b.WriteString(name + ":" + r.Header.Get(name))
	}
	return hash(b.String())
}

// BodyDigest returns the content digest key for a response body.
func (k Keyer) BodyDigest(body []byte) string {
	return bodyDigestPrefix + hash(string(body))
}

// FileDigest returns the content digest key for the contents of a
// file-backed response.
func (k Keyer) FileDigest(contents []byte) string {
	return fileDigestPrefix + hash(string(contents))
}

func hash(s string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(s)))
}
