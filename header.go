package cachestore

import (
	"net/http"
	"strings"
)

// CacheControl holds the parsed directives of a Cache-Control header.
type CacheControl struct {
	m map[string]string
}

func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.m[directive]
	return val, ok
}

func ParseCacheControl(header string) CacheControl {
	m := make(map[string]string)
	for _, directive := range strings.Split(header, ",") {
		parts := strings.SplitN(strings.TrimSpace(directive), "=", 2)
		var val string
		if len(parts) > 1 {
			val = parts[1]
		}
		m[parts[0]] = val
	}
	return CacheControl{m}
}

// varyNames returns the header names listed in the response's Vary
// header, across all occurrences, with whitespace trimmed.
func varyNames(header http.Header) []string {
	var names []string
	for _, value := range header.Values("Vary") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// extractTags splits every occurrence of the tag header on commas and
// flattens the result.
func extractTags(header http.Header, tagHeader string) []string {
	var tags []string
	for _, value := range header.Values(tagHeader) {
		for _, tag := range strings.Split(value, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

func cloneHeader(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for k, vv := range src {
		dst[k] = append([]string(nil), vv...)
	}
	return dst
}
