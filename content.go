package cachestore

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toflar/http-cache-store/cache"
)

// ContentDigestHeader carries the content digest key of a stored
// response body. Its presence marks a response as already digested.
const ContentDigestHeader = "X-Content-Digest"

// digestEntry is the stored form of a deduplicated response body.
// Expires is a TTL high-watermark in seconds: the largest max-age any
// referencing variant was written with.
type digestEntry struct {
	Expires int64  `json:"expires"`
	Content []byte `json:"content,omitempty"`
	// Path is set instead of Content for file-backed responses.
	Path string `json:"path,omitempty"`
	Gzip bool   `json:"gzip,omitempty"`
}

// contentStore manages the content digest entries shared by every
// variant whose body hashes identically.
type contentStore struct {
	cache          cache.Provider
	keyer          Keyer
	disableDigests bool
	gzipLevel      int
}

// EnsureStored makes sure the response body is persisted under its
// content digest and stamps the digest onto the response headers.
//
// A response already carrying a digest header is left untouched: it
// either came from the cache or was digested by an earlier write, and
// re-hashing it would be wasted work (or worse, would re-store an
// encoded body).
//
// The returned key is empty when digesting is disabled and the response
// is not file-backed; the caller must inline the body instead. The
// queued digest write is flushed by the caller's Commit.
func (c *contentStore) EnsureStored(res *Response, maxAge time.Duration) (string, error) {
	if digest := res.Header.Get(ContentDigestHeader); digest != "" {
		return digest, nil
	}

	var key string
	var entry digestEntry
	var length int

	if res.File != "" {
		contents, err := os.ReadFile(res.File)
		if err != nil {
			return "", fmt.Errorf("reading file-backed response: %w", err)
		}
		key = c.keyer.FileDigest(contents)
		entry = digestEntry{Path: res.File}
		length = len(contents)
	} else {
		if c.disableDigests {
			return "", nil
		}
		key = c.keyer.BodyDigest(res.Body)
		content := res.Body
		if c.gzipLevel > 0 && res.Header.Get("Content-Encoding") == "" {
			if encoded, err := gzipBytes(res.Body, c.gzipLevel); err == nil {
				content = encoded
				entry.Gzip = true
			} else {
				log.Warn().Err(err).Msg("Could not gzip response body, storing unencoded")
			}
		}
		entry.Content = content
		length = len(content)
	}

	// The high-watermark rule: an entry shared with a longer-lived
	// variant must never have its retention shortened by a later
	// short-lived writer.
	stored := false
	if raw, ok, err := c.cache.Get(key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Could not read content digest entry")
	} else if ok {
		var existing digestEntry
		if err := json.Unmarshal(raw, &existing); err == nil {
			entry = existing
			stored = true
		}
	}
	expires := int64(maxAge / time.Second)
	if !stored || expires > entry.Expires {
		if expires > entry.Expires {
			entry.Expires = expires
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return "", err
		}
		if err := c.cache.Set(key, raw, time.Duration(entry.Expires)*time.Second, nil); err != nil {
			return "", fmt.Errorf("storing content digest entry: %w", err)
		}
	}

	res.Header.Set(ContentDigestHeader, key)
	if !isChunked(res.Header) {
		res.Header.Set("Content-Length", strconv.Itoa(length))
	}
	return key, nil
}

// Restore rebuilds a response from a variant record, resolving its
// content digest if it has one. A nil return is a cache miss: missing
// digest entries, vanished files and undecodable content all degrade to
// a miss so the engine falls through to the origin.
func (c *contentStore) Restore(rec *VariantRecord, r *http.Request) *Response {
	header := cloneHeader(rec.Headers)
	digest := header.Get(ContentDigestHeader)
	if digest == "" {
		if rec.Content != nil {
			return &Response{Status: rec.Status, Header: header, Body: rec.Content}
		}
		log.Warn().Str("uri", rec.URI).Msg("Stored entry has neither digest nor inline content")
		return nil
	}

	raw, ok, err := c.cache.Get(digest)
	if err != nil {
		log.Warn().Err(err).Str("key", digest).Msg("Could not read content digest entry")
		return nil
	}
	if !ok {
		return nil
	}
	var entry digestEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Warn().Err(err).Str("key", digest).Msg("Corrupt content digest entry")
		return nil
	}

	if entry.Path != "" {
		// The file may have been removed since the write. That is a
		// plain miss, not an error.
		if _, err := os.Stat(entry.Path); err != nil {
			return nil
		}
		return &Response{Status: rec.Status, Header: header, File: entry.Path}
	}

	body := entry.Content
	if entry.Gzip {
		if acceptsGzip(r) {
			header.Set("Content-Encoding", "gzip")
		} else {
			decoded, err := gunzipBytes(body)
			if err != nil {
				log.Warn().Err(err).Str("key", digest).Msg("Could not decode stored gzip content")
				return nil
			}
			body = decoded
			header.Del("Content-Encoding")
		}
		if !isChunked(header) {
			header.Set("Content-Length", strconv.Itoa(len(body)))
		}
	}
	return &Response{Status: rec.Status, Header: header, Body: body}
}

func gzipBytes(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func isChunked(header http.Header) bool {
	for _, enc := range header.Values("Transfer-Encoding") {
		if strings.Contains(strings.ToLower(enc), "chunked") {
			return true
		}
	}
	return false
}
