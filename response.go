package cachestore

import (
	"io"
	"net/http"
	"time"
)

// Response is the store's view of an HTTP response: a status, headers
// and either an in-memory body or a reference to a file on disk.
//
// File-backed responses are used for large payloads that are already
// present on the local filesystem (the moral equivalent of X-Sendfile);
// the store never copies the file contents into the cache backend, only
// a digest and the path.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// File is the path backing the body. When set, Body is ignored.
	File string
}

// NewResponse returns an in-memory response.
// A nil header is replaced with an empty one.
func NewResponse(status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = make(http.Header)
	}
	return &Response{Status: status, Header: header, Body: body}
}

// NewFileResponse returns a response backed by a file on disk.
func NewFileResponse(status int, header http.Header, path string) *Response {
	if header == nil {
		header = make(http.Header)
	}
	return &Response{Status: status, Header: header, File: path}
}

// ResponseFromHTTP drains res.Body into an in-memory Response.
// The body is closed.
func ResponseFromHTTP(res *http.Response) (*Response, error) {
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return NewResponse(res.StatusCode, res.Header.Clone(), body), nil
}

// MaxAge returns the freshness lifetime from the response's
// Cache-Control header. s-maxage takes precedence over max-age.
// The second return value is false if neither directive is present.
func (r *Response) MaxAge() (time.Duration, bool) {
	cc := ParseCacheControl(r.Header.Get("Cache-Control"))

	var maxAgeStr string
	if val, ok := cc.Get("s-maxage"); ok {
		maxAgeStr = val
	} else if val, ok := cc.Get("max-age"); ok {
		maxAgeStr = val
	}
	if maxAgeStr == "" {
		return 0, false
	}
	duration, err := time.ParseDuration(maxAgeStr + "s")
	if err != nil {
		return 0, false
	}
	return duration, true
}
