package main

import (
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	cachestore "github.com/toflar/http-cache-store"
)

// proxy is a thin caching engine in front of an origin: it serves
// matching variants from the store, writes fresh cacheable responses
// back, and exposes PURGE for explicit invalidation. Revalidation of a
// resource is serialized with the store's per-request locks.
type proxy struct {
	store  *cachestore.Store
	origin *url.URL
	client http.Client
}

func newProxy(store *cachestore.Store, origin *url.URL) *proxy {
	return &proxy{
		store:  store,
		origin: origin,
		client: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (p *proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "PURGE":
		p.purge(w, r)
		return
	case http.MethodGet, http.MethodHead:
		p.serveCached(w, r)
		return
	}

	// Unsafe methods pass through and invalidate the target resource.
	if err := p.forward(w, r); err != nil {
		http.Error(w, "Could not contact origin", http.StatusBadGateway)
		return
	}
	p.store.Invalidate(r)
}

func (p *proxy) purge(w http.ResponseWriter, r *http.Request) {
	if tags := r.Header.Values(p.store.TagHeader()); len(tags) > 0 {
		var flat []string
		for _, value := range tags {
			for _, tag := range strings.Split(value, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					flat = append(flat, tag)
				}
			}
		}
		if _, err := p.store.InvalidateTags(flat); err != nil {
			http.Error(w, err.Error(), http.StatusNotImplemented)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}
	if p.store.Purge(r.Host + r.URL.RequestURI()) {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (p *proxy) serveCached(w http.ResponseWriter, r *http.Request) {
	if res := p.store.Lookup(r); res != nil {
		send(w, r, res, "HIT")
		return
	}

	// The lock is advisory: when another request holds it, that
	// request is already revalidating, and we simply fetch too.
	if p.store.Lock(r) {
		defer p.store.Unlock(r)
	}

	originRes, err := p.fetch(r)
	if err != nil {
		log.Error().Err(err).Msg("Could not fetch from origin")
		http.Error(w, "Could not contact origin", http.StatusBadGateway)
		return
	}
	res, err := cachestore.ResponseFromHTTP(originRes)
	if err != nil {
		http.Error(w, "Could not read origin response", http.StatusBadGateway)
		return
	}

	// A HEAD response has no body; writing it would serve empty
	// bodies to every GET sharing the cache key.
	if r.Method != http.MethodHead {
		switch _, err := p.store.Write(r, res); err {
		case nil, cachestore.ErrNoMaxAge:
		default:
			log.Error().Err(err).Msg("Could not write to cache")
		}
	}
	send(w, r, res, "MISS")
}

// forward pipes the request to the origin and the response back.
func (p *proxy) forward(w http.ResponseWriter, r *http.Request) error {
	res, err := p.fetch(r)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	_, err = io.Copy(w, res.Body)
	return err
}

func (p *proxy) fetch(r *http.Request) (*http.Response, error) {
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequest(r.Method, p.origin.String()+r.URL.RequestURI(), body)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	req.Header.Del("Connection")
	return p.client.Do(req)
}

func send(w http.ResponseWriter, r *http.Request, res *cachestore.Response, status string) {
	copyHeader(w.Header(), res.Header)
	w.Header().Set("X-Cache", status)
	w.WriteHeader(res.Status)
	if r.Method == http.MethodHead {
		return
	}
	if res.File != "" {
		file, err := os.Open(res.File)
		if err != nil {
			return
		}
		defer file.Close()
		io.Copy(w, file)
		return
	}
	w.Write(res.Body)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
