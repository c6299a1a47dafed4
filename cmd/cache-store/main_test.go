package main

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"

	cachestore "github.com/toflar/http-cache-store"
	"github.com/toflar/http-cache-store/cache"
	"github.com/toflar/http-cache-store/lock"
)

func newTestProxy(t *testing.T, origin http.Handler) *proxy {
	t.Helper()
	server := httptest.NewServer(origin)
	t.Cleanup(server.Close)
	originURL, _ := url.Parse(server.URL)

	store, err := cachestore.New(cachestore.Config{
		Cache:  cache.NewMemoryCache(),
		Locker: lock.NewMemoryLocker(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return newProxy(store, originURL)
}

func TestProxyServesSecondRequestFromCache(t *testing.T) {
	var handleCount int
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Header().Set("Cache-Control", "max-age=60")
		w.Write([]byte("Hello world"))
	})
	p := newTestProxy(t, r)
	req, _ := http.NewRequest("GET", "http://frontend.local/", nil)

	p.ServeHTTP(httptest.NewRecorder(), req)
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	if handleCount != 1 {
		t.Fatalf("Origin called %d times", handleCount)
	}
	if rr.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("Second response is %s", rr.Header().Get("X-Cache"))
	}
	if body, err := io.ReadAll(rr.Result().Body); err != nil || string(body) != "Hello world" {
		t.Fatalf("Body is %s", body)
	}
}

func TestProxyDoesNotCacheWithoutMaxAge(t *testing.T) {
	var handleCount int
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Write([]byte(fmt.Sprintf("Called %d times", handleCount)))
	})
	p := newTestProxy(t, r)
	req, _ := http.NewRequest("GET", "http://frontend.local/", nil)

	p.ServeHTTP(httptest.NewRecorder(), req)
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, req)

	if body, err := io.ReadAll(rr.Result().Body); err != nil || string(body) != "Called 2 times" {
		t.Fatalf("Body is %s", body)
	}
}

func TestProxyPurge(t *testing.T) {
	var handleCount int
	r := chi.NewRouter()
	r.Get("/page", func(w http.ResponseWriter, r *http.Request) {
		handleCount++
		w.Header().Set("Cache-Control", "max-age=60")
		w.Write([]byte(fmt.Sprintf("Version %d", handleCount)))
	})
	p := newTestProxy(t, r)
	get, _ := http.NewRequest("GET", "http://frontend.local/page", nil)
	purge, _ := http.NewRequest("PURGE", "http://frontend.local/page", nil)

	p.ServeHTTP(httptest.NewRecorder(), get)

	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, purge)
	if rr.Code != http.StatusOK {
		t.Fatalf("Purge returned %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	p.ServeHTTP(rr, get)
	if body, _ := io.ReadAll(rr.Result().Body); string(body) != "Version 2" {
		t.Fatalf("Body after purge is %s", body)
	}
}

func TestProxyPurgeByTag(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/tagged", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("Cache-Tags", "news")
		w.Write([]byte("tagged content"))
	})
	p := newTestProxy(t, r)
	get, _ := http.NewRequest("GET", "http://frontend.local/tagged", nil)

	p.ServeHTTP(httptest.NewRecorder(), get)

	purge, _ := http.NewRequest("PURGE", "http://frontend.local/anything", nil)
	purge.Header.Set("Cache-Tags", "news")
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, purge)
	if rr.Code != http.StatusOK {
		t.Fatalf("Tag purge returned %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	p.ServeHTTP(rr, get)
	if rr.Header().Get("X-Cache") != "MISS" {
		t.Fatal("Entry survived tag purge")
	}
}

func TestProxyDoesNotCacheHeadResponses(t *testing.T) {
	r := chi.NewRouter()
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		w.Write([]byte("Hello world"))
	}
	r.Get("/", handler)
	r.Head("/", handler)
	p := newTestProxy(t, r)
	head, _ := http.NewRequest("HEAD", "http://frontend.local/", nil)
	get, _ := http.NewRequest("GET", "http://frontend.local/", nil)

	p.ServeHTTP(httptest.NewRecorder(), head)

	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, get)
	if rr.Header().Get("X-Cache") != "MISS" {
		t.Fatal("A HEAD request seeded the cache for GETs")
	}
	if body, _ := io.ReadAll(rr.Result().Body); string(body) != "Hello world" {
		t.Fatalf("Body after HEAD is %q", body)
	}
}

func TestProxyReleasesOnlyItsOwnLock(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/b", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("b"))
	})
	p := newTestProxy(t, r)
	other, _ := http.NewRequest("GET", "http://frontend.local/a", nil)
	if !p.store.Lock(other) {
		t.Fatal("Could not take the lock for the concurrent request")
	}

	get, _ := http.NewRequest("GET", "http://frontend.local/b", nil)
	p.ServeHTTP(httptest.NewRecorder(), get)

	if !p.store.IsLocked(other) {
		t.Fatal("Serving one request released another request's lock")
	}
	if p.store.IsLocked(get) {
		t.Fatal("Request did not release its own lock")
	}
}

func TestProxyPurgeByConfiguredTagHeader(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/tagged", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("X-Tags", "news")
		w.Write([]byte("tagged content"))
	})
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	originURL, _ := url.Parse(server.URL)
	store, err := cachestore.New(cachestore.Config{
		Cache:     cache.NewMemoryCache(),
		Locker:    lock.NewMemoryLocker(),
		TagHeader: "X-Tags",
	})
	if err != nil {
		t.Fatal(err)
	}
	p := newProxy(store, originURL)
	get, _ := http.NewRequest("GET", "http://frontend.local/tagged", nil)

	p.ServeHTTP(httptest.NewRecorder(), get)

	purge, _ := http.NewRequest("PURGE", "http://frontend.local/anything", nil)
	purge.Header.Set("X-Tags", "news")
	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, purge)
	if rr.Code != http.StatusOK {
		t.Fatalf("Tag purge returned %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	p.ServeHTTP(rr, get)
	if rr.Header().Get("X-Cache") != "MISS" {
		t.Fatal("Entry survived purge by the configured tag header")
	}
}

func TestProxyUnsafeMethodInvalidates(t *testing.T) {
	var version int
	r := chi.NewRouter()
	r.Get("/resource", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		w.Write([]byte(fmt.Sprintf("Version %d", version)))
	})
	r.Post("/resource", func(w http.ResponseWriter, r *http.Request) {
		version++
		w.WriteHeader(http.StatusNoContent)
	})
	p := newTestProxy(t, r)
	get, _ := http.NewRequest("GET", "http://frontend.local/resource", nil)
	post, _ := http.NewRequest("POST", "http://frontend.local/resource", nil)

	p.ServeHTTP(httptest.NewRecorder(), get)
	p.ServeHTTP(httptest.NewRecorder(), post)

	rr := httptest.NewRecorder()
	p.ServeHTTP(rr, get)
	if body, _ := io.ReadAll(rr.Result().Body); string(body) != "Version 1" {
		t.Fatalf("Body after POST is %s", body)
	}
}
