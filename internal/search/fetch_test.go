package search

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchExtractsArticleContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Go Queues</title></head><body>
			<nav>site chrome that readability should drop</nav>
			<article><h1>Go Queues</h1><p>Priority queues order work by urgency.</p></article>
		</body></html>`))
	}))
	defer srv.Close()

	f := NewPageFetcher(5 * time.Second)
	page, err := f.Fetch(t.Context(), srv.URL+"/post")
	require.NoError(t, err)

	assert.True(t, page.Readable)
	assert.Contains(t, page.Content, "Priority queues order work by urgency.")
	assert.True(t, strings.HasPrefix(page.Content, "# "), "expected a leading title heading, got %q", page.Content)
}

func TestFetchRejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	f := NewPageFetcher(5 * time.Second)
	_, err := f.Fetch(t.Context(), srv.URL)
	assert.Error(t, err)
}

func TestFetchRejectsNon200AndBadSchemes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewPageFetcher(5 * time.Second)
	_, err := f.Fetch(t.Context(), srv.URL)
	assert.Error(t, err)

	_, err = f.Fetch(t.Context(), "ftp://example.com/x")
	assert.Error(t, err)
}

func TestFetchCapsBodySize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>"))
		filler := strings.Repeat("x", 1024)
		for i := 0; i < 64; i++ {
			_, _ = w.Write([]byte("<p>" + filler + "</p>"))
		}
		_, _ = w.Write([]byte("</body></html>"))
	}))
	defer srv.Close()

	f := NewPageFetcher(5 * time.Second)
	f.maxBytes = 4096
	_, err := f.Fetch(t.Context(), srv.URL)
	assert.Error(t, err)
}
