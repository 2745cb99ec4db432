package search

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server, monthlyLimit int) *Client {
	t.Helper()
	dir := t.TempDir()
	gate, err := NewQuotaGate(filepath.Join(dir, "limits.json"), filepath.Join(dir, "usage.json"), monthlyLimit, 1, "unlimited")
	require.NoError(t, err)
	return NewClient(srv.URL, "test-token", gate, 3, 25000)
}

func TestReorderWikipediaFirstIsStableWithinGroups(t *testing.T) {
	in := []Result{
		{URL: "https://example.com/a"},
		{URL: "https://en.wikipedia.org/wiki/Go"},
		{URL: "https://example.com/b"},
		{URL: "https://fr.wikipedia.org/wiki/Go"},
	}
	out := reorderWikipediaFirst(in)
	require.Len(t, out, 4)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Go", out[0].URL)
	assert.Equal(t, "https://fr.wikipedia.org/wiki/Go", out[1].URL)
	assert.Equal(t, "https://example.com/a", out[2].URL)
	assert.Equal(t, "https://example.com/b", out[3].URL)
}

func TestSearchAndBrowseSendsSubscriptionTokenHeader(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Subscription-Token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[]}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 10)
	resp, errStr := client.SearchAndBrowse(t.Context(), "golang", 3, 1000)
	require.Empty(t, errStr)
	require.NotNil(t, resp)
	assert.Equal(t, "test-token", gotToken)
}

func TestSearchAndBrowseExhaustedQuotaNeverIssuesHTTPCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.Write([]byte(`{"web":{"results":[]}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 1)
	_, errStr := client.SearchAndBrowse(t.Context(), "q1", 1, 100)
	require.Empty(t, errStr)
	require.True(t, called)
	called = false

	_, errStr = client.SearchAndBrowse(t.Context(), "q2", 1, 100)
	assert.NotEmpty(t, errStr)
	assert.False(t, called, "second call should have been blocked by quota before reaching HTTP")
}

func TestSearchAndBrowseNon200NeverConsumesQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	dir := t.TempDir()
	gate, err := NewQuotaGate(filepath.Join(dir, "limits.json"), filepath.Join(dir, "usage.json"), 10, 1, "unlimited")
	require.NoError(t, err)
	client := NewClient(srv.URL, "tok", gate, 3, 1000)
	client.rlCfg.maxRetries = 1

	_, errStr := client.SearchAndBrowse(t.Context(), "q", 1, 100)
	assert.NotEmpty(t, errStr)
	assert.Equal(t, 0, gate.usage.PeriodCount)
}

func TestSearchAndBrowseAttachesContentForTopKOnly(t *testing.T) {
	pageSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><article><h1>T</h1><p>hello world</p></article></body></html>`))
	}))
	defer pageSrv.Close()

	searxSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[
			{"title":"A","url":"` + pageSrv.URL + `/a"},
			{"title":"B","url":"` + pageSrv.URL + `/b"}
		]}}`))
	}))
	defer searxSrv.Close()

	client := newTestClient(t, searxSrv, 10)
	resp, errStr := client.SearchAndBrowse(t.Context(), "q", 1, 1000)
	require.Empty(t, errStr)
	require.Len(t, resp.Results, 2)
	assert.NotEmpty(t, resp.Results[0].Content)
	assert.Empty(t, resp.Results[1].Content)
}
