package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHTTPServer(t *testing.T) (*HTTPServer, *Engine) {
	t.Helper()
	e := testEngine(t)
	s, err := NewHTTPServer(e.Config(), e)
	require.NoError(t, err)
	return s, e
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHTTPSearch(t *testing.T) {
	s, e := testHTTPServer(t)
	seedDoc(t, e, "1", "golang tutorial")
	seedDoc(t, e, "2", "rust tutorial")

	w := doJSON(t, s.Handler(), http.MethodPost, "/posts/search", `{"q":"golang"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp searchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "1", resp.Results[0].PrimaryKey)
}

func TestHTTPSearchUnknownTable(t *testing.T) {
	s, _ := testHTTPServer(t)

	w := doJSON(t, s.Handler(), http.MethodPost, "/nope/search", `{"q":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTPSearchBadBody(t *testing.T) {
	s, _ := testHTTPServer(t)

	w := doJSON(t, s.Handler(), http.MethodPost, "/posts/search", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPSearchLimitValidation(t *testing.T) {
	s, _ := testHTTPServer(t)

	w := doJSON(t, s.Handler(), http.MethodPost, "/posts/search", `{"q":"x","limit":1001}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s.Handler(), http.MethodPost, "/posts/search", `{"q":"x","limit":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPGetDocument(t *testing.T) {
	s, e := testHTTPServer(t)
	seedDoc(t, e, "55", "findable")

	tbl, err := e.Catalog().Get("posts")
	require.NoError(t, err)
	id, ok := tbl.Store.GetDocID("55")
	require.True(t, ok)

	w := doJSON(t, s.Handler(), http.MethodGet, "/posts/"+strconv.FormatUint(uint64(id), 10), "")
	require.Equal(t, http.StatusOK, w.Code)

	var doc searchResultDoc
	require.NoError(t, json.NewDecoder(w.Body).Decode(&doc))
	assert.Equal(t, "55", doc.PrimaryKey)

	w = doJSON(t, s.Handler(), http.MethodGet, "/posts/99999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTPHealthEndpoints(t *testing.T) {
	s, e := testHTTPServer(t)

	w := doJSON(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s.Handler(), http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s.Handler(), http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// While loading: data endpoints 503, liveness still 200.
	release, err := e.Coordinator().BeginLoad(false)
	require.NoError(t, err)
	defer release()

	w = doJSON(t, s.Handler(), http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, s.Handler(), http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s.Handler(), http.MethodPost, "/posts/search", `{"q":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHTTPInfo(t *testing.T) {
	s, e := testHTTPServer(t)
	seedDoc(t, e, "1", "doc")

	w := doJSON(t, s.Handler(), http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, w.Code)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&payload))
	assert.Contains(t, payload, "tables")
	assert.Contains(t, payload, "cache")
	assert.Contains(t, payload, "replication")
}

func TestHTTPConfigMasksSecrets(t *testing.T) {
	s, e := testHTTPServer(t)
	e.Config().MySQL.Password = "hunter2"

	w := doJSON(t, s.Handler(), http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestHTTPReplicationStatus(t *testing.T) {
	s, _ := testHTTPServer(t)

	w := doJSON(t, s.Handler(), http.MethodGet, "/replication/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var payload map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&payload))
	assert.Equal(t, false, payload["enabled"])
}

func TestHTTPCIDRAllowlist(t *testing.T) {
	e := testEngine(t)
	cfg := e.Config()
	cfg.Network.AllowCIDRs = []string{"10.0.0.0/8"}
	s, err := NewHTTPServer(cfg, e)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.168.1.5:1234"
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPSearchWithSortAndLimit(t *testing.T) {
	s, e := testHTTPServer(t)
	for _, pk := range []string{"100", "50", "200"} {
		seedDoc(t, e, pk, "sortable entry")
	}

	body := `{"q":"sortable","sort":{"column":"id","direction":"DESC"},"limit":2}`
	w := doJSON(t, s.Handler(), http.MethodPost, "/posts/search", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp searchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Count)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "200", resp.Results[0].PrimaryKey)
	assert.Equal(t, "100", resp.Results[1].PrimaryKey)
}
