package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oakwood-commons/unifind/internal/catalog"
	"github.com/oakwood-commons/unifind/internal/entity"
)

const seed = `
- kind: institution
  name: University of Oxford
  region: England
  children:
    - name: Engineering College
      children:
        - name: School of Computing
- kind: institution
  name: Imperial College
  region: London
- kind: person
  name: Ada Lovelace
`

func newTestServer(t *testing.T) (*httptest.Server, *catalog.Store) {
	t.Helper()
	store, err := catalog.Open("", true, entity.DefaultRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	nodes, err := catalog.ParseSeed(strings.NewReader(seed))
	require.NoError(t, err)
	_, err = store.Seed(context.Background(), nodes)
	require.NoError(t, err)

	ts := httptest.NewServer(New(store).Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func getJSON(t *testing.T, ts *httptest.Server, path string, q url.Values) (int, map[string]json.RawMessage) {
	t.Helper()
	resp, err := http.Get(ts.URL + path + "?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func postJSON(t *testing.T, ts *httptest.Server, path, payload string) (int, map[string]json.RawMessage) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func decodeList(t *testing.T, raw json.RawMessage) []entity.Candidate {
	t.Helper()
	var out []entity.Candidate
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestSearchEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	code, body := getJSON(t, ts, "/api/search/university/", url.Values{"q": {" oxf "}})
	require.Equal(t, http.StatusOK, code)
	got := decodeList(t, body["universities"])
	require.Len(t, got, 1)
	assert.Equal(t, "University of Oxford", got[0].Name)
	assert.Equal(t, "England", got[0].Region)

	code, body = getJSON(t, ts, "/api/search/university/", url.Values{"q": {""}})
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decodeList(t, body["universities"]))

	code, body = getJSON(t, ts, "/api/search/college/", url.Values{"q": {"eng"}})
	require.Equal(t, http.StatusOK, code)
	colleges := decodeList(t, body["colleges"])
	require.Len(t, colleges, 1)
	assert.Equal(t, "University of Oxford", colleges[0].Field("university"))

	code, body = getJSON(t, ts, "/api/search/college/", url.Values{"q": {"eng"}, "university_id": {"999"}})
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decodeList(t, body["colleges"]))

	code, _ = getJSON(t, ts, "/api/search/college/", url.Values{"q": {"eng"}, "university_id": {"abc"}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSearchRegionFilter(t *testing.T) {
	ts, _ := newTestServer(t)
	_, body := getJSON(t, ts, "/api/search/university/", url.Values{"q": {"o"}, "region": {"lond"}})
	got := decodeList(t, body["universities"])
	require.Len(t, got, 1)
	assert.Equal(t, "Imperial College", got[0].Name)
}

func TestCreateEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	oxford, err := store.Search(context.Background(), catalog.Query{Kind: entity.Institution, Text: "Oxford"})
	require.NoError(t, err)
	require.Len(t, oxford, 1)

	tests := []struct {
		name    string
		path    string
		payload string
		code    int
		key     string
	}{
		{name: "invalid json", path: "/api/add/lecturer/", payload: "{", code: http.StatusBadRequest, key: "error"},
		{name: "missing region", path: "/api/add/university/", payload: `{"name":"Durham"}`, code: http.StatusBadRequest, key: "error"},
		{name: "missing parent", path: "/api/add/college/", payload: `{"name":"Law"}`, code: http.StatusBadRequest, key: "error"},
		{name: "unknown parent", path: "/api/add/college/", payload: `{"name":"Law","university_id":999}`, code: http.StatusNotFound, key: "error"},
		{name: "duplicate", path: "/api/add/university/", payload: `{"name":"imperial college","region":"london"}`, code: http.StatusConflict, key: "existing_institution"},
		{name: "created with string id", path: "/api/add/college/", payload: `{"name":"Law College","university_id":"` + jsonID(oxford[0].ID) + `"}`, code: http.StatusOK, key: "university"},
		{name: "created lecturer", path: "/api/add/lecturer/", payload: `{"name":"Grace Hopper"}`, code: http.StatusOK, key: "id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := postJSON(t, ts, tt.path, tt.payload)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, body, tt.key)
		})
	}
}

func TestCreateRejectsGet(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/add/lecturer/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestGlobalSearchEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	code, body := getJSON(t, ts, GlobalSearchPath, url.Values{"q": {"comput"}})
	require.Equal(t, http.StatusOK, code)
	var hits []entity.Hit
	require.NoError(t, json.Unmarshal(body["results"], &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, entity.SubSubUnit, hits[0].Kind)
	assert.Equal(t, "Engineering College → University of Oxford", hits[0].Parent)

	_, body = getJSON(t, ts, GlobalSearchPath, url.Values{"q": {""}})
	assert.JSONEq(t, `[]`, string(body["results"]))
}

func TestRegionSearchEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	tests := []struct {
		q    string
		want string
	}{
		{q: "LAND", want: `["England"]`},
		{q: "on", want: `["London"]`},
		{q: "wales", want: `[]`},
		{q: "", want: `[]`},
	}
	for _, tt := range tests {
		code, body := getJSON(t, ts, RegionSearchPath, url.Values{"q": {tt.q}})
		require.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, tt.want, string(body["regions"]), "q=%q", tt.q)
	}
}

func TestStartShutdown(t *testing.T) {
	store, err := catalog.Open("", true, entity.DefaultRegistry())
	require.NoError(t, err)
	defer store.Close()

	srv := New(store)
	assert.Empty(t, srv.Addr())
	require.NoError(t, srv.Start("127.0.0.1:0"))
	assert.Error(t, srv.Start("127.0.0.1:0"))

	resp, err := http.Get("http://" + srv.Addr() + "/api/search/lecturer/?q=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, srv.Shutdown(ctx))
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
