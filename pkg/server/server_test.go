package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolbeans/clausemap/pkg/clause"
	"github.com/coolbeans/clausemap/pkg/library"
	"github.com/coolbeans/clausemap/pkg/progress"
	"github.com/coolbeans/clausemap/pkg/store"
	"github.com/coolbeans/clausemap/pkg/toc"
)

const tocText = `1 Definitions .......... 3
1.1 Contract
2 The Employer 5
2.1 Right of Access to the Site
14 Payment`

func newTestServer(t *testing.T, withLibrary bool) (*Server, *library.Library) {
	t.Helper()
	if !withLibrary {
		return New(Config{}), nil
	}

	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "clausemap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	lib := library.New(s, progress.NewTracker(progress.Options{}), nil, library.Options{TextDir: filepath.Join(dir, "text")})
	return New(Config{Library: lib, MaxBodyBytes: 1 << 16}), lib
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","storage":false}`, rec.Body.String())
}

func TestParseTOC(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := do(t, srv, http.MethodPost, "/api/toc/parse", map[string]string{"text": tocText})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp parseTOCResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, clause.Map{
		"1":   "Definitions",
		"1.1": "Contract",
		"2":   "The Employer",
		"2.1": "Right of Access to the Site",
		"14":  "Payment",
	}, resp.Clauses)
	require.Len(t, resp.Mappings, 5)
	assert.Equal(t, "14", resp.Mappings[4].Number)
}

func TestCheck(t *testing.T) {
	srv, _ := newTestServer(t, false)

	rec := do(t, srv, http.MethodPost, "/api/clauses/check", map[string]string{"text": " GC-1.2(a) "})
	assert.JSONEq(t, `{"isClauseNumber":true}`, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/clauses/check", map[string]string{"text": "SECTION"})
	assert.JSONEq(t, `{"isClauseNumber":false}`, rec.Body.String())
}

func TestReferences_InlineTOC(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := do(t, srv, http.MethodPost, "/api/clauses/references", map[string]any{
		"text": "As required by clause 2.1 and 14, and again 2.1.",
		"toc":  clause.ParseTOC(tocText),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp referencesResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, []string{"2.1", "14"}, resp.References)
	assert.Equal(t, "Payment", resp.Matches[1].Heading)
}

func TestReferences_NoneFound(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := do(t, srv, http.MethodPost, "/api/clauses/references", map[string]any{"text": "nothing here"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"references":[],"matches":[]}`, rec.Body.String())
}

func TestMatch(t *testing.T) {
	srv, _ := newTestServer(t, false)

	rec := do(t, srv, http.MethodPost, "/api/clauses/match", map[string]any{
		"number": "2.1(b)(ii)",
		"toc":    clause.ParseTOC(tocText),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"match":{"number":"2.1","heading":"Right of Access to the Site"}}`, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/clauses/match", map[string]any{
		"number": "9.4",
		"toc":    clause.ParseTOC(tocText),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExtendedTOC(t *testing.T) {
	srv, _ := newTestServer(t, false)
	text := "=== PAGE 1 ===\n2 Scope\n1 Definitions\n=== PAGE 2 ===\n1.1 Contract\n14 Days after notice\n"

	rec := do(t, srv, http.MethodPost, "/api/extended-toc?explain=true", map[string]string{"text": text})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp extendedTOCResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, []toc.Entry{
		{ClauseNumber: "1", Description: "Definitions", PageNo: 1},
		{ClauseNumber: "1.1", Description: "Contract", PageNo: 2},
		{ClauseNumber: "2", Description: "Scope", PageNo: 1},
	}, resp.Entries)
	assert.Equal(t, 3, resp.Stats.Entries)
	require.Len(t, resp.Trace, 4)
	assert.Equal(t, toc.ReasonSentence, resp.Trace[3].Reason)
}

func TestBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodPost, "/api/toc/parse", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")

	big := map[string]string{"text": strings.Repeat("x", 1<<17)}
	rec = do(t, srv, http.MethodPost, "/api/toc/parse", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/toc/parse", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAssetsWithoutLibrary(t *testing.T) {
	srv, _ := newTestServer(t, false)

	rec := do(t, srv, http.MethodGet, "/api/assets", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/clauses/match", map[string]string{"number": "1", "assetId": "a"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAssetLifecycle(t *testing.T) {
	srv, lib := newTestServer(t, true)

	path := filepath.Join(t.TempDir(), "conditions.txt")
	require.NoError(t, os.WriteFile(path, []byte("1 Definitions\n1.1 Contract\f2 The Employer\n"), 0o644))

	rec := do(t, srv, http.MethodPost, "/api/assets/gc/ingest", map[string]string{"path": path})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted map[string]string
	decodeBody(t, rec, &accepted)
	lib.Wait()

	rec = do(t, srv, http.MethodGet, "/api/jobs/"+accepted["jobId"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job progress.Job
	decodeBody(t, rec, &job)
	assert.Equal(t, progress.StateCompleted, job.State)

	rec = do(t, srv, http.MethodGet, "/api/assets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"gc"`)

	rec = do(t, srv, http.MethodGet, "/api/assets/gc/toc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tocResp assetTOCResponse
	decodeBody(t, rec, &tocResp)
	assert.Len(t, tocResp.Entries, 3)
	assert.Equal(t, 2, tocResp.Asset.PageCount)

	rec = do(t, srv, http.MethodGet, "/api/assets/gc/text", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "=== PAGE 2 ===")

	rec = do(t, srv, http.MethodPost, "/api/clauses/references", map[string]string{"text": "see 1.1", "assetId": "gc"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"references":["1.1"]`)

	rec = do(t, srv, http.MethodDelete, "/api/assets/gc", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/assets/gc/toc", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv, http.MethodDelete, "/api/assets/gc", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestText(t *testing.T) {
	srv, _ := newTestServer(t, true)

	rec := do(t, srv, http.MethodPost, "/api/assets/pasted/ingest", map[string]string{"text": "4 Variations\n4.1 Valuation\n"})
	require.Equal(t, http.StatusOK, rec.Code)
	var result library.Result
	decodeBody(t, rec, &result)
	assert.Equal(t, "pasted", result.AssetID)
	assert.Equal(t, 2, result.Stats.Entries)

	rec = do(t, srv, http.MethodPost, "/api/assets/pasted/ingest", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobs(t *testing.T) {
	srv, _ := newTestServer(t, true)

	rec := do(t, srv, http.MethodGet, "/api/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jobs":[]}`, rec.Body.String())
}

func TestDebugPage(t *testing.T) {
	srv, _ := newTestServer(t, false)

	rec := do(t, srv, http.MethodGet, "/debug", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<form")

	form := url.Values{"toc": {tocText}, "text": {"Under 2.1 the <Employer> shall pay per 14."}}
	req := httptest.NewRequest(http.MethodPost, "/debug", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `<mark title="2.1 Right of Access to the Site">2.1</mark>`)
	assert.Contains(t, body, `<mark title="14 Payment">14</mark>`)
	assert.Contains(t, body, "&lt;Employer&gt;")
}

func TestHighlight(t *testing.T) {
	m := clause.Map{"1.2": "Scope"}
	assert.Equal(t, []segment{
		{Text: "See "},
		{Text: "1.2", Number: "1.2", Heading: "Scope"},
		{Text: "."},
	}, highlight("See 1.2.", m))
	assert.Nil(t, highlight("", m))
}

func TestStart_Shutdown(t *testing.T) {
	srv := New(Config{Port: freePort(t)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, srv.IsRunning, time.Second, 5*time.Millisecond)
	assert.Error(t, srv.Start(context.Background()))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, srv.IsRunning())
}

func freePort(t *testing.T) int {
	t.Helper()
	ts := httptest.NewServer(http.NotFoundHandler())
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	ts.Close()

	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}
