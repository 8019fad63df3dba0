package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/coolbeans/clausemap/pkg/clause"
	"github.com/coolbeans/clausemap/pkg/store"
	"github.com/coolbeans/clausemap/pkg/toc"
)

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/toc/parse", s.handleParseTOC)
	mux.HandleFunc("POST /api/clauses/check", s.handleCheck)
	mux.HandleFunc("POST /api/clauses/references", s.handleReferences)
	mux.HandleFunc("POST /api/clauses/match", s.handleMatch)
	mux.HandleFunc("POST /api/extended-toc", s.handleExtendedTOC)

	mux.HandleFunc("GET /api/assets", s.requireLibrary(s.handleListAssets))
	mux.HandleFunc("GET /api/assets/{id}/toc", s.requireLibrary(s.handleAssetTOC))
	mux.HandleFunc("GET /api/assets/{id}/text", s.requireLibrary(s.handleAssetText))
	mux.HandleFunc("POST /api/assets/{id}/ingest", s.requireLibrary(s.handleIngest))
	mux.HandleFunc("DELETE /api/assets/{id}", s.requireLibrary(s.handleDeleteAsset))

	mux.HandleFunc("GET /api/jobs", s.requireLibrary(s.handleListJobs))
	mux.HandleFunc("GET /api/jobs/{id}", s.requireLibrary(s.handleGetJob))

	mux.HandleFunc("GET /debug", s.handleDebug)
	mux.HandleFunc("POST /debug", s.handleDebug)

	return mux
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decode reads a JSON body no larger than the configured limit.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) requireLibrary(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.lib == nil {
			writeError(w, http.StatusServiceUnavailable, "asset storage is not configured")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"storage": s.lib != nil,
	})
}

type textRequest struct {
	Text string `json:"text"`
}

type parseTOCResponse struct {
	Clauses  clause.Map       `json:"clauses"`
	Mappings []clause.Mapping `json:"mappings"`
}

func (s *Server) handleParseTOC(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	m := clause.ParseTOC(req.Text)
	writeJSON(w, http.StatusOK, parseTOCResponse{Clauses: m, Mappings: m.Mappings()})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isClauseNumber": clause.IsClauseNumber(req.Text)})
}

// lookupRequest names the clause map either inline or by stored asset.
type lookupRequest struct {
	Text    string            `json:"text"`
	Number  string            `json:"number"`
	TOC     map[string]string `json:"toc"`
	AssetID string            `json:"assetId"`
}

// clauseMap resolves the map a lookup runs against and writes the error
// response itself when it cannot.
func (s *Server) clauseMap(w http.ResponseWriter, r *http.Request, req lookupRequest) (clause.Map, bool) {
	if req.AssetID == "" {
		return clause.Map(req.TOC), true
	}
	if s.lib == nil {
		writeError(w, http.StatusServiceUnavailable, "asset storage is not configured")
		return nil, false
	}
	m, err := s.lib.Store().ClauseMap(r.Context(), req.AssetID)
	if err != nil {
		s.storeError(w, err)
		return nil, false
	}
	return m, true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.log.Error("Store request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

type referencesResponse struct {
	References []string       `json:"references"`
	Matches    []clause.Match `json:"matches"`
}

func (s *Server) handleReferences(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, ok := s.clauseMap(w, r, req)
	if !ok {
		return
	}

	refs := clause.FindReferences(req.Text, m)
	resp := referencesResponse{References: refs, Matches: make([]clause.Match, 0, len(refs))}
	if resp.References == nil {
		resp.References = []string{}
	}
	for _, ref := range refs {
		resp.Matches = append(resp.Matches, clause.Match{Number: ref, Heading: m[ref]})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req lookupRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, ok := s.clauseMap(w, r, req)
	if !ok {
		return
	}

	match, found := clause.FindBestMatch(req.Number, m)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no clause matches %q", req.Number))
		return
	}
	writeJSON(w, http.StatusOK, map[string]clause.Match{"match": match})
}

type extendedTOCResponse struct {
	Entries []toc.Entry `json:"entries"`
	Stats   toc.Stats   `json:"stats"`
	Trace   []toc.Trace `json:"trace,omitempty"`
}

func (s *Server) handleExtendedTOC(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}

	entries := s.builder.Build(req.Text)
	toc.SortExtended(entries)
	resp := extendedTOCResponse{Entries: entries, Stats: toc.Summarize(entries)}
	if resp.Entries == nil {
		resp.Entries = []toc.Entry{}
	}
	if explain, _ := strconv.ParseBool(r.URL.Query().Get("explain")); explain {
		resp.Trace = s.builder.Explain(req.Text)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.lib.Store().Assets(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	if assets == nil {
		assets = []store.Asset{}
	}
	writeJSON(w, http.StatusOK, map[string][]store.Asset{"assets": assets})
}

type assetTOCResponse struct {
	Asset   store.Asset `json:"asset"`
	Entries []toc.Entry `json:"entries"`
}

func (s *Server) handleAssetTOC(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	asset, err := s.lib.Store().Asset(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	entries, err := s.lib.Store().ExtendedToc(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if entries == nil {
		entries = []toc.Entry{}
	}
	writeJSON(w, http.StatusOK, assetTOCResponse{Asset: asset, Entries: entries})
}

func (s *Server) handleAssetText(w http.ResponseWriter, r *http.Request) {
	text, err := s.lib.LoadSourceText(r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(text))
}

type ingestRequest struct {
	Path   string `json:"path"`
	Text   string `json:"text"`
	Source string `json:"source"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := r.PathValue("id")

	switch {
	case req.Path != "":
		jobID := s.lib.IngestAsync(r.Context(), id, req.Path)
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
	case req.Text != "":
		source := req.Source
		if source == "" {
			source = "api"
		}
		result, err := s.lib.IngestText(r.Context(), id, source, req.Text)
		if err != nil {
			s.storeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, http.StatusBadRequest, "either path or text is required")
	}
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := s.lib.Remove(r.Context(), r.PathValue("id")); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.tracker.List()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.tracker.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
