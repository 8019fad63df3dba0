package server

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/coolbeans/clausemap/pkg/clause"
)

// segment is a run of the debug text, highlighted when it is a reference.
type segment struct {
	Text    string
	Number  string
	Heading string
}

type debugReference struct {
	Number  string
	Heading string
}

type debugPage struct {
	TOC        string
	Text       string
	AssetID    string
	Error      string
	Mappings   []clause.Mapping
	Segments   []segment
	References []debugReference
}

var debugTemplate = template.Must(template.New("debug").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>clausemap debug</title>
    <style>
        body { font-family: sans-serif; margin: 2em; max-width: 70em; }
        textarea { width: 100%; font-family: monospace; }
        mark { background: #ffe08a; cursor: help; }
        .error { color: #a40000; }
        pre { white-space: pre-wrap; border: 1px solid #ccc; padding: 1em; }
        table { border-collapse: collapse; }
        td, th { border: 1px solid #ccc; padding: 0.2em 0.6em; text-align: left; }
    </style>
</head>
<body>
    <h1>Clause references</h1>
    <form method="post" action="/debug">
        <label>Table of contents</label>
        <textarea name="toc" rows="10">{{.TOC}}</textarea>
        <label>or stored asset <input name="asset" value="{{.AssetID}}"></label>
        <label>Text</label>
        <textarea name="text" rows="10">{{.Text}}</textarea>
        <button type="submit">Highlight</button>
    </form>

    {{if .Error}}<p class="error">{{.Error}}</p>{{end}}

    {{if .Segments}}
    <h2>Highlighted</h2>
    <pre>{{range .Segments}}{{if .Number}}<mark title="{{.Number}} {{.Heading}}">{{.Text}}</mark>{{else}}{{.Text}}{{end}}{{end}}</pre>
    {{end}}

    {{if .References}}
    <h2>References</h2>
    <table>
        <tr><th>Number</th><th>Heading</th></tr>
        {{range .References}}
        <tr><td>{{.Number}}</td><td>{{.Heading}}</td></tr>
        {{end}}
    </table>
    {{end}}

    {{if .Mappings}}
    <h2>Parsed clauses</h2>
    <table>
        <tr><th>Number</th><th>Heading</th></tr>
        {{range .Mappings}}
        <tr><td>{{.Number}}</td><td>{{.Heading}}</td></tr>
        {{end}}
    </table>
    {{end}}
</body>
</html>`))

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	var page debugPage

	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		if err := r.ParseForm(); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
			return
		}
		page.TOC = r.PostForm.Get("toc")
		page.Text = r.PostForm.Get("text")
		page.AssetID = strings.TrimSpace(r.PostForm.Get("asset"))
		s.fillDebugPage(r, &page)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := debugTemplate.Execute(w, page); err != nil {
		s.log.Error("Rendering debug page", zap.Error(err))
	}
}

func (s *Server) fillDebugPage(r *http.Request, page *debugPage) {
	m := clause.ParseTOC(page.TOC)
	if page.AssetID != "" {
		if s.lib == nil {
			page.Error = "asset storage is not configured"
			return
		}
		stored, err := s.lib.Store().ClauseMap(r.Context(), page.AssetID)
		if err != nil {
			page.Error = err.Error()
			return
		}
		m = stored
	}

	page.Mappings = m.Mappings()
	page.Segments = highlight(page.Text, m)
	for _, ref := range clause.FindReferences(page.Text, m) {
		page.References = append(page.References, debugReference{Number: ref, Heading: m[ref]})
	}
}

// highlight splits text into plain and reference segments.
func highlight(text string, m clause.Map) []segment {
	var segments []segment
	pos := 0
	for _, span := range clause.FindReferenceSpans(text, m) {
		if span.Start > pos {
			segments = append(segments, segment{Text: text[pos:span.Start]})
		}
		segments = append(segments, segment{Text: span.Number, Number: span.Number, Heading: m[span.Number]})
		pos = span.End
	}
	if pos < len(text) {
		segments = append(segments, segment{Text: text[pos:]})
	}
	return segments
}
