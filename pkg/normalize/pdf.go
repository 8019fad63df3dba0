package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Options limits extraction work.
type Options struct {
	// MaxPages caps the number of PDF pages read. Zero means no limit.
	MaxPages int
}

// FromPDF validates the file with pdfcpu and extracts text page by page.
// A page that cannot be read is counted in Failed and left empty so later
// page numbers stay correct.
func FromPDF(path string, opts Options) (*Document, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, conf); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	doc := &Document{Kind: KindPDF, PageCount: r.NumPage()}
	limit := doc.PageCount
	if opts.MaxPages > 0 && limit > opts.MaxPages {
		limit = opts.MaxPages
	}

	pages := make([]string, limit)
	for i := 1; i <= limit; i++ {
		text, err := pageText(r.Page(i))
		if err != nil {
			doc.Failed++
			continue
		}
		pages[i-1] = text
		doc.Extracted++
	}

	doc.Text = Text(pages)
	return doc, nil
}

// pageText reads a page row by row, falling back to the content stream
// order when rows cannot be built. The pdf reader panics on some malformed
// content streams.
func pageText(p pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading page: %v", r)
		}
	}()

	if p.V.IsNull() {
		return "", fmt.Errorf("null page")
	}

	rows, err := p.GetTextByRow()
	if err != nil {
		return p.GetPlainText(nil)
	}

	// PDF y grows upwards: the top row has the highest position.
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Position > rows[j].Position
	})

	var b strings.Builder
	for _, row := range rows {
		if row == nil || len(row.Content) == 0 {
			continue
		}
		b.WriteString(rowText(row.Content))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// rowText joins the text runs of a row left to right, inserting a space
// where the gap between runs is wider than a fifth of the font size.
func rowText(runs []pdf.Text) string {
	sorted := make([]pdf.Text, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var b strings.Builder
	for i, run := range sorted {
		b.WriteString(run.S)
		if i == len(sorted)-1 {
			break
		}
		size := run.FontSize
		if size <= 0 {
			size = 12
		}
		if sorted[i+1].X-(run.X+run.W) > size*0.2 {
			b.WriteByte(' ')
		}
	}
	return b.String()
}
