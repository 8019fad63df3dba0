package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/h2non/filetype"
)

// Kind is the detected format of an input file.
type Kind string

const (
	KindUnknown Kind = "unknown"
	KindPDF     Kind = "pdf"
	KindText    Kind = "text"
)

// ErrUnsupported is returned for inputs that are neither PDF nor text.
var ErrUnsupported = errors.New("unsupported document format")

// headSize is enough for every matcher filetype ships.
const headSize = 8192

// DetectKind sniffs the leading bytes of a file.
func DetectKind(head []byte) Kind {
	if filetype.Is(head, "pdf") {
		return KindPDF
	}
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		return KindUnknown
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return KindUnknown
	}
	// A multi-byte rune may be cut at the end of the sniffed prefix.
	for trimmed := 0; trimmed < utf8.UTFMax && len(head) > 0; trimmed++ {
		if utf8.Valid(head) {
			return KindText
		}
		head = head[:len(head)-1]
	}
	if len(head) == 0 {
		return KindText
	}
	return KindUnknown
}

// FromFile normalizes a PDF or plain-text file.
func FromFile(path string, opts Options) (*Document, error) {
	head, err := readHead(path)
	if err != nil {
		return nil, err
	}

	switch DetectKind(head) {
	case KindPDF:
		return FromPDF(path, opts)
	case KindText:
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		text, pages := FromPlainText(string(raw))
		return &Document{Kind: KindText, Text: text, PageCount: pages, Extracted: pages}, nil
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, headSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return head[:n], nil
}
