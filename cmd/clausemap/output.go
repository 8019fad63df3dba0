package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

var (
	numberColor  = color.New(color.FgCyan, color.Bold)
	headingColor = color.New(color.FgWhite)
	okColor      = color.New(color.FgGreen)
	badColor     = color.New(color.FgRed)
	dimColor     = color.New(color.FgHiBlack)
	labelColor   = color.New(color.FgYellow)
)

// printer writes command results either as structured data or through the
// command's own text renderer.
type printer struct {
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) (printer, error) {
	switch format {
	case "text", "json", "yaml":
		return printer{w: w, format: format}, nil
	default:
		return printer{}, fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

// emit writes v as JSON or YAML, or calls text for the text format.
func (p printer) emit(v any, text func(w io.Writer)) error {
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(p.w)
		return nil
	}
}

func printClause(w io.Writer, number, heading string) {
	fmt.Fprintf(w, "%s  %s\n", numberColor.Sprintf("%-12s", number), headingColor.Sprint(heading))
}

func printField(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "%s %v\n", labelColor.Sprintf("%-12s", label+":"), value)
}
