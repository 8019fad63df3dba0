package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coolbeans/clausemap/pkg/clause"
	"github.com/coolbeans/clausemap/pkg/normalize"
	"github.com/coolbeans/clausemap/pkg/toc"
)

// readInput reads the named file, or stdin when no file or "-" is given.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

func tocCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toc [file]",
		Short: "Parse a table of contents into a clause map",
		Long: `Parse a table of contents, one "<number> <heading>" per line, into a
clause map. Dot leaders and trailing page numbers are removed from headings.

Examples:
  clausemap toc contents.txt
  clausemap toc --format json < contents.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			mappings := clause.ParseTOC(text).Mappings()
			return a.out.emit(mappings, func(w io.Writer) {
				if len(mappings) == 0 {
					fmt.Fprintln(w, dimColor.Sprint("No clauses found."))
					return
				}
				for _, mapping := range mappings {
					printClause(w, mapping.Number, mapping.Heading)
				}
			})
		},
	}
}

type checkResult struct {
	Text           string `json:"text" yaml:"text"`
	IsClauseNumber bool   `json:"isClauseNumber" yaml:"isClauseNumber"`
}

func checkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "check <text>...",
		Short:   "Check whether each argument is a clause number",
		Example: `  clausemap check 1.2 "GC-1.2(a)" SECTION`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]checkResult, 0, len(args))
			for _, arg := range args {
				results = append(results, checkResult{Text: arg, IsClauseNumber: clause.IsClauseNumber(arg)})
			}
			return a.out.emit(results, func(w io.Writer) {
				for _, r := range results {
					verdict := badColor.Sprint("no ")
					if r.IsClauseNumber {
						verdict = okColor.Sprint("yes")
					}
					fmt.Fprintf(w, "%s  %s\n", verdict, r.Text)
				}
			})
		},
	}
}

// lookupMap loads the clause map named by --toc or --asset.
func (a *app) lookupMap(cmd *cobra.Command) (clause.Map, error) {
	tocPath, _ := cmd.Flags().GetString("toc")
	assetID, _ := cmd.Flags().GetString("asset")

	switch {
	case tocPath != "" && assetID != "":
		return nil, fmt.Errorf("--toc and --asset are mutually exclusive")
	case tocPath != "":
		data, err := os.ReadFile(tocPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read table of contents: %w", err)
		}
		return clause.ParseTOC(string(data)), nil
	case assetID != "":
		s, err := a.openStore()
		if err != nil {
			return nil, err
		}
		defer s.Close()
		return s.ClauseMap(cmd.Context(), assetID)
	default:
		return nil, fmt.Errorf("one of --toc or --asset is required")
	}
}

func addLookupFlags(cmd *cobra.Command) {
	cmd.Flags().String("toc", "", "Table of contents file")
	cmd.Flags().String("asset", "", "Stored asset to take the clause map from")
}

func refsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refs [file]",
		Short: "Find clause references in a passage",
		Long: `Find every clause number in the passage that the clause map knows,
in order of first appearance.

Examples:
  clausemap refs --toc contents.txt letter.txt
  echo "as required by clause 2.1(a)" | clausemap refs --asset general-conditions`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.lookupMap(cmd)
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			matches := []clause.Match{}
			for _, ref := range clause.FindReferences(text, m) {
				matches = append(matches, clause.Match{Number: ref, Heading: m[ref]})
			}
			return a.out.emit(matches, func(w io.Writer) {
				if len(matches) == 0 {
					fmt.Fprintln(w, dimColor.Sprint("No references found."))
					return
				}
				for _, match := range matches {
					printClause(w, match.Number, match.Heading)
				}
			})
		},
	}
	addLookupFlags(cmd)
	return cmd
}

func matchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <number>",
		Short: "Resolve a clause number to its nearest known ancestor",
		Long: `Resolve a clause number against the clause map, dropping trailing
parentheticals and segments until a known clause is found.

Example:
  clausemap match --toc contents.txt "14.3(b)(ii)"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.lookupMap(cmd)
			if err != nil {
				return err
			}
			match, found := clause.FindBestMatch(args[0], m)
			if !found {
				return fmt.Errorf("no clause matches %q", args[0])
			}
			return a.out.emit(match, func(w io.Writer) {
				printClause(w, match.Number, match.Heading)
			})
		},
	}
	addLookupFlags(cmd)
	return cmd
}

// loadDocument normalizes the named file, or plain text from stdin.
func (a *app) loadDocument(cmd *cobra.Command, args []string) (*normalize.Document, error) {
	if len(args) == 0 || args[0] == "-" {
		raw, err := readInput(cmd, nil)
		if err != nil {
			return nil, err
		}
		text, pages := normalize.FromPlainText(raw)
		return &normalize.Document{Kind: normalize.KindText, Text: text, PageCount: pages, Extracted: pages}, nil
	}
	return normalize.FromFile(args[0], normalize.Options{MaxPages: a.cfg.Normalize.MaxPages})
}

type extendedOutput struct {
	Entries []toc.Entry `json:"entries" yaml:"entries"`
	Stats   toc.Stats   `json:"stats" yaml:"stats"`
	Trace   []toc.Trace `json:"trace,omitempty" yaml:"trace,omitempty"`
}

func extendedCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extended [file]",
		Short: "Build an extended table of contents from a document body",
		Long: `Scan a document body page by page for clause headings and print them
with the page each first appears on. PDF files are converted to text first.

Examples:
  clausemap extended conditions.pdf
  clausemap extended --explain conditions.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			explain, _ := cmd.Flags().GetBool("explain")

			doc, err := a.loadDocument(cmd, args)
			if err != nil {
				return err
			}

			builder := toc.NewBuilder()
			entries := builder.Build(doc.Text)
			toc.SortExtended(entries)
			out := extendedOutput{Entries: entries, Stats: toc.Summarize(entries)}
			if out.Entries == nil {
				out.Entries = []toc.Entry{}
			}
			if explain {
				out.Trace = builder.Explain(doc.Text)
			}

			return a.out.emit(out, func(w io.Writer) {
				if explain {
					for _, t := range out.Trace {
						verdict := badColor.Sprintf("%-18s", t.Reason)
						if t.Reason == toc.ReasonAccepted {
							verdict = okColor.Sprintf("%-18s", t.Reason)
						}
						fmt.Fprintf(w, "%s %s %s %s\n", dimColor.Sprintf("p%-3d l%-5d", t.Page, t.Line), verdict, numberColor.Sprint(t.Number), t.Heading)
					}
					fmt.Fprintln(w)
				}
				for _, e := range out.Entries {
					fmt.Fprintf(w, "%s  %s %s\n", numberColor.Sprintf("%-12s", e.ClauseNumber),
						headingColor.Sprint(e.Description), dimColor.Sprintf("(p. %d)", e.PageNo))
				}
				fmt.Fprintln(w, dimColor.Sprintf("%d entries on %d pages, %d top level, depth %d",
					out.Stats.Entries, out.Stats.Pages, out.Stats.TopLevel, out.Stats.MaxDepth))
			})
		},
	}
	cmd.Flags().Bool("explain", false, "Report a verdict for every candidate heading line")
	return cmd
}

type normalizeOutput struct {
	Document *normalize.Document `json:"document" yaml:"document"`
	Text     string              `json:"text" yaml:"text"`
}

func normalizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [file]",
		Short: "Print the normalized text of a PDF or text document",
		Long: `Convert a document to the normalized text the table of contents builder
reads: one "=== PAGE n ===" marker per page and clean single-spaced lines.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.loadDocument(cmd, args)
			if err != nil {
				return err
			}
			return a.out.emit(normalizeOutput{Document: doc, Text: doc.Text}, func(w io.Writer) {
				fmt.Fprint(w, doc.Text)
				if !strings.HasSuffix(doc.Text, "\n") && doc.Text != "" {
					fmt.Fprintln(w)
				}
			})
		},
	}
}
