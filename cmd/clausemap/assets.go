package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coolbeans/clausemap/pkg/library"
	"github.com/coolbeans/clausemap/pkg/normalize"
	"github.com/coolbeans/clausemap/pkg/progress"
	"github.com/coolbeans/clausemap/pkg/store"
	"github.com/coolbeans/clausemap/pkg/toc"
)

func (a *app) openStore() (*store.Store, error) {
	s, err := store.Open(a.cfg.Store.Path, store.WithLogger(a.log))
	if err != nil {
		return nil, fmt.Errorf("failed to open asset store: %w", err)
	}
	return s, nil
}

// openLibrary opens the store and wraps it in a library. The caller closes
// the returned store.
func (a *app) openLibrary() (*library.Library, *store.Store, error) {
	s, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	tracker := progress.NewTracker(progress.Options{
		MaxAge:        a.cfg.Progress.MaxAge,
		SweepInterval: a.cfg.Progress.SweepInterval,
		Logger:        a.log,
	})
	lib := library.New(s, tracker, a.log, library.Options{
		TextDir:   a.cfg.Store.TextDir,
		Normalize: normalize.Options{MaxPages: a.cfg.Normalize.MaxPages},
	})
	return lib, s, nil
}

func printResult(w io.Writer, r *library.Result) {
	fmt.Fprintf(w, "%s %s\n", okColor.Sprint("Ingested"), numberColor.Sprint(r.AssetID))
	printField(w, "Source", r.Source)
	printField(w, "Kind", r.Kind)
	printField(w, "Pages", r.Pages)
	if r.Failed > 0 {
		printField(w, "Failed", badColor.Sprint(r.Failed))
	}
	printField(w, "Entries", r.Stats.Entries)
	printField(w, "Top level", r.Stats.TopLevel)
	printField(w, "Depth", r.Stats.MaxDepth)
}

func ingestCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Store the extended table of contents of documents",
		Long: `Normalize each PDF or text document, build its extended table of contents
and store it as an asset. Re-ingesting an asset replaces its entries.

Examples:
  clausemap ingest "General Conditions.pdf"
  clausemap ingest --id gc conditions.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID, _ := cmd.Flags().GetString("id")
			withEntries, _ := cmd.Flags().GetBool("entries")
			if assetID != "" && len(args) > 1 {
				return fmt.Errorf("--id can only be used with a single file")
			}

			lib, s, err := a.openLibrary()
			if err != nil {
				return err
			}
			defer s.Close()

			results := make([]*library.Result, 0, len(args))
			for _, path := range args {
				result, err := lib.Ingest(cmd.Context(), assetID, path)
				if err != nil {
					return err
				}
				if !withEntries {
					result.Entries = nil
				}
				results = append(results, result)
			}

			return a.out.emit(results, func(w io.Writer) {
				for i, r := range results {
					if i > 0 {
						fmt.Fprintln(w)
					}
					printResult(w, r)
				}
			})
		},
	}
	cmd.Flags().String("id", "", "Asset ID (derived from the file name if omitted)")
	cmd.Flags().Bool("entries", false, "Include the entries in structured output")
	return cmd
}

type showOutput struct {
	Asset   store.Asset `json:"asset" yaml:"asset"`
	Entries []toc.Entry `json:"entries" yaml:"entries"`
}

func showCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <asset-id>",
		Short: "Print the stored extended table of contents of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showText, _ := cmd.Flags().GetBool("text")

			lib, s, err := a.openLibrary()
			if err != nil {
				return err
			}
			defer s.Close()

			if showText {
				text, err := lib.LoadSourceText(args[0])
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), text)
				return err
			}

			asset, err := s.Asset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			entries, err := s.ExtendedToc(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []toc.Entry{}
			}

			return a.out.emit(showOutput{Asset: asset, Entries: entries}, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %s\n", numberColor.Sprint(asset.ID), dimColor.Sprintf("%s, %d pages, updated %s",
					asset.Source, asset.PageCount, asset.UpdatedAt.Local().Format("2006-01-02 15:04")))
				for _, e := range entries {
					fmt.Fprintf(w, "%s  %s %s\n", numberColor.Sprintf("%-12s", e.ClauseNumber),
						headingColor.Sprint(e.Description), dimColor.Sprintf("(p. %d)", e.PageNo))
				}
			})
		},
	}
	cmd.Flags().Bool("text", false, "Print the stored normalized text instead")
	return cmd
}

func assetsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "assets",
		Short: "List stored assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			assets, err := s.Assets(cmd.Context())
			if err != nil {
				return err
			}
			if assets == nil {
				assets = []store.Asset{}
			}

			return a.out.emit(assets, func(w io.Writer) {
				if len(assets) == 0 {
					fmt.Fprintln(w, dimColor.Sprint("No assets stored."))
					return
				}
				for _, asset := range assets {
					fmt.Fprintf(w, "%s %s %s\n", numberColor.Sprintf("%-32s", asset.ID),
						labelColor.Sprintf("%4d entries", asset.EntryCount),
						dimColor.Sprintf("%3d pages  %s", asset.PageCount, asset.Source))
				}
			})
		},
	}
}

func removeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <asset-id>...",
		Short: "Delete stored assets and their text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, s, err := a.openLibrary()
			if err != nil {
				return err
			}
			defer s.Close()

			var failed []string
			for _, id := range args {
				if err := lib.Remove(cmd.Context(), id); err != nil {
					a.log.Sugar().Warnf("Removing %s: %v", id, err)
					failed = append(failed, id)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okColor.Sprint("Removed"), id)
			}
			if len(failed) > 0 {
				return fmt.Errorf("failed to remove: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}
