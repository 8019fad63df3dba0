package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coolbeans/clausemap/pkg/config"
)

var version = "0.1.0"

// app is the state shared by every command once the root has run its
// pre-run hook.
type app struct {
	cfg *config.Config
	log *zap.Logger
	out printer
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	state := &app{}

	rootCmd := &cobra.Command{
		Use:   "clausemap",
		Short: "Clause number parsing and table of contents extraction",
		Long: `Clausemap recognizes clause numbers in contract documents, maps them
to their headings and finds clause references in free text.

It can:
  - Parse a table of contents into a clause map
  - Find and resolve clause references in a passage
  - Build an extended table of contents from a document body
  - Ingest PDF and text documents into a local asset store
  - Serve all of the above over HTTP and watch an inbox directory`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return state.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.log != nil {
				_ = state.log.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default: ./clausemap.yaml or $HOME/.clausemap/clausemap.yaml)")
	flags.StringP("format", "f", "text", "Output format: text, json or yaml")
	flags.Bool("no-color", false, "Disable colored output")
	flags.BoolP("verbose", "v", false, "Log debug messages to stderr")
	flags.String("db", "", "Asset database path (overrides store.path)")

	rootCmd.AddCommand(tocCmd(state))
	rootCmd.AddCommand(checkCmd(state))
	rootCmd.AddCommand(refsCmd(state))
	rootCmd.AddCommand(matchCmd(state))
	rootCmd.AddCommand(extendedCmd(state))
	rootCmd.AddCommand(normalizeCmd(state))
	rootCmd.AddCommand(ingestCmd(state))
	rootCmd.AddCommand(showCmd(state))
	rootCmd.AddCommand(assetsCmd(state))
	rootCmd.AddCommand(removeCmd(state))
	rootCmd.AddCommand(serveCmd(state))
	rootCmd.AddCommand(watchCmd(state))
	rootCmd.AddCommand(configCmd(state))

	return rootCmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	format, _ := cmd.Flags().GetString("format")
	noColor, _ := cmd.Flags().GetBool("no-color")
	verbose, _ := cmd.Flags().GetBool("verbose")
	dbPath, _ := cmd.Flags().GetString("db")

	out, err := newPrinter(cmd.OutOrStdout(), format)
	if err != nil {
		return err
	}
	if noColor {
		color.NoColor = true
	}
	a.out = out

	manager, err := config.NewManager(cfgFile)
	if err != nil {
		return err
	}
	a.cfg = manager.Get()
	if dbPath != "" {
		a.cfg.Store.Path = dbPath
	}
	if verbose {
		a.cfg.Logging.Console.Level = "debug"
	}

	a.log, err = a.cfg.Logging.Prepare()
	if err != nil {
		return err
	}
	if used := manager.ConfigFileUsed(); used != "" {
		a.log.Debug("Loaded configuration", zap.String("file", used))
	}
	return nil
}
