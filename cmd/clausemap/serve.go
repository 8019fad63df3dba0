package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coolbeans/clausemap/pkg/library"
	"github.com/coolbeans/clausemap/pkg/server"
	"github.com/coolbeans/clausemap/pkg/watch"
)

func serveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the clausemap HTTP API",
		Long: `Start the HTTP API and the /debug page. With --watch, files dropped into
the inbox directory are ingested while the server runs.

Examples:
  clausemap serve
  clausemap serve --port 9000 --watch ./inbox`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			host, _ := cmd.Flags().GetString("host")
			port, _ := cmd.Flags().GetInt("port")
			inbox, _ := cmd.Flags().GetString("watch")

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}

			lib, s, err := a.openLibrary()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var wg sync.WaitGroup
			if inbox != "" {
				w, err := a.newWatcher(inbox)
				if err != nil {
					return err
				}
				defer w.Close()
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := a.runInbox(ctx, w, lib, false); err != nil {
						a.log.Error("Inbox stopped", zap.Error(err))
					}
				}()
			}

			srv := server.New(server.Config{
				Host:         a.cfg.Server.Host,
				Port:         a.cfg.Server.Port,
				MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
				Library:      lib,
				Logger:       a.log,
			})
			fmt.Fprintf(cmd.ErrOrStderr(), "Serving on http://%s (debug page at /debug)\n", srv.Addr())

			err = srv.Start(ctx)
			stop()
			wg.Wait()
			return err
		},
	}
	cmd.Flags().String("host", "", "Address to bind (overrides server.host)")
	cmd.Flags().Int("port", 0, "Port to listen on (overrides server.port)")
	cmd.Flags().String("watch", "", "Inbox directory to ingest from while serving")
	return cmd
}

func watchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Ingest documents as they appear in an inbox directory",
		Long: `Watch a directory and ingest every matching PDF or text file once it
stops changing. Files already present are ingested first unless
--skip-existing is given. Unchanged content is never ingested twice.

Examples:
  clausemap watch ./inbox
  clausemap watch --skip-existing`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			skipExisting, _ := cmd.Flags().GetBool("skip-existing")
			dir := a.cfg.Watch.Dir
			if len(args) > 0 {
				dir = args[0]
			}

			lib, s, err := a.openLibrary()
			if err != nil {
				return err
			}
			defer s.Close()

			w, err := a.newWatcher(dir)
			if err != nil {
				return err
			}
			defer w.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (Ctrl-C to stop)\n", dir)
			if err := a.runInbox(ctx, w, lib, skipExisting); err != nil {
				return err
			}

			stats := w.Stats()
			a.log.Info("Inbox closed",
				zap.Int("handled", stats.Handled),
				zap.Int("unchanged", stats.Unchanged),
				zap.Int("errors", stats.Errors))
			return nil
		},
	}
	cmd.Flags().Bool("skip-existing", false, "Do not ingest files already in the directory")
	return cmd
}

func (a *app) newWatcher(dir string) (*watch.Watcher, error) {
	w, err := watch.New(dir, watch.Options{
		Debounce: a.cfg.Watch.Debounce,
		Patterns: a.cfg.Watch.Patterns,
		Logger:   a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return w, nil
}

// runInbox ingests the files already in the inbox, then every file that
// settles until ctx is done.
func (a *app) runInbox(ctx context.Context, w *watch.Watcher, lib *library.Library, skipExisting bool) error {
	handle := func(ctx context.Context, path string) {
		result, err := lib.Ingest(ctx, "", path)
		if err != nil {
			a.log.Error("Ingesting inbox file", zap.String("path", path), zap.Error(err))
			return
		}
		if err := a.out.emit(result, func(tw io.Writer) {
			fmt.Fprintf(tw, "%s %s %s\n", okColor.Sprint("Ingested"), numberColor.Sprint(result.AssetID),
				dimColor.Sprintf("(%d entries, %d pages)", result.Stats.Entries, result.Pages))
		}); err != nil {
			a.log.Warn("Writing result", zap.Error(err))
		}
	}

	existing, err := w.Existing()
	if err != nil {
		return err
	}
	for _, path := range existing {
		if !skipExisting {
			handle(ctx, path)
		}
		if err := w.MarkProcessed(path); err != nil {
			a.log.Warn("Cannot hash inbox file", zap.String("path", path), zap.Error(err))
		}
	}

	return w.Run(ctx, handle)
}
