package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/project-copacetic/basescan/internal/diagnostic"
	"github.com/project-copacetic/basescan/internal/scanner"
	"github.com/project-copacetic/basescan/internal/types"
	"github.com/project-copacetic/basescan/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch DIR...",
	Short: "Watch directories and re-scan Dockerfiles as they change",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := scanner.FromConfig(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer sc.Close()

		out := cmd.OutOrStdout()
		store := diagnostic.NewStore(func(uri string, diags []diagnostic.Diagnostic) {
			if diags == nil {
				fmt.Fprintf(out, "%s: closed\n", uri)
				return
			}
			printTable(out, []types.DocumentDiagnostics{{URI: uri, Diagnostics: diags}})
		})
		ws := watcher.NewWorkspace(sc, store,
			watcher.WithDebounce(cfg.Debounce),
			watcher.WithLogger(logger))
		defer ws.Shutdown()

		fw, err := watcher.NewFileWatcher(ws, logger, args...)
		if err != nil {
			return err
		}
		logger.WithField("dirs", args).Info("watching for Dockerfile changes")
		return fw.Run(cmd.Context())
	},
}
