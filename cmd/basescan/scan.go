package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/project-copacetic/basescan/internal/diagnostic"
	"github.com/project-copacetic/basescan/internal/scanner"
	"github.com/project-copacetic/basescan/internal/types"
	"github.com/project-copacetic/basescan/internal/watcher"
)

var (
	failOnError  bool
	outputFormat string
)

var scanCmd = &cobra.Command{
	Use:   "scan FILE...",
	Short: "Scan Dockerfiles once and print their diagnostics",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := scanner.FromConfig(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer sc.Close()

		var results []types.DocumentDiagnostics
		for _, path := range args {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			diags, err := sc.Scan(cmd.Context(), watcher.URI(path), content)
			if err != nil {
				return err
			}
			results = append(results, types.DocumentDiagnostics{URI: path, Diagnostics: diags})
		}

		if err := render(cmd.OutOrStdout(), outputFormat, results); err != nil {
			return err
		}
		if failOnError && hasErrors(results) {
			return fmt.Errorf("error diagnostics reported")
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "exit non-zero when any error diagnostic is reported")
	scanCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format: table or json")
}

func render(w io.Writer, format string, results []types.DocumentDiagnostics) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case "table":
		printTable(w, results)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func printTable(w io.Writer, results []types.DocumentDiagnostics) {
	text.DisableColors()
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"File", "Line", "Image", "Severity", "Message"})
	for _, r := range results {
		for _, d := range r.Diagnostics {
			t.AppendRow(table.Row{r.URI, d.Range.Start.Line + 1, d.Image, d.Severity, d.Message})
		}
	}
	if t.Length() == 0 {
		fmt.Fprintln(w, "No base image diagnostics.")
		return
	}
	t.Render()
}

func hasErrors(results []types.DocumentDiagnostics) bool {
	return lo.SomeBy(results, func(r types.DocumentDiagnostics) bool {
		return lo.SomeBy(r.Diagnostics, func(d diagnostic.Diagnostic) bool {
			return d.Severity == diagnostic.SeverityError
		})
	})
}
