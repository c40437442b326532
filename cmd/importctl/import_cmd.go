package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/competency-import/internal/core"
	"github.com/JonMunkholm/competency-import/internal/report"
)

type importOptions struct {
	layout string
	apply  bool
	report string
	json   bool
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a matrix (dry run unless --apply)",
		Long: "Import reads the matrix and resolves every record. Without --apply nothing is " +
			"written. Interrupting the command stops after the current record.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readInput(args[0], opts.layout, !opts.apply)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			im, err := e.importer()
			if err != nil {
				return err
			}
			return runImport(ctx, im, in, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.layout, "layout", "auto", "Layout: auto, flat or block")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Write people and competencies")
	cmd.Flags().StringVar(&opts.report, "report", "", "Write failed records to this XLSX file")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the result as JSON")
	return cmd
}

// runner is the part of core.Importer the command drives.
type runner interface {
	Run(ctx context.Context, runID string, in core.Input, progress core.ProgressFunc) (core.ImportResult, error)
}

func runImport(ctx context.Context, im runner, in core.Input, opts importOptions, stdout, stderr io.Writer) error {
	res, err := im.Run(ctx, uuid.NewString(), in, func(p core.Progress) {
		if p.Phase == core.PhaseImporting {
			fmt.Fprintf(stderr, "\r%d/%d  ok %d  failed %d", p.Current, p.Total, p.Succeeded, p.Failed)
		}
	})
	fmt.Fprintln(stderr)
	if err != nil {
		return inputError(err)
	}

	if opts.report != "" && len(res.Errors) > 0 {
		if err := writeReport(opts.report, res); err != nil {
			return withCode(exitInput, err)
		}
	}

	if opts.json {
		if err := writeJSONLine(stdout, res); err != nil {
			return err
		}
	} else {
		printResult(stdout, res, opts.report)
	}

	if len(res.Errors) > 0 {
		return withCode(exitRecords, fmt.Errorf("%d of %d records failed", len(res.Errors), res.Total))
	}
	return nil
}

func writeReport(path string, res core.ImportResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := report.WriteErrors(f, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printResult(w io.Writer, res core.ImportResult, reportPath string) {
	mode := "applied"
	if res.DryRun {
		mode = "dry run, nothing written"
	}
	fmt.Fprintf(w, "%s: %d of %d records imported (%s) in %s\n",
		res.FileName, res.SuccessCount, res.Total, mode, res.Duration.Round(time.Millisecond))
	if res.Cancelled {
		fmt.Fprintln(w, "Interrupted: remaining records were not processed.")
	}
	for _, l := range res.SkippedLabels {
		fmt.Fprintf(w, "skipped column %q: no catalog definition\n", l)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	if reportPath != "" && len(res.Errors) > 0 {
		fmt.Fprintf(w, "Error report written to %s\n", reportPath)
	}
}
