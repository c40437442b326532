package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/competency-import/internal/core"
)

type previewOptions struct {
	layout string
	sample int
	json   bool
}

func newPreviewCmd() *cobra.Command {
	var opts previewOptions

	cmd := &cobra.Command{
		Use:   "preview FILE",
		Short: "Show how a matrix would be read, without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readInput(args[0], opts.layout, true)
			if err != nil {
				return err
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			im, err := e.importer()
			if err != nil {
				return err
			}
			p, err := im.Preview(cmd.Context(), in)
			if err != nil {
				return inputError(err)
			}
			if opts.sample >= 0 && len(p.Records) > opts.sample {
				p.Records = p.Records[:opts.sample]
			}

			if opts.json {
				return writeJSONLine(cmd.OutOrStdout(), p)
			}
			return printPreview(cmd.OutOrStdout(), p)
		},
	}

	cmd.Flags().StringVar(&opts.layout, "layout", "auto", "Layout: auto, flat or block")
	cmd.Flags().IntVar(&opts.sample, "sample", 5, "Number of records to show (-1 for all)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the preview as JSON")
	return cmd
}

func printPreview(w io.Writer, p *core.Preview) error {
	fmt.Fprintf(w, "File:      %s (%s", p.FileName, p.Format)
	if p.Sheet != "" {
		fmt.Fprintf(w, ", sheet %q", p.Sheet)
	}
	if p.Encoding != "" {
		fmt.Fprintf(w, ", %s", p.Encoding)
	}
	fmt.Fprintln(w, ")")
	fmt.Fprintf(w, "Layout:    %s, data from row %d\n", p.Layout.Kind, p.Layout.DataStart+1)
	fmt.Fprintf(w, "Records:   %d (skipped %d, rejected %d)\n", p.Stats.Records, p.Stats.Skipped, p.Stats.Rejected)
	if len(p.Unmatched) > 0 {
		fmt.Fprintf(w, "Unmatched: %s\n", strings.Join(p.Unmatched, ", "))
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLUMN\tHEADER\tLABEL\tMAPPED")
	for _, c := range p.Columns {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%v\n", c.Index+1, c.Raw, c.Label, c.Mapped)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(p.Records) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tNAME\tEMAIL\tFIELDS")
	for _, r := range p.Records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", r.RowIndex, r.Name, r.Email, len(r.Fields))
	}
	return tw.Flush()
}
