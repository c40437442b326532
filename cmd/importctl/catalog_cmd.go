package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/competency-import/internal/competency"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List or add competency definitions",
	}
	cmd.AddCommand(newCatalogListCmd())
	cmd.AddCommand(newCatalogAddCmd())
	return cmd
}

func newCatalogListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List competency definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			defs, err := e.db.ListDefinitions(cmd.Context())
			if err != nil {
				return withCode(exitDB, err)
			}
			if asJSON {
				return writeJSONLine(cmd.OutOrStdout(), defs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tID")
			for _, d := range defs {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.FieldType, d.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newCatalogAddCmd() *cobra.Command {
	var fieldType string

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add or retype a competency definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(strings.Fields(args[0]), " ")
			if name == "" {
				return withCode(exitUsage, fmt.Errorf("name must not be blank"))
			}
			ft, err := competency.ParseFieldType(fieldType)
			if err != nil {
				return withCode(exitUsage, err)
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			def, err := e.db.AddDefinition(cmd.Context(), name, ft)
			if err != nil {
				return withCode(exitDB, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", def.Name, def.FieldType, def.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&fieldType, "type", string(competency.FieldText), "Field type: text, boolean, date, expiry_date")
	return cmd
}
