package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/competency-import/internal/admin"
)

func newResetCmd() *cobra.Command {
	var people, yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete imported competency values (and imported people with --people)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return withCode(exitUsage, errors.New("reset deletes data; pass --yes to confirm"))
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			r := &admin.Resetter{Store: e.db}
			counts, err := r.Reset(cmd.Context(), people)
			if err != nil {
				return withCode(exitDB, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d competency values, %d people\n", counts.Competencies, counts.People)
			return nil
		},
	}

	cmd.Flags().BoolVar(&people, "people", false, "Also delete people created by imports")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")
	return cmd
}
