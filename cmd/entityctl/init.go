package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"entitycore/internal/entitymodel"
)

var printDDL bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the backend schema for the billing model",
	Long: `Open the configured backend and apply the billing model's schema.
With --print-ddl the generated statements are printed instead of a summary.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The schema was applied while opening the backend; report what is
		// now in place.
		if printDDL {
			ddl, err := entitymodel.Generate(entitymodel.DialectSQLite, svc.Registry().Definitions()...)
			if err != nil {
				return err
			}
			fmt.Print(ddl)
			return nil
		}
		fmt.Printf("backend %s initialized with %d entity definitions: %v\n",
			dc.Identity(), len(svc.Registry().Names()), svc.Registry().Names())
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&printDDL, "print-ddl", false, "print the generated DDL instead of applying a summary")
}
