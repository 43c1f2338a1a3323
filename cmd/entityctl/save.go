package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"entitycore/internal/billing"
	"entitycore/pkg/entity"
)

var (
	saveTitle    string
	saveCustomer string
	saveTotal    float64
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Create and persist a new invoice",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := svc.New(ctx, billing.EntityInvoice)
		if err != nil {
			return err
		}
		if err := e.SetField("title", saveTitle); err != nil {
			return err
		}
		if err := e.SetField("customer", saveCustomer); err != nil {
			return err
		}
		if err := e.SetField("total", saveTotal); err != nil {
			return err
		}
		if err := e.SetField("issued_at", time.Now().UTC()); err != nil {
			return err
		}
		outcome, err := svc.Save(ctx, e)
		if err != nil {
			return err
		}
		if outcome != entity.OutcomeSaved {
			return fmt.Errorf("not saved (%s):\n%s", outcome, e.Ledger().RenderText())
		}
		key, _ := e.Key()
		fmt.Printf("saved invoice %v\n", key)
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVar(&saveTitle, "title", "", "invoice title (required by the rule pack)")
	saveCmd.Flags().StringVar(&saveCustomer, "customer", "", "customer name")
	saveCmd.Flags().Float64Var(&saveTotal, "total", 0, "invoice total")
}
