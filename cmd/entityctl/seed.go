package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/go-faker/faker/v4"
	"github.com/spf13/cobra"

	"entitycore/internal/billing"
	"entitycore/pkg/entity"
)

var seedCount int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create demo invoices with generated data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		saved := 0
		for i := 0; i < seedCount; i++ {
			e, err := svc.New(ctx, billing.EntityInvoice)
			if err != nil {
				return err
			}
			if err := fillDemoInvoice(e); err != nil {
				return err
			}
			outcome, err := svc.Save(ctx, e)
			if err != nil {
				return err
			}
			if outcome != entity.OutcomeSaved {
				return fmt.Errorf("seed invoice %d not saved: %s\n%s", i, outcome, e.Ledger().RenderText())
			}
			key, _ := e.Key()
			fmt.Printf("saved invoice %v\n", key)
			saved++
		}
		fmt.Printf("seeded %d invoices\n", saved)
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 5, "number of invoices to create")
}

func fillDemoInvoice(e *entity.Entity) error {
	if err := e.SetField("title", faker.Sentence()); err != nil {
		return err
	}
	if err := e.SetField("customer", faker.Name()); err != nil {
		return err
	}
	if err := e.SetField("issued_at", time.Now().UTC()); err != nil {
		return err
	}
	items := 1 + rand.Intn(3)
	var total float64
	for i := 0; i < items; i++ {
		row, err := e.AddChild("line_items")
		if err != nil {
			return err
		}
		qty := 1 + rand.Intn(5)
		price := float64(rand.Intn(20000)) / 100
		if err := e.SetChildField("line_items", row, "description", faker.Word()); err != nil {
			return err
		}
		if err := e.SetChildField("line_items", row, "quantity", qty); err != nil {
			return err
		}
		if err := e.SetChildField("line_items", row, "unit_price", price); err != nil {
			return err
		}
		total += float64(qty) * price
	}
	return e.SetField("total", total)
}
