// Package billing ships the reference entity set: an Invoice aggregate with
// line items and payments, and an auto-increment Order aggregate whose
// server-issued keys are propagated to its items. It exists so the service
// layer, the CLI, and the backends have a realistic model to run against.
package billing

import (
	"fmt"

	"entitycore/pkg/entity"
	"entitycore/pkg/relational"
)

// Entity names as registered.
const (
	EntityInvoice = "Invoice"
	EntityOrder   = "Order"
)

// NewInvoiceDefinition declares the Invoice aggregate: a guid-keyed master
// with line_items and payments as dependent tables. Payments block deletion
// while any exist.
func NewInvoiceDefinition() *entity.Definition {
	return &entity.Definition{
		Name:       EntityInvoice,
		Table:      "invoices",
		PrimaryKey: "id",
		KeyType:    relational.KeyGuid,
		Columns: []entity.ColumnDef{
			{Name: "title", Kind: relational.KindString, MaxLength: 120},
			{Name: "customer", Kind: relational.KindString, MaxLength: 200},
			{Name: "total", Kind: relational.KindFloat},
			{Name: "issued_at", Kind: relational.KindTime},
			{Name: "paid", Kind: relational.KindBool},
		},
		Secondaries: []entity.SecondaryTable{
			{
				Name:       "line_items",
				PrimaryKey: "id",
				KeyType:    relational.KeyGuid,
				ForeignKey: "invoice_id",
				Columns: []entity.ColumnDef{
					{Name: "description", Kind: relational.KindString, MaxLength: 200},
					{Name: "quantity", Kind: relational.KindInt},
					{Name: "unit_price", Kind: relational.KindFloat},
				},
			},
			{
				Name:       "payments",
				PrimaryKey: "id",
				KeyType:    relational.KeyGuid,
				ForeignKey: "invoice_id",
				Columns: []entity.ColumnDef{
					{Name: "amount", Kind: relational.KindFloat},
					{Name: "method", Kind: relational.KindString, MaxLength: 40},
					{Name: "received_at", Kind: relational.KindTime},
				},
			},
		},
		InvalidValue: entity.PolicyAutoCorrect,
		DeletionGraph: &entity.DependencyNode{
			Table:      "invoices",
			PrimaryKey: "id",
			Children: []entity.DependencyNode{
				{
					Table:          "payments",
					PrimaryKey:     "id",
					ForeignKey:     "invoice_id",
					DisplayColumns: []string{"id", "amount", "method"},
					OrderBy:        "received_at",
					Restrict:       true,
				},
			},
		},
	}
}

// NewOrderDefinition declares the Order aggregate: an auto-increment master
// whose server-issued key must be propagated to order_items after insert.
func NewOrderDefinition() *entity.Definition {
	return &entity.Definition{
		Name:       EntityOrder,
		Table:      "orders",
		PrimaryKey: "id",
		KeyType:    relational.KeyIntegerAutoIncrement,
		Columns: []entity.ColumnDef{
			{Name: "customer", Kind: relational.KindString, MaxLength: 200},
			{Name: "status", Kind: relational.KindString, MaxLength: 40},
			{Name: "placed_at", Kind: relational.KindTime},
		},
		Secondaries: []entity.SecondaryTable{
			{
				Name:       "order_items",
				PrimaryKey: "id",
				KeyType:    relational.KeyGuid,
				ForeignKey: "order_id",
				Columns: []entity.ColumnDef{
					{Name: "sku", Kind: relational.KindString, MaxLength: 64},
					{Name: "quantity", Kind: relational.KindInt},
					{Name: "price", Kind: relational.KindFloat},
				},
			},
		},
		PropagateKey: func(snap *relational.Snapshot, oldKey, newKey any) error {
			items, ok := snap.Table("order_items")
			if !ok {
				return fmt.Errorf("billing: order_items table missing from snapshot")
			}
			return items.RemapForeignKey("order_id", oldKey, newKey)
		},
	}
}

// Definitions returns the full reference set in registration order.
func Definitions() []*entity.Definition {
	return []*entity.Definition{NewInvoiceDefinition(), NewOrderDefinition()}
}

// NewRegistry returns a registry holding the reference definitions.
func NewRegistry() (*entity.Registry, error) {
	reg := entity.NewRegistry()
	for _, def := range Definitions() {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
