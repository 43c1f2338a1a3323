package billing

import (
	"fmt"

	"entitycore/pkg/rules"
)

// Pack bundles the billing invariants. Rule names here must stay in sync
// with the invariant registry in docs/schema/billing-model.json.
func Pack() *rules.Pack {
	return rules.NewPack("billing").
		Bind("invoices", rules.RequiredField{Field: "title"}, rules.SeverityViolation).
		Bind("invoices", rules.MaxLength{Field: "title", Limit: 120}, rules.SeverityViolation).
		Bind("invoices", nonNegative("total"), rules.SeverityViolation).
		Bind("invoices", rules.RequiredField{Field: "customer"}, rules.SeverityWarning).
		Bind("line_items", positiveInt("quantity"), rules.SeverityViolation).
		Bind("line_items", nonNegative("unit_price"), rules.SeverityViolation).
		Bind("payments", positiveFloat("amount"), rules.SeverityViolation).
		Bind("orders", rules.RequiredField{Field: "customer"}, rules.SeverityViolation).
		BindDeletion("invoices", paidInvoiceRetained(), rules.SeverityViolation)
}

// nonNegative fails when the float column is set below zero.
func nonNegative(field string) rules.RowRule {
	return rules.RuleFunc{
		RuleName: "non_negative:" + field,
		Fn: func(row rules.RowView, _ int) []rules.Finding {
			v, ok := row.Value(field)
			if !ok {
				return nil
			}
			f, ok := v.(float64)
			if !ok || f >= 0 {
				return nil
			}
			return []rules.Finding{{Field: field, Message: fmt.Sprintf("%s must not be negative, got %v", field, f)}}
		},
	}
}

// positiveInt fails when the integer column is zero or negative.
func positiveInt(field string) rules.RowRule {
	return rules.RuleFunc{
		RuleName: "positive:" + field,
		Fn: func(row rules.RowView, _ int) []rules.Finding {
			v, ok := row.Value(field)
			if !ok {
				return nil
			}
			n, ok := v.(int64)
			if !ok || n > 0 {
				return nil
			}
			return []rules.Finding{{Field: field, Message: fmt.Sprintf("%s must be positive, got %d", field, n)}}
		},
	}
}

// positiveFloat fails when the float column is zero or negative.
func positiveFloat(field string) rules.RowRule {
	return rules.RuleFunc{
		RuleName: "positive:" + field,
		Fn: func(row rules.RowView, _ int) []rules.Finding {
			v, ok := row.Value(field)
			if !ok {
				return nil
			}
			f, ok := v.(float64)
			if !ok || f > 0 {
				return nil
			}
			return []rules.Finding{{Field: field, Message: fmt.Sprintf("%s must be positive, got %v", field, f)}}
		},
	}
}

// paidInvoiceRetained blocks deletion of invoices flagged paid; deleting a
// settled invoice would orphan the books.
func paidInvoiceRetained() rules.RowRule {
	return rules.RuleFunc{
		RuleName: "retain_paid_invoice",
		Fn: func(row rules.RowView, _ int) []rules.Finding {
			v, ok := row.Value("paid")
			if !ok {
				return nil
			}
			if paid, ok := v.(bool); ok && paid {
				return []rules.Finding{{Message: "paid invoices are retained and cannot be deleted"}}
			}
			return nil
		},
	}
}
