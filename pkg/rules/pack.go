package rules

import "fmt"

// Pack is a named bundle of rule registrations. Entity authors ship packs;
// services install them into one engine at startup.
type Pack struct {
	name    string
	install []func(*Engine)
}

// NewPack constructs an empty pack.
func NewPack(name string) *Pack {
	return &Pack{name: name}
}

// Name returns the pack name.
func (p *Pack) Name() string { return p.name }

// Bind queues a standard registration.
func (p *Pack) Bind(table string, rule RowRule, severity Severity, opts ...BindOption) *Pack {
	p.install = append(p.install, func(e *Engine) {
		e.Register(table, rule, severity, opts...)
	})
	return p
}

// BindDeletion queues a deletion-only registration.
func (p *Pack) BindDeletion(table string, rule RowRule, severity Severity, opts ...BindOption) *Pack {
	p.install = append(p.install, func(e *Engine) {
		e.RegisterDeletion(table, rule, severity, opts...)
	})
	return p
}

// Install applies the pack's registrations to the engine in bind order.
func (p *Pack) Install(e *Engine) {
	for _, fn := range p.install {
		fn(e)
	}
}

// RuleFunc adapts a plain function to RowRule.
type RuleFunc struct {
	RuleName string
	Fn       func(row RowView, index int) []Finding
}

// Name returns the rule name.
func (r RuleFunc) Name() string { return r.RuleName }

// VerifyRow delegates to the wrapped function.
func (r RuleFunc) VerifyRow(row RowView, index int) []Finding { return r.Fn(row, index) }

// RequiredField fails when the named column is unset or an empty string.
type RequiredField struct {
	Field string
}

// Name identifies the rule in ledger entries.
func (r RequiredField) Name() string { return "required:" + r.Field }

// VerifyRow implements RowRule.
func (r RequiredField) VerifyRow(row RowView, _ int) []Finding {
	v, ok := row.Value(r.Field)
	if !ok || v == nil || v == "" {
		return []Finding{{Field: r.Field, Message: r.Field + " is required"}}
	}
	return nil
}

// MaxLength fails when the named string column exceeds the limit.
type MaxLength struct {
	Field string
	Limit int
}

// Name identifies the rule in ledger entries.
func (r MaxLength) Name() string { return "max_length:" + r.Field }

// VerifyRow implements RowRule.
func (r MaxLength) VerifyRow(row RowView, _ int) []Finding {
	v, ok := row.Value(r.Field)
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	if len(s) > r.Limit {
		return []Finding{{Field: r.Field, Message: fmt.Sprintf("%s exceeds maximum length of %d", r.Field, r.Limit)}}
	}
	return nil
}
