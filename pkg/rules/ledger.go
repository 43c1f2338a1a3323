package rules

import (
	"fmt"
	"html"
	"strings"

	"entitycore/pkg/relational"
)

// Ledger column names inside the broken-rules pseudo-table.
const (
	colTable    = "table_name"
	colField    = "field_name"
	colRowIndex = "row_index"
	colSeverity = "severity"
	colMessage  = "message"
	colRule     = "rule"
)

// Entry is one recorded finding. RowIndex -1 denotes whole-entity scope (used
// by deletion-restriction findings). A recorded RowIndex is only valid until
// the next structural edit of the table it points into.
type Entry struct {
	Table    string
	Field    string
	RowIndex int
	Severity Severity
	Message  string
	Rule     string
}

// Ledger is a typed view over the snapshot's broken-rules pseudo-table.
type Ledger struct {
	table *relational.Table
}

// OpenLedger returns the snapshot's ledger, declaring the pseudo-table on
// first use.
func OpenLedger(snap *relational.Snapshot) *Ledger {
	tbl := snap.AddTable(relational.BrokenRulesTable, "", "",
		relational.Column{Name: colTable, Kind: relational.KindString},
		relational.Column{Name: colField, Kind: relational.KindString},
		relational.Column{Name: colRowIndex, Kind: relational.KindInt},
		relational.Column{Name: colSeverity, Kind: relational.KindString},
		relational.Column{Name: colMessage, Kind: relational.KindString},
		relational.Column{Name: colRule, Kind: relational.KindString},
	)
	return &Ledger{table: tbl}
}

// Clear drops every entry recorded against the named tables. Passing the
// snapshot's full table list resets the ledger for a fresh verify.
func (l *Ledger) Clear(tables ...string) {
	match := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		match[t] = struct{}{}
	}
	for i := 0; i < l.table.RowCount(); i++ {
		v, err := l.table.Value(i, colTable)
		if err != nil {
			continue
		}
		name, _ := v.(string)
		if _, ok := match[name]; ok {
			_ = l.table.MarkDeleted(i)
		}
	}
	l.table.Accept()
}

// Add appends an entry.
func (l *Ledger) Add(e Entry) {
	row := l.table.NewRow()
	_ = l.table.SetValue(row, colTable, e.Table)
	_ = l.table.SetValue(row, colField, e.Field)
	_ = l.table.SetValue(row, colRowIndex, int64(e.RowIndex))
	_ = l.table.SetValue(row, colSeverity, string(e.Severity))
	_ = l.table.SetValue(row, colMessage, e.Message)
	_ = l.table.SetValue(row, colRule, e.Rule)
}

// Entries returns all recorded entries in insertion order.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, l.table.RowCount())
	for i := 0; i < l.table.RowCount(); i++ {
		state, err := l.table.State(i)
		if err != nil || state == relational.StateDeleted || state == relational.StateDetached {
			continue
		}
		out = append(out, l.entry(i))
	}
	return out
}

func (l *Ledger) entry(row int) Entry {
	get := func(col string) any {
		v, _ := l.table.Value(row, col)
		return v
	}
	idx, _ := get(colRowIndex).(int64)
	sev, _ := get(colSeverity).(string)
	str := func(col string) string {
		s, _ := get(col).(string)
		return s
	}
	return Entry{
		Table:    str(colTable),
		Field:    str(colField),
		RowIndex: int(idx),
		Severity: Severity(sev),
		Message:  str(colMessage),
		Rule:     str(colRule),
	}
}

// Count returns the number of recorded entries of any severity.
func (l *Ledger) Count() int { return len(l.Entries()) }

// ViolationCount returns the number of entries with Violation severity.
func (l *Ledger) ViolationCount() int {
	n := 0
	for _, e := range l.Entries() {
		if e.Severity == SeverityViolation {
			n++
		}
	}
	return n
}

// HasViolations reports whether any Violation-severity entry is recorded;
// warnings do not count.
func (l *Ledger) HasViolations() bool { return l.ViolationCount() > 0 }

// HasWarnings reports whether any Warning-severity entry is recorded.
func (l *Ledger) HasWarnings() bool {
	for _, e := range l.Entries() {
		if e.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// RenderText renders the ledger one entry per line for logs and CLIs.
func (l *Ledger) RenderText() string {
	var b strings.Builder
	for _, e := range l.Entries() {
		fmt.Fprintf(&b, "[%s] %s", e.Severity, e.Table)
		if e.Field != "" {
			fmt.Fprintf(&b, ".%s", e.Field)
		}
		if e.RowIndex >= 0 {
			fmt.Fprintf(&b, " (row %d)", e.RowIndex)
		}
		fmt.Fprintf(&b, ": %s (%s)\n", e.Message, e.Rule)
	}
	return b.String()
}

// RenderHTML renders the ledger as an HTML table with escaped content.
func (l *Ledger) RenderHTML() string {
	var b strings.Builder
	b.WriteString("<table class=\"broken-rules\">\n")
	b.WriteString("<tr><th>Severity</th><th>Table</th><th>Field</th><th>Row</th><th>Message</th><th>Rule</th></tr>\n")
	for _, e := range l.Entries() {
		row := ""
		if e.RowIndex >= 0 {
			row = fmt.Sprintf("%d", e.RowIndex)
		}
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(string(e.Severity)),
			html.EscapeString(e.Table),
			html.EscapeString(e.Field),
			row,
			html.EscapeString(e.Message),
			html.EscapeString(e.Rule),
		)
	}
	b.WriteString("</table>")
	return b.String()
}
