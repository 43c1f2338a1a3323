// Command definition-check validates an entity-definition manifest: unique
// names and tables, known key types and column kinds, resolvable foreign
// keys, acyclic deletion graphs rooted at declared tables, and an invariant
// registry whose entries reference declared tables with unique rule names.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

const defaultManifestPath = "docs/schema/billing-model.json"

var exitFunc = os.Exit

// Manifest is the checked-in description of the deployment's entity model.
type Manifest struct {
	Version            int         `json:"version"`
	Entities           []EntityDef `json:"entities"`
	Invariants         []Invariant `json:"invariants"`
	DeletionInvariants []Invariant `json:"deletion_invariants"`
}

type EntityDef struct {
	Name          string      `json:"name"`
	Table         string      `json:"table"`
	PrimaryKey    string      `json:"primary_key"`
	KeyType       string      `json:"key_type"`
	Columns       []ColumnDef `json:"columns"`
	Secondaries   []Secondary `json:"secondaries"`
	DeletionGraph *GraphNode  `json:"deletion_graph"`
}

type Secondary struct {
	Table      string      `json:"table"`
	PrimaryKey string      `json:"primary_key"`
	KeyType    string      `json:"key_type"`
	ForeignKey string      `json:"foreign_key"`
	Columns    []ColumnDef `json:"columns"`
}

type ColumnDef struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	MaxLength int    `json:"max_length"`
}

type GraphNode struct {
	Table      string      `json:"table"`
	ForeignKey string      `json:"foreign_key"`
	Restrict   bool        `json:"restrict"`
	Children   []GraphNode `json:"children"`
}

var knownKeyTypes = map[string]struct{}{
	"guid":                   {},
	"integer":                {},
	"integer_auto_increment": {},
	"string":                 {},
}

var knownKinds = map[string]struct{}{
	"string": {},
	"int":    {},
	"float":  {},
	"bool":   {},
	"time":   {},
	"guid":   {},
}

var knownSeverities = map[string]struct{}{
	"violation": {},
	"warning":   {},
}

func main() {
	exitFunc(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("definition-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	manifestPath := fs.String("manifest", defaultManifestPath, "path to the entity-definition manifest")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	raw, err := os.ReadFile(*manifestPath)
	if err != nil {
		fmt.Fprintf(stderr, "definition-check: %v\n", err)
		return 1
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		fmt.Fprintf(stderr, "definition-check: parse %s: %v\n", *manifestPath, err)
		return 1
	}

	problems := Validate(&m)
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(stderr, "definition-check: %s\n", p)
		}
		fmt.Fprintf(stderr, "definition-check: %d problem(s) in %s\n", len(problems), *manifestPath)
		return 1
	}
	fmt.Fprintf(stdout, "definition-check: %s ok (%d entities, %d invariants)\n",
		*manifestPath, len(m.Entities), len(m.Invariants)+len(m.DeletionInvariants))
	return 0
}

// Validate returns every problem found in the manifest, one message each.
func Validate(m *Manifest) []string {
	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if m.Version != 1 {
		report("unsupported manifest version %d", m.Version)
	}
	if len(m.Entities) == 0 {
		report("manifest declares no entities")
	}

	names := map[string]struct{}{}
	tables := map[string]struct{}{}        // every declared table, master and secondary
	masterTables := map[string]struct{}{}  // master tables only
	secondariesOf := map[string]map[string]struct{}{} // entity table -> secondary tables

	claimTable := func(owner, table string) {
		if table == "" {
			report("entity %q declares a table with no name", owner)
			return
		}
		if _, dup := tables[table]; dup {
			report("table %q is declared more than once", table)
		}
		tables[table] = struct{}{}
	}

	for _, e := range m.Entities {
		if e.Name == "" {
			report("entity with table %q has no name", e.Table)
			continue
		}
		lower := strings.ToLower(e.Name)
		if _, dup := names[lower]; dup {
			report("entity name %q is declared more than once", e.Name)
		}
		names[lower] = struct{}{}

		claimTable(e.Name, e.Table)
		masterTables[e.Table] = struct{}{}
		if e.PrimaryKey == "" {
			report("entity %q has no primary key", e.Name)
		}
		if _, ok := knownKeyTypes[e.KeyType]; !ok {
			report("entity %q has unknown key type %q", e.Name, e.KeyType)
		}
		validateColumns(e.Name, e.Table, e.Columns, report)

		secs := map[string]struct{}{}
		for _, sec := range e.Secondaries {
			claimTable(e.Name, sec.Table)
			secs[sec.Table] = struct{}{}
			if sec.PrimaryKey == "" {
				report("secondary %q of %q has no primary key", sec.Table, e.Name)
			}
			if _, ok := knownKeyTypes[sec.KeyType]; !ok {
				report("secondary %q of %q has unknown key type %q", sec.Table, e.Name, sec.KeyType)
			}
			if sec.ForeignKey == "" {
				report("secondary %q of %q has no foreign key", sec.Table, e.Name)
			}
			validateColumns(e.Name, sec.Table, sec.Columns, report)
		}
		secondariesOf[e.Table] = secs

		if g := e.DeletionGraph; g != nil {
			if g.Table != e.Table {
				report("deletion graph of %q is rooted at %q, want %q", e.Name, g.Table, e.Table)
			}
			seen := map[string]struct{}{g.Table: {}}
			validateGraph(e.Name, g.Children, secs, seen, report)
		}
	}

	seenRules := map[string]struct{}{}
	for _, inv := range m.Invariants {
		validateInvariant("invariant", inv, tables, seenRules, report)
	}
	seenDeletion := map[string]struct{}{}
	for _, inv := range m.DeletionInvariants {
		if _, ok := masterTables[inv.Table]; !ok {
			report("deletion invariant %q targets %q, which is not a master table", inv.Rule, inv.Table)
			continue
		}
		validateInvariant("deletion invariant", inv, tables, seenDeletion, report)
	}
	return problems
}

func validateColumns(entity, table string, cols []ColumnDef, report func(string, ...any)) {
	seen := map[string]struct{}{}
	for _, c := range cols {
		if c.Name == "" {
			report("table %q of %q declares a column with no name", table, entity)
			continue
		}
		if _, dup := seen[c.Name]; dup {
			report("table %q of %q declares column %q more than once", table, entity, c.Name)
		}
		seen[c.Name] = struct{}{}
		if _, ok := knownKinds[c.Kind]; !ok {
			report("column %q of table %q has unknown kind %q", c.Name, table, c.Kind)
		}
		if c.MaxLength < 0 {
			report("column %q of table %q has negative max length", c.Name, table)
		}
	}
}

func validateGraph(entity string, nodes []GraphNode, secondaries map[string]struct{}, seen map[string]struct{}, report func(string, ...any)) {
	for _, n := range nodes {
		if _, ok := secondaries[n.Table]; !ok {
			report("deletion graph of %q references %q, which is not a declared secondary", entity, n.Table)
		}
		if n.ForeignKey == "" {
			report("deletion graph node %q of %q has no foreign key", n.Table, entity)
		}
		if _, cyc := seen[n.Table]; cyc {
			report("deletion graph of %q revisits table %q", entity, n.Table)
			continue
		}
		seen[n.Table] = struct{}{}
		validateGraph(entity, n.Children, secondaries, seen, report)
		delete(seen, n.Table)
	}
}

type Invariant struct {
	Table    string `json:"table"`
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
}

func validateInvariant(kind string, inv Invariant, tables map[string]struct{}, seen map[string]struct{}, report func(string, ...any)) {
	if inv.Rule == "" {
		report("%s on table %q has no rule name", kind, inv.Table)
		return
	}
	if _, ok := tables[inv.Table]; !ok {
		report("%s %q targets undeclared table %q", kind, inv.Rule, inv.Table)
	}
	if _, ok := knownSeverities[inv.Severity]; !ok {
		report("%s %q has unknown severity %q", kind, inv.Rule, inv.Severity)
	}
	key := inv.Table + "/" + inv.Rule
	if _, dup := seen[key]; dup {
		report("%s %q is declared more than once for table %q", kind, inv.Rule, inv.Table)
	}
	seen[key] = struct{}{}
}
