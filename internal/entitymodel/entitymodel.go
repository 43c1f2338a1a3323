// Package entitymodel renders entity definitions as SQL DDL bundles for the
// sqlite and postgres backends. The bundle covers each definition's master
// table, its dependent tables, and its link tables; backends apply it on open
// with CREATE TABLE IF NOT EXISTS semantics so repeated startups are safe.
package entitymodel

import (
	"bufio"
	"fmt"
	"strings"

	"entitycore/pkg/entity"
	"entitycore/pkg/relational"
)

// Dialect selects the SQL flavor of a generated bundle.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Generate renders one DDL script covering every given definition.
func Generate(dialect Dialect, defs ...*entity.Definition) (string, error) {
	var b strings.Builder
	for _, def := range defs {
		if err := writeDefinition(&b, dialect, def); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// Statements renders the bundle already split for execution.
func Statements(dialect Dialect, defs ...*entity.Definition) ([]string, error) {
	ddl, err := Generate(dialect, defs...)
	if err != nil {
		return nil, err
	}
	return SplitStatements(ddl), nil
}

func writeDefinition(b *strings.Builder, dialect Dialect, def *entity.Definition) error {
	cols := make([]string, 0, len(def.Columns)+1)
	keyCol, err := keyColumn(dialect, def.PrimaryKey, def.KeyType)
	if err != nil {
		return fmt.Errorf("%s: %w", def.Name, err)
	}
	cols = append(cols, keyCol)
	for _, c := range def.Columns {
		cols = append(cols, fmt.Sprintf("%s %s", c.Name, sqlType(dialect, c.Kind)))
	}
	writeTable(b, def.Table, cols)

	for _, sec := range def.Secondaries {
		cols = cols[:0]
		keyCol, err := keyColumn(dialect, sec.PrimaryKey, sec.KeyType)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", def.Name, sec.Name, err)
		}
		cols = append(cols, keyCol)
		cols = append(cols, fmt.Sprintf("%s %s REFERENCES %s(%s)",
			sec.ForeignKey, keySQLType(dialect, def.KeyType), def.Table, def.PrimaryKey))
		for _, c := range sec.Columns {
			cols = append(cols, fmt.Sprintf("%s %s", c.Name, sqlType(dialect, c.Kind)))
		}
		writeTable(b, sec.Name, cols)
	}

	for _, cl := range def.CrossLinks {
		cols = cols[:0]
		keyCol, err := keyColumn(dialect, cl.LinkKey, cl.LinkKeyType)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", def.Name, cl.Name, err)
		}
		cols = append(cols, keyCol)
		cols = append(cols, fmt.Sprintf("%s %s REFERENCES %s(%s)",
			cl.SourceFK, keySQLType(dialect, def.KeyType), def.Table, def.PrimaryKey))
		// The target table is owned by another definition; only the typed
		// column is rendered here.
		cols = append(cols, fmt.Sprintf("%s %s", cl.TargetFK, sqlType(dialect, cl.TargetKind)))
		writeTable(b, cl.LinkTable, cols)
	}
	return nil
}

func writeTable(b *strings.Builder, name string, cols []string) {
	fmt.Fprintf(b, "CREATE TABLE IF NOT EXISTS %s (\n", name)
	for i, c := range cols {
		b.WriteString("\t" + c)
		if i < len(cols)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString(");\n")
}

func keyColumn(dialect Dialect, name string, kt relational.KeyType) (string, error) {
	switch kt {
	case relational.KeyGuid, relational.KeyString:
		return name + " TEXT PRIMARY KEY", nil
	case relational.KeyInteger:
		return name + " BIGINT PRIMARY KEY", nil
	case relational.KeyIntegerAutoIncrement:
		if dialect == DialectPostgres {
			return name + " BIGSERIAL PRIMARY KEY", nil
		}
		return name + " INTEGER PRIMARY KEY AUTOINCREMENT", nil
	default:
		return "", fmt.Errorf("entitymodel: key type %q has no SQL rendering", kt)
	}
}

// keySQLType renders the column type a foreign key referencing kt needs.
func keySQLType(dialect Dialect, kt relational.KeyType) string {
	switch kt {
	case relational.KeyInteger, relational.KeyIntegerAutoIncrement:
		return "BIGINT"
	default:
		return "TEXT"
	}
}

func sqlType(dialect Dialect, kind relational.Kind) string {
	switch kind {
	case relational.KindInt:
		return "BIGINT"
	case relational.KindFloat:
		return "DOUBLE PRECISION"
	case relational.KindBool:
		return "BOOLEAN"
	case relational.KindTime:
		if dialect == DialectPostgres {
			return "TIMESTAMPTZ"
		}
		return "TEXT"
	default:
		return "TEXT"
	}
}

// SplitStatements splits a semicolon-terminated DDL script into executable
// statements, dropping blank lines and single-line comments.
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(current.String()), ";"))
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}
