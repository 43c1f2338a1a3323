package relational

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// jsonSnapshot is the stable wire form of a snapshot: tables in declaration
// order, each with its schema, key declaration, and rows with state tags.
type jsonSnapshot struct {
	Tables []jsonTable `json:"tables"`
}

type jsonTable struct {
	Name       string    `json:"name"`
	PrimaryKey string    `json:"primary_key"`
	KeyType    KeyType   `json:"key_type"`
	Columns    []jsonCol `json:"columns"`
	Rows       []jsonRow `json:"rows"`
}

type jsonCol struct {
	Name      string `json:"name"`
	Kind      Kind   `json:"kind"`
	MaxLength int    `json:"max_length,omitempty"`
	ReadOnly  bool   `json:"read_only,omitempty"`
}

type jsonRow struct {
	State  RowState `json:"state"`
	Values []any    `json:"values"`
}

// MarshalJSON encodes the snapshot in its stable wire form. Guid and time
// values render as strings (RFC 3339 for times).
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	out := jsonSnapshot{Tables: make([]jsonTable, 0, len(s.tables))}
	for _, t := range s.tables {
		jt := jsonTable{
			Name:       t.name,
			PrimaryKey: t.primaryKey,
			KeyType:    t.keyType,
			Columns:    make([]jsonCol, 0, len(t.columns)),
			Rows:       make([]jsonRow, 0, len(t.rows)),
		}
		for _, c := range t.columns {
			jt.Columns = append(jt.Columns, jsonCol{Name: c.Name, Kind: c.Kind, MaxLength: c.MaxLength, ReadOnly: c.ReadOnly})
		}
		for i := range t.rows {
			r := t.rows[i]
			values := make([]any, len(r.values))
			for j, v := range r.values {
				values[j] = encodeValue(v)
			}
			jt.Rows = append(jt.Rows, jsonRow{State: r.state, Values: values})
		}
		out.Tables = append(out.Tables, jt)
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds a snapshot from its wire form. The receiver must be
// empty.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var in jsonSnapshot
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if s.index == nil {
		s.index = make(map[string]*Table)
	}
	for _, jt := range in.Tables {
		t := &Table{
			name:       jt.Name,
			primaryKey: jt.PrimaryKey,
			keyType:    jt.KeyType,
			colIndex:   make(map[string]int),
		}
		for _, c := range jt.Columns {
			t.addColumn(Column{Name: c.Name, Kind: c.Kind, MaxLength: c.MaxLength, ReadOnly: c.ReadOnly})
		}
		for _, jr := range jt.Rows {
			if len(jr.Values) != len(t.columns) {
				return fmt.Errorf("relational: table %q row has %d values for %d columns", jt.Name, len(jr.Values), len(t.columns))
			}
			values := make([]any, len(jr.Values))
			for j, raw := range jr.Values {
				v, err := decodeValue(raw, t.columns[j].Kind)
				if err != nil {
					return fmt.Errorf("relational: table %q column %q: %w", jt.Name, t.columns[j].Name, err)
				}
				values[j] = v
			}
			t.rows = append(t.rows, rowData{state: jr.State, values: values, dirty: make(map[string]struct{})})
		}
		s.tables = append(s.tables, t)
		s.index[t.name] = t
	}
	return nil
}

func encodeValue(v any) any {
	switch x := v.(type) {
	case uuid.UUID:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return v
	}
}

func decodeValue(raw any, kind Kind) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch kind {
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return s, nil
	case KindInt:
		f, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", raw)
		}
		return int64(f), nil
	case KindFloat:
		f, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", raw)
		}
		return f, nil
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", raw)
		}
		return b, nil
	case KindTime:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected time string, got %T", raw)
		}
		return time.Parse(time.RFC3339Nano, s)
	case KindGuid:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected guid string, got %T", raw)
		}
		return uuid.Parse(s)
	default:
		return raw, nil
	}
}
