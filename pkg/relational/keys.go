package relational

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// KeyGenerator overrides key production for KeyString tables that need a
// scheme other than the default random token.
type KeyGenerator func() (string, error)

// ErrCallerAssignedKey is returned by AllocateKey for KeyInteger tables:
// plain integer keys are supplied by the caller, never generated.
var ErrCallerAssignedKey = errors.New("relational: integer keys are caller-assigned")

// SetKeyGenerator installs the string-key override for this table.
func (t *Table) SetKeyGenerator(gen KeyGenerator) { t.keyGen = gen }

// AllocateKey produces a primary-key value for a newly inserted row according
// to the table's key strategy.
//
// Guid keys are random and unique. String keys are random hex tokens unless
// the table overrides generation. IntegerAutoIncrement keys are negative
// placeholders, -(current unsaved row count), contiguous and pairwise
// distinct within one unsaved batch only; they carry no global uniqueness and
// must be remapped to a server-issued key before any dependent row that
// references them is persisted.
func (t *Table) AllocateKey() (any, error) {
	switch t.keyType {
	case KeyGuid:
		return uuid.New(), nil
	case KeyInteger:
		return nil, ErrCallerAssignedKey
	case KeyIntegerAutoIncrement:
		n := 0
		for i := range t.rows {
			if t.rows[i].state == StateAdded {
				n++
			}
		}
		if n == 0 {
			n = 1
		}
		key := int64(-n)
		// A detach in the middle of a batch can make the count collide
		// with a placeholder already handed out; step past it.
		for {
			if _, taken := t.Find(t.primaryKey, key); !taken {
				break
			}
			key--
		}
		return key, nil
	case KeyString:
		if t.keyGen != nil {
			s, err := t.keyGen()
			if err != nil {
				return nil, err
			}
			return s, nil
		}
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		return hex.EncodeToString(buf), nil
	default:
		return nil, KeyTypeError{Table: t.name, KeyType: t.keyType}
	}
}

// LoadValue writes a column while materializing rows from the backing
// store. It bypasses the read-only flag and performs no forced dirtying; the
// caller accepts the table afterwards to settle rows into Unchanged.
func (t *Table) LoadValue(row int, column string, value any) error {
	return t.set(row, column, value, false, true)
}

// Key reads the primary-key value of a row.
func (t *Table) Key(row int) (any, error) {
	return t.Value(row, t.primaryKey)
}

// SetKey writes the primary-key value of a row, bypassing the read-only flag
// the key column usually carries.
func (t *Table) SetKey(row int, key any) error {
	return t.set(row, t.primaryKey, key, false, true)
}

// RemapKey rewrites every row whose primary key equals old to carry newKey
// instead. It is called right after a successful auto-increment insert
// returns the real key and writes through the read-only flag. Propagation to
// foreign keys in dependent tables is the owning entity's responsibility; the
// snapshot knows nothing about cross-table references.
func (t *Table) RemapKey(old, newKey any) error {
	idx, ok := t.colIndex[t.primaryKey]
	if !ok {
		return ColumnError{Table: t.name, Column: t.primaryKey}
	}
	oldNorm, _, err := normalize(old, t.columns[idx].Kind)
	if err != nil {
		return ValueTypeError{Table: t.name, Column: t.primaryKey, Value: old}
	}
	for i := range t.rows {
		if t.rows[i].state == StateDetached {
			continue
		}
		if valuesEqual(t.rows[i].values[idx], oldNorm) {
			if err := t.set(i, t.primaryKey, newKey, true, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemapForeignKey rewrites a foreign-key column in every row referencing old.
// Entities use it inside their key-propagation hooks after a master key
// remap.
func (t *Table) RemapForeignKey(column string, old, newKey any) error {
	idx, ok := t.colIndex[column]
	if !ok {
		return ColumnError{Table: t.name, Column: column}
	}
	oldNorm, _, err := normalize(old, t.columns[idx].Kind)
	if err != nil {
		return ValueTypeError{Table: t.name, Column: column, Value: old}
	}
	for i := range t.rows {
		if t.rows[i].state == StateDetached {
			continue
		}
		if valuesEqual(t.rows[i].values[idx], oldNorm) {
			if err := t.set(i, column, newKey, true, true); err != nil {
				return err
			}
		}
	}
	return nil
}
