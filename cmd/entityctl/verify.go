package main

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"entitycore/pkg/entity"
	"entitycore/pkg/relational"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <entity> <key>",
	Short: "Load an entity and run its rule set",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadByArgs(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		count, err := svc.Verify(cmd.Context(), e)
		if err != nil {
			return err
		}
		if count == 0 {
			fmt.Println("ok: no findings")
			return nil
		}
		fmt.Printf("%d finding(s):\n%s", count, e.Ledger().RenderText())
		if e.Ledger().HasViolations() {
			return fmt.Errorf("entity has rule violations")
		}
		return nil
	},
}

// loadByArgs resolves the key literal against the definition's key type
// before loading: guid keys parse as UUIDs, integer keys as int64.
func loadByArgs(cmd *cobra.Command, name, rawKey string) (*entity.Entity, error) {
	def, ok := svc.Registry().Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown entity %q (known: %v)", name, svc.Registry().Names())
	}
	key, err := parseKey(def.KeyType, rawKey)
	if err != nil {
		return nil, err
	}
	return svc.Load(cmd.Context(), name, key)
}

func parseKey(kt relational.KeyType, raw string) (any, error) {
	switch kt {
	case relational.KeyGuid:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("key %q is not a valid guid: %w", raw, err)
		}
		return id, nil
	case relational.KeyInteger, relational.KeyIntegerAutoIncrement:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("key %q is not an integer: %w", raw, err)
		}
		return n, nil
	default:
		return raw, nil
	}
}
