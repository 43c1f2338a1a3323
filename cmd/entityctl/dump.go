package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <entity> <key>",
	Short: "Print an entity's snapshot as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadByArgs(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		payload, err := json.MarshalIndent(e.Snapshot(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
		return nil
	},
}
