package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"entitycore/internal/archive"
)

var archiveCmd = &cobra.Command{
	Use:   "archive [entity]",
	Short: "List archived verification reports",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := archive.Open(ctx)
		if err != nil {
			return err
		}
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		var infos []archive.Info
		if prefix != "" {
			infos, err = archive.NewReporter(store).ListReports(ctx, prefix)
		} else {
			infos, err = store.List(ctx, "")
		}
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("no archived reports")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tSIZE\tSTORED")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%s\t%s\n", info.Key, humanize.Bytes(uint64(info.Size)), humanize.Time(info.LastModified))
		}
		return w.Flush()
	},
}
