package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"entitycore/internal/archive"
	"entitycore/pkg/entity"
)

var reportArchive bool

var reportCmd = &cobra.Command{
	Use:   "report <entity> <key>",
	Short: "Run deletion verification and render the dependency report",
	Long: `Load an entity, run full deletion verification (counts plus
dependent-row report tables), and print the resulting ledger. With
--archive both renderings are stored in the configured report archive.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := loadByArgs(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		blocked, err := svc.VerifyForDeletion(ctx, e, entity.LevelFull)
		if err != nil {
			return err
		}
		if blocked {
			fmt.Println("deletion blocked:")
		} else {
			fmt.Println("deletion permitted")
		}
		if text := e.Ledger().RenderText(); text != "" {
			fmt.Print(text)
		}
		if !reportArchive {
			return nil
		}
		store, err := archive.Open(ctx)
		if err != nil {
			return err
		}
		infos, err := archive.NewReporter(store).Archive(ctx, e)
		if err != nil {
			return err
		}
		for _, info := range infos {
			fmt.Printf("archived %s\n", info.Key)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportArchive, "archive", false, "store the rendered reports in the archive")
}
