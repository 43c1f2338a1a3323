// Command entityctl manages billing entities through the entitycore service:
// schema initialization, demo seeding, verification, saves, deletion reports,
// and the verification-report archive.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"entitycore/internal/billing"
	"entitycore/internal/core"
	"entitycore/pkg/backend"
	"entitycore/pkg/rules"
)

var (
	// cfgFile is set by the --config flag.
	cfgFile string

	// wired in initService, shared by all subcommands.
	svc    *core.Service
	dc     backend.DataContext
	logger *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "entityctl",
	Short: "entityctl manages billing entities over the entitycore service",
	Long: `entityctl drives the entitycore persistence layer from the command
line: initialize a backend schema, seed demo invoices, verify and save
entities, and archive verification reports.`,
	PersistentPreRunE: initService,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeService()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./entityctl.yaml)")
	rootCmd.PersistentFlags().String("driver", "", "storage driver: memory|sqlite|postgres (default sqlite)")
	rootCmd.PersistentFlags().String("sqlite-path", "", "sqlite database file")
	rootCmd.PersistentFlags().String("postgres-dsn", "", "postgres connection string")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(dumpCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("entityctl v0.1.0")
	},
}

// initService loads config, builds the zap logger, opens the configured
// backend, and wires the service with the billing model and rule pack.
func initService(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	v, err := loadConfig(cmd, cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err = zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	registry, err := billing.NewRegistry()
	if err != nil {
		return err
	}
	dc, err = openDataContext(v, registry)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}

	engine := rules.NewEngine()
	svc = core.NewService(dc, registry, engine, core.WithLogger(core.NewZapLogger(logger)))
	svc.InstallPack(billing.Pack())
	return nil
}

func closeService() error {
	if logger != nil {
		_ = logger.Sync()
	}
	if closer, ok := dc.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
