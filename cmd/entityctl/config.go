package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"entitycore/internal/entitymodel"
	"entitycore/internal/infra/backend/memory"
	"entitycore/internal/infra/backend/postgres"
	"entitycore/internal/infra/backend/sqlite"
	"entitycore/pkg/backend"
	"entitycore/pkg/entity"
)

// Config keys. Precedence, ascending: defaults, config file, ENTITYCORE_*
// environment variables, flags.
const (
	cfgKeyDriver      = "storage.driver"
	cfgKeySQLitePath  = "storage.sqlite_path"
	cfgKeyPostgresDSN = "storage.postgres_dsn"

	driverMemory   = "memory"
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

func loadConfig(cmd *cobra.Command, cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyDriver, driverSQLite)
	v.SetDefault(cfgKeySQLitePath, sqlite.DefaultPath)
	v.SetDefault(cfgKeyPostgresDSN, postgres.DefaultDSN)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("entityctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; an explicit one must load.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return nil, err
		}
	}

	_ = v.BindEnv(cfgKeyDriver, "ENTITYCORE_STORAGE_DRIVER")
	_ = v.BindEnv(cfgKeySQLitePath, "ENTITYCORE_SQLITE_PATH")
	_ = v.BindEnv(cfgKeyPostgresDSN, "ENTITYCORE_POSTGRES_DSN")

	for key, flag := range map[string]string{
		cfgKeyDriver:      "driver",
		cfgKeySQLitePath:  "sqlite-path",
		cfgKeyPostgresDSN: "postgres-dsn",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}
	return v, nil
}

// openDataContext builds the configured backend, applying the model DDL on
// the SQL drivers.
func openDataContext(v *viper.Viper, registry *entity.Registry) (backend.DataContext, error) {
	switch driver := v.GetString(cfgKeyDriver); driver {
	case driverMemory:
		return memory.NewContext(), nil
	case driverSQLite:
		ddl, err := entitymodel.Statements(entitymodel.DialectSQLite, registry.Definitions()...)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(v.GetString(cfgKeySQLitePath), ddl...)
	case driverPostgres:
		ddl, err := entitymodel.Statements(entitymodel.DialectPostgres, registry.Definitions()...)
		if err != nil {
			return nil, err
		}
		return postgres.Open(v.GetString(cfgKeyPostgresDSN), ddl...)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
