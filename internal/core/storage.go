package core

import (
	"fmt"
	"os"

	"entitycore/internal/entitymodel"
	"entitycore/internal/infra/backend/memory"
	"entitycore/internal/infra/backend/postgres"
	"entitycore/internal/infra/backend/sqlite"
	"entitycore/pkg/backend"
	"entitycore/pkg/entity"
)

// StorageDriver identifies a concrete data-context implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-process only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenDataContext selects a backend using environment variables and applies
// the registry's generated schema on the SQL drivers. Defaults to sqlite when
// unset.
//
//	ENTITYCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	ENTITYCORE_SQLITE_PATH: path to sqlite file (default ./entitycore.db)
//	ENTITYCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenDataContext(registry *entity.Registry) (backend.DataContext, error) {
	driver := os.Getenv("ENTITYCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewContext(), nil
	case StorageSQLite:
		ddl, err := entitymodel.Statements(entitymodel.DialectSQLite, registry.Definitions()...)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(os.Getenv("ENTITYCORE_SQLITE_PATH"), ddl...)
	case StoragePostgres:
		ddl, err := entitymodel.Statements(entitymodel.DialectPostgres, registry.Definitions()...)
		if err != nil {
			return nil, err
		}
		return postgres.Open(os.Getenv("ENTITYCORE_POSTGRES_DSN"), ddl...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
