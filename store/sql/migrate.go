package sqlstore

import (
	"context"
	"fmt"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	cloudauthmigrations "github.com/goliatone/go-cloudauth/migrations"
)

// MigrationDialect maps a database/sql driver name onto its migration tree.
func MigrationDialect(driver string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case DriverPostgres, "pgx", "pq":
		return cloudauthmigrations.DialectPostgres, nil
	case DriverSQLite, cloudauthmigrations.DialectSQLite:
		return cloudauthmigrations.DialectSQLite, nil
	default:
		return "", fmt.Errorf("sqlstore: no migrations for driver %q", driver)
	}
}

// RegisterMigrations validates the embedded schema and registers the tree
// matching driver on client. Other sources registered on the client are left
// alone.
func RegisterMigrations(ctx context.Context, client *persistence.Client, driver string) error {
	if client == nil {
		return fmt.Errorf("sqlstore: persistence client is required")
	}
	dialect, err := MigrationDialect(driver)
	if err != nil {
		return err
	}
	_, err = cloudauthmigrations.Register(ctx, func(_ context.Context, tree cloudauthmigrations.Dialect) error {
		client.RegisterSQLMigrations(tree.FS)
		return nil
	}, cloudauthmigrations.WithDialects(dialect))
	return err
}

// Migrate registers the credential schema for driver and applies it.
func Migrate(ctx context.Context, client *persistence.Client, driver string) error {
	if err := RegisterMigrations(ctx, client, driver); err != nil {
		return err
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}
