package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"

	cloudauth "github.com/goliatone/go-cloudauth"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// SourceLabel tags the migrations this module registers.
	SourceLabel = "go-cloudauth"

	rootPath = "data/sql/migrations"
)

// Tables lists the tables the SQL stores read and write. Every dialect must
// create each of them.
var Tables = []string{
	"cloudauth_credentials",
	"cloudauth_authorization_states",
	"cloudauth_rate_limit_states",
}

// Migration is one numbered up/down pair, e.g. 00001_cloudauth_credentials.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Dialect is the migration tree of one SQL dialect.
type Dialect struct {
	Name       string
	Path       string
	FS         fs.FS
	Migrations []Migration
}

type RegisterFunc func(ctx context.Context, dialect Dialect) error

type options struct {
	source   fs.FS
	dialects []string
}

type Option func(*options)

// WithSource replaces the embedded migration tree. The source must contain
// data/sql/migrations.
func WithSource(source fs.FS) Option {
	return func(o *options) {
		if source != nil {
			o.source = source
		}
	}
}

// WithDialects limits registration to the named dialects.
func WithDialects(dialects ...string) Option {
	return func(o *options) {
		next := make([]string, 0, len(dialects))
		for _, dialect := range dialects {
			dialect = strings.TrimSpace(strings.ToLower(dialect))
			if dialect != "" && !slices.Contains(next, dialect) {
				next = append(next, dialect)
			}
		}
		if len(next) > 0 {
			o.dialects = next
		}
	}
}

// Load reads the postgres tree and its sqlite variant and checks that both
// ship the same complete set of up/down pairs.
func Load(source fs.FS) ([]Dialect, error) {
	if source == nil {
		source = cloudauth.GetMigrationsFS()
	}
	base, err := fs.Sub(source, rootPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", rootPath, err)
	}
	sqliteFS, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}

	dialects := []Dialect{
		{Name: DialectPostgres, Path: rootPath, FS: base},
		{Name: DialectSQLite, Path: rootPath + "/" + DialectSQLite, FS: sqliteFS},
	}
	for i := range dialects {
		migrations, err := readMigrations(dialects[i].FS)
		if err != nil {
			return nil, fmt.Errorf("migrations: %s (%s): %w", dialects[i].Name, dialects[i].Path, err)
		}
		dialects[i].Migrations = migrations
	}

	want := versions(dialects[0].Migrations)
	for _, dialect := range dialects[1:] {
		if got := versions(dialect.Migrations); !slices.Equal(got, want) {
			return nil, fmt.Errorf("migrations: %s ships %v but %s ships %v", dialect.Name, got, dialects[0].Name, want)
		}
	}
	return dialects, nil
}

// Register validates the migration tree and hands each selected dialect to
// registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) ([]Dialect, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	o := options{dialects: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	dialects, err := Load(o.source)
	if err != nil {
		return nil, err
	}
	selected := make([]Dialect, 0, len(o.dialects))
	for _, name := range o.dialects {
		idx := slices.IndexFunc(dialects, func(d Dialect) bool { return d.Name == name })
		if idx < 0 {
			return nil, fmt.Errorf("migrations: unsupported dialect %q", name)
		}
		selected = append(selected, dialects[idx])
	}
	for _, dialect := range selected {
		if err := registerFn(ctx, dialect); err != nil {
			return nil, fmt.Errorf("migrations: register %s: %w", dialect.Name, err)
		}
	}
	return selected, nil
}

func readMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	byVersion := map[int]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, name, direction, err := parseFilename(entry.Name())
		if err != nil {
			return nil, err
		}
		migration, ok := byVersion[version]
		if !ok {
			migration = &Migration{Version: version, Name: name}
			byVersion[version] = migration
		}
		if migration.Name != name {
			return nil, fmt.Errorf("version %d is named both %q and %q", version, migration.Name, name)
		}
		if direction == "up" {
			migration.Up = entry.Name()
		} else {
			migration.Down = entry.Name()
		}
	}
	if len(byVersion) == 0 {
		return nil, fmt.Errorf("no migrations found")
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, migration := range byVersion {
		migrations = append(migrations, *migration)
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return a.Version - b.Version })

	created := map[string]bool{}
	for i, migration := range migrations {
		if migration.Version != i+1 {
			return nil, fmt.Errorf("expected version %d, found %d", i+1, migration.Version)
		}
		if migration.Up == "" || migration.Down == "" {
			return nil, fmt.Errorf("%05d_%s is missing its up or down file", migration.Version, migration.Name)
		}
		content, err := fs.ReadFile(fsys, migration.Up)
		if err != nil {
			return nil, err
		}
		sql := strings.ToLower(string(content))
		if strings.TrimSpace(sql) == "" {
			return nil, fmt.Errorf("%s is empty", migration.Up)
		}
		for _, table := range Tables {
			if strings.Contains(sql, "create table if not exists "+table) || strings.Contains(sql, "create table "+table) {
				created[table] = true
			}
		}
	}
	for _, table := range Tables {
		if !created[table] {
			return nil, fmt.Errorf("no migration creates %s", table)
		}
	}
	return migrations, nil
}

// parseFilename splits 00001_cloudauth_credentials.up.sql.
func parseFilename(filename string) (int, string, string, error) {
	stem := strings.TrimSuffix(filename, ".sql")
	dot := strings.LastIndex(stem, ".")
	if dot < 0 {
		return 0, "", "", fmt.Errorf("%s: expected <version>_<name>.<up|down>.sql", filename)
	}
	direction := stem[dot+1:]
	if direction != "up" && direction != "down" {
		return 0, "", "", fmt.Errorf("%s: unknown direction %q", filename, direction)
	}
	rawVersion, name, ok := strings.Cut(stem[:dot], "_")
	if !ok || name == "" {
		return 0, "", "", fmt.Errorf("%s: expected <version>_<name>.<up|down>.sql", filename)
	}
	version, err := strconv.Atoi(rawVersion)
	if err != nil || version <= 0 {
		return 0, "", "", fmt.Errorf("%s: invalid version %q", filename, rawVersion)
	}
	return version, name, direction, nil
}

func versions(migrations []Migration) []string {
	out := make([]string, 0, len(migrations))
	for _, migration := range migrations {
		out = append(out, fmt.Sprintf("%05d_%s", migration.Version, migration.Name))
	}
	return out
}
