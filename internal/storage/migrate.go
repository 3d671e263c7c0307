package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrations embed.FS

// Migrations returns the migration files for d.
func Migrations(d Dialect) (fs.FS, error) {
	switch d {
	case Postgres:
		return fs.Sub(migrations, "migrations/postgres")
	case MySQL:
		return fs.Sub(migrations, "migrations/mysql")
	default:
		return nil, fmt.Errorf("unsupported dialect %q", d)
	}
}

// OpenDB opens a database/sql handle for dsn. Postgres goes through pgx's stdlib driver.
func OpenDB(dsn string) (*sql.DB, Dialect, error) {
	dialect, driverDSN, err := ParseDSN(dsn)
	if err != nil {
		return nil, "", err
	}
	driver := "pgx"
	if dialect == MySQL {
		driver = "mysql"
	}
	db, err := sql.Open(driver, driverDSN)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", dialect, err)
	}
	return db, dialect, nil
}

// Migrate applies every pending migration for the store at dsn and returns the
// versions it applied.
func Migrate(ctx context.Context, dsn string, logger *zap.Logger) ([]int64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, dialect, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}

	fsys, err := Migrations(dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	gooseDialect := goose.DialectPostgres
	if dialect == MySQL {
		gooseDialect = goose.DialectMySQL
	}
	p, err := goose.NewProvider(gooseDialect, db, fsys)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init migrations: %w", err)
	}
	defer func() {
		_ = p.Close()
	}()

	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		applied = append(applied, r.Source.Version)
		logger.Info("applied migration",
			zap.String("dialect", string(dialect)),
			zap.Int64("version", r.Source.Version),
			zap.Duration("took", r.Duration),
		)
	}
	return applied, nil
}
