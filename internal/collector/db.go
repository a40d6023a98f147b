package collector

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type dbOptions struct {
	traceLogger *slog.Logger
}

// DBOption configures OpenDB.
type DBOption func(*dbOptions)

// WithQueryTrace logs every statement at debug level on logger.
func WithQueryTrace(logger *slog.Logger) DBOption {
	return func(o *dbOptions) {
		if logger == nil {
			logger = slog.Default()
		}
		o.traceLogger = logger
	}
}

// OpenDB opens the journal database and applies pending migrations.
func OpenDB(path string, opts ...DBOption) (*sql.DB, error) {
	var o dbOptions
	for _, opt := range opts {
		opt(&o)
	}

	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if o.traceLogger != nil {
		db = sql.OpenDB(newTraceConnector(dsn, o.traceLogger))
	} else {
		db, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
	}
	// One writer keeps the three intake paths from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func buildDSN(path string) (string, error) {
	if path == ":memory:" {
		return "file::memory:?_foreign_keys=on", nil
	}

	if !strings.HasPrefix(path, "file:") {
		dir := filepath.Dir(path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
	}

	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
