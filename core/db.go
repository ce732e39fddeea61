package core

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

type SQLiteDBOption struct {
	// mode can be ro | rw | rwc | memory
	Mode string
	// cache can be shared | private
	Cache string
	// JournalMode can be DELETE | TRUNCATE | PERSIST | MEMORY | WAL | OFF
	JournalMode string
}

func (config *SQLiteDBOption) DSN(file string) string {
	var params []string
	if config != nil {
		if config.Mode != "" {
			params = append(params, "mode="+config.Mode)
		}
		if config.Cache != "" {
			params = append(params, "cache="+config.Cache)
		}
		if config.JournalMode != "" {
			params = append(params, "journal_mode="+config.JournalMode)
		}
	}
	if len(params) == 0 {
		return "file:" + file
	}
	return "file:" + file + "?" + strings.Join(params, "&")
}

type SQLiteDB struct {
	*sql.DB
	migrationDir string
}

func NewSQLiteDB(file, migrationDir string, config *SQLiteDBOption) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite3", config.DSN(file))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return &SQLiteDB{DB: d, migrationDir: migrationDir}, nil
}

func (db *SQLiteDB) Migrate() error {
	goose.SetBaseFS(os.DirFS(db.migrationDir))

	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}

	if err := goose.Up(db.DB, "."); err != nil {
		return err
	}
	return nil
}
