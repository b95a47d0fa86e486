package persist

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/dreamware/tuplespace/internal/tuple"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tuples (
	seq   INTEGER PRIMARY KEY,
	arity INTEGER NOT NULL,
	body  TEXT NOT NULL
);`

// SQLite keeps the tuple set in a table of canonical text rows. A save
// replaces the table contents inside one transaction.
type SQLite struct{}

func openSQLite(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (SQLite) Save(path string, tuples []tuple.Tuple) error {
	db, err := openSQLite(path)
	if err != nil {
		return err
	}
	defer db.Close()

	return retryOnContention(func() error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM tuples`); err != nil {
			return fmt.Errorf("clear tuples: %w", err)
		}
		stmt, err := tx.Prepare(`INSERT INTO tuples (seq, arity, body) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, t := range tuples {
			if _, err := stmt.Exec(i, len(t), t.String()); err != nil {
				return fmt.Errorf("insert tuple %d: %w", i, err)
			}
		}
		return tx.Commit()
	})
}

// Load fails on a missing file; opening it would create an empty database.
func (SQLite) Load(path string) ([]tuple.Tuple, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT arity, body FROM tuples ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query tuples: %w", err)
	}
	defer rows.Close()

	var tuples []tuple.Tuple
	for rows.Next() {
		var (
			arity int
			body  string
		)
		if err := rows.Scan(&arity, &body); err != nil {
			return nil, err
		}
		t, err := tuple.Parse(body)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(tuples), err)
		}
		if len(t) != arity {
			return nil, fmt.Errorf("row %d: arity %d, stored %d", len(tuples), len(t), arity)
		}
		if err := t.ValidateConcrete(); err != nil {
			return nil, fmt.Errorf("row %d: %w", len(tuples), err)
		}
		tuples = append(tuples, t)
	}
	return tuples, rows.Err()
}
