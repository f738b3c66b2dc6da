package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The background cache writer and the command share one file. A single
	// connection avoids SQLITE_BUSY between them, at the cost of running
	// concurrent catalog scans one after another.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const createSchema = `
CREATE TABLE IF NOT EXISTS User (
  name TEXT PRIMARY KEY,
  last_updated DATETIME
);

CREATE TABLE IF NOT EXISTS Artist (
  name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS Album (
  artist TEXT,
  name TEXT,
  FOREIGN KEY (artist) REFERENCES Artist(name),
  PRIMARY KEY (artist, name)
);

CREATE TABLE IF NOT EXISTS Track (
  id INTEGER PRIMARY KEY,
  artist TEXT,
  album TEXT,
  name TEXT,
  FOREIGN KEY (artist) REFERENCES Artist(name)
);

CREATE TABLE IF NOT EXISTS Listen (
  id INTEGER PRIMARY KEY,
  user TEXT,
  track INTEGER,
  date TEXT,
  FOREIGN KEY (user) REFERENCES User(name),
  FOREIGN KEY (track) REFERENCES Track(id)
);

CREATE INDEX IF NOT EXISTS ListenUserDate ON Listen (user, date);

CREATE TABLE IF NOT EXISTS ResultCache (
  key TEXT PRIMARY KEY,
  value BLOB,
  expires_at INTEGER
);

CREATE TABLE IF NOT EXISTS Workflow (
  instance TEXT PRIMARY KEY,
  started_at INTEGER,
  completed_at INTEGER
);

CREATE TABLE IF NOT EXISTS WorkflowStep (
  instance TEXT,
  name TEXT,
  result BLOB,
  FOREIGN KEY (instance) REFERENCES Workflow(instance),
  PRIMARY KEY (instance, name)
);

CREATE TABLE IF NOT EXISTS Report (
  user TEXT,
  name TEXT,
  email TEXT,
  source TEXT,
  time_range TEXT,
  run_day INTEGER,
  sent INTEGER,
  FOREIGN KEY (user) REFERENCES User(name),
  PRIMARY KEY (user, name, email)
);

CREATE TABLE IF NOT EXISTS CatalogVector (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT UNIQUE,
  vector BLOB,
  text TEXT
);
`

func createTables(db *sql.DB) error {
	if _, err := db.Exec(createSchema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// ensureSchema adds columns introduced after a database was first created.
func ensureSchema(db *sql.DB) error {
	userColumns := []struct{ name, typeDef string }{
		{"display_name", "TEXT"},
		{"access_token", "TEXT"},
		{"refresh_token", "TEXT"},
		{"token_type", "TEXT"},
		{"token_expiry", "INTEGER"},
	}
	for _, c := range userColumns {
		if err := addColumnIfNotExists(db, "User", c.name, c.typeDef); err != nil {
			return err
		}
	}
	return nil
}

func addColumnIfNotExists(db *sql.DB, table, column, typeDef string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if !exists {
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typeDef)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("adding column %s.%s: %w", table, column, err)
		}
	}
	return nil
}

func columnExists(db *sql.DB, tableName string, columnName string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notnull int
		var dfltValue any
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == columnName {
			return true, nil
		}
	}
	return false, rows.Err()
}
