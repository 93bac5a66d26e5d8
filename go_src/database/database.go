package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	_ "modernc.org/sqlite"              // SQLite driver
)

const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"
	MemoryPath   = ":memory:"

	duckDBMemoryLimit    = "256MB"
	duckDBThreads        = "2"
	sqliteBusyTimeoutMs  = 5000
	corruptionMarkerFile = ".db_corrupted"
)

// CalendarDB holds the connection used for holidays and the event journal.
type CalendarDB struct {
	db       *sql.DB
	driver   string
	dbPath   string
	inMemory bool
}

// Open connects to a DuckDB or SQLite database at dbPath. ":memory:" opens a
// private in-memory database limited to a single connection.
func Open(driver, dbPath string) (*CalendarDB, error) {
	switch driver {
	case "":
		driver = DriverDuckDB
	case DriverDuckDB, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if dbPath == "" {
		return nil, fmt.Errorf("database path not provided in configuration")
	}
	inMemory := dbPath == MemoryPath

	connStr := dbPath
	if !inMemory {
		dbDir := filepath.Dir(dbPath)
		if _, err := os.Stat(dbDir); os.IsNotExist(err) {
			if mkDirErr := os.MkdirAll(dbDir, 0755); mkDirErr != nil {
				return nil, fmt.Errorf("failed to create database directory '%s': %w", dbDir, mkDirErr)
			}
		}
		if _, err := os.Stat(filepath.Join(dbDir, corruptionMarkerFile)); err == nil {
			return nil, fmt.Errorf("database at %s is marked as corrupted", dbPath)
		}
		if driver == DriverDuckDB {
			connStr = fmt.Sprintf("%s?access_mode=READ_WRITE", dbPath)
		} else {
			connStr = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", dbPath, sqliteBusyTimeoutMs)
		}
	}

	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database at %s: %w", driver, dbPath, err)
	}
	if inMemory {
		// Every new SQLite connection to :memory: would be a fresh, empty database.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database at %s: %w", driver, dbPath, err)
	}

	var initialConfigs []string
	if driver == DriverDuckDB {
		initialConfigs = []string{
			fmt.Sprintf("SET memory_limit='%s';", duckDBMemoryLimit),
			fmt.Sprintf("SET threads=%s;", duckDBThreads),
		}
	} else {
		initialConfigs = []string{"PRAGMA foreign_keys=ON;"}
	}
	for _, confSQL := range initialConfigs {
		if _, err := db.Exec(confSQL); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply initial config '%s': %w", confSQL, err)
		}
	}

	return &CalendarDB{db: db, driver: driver, dbPath: dbPath, inMemory: inMemory}, nil
}

// Close closes the database connection.
func (cdb *CalendarDB) Close() error {
	if cdb.db != nil {
		return cdb.db.Close()
	}
	return nil
}

func (cdb *CalendarDB) DB() *sql.DB {
	return cdb.db
}

func (cdb *CalendarDB) Driver() string {
	return cdb.driver
}

// IsDatabaseCorrupted reports whether the file marker next to the database exists.
func (cdb *CalendarDB) IsDatabaseCorrupted() bool {
	if cdb.inMemory {
		return false
	}
	_, err := os.Stat(cdb.markerPath())
	return err == nil
}

// MarkDatabaseAsCorrupted creates the marker that makes later Open calls fail.
func (cdb *CalendarDB) MarkDatabaseAsCorrupted() error {
	if cdb.inMemory {
		return fmt.Errorf("cannot mark in-memory database as corrupted")
	}
	file, err := os.Create(cdb.markerPath())
	if err != nil {
		return fmt.Errorf("failed to create corruption marker file at %s: %w", cdb.markerPath(), err)
	}
	return file.Close()
}

func (cdb *CalendarDB) RemoveCorruptionMark() error {
	if cdb.inMemory {
		return nil
	}
	err := os.Remove(cdb.markerPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove corruption marker file at %s: %w", cdb.markerPath(), err)
	}
	return nil
}

func (cdb *CalendarDB) markerPath() string {
	return filepath.Join(filepath.Dir(cdb.dbPath), corruptionMarkerFile)
}
