package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

var (
	db   *sql.DB
	once sync.Once
)

// Config holds database configuration
type Config struct {
	Path string
	// BusyTimeoutMillis bounds how long a writer waits for the lock; 0 means 5000
	BusyTimeoutMillis int
}

// pragmas are applied by the driver to every new connection
func (cfg Config) pragmas() []string {
	timeout := cfg.BusyTimeoutMillis
	if timeout <= 0 {
		timeout = 5000
	}
	p := []string{
		"foreign_keys(1)",
		fmt.Sprintf("busy_timeout(%d)", timeout),
	}
	if cfg.Path != memoryPath {
		p = append(p, "journal_mode(WAL)", "synchronous(NORMAL)")
	}
	return p
}

func (cfg Config) dsn() string {
	q := url.Values{}
	for _, p := range cfg.pragmas() {
		q.Add("_pragma", p)
	}
	return cfg.Path + "?" + q.Encode()
}

// Init opens the shared session store and brings its schema up to date
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		if db, err = Open(cfg); err != nil {
			return
		}
		if err = MigrateUp(db); err != nil {
			db.Close()
			db = nil
			return
		}
		log.Printf("[Database] session store ready: %s", cfg.Path)
	})
	return err
}

// Open opens a sqlite database, creating its directory if needed
func Open(cfg Config) (*sql.DB, error) {
	if cfg.Path != memoryPath {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: would see its own empty database
	if cfg.Path == memoryPath {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

// GetDB returns the shared connection opened by Init
func GetDB() *sql.DB {
	if db == nil {
		log.Fatal("[Database] GetDB called before Init")
	}
	return db
}

// Close closes the shared connection
func Close() error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// Transaction runs fn in a transaction on conn, committing when fn returns nil
func Transaction(ctx context.Context, conn *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}
