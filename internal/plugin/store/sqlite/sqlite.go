// Package sqlite is the single-file store behind the memory pipeline: the
// relational tables, the FTS5 index over memory content and the sqlite-vec
// cosine search. One connection owns all writes; reads go through a small
// pool on a second handle over the same file.
package sqlite

import (
	"context"
	"fmt"
	"net/url"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/charmbracelet/log"
	"github.com/mranderson01901234/5.0-sub004/internal/config"
	registrymigrate "github.com/mranderson01901234/5.0-sub004/internal/registry/migrate"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	// Register the vec extension for every connection the driver opens, so
	// both handles and the migrator can run vec_distance_cosine.
	sqlite_vec.Auto()

	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.MemoryStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBPath == "" {
				return nil, fmt.Errorf("sqlite store: MEMORYD_DB_PATH is required")
			}
			return Open(cfg.DBPath, cfg.DBMaxReadConns)
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

// dsn builds a mattn/go-sqlite3 DSN with the pragmas the write path depends
// on. mmap_size has no DSN parameter, so Open applies it with a PRAGMA.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_cache_size", "-64000")
	q.Set("_foreign_keys", "on")
	return "file:" + path + "?" + q.Encode()
}

const mmapSize = 268435456 // 256 MB

// Store implements registrystore.MemoryStore over one SQLite file.
type Store struct {
	write *gorm.DB // pinned to one connection; every mutation goes here
	read  *gorm.DB // small pool for queries
	path  string
}

// Open opens the write and read handles over path.
func Open(path string, readConns int) (*Store, error) {
	if readConns <= 0 {
		readConns = 4
	}
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	write, err := gorm.Open(sqlite.Open(dsn(path)), gcfg)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open write handle: %w", err)
	}
	wdb, err := write.DB()
	if err != nil {
		return nil, err
	}
	wdb.SetMaxOpenConns(1)

	read, err := gorm.Open(sqlite.Open(dsn(path)), gcfg)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open read handle: %w", err)
	}
	rdb, err := read.DB()
	if err != nil {
		return nil, err
	}
	rdb.SetMaxOpenConns(readConns)

	for _, db := range []*gorm.DB{write, read} {
		if err := db.Exec(fmt.Sprintf("PRAGMA mmap_size=%d", mmapSize)).Error; err != nil {
			log.Warn("mmap_size pragma failed", "err", err)
		}
	}

	return &Store{write: write, read: read, path: path}, nil
}

// Migrate applies the embedded schema. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	return s.write.WithContext(ctx).Exec(schemaSQL).Error
}

// Close closes both handles.
func (s *Store) Close() error {
	if rdb, err := s.read.DB(); err == nil {
		_ = rdb.Close()
	}
	wdb, err := s.write.DB()
	if err != nil {
		return err
	}
	return wdb.Close()
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }

func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "" && cfg.DatastoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(sqlite.Open(dsn(cfg.DBPath)), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return fmt.Errorf("migration: failed to open %s: %w", cfg.DBPath, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("SQLite schema migration complete")
	return nil
}
