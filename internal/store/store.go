// Package store is the embedded record store of the reconciliation service.
//
// It owns the schema of every persisted entity: ingested inputs, match runs
// with their results and exceptions, policy rules, versioned split rules,
// adjustments and the append-only audit log. The backing database is a single
// SQLite file in WAL mode opened through gorm.
//
// All writes go through Update, which serializes writers behind one mutex and
// runs the callback in a single transaction bound to the request context. A
// cancelled context or a callback error rolls the whole unit back, so readers
// observe either the pre- or the post-commit state and never an intermediate
// one. Reads use Read, which runs in its own read transaction and does not take
// the writer lock.
package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config holds the store settings
type Config struct {
	Path          string        `json:"path" mapstructure:"path"`
	BusyTimeout   time.Duration `json:"busy_timeout" mapstructure:"busy_timeout"`
	SlowThreshold time.Duration `json:"slow_threshold" mapstructure:"slow_threshold"`
	LogQueries    bool          `json:"log_queries" mapstructure:"log_queries"`
}

// DefaultConfig returns the default store configuration
func DefaultConfig() Config {
	return Config{
		Path:          "reconciler.db",
		BusyTimeout:   5 * time.Second,
		SlowThreshold: 500 * time.Millisecond,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("store path cannot be empty")
	}
	if c.Path == ":memory:" {
		return fmt.Errorf("in-memory databases are not supported; use a file path")
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("busy timeout cannot be negative: %s", c.BusyTimeout)
	}
	return nil
}

func (c Config) dsn() string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
		c.Path, c.BusyTimeout.Milliseconds())
}

// Store is the record store
type Store struct {
	db     *gorm.DB
	mu     sync.Mutex
	config Config
	logger logger.Logger
}

// Open opens (creating if needed) the database file and migrates the schema
func Open(config Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "store.path", config.Path, err)
	}

	log := logger.GetGlobalLogger().WithComponent("store")

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.FileError(errors.CodeDirectoryError, dir, err)
		}
	}

	level := gormlogger.Silent
	if config.LogQueries {
		level = gormlogger.Info
	}
	db, err := gorm.Open(sqlite.Open(config.dsn()), &gorm.Config{
		Logger: gormlogger.New(gormWriter{log}, gormlogger.Config{
			SlowThreshold:             config.SlowThreshold,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "open", err)
	}

	if err := db.AutoMigrate(allTables()...); err != nil {
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "migrate", err)
	}

	log.WithFields(logger.Fields{
		"path":         config.Path,
		"busy_timeout": config.BusyTimeout.String(),
	}).Info("Record store opened")

	return &Store{db: db, config: config, logger: log}, nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.StorageError(errors.CodeStoreUnavailable, "close", err)
	}
	return sqlDB.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.config.Path
}

// Update runs fn as the single writer inside one transaction. Any error from fn,
// a commit failure or a cancelled context rolls back every write made by fn.
func (s *Store) Update(ctx context.Context, operation string, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.InternalError(errors.CodeCancelled, operation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := fn(&Tx{db: db}); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		s.logger.WithError(err).WithField("operation", operation).Warn("Transaction rolled back")
		return classify(ctx, operation, err)
	}

	s.logger.WithFields(logger.Fields{
		"operation":   operation,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Transaction committed")
	return nil
}

// Read runs fn inside a read transaction so every query sees one snapshot
func (s *Store) Read(ctx context.Context, operation string, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.InternalError(errors.CodeCancelled, operation, err)
	}
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&Tx{db: db})
	})
	if err != nil {
		return classify(ctx, operation, err)
	}
	return nil
}

// classify maps a transaction failure onto the error taxonomy
func classify(ctx context.Context, operation string, err error) error {
	if _, ok := errors.AsReconcilerError(err); ok {
		return err
	}
	if ctx.Err() != nil || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.InternalError(errors.CodeCancelled, operation, err)
	}
	return errors.StorageError(errors.CodeTransaction, operation, err)
}

// Tx exposes the store's queries inside one transaction
type Tx struct {
	db *gorm.DB
}

func queryError(operation string, err error) error {
	if _, ok := errors.AsReconcilerError(err); ok {
		return err
	}
	return errors.StorageError(errors.CodeQuery, operation, err)
}

// gormWriter routes gorm's statement log through the component logger
type gormWriter struct {
	log logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Debugf(format, args...)
}
