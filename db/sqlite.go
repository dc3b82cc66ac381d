package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrTrainingNotFound is returned for an unknown training id.
var ErrTrainingNotFound = errors.New("training not found")

// Store persists trainings, their model parameters, metrics and dataset
// statistics in SQLite.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens (and creates when needed) the database at path in WAL mode.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on"
	database, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}

	database.SetMaxOpenConns(10)
	database.SetMaxIdleConns(5)
	database.SetConnMaxLifetime(1 * time.Hour)

	s := &Store{db: database, path: path, logger: logger}
	if err := s.createTables(); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	if err := s.createIndexes(); err != nil {
		logger.Warn("create indexes failed", zap.Error(err))
	}

	logger.Info("database opened", zap.String("path", path))
	return s, nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trainings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            dataset_name TEXT NOT NULL,
            target TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            patterns INTEGER NOT NULL,
            inputs INTEGER NOT NULL,
            outputs INTEGER NOT NULL,
            centers INTEGER NOT NULL,
            train_ratio REAL NOT NULL,
            activation TEXT NOT NULL,
            error_threshold REAL NOT NULL,
            classification INTEGER NOT NULL DEFAULT 0,
            normalized INTEGER NOT NULL DEFAULT 0,
            seed INTEGER NOT NULL DEFAULT 0,
            description TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS model_config (
            training_id INTEGER PRIMARY KEY REFERENCES trainings(id),
            bundle TEXT NOT NULL,
            scaler TEXT,
            classes TEXT,
            feature_names TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS metrics (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            training_id INTEGER NOT NULL REFERENCES trainings(id),
            set_name TEXT NOT NULL CHECK (set_name IN ('train', 'test')),
            eg REAL NOT NULL,
            mae REAL NOT NULL,
            rmse REAL NOT NULL,
            converge INTEGER NOT NULL,
            UNIQUE(training_id, set_name)
        )`,
		`CREATE TABLE IF NOT EXISTS dataset_stats (
            training_id INTEGER PRIMARY KEY REFERENCES trainings(id),
            stats TEXT NOT NULL
        )`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) createIndexes() error {
	queries := []string{
		`CREATE INDEX IF NOT EXISTS idx_trainings_created ON trainings(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_training ON metrics(training_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
