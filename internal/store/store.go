// Package store persists evaluation run records in SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Run statuses, in lifecycle order.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrNotFound = errors.New("run not found")

// Run is one suite evaluation requested through the service.
type Run struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"run_id"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Status      string     `gorm:"type:varchar(16);index;not null" json:"status"`
	AgentName   string     `gorm:"type:varchar(255)" json:"agent_name,omitempty"`
	Error       *string    `gorm:"type:text" json:"error"`
	ReportPath  *string    `gorm:"type:text" json:"report_path"`
}

type Config struct {
	// Path is the database file; ":memory:" keeps everything in process.
	Path  string
	Debug bool
}

type SQLiteStore struct {
	db *gorm.DB
}

func Open(cfg Config) (*SQLiteStore, error) {
	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	if cfg.Path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, fmt.Errorf("migrating run store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, run *Run) error {
	if run.Status == "" {
		run.Status = StatusQueued
	}
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns runs newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]Run, error) {
	var runs []Run
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&runs).Error
	return runs, err
}

func (s *SQLiteStore) MarkRunning(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, map[string]any{"status": StatusRunning, "started_at": at})
}

// MarkCompleted records success; reportPath is where the session's reports live.
func (s *SQLiteStore) MarkCompleted(ctx context.Context, id, reportPath string, at time.Time) error {
	return s.update(ctx, id, map[string]any{
		"status":       StatusCompleted,
		"report_path":  reportPath,
		"completed_at": at,
	})
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, cause error, at time.Time) error {
	return s.update(ctx, id, map[string]any{
		"status":       StatusFailed,
		"error":        cause.Error(),
		"completed_at": at,
	})
}

func (s *SQLiteStore) update(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&Run{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
