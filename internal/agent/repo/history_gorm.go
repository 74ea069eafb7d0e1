package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/labelspy/server/internal/agent/model"
	errx "github.com/labelspy/server/internal/core/error"
	"github.com/labelspy/server/internal/metrics"
	logx "github.com/labelspy/server/pkg/logger"
)

// DefaultHistoryLimit is used when ListRecent is called without a limit.
const DefaultHistoryLimit = 10

type HistoryStoreConfig struct {
	Path     string
	MaxConns int
	LogLevel logger.LogLevel
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// HistoryStore is the durable, append-only log of completed analyses.
type HistoryStore struct {
	db    *gorm.DB
	sqlDB *sql.DB
	now   func() time.Time

	// mu serialises appends so created_at never goes backwards.
	mu   sync.Mutex
	last time.Time
}

// NewHistoryStore opens the SQLite database at cfg.Path and migrates it.
func NewHistoryStore(cfg HistoryStoreConfig) (*HistoryStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history database path is empty")
	}
	sqlDB, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	logLevel := cfg.LogLevel
	if logLevel == 0 {
		logLevel = logger.Silent
	}
	db, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger:      logger.Default.LogMode(logLevel),
		PrepareStmt: true,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &HistoryStore{db: db, sqlDB: sqlDB, now: now}

	var latest analysisRow
	err = db.Order("created_at DESC").Take(&latest).Error
	switch {
	case err == nil:
		s.last = latest.CreatedAt.UTC()
	case !errors.Is(err, gorm.ErrRecordNotFound):
		_ = sqlDB.Close()
		return nil, fmt.Errorf("load latest analysis: %w", err)
	}
	return s, nil
}

func (s *HistoryStore) Close() error {
	return s.sqlDB.Close()
}

func (s *HistoryStore) Ping() error {
	return s.sqlDB.Ping()
}

// Append stores rec and fills in its ID and CreatedAt.
func (s *HistoryStore) Append(ctx context.Context, rec *model.HistoryRecord) (int64, error) {
	if rec == nil {
		return 0, errx.Newf(errx.KindPersistence, errx.DBErrorMessage, "history record is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := s.now().UTC()
	if createdAt.Before(s.last) {
		createdAt = s.last
	}
	row := rowFromRecord(rec)
	row.CreatedAt = createdAt

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		metrics.ObserveHistoryWrite(errx.KindPersistence.String())
		logx.Error().Err(err).Int64("user_id", rec.UserID).Msg("failed to append analysis")
		return 0, errx.WrapDB(err)
	}
	s.last = createdAt
	rec.ID = row.ID
	rec.CreatedAt = createdAt
	metrics.ObserveHistoryWrite("ok")
	return row.ID, nil
}

// ListRecent returns the user's newest records first, ties broken by id.
func (s *HistoryStore) ListRecent(ctx context.Context, userID int64, limit int) ([]model.HistoryRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var rows []analysisRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		logx.Error().Err(err).Int64("user_id", userID).Msg("failed to list analyses")
		return nil, errx.WrapDB(err)
	}
	out := make([]model.HistoryRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

// Clear removes the user's records. Other users are untouched.
func (s *HistoryStore) Clear(ctx context.Context, userID int64) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&analysisRow{})
	if res.Error != nil {
		logx.Error().Err(res.Error).Int64("user_id", userID).Msg("failed to clear analyses")
		return 0, errx.WrapDB(res.Error)
	}
	return res.RowsAffected, nil
}

var _ model.HistoryRepository = (*HistoryStore)(nil)
