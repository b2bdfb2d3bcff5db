// Package store persists the stream checkpoint: a single durable value
// holding the last fully-processed feed position in microseconds since
// epoch.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ResumePolicy decides where consumption restarts when a stored cursor
// exists. This is an explicit choice, not a side effect of comparison
// logic.
type ResumePolicy string

const (
	// ResumeFromStored picks up exactly where the last run checkpointed,
	// replaying any backlog accumulated while the service was down.
	ResumeFromStored ResumePolicy = "resume"
	// SkipToNow discards any backlog gap and starts at the current time.
	SkipToNow ResumePolicy = "skip-to-now"
)

func ParseResumePolicy(s string) (ResumePolicy, error) {
	switch ResumePolicy(s) {
	case ResumeFromStored, SkipToNow:
		return ResumePolicy(s), nil
	}
	return "", fmt.Errorf("unknown resume policy: %q", s)
}

// StreamCursor is the single-row checkpoint record.
type StreamCursor struct {
	ID        uint `gorm:"primarykey"`
	TimeUS    int64
	UpdatedAt time.Time
}

// CursorStore reads and writes the checkpoint through a gorm handle.
type CursorStore struct {
	db     *gorm.DB
	policy ResumePolicy

	now func() time.Time
}

func NewCursorStore(db *gorm.DB, policy ResumePolicy) (*CursorStore, error) {
	if err := db.AutoMigrate(&StreamCursor{}); err != nil {
		return nil, fmt.Errorf("migrating cursor table: %w", err)
	}
	if policy == "" {
		policy = ResumeFromStored
	}
	return &CursorStore{db: db, policy: policy, now: time.Now}, nil
}

// Load returns the starting position for this run. On first run there is
// no backlog to replay, so the cursor defaults to the current time. With
// SkipToNow a stored cursor older than now is advanced forward, discarding
// the gap.
func (s *CursorStore) Load(ctx context.Context) (int64, error) {
	var cur StreamCursor
	err := s.db.WithContext(ctx).First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.now().UnixMicro(), nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading cursor: %w", err)
	}

	if s.policy == SkipToNow {
		if now := s.now().UnixMicro(); now > cur.TimeUS {
			return now, nil
		}
	}
	return cur.TimeUS, nil
}

// Save persists the given position. Values below the stored one are
// ignored so the checkpoint never regresses.
func (s *CursorStore) Save(ctx context.Context, timeUS int64) error {
	if timeUS <= 0 {
		return nil
	}

	var cur StreamCursor
	err := s.db.WithContext(ctx).First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(&StreamCursor{TimeUS: timeUS}).Error
	}
	if err != nil {
		return fmt.Errorf("reading cursor for save: %w", err)
	}
	if timeUS < cur.TimeUS {
		return nil
	}
	return s.db.WithContext(ctx).Model(&StreamCursor{}).Where("id = ?", cur.ID).Update("time_us", timeUS).Error
}

// SetupDatabase opens a sqlite or postgres handle from a URL-style DSN,
// with pragmas and pool settings the way the rest of our services do it.
func SetupDatabase(dbURL string, maxConns int) (*gorm.DB, error) {
	var dial gorm.Dialector
	isSqlite := false

	if strings.HasPrefix(dbURL, "sqlite://") {
		sqlitePath := dbURL[len("sqlite://"):]
		if !strings.Contains(sqlitePath, ":?") && !strings.HasPrefix(sqlitePath, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(sqlitePath), os.ModePerm); err != nil {
				return nil, err
			}
		}
		dial = sqlite.Open(sqlitePath)
		isSqlite = true
	} else if strings.HasPrefix(dbURL, "postgresql://") || strings.HasPrefix(dbURL, "postgres://") {
		dial = postgres.Open(dbURL)
	} else {
		return nil, fmt.Errorf("unsupported database URL scheme: must start with sqlite:// or postgres://")
	}

	db, err := gorm.Open(dial, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 slogGorm.New(),
	})
	if err != nil {
		return nil, err
	}

	if isSqlite {
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return nil, err
		}
		if err := db.Exec("PRAGMA synchronous=normal;").Error; err != nil {
			return nil, err
		}
	} else {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns)
		sqlDB.SetConnMaxIdleTime(time.Hour)
	}

	return db, nil
}
