// Package storage archives stopped capture sessions in SQLite.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/usestring/trafficlab/internal/logging"
	"github.com/usestring/trafficlab/pkg/types"
)

// ErrNotFound is returned when a session is not archived.
var ErrNotFound = errors.New("session not archived")

// SessionRecord is the archived row of one capture session.
type SessionRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Status    string `gorm:"size:16;index"`
	Tool      string `gorm:"size:16"`
	PID       int
	StartedAt time.Time `gorm:"index"`
	StoppedAt *time.Time

	Config types.CaptureConfig `gorm:"serializer:json"`

	TotalPackets   int64
	TotalBytes     int64
	EmittedEvents  int64
	FilteredEvents int64
	LastPacketAt   *time.Time

	UpdatedAt time.Time
}

// TableName pins the table name.
func (SessionRecord) TableName() string { return "capture_sessions" }

// Archive is a GORM-backed session archive.
type Archive struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema. A plain file path has its
// parent directory created; ":memory:" opens a private in-memory database.
func Open(dsn string) (*Archive, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating storage dir: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logging.NewGormLogger(logging.Component("storage")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; one connection also keeps :memory: shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrating storage: %w", err)
	}
	return &Archive{db: db}, nil
}

// SaveSession upserts the final state of a session.
func (a *Archive) SaveSession(ctx context.Context, sess types.CaptureSession, stats types.SessionStats) error {
	rec := SessionRecord{
		ID:             sess.ID,
		Status:         string(sess.Status),
		Tool:           string(sess.Config.Tool),
		PID:            sess.PID,
		StartedAt:      sess.StartedAt,
		StoppedAt:      sess.StoppedAt,
		Config:         sess.Config,
		TotalPackets:   stats.TotalPackets,
		TotalBytes:     stats.TotalBytes,
		EmittedEvents:  stats.EmittedEvents,
		FilteredEvents: stats.FilteredEvents,
		LastPacketAt:   stats.LastPacketAt,
	}
	return a.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

// LoadSession returns an archived session and its stats.
func (a *Archive) LoadSession(ctx context.Context, id string) (*types.CaptureSession, *types.SessionStats, error) {
	var rec SessionRecord
	err := a.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, nil, err
	}
	sess, stats := rec.toTypes()
	return &sess, &stats, nil
}

// ListSessions returns archived sessions, newest first.
func (a *Archive) ListSessions(ctx context.Context, limit int) ([]types.CaptureSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []SessionRecord
	if err := a.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]types.CaptureSession, 0, len(recs))
	for _, rec := range recs {
		sess, _ := rec.toTypes()
		out = append(out, sess)
	}
	return out, nil
}

// Close releases the database connection.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (rec SessionRecord) toTypes() (types.CaptureSession, types.SessionStats) {
	sess := types.CaptureSession{
		ID:        rec.ID,
		Status:    types.SessionStatus(rec.Status),
		Config:    rec.Config,
		StartedAt: rec.StartedAt,
		StoppedAt: rec.StoppedAt,
		PID:       rec.PID,
	}
	stats := types.SessionStats{
		SessionID:      rec.ID,
		TotalPackets:   rec.TotalPackets,
		TotalBytes:     rec.TotalBytes,
		EmittedEvents:  rec.EmittedEvents,
		FilteredEvents: rec.FilteredEvents,
		LastPacketAt:   rec.LastPacketAt,
	}
	return sess, stats
}
