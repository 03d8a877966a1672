// Package history keeps a local log of finished calls in SQLite.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dkeye/voicecall/internal/domain"
)

// Call is one row of the call log.
type Call struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	SessionID   string          `gorm:"type:varchar(36);uniqueIndex" json:"sessionId"`
	ChatID      domain.ChatID   `gorm:"index" json:"chatId"`
	Mode        string          `gorm:"type:varchar(16)" json:"mode"`
	Outgoing    bool            `json:"outgoing"`
	Video       bool            `json:"video"`
	Initiator   domain.MemberID `json:"initiatorMemberId"`
	Status      string          `gorm:"type:varchar(16)" json:"status"`
	Reason      string          `gorm:"type:varchar(32)" json:"reason,omitempty"`
	Members     int             `json:"members"`
	StartedAt   time.Time       `gorm:"index" json:"startedAt"`
	ConnectedAt *time.Time      `json:"connectedAt,omitempty"`
	EndedAt     time.Time       `json:"endedAt"`
	DurationSec int64           `json:"durationSec"`
}

func fromRecord(rec domain.CallRecord) Call {
	c := Call{
		SessionID:   rec.SessionID,
		ChatID:      rec.ChatID,
		Mode:        rec.Mode.String(),
		Outgoing:    rec.Outgoing,
		Video:       rec.Video,
		Initiator:   rec.Initiator,
		Status:      rec.Status.String(),
		Reason:      string(rec.Reason),
		Members:     rec.Members,
		StartedAt:   rec.StartedAt,
		EndedAt:     rec.EndedAt,
		DurationSec: int64(rec.Duration() / time.Second),
	}
	if !rec.ConnectedAt.IsZero() {
		at := rec.ConnectedAt
		c.ConnectedAt = &at
	}
	return c
}

type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path.
// ":memory:" gives a throwaway store.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Call{}); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	log.Info().Str("module", "history").Str("path", path).Msg("call history ready")
	return &Store{db: db}, nil
}

// Record stores a finished session. A session is recorded at most once.
func (s *Store) Record(ctx context.Context, rec domain.CallRecord) error {
	row := fromRecord(rec)
	res := s.db.WithContext(ctx).Where(Call{SessionID: row.SessionID}).FirstOrCreate(&row)
	if res.Error != nil {
		return fmt.Errorf("record call %s: %w", rec.SessionID, res.Error)
	}
	log.Debug().Str("module", "history").Str("sid", rec.SessionID).Str("status", row.Status).Msg("call recorded")
	return nil
}

// Recent returns up to limit calls, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 50
	}
	calls := []Call{}
	if err := s.db.WithContext(ctx).Order("started_at desc, id desc").Limit(limit).Find(&calls).Error; err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return calls, nil
}

// ForChat returns the calls of one chat, newest first.
func (s *Store) ForChat(ctx context.Context, chat domain.ChatID, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 50
	}
	calls := []Call{}
	err := s.db.WithContext(ctx).Where("chat_id = ?", chat).Order("started_at desc, id desc").Limit(limit).Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("list calls of chat %d: %w", chat, err)
	}
	return calls, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
