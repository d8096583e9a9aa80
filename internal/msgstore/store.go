// Package msgstore persists conversation messages and usage counters in
// sqlite. The ingress handler writes here; the history endpoint reads back in
// creation order.
package msgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sebastian-lehto/micromanager-agent/internal/conversation"
)

// Message is the stored mirror of a conversation message. Metadata is
// flattened into columns; the API layer folds it back.
type Message struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserID    string    `gorm:"index;size:64;not null"`
	Role      string    `gorm:"size:16;not null"`
	Content   string    `gorm:"not null"`
	Type      string    `gorm:"size:16;not null"`
	Source    string    `gorm:"size:32;not null"`
	Tokens    int       `gorm:"default:0"`
	Reasoning string    ``
	Failed    bool      `gorm:"default:false"`
	CreatedAt time.Time `gorm:"index;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type UsageRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"index;size:64;not null"`
	Tokens    int
	Messages  int
	CreatedAt time.Time `gorm:"not null"`
}

type Store struct {
	db *gorm.DB
}

// Open connects to sqlite with the configured pragmas and pool limits, and
// auto-migrates the schema when enabled.
func Open(cfg Config) (*Store, error) {
	dsn, err := ResolveDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(sqlite.Open(dsnWithPragmas(dsn, cfg.SQLite)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.Pool.ConnMaxLifetime)

	s := &Store{db: gdb}
	if cfg.AutoMigrate {
		if err := s.AutoMigrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) AutoMigrate() error {
	if s.db == nil {
		return fmt.Errorf("nil gorm db")
	}
	return s.db.AutoMigrate(&Message{}, &UsageRecord{})
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateMessage persists one message, assigning a UUID when the caller did
// not provide an identity.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	if m.Type == "" {
		m.Type = conversation.TypeText
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// ListMessages returns a user's messages ascending by creation time.
func (s *Store) ListMessages(ctx context.Context, userID string) ([]Message, error) {
	var out []Message
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func (s *Store) CountMessages(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Message{}).Where("user_id = ?", userID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *Store) AddUsage(ctx context.Context, userID string, tokens, messages int) error {
	rec := UsageRecord{
		UserID:    userID,
		Tokens:    tokens,
		Messages:  messages,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	return nil
}

// UsageTotals sums a user's recorded token and message counts.
func (s *Store) UsageTotals(ctx context.Context, userID string) (tokens int64, messages int64, err error) {
	type sums struct {
		Tokens   int64
		Messages int64
	}
	var out sums
	err = s.db.WithContext(ctx).Model(&UsageRecord{}).
		Select("COALESCE(SUM(tokens),0) AS tokens, COALESCE(SUM(messages),0) AS messages").
		Where("user_id = ?", userID).
		Scan(&out).Error
	if err != nil {
		return 0, 0, fmt.Errorf("usage totals: %w", err)
	}
	return out.Tokens, out.Messages, nil
}

// ToConversation converts a stored row back to the wire shape.
func (m Message) ToConversation() conversation.Message {
	out := conversation.Message{
		ID:        m.ID,
		UserID:    m.UserID,
		Role:      conversation.Role(m.Role),
		Content:   m.Content,
		Type:      m.Type,
		Source:    conversation.Source(m.Source),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.Tokens != 0 || m.Reasoning != "" || m.Failed {
		out.Metadata = &conversation.Metadata{
			Tokens:    m.Tokens,
			Reasoning: m.Reasoning,
			Error:     m.Failed,
		}
	}
	return out
}

// FromConversation builds a storable row from the wire shape.
func FromConversation(m conversation.Message) Message {
	out := Message{
		ID:        m.ID,
		UserID:    m.UserID,
		Role:      string(m.Role),
		Content:   m.Content,
		Type:      m.Type,
		Source:    string(m.Source),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.Metadata != nil {
		out.Tokens = m.Metadata.Tokens
		out.Reasoning = m.Metadata.Reasoning
		out.Failed = m.Metadata.Error
	}
	return out
}
