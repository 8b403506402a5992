// Package gormstore keeps remote sessions in PostgreSQL through gorm. Row
// changes are announced with pg_notify triggers, which pgnotify listens to.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/store"
)

const opTimeout = 5 * time.Second

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("gormstore: empty dsn")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, log: log}
	if err := s.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables and the change-notification triggers.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&sessionRow{}, &playerRow{}, &chatRow{}); err != nil {
		return fmt.Errorf("gormstore: migrate: %w", err)
	}
	for _, stmt := range triggerSQL {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("gormstore: install triggers: %w", err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func (s *Store) SessionExists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var n int64
	if err := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("session exists %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) InsertSession(ctx context.Context, sess engine.Session) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := toSessionRow(sess)
	row.Version = 1
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, translate(err))
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.db.WithContext(ctx).Delete(&sessionRow{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *Store) InsertPlayer(ctx context.Context, sessionID string, p engine.Player) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := toPlayerRow(sessionID, p)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert player %s: %w", p.ID, translate(err))
	}
	return nil
}

func (s *Store) LoadSession(ctx context.Context, id string) (engine.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row sessionRow
	err := s.db.WithContext(ctx).Take(&row, "id = ?", id).Error
	if err != nil {
		return engine.Session{}, fmt.Errorf("load session %s: %w", id, translate(err))
	}

	var players []playerRow
	err = s.db.WithContext(ctx).
		Where("session_id = ?", id).
		Order("seat, created_at").
		Find(&players).Error
	if err != nil {
		return engine.Session{}, fmt.Errorf("load players %s: %w", id, err)
	}
	return row.toSession(players), nil
}

func (s *Store) Apply(ctx context.Context, c store.Change) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	id := c.Session.ID
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toSessionRow(c.Session)
		row.Version = c.Version + 1

		res := tx.Model(&sessionRow{ID: id}).
			Where("version = ?", c.Version).
			Select("*").
			Omit("id", "created_at", clause.Associations).
			Updates(&row)
		if res.Error != nil {
			return fmt.Errorf("apply %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("apply %s: stale version %d: %w", id, c.Version, store.ErrConflict)
		}

		for _, p := range c.Players {
			pr := toPlayerRow(id, p)
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"karma", "position", "is_online", "is_ready", "actions", "last_seen"}),
			}).Create(&pr).Error
			if err != nil {
				return fmt.Errorf("apply %s: player %s: %w", id, p.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) InsertChat(ctx context.Context, m engine.ChatMessage) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := chatRow{
		ID:         m.ID,
		SessionID:  m.SessionID,
		PlayerID:   m.PlayerID,
		PlayerName: m.PlayerName,
		Message:    m.Message,
		CreatedAt:  m.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert chat: %w", translate(err))
	}
	return nil
}

func (s *Store) ListChat(ctx context.Context, sessionID string) ([]engine.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rows []chatRow
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list chat %s: %w", sessionID, err)
	}
	out := make([]engine.ChatMessage, len(rows))
	for i, r := range rows {
		out[i] = r.toMessage()
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		// the parent session row is gone
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}
