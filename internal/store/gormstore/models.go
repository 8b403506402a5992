package gormstore

import (
	"time"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
)

type sessionRow struct {
	ID                 string       `gorm:"primaryKey;size:6"`
	Theme              string       `gorm:"not null"`
	Board              engine.Board `gorm:"serializer:json;not null"`
	CurrentPlayerIndex int          `gorm:"not null;default:0"`
	CurrentPlayerID    string       `gorm:"not null"`
	GamePhase          string       `gorm:"not null;default:'lobby'"`
	DiceValue          int          `gorm:"not null;default:1"`
	CurrentEvent       *engine.Tile `gorm:"serializer:json"`
	GameLog            []string     `gorm:"serializer:json;not null"`
	Version            int64        `gorm:"not null;default:1"`
	CreatedAt          time.Time
	LastActivity       time.Time

	Players []playerRow `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	Chat    []chatRow   `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (sessionRow) TableName() string { return "sessions" }

type playerRow struct {
	ID        string   `gorm:"primaryKey"`
	SessionID string   `gorm:"index;not null"`
	Name      string   `gorm:"not null"`
	Avatar    string   `gorm:"not null"`
	Color     string   `gorm:"not null"`
	Karma     int      `gorm:"not null;default:0"`
	Position  int      `gorm:"not null;default:0"`
	Seat      int      `gorm:"not null;default:0"`
	IsHost    bool     `gorm:"not null;default:false"`
	IsReady   bool     `gorm:"not null;default:true"`
	IsOnline  bool     `gorm:"not null;default:true"`
	Actions   []string `gorm:"serializer:json;not null"`
	CreatedAt time.Time
	LastSeen  time.Time
}

func (playerRow) TableName() string { return "players" }

type chatRow struct {
	ID         string `gorm:"primaryKey"`
	SessionID  string `gorm:"index;not null"`
	PlayerID   string `gorm:"not null"`
	PlayerName string `gorm:"not null"`
	Message    string `gorm:"not null"`
	CreatedAt  time.Time
}

func (chatRow) TableName() string { return "chat_messages" }

func toSessionRow(s engine.Session) sessionRow {
	log := s.GameLog
	if log == nil {
		log = []string{}
	}
	return sessionRow{
		ID:                 s.ID,
		Theme:              s.Theme,
		Board:              s.Board,
		CurrentPlayerIndex: s.CurrentPlayerIndex,
		CurrentPlayerID:    s.CurrentPlayerID,
		GamePhase:          string(s.Phase),
		DiceValue:          s.DiceValue,
		CurrentEvent:       s.CurrentEvent,
		GameLog:            log,
		Version:            s.Version,
		CreatedAt:          s.CreatedAt,
		LastActivity:       s.LastActivity,
	}
}

func toPlayerRow(sessionID string, p engine.Player) playerRow {
	actions := p.Actions
	if actions == nil {
		actions = []string{}
	}
	return playerRow{
		ID:        p.ID,
		SessionID: sessionID,
		Name:      p.Name,
		Avatar:    p.Avatar,
		Color:     p.Color,
		Karma:     p.Karma,
		Position:  p.Position,
		Seat:      p.Seat,
		IsHost:    p.IsHost,
		IsReady:   p.IsReady,
		IsOnline:  p.IsOnline,
		Actions:   actions,
		LastSeen:  p.LastSeen,
	}
}

func (r sessionRow) toSession(players []playerRow) engine.Session {
	s := engine.Session{
		ID:                 r.ID,
		Theme:              r.Theme,
		Board:              r.Board,
		Players:            make(map[string]*engine.Player, len(players)),
		CurrentPlayerIndex: r.CurrentPlayerIndex,
		CurrentPlayerID:    r.CurrentPlayerID,
		Phase:              engine.Phase(r.GamePhase),
		DiceValue:          r.DiceValue,
		CurrentEvent:       r.CurrentEvent,
		GameLog:            r.GameLog,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		LastActivity:       r.LastActivity,
	}
	for _, pr := range players {
		p := engine.Player{
			ID:       pr.ID,
			Name:     pr.Name,
			Avatar:   pr.Avatar,
			Color:    pr.Color,
			Karma:    pr.Karma,
			Position: pr.Position,
			Seat:     pr.Seat,
			IsHost:   pr.IsHost,
			IsReady:  pr.IsReady,
			IsOnline: pr.IsOnline,
			Actions:  pr.Actions,
			LastSeen: pr.LastSeen,
		}
		s.Players[p.ID] = &p
	}
	return s
}

func (r chatRow) toMessage() engine.ChatMessage {
	return engine.ChatMessage{
		ID:         r.ID,
		SessionID:  r.SessionID,
		PlayerID:   r.PlayerID,
		PlayerName: r.PlayerName,
		Message:    r.Message,
		Timestamp:  r.CreatedAt,
	}
}
