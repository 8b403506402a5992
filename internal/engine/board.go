package engine

import (
	"errors"
	"fmt"
)

var ErrInvalidBoard = errors.New("invalid board")

type TileType string

const (
	TileStart   TileType = "start"
	TileFinish  TileType = "finish"
	TileTask    TileType = "task"
	TileDare    TileType = "dare"
	TileAction  TileType = "action"
	TileDilemma TileType = "dilemma"
	TileBonus   TileType = "bonus"
)

func (t TileType) Valid() bool {
	switch t {
	case TileStart, TileFinish, TileTask, TileDare, TileAction, TileDilemma, TileBonus:
		return true
	}
	return false
}

type Tile struct {
	ID          int      `json:"id"`
	Type        TileType `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	KarmaValue  int      `json:"karmaValue"`
	Choices     []string `json:"choices,omitempty"`
	Consequence string   `json:"consequence,omitempty"`
}

// Board is immutable once a session has been created with it.
type Board struct {
	Tiles        []Tile `json:"tiles"`
	Theme        string `json:"theme"`
	StoryContext string `json:"storyContext"`
}

func (b Board) LastIndex() int { return len(b.Tiles) - 1 }

// Validate checks the structural rules every board must satisfy before a
// session can be created with it.
func (b Board) Validate() error {
	if len(b.Tiles) < 2 {
		return fmt.Errorf("%w: need at least 2 tiles, got %d", ErrInvalidBoard, len(b.Tiles))
	}
	for i, t := range b.Tiles {
		if t.ID != i {
			return fmt.Errorf("%w: tile %d has id %d", ErrInvalidBoard, i, t.ID)
		}
		if !t.Type.Valid() {
			return fmt.Errorf("%w: tile %d has unknown type %q", ErrInvalidBoard, i, t.Type)
		}
		if t.Type == TileDilemma && len(t.Choices) < 2 {
			return fmt.Errorf("%w: dilemma tile %d needs at least 2 choices", ErrInvalidBoard, i)
		}
	}
	if b.Tiles[0].Type != TileStart {
		return fmt.Errorf("%w: first tile must be %q", ErrInvalidBoard, TileStart)
	}
	if b.Tiles[b.LastIndex()].Type != TileFinish {
		return fmt.Errorf("%w: last tile must be %q", ErrInvalidBoard, TileFinish)
	}
	return nil
}

func (b Board) Clone() Board {
	out := b
	out.Tiles = make([]Tile, len(b.Tiles))
	for i, t := range b.Tiles {
		out.Tiles[i] = t.Clone()
	}
	return out
}

func (t Tile) Clone() Tile {
	if t.Choices != nil {
		t.Choices = append([]string(nil), t.Choices...)
	}
	return t
}
