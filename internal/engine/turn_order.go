package engine

import (
	"cmp"
	"slices"
)

// TurnOrder returns player ids in stable join order.
func TurnOrder(s Session) []string {
	players := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		players = append(players, p)
	}
	slices.SortFunc(players, func(a, b *Player) int {
		if c := cmp.Compare(a.Seat, b.Seat); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	return ids
}

// NextTurn returns the index and id of the player after the current one,
// wrapping to the first joiner.
func NextTurn(s Session) (int, string) {
	order := TurnOrder(s)
	if len(order) == 0 {
		return 0, ""
	}
	cur := slices.Index(order, s.CurrentPlayerID)
	next := (cur + 1) % len(order)
	return next, order[next]
}

func nextSeat(s Session) int {
	seat := 0
	for _, p := range s.Players {
		if p.Seat >= seat {
			seat = p.Seat + 1
		}
	}
	return seat
}
