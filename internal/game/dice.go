package game

import (
	"math/rand/v2"
	"sync"
)

// Dice draws a value in 1..6.
type Dice interface {
	Roll() int
}

type randomDice struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewDice returns a Dice backed by a PCG seeded from seed1, seed2.
func NewDice(seed1, seed2 uint64) Dice {
	return &randomDice{r: rand.New(rand.NewPCG(seed1, seed2))}
}

// SystemDice draws from the runtime's global source.
type SystemDice struct{}

func (SystemDice) Roll() int { return rand.IntN(6) + 1 }

func (d *randomDice) Roll() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.r.IntN(6) + 1
}

// FixedDice cycles through a fixed sequence; handy for deterministic play.
type FixedDice struct {
	mu     sync.Mutex
	Values []int
	i      int
}

func (d *FixedDice) Roll() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Values) == 0 {
		return 1
	}
	v := d.Values[d.i%len(d.Values)]
	d.i++
	return v
}
