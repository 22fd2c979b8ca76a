// Package world implements the toroidal grid the agents inhabit: food
// source population, spawn/deplete logic, and wrapped neighborhoods.
package world

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"

	"savannah.ai/internal/config"
)

type Vec2 struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// FoodSource is a stationary energy deposit on the grid.
type FoodSource struct {
	ID        string  `json:"id"`
	Pos       Vec2    `json:"pos"`
	Energy    float64 `json:"energy"`
	MaxEnergy float64 `json:"max_energy"`
}

type World struct {
	Size     int
	Toroidal bool

	cfg  config.Food
	seed int64

	food       map[Vec2]*FoodSource
	depleted   map[Vec2]bool // cells that held a fully consumed source; never respawn there
	nextFoodID int
}

func New(cfg config.World, seed int64) *World {
	return &World{
		Size:     cfg.GridSize,
		Toroidal: cfg.Toroidal,
		cfg:      cfg.Food,
		seed:     seed,
		food:     make(map[Vec2]*FoodSource),
		depleted: make(map[Vec2]bool),
	}
}

// Initialize places the starting food population: half the ceiling,
// like a world that has been running for a while.
func (w *World) Initialize() {
	rng := w.tickRNG(0)
	target := w.cfg.MaxSources / 2
	if target < w.cfg.MinSources {
		target = w.cfg.MinSources
	}
	for len(w.food) < target {
		if !w.spawnOne(rng) {
			break
		}
	}
}

// Wrap maps arbitrary coordinates onto the grid. With wraparound both
// axes are modular; otherwise coordinates clamp at the edges.
func (w *World) Wrap(x, y int) Vec2 {
	if w.Toroidal {
		return Vec2{X: mod(x, w.Size), Y: mod(y, w.Size)}
	}
	return Vec2{X: clamp(x, 0, w.Size-1), Y: clamp(y, 0, w.Size-1)}
}

func mod(v, n int) int {
	m := v % n
	if m < 0 {
		m += n
	}
	return m
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Distance is the wrapped Chebyshev distance between two cells.
func (w *World) Distance(a, b Vec2) int {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if w.Toroidal {
		if d := w.Size - dx; d < dx {
			dx = d
		}
		if d := w.Size - dy; d < dy {
			dy = d
		}
	}
	if dx > dy {
		return dx
	}
	return dy
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (w *World) FoodAt(pos Vec2) *FoodSource {
	return w.food[pos]
}

func (w *World) FoodCount() int { return len(w.food) }

// Foods returns all sources ordered by position for deterministic
// serialization and prompt construction.
func (w *World) Foods() []FoodSource {
	out := make([]FoodSource, 0, len(w.food))
	for _, f := range w.food {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pos.Y != out[j].Pos.Y {
			return out[i].Pos.Y < out[j].Pos.Y
		}
		return out[i].Pos.X < out[j].Pos.X
	})
	return out
}

// DepleteFood draws up to amount energy from the source at pos,
// returning what was actually consumed. A source that reaches zero is
// removed and its cell is retired from future spawns.
func (w *World) DepleteFood(pos Vec2, amount float64) float64 {
	f := w.food[pos]
	if f == nil || amount <= 0 {
		return 0
	}
	taken := amount
	if taken > f.Energy {
		taken = f.Energy
	}
	f.Energy -= taken
	if f.Energy <= 0 {
		delete(w.food, pos)
		w.depleted[pos] = true
	}
	return taken
}

// AddFood places a new source (a corpse) at pos. The population ceiling
// still applies: at capacity, or on an occupied cell, nothing is added.
func (w *World) AddFood(pos Vec2, energy float64) bool {
	if energy <= 0 || len(w.food) >= w.cfg.MaxSources {
		return false
	}
	if w.food[pos] != nil {
		return false
	}
	w.nextFoodID++
	w.food[pos] = &FoodSource{
		ID:        fmt.Sprintf("food_%d", w.nextFoodID),
		Pos:       pos,
		Energy:    energy,
		MaxEnergy: energy,
	}
	// A corpse makes the cell productive again.
	delete(w.depleted, pos)
	return true
}

// TickUpdate runs the per-tick spawn pass: an independent draw per
// eligible empty cell, then a forced top-up to the floor. The RNG is
// derived from (seed, tick) so the roll sequence does not depend on
// response content or earlier world history.
func (w *World) TickUpdate(tick int) {
	rng := w.tickRNG(tick)

	// Stochastic pass in row-major order.
	if w.cfg.SpawnRate > 0 {
		for y := 0; y < w.Size && len(w.food) < w.cfg.MaxSources; y++ {
			for x := 0; x < w.Size && len(w.food) < w.cfg.MaxSources; x++ {
				pos := Vec2{X: x, Y: y}
				if w.food[pos] != nil || w.depleted[pos] {
					continue
				}
				if rng.Float64() < w.cfg.SpawnRate {
					w.placeFood(pos, rng)
				}
			}
		}
	}

	// Forced top-up to the floor.
	for len(w.food) < w.cfg.MinSources {
		if !w.spawnOne(rng) {
			break
		}
	}
}

// spawnOne places a source at a random empty, never-retired cell.
// Retired cells only come back through a corpse, so when nothing else
// is left the floor top-up falls short rather than breaking that rule.
func (w *World) spawnOne(rng *rand.Rand) bool {
	if len(w.food) >= w.cfg.MaxSources {
		return false
	}
	for attempts := 0; attempts < 200; attempts++ {
		pos := Vec2{X: rng.Intn(w.Size), Y: rng.Intn(w.Size)}
		if w.food[pos] != nil || w.depleted[pos] {
			continue
		}
		w.placeFood(pos, rng)
		return true
	}
	return false
}

func (w *World) placeFood(pos Vec2, rng *rand.Rand) {
	span := w.cfg.SizeMax - w.cfg.SizeMin
	energy := float64(w.cfg.SizeMin)
	if span > 0 {
		energy += float64(rng.Intn(span + 1))
	}
	w.nextFoodID++
	w.food[pos] = &FoodSource{
		ID:        fmt.Sprintf("food_%d", w.nextFoodID),
		Pos:       pos,
		Energy:    energy,
		MaxEnergy: energy,
	}
	delete(w.depleted, pos)
}

// VisibleFood returns the sources within the wrapped Chebyshev radius
// of origin, nearest first, ties in scan order.
func (w *World) VisibleFood(origin Vec2, radius int) []FoodSource {
	var out []FoodSource
	seen := make(map[Vec2]bool)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			pos := w.Wrap(origin.X+dx, origin.Y+dy)
			if seen[pos] {
				continue
			}
			seen[pos] = true
			if f := w.food[pos]; f != nil {
				out = append(out, *f)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return w.Distance(origin, out[i].Pos) < w.Distance(origin, out[j].Pos)
	})
	return out
}

// tickRNG derives a deterministic per-tick RNG from the world seed.
func (w *World) tickRNG(tick int) *rand.Rand {
	h := fnv.New64a()
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(w.seed) >> (8 * i))
		buf[8+i] = byte(uint64(tick) >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// State is the serializable world state carried by tick snapshots.
type State struct {
	Size       int          `json:"size"`
	Toroidal   bool         `json:"toroidal"`
	Foods      []FoodSource `json:"food_sources"`
	Depleted   []Vec2       `json:"depleted_cells,omitempty"`
	NextFoodID int          `json:"next_food_id"`
}

func (w *World) ExportState() State {
	dep := make([]Vec2, 0, len(w.depleted))
	for pos := range w.depleted {
		dep = append(dep, pos)
	}
	sort.Slice(dep, func(i, j int) bool {
		if dep[i].Y != dep[j].Y {
			return dep[i].Y < dep[j].Y
		}
		return dep[i].X < dep[j].X
	})
	return State{
		Size:       w.Size,
		Toroidal:   w.Toroidal,
		Foods:      w.Foods(),
		Depleted:   dep,
		NextFoodID: w.nextFoodID,
	}
}

// ImportState restores a world from snapshot state. Grid and food
// parameters come from the resolved config, not the snapshot.
func ImportState(st State, cfg config.World, seed int64) *World {
	w := New(cfg, seed)
	for i := range st.Foods {
		f := st.Foods[i]
		w.food[f.Pos] = &f
	}
	for _, pos := range st.Depleted {
		w.depleted[pos] = true
	}
	w.nextFoodID = st.NextFoodID
	return w
}
