// Package agent holds per-agent mutable state, its on-disk layout, and
// tick prompt construction.
package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"savannah.ai/internal/sim/memory"
	"savannah.ai/internal/sim/world"
)

type Agent struct {
	ID   string
	Name string

	Pos       world.Vec2
	Energy    float64
	MaxEnergy float64
	Age       int
	Alive     bool

	// FoodValue is the energy this agent yields as a food source when
	// it dies (or feeds its killer in combat).
	FoodValue   float64
	VisionRange int
	CommRange   int

	Kills           int
	TimesPerturbed  int
	LastPerturbTick int

	// SessionID carries the provider session token in resumable mode.
	SessionID string

	// Pending inputs surfaced in the next prompt, then cleared.
	PendingSignals []string
	PendingRecall  []string

	dataDir string
}

// New creates an agent rooted in the run's data directory. Call
// InitFiles before the first tick.
func New(id, name string, pos world.Vec2, energy, maxEnergy float64, dataDir string) *Agent {
	return &Agent{
		ID:        id,
		Name:      name,
		Pos:       pos,
		Energy:    energy,
		MaxEnergy: maxEnergy,
		Alive:     true,
		dataDir:   dataDir,
	}
}

func (a *Agent) Dir() string         { return filepath.Join(a.dataDir, "agents", a.Name) }
func (a *Agent) MemoryDir() string   { return filepath.Join(a.Dir(), "memory") }
func (a *Agent) WorkingPath() string { return filepath.Join(a.Dir(), "working.md") }
func (a *Agent) StatePath() string   { return filepath.Join(a.Dir(), "state.json") }
func (a *Agent) SessionPath() string { return filepath.Join(a.Dir(), "session.json") }

// InitFiles creates the agent directory with the identical starting
// memory every agent gets.
func (a *Agent) InitFiles() error {
	if err := os.MkdirAll(a.Dir(), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(a.WorkingPath(), nil, 0o644); err != nil {
		return err
	}
	if err := memory.Init(a.MemoryDir(), a.Name); err != nil {
		return err
	}
	return a.SaveState()
}

// Drain lowers energy; reaching zero is an irreversible transition to
// dead.
func (a *Agent) Drain(amount float64) {
	if !a.Alive || amount <= 0 {
		return
	}
	a.Energy -= amount
	if a.Energy <= 0 {
		a.Energy = 0
		a.Alive = false
	}
}

// Gain raises energy up to the cap. Dead agents stay dead.
func (a *Agent) Gain(amount float64) {
	if !a.Alive || amount <= 0 {
		return
	}
	a.Energy += amount
	if a.Energy > a.MaxEnergy {
		a.Energy = a.MaxEnergy
	}
}

// WriteWorking overwrites the working note, truncating to the byte
// budget. The note is scratch space, never part of durable memory.
func (a *Agent) WriteWorking(text string, maxBytes int) error {
	if maxBytes > 0 && len(text) > maxBytes {
		text = text[:maxBytes]
	}
	return os.WriteFile(a.WorkingPath(), []byte(text), 0o644)
}

func (a *Agent) ReadWorking() string {
	b, err := os.ReadFile(a.WorkingPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

const promptTemplate = `[Tick %d] You are %s.
Energy: %.1f/%.1f. Position: (%d,%d).

VISIBLE (%d-cell radius):
%s

INCOMING SIGNALS:
%s

WORKING NOTES (your scratch space from last tick):
%s

%sACTIONS (pick exactly one):
move(n|s|e|w) | eat | recall("query") | remember("text")
compact | signal("msg") | observe | attack(name) | flee(n|s|e|w) | rest

Respond in this exact format:
ACTION: {your action}
WORKING: {updated scratch notes, max 500 tokens}
REASONING: {brief}`

// BuildPrompt assembles the tick prompt from world, agent, and memory
// state. Pending signals and recall results are consumed by inclusion.
func (a *Agent) BuildPrompt(w *world.World, others []*Agent, tick int) string {
	var visible []string
	for _, f := range w.VisibleFood(a.Pos, a.VisionRange) {
		visible = append(visible, fmt.Sprintf("  Food at (%d,%d): %.0f energy", f.Pos.X, f.Pos.Y, f.Energy))
	}
	for _, other := range others {
		if other.Name == a.Name || !other.Alive {
			continue
		}
		if w.Distance(a.Pos, other.Pos) <= a.VisionRange {
			visible = append(visible, fmt.Sprintf("  Agent %s at (%d,%d)", other.Name, other.Pos.X, other.Pos.Y))
		}
	}
	grid := "  Nothing visible."
	if len(visible) > 0 {
		grid = strings.Join(visible, "\n")
	}

	signals := "None"
	if len(a.PendingSignals) > 0 {
		signals = strings.Join(a.PendingSignals, "\n")
	}

	working := a.ReadWorking()
	if working == "" {
		working = "(empty)"
	}

	recall := ""
	if len(a.PendingRecall) > 0 {
		recall = "RECALL RESULTS:\n" + strings.Join(a.PendingRecall, "\n") + "\n\n"
	}

	prompt := fmt.Sprintf(promptTemplate,
		tick, a.Name, a.Energy, a.MaxEnergy, a.Pos.X, a.Pos.Y,
		a.VisionRange, grid, signals, working, recall)

	a.PendingSignals = nil
	a.PendingRecall = nil
	return prompt
}

// State is the agent's public state record, written each tick and
// carried by snapshots and observer events.
type State struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Position        [2]int  `json:"position"`
	Energy          float64 `json:"energy"`
	MaxEnergy       float64 `json:"max_energy"`
	Age             int     `json:"age"`
	Alive           bool    `json:"alive"`
	FoodValue       float64 `json:"food_value"`
	VisionRange     int     `json:"vision_range"`
	CommRange       int     `json:"comm_range"`
	Kills           int     `json:"kills"`
	TimesPerturbed  int     `json:"times_perturbed"`
	LastPerturbTick int     `json:"last_perturbation_tick"`
}

func (a *Agent) Export() State {
	return State{
		ID:              a.ID,
		Name:            a.Name,
		Position:        [2]int{a.Pos.X, a.Pos.Y},
		Energy:          a.Energy,
		MaxEnergy:       a.MaxEnergy,
		Age:             a.Age,
		Alive:           a.Alive,
		FoodValue:       a.FoodValue,
		VisionRange:     a.VisionRange,
		CommRange:       a.CommRange,
		Kills:           a.Kills,
		TimesPerturbed:  a.TimesPerturbed,
		LastPerturbTick: a.LastPerturbTick,
	}
}

// Restore rebuilds an agent from a persisted state record.
func Restore(st State, dataDir string) *Agent {
	return &Agent{
		ID:              st.ID,
		Name:            st.Name,
		Pos:             world.Vec2{X: st.Position[0], Y: st.Position[1]},
		Energy:          st.Energy,
		MaxEnergy:       st.MaxEnergy,
		Age:             st.Age,
		Alive:           st.Alive,
		FoodValue:       st.FoodValue,
		VisionRange:     st.VisionRange,
		CommRange:       st.CommRange,
		Kills:           st.Kills,
		TimesPerturbed:  st.TimesPerturbed,
		LastPerturbTick: st.LastPerturbTick,
		dataDir:         dataDir,
	}
}

func (a *Agent) SaveState() error {
	b, err := json.MarshalIndent(a.Export(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(a.StatePath(), b, 0o644)
}

func (a *Agent) LoadState() (State, error) {
	var st State
	b, err := os.ReadFile(a.StatePath())
	if err != nil {
		return st, err
	}
	err = json.Unmarshal(b, &st)
	return st, err
}

// sessionRecord is the session-continuation record kept in resumable
// mode so a resumed run can keep its provider context.
type sessionRecord struct {
	SessionID string `json:"session_id"`
}

func (a *Agent) SaveSession() error {
	if a.SessionID == "" {
		return nil
	}
	b, _ := json.Marshal(sessionRecord{SessionID: a.SessionID})
	return os.WriteFile(a.SessionPath(), b, 0o644)
}

func (a *Agent) LoadSession() {
	b, err := os.ReadFile(a.SessionPath())
	if err != nil {
		return
	}
	var rec sessionRecord
	if json.Unmarshal(b, &rec) == nil {
		a.SessionID = rec.SessionID
	}
}
