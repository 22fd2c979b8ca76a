package agent

import (
	"strings"
	"testing"

	"savannah.ai/internal/config"
	"savannah.ai/internal/sim/memory"
	"savannah.ai/internal/sim/world"
)

func newTestAgent(t *testing.T, name string) *Agent {
	t.Helper()
	a := New("0001", name, world.Vec2{X: 5, Y: 5}, 80, 100, t.TempDir())
	a.VisionRange = 3
	a.CommRange = 5
	if err := a.InitFiles(); err != nil {
		t.Fatalf("InitFiles: %v", err)
	}
	return a
}

func testWorld() *world.World {
	return world.New(config.World{
		GridSize: 20,
		Toroidal: true,
		Food:     config.Food{SizeMin: 30, SizeMax: 80, MinSources: 1, MaxSources: 10},
	}, 1)
}

func TestDrainKillsAtZero(t *testing.T) {
	a := newTestAgent(t, "Amara")
	a.Drain(79.5)
	if !a.Alive || a.Energy != 0.5 {
		t.Fatalf("after drain: alive=%v energy=%.1f", a.Alive, a.Energy)
	}
	a.Drain(0.5)
	if a.Alive || a.Energy != 0 {
		t.Fatalf("at zero: alive=%v energy=%.1f", a.Alive, a.Energy)
	}
	// Dead agents are inert.
	a.Gain(50)
	if a.Alive || a.Energy != 0 {
		t.Fatalf("dead agent gained energy: alive=%v energy=%.1f", a.Alive, a.Energy)
	}
}

func TestGainCapsAtMax(t *testing.T) {
	a := newTestAgent(t, "Kendi")
	a.Gain(500)
	if a.Energy != a.MaxEnergy {
		t.Fatalf("energy = %.1f, want cap %.1f", a.Energy, a.MaxEnergy)
	}
}

func TestWriteWorkingTruncates(t *testing.T) {
	a := newTestAgent(t, "Zola")
	if err := a.WriteWorking(strings.Repeat("x", 100), 10); err != nil {
		t.Fatalf("WriteWorking: %v", err)
	}
	if got := a.ReadWorking(); got != strings.Repeat("x", 10) {
		t.Fatalf("working = %q", got)
	}
	if err := a.WriteWorking("short", 10); err != nil {
		t.Fatalf("WriteWorking: %v", err)
	}
	if got := a.ReadWorking(); got != "short" {
		t.Fatalf("working = %q", got)
	}
}

func TestBuildPromptShowsLocalState(t *testing.T) {
	w := testWorld()
	w.AddFood(world.Vec2{X: 6, Y: 5}, 45)
	w.AddFood(world.Vec2{X: 15, Y: 15}, 45) // out of vision

	a := newTestAgent(t, "Nuru")
	other := New("0002", "Tarik", world.Vec2{X: 7, Y: 6}, 60, 100, t.TempDir())
	far := New("0003", "Nia", world.Vec2{X: 15, Y: 15}, 60, 100, t.TempDir())

	a.PendingSignals = []string{"Tarik: food to the east"}
	a.WriteWorking("heading east", 0)

	prompt := a.BuildPrompt(w, []*Agent{a, other, far}, 12)
	for _, want := range []string{
		"[Tick 12] You are Nuru.",
		"Energy: 80.0/100.0. Position: (5,5).",
		"Food at (6,5): 45 energy",
		"Agent Tarik at (7,6)",
		"Tarik: food to the east",
		"heading east",
		"ACTION:",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	for _, reject := range []string{"(15,15)", "Nia"} {
		if strings.Contains(prompt, reject) {
			t.Fatalf("prompt leaks out-of-range state %q", reject)
		}
	}

	// Pending inputs are consumed by inclusion.
	if a.PendingSignals != nil || a.PendingRecall != nil {
		t.Fatalf("pending inputs not cleared")
	}
	again := a.BuildPrompt(w, []*Agent{a}, 13)
	if strings.Contains(again, "food to the east") {
		t.Fatalf("signal shown twice")
	}
}

func TestBuildPromptIncludesRecallResults(t *testing.T) {
	w := testWorld()
	a := newTestAgent(t, "Sefu")
	a.PendingRecall = []string{"Tick 3: Found food at (2,2)."}

	prompt := a.BuildPrompt(w, []*Agent{a}, 4)
	if !strings.Contains(prompt, "RECALL RESULTS:") || !strings.Contains(prompt, "Found food at (2,2)") {
		t.Fatalf("recall results missing:\n%s", prompt)
	}
}

func TestStateRoundTrip(t *testing.T) {
	a := newTestAgent(t, "Imani")
	a.Pos = world.Vec2{X: 9, Y: 2}
	a.Energy = 33.5
	a.Age = 17
	a.Kills = 1
	a.TimesPerturbed = 4
	a.LastPerturbTick = 15
	if err := a.SaveState(); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	st, err := a.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	restored := Restore(st, a.dataDir)
	if restored.Name != "Imani" || restored.Pos != a.Pos || restored.Energy != 33.5 {
		t.Fatalf("restored = %+v", restored)
	}
	if restored.Age != 17 || restored.Kills != 1 || restored.TimesPerturbed != 4 || restored.LastPerturbTick != 15 {
		t.Fatalf("counters lost: %+v", restored)
	}
	if !restored.Alive {
		t.Fatalf("restored agent dead")
	}
	if restored.MemoryDir() != a.MemoryDir() {
		t.Fatalf("memory dir moved: %q vs %q", restored.MemoryDir(), a.MemoryDir())
	}
}

func TestSessionRoundTrip(t *testing.T) {
	a := newTestAgent(t, "Jabari")
	a.SessionID = "sess-12345"
	if err := a.SaveSession(); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	a.SessionID = ""
	a.LoadSession()
	if a.SessionID != "sess-12345" {
		t.Fatalf("session = %q", a.SessionID)
	}
}

func TestInitFilesSeedsIdenticalMemory(t *testing.T) {
	a := newTestAgent(t, "Ayo")
	if got := memory.Read(a.MemoryDir(), memory.StoreSelf); got != "I am Ayo." {
		t.Fatalf("self store = %q", got)
	}
	if got := a.ReadWorking(); got != "" {
		t.Fatalf("working note seeded with %q", got)
	}
}
