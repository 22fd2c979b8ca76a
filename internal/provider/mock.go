package provider

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"regexp"
	"strconv"
	"sync"

	"savannah.ai/internal/config"
)

// Mock plays a simple survival strategy by parsing the tick prompt.
// It lets full runs exercise the pipeline without any inference
// backend: eat when standing on food, walk toward visible food,
// otherwise explore, with occasional recall/remember/signal.
type Mock struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewMock returns a mock provider with its own seeded RNG.
func NewMock(seed int64) *Mock {
	return &Mock{rng: rand.New(rand.NewSource(seed))}
}

func newMockFromConfig(cfg config.Provider, _ *log.Logger) (Provider, error) {
	return NewMock(42), nil
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Invoke(_ context.Context, prompt string) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := parsePromptState(prompt)
	action, working, reasoning := m.decide(st)
	return Response{Text: fmt.Sprintf("ACTION: %s\nWORKING: %s\nREASONING: %s", action, working, reasoning)}, nil
}

func (m *Mock) InvokeResumable(ctx context.Context, prompt, sessionID string) (Response, error) {
	resp, err := m.Invoke(ctx, prompt)
	if err != nil {
		return resp, err
	}
	if sessionID == "" {
		sessionID = "mock-session-001"
	}
	resp.SessionID = sessionID
	return resp, nil
}

type promptState struct {
	tick      int
	name      string
	x, y      int
	energy    float64
	maxEnergy float64
	food      []promptFood
	agents    []promptAgent
}

type promptFood struct{ x, y, energy int }

type promptAgent struct {
	name string
	x, y int
}

var (
	headerRe = regexp.MustCompile(`\[Tick (\d+)\] You are ([^.]+)\.`)
	statusRe = regexp.MustCompile(`Energy:\s*(\d+\.?\d*)/(\d+\.?\d*)\.\s*Position:\s*\((\d+),(\d+)\)`)
	foodRe   = regexp.MustCompile(`Food at \((\d+),(\d+)\):\s*(\d+) energy`)
	agentRe  = regexp.MustCompile(`Agent (\S+) at \((\d+),(\d+)\)`)
)

func parsePromptState(prompt string) promptState {
	st := promptState{maxEnergy: 100}
	if m := headerRe.FindStringSubmatch(prompt); m != nil {
		st.tick, _ = strconv.Atoi(m[1])
		st.name = m[2]
	}
	if m := statusRe.FindStringSubmatch(prompt); m != nil {
		st.energy, _ = strconv.ParseFloat(m[1], 64)
		st.maxEnergy, _ = strconv.ParseFloat(m[2], 64)
		st.x, _ = strconv.Atoi(m[3])
		st.y, _ = strconv.Atoi(m[4])
	}
	for _, m := range foodRe.FindAllStringSubmatch(prompt, -1) {
		fx, _ := strconv.Atoi(m[1])
		fy, _ := strconv.Atoi(m[2])
		fe, _ := strconv.Atoi(m[3])
		st.food = append(st.food, promptFood{fx, fy, fe})
	}
	for _, m := range agentRe.FindAllStringSubmatch(prompt, -1) {
		ax, _ := strconv.Atoi(m[2])
		ay, _ := strconv.Atoi(m[3])
		st.agents = append(st.agents, promptAgent{m[1], ax, ay})
	}
	return st
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (m *Mock) decide(st promptState) (action, working, reasoning string) {
	for _, f := range st.food {
		if f.x == st.x && f.y == st.y && st.energy < st.maxEnergy {
			return "eat",
				fmt.Sprintf("Eating food at my position (%d,%d)", st.x, st.y),
				"There is food here and I need energy"
		}
	}

	if len(st.food) > 0 {
		best := st.food[0]
		bestDist := abs(best.x-st.x) + abs(best.y-st.y)
		for _, f := range st.food[1:] {
			if d := abs(f.x-st.x) + abs(f.y-st.y); d < bestDist {
				best, bestDist = f, d
			}
		}
		dx, dy := best.x-st.x, best.y-st.y
		var dir, dirName string
		if abs(dx) >= abs(dy) {
			dir, dirName = "e", "east"
			if dx < 0 {
				dir, dirName = "w", "west"
			}
		} else {
			dir, dirName = "s", "south"
			if dy < 0 {
				dir, dirName = "n", "north"
			}
		}
		return fmt.Sprintf("move(%s)", dir),
			fmt.Sprintf("Food spotted at (%d,%d) with %d energy. Heading there.", best.x, best.y, best.energy),
			fmt.Sprintf("Moving %s toward food at (%d,%d)", dirName, best.x, best.y)
	}

	if st.energy < st.maxEnergy*0.4 && st.tick > 5 && m.rng.Float64() < 0.3 {
		return `recall("food location")`,
			"Low energy, checking memory for food",
			"Running low on energy with no food visible, searching memory"
	}

	if m.rng.Float64() < 0.05 && st.tick > 1 {
		notes := []string{
			fmt.Sprintf("No food visible from (%d,%d)", st.x, st.y),
			fmt.Sprintf("Energy at %.0f/%.0f", st.energy, st.maxEnergy),
			fmt.Sprintf("Explored area around (%d,%d)", st.x, st.y),
		}
		return fmt.Sprintf("remember(%q)", notes[m.rng.Intn(len(notes))]),
			fmt.Sprintf("Recording observation at tick %d", st.tick),
			"Making a note for future reference"
	}

	if len(st.agents) > 0 && m.rng.Float64() < 0.08 {
		msgs := []string{
			"no food here",
			"searching for food",
			"heading " + []string{"north", "south", "east", "west"}[m.rng.Intn(4)],
		}
		return fmt.Sprintf("signal(%q)", msgs[m.rng.Intn(len(msgs))]),
			"Communicating with nearby agents",
			"Other agents are nearby, sharing information"
	}

	dirs := []string{"n", "s", "e", "w"}
	names := map[string]string{"n": "north", "s": "south", "e": "east", "w": "west"}
	dir := dirs[m.rng.Intn(len(dirs))]
	return fmt.Sprintf("move(%s)", dir),
		fmt.Sprintf("Exploring %s from (%d,%d). No food visible.", names[dir], st.x, st.y),
		fmt.Sprintf("No food in sight, exploring %s to find resources", names[dir])
}

var _ Resumable = (*Mock)(nil)
