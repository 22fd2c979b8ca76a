// Package perturb applies scheduled mechanical corruption to agent
// memory. Corruption is the experiment's independent variable, so every
// rewrite is a pure deterministic string transform; model-generated
// rewrites would smuggle in a second uncontrolled source of variation.
package perturb

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"time"

	"savannah.ai/internal/config"
	"savannah.ai/internal/sim/agent"
	"savannah.ai/internal/sim/memory"
)

// Transform kinds.
const (
	TransformLocationSwap   = "location_swap"
	TransformIdentifierSwap = "identifier_swap"
	TransformOutcomeInvert  = "outcome_invert"
	TransformDeletion       = "deletion"
	TransformFalseEntry     = "false_entry"
)

// StoreWorking targets the working note instead of a durable store.
const StoreWorking = "working"

// Event is the immutable record of one applied perturbation.
type Event struct {
	Tick      int       `json:"tick"`
	Agent     string    `json:"agent"`
	Store     string    `json:"store"`
	Transform string    `json:"transform"`
	Original  string    `json:"original"`
	Corrupted string    `json:"corrupted"`
	Timestamp time.Time `json:"timestamp"`
}

var coordRe = regexp.MustCompile(`\((\d+),(\d+)\)`)

// outcomeInversions maps phrases to their opposites, applied
// case-preserving on the first match.
var outcomeInversions = [][2]string{
	{"found food", "no food found"},
	{"no food found", "found food"},
	{"trustworthy", "untrustworthy"},
	{"untrustworthy", "trustworthy"},
	{"safe", "dangerous"},
	{"dangerous", "safe"},
	{"abundant", "scarce"},
	{"scarce", "abundant"},
}

var falseEntryTemplates = []string{
	"Tick %d: Found food at (%d,%d). Gathered %d energy.",
	"Tick %d: Saw agent %s moving east near (%d,%d).",
	"Tick %d: Area around (%d,%d) was empty. No food found.",
	"Tick %d: Received signal from %s: food nearby at (%d,%d).",
	"Tick %d: Rested at (%d,%d). Energy stable.",
}

type Engine struct {
	cfg      config.Perturbation
	gridSize int
	seed     int64
	roster   []string // agent names, for identifier swaps and false entries

	storeKeys     []string
	storeCum      []float64
	transformKeys []string
	transformCum  []float64

	now func() time.Time
}

func New(cfg config.Perturbation, gridSize int, seed int64, roster []string) *Engine {
	e := &Engine{
		cfg:      cfg,
		gridSize: gridSize,
		seed:     seed,
		roster:   append([]string(nil), roster...),
		now:      time.Now,
	}
	e.storeKeys, e.storeCum = cumulative(cfg.Stores)
	e.transformKeys, e.transformCum = cumulative(cfg.Transforms)
	return e
}

// cumulative flattens a weight map into sorted keys plus a cumulative
// distribution, so weighted draws are deterministic across runs.
func cumulative(weights map[string]float64) ([]string, []float64) {
	keys := make([]string, 0, len(weights))
	for k, w := range weights {
		if w > 0 {
			keys = append(keys, k)
		}
	}
	// Map iteration order is random; sort for reproducible draws.
	sort.Strings(keys)
	cum := make([]float64, len(keys))
	var total float64
	for i, k := range keys {
		total += weights[k]
		cum[i] = total
	}
	for i := range cum {
		cum[i] /= total
	}
	return keys, cum
}

func pick(keys []string, cum []float64, r float64) string {
	for i, c := range cum {
		if r <= c {
			return keys[i]
		}
	}
	return keys[len(keys)-1]
}

// MaybePerturb rolls for a perturbation of one agent at one tick and
// applies it on success, returning the event. The RNG is derived from
// (seed, tick, agent), so roll outcomes are independent of inference
// responses and of other agents' fates.
//
// A draw that lands on an empty store is skipped outright: no event, no
// log, no redraw. This skews the effective rate and that is intentional;
// changing it would change the measured independent variable.
func (e *Engine) MaybePerturb(a *agent.Agent, tick int) *Event {
	if !e.cfg.Enabled || tick < e.cfg.StartTick || len(e.storeKeys) == 0 || len(e.transformKeys) == 0 {
		return nil
	}
	rng := e.callRNG(tick, a.Name)
	if rng.Float64() > e.cfg.Rate {
		return nil
	}

	store := pick(e.storeKeys, e.storeCum, rng.Float64())
	transform := pick(e.transformKeys, e.transformCum, rng.Float64())

	ev := e.apply(a, store, transform, tick, rng)
	if ev == nil {
		return nil
	}
	ev.Tick = tick
	ev.Agent = a.Name
	ev.Timestamp = e.now().UTC()
	a.TimesPerturbed++
	a.LastPerturbTick = tick
	return ev
}

func (e *Engine) apply(a *agent.Agent, store, transform string, tick int, rng *rand.Rand) *Event {
	if transform == TransformFalseEntry {
		return e.insertFalseEntry(a, store, tick, rng)
	}

	if store == StoreWorking {
		text := a.ReadWorking()
		if text == "" {
			return nil
		}
		corrupted := e.rewrite(text, transform, rng)
		if corrupted == text {
			return nil
		}
		if err := a.WriteWorking(corrupted, 0); err != nil {
			return nil
		}
		return &Event{Store: store, Transform: transform, Original: text, Corrupted: corrupted}
	}

	if store == memory.StoreEpisodic {
		return e.rewriteEpisodicLine(a, transform, rng)
	}

	text := memory.Read(a.MemoryDir(), store)
	if text == "" {
		return nil
	}
	corrupted := e.rewrite(text, transform, rng)
	if corrupted == text {
		return nil
	}
	if err := memory.Write(a.MemoryDir(), store, corrupted); err != nil {
		return nil
	}
	return &Event{Store: store, Transform: transform, Original: text, Corrupted: corrupted}
}

// rewriteEpisodicLine corrupts a single randomly chosen entry, keeping
// the rest of the log byte-identical.
func (e *Engine) rewriteEpisodicLine(a *agent.Agent, transform string, rng *rand.Rand) *Event {
	dir := a.MemoryDir()
	raw := memory.Read(dir, memory.StoreEpisodic)
	lines := nonEmptyLines(raw)
	if len(lines) == 0 {
		return nil
	}
	idx := rng.Intn(len(lines))
	original := lines[idx]

	corrupted := e.rewrite(original, transform, rng)
	if transform == TransformDeletion {
		corrupted = ""
	}
	if corrupted == original {
		return nil
	}

	if corrupted == "" {
		lines = append(lines[:idx], lines[idx+1:]...)
	} else {
		lines[idx] = corrupted
	}
	if err := memory.Write(dir, memory.StoreEpisodic, strings.Join(lines, "\n\n")); err != nil {
		return nil
	}
	return &Event{Store: memory.StoreEpisodic, Transform: transform, Original: original, Corrupted: corrupted}
}

// rewrite applies one pure transform to text, returning text unchanged
// when the transform has nothing to bite on.
func (e *Engine) rewrite(text, transform string, rng *rand.Rand) string {
	switch transform {
	case TransformLocationSwap:
		return coordRe.ReplaceAllStringFunc(text, func(string) string {
			return fmt.Sprintf("(%d,%d)", rng.Intn(e.gridSize), rng.Intn(e.gridSize))
		})
	case TransformIdentifierSwap:
		return e.swapIdentifier(text, rng)
	case TransformOutcomeInvert:
		return invertOutcome(text)
	case TransformDeletion:
		// Whole-store deletion is too destructive for non-episodic
		// stores; drop the last paragraph instead.
		paras := strings.Split(text, "\n\n")
		if len(paras) < 2 {
			return ""
		}
		return strings.Join(paras[:len(paras)-1], "\n\n")
	}
	return text
}

func (e *Engine) swapIdentifier(text string, rng *rand.Rand) string {
	var present []string
	for _, name := range e.roster {
		if strings.Contains(text, name) {
			present = append(present, name)
		}
	}
	if len(present) == 0 || len(e.roster) < 2 {
		return text
	}
	victim := present[rng.Intn(len(present))]
	replacement := victim
	for attempts := 0; attempts < 10 && replacement == victim; attempts++ {
		replacement = e.roster[rng.Intn(len(e.roster))]
	}
	if replacement == victim {
		return text
	}
	return strings.Replace(text, victim, replacement, 1)
}

func invertOutcome(text string) string {
	lower := strings.ToLower(text)
	for _, pair := range outcomeInversions {
		if strings.Contains(lower, pair[0]) {
			out := strings.Replace(text, pair[0], pair[1], 1)
			if out == text {
				cap0 := capitalize(pair[0])
				out = strings.Replace(text, cap0, capitalize(pair[1]), 1)
			}
			return out
		}
	}
	return text
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (e *Engine) insertFalseEntry(a *agent.Agent, store string, tick int, rng *rand.Rand) *Event {
	// False entries only make sense in the episodic log.
	if store != memory.StoreEpisodic {
		store = memory.StoreEpisodic
	}
	name := a.Name
	if len(e.roster) > 0 {
		name = e.roster[rng.Intn(len(e.roster))]
	}
	x, y := rng.Intn(e.gridSize), rng.Intn(e.gridSize)
	var entry string
	switch rng.Intn(len(falseEntryTemplates)) {
	case 0:
		entry = fmt.Sprintf(falseEntryTemplates[0], tick, x, y, 10+rng.Intn(40))
	case 1:
		entry = fmt.Sprintf(falseEntryTemplates[1], tick, name, x, y)
	case 2:
		entry = fmt.Sprintf(falseEntryTemplates[2], tick, x, y)
	case 3:
		entry = fmt.Sprintf(falseEntryTemplates[3], tick, name, x, y)
	default:
		entry = fmt.Sprintf(falseEntryTemplates[4], tick, x, y)
	}
	if err := memory.Remember(a.MemoryDir(), entry); err != nil {
		return nil
	}
	return &Event{Store: store, Transform: TransformFalseEntry, Original: "", Corrupted: entry}
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// callRNG derives a deterministic RNG for one (tick, agent) draw.
func (e *Engine) callRNG(tick int, agentName string) *rand.Rand {
	h := fnv.New64a()
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(e.seed) >> (8 * i))
		buf[8+i] = byte(uint64(tick) >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(agentName))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}
