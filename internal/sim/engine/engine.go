// Package engine runs the simulation: world, agents, and inference
// orchestrated into strictly sequential ticks.
package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"savannah.ai/internal/config"
	"savannah.ai/internal/observerproto"
	"savannah.ai/internal/persistence/indexdb"
	plog "savannah.ai/internal/persistence/log"
	"savannah.ai/internal/persistence/snapshot"
	"savannah.ai/internal/provider"
	"savannah.ai/internal/sim/agent"
	"savannah.ai/internal/sim/metrics"
	"savannah.ai/internal/sim/names"
	"savannah.ai/internal/sim/perturb"
	"savannah.ai/internal/sim/world"
	obs "savannah.ai/internal/transport/observer"
)

type Engine struct {
	cfg     *config.Config
	dataDir string
	runID   string
	log     *log.Logger

	world     *world.World
	agents    []*agent.Agent
	prov      provider.Provider
	resumable bool
	perturber *perturb.Engine

	tick    int
	spawnRW *rand.Rand

	metricsW   *metrics.Writer
	perturbLog *plog.PerturbationLogger
	compactLog *plog.CompactionLogger
	inferLog   *plog.InferenceLogger
	index      *indexdb.SQLiteIndex
	observer   *obs.Server

	// Close-of-run summary counters. invokeMu guards the fallback
	// count and the audit log, which concurrent dispatches share.
	invokeMu           sync.Mutex
	parseFailures      int
	perturbationEvents int
	fallbacks          int

	// Live control state.
	paused    bool
	stepOnce  bool
	stopped   bool
	tickDelay time.Duration
}

// Option adjusts engine construction, mostly for tests and the CLI.
type Option func(*Engine)

// WithProvider bypasses the registry with an already-built provider.
func WithProvider(p provider.Provider) Option {
	return func(e *Engine) { e.prov = p }
}

// WithObserver attaches a live observer feed.
func WithObserver(s *obs.Server) Option {
	return func(e *Engine) { e.observer = s }
}

// New builds an engine for a fresh or resumed run rooted at dataDir.
func New(cfg *config.Config, dataDir string, logger *log.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:       cfg,
		dataDir:   dataDir,
		runID:     uuid.NewString(),
		log:       logger,
		world:     world.New(cfg.World, cfg.Simulation.Seed),
		resumable: cfg.Provider.SessionMode == config.SessionResumable,
		spawnRW:   rand.New(rand.NewSource(cfg.Simulation.Seed)),
		tickDelay: time.Duration(cfg.Simulation.TickDelayMs) * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.prov == nil {
		p, err := provider.New(cfg.Provider, logger)
		if err != nil {
			return nil, err
		}
		e.prov = provider.NewRetrier(p, cfg.Provider, logger)
	}

	mw, err := metrics.NewWriter(dataDir)
	if err != nil {
		return nil, err
	}
	e.metricsW = mw
	e.perturbLog = plog.NewPerturbationLogger(dataDir)
	e.compactLog = plog.NewCompactionLogger(dataDir)
	e.inferLog = plog.NewInferenceLogger(dataDir)

	idx, err := indexdb.Open(filepath.Join(dataDir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	e.index = idx
	return e, nil
}

// Setup initializes a fresh run: directories, resolved config copy,
// world food, and the agent roster with identical starting memory.
func (e *Engine) Setup() error {
	for _, dir := range []string{
		e.dataDir,
		filepath.Join(e.dataDir, "agents"),
		filepath.Join(e.dataDir, "logs", "ticks"),
		filepath.Join(e.dataDir, "analysis"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := e.cfg.Save(filepath.Join(e.dataDir, "config.yaml")); err != nil {
		return fmt.Errorf("save resolved config: %w", err)
	}
	if err := e.index.SetMeta("run_id", e.runID); err != nil {
		return fmt.Errorf("record run id: %w", err)
	}

	e.world.Initialize()
	if err := e.spawnAgents(); err != nil {
		return err
	}
	e.perturber = perturb.New(e.cfg.Perturbation, e.cfg.World.GridSize, e.cfg.Simulation.Seed, e.roster())
	return e.saveSnapshot()
}

// Resume rebuilds engine state from the latest snapshot plus each
// agent's state file, continuing an interrupted run.
func (e *Engine) Resume() error {
	snap, err := snapshot.Latest(e.dataDir)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	e.tick = snap.Tick
	e.runID = snap.RunID
	e.world = world.ImportState(snap.World, e.cfg.World, e.cfg.Simulation.Seed)

	e.agents = e.agents[:0]
	for _, snapSt := range snap.Agents {
		a := agent.Restore(snapSt, e.dataDir)
		// Prefer the per-agent state file; it is written every tick
		// while snapshots are periodic.
		if st, err := a.LoadState(); err == nil && st.Name == snapSt.Name {
			a = agent.Restore(st, e.dataDir)
		}
		if e.resumable {
			a.LoadSession()
		}
		e.agents = append(e.agents, a)
	}
	e.perturber = perturb.New(e.cfg.Perturbation, e.cfg.World.GridSize, e.cfg.Simulation.Seed, e.roster())
	e.log.Printf("resumed run %s at tick %d (%d agents, %d alive)",
		e.runID, e.tick, len(e.agents), len(e.aliveAgents()))
	return nil
}

func (e *Engine) spawnAgents() error {
	agentNames, err := names.Generate(e.cfg.Agents.Count, e.cfg.Simulation.Seed)
	if err != nil {
		return err
	}
	grid := e.cfg.World.GridSize
	for i, name := range agentNames {
		pos := world.Vec2{X: e.spawnRW.Intn(grid), Y: e.spawnRW.Intn(grid)}
		a := agent.New(fmt.Sprintf("%04x", i), name, pos, e.cfg.Agents.EnergyStart, e.cfg.Agents.EnergyMax, e.dataDir)
		a.FoodValue = e.cfg.Agents.FoodValue
		a.VisionRange = e.cfg.Agents.VisionRange
		a.CommRange = e.cfg.Agents.CommRange
		if err := a.InitFiles(); err != nil {
			return fmt.Errorf("init agent %s: %w", name, err)
		}
		e.agents = append(e.agents, a)
	}
	e.log.Printf("spawned %d agents", len(e.agents))
	return nil
}

func (e *Engine) roster() []string {
	out := make([]string, len(e.agents))
	for i, a := range e.agents {
		out[i] = a.Name
	}
	return out
}

func (e *Engine) aliveAgents() []*agent.Agent {
	var out []*agent.Agent
	for _, a := range e.agents {
		if a.Alive {
			out = append(out, a)
		}
	}
	return out
}

// Tick reports the last completed tick.
func (e *Engine) Tick() int { return e.tick }

// RunID identifies this run in logs and observer events.
func (e *Engine) RunID() string { return e.runID }

// Hello builds the observer handshake for the current state.
func (e *Engine) Hello() observerproto.HelloMsg {
	return observerproto.HelloMsg{
		Type:            "hello",
		ProtocolVersion: observerproto.Version,
		RunID:           e.runID,
		GridSize:        e.cfg.World.GridSize,
		Seed:            e.cfg.Simulation.Seed,
		Tick:            e.tick,
	}
}

// Summary is the end-of-run report. Systematic unreliability (parse
// failures, fallbacks) stays visible here even when every tick
// completed.
type Summary struct {
	Ticks              int
	Alive              int
	Total              int
	ParseFailures      int
	PerturbationEvents int
	Fallbacks          int
}

// Run executes ticks until the limit, extinction, a stop command, or
// context cancellation.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	maxTicks := e.cfg.Simulation.Ticks
	for e.tick < maxTicks && !e.stopped {
		if err := ctx.Err(); err != nil {
			break
		}
		e.handleControls(ctx)
		if e.stopped {
			break
		}

		alive := e.aliveAgents()
		if len(alive) == 0 {
			e.log.Printf("all agents dead at tick %d", e.tick)
			break
		}

		res, err := e.Step(ctx)
		if err != nil {
			return e.summary(), err
		}
		e.log.Printf("tick %d/%d  alive=%d dead=%d perturbations=%d parse_failures=%d",
			res.Tick, maxTicks, res.Alive, res.Dead, len(res.Perturbations), res.ParseFailures)

		if e.tickDelay > 0 {
			select {
			case <-time.After(e.tickDelay):
			case <-ctx.Done():
			}
		}
	}

	if err := e.saveSnapshot(); err != nil {
		return e.summary(), err
	}
	sum := e.summary()
	if e.observer != nil {
		reason := "completed"
		if e.stopped {
			reason = "stopped"
		} else if sum.Alive == 0 {
			reason = "extinct"
		}
		e.observer.Broadcast(observerproto.DoneMsg{Type: "done", Tick: e.tick, Survivors: sum.Alive, Reason: reason})
	}
	e.log.Printf("run complete: %d ticks, %d/%d alive, %d parse failures, %d perturbations, %d fallbacks",
		sum.Ticks, sum.Alive, sum.Total, sum.ParseFailures, sum.PerturbationEvents, sum.Fallbacks)
	return sum, nil
}

func (e *Engine) summary() Summary {
	return Summary{
		Ticks:              e.tick,
		Alive:              len(e.aliveAgents()),
		Total:              len(e.agents),
		ParseFailures:      e.parseFailures,
		PerturbationEvents: e.perturbationEvents,
		Fallbacks:          e.fallbacks,
	}
}

// handleControls drains observer control commands. When paused, it
// blocks between ticks until resume, step, or stop.
func (e *Engine) handleControls(ctx context.Context) {
	if e.observer == nil {
		return
	}
	for {
		select {
		case ctl := <-e.observer.Controls():
			e.applyControl(ctl)
		default:
			if !e.paused || e.stepOnce {
				e.stepOnce = false
				return
			}
			select {
			case ctl := <-e.observer.Controls():
				e.applyControl(ctl)
			case <-ctx.Done():
				e.stopped = true
				return
			}
		}
		if e.stopped {
			return
		}
	}
}

func (e *Engine) applyControl(ctl observerproto.ControlMsg) {
	switch ctl.Command {
	case observerproto.CmdPause:
		e.paused = true
	case observerproto.CmdResume:
		e.paused = false
	case observerproto.CmdStep:
		e.stepOnce = true
	case observerproto.CmdDelay:
		e.tickDelay = time.Duration(ctl.DelayMs) * time.Millisecond
	case observerproto.CmdStop:
		e.stopped = true
	}
}

func (e *Engine) saveSnapshot() error {
	states := make([]agent.State, len(e.agents))
	for i, a := range e.agents {
		states[i] = a.Export()
	}
	snap := snapshot.Snapshot{
		RunID:     e.runID,
		Tick:      e.tick,
		Seed:      e.cfg.Simulation.Seed,
		World:     e.world.ExportState(),
		Agents:    states,
		Timestamp: time.Now().UTC(),
	}
	if err := snapshot.Write(e.dataDir, snap); err != nil {
		return fmt.Errorf("snapshot tick %d: %w", e.tick, err)
	}
	path := filepath.Join("logs", "ticks", fmt.Sprintf("%06d.json", e.tick))
	e.index.RecordSnapshot(e.tick, path, e.cfg.Simulation.Seed, len(e.aliveAgents()), e.world.FoodCount())
	return nil
}

// Close flushes and closes every run artifact.
func (e *Engine) Close() error {
	_ = e.perturbLog.Close()
	_ = e.compactLog.Close()
	_ = e.inferLog.Close()
	return e.index.Close()
}
