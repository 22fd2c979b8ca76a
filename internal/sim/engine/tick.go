package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"savannah.ai/internal/observerproto"
	plog "savannah.ai/internal/persistence/log"
	"savannah.ai/internal/provider"
	"savannah.ai/internal/sim/agent"
	"savannah.ai/internal/sim/memory"
	"savannah.ai/internal/sim/metrics"
	"savannah.ai/internal/sim/parse"
	"savannah.ai/internal/sim/perturb"
)

var directionDeltas = map[string][2]int{
	"n": {0, -1},
	"s": {0, 1},
	"e": {1, 0},
	"w": {-1, 0},
}

// StepResult reports one completed tick.
type StepResult struct {
	Tick          int
	Alive         int
	Dead          int
	ParseFailures int
	Perturbations []perturb.Event
	InferenceMs   int64
}

// Step runs exactly one tick. Phases are strictly ordered: perturb,
// prompt, dispatch, parse, apply, drain, world update, compaction,
// metrics, persistence. World and memory mutation begins only after
// every dispatched inference call has resolved.
func (e *Engine) Step(ctx context.Context) (StepResult, error) {
	e.tick++
	tick := e.tick
	alive := e.aliveAgents()
	res := StepResult{Tick: tick}

	// Perturbing: corrupt memory before the agent reads it.
	for _, a := range alive {
		if ev := e.perturber.MaybePerturb(a, tick); ev != nil {
			res.Perturbations = append(res.Perturbations, *ev)
			e.perturbationEvents++
			if err := e.perturbLog.Write(ev); err != nil {
				return res, err
			}
			e.index.WritePerturbation(*ev)
		}
	}

	// Prompting + Dispatching: all calls launch together behind the
	// admission gate; the wait group is the tick barrier.
	type outcome struct {
		resp    string
		session string
	}
	prompts := make([]string, len(alive))
	for i, a := range alive {
		prompts[i] = a.BuildPrompt(e.world, alive, tick)
	}

	outcomes := make([]outcome, len(alive))
	gate := make(chan struct{}, e.cfg.Provider.MaxConcurrent)
	var wg sync.WaitGroup
	t0 := time.Now()
	for i, a := range alive {
		wg.Add(1)
		go func(i int, a *agent.Agent) {
			defer wg.Done()
			gate <- struct{}{}
			defer func() { <-gate }()
			text, session := e.invoke(ctx, a, prompts[i], "tick")
			outcomes[i] = outcome{resp: text, session: session}
		}(i, a)
	}
	wg.Wait()
	res.InferenceMs = time.Since(t0).Milliseconds()

	// Parsing + Applying, in stable roster order: arrival order never
	// influences resolution.
	actions := make([]parse.Action, len(alive))
	var compactQueue []*agent.Agent
	for i, a := range alive {
		if outcomes[i].session != "" {
			a.SessionID = outcomes[i].session
		}
		act := parse.Parse(outcomes[i].resp)
		actions[i] = act
		if act.ParseFailed {
			res.ParseFailures++
			e.parseFailures++
		}
		wantCompact, err := e.applyAction(a, act, tick, alive)
		if err != nil {
			return res, err
		}
		if !wantCompact && e.cfg.Agents.CompactThreshold > 0 &&
			memory.EpisodicCount(a.MemoryDir()) > e.cfg.Agents.CompactThreshold {
			wantCompact = true
		}
		if wantCompact && a.Alive {
			compactQueue = append(compactQueue, a)
		}
	}

	// Draining and aging.
	for _, a := range alive {
		a.Drain(e.cfg.Agents.EnergyDrainPerTick)
		a.Age++
	}

	// Deaths convert to food sources at the last position.
	for _, a := range alive {
		if !a.Alive {
			e.world.AddFood(a.Pos, a.FoodValue)
		}
	}

	// WorldUpdating.
	e.world.TickUpdate(tick)

	// Compactions need an inference call of their own, so they run
	// after the barrier, sequentially.
	for _, a := range compactQueue {
		if err := e.compact(ctx, a, tick); err != nil {
			return res, err
		}
	}

	// MetricExtracting.
	if tick%e.cfg.Metrics.ExtractEvery == 0 {
		records := make([]metrics.Record, len(alive))
		for i, a := range alive {
			records[i] = metrics.Extract(tick, a, actions[i])
			e.index.WriteMetric(records[i])
		}
		if err := e.metricsW.Append(records); err != nil {
			return res, err
		}
	}

	// Persist agent state every tick; snapshots on the interval.
	for _, a := range alive {
		if err := a.SaveState(); err != nil {
			return res, err
		}
		if e.resumable {
			if err := a.SaveSession(); err != nil {
				return res, err
			}
		}
	}
	if tick%e.cfg.Simulation.SnapshotEvery == 0 {
		if err := e.saveSnapshot(); err != nil {
			return res, err
		}
	}

	res.Alive = len(e.aliveAgents())
	res.Dead = len(e.agents) - res.Alive

	if e.observer != nil {
		e.observer.Broadcast(e.tickEvent(res, alive, actions))
	}
	return res, nil
}

// invoke runs one audited inference call. Retry and timeout live in
// the provider wrapper; here a hard failure degrades to rest so the
// tick barrier always resolves.
func (e *Engine) invoke(ctx context.Context, a *agent.Agent, prompt, kind string) (text, session string) {
	t0 := time.Now()
	var (
		resp provider.Response
		err  error
	)
	if e.resumable {
		if r, ok := e.prov.(provider.Resumable); ok {
			resp, err = r.InvokeResumable(ctx, prompt, a.SessionID)
		} else {
			resp, err = e.prov.Invoke(ctx, prompt)
		}
	} else {
		resp, err = e.prov.Invoke(ctx, prompt)
	}
	if err != nil {
		e.log.Printf("inference failed for %s: %v", a.Name, err)
		resp.Text = "ACTION: rest\nWORKING: error\nREASONING: inference failure"
		resp.Fallback = true
	}
	e.invokeMu.Lock()
	defer e.invokeMu.Unlock()
	if resp.Fallback {
		e.fallbacks++
	}
	_ = e.inferLog.Write(plog.Entry{
		Tick:      e.tick,
		Agent:     a.Name,
		Kind:      kind,
		Prompt:    prompt,
		Response:  resp.Text,
		SessionID: resp.SessionID,
		Millis:    time.Since(t0).Milliseconds(),
	})
	return resp.Text, resp.SessionID
}

// applyAction mutates agent and world state for one parsed action.
// Every action rewrites the working note and charges its fixed cost
// regardless of outcome.
func (e *Engine) applyAction(a *agent.Agent, act parse.Action, tick int, alive []*agent.Agent) (wantCompact bool, err error) {
	cfg := e.cfg.Agents
	if err := a.WriteWorking(act.Working, cfg.WorkingMaxBytes); err != nil {
		return false, err
	}

	switch act.Name {
	case parse.ActionMove:
		d := directionDeltas[act.Arg]
		a.Pos = e.world.Wrap(a.Pos.X+d[0], a.Pos.Y+d[1])
		a.Drain(cfg.EnergyPerMove)

	case parse.ActionEat:
		want := a.MaxEnergy - a.Energy
		if want > cfg.EatRate {
			want = cfg.EatRate
		}
		eaten := e.world.DepleteFood(a.Pos, want)
		a.Gain(eaten)

	case parse.ActionRecall:
		a.PendingRecall = memory.Recall(a.MemoryDir(), act.Arg, cfg.RecallMaxResults)
		a.Drain(cfg.EnergyPerRecall)

	case parse.ActionRemember:
		if act.Arg != "" {
			if err := memory.Remember(a.MemoryDir(), formatEpisode(tick, act.Arg)); err != nil {
				return false, err
			}
		}
		a.Drain(cfg.EnergyPerRemember)

	case parse.ActionCompact:
		a.Drain(cfg.EnergyPerCompact)
		wantCompact = true

	case parse.ActionSignal:
		if act.Arg != "" {
			e.broadcastSignal(a, act.Arg, alive)
		}
		a.Drain(cfg.EnergyPerSignal)

	case parse.ActionObserve:
		a.Drain(cfg.EnergyPerObserve)

	case parse.ActionAttack:
		target := e.findAdjacent(a, act.Arg, alive)
		a.Drain(cfg.EnergyPerAttack)
		if target != nil {
			damage := a.Energy * cfg.CombatRiskFactor
			target.Drain(damage)
			if !target.Alive {
				a.Gain(target.FoodValue)
				a.Kills++
			}
		}

	case parse.ActionFlee:
		d := directionDeltas[act.Arg]
		a.Pos = e.world.Wrap(a.Pos.X+d[0]*2, a.Pos.Y+d[1]*2)
		a.Drain(cfg.EnergyPerFlee)

	default: // rest, and anything the parser degraded to rest
		a.Drain(cfg.EnergyPerRest)
	}
	return wantCompact, nil
}

func formatEpisode(tick int, text string) string {
	return fmt.Sprintf("Tick %d: %s", tick, text)
}

// broadcastSignal delivers to every other living agent within comm
// range (wrapped Chebyshev).
func (e *Engine) broadcastSignal(sender *agent.Agent, message string, alive []*agent.Agent) {
	for _, a := range alive {
		if a.Name == sender.Name || !a.Alive {
			continue
		}
		if e.world.Distance(a.Pos, sender.Pos) <= sender.CommRange {
			a.PendingSignals = append(a.PendingSignals, sender.Name+": "+message)
		}
	}
}

// findAdjacent resolves an attack target: named, alive, within one
// wrapped cell of the attacker.
func (e *Engine) findAdjacent(attacker *agent.Agent, targetName string, alive []*agent.Agent) *agent.Agent {
	if targetName == "" {
		return nil
	}
	for _, a := range alive {
		if a.Name != targetName || a.Name == attacker.Name || !a.Alive {
			continue
		}
		if e.world.Distance(a.Pos, attacker.Pos) <= 1 {
			return a
		}
	}
	return nil
}

// compact runs one consolidation call. An unparseable response leaves
// all four stores untouched.
func (e *Engine) compact(ctx context.Context, a *agent.Agent, tick int) error {
	prompt := memory.BuildCompactionPrompt(a.Name, a.MemoryDir(), tick)
	text, _ := e.invoke(ctx, a, prompt, "compaction")
	sections := memory.ParseCompactionResponse(text)
	if sections == nil {
		e.log.Printf("compaction parse failed for %s at tick %d, stores unchanged", a.Name, tick)
		return nil
	}
	diff, err := memory.ApplyCompaction(a.MemoryDir(), sections)
	if err != nil {
		return err
	}
	return e.compactLog.Write(map[string]any{
		"tick":  tick,
		"agent": a.Name,
		"diff":  diff,
	})
}

func (e *Engine) tickEvent(res StepResult, alive []*agent.Agent, actions []parse.Action) observerproto.TickMsg {
	actionFor := make(map[string]parse.Action, len(alive))
	for i, a := range alive {
		actionFor[a.Name] = actions[i]
	}
	agents := make([]observerproto.AgentState, len(e.agents))
	for i, a := range e.agents {
		st := observerproto.AgentState{
			ID:        a.ID,
			Name:      a.Name,
			Pos:       [2]int{a.Pos.X, a.Pos.Y},
			Energy:    a.Energy,
			Alive:     a.Alive,
			Age:       a.Age,
			Perturbed: a.TimesPerturbed > 0,
		}
		if act, ok := actionFor[a.Name]; ok {
			st.Action = act.String()
			st.ParseFailed = act.ParseFailed
		}
		agents[i] = st
	}
	foods := e.world.Foods()
	food := make([]observerproto.FoodState, len(foods))
	for i, f := range foods {
		food[i] = observerproto.FoodState{
			ID:     f.ID,
			Pos:    [2]int{f.Pos.X, f.Pos.Y},
			Energy: int(f.Energy),
		}
	}
	return observerproto.TickMsg{
		Type:            "tick",
		ProtocolVersion: observerproto.Version,
		Tick:            res.Tick,
		InferenceMs:     res.InferenceMs,
		Paused:          e.paused,
		Agents:          agents,
		Food:            food,
		Perturbations:   res.Perturbations,
	}
}
