package observerproto_test

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"savannah.ai/internal/observerproto"
	"savannah.ai/internal/sim/perturb"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, msg any) {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}

	helloSchema := compile("observer_hello.schema.json")
	tickSchema := compile("observer_tick.schema.json")
	controlSchema := compile("observer_control.schema.json")
	doneSchema := compile("observer_done.schema.json")

	validate(helloSchema, observerproto.HelloMsg{
		Type:            "hello",
		ProtocolVersion: observerproto.Version,
		RunID:           "run-1",
		GridSize:        30,
		Seed:            42,
		Tick:            0,
	})

	validate(tickSchema, observerproto.TickMsg{
		Type:            "tick",
		ProtocolVersion: observerproto.Version,
		Tick:            7,
		InferenceMs:     120,
		Agents: []observerproto.AgentState{
			{ID: "a1", Name: "Amber-Creek", Pos: [2]int{4, 9}, Energy: 61.5, Alive: true, Age: 7, Action: "move(n)"},
		},
		Food: []observerproto.FoodState{
			{ID: "food-3", Pos: [2]int{2, 2}, Energy: 25},
		},
		Perturbations: []perturb.Event{
			{Tick: 7, Agent: "Amber-Creek", Store: "episodic", Transform: "deletion", Timestamp: time.Now().UTC()},
		},
	})

	validate(controlSchema, observerproto.ControlMsg{Type: "control", Command: observerproto.CmdDelay, DelayMs: 250})
	validate(controlSchema, observerproto.ControlMsg{Type: "control", Command: observerproto.CmdPause})

	validate(doneSchema, observerproto.DoneMsg{Type: "done", Tick: 500, Survivors: 3, Reason: "completed"})
}
