package indexdb

import (
	"path/filepath"
	"testing"

	"savannah.ai/internal/sim/metrics"
	"savannah.ai/internal/sim/perturb"
)

func TestIndexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	idx.WriteMetric(metrics.Record{Tick: 1, AgentName: "Amber-Creek", Energy: 49.5, Alive: true, Action: "eat"})
	idx.WriteMetric(metrics.Record{Tick: 2, AgentName: "Amber-Creek", Energy: 60, Alive: true, Action: "rest", Uncertainty: 2})
	idx.WriteMetric(metrics.Record{Tick: 1, AgentName: "Windfern", Energy: 50, Alive: true, Action: "move"})
	idx.WritePerturbation(perturb.Event{Tick: 2, Agent: "Amber-Creek", Store: "episodic", Transform: "deletion"})
	idx.WritePerturbation(perturb.Event{Tick: 2, Agent: "Windfern", Store: "self", Transform: "outcome_invert"})
	idx.RecordSnapshot(2, "logs/ticks/000002.json", 42, 2, 7)

	// Close drains the writer queue and commits.
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	recs, err := idx.MetricsFor("Amber-Creek")
	if err != nil {
		t.Fatalf("MetricsFor: %v", err)
	}
	if len(recs) != 2 || recs[0].Tick != 1 || recs[1].Uncertainty != 2 {
		t.Fatalf("records = %+v", recs)
	}

	counts, err := idx.AgentPerturbationCounts()
	if err != nil {
		t.Fatalf("AgentPerturbationCounts: %v", err)
	}
	if counts["Amber-Creek"] != 1 || counts["Windfern"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestSetMeta(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()
	if err := idx.SetMeta("run_id", "run-123"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	var got string
	if err := idx.db.QueryRow(`SELECT value FROM meta WHERE key='run_id'`).Scan(&got); err != nil {
		t.Fatalf("query meta: %v", err)
	}
	if got != "run-123" {
		t.Fatalf("meta = %q", got)
	}
}
