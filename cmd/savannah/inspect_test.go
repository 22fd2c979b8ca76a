package main

import (
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"savannah.ai/internal/persistence/snapshot"
	"savannah.ai/internal/sim/agent"
	"savannah.ai/internal/sim/world"
)

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) error {
	t.Helper()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	return cmd.Execute()
}

// A run directory that never reached its first snapshot interval has
// no files under logs/ticks. Both playback commands must report that
// instead of crashing.
func TestInspectRejectsRunWithoutSnapshots(t *testing.T) {
	err := runCommand(t, inspectCmd(), t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "no tick snapshots") {
		t.Fatalf("err = %v, want no tick snapshots", err)
	}
}

func TestReplayRejectsRunWithoutSnapshots(t *testing.T) {
	err := runCommand(t, replayCmd(), t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "no tick snapshots") {
		t.Fatalf("err = %v, want no tick snapshots", err)
	}
}

func TestInspectPicksNearestSnapshot(t *testing.T) {
	dir := t.TempDir()
	for _, tick := range []int{5, 10, 15} {
		s := snapshot.Snapshot{
			RunID: "run-1",
			Tick:  tick,
			World: world.State{Size: 10},
			Agents: []agent.State{
				{Name: "Amber-Creek", Energy: 50, Alive: true},
			},
		}
		if err := snapshot.Write(dir, s); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if err := runCommand(t, inspectCmd(), dir, "--tick", "11"); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if got := nearestTick([]int{5, 10, 15}, 11); got != 10 {
		t.Fatalf("nearestTick = %d, want 10", got)
	}
}
