package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"savannah.ai/internal/persistence/snapshot"
	"savannah.ai/internal/sim/agent"
	"savannah.ai/internal/sim/memory"
)

func inspectCmd() *cobra.Command {
	var (
		tick      int
		agentName string
	)

	cmd := &cobra.Command{
		Use:   "inspect <data-dir>",
		Short: "Inspect run state at a tick, optionally one agent's memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dataDir := args[0]
			ticks, err := snapshot.Ticks(dataDir)
			if err != nil {
				return fmt.Errorf("no tick snapshots in %s: %w", dataDir, err)
			}
			if len(ticks) == 0 {
				return fmt.Errorf("no tick snapshots in %s", dataDir)
			}

			nearest := nearestTick(ticks, tick)
			snap, err := snapshot.Load(dataDir, nearest)
			if err != nil {
				return err
			}

			printSummary(snap, tick)
			if agentName != "" {
				return inspectAgent(dataDir, snap.Agents, agentName)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&tick, "tick", "t", 0, "tick to inspect (nearest snapshot is used)")
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "show this agent's full state and memory")
	return cmd
}

func nearestTick(ticks []int, want int) int {
	best := ticks[0]
	for _, t := range ticks {
		if abs(t-want) < abs(best-want) {
			best = t
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func printSummary(snap snapshot.Snapshot, requested int) {
	alive := 0
	for _, a := range snap.Agents {
		if a.Alive {
			alive++
		}
	}

	fmt.Println(strings.Repeat("=", 60))
	header := fmt.Sprintf("Snapshot at tick %d", snap.Tick)
	if snap.Tick != requested {
		header += fmt.Sprintf("  (requested: %d)", requested)
	}
	fmt.Println(header)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("  World size: %dx%d\n", snap.World.Size, snap.World.Size)
	fmt.Printf("  Food sources: %d\n", len(snap.World.Foods))
	fmt.Printf("  Agents alive: %d / %d\n", alive, len(snap.Agents))
	fmt.Println()

	fmt.Println(strings.Repeat("-", 60))
	fmt.Println("AGENTS:")
	fmt.Println(strings.Repeat("-", 60))
	for _, a := range snap.Agents {
		status := "DEAD"
		if a.Alive {
			status = "ALIVE"
		}
		fmt.Printf("  %-20s pos=(%2d,%2d)  energy=%6.1f  [%s]\n",
			a.Name, a.Position[0], a.Position[1], a.Energy, status)
	}
	fmt.Println()
}

func inspectAgent(dataDir string, agents []agent.State, name string) error {
	var found *agent.State
	for i := range agents {
		if agents[i].Name == name {
			found = &agents[i]
			break
		}
	}
	if found == nil {
		var names []string
		for _, a := range agents {
			names = append(names, a.Name)
		}
		return fmt.Errorf("agent %q not found; available: %s", name, strings.Join(names, ", "))
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("AGENT DETAIL: %s\n", name)
	fmt.Println(strings.Repeat("=", 60))
	detail, err := json.MarshalIndent(found, "  ", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("  %s\n\n", detail)

	agentDir := filepath.Join(dataDir, "agents", name)
	memDir := filepath.Join(agentDir, "memory")

	fmt.Println(strings.Repeat("-", 60))
	fmt.Println("MEMORY FILES:")
	fmt.Println(strings.Repeat("-", 60))
	for _, store := range memory.StoreOrder {
		fmt.Printf("\n  [%s.md]\n", store)
		printIndented(memory.Read(memDir, store))
	}
	fmt.Println()

	fmt.Println(strings.Repeat("-", 60))
	fmt.Println("WORKING NOTES:")
	fmt.Println(strings.Repeat("-", 60))
	working, _ := os.ReadFile(filepath.Join(agentDir, "working.md"))
	printIndented(string(working))
	fmt.Println()

	fmt.Println(strings.Repeat("-", 60))
	fmt.Println("STATE FILE:")
	fmt.Println(strings.Repeat("-", 60))
	state, err := os.ReadFile(filepath.Join(agentDir, "state.json"))
	if err != nil {
		fmt.Println("  state.json not found")
	} else {
		printIndented(string(state))
	}
	fmt.Println()
	return nil
}

func printIndented(content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		fmt.Println("    (empty)")
		return
	}
	for _, line := range strings.Split(content, "\n") {
		fmt.Printf("    %s\n", line)
	}
}
