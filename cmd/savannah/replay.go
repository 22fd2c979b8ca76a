package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	plog "savannah.ai/internal/persistence/log"
	"savannah.ai/internal/persistence/snapshot"
	"savannah.ai/internal/sim/perturb"
)

func replayCmd() *cobra.Command {
	var (
		agentFilter string
		fromTick    int
		toTick      int
	)

	cmd := &cobra.Command{
		Use:   "replay <data-dir>",
		Short: "Play back a completed run tick by tick",
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

			perturbations, err := loadPerturbations(dataDir)
			if err != nil {
				return err
			}

			for _, tick := range ticks {
				if fromTick > 0 && tick < fromTick {
					continue
				}
				if toTick > 0 && tick > toTick {
					break
				}
				snap, err := snapshot.Load(dataDir, tick)
				if err != nil {
					return err
				}
				printTick(snap, perturbations[tick], agentFilter)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&agentFilter, "agent", "a", "", "only show this agent")
	cmd.Flags().IntVar(&fromTick, "from", 0, "first tick to replay")
	cmd.Flags().IntVar(&toTick, "to", 0, "last tick to replay")
	return cmd
}

func loadPerturbations(dataDir string) (map[int][]perturb.Event, error) {
	byTick := make(map[int][]perturb.Event)
	path := dataDir + "/logs/perturbations.jsonl"
	err := plog.ReadJSONL(path, func(line []byte) error {
		var ev perturb.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		byTick[ev.Tick] = append(byTick[ev.Tick], ev)
		return nil
	})
	if err != nil {
		// A run with perturbation disabled never writes the log.
		return byTick, nil
	}
	return byTick, nil
}

func printTick(snap snapshot.Snapshot, events []perturb.Event, agentFilter string) {
	alive := 0
	for _, a := range snap.Agents {
		if a.Alive {
			alive++
		}
	}
	var foodEnergy float64
	for _, f := range snap.World.Foods {
		foodEnergy += f.Energy
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Tick %6d  |  Alive: %d  |  Food: %d (%.0f energy)\n",
		snap.Tick, alive, len(snap.World.Foods), foodEnergy)
	fmt.Println(strings.Repeat("-", 60))

	for _, a := range snap.Agents {
		if agentFilter != "" && a.Name != agentFilter {
			continue
		}
		status := "DEAD"
		if a.Alive {
			status = "ALIVE"
		}
		fmt.Printf("  %-20s pos=(%2d,%2d)  energy=%6.1f  [%s]\n",
			a.Name, a.Position[0], a.Position[1], a.Energy, status)
	}

	if len(events) > 0 {
		fmt.Printf("  %s\n", strings.Repeat("~", 40))
		fmt.Println("  PERTURBATIONS:")
		for _, ev := range events {
			if agentFilter != "" && ev.Agent != agentFilter {
				continue
			}
			fmt.Printf("    %s: %s (%s)\n", ev.Agent, ev.Store, ev.Transform)
		}
	}
	fmt.Println()
}
