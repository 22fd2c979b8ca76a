// Package snapshot writes per-tick world snapshots as plain indented
// JSON under logs/ticks/. Plain text keeps crashed runs inspectable
// with nothing but a pager, and replay/resume read the same files.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"savannah.ai/internal/sim/agent"
	"savannah.ai/internal/sim/world"
)

// Snapshot is the full recoverable state at the end of one tick.
type Snapshot struct {
	RunID     string        `json:"run_id"`
	Tick      int           `json:"tick"`
	Seed      int64         `json:"seed"`
	World     world.State   `json:"world"`
	Agents    []agent.State `json:"agents"`
	Timestamp time.Time     `json:"timestamp"`
}

func dirFor(dataDir string) string {
	return filepath.Join(dataDir, "logs", "ticks")
}

func pathFor(dataDir string, tick int) string {
	return filepath.Join(dirFor(dataDir), fmt.Sprintf("%06d.json", tick))
}

// Write stores the snapshot, creating logs/ticks/ as needed.
func Write(dataDir string, s Snapshot) error {
	if err := os.MkdirAll(dirFor(dataDir), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(pathFor(dataDir, s.Tick), b, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot for one tick.
func Load(dataDir string, tick int) (Snapshot, error) {
	return read(pathFor(dataDir, tick))
}

// Latest returns the highest-tick snapshot, for resuming a run.
func Latest(dataDir string) (Snapshot, error) {
	ticks, err := Ticks(dataDir)
	if err != nil {
		return Snapshot{}, err
	}
	if len(ticks) == 0 {
		return Snapshot{}, fmt.Errorf("no snapshots under %s", dirFor(dataDir))
	}
	return Load(dataDir, ticks[len(ticks)-1])
}

// Ticks lists all snapshot ticks in ascending order.
func Ticks(dataDir string) ([]int, error) {
	entries, err := os.ReadDir(dirFor(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ticks []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		ticks = append(ticks, n)
	}
	sort.Ints(ticks)
	return ticks, nil
}

func read(path string) (Snapshot, error) {
	var s Snapshot
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return s, nil
}
