// Package memory manages an agent's durable file-backed memory: four
// stores (episodic log, semantic beliefs, self model, social model),
// lexical recall over them, and LLM-driven compaction.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store names, in canonical order. The order matters: recall ties break
// by store order, then paragraph order.
const (
	StoreEpisodic = "episodic"
	StoreSemantic = "semantic"
	StoreSelf     = "self"
	StoreSocial   = "social"
)

var StoreOrder = []string{StoreEpisodic, StoreSemantic, StoreSelf, StoreSocial}

func storeFile(dir, store string) string {
	return filepath.Join(dir, store+".md")
}

// Init creates the four store files with the identical minimal seed
// content every agent starts from; only the name differs.
func Init(dir, agentName string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	seeds := map[string]string{
		StoreEpisodic: "",
		StoreSemantic: fmt.Sprintf("I am %s. I need food to maintain energy.", agentName),
		StoreSelf:     fmt.Sprintf("I am %s.", agentName),
		StoreSocial:   "",
	}
	for _, store := range StoreOrder {
		if err := os.WriteFile(storeFile(dir, store), []byte(seeds[store]), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Read returns a store's content, empty when the file is missing.
func Read(dir, store string) string {
	b, err := os.ReadFile(storeFile(dir, store))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// Write overwrites a store.
func Write(dir, store, content string) error {
	return os.WriteFile(storeFile(dir, store), []byte(content), 0o644)
}

// Remember appends one entry to the episodic store. Entries are
// separated by blank lines so each becomes its own recall chunk.
func Remember(dir, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	f, err := os.OpenFile(storeFile(dir, StoreEpisodic), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString("\n" + text + "\n")
	return err
}

// EpisodicEntries returns the last n non-empty episodic lines.
func EpisodicEntries(dir string, n int) []string {
	var out []string
	for _, line := range strings.Split(Read(dir, StoreEpisodic), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// EpisodicCount reports the number of episodic entries, used for the
// automatic compaction trigger.
func EpisodicCount(dir string) int {
	return len(EpisodicEntries(dir, 1<<30))
}
