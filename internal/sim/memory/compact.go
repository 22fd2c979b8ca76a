package memory

import (
	"fmt"
	"regexp"
	"strings"
)

var compactionSectionRe = regexp.MustCompile(`(?im)^(EPISODIC|SEMANTIC|SELF|SOCIAL)\s*:\s*`)

// BuildCompactionPrompt asks the model to consolidate all four stores.
// The engine submits it like any other inference call.
func BuildCompactionPrompt(agentName, dir string, tick int) string {
	episodes := EpisodicEntries(dir, 30)
	episodesText := "(none)"
	if len(episodes) > 0 {
		episodesText = strings.Join(episodes, "\n")
	}

	return fmt.Sprintf(`[COMPACTION MODE - Tick %d] You are %s.

Recent episodes (last 30):
%s

Current general knowledge:
%s

Current self-assessment:
%s

Current social knowledge:
%s

Rewrite each file. Summarize episodes into general knowledge. Remove redundant episodes. Update your self-assessment and social knowledge. Be concise, storage is limited.

Respond in this exact format:
EPISODIC:
(summarized recent episodes, keep only unique events)
SEMANTIC:
(updated general knowledge)
SELF:
(updated self-assessment)
SOCIAL:
(updated social knowledge)`,
		tick, agentName, episodesText,
		Read(dir, StoreSemantic), Read(dir, StoreSelf), Read(dir, StoreSocial))
}

// ParseCompactionResponse splits a consolidation response into the four
// labeled sections. nil means parse failure: the caller must treat the
// whole compaction as a no-op, never a partial rewrite.
func ParseCompactionResponse(text string) map[string]string {
	if text == "" {
		return nil
	}
	matches := compactionSectionRe.FindAllStringSubmatchIndex(text, -1)
	sections := make(map[string]string, 4)
	for i, m := range matches {
		label := strings.ToLower(text[m[2]:m[3]])
		start := m[1]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		sections[label] = strings.TrimSpace(text[start:end])
	}
	for _, store := range StoreOrder {
		if _, ok := sections[store]; !ok {
			return nil
		}
	}
	return sections
}

// Diff records the before/after content of each store for the
// compaction audit log.
type Diff map[string]struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// ApplyCompaction replaces all four stores with the parsed sections and
// returns the before/after diff. Callers only reach this with a fully
// parsed response, so the write is all four stores or none.
func ApplyCompaction(dir string, sections map[string]string) (Diff, error) {
	diff := make(Diff, 4)
	for _, store := range StoreOrder {
		if _, ok := sections[store]; !ok {
			return nil, fmt.Errorf("compaction sections missing %q", store)
		}
	}
	for _, store := range StoreOrder {
		before := Read(dir, store)
		if err := Write(dir, store, sections[store]); err != nil {
			return nil, fmt.Errorf("write %s: %w", store, err)
		}
		diff[store] = struct {
			Before string `json:"before"`
			After  string `json:"after"`
		}{Before: before, After: sections[store]}
	}
	return diff, nil
}
