package memory

import (
	"strings"
	"testing"
)

func TestInitSeedsStores(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, "Amara"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := Read(dir, StoreEpisodic); got != "" {
		t.Fatalf("episodic seed = %q, want empty", got)
	}
	if got := Read(dir, StoreSelf); got != "I am Amara." {
		t.Fatalf("self seed = %q", got)
	}
	if !strings.Contains(Read(dir, StoreSemantic), "food") {
		t.Fatalf("semantic seed missing survival hint")
	}
}

func TestRememberAndCount(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, "Kendi"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if n := EpisodicCount(dir); n != 0 {
		t.Fatalf("fresh count = %d, want 0", n)
	}
	entries := []string{
		"Tick 3: Found food at (5,5).",
		"Tick 7: Met Tarik near the water.",
		"Tick 9: Energy running low.",
	}
	for _, e := range entries {
		if err := Remember(dir, e); err != nil {
			t.Fatalf("Remember: %v", err)
		}
	}
	if err := Remember(dir, "   "); err != nil {
		t.Fatalf("Remember blank: %v", err)
	}
	if n := EpisodicCount(dir); n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
	last := EpisodicEntries(dir, 2)
	if len(last) != 2 || last[1] != entries[2] {
		t.Fatalf("last entries = %v", last)
	}
}

func TestRecallRanksByRelevance(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, "Zola"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Remember(dir, "Tick 2: Found food at the eastern ridge, large source.")
	Remember(dir, "Tick 4: Tarik signalled danger to the north.")
	Remember(dir, "Tick 6: Rested near the southern rocks.")

	hits := Recall(dir, "food eastern ridge", 2)
	if len(hits) == 0 {
		t.Fatalf("no hits")
	}
	if !strings.Contains(hits[0], "eastern ridge") {
		t.Fatalf("top hit = %q, want the ridge episode", hits[0])
	}
}

func TestRecallEmptyQueryAndNoMatch(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, "Nuru"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, q := range []string{"", "xylophone quartz"} {
		hits := Recall(dir, q, 3)
		if len(hits) != 1 || hits[0] != NoResult {
			t.Fatalf("Recall(%q) = %v, want the no-result marker", q, hits)
		}
	}
}

func TestRecallDeterministic(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, "Sefu"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Remember(dir, "Tick 1: Found food at (2,3).")
	Remember(dir, "Tick 2: Found food at (8,1).")

	first := Recall(dir, "food", 5)
	for i := 0; i < 10; i++ {
		again := Recall(dir, "food", 5)
		if len(again) != len(first) {
			t.Fatalf("result count changed: %d vs %d", len(again), len(first))
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("ranking changed at %d: %q vs %q", j, again[j], first[j])
			}
		}
	}
}

func TestParseCompactionResponse(t *testing.T) {
	resp := `EPISODIC:
Tick 5: found food twice near the ridge.
SEMANTIC:
Food clusters in the east.
SELF:
I am cautious but effective.
SOCIAL:
Tarik shares food information.`

	sections := ParseCompactionResponse(resp)
	if sections == nil {
		t.Fatalf("parse failed")
	}
	if sections[StoreSemantic] != "Food clusters in the east." {
		t.Fatalf("semantic = %q", sections[StoreSemantic])
	}
	if sections[StoreSocial] != "Tarik shares food information." {
		t.Fatalf("social = %q", sections[StoreSocial])
	}
}

func TestParseCompactionResponseRejectsPartial(t *testing.T) {
	for _, resp := range []string{
		"",
		"EPISODIC:\nsomething\nSEMANTIC:\nfacts",
		"I cannot comply with that request.",
	} {
		if got := ParseCompactionResponse(resp); got != nil {
			t.Fatalf("ParseCompactionResponse(%q) = %v, want nil", resp, got)
		}
	}
}

func TestApplyCompactionRewritesAllStores(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, "Imani"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Remember(dir, "Tick 1: wandered without finding food.")
	Remember(dir, "Tick 2: found food at (4,4).")

	sections := map[string]string{
		StoreEpisodic: "Tick 2: found food at (4,4).",
		StoreSemantic: "Food exists around (4,4).",
		StoreSelf:     "I am Imani, a decent forager.",
		StoreSocial:   "No contacts yet.",
	}
	diff, err := ApplyCompaction(dir, sections)
	if err != nil {
		t.Fatalf("ApplyCompaction: %v", err)
	}
	if Read(dir, StoreSemantic) != sections[StoreSemantic] {
		t.Fatalf("semantic not rewritten")
	}
	if EpisodicCount(dir) != 1 {
		t.Fatalf("episodic count = %d, want 1", EpisodicCount(dir))
	}
	ep := diff[StoreEpisodic]
	if !strings.Contains(ep.Before, "wandered") || ep.After != sections[StoreEpisodic] {
		t.Fatalf("diff episodic = %+v", ep)
	}
}

func TestBuildCompactionPromptIncludesStores(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, "Jabari"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Remember(dir, "Tick 8: chased off by Nia.")

	prompt := BuildCompactionPrompt("Jabari", dir, 12)
	for _, want := range []string{
		"[COMPACTION MODE - Tick 12] You are Jabari.",
		"Tick 8: chased off by Nia.",
		"EPISODIC:",
		"SOCIAL:",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}
