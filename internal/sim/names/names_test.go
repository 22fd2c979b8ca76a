package names

import "testing"

func TestGenerateUniqueAndStable(t *testing.T) {
	a, err := Generate(12, 42)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(a) != 12 {
		t.Fatalf("got %d names, want 12", len(a))
	}
	seen := make(map[string]bool)
	for _, name := range a {
		if seen[name] {
			t.Fatalf("duplicate name %q", name)
		}
		seen[name] = true
	}

	b, err := Generate(12, 42)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("seed 42 not stable: %q vs %q", a[i], b[i])
		}
	}

	c, _ := Generate(12, 43)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("different seeds produced identical rosters")
	}
}

func TestGenerateRejectsImpossibleCount(t *testing.T) {
	if _, err := Generate(len(adjectives)*len(nouns)+1, 1); err == nil {
		t.Fatalf("expected error for oversized roster")
	}
}
