// Package parse turns raw inference output into a structured action.
// Parsing never fails hard: anything unrecognizable degrades to rest
// with the parse-failure flag set, and auxiliary text is preserved.
package parse

import (
	"regexp"
	"strings"
)

// Action names.
const (
	ActionMove     = "move"
	ActionEat      = "eat"
	ActionRecall   = "recall"
	ActionRemember = "remember"
	ActionCompact  = "compact"
	ActionSignal   = "signal"
	ActionObserve  = "observe"
	ActionAttack   = "attack"
	ActionFlee     = "flee"
	ActionRest     = "rest"
)

// Action is the parsed result of one response.
type Action struct {
	Name        string `json:"action"`
	Arg         string `json:"arg,omitempty"`
	Working     string `json:"working"`
	Reasoning   string `json:"reasoning"`
	ParseFailed bool   `json:"parse_failed"`
}

// String renders the action with its argument, for logs and observer
// events.
func (a Action) String() string {
	if a.Arg == "" {
		return a.Name
	}
	return a.Name + "(" + a.Arg + ")"
}

var (
	sectionRe  = regexp.MustCompile(`(?im)^(ACTION|WORKING|REASONING)\s*:\s*`)
	backtickRe = regexp.MustCompile("`+")
)

// actionPatterns in match priority order: argument forms before bare
// words so "recall" inside a sentence doesn't shadow a move.
var actionPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{ActionMove, regexp.MustCompile(`(?i)move\s*\(\s*([nsew])\s*\)`)},
	{ActionFlee, regexp.MustCompile(`(?i)flee\s*\(\s*([nsew])\s*\)`)},
	{ActionEat, regexp.MustCompile(`(?i)\beat\b`)},
	{ActionRecall, regexp.MustCompile(`(?i)recall\s*\(\s*["']([^"']+)["']\s*\)`)},
	{ActionRemember, regexp.MustCompile(`(?i)remember\s*\(\s*["']([^"']+)["']\s*\)`)},
	{ActionSignal, regexp.MustCompile(`(?i)signal\s*\(\s*["']([^"']+)["']\s*\)`)},
	{ActionAttack, regexp.MustCompile(`(?i)attack\s*\(\s*([a-zA-Z][\w-]*)\s*\)`)},
	{ActionCompact, regexp.MustCompile(`(?i)\bcompact\b`)},
	{ActionObserve, regexp.MustCompile(`(?i)\bobserve\b`)},
	{ActionRest, regexp.MustCompile(`(?i)\brest\b`)},
}

// Parse extracts the action and auxiliary text from a raw response.
func Parse(raw string) Action {
	if strings.TrimSpace(raw) == "" {
		return Action{Name: ActionRest, Reasoning: "(parse failure: empty response)", ParseFailed: true}
	}

	sections := extractSections(raw)
	actionText := backtickRe.ReplaceAllString(strings.TrimSpace(sections["action"]), "")
	working := strings.TrimSpace(sections["working"])
	reasoning := strings.TrimSpace(sections["reasoning"])

	if actionText == "" {
		return Action{
			Name:        ActionRest,
			Working:     working,
			Reasoning:   "(parse failure: no ACTION section)",
			ParseFailed: true,
		}
	}

	for _, p := range actionPatterns {
		m := p.re.FindStringSubmatch(actionText)
		if m == nil {
			continue
		}
		arg := ""
		if len(m) > 1 {
			arg = strings.TrimSpace(strings.ToLower(m[1]))
			if p.name == ActionRecall || p.name == ActionRemember || p.name == ActionSignal || p.name == ActionAttack {
				arg = strings.TrimSpace(m[1]) // free text keeps its case
			}
		}
		return Action{Name: p.name, Arg: arg, Working: working, Reasoning: reasoning}
	}

	return Action{
		Name:        ActionRest,
		Working:     working,
		Reasoning:   reasoning,
		ParseFailed: true,
	}
}

// extractSections splits a response at ACTION/WORKING/REASONING labels,
// case and whitespace insensitive, keeping multi-line section bodies.
func extractSections(text string) map[string]string {
	sections := make(map[string]string, 3)
	matches := sectionRe.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		label := strings.ToLower(text[m[2]:m[3]])
		start := m[1]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		sections[label] = text[start:end]
	}
	return sections
}
