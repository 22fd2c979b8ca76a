// Package metrics extracts per-tick behavioral measurements from agent
// responses and appends them to a CSV. The lexical patterns are frozen
// so counts stay comparable across runs.
package metrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"savannah.ai/internal/sim/agent"
	"savannah.ai/internal/sim/parse"
)

var (
	uncertaintyRe = regexp.MustCompile(`(?i)not sure|might be|could be wrong|uncertain|should verify|` +
		`if i remember correctly|possibly|maybe|unsure|don't know|` +
		`hard to tell|can't be certain`)

	selfReferenceRe = regexp.MustCompile(`(?i)I think|I remember|I don't know|my memory|I believe|` +
		`I notice|I recall|I suspect|I'm not|I was|I should|` +
		`I need to check|my understanding`)

	trustRe = regexp.MustCompile(`(?i)trust|distrust|reliable|unreliable|honest|dishonest|` +
		`lying|truthful|suspicious|credible|deceiv`)
)

var fields = []string{
	"tick",
	"agent_name",
	"energy",
	"alive",
	"action",
	"parse_failed",
	"uncertainty_count",
	"self_reference_count",
	"trust_language_count",
	"memory_management_action",
	"reasoning_length",
	"working_length",
}

// Record is one agent's measurements for one tick.
type Record struct {
	Tick           int
	AgentName      string
	Energy         float64
	Alive          bool
	Action         string
	ParseFailed    bool
	Uncertainty    int
	SelfReference  int
	TrustLanguage  int
	MemoryAction   bool
	ReasoningLen   int
	WorkingTextLen int
}

// Extract computes the lexical counts for one agent's parsed action.
func Extract(tick int, a *agent.Agent, act parse.Action) Record {
	text := act.Reasoning + " " + act.Working
	return Record{
		Tick:           tick,
		AgentName:      a.Name,
		Energy:         a.Energy,
		Alive:          a.Alive,
		Action:         act.Name,
		ParseFailed:    act.ParseFailed,
		Uncertainty:    len(uncertaintyRe.FindAllString(text, -1)),
		SelfReference:  len(selfReferenceRe.FindAllString(text, -1)),
		TrustLanguage:  len(trustRe.FindAllString(text, -1)),
		MemoryAction:   act.Name == parse.ActionRecall || act.Name == parse.ActionRemember || act.Name == parse.ActionCompact,
		ReasoningLen:   len(act.Reasoning),
		WorkingTextLen: len(act.Working),
	}
}

// Writer appends records to analysis/metrics.csv, writing the header
// once on first creation.
type Writer struct {
	path string
}

// NewWriter prepares the analysis directory under dataDir.
func NewWriter(dataDir string) (*Writer, error) {
	dir := filepath.Join(dataDir, "analysis")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create analysis dir: %w", err)
	}
	return &Writer{path: filepath.Join(dir, "metrics.csv")}, nil
}

// Path returns the CSV location.
func (w *Writer) Path() string { return w.path }

// Append writes the given records, creating the file with a header row
// if it does not exist yet.
func (w *Writer) Append(records []Record) error {
	_, statErr := os.Stat(w.path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open metrics csv: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if writeHeader {
		if err := cw.Write(fields); err != nil {
			return fmt.Errorf("write metrics header: %w", err)
		}
	}
	for _, r := range records {
		row := []string{
			strconv.Itoa(r.Tick),
			r.AgentName,
			fmt.Sprintf("%.1f", r.Energy),
			strconv.FormatBool(r.Alive),
			r.Action,
			strconv.FormatBool(r.ParseFailed),
			strconv.Itoa(r.Uncertainty),
			strconv.Itoa(r.SelfReference),
			strconv.Itoa(r.TrustLanguage),
			strconv.FormatBool(r.MemoryAction),
			strconv.Itoa(r.ReasoningLen),
			strconv.Itoa(r.WorkingTextLen),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write metrics row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read loads all records back from the CSV, for replay and inspection.
func Read(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read metrics csv: %w", err)
	}
	var out []Record
	for i, row := range rows {
		if i == 0 || len(row) != len(fields) {
			continue
		}
		tick, _ := strconv.Atoi(row[0])
		energy, _ := strconv.ParseFloat(row[2], 64)
		alive, _ := strconv.ParseBool(row[3])
		failed, _ := strconv.ParseBool(row[5])
		unc, _ := strconv.Atoi(row[6])
		self, _ := strconv.Atoi(row[7])
		trust, _ := strconv.Atoi(row[8])
		memAct, _ := strconv.ParseBool(row[9])
		rlen, _ := strconv.Atoi(row[10])
		wlen, _ := strconv.Atoi(row[11])
		out = append(out, Record{
			Tick: tick, AgentName: row[1], Energy: energy, Alive: alive,
			Action: row[4], ParseFailed: failed,
			Uncertainty: unc, SelfReference: self, TrustLanguage: trust,
			MemoryAction: memAct, ReasoningLen: rlen, WorkingTextLen: wlen,
		})
	}
	return out, nil
}
