// Package log holds the append-only run logs: plain JSONL for the
// low-volume perturbation and compaction streams, rotated
// zstd-compressed JSONL for the raw inference audit trail.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLWriter appends one JSON document per line to a single file.
// Lines are flushed per write so a crashed run keeps every completed
// entry.
type JSONLWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

func NewJSONLWriter(path string) *JSONLWriter {
	return &JSONLWriter{path: path}
}

func (w *JSONLWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		w.f = f
		w.w = bufio.NewWriter(f)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w != nil {
		_ = w.w.Flush()
		w.w = nil
	}
	if w.f != nil {
		err := w.f.Close()
		w.f = nil
		return err
	}
	return nil
}

// ReadJSONL decodes every line of a plain JSONL file into out values
// via the supplied decode callback.
func ReadJSONL(path string, decode func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := decode(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// JSONLZstdWriter appends compressed JSONL, rotating hourly. Used for
// the inference audit trail, which records every raw prompt/response
// pair and grows far faster than the other logs.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// PerturbationLogger records applied memory corruptions, one line per
// event.
type PerturbationLogger struct{ w *JSONLWriter }

func NewPerturbationLogger(dataDir string) *PerturbationLogger {
	return &PerturbationLogger{w: NewJSONLWriter(filepath.Join(dataDir, "logs", "perturbations.jsonl"))}
}

func (l *PerturbationLogger) Write(v any) error { return l.w.Write(v) }
func (l *PerturbationLogger) Close() error      { return l.w.Close() }

// CompactionLogger records before/after store diffs of each applied
// compaction.
type CompactionLogger struct{ w *JSONLWriter }

func NewCompactionLogger(dataDir string) *CompactionLogger {
	return &CompactionLogger{w: NewJSONLWriter(filepath.Join(dataDir, "logs", "compaction.jsonl"))}
}

func (l *CompactionLogger) Write(v any) error { return l.w.Write(v) }
func (l *CompactionLogger) Close() error      { return l.w.Close() }

// InferenceLogger keeps the compressed raw prompt/response audit
// trail.
type InferenceLogger struct{ w *JSONLZstdWriter }

func NewInferenceLogger(dataDir string) *InferenceLogger {
	return &InferenceLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "logs", "inference"), "inference")}
}

// Entry is one audited inference call.
type Entry struct {
	Tick      int    `json:"tick"`
	Agent     string `json:"agent"`
	Kind      string `json:"kind"` // "tick" or "compaction"
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
	SessionID string `json:"session_id,omitempty"`
	Millis    int64  `json:"ms"`
}

func (l *InferenceLogger) Write(e Entry) error { return l.w.Write(e) }
func (l *InferenceLogger) Close() error        { return l.w.Close() }
