package provider

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"savannah.ai/internal/config"
	"savannah.ai/internal/sim/parse"
)

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func TestNewValidatesBackendName(t *testing.T) {
	_, err := New(config.Provider{Name: "nope"}, discard())
	if err == nil || !strings.Contains(err.Error(), "unknown provider backend") {
		t.Fatalf("err = %v", err)
	}
}

func TestNewRejectsResumableOllama(t *testing.T) {
	cfg := config.Provider{Name: "local_ollama", Model: "llama3", SessionMode: config.SessionResumable}
	_, err := New(cfg, discard())
	var unsupported *ErrUnsupported
	if !errors.As(err, &unsupported) {
		t.Fatalf("want ErrUnsupported, got %v", err)
	}
	if unsupported.Provider != "local_ollama" {
		t.Fatalf("provider = %q", unsupported.Provider)
	}
}

func TestNewAcceptsResumableMock(t *testing.T) {
	cfg := config.Provider{Name: "mock", SessionMode: config.SessionResumable}
	p, err := New(cfg, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.(Resumable); !ok {
		t.Fatal("mock should be resumable")
	}
}

func TestMockEatsWhenOnFood(t *testing.T) {
	m := NewMock(1)
	prompt := "[Tick 3] You are Amber-Creek.\n" +
		"Energy: 40.0/100.0. Position: (5,5).\n" +
		"VISIBLE:\nFood at (5,5): 30 energy\n"
	resp, err := m.Invoke(context.Background(), prompt)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	a := parse.Parse(resp.Text)
	if a.Name != parse.ActionEat {
		t.Fatalf("action = %s, want eat (response %q)", a.Name, resp.Text)
	}
}

func TestMockMovesTowardFood(t *testing.T) {
	m := NewMock(1)
	prompt := "[Tick 3] You are Amber-Creek.\n" +
		"Energy: 40.0/100.0. Position: (5,5).\n" +
		"VISIBLE:\nFood at (8,5): 30 energy\n"
	resp, _ := m.Invoke(context.Background(), prompt)
	a := parse.Parse(resp.Text)
	if a.Name != parse.ActionMove || a.Arg != "e" {
		t.Fatalf("got %s(%s), want move(e)", a.Name, a.Arg)
	}
}

func TestMockResumableKeepsSession(t *testing.T) {
	m := NewMock(1)
	resp, err := m.InvokeResumable(context.Background(), "[Tick 1] You are A.\n", "sess-9")
	if err != nil {
		t.Fatalf("InvokeResumable: %v", err)
	}
	if resp.SessionID != "sess-9" {
		t.Fatalf("session = %q", resp.SessionID)
	}
	resp, _ = m.InvokeResumable(context.Background(), "[Tick 1] You are A.\n", "")
	if resp.SessionID == "" {
		t.Fatal("expected a session id for a fresh resumable call")
	}
}

type flaky struct {
	fails int32
}

func (f *flaky) Name() string { return "flaky" }

func (f *flaky) Invoke(_ context.Context, _ string) (Response, error) {
	if atomic.AddInt32(&f.fails, -1) >= 0 {
		return Response{}, errors.New("transient")
	}
	return Response{Text: "ACTION: rest"}, nil
}

func TestRetrierRecoversFromTransientFailure(t *testing.T) {
	cfg := config.Provider{RetryMax: 3, RetryBackoffMs: 1}
	r := NewRetrier(&flaky{fails: 2}, cfg, discard())
	resp, err := r.Invoke(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Text != "ACTION: rest" {
		t.Fatalf("text = %q", resp.Text)
	}
}

func TestRetrierFallsBackToRest(t *testing.T) {
	cfg := config.Provider{RetryMax: 2, RetryBackoffMs: 1}
	r := NewRetrier(&flaky{fails: 100}, cfg, discard())
	resp, err := r.Invoke(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("fallback should not error, got %v", err)
	}
	a := parse.Parse(resp.Text)
	if a.Name != parse.ActionRest {
		t.Fatalf("fallback action = %s, want rest", a.Name)
	}
}

func TestOllamaInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{"response":"ACTION: move(n)\n","done":true}`)
	}))
	defer srv.Close()

	p, err := New(config.Provider{Name: "local_ollama", Model: "llama3", BaseURL: srv.URL}, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Invoke(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Text != "ACTION: move(n)" {
		t.Fatalf("text = %q", resp.Text)
	}
}

func TestParseClaudeOutput(t *testing.T) {
	r := parseClaudeOutput(`{"result":"ACTION: eat","session_id":"abc"}`)
	if r.Text != "ACTION: eat" || r.SessionID != "abc" {
		t.Fatalf("parsed %+v", r)
	}
	r = parseClaudeOutput("plain text output\n")
	if r.Text != "plain text output" || r.SessionID != "" {
		t.Fatalf("parsed %+v", r)
	}
}

func TestOllamaMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"response": truncated`)
	}))
	defer srv.Close()

	p, err := New(config.Provider{Name: "local_ollama", Model: "llama3", BaseURL: srv.URL}, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Invoke(context.Background(), "prompt")
	if err == nil || !strings.Contains(err.Error(), "decode ollama response") {
		t.Fatalf("err = %v, want decode error", err)
	}
}
