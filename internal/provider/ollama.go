package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"savannah.ai/internal/config"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama talks to a local ollama server. Stateless only: the chat
// endpoint keeps no server-side session, so resumable mode is rejected
// at startup by the registry capability check.
type Ollama struct {
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
	logger      *log.Logger
}

func newOllamaFromConfig(cfg config.Provider, logger *log.Logger) (Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("local_ollama provider requires a model")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultOllamaURL
	}
	return &Ollama{
		baseURL:     strings.TrimRight(base, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		client:      &http.Client{},
		logger:      logger,
	}, nil
}

func (o *Ollama) Name() string { return "local_ollama" }

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (o *Ollama) Invoke(ctx context.Context, prompt string) (Response, error) {
	reqBody := ollamaRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
	}
	if o.temperature > 0 {
		reqBody.Options = map[string]any{"temperature": o.temperature}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("encode ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out ollamaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, fmt.Errorf("decode ollama response: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Response{}, fmt.Errorf("decode ollama response: %w", err)
	}
	return Response{Text: strings.TrimSpace(out.Response), Raw: raw}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
