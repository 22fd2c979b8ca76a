package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"strings"

	"savannah.ai/internal/config"
)

// Claude shells out to the `claude` CLI in headless print mode. It is
// the one backend with real session resumption: --resume continues a
// stored conversation, which is what resumable session mode needs.
type Claude struct {
	model  string
	logger *log.Logger
}

func newClaudeFromConfig(cfg config.Provider, logger *log.Logger) (Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("claude_code provider requires a model")
	}
	return &Claude{model: cfg.Model, logger: logger}, nil
}

func (c *Claude) Name() string { return "claude_code" }

func (c *Claude) Invoke(ctx context.Context, prompt string) (Response, error) {
	return c.run(ctx, nil, prompt)
}

func (c *Claude) InvokeResumable(ctx context.Context, prompt, sessionID string) (Response, error) {
	var pre []string
	if sessionID != "" {
		pre = []string{"--resume", sessionID}
	}
	return c.run(ctx, pre, prompt)
}

func (c *Claude) run(ctx context.Context, pre []string, prompt string) (Response, error) {
	args := append(pre, "-p", prompt, "--output-format", "json", "--model", c.model)
	cmd := exec.CommandContext(ctx, "claude", args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return Response{}, fmt.Errorf("claude cli: %w: %s", err, msg)
	}
	return parseClaudeOutput(stdout.String()), nil
}

// parseClaudeOutput handles both JSON envelopes and raw text output.
func parseClaudeOutput(raw string) Response {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return Response{Text: strings.TrimSpace(raw)}
	}
	resp := Response{Text: raw, Raw: data}
	if s, ok := data["result"].(string); ok {
		resp.Text = s
	}
	if s, ok := data["session_id"].(string); ok {
		resp.SessionID = s
	}
	return resp
}

var _ Resumable = (*Claude)(nil)
