// Package provider abstracts inference backends behind a small
// interface. Providers are stateless by default; backends that can
// carry a conversation across calls additionally implement Resumable.
package provider

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"

	"savannah.ai/internal/config"
)

// Response is the normalized result of one inference call.
type Response struct {
	Text      string         `json:"text"`
	SessionID string         `json:"session_id,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`

	// Fallback marks the synthetic rest response substituted after
	// retries were exhausted.
	Fallback bool `json:"fallback,omitempty"`
}

// Provider performs stateless single-shot inference.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, prompt string) (Response, error)
}

// Resumable is the optional capability of carrying a session across
// calls. InvokeResumable with an empty sessionID starts a new session.
type Resumable interface {
	Provider
	InvokeResumable(ctx context.Context, prompt, sessionID string) (Response, error)
}

// ErrUnsupported reports a provider/session-mode combination rejected
// at startup, before any tick runs.
type ErrUnsupported struct {
	Provider string
	Mode     string
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("provider %q does not support session mode %q", e.Provider, e.Mode)
}

type factory func(cfg config.Provider, logger *log.Logger) (Provider, error)

var registry = map[string]factory{
	"mock":         newMockFromConfig,
	"claude_code":  newClaudeFromConfig,
	"local_ollama": newOllamaFromConfig,
}

// Names returns the registered backend names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New builds the configured provider and validates that it supports
// the configured session mode.
func New(cfg config.Provider, logger *log.Logger) (Provider, error) {
	f, ok := registry[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("unknown provider backend %q (have %v)", cfg.Name, Names())
	}
	p, err := f(cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.SessionMode == config.SessionResumable {
		if _, ok := p.(Resumable); !ok {
			return nil, &ErrUnsupported{Provider: cfg.Name, Mode: cfg.SessionMode}
		}
	}
	return p, nil
}

// fallbackRest is returned after retries are exhausted so the agent
// degrades to an explicit rest rather than aborting the tick.
var fallbackRest = Response{Text: "ACTION: rest\nREASONING: (inference unavailable)", Fallback: true}

// Retrier wraps a provider with per-call timeout and exponential
// backoff. Exhausted retries yield the rest fallback, never an error
// that would stall the tick barrier.
type Retrier struct {
	inner    Provider
	timeout  time.Duration
	maxTries uint
	initial  time.Duration
	logger   *log.Logger
}

// NewRetrier wraps p using the retry budget from cfg.
func NewRetrier(p Provider, cfg config.Provider, logger *log.Logger) *Retrier {
	tries := cfg.RetryMax
	if tries < 1 {
		tries = 1
	}
	return &Retrier{
		inner:    p,
		initial:  time.Duration(cfg.RetryBackoffMs) * time.Millisecond,
		timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		maxTries: uint(tries),
		logger:   logger,
	}
}

func (r *Retrier) Name() string { return r.inner.Name() }

func (r *Retrier) Invoke(ctx context.Context, prompt string) (Response, error) {
	return r.attempt(ctx, func(callCtx context.Context) (Response, error) {
		return r.inner.Invoke(callCtx, prompt)
	})
}

func (r *Retrier) InvokeResumable(ctx context.Context, prompt, sessionID string) (Response, error) {
	res, ok := r.inner.(Resumable)
	if !ok {
		return Response{}, &ErrUnsupported{Provider: r.inner.Name(), Mode: config.SessionResumable}
	}
	return r.attempt(ctx, func(callCtx context.Context) (Response, error) {
		return res.InvokeResumable(callCtx, prompt, sessionID)
	})
}

func (r *Retrier) attempt(ctx context.Context, call func(context.Context) (Response, error)) (Response, error) {
	op := func() (Response, error) {
		callCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		resp, err := call(callCtx)
		if err != nil {
			r.logger.Printf("inference attempt failed: %v", err)
			return Response{}, err
		}
		return resp, nil
	}
	bo := backoff.NewExponentialBackOff()
	if r.initial > 0 {
		bo.InitialInterval = r.initial
	}
	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(r.maxTries),
	)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		r.logger.Printf("inference retries exhausted, falling back to rest: %v", err)
		return fallbackRest, nil
	}
	return resp, nil
}
