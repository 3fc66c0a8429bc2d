// Package testutil provides test data builders and deterministic stubs for testing.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/flowgrid/flowgrid/pkg/models"
	"github.com/flowgrid/flowgrid/pkg/protocol"
)

// StubProvider is a deterministic in-process provider for tests. By default it
// echoes the prompt back; scripted responses and errors can be queued per call.
type StubProvider struct {
	ProviderName string
	CostPerCall  float64

	mu      sync.Mutex
	script  []stubStep
	calls   int
	prompts []string
}

type stubStep struct {
	text string
	err  error
}

// NewStubProvider creates an echo provider named "stub".
func NewStubProvider() *StubProvider {
	return &StubProvider{ProviderName: "stub", CostPerCall: 0.001}
}

// Respond queues a scripted completion text for the next unserved call.
func (p *StubProvider) Respond(text string) *StubProvider {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.script = append(p.script, stubStep{text: text})

	return p
}

// Fail queues a classified error for the next unserved call.
func (p *StubProvider) Fail(kind models.ErrorKind, message string) *StubProvider {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.script = append(p.script, stubStep{err: models.NewExecutionError(kind, message)})

	return p
}

// Calls returns how many completion requests the provider served.
func (p *StubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.calls
}

// Prompts returns every prompt received, in call order.
func (p *StubProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.prompts...)
}

func (p *StubProvider) Name() string {
	return p.ProviderName
}

func (p *StubProvider) Complete(ctx context.Context, req *protocol.CompletionRequest) (*protocol.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()

	step := stubStep{text: req.Prompt}
	if p.calls < len(p.script) {
		step = p.script[p.calls]
	}

	p.calls++
	p.prompts = append(p.prompts, req.Prompt)
	p.mu.Unlock()

	if step.err != nil {
		return nil, step.err
	}

	inputTokens := len(strings.Fields(req.Prompt))
	outputTokens := len(strings.Fields(step.text))

	return &protocol.CompletionResponse{
		Text:         step.text,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         p.CostPerCall,
		Model:        req.Model,
	}, nil
}
