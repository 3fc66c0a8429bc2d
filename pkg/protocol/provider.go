package protocol

import (
	"context"
	"time"
)

// CompletionRequest is a single prompt-completion request against an AI backend.
type CompletionRequest struct {
	Prompt     string         `json:"prompt"`
	Model      string         `json:"model"`
	Parameters map[string]any `json:"parameters,omitempty"` // Provider-specific (temperature, max_tokens, ...)
}

// CompletionResponse is the normalized response shape all providers produce.
type CompletionResponse struct {
	Text         string        `json:"text"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Cost         float64       `json:"cost"`
	Latency      time.Duration `json:"latency"`
	Model        string        `json:"model"`
}

// TotalTokens returns the combined input and output token count.
func (r *CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Provider wraps one AI backend. Implementations must honor ctx cancellation
// and classify failures as *models.ExecutionError with a provider error kind
// (timeout, rate-limited, transient, auth, invalid-request) so the engine can
// decide retry eligibility.
type Provider interface {
	// Complete issues a single prompt-completion request.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider's identifier, used in routing tables.
	Name() string
}
