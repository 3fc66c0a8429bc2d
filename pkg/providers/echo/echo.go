// Package echo implements a local provider that returns the resolved prompt
// as the completion text. It backs development and demo deployments where no
// real AI backend is configured.
package echo

import (
	"context"
	"strings"

	"github.com/flowgrid/flowgrid/pkg/protocol"
)

// Provider echoes prompts back. Token counts are whitespace word counts and
// calls are free, so executions still produce plausible usage numbers.
type Provider struct{}

// NewProvider creates an echo provider.
func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string {
	return "echo"
}

func (p *Provider) Complete(ctx context.Context, req *protocol.CompletionRequest) (*protocol.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := len(strings.Fields(req.Prompt))

	return &protocol.CompletionResponse{
		Text:         req.Prompt,
		InputTokens:  tokens,
		OutputTokens: tokens,
		Model:        req.Model,
	}, nil
}
