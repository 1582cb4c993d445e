package providers

import "context"

type ChatRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Text string
}

// Provider produces a reply for a single prompt. Implementations report
// every failure as an error and never retry.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}
