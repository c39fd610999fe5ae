// Package llm provides the chat-completion client used for math-model
// suggestions. The wire protocol is OpenAI-compatible so any gateway
// exposing /v1/chat/completions works; suggestions are advisory and
// always land in LLM-owned columns, never in user-approved ones.
package llm

import (
	"context"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client interface {
	Chat(ctx context.Context, messages []Message, options *SamplingOptions) (*Response, error)
}

type SamplingOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	Seed        int64   `json:"seed"`
}

type Response struct {
	Content string `json:"content"`
}
