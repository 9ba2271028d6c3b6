// Package providers wraps OpenAI-compatible chat completion APIs for the
// ai_reply automation action.
package providers

import "context"

// ChatMessage is one turn of conversation context.
type ChatMessage struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatRequest is a completion request. Model may be empty to use the
// provider default.
type ChatRequest struct {
	Model    string
	Messages []ChatMessage
}

// ChatResponse is the assistant's reply.
type ChatResponse struct {
	Content      string
	FinishReason string
}

// Provider is a chat completion backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
