// Package llm defines the LLM boundary used by the media pipeline's llm
// node and the post-call pipeline's insight-extraction step.
//
// Vendor SDKs for the room-provider, STT, and TTS services are explicitly
// out of scope; the LLM call itself is in scope because both the dialogue
// node and the insight/summary steps are core operations (§4.2, §4.4), so
// a concrete anthropic-sdk-go adapter is provided alongside the interface.
package llm

import "context"

// Message is one turn in a conversation passed to Complete.
type Message struct {
	Role    string // "user" | "assistant"
	Content string
}

// CompletionRequest is a single, non-streaming completion call.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSONMode requests a response that can be parsed as JSON, used by the
	// insight-extraction step (§4.4 step 3).
	JSONMode bool
}

// Usage reports token accounting for one completion, consumed by the
// metrics-tap pipeline node and the post-call pipeline's cost recording.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the result of one Complete call.
type CompletionResponse struct {
	Text    string
	Usage   Usage
	TraceID string
}

// Client is the boundary the rest of PailFlow depends on; the concrete
// implementation is AnthropicClient, but tests substitute a stub.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
