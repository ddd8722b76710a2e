package llm

import "context"

// Context is the conversation handed to a provider.
type Context struct {
	Messages []map[string]any
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
}

// Delta is one piece of streamed text. A Delta carrying Err is the last value
// on its channel and means the response did not complete.
type Delta struct {
	Text string
	Err  error
}

// Adapter is a text generation provider. Stream yields content deltas in
// generation order and closes the channel when the response is complete.
// A broken stream ends with an error Delta instead.
type Adapter interface {
	Generate(ctx context.Context, input Context) (Response, error)
	Stream(ctx context.Context, input Context) (<-chan Delta, error)
	Name() string
}

// SystemMessage builds a system role message.
func SystemMessage(content string) map[string]any {
	return map[string]any{"role": "system", "content": content}
}

// UserMessage builds a user role message.
func UserMessage(content string) map[string]any {
	return map[string]any{"role": "user", "content": content}
}
