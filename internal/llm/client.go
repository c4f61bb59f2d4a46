// Package llm is the model boundary of the chat engine: a provider-neutral
// request type and event stream, plus the Anthropic implementation.
package llm

import "context"

// Client calls the model. The returned stream must be closed by the caller.
// Non-streaming implementations replay their response as a synthetic event
// sequence so both paths are consumed the same way.
type Client interface {
	CreateResponse(ctx context.Context, req Request) (EventStream, error)
}
