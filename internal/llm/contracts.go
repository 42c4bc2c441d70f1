package llm

import "context"

// Request is one JSON-mode completion: a system message, a user prompt, and the schema the
// returned object must satisfy.
type Request struct {
	Model  string
	System string
	Prompt string
	// Schema is also validated locally by Decode; providers may embed it in the request.
	Schema map[string]any
	// Stage labels the call in logs and metrics ("extract.single", "extract.chunk", "classify").
	Stage string
}

// Completer is the model collaborator the pipeline depends on. It returns the raw JSON
// object produced by the model.
type Completer interface {
	Complete(ctx context.Context, req Request) ([]byte, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) ([]byte, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}
