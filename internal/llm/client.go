// Package llm provides the generative collaborator interface and its
// Gemini-backed implementation.
package llm

import "context"

// Client defines the minimal interface the pipeline uses to call an LLM.
// Implementations must tolerate prompts that embed prior failed attempts.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
