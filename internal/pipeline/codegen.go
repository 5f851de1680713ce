package pipeline

import (
	"context"
	"fmt"
	"strings"

	"scenesmith/internal/logging"
)

// Generator produces the first-draft implementation of a scene from its plan.
type Generator struct {
	llm          LLMClient
	store        FixMemory
	extractor    *Extractor
	exampleLimit int
}

// NewGenerator builds a generator. store may be nil when preventive examples
// are disabled.
func NewGenerator(llm LLMClient, store FixMemory, exampleLimit int) *Generator {
	if exampleLimit <= 0 {
		exampleLimit = 2
	}
	return &Generator{
		llm:          llm,
		store:        store,
		extractor:    NewExtractor(llm),
		exampleLimit: exampleLimit,
	}
}

// Generate asks the LLM for scene code and extracts the runnable block. The
// raw response is returned alongside so callers can log or reprocess it.
func (g *Generator) Generate(ctx context.Context, plan string) (code string, raw string, err error) {
	prompt := g.buildPrompt(ctx, plan)

	raw, err = g.llm.Complete(ctx, prompt)
	if err != nil {
		return "", "", fmt.Errorf("generate scene code: %w", err)
	}

	code, err = g.extractor.Extract(ctx, raw)
	if err != nil {
		return "", raw, err
	}
	logging.Codegen("generated %d bytes of scene code", len(code))
	return code, raw, nil
}

// buildPrompt assembles the generation prompt, seeding it with preventive
// examples: past first-draft generations that rendered cleanly on similar
// plans.
func (g *Generator) buildPrompt(ctx context.Context, plan string) string {
	var sb strings.Builder
	sb.WriteString("You are writing a Manim Community scene. Implement the plan below as a single\n")
	sb.WriteString("Python file containing one Scene subclass with a construct method.\n")
	sb.WriteString("Return the code in a single ```python fenced block.\n\n")

	if g.store != nil {
		examples, err := g.store.FindExamples(ctx, planSummary(plan), g.exampleLimit)
		if err != nil {
			logging.CodegenDebug("preventive example lookup failed: %v", err)
		}
		if len(examples) > 0 {
			sb.WriteString("These past scenes rendered successfully; follow their working patterns:\n\n")
			for _, ex := range examples {
				sb.WriteString("# ")
				sb.WriteString(ex.Description)
				sb.WriteString("\n```python\n")
				sb.WriteString(ex.Code)
				sb.WriteString("\n```\n\n")
			}
		}
	}

	sb.WriteString("Scene plan:\n")
	sb.WriteString(plan)
	return sb.String()
}

// planSummary bounds the plan text used as the example-retrieval query.
func planSummary(plan string) string {
	plan = strings.TrimSpace(plan)
	if len(plan) > 200 {
		plan = plan[:200]
	}
	return plan
}
