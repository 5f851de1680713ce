package pipeline

import (
	"context"
	"fmt"
	"strings"

	"scenesmith/internal/memory"
)

// fixGenerator is the generative core shared by the memory-seeded,
// web-seeded and unseeded tiers: one prompt carrying the failing code, the
// error, and whatever seed context the tier provides.
type fixGenerator struct {
	llm       LLMClient
	extractor *Extractor
}

const lessonMarker = "# LESSON:"

func (g *fixGenerator) generate(ctx context.Context, in ResolveInput, hits []memory.FixRecord, webHint string) (*CandidateFix, error) {
	prompt := buildFixPrompt(in, hits, webHint)

	raw, err := g.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate fix: %w", err)
	}

	code, err := g.extractor.Extract(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("extract fix: %w", err)
	}

	code, lesson := splitLesson(code)
	return &CandidateFix{Code: code, Lesson: lesson}, nil
}

func buildFixPrompt(in ResolveInput, hits []memory.FixRecord, webHint string) string {
	var sb strings.Builder
	sb.WriteString("The following Manim scene code failed to render. Fix it.\n")
	sb.WriteString("Return the complete corrected file in a single ```python fenced block.\n")
	sb.WriteString("As the first line inside the block, add a comment of the form\n")
	sb.WriteString("'# LESSON: <one sentence takeaway>' describing what was wrong.\n\n")

	sb.WriteString("Error (category ")
	sb.WriteString(in.Signature.Category.String())
	sb.WriteString("):\n")
	sb.WriteString(in.ErrorText)
	sb.WriteString("\n\n")

	if len(hits) > 0 {
		sb.WriteString("Previously successful fixes for similar errors:\n\n")
		for i, h := range hits {
			sb.WriteString(fmt.Sprintf("--- fix %d (applied successfully %d time(s)) ---\n", i+1, h.SuccessCount))
			if h.Lesson != "" {
				sb.WriteString("Lesson: ")
				sb.WriteString(h.Lesson)
				sb.WriteString("\n")
			}
			sb.WriteString("Fixed code:\n")
			sb.WriteString(h.FixedSnippet)
			sb.WriteString("\n\n")
		}
	}

	if webHint != "" {
		sb.WriteString("Relevant documentation found for this error. Ground the fix in it:\n")
		sb.WriteString(webHint)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Failing code:\n```python\n")
	sb.WriteString(in.Code)
	sb.WriteString("\n```\n")
	return sb.String()
}

// splitLesson pulls the lesson comment out of generated code. The lesson is
// metadata for the memory store, not part of the scene.
func splitLesson(code string) (string, string) {
	lines := strings.Split(code, "\n")
	for i, l := range lines {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, lessonMarker) {
			lesson := strings.TrimSpace(strings.TrimPrefix(trimmed, lessonMarker))
			return strings.TrimSpace(strings.Join(append(lines[:i:i], lines[i+1:]...), "\n")), lesson
		}
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			break
		}
	}
	return code, ""
}
