package pipeline

import (
	"context"
	"regexp"
	"strings"

	"scenesmith/internal/logging"
)

// ExtractionError reports that no strategy recovered usable code from a
// model response.
type ExtractionError struct {
	Tried int
}

func (e *ExtractionError) Error() string {
	return "no code block could be extracted from response"
}

var (
	strictFencePattern  = regexp.MustCompile("(?s)```python\\n(.*?)\\n```")
	relaxedFencePattern = regexp.MustCompile("(?s)```python\\s*(.*?)```")
	anyFencePattern     = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\s*\\n?(.*?)```")
	fenceMarkerPattern  = regexp.MustCompile("(?m)^\\s*```[a-zA-Z0-9]*\\s*$")
)

// Code structure markers: a renderable unit must at least define something.
var structureMarkers = []string{"class ", "def ", "import ", "from "}

const minCodeLength = 40

// Extractor recovers a runnable code unit from free-form model text. The
// strategies run in a fixed order, first acceptable result wins, and the
// reformat round-trip runs at most once so extraction always terminates.
type Extractor struct {
	llm LLMClient
}

// NewExtractor builds an extractor. llm is only used for the reformat
// round-trip and may be nil, which simply skips that strategy.
func NewExtractor(llm LLMClient) *Extractor {
	return &Extractor{llm: llm}
}

// Extract runs the strategy ladder over raw.
func (e *Extractor) Extract(ctx context.Context, raw string) (string, error) {
	if code, ok := e.extractStatic(raw); ok {
		return code, nil
	}

	// One reformat round-trip, then the static ladder again.
	if e.llm != nil {
		reformatted, err := e.llm.Complete(ctx, reformatPrompt(raw))
		if err != nil {
			logging.CodegenDebug("reformat round-trip failed: %v", err)
		} else if code, ok := e.extractStatic(reformatted); ok {
			logging.Codegen("code recovered via reformat round-trip")
			return code, nil
		}
	}

	// Last resort: strip residual fence markers and accept the remainder if
	// it still looks like code.
	stripped := strings.TrimSpace(fenceMarkerPattern.ReplaceAllString(raw, ""))
	if acceptable(stripped) {
		logging.Codegen("code recovered by stripping residual fences")
		return stripped, nil
	}

	return "", &ExtractionError{Tried: 6}
}

// extractStatic tries the four non-LLM strategies in order.
func (e *Extractor) extractStatic(raw string) (string, bool) {
	for _, pat := range []*regexp.Regexp{strictFencePattern, relaxedFencePattern, anyFencePattern} {
		if m := pat.FindStringSubmatch(raw); m != nil {
			if code := strings.TrimSpace(m[1]); acceptable(code) {
				return code, true
			}
		}
	}
	if code := scanCodeLines(raw); acceptable(code) {
		return code, true
	}
	return "", false
}

// scanCodeLines accumulates lines that look like code: import or definition
// statements, anything indented under them, and anything between fence
// markers.
func scanCodeLines(raw string) string {
	var sb strings.Builder
	inFence := false
	inCode := false

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			sb.WriteString(line)
			sb.WriteString("\n")
			continue
		}

		looksLikeCode := strings.HasPrefix(trimmed, "import ") ||
			strings.HasPrefix(trimmed, "from ") ||
			strings.HasPrefix(trimmed, "class ") ||
			strings.HasPrefix(trimmed, "def ") ||
			strings.HasPrefix(trimmed, "@")

		switch {
		case looksLikeCode:
			inCode = true
			sb.WriteString(line)
			sb.WriteString("\n")
		case inCode && (trimmed == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")):
			// Continuation of the current block.
			sb.WriteString(line)
			sb.WriteString("\n")
		default:
			inCode = false
		}
	}
	return strings.TrimSpace(sb.String())
}

// acceptable is the minimum-length and minimum-structure heuristic every
// strategy's output must pass.
func acceptable(code string) bool {
	if len(code) < minCodeLength {
		return false
	}
	for _, marker := range structureMarkers {
		if strings.Contains(code, marker) {
			return true
		}
	}
	return false
}

func reformatPrompt(raw string) string {
	var sb strings.Builder
	sb.WriteString("Reformat your previous response into a single fenced Python code block.\n")
	sb.WriteString("Return the exact same code, no edits, no commentary, in this form:\n")
	sb.WriteString("```python\n<code>\n```\n\nPrevious response:\n")
	sb.WriteString(raw)
	return sb.String()
}
