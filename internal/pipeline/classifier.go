package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"scenesmith/internal/memory"
)

// Classifier turns raw renderer diagnostics plus the failing code into a
// normalized signature. It is pure and deterministic: identical inputs
// always yield identical signatures, which memory dedup depends on.
type Classifier struct {
	contextWindow int
}

// NewClassifier builds a classifier with the given context window: the
// number of code lines kept on each side of the error line when digesting.
func NewClassifier(contextWindow int) *Classifier {
	if contextWindow <= 0 {
		contextWindow = 5
	}
	return &Classifier{contextWindow: contextWindow}
}

var (
	absPathPattern   = regexp.MustCompile(`(?:[A-Za-z]:)?(?:/[\w.\- ]+){2,}`)
	memAddrPattern   = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?`)
	lineNumPattern   = regexp.MustCompile(`(?i)line[ :]+\d+`)
	objectIDPattern  = regexp.MustCompile(`\bat \d+\b|\bid=\d+\b`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// Ordered category patterns. Timeout first: a timed-out render often drags
// half a traceback with it and must not be mistaken for an API error.
var categoryPatterns = []struct {
	category memory.Category
	pattern  *regexp.Regexp
}{
	{memory.CategoryTimeout, regexp.MustCompile(`(?i)rendertimeout|timed? ?out|deadline exceeded|signal: killed`)},
	{memory.CategoryRuntimeAPI, regexp.MustCompile(`(?i)attributeerror|typeerror|nameerror|valueerror|keyerror|indexerror|importerror|modulenotfounderror|unexpected keyword argument|got unexpected arguments|is not defined|has no attribute|cannot import name|object is not|missing \d+ required`)},
	{memory.CategorySyntax, regexp.MustCompile(`(?i)syntaxerror|indentationerror|taberror|invalid syntax|unexpected indent|unexpected eof|unterminated string`)},
}

// Classify builds the signature for one failure.
func (c *Classifier) Classify(errorText, failingCode string) memory.Signature {
	return memory.Signature{
		Category:          categorize(errorText),
		NormalizedMessage: normalizeMessage(errorText),
		ContextDigest:     c.contextDigest(failingCode),
	}
}

func categorize(errorText string) memory.Category {
	for _, cp := range categoryPatterns {
		if cp.pattern.MatchString(errorText) {
			return cp.category
		}
	}
	return memory.CategoryUnknown
}

// normalizeMessage strips volatile tokens so that reruns of the same logical
// failure normalize to the same string. The message is reduced to the last
// meaningful error line: tracebacks vary in depth between runs even when the
// root cause is identical.
func normalizeMessage(errorText string) string {
	line := finalErrorLine(errorText)
	line = timestampPattern.ReplaceAllString(line, "<ts>")
	line = absPathPattern.ReplaceAllString(line, "<path>")
	line = memAddrPattern.ReplaceAllString(line, "<addr>")
	line = lineNumPattern.ReplaceAllString(line, "line <n>")
	line = objectIDPattern.ReplaceAllString(line, "<id>")
	line = whitespaceRun.ReplaceAllString(line, " ")
	return strings.ToLower(strings.TrimSpace(line))
}

// finalErrorLine returns the last line that names an error. Python puts the
// exception at the bottom of the traceback.
func finalErrorLine(errorText string) string {
	lines := strings.Split(errorText, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if l == "" {
			continue
		}
		lower := strings.ToLower(l)
		if strings.Contains(lower, "error") || strings.Contains(lower, "exception") ||
			strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") {
			return l
		}
	}
	// No recognizable error line: use the whole text.
	return errorText
}

// contextDigest hashes a bounded window of the failing code. The window is a
// pure function of the code, never of the error text: reported line numbers
// move between runs of the same logical failure, and a digest keyed on them
// would defeat memory dedup. Scene code builds bottom-up, so the tail window
// sits nearest the typical error site.
func (c *Classifier) contextDigest(failingCode string) string {
	lines := strings.Split(failingCode, "\n")
	if max := 4 * c.contextWindow; len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	normalized := make([]string, len(lines))
	for i, l := range lines {
		normalized[i] = strings.TrimRight(l, " \t")
	}
	sum := sha256.Sum256([]byte(strings.Join(normalized, "\n")))
	return hex.EncodeToString(sum[:8])
}
