package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleScene = `from manim import *

class DemoScene(Scene):
    def construct(self):
        self.play(Create(Circle()))`

func TestExtractStrictFenceRoundTrip(t *testing.T) {
	e := NewExtractor(nil)
	raw := "Here is the scene:\n\n```python\n" + sampleScene + "\n```\n\nHope this helps!"

	code, err := e.Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, sampleScene, code, "extraction must return exactly the wrapped content")
}

func TestExtractRelaxedFence(t *testing.T) {
	e := NewExtractor(nil)
	raw := "```python " + sampleScene + "```"

	code, err := e.Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Contains(t, code, "class DemoScene")
	assert.NotContains(t, code, "```")
}

func TestExtractAnyLanguageFence(t *testing.T) {
	e := NewExtractor(nil)
	raw := "```py\n" + sampleScene + "\n```"

	code, err := e.Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Contains(t, code, "def construct")
}

func TestExtractHeuristicLineScan(t *testing.T) {
	e := NewExtractor(nil)
	raw := "Sure! The imports come first.\n" + sampleScene + "\nLet me know if you need changes."

	code, err := e.Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Contains(t, code, "from manim import *")
	assert.Contains(t, code, "def construct")
	assert.NotContains(t, code, "Let me know")
}

func TestExtractReformatRoundTripOnce(t *testing.T) {
	calls := 0
	llm := &fakeLLM{fn: func(prompt string) (string, error) {
		calls++
		return "```python\n" + sampleScene + "\n```", nil
	}}
	e := NewExtractor(llm)

	// Nothing extractable statically: prose only.
	code, err := e.Extract(context.Background(), "I am unable to write that code in this format, sorry about that response.")
	require.NoError(t, err)
	assert.Contains(t, code, "class DemoScene")
	assert.Equal(t, 1, calls, "reformat round-trip runs at most once")
}

func TestExtractUnbalancedFence(t *testing.T) {
	e := NewExtractor(nil)

	// No closing marker: the fence patterns cannot match, the line scan
	// picks up everything after the opening fence.
	raw := "```python\n" + sampleScene
	code, err := e.Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Contains(t, code, "class DemoScene")
	assert.NotContains(t, code, "```")
}

func TestExtractResidualFallbackAfterReformatFails(t *testing.T) {
	llm := &fakeLLM{fn: func(string) (string, error) {
		return "", errors.New("model unavailable")
	}}
	e := NewExtractor(llm)

	// One long expression line: no fences, no statement the line scan
	// recognizes, but enough structure for the final accept-verbatim pass.
	raw := "result = build_stage(); # reuses class StageScene helpers from manim"
	code, err := e.Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, raw, code)
}

func TestExtractFailureWhenNothingLooksLikeCode(t *testing.T) {
	e := NewExtractor(nil)
	_, err := e.Extract(context.Background(), "no code here at all, just a refusal message of sorts")
	var exErr *ExtractionError
	require.ErrorAs(t, err, &exErr)
}

func TestExtractRejectsTooShortContent(t *testing.T) {
	e := NewExtractor(nil)
	_, err := e.Extract(context.Background(), "```python\nx = 1\n```")
	assert.Error(t, err, "content below the structure heuristic is an extraction failure")
}
