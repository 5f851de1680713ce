package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"scenesmith/internal/memory"
)

func TestClassifyCategories(t *testing.T) {
	c := NewClassifier(5)

	tests := []struct {
		name  string
		text  string
		want  memory.Category
	}{
		{"timeout marker", "RenderTimeout: render exceeded 10m0s and was killed", memory.CategoryTimeout},
		{"attribute error", "AttributeError: 'Circle' object has no attribute 'get_center_point'", memory.CategoryRuntimeAPI},
		{"unexpected args", "TypeError: Line([p1, p2]) got unexpected arguments", memory.CategoryRuntimeAPI},
		{"syntax error", "SyntaxError: invalid syntax", memory.CategorySyntax},
		{"indentation", "IndentationError: unexpected indent", memory.CategorySyntax},
		{"unrecognized", "something completely different happened", memory.CategoryUnknown},
		{"timeout beats traceback", "Traceback (most recent call last):\n  TypeError: x\nrender timed out", memory.CategoryTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := c.Classify(tt.text, "class S(Scene):\n    def construct(self): pass")
			assert.Equal(t, tt.want, sig.Category)
		})
	}
}

func TestClassifyVolatileTokenInvariance(t *testing.T) {
	c := NewClassifier(5)
	code := "from manim import *\nclass S(Scene):\n    def construct(self):\n        Line([LEFT, RIGHT])\n"

	a := c.Classify(
		"2026-08-27 10:15:01 ERROR File \"/tmp/run1/scene.py\", line 4\nAttributeError: 'Line' object at 0x7f3a has no attribute 'stretch_to'",
		code)
	b := c.Classify(
		"2026-08-28 22:03:59 ERROR File \"/var/jobs/x9/scene.py\", line 17\nAttributeError: 'Line' object at 0x55e1 has no attribute 'stretch_to'",
		code)

	assert.Equal(t, a, b, "line numbers, timestamps, paths and addresses must not change the signature")
}

func TestClassifyDeterministic(t *testing.T) {
	c := NewClassifier(5)
	text := "TypeError: got unexpected arguments"
	code := "class S(Scene):\n    def construct(self):\n        pass"

	first := c.Classify(text, code)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Classify(text, code))
	}
}

func TestClassifyDigestTracksCode(t *testing.T) {
	c := NewClassifier(5)
	text := "TypeError: boom"

	a := c.Classify(text, "class A(Scene):\n    def construct(self): pass")
	b := c.Classify(text, "class B(Scene):\n    def construct(self): pass")

	assert.Equal(t, a.NormalizedMessage, b.NormalizedMessage)
	assert.NotEqual(t, a.ContextDigest, b.ContextDigest)
}

func TestNormalizeMessagePicksFinalErrorLine(t *testing.T) {
	c := NewClassifier(5)
	sig := c.Classify(
		"Traceback (most recent call last):\n  File \"scene.py\", line 9, in construct\n    self.play(x)\nNameError: name 'ShowCreation' is not defined",
		"code")
	assert.Contains(t, sig.NormalizedMessage, "nameerror")
	assert.Contains(t, sig.NormalizedMessage, "showcreation")
	assert.NotContains(t, sig.NormalizedMessage, "traceback")
}
