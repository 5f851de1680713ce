package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The GenAI engine must satisfy Engine against the pinned SDK surface.
var _ Engine = (*GenAIEngine)(nil)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a, b    []float32
		want    float64
		wantErr bool
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1.0},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0.0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1.0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0.0},
		{name: "empty", a: nil, b: []float32{1}, wantErr: true},
		{name: "dimension mismatch", a: []float32{1, 2}, b: []float32{1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestNewGenAIEngineRequiresKey(t *testing.T) {
	_, err := NewGenAIEngine(context.Background(), "", "gemini-embedding-001")
	require.Error(t, err)
}

func TestGenAIEngineName(t *testing.T) {
	e := &GenAIEngine{model: "gemini-embedding-001"}
	assert.Equal(t, "genai:gemini-embedding-001", e.Name())
}
