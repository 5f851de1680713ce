package pipeline

import (
	"context"
	"fmt"
	"strings"

	"scenesmith/internal/memory"
	"scenesmith/internal/render"
	"scenesmith/internal/research"
)

// Collaborator interfaces are declared here, at the consumer, so the
// pipeline can be exercised end to end with test doubles.

// LLMClient is the generative collaborator. Prompts may embed prior failed
// attempts; implementations must tolerate arbitrary prompt content.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// FixMemory is the durable error-fix store shared across scenes and videos.
type FixMemory interface {
	FindSimilar(ctx context.Context, sig memory.Signature, limit int) ([]memory.FixRecord, error)
	Record(ctx context.Context, sig memory.Signature, original, fixed, lesson string, method memory.Method) error
	FindExamples(ctx context.Context, description string, limit int) ([]memory.Example, error)
	RecordExample(ctx context.Context, description, code string) error
}

// Searcher finds candidate solution pages for an error.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]research.Result, error)
	FetchText(ctx context.Context, pageURL string, maxLen int) (string, error)
}

// Renderer runs scene code through the external rendering collaborator.
type Renderer interface {
	Render(ctx context.Context, codePath, sceneClass, mediaDir string) (render.Result, error)
}

// PlanProvider supplies the opaque scene plan text owned by the planning
// collaborator.
type PlanProvider interface {
	GetScenePlan(ctx context.Context, videoID string, sceneNumber int) (string, error)
}

// LoadScenes pulls plans for scenes 1..count from the provider and returns
// them as Planned scenes ready for ProcessVideo.
func LoadScenes(ctx context.Context, provider PlanProvider, videoID string, count int) ([]*Scene, error) {
	if count < 1 {
		return nil, fmt.Errorf("scene count must be >= 1, got %d", count)
	}
	scenes := make([]*Scene, 0, count)
	for n := 1; n <= count; n++ {
		plan, err := provider.GetScenePlan(ctx, videoID, n)
		if err != nil {
			return nil, fmt.Errorf("plan for scene %d: %w", n, err)
		}
		if strings.TrimSpace(plan) == "" {
			return nil, fmt.Errorf("plan for scene %d is empty", n)
		}
		scenes = append(scenes, NewScene(n, plan))
	}
	return scenes, nil
}
