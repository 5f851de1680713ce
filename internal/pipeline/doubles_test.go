package pipeline

import (
	"context"
	"strings"
	"sync"

	"scenesmith/internal/memory"
	"scenesmith/internal/render"
	"scenesmith/internal/research"
)

// fakeLLM routes every completion through fn.
type fakeLLM struct {
	mu    sync.Mutex
	fn    func(prompt string) (string, error)
	calls []string
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	f.mu.Unlock()
	return f.fn(prompt)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeMemory is an in-process FixMemory with the same increment-or-create
// semantics as the real store.
type fakeMemory struct {
	mu       sync.Mutex
	fixes    []memory.FixRecord
	examples []memory.Example
}

func (f *fakeMemory) FindSimilar(_ context.Context, sig memory.Signature, limit int) ([]memory.FixRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []memory.FixRecord
	for _, r := range f.fixes {
		if r.Signature.Category == sig.Category && r.Signature.NormalizedMessage == sig.NormalizedMessage {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMemory) Record(_ context.Context, sig memory.Signature, original, fixed, lesson string, method memory.Method) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.fixes {
		if r.Signature == sig && r.FixedSnippet == fixed {
			f.fixes[i].SuccessCount++
			return nil
		}
	}
	f.fixes = append(f.fixes, memory.FixRecord{
		Signature:       sig,
		OriginalSnippet: original,
		FixedSnippet:    fixed,
		Lesson:          lesson,
		Method:          method,
		SuccessCount:    1,
	})
	return nil
}

func (f *fakeMemory) FindExamples(_ context.Context, _ string, limit int) ([]memory.Example, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.examples) > limit {
		return f.examples[:limit], nil
	}
	return f.examples, nil
}

func (f *fakeMemory) RecordExample(_ context.Context, description, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.examples = append(f.examples, memory.Example{Description: description, Code: code})
	return nil
}

func (f *fakeMemory) recorded() []memory.FixRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]memory.FixRecord(nil), f.fixes...)
}

// fakeSearcher serves canned results and page text.
type fakeSearcher struct {
	results []research.Result
	pages   map[string]string
	queries []string
	mu      sync.Mutex
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]research.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return f.results, nil
}

func (f *fakeSearcher) FetchText(_ context.Context, url string, _ int) (string, error) {
	if text, ok := f.pages[url]; ok {
		return text, nil
	}
	return "", nil
}

// fakeRenderer scripts per-scene outcomes: call k for a scene returns entry
// k of its script, reusing the last entry when the script runs out. A nil
// perScene map scripts every scene identically via fallback.
type fakeRenderer struct {
	mu       sync.Mutex
	fallback []render.Result
	perScene map[int][]render.Result
	counts   map[int]int
	calls    int
}

func (f *fakeRenderer) Render(ctx context.Context, codePath, sceneClass, mediaDir string) (render.Result, error) {
	if ctx.Err() != nil {
		return render.Result{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	n, _ := sceneNumberFromPath(codePath)
	if f.counts == nil {
		f.counts = make(map[int]int)
	}
	idx := f.counts[n]
	f.counts[n]++

	script := f.fallback
	if s, ok := f.perScene[n]; ok {
		script = s
	}
	if idx >= len(script) {
		idx = len(script) - 1
	}
	return script[idx], nil
}

// sceneNumberFromPath parses .../scene_03_attempt_1.py.
func sceneNumberFromPath(path string) (int, bool) {
	i := strings.LastIndex(path, "scene_")
	if i < 0 {
		return 0, false
	}
	rest := path[i+len("scene_"):]
	j := strings.IndexByte(rest, '_')
	if j < 0 {
		return 0, false
	}
	n := 0
	for _, r := range rest[:j] {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// fenced wraps code in the standard response format.
func fenced(code string) string {
	return "```python\n" + code + "\n```"
}
