package pipeline

import (
	"context"
	"fmt"
	"strings"

	"scenesmith/internal/logging"
	"scenesmith/internal/memory"
	"scenesmith/internal/research"
)

// CandidateFix is a proposed replacement for failing scene code. Correctness
// is only established by the next render attempt.
type CandidateFix struct {
	Code   string
	Method memory.Method
	Lesson string
	Rule   string
}

// ResolveInput is what every tier sees: the classified signature plus the
// raw error and code it was derived from.
type ResolveInput struct {
	Signature memory.Signature
	ErrorText string
	Code      string
}

// Resolver is one tier of the fix chain. Returning (nil, nil) means the tier
// does not apply and the chain escalates; an error aborts only that tier.
type Resolver interface {
	Name() string
	TryResolve(ctx context.Context, in ResolveInput) (*CandidateFix, error)
}

// ExhaustedError reports that every tier failed to produce a candidate.
type ExhaustedError struct {
	Signature memory.Signature
	Tiers     []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("fix chain exhausted for %s after tiers: %s",
		e.Signature, strings.Join(e.Tiers, ", "))
}

// Chain runs the ordered resolution tiers: auto rules, memory-seeded
// generation, web-seeded generation, unseeded generation. No tier is ever
// skipped; the first candidate wins.
type Chain struct {
	classifier *Classifier
	resolvers  []Resolver
}

// NewChain assembles the standard tier ordering. searcher may be nil, which
// turns the web tier into a no-op that escalates immediately.
func NewChain(classifier *Classifier, auto *AutoFixer, userRules *RulesWatcher,
	store FixMemory, searcher Searcher, llm LLMClient, memoryHitLimit int) *Chain {

	gen := &fixGenerator{llm: llm, extractor: NewExtractor(llm)}
	return &Chain{
		classifier: classifier,
		resolvers: []Resolver{
			&autoResolver{fixer: auto, userRules: userRules},
			&memoryResolver{store: store, gen: gen, hitLimit: memoryHitLimit},
			&webResolver{searcher: searcher, gen: gen},
			&generativeResolver{gen: gen},
		},
	}
}

// NewChainWithResolvers builds a chain over an explicit tier list. Used by
// tests and by callers that add or remove tiers.
func NewChainWithResolvers(classifier *Classifier, resolvers ...Resolver) *Chain {
	return &Chain{classifier: classifier, resolvers: resolvers}
}

// Resolve classifies the failure and walks the tiers in order.
func (c *Chain) Resolve(ctx context.Context, errorText, code string) (*CandidateFix, error) {
	sig := c.classifier.Classify(errorText, code)
	in := ResolveInput{Signature: sig, ErrorText: errorText, Code: code}

	tried := make([]string, 0, len(c.resolvers))
	for _, r := range c.resolvers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		tried = append(tried, r.Name())

		fix, err := r.TryResolve(ctx, in)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.FixChain("tier %s failed: %v", r.Name(), err)
			continue
		}
		if fix != nil {
			logging.FixChain("tier %s produced a candidate (method=%s)", r.Name(), fix.Method)
			return fix, nil
		}
		logging.FixChainDebug("tier %s did not apply, escalating", r.Name())
	}
	return nil, &ExhaustedError{Signature: sig, Tiers: tried}
}

// Classify exposes the chain's classifier for callers that need the
// signature itself, such as the orchestrator when persisting fixes.
func (c *Chain) Classify(errorText, code string) memory.Signature {
	return c.classifier.Classify(errorText, code)
}

// ==========================================================================
// Tier 1: deterministic auto-fix rules
// ==========================================================================

type autoResolver struct {
	fixer     *AutoFixer
	userRules *RulesWatcher
}

func (r *autoResolver) Name() string { return "auto" }

func (r *autoResolver) TryResolve(_ context.Context, in ResolveInput) (*CandidateFix, error) {
	fixer := r.fixer
	if r.userRules != nil {
		if rules := r.userRules.Rules(); len(rules) > 0 {
			fixer = NewAutoFixer(rules...)
		}
	}
	fixed, rule, ok := fixer.TryFix(in.Signature, in.Code)
	if !ok {
		return nil, nil
	}
	return &CandidateFix{Code: fixed, Method: memory.MethodAuto, Rule: rule}, nil
}

// ==========================================================================
// Tier 2: memory-seeded generation
// ==========================================================================

type memoryResolver struct {
	store    FixMemory
	gen      *fixGenerator
	hitLimit int
}

func (r *memoryResolver) Name() string { return "memory-seeded" }

func (r *memoryResolver) TryResolve(ctx context.Context, in ResolveInput) (*CandidateFix, error) {
	if r.store == nil {
		return nil, nil
	}
	limit := r.hitLimit
	if limit <= 0 {
		limit = 3
	}
	hits, err := r.store.FindSimilar(ctx, in.Signature, limit)
	if err != nil {
		return nil, fmt.Errorf("memory lookup: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}
	logging.FixChain("seeding fix generation with %d memory hits for %s", len(hits), in.Signature)

	// Hits augment generation, they are never applied verbatim: the fix is
	// regenerated and re-validated by the next render.
	fix, err := r.gen.generate(ctx, in, hits, "")
	if err != nil {
		return nil, err
	}
	fix.Method = memory.MethodMemorySeeded
	return fix, nil
}

// ==========================================================================
// Tier 3: web-seeded generation
// ==========================================================================

type webResolver struct {
	searcher Searcher
	gen      *fixGenerator
}

func (r *webResolver) Name() string { return "web-seeded" }

func (r *webResolver) TryResolve(ctx context.Context, in ResolveInput) (*CandidateFix, error) {
	if r.searcher == nil {
		return nil, nil
	}

	query := research.BuildQuery(in.ErrorText, "manim")
	results, err := r.searcher.Search(ctx, query, 5)
	if err != nil {
		return nil, fmt.Errorf("solution search: %w", err)
	}

	best := pickRelevant(results, in.Signature.NormalizedMessage)
	if best == nil {
		return nil, nil
	}

	hint := best.Snippet
	if text, err := r.searcher.FetchText(ctx, best.URL, 8000); err == nil && text != "" {
		hint = text
	} else if err != nil {
		logging.ResearchDebug("fetch of %s failed, using snippet: %v", best.URL, err)
	}

	logging.FixChain("seeding fix generation with web source %s", best.URL)
	fix, err := r.gen.generate(ctx, in, nil, "Source: "+best.URL+"\n"+hint)
	if err != nil {
		return nil, err
	}
	fix.Method = memory.MethodWebSeeded
	return fix, nil
}

// pickRelevant returns the first result whose title or snippet shares enough
// keywords with the error, or nil when nothing is topically relevant.
func pickRelevant(results []research.Result, normalizedMessage string) *research.Result {
	keywords := errorKeywords(normalizedMessage)
	if len(keywords) == 0 {
		return nil
	}
	for i := range results {
		text := strings.ToLower(results[i].Title + " " + results[i].Snippet)
		matched := 0
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				matched++
			}
		}
		if matched*2 >= len(keywords) {
			return &results[i]
		}
	}
	return nil
}

// errorKeywords picks the distinctive tokens of a normalized message.
func errorKeywords(msg string) []string {
	var out []string
	for _, tok := range strings.FieldsFunc(msg, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '_')
	}) {
		if len(tok) >= 4 && tok != "object" && tok != "argument" {
			out = append(out, tok)
		}
		if len(out) == 6 {
			break
		}
	}
	return out
}

// ==========================================================================
// Tier 4: unseeded generation, the resolver of last resort
// ==========================================================================

type generativeResolver struct {
	gen *fixGenerator
}

func (r *generativeResolver) Name() string { return "generative" }

func (r *generativeResolver) TryResolve(ctx context.Context, in ResolveInput) (*CandidateFix, error) {
	fix, err := r.gen.generate(ctx, in, nil, "")
	if err != nil {
		return nil, err
	}
	fix.Method = memory.MethodGenerative
	return fix, nil
}
