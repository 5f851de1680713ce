package pipeline

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"scenesmith/internal/logging"
	"scenesmith/internal/memory"
	"scenesmith/internal/render"
)

// Orchestrator drives scenes through the production state machine and fans
// them out over a bounded worker pool. Domain failures become state
// transitions; the only error AdvanceScene returns for a live scene is a
// ProtocolViolationError or the caller's own cancellation.
type Orchestrator struct {
	generator   *Generator
	validator   *Validator
	chain       *Chain
	renderer    Renderer
	store       FixMemory
	workspace   *render.Workspace
	maxAttempts int
	concurrency int
}

// OrchestratorConfig wires the orchestrator's collaborators.
type OrchestratorConfig struct {
	Generator   *Generator
	Validator   *Validator
	Chain       *Chain
	Renderer    Renderer
	Store       FixMemory
	Workspace   *render.Workspace
	MaxAttempts int
	Concurrency int
}

// NewOrchestrator builds an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Orchestrator{
		generator:   cfg.Generator,
		validator:   cfg.Validator,
		chain:       cfg.Chain,
		renderer:    cfg.Renderer,
		store:       cfg.Store,
		workspace:   cfg.Workspace,
		maxAttempts: cfg.MaxAttempts,
		concurrency: cfg.Concurrency,
	}
}

// AdvanceScene drives one scene from its current state to a terminal state.
// It is the only mutator of scene state and holds the scene's lock for the
// whole advance.
func (o *Orchestrator) AdvanceScene(ctx context.Context, scene *Scene) (SceneOutcome, error) {
	if !scene.mu.TryLock() {
		// Another caller holds the scene; reading its status here would
		// race with that caller's writes.
		return SceneOutcome{}, &ProtocolViolationError{SceneID: scene.ID, InFlight: true}
	}
	defer scene.mu.Unlock()

	if scene.Status.Terminal() {
		return SceneOutcome{}, &ProtocolViolationError{SceneID: scene.ID, Status: scene.Status}
	}
	if scene.Status != StatusPlanned {
		// Advancing is all-or-nothing per call; a scene observed mid-flight
		// means two callers are driving it.
		return SceneOutcome{}, &ProtocolViolationError{SceneID: scene.ID, Status: scene.Status}
	}

	outcome := o.runStateMachine(ctx, scene)
	if ctx.Err() != nil && !scene.Status.Terminal() {
		// Cancellation must not leave scenes indeterminate.
		o.fail(scene, "cancelled: "+ctx.Err().Error())
		outcome = SceneOutcome{Status: StatusFailed, Error: scene.LastError}
	}
	return outcome, nil
}

func (o *Orchestrator) runStateMachine(ctx context.Context, scene *Scene) SceneOutcome {
	logging.Pipeline("scene %d: advancing from %s", scene.SequenceNumber, scene.Status)

	// Planned -> Generating
	scene.Status = StatusGenerating
	code, _, err := o.generator.Generate(ctx, scene.Plan)
	if err != nil {
		if ctx.Err() != nil {
			return SceneOutcome{}
		}
		// Extraction exhausted every strategy: the one pre-render failure.
		o.fail(scene, "extraction: "+err.Error())
		return SceneOutcome{Status: StatusFailed, Error: scene.LastError}
	}
	scene.CurrentCode = code

	// Generating -> Validating
	scene.Status = StatusValidating

	for {
		vres := o.validator.Validate(ctx, scene.CurrentCode)
		if !vres.Valid {
			// A validation failure takes the same path as a render failure:
			// classify, fix, retry, under the same attempt budget.
			if done, outcome := o.handleFailure(ctx, scene, vres.Diagnostics); done {
				return outcome
			}
			continue
		}

		// Validating -> Rendering
		scene.Status = StatusRendering
		res, rerr := o.renderAttempt(ctx, scene, vres.SceneClass)
		if rerr != nil {
			// Renderer infrastructure error or cancellation.
			if ctx.Err() != nil {
				return SceneOutcome{}
			}
			o.fail(scene, "render executor: "+rerr.Error())
			return SceneOutcome{Status: StatusFailed, Error: scene.LastError}
		}

		if res.Success {
			scene.Status = StatusRendered
			scene.OutputPath = res.OutputPath
			o.recordSuccess(ctx, scene, scene.AttemptCount == 0)
			logging.Pipeline("scene %d: rendered after %d failed attempt(s)",
				scene.SequenceNumber, scene.AttemptCount)
			return SceneOutcome{Status: StatusRendered, Code: scene.CurrentCode}
		}

		if done, outcome := o.handleFailure(ctx, scene, res.Output); done {
			return outcome
		}
	}
}

// handleFailure consumes one attempt and either escalates into the fix chain
// or finishes the scene. done is true when the scene reached a terminal
// state (or the context died).
func (o *Orchestrator) handleFailure(ctx context.Context, scene *Scene, diagnostics string) (bool, SceneOutcome) {
	scene.AttemptCount++
	scene.LastError = diagnostics
	scene.pendingFix = nil // whatever fix was in flight did not survive this render
	o.writeErrorLog(scene)

	if scene.AttemptCount >= o.maxAttempts {
		// Rendering -> Failed
		o.fail(scene, diagnostics)
		return true, SceneOutcome{Status: StatusFailed, Error: scene.LastError}
	}

	// Rendering -> Fixing
	scene.Status = StatusFixing
	fix, err := o.chain.Resolve(ctx, diagnostics, scene.CurrentCode)
	if err != nil {
		if ctx.Err() != nil {
			return true, SceneOutcome{}
		}
		// Fixing -> Failed: every tier exhausted.
		o.fail(scene, err.Error())
		return true, SceneOutcome{Status: StatusFailed, Error: scene.LastError}
	}

	// Fixing -> Rendering (via re-validation); current_code replaced.
	logging.Pipeline("scene %d: applying %s fix (attempt %d/%d)",
		scene.SequenceNumber, fix.Method, scene.AttemptCount, o.maxAttempts)
	scene.pendingFix = fix
	scene.pendingFixOriginal = scene.CurrentCode
	scene.pendingFixError = diagnostics
	scene.CurrentCode = fix.Code
	scene.LastMethod = string(fix.Method)
	scene.Status = StatusValidating
	return false, SceneOutcome{}
}

func (o *Orchestrator) renderAttempt(ctx context.Context, scene *Scene, sceneClass string) (render.Result, error) {
	attempt := scene.AttemptCount + 1
	codePath, err := o.workspace.WriteAttemptCode(scene.SequenceNumber, attempt, scene.CurrentCode)
	if err != nil {
		return render.Result{}, err
	}
	return o.renderer.Render(ctx, codePath, sceneClass, o.workspace.MediaDir())
}

// recordSuccess persists what this render proved: a fix that worked becomes
// a FixRecord (auto fixes excluded, they are already deterministic), and a
// clean first draft becomes a preventive example.
func (o *Orchestrator) recordSuccess(ctx context.Context, scene *Scene, firstDraft bool) {
	if o.store == nil {
		return
	}

	if fix := scene.pendingFix; fix != nil && fix.Method != memory.MethodAuto {
		sig := o.chain.Classify(scene.pendingFixError, scene.pendingFixOriginal)
		if err := o.store.Record(ctx, sig, scene.pendingFixOriginal, fix.Code, fix.Lesson, fix.Method); err != nil {
			logging.Pipeline("scene %d: fix record failed: %v", scene.SequenceNumber, err)
		}
	}
	scene.pendingFix = nil

	if firstDraft {
		if err := o.store.RecordExample(ctx, planSummary(scene.Plan), scene.CurrentCode); err != nil {
			logging.PipelineDebug("scene %d: example record failed: %v", scene.SequenceNumber, err)
		}
	}
}

func (o *Orchestrator) fail(scene *Scene, reason string) {
	scene.Status = StatusFailed
	scene.LastError = reason
	logging.Pipeline("scene %d: failed after %d attempt(s): %.200s",
		scene.SequenceNumber, scene.AttemptCount, reason)
}

func (o *Orchestrator) writeErrorLog(scene *Scene) {
	if o.workspace == nil {
		return
	}
	if err := o.workspace.WriteErrorLog(scene.SequenceNumber, scene.AttemptCount, scene.LastError); err != nil {
		logging.PipelineDebug("scene %d: %v", scene.SequenceNumber, err)
	}
}

// VideoResult summarizes a full video run.
type VideoResult struct {
	Rendered int
	Failed   int
	Clips    []string
	Duration time.Duration
}

// ProcessVideo advances all scenes under the bounded worker pool. Scenes
// complete in any order; Clips is ordered by sequence number with empty
// slots for failed scenes. The returned error is non-nil only for
// cancellation or a protocol violation.
func (o *Orchestrator) ProcessVideo(ctx context.Context, scenes []*Scene) (VideoResult, error) {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, scene := range scenes {
		g.Go(func() error {
			_, err := o.AdvanceScene(gctx, scene)
			return err
		})
	}
	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		// Cancelled scenes end up Failed, not errored, so surface the
		// abort to the caller here.
		err = ctx.Err()
	}

	ordered := make([]*Scene, len(scenes))
	copy(ordered, scenes)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].SequenceNumber < ordered[j].SequenceNumber
	})

	res := VideoResult{Duration: time.Since(start)}
	for _, s := range ordered {
		snap := s.Snapshot()
		switch snap.Status {
		case StatusRendered:
			res.Rendered++
			res.Clips = append(res.Clips, snap.OutputPath)
		default:
			res.Failed++
			res.Clips = append(res.Clips, "")
		}
	}
	logging.Pipeline("video complete: %d rendered, %d failed in %s",
		res.Rendered, res.Failed, res.Duration.Round(time.Millisecond))
	return res, err
}


// Snapshots returns read-only status for every scene.
func (o *Orchestrator) Snapshots(scenes []*Scene) []Snapshot {
	out := make([]Snapshot, 0, len(scenes))
	for _, s := range scenes {
		out = append(out, s.Snapshot())
	}
	return out
}
