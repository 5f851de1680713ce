// Package pipeline drives each scene from plan to rendered clip: code
// generation, static validation, rendering, and the multi-tier fix chain
// that turns failed renders into corrected ones.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SceneStatus is the state machine position of one scene.
type SceneStatus int

const (
	StatusPlanned SceneStatus = iota
	StatusGenerating
	StatusValidating
	StatusRendering
	StatusFixing
	StatusRendered
	StatusFailed
)

func (s SceneStatus) String() string {
	switch s {
	case StatusPlanned:
		return "planned"
	case StatusGenerating:
		return "generating"
	case StatusValidating:
		return "validating"
	case StatusRendering:
		return "rendering"
	case StatusFixing:
		return "fixing"
	case StatusRendered:
		return "rendered"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether a scene in this status can advance further.
func (s SceneStatus) Terminal() bool {
	return s == StatusRendered || s == StatusFailed
}

// Scene is one animation segment of a video. Only the orchestrator and the
// resolvers it invokes mutate it, always under the scene's lock.
type Scene struct {
	ID             string
	SequenceNumber int
	Plan           string

	Status       SceneStatus
	CurrentCode  string
	AttemptCount int
	LastError    string
	LastMethod   string
	OutputPath   string

	// The fix awaiting validation by the next render. Persisted to memory
	// only once that render succeeds.
	pendingFix         *CandidateFix
	pendingFixOriginal string
	pendingFixError    string

	// mu is the per-scene exclusive lock token: no two workers may advance
	// the same scene concurrently.
	mu sync.Mutex
}

// NewScene creates a scene in the Planned state.
func NewScene(sequenceNumber int, plan string) *Scene {
	return &Scene{
		ID:             uuid.NewString(),
		SequenceNumber: sequenceNumber,
		Plan:           plan,
		Status:         StatusPlanned,
	}
}

// Snapshot is a read-only view of scene state for status queries.
type Snapshot struct {
	SceneID        string      `json:"scene_id"`
	SequenceNumber int         `json:"sequence_number"`
	Status         SceneStatus `json:"-"`
	StatusName     string      `json:"status"`
	AttemptCount   int         `json:"attempt_count"`
	LastError      string      `json:"last_error,omitempty"`
	OutputPath     string      `json:"output_path,omitempty"`
}

// Snapshot returns the scene's current state under its lock.
func (s *Scene) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SceneID:        s.ID,
		SequenceNumber: s.SequenceNumber,
		Status:         s.Status,
		StatusName:     s.Status.String(),
		AttemptCount:   s.AttemptCount,
		LastError:      s.LastError,
		OutputPath:     s.OutputPath,
	}
}

// SceneOutcome is the result of advancing a scene to a terminal state.
type SceneOutcome struct {
	Status SceneStatus
	Code   string
	Error  string
}

// ProtocolViolationError signals a caller bug: an advance was requested from
// a state the machine cannot leave. Unlike every domain failure it is
// returned as an error rather than folded into scene state.
type ProtocolViolationError struct {
	SceneID string
	Status  SceneStatus

	// InFlight means another caller held the scene when the advance was
	// requested, so no status could be observed safely.
	InFlight bool
}

func (e *ProtocolViolationError) Error() string {
	if e.InFlight {
		return fmt.Sprintf("protocol violation: scene %s is already being advanced", e.SceneID)
	}
	return fmt.Sprintf("protocol violation: scene %s cannot advance from status %s", e.SceneID, e.Status)
}
