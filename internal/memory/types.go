// Package memory implements the durable fix-memory store: error signatures
// mapped to previously successful fixes, shared across scenes, videos and
// sessions.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Category classifies a render failure.
type Category int

const (
	CategoryUnknown Category = iota
	CategorySyntax
	CategoryRuntimeAPI
	CategoryTimeout
	CategoryExtraction
)

func (c Category) String() string {
	switch c {
	case CategorySyntax:
		return "syntax"
	case CategoryRuntimeAPI:
		return "runtime_api"
	case CategoryTimeout:
		return "timeout"
	case CategoryExtraction:
		return "extraction"
	default:
		return "unknown"
	}
}

// ParseCategory converts a stored category name back to its value.
func ParseCategory(s string) Category {
	switch s {
	case "syntax":
		return CategorySyntax
	case "runtime_api":
		return CategoryRuntimeAPI
	case "timeout":
		return CategoryTimeout
	case "extraction":
		return CategoryExtraction
	default:
		return CategoryUnknown
	}
}

// Signature is a normalized, hashable fingerprint of a failure. Two failures
// with equal fields are the same signature for memory purposes, regardless of
// which scene or video produced them.
type Signature struct {
	Category          Category
	NormalizedMessage string
	ContextDigest     string
}

// Key returns a stable lookup key covering category and normalized message.
// The context digest is deliberately excluded: it is a ranking key, not an
// identity key.
func (s Signature) Key() string {
	sum := sha256.Sum256([]byte(s.Category.String() + "\x00" + s.NormalizedMessage))
	return hex.EncodeToString(sum[:8])
}

func (s Signature) String() string {
	return fmt.Sprintf("%s/%s", s.Category, s.Key())
}

// Method identifies which resolution tier produced a fix.
type Method string

const (
	MethodAuto         Method = "auto"
	MethodMemorySeeded Method = "memory-seeded-generative"
	MethodWebSeeded    Method = "web-seeded-generative"
	MethodGenerative   Method = "generative"
)

// FixRecord is a persisted solution to a previously seen error.
type FixRecord struct {
	ID              int64
	Signature       Signature
	OriginalSnippet string
	FixedSnippet    string
	Lesson          string
	Method          Method
	SuccessCount    int
	CreatedAt       time.Time
}

// Example is a successful first-draft generation kept as a preventive
// pattern for future scenes.
type Example struct {
	ID          int64
	Description string
	Code        string
	CreatedAt   time.Time
}
