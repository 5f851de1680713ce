package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"scenesmith/internal/logging"
)

// Validator performs the static sanity checks between code generation and
// rendering: the code must parse, define a scene class, and give that class
// a construct method. Catching these here is much cheaper than a render
// attempt.
type Validator struct {
	// The tree-sitter parser is not safe for concurrent use; scene workers
	// share one Validator, so parsing is serialized.
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewValidator builds a Python validator.
func NewValidator() *Validator {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return &Validator{parser: parser}
}

// ValidationResult carries what the validator found. Diagnostics is set when
// Valid is false and feeds the same failure path as a render error.
type ValidationResult struct {
	Valid       bool
	SceneClass  string
	Diagnostics string
}

// Validate checks code and returns the scene class name to render.
func (v *Validator) Validate(ctx context.Context, code string) ValidationResult {
	if strings.TrimSpace(code) == "" {
		return ValidationResult{Diagnostics: "ValidationError: generated code is empty"}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	content := []byte(code)
	tree, err := v.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return ValidationResult{Diagnostics: fmt.Sprintf("ValidationError: parse failed: %v", err)}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return ValidationResult{Diagnostics: "SyntaxError: invalid syntax in generated code: " + firstErrorContext(root, content)}
	}

	class, hasConstruct := findSceneClass(root, content)
	if class == "" {
		return ValidationResult{Diagnostics: "ValidationError: no class definition found in generated code"}
	}
	if !hasConstruct {
		return ValidationResult{Diagnostics: fmt.Sprintf("ValidationError: class %s has no construct method", class)}
	}

	logging.CodegenDebug("validated scene class %s", class)
	return ValidationResult{Valid: true, SceneClass: class}
}

// findSceneClass returns the first top-level class and whether it defines a
// construct method. Generated scenes put the Scene subclass first.
func findSceneClass(root *sitter.Node, content []byte) (string, bool) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		node := child
		if child.Type() == "decorated_definition" {
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if inner := child.NamedChild(j); inner.Type() == "class_definition" {
					node = inner
					break
				}
			}
		}
		if node.Type() != "class_definition" {
			continue
		}
		nameNode := node.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := string(content[nameNode.StartByte():nameNode.EndByte()])
		return name, classHasMethod(node, content, "construct")
	}
	return "", false
}

func classHasMethod(class *sitter.Node, content []byte, method string) bool {
	body := class.ChildByFieldName("body")
	if body == nil {
		return false
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		fn := body.NamedChild(i)
		if fn.Type() == "decorated_definition" {
			for j := 0; j < int(fn.NamedChildCount()); j++ {
				if inner := fn.NamedChild(j); inner.Type() == "function_definition" {
					fn = inner
					break
				}
			}
		}
		if fn.Type() != "function_definition" {
			continue
		}
		nameNode := fn.ChildByFieldName("name")
		if nameNode != nil && string(content[nameNode.StartByte():nameNode.EndByte()]) == method {
			return true
		}
	}
	return false
}

// firstErrorContext finds the first ERROR node and quotes its source line.
func firstErrorContext(root *sitter.Node, content []byte) string {
	var errNode *sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if errNode != nil {
			return
		}
		if n.IsError() {
			errNode = n
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	if errNode == nil {
		return ""
	}
	row := int(errNode.StartPoint().Row)
	lines := strings.Split(string(content), "\n")
	if row < len(lines) {
		return fmt.Sprintf("near line %d: %s", row+1, strings.TrimSpace(lines[row]))
	}
	return ""
}
