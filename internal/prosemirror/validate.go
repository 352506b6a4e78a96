package prosemirror

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed node.schema.json
var nodeSchemaJSON []byte

const nodeSchemaURL = "https://gemcast.app/schemas/prosemirror-node.json"

var nodeShape = compileNodeShape()

func compileNodeShape() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(nodeSchemaURL, bytes.NewReader(nodeSchemaJSON)); err != nil {
		panic(fmt.Sprintf("add node schema resource: %v", err))
	}
	schema, err := compiler.Compile(nodeSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("compile node schema: %v", err))
	}
	return schema
}

// Parse decodes a JSON tree, checks its shape and validates it against the
// schema. The returned tree is normalized.
func (s *Schema) Parse(data []byte) (Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Node{}, &InvalidTreeError{Reason: "empty document"}
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Node{}, &InvalidTreeError{Reason: fmt.Sprintf("malformed json: %v", err)}
	}
	if err := nodeShape.Validate(raw); err != nil {
		return Node{}, shapeError(err)
	}
	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return Node{}, &InvalidTreeError{Reason: fmt.Sprintf("decode node: %v", err)}
	}
	if err := s.Validate(node); err != nil {
		return Node{}, err
	}
	return Normalize(node), nil
}

func shapeError(err error) error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &InvalidTreeError{Reason: err.Error()}
	}
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return &InvalidTreeError{Path: pointerPath(verr.InstanceLocation), Reason: verr.Message}
}

// pointerPath turns a JSON pointer like /content/0/text into content[0].text.
func pointerPath(pointer string) string {
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	var b strings.Builder
	b.WriteString("doc")
	for _, part := range parts {
		if part == "" {
			continue
		}
		if part[0] >= '0' && part[0] <= '9' {
			b.WriteString("[" + part + "]")
			continue
		}
		b.WriteString("." + part)
	}
	return b.String()
}

// Validate checks that a tree conforms to the schema: known node and mark
// types, text only on text nodes, no children on leaves, and every child
// allowed by its parent.
func (s *Schema) Validate(doc Node) error {
	if doc.Type != s.spec.TopNode {
		return &InvalidTreeError{Path: "doc", Reason: fmt.Sprintf("root must be %q, got %q", s.spec.TopNode, doc.Type)}
	}
	return s.validateNode(doc, "doc")
}

func (s *Schema) validateNode(n Node, path string) error {
	if !s.HasNode(n.Type) {
		return &InvalidTreeError{Path: path, Reason: fmt.Sprintf("unknown node type %q", n.Type)}
	}
	for _, m := range n.Marks {
		if !s.HasMark(m.Type) {
			return &InvalidTreeError{Path: path, Reason: fmt.Sprintf("unknown mark %q", m.Type)}
		}
	}
	if n.IsText() {
		if n.Text == "" {
			return &InvalidTreeError{Path: path, Reason: "text node without text"}
		}
		if len(n.Content) > 0 {
			return &InvalidTreeError{Path: path, Reason: "text node with content"}
		}
		return nil
	}
	if n.Text != "" {
		return &InvalidTreeError{Path: path, Reason: fmt.Sprintf("%s node carries text", n.Type)}
	}
	if s.IsLeaf(n.Type) && len(n.Content) > 0 {
		return &InvalidTreeError{Path: path, Reason: fmt.Sprintf("leaf node %s has content", n.Type)}
	}
	for i, child := range n.Content {
		childPath := fmt.Sprintf("%s.content[%d]", path, i)
		if s.HasNode(child.Type) && !s.Allows(n.Type, child.Type) {
			return &InvalidTreeError{Path: childPath, Reason: fmt.Sprintf("%s not allowed inside %s", child.Type, n.Type)}
		}
		if err := s.validateNode(child, childPath); err != nil {
			return err
		}
	}
	return nil
}
