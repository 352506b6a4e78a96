package prosemirror

import (
	"encoding/json"
	"fmt"
	"sort"
)

// NodeSpec describes one node type. Content lists the node types or groups
// allowed as children; a non-text node with no Content is a leaf.
type NodeSpec struct {
	Group   string   `json:"group,omitempty"`
	Content []string `json:"content,omitempty"`
	Text    bool     `json:"text,omitempty"`
}

// MarkSpec describes one mark type.
type MarkSpec struct {
	Attrs []string `json:"attrs,omitempty"`
}

// SchemaSpec is the serializable form of a Schema.
type SchemaSpec struct {
	TopNode      string              `json:"topNode"`
	DefaultBlock string              `json:"defaultBlock"`
	Nodes        map[string]NodeSpec `json:"nodes"`
	Marks        map[string]MarkSpec `json:"marks"`
}

// Schema is the compiled set of node and mark types both sides of a diff
// must conform to.
type Schema struct {
	spec SchemaSpec
}

// NewSchema checks the spec for dangling references and returns a Schema.
func NewSchema(spec SchemaSpec) (*Schema, error) {
	if spec.TopNode == "" {
		spec.TopNode = "doc"
	}
	if spec.DefaultBlock == "" {
		spec.DefaultBlock = "paragraph"
	}
	if _, ok := spec.Nodes[spec.TopNode]; !ok {
		return nil, fmt.Errorf("schema: top node %q is not defined", spec.TopNode)
	}
	if _, ok := spec.Nodes[spec.DefaultBlock]; !ok {
		return nil, fmt.Errorf("schema: default block %q is not defined", spec.DefaultBlock)
	}
	textSpec, ok := spec.Nodes[TextType]
	if !ok || !textSpec.Text {
		return nil, fmt.Errorf("schema: %q node must be defined as text", TextType)
	}

	groups := map[string]bool{}
	for _, ns := range spec.Nodes {
		if ns.Group != "" {
			groups[ns.Group] = true
		}
	}
	names := make([]string, 0, len(spec.Nodes))
	for name := range spec.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, allowed := range spec.Nodes[name].Content {
			if _, ok := spec.Nodes[allowed]; ok {
				continue
			}
			if groups[allowed] {
				continue
			}
			return nil, fmt.Errorf("schema: node %q allows unknown content %q", name, allowed)
		}
	}
	return &Schema{spec: spec}, nil
}

// ParseSchema decodes a JSON SchemaSpec.
func ParseSchema(data []byte) (*Schema, error) {
	var spec SchemaSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return NewSchema(spec)
}

// Spec returns the schema definition. Callers must not modify it.
func (s *Schema) Spec() SchemaSpec {
	return s.spec
}

func (s *Schema) TopNode() string      { return s.spec.TopNode }
func (s *Schema) DefaultBlock() string { return s.spec.DefaultBlock }

func (s *Schema) HasNode(name string) bool {
	_, ok := s.spec.Nodes[name]
	return ok
}

func (s *Schema) HasMark(name string) bool {
	_, ok := s.spec.Marks[name]
	return ok
}

// IsLeaf reports whether nodes of this type never have children.
func (s *Schema) IsLeaf(nodeType string) bool {
	ns, ok := s.spec.Nodes[nodeType]
	if !ok {
		return false
	}
	return !ns.Text && len(ns.Content) == 0
}

// IsInline reports whether nodes of this type sit inside textblocks.
func (s *Schema) IsInline(nodeType string) bool {
	ns := s.spec.Nodes[nodeType]
	return ns.Text || ns.Group == "inline"
}

// IsTextblock reports whether nodes of this type hold inline content.
func (s *Schema) IsTextblock(nodeType string) bool {
	return !s.IsInline(nodeType) && s.Allows(nodeType, TextType)
}

// Allows reports whether child may appear directly inside parent.
func (s *Schema) Allows(parent, child string) bool {
	ps, ok := s.spec.Nodes[parent]
	if !ok {
		return false
	}
	group := s.spec.Nodes[child].Group
	for _, allowed := range ps.Content {
		if allowed == child || (group != "" && allowed == group) {
			return true
		}
	}
	return false
}

// wrapping returns the shortest chain of node types that, nested inside
// parent, ends in a textblock accepting child. Chains through the default
// block are preferred. It returns nil when no chain exists.
func (s *Schema) wrapping(parent, child string) []string {
	names := []string{s.spec.DefaultBlock}
	var rest []string
	for name := range s.spec.Nodes {
		if name == s.spec.DefaultBlock || name == s.spec.TopNode || s.IsInline(name) || s.IsLeaf(name) {
			continue
		}
		rest = append(rest, name)
	}
	sort.Strings(rest)
	names = append(names, rest...)

	seen := map[string]bool{parent: true}
	queue := [][]string{nil}
	for len(queue) > 0 {
		chain := queue[0]
		queue = queue[1:]
		from := parent
		if len(chain) > 0 {
			from = chain[len(chain)-1]
		}
		for _, name := range names {
			if seen[name] || !s.Allows(from, name) {
				continue
			}
			next := append(append([]string(nil), chain...), name)
			if s.IsTextblock(name) {
				if s.Allows(name, child) {
					return next
				}
				continue
			}
			seen[name] = true
			queue = append(queue, next)
		}
	}
	return nil
}

// NodeSize is the number of cursor positions the node occupies: the rune
// count for text, 1 for leaves, content size plus 2 otherwise.
func (s *Schema) NodeSize(n Node) int {
	if n.IsText() {
		return len([]rune(n.Text))
	}
	if s.IsLeaf(n.Type) {
		return 1
	}
	return s.ContentSize(n) + 2
}

// ContentSize is the sum of the sizes of the node's children.
func (s *Schema) ContentSize(n Node) int {
	size := 0
	for _, child := range n.Content {
		size += s.NodeSize(child)
	}
	return size
}

// RequireDiffMarks returns a SchemaMismatchError when the schema cannot
// represent the diff marks.
func (s *Schema) RequireDiffMarks() error {
	var missing []string
	for _, name := range []string{MarkInserted, MarkDeleted} {
		if !s.HasMark(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &SchemaMismatchError{Missing: missing}
	}
	return nil
}

var defaultSchema = mustSchema(SchemaSpec{
	TopNode:      "doc",
	DefaultBlock: "paragraph",
	Nodes: map[string]NodeSpec{
		"doc":            {Content: []string{"block"}},
		"paragraph":      {Group: "block", Content: []string{"inline"}},
		"heading":        {Group: "block", Content: []string{"inline"}},
		"blockquote":     {Group: "block", Content: []string{"block"}},
		"codeBlock":      {Group: "block", Content: []string{TextType}},
		"horizontalRule": {Group: "block"},
		"bulletList":     {Group: "block", Content: []string{"listItem"}},
		"orderedList":    {Group: "block", Content: []string{"listItem"}},
		"listItem":       {Content: []string{"block"}},
		"table":          {Group: "block", Content: []string{"tableRow"}},
		"tableRow":       {Content: []string{"tableCell", "tableHeader"}},
		"tableCell":      {Content: []string{"block"}},
		"tableHeader":    {Content: []string{"block"}},
		"image":          {Group: "inline"},
		"hardBreak":      {Group: "inline"},
		TextType:         {Group: "inline", Text: true},
	},
	Marks: map[string]MarkSpec{
		"bold":       {},
		"italic":     {},
		"code":       {},
		"strike":     {},
		"underline":  {},
		"link":       {Attrs: []string{"href", "target"}},
		MarkInserted: {},
		MarkDeleted:  {},
	},
})

// DefaultSchema returns the schema used by the editor.
func DefaultSchema() *Schema {
	return defaultSchema
}

func mustSchema(spec SchemaSpec) *Schema {
	s, err := NewSchema(spec)
	if err != nil {
		panic(err)
	}
	return s
}
