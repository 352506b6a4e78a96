package prosemirror

// Diff parses two JSON trees under schema and merges them into a single
// track-changes tree. See DiffNodes.
func Diff(schema *Schema, oldJSON, newJSON []byte) (Node, error) {
	if err := schema.RequireDiffMarks(); err != nil {
		return Node{}, err
	}
	oldDoc, err := schema.Parse(oldJSON)
	if err != nil {
		return Node{}, err
	}
	newDoc, err := schema.Parse(newJSON)
	if err != nil {
		return Node{}, err
	}
	return DiffNodes(schema, oldDoc, newDoc)
}

// DiffNodes merges old and new into one tree whose structure follows new.
// Inline content only present in new is marked inserted; content only
// present in old is re-inserted, marked deleted, directly before the
// inserted content of the same hunk. Unchanged content carries no diff
// marks. Whole blocks added or removed carry the mark on the block node as
// well as on their text.
func DiffNodes(schema *Schema, oldDoc, newDoc Node) (Node, error) {
	if err := schema.RequireDiffMarks(); err != nil {
		return Node{}, err
	}
	if err := schema.Validate(oldDoc); err != nil {
		return Node{}, err
	}
	if err := schema.Validate(newDoc); err != nil {
		return Node{}, err
	}
	oldDoc, newDoc = Normalize(oldDoc), Normalize(newDoc)

	step := ReplaceStep{From: 0, To: schema.ContentSize(oldDoc), Slice: newDoc.Content}
	cs, err := NewChangeSet(schema, oldDoc).AddStep(newDoc, step)
	if err != nil {
		return Node{}, err
	}

	b := newTreeBuilder(schema, newDoc)
	for _, sp := range cs.spans {
		switch sp.op {
		case opEqual:
			for _, t := range sp.tokens {
				b.add(t, "", false)
			}
		case opDelete:
			b.addHunk(sp.tokens, MarkDeleted)
		case opInsert:
			b.addHunk(sp.tokens, MarkInserted)
		}
	}
	return Normalize(b.finish()), nil
}

type frame struct {
	node Node
	// transparent frames stand in for node boundaries that only exist in
	// the old tree; their children go to the nearest real ancestor.
	transparent bool
	// wrapper is the index of the open deleted wrapping chain collecting
	// stray inline content, or -1. wrapDepth is the number of nodes below
	// it down to the textblock that takes the content.
	wrapper   int
	wrapDepth int
}

type treeBuilder struct {
	schema *Schema
	stack  []*frame
}

func newTreeBuilder(schema *Schema, root Node) *treeBuilder {
	return &treeBuilder{
		schema: schema,
		stack:  []*frame{{node: root.shallow(), wrapper: -1}},
	}
}

// addHunk adds the tokens of one side of a hunk. Open and close tokens that
// pair up inside the hunk are whole nodes and get the mark themselves.
// Unpaired boundaries from the old side are dropped since structure follows
// the new tree; unpaired boundaries from the new side are kept unmarked.
func (b *treeBuilder) addHunk(tokens []token, mark string) {
	paired := pairBoundaries(tokens)
	for i, t := range tokens {
		if (t.kind == tokenOpen || t.kind == tokenClose) && !paired[i] {
			if mark == MarkDeleted {
				continue
			}
			b.add(t, "", false)
			continue
		}
		b.add(t, mark, true)
	}
}

// pairBoundaries reports which open/close tokens are matched within tokens.
func pairBoundaries(tokens []token) []bool {
	paired := make([]bool, len(tokens))
	var opens []int
	for i, t := range tokens {
		switch t.kind {
		case tokenOpen:
			opens = append(opens, i)
		case tokenClose:
			if n := len(opens); n > 0 && tokens[opens[n-1]].node.Type == t.node.Type {
				paired[opens[n-1]] = true
				paired[i] = true
				opens = opens[:n-1]
			}
		}
	}
	return paired
}

func (b *treeBuilder) add(t token, mark string, nodeMark bool) {
	switch t.kind {
	case tokenText:
		node := t.node.Clone()
		if mark != "" {
			node.Marks = addMark(node.Marks, mark)
		}
		b.appendChild(node, mark)
	case tokenLeaf:
		node := t.node.Clone()
		if mark != "" {
			node.Marks = addMark(node.Marks, mark)
		}
		b.appendChild(node, mark)
	case tokenOpen:
		node := t.node.Clone()
		if mark != "" && nodeMark {
			node.Marks = addMark(node.Marks, mark)
		}
		transparent := mark == MarkDeleted && !b.schema.Allows(b.target().node.Type, node.Type)
		b.stack = append(b.stack, &frame{node: node, transparent: transparent, wrapper: -1})
	case tokenClose:
		if len(b.stack) == 1 {
			return
		}
		top := b.stack[len(b.stack)-1]
		b.stack = b.stack[:len(b.stack)-1]
		if top.transparent {
			return
		}
		b.appendChild(top.node, mark)
	}
}

// target is the innermost frame that materializes as a node.
func (b *treeBuilder) target() *frame {
	for i := len(b.stack) - 1; i > 0; i-- {
		if !b.stack[i].transparent {
			return b.stack[i]
		}
	}
	return b.stack[0]
}

func (b *treeBuilder) appendChild(child Node, mark string) {
	f := b.target()
	if b.schema.Allows(f.node.Type, child.Type) {
		f.node.Content = append(f.node.Content, child)
		f.wrapper = -1
		return
	}
	if mark == MarkDeleted {
		if !b.schema.IsInline(child.Type) {
			// Removed content that fits nowhere in the new structure, such
			// as a block inside a textblock, is flattened to its inline
			// content.
			for _, grandchild := range child.Content {
				b.appendChild(grandchild, mark)
			}
			return
		}
		if b.wrapDeleted(f, child) {
			return
		}
		if !child.IsText() {
			return
		}
	}
	f.node.Content = append(f.node.Content, child)
	f.wrapper = -1
}

// wrapDeleted places removed inline content into f inside a deleted
// wrapping chain, such as listItem > paragraph under a bulletList. Content
// following in the same frame joins the open chain.
func (b *treeBuilder) wrapDeleted(f *frame, child Node) bool {
	if f.wrapper >= 0 {
		w := &f.node.Content[f.wrapper]
		for d := 0; d < f.wrapDepth; d++ {
			w = &w.Content[len(w.Content)-1]
		}
		if b.schema.Allows(w.Type, child.Type) {
			w.Content = append(w.Content, child)
			return true
		}
	}
	chain := b.schema.wrapping(f.node.Type, child.Type)
	if len(chain) == 0 {
		return false
	}
	node := child
	for i := len(chain) - 1; i >= 0; i-- {
		node = Node{Type: chain[i], Marks: []Mark{{Type: MarkDeleted}}, Content: []Node{node}}
	}
	f.node.Content = append(f.node.Content, node)
	f.wrapper = len(f.node.Content) - 1
	f.wrapDepth = len(chain) - 1
	return true
}

func (b *treeBuilder) finish() Node {
	for len(b.stack) > 1 {
		b.add(token{kind: tokenClose, node: b.stack[len(b.stack)-1].node}, "", false)
	}
	return b.stack[0].node
}
