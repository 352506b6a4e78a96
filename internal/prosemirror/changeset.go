package prosemirror

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type tokenKind int

const (
	tokenText tokenKind = iota
	tokenOpen
	tokenClose
	tokenLeaf
)

// token is one diffable unit of a document: a word or whitespace run, a
// node boundary, or a leaf node. Tokens tile the document content, so their
// sizes sum to the content size.
type token struct {
	kind  tokenKind
	key   string
	node  Node
	start int
	size  int
}

func (t token) end() int { return t.start + t.size }

// tokenize flattens the content of doc into position-aligned tokens. Marks
// and attrs are part of token identity, so a formatting change is a change.
func (s *Schema) tokenize(doc Node) []token {
	var out []token
	s.appendTokens(&out, doc.Content, 0)
	return out
}

func (s *Schema) appendTokens(out *[]token, content []Node, pos int) int {
	for _, child := range content {
		switch {
		case child.IsText():
			marks := canonical(child.Marks)
			for _, run := range splitRuns(child.Text) {
				size := utf8.RuneCountInString(run)
				*out = append(*out, token{
					kind:  tokenText,
					key:   "t" + marks + "|" + run,
					node:  Node{Type: TextType, Text: run, Marks: child.Clone().Marks},
					start: pos,
					size:  size,
				})
				pos += size
			}
		case s.IsLeaf(child.Type):
			*out = append(*out, token{
				kind:  tokenLeaf,
				key:   "l" + child.Type + canonical(child.Attrs) + canonical(child.Marks),
				node:  child.shallow(),
				start: pos,
				size:  1,
			})
			pos++
		default:
			*out = append(*out, token{
				kind:  tokenOpen,
				key:   "o" + child.Type + canonical(child.Attrs) + canonical(child.Marks),
				node:  child.shallow(),
				start: pos,
				size:  1,
			})
			pos = s.appendTokens(out, child.Content, pos+1)
			*out = append(*out, token{
				kind:  tokenClose,
				key:   "c" + child.Type,
				node:  child.shallow(),
				start: pos,
				size:  1,
			})
			pos++
		}
	}
	return pos
}

// splitRuns cuts text into alternating runs of whitespace and non-whitespace.
func splitRuns(text string) []string {
	var runs []string
	start := 0
	prevSpace := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if i > 0 && space != prevSpace {
			runs = append(runs, text[start:i])
			start = i
		}
		prevSpace = space
	}
	if start < len(text) {
		runs = append(runs, text[start:])
	}
	return runs
}

// ReplaceStep replaces the old document's content range [From, To) with
// Slice. Diff always uses a single step covering the whole document.
type ReplaceStep struct {
	From  int
	To    int
	Slice []Node
}

// Change is one aligned hunk: [FromA, ToA) in the old document was replaced
// by [FromB, ToB) in the new document. Either side may be empty.
type Change struct {
	FromA int `json:"fromA"`
	ToA   int `json:"toA"`
	FromB int `json:"fromB"`
	ToB   int `json:"toB"`
}

type opKind int

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

// span is a run of tokens with one diff status. Equal spans carry the new
// document's tokens, with the matching old tokens in old.
type span struct {
	op     opKind
	tokens []token
	old    []token
}

// ChangeSet tracks how a document changed across a replace step.
type ChangeSet struct {
	schema  *Schema
	doc     Node
	changes []Change
	spans   []span
}

// NewChangeSet starts tracking changes against doc.
func NewChangeSet(schema *Schema, doc Node) *ChangeSet {
	return &ChangeSet{schema: schema, doc: doc}
}

// Changes returns the hunks in document order.
func (c *ChangeSet) Changes() []Change {
	return c.changes
}

// AddStep records the step that turned the tracked document into newDoc and
// computes the token-level hunks within the replaced range.
func (c *ChangeSet) AddStep(newDoc Node, step ReplaceStep) (*ChangeSet, error) {
	s := c.schema
	oldSize := s.ContentSize(c.doc)
	if step.From < 0 || step.To < step.From || step.To > oldSize {
		return nil, &InvalidTreeError{Reason: fmt.Sprintf("replace step [%d, %d) outside document of size %d", step.From, step.To, oldSize)}
	}
	sliceSize := 0
	for _, n := range step.Slice {
		sliceSize += s.NodeSize(n)
	}
	if got, want := s.ContentSize(newDoc), oldSize-(step.To-step.From)+sliceSize; got != want {
		return nil, &InvalidTreeError{Reason: fmt.Sprintf("replace step does not produce the new document: size %d, want %d", got, want)}
	}

	tokensA := s.tokenize(c.doc)
	tokensB := s.tokenize(newDoc)
	headA, midA, tailA := cutTokens(tokensA, step.From, step.To)
	headB, midB, tailB := cutTokens(tokensB, step.From, step.From+sliceSize)
	if len(headA) != len(headB) || len(tailA) != len(tailB) {
		return nil, &InvalidTreeError{Reason: "replace step boundary splits a token"}
	}

	var spans []span
	if len(headB) > 0 {
		spans = append(spans, span{op: opEqual, tokens: headB})
	}
	spans = append(spans, diffTokens(midA, midB)...)
	if len(tailB) > 0 {
		spans = append(spans, span{op: opEqual, tokens: tailB})
	}

	return &ChangeSet{
		schema:  s,
		doc:     newDoc,
		changes: changesFromSpans(spans, step.From),
		spans:   spans,
	}, nil
}

func cutTokens(tokens []token, from, to int) (head, mid, tail []token) {
	i := 0
	for i < len(tokens) && tokens[i].end() <= from {
		i++
	}
	j := i
	for j < len(tokens) && tokens[j].start < to {
		j++
	}
	return tokens[:i], tokens[i:j], tokens[j:]
}

// diffTokens aligns two token streams. Each distinct token key is mapped to
// a rune so diffmatchpatch can run its line-mode style diff over them.
func diffTokens(a, b []token) []span {
	ids := map[string]rune{}
	encode := func(tokens []token) []rune {
		out := make([]rune, len(tokens))
		for i, t := range tokens {
			r, ok := ids[t.key]
			if !ok {
				r = tokenRune(len(ids))
				ids[t.key] = r
			}
			out[i] = r
		}
		return out
	}
	ra, rb := encode(a), encode(b)

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(ra, rb, false)

	var spans []span
	ia, ib := 0, 0
	for _, d := range diffs {
		n := utf8.RuneCountInString(d.Text)
		if n == 0 {
			continue
		}
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			spans = append(spans, span{op: opEqual, tokens: b[ib : ib+n], old: a[ia : ia+n]})
			ia += n
			ib += n
		case diffmatchpatch.DiffDelete:
			spans = append(spans, span{op: opDelete, tokens: a[ia : ia+n]})
			ia += n
		case diffmatchpatch.DiffInsert:
			spans = append(spans, span{op: opInsert, tokens: b[ib : ib+n]})
			ib += n
		}
	}
	return slideHunks(orderHunks(absorbWhitespace(spans)))
}

// absorbWhitespace folds a whitespace-only equality sitting between two
// changes into the changes, so "cat sat" -> "dog ran" is one hunk rather
// than two hunks split by a shared space.
func absorbWhitespace(spans []span) []span {
	out := make([]span, 0, len(spans))
	for i, sp := range spans {
		if sp.op == opEqual && i > 0 && i+1 < len(spans) &&
			spans[i-1].op != opEqual && spans[i+1].op != opEqual && whitespaceOnly(sp.tokens) {
			out = append(out,
				span{op: opDelete, tokens: sp.old},
				span{op: opInsert, tokens: sp.tokens},
			)
			continue
		}
		out = append(out, sp)
	}
	return out
}

func whitespaceOnly(tokens []token) bool {
	for _, t := range tokens {
		if t.kind != tokenText || strings.TrimSpace(t.node.Text) != "" {
			return false
		}
	}
	return len(tokens) > 0
}

// tokenRune maps a token id to a valid rune, skipping the surrogate range
// which does not survive conversion to string.
func tokenRune(id int) rune {
	r := rune(id + 1)
	if r >= 0xD800 {
		r += 0x800
	}
	return r
}

// orderHunks puts the deleted side of every hunk before the inserted side
// and merges adjacent spans of the same kind.
func orderHunks(spans []span) []span {
	var out []span
	for i := 0; i < len(spans); {
		if spans[i].op == opEqual {
			out = appendSpan(out, spans[i])
			i++
			continue
		}
		var del, ins []token
		for ; i < len(spans) && spans[i].op != opEqual; i++ {
			if spans[i].op == opDelete {
				del = append(del, spans[i].tokens...)
			} else {
				ins = append(ins, spans[i].tokens...)
			}
		}
		if len(del) > 0 {
			out = append(out, span{op: opDelete, tokens: del})
		}
		if len(ins) > 0 {
			out = append(out, span{op: opInsert, tokens: ins})
		}
	}
	return out
}

// slideHunks moves each pure insertion or deletion along the run of equal
// tokens around it to the placement that keeps the most node boundaries
// paired, so a removed paragraph is reported as "<p>B</p>" rather than
// "B</p><p>". Sliding never changes either token sequence.
func slideHunks(spans []span) []span {
	for i := 1; i < len(spans); i++ {
		if spans[i].op == opEqual || spans[i-1].op != opEqual {
			continue
		}
		if i+1 < len(spans) && spans[i+1].op != opEqual {
			continue
		}
		var next []token
		if i+1 < len(spans) {
			next = spans[i+1].tokens
		}
		prevLen, n := len(spans[i-1].tokens), len(spans[i].tokens)
		combined := make([]token, 0, prevLen+n+len(next))
		combined = append(combined, spans[i-1].tokens...)
		combined = append(combined, spans[i].tokens...)
		combined = append(combined, next...)

		lo := prevLen
		for lo > 0 && combined[lo-1].key == combined[lo+n-1].key {
			lo--
		}
		best, bestScore := lo, -1
		for p := lo; ; p++ {
			if score := pairedCount(combined[p : p+n]); score > bestScore {
				best, bestScore = p, score
			}
			if p+n >= len(combined) || combined[p].key != combined[p+n].key {
				break
			}
		}

		spans[i-1].tokens = combined[:best]
		spans[i].tokens = combined[best : best+n]
		switch {
		case i+1 < len(spans):
			spans[i+1].tokens = combined[best+n:]
		case best+n < len(combined):
			// A trailing hunk slid left leaves equal tokens behind it.
			spans = append(spans, span{op: opEqual, tokens: combined[best+n:]})
		}
	}

	// Emptied equal spans can leave two hunks of the same kind adjacent.
	out := make([]span, 0, len(spans))
	for _, sp := range spans {
		if len(sp.tokens) > 0 {
			out = appendSpan(out, sp)
		}
	}
	return out
}

func pairedCount(tokens []token) int {
	count := 0
	for _, ok := range pairBoundaries(tokens) {
		if ok {
			count++
		}
	}
	return count
}

func appendSpan(spans []span, s span) []span {
	if last := len(spans) - 1; last >= 0 && spans[last].op == s.op {
		merged := make([]token, 0, len(spans[last].tokens)+len(s.tokens))
		merged = append(merged, spans[last].tokens...)
		spans[last].tokens = append(merged, s.tokens...)
		return spans
	}
	return append(spans, s)
}

// changesFromSpans converts spans to position hunks. Positions advance on
// the old side for equal and deleted tokens and on the new side for equal
// and inserted tokens.
func changesFromSpans(spans []span, start int) []Change {
	var changes []Change
	posA, posB := start, start
	for i := 0; i < len(spans); i++ {
		sp := spans[i]
		if sp.op == opEqual {
			size := tokensSize(sp.tokens)
			posA += size
			posB += size
			continue
		}
		ch := Change{FromA: posA, ToA: posA, FromB: posB, ToB: posB}
		if sp.op == opDelete {
			ch.ToA += tokensSize(sp.tokens)
			if i+1 < len(spans) && spans[i+1].op == opInsert {
				i++
				sp = spans[i]
			}
		}
		if sp.op == opInsert {
			ch.ToB += tokensSize(sp.tokens)
		}
		posA, posB = ch.ToA, ch.ToB
		changes = append(changes, ch)
	}
	return changes
}

func tokensSize(tokens []token) int {
	size := 0
	for _, t := range tokens {
		size += t.size
	}
	return size
}
