package prosemirror

// Normalize returns a copy of the tree with empty text nodes removed and
// adjacent text nodes carrying identical marks merged.
func Normalize(n Node) Node {
	out := n.shallow()
	if len(n.Content) == 0 {
		return out
	}
	content := make([]Node, 0, len(n.Content))
	for _, child := range n.Content {
		if child.IsText() {
			if child.Text == "" {
				continue
			}
			if last := len(content) - 1; last >= 0 && content[last].IsText() && marksEqual(content[last].Marks, child.Marks) {
				content[last].Text += child.Text
				continue
			}
			content = append(content, child.Clone())
			continue
		}
		content = append(content, Normalize(child))
	}
	if len(content) > 0 {
		out.Content = content
	}
	return out
}

// StripMarks returns a normalized copy of the tree with every mark of the
// given type removed.
func StripMarks(n Node, markType string) Node {
	return Normalize(stripMarks(n, markType))
}

func stripMarks(n Node, markType string) Node {
	out := n.shallow()
	out.Marks = removeMark(out.Marks, markType)
	if len(out.Marks) == 0 {
		out.Marks = nil
	}
	for _, child := range n.Content {
		out.Content = append(out.Content, stripMarks(child, markType))
	}
	return out
}

// DropMarked returns a normalized copy of the tree without the nodes that
// carry the given mark.
func DropMarked(n Node, markType string) Node {
	return Normalize(dropMarked(n, markType))
}

func dropMarked(n Node, markType string) Node {
	out := n.shallow()
	for _, child := range n.Content {
		if child.HasMark(markType) {
			continue
		}
		out.Content = append(out.Content, dropMarked(child, markType))
	}
	return out
}

// AcceptChanges resolves a merged diff tree to its new side.
func AcceptChanges(merged Node) Node {
	return StripMarks(DropMarked(merged, MarkDeleted), MarkInserted)
}

// RejectChanges resolves a merged diff tree to its old side.
func RejectChanges(merged Node) Node {
	return StripMarks(DropMarked(merged, MarkInserted), MarkDeleted)
}
