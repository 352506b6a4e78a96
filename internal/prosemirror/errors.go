package prosemirror

import (
	"fmt"
	"strings"
)

// InvalidTreeError reports a tree that is malformed or does not conform to
// the schema. Path locates the offending node, e.g. "doc.content[1]".
type InvalidTreeError struct {
	Path   string
	Reason string
}

func (e *InvalidTreeError) Error() string {
	if e.Path == "" {
		return "invalid tree: " + e.Reason
	}
	return fmt.Sprintf("invalid tree at %s: %s", e.Path, e.Reason)
}

// SchemaMismatchError reports a schema that lacks the diff marks.
type SchemaMismatchError struct {
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return "schema is missing diff marks: " + strings.Join(e.Missing, ", ")
}
