package document

import (
	"sort"
	"strings"
)

// Filter narrows a projection. An empty Status matches every status; an
// empty Query matches every title.
type Filter struct {
	Status Status
	Query  string
}

// Latest collapses revisions to the newest one per logical id. The result
// is ordered most recently changed first, ties broken by id.
func Latest(revs []Revision) []Revision {
	newest := make(map[string]Revision, len(revs))
	for _, r := range revs {
		if cur, ok := newest[r.ID]; !ok || r.Newer(cur) {
			newest[r.ID] = r
		}
	}

	out := make([]Revision, 0, len(newest))
	for _, r := range newest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		if out[i].Seq != out[j].Seq {
			return out[i].Seq > out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// LatestOf returns the newest revision in revs.
func LatestOf(revs []Revision) (Revision, bool) {
	if len(revs) == 0 {
		return Revision{}, false
	}
	latest := revs[0]
	for _, r := range revs[1:] {
		if r.Newer(latest) {
			latest = r
		}
	}
	return latest, true
}

// Project returns the current row of every document matching f. Each
// returned revision has its effective status written into Metadata.Status.
// Project does not modify its input and Project(Project(x, f), f) equals
// Project(x, f).
func Project(revs []Revision, f Filter) []Revision {
	query := strings.ToLower(strings.TrimSpace(f.Query))
	out := []Revision{}
	for _, r := range Latest(revs) {
		status := r.Metadata.EffectiveStatus()
		if f.Status != "" && status != f.Status {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(r.Title), query) {
			continue
		}
		r.Metadata.Status = status
		out = append(out, r)
	}
	return out
}
