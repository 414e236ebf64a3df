package core

// streams.go clones a template depot's stream hierarchy for a new depot.
//
// The resolver fetches every stream under the template, strips the
// volatile fields the server computes itself, rewrites the template depot
// name to the new depot name across all attributes, and orders the result
// so parents always precede their children.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrStreamCycle is returned when walking parent links does not terminate,
// which means the fetched stream set is malformed.
var ErrStreamCycle = errors.New("cycle detected in stream parent links")

// volatileStreamFields are server-computed fields dropped before a cloned
// spec is submitted; the server regenerates them on create.
var volatileStreamFields = []string{
	"Update",
	"Access",
	"baseParent",
	"streamSpecDigest",
	"firmerThanParent",
}

// ResolveStreamHierarchy fetches the template depot's streams, rewrites
// them for newDepot, and returns them ordered parent-first. The rewrite is
// a plain substring substitution of the template depot name everywhere in
// the stream spec; a template name that happens to appear inside an unrelated
// token is rewritten too (accepted limitation of the template convention).
func ResolveStreamHierarchy(ctx context.Context, b AdminBackend, templateDepot, newDepot string) ([]StreamSpec, error) {
	ids, err := b.ListStreamsUnder(ctx, templateDepot)
	if err != nil {
		return nil, fmt.Errorf("list streams under //%s: %w", templateDepot, err)
	}

	specs := make([]StreamSpec, 0, len(ids))
	for _, id := range ids {
		spec, err := b.GetStreamSpec(ctx, id.Path)
		if err != nil {
			return nil, fmt.Errorf("fetch stream %s: %w", id.Path, err)
		}
		specs = append(specs, rewriteStream(spec, templateDepot, newDepot))
	}

	if err := sortByParentChain(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// rewriteStream strips volatile fields and substitutes the depot name in
// every string and list attribute, including Path, Parent, and Kind-adjacent
// fields like Name.
func rewriteStream(spec StreamSpec, oldName, newName string) StreamSpec {
	out := StreamSpec{
		Path:   strings.ReplaceAll(spec.Path, oldName, newName),
		Parent: strings.ReplaceAll(spec.Parent, oldName, newName),
		Kind:   spec.Kind,
	}

	if len(spec.Attrs) > 0 {
		out.Attrs = make(map[string]string, len(spec.Attrs))
		for k, v := range spec.Attrs {
			if isVolatileStreamField(k) {
				continue
			}
			out.Attrs[k] = strings.ReplaceAll(v, oldName, newName)
		}
	}
	if len(spec.ListAttrs) > 0 {
		out.ListAttrs = make(map[string][]string, len(spec.ListAttrs))
		for k, list := range spec.ListAttrs {
			if isVolatileStreamField(k) {
				continue
			}
			rewritten := make([]string, len(list))
			for i, v := range list {
				rewritten[i] = strings.ReplaceAll(v, oldName, newName)
			}
			out.ListAttrs[k] = rewritten
		}
	}
	return out
}

func isVolatileStreamField(name string) bool {
	for _, f := range volatileStreamFields {
		if f == name {
			return true
		}
	}
	return false
}

// sortByParentChain orders specs so any stream's parent (when present in
// the set) sorts strictly before it. Each stream's sort key is its full
// ancestor chain of paths from root to itself; a parent's chain is a
// prefix of its children's chains, so lexicographic order on chains gives
// the parent-first property.
func sortByParentChain(specs []StreamSpec) error {
	byPath := make(map[string]*StreamSpec, len(specs))
	for i := range specs {
		byPath[specs[i].Path] = &specs[i]
	}

	chains := make(map[string][]string, len(specs))
	for i := range specs {
		chain, err := parentChain(&specs[i], byPath, len(specs))
		if err != nil {
			return err
		}
		chains[specs[i].Path] = chain
	}

	sort.SliceStable(specs, func(i, j int) bool {
		return compareChains(chains[specs[i].Path], chains[specs[j].Path]) < 0
	})
	return nil
}

// parentChain walks parent links within the fetched set, returning the
// path sequence root..stream. The walk is bounded by the set size; running
// past it means the parent links form a cycle.
func parentChain(s *StreamSpec, byPath map[string]*StreamSpec, max int) ([]string, error) {
	var chain []string
	cur := s
	for steps := 0; cur != nil; steps++ {
		if steps > max {
			return nil, fmt.Errorf("%w: at %s", ErrStreamCycle, s.Path)
		}
		chain = append([]string{cur.Path}, chain...)
		if !cur.HasParent() {
			break
		}
		cur = byPath[cur.Parent] // nil when the parent is outside the set
	}
	return chain, nil
}

func compareChains(a, b []string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return strings.Compare(a[i], b[i])
		}
	}
	return len(a) - len(b)
}
