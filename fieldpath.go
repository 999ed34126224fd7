// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

// Scope identifies one of the six well-known top-level field class
// trees a field path can be rooted in.
type Scope int

// Scopes, in the fixed search order used by the resolver.
const (
	ScopePacketHeader Scope = iota
	ScopePacketContext
	ScopeEventHeader
	ScopeEventCommonContext
	ScopeEventSpecificContext
	ScopeEventPayload
)

func (s Scope) String() string {
	switch s {
	case ScopePacketHeader:
		return "packet-header"
	case ScopePacketContext:
		return "packet-context"
	case ScopeEventHeader:
		return "event-header"
	case ScopeEventCommonContext:
		return "event-common-context"
	case ScopeEventSpecificContext:
		return "event-specific-context"
	case ScopeEventPayload:
		return "event-payload"
	default:
		return "unknown-scope"
	}
}

// ArrayElementIndex marks a step in a FieldPath that descends into an
// array's or option's single element rather than a named member.
const ArrayElementIndex = ^uint64(0)

// FieldPath is a resolved, immutable reference: a scope plus the
// chain of structure-member/array-element indices from that scope's
// root down to the target field.
type FieldPath struct {
	Scope   Scope
	Indices []uint64
}

// ScopeContext gives the resolver the field classes already attached
// at each scope, in the state they have at the moment a reference is
// being resolved; the context grows as stream and event classes
// attach more scopes.
type ScopeContext struct {
	PacketHeader         *FieldClass
	PacketContext        *FieldClass
	EventHeader          *FieldClass
	EventCommonContext   *FieldClass
	EventSpecificContext *FieldClass
	EventPayload         *FieldClass
}

func (c ScopeContext) root(s Scope) *FieldClass {
	switch s {
	case ScopePacketHeader:
		return c.PacketHeader
	case ScopePacketContext:
		return c.PacketContext
	case ScopeEventHeader:
		return c.EventHeader
	case ScopeEventCommonContext:
		return c.EventCommonContext
	case ScopeEventSpecificContext:
		return c.EventSpecificContext
	case ScopeEventPayload:
		return c.EventPayload
	default:
		return nil
	}
}

// earlierScopesOf returns every scope strictly before s, in the fixed
// search order.
func earlierScopesOf(s Scope) []Scope {
	all := []Scope{ScopePacketHeader, ScopePacketContext, ScopeEventHeader,
		ScopeEventCommonContext, ScopeEventSpecificContext, ScopeEventPayload}
	out := make([]Scope, 0, len(all))
	for _, sc := range all {
		if sc >= s {
			break
		}
		out = append(out, sc)
	}
	return out
}

// locateChain returns the chain of field classes from root (inclusive)
// down to needle (inclusive), or ok=false if needle is not reachable
// from root through structures, static arrays, dynamic arrays,
// options or variants.
func locateChain(root, needle *FieldClass) ([]*FieldClass, bool) {
	if root == nil {
		return nil, false
	}
	if root == needle {
		return []*FieldClass{root}, true
	}
	switch root.kind {
	case KindStructure, KindVariant:
		for _, m := range root.members {
			if chain, ok := locateChain(m.fc, needle); ok {
				return append([]*FieldClass{root}, chain...), true
			}
		}
	case KindStaticArray, KindDynamicArray, KindOption:
		if root.element != nil {
			if chain, ok := locateChain(root.element, needle); ok {
				return append([]*FieldClass{root}, chain...), true
			}
		}
	}
	return nil, false
}

// indexOfChild returns child's position in parent's members (for
// Structure/Variant).
func indexOfChild(parent, child *FieldClass) int {
	for i, m := range parent.members {
		if m.fc == child {
			return i
		}
	}
	return -1
}

// resolveCandidate pairs a matching target field class with the
// downward index path from some search root to it, and the depth
// (ancestor distance) at which it was found, used to break ties in
// favor of the closest match.
type resolveCandidate struct {
	target *FieldClass
	path   []uint64
	depth  int
}

// searchSubtree recursively looks for a structure member
// named name reachable from fc through structures and static arrays
// only (dynamic arrays, options and variants are not descended into,
// matching the "path must traverse only structures and static
// arrays" rule). It returns every match with its index path from fc.
func searchSubtree(fc *FieldClass, name string, depth int) []resolveCandidate {
	var out []resolveCandidate
	switch fc.kind {
	case KindStructure:
		for i, m := range fc.members {
			if m.name == name {
				out = append(out, resolveCandidate{target: m.fc, path: []uint64{uint64(i)}, depth: depth + 1})
			}
			for _, sub := range searchSubtree(m.fc, name, depth+1) {
				sub.path = append([]uint64{uint64(i)}, sub.path...)
				out = append(out, sub)
			}
		}
	case KindStaticArray:
		for _, sub := range searchSubtree(fc.element, name, depth+1) {
			sub.path = append([]uint64{ArrayElementIndex}, sub.path...)
			out = append(out, sub)
		}
	}
	return out
}

// deepest returns the candidate with the greatest depth, matching
// "ties between candidates resolve by the deepest (closest) match".
func deepest(cands []resolveCandidate) (resolveCandidate, bool) {
	if len(cands) == 0 {
		return resolveCandidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.depth > best.depth {
			best = c
		}
	}
	return best, true
}

// Resolve searches for targetName relative to source (which lives at
// sourceScope in scopes) and returns a canonical, immutable FieldPath.
// On success the target field class is frozen.
func Resolve(scopes ScopeContext, sourceScope Scope, source *FieldClass, targetName string) (*FieldPath, error) {
	root := scopes.root(sourceScope)
	chain, ok := locateChain(root, source)
	if !ok || len(chain) == 0 {
		return nil, ErrResolveNotFound
	}

	var candidates []resolveCandidate
	var sawAnyMatchAtOrAfter bool

	// Step 2: walk upward from the source's own scope, checking
	// structure siblings strictly before the source at each level.
	for i := len(chain) - 2; i >= 0; i-- {
		parent := chain[i]
		if parent.kind != KindStructure {
			continue
		}
		srcIdx := indexOfChild(parent, chain[i+1])
		for idx, m := range parent.members {
			if m.name != targetName {
				continue
			}
			if idx < srcIdx {
				candidates = append(candidates, resolveCandidate{
					target: m.fc,
					path:   prefixPath(chain[:i+1], root, uint64(idx)),
					depth:  i + 1,
				})
			} else {
				sawAnyMatchAtOrAfter = true
			}
		}
	}

	if len(candidates) == 0 {
		// Step 3: search earlier scopes, in fixed order.
		for _, sc := range earlierScopesOf(sourceScope) {
			scRoot := scopes.root(sc)
			if scRoot == nil {
				continue
			}
			for _, c := range searchSubtree(scRoot, targetName, 0) {
				candidates = append(candidates, resolveCandidate{
					target: c.target,
					path:   c.path,
					depth:  len(c.path),
				})
			}
			if len(candidates) > 0 {
				return finalizeCandidates(candidates, sc)
			}
		}
	}

	if len(candidates) == 0 {
		if sawAnyMatchAtOrAfter {
			return nil, ErrResolveTargetAfterSource
		}
		if crossesDynamicOnly(scopes, sourceScope, targetName) {
			return nil, ErrResolveThroughDynamic
		}
		return nil, ErrResolveNotFound
	}

	return finalizeCandidates(candidates, sourceScope)
}

// searchSubtreeAny is the permissive counterpart of searchSubtree: it
// also descends into dynamic arrays, options and variants, so the
// resolver can tell "truly absent" (ErrResolveNotFound) apart from
// "only reachable by crossing a dynamic array or variant"
// (ErrResolveThroughDynamic).
func searchSubtreeAny(fc *FieldClass, name string) bool {
	switch fc.kind {
	case KindStructure, KindVariant:
		for _, m := range fc.members {
			if m.name == name {
				return true
			}
			if searchSubtreeAny(m.fc, name) {
				return true
			}
		}
	case KindStaticArray, KindDynamicArray, KindOption:
		if fc.element != nil {
			return searchSubtreeAny(fc.element, name)
		}
	}
	return false
}

// crossesDynamicOnly reports whether targetName is reachable at all
// from sourceScope's own tree or any earlier scope once dynamic
// arrays/options/variants are allowed to be crossed, used only to
// classify an otherwise-NotFound reference as ThroughDynamic instead.
func crossesDynamicOnly(scopes ScopeContext, sourceScope Scope, targetName string) bool {
	if root := scopes.root(sourceScope); root != nil && searchSubtreeAny(root, targetName) {
		return true
	}
	for _, sc := range earlierScopesOf(sourceScope) {
		if root := scopes.root(sc); root != nil && searchSubtreeAny(root, targetName) {
			return true
		}
	}
	return false
}

// prefixPath builds the index path from root down to the member at
// idx within ancestorChain's last element, reconstructing the
// structure-member indices walked through ancestorChain (skipping the
// root itself, which is implicit in the returned FieldPath's Scope).
func prefixPath(ancestorChain []*FieldClass, root *FieldClass, idx uint64) []uint64 {
	path := make([]uint64, 0, len(ancestorChain))
	for i := 0; i < len(ancestorChain)-1; i++ {
		parent := ancestorChain[i]
		child := ancestorChain[i+1]
		switch parent.kind {
		case KindStructure, KindVariant:
			path = append(path, uint64(indexOfChild(parent, child)))
		case KindStaticArray, KindDynamicArray, KindOption:
			path = append(path, ArrayElementIndex)
		}
	}
	path = append(path, idx)
	return path
}

func finalizeCandidates(candidates []resolveCandidate, scope Scope) (*FieldPath, error) {
	best, ok := deepest(candidates)
	if !ok {
		return nil, ErrResolveNotFound
	}
	// Earlier-scope candidates come from searchSubtree, which only
	// crosses structures and static arrays. Same-scope candidates are
	// direct members of a structure on the source's own ancestor
	// chain; the part of their path above that structure, built by
	// prefixPath, may pass through any container kind and is not
	// checked here.
	best.target.freeze()
	return &FieldPath{Scope: scope, Indices: best.path}, nil
}
