package resolve

import "github.com/a-h/spm/reference"

// Scope is a persistent, structurally-shared mapping from package name to
// the reference currently pinned for it along one path from the root to
// the node being resolved. Extending a Scope never mutates the parent, so
// concurrent siblings can each hold their own child Scope in O(1) without
// a deep copy of everything above them; a lookup walks up the parent
// chain, which in practice is bounded by dependency-tree depth rather
// than the tree's total size.
type Scope struct {
	parent *Scope
	name   string
	ref    reference.Reference
}

// NewScope returns the empty root scope.
func NewScope() *Scope { return nil }

// Extend returns a new Scope that shadows any existing entry for name
// with ref, without modifying s.
func (s *Scope) Extend(name string, ref reference.Reference) *Scope {
	return &Scope{parent: s, name: name, ref: ref}
}

// Lookup returns the reference pinned for name in s or an ancestor scope,
// walking from the most specific (innermost) binding outward.
func (s *Scope) Lookup(name string) (reference.Reference, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.name == name {
			return cur.ref, true
		}
	}
	return reference.Reference{}, false
}
