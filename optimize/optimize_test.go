package optimize

import (
	"testing"

	"github.com/a-h/spm/reference"
	"github.com/a-h/spm/resolve"
)

func leaf(name, version string) *resolve.Node {
	return &resolve.Node{Descriptor: resolve.Descriptor{Name: name, Reference: reference.Parse(version)}}
}

func node(name, version string, children ...*resolve.Node) *resolve.Node {
	return &resolve.Node{Descriptor: resolve.Descriptor{Name: name, Reference: reference.Parse(version)}, Children: children}
}

func names(nodes []*resolve.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Descriptor.Name
	}
	return out
}

func TestHoistingNoConflict(t *testing.T) {
	root := &resolve.Node{Children: []*resolve.Node{
		node("a", "1.0.0", leaf("c", "1.0.0")),
		node("b", "1.0.0", leaf("c", "1.0.0")),
	}}
	got := Optimize(root)

	if diff := names(got.Children); len(diff) != 3 {
		t.Fatalf("root children = %v, want 3 entries", diff)
	}
	for _, child := range got.Children {
		if child.Descriptor.Name != "c" && len(child.Children) != 0 {
			t.Errorf("%s should have had its c child hoisted away, got %v", child.Descriptor.Name, names(child.Children))
		}
	}
}

func TestHoistingVersionConflictPreservesDepth(t *testing.T) {
	root := &resolve.Node{Children: []*resolve.Node{
		node("a", "1.0.0", leaf("c", "1.0.0")),
		node("b", "1.0.0", leaf("c", "2.0.0")),
	}}
	got := Optimize(root)

	// Exactly one copy of c ends up at root; the other remains nested.
	rootHasC := findByName(got.Children, "c") != nil
	nestedCount := 0
	for _, child := range got.Children {
		if findByName(child.Children, "c") != nil {
			nestedCount++
		}
	}
	if !rootHasC {
		t.Error("expected one c hoisted to root")
	}
	if nestedCount != 1 {
		t.Errorf("expected exactly one nested c, got %d", nestedCount)
	}
}

func TestOptimizeDoesNotMutateInput(t *testing.T) {
	root := &resolve.Node{Children: []*resolve.Node{
		node("a", "1.0.0", leaf("c", "1.0.0")),
	}}
	Optimize(root)
	if len(root.Children[0].Children) != 1 {
		t.Error("original tree should be unmodified by Optimize")
	}
}

func TestOptimizeUniqueNamesAtEachLevel(t *testing.T) {
	root := &resolve.Node{Children: []*resolve.Node{
		node("a", "1.0.0", leaf("c", "1.0.0"), leaf("d", "1.0.0")),
		node("b", "1.0.0", leaf("c", "1.0.0")),
	}}
	got := Optimize(root)
	seen := map[string]bool{}
	for _, c := range got.Children {
		if seen[c.Descriptor.Name] {
			t.Fatalf("duplicate name %q among root children", c.Descriptor.Name)
		}
		seen[c.Descriptor.Name] = true
	}
}
