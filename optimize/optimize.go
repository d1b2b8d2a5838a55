// Package optimize hoists duplicate dependency subtrees to the shallowest
// position where they remain unambiguous, shrinking the depth of the tree
// the Linker has to walk.
package optimize

import (
	"log/slog"

	"github.com/a-h/spm/resolve"
)

// Optimize returns a structurally-copied tree with grandchildren hoisted
// one level up wherever doing so does not create a name collision. root
// is never mutated.
func Optimize(root *resolve.Node) *resolve.Node {
	return optimizeNode(copyNode(root))
}

// copyNode deep-copies a node and its children, so the optimizer's
// in-place hoisting on the copy never touches the tree the Resolver
// produced.
func copyNode(n *resolve.Node) *resolve.Node {
	if n == nil {
		return nil
	}
	children := make([]*resolve.Node, len(n.Children))
	for i, c := range n.Children {
		children[i] = copyNode(c)
	}
	return &resolve.Node{Descriptor: n.Descriptor, Children: children}
}

// optimizeNode performs one bottom-up pass: children are optimized first,
// then this node attempts to hoist each child's children into itself.
func optimizeNode(n *resolve.Node) *resolve.Node {
	for _, child := range n.Children {
		optimizeNode(child)
	}
	for _, child := range n.Children {
		// Iterate a snapshot since hoist mutates child.Children as it goes.
		grandchildren := append([]*resolve.Node(nil), child.Children...)
		for _, g := range grandchildren {
			hoist(n, child, g)
		}
	}
	return n
}

// hoist attempts to lift grandchild g, currently a child of parent, up
// into current's children.
func hoist(current, parent, g *resolve.Node) {
	sibling := findByName(current.Children, g.Descriptor.Name)
	switch {
	case sibling == nil:
		slog.Debug("hoisting dependency", slog.String("name", g.Descriptor.Name), slog.String("reference", g.Descriptor.Reference.Raw))
		current.Children = append(current.Children, g)
		removeByName(parent, g.Descriptor.Name)
	case sibling.Descriptor.Reference.Equal(g.Descriptor.Reference):
		removeByName(parent, g.Descriptor.Name)
	default:
		slog.Debug("version conflict, leaving dependency nested", slog.String("name", g.Descriptor.Name), slog.String("nested", g.Descriptor.Reference.Raw), slog.String("hoisted", sibling.Descriptor.Reference.Raw))
	}
}

func findByName(nodes []*resolve.Node, name string) *resolve.Node {
	for _, n := range nodes {
		if n.Descriptor.Name == name {
			return n
		}
	}
	return nil
}

// removeByName deletes the first child of parent named name.
func removeByName(parent *resolve.Node, name string) {
	for i, c := range parent.Children {
		if c.Descriptor.Name == name {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return
		}
	}
}
