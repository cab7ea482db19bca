package der

// DefaultMaxDepth caps nesting of constructed elements. A CMS receipt
// carrying certificates reaches depth 10 at its deepest extension value.
const DefaultMaxDepth = 12

// Node is a TLV together with its decoded children. Primitive elements have
// no children. A child's byte range is always inside its parent's content.
type Node struct {
	TLV
	Children []*Node
}

// Options configures tree parsing. The zero value uses defaults.
type Options struct {
	// MaxDepth bounds nesting; the top-level element is depth 1.
	MaxDepth int
	// Base is added to every offset.
	Base int
}

// Parse decodes buf as a single DER element and all of its descendants.
func Parse(buf []byte) (*Node, error) {
	return Options{}.Parse(buf)
}

// Parse decodes buf as a single DER element and all of its descendants.
func (o Options) Parse(buf []byte) (*Node, error) {
	maxDepth := o.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	t, err := ParseSingle(buf, o.Base)
	if err != nil {
		return nil, err
	}
	return buildNode(t, 1, maxDepth)
}

func buildNode(t TLV, depth, maxDepth int) (*Node, error) {
	if depth > maxDepth {
		return nil, syntaxErr(ErrMaxDepth, t.Offset, "depth %d exceeds %d", depth, maxDepth)
	}
	n := &Node{TLV: t}
	if !t.Tag.Constructed {
		return n, nil
	}
	r := t.Reader()
	for !r.Empty() {
		child, err := r.Next()
		if err != nil {
			return nil, err
		}
		c, err := buildNode(child, depth+1, maxDepth)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, c)
	}
	return n, nil
}

// Count returns the number of nodes in the subtree rooted at n.
func (n *Node) Count() int {
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}
