package feed

import "strings"

// valueKeys name the child or attribute an object-shaped entry carries its
// value under, e.g. <image><url>…</url></image> or <photo url="…"/>.
var valueKeys = []string{"url", "text", "href", "src"}

// Node is a generic XML element. Accessors hide whether a field was written
// as an attribute, a single child, a repeated child or a wrapped list.
type Node struct {
	Name     string
	Attrs    map[string]string
	Children []*Node
	Value    string
}

// Child returns the first child element called name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// All returns every child element called name, in document order.
func (n *Node) All(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Attr returns the attribute called name, or "".
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Attrs[name])
}

// Scalar returns the node's own text. Object-shaped nodes fall back to a
// url/text child or attribute.
func (n *Node) Scalar() string {
	if n == nil {
		return ""
	}
	if n.Value != "" {
		return n.Value
	}
	for _, k := range valueKeys {
		for name, v := range n.Attrs {
			if strings.EqualFold(name, k) && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		for _, c := range n.Children {
			if strings.EqualFold(c.Name, k) && c.Value != "" {
				return c.Value
			}
		}
	}
	return ""
}

// Text returns field key of n: the first child element called key, or
// failing that an attribute called key. Repeated children collapse to the
// first one.
func (n *Node) Text(key string) string {
	if n == nil {
		return ""
	}
	if c := n.Child(key); c != nil {
		if v := c.Scalar(); v != "" {
			return v
		}
	}
	return n.Attr(key)
}

// Array walks path (wrapper elements then the item name) and returns the
// items. A wrapper holding a bare value instead of items counts as a single
// item.
func (n *Node) Array(path ...string) []*Node {
	if n == nil || len(path) == 0 {
		return nil
	}
	cur := n
	for _, p := range path[:len(path)-1] {
		cur = cur.Child(p)
		if cur == nil {
			return nil
		}
	}
	items := cur.All(path[len(path)-1])
	if len(items) == 0 && cur != n && cur.Value != "" {
		return []*Node{cur}
	}
	return items
}

// Lookup resolves a path expression such as "id", "localisation/ville" or
// "id@mandateKey". The part after '@' is read as an attribute of the
// addressed element, falling back to a child element of the same name.
func (n *Node) Lookup(path string) string {
	elem, attr, hasAttr := strings.Cut(path, "@")
	cur := n
	segs := strings.Split(elem, "/")
	for i, seg := range segs {
		if seg == "" {
			continue
		}
		if i == len(segs)-1 && !hasAttr {
			return cur.Text(seg)
		}
		cur = cur.Child(seg)
		if cur == nil {
			return ""
		}
	}
	if !hasAttr {
		return cur.Scalar()
	}
	if v := cur.Attr(attr); v != "" {
		return v
	}
	return cur.Child(attr).Scalar()
}
