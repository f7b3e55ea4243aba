package serializer

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Node is one element of the canonical XML tree every data-type serializer
// converts to and from (spec.md §4.1). It is a bespoke tree rather than
// encoding/xml's generic decode target because HL7/X12/NCPDP field order,
// repeated segments, and empty-vs-absent distinctions must all survive a
// round trip — collapsing into a map[string]any would lose exactly that
// fidelity.
type Node struct {
	Name     string
	Attrs    []Attr
	Text     string
	Children []*Node
}

// Attr is a single XML attribute, kept as an ordered slice (not a map) so
// attribute order is stable across serialize/deserialize cycles.
type Attr struct {
	Name  string
	Value string
}

// NewNode creates a childless node with the given name.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// AddChild appends and returns a new child node.
func (n *Node) AddChild(name string) *Node {
	child := NewNode(name)
	n.Children = append(n.Children, child)
	return child
}

// SetAttr sets (or replaces) an attribute value.
func (n *Node) SetAttr(name, value string) {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}

// Attr returns an attribute value and whether it was present.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Find returns the first direct child with the given name, or nil.
func (n *Node) Find(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindAll returns every direct child with the given name.
func (n *Node) FindAll(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// CanonicalXML wraps a root Node — the data-type-neutral representation
// exchanged between pipeline stages (spec.md Glossary: "Canonical XML").
type CanonicalXML struct {
	Root *Node
}

// Marshal renders the tree as well-formed XML text.
func (c *CanonicalXML) Marshal() ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(xml.Header)
	writeNode(&sb, c.Root)
	return []byte(sb.String()), nil
}

func writeNode(sb *strings.Builder, n *Node) {
	fmt.Fprintf(sb, "<%s", xml.Name{Local: n.Name}.Local)
	for _, a := range n.Attrs {
		fmt.Fprintf(sb, ` %s="%s"`, a.Name, escapeXML(a.Value))
	}
	if len(n.Children) == 0 && n.Text == "" {
		sb.WriteString("/>")
		return
	}
	sb.WriteString(">")
	if n.Text != "" {
		sb.WriteString(escapeXML(n.Text))
	}
	for _, c := range n.Children {
		writeNode(sb, c)
	}
	fmt.Fprintf(sb, "</%s>", n.Name)
}

func escapeXML(s string) string {
	var sb strings.Builder
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}

// ParseCanonicalXML parses XML text produced by Marshal (or any other
// well-formed XML) back into a Node tree.
func ParseCanonicalXML(data []byte) (*CanonicalXML, error) {
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	var root *Node
	var stack []*Node
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parsing canonical xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := NewNode(t.Name.Local)
			for _, a := range t.Attr {
				n.SetAttr(a.Name.Local, a.Value)
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			} else {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				text := strings.TrimSpace(string(t))
				if text != "" {
					stack[len(stack)-1].Text += text
				}
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("canonical xml had no root element")
	}
	return &CanonicalXML{Root: root}, nil
}
