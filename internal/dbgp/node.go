package dbgp

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Node is a parsed XML element from a DBGP message.
type Node struct {
	Name     string
	Attrs    map[string]string
	Children []*Node
	// Text is the concatenated character data, CDATA included.
	Text string
}

// ParseNode parses a message payload into its root element.
func ParseNode(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var stack []*Node
	var root *Node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &Node{Name: t.Name.Local, Attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				n.Attrs[attrKey(a.Name)] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			} else if root == nil {
				root = n
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += string(t)
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("parse xml: no root element: %w", ErrProtocol)
	}
	return root, nil
}

func attrKey(name xml.Name) string {
	switch {
	case name.Space == "":
		return name.Local
	case strings.HasSuffix(name.Space, "XMLSchema-instance") || name.Space == "xsi":
		return "xsi:" + name.Local
	case strings.HasSuffix(name.Space, "XMLSchema") || name.Space == "xsd":
		return "xsd:" + name.Local
	default:
		return name.Local
	}
}

// Attr returns an attribute value, empty when missing.
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	return n.Attrs[name]
}

// HasAttr reports whether the attribute is present.
func (n *Node) HasAttr(name string) bool {
	if n == nil {
		return false
	}
	_, ok := n.Attrs[name]
	return ok
}

// AttrInt returns an integer attribute, 0 when missing or malformed.
func (n *Node) AttrInt(name string) int {
	v, err := strconv.Atoi(strings.TrimSpace(n.Attr(name)))
	if err != nil {
		return 0
	}
	return v
}

// AttrBool reports whether an attribute is "1" or "true".
func (n *Node) AttrBool(name string) bool {
	switch strings.TrimSpace(n.Attr(name)) {
	case "1", "true":
		return true
	}
	return false
}

// Child returns the first child with the given name.
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

// ChildrenNamed returns all children with the given name.
func (n *Node) ChildrenNamed(name string) []*Node {
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

// Value decodes the element text according to its encoding attribute.
func (n *Node) Value() ([]byte, error) {
	if n == nil {
		return nil, nil
	}
	if n.Attr("encoding") == "base64" {
		clean := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, n.Text)
		out, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			return nil, fmt.Errorf("decode base64 value: %w", err)
		}
		return out, nil
	}
	return []byte(UnescapeText(n.Text)), nil
}

// StringValue is Value ignoring decode errors.
func (n *Node) StringValue() string {
	v, err := n.Value()
	if err != nil {
		return n.Text
	}
	return string(v)
}

// Err returns the <error> carried by a response, or nil.
func (n *Node) Err() *Error {
	e := n.Child("error")
	if e == nil {
		return nil
	}
	msg := ""
	if m := e.Child("message"); m != nil {
		msg = m.Text
	}
	return &Error{Code: ErrorCode(e.AttrInt("code")), Message: msg}
}
