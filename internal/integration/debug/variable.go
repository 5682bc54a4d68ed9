package debug

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dshills/dbgp/internal/dbgp"
)

// Context identifiers the engine reports by default.
const (
	ContextLocals  = 0
	ContextGlobals = 1
)

// Context is one variable scope reported by context_names.
type Context struct {
	ID   int
	Name string
}

// Property is a variable or expression result as the engine rendered it.
type Property struct {
	// Name is the short name, FullName the expression that reaches it.
	Name     string
	FullName string

	// Type is the language type, ClassName the class for objects.
	Type      string
	ClassName string
	Facet     string

	// Value is the decoded value. Containers usually have none.
	Value string
	Size  int

	HasChildren bool
	NumChildren int
	Page        int
	PageSize    int

	// Children holds the materialized page of children.
	Children []*Property

	Key     string
	Address string

	// ContextID and Depth locate the property for follow-up requests.
	ContextID int
	Depth     int
}

// IsError reports whether the property stands for a failed lookup.
func (p *Property) IsError() bool {
	return p.Type == "exception" || p.Type == "Error"
}

// MorePages reports whether children beyond the loaded page exist.
func (p *Property) MorePages() bool {
	if !p.HasChildren || p.PageSize == 0 {
		return false
	}
	return (p.Page+1)*p.PageSize < p.NumChildren
}

// parseProperty reads a <property> element. Names and values come either
// as child tags or as attributes and text.
func parseProperty(n *dbgp.Node, context, depth int) *Property {
	p := &Property{
		Name:        n.Attr("name"),
		FullName:    n.Attr("fullname"),
		Type:        n.Attr("type"),
		ClassName:   n.Attr("classname"),
		Facet:       n.Attr("facet"),
		Size:        n.AttrInt("size"),
		HasChildren: n.AttrBool("children"),
		NumChildren: n.AttrInt("numchildren"),
		Page:        n.AttrInt("page"),
		PageSize:    n.AttrInt("pagesize"),
		Key:         n.Attr("key"),
		Address:     n.Attr("address"),
		ContextID:   context,
		Depth:       depth,
	}
	if c := n.Child("name"); c != nil {
		p.Name = c.StringValue()
	}
	if c := n.Child("fullname"); c != nil {
		p.FullName = c.StringValue()
	}
	if p.FullName == "" {
		p.FullName = p.Name
	}

	if c := n.Child("value"); c != nil {
		p.Value = c.StringValue()
	} else {
		p.Value = strings.TrimSpace(n.StringValue())
	}

	for _, c := range n.ChildrenNamed("property") {
		p.Children = append(p.Children, parseProperty(c, context, depth))
	}
	return p
}

// errorProperty stands in for a lookup that failed.
func errorProperty(name string, context, depth int, err error) *Property {
	msg := err.Error()
	var de *dbgp.Error
	if errors.As(err, &de) {
		msg = de.Message
	}
	return &Property{
		Name:      name,
		FullName:  name,
		Type:      "exception",
		Value:     msg,
		ContextID: context,
		Depth:     depth,
	}
}

// TypeMapping maps a language type to its common DBGP type.
type TypeMapping struct {
	Type    string
	Name    string
	XSIType string
}

func parseTypeMap(n *dbgp.Node) []TypeMapping {
	var out []TypeMapping
	for _, m := range n.ChildrenNamed("map") {
		out = append(out, TypeMapping{
			Type:    m.Attr("type"),
			Name:    m.Attr("name"),
			XSIType: m.Attr("xsi:type"),
		})
	}
	return out
}

// VariableInspector keeps watch expressions and evaluates them at each
// break.
type VariableInspector struct {
	session *Session
	mu      sync.RWMutex

	watches      []string
	watchResults []*Property
}

// NewVariableInspector creates a new variable inspector.
func NewVariableInspector(session *Session) *VariableInspector {
	return &VariableInspector{session: session}
}

// Scopes returns the contexts of the frame at depth with their variables.
func (v *VariableInspector) Scopes(ctx context.Context, depth int) (map[Context][]*Property, error) {
	names, err := v.session.ContextNames(ctx, depth)
	if err != nil {
		return nil, fmt.Errorf("context names: %w", err)
	}
	out := make(map[Context][]*Property, len(names))
	for _, c := range names {
		props, err := v.session.ContextGet(ctx, c.ID, depth)
		if err != nil {
			return nil, fmt.Errorf("context %s: %w", c.Name, err)
		}
		out[c] = props
	}
	return out, nil
}

// Expand fetches the next page of children of p.
func (v *VariableInspector) Expand(ctx context.Context, p *Property) error {
	if !p.HasChildren {
		return nil
	}
	page := 0
	if len(p.Children) > 0 {
		page = p.Page + 1
	}
	got, err := v.session.PropertyGet(ctx, PropertyRequest{
		Context: p.ContextID,
		Depth:   p.Depth,
		Name:    p.FullName,
		Page:    page,
	})
	if err != nil {
		return err
	}
	p.Children = append(p.Children, got.Children...)
	p.Page = got.Page
	p.PageSize = got.PageSize
	p.NumChildren = got.NumChildren
	return nil
}

// AddWatch adds a watch expression.
func (v *VariableInspector) AddWatch(expression string) {
	v.mu.Lock()
	v.watches = append(v.watches, expression)
	v.mu.Unlock()
}

// RemoveWatch removes a watch expression by index.
func (v *VariableInspector) RemoveWatch(index int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if index < 0 || index >= len(v.watches) {
		return fmt.Errorf("watch index %d out of range", index)
	}
	v.watches = append(v.watches[:index], v.watches[index+1:]...)
	if index < len(v.watchResults) {
		v.watchResults = append(v.watchResults[:index], v.watchResults[index+1:]...)
	}
	return nil
}

// Watches returns the current watch expressions.
func (v *VariableInspector) Watches() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]string, len(v.watches))
	copy(out, v.watches)
	return out
}

// WatchResults returns the results of the last UpdateWatches.
func (v *VariableInspector) WatchResults() []*Property {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]*Property, len(v.watchResults))
	copy(out, v.watchResults)
	return out
}

// UpdateWatches evaluates every watch expression. Failed evaluations
// produce exception properties.
func (v *VariableInspector) UpdateWatches(ctx context.Context) {
	watches := v.Watches()

	results := make([]*Property, len(watches))
	for i, expr := range watches {
		p, err := v.session.Eval(ctx, expr)
		if err != nil {
			p = errorProperty(expr, ContextLocals, 0, err)
		}
		results[i] = p
	}

	v.mu.Lock()
	v.watchResults = results
	v.mu.Unlock()
}

// FormatProperty renders "name: type = value".
func FormatProperty(p *Property) string {
	if p.Type != "" {
		return fmt.Sprintf("%s: %s = %s", p.Name, p.Type, p.Value)
	}
	return fmt.Sprintf("%s = %s", p.Name, p.Value)
}
