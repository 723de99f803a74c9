package a2ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind names one variant of the closed component vocabulary.
type Kind string

const (
	KindColumn    Kind = "Column"
	KindRow       Kind = "Row"
	KindList      Kind = "List"
	KindText      Kind = "Text"
	KindButton    Kind = "Button"
	KindTextField Kind = "TextField"
	KindCard      Kind = "Card"
	KindIcon      Kind = "Icon"
	KindDropdown  Kind = "Dropdown"
)

// Props is implemented by the pointer types below and nothing else.
type Props interface {
	Kind() Kind
	// refs lists component ids this component points at.
	refs() []string
}

var newProps = map[Kind]func() Props{
	KindColumn:    func() Props { return &Column{} },
	KindRow:       func() Props { return &Row{} },
	KindList:      func() Props { return &List{} },
	KindText:      func() Props { return &Text{} },
	KindButton:    func() Props { return &Button{} },
	KindTextField: func() Props { return &TextField{} },
	KindCard:      func() Props { return &Card{} },
	KindIcon:      func() Props { return &Icon{} },
	KindDropdown:  func() Props { return &Dropdown{} },
}

// KnownKind reports whether k is in the vocabulary.
func KnownKind(k Kind) bool {
	_, ok := newProps[k]
	return ok
}

// BoundValue is either a literal or a data model path.
type BoundValue struct {
	LiteralString  *string  `json:"literalString,omitempty"`
	LiteralNumber  *float64 `json:"literalNumber,omitempty"`
	LiteralBoolean *bool    `json:"literalBoolean,omitempty"`
	Path           string   `json:"path,omitempty"`
}

func Literal(s string) BoundValue { return BoundValue{LiteralString: &s} }

func Path(p string) BoundValue { return BoundValue{Path: p} }

// Children is an explicit list of child component ids.
type Children struct {
	ExplicitList []string `json:"explicitList"`
}

func ChildList(ids ...string) Children { return Children{ExplicitList: ids} }

type ContextEntry struct {
	Key   string     `json:"key"`
	Value BoundValue `json:"value"`
}

// Action is what a Button sends back as a userAction.
type Action struct {
	Name    string         `json:"name"`
	Context []ContextEntry `json:"context,omitempty"`
}

type Column struct {
	Children     Children `json:"children"`
	Distribution string   `json:"distribution,omitempty"`
	Alignment    string   `json:"alignment,omitempty"`
}

func (*Column) Kind() Kind { return KindColumn }
func (c *Column) refs() []string { return c.Children.ExplicitList }

type Row struct {
	Children     Children `json:"children"`
	Distribution string   `json:"distribution,omitempty"`
	Alignment    string   `json:"alignment,omitempty"`
}

func (*Row) Kind() Kind { return KindRow }
func (r *Row) refs() []string { return r.Children.ExplicitList }

// List is the generic container.
type List struct {
	Children  Children `json:"children"`
	Direction string   `json:"direction,omitempty"`
}

func (*List) Kind() Kind { return KindList }
func (l *List) refs() []string { return l.Children.ExplicitList }

type Text struct {
	Text      BoundValue `json:"text"`
	UsageHint string     `json:"usageHint,omitempty"`
}

func (*Text) Kind() Kind { return KindText }
func (*Text) refs() []string { return nil }

type Button struct {
	Child   string `json:"child"`
	Action  Action `json:"action"`
	Primary bool   `json:"primary,omitempty"`
}

func (*Button) Kind() Kind { return KindButton }
func (b *Button) refs() []string { return []string{b.Child} }

type TextField struct {
	Label         BoundValue  `json:"label"`
	Text          *BoundValue `json:"text,omitempty"`
	TextFieldType string      `json:"textFieldType,omitempty"`
}

func (*TextField) Kind() Kind { return KindTextField }
func (*TextField) refs() []string { return nil }

type Card struct {
	Child string `json:"child"`
}

func (*Card) Kind() Kind { return KindCard }
func (c *Card) refs() []string { return []string{c.Child} }

type Icon struct {
	Name BoundValue `json:"name"`
}

func (*Icon) Kind() Kind { return KindIcon }
func (*Icon) refs() []string { return nil }

type Option struct {
	Label BoundValue `json:"label"`
	Value string     `json:"value"`
}

type Dropdown struct {
	Label     BoundValue `json:"label"`
	Options   []Option   `json:"options"`
	Selection BoundValue `json:"selection"`
}

func (*Dropdown) Kind() Kind { return KindDropdown }
func (*Dropdown) refs() []string { return nil }

// Component is one node of a surface tree. On the wire it is
// {"id": ..., "component": {"<Kind>": {...props}}}.
type Component struct {
	ID    string
	Props Props
}

type componentWire struct {
	ID        string                     `json:"id"`
	Component map[string]json.RawMessage `json:"component"`
}

func (c Component) MarshalJSON() ([]byte, error) {
	if c.Props == nil {
		return nil, &ValidationError{ComponentID: c.ID, Reason: "component has no kind"}
	}
	body, err := json.Marshal(c.Props)
	if err != nil {
		return nil, err
	}
	return json.Marshal(componentWire{
		ID:        c.ID,
		Component: map[string]json.RawMessage{string(c.Props.Kind()): body},
	})
}

// UnmarshalJSON rejects anything outside the vocabulary instead of
// carrying it as an opaque map.
func (c *Component) UnmarshalJSON(data []byte) error {
	var w componentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return &ValidationError{Reason: "malformed component", Err: err}
	}
	if len(w.Component) != 1 {
		keys := make([]string, 0, len(w.Component))
		for k := range w.Component {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return &ValidationError{ComponentID: w.ID, Reason: fmt.Sprintf("component must have exactly one kind, got %v", keys)}
	}
	for name, raw := range w.Component {
		factory, ok := newProps[Kind(name)]
		if !ok {
			return &ValidationError{ComponentID: w.ID, Reason: fmt.Sprintf("unknown component kind %q", name)}
		}
		p := factory()
		if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			if err := json.Unmarshal(raw, p); err != nil {
				return &ValidationError{ComponentID: w.ID, Reason: fmt.Sprintf("invalid %s properties", name), Err: err}
			}
		}
		c.ID = w.ID
		c.Props = p
	}
	return nil
}

// KindOf maps each component id to its kind.
func KindOf(components []Component) map[string]Kind {
	out := make(map[string]Kind, len(components))
	for _, c := range components {
		if c.Props != nil {
			out[c.ID] = c.Props.Kind()
		}
	}
	return out
}

// ValidateTree checks one surfaceUpdate batch: ids are present and
// unique, kinds are known, and every reference names a component in the
// same batch.
func ValidateTree(surfaceID string, components []Component) error {
	if len(components) == 0 {
		return &ValidationError{SurfaceID: surfaceID, Reason: "surfaceUpdate has no components"}
	}
	ids := make(map[string]bool, len(components))
	for _, c := range components {
		if c.ID == "" {
			return &ValidationError{SurfaceID: surfaceID, Reason: "component id is empty"}
		}
		if ids[c.ID] {
			return &ValidationError{SurfaceID: surfaceID, ComponentID: c.ID, Reason: "duplicate component id"}
		}
		if c.Props == nil || !KnownKind(c.Props.Kind()) {
			return &ValidationError{SurfaceID: surfaceID, ComponentID: c.ID, Reason: "component kind is missing or unknown"}
		}
		ids[c.ID] = true
	}
	for _, c := range components {
		for _, ref := range c.Props.refs() {
			if ref == "" {
				return &ValidationError{SurfaceID: surfaceID, ComponentID: c.ID, Reason: "empty child reference"}
			}
			if !ids[ref] {
				return &ValidationError{SurfaceID: surfaceID, ComponentID: c.ID, Reason: fmt.Sprintf("dangling reference to %q", ref)}
			}
		}
		if b, ok := c.Props.(*Button); ok && b.Action.Name == "" {
			return &ValidationError{SurfaceID: surfaceID, ComponentID: c.ID, Reason: "button action has no name"}
		}
	}
	return nil
}
