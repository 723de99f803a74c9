package a2ui

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// State is a surface's position in its lifecycle.
type State int

const (
	StateUndefined State = iota
	StateDefined
	StateRendering
)

func (s State) String() string {
	switch s {
	case StateDefined:
		return "DEFINED"
	case StateRendering:
		return "RENDERING"
	default:
		return "UNDEFINED"
	}
}

// Surface is the server-side mirror of one client surface.
type Surface struct {
	ID    string
	State State
	// Root is set by beginRendering and cleared when the tree is replaced.
	Root       string
	Components map[string]Component
	// Order keeps the component order of the last surfaceUpdate.
	Order []string
	Data  map[string]any
}

func (s *Surface) clone() *Surface {
	return &Surface{
		ID:         s.ID,
		State:      s.State,
		Root:       s.Root,
		Components: maps.Clone(s.Components),
		Order:      slices.Clone(s.Order),
		Data:       cloneData(s.Data),
	}
}

func cloneData(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if child, ok := v.(map[string]any); ok {
			out[k] = cloneData(child)
			continue
		}
		out[k] = v
	}
	return out
}

// Lookup reads the data model at a slash-separated path.
func (s *Surface) Lookup(path string) (any, bool) {
	var cur any = s.Data
	for _, seg := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Resolve returns a literal, or the data model value a path points at.
func (s *Surface) Resolve(v BoundValue) (any, bool) {
	switch {
	case v.LiteralString != nil:
		return *v.LiteralString, true
	case v.LiteralNumber != nil:
		return *v.LiteralNumber, true
	case v.LiteralBoolean != nil:
		return *v.LiteralBoolean, true
	case v.Path != "":
		return s.Lookup(v.Path)
	}
	return nil, false
}

// Registry holds the surfaces of one session. It is not safe for
// concurrent use; sessions serialize their turns.
type Registry struct {
	surfaces map[string]*Surface
}

func NewRegistry() *Registry {
	return &Registry{surfaces: map[string]*Surface{}}
}

func (r *Registry) State(surfaceID string) State {
	if s, ok := r.surfaces[surfaceID]; ok {
		return s.State
	}
	return StateUndefined
}

// Surface returns a copy of the named surface.
func (r *Registry) Surface(surfaceID string) (*Surface, bool) {
	s, ok := r.surfaces[surfaceID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// IDs lists known surfaces in sorted order.
func (r *Registry) IDs() []string {
	return slices.Sorted(maps.Keys(r.surfaces))
}

// Apply validates and applies msgs as one batch. If any message is
// rejected the registry is left untouched.
func (r *Registry) Apply(msgs ...Message) error {
	staged := make(map[string]*Surface, len(r.surfaces))
	for id, s := range r.surfaces {
		staged[id] = s
	}
	touched := map[string]bool{}
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return err
		}
		id := m.SurfaceID()
		if s, ok := staged[id]; ok && !touched[id] {
			staged[id] = s.clone()
		}
		touched[id] = true
		if err := applyOne(staged, m); err != nil {
			return err
		}
	}
	r.surfaces = staged
	return nil
}

func applyOne(surfaces map[string]*Surface, m Message) error {
	id := m.SurfaceID()
	s := surfaces[id]
	switch {
	case m.SurfaceUpdate != nil:
		if s == nil {
			s = &Surface{ID: id, Data: map[string]any{}}
			surfaces[id] = s
		}
		s.Components = make(map[string]Component, len(m.SurfaceUpdate.Components))
		s.Order = s.Order[:0]
		for _, c := range m.SurfaceUpdate.Components {
			s.Components[c.ID] = c
			s.Order = append(s.Order, c.ID)
		}
		s.Root = ""
		s.State = StateDefined

	case m.DataModelUpdate != nil:
		if s == nil {
			return &ValidationError{SurfaceID: id, Reason: "dataModelUpdate before surfaceUpdate"}
		}
		if s.Data == nil {
			s.Data = map[string]any{}
		}
		target := ensureMap(s.Data, splitPath(m.DataModelUpdate.Path))
		mergeEntries(target, m.DataModelUpdate.Contents)

	case m.BeginRendering != nil:
		if s == nil {
			return &ValidationError{SurfaceID: id, Reason: "beginRendering before surfaceUpdate"}
		}
		root := m.BeginRendering.Root
		if _, ok := s.Components[root]; !ok {
			return &ValidationError{SurfaceID: id, ComponentID: root, Reason: "root is not in the current component tree"}
		}
		s.Root = root
		s.State = StateRendering

	case m.DeleteSurface != nil:
		delete(surfaces, id)

	default:
		return &ValidationError{SurfaceID: id, Reason: fmt.Sprintf("unsupported message %q", m.Type())}
	}
	return nil
}

func splitPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// ensureMap walks segs from root, replacing anything that is not a map.
func ensureMap(root map[string]any, segs []string) map[string]any {
	cur := root
	for _, seg := range segs {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	return cur
}

func mergeEntries(dst map[string]any, entries []DataEntry) {
	for _, e := range entries {
		switch {
		case e.ValueMap != nil:
			mergeEntries(ensureMap(dst, []string{e.Key}), e.ValueMap)
		case e.ValueString != nil:
			dst[e.Key] = *e.ValueString
		case e.ValueNumber != nil:
			dst[e.Key] = *e.ValueNumber
		case e.ValueBoolean != nil:
			dst[e.Key] = *e.ValueBoolean
		}
	}
}
