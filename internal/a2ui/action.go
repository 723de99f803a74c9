package a2ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// PathRef is a context value the client left unresolved.
type PathRef struct {
	Path string
}

// UserAction is a decoded client event. Name is forwarded as is; deciding
// whether it means anything is the router's job.
type UserAction struct {
	Name              string
	SurfaceID         string
	SourceComponentID string
	Context           map[string]any
}

type userActionWire struct {
	ActionName        string          `json:"actionName"`
	Name              string          `json:"name"`
	Action            string          `json:"action"`
	SurfaceID         string          `json:"surfaceId"`
	SourceComponentID string          `json:"sourceComponentId"`
	Context           json.RawMessage `json:"context"`
}

// DecodeUserAction accepts {"userAction": {...}} or the bare object. The
// name may arrive as actionName, name or action; context may be an object
// or a list of {key, value} pairs.
func DecodeUserAction(data []byte) (UserAction, error) {
	var outer struct {
		UserAction json.RawMessage `json:"userAction"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		return UserAction{}, &ValidationError{Reason: "malformed userAction", Err: err}
	}
	if len(outer.UserAction) > 0 {
		data = outer.UserAction
	}

	var w userActionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return UserAction{}, &ValidationError{Reason: "malformed userAction", Err: err}
	}
	name := firstNonEmpty(w.ActionName, w.Name, w.Action)
	if name == "" {
		return UserAction{}, &ValidationError{SurfaceID: w.SurfaceID, Reason: "userAction has no actionName"}
	}
	ctx, err := decodeContext(w.Context)
	if err != nil {
		return UserAction{}, &ValidationError{SurfaceID: w.SurfaceID, Reason: "invalid userAction context", Err: err}
	}
	return UserAction{
		Name:              name,
		SurfaceID:         w.SurfaceID,
		SourceComponentID: w.SourceComponentID,
		Context:           ctx,
	}, nil
}

func decodeContext(raw json.RawMessage) (map[string]any, error) {
	out := map[string]any{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	switch raw[0] {
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		for k, v := range m {
			val, err := decodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = val
		}
	case '[':
		var list []struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		for _, e := range list {
			if e.Key == "" {
				return nil, fmt.Errorf("context entry without key")
			}
			val, err := decodeValue(e.Value)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", e.Key, err)
			}
			out[e.Key] = val
		}
	default:
		return nil, fmt.Errorf("context must be an object or a list")
	}
	return out, nil
}

// decodeValue unwraps BoundValue-shaped objects; anything else is kept as
// plain JSON.
func decodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok || len(obj) != 1 {
		return v, nil
	}
	for k, inner := range obj {
		switch k {
		case "literalString", "literalNumber", "literalBoolean":
			return inner, nil
		case "path":
			if p, ok := inner.(string); ok {
				return PathRef{Path: p}, nil
			}
		}
	}
	return v, nil
}

// Resolve replaces PathRef values with data from s.
func (a UserAction) Resolve(s *Surface) (UserAction, error) {
	out := a
	out.Context = make(map[string]any, len(a.Context))
	for k, v := range a.Context {
		ref, ok := v.(PathRef)
		if !ok {
			out.Context[k] = v
			continue
		}
		if s == nil {
			return UserAction{}, &ValidationError{SurfaceID: a.SurfaceID, Reason: fmt.Sprintf("cannot resolve %s without a surface", ref.Path)}
		}
		val, found := s.Lookup(ref.Path)
		if !found {
			return UserAction{}, &ValidationError{SurfaceID: s.ID, Reason: fmt.Sprintf("context %q points at missing path %s", k, ref.Path)}
		}
		out.Context[k] = val
	}
	return out, nil
}

// Unresolved reports whether any context value is still a PathRef.
func (a UserAction) Unresolved() bool {
	for _, v := range a.Context {
		if _, ok := v.(PathRef); ok {
			return true
		}
	}
	return false
}

// String returns a context value as text. Whole numbers print without a
// decimal point so a year of 2020 reads "2020".
func (a UserAction) String(key string) string {
	switch v := a.Context[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case PathRef:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
