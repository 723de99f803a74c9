package a2ui

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Message is one server-to-client envelope. Exactly one field is set.
type Message struct {
	SurfaceUpdate   *SurfaceUpdate   `json:"surfaceUpdate,omitempty"`
	DataModelUpdate *DataModelUpdate `json:"dataModelUpdate,omitempty"`
	BeginRendering  *BeginRendering  `json:"beginRendering,omitempty"`
	DeleteSurface   *DeleteSurface   `json:"deleteSurface,omitempty"`
}

type SurfaceUpdate struct {
	SurfaceID  string      `json:"surfaceId"`
	Components []Component `json:"components"`
}

// DataModelUpdate merges Contents under Path ("/" when empty).
type DataModelUpdate struct {
	SurfaceID string      `json:"surfaceId"`
	Path      string      `json:"path,omitempty"`
	Contents  []DataEntry `json:"contents"`
}

type BeginRendering struct {
	SurfaceID string            `json:"surfaceId"`
	Root      string            `json:"root"`
	Styles    map[string]string `json:"styles,omitempty"`
}

type DeleteSurface struct {
	SurfaceID string `json:"surfaceId"`
}

// DataEntry is one keyed value; ValueMap nests further entries.
type DataEntry struct {
	Key          string      `json:"key"`
	ValueString  *string     `json:"valueString,omitempty"`
	ValueNumber  *float64    `json:"valueNumber,omitempty"`
	ValueBoolean *bool       `json:"valueBoolean,omitempty"`
	ValueMap     []DataEntry `json:"valueMap,omitempty"`
}

func String(key, v string) DataEntry { return DataEntry{Key: key, ValueString: &v} }

func Number(key string, v float64) DataEntry { return DataEntry{Key: key, ValueNumber: &v} }

func Bool(key string, v bool) DataEntry { return DataEntry{Key: key, ValueBoolean: &v} }

func Map(key string, entries ...DataEntry) DataEntry { return DataEntry{Key: key, ValueMap: entries} }

func (e DataEntry) validate(surfaceID string) error {
	if e.Key == "" {
		return &ValidationError{SurfaceID: surfaceID, Reason: "data entry has empty key"}
	}
	n := 0
	if e.ValueString != nil {
		n++
	}
	if e.ValueNumber != nil {
		n++
	}
	if e.ValueBoolean != nil {
		n++
	}
	if e.ValueMap != nil {
		n++
	}
	if n != 1 {
		return &ValidationError{SurfaceID: surfaceID, Reason: fmt.Sprintf("data entry %q must carry exactly one value", e.Key)}
	}
	for _, child := range e.ValueMap {
		if err := child.validate(surfaceID); err != nil {
			return err
		}
	}
	return nil
}

// Type names the populated field, e.g. "surfaceUpdate".
func (m Message) Type() string {
	switch {
	case m.SurfaceUpdate != nil:
		return "surfaceUpdate"
	case m.DataModelUpdate != nil:
		return "dataModelUpdate"
	case m.BeginRendering != nil:
		return "beginRendering"
	case m.DeleteSurface != nil:
		return "deleteSurface"
	}
	return ""
}

func (m Message) SurfaceID() string {
	switch {
	case m.SurfaceUpdate != nil:
		return m.SurfaceUpdate.SurfaceID
	case m.DataModelUpdate != nil:
		return m.DataModelUpdate.SurfaceID
	case m.BeginRendering != nil:
		return m.BeginRendering.SurfaceID
	case m.DeleteSurface != nil:
		return m.DeleteSurface.SurfaceID
	}
	return ""
}

// Validate checks the envelope shape only; ordering is the Registry's job.
func (m Message) Validate() error {
	set := 0
	for _, present := range []bool{m.SurfaceUpdate != nil, m.DataModelUpdate != nil, m.BeginRendering != nil, m.DeleteSurface != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return &ValidationError{Reason: fmt.Sprintf("message must have exactly one kind, got %d", set)}
	}
	id := m.SurfaceID()
	if id == "" {
		return &ValidationError{Reason: m.Type() + " has empty surfaceId"}
	}
	switch {
	case m.SurfaceUpdate != nil:
		return ValidateTree(id, m.SurfaceUpdate.Components)
	case m.DataModelUpdate != nil:
		for _, e := range m.DataModelUpdate.Contents {
			if err := e.validate(id); err != nil {
				return err
			}
		}
	case m.BeginRendering != nil:
		if m.BeginRendering.Root == "" {
			return &ValidationError{SurfaceID: id, Reason: "beginRendering has empty root"}
		}
	}
	return nil
}

// UnmarshalJSON rejects unknown top-level keys.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return ve
		}
		return &ValidationError{Reason: "malformed message", Err: err}
	}
	*m = Message(p)
	return nil
}

// DecodeMessages parses and validates a JSON array of messages.
func DecodeMessages(data []byte) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return nil, ve
		}
		return nil, &ValidationError{Reason: "message list is not a JSON array", Err: err}
	}
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}
