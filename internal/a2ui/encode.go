package a2ui

// SurfaceBuilder assembles the messages that create or replace one surface.
type SurfaceBuilder struct {
	id         string
	root       string
	components []Component
	data       []DataEntry
}

// NewSurface starts a surface whose root defaults to "root".
func NewSurface(id string) *SurfaceBuilder {
	return &SurfaceBuilder{id: id, root: "root"}
}

func (b *SurfaceBuilder) Root(id string) *SurfaceBuilder {
	b.root = id
	return b
}

func (b *SurfaceBuilder) Add(id string, p Props) *SurfaceBuilder {
	b.components = append(b.components, Component{ID: id, Props: p})
	return b
}

func (b *SurfaceBuilder) Data(entries ...DataEntry) *SurfaceBuilder {
	b.data = append(b.data, entries...)
	return b
}

// Messages emits surfaceUpdate, then dataModelUpdate when there is data,
// then beginRendering. The batch is checked against a fresh registry so
// an invalid tree never leaves the encoder.
func (b *SurfaceBuilder) Messages() ([]Message, error) {
	msgs := []Message{{SurfaceUpdate: &SurfaceUpdate{SurfaceID: b.id, Components: b.components}}}
	if len(b.data) > 0 {
		msgs = append(msgs, Message{DataModelUpdate: &DataModelUpdate{SurfaceID: b.id, Contents: b.data}})
	}
	msgs = append(msgs, Message{BeginRendering: &BeginRendering{SurfaceID: b.id, Root: b.root}})
	if err := NewRegistry().Apply(msgs...); err != nil {
		return nil, err
	}
	return msgs, nil
}
