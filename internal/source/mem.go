package source

import (
	"bytes"
	"context"
	"io"
)

// MemObject is an in-memory raw object, used by test fixtures and the
// e2e suite.
type MemObject struct {
	ObjectName string
	Data       []byte
}

// Name returns the object's name within its source.
func (o *MemObject) Name() string { return o.ObjectName }

// Header returns a reader over the object bytes.
func (o *MemObject) Header() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(o.Data)), nil
}

// Content returns a reader over the object bytes.
func (o *MemObject) Content() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(o.Data)), nil
}

// MemSource yields a fixed slice of in-memory objects in slice order.
type MemSource struct {
	SourceName string
	Objects    []*MemObject
	pos        int
}

// NewMemSource builds a source over the given objects, yielded in the
// order given.
func NewMemSource(name string, objects ...*MemObject) *MemSource {
	return &MemSource{SourceName: name, Objects: objects}
}

// Name returns the source name.
func (s *MemSource) Name() string { return s.SourceName }

// Stable reports true: slice order never changes.
func (s *MemSource) Stable() bool { return true }

// Next yields the next object or io.EOF.
func (s *MemSource) Next(ctx context.Context) (Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.Objects) {
		return nil, io.EOF
	}
	o := s.Objects[s.pos]
	s.pos++
	return o, nil
}
