// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

// FieldPool hands out Field instances matching a single field class,
// reusing freed ones instead of allocating. Each stream class owns a
// pool for its event-header and packet-context fields; each event
// class owns pools for its specific-context and payload fields.
type FieldPool struct {
	fc   *FieldClass
	free []*Field
}

// NewFieldPool creates a pool that produces fields matching fc. fc
// may be nil, in which case Acquire always returns nil (a stream or
// event class with no field class for that scope has nothing to
// pool).
func NewFieldPool(fc *FieldClass) *FieldPool {
	return &FieldPool{fc: fc}
}

// Acquire returns a reset field instance, reusing one from the pool
// when available.
func (p *FieldPool) Acquire() *Field {
	if p.fc == nil {
		return nil
	}
	if n := len(p.free); n > 0 {
		f := p.free[n-1]
		p.free = p.free[:n-1]
		f.Reset()
		return f
	}
	return NewField(p.fc)
}

// Release resets field and returns it to the pool.
func (p *FieldPool) Release(field *Field) {
	if field == nil {
		return
	}
	field.Reset()
	p.free = append(p.free, field)
}
