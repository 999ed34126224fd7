// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

// Field is a value carrier matching a FieldClass. A structure field
// holds one child per member,
// statically positioned; a dynamic array materializes its elements
// only once its length is set; a variant exposes whichever option is
// currently selected.
type Field struct {
	fc     *FieldClass
	frozen bool

	u64 uint64 // Integer/Enumeration raw bits (reinterpret per fc.signed)
	f64 float64

	str []byte

	children []*Field // Structure / Variant (parallel to fc.members); Variant keeps every option built, only one "selected"

	elements     []*Field // StaticArray (len == fc.length) / DynamicArray (len == length once set)
	length       uint64
	lengthSet    bool

	hasContent bool // Option

	selectedIndex int // Variant
	selected      bool
}

// NewField builds a zero-valued field instance mirroring fc.
func NewField(fc *FieldClass) *Field {
	f := &Field{fc: fc}
	switch fc.kind {
	case KindStructure:
		f.children = make([]*Field, len(fc.members))
		for i, m := range fc.members {
			f.children[i] = NewField(m.fc)
		}
	case KindVariant:
		f.children = make([]*Field, len(fc.members))
		for i, m := range fc.members {
			f.children[i] = NewField(m.fc)
		}
	case KindStaticArray:
		f.elements = make([]*Field, fc.length)
		for i := range f.elements {
			f.elements[i] = NewField(fc.element)
		}
	case KindOption:
		f.elements = []*Field{NewField(fc.element)}
	}
	return f
}

// FieldClass returns the field class this field instance mirrors.
func (f *Field) FieldClass() *FieldClass { return f.fc }

// Reset walks the field tree and clears it back to its zero value:
// strings are emptied, integers set to 0, dynamic arrays marked as
// having unknown length, options cleared, and variants unselected.
func (f *Field) Reset() {
	f.frozen = false
	f.u64 = 0
	f.f64 = 0
	f.str = f.str[:0]
	f.hasContent = false
	f.selected = false
	f.selectedIndex = 0
	f.lengthSet = false
	f.length = 0

	switch f.fc.kind {
	case KindStructure, KindVariant:
		for _, c := range f.children {
			c.Reset()
		}
	case KindStaticArray:
		for _, e := range f.elements {
			e.Reset()
		}
	case KindDynamicArray:
		f.elements = nil
	case KindOption:
		if len(f.elements) == 1 {
			f.elements[0].Reset()
		}
	}
}

func (f *Field) checkMutable() error {
	if f.frozen {
		return ErrFrozen
	}
	return nil
}

// SetUint sets an Integer or Enumeration field's raw unsigned value.
func (f *Field) SetUint(v uint64) error {
	if err := f.checkMutable(); err != nil {
		return err
	}
	f.u64 = v
	return nil
}

// SetInt sets a signed Integer or Enumeration field's value.
func (f *Field) SetInt(v int64) error {
	return f.SetUint(uint64(v))
}

// Uint returns an Integer or Enumeration field's raw unsigned value.
func (f *Field) Uint() uint64 { return f.u64 }

// Int returns a signed Integer or Enumeration field's value.
func (f *Field) Int() int64 { return int64(f.u64) }

// SetFloat32 sets a 32-bit Real field's value.
func (f *Field) SetFloat32(v float32) error {
	if err := f.checkMutable(); err != nil {
		return err
	}
	f.f64 = float64(v)
	return nil
}

// SetFloat64 sets a 64-bit Real field's value.
func (f *Field) SetFloat64(v float64) error {
	if err := f.checkMutable(); err != nil {
		return err
	}
	f.f64 = v
	return nil
}

// Float64 returns a Real field's value.
func (f *Field) Float64() float64 { return f.f64 }

// SetString sets a String field's value.
func (f *Field) SetString(v string) error {
	if err := f.checkMutable(); err != nil {
		return err
	}
	f.str = append(f.str[:0], v...)
	return nil
}

// String returns a String field's value.
func (f *Field) String() string { return string(f.str) }

// StructureFieldByIndex returns the i-th member field of a Structure.
func (f *Field) StructureFieldByIndex(i int) *Field { return f.children[i] }

// StructureFieldByName returns a Structure's member field by name.
func (f *Field) StructureFieldByName(name string) (*Field, bool) {
	idx, ok := f.fc.memberIndex[name]
	if !ok {
		return nil, false
	}
	return f.children[idx], true
}

// StaticArrayElement returns the i-th element field of a StaticArray.
func (f *Field) StaticArrayElement(i int) *Field { return f.elements[i] }

// SetDynamicArrayLength declares how many elements a DynamicArray will
// hold and materializes them, zero-valued.
func (f *Field) SetDynamicArrayLength(n uint64) error {
	if err := f.checkMutable(); err != nil {
		return err
	}
	f.elements = make([]*Field, n)
	for i := range f.elements {
		f.elements[i] = NewField(f.fc.element)
	}
	f.length = n
	f.lengthSet = true
	return nil
}

// DynamicArrayLength returns a DynamicArray's declared length and
// whether one has been set.
func (f *Field) DynamicArrayLength() (uint64, bool) { return f.length, f.lengthSet }

// DynamicArrayElement returns the i-th element field of a
// DynamicArray.
func (f *Field) DynamicArrayElement(i int) *Field { return f.elements[i] }

// SetOptionHasContent toggles whether an Option field currently
// carries its content.
func (f *Field) SetOptionHasContent(v bool) error {
	if err := f.checkMutable(); err != nil {
		return err
	}
	f.hasContent = v
	return nil
}

// OptionHasContent reports whether an Option field currently carries
// its content.
func (f *Field) OptionHasContent() bool { return f.hasContent }

// OptionContent returns an Option field's content field.
func (f *Field) OptionContent() *Field { return f.elements[0] }

// SelectVariantByLabel selects a Variant field's current option by
// label.
func (f *Field) SelectVariantByLabel(label string) error {
	if err := f.checkMutable(); err != nil {
		return err
	}
	idx, ok := f.fc.memberIndex[label]
	if !ok {
		return ErrResolveNotFound
	}
	f.selectedIndex = idx
	f.selected = true
	return nil
}

// SelectedVariantField returns the currently selected option field and
// its label, or ErrVariantUnselected if none has been chosen.
func (f *Field) SelectedVariantField() (*Field, string, error) {
	if !f.selected {
		return nil, "", ErrVariantUnselected
	}
	name, _ := f.fc.MemberAt(f.selectedIndex)
	return f.children[f.selectedIndex], name, nil
}

// VariantSelected reports whether a Variant field has a current
// option.
func (f *Field) VariantSelected() bool { return f.selected }

// childAt follows one FieldPath index step from f (a Structure,
// Variant or StaticArray field) to the next field down.
func (f *Field) childAt(idx uint64) *Field {
	if idx == ArrayElementIndex {
		return f.elements[0]
	}
	return f.children[idx]
}

// fieldAtPath navigates from the scope root fields to the field a
// FieldPath designates.
func fieldAtPath(roots map[Scope]*Field, path *FieldPath) (*Field, error) {
	cur, ok := roots[path.Scope]
	if !ok || cur == nil {
		return nil, ErrResolveNotFound
	}
	for _, idx := range path.Indices {
		cur = cur.childAt(idx)
	}
	return cur, nil
}

// checkLinkedFields walks fc/f and checks the fields a dynamic array
// or variant is linked to: a dynamic array's resolved length field
// must agree with the element count materialized by
// SetDynamicArrayLength (writing the length field alone materializes
// no elements, so a non-zero length with no SetDynamicArrayLength call
// fails with ErrLengthMismatch), and a variant whose
// current option was never chosen by label auto-selects whichever
// option its resolved selector field's enumeration value maps to.
// roots gives the field trees built so far for every scope, so a
// length or selector reference into an earlier scope can be followed.
func checkLinkedFields(roots map[Scope]*Field, fc *FieldClass, f *Field) error {
	if fc == nil || f == nil {
		return nil
	}
	switch fc.kind {
	case KindStructure:
		for i, m := range fc.members {
			if err := checkLinkedFields(roots, m.fc, f.children[i]); err != nil {
				return err
			}
		}

	case KindVariant:
		if !f.selected && fc.selectorPath != nil {
			selector, err := fieldAtPath(roots, fc.selectorPath)
			if err == nil {
				for _, label := range selector.fc.MappingsForValue(selector.Uint()) {
					if idx, ok := fc.memberIndex[label]; ok {
						f.selectedIndex = idx
						f.selected = true
						break
					}
				}
			}
		}
		if f.selected {
			if err := checkLinkedFields(roots, fc.members[f.selectedIndex].fc, f.children[f.selectedIndex]); err != nil {
				return err
			}
		}

	case KindStaticArray:
		for _, e := range f.elements {
			if err := checkLinkedFields(roots, fc.element, e); err != nil {
				return err
			}
		}

	case KindDynamicArray:
		if fc.selectorPath != nil {
			lengthField, err := fieldAtPath(roots, fc.selectorPath)
			if err != nil {
				return err
			}
			if lengthField.Uint() != uint64(len(f.elements)) {
				return ErrLengthMismatch
			}
		}
		for _, e := range f.elements {
			if err := checkLinkedFields(roots, fc.element, e); err != nil {
				return err
			}
		}

	case KindOption:
		if f.hasContent {
			return checkLinkedFields(roots, fc.element, f.elements[0])
		}
	}
	return nil
}
