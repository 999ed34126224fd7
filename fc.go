// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

// FieldClassKind identifies which variant of the closed field-class
// union a FieldClass value holds. The union is closed by design (see
// DESIGN.md): callers dispatch on Kind() rather than relying on
// open-set polymorphism.
type FieldClassKind int

// Field class kinds.
const (
	KindInteger FieldClassKind = iota
	KindReal
	KindString
	KindStructure
	KindStaticArray
	KindDynamicArray
	KindOption
	KindVariant
	KindEnumeration
)

func (k FieldClassKind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	case KindStructure:
		return "structure"
	case KindStaticArray:
		return "static-array"
	case KindDynamicArray:
		return "dynamic-array"
	case KindOption:
		return "option"
	case KindVariant:
		return "variant"
	case KindEnumeration:
		return "enumeration"
	default:
		return "unknown"
	}
}

// ByteOrder is the wire byte order of an integer or real field class.
// Native is only legal on a FieldClass until the owning TraceClass's
// native byte order is resolved; it is never legal as an argument to
// TraceClass.SetNativeByteOrder.
type ByteOrder int

// Supported byte orders.
const (
	LittleEndian ByteOrder = iota
	BigEndian
	Native
)

// IntegerBase is the display base used by the TSDL emitter for an
// integer field class; it never affects serialization.
type IntegerBase int

// Supported display bases.
const (
	Base2 IntegerBase = 2
	Base8 IntegerBase = 8
	Base10 IntegerBase = 10
	Base16 IntegerBase = 16
)

// StringEncoding selects how a string field class's bytes are
// interpreted by consumers (the writer itself only ever writes raw
// UTF-8 bytes plus a NUL terminator).
type StringEncoding int

// Supported string encodings.
const (
	EncodingUTF8 StringEncoding = iota
	EncodingASCII
)

// structureMember is one named, ordered child of a Structure or
// Variant field class.
type structureMember struct {
	name string
	fc   *FieldClass
}

// Range is a closed [Low, High] interval of an enumeration mapping,
// represented with plain int64/uint64 arithmetic (see DESIGN.md).
type Range struct {
	Low, High int64
}

// contains reports whether value (reinterpreted as signed or
// unsigned per signed) falls within the range.
func (r Range) contains(value uint64, signed bool) bool {
	if signed {
		v := int64(value)
		return v >= r.Low && v <= r.High
	}
	lo := uint64(r.Low)
	hi := uint64(r.High)
	return value >= lo && value <= hi
}

// EnumerationMapping associates a label with the set of ranges it
// covers. Ranges are stored in insertion order; the emitter lists
// them in that same order so first-match semantics are stable even
// when ranges overlap (overlapping ranges between labels are
// permitted).
type EnumerationMapping struct {
	Label  string
	Ranges []Range
}

// FieldClass is a typed layout descriptor (schema). Every field class
// carries a bit alignment that must be a power of two. Attaching a
// field class into a structure, array, option or variant transfers
// exclusive ownership to that container; a field class must never be
// attached twice (see Clone and ErrAlreadyAttached).
type FieldClass struct {
	kind          FieldClassKind
	alignmentBits uint64
	frozen        bool
	attached      bool

	// Integer / Real / Enumeration's underlying integer.
	widthBits   uint64
	signed      bool
	byteOrder   ByteOrder
	base        IntegerBase
	mappedClock *ClockClass

	// String
	encoding StringEncoding

	// Structure / Variant
	members     []structureMember
	memberIndex map[string]int

	// StaticArray / DynamicArray / Option
	element *FieldClass

	// StaticArray
	length uint64

	// DynamicArray / Option / Variant selector
	selectorRefName string
	selectorPath    *FieldPath

	// Enumeration
	mappings []EnumerationMapping
}

// Kind returns the field class's variant.
func (fc *FieldClass) Kind() FieldClassKind { return fc.kind }

// AlignmentBits returns the field class's total bit alignment.
func (fc *FieldClass) AlignmentBits() uint64 { return fc.alignmentBits }

// Frozen reports whether the field class has been attached and is
// now immutable.
func (fc *FieldClass) Frozen() bool { return fc.frozen }

// checkMutable returns ErrFrozen if the field class can no longer be
// modified.
func (fc *FieldClass) checkMutable() error {
	if fc.frozen {
		return ErrFrozen
	}
	return nil
}

// freeze marks the field class and every field class it owns as
// immutable. Freezing an already-frozen field class is a no-op.
func (fc *FieldClass) freeze() {
	if fc.frozen {
		return
	}
	fc.frozen = true
	switch fc.kind {
	case KindStructure, KindVariant:
		for _, m := range fc.members {
			m.fc.freeze()
		}
	case KindStaticArray, KindDynamicArray, KindOption:
		if fc.element != nil {
			fc.element.freeze()
		}
	case KindEnumeration:
		// underlying integer is folded into this node; nothing nested.
	}
}

// NewIntegerFC creates an integer field class.
func NewIntegerFC(widthBits uint64, signed bool, order ByteOrder, alignmentBits uint64, base IntegerBase) (*FieldClass, error) {
	if widthBits == 0 || widthBits > 64 {
		return nil, ErrTypeMismatch
	}
	if !isPowerOfTwo(alignmentBits) {
		return nil, ErrTypeMismatch
	}
	return &FieldClass{
		kind:          KindInteger,
		alignmentBits: alignmentBits,
		widthBits:     widthBits,
		signed:        signed,
		byteOrder:     order,
		base:          base,
	}, nil
}

// WidthBits returns the bit width of an Integer, Real or Enumeration
// field class.
func (fc *FieldClass) WidthBits() uint64 { return fc.widthBits }

// Signed reports whether an Integer or Enumeration field class is
// signed.
func (fc *FieldClass) Signed() bool { return fc.signed }

// ByteOrderOf returns the wire byte order of an Integer or Real field
// class.
func (fc *FieldClass) ByteOrderOf() ByteOrder { return fc.byteOrder }

// Base returns the display base of an Integer or Enumeration field
// class.
func (fc *FieldClass) Base() IntegerBase { return fc.base }

// SetMappedClock records which clock class this integer's value maps
// to for TSDL emission (`map = clock.<name>.value;`); it never
// affects serialization.
func (fc *FieldClass) SetMappedClock(cc *ClockClass) error {
	if err := fc.checkMutable(); err != nil {
		return err
	}
	if fc.kind != KindInteger {
		return ErrTypeMismatch
	}
	fc.mappedClock = cc
	return nil
}

// MappedClock returns the clock class set by SetMappedClock, if any.
func (fc *FieldClass) MappedClock() *ClockClass { return fc.mappedClock }

// NewRealFC creates a floating point field class.
func NewRealFC(widthBits uint64, order ByteOrder, alignmentBits uint64) (*FieldClass, error) {
	if widthBits != 32 && widthBits != 64 {
		return nil, ErrTypeMismatch
	}
	if !isPowerOfTwo(alignmentBits) {
		return nil, ErrTypeMismatch
	}
	return &FieldClass{
		kind:          KindReal,
		alignmentBits: alignmentBits,
		widthBits:     widthBits,
		byteOrder:     order,
	}, nil
}

// NewStringFC creates a string field class (8-bit aligned, NUL
// terminated at serialization time).
func NewStringFC(encoding StringEncoding) *FieldClass {
	return &FieldClass{
		kind:          KindString,
		alignmentBits: 8,
		encoding:      encoding,
	}
}

// Encoding returns the string field class's encoding.
func (fc *FieldClass) Encoding() StringEncoding { return fc.encoding }

// NewStructureFC creates an empty structure field class with the
// given minimum alignment (it grows to the max of this value and
// every member's alignment as members are appended).
func NewStructureFC(alignmentBits uint64) (*FieldClass, error) {
	if !isPowerOfTwo(alignmentBits) {
		return nil, ErrTypeMismatch
	}
	return &FieldClass{
		kind:          KindStructure,
		alignmentBits: alignmentBits,
		memberIndex:   make(map[string]int),
	}, nil
}

// AppendMember appends a named member to a structure. Member names
// must be non-empty and unique within the structure; insertion order
// is preserved and defines serialization order.
func (fc *FieldClass) AppendMember(name string, member *FieldClass) error {
	if err := fc.checkMutable(); err != nil {
		return err
	}
	if fc.kind != KindStructure {
		return ErrTypeMismatch
	}
	if err := validateIdentifier(name); err != nil {
		return err
	}
	if _, exists := fc.memberIndex[name]; exists {
		return ErrDuplicateMember
	}
	if member.attached {
		return ErrAlreadyAttached
	}
	member.attached = true
	fc.memberIndex[name] = len(fc.members)
	fc.members = append(fc.members, structureMember{name: name, fc: member})
	if member.alignmentBits > fc.alignmentBits {
		fc.alignmentBits = member.alignmentBits
	}
	return nil
}

// MemberCount returns the number of members in a Structure or
// Variant field class.
func (fc *FieldClass) MemberCount() int { return len(fc.members) }

// MemberAt returns the name and field class of the member at index i
// in a Structure or Variant field class.
func (fc *FieldClass) MemberAt(i int) (string, *FieldClass) {
	m := fc.members[i]
	return m.name, m.fc
}

// MemberByName looks up a Structure or Variant member by name.
func (fc *FieldClass) MemberByName(name string) (*FieldClass, bool) {
	idx, ok := fc.memberIndex[name]
	if !ok {
		return nil, false
	}
	return fc.members[idx].fc, true
}

// NewStaticArrayFC creates a fixed-length array field class.
func NewStaticArrayFC(element *FieldClass, length uint64) (*FieldClass, error) {
	if element.attached {
		return nil, ErrAlreadyAttached
	}
	element.attached = true
	return &FieldClass{
		kind:          KindStaticArray,
		alignmentBits: element.alignmentBits,
		element:       element,
		length:        length,
	}, nil
}

// Element returns the element field class of a StaticArray,
// DynamicArray or Option field class.
func (fc *FieldClass) Element() *FieldClass { return fc.element }

// Length returns the fixed length of a StaticArray field class.
func (fc *FieldClass) Length() uint64 { return fc.length }

// NewDynamicArrayFC creates a variable-length array field class whose
// length is read from the field named lengthRef, resolved by the
// field-path resolver once the array is attached.
func NewDynamicArrayFC(element *FieldClass, lengthRef string) (*FieldClass, error) {
	if element.attached {
		return nil, ErrAlreadyAttached
	}
	element.attached = true
	return &FieldClass{
		kind:            KindDynamicArray,
		alignmentBits:   element.alignmentBits,
		element:         element,
		selectorRefName: lengthRef,
	}, nil
}

// LengthRefName returns the unresolved length reference name of a
// DynamicArray field class.
func (fc *FieldClass) LengthRefName() string { return fc.selectorRefName }

// LengthPath returns the resolved field path of a DynamicArray field
// class's length reference, or nil if not yet resolved.
func (fc *FieldClass) LengthPath() *FieldPath { return fc.selectorPath }

// NewOptionFC creates an option field class. selectorRef may be empty
// to leave the option content's presence computed at write time only
// (no discriminant, e.g. for an always-present option).
func NewOptionFC(content *FieldClass, selectorRef string) (*FieldClass, error) {
	if content.attached {
		return nil, ErrAlreadyAttached
	}
	content.attached = true
	return &FieldClass{
		kind:            KindOption,
		alignmentBits:   content.alignmentBits,
		element:         content,
		selectorRefName: selectorRef,
	}, nil
}

// SelectorRefName returns the unresolved selector reference name of
// an Option or Variant field class.
func (fc *FieldClass) SelectorRefName() string { return fc.selectorRefName }

// SelectorPath returns the resolved field path of an Option or
// Variant field class's selector reference, or nil if not resolved.
func (fc *FieldClass) SelectorPath() *FieldPath { return fc.selectorPath }

// NewVariantFC creates an empty variant field class selected by the
// field named selectorRef.
func NewVariantFC(selectorRef string) *FieldClass {
	return &FieldClass{
		kind:            KindVariant,
		alignmentBits:   1,
		selectorRefName: selectorRef,
		memberIndex:     make(map[string]int),
	}
}

// AppendOption appends a named option to a variant. The label must
// match a mapping label of the enumeration the selector resolves to
// (validated once the variant is attached and resolved).
func (fc *FieldClass) AppendOption(label string, option *FieldClass) error {
	if err := fc.checkMutable(); err != nil {
		return err
	}
	if fc.kind != KindVariant {
		return ErrTypeMismatch
	}
	if err := validateIdentifier(label); err != nil {
		return err
	}
	if _, exists := fc.memberIndex[label]; exists {
		return ErrDuplicateMember
	}
	if option.attached {
		return ErrAlreadyAttached
	}
	option.attached = true
	fc.memberIndex[label] = len(fc.members)
	fc.members = append(fc.members, structureMember{name: label, fc: option})
	if option.alignmentBits > fc.alignmentBits {
		fc.alignmentBits = option.alignmentBits
	}
	return nil
}

// NewEnumerationFC creates an enumeration field class over underlying,
// which must be an Integer field class.
func NewEnumerationFC(underlying *FieldClass) (*FieldClass, error) {
	if underlying.kind != KindInteger {
		return nil, ErrTypeMismatch
	}
	if underlying.attached {
		return nil, ErrAlreadyAttached
	}
	return &FieldClass{
		kind:          KindEnumeration,
		alignmentBits: underlying.alignmentBits,
		widthBits:     underlying.widthBits,
		signed:        underlying.signed,
		byteOrder:     underlying.byteOrder,
		base:          underlying.base,
	}, nil
}

// AddMapping adds a label and its covering ranges to an enumeration.
// Ranges are stored in insertion order; overlapping ranges across
// labels are permitted and the emitter lists mappings in insertion
// order so first-match lookups stay stable.
func (fc *FieldClass) AddMapping(label string, ranges []Range) error {
	if err := fc.checkMutable(); err != nil {
		return err
	}
	if fc.kind != KindEnumeration {
		return ErrTypeMismatch
	}
	if err := validateIdentifier(label); err != nil {
		return err
	}
	fc.mappings = append(fc.mappings, EnumerationMapping{Label: label, Ranges: append([]Range(nil), ranges...)})
	return nil
}

// Mappings returns the enumeration's mappings in insertion order.
func (fc *FieldClass) Mappings() []EnumerationMapping {
	return fc.mappings
}

// MappingsForValue returns every mapping label whose range covers
// value, in insertion order (grounded on types/enum.c's mapping
// iterator: "which labels cover this value" is core enumeration
// functionality, not just an emitter detail).
func (fc *FieldClass) MappingsForValue(value uint64) []string {
	var labels []string
	for _, m := range fc.mappings {
		for _, r := range m.Ranges {
			if r.contains(value, fc.signed) {
				labels = append(labels, m.Label)
				break
			}
		}
	}
	return labels
}

// Clone performs a deep, unattached copy of fc. Attaching a clone into
// a structure and serializing yields bytes equal to attaching the
// original.
func (fc *FieldClass) Clone() *FieldClass {
	cp := *fc
	cp.attached = false
	cp.frozen = false
	cp.selectorPath = nil
	switch fc.kind {
	case KindStructure, KindVariant:
		cp.members = make([]structureMember, len(fc.members))
		cp.memberIndex = make(map[string]int, len(fc.memberIndex))
		for i, m := range fc.members {
			cp.members[i] = structureMember{name: m.name, fc: m.fc.Clone()}
			cp.memberIndex[m.name] = i
		}
	case KindStaticArray, KindDynamicArray, KindOption:
		cp.element = fc.element.Clone()
	case KindEnumeration:
		cp.mappings = make([]EnumerationMapping, len(fc.mappings))
		for i, m := range fc.mappings {
			cp.mappings[i] = EnumerationMapping{Label: m.Label, Ranges: append([]Range(nil), m.Ranges...)}
		}
	}
	return &cp
}

func isPowerOfTwo(v uint64) bool {
	return v > 0 && v&(v-1) == 0
}

// resolveNativeByteOrder replaces every Native marker in the tree
// with order, in place, ignoring the tree's frozen flag. CreateTrace
// calls it on attached (already frozen) trees right before the owning
// trace class freezes.
func (fc *FieldClass) resolveNativeByteOrder(order ByteOrder) {
	switch fc.kind {
	case KindInteger, KindReal, KindEnumeration:
		if fc.byteOrder == Native {
			fc.byteOrder = order
		}
	case KindStructure, KindVariant:
		for _, m := range fc.members {
			m.fc.resolveNativeByteOrder(order)
		}
	case KindStaticArray, KindDynamicArray, KindOption:
		if fc.element != nil {
			fc.element.resolveNativeByteOrder(order)
		}
	}
}
