// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

import (
	"fmt"
	"io"
	"strings"
)

// integerSig keys the distinct integer representations a trace class
// uses for typealias collapsing: every field sharing a signature emits
// under the same alias instead of repeating its inline definition.
type integerSig struct {
	widthBits     uint64
	signed        bool
	byteOrder     ByteOrder
	alignmentBits uint64
	base          IntegerBase
}

func integerSigOf(fc *FieldClass) integerSig {
	return integerSig{
		widthBits:     fc.widthBits,
		signed:        fc.signed,
		byteOrder:     fc.byteOrder,
		alignmentBits: fc.alignmentBits,
		base:          fc.base,
	}
}

// collectIntegerFCs walks fc, recording every distinct integer
// signature it finds in seen/order (order preserves first-seen
// position). Enumerations carry their own inline integer
// representation and are not collapsed into an alias.
func collectIntegerFCs(fc *FieldClass, seen map[integerSig]bool, order *[]integerSig) {
	if fc == nil {
		return
	}
	switch fc.kind {
	case KindInteger:
		sig := integerSigOf(fc)
		if !seen[sig] {
			seen[sig] = true
			*order = append(*order, sig)
		}
	case KindStructure, KindVariant:
		for _, m := range fc.members {
			collectIntegerFCs(m.fc, seen, order)
		}
	case KindStaticArray, KindDynamicArray, KindOption:
		collectIntegerFCs(fc.element, seen, order)
	}
}

// aliasName derives sig's typealias name. The plain uintN_t/intN_t
// form is reserved for the conventional byte-aligned, decimal-base
// representation of a width (the common case); anything else earns a
// suffix naming the attribute that differs, so the name is a pure
// function of the signature and two signatures never collide.
func aliasName(sig integerSig) string {
	base := "uint"
	if sig.signed {
		base = "int"
	}
	var suffixes []string
	if sig.alignmentBits != 8 {
		suffixes = append(suffixes, fmt.Sprintf("a%d", sig.alignmentBits))
	}
	if sig.byteOrder == BigEndian {
		suffixes = append(suffixes, "be")
	}
	if sig.base != Base10 {
		suffixes = append(suffixes, fmt.Sprintf("b%d", sig.base))
	}
	if len(suffixes) == 0 {
		return fmt.Sprintf("%s%d_t", base, sig.widthBits)
	}
	return fmt.Sprintf("%s%d_%s_t", base, sig.widthBits, strings.Join(suffixes, "_"))
}

// assignAliasNames names every distinct integer signature found in a
// trace class's tree.
func assignAliasNames(sigs []integerSig) map[integerSig]string {
	names := make(map[integerSig]string, len(sigs))
	for _, sig := range sigs {
		names[sig] = aliasName(sig)
	}
	return names
}

// traceIntegerAliasNames collects every integer signature reachable
// from tc's frozen tree, in document order, and names them.
func traceIntegerAliasNames(tc *TraceClass) (map[integerSig]string, []integerSig) {
	seen := make(map[integerSig]bool)
	var order []integerSig
	collectIntegerFCs(tc.packetHeaderFC, seen, &order)
	for _, sc := range tc.StreamClasses() {
		collectIntegerFCs(sc.packetContextFC, seen, &order)
		collectIntegerFCs(sc.eventHeaderFC, seen, &order)
		collectIntegerFCs(sc.eventCommonContextFC, seen, &order)
		for _, ec := range sc.EventClasses() {
			collectIntegerFCs(ec.specificContextFC, seen, &order)
			collectIntegerFCs(ec.payloadFC, seen, &order)
		}
	}
	return assignAliasNames(order), order
}

// EmitTSDL renders tc's frozen tree as a TSDL 1.8 metadata document,
// the textual type description CTF readers parse before they can
// interpret a trace's binary streams.
func EmitTSDL(tc *TraceClass, w io.Writer) error {
	var b strings.Builder
	b.WriteString("/* CTF 1.8 */\n\n")

	names, order := traceIntegerAliasNames(tc)
	for _, sig := range order {
		fmt.Fprintf(&b, "typealias integer { size = %d; align = %d; signed = %t; byte_order = %s; base = %d; } := %s;\n",
			sig.widthBits, sig.alignmentBits, sig.signed, byteOrderTSDL(sig.byteOrder), sig.base, names[sig])
	}
	if len(order) > 0 {
		b.WriteString("\n")
	}

	traceByteOrder := "le"
	if bo, ok := tc.NativeByteOrder(); ok && bo == BigEndian {
		traceByteOrder = "be"
	}

	b.WriteString("trace {\n")
	b.WriteString("\tmajor = 1;\n")
	b.WriteString("\tminor = 8;\n")
	if id, ok := tc.UUID(); ok {
		fmt.Fprintf(&b, "\tuuid = %q;\n", id.String())
	}
	fmt.Fprintf(&b, "\tbyte_order = %s;\n", traceByteOrder)
	if tc.packetHeaderFC != nil {
		fmt.Fprintf(&b, "\tpacket.header := %s;\n", fcToTSDLNamed(tc.packetHeaderFC, 1, names))
	}
	b.WriteString("};\n\n")

	if name, ok := tc.Name(); ok {
		fmt.Fprintf(&b, "// trace name: %s\n\n", name)
	}

	if env := tc.Environment(); len(env) > 0 {
		b.WriteString("env {\n")
		for _, e := range env {
			if e.value.IsString {
				fmt.Fprintf(&b, "\t%s = %q;\n", e.key, e.value.Str)
			} else {
				fmt.Fprintf(&b, "\t%s = %d;\n", e.key, e.value.Int)
			}
		}
		b.WriteString("};\n\n")
	}

	emitted := make(map[*ClockClass]bool)
	for _, sc := range tc.StreamClasses() {
		if sc.defaultClock != nil && !emitted[sc.defaultClock] {
			emitClock(&b, sc.defaultClock)
			emitted[sc.defaultClock] = true
		}
	}

	for _, sc := range tc.StreamClasses() {
		emitStreamClass(&b, sc, names)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func emitClock(b *strings.Builder, cc *ClockClass) {
	fmt.Fprintf(b, "clock {\n\tname = %s;\n", cc.Name())
	if id, ok := cc.UUID(); ok {
		fmt.Fprintf(b, "\tuuid = %q;\n", id.String())
	}
	if cc.Description() != "" {
		fmt.Fprintf(b, "\tdescription = %q;\n", cc.Description())
	}
	fmt.Fprintf(b, "\tfreq = %d;\n", cc.FrequencyHz())
	fmt.Fprintf(b, "\tprecision = %d;\n", cc.PrecisionCycles())
	fmt.Fprintf(b, "\toffset_s = %d;\n", cc.OffsetSeconds())
	fmt.Fprintf(b, "\toffset = %d;\n", cc.OffsetCycles())
	if cc.OriginIsUnixEpoch() {
		b.WriteString("\tabsolute = true;\n")
	}
	b.WriteString("};\n\n")
}

func emitStreamClass(b *strings.Builder, sc *StreamClass, names map[integerSig]string) {
	fmt.Fprintf(b, "stream {\n\tid = %d;\n", sc.ID())
	if sc.packetContextFC != nil {
		fmt.Fprintf(b, "\tpacket.context := %s;\n", fcToTSDLNamed(sc.packetContextFC, 1, names))
	}
	if sc.eventHeaderFC != nil {
		fmt.Fprintf(b, "\tevent.header := %s;\n", fcToTSDLNamed(sc.eventHeaderFC, 1, names))
	}
	if sc.eventCommonContextFC != nil {
		fmt.Fprintf(b, "\tevent.context := %s;\n", fcToTSDLNamed(sc.eventCommonContextFC, 1, names))
	}
	b.WriteString("};\n\n")

	for _, ec := range sc.EventClasses() {
		emitEventClass(b, sc, ec, names)
	}
}

func emitEventClass(b *strings.Builder, sc *StreamClass, ec *EventClass, names map[integerSig]string) {
	fmt.Fprintf(b, "event {\n\tname = %s;\n\tid = %d;\n\tstream_id = %d;\n", ec.Name(), ec.ID(), sc.ID())
	if lvl, ok := ec.LogLevel(); ok {
		fmt.Fprintf(b, "\tloglevel = %d;\n", lvl)
	}
	if ec.EmfURI() != "" {
		fmt.Fprintf(b, "\tmodel.emf.uri = %q;\n", ec.EmfURI())
	}
	if ec.SpecificContextFC() != nil {
		fmt.Fprintf(b, "\tcontext := %s;\n", fcToTSDLNamed(ec.SpecificContextFC(), 1, names))
	}
	if ec.PayloadFC() != nil {
		fmt.Fprintf(b, "\tfields := %s;\n", fcToTSDLNamed(ec.PayloadFC(), 1, names))
	}
	b.WriteString("};\n\n")
}

// fcToTSDL renders a field class as a TSDL type expression, always
// spelling integers out inline. depth controls indentation of nested
// structure/variant bodies.
func fcToTSDL(fc *FieldClass, depth int) string {
	return fcToTSDLNamed(fc, depth, nil)
}

// fcToTSDLNamed renders fc like fcToTSDL, but an integer field class
// matching a signature in names is referenced by its typealias name
// instead of being spelled out inline.
func fcToTSDLNamed(fc *FieldClass, depth int, names map[integerSig]string) string {
	if fc == nil {
		return "struct { }"
	}
	switch fc.kind {
	case KindInteger:
		if names != nil {
			if name, ok := names[integerSigOf(fc)]; ok {
				return name
			}
		}
		return integerTSDL(fc)
	case KindEnumeration:
		return enumerationTSDL(fc)
	case KindReal:
		return fmt.Sprintf("floating_point { mant_dig = %d; exp_dig = %d; byte_order = %s; align = %d; }",
			mantDig(fc.widthBits), expDig(fc.widthBits), byteOrderTSDL(fc.byteOrder), fc.alignmentBits)
	case KindString:
		return "string"
	case KindStructure:
		return structureTSDL(fc, depth, names)
	case KindVariant:
		return variantTSDL(fc, depth, names, "")
	case KindStaticArray:
		return fmt.Sprintf("%s [%d]", fcToTSDLNamed(fc.element, depth, names), fc.length)
	case KindDynamicArray:
		return fmt.Sprintf("%s [%s]", fcToTSDLNamed(fc.element, depth, names), fc.selectorRefName)
	case KindOption:
		if fc.selectorRefName == "" {
			return fcToTSDLNamed(fc.element, depth, names)
		}
		return fmt.Sprintf("variant <%s> { %s present; }", fc.selectorRefName, fcToTSDLNamed(fc.element, depth, names))
	}
	return "struct { }"
}

func integerTSDL(fc *FieldClass) string {
	return fmt.Sprintf("integer { size = %d; align = %d; signed = %t; byte_order = %s; base = %d; }",
		fc.widthBits, fc.alignmentBits, fc.signed, byteOrderTSDL(fc.byteOrder), fc.base)
}

func enumerationTSDL(fc *FieldClass) string {
	var parts []string
	for _, m := range fc.mappings {
		for _, r := range m.Ranges {
			if r.Low == r.High {
				parts = append(parts, fmt.Sprintf("%s = %d", m.Label, r.Low))
			} else {
				parts = append(parts, fmt.Sprintf("%s = %d ... %d", m.Label, r.Low, r.High))
			}
		}
	}
	return fmt.Sprintf("enum : %s { %s }", integerTSDL(&FieldClass{kind: KindInteger, widthBits: fc.widthBits, signed: fc.signed, byteOrder: fc.byteOrder, alignmentBits: fc.alignmentBits, base: fc.base}), strings.Join(parts, ", "))
}

func byteOrderTSDL(o ByteOrder) string {
	if o == BigEndian {
		return "be"
	}
	return "le"
}

func mantDig(widthBits uint64) uint64 {
	if widthBits == 32 {
		return 24
	}
	return 53
}

func expDig(widthBits uint64) uint64 {
	if widthBits == 32 {
		return 8
	}
	return 11
}

func structureTSDL(fc *FieldClass, depth int, names map[integerSig]string) string {
	var b strings.Builder
	indent := strings.Repeat("\t", depth)
	childIndent := strings.Repeat("\t", depth+1)
	b.WriteString("struct {\n")
	for _, m := range fc.members {
		fmt.Fprintf(&b, "%s%s;\n", childIndent, memberTSDL(m, depth+1, names))
	}
	fmt.Fprintf(&b, "%s} align(%d)", indent, fc.alignmentBits)
	return b.String()
}

// memberTSDL renders one structure or variant member declaration. A
// variant-typed member is a special case in TSDL grammar: its instance
// name sits between the tag selector and the option body, not after
// the closing brace like every other member type.
func memberTSDL(m structureMember, depth int, names map[integerSig]string) string {
	if m.fc.kind == KindVariant {
		return variantTSDL(m.fc, depth, names, m.name)
	}
	return fmt.Sprintf("%s %s", fcToTSDLNamed(m.fc, depth, names), m.name)
}

func variantTSDL(fc *FieldClass, depth int, names map[integerSig]string, instanceName string) string {
	var b strings.Builder
	indent := strings.Repeat("\t", depth)
	childIndent := strings.Repeat("\t", depth+1)
	if instanceName != "" {
		fmt.Fprintf(&b, "variant <%s> %s {\n", fc.selectorRefName, instanceName)
	} else {
		fmt.Fprintf(&b, "variant <%s> {\n", fc.selectorRefName)
	}
	for _, m := range fc.members {
		fmt.Fprintf(&b, "%s%s;\n", childIndent, memberTSDL(m, depth+1, names))
	}
	fmt.Fprintf(&b, "%s}", indent)
	return b.String()
}
