// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

import "errors"

// Errors
var (
	// ErrFrozen is returned when a mutation is attempted on a frozen
	// object (a trace class, stream class, event class or field class
	// that has already been attached and frozen).
	ErrFrozen = errors.New("ctfir: object is frozen")

	// ErrInvalidIdentifier is returned when a name violates TSDL
	// identifier syntax or collides with a reserved keyword.
	ErrInvalidIdentifier = errors.New("ctfir: invalid TSDL identifier")

	// ErrDuplicateMember is returned when a structure or variant
	// member name is already used in its container.
	ErrDuplicateMember = errors.New("ctfir: duplicate member name")

	// ErrDuplicateID is returned when an explicit ID collides with one
	// already assigned in the same container while automatic ID
	// assignment is enabled.
	ErrDuplicateID = errors.New("ctfir: duplicate id")

	// ErrIDCollision is returned when assigns_automatic_*_id is false
	// and the caller supplies an ID that is already taken, or supplies
	// no ID at all.
	ErrIDCollision = errors.New("ctfir: id collision")

	// ErrTypeMismatch is returned when a field class at an API
	// boundary has the wrong kind, e.g. a non-structure used as a
	// packet context.
	ErrTypeMismatch = errors.New("ctfir: field class kind mismatch")

	// ErrResolveNotFound is returned when a field-path reference names
	// no reachable field.
	ErrResolveNotFound = errors.New("ctfir: field path reference not found")

	// ErrResolveTargetAfterSource is returned when the only matching
	// field is positioned at or after the resolving source.
	ErrResolveTargetAfterSource = errors.New("ctfir: field path target is at or after its source")

	// ErrResolveThroughDynamic is returned when the unique path from
	// the lowest common ancestor to the target would cross a dynamic
	// array or variant boundary.
	ErrResolveThroughDynamic = errors.New("ctfir: field path would cross a dynamic array or variant")

	// ErrEventTooLarge is returned when an event does not fit in a
	// packet even after growing it to the stream class's max size.
	ErrEventTooLarge = errors.New("ctfir: event too large for packet")

	// ErrClockOverflow is returned by clock cycle/ns conversions that
	// do not fit their result type.
	ErrClockOverflow = errors.New("ctfir: clock conversion overflow")

	// ErrVariantUnselected is returned when a variant field is
	// serialized without its current option ever being selected.
	ErrVariantUnselected = errors.New("ctfir: variant has no option selected")

	// ErrLengthMismatch is returned when a dynamic array's declared
	// length disagrees with its materialized element count.
	ErrLengthMismatch = errors.New("ctfir: dynamic array length mismatch")

	// ErrAlreadyAttached is returned when a field class that is
	// already owned by a container is attached to another one; the
	// caller must clone it first.
	ErrAlreadyAttached = errors.New("ctfir: field class is already attached to a container")

	// ErrInvalidByteOrder is returned by SetNativeByteOrder when asked
	// for anything other than an explicit LittleEndian/BigEndian.
	ErrInvalidByteOrder = errors.New("ctfir: native byte order must be explicit little- or big-endian")

	// ErrTraceStatic is returned when a stream is created from a trace
	// marked static.
	ErrTraceStatic = errors.New("ctfir: trace is static, no more streams may be created")

	// ErrNoOpenPacket is returned by AppendEvent/ClosePacket when no
	// packet is currently open on the stream.
	ErrNoOpenPacket = errors.New("ctfir: stream has no open packet")
)
