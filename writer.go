// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

import (
	"path/filepath"

	"github.com/saferwall/ctfir/internal/ctfser"
	"github.com/saferwall/ctfir/log"
)

// packetState is the lifecycle of the packet currently owned by a
// Stream: Closed -> HeaderPending -> ContextPending -> Closed.
type packetState int

const (
	stateClosed packetState = iota
	stateHeaderPending
	stateContextPending
)

// StreamOptions configures a Stream at creation time.
type StreamOptions struct {
	// ID, when non-nil, is used instead of automatic assignment; it is
	// required when the stream class disables automatic stream IDs.
	ID *uint64
	// Logger overrides the trace class's logger for this stream.
	Logger *log.Helper
}

// Stream is a runtime append-only writer for one instance of a
// StreamClass. It owns exactly one packet at a time and serializes
// events into it until closed or flushed.
type Stream struct {
	trace *Trace
	sc    *StreamClass
	id    uint64

	ser    *ctfser.Serializer
	logger *log.Helper

	state packetState

	packetHeaderField  *Field
	packetContextField *Field
	eventHeaderPool    *FieldPool
	commonContextPool  *FieldPool

	specificCtxPools map[*EventClass]*FieldPool
	payloadPools     map[*EventClass]*FieldPool

	eventsInPacket     uint64
	discardedEvents    uint64
	packetSeqNum       uint64
	firstEventClockSet bool
	lastEventClockNs   int64
	firstEventClockNs  int64

	contextStartBits uint64
}

func newStream(t *Trace, sc *StreamClass, id uint64, opts *StreamOptions) (*Stream, error) {
	logger := t.tc.logger
	if opts != nil && opts.Logger != nil {
		logger = opts.Logger
	}

	fileName := filepath.Join(t.path, sc.name+"_"+uintToString(id))
	serOpts := []ctfser.Option{ctfser.WithLogger(logger)}
	if sc.maxPacketBits > 0 {
		serOpts = append(serOpts, ctfser.WithMaxPacketBits(sc.maxPacketBits))
	}
	ser, err := ctfser.Open(fileName, serOpts...)
	if err != nil {
		return nil, err
	}

	s := &Stream{
		trace:            t,
		sc:               sc,
		id:               id,
		ser:              ser,
		logger:           logger,
		eventHeaderPool:  NewFieldPool(sc.eventHeaderFC),
		commonContextPool: NewFieldPool(sc.eventCommonContextFC),
		specificCtxPools: make(map[*EventClass]*FieldPool),
		payloadPools:     make(map[*EventClass]*FieldPool),
	}
	if sc.parent.packetHeaderFC != nil {
		s.packetHeaderField = NewField(sc.parent.packetHeaderFC)
	}
	if sc.packetContextFC != nil {
		s.packetContextField = NewField(sc.packetContextFC)
	}
	return s, nil
}

func uintToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// ID returns the stream's assigned ID.
func (s *Stream) ID() uint64 { return s.id }

// StreamClass returns the stream's class.
func (s *Stream) StreamClass() *StreamClass { return s.sc }

// BorrowPacketHeader returns the mutable packet header field for the
// packet currently being built, or nil if the trace class has no
// packet header (never the case once CreateTrace has run: it
// supplies the standard one).
func (s *Stream) BorrowPacketHeader() *Field { return s.packetHeaderField }

// BorrowPacketContext returns the mutable packet context field for
// the packet currently being built, or nil if the stream class
// declares none.
func (s *Stream) BorrowPacketContext() *Field { return s.packetContextField }

// OpenPacket begins a new packet: it writes the packet header (with
// the stream class's assigned stream_id and the trace's uuid/magic)
// and the packet context supplied by the caller via
// BorrowPacketContext, leaving size fields provisional until
// ClosePacket back-patches them.
func (s *Stream) OpenPacket() error {
	if s.state != stateClosed {
		return ctfser.ErrPacketAlreadyOpen
	}
	if err := s.ser.OpenPacket(); err != nil {
		return err
	}
	s.eventsInPacket = 0
	s.firstEventClockSet = false

	if s.packetHeaderField != nil {
		if err := s.writeStandardPacketHeaderDefaults(); err != nil {
			return err
		}
		if err := serializeField(s.ser, s.sc.parent.packetHeaderFC, s.packetHeaderField); err != nil {
			return err
		}
	}
	s.state = stateHeaderPending
	s.contextStartBits = s.ser.CursorBits()

	if s.packetContextField != nil {
		if err := serializeField(s.ser, s.sc.packetContextFC, s.packetContextField); err != nil {
			return err
		}
	}
	s.state = stateContextPending
	return nil
}

// writeStandardPacketHeaderDefaults fills in the packet header's
// members named magic, uuid and stream_id, whichever are present, on
// the standard or a custom packet header alike: magic is set to
// 0xC1FC1FC1 only while it is still zero, uuid is overwritten with the
// trace class's UUID when one is set, and stream_id is always
// overwritten with the stream class's ID.
func (s *Stream) writeStandardPacketHeaderDefaults() error {
	magic, ok := s.packetHeaderField.StructureFieldByName("magic")
	if ok && magic.Uint() == 0 {
		_ = magic.SetUint(0xC1FC1FC1)
	}
	if uuidField, ok := s.packetHeaderField.StructureFieldByName("uuid"); ok {
		id, hasUUID := s.sc.parent.UUID()
		if hasUUID {
			n := uuidField.fc.Length()
			for i := 0; i < 16 && uint64(i) < n; i++ {
				_ = uuidField.StaticArrayElement(i).SetUint(uint64(id[i]))
			}
		}
	}
	if streamIDField, ok := s.packetHeaderField.StructureFieldByName("stream_id"); ok {
		_ = streamIDField.SetUint(s.sc.id)
	}
	return nil
}

// AppendEvent serializes one event of class ec into the open packet:
// its header, the stream class's common context, ec's specific
// context and ec's payload, each borrowed from build via the
// returned handles, populated by the caller, then written in that
// fixed order. If the event does not fit even after growing
// the packet to its configured maximum, ErrEventTooLarge is returned,
// the stream's discarded-event counter is incremented, and the
// packet's cursor is rewound to where it was before the call; any
// other serialization error rewinds it the same way.
func (s *Stream) AppendEvent(ec *EventClass, build func(h *EventFields) error) error {
	if s.state == stateClosed {
		return ErrNoOpenPacket
	}
	if ec.parent != s.sc {
		return ErrTypeMismatch
	}

	headerField := s.eventHeaderPool.Acquire()
	commonCtxField := s.commonContextPool.Acquire()
	specificCtxField := s.specificCtxPoolFor(ec).Acquire()
	payloadField := s.payloadPoolFor(ec).Acquire()

	defer func() {
		s.eventHeaderPool.Release(headerField)
		s.commonContextPool.Release(commonCtxField)
		s.specificCtxPoolFor(ec).Release(specificCtxField)
		s.payloadPoolFor(ec).Release(payloadField)
	}()

	if headerField != nil {
		if idField, ok := headerField.StructureFieldByName("id"); ok {
			_ = idField.SetUint(ec.id)
		}
	}

	h := &EventFields{header: headerField, commonContext: commonCtxField, specificContext: specificCtxField, payload: payloadField}
	if build != nil {
		if err := build(h); err != nil {
			return err
		}
	}

	roots := map[Scope]*Field{
		ScopePacketHeader:         s.packetHeaderField,
		ScopePacketContext:        s.packetContextField,
		ScopeEventHeader:          headerField,
		ScopeEventCommonContext:   commonCtxField,
		ScopeEventSpecificContext: specificCtxField,
		ScopeEventPayload:         payloadField,
	}
	if err := checkLinkedFields(roots, s.sc.eventHeaderFC, headerField); err != nil {
		return err
	}
	if err := checkLinkedFields(roots, s.sc.eventCommonContextFC, commonCtxField); err != nil {
		return err
	}
	if err := checkLinkedFields(roots, ec.specificContextFC, specificCtxField); err != nil {
		return err
	}
	if err := checkLinkedFields(roots, ec.payloadFC, payloadField); err != nil {
		return err
	}

	startBits := s.ser.CursorBits()
	if headerField != nil {
		if err := serializeField(s.ser, s.sc.eventHeaderFC, headerField); err != nil {
			return s.handleEventWriteErr(err, startBits)
		}
	}
	if commonCtxField != nil {
		if err := serializeField(s.ser, s.sc.eventCommonContextFC, commonCtxField); err != nil {
			return s.handleEventWriteErr(err, startBits)
		}
	}
	if specificCtxField != nil {
		if err := serializeField(s.ser, ec.specificContextFC, specificCtxField); err != nil {
			return s.handleEventWriteErr(err, startBits)
		}
	}
	if payloadField != nil {
		if err := serializeField(s.ser, ec.payloadFC, payloadField); err != nil {
			return s.handleEventWriteErr(err, startBits)
		}
	}

	s.eventsInPacket++
	s.recordEventClock(headerField)
	return nil
}

func (s *Stream) handleEventWriteErr(err error, startBits uint64) error {
	s.ser.SetCursorBits(startBits)
	if err == ctfser.ErrPacketTooLarge {
		s.discardedEvents++
		return ErrEventTooLarge
	}
	return err
}

// recordEventClock tracks the first and last event's clock value seen
// in the current packet, for SetPacketsHaveDefaultBeginClockValue /
// SetPacketsHaveDefaultEndClockValue snapping at ClosePacket.
func (s *Stream) recordEventClock(headerField *Field) {
	if headerField == nil {
		return
	}
	ts, ok := headerField.StructureFieldByName("timestamp")
	if !ok {
		return
	}
	v := ts.Int()
	if !s.firstEventClockSet {
		s.firstEventClockNs = v
		s.firstEventClockSet = true
	}
	s.lastEventClockNs = v
}

func (s *Stream) specificCtxPoolFor(ec *EventClass) *FieldPool {
	p, ok := s.specificCtxPools[ec]
	if !ok {
		p = NewFieldPool(ec.specificContextFC)
		s.specificCtxPools[ec] = p
	}
	return p
}

func (s *Stream) payloadPoolFor(ec *EventClass) *FieldPool {
	p, ok := s.payloadPools[ec]
	if !ok {
		p = NewFieldPool(ec.payloadFC)
		s.payloadPools[ec] = p
	}
	return p
}

// EventFields exposes an in-progress event's scoped fields for the
// caller to populate before AppendEvent serializes them.
type EventFields struct {
	header          *Field
	commonContext   *Field
	specificContext *Field
	payload         *Field
}

// BorrowHeader returns the event's header field, or nil if the stream
// class declares none.
func (e *EventFields) BorrowHeader() *Field { return e.header }

// BorrowCommonContext returns the event's common-context field, or nil.
func (e *EventFields) BorrowCommonContext() *Field { return e.commonContext }

// BorrowSpecificContext returns the event's specific-context field, or nil.
func (e *EventFields) BorrowSpecificContext() *Field { return e.specificContext }

// BorrowPayload returns the event's payload field, or nil.
func (e *EventFields) BorrowPayload() *Field { return e.payload }

// ClosePacket back-patches the packet context's content_size and
// packet_size members (whichever are present) and its
// events_discarded and packet_seq_num members when the stream class's
// matching packets-have-counter flag is set, snaps
// timestamp_begin/timestamp_end to the first and
// last event's clock value when the stream class requests it, and
// commits the packet to the stream file.
func (s *Stream) ClosePacket() error {
	if s.state == stateClosed {
		return ErrNoOpenPacket
	}

	contentBits := s.ser.CursorBits()
	packetBits := alignUpBits(contentBits, 8)

	if s.packetContextField != nil {
		if err := s.patchPacketContext(contentBits, packetBits); err != nil {
			return err
		}
	}

	if err := s.ser.ClosePacket(packetBits / 8); err != nil {
		return err
	}
	s.packetSeqNum++
	s.state = stateClosed
	return nil
}

func (s *Stream) patchPacketContext(contentBits, packetBits uint64) error {
	pc := s.packetContextField
	fc := s.sc.packetContextFC

	if f, ok := pc.StructureFieldByName("content_size"); ok {
		_ = f.SetUint(contentBits)
	}
	if f, ok := pc.StructureFieldByName("packet_size"); ok {
		_ = f.SetUint(packetBits)
	}
	if s.sc.packetsHavePacketCounter {
		if f, ok := pc.StructureFieldByName("packet_seq_num"); ok {
			_ = f.SetUint(s.packetSeqNum)
		}
	}
	if s.sc.packetsHaveDiscardedEventCounter {
		if f, ok := pc.StructureFieldByName("events_discarded"); ok {
			_ = f.SetUint(s.discardedEvents)
		}
	}
	if s.sc.packetsHaveDefaultBeginClockValue && s.firstEventClockSet {
		if f, ok := pc.StructureFieldByName("timestamp_begin"); ok {
			_ = f.SetUint(uint64(s.firstEventClockNs))
		}
	}
	if s.sc.packetsHaveDefaultEndClockValue && s.firstEventClockSet {
		if f, ok := pc.StructureFieldByName("timestamp_end"); ok {
			_ = f.SetUint(uint64(s.lastEventClockNs))
		}
	}

	s.ser.SetCursorBits(s.contextStartBits)
	return serializeField(s.ser, fc, pc)
}

func alignUpBits(offset, alignment uint64) uint64 {
	if alignment == 0 {
		return offset
	}
	return (offset + alignment - 1) &^ (alignment - 1)
}

// Flush commits any open packet (as ClosePacket would) and closes the
// underlying stream file. A Stream must not be used again afterwards.
func (s *Stream) Flush() error {
	if s.state != stateClosed {
		if err := s.ClosePacket(); err != nil {
			return err
		}
	}
	return s.ser.Close()
}

func serializeField(s *ctfser.Serializer, fc *FieldClass, f *Field) error {
	if fc == nil || f == nil {
		return nil
	}
	order := ctfser.LittleEndian
	if fc.byteOrder == BigEndian {
		order = ctfser.BigEndian
	}

	switch fc.kind {
	case KindInteger:
		if fc.signed {
			return s.WriteInt(f.Int(), fc.alignmentBits, fc.widthBits, order)
		}
		return s.WriteUint(f.Uint(), fc.alignmentBits, fc.widthBits, order)

	case KindEnumeration:
		if fc.signed {
			return s.WriteInt(f.Int(), fc.alignmentBits, fc.widthBits, order)
		}
		return s.WriteUint(f.Uint(), fc.alignmentBits, fc.widthBits, order)

	case KindReal:
		if fc.widthBits == 32 {
			return s.WriteF32(float32(f.Float64()), fc.alignmentBits, order)
		}
		return s.WriteF64(f.Float64(), fc.alignmentBits, order)

	case KindString:
		return s.WriteString(f.String())

	case KindStructure:
		if err := s.Align(fc.alignmentBits); err != nil {
			return err
		}
		for i, m := range fc.members {
			if err := serializeField(s, m.fc, f.children[i]); err != nil {
				return err
			}
		}
		return nil

	case KindStaticArray:
		if err := s.Align(fc.alignmentBits); err != nil {
			return err
		}
		for _, e := range f.elements {
			if err := serializeField(s, fc.element, e); err != nil {
				return err
			}
		}
		return nil

	case KindDynamicArray:
		if err := s.Align(fc.alignmentBits); err != nil {
			return err
		}
		for _, e := range f.elements {
			if err := serializeField(s, fc.element, e); err != nil {
				return err
			}
		}
		return nil

	case KindOption:
		if !f.hasContent {
			return nil
		}
		return serializeField(s, fc.element, f.elements[0])

	case KindVariant:
		if !f.selected {
			return ErrVariantUnselected
		}
		return serializeField(s, fc.members[f.selectedIndex].fc, f.children[f.selectedIndex])
	}
	return nil
}
