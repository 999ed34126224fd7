// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

// StreamClass binds field classes to a packet header/context and to
// event header/common-context, and owns the event classes produced by
// streams of this class. It is attached to exactly one trace class.
type StreamClass struct {
	parent *TraceClass
	id     uint64
	idSet  bool

	name         string
	defaultClock *ClockClass

	packetContextFC      *FieldClass
	eventHeaderFC        *FieldClass
	eventCommonContextFC *FieldClass

	eventClasses     []*EventClass
	eventClassByID   map[uint64]*EventClass
	nextEventClassID uint64

	assignsAutomaticEventClassID bool
	assignsAutomaticStreamID     bool

	packetsHaveDiscardedEventCounter   bool
	packetsHavePacketCounter            bool
	packetsHaveDefaultBeginClockValue   bool
	packetsHaveDefaultEndClockValue     bool

	maxPacketBits uint64
}

// NewStreamClass creates an unattached stream class. Automatic event
// class and stream ID assignment both default to enabled.
func NewStreamClass(name string) *StreamClass {
	return &StreamClass{
		name:                          name,
		eventClassByID:                make(map[uint64]*EventClass),
		assignsAutomaticEventClassID:  true,
		assignsAutomaticStreamID:      true,
	}
}

// Name returns the stream class's name.
func (sc *StreamClass) Name() string { return sc.name }

// ID returns the stream class's assigned ID, valid once added to a
// trace class.
func (sc *StreamClass) ID() uint64 { return sc.id }

// TraceClass returns the owning trace class, or nil if not yet added.
func (sc *StreamClass) TraceClass() *TraceClass { return sc.parent }

// SetID sets an explicit ID, which AddStreamClass uses instead of
// automatic assignment whether or not the owning trace class has
// assigns_automatic_stream_class_id enabled.
func (sc *StreamClass) SetID(id uint64) error {
	if sc.parent != nil {
		return ErrAlreadyAttached
	}
	sc.id = id
	sc.idSet = true
	return nil
}

// SetAssignsAutomaticEventClassID toggles automatic ID assignment for
// event classes added to this stream class.
func (sc *StreamClass) SetAssignsAutomaticEventClassID(v bool) error {
	if sc.parent != nil && sc.parent.frozen {
		return ErrFrozen
	}
	sc.assignsAutomaticEventClassID = v
	return nil
}

// SetAssignsAutomaticStreamID toggles automatic ID assignment for
// runtime Stream instances created from this stream class.
func (sc *StreamClass) SetAssignsAutomaticStreamID(v bool) error {
	if sc.parent != nil && sc.parent.frozen {
		return ErrFrozen
	}
	sc.assignsAutomaticStreamID = v
	return nil
}

// SetPacketsHaveDiscardedEventCounterSnapshot toggles whether closed
// packets carry a running discarded-event counter.
func (sc *StreamClass) SetPacketsHaveDiscardedEventCounterSnapshot(v bool) error {
	if sc.parent != nil && sc.parent.frozen {
		return ErrFrozen
	}
	sc.packetsHaveDiscardedEventCounter = v
	return nil
}

// PacketsHaveDiscardedEventCounterSnapshot reports the flag set by
// SetPacketsHaveDiscardedEventCounterSnapshot.
func (sc *StreamClass) PacketsHaveDiscardedEventCounterSnapshot() bool {
	return sc.packetsHaveDiscardedEventCounter
}

// SetPacketsHavePacketCounterSnapshot toggles whether closed packets
// carry a running packet sequence number.
func (sc *StreamClass) SetPacketsHavePacketCounterSnapshot(v bool) error {
	if sc.parent != nil && sc.parent.frozen {
		return ErrFrozen
	}
	sc.packetsHavePacketCounter = v
	return nil
}

// PacketsHavePacketCounterSnapshot reports the flag set by
// SetPacketsHavePacketCounterSnapshot.
func (sc *StreamClass) PacketsHavePacketCounterSnapshot() bool {
	return sc.packetsHavePacketCounter
}

// SetPacketsHaveDefaultBeginClockValue toggles whether the first
// event's clock value is snapped to a packet's begin timestamp.
func (sc *StreamClass) SetPacketsHaveDefaultBeginClockValue(v bool) error {
	if sc.parent != nil && sc.parent.frozen {
		return ErrFrozen
	}
	sc.packetsHaveDefaultBeginClockValue = v
	return nil
}

// PacketsHaveDefaultBeginClockValue reports the flag set by
// SetPacketsHaveDefaultBeginClockValue.
func (sc *StreamClass) PacketsHaveDefaultBeginClockValue() bool {
	return sc.packetsHaveDefaultBeginClockValue
}

// SetPacketsHaveDefaultEndClockValue toggles whether the last event's
// clock value is snapped to a packet's end timestamp.
func (sc *StreamClass) SetPacketsHaveDefaultEndClockValue(v bool) error {
	if sc.parent != nil && sc.parent.frozen {
		return ErrFrozen
	}
	sc.packetsHaveDefaultEndClockValue = v
	return nil
}

// PacketsHaveDefaultEndClockValue reports the flag set by
// SetPacketsHaveDefaultEndClockValue.
func (sc *StreamClass) PacketsHaveDefaultEndClockValue() bool {
	return sc.packetsHaveDefaultEndClockValue
}

// SetMaxPacketBits sets the maximum size, in bits, a stream created
// from this class will grow a packet to before append_event discards
// the event and returns ErrEventTooLarge. Zero (the default) means
// unlimited.
func (sc *StreamClass) SetMaxPacketBits(bits uint64) error {
	if sc.parent != nil && sc.parent.frozen {
		return ErrFrozen
	}
	sc.maxPacketBits = bits
	return nil
}

// MaxPacketBits returns the value set by SetMaxPacketBits.
func (sc *StreamClass) MaxPacketBits() uint64 { return sc.maxPacketBits }

// SetDefaultClockClass sets the stream class's default clock.
func (sc *StreamClass) SetDefaultClockClass(cc *ClockClass) error {
	if sc.parent != nil && sc.parent.frozen {
		return ErrFrozen
	}
	cc.freeze()
	sc.defaultClock = cc
	return nil
}

// DefaultClockClass returns the stream class's default clock, or nil.
func (sc *StreamClass) DefaultClockClass() *ClockClass { return sc.defaultClock }

func (sc *StreamClass) scopeContext() ScopeContext {
	ctx := ScopeContext{
		PacketContext:        sc.packetContextFC,
		EventHeader:          sc.eventHeaderFC,
		EventCommonContext:   sc.eventCommonContextFC,
	}
	if sc.parent != nil {
		ctx.PacketHeader = sc.parent.packetHeaderFC
	}
	return ctx
}

// SetPacketContextFC sets, resolves and freezes the stream class's
// packet context structure.
func (sc *StreamClass) SetPacketContextFC(fc *FieldClass) error {
	if sc.parent != nil && sc.parent.frozen {
		return ErrFrozen
	}
	if sc.packetContextFC != nil {
		return ErrFrozen
	}
	scopes := sc.scopeContext()
	scopes.PacketContext = fc
	if err := attachScopeFC(scopes, ScopePacketContext, fc); err != nil {
		return err
	}
	sc.packetContextFC = fc
	return nil
}

// PacketContextFC returns the stream class's packet context
// structure, or nil.
func (sc *StreamClass) PacketContextFC() *FieldClass { return sc.packetContextFC }

// SetEventHeaderFC sets, resolves and freezes the stream class's
// event header structure.
func (sc *StreamClass) SetEventHeaderFC(fc *FieldClass) error {
	if sc.parent != nil && sc.parent.frozen {
		return ErrFrozen
	}
	if sc.eventHeaderFC != nil {
		return ErrFrozen
	}
	scopes := sc.scopeContext()
	scopes.EventHeader = fc
	if err := attachScopeFC(scopes, ScopeEventHeader, fc); err != nil {
		return err
	}
	sc.eventHeaderFC = fc
	return nil
}

// EventHeaderFC returns the stream class's event header structure, or
// nil.
func (sc *StreamClass) EventHeaderFC() *FieldClass { return sc.eventHeaderFC }

// SetEventCommonContextFC sets, resolves and freezes the stream
// class's event common-context structure.
func (sc *StreamClass) SetEventCommonContextFC(fc *FieldClass) error {
	if sc.parent != nil && sc.parent.frozen {
		return ErrFrozen
	}
	if sc.eventCommonContextFC != nil {
		return ErrFrozen
	}
	scopes := sc.scopeContext()
	scopes.EventCommonContext = fc
	if err := attachScopeFC(scopes, ScopeEventCommonContext, fc); err != nil {
		return err
	}
	sc.eventCommonContextFC = fc
	return nil
}

// EventCommonContextFC returns the stream class's event common-context
// structure, or nil.
func (sc *StreamClass) EventCommonContextFC() *FieldClass { return sc.eventCommonContextFC }

// EventClasses returns the stream class's event classes, in the order
// they were added.
func (sc *StreamClass) EventClasses() []*EventClass { return sc.eventClasses }

// AddEventClass resolves the event class's specific-context and
// payload field classes against the full scope context built so far,
// assigns its ID, freezes it, and appends it to the stream class.
func (sc *StreamClass) AddEventClass(ec *EventClass) error {
	if sc.parent != nil && sc.parent.frozen {
		return ErrFrozen
	}
	if ec.parent != nil {
		return ErrAlreadyAttached
	}

	id := ec.id
	if !ec.idSet {
		if !sc.assignsAutomaticEventClassID {
			return ErrIDCollision
		}
		id = sc.nextEventClassID
	} else if _, exists := sc.eventClassByID[id]; exists {
		if !sc.assignsAutomaticEventClassID {
			return ErrIDCollision
		}
		return ErrDuplicateID
	}

	scopes := sc.scopeContext()
	scopes.EventSpecificContext = ec.specificContextFC
	scopes.EventPayload = ec.payloadFC

	if ec.specificContextFC != nil {
		if err := resolveRefsIn(scopes, ScopeEventSpecificContext, ec.specificContextFC); err != nil {
			return err
		}
	}
	if ec.payloadFC != nil {
		if err := resolveRefsIn(scopes, ScopeEventPayload, ec.payloadFC); err != nil {
			return err
		}
	}
	if ec.specificContextFC != nil {
		ec.specificContextFC.attached = true
		ec.specificContextFC.freeze()
	}
	if ec.payloadFC != nil {
		ec.payloadFC.attached = true
		ec.payloadFC.freeze()
	}

	ec.id = id
	ec.idSet = true
	ec.parent = sc
	ec.frozen = true
	sc.eventClassByID[id] = ec
	sc.eventClasses = append(sc.eventClasses, ec)
	if id >= sc.nextEventClassID {
		sc.nextEventClassID = id + 1
	}
	return nil
}
