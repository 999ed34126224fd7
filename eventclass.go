// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

// EventClass binds a specific-context and payload field class to a
// numeric ID and name, under a parent stream class. Its id is unique
// within its stream class.
type EventClass struct {
	name   string
	id     uint64
	idSet  bool
	parent *StreamClass

	logLevel    int64
	logLevelSet bool
	emfURI      string

	specificContextFC *FieldClass
	payloadFC         *FieldClass

	frozen bool
}

// NewEventClass creates an unattached event class.
func NewEventClass(name string) *EventClass {
	return &EventClass{name: name}
}

// Name returns the event class's name.
func (ec *EventClass) Name() string { return ec.name }

// ID returns the event class's assigned ID, valid once it has been
// added to a stream class.
func (ec *EventClass) ID() uint64 { return ec.id }

// SetID sets an explicit ID, which AddEventClass uses instead of
// automatic assignment whether or not the owning stream class has
// assigns_automatic_event_class_id enabled.
func (ec *EventClass) SetID(id uint64) error {
	if ec.frozen {
		return ErrFrozen
	}
	ec.id = id
	ec.idSet = true
	return nil
}

// SetLogLevel sets the event class's log level, emitted as
// `loglevel` in TSDL.
func (ec *EventClass) SetLogLevel(level int64) error {
	if ec.frozen {
		return ErrFrozen
	}
	ec.logLevel = level
	ec.logLevelSet = true
	return nil
}

// LogLevel returns the event class's log level and whether one is set.
func (ec *EventClass) LogLevel() (int64, bool) { return ec.logLevel, ec.logLevelSet }

// SetEmfURI sets the event class's `model.emf.uri` attribute.
func (ec *EventClass) SetEmfURI(uri string) error {
	if ec.frozen {
		return ErrFrozen
	}
	ec.emfURI = uri
	return nil
}

// EmfURI returns the event class's `model.emf.uri` attribute.
func (ec *EventClass) EmfURI() string { return ec.emfURI }

// SetSpecificContextFC sets the event's specific-context structure.
// fc must not yet be attached to another container; it is type
// checked here but only resolved and frozen once the event class is
// added to a stream class.
func (ec *EventClass) SetSpecificContextFC(fc *FieldClass) error {
	if ec.frozen {
		return ErrFrozen
	}
	if fc.Kind() != KindStructure {
		return ErrTypeMismatch
	}
	if fc.attached {
		return ErrAlreadyAttached
	}
	ec.specificContextFC = fc
	return nil
}

// SpecificContextFC returns the event's specific-context structure,
// or nil.
func (ec *EventClass) SpecificContextFC() *FieldClass { return ec.specificContextFC }

// SetPayloadFC sets the event's payload structure.
func (ec *EventClass) SetPayloadFC(fc *FieldClass) error {
	if ec.frozen {
		return ErrFrozen
	}
	if fc.Kind() != KindStructure {
		return ErrTypeMismatch
	}
	if fc.attached {
		return ErrAlreadyAttached
	}
	ec.payloadFC = fc
	return nil
}

// PayloadFC returns the event's payload structure, or nil.
func (ec *EventClass) PayloadFC() *FieldClass { return ec.payloadFC }

// StreamClass returns the stream class this event class was added to,
// or nil if it has not been added yet.
func (ec *EventClass) StreamClass() *StreamClass { return ec.parent }
