// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/saferwall/ctfir/log"
)

// EnvValue is either a string or an integer environment value.
type EnvValue struct {
	IsString bool
	Str      string
	Int      int64
}

type envEntry struct {
	key   string
	value EnvValue
}

// TraceClassOptions configures a TraceClass at construction.
type TraceClassOptions struct {
	// Logger receives diagnostics from the trace class and everything
	// it creates (streams classes, the packet writer). Defaults to an
	// error-filtered stderr logger (log.DefaultHelper).
	Logger *log.Helper
}

// TraceClass owns stream classes, the environment, and the packet
// header field class. It freezes transitively the first time a trace
// is created from it.
type TraceClass struct {
	name    string
	hasName bool
	id      uuid.UUID
	hasUUID bool

	nativeByteOrder    ByteOrder
	nativeByteOrderSet bool

	environment []envEntry
	envIndex    map[string]int

	packetHeaderFC *FieldClass

	streamClasses                 []*StreamClass
	streamClassByID                map[uint64]*StreamClass
	nextStreamClassID              uint64
	assignsAutomaticStreamClassID bool

	frozen bool
	logger *log.Helper
}

// NewTraceClass creates an empty trace class. Automatic stream class
// ID assignment defaults to enabled.
func NewTraceClass(opts *TraceClassOptions) *TraceClass {
	logger := log.DefaultHelper()
	if opts != nil && opts.Logger != nil {
		logger = opts.Logger
	}
	return &TraceClass{
		streamClassByID:                make(map[uint64]*StreamClass),
		envIndex:                       make(map[string]int),
		assignsAutomaticStreamClassID: true,
		logger:                        logger,
	}
}

func (tc *TraceClass) checkMutable() error {
	if tc.frozen {
		return ErrFrozen
	}
	return nil
}

// SetName sets the trace class's name.
func (tc *TraceClass) SetName(name string) error {
	if err := tc.checkMutable(); err != nil {
		return err
	}
	if err := validateIdentifier(name); err != nil {
		return err
	}
	tc.name = name
	tc.hasName = true
	return nil
}

// Name returns the trace class's name and whether one is set.
func (tc *TraceClass) Name() (string, bool) { return tc.name, tc.hasName }

// SetUUID sets the trace's identity explicitly. If never called,
// CreateTrace generates a random one.
func (tc *TraceClass) SetUUID(id uuid.UUID) error {
	if err := tc.checkMutable(); err != nil {
		return err
	}
	tc.id = id
	tc.hasUUID = true
	return nil
}

// UUID returns the trace class's identity and whether one is set.
func (tc *TraceClass) UUID() (uuid.UUID, bool) { return tc.id, tc.hasUUID }

// SetNativeByteOrder sets the concrete byte order every Native-marked
// field class resolves to at trace creation. Native is rejected here:
// the caller must pass LittleEndian or BigEndian explicitly.
func (tc *TraceClass) SetNativeByteOrder(order ByteOrder) error {
	if err := tc.checkMutable(); err != nil {
		return err
	}
	if order != LittleEndian && order != BigEndian {
		return ErrInvalidByteOrder
	}
	tc.nativeByteOrder = order
	tc.nativeByteOrderSet = true
	return nil
}

// NativeByteOrder returns the trace class's resolved native byte
// order and whether one has been set.
func (tc *TraceClass) NativeByteOrder() (ByteOrder, bool) {
	return tc.nativeByteOrder, tc.nativeByteOrderSet
}

// AddEnvironmentString adds a string environment entry.
func (tc *TraceClass) AddEnvironmentString(key, value string) error {
	if err := tc.checkMutable(); err != nil {
		return err
	}
	return tc.addEnvironment(key, EnvValue{IsString: true, Str: value})
}

// AddEnvironmentInteger adds an integer environment entry.
func (tc *TraceClass) AddEnvironmentInteger(key string, value int64) error {
	if err := tc.checkMutable(); err != nil {
		return err
	}
	return tc.addEnvironment(key, EnvValue{Int: value})
}

func (tc *TraceClass) addEnvironment(key string, value EnvValue) error {
	if idx, exists := tc.envIndex[key]; exists {
		tc.environment[idx].value = value
		return nil
	}
	tc.envIndex[key] = len(tc.environment)
	tc.environment = append(tc.environment, envEntry{key: key, value: value})
	return nil
}

// Environment returns the trace class's environment entries in
// insertion order.
func (tc *TraceClass) Environment() []envEntry { return tc.environment }

// SetPacketHeaderFC sets, resolves and freezes the trace class's
// packet header structure.
func (tc *TraceClass) SetPacketHeaderFC(fc *FieldClass) error {
	if err := tc.checkMutable(); err != nil {
		return err
	}
	if tc.packetHeaderFC != nil {
		return ErrFrozen
	}
	scopes := ScopeContext{PacketHeader: fc}
	if err := attachScopeFC(scopes, ScopePacketHeader, fc); err != nil {
		return err
	}
	tc.packetHeaderFC = fc
	return nil
}

// PacketHeaderFC returns the trace class's packet header structure,
// or nil if never set explicitly (CreateTrace supplies the standard
// one in that case).
func (tc *TraceClass) PacketHeaderFC() *FieldClass { return tc.packetHeaderFC }

// SetAssignsAutomaticStreamClassID toggles automatic ID assignment
// for stream classes added to this trace class.
func (tc *TraceClass) SetAssignsAutomaticStreamClassID(v bool) error {
	if err := tc.checkMutable(); err != nil {
		return err
	}
	tc.assignsAutomaticStreamClassID = v
	return nil
}

// StreamClasses returns the trace class's stream classes, in the
// order they were added.
func (tc *TraceClass) StreamClasses() []*StreamClass { return tc.streamClasses }

// AddStreamClass attaches sc to the trace class, assigning its ID.
func (tc *TraceClass) AddStreamClass(sc *StreamClass) error {
	if err := tc.checkMutable(); err != nil {
		return err
	}
	if sc.parent != nil {
		return ErrAlreadyAttached
	}

	id := sc.id
	if !sc.idSetExplicitly() {
		if !tc.assignsAutomaticStreamClassID {
			return ErrIDCollision
		}
		id = tc.nextStreamClassID
	} else if _, exists := tc.streamClassByID[id]; exists {
		if !tc.assignsAutomaticStreamClassID {
			return ErrIDCollision
		}
		return ErrDuplicateID
	}

	sc.id = id
	sc.parent = tc
	tc.streamClassByID[id] = sc
	tc.streamClasses = append(tc.streamClasses, sc)
	if id >= tc.nextStreamClassID {
		tc.nextStreamClassID = id + 1
	}
	return nil
}

func standardPacketHeaderFC() *FieldClass {
	fc, _ := NewStructureFC(32)
	magic, _ := NewIntegerFC(32, false, Native, 32, Base16)
	_ = fc.AppendMember("magic", magic)
	uuidArrElem, _ := NewIntegerFC(8, false, LittleEndian, 8, Base16)
	uuidArr, _ := NewStaticArrayFC(uuidArrElem, 16)
	_ = fc.AppendMember("uuid", uuidArr)
	streamID, _ := NewIntegerFC(32, false, Native, 32, Base10)
	_ = fc.AppendMember("stream_id", streamID)
	return fc
}

// CreateTrace freezes the trace class transitively, resolves any
// remaining Native byte-order markers, creates the on-disk trace
// directory, emits the TSDL metadata file, and returns a Trace ready
// to accept streams. On any failure, no files are left on disk.
func (tc *TraceClass) CreateTrace(path string) (*Trace, error) {
	if tc.frozen {
		return nil, ErrFrozen
	}

	if tc.packetHeaderFC == nil {
		tc.packetHeaderFC = standardPacketHeaderFC()
		tc.packetHeaderFC.attached = true
		tc.packetHeaderFC.freeze()
	}

	if !tc.nativeByteOrderSet && treeHasNativeMarker(tc) {
		return nil, ErrInvalidByteOrder
	}
	if tc.nativeByteOrderSet {
		resolveNativeByteOrderAll(tc)
	}

	if !tc.hasUUID {
		tc.id = uuid.New()
		tc.hasUUID = true
	}

	tc.frozen = true

	dirCreated := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			tc.frozen = false
			return nil, err
		}
		dirCreated = true
	}

	metadataPath := filepath.Join(path, "metadata")
	f, err := os.Create(metadataPath)
	if err != nil {
		if dirCreated {
			_ = os.RemoveAll(path)
		}
		tc.frozen = false
		return nil, err
	}
	defer f.Close()

	if err := EmitTSDL(tc, f); err != nil {
		_ = os.Remove(metadataPath)
		if dirCreated {
			_ = os.RemoveAll(path)
		}
		tc.frozen = false
		return nil, err
	}

	return newTrace(tc, path), nil
}

func treeHasNativeMarker(tc *TraceClass) bool {
	if fcHasNativeMarker(tc.packetHeaderFC) {
		return true
	}
	for _, sc := range tc.streamClasses {
		if fcHasNativeMarker(sc.packetContextFC) || fcHasNativeMarker(sc.eventHeaderFC) || fcHasNativeMarker(sc.eventCommonContextFC) {
			return true
		}
		for _, ec := range sc.eventClasses {
			if fcHasNativeMarker(ec.specificContextFC) || fcHasNativeMarker(ec.payloadFC) {
				return true
			}
		}
	}
	return false
}

func fcHasNativeMarker(fc *FieldClass) bool {
	if fc == nil {
		return false
	}
	switch fc.kind {
	case KindInteger, KindReal, KindEnumeration:
		return fc.byteOrder == Native
	case KindStructure, KindVariant:
		for _, m := range fc.members {
			if fcHasNativeMarker(m.fc) {
				return true
			}
		}
	case KindStaticArray, KindDynamicArray, KindOption:
		return fcHasNativeMarker(fc.element)
	}
	return false
}

func resolveNativeByteOrderAll(tc *TraceClass) {
	order := tc.nativeByteOrder
	tc.packetHeaderFC.resolveNativeByteOrder(order)
	for _, sc := range tc.streamClasses {
		if sc.packetContextFC != nil {
			sc.packetContextFC.resolveNativeByteOrder(order)
		}
		if sc.eventHeaderFC != nil {
			sc.eventHeaderFC.resolveNativeByteOrder(order)
		}
		if sc.eventCommonContextFC != nil {
			sc.eventCommonContextFC.resolveNativeByteOrder(order)
		}
		for _, ec := range sc.eventClasses {
			if ec.specificContextFC != nil {
				ec.specificContextFC.resolveNativeByteOrder(order)
			}
			if ec.payloadFC != nil {
				ec.payloadFC.resolveNativeByteOrder(order)
			}
		}
	}
}

// idSetExplicitly reports whether the stream class's ID was set by
// the caller rather than left for automatic assignment. Only SetID
// (see streamclass.go) marks it; an automatically assigned ID does not.
func (sc *StreamClass) idSetExplicitly() bool { return sc.idSet }
