// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

import "testing"

func TestStreamClassSetPacketContextRejectsNonStructure(t *testing.T) {
	sc := NewStreamClass("s")
	notStruct, _ := NewIntegerFC(8, false, LittleEndian, 8, Base10)
	if err := sc.SetPacketContextFC(notStruct); err != ErrTypeMismatch {
		t.Fatalf("SetPacketContextFC() err = %v, want %v", err, ErrTypeMismatch)
	}
}

func TestStreamClassSetPacketContextOnlyOnce(t *testing.T) {
	sc := NewStreamClass("s")
	pc1, _ := NewStructureFC(8)
	if err := sc.SetPacketContextFC(pc1); err != nil {
		t.Fatalf("SetPacketContextFC() failed, reason: %v", err)
	}
	pc2, _ := NewStructureFC(8)
	if err := sc.SetPacketContextFC(pc2); err != ErrFrozen {
		t.Fatalf("SetPacketContextFC() second call err = %v, want %v", err, ErrFrozen)
	}
}

func TestAddStreamClassAssignsAutomaticID(t *testing.T) {
	tc := NewTraceClass(nil)
	sc1 := NewStreamClass("a")
	sc2 := NewStreamClass("b")
	if err := tc.AddStreamClass(sc1); err != nil {
		t.Fatalf("AddStreamClass() failed, reason: %v", err)
	}
	if err := tc.AddStreamClass(sc2); err != nil {
		t.Fatalf("AddStreamClass() failed, reason: %v", err)
	}
	if sc1.ID() != 0 || sc2.ID() != 1 {
		t.Fatalf("automatic stream IDs = %d,%d want 0,1", sc1.ID(), sc2.ID())
	}
}

func TestAddEventClassRejectsOnceTraceFrozen(t *testing.T) {
	tc := NewTraceClass(nil)
	sc := NewStreamClass("s")
	if err := tc.AddStreamClass(sc); err != nil {
		t.Fatalf("AddStreamClass() failed, reason: %v", err)
	}
	tc.frozen = true

	ec := NewEventClass("e")
	if err := sc.AddEventClass(ec); err != ErrFrozen {
		t.Fatalf("AddEventClass() after trace frozen err = %v, want %v", err, ErrFrozen)
	}
}

func TestSetDefaultClockClassFreezesClock(t *testing.T) {
	sc := NewStreamClass("s")
	cc, err := NewClockClass("c", 1000)
	if err != nil {
		t.Fatalf("NewClockClass() failed, reason: %v", err)
	}
	if err := sc.SetDefaultClockClass(cc); err != nil {
		t.Fatalf("SetDefaultClockClass() failed, reason: %v", err)
	}
	if err := cc.SetPrecisionCycles(5); err != ErrFrozen {
		t.Fatalf("SetPrecisionCycles() on attached clock err = %v, want %v", err, ErrFrozen)
	}
}
