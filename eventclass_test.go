// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

import "testing"

func TestEventClassSetPayloadRejectsNonStructure(t *testing.T) {
	ec := NewEventClass("e")
	notStruct, _ := NewIntegerFC(8, false, LittleEndian, 8, Base10)
	if err := ec.SetPayloadFC(notStruct); err != ErrTypeMismatch {
		t.Fatalf("SetPayloadFC() err = %v, want %v", err, ErrTypeMismatch)
	}
}

func TestEventClassSetIDThenFrozenRejectsSetLogLevel(t *testing.T) {
	ec := NewEventClass("e")
	if err := ec.SetID(5); err != nil {
		t.Fatalf("SetID() failed, reason: %v", err)
	}
	if got := ec.ID(); got != 5 {
		t.Fatalf("ID() = %d, want 5", got)
	}
	ec.frozen = true
	if err := ec.SetLogLevel(3); err != ErrFrozen {
		t.Fatalf("SetLogLevel() after frozen err = %v, want %v", err, ErrFrozen)
	}
}

func TestAddEventClassAssignsAutomaticID(t *testing.T) {
	sc := NewStreamClass("s")
	ec1 := NewEventClass("a")
	ec2 := NewEventClass("b")
	if err := sc.AddEventClass(ec1); err != nil {
		t.Fatalf("AddEventClass() failed, reason: %v", err)
	}
	if err := sc.AddEventClass(ec2); err != nil {
		t.Fatalf("AddEventClass() failed, reason: %v", err)
	}
	if ec1.ID() != 0 || ec2.ID() != 1 {
		t.Fatalf("automatic IDs = %d,%d want 0,1", ec1.ID(), ec2.ID())
	}
}

func TestAddEventClassRejectsDuplicateExplicitID(t *testing.T) {
	sc := NewStreamClass("s")
	ec1 := NewEventClass("a")
	_ = ec1.SetID(7)
	if err := sc.AddEventClass(ec1); err != nil {
		t.Fatalf("AddEventClass() failed, reason: %v", err)
	}
	ec2 := NewEventClass("b")
	_ = ec2.SetID(7)
	if err := sc.AddEventClass(ec2); err != ErrDuplicateID {
		t.Fatalf("AddEventClass() err = %v, want %v", err, ErrDuplicateID)
	}
}

func TestAddEventClassResolvesPayloadAgainstHeader(t *testing.T) {
	sc := NewStreamClass("s")
	header, _ := NewStructureFC(8)
	lenField, _ := NewIntegerFC(32, false, LittleEndian, 8, Base10)
	if err := header.AppendMember("len", lenField); err != nil {
		t.Fatalf("AppendMember() failed, reason: %v", err)
	}
	if err := sc.SetEventHeaderFC(header); err != nil {
		t.Fatalf("SetEventHeaderFC() failed, reason: %v", err)
	}

	ec := NewEventClass("e")
	payload, _ := NewStructureFC(8)
	elem, _ := NewIntegerFC(8, false, LittleEndian, 8, Base10)
	arr, _ := NewDynamicArrayFC(elem, "len")
	if err := payload.AppendMember("data", arr); err != nil {
		t.Fatalf("AppendMember() failed, reason: %v", err)
	}
	if err := ec.SetPayloadFC(payload); err != nil {
		t.Fatalf("SetPayloadFC() failed, reason: %v", err)
	}

	if err := sc.AddEventClass(ec); err != nil {
		t.Fatalf("AddEventClass() failed, reason: %v", err)
	}
	if arr.LengthPath() == nil {
		t.Fatalf("AddEventClass() did not resolve dynamic array length against event header")
	}
}
