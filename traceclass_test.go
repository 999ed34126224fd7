// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateTraceGeneratesUUIDAndStandardHeader(t *testing.T) {
	tc := NewTraceClass(nil)
	if err := tc.SetNativeByteOrder(LittleEndian); err != nil {
		t.Fatalf("SetNativeByteOrder() failed, reason: %v", err)
	}

	dir := t.TempDir()
	trace, err := tc.CreateTrace(filepath.Join(dir, "trace"))
	if err != nil {
		t.Fatalf("CreateTrace() failed, reason: %v", err)
	}
	if _, ok := tc.UUID(); !ok {
		t.Fatalf("CreateTrace() left trace class without a generated UUID")
	}
	if tc.PacketHeaderFC() == nil {
		t.Fatalf("CreateTrace() left trace class without the standard packet header")
	}
	if trace.TraceClass() != tc {
		t.Fatalf("CreateTrace() trace's TraceClass() does not point back to tc")
	}
	if _, err := os.Stat(filepath.Join(dir, "trace", "metadata")); err != nil {
		t.Fatalf("CreateTrace() did not write a metadata file: %v", err)
	}
}

func TestCreateTraceRejectsSecondCall(t *testing.T) {
	tc := NewTraceClass(nil)
	if err := tc.SetNativeByteOrder(LittleEndian); err != nil {
		t.Fatalf("SetNativeByteOrder() failed, reason: %v", err)
	}
	dir := t.TempDir()
	if _, err := tc.CreateTrace(filepath.Join(dir, "a")); err != nil {
		t.Fatalf("CreateTrace() failed, reason: %v", err)
	}
	if _, err := tc.CreateTrace(filepath.Join(dir, "b")); err != ErrFrozen {
		t.Fatalf("second CreateTrace() err = %v, want %v", err, ErrFrozen)
	}
}

func TestCreateTraceRejectsUnresolvedNativeByteOrder(t *testing.T) {
	tc := NewTraceClass(nil)
	sc := NewStreamClass("s")
	pc, _ := NewStructureFC(8)
	field, _ := NewIntegerFC(32, false, Native, 8, Base10)
	if err := pc.AppendMember("n", field); err != nil {
		t.Fatalf("AppendMember() failed, reason: %v", err)
	}
	if err := sc.SetPacketContextFC(pc); err != nil {
		t.Fatalf("SetPacketContextFC() failed, reason: %v", err)
	}
	if err := tc.AddStreamClass(sc); err != nil {
		t.Fatalf("AddStreamClass() failed, reason: %v", err)
	}

	dir := t.TempDir()
	if _, err := tc.CreateTrace(dir); err != ErrInvalidByteOrder {
		t.Fatalf("CreateTrace() err = %v, want %v", err, ErrInvalidByteOrder)
	}
}

func TestSetNativeByteOrderRejectsNative(t *testing.T) {
	tc := NewTraceClass(nil)
	if err := tc.SetNativeByteOrder(Native); err != ErrInvalidByteOrder {
		t.Fatalf("SetNativeByteOrder(Native) err = %v, want %v", err, ErrInvalidByteOrder)
	}
}
