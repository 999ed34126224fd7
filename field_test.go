// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

import "testing"

func TestFieldResetClearsValue(t *testing.T) {
	fc, _ := NewStructureFC(8)
	elem, _ := NewIntegerFC(32, false, LittleEndian, 8, Base10)
	if err := fc.AppendMember("x", elem); err != nil {
		t.Fatalf("AppendMember() failed, reason: %v", err)
	}

	f := NewField(fc)
	child, ok := f.StructureFieldByName("x")
	if !ok {
		t.Fatalf("StructureFieldByName() did not find member x")
	}
	if err := child.SetUint(42); err != nil {
		t.Fatalf("SetUint() failed, reason: %v", err)
	}
	f.Reset()
	if got := child.Uint(); got != 0 {
		t.Fatalf("Uint() after Reset() = %d, want 0", got)
	}
}

func TestFieldDynamicArrayLength(t *testing.T) {
	elem, _ := NewIntegerFC(8, false, LittleEndian, 8, Base10)
	fc, err := NewDynamicArrayFC(elem, "len")
	if err != nil {
		t.Fatalf("NewDynamicArrayFC() failed, reason: %v", err)
	}
	f := NewField(fc)
	if _, ok := f.DynamicArrayLength(); ok {
		t.Fatalf("DynamicArrayLength() ok = true before SetDynamicArrayLength")
	}
	if err := f.SetDynamicArrayLength(3); err != nil {
		t.Fatalf("SetDynamicArrayLength() failed, reason: %v", err)
	}
	n, ok := f.DynamicArrayLength()
	if !ok || n != 3 {
		t.Fatalf("DynamicArrayLength() = %d,%v want 3,true", n, ok)
	}
	if err := f.DynamicArrayElement(2).SetUint(9); err != nil {
		t.Fatalf("SetUint() on element failed, reason: %v", err)
	}
}

func TestFieldVariantSelection(t *testing.T) {
	fc := NewVariantFC("tag")
	a, _ := NewIntegerFC(8, false, LittleEndian, 8, Base10)
	b, _ := NewIntegerFC(16, false, LittleEndian, 8, Base10)
	if err := fc.AppendOption("a", a); err != nil {
		t.Fatalf("AppendOption() failed, reason: %v", err)
	}
	if err := fc.AppendOption("b", b); err != nil {
		t.Fatalf("AppendOption() failed, reason: %v", err)
	}

	f := NewField(fc)
	if _, _, err := f.SelectedVariantField(); err != ErrVariantUnselected {
		t.Fatalf("SelectedVariantField() before selection err = %v, want %v", err, ErrVariantUnselected)
	}
	if err := f.SelectVariantByLabel("b"); err != nil {
		t.Fatalf("SelectVariantByLabel() failed, reason: %v", err)
	}
	selected, label, err := f.SelectedVariantField()
	if err != nil {
		t.Fatalf("SelectedVariantField() failed, reason: %v", err)
	}
	if label != "b" {
		t.Fatalf("SelectedVariantField() label = %q, want b", label)
	}
	if err := selected.SetUint(7); err != nil {
		t.Fatalf("SetUint() on selected option failed, reason: %v", err)
	}
}

func TestFieldPoolReusesReleasedField(t *testing.T) {
	fc, _ := NewIntegerFC(8, false, LittleEndian, 8, Base10)
	pool := NewFieldPool(fc)

	f1 := pool.Acquire()
	if err := f1.SetUint(5); err != nil {
		t.Fatalf("SetUint() failed, reason: %v", err)
	}
	pool.Release(f1)

	f2 := pool.Acquire()
	if f2 != f1 {
		t.Fatalf("Acquire() after Release() allocated a new field instead of reusing")
	}
	if got := f2.Uint(); got != 0 {
		t.Fatalf("Acquire() reused field not reset, Uint() = %d, want 0", got)
	}
}

func TestFieldPoolNilFieldClassAlwaysNil(t *testing.T) {
	pool := NewFieldPool(nil)
	if f := pool.Acquire(); f != nil {
		t.Fatalf("Acquire() on nil-backed pool = %v, want nil", f)
	}
}
