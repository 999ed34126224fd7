// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

import "testing"

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"empty", "", true},
		{"keyword struct", "struct", true},
		{"keyword int", "int", true},
		{"starts with digit", "1abc", true},
		{"contains dash", "a-b", true},
		{"plain", "counter", false},
		{"leading underscore", "_reserved", false},
		{"digits after first char", "event_1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateIdentifier(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateIdentifier(%q) err = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestFuzzValidateIdentifierNeverPanics(t *testing.T) {
	inputs := [][]byte{nil, []byte(""), []byte("struct"), []byte("\x00\xff"), []byte("ok_name")}
	for _, in := range inputs {
		_ = FuzzValidateIdentifier(in)
	}
}
