// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

// FuzzValidateIdentifier exercises validateIdentifier against
// arbitrary input. This is the one piece of textual, attacker-reachable
// parsing this package does: TSDL identifier syntax for structure
// members, variant options and enumeration mapping labels.
func FuzzValidateIdentifier(data []byte) int {
	name := string(data)
	if err := validateIdentifier(name); err != nil {
		return 0
	}
	return 1
}
