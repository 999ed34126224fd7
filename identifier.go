// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

// tsdlKeywords are the TSDL 1.8 reserved words an identifier must
// never collide with.
var tsdlKeywords = map[string]bool{
	"align": true, "callsite": true, "const": true, "char": true,
	"clock": true, "double": true, "enum": true, "env": true,
	"event": true, "floating_point": true, "float": true, "integer": true,
	"int": true, "long": true, "short": true, "signed": true,
	"stream": true, "string": true, "struct": true, "trace": true,
	"typealias": true, "typedef": true, "unsigned": true, "variant": true,
	"void": true, "bool": true, "complex": true, "imaginary": true,
}

// validateIdentifier reports ErrInvalidIdentifier unless name is a
// non-empty sequence of ASCII letters, digits and underscores that
// starts with a letter or underscore and is not a reserved word.
func validateIdentifier(name string) error {
	if name == "" {
		return ErrInvalidIdentifier
	}
	if tsdlKeywords[name] {
		return ErrInvalidIdentifier
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return ErrInvalidIdentifier
			}
		default:
			return ErrInvalidIdentifier
		}
	}
	return nil
}
