// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ctfir

// resolveRefsIn walks root's tree and resolves every still-unresolved
// DynamicArray length, Option selector and Variant selector reference
// it contains against scopes, treating root itself as the tree rooted
// at scope. It also enforces the target-kind invariants: a dynamic
// array's length target must be an unsigned integer, an option's
// selector must be a boolean-valued integer or an
// enumeration, and a variant's selector target must be an
// enumeration whose mapping labels cover every option label.
func resolveRefsIn(scopes ScopeContext, scope Scope, root *FieldClass) error {
	if root == nil {
		return nil
	}
	switch root.kind {
	case KindStructure:
		for _, m := range root.members {
			if err := resolveRefsIn(scopes, scope, m.fc); err != nil {
				return err
			}
		}
	case KindVariant:
		if root.selectorPath == nil {
			path, err := Resolve(scopes, scope, root, root.selectorRefName)
			if err != nil {
				return err
			}
			target, err := fieldClassAt(scopes, *path)
			if err != nil {
				return err
			}
			if target.Kind() != KindEnumeration {
				return ErrTypeMismatch
			}
			for _, m := range root.members {
				if !hasMappingLabel(target, m.name) {
					return ErrTypeMismatch
				}
			}
			root.selectorPath = path
		}
		for _, m := range root.members {
			if err := resolveRefsIn(scopes, scope, m.fc); err != nil {
				return err
			}
		}
	case KindStaticArray:
		if err := resolveRefsIn(scopes, scope, root.element); err != nil {
			return err
		}
	case KindDynamicArray:
		if root.selectorPath == nil {
			path, err := Resolve(scopes, scope, root, root.selectorRefName)
			if err != nil {
				return err
			}
			target, err := fieldClassAt(scopes, *path)
			if err != nil {
				return err
			}
			if target.Kind() != KindInteger || target.Signed() {
				return ErrTypeMismatch
			}
			root.selectorPath = path
		}
		if err := resolveRefsIn(scopes, scope, root.element); err != nil {
			return err
		}
	case KindOption:
		if root.selectorRefName != "" && root.selectorPath == nil {
			path, err := Resolve(scopes, scope, root, root.selectorRefName)
			if err != nil {
				return err
			}
			target, err := fieldClassAt(scopes, *path)
			if err != nil {
				return err
			}
			if target.Kind() == KindEnumeration {
				// ok
			} else if target.Kind() == KindInteger && target.WidthBits() == 1 && !target.Signed() {
				// boolean-valued integer
			} else {
				return ErrTypeMismatch
			}
			root.selectorPath = path
		}
		if err := resolveRefsIn(scopes, scope, root.element); err != nil {
			return err
		}
	}
	return nil
}

func hasMappingLabel(enumFC *FieldClass, label string) bool {
	for _, m := range enumFC.mappings {
		if m.Label == label {
			return true
		}
	}
	return false
}

// fieldClassAt walks down from the scope root named by path.Scope
// through path.Indices to the field class the path designates.
func fieldClassAt(scopes ScopeContext, path FieldPath) (*FieldClass, error) {
	fc := scopes.root(path.Scope)
	if fc == nil {
		return nil, ErrResolveNotFound
	}
	for _, idx := range path.Indices {
		switch fc.kind {
		case KindStructure, KindVariant:
			if idx == ArrayElementIndex || int(idx) >= len(fc.members) {
				return nil, ErrResolveNotFound
			}
			fc = fc.members[idx].fc
		case KindStaticArray, KindDynamicArray, KindOption:
			fc = fc.element
		default:
			return nil, ErrResolveNotFound
		}
	}
	return fc, nil
}

// attachScopeFC verifies fc is a structure, resolves every pending
// reference inside it against scopes, marks it attached and freezes
// it, leaving the caller to store it. Used by the stream class's three
// bound structure field-class setters and the trace class's packet
// header setter.
func attachScopeFC(scopes ScopeContext, scope Scope, fc *FieldClass) error {
	if fc.Kind() != KindStructure {
		return ErrTypeMismatch
	}
	if fc.attached {
		return ErrAlreadyAttached
	}
	if err := resolveRefsIn(scopes, scope, fc); err != nil {
		return err
	}
	fc.attached = true
	fc.freeze()
	return nil
}
