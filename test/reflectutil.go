// Copyright (c) 2015 Arista Networks, Inc.  All rights reserved.
// Arista Networks, Inc. Confidential and Proprietary.

package test

import (
	"reflect"
	"unsafe"
)

// edge identifies a (a, b) pointer pair visited while walking two object
// graphs, so diffImpl can detect cycles instead of recursing forever.
type edge struct {
	from, to uintptr
}

// forceExport returns v in a form whose Interface method can be called,
// bypassing the read-only flag reflect sets on values obtained by reading
// an unexported struct field. Only possible when the field is addressable;
// an unexported field of a non-addressable struct is left as the zero
// Value, which diffImpl treats as equal, consistent with DeepEqual's own
// stated scope (deepequal.go: "only the basic types found in our system
// are supported").
func forceExport(v reflect.Value) reflect.Value {
	if v.CanInterface() {
		return v
	}
	if v.CanAddr() {
		return reflect.NewAt(v.Type(), unsafe.Pointer(v.UnsafeAddr())).Elem()
	}
	return reflect.Value{}
}

// complexKeyMapEqual compares maps whose keys are pointers or interfaces,
// where two keys can be "the same" without being identical Go values (two
// distinct *Foo with equal contents). It generalizes the O(n^2) scan
// mapEqual (deepequal.go) already does for map[interface{}]interface{} to
// arbitrary reflect.Values, reusing diffImpl so nested cycles still go
// through the shared seen set.
func complexKeyMapEqual(av, bv reflect.Value, seen map[edge]struct{}) (ok bool, ka, be reflect.Value) {
	for _, k := range av.MapKeys() {
		ae := av.MapIndex(k)
		matched := false
		for _, k2 := range bv.MapKeys() {
			if diffImpl(k.Interface(), k2.Interface(), seen) != "" {
				continue
			}
			be = bv.MapIndex(k2)
			matched = diffImpl(ae.Interface(), be.Interface(), seen) == ""
			break
		}
		if !matched {
			return false, k, be
		}
	}
	return true, reflect.Value{}, reflect.Value{}
}
