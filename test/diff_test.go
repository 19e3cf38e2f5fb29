// Copyright (c) 2015 Arista Networks, Inc.  All rights reserved.
// Arista Networks, Inc. Confidential and Proprietary.

package test

import "testing"

func TestDiff(t *testing.T) {
	testcases := []struct {
		a, b interface{}
		diff string
	}{
		{a: nil, b: nil, diff: ""},
		{a: 3, b: 3, diff: ""},
		{a: 3, b: 4, diff: "Ints different: 3, 4"},
		{
			a:    map[int8]int(nil),
			b:    map[int8]int(nil),
			diff: "",
		}, {
			a:    map[int8]int16(nil),
			b:    map[int8]int(nil),
			diff: "types are different: map[int8]int16 vs map[int8]int",
		}, {
			a:    map[int8]int{int8(3): 2, int8(4): 6},
			b:    map[int8]int{int8(3): 2, int8(4): 6},
			diff: "",
		}, {
			a:    map[int8]int{int8(3): 2, int8(4): 5},
			b:    map[int8]int{int8(3): 2, int8(4): 6},
			diff: "for key int8(4) in map, values are different: Ints different: 5, 6",
		}, {
			a:    map[int8]int{int8(3): 2, int8(2): 6},
			b:    map[int8]int{int8(3): 2, int8(4): 6},
			diff: "key int8(2) in map is missing in the second map",
		}, {
			// Mirrors the kind of value this package is actually exercised
			// on: internal/wire.Header, a plain struct of basic fields.
			a:    struct{ Command, UserID uint32 }{Command: 1, UserID: 42},
			b:    struct{ Command, UserID uint32 }{Command: 1, UserID: 42},
			diff: "",
		},
	}

	for _, tc := range testcases {
		diff := Diff(tc.a, tc.b)
		if tc.diff != diff {
			t.Errorf("Diff returned different diff\nDiff    : %q\nExpected: %q\nFor %#v == %#v",
				diff, tc.diff, tc.a, tc.b)
		}
	}
}

var benchEqual = map[string]interface{}{
	"foo": "bar",
	"bar": map[string]interface{}{
		"foo": "bar",
		"bar": map[string]interface{}{
			"foo": "bar",
		},
		"foo2": []uint32{1, 2, 5, 78, 23, 236, 346, 3456},
	},
}

func BenchmarkDeepEqual(b *testing.B) {
	for i := 0; i < b.N; i++ {
		DeepEqual(benchEqual, benchEqual)
	}
}

func BenchmarkDiff(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Diff(benchEqual, benchEqual)
	}
}
