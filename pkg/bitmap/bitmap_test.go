// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddRemove(t *testing.T) {
	b := New(130)
	for _, i := range []uint32{0, 63, 64, 129} {
		if !b.Add(i) {
			t.Errorf("Add(%d) = false, want true", i)
		}
	}
	if b.Add(64) {
		t.Errorf("second Add(64) = true, want false")
	}
	if got := b.GetNumOnes(); got != 4 {
		t.Errorf("GetNumOnes() = %d, want: 4", got)
	}
	if !b.Remove(63) {
		t.Errorf("Remove(63) = false, want true")
	}
	if b.Remove(63) {
		t.Errorf("second Remove(63) = true, want false")
	}
	if diff := cmp.Diff([]uint32{0, 64, 129}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice() mismatch (-want +got):\n%s", diff)
	}
}

func TestFirstZero(t *testing.T) {
	for _, tc := range []struct {
		name  string
		size  uint32
		set   []uint32
		start uint32
		want  uint32
		ok    bool
	}{
		{name: "empty", size: 10, want: 0, ok: true},
		{name: "skip set", size: 10, set: []uint32{0, 1, 2}, want: 3, ok: true},
		{name: "from start", size: 200, set: []uint32{70}, start: 70, want: 71, ok: true},
		{name: "word boundary", size: 200, start: 64, want: 64, ok: true},
		{name: "wraps", size: 10, set: []uint32{5, 6, 7, 8, 9}, start: 5, want: 0, ok: true},
		{name: "full", size: 3, set: []uint32{0, 1, 2}, ok: false},
		{name: "tail bits ignored", size: 65, set: []uint32{64}, start: 64, want: 0, ok: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := New(tc.size)
			for _, i := range tc.set {
				b.Add(i)
			}
			got, ok := b.FirstZero(tc.start)
			if ok != tc.ok || (ok && got != tc.want) {
				t.Errorf("FirstZero(%d) = %d, %v, want: %d, %v", tc.start, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Contains out of range did not panic")
		}
	}()
	b := New(8)
	b.Contains(8)
}
