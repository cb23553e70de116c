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

package hostarch

import "testing"

func TestIndices(t *testing.T) {
	for _, tc := range []struct {
		addr Addr
		want [PageLevels]int
	}{
		{0, [PageLevels]int{0, 0, 0, 0}},
		{0x400000, [PageLevels]int{0, 0, 2, 0}},
		{0x401fff, [PageLevels]int{0, 0, 2, 1}},
		{UserStackTop, [PageLevels]int{255, 511, 511, 511}},
		{0xffff800000000000, [PageLevels]int{256, 0, 0, 0}},
	} {
		if got := tc.addr.Indices(); got != tc.want {
			t.Errorf("%v.Indices() = %v, want: %v", tc.addr, got, tc.want)
		}
	}
}

func TestCanonical(t *testing.T) {
	for _, tc := range []struct {
		addr Addr
		want bool
	}{
		{0, true},
		{0x00007fffffffffff, true},
		{0x0000800000000000, false},
		{0x8000000000000000, false},
		{0xffff800000000000, true},
		{0xffffffffffffffff, true},
	} {
		if got := tc.addr.IsCanonical(); got != tc.want {
			t.Errorf("%v.IsCanonical() = %v, want: %v", tc.addr, got, tc.want)
		}
	}
}

func TestRounding(t *testing.T) {
	if got, want := Addr(0x1234).RoundDown(), Addr(0x1000); got != want {
		t.Errorf("RoundDown = %v, want: %v", got, want)
	}
	if got, ok := Addr(0x1234).RoundUp(); !ok || got != 0x2000 {
		t.Errorf("RoundUp = %v, %v, want: 0x2000, true", got, ok)
	}
	if _, ok := Addr(0xffffffffffffff01).RoundUp(); ok {
		t.Errorf("RoundUp of the last page succeeded, want wraparound")
	}
	r, ok := AddrRange{0x400010, 0x401001}.PageRange()
	if !ok || r != (AddrRange{0x400000, 0x402000}) {
		t.Errorf("PageRange = %v, %v, want: [0x400000, 0x402000), true", r, ok)
	}
	if got := r.NumPages(); got != 2 {
		t.Errorf("NumPages = %d, want: 2", got)
	}
}

func TestAccessType(t *testing.T) {
	if got := ReadExec.String(); got != "r-x" {
		t.Errorf("ReadExec.String() = %q, want: r-x", got)
	}
	if !ReadWrite.SupersetOf(Write) {
		t.Errorf("rw- is not a superset of -w-")
	}
	if ReadExec.SupersetOf(Write) {
		t.Errorf("r-x is a superset of -w-")
	}
}
