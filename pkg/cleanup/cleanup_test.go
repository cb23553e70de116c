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

package cleanup

import (
	"errors"
	"fmt"
	"slices"
	"testing"
)

// build runs n steps, each recorded in held and undone on failure, and
// fails at step failAt (or never if failAt >= n).
func build(held map[string]bool, n, failAt int) error {
	cu := Make(func() { delete(held, "root") })
	defer cu.Clean()
	held["root"] = true
	for i := 0; i < n; i++ {
		if i == failAt {
			return errors.New("out of frames")
		}
		name := fmt.Sprintf("step%d", i)
		held[name] = true
		cu.Add(func() { delete(held, name) })
	}
	cu.Release()
	return nil
}

func TestRollback(t *testing.T) {
	const steps = 3
	for failAt := 0; failAt <= steps; failAt++ {
		t.Run(fmt.Sprintf("fail at %d", failAt), func(t *testing.T) {
			held := make(map[string]bool)
			err := build(held, steps, failAt)
			switch {
			case failAt < steps && err == nil:
				t.Fatalf("build succeeded, want failure")
			case failAt < steps && len(held) != 0:
				t.Errorf("failed build left %v behind", held)
			case failAt == steps && err != nil:
				t.Fatalf("build failed: %v", err)
			case failAt == steps && len(held) != steps+1:
				t.Errorf("successful build holds %v, want root and %d steps", held, steps)
			}
		})
	}
}

func TestReleaseReturnsCleaners(t *testing.T) {
	var order []int
	cu := Make(func() { order = append(order, 1) })
	cu.Add(func() { order = append(order, 2) })
	undo := cu.Release()
	cu.Clean()
	if len(order) != 0 {
		t.Fatalf("Clean after Release ran %v", order)
	}
	undo()
	if want := []int{2, 1}; !slices.Equal(order, want) {
		t.Errorf("released cleaners ran %v, want: %v", order, want)
	}
}

func TestCleanTwice(t *testing.T) {
	calls := 0
	cu := Make(func() { calls++ })
	cu.Clean()
	cu.Clean()
	if calls != 1 {
		t.Fatalf("cleanup ran %d times, want: 1", calls)
	}
}
