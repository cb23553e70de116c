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

package arch

import (
	"testing"

	"gvisor.dev/kcore/pkg/hostarch"
)

func TestNewUserContext(t *testing.T) {
	regs := NewUserContext(0x400000, hostarch.UserStackTop-8)
	if regs.IP() != 0x400000 {
		t.Errorf("IP = %v, want: 0x400000", regs.IP())
	}
	if sp := regs.Stack(); sp%16 != 0 || sp > hostarch.UserStackTop-8 {
		t.Errorf("Stack = %v, want 16-byte aligned below %v", sp, hostarch.UserStackTop-8)
	}
	if regs.Eflags != 0x202 {
		t.Errorf("Eflags = %#x, want: 0x202", regs.Eflags)
	}
	if !regs.IsUser() {
		t.Errorf("selectors cs=%#x ss=%#x are not user mode", regs.Cs, regs.Ss)
	}
}

func TestSetters(t *testing.T) {
	var regs Registers
	regs.SetIP(0x401000)
	regs.SetStack(0x7fff0000)
	regs.SetReturn(42)
	if regs.Rip != 0x401000 || regs.Rsp != 0x7fff0000 || regs.Return() != 42 {
		t.Errorf("registers = %v", &regs)
	}
}
