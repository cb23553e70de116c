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

package sched

// readyQueue is a FIFO of pids at one level of one core.
type readyQueue struct {
	pids []PID
}

func (q *readyQueue) len() int {
	return len(q.pids)
}

func (q *readyQueue) pushBack(pid PID) {
	q.pids = append(q.pids, pid)
}

func (q *readyQueue) popFront() (PID, bool) {
	if len(q.pids) == 0 {
		return NoPID, false
	}
	pid := q.pids[0]
	q.pids[0] = NoPID
	q.pids = q.pids[1:]
	return pid, true
}

// remove deletes pid from the queue, keeping the order of the rest.
func (q *readyQueue) remove(pid PID) bool {
	for i, p := range q.pids {
		if p == pid {
			q.pids = append(q.pids[:i], q.pids[i+1:]...)
			return true
		}
	}
	return false
}

// drain empties the queue and returns its contents in order.
func (q *readyQueue) drain() []PID {
	pids := q.pids
	q.pids = nil
	return pids
}
