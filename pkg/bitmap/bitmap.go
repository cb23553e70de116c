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

// Package bitmap provides a fixed-size bitmap with fast first-fit search.
package bitmap

import (
	"fmt"
	"math/bits"
)

// Bitmap is a fixed-size set of bits. The zero value is an empty bitmap of
// size 0.
//
// Bitmap is not synchronized.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// size is the number of addressable bits.
	size uint32

	// bitBlock holds the bits, 64 per word. Bits at or above size are
	// always zero.
	bitBlock []uint64
}

// New creates a new empty Bitmap holding size bits.
func New(size uint32) Bitmap {
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// Size returns the number of addressable bits.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// GetNumOnes returns the number of set bits.
func (b *Bitmap) GetNumOnes() uint32 {
	return b.numOnes
}

// IsEmpty returns true if no bit is set.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// IsFull returns true if every addressable bit is set.
func (b *Bitmap) IsFull() bool {
	return b.numOnes == b.size
}

func (b *Bitmap) checkRange(i uint32) {
	if i >= b.size {
		panic(fmt.Sprintf("bit %d out of range [0, %d)", i, b.size))
	}
}

// Contains returns true if bit i is set.
func (b *Bitmap) Contains(i uint32) bool {
	b.checkRange(i)
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add sets bit i. It returns false if the bit was already set.
func (b *Bitmap) Add(i uint32) bool {
	b.checkRange(i)
	blockNum, mask := i/64, uint64(1)<<(i%64)
	if b.bitBlock[blockNum]&mask != 0 {
		return false
	}
	b.bitBlock[blockNum] |= mask
	b.numOnes++
	return true
}

// Remove clears bit i. It returns false if the bit was already clear.
func (b *Bitmap) Remove(i uint32) bool {
	b.checkRange(i)
	blockNum, mask := i/64, uint64(1)<<(i%64)
	if b.bitBlock[blockNum]&mask == 0 {
		return false
	}
	b.bitBlock[blockNum] &^= mask
	b.numOnes--
	return true
}

// AddRange sets every bit in [begin, end).
func (b *Bitmap) AddRange(begin, end uint32) {
	for i := begin; i < end; i++ {
		b.Add(i)
	}
}

// FirstZero returns the first unset bit in [start, size), wrapping around to
// search [0, start) if none is found. ok is false if every bit is set.
func (b *Bitmap) FirstZero(start uint32) (bit uint32, ok bool) {
	if b.size == 0 || b.IsFull() {
		return 0, false
	}
	if start >= b.size {
		start = 0
	}
	if bit, ok := b.firstZeroIn(start, b.size); ok {
		return bit, true
	}
	return b.firstZeroIn(0, start)
}

// firstZeroIn returns the first unset bit in [start, end).
func (b *Bitmap) firstZeroIn(start, end uint32) (uint32, bool) {
	i, nbit := start/64, start%64
	for ; uint64(i)*64 < uint64(end); i++ {
		// Treat the bits below start as set.
		w := b.bitBlock[i] | ((uint64(1) << nbit) - 1)
		nbit = 0
		if w == ^uint64(0) {
			continue
		}
		bit := i*64 + uint32(bits.TrailingZeros64(^w))
		if bit >= end {
			return 0, false
		}
		return bit, true
	}
	return 0, false
}

// ToSlice returns the set bits in ascending order.
func (b *Bitmap) ToSlice() []uint32 {
	out := make([]uint32, 0, b.numOnes)
	for i, w := range b.bitBlock {
		for w != 0 {
			// Extract the lowest set bit.
			j := w & -w
			out = append(out, uint32(i*64+bits.TrailingZeros64(j)))
			w ^= j
		}
	}
	return out
}
