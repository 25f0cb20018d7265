package sim

import (
	"fmt"
	"sort"
)

const (
	// BlockSize is the granularity of lazy allocation, in bytes.
	BlockSize = 1024
)

// block holds the populated doublewords of one BlockSize range, keyed by
// the doubleword-aligned offset within the block.
type block map[uint64]uint64

// Memory is a sparse byte store over the full 64-bit address space.
// Blocks are allocated on first write and never freed. Unmapped bytes
// read as zero. The only access width is the doubleword; callers
// synthesize narrower accesses with shifts and masks.
type Memory struct {
	blocks map[uint64]block

	// single-entry lookup cache: instruction fetch tends to hammer one
	// block while data accesses hit another, but even one entry removes
	// most map lookups from the fetch path.
	lastIndex uint64
	lastBlock block
}

func NewMemory() *Memory {
	return &Memory{
		blocks:    make(map[uint64]block),
		lastIndex: ^uint64(0),
	}
}

func (m *Memory) blockLookup(index uint64, alloc bool) block {
	if index == m.lastIndex {
		return m.lastBlock
	}
	b, ok := m.blocks[index]
	if !ok {
		if !alloc {
			return nil
		}
		b = make(block)
		m.blocks[index] = b
	}
	m.lastIndex = index
	m.lastBlock = b
	return b
}

// ReadDoubleword returns the doubleword containing addr. The address is
// rounded down to a multiple of 8.
func (m *Memory) ReadDoubleword(addr uint64) uint64 {
	addr &^= 7
	b := m.blockLookup(addr/BlockSize, false)
	if b == nil {
		return 0
	}
	return b[addr%BlockSize]
}

// WriteDoubleword stores data into the doubleword containing addr. The
// address is rounded down to a multiple of 8. Mask selects the bits to
// update; zero bits keep their old value. The enclosing block is
// allocated on demand.
func (m *Memory) WriteDoubleword(addr uint64, data, mask uint64) {
	addr &^= 7
	b := m.blockLookup(addr/BlockSize, true)
	offset := addr % BlockSize
	b[offset] = (b[offset] &^ mask) | (data & mask)
}

// setByte is the loader's entry point; all image bytes funnel through the
// same masked doubleword write the store instructions use.
func (m *Memory) setByte(addr uint64, v byte) {
	shift := (addr % 8) * 8
	m.WriteDoubleword(addr, uint64(v)<<shift, uint64(0xFF)<<shift)
}

// BlockCount returns the number of allocated blocks.
func (m *Memory) BlockCount() int {
	return len(m.blocks)
}

// Usage renders the allocated memory footprint for progress logs.
func (m *Memory) Usage() string {
	total := uint64(len(m.blocks)) * BlockSize
	const unit = 1024
	if total < unit {
		return fmt.Sprintf("%d B", total)
	}
	div, exp := uint64(unit), 0
	for n := total / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	// KiB, MiB, GiB, TiB, ...
	return fmt.Sprintf("%.1f %ciB", float64(total)/float64(div), "KMGTPE"[exp])
}

// ForEachDoubleword visits every populated doubleword in address order.
func (m *Memory) ForEachDoubleword(fn func(addr uint64, v uint64) error) error {
	indices := make([]uint64, 0, len(m.blocks))
	for i := range m.blocks {
		indices = append(indices, i)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, i := range indices {
		b := m.blocks[i]
		offsets := make([]uint64, 0, len(b))
		for o := range b {
			offsets = append(offsets, o)
		}
		sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
		for _, o := range offsets {
			if err := fn(i*BlockSize+o, b[o]); err != nil {
				return err
			}
		}
	}
	return nil
}
