package sim

import (
	"testing"

	"github.com/ethereum/go-ethereum/log"
)

func newTestProcessor(t *testing.T) (*Processor, *Memory) {
	t.Helper()
	mem := NewMemory()
	p := NewProcessor(mem, log.NewLogger(log.DiscardHandler()))
	return p, mem
}

// writeIns places a 32-bit instruction word at addr (multiple of 4).
func writeIns(mem *Memory, addr uint64, ins uint32) {
	shift := (addr % 8) * 8
	mem.WriteDoubleword(addr, uint64(ins)<<shift, uint64(0xFFFFFFFF)<<shift)
}

func writeProgram(mem *Memory, addr uint64, prog ...uint32) {
	for i, ins := range prog {
		writeIns(mem, addr+uint64(i)*4, ins)
	}
}

func encodeR(op, rd, f3, rs1, rs2, f7 uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encodeI(op, rd, f3, rs1, imm uint32) uint32 {
	return (imm&0xFFF)<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encodeS(f3, rs1, rs2, imm uint32) uint32 {
	return (imm>>5&0x7F)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (imm&0x1F)<<7 | 0x23
}

func encodeB(f3, rs1, rs2 uint32, offset int32) uint32 {
	o := uint32(offset)
	return (o>>12&1)<<31 | (o>>5&0x3F)<<25 | rs2<<20 | rs1<<15 | f3<<12 |
		(o>>1&0xF)<<8 | (o>>11&1)<<7 | 0x63
}

func encodeU(op, rd, imm uint32) uint32 {
	return imm<<12 | rd<<7 | op
}

func encodeJ(rd uint32, offset int32) uint32 {
	o := uint32(offset)
	return (o>>20&1)<<31 | (o>>1&0x3FF)<<21 | (o>>11&1)<<20 | (o>>12&0xFF)<<12 | rd<<7 | 0x6F
}

const (
	insECALL  = uint32(0x00000073)
	insEBREAK = uint32(0x00100073)
	insMRET   = uint32(0x30200073)
	insNOP    = uint32(0x00000013) // addi x0, x0, 0
)
