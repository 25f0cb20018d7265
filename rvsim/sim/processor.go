package sim

import (
	"errors"

	"github.com/ethereum/go-ethereum/log"

	"github.com/rv64sim/rv64sim/rvsim/riscv"
)

// Host-visible CSR failures, reported on the driver command surface.
// Architectural traps never surface as Go errors.
var (
	ErrUnknownCSR  = errors.New("Illegal CSR number")
	ErrReadOnlyCSR = errors.New("Illegal write to read-only CSR")
)

// Processor owns all mutable architectural state: the register file, PC,
// privilege level, CSR file, the retired-instruction counter, and the
// breakpoint. The decoder and memory are borrowed collaborators.
type Processor struct {
	mem     *Memory
	decoder *Decoder
	logger  log.Logger

	registers [32]uint64
	pc        uint64
	prv       uint64

	csrs map[uint64]uint64

	breakpoint uint64
	bpEnabled  bool

	insCount uint64
}

// NewProcessor creates a processor at the architectural reset state:
// machine mode, PC 0, all registers zero, CSRs at their reset values.
func NewProcessor(mem *Memory, logger log.Logger) *Processor {
	p := &Processor{
		mem:     mem,
		decoder: NewDecoder(),
		logger:  logger,
		prv:     riscv.PrvMachine,
	}
	p.initCSRs()
	return p
}

func (p *Processor) initCSRs() {
	p.csrs = map[uint64]uint64{
		riscv.CSRMVendorID: 0,
		riscv.CSRMArchID:   0,
		riscv.CSRMImpID:    riscv.MImpIDVal,
		riscv.CSRMHartID:   0,
		riscv.CSRMStatus:   riscv.MStatusMXL64,
		riscv.CSRMISA:      riscv.MISAFixed,
		riscv.CSRMIE:       0,
		riscv.CSRMTVec:     0,
		riscv.CSRMScratch:  0,
		riscv.CSRMEPC:      0,
		riscv.CSRMCause:    0,
		riscv.CSRMTVal:     0,
		riscv.CSRMIP:       0,
	}
}

// PC returns the current program counter.
func (p *Processor) PC() uint64 {
	return p.pc
}

// SetPC replaces the program counter.
func (p *Processor) SetPC(pc uint64) {
	p.pc = pc
	p.logger.Debug("pc set", "pc", HexU64(pc))
}

// Reg returns register x[i]. Register 0 always reads as zero.
func (p *Processor) Reg(i uint32) uint64 {
	return p.registers[i&0x1F]
}

// SetReg writes register x[i]. Writes to x0 are dropped here, at the
// commit site, so instruction handlers never special-case it.
func (p *Processor) SetReg(i uint32, v uint64) {
	if i == 0 {
		return
	}
	p.registers[i&0x1F] = v
}

// Prv returns the current privilege level.
func (p *Processor) Prv() uint64 {
	return p.prv
}

// SetPrv sets the privilege level directly (driver surface).
func (p *Processor) SetPrv(prv uint64) {
	p.prv = prv
}

// CSR reads a CSR on the driver surface. Unknown numbers report
// ErrUnknownCSR.
func (p *Processor) CSR(num uint64) (uint64, error) {
	v, ok := p.csrs[num]
	if !ok {
		return 0, ErrUnknownCSR
	}
	return v, nil
}

// SetCSR writes a CSR on the driver surface, applying the architectural
// write masks. Unknown numbers report ErrUnknownCSR; the machine
// identity CSRs 0xF11-0xF14 report ErrReadOnlyCSR.
func (p *Processor) SetCSR(num uint64, v uint64) error {
	if _, ok := p.csrs[num]; !ok {
		return ErrUnknownCSR
	}
	return p.writeCSR(num, v)
}

// writeCSR applies the per-CSR write mask and stores the value. Missing
// CSR numbers are rejected silently; read-only CSRs are rejected with
// ErrReadOnlyCSR. Instruction paths ignore the returned error (their
// legality checks happen before the write).
func (p *Processor) writeCSR(num uint64, v uint64) error {
	if _, ok := p.csrs[num]; !ok {
		return nil
	}
	switch num {
	case riscv.CSRMVendorID, riscv.CSRMArchID, riscv.CSRMImpID, riscv.CSRMHartID:
		return ErrReadOnlyCSR
	case riscv.CSRMStatus:
		// only mie, mpie, mpp are implemented; MXL stays fixed at 64-bit
		v = v&riscv.MStatusWriteMask | riscv.MStatusMXL64
	case riscv.CSRMISA:
		v = riscv.MISAFixed
	case riscv.CSRMIE:
		v &= riscv.MIEWriteMask
	case riscv.CSRMTVec:
		if v&1 == 0 {
			v &^= 0x3
		} else {
			// vectored mode retains only bit 0 of the low byte
			v &= ^uint64(0xFE)
		}
	case riscv.CSRMEPC:
		v &^= 0x3
	case riscv.CSRMCause:
		v &= riscv.MCauseWriteMask
	case riscv.CSRMIP:
		v &= riscv.MIPWriteMask
	}
	p.csrs[num] = v
	return nil
}

// csr reads a CSR the processor knows exists.
func (p *Processor) csr(num uint64) uint64 {
	return p.csrs[num]
}

// SetBreakpoint arms the breakpoint at addr, aligned down to 4.
func (p *Processor) SetBreakpoint(addr uint64) {
	p.breakpoint = addr &^ 3
	p.bpEnabled = true
	p.logger.Debug("breakpoint set", "addr", HexU64(p.breakpoint))
}

// ClearBreakpoint disarms the breakpoint.
func (p *Processor) ClearBreakpoint() {
	p.breakpoint = 0
	p.bpEnabled = false
	p.logger.Debug("breakpoint cleared")
}

// Breakpoint returns the breakpoint address and whether it is armed.
func (p *Processor) Breakpoint() (uint64, bool) {
	return p.breakpoint, p.bpEnabled
}

// InstructionCount returns the number of architecturally retired
// instructions. Trapped steps are not retired.
func (p *Processor) InstructionCount() uint64 {
	return p.insCount
}

// CycleCount is always zero: the simulator is not cycle-accurate.
func (p *Processor) CycleCount() uint64 {
	return 0
}

// Memory returns the processor's memory.
func (p *Processor) Memory() *Memory {
	return p.mem
}
