package sim

import (
	"github.com/rv64sim/rv64sim/rvsim/riscv"
)

// interruptPriority lists interrupt causes highest-priority first.
var interruptPriority = [...]uint64{
	riscv.IntMachineExternal,
	riscv.IntMachineSoftware,
	riscv.IntMachineTimer,
	riscv.IntUserExternal,
	riscv.IntUserSoftware,
	riscv.IntUserTimer,
}

// Execute runs up to num fetch-decode-execute steps. With breakCheck
// set, the batch halts before executing the instruction at an armed
// breakpoint; the return value reports whether that happened.
func (p *Processor) Execute(num uint64, breakCheck bool) bool {
	for i := uint64(0); i < num; i++ {
		if p.pc%4 != 0 {
			p.except(riscv.CauseFetchMisaligned)
			continue
		}

		if cause, ok := p.pendingInterrupt(); ok {
			p.interrupt(cause)
			continue
		}

		data := p.mem.ReadDoubleword(p.pc)
		var ins uint32
		if p.pc%8 != 0 {
			ins = uint32(data >> 32)
		} else {
			ins = uint32(data)
		}
		p.logger.Debug("fetch", "pc", HexU64(p.pc), "insn", HexU32(ins))

		if breakCheck && p.bpEnabled && p.pc == p.breakpoint {
			p.logger.Debug("breakpoint reached", "addr", HexU64(p.breakpoint))
			return true
		}

		p.decoder.Decode(ins)
		if trapped := p.executeIns(); !trapped {
			p.insCount++
		}
	}
	return false
}

// pendingInterrupt selects the highest-priority interrupt that is both
// pending and enabled, provided interrupts are globally deliverable:
// mstatus.mie set, or the hart is in user mode.
func (p *Processor) pendingInterrupt() (uint64, bool) {
	if p.csr(riscv.CSRMStatus)&riscv.MStatusMIE == 0 && p.prv != riscv.PrvUser {
		return 0, false
	}
	pending := p.csr(riscv.CSRMIP) & p.csr(riscv.CSRMIE)
	for _, cause := range interruptPriority {
		if pending&(1<<cause) != 0 {
			return cause, true
		}
	}
	return 0, false
}

// trapVector computes the trap target from mtvec. Vectored mode offsets
// asynchronous traps only; synchronous exceptions always enter at the
// base.
func (p *Processor) trapVector(cause uint64, asynchronous bool) uint64 {
	tvec := p.csr(riscv.CSRMTVec)
	base := tvec &^ 3
	if tvec&1 == 1 && asynchronous {
		base += 4 * cause
	}
	return base
}

// pushTrapStatus performs the mstatus updates common to every trap
// entry: the current mie is saved into mpie, mie is cleared, and mpp
// records the privilege the trap was taken from. The old privilege is
// passed explicitly so the read-modify-write cannot be reordered against
// a privilege switch.
func (p *Processor) pushTrapStatus(oldPrv uint64) {
	st := p.csrs[riscv.CSRMStatus]
	if st&riscv.MStatusMIE != 0 {
		st |= riscv.MStatusMPIE
	} else {
		st &^= riscv.MStatusMPIE
	}
	st &^= riscv.MStatusMIE
	if oldPrv == riscv.PrvMachine {
		st |= riscv.MStatusMPP
	} else {
		st &^= riscv.MStatusMPP
	}
	p.csrs[riscv.CSRMStatus] = st
}

// except delivers a synchronous exception: mepc records the faulting
// PC, mcause the cause, mtval the cause-specific value, and control
// transfers to the trap vector. The trapped step is not retired.
func (p *Processor) except(cause uint64) {
	rec := p.decoder.Last()
	p.logger.Debug("exception raised",
		"cause", cause, "pc", HexU64(p.pc), "val", HexU32(rec.Ins))

	oldPC := p.pc
	_ = p.writeCSR(riscv.CSRMEPC, oldPC)
	_ = p.writeCSR(riscv.CSRMCause, cause)
	p.pc = p.trapVector(cause, false)
	p.pushTrapStatus(p.prv)

	switch cause {
	case riscv.CauseFetchMisaligned:
		_ = p.writeCSR(riscv.CSRMTVal, oldPC)
	case riscv.CauseIllegal:
		_ = p.writeCSR(riscv.CSRMTVal, uint64(rec.Ins))
	case riscv.CauseBreakpoint:
		p.prv = riscv.PrvMachine
	case riscv.CauseLoadMisaligned, riscv.CauseStoreMisaligned:
		_ = p.writeCSR(riscv.CSRMTVal, p.registers[rec.Rs1])
	case riscv.CauseECallUser:
		_ = p.writeCSR(riscv.CSRMTVal, 0)
		p.prv = riscv.PrvMachine
	case riscv.CauseECallMachine:
		_ = p.writeCSR(riscv.CSRMTVal, 0)
	}
}

// interrupt delivers an asynchronous interrupt: mcause carries the
// interrupt bit, the PC at the interrupted instruction goes to mepc,
// and the hart enters machine mode at the trap vector. The interrupted
// step executes nothing and is not retired.
func (p *Processor) interrupt(cause uint64) {
	p.logger.Debug("interrupt taken", "cause", cause, "pc", HexU64(p.pc))

	_ = p.writeCSR(riscv.CSRMEPC, p.pc)
	_ = p.writeCSR(riscv.CSRMCause, riscv.InterruptBit|cause)
	p.pc = p.trapVector(cause, true)
	p.pushTrapStatus(p.prv)
	p.prv = riscv.PrvMachine
}

func slt(a, b uint64) bool {
	return int64(a) < int64(b)
}

func boolToReg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// forceEven clears the low bit of a jump target.
func (p *Processor) forceEven() {
	p.pc &^= 1
}

// executeIns realizes the decoded instruction's architectural semantics.
// It reports whether the step trapped; a trapped step must not be
// counted as retired. Handlers that set PC directly return early; every
// other path falls through to the PC += 4 at the bottom.
func (p *Processor) executeIns() bool {
	rec := p.decoder.Last()
	rs1Value := p.registers[rec.Rs1]
	rs2Value := p.registers[rec.Rs2]

	switch rec.Kind {
	case InsLUI:
		p.SetReg(rec.Rd, sext32to64(uint64(rec.Imm)<<12))
	case InsAUIPC:
		p.SetReg(rec.Rd, p.pc+sext32to64(uint64(rec.Imm)<<12))
	case InsJAL:
		p.SetReg(rec.Rd, p.pc+4)
		p.pc += sext32to64(uint64(signExtend32(rec.Imm, 19) << 1))
		p.forceEven()
		return false
	case InsJALR:
		link := p.pc + 4
		p.pc = sext32to64(rs1Value + uint64(signExtend32(rec.Imm, 11)))
		p.SetReg(rec.Rd, link)
		p.forceEven()
		return false

	case InsBEQ:
		if rs1Value == rs2Value {
			return p.takeBranch(rec)
		}
	case InsBNE:
		if rs1Value != rs2Value {
			return p.takeBranch(rec)
		}
	case InsBLT:
		if slt(rs1Value, rs2Value) {
			return p.takeBranch(rec)
		}
	case InsBGE:
		if !slt(rs1Value, rs2Value) {
			return p.takeBranch(rec)
		}
	case InsBLTU:
		if rs1Value < rs2Value {
			return p.takeBranch(rec)
		}
	case InsBGEU:
		if rs1Value >= rs2Value {
			return p.takeBranch(rec)
		}

	case InsLB:
		addr := rs1Value + sext12to64(rec.Imm)
		p.SetReg(rec.Rd, signExtend64(p.loadShifted(addr), 7))
	case InsLH:
		addr := rs1Value + sext12to64(rec.Imm)
		if addr%2 != 0 {
			p.except(riscv.CauseLoadMisaligned)
			return true
		}
		p.SetReg(rec.Rd, signExtend64(p.loadShifted(addr), 15))
	case InsLW:
		addr := rs1Value + sext12to64(rec.Imm)
		if addr%4 != 0 {
			p.except(riscv.CauseLoadMisaligned)
			return true
		}
		p.SetReg(rec.Rd, signExtend64(p.loadShifted(addr), 31))
	case InsLD:
		addr := rs1Value + sext12to64(rec.Imm)
		if addr%8 != 0 {
			p.except(riscv.CauseLoadMisaligned)
			return true
		}
		p.SetReg(rec.Rd, p.mem.ReadDoubleword(addr))
	case InsLBU:
		addr := rs1Value + sext12to64(rec.Imm)
		p.SetReg(rec.Rd, p.loadShifted(addr)&0xFF)
	case InsLHU:
		addr := rs1Value + sext12to64(rec.Imm)
		if addr%2 != 0 {
			p.except(riscv.CauseLoadMisaligned)
			return true
		}
		p.SetReg(rec.Rd, p.loadShifted(addr)&0xFFFF)
	case InsLWU:
		addr := rs1Value + sext12to64(rec.Imm)
		if addr%4 != 0 {
			p.except(riscv.CauseLoadMisaligned)
			return true
		}
		p.SetReg(rec.Rd, p.loadShifted(addr)&u32Mask())

	case InsSB:
		addr := rs1Value + sext12to64(rec.Imm)
		p.storeMasked(addr, rs2Value, 0xFF)
	case InsSH:
		addr := rs1Value + sext12to64(rec.Imm)
		if addr%2 != 0 {
			p.except(riscv.CauseStoreMisaligned)
			return true
		}
		p.storeMasked(addr, rs2Value, 0xFFFF)
	case InsSW:
		addr := rs1Value + sext12to64(rec.Imm)
		if addr%4 != 0 {
			p.except(riscv.CauseStoreMisaligned)
			return true
		}
		p.storeMasked(addr, rs2Value, u32Mask())
	case InsSD:
		addr := rs1Value + sext12to64(rec.Imm)
		if addr%8 != 0 {
			p.except(riscv.CauseStoreMisaligned)
			return true
		}
		p.mem.WriteDoubleword(addr, rs2Value, ^uint64(0))

	case InsADDI:
		p.SetReg(rec.Rd, rs1Value+sext12to64(rec.Imm))
	case InsSLTI:
		p.SetReg(rec.Rd, boolToReg(slt(rs1Value, sext12to64(rec.Imm))))
	case InsSLTIU:
		// the immediate is sign-extended to 64 bits first, then the
		// comparison is unsigned
		p.SetReg(rec.Rd, boolToReg(rs1Value < sext12to64(rec.Imm)))
	case InsXORI:
		p.SetReg(rec.Rd, rs1Value^sext12to64(rec.Imm))
	case InsORI:
		p.SetReg(rec.Rd, rs1Value|sext12to64(rec.Imm))
	case InsANDI:
		p.SetReg(rec.Rd, rs1Value&sext12to64(rec.Imm))

	case InsSLLI:
		p.SetReg(rec.Rd, rs1Value<<immShamt(rec))
	case InsSRLI:
		p.SetReg(rec.Rd, rs1Value>>immShamt(rec))
	case InsSRAI:
		p.SetReg(rec.Rd, uint64(int64(rs1Value)>>immShamt(rec)))

	case InsADD:
		p.SetReg(rec.Rd, rs1Value+rs2Value)
	case InsSUB:
		p.SetReg(rec.Rd, rs1Value-rs2Value)
	case InsSLL:
		p.SetReg(rec.Rd, rs1Value<<(rs2Value&0x3F))
	case InsSLT:
		p.SetReg(rec.Rd, boolToReg(slt(rs1Value, rs2Value)))
	case InsSLTU:
		p.SetReg(rec.Rd, boolToReg(rs1Value < rs2Value))
	case InsXOR:
		p.SetReg(rec.Rd, rs1Value^rs2Value)
	case InsSRL:
		p.SetReg(rec.Rd, rs1Value>>(rs2Value&0x3F))
	case InsSRA:
		p.SetReg(rec.Rd, uint64(int64(rs1Value)>>(rs2Value&0x3F)))
	case InsOR:
		p.SetReg(rec.Rd, rs1Value|rs2Value)
	case InsAND:
		p.SetReg(rec.Rd, rs1Value&rs2Value)

	case InsADDIW:
		p.SetReg(rec.Rd, sext32to64(rs1Value+uint64(signExtend32(rec.Imm, 11))))
	case InsSLLIW:
		p.SetReg(rec.Rd, sext32to64(rs1Value<<rec.Rs2))
	case InsSRLIW:
		p.SetReg(rec.Rd, sext32to64((rs1Value&u32Mask())>>rec.Rs2))
	case InsSRAIW:
		p.SetReg(rec.Rd, uint64(int64(sext32to64(rs1Value))>>rec.Rs2))
	case InsADDW:
		p.SetReg(rec.Rd, sext32to64(rs1Value+rs2Value))
	case InsSUBW:
		p.SetReg(rec.Rd, sext32to64(rs1Value-rs2Value))
	case InsSLLW:
		p.SetReg(rec.Rd, sext32to64(rs1Value<<(rs2Value&0x1F)))
	case InsSRLW:
		p.SetReg(rec.Rd, sext32to64((rs1Value&u32Mask())>>(rs2Value&0x1F)))
	case InsSRAW:
		p.SetReg(rec.Rd, uint64(int64(sext32to64(rs1Value))>>(rs2Value&0x1F)))

	case InsFENCE:
		// no pipeline, no other harts: nothing to order

	case InsECALL:
		switch p.prv {
		case riscv.PrvUser:
			p.except(riscv.CauseECallUser)
			return true
		case riscv.PrvMachine:
			p.except(riscv.CauseECallMachine)
			return true
		}
	case InsEBREAK:
		p.except(riscv.CauseBreakpoint)
		return true
	case InsMRET:
		if p.prv != riscv.PrvMachine {
			p.except(riscv.CauseIllegal)
			return true
		}
		p.pc = p.csr(riscv.CSRMEPC)
		st := p.csrs[riscv.CSRMStatus]
		if st&riscv.MStatusMPP == riscv.MStatusMPP {
			p.prv = riscv.PrvMachine
		} else {
			p.prv = riscv.PrvUser
		}
		st &^= riscv.MStatusMPP
		if st&riscv.MStatusMPIE != 0 {
			st |= riscv.MStatusMIE
		} else {
			st &^= riscv.MStatusMIE
		}
		st |= riscv.MStatusMPIE
		p.csrs[riscv.CSRMStatus] = st
		return false

	case InsCSRRW, InsCSRRS, InsCSRRC, InsCSRRWI, InsCSRRSI, InsCSRRCI:
		return p.executeCSR(rec)
	}

	p.pc += 4
	return false
}

// takeBranch applies a taken branch's PC update: the offset is
// sign-extended from 12 bits, shifted left one, then sign-extended to 64
// bits, in that order.
func (p *Processor) takeBranch(rec *Record) bool {
	p.pc += sext32to64(uint64(signExtend32(rec.Imm, 11) << 1))
	return false
}

// immShamt is the 6-bit shift amount of the 64-bit shift-immediates:
// bit 5 comes from funct7, the rest from the rs2 field.
func immShamt(rec *Record) uint32 {
	return (rec.Funct7&1)<<5 | rec.Rs2
}

// loadShifted reads the doubleword containing addr and shifts the
// addressed byte down to bit 0; the caller masks and extends to width.
func (p *Processor) loadShifted(addr uint64) uint64 {
	return p.mem.ReadDoubleword(addr) >> ((addr % 8) * 8)
}

// storeMasked writes the low bits of value selected by widthMask into
// the doubleword containing addr.
func (p *Processor) storeMasked(addr uint64, value, widthMask uint64) {
	shift := (addr % 8) * 8
	p.mem.WriteDoubleword(addr, value<<shift, widthMask<<shift)
}

// executeCSR realizes the six csrr* instructions. The zimm forms take
// their source operand from the rs1 field itself. Writes to mip are
// pre-masked at the instruction level; the CSR write path applies its
// own mask on top.
func (p *Processor) executeCSR(rec *Record) bool {
	num := uint64(rec.Imm)
	old, ok := p.csrs[num]
	readOnly := num >= riscv.CSRMVendorID && num <= riscv.CSRMHartID
	if p.prv == riscv.PrvUser || !ok || (readOnly && rec.Rs1 != 0) {
		p.except(riscv.CauseIllegal)
		return true
	}

	var src uint64
	switch rec.Kind {
	case InsCSRRWI, InsCSRRSI, InsCSRRCI:
		src = uint64(rec.Rs1)
	default:
		src = p.registers[rec.Rs1]
	}

	v := src
	write := true
	switch rec.Kind {
	case InsCSRRS, InsCSRRSI:
		v = old | src
		write = rec.Rs1 != 0
	case InsCSRRC, InsCSRRCI:
		v = old &^ src
		write = rec.Rs1 != 0
	}
	if num == riscv.CSRMIP {
		v &= riscv.MIPInsWriteMask
	}

	p.SetReg(rec.Rd, old)
	if write {
		if err := p.writeCSR(num, v); err != nil {
			p.logger.Debug("csr write rejected", "csr", HexU64(num), "err", err)
		}
	}
	p.pc += 4
	return false
}
