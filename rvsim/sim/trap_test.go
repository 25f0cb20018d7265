package sim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rv64sim/rv64sim/rvsim/riscv"
)

func mstatusOf(t *testing.T, p *Processor) uint64 {
	t.Helper()
	v, err := p.CSR(riscv.CSRMStatus)
	require.NoError(t, err)
	return v
}

func TestECall(t *testing.T) {
	t.Run("machine mode", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		_ = p.SetCSR(riscv.CSRMTVec, 0x100)
		writeIns(mem, 0, insECALL)
		p.Execute(1, false)
		cause, _ := p.CSR(riscv.CSRMCause)
		mtval, _ := p.CSR(riscv.CSRMTVal)
		require.Equal(t, riscv.CauseECallMachine, cause)
		require.Zero(t, mtval)
		require.Equal(t, uint64(0x100), p.PC())
		require.Equal(t, riscv.PrvMachine, p.Prv())
		st := mstatusOf(t, p)
		require.Equal(t, riscv.MStatusMPP, st&riscv.MStatusMPP, "mpp records machine")
		require.Zero(t, st&riscv.MStatusMIE)
		require.Zero(t, st&riscv.MStatusMPIE, "mie was clear, so mpie saved clear")
	})
	t.Run("user mode saves mie and mpp", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		_ = p.SetCSR(riscv.CSRMTVec, 0x100)
		_ = p.SetCSR(riscv.CSRMStatus, riscv.MStatusMIE)
		p.SetPrv(riscv.PrvUser)
		writeIns(mem, 0, insECALL)
		p.Execute(1, false)
		cause, _ := p.CSR(riscv.CSRMCause)
		require.Equal(t, riscv.CauseECallUser, cause)
		require.Equal(t, riscv.PrvMachine, p.Prv())
		st := mstatusOf(t, p)
		require.Zero(t, st&riscv.MStatusMPP, "mpp records user")
		require.Zero(t, st&riscv.MStatusMIE, "mie cleared on entry")
		require.Equal(t, riscv.MStatusMPIE, st&riscv.MStatusMPIE, "old mie saved")
	})
}

func TestEBreak(t *testing.T) {
	p, mem := newTestProcessor(t)
	_ = p.SetCSR(riscv.CSRMTVec, 0x100)
	writeIns(mem, 0x20, insEBREAK)
	p.SetPC(0x20)
	p.SetPrv(riscv.PrvUser)
	p.Execute(1, false)
	cause, _ := p.CSR(riscv.CSRMCause)
	mepc, _ := p.CSR(riscv.CSRMEPC)
	mtval, _ := p.CSR(riscv.CSRMTVal)
	require.Equal(t, riscv.CauseBreakpoint, cause)
	require.Equal(t, uint64(0x20), mepc)
	require.Zero(t, mtval, "ebreak leaves mtval untouched")
	require.Equal(t, uint64(0x100), p.PC())
	require.Equal(t, riscv.PrvMachine, p.Prv())
	require.Zero(t, p.InstructionCount())
}

func TestMRet(t *testing.T) {
	t.Run("returns to mepc and pops status", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		_ = p.SetCSR(riscv.CSRMEPC, 0x40)
		_ = p.SetCSR(riscv.CSRMStatus, riscv.MStatusMPIE) // mpp=user, mpie=1, mie=0
		writeIns(mem, 0, insMRET)
		p.Execute(1, false)
		require.Equal(t, uint64(0x40), p.PC())
		require.Equal(t, riscv.PrvUser, p.Prv())
		st := mstatusOf(t, p)
		require.Equal(t, riscv.MStatusMIE, st&riscv.MStatusMIE, "mie restored from mpie")
		require.Equal(t, riscv.MStatusMPIE, st&riscv.MStatusMPIE, "mpie set")
		require.Zero(t, st&riscv.MStatusMPP, "mpp cleared")
		require.Equal(t, uint64(1), p.InstructionCount(), "mret retires")
	})
	t.Run("stays in machine when mpp is machine", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		_ = p.SetCSR(riscv.CSRMEPC, 0x80)
		_ = p.SetCSR(riscv.CSRMStatus, riscv.MStatusMPP)
		writeIns(mem, 0, insMRET)
		p.Execute(1, false)
		require.Equal(t, uint64(0x80), p.PC())
		require.Equal(t, riscv.PrvMachine, p.Prv())
		st := mstatusOf(t, p)
		require.Zero(t, st&riscv.MStatusMIE, "mpie was 0")
	})
	t.Run("illegal in user mode", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		_ = p.SetCSR(riscv.CSRMTVec, 0x100)
		writeIns(mem, 0, insMRET)
		p.SetPrv(riscv.PrvUser)
		p.Execute(1, false)
		cause, _ := p.CSR(riscv.CSRMCause)
		mtval, _ := p.CSR(riscv.CSRMTVal)
		require.Equal(t, riscv.CauseIllegal, cause)
		require.Equal(t, uint64(insMRET), mtval, "mtval holds the faulting word")
		require.Equal(t, riscv.PrvUser, p.Prv(), "illegal-instruction keeps privilege")
		require.Equal(t, uint64(0x100), p.PC())
	})
}

func TestTrapRoundTrip(t *testing.T) {
	// user ecall into the handler at mtvec, handler mrets back
	p, mem := newTestProcessor(t)
	_ = p.SetCSR(riscv.CSRMTVec, 0x100)
	writeIns(mem, 0x20, insECALL)
	writeIns(mem, 0x100, insMRET)
	p.SetPC(0x20)
	p.SetPrv(riscv.PrvUser)

	p.Execute(2, false)
	require.Equal(t, uint64(0x20), p.PC(), "back at the faulting instruction")
	require.Equal(t, riscv.PrvUser, p.Prv(), "mpp restored user")
	require.Equal(t, uint64(1), p.InstructionCount(), "only the mret retired")
}

func TestInterrupts(t *testing.T) {
	arm := func(t *testing.T, p *Processor, bit uint64) {
		t.Helper()
		require.NoError(t, p.SetCSR(riscv.CSRMIE, 1<<bit))
		require.NoError(t, p.SetCSR(riscv.CSRMIP, 1<<bit))
	}

	t.Run("machine external", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		writeIns(mem, 0, insNOP)
		_ = p.SetCSR(riscv.CSRMTVec, 0x200)
		_ = p.SetCSR(riscv.CSRMStatus, riscv.MStatusMIE)
		arm(t, p, riscv.IntMachineExternal)
		p.Execute(1, false)
		cause, _ := p.CSR(riscv.CSRMCause)
		mepc, _ := p.CSR(riscv.CSRMEPC)
		require.Equal(t, riscv.InterruptBit|riscv.IntMachineExternal, cause)
		require.Equal(t, uint64(0), mepc)
		require.Equal(t, uint64(0x200), p.PC())
		require.Zero(t, p.InstructionCount(), "interrupted step executes nothing")
		st := mstatusOf(t, p)
		require.Zero(t, st&riscv.MStatusMIE)
		require.Equal(t, riscv.MStatusMPIE, st&riscv.MStatusMPIE)
		require.Equal(t, riscv.MStatusMPP, st&riscv.MStatusMPP)
	})
	t.Run("masked by mstatus.mie in machine mode", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		writeIns(mem, 0, insNOP)
		arm(t, p, riscv.IntMachineExternal)
		p.Execute(1, false)
		require.Equal(t, uint64(4), p.PC(), "no interrupt, nop executes")
		require.Equal(t, uint64(1), p.InstructionCount())
	})
	t.Run("user mode delivers regardless of mie", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		writeIns(mem, 0, insNOP)
		_ = p.SetCSR(riscv.CSRMTVec, 0x200)
		arm(t, p, riscv.IntMachineSoftware)
		p.SetPrv(riscv.PrvUser)
		p.Execute(1, false)
		cause, _ := p.CSR(riscv.CSRMCause)
		require.Equal(t, riscv.InterruptBit|riscv.IntMachineSoftware, cause)
		require.Equal(t, riscv.PrvMachine, p.Prv())
		st := mstatusOf(t, p)
		require.Zero(t, st&riscv.MStatusMPP, "mpp records user")
	})
	t.Run("priority order", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		writeIns(mem, 0, insNOP)
		_ = p.SetCSR(riscv.CSRMStatus, riscv.MStatusMIE)
		require.NoError(t, p.SetCSR(riscv.CSRMIE, riscv.MIEWriteMask))
		require.NoError(t, p.SetCSR(riscv.CSRMIP, riscv.MIPWriteMask))
		p.Execute(1, false)
		cause, _ := p.CSR(riscv.CSRMCause)
		require.Equal(t, riscv.InterruptBit|riscv.IntMachineExternal, cause,
			"machine external outranks all pending")
	})
	t.Run("vectored mode offsets interrupts", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		writeIns(mem, 0, insNOP)
		require.NoError(t, p.SetCSR(riscv.CSRMTVec, 0x201)) // vectored, base 0x200
		_ = p.SetCSR(riscv.CSRMStatus, riscv.MStatusMIE)
		arm(t, p, riscv.IntMachineTimer)
		p.Execute(1, false)
		require.Equal(t, uint64(0x200+4*riscv.IntMachineTimer), p.PC())
	})
	t.Run("vectored mode does not offset exceptions", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		require.NoError(t, p.SetCSR(riscv.CSRMTVec, 0x201))
		writeIns(mem, 0, insECALL)
		p.Execute(1, false)
		require.Equal(t, uint64(0x200), p.PC(), "synchronous traps enter at the base")
	})
}

func TestCSRInstructions(t *testing.T) {
	t.Run("csrrw swaps", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		_ = p.SetCSR(riscv.CSRMScratch, 0xAA)
		p.SetReg(1, 0xBB)
		writeIns(mem, 0, encodeI(0x73, 2, 1, 1, 0x340)) // csrrw x2, mscratch, x1
		p.Execute(1, false)
		require.Equal(t, uint64(0xAA), p.Reg(2))
		v, _ := p.CSR(riscv.CSRMScratch)
		require.Equal(t, uint64(0xBB), v)
	})
	t.Run("csrrs sets bits", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		_ = p.SetCSR(riscv.CSRMScratch, 0xF0)
		p.SetReg(1, 0x0F)
		writeIns(mem, 0, encodeI(0x73, 2, 2, 1, 0x340)) // csrrs x2, mscratch, x1
		p.Execute(1, false)
		require.Equal(t, uint64(0xF0), p.Reg(2))
		v, _ := p.CSR(riscv.CSRMScratch)
		require.Equal(t, uint64(0xFF), v)
	})
	t.Run("csrrc clears bits", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		_ = p.SetCSR(riscv.CSRMScratch, 0xFF)
		p.SetReg(1, 0x0F)
		writeIns(mem, 0, encodeI(0x73, 2, 3, 1, 0x340)) // csrrc x2, mscratch, x1
		p.Execute(1, false)
		v, _ := p.CSR(riscv.CSRMScratch)
		require.Equal(t, uint64(0xF0), v)
	})
	t.Run("immediate forms use zimm", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		writeIns(mem, 0, encodeI(0x73, 2, 5, 0x1F, 0x340)) // csrrwi x2, mscratch, 31
		p.Execute(1, false)
		v, _ := p.CSR(riscv.CSRMScratch)
		require.Equal(t, uint64(0x1F), v)
		require.Zero(t, p.Reg(2), "old value was zero")
	})
	t.Run("csrrs with x0 reads without writing", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		// mvendorid is read-only; rs1 == x0 makes this legal and the
		// write is suppressed entirely
		writeIns(mem, 0, encodeI(0x73, 2, 2, 0, 0xF11)) // csrrs x2, mvendorid, x0
		p.Execute(1, false)
		cause, _ := p.CSR(riscv.CSRMCause)
		require.Zero(t, cause)
		require.Zero(t, p.Reg(2))
		require.Equal(t, uint64(1), p.InstructionCount())
	})
	t.Run("read-only csr with source register traps", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		_ = p.SetCSR(riscv.CSRMTVec, 0x100)
		writeIns(mem, 0, encodeI(0x73, 2, 1, 1, 0xF11)) // csrrw x2, mvendorid, x1
		p.Execute(1, false)
		cause, _ := p.CSR(riscv.CSRMCause)
		require.Equal(t, riscv.CauseIllegal, cause)
		require.Equal(t, uint64(0x100), p.PC())
	})
	t.Run("unknown csr traps", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		writeIns(mem, 0, encodeI(0x73, 2, 1, 1, 0x123))
		p.Execute(1, false)
		cause, _ := p.CSR(riscv.CSRMCause)
		require.Equal(t, riscv.CauseIllegal, cause)
	})
	t.Run("user mode traps", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		writeIns(mem, 0, encodeI(0x73, 2, 1, 1, 0x340))
		p.SetPrv(riscv.PrvUser)
		p.Execute(1, false)
		cause, _ := p.CSR(riscv.CSRMCause)
		require.Equal(t, riscv.CauseIllegal, cause)
		require.Equal(t, riscv.PrvUser, p.Prv())
	})
	t.Run("mip writes are pre-masked", func(t *testing.T) {
		p, mem := newTestProcessor(t)
		p.SetReg(1, 0x999)
		writeIns(mem, 0, encodeI(0x73, 0, 1, 1, 0x344)) // csrrw x0, mip, x1
		p.Execute(1, false)
		v, _ := p.CSR(riscv.CSRMIP)
		require.Equal(t, uint64(0x111), v, "instruction path masks mip to 0x111")
	})
}
