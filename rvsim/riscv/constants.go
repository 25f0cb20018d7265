package riscv

// Privilege levels. Supervisor (1) and the reserved level (2) are not
// implemented; the simulator only ever runs in user or machine mode.
const (
	PrvUser    = uint64(0)
	PrvMachine = uint64(3)
)

// Synchronous exception causes.
const (
	CauseFetchMisaligned = uint64(0)  // instruction address misaligned
	CauseIllegal         = uint64(2)  // illegal instruction
	CauseBreakpoint      = uint64(3)  // ebreak
	CauseLoadMisaligned  = uint64(4)  // load address misaligned
	CauseStoreMisaligned = uint64(6)  // store address misaligned
	CauseECallUser       = uint64(8)  // environment call from U-mode
	CauseECallMachine    = uint64(11) // environment call from M-mode
)

// Interrupt causes. The same numbering is used for the bit positions in
// mip and mie.
const (
	IntUserSoftware    = uint64(0)
	IntMachineSoftware = uint64(3)
	IntUserTimer       = uint64(4)
	IntMachineTimer    = uint64(7)
	IntUserExternal    = uint64(8)
	IntMachineExternal = uint64(11)
)

// InterruptBit is set in mcause when the trap is asynchronous.
const InterruptBit = uint64(1) << 63

// CSR numbers. Only these exist; every other number is absent.
const (
	CSRMVendorID = uint64(0xF11)
	CSRMArchID   = uint64(0xF12)
	CSRMImpID    = uint64(0xF13)
	CSRMHartID   = uint64(0xF14)
	CSRMStatus   = uint64(0x300)
	CSRMISA      = uint64(0x301)
	CSRMIE       = uint64(0x304)
	CSRMTVec     = uint64(0x305)
	CSRMScratch  = uint64(0x340)
	CSRMEPC      = uint64(0x341)
	CSRMCause    = uint64(0x342)
	CSRMTVal     = uint64(0x343)
	CSRMIP       = uint64(0x344)
)

// mstatus fields.
const (
	MStatusMIE  = uint64(1) << 3
	MStatusMPIE = uint64(1) << 7
	MStatusMPP  = uint64(3) << 11

	// Writable bit set: mie, mpie, mpp. MXL is fixed at 2 (64-bit).
	MStatusWriteMask = uint64(0x1888)
	MStatusMXL64     = uint64(2) << 32
)

// Fixed register values and write masks.
const (
	MISAFixed = uint64(0x8000000000100100) // RV64IU
	MImpIDVal = uint64(0x2020020000000000)

	MIEWriteMask    = uint64(0x999)
	MIPWriteMask    = uint64(0x999)
	MIPInsWriteMask = uint64(0x111) // extra mask applied by the csrr* path
	MCauseWriteMask = InterruptBit | 0xF
)
