package sim

// Kind identifies the operation an instruction word encodes. InsDefault
// marks a word the classifier does not recognize; the executor treats it
// as a no-op rather than trapping.
type Kind int

const (
	InsDefault Kind = iota
	InsLUI
	InsAUIPC
	InsJAL
	InsJALR
	InsBEQ
	InsBNE
	InsBLT
	InsBGE
	InsBLTU
	InsBGEU
	InsLB
	InsLH
	InsLW
	InsLBU
	InsLHU
	InsSB
	InsSH
	InsSW
	InsADDI
	InsSLTI
	InsSLTIU
	InsXORI
	InsORI
	InsANDI
	InsSLLI
	InsSRLI
	InsSRAI
	InsADD
	InsSUB
	InsSLL
	InsSLT
	InsSLTU
	InsXOR
	InsSRL
	InsSRA
	InsOR
	InsAND
	InsFENCE
	InsECALL
	InsEBREAK
	InsLWU
	InsLD
	InsSD
	InsADDIW
	InsSLLIW
	InsSRLIW
	InsSRAIW
	InsADDW
	InsSUBW
	InsSLLW
	InsSRLW
	InsSRAW
	InsMRET
	InsCSRRW
	InsCSRRS
	InsCSRRC
	InsCSRRWI
	InsCSRRSI
	InsCSRRCI
)

var kindNames = [...]string{
	"default",
	"lui", "auipc", "jal", "jalr",
	"beq", "bne", "blt", "bge", "bltu", "bgeu",
	"lb", "lh", "lw", "lbu", "lhu",
	"sb", "sh", "sw",
	"addi", "slti", "sltiu", "xori", "ori", "andi",
	"slli", "srli", "srai",
	"add", "sub", "sll", "slt", "sltu", "xor", "srl", "sra", "or", "and",
	"fence", "ecall", "ebreak",
	"lwu", "ld", "sd",
	"addiw", "slliw", "srliw", "sraiw",
	"addw", "subw", "sllw", "srlw", "sraw",
	"mret",
	"csrrw", "csrrs", "csrrc", "csrrwi", "csrrsi", "csrrci",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Record is the result of classifying one instruction word. Fields that
// the instruction's format does not carry are left at zero. Imm holds
// the raw concatenation of the immediate bits, before sign extension;
// for CSR instructions it holds the 12-bit CSR number, with the 5-bit
// zimm in Rs1.
type Record struct {
	Ins    uint32
	Kind   Kind
	Format byte // one of R, I, S, B, U, J; 0 for default

	Rd     uint32
	Rs1    uint32
	Rs2    uint32
	Funct3 uint32
	Funct7 uint32
	Imm    uint32
}

// Decoder classifies instruction words. Its only state is the last
// decoded record.
type Decoder struct {
	rec Record
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Last returns the most recently decoded record.
func (d *Decoder) Last() *Record {
	return &d.rec
}

// Decode classifies ins and fills the record with the operand fields of
// its format. Unrecognized words reset the record to InsDefault.
func (d *Decoder) Decode(ins uint32) *Record {
	d.rec = Record{Ins: ins}
	rec := &d.rec

	opcode := parseOpcode(ins)
	funct3 := parseFunct3(ins)
	funct7 := parseFunct7(ins)

	switch opcode {
	case 0x03: // loads
		switch funct3 {
		case 0:
			d.iType(InsLB)
		case 1:
			d.iType(InsLH)
		case 2:
			d.iType(InsLW)
		case 3:
			d.iType(InsLD)
		case 4:
			d.iType(InsLBU)
		case 5:
			d.iType(InsLHU)
		case 6:
			d.iType(InsLWU)
		}
	case 0x0F:
		d.iType(InsFENCE)
	case 0x13: // immediate arithmetic and logic
		switch funct3 {
		case 0:
			d.iType(InsADDI)
		case 1:
			// shift-immediates carry the shamt in rs2/funct7: R format
			d.rType(InsSLLI)
		case 2:
			d.iType(InsSLTI)
		case 3:
			d.iType(InsSLTIU)
		case 4:
			d.iType(InsXORI)
		case 5:
			// bit 25 belongs to the 6-bit shamt; funct7>>1 selects the type
			if funct7>>1 == 0 {
				d.rType(InsSRLI)
			} else {
				d.rType(InsSRAI)
			}
		case 6:
			d.iType(InsORI)
		case 7:
			d.iType(InsANDI)
		}
	case 0x17:
		d.uType(InsAUIPC)
	case 0x1B: // immediate arithmetic, 32-bit
		switch funct3 {
		case 0:
			d.iType(InsADDIW)
		case 1:
			d.rType(InsSLLIW)
		case 5:
			if funct7 == 0 {
				d.rType(InsSRLIW)
			} else {
				d.rType(InsSRAIW)
			}
		}
	case 0x23: // stores
		switch funct3 {
		case 0:
			d.sType(InsSB)
		case 1:
			d.sType(InsSH)
		case 2:
			d.sType(InsSW)
		case 3:
			d.sType(InsSD)
		}
	case 0x33: // register arithmetic and logic
		switch funct3 {
		case 0:
			if funct7 == 0 {
				d.rType(InsADD)
			} else {
				d.rType(InsSUB)
			}
		case 1:
			d.rType(InsSLL)
		case 2:
			d.rType(InsSLT)
		case 3:
			d.rType(InsSLTU)
		case 4:
			d.rType(InsXOR)
		case 5:
			if funct7 == 0 {
				d.rType(InsSRL)
			} else {
				d.rType(InsSRA)
			}
		case 6:
			d.rType(InsOR)
		case 7:
			d.rType(InsAND)
		}
	case 0x37:
		d.uType(InsLUI)
	case 0x3B: // register arithmetic, 32-bit
		switch funct3 {
		case 0:
			if funct7 == 0 {
				d.rType(InsADDW)
			} else {
				d.rType(InsSUBW)
			}
		case 1:
			d.rType(InsSLLW)
		case 5:
			if funct7 == 0 {
				d.rType(InsSRLW)
			} else {
				d.rType(InsSRAW)
			}
		}
	case 0x63: // branches
		switch funct3 {
		case 0:
			d.bType(InsBEQ)
		case 1:
			d.bType(InsBNE)
		case 4:
			d.bType(InsBLT)
		case 5:
			d.bType(InsBGE)
		case 6:
			d.bType(InsBLTU)
		case 7:
			d.bType(InsBGEU)
		}
	case 0x67:
		d.iType(InsJALR)
	case 0x6F:
		d.jType(InsJAL)
	case 0x73: // system
		switch funct3 {
		case 0:
			switch ins >> 20 {
			case 0:
				d.iType(InsECALL)
			case 0x302:
				d.iType(InsMRET)
			default:
				d.iType(InsEBREAK)
			}
		case 1:
			d.iType(InsCSRRW)
		case 2:
			d.iType(InsCSRRS)
		case 3:
			d.iType(InsCSRRC)
		case 5:
			d.iType(InsCSRRWI)
		case 6:
			d.iType(InsCSRRSI)
		case 7:
			d.iType(InsCSRRCI)
		}
	}
	return rec
}

func (d *Decoder) rType(k Kind) {
	ins := d.rec.Ins
	d.rec.Kind = k
	d.rec.Format = 'R'
	d.rec.Rd = parseRd(ins)
	d.rec.Rs1 = parseRs1(ins)
	d.rec.Rs2 = parseRs2(ins)
	d.rec.Funct3 = parseFunct3(ins)
	d.rec.Funct7 = parseFunct7(ins)
}

func (d *Decoder) iType(k Kind) {
	ins := d.rec.Ins
	d.rec.Kind = k
	d.rec.Format = 'I'
	d.rec.Rd = parseRd(ins)
	d.rec.Rs1 = parseRs1(ins)
	d.rec.Funct3 = parseFunct3(ins)
	d.rec.Imm = immTypeI(ins)
}

func (d *Decoder) sType(k Kind) {
	ins := d.rec.Ins
	d.rec.Kind = k
	d.rec.Format = 'S'
	d.rec.Rs1 = parseRs1(ins)
	d.rec.Rs2 = parseRs2(ins)
	d.rec.Funct3 = parseFunct3(ins)
	d.rec.Imm = immTypeS(ins)
}

func (d *Decoder) bType(k Kind) {
	ins := d.rec.Ins
	d.rec.Kind = k
	d.rec.Format = 'B'
	d.rec.Rs1 = parseRs1(ins)
	d.rec.Rs2 = parseRs2(ins)
	d.rec.Funct3 = parseFunct3(ins)
	d.rec.Imm = immTypeB(ins)
}

func (d *Decoder) uType(k Kind) {
	ins := d.rec.Ins
	d.rec.Kind = k
	d.rec.Format = 'U'
	d.rec.Rd = parseRd(ins)
	d.rec.Imm = immTypeU(ins)
}

func (d *Decoder) jType(k Kind) {
	ins := d.rec.Ins
	d.rec.Kind = k
	d.rec.Format = 'J'
	d.rec.Rd = parseRd(ins)
	d.rec.Imm = immTypeJ(ins)
}
