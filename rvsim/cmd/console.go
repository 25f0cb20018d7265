package cmd

import (
	"bufio"
	"fmt"
	"io"
	"golang.org/x/exp/slog"
	"os"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/rv64sim/rv64sim/rvsim/riscv"
	"github.com/rv64sim/rv64sim/rvsim/sim"
)

var (
	VerboseFlag = &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "Trace fetches, traps and state changes",
	}
	CyclesFlag = &cli.BoolFlag{
		Name:    "cycles",
		Aliases: []string{"c"},
		Usage:   "Report the cycle count on exit",
	}
)

// parseValue parses a hex number of any width and range-checks it to 64
// bits. The 0x prefix is optional, leading zeroes are allowed.
func parseValue(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	s = strings.TrimLeft(s, "0")
	if s == "" {
		s = "0"
	}
	v, err := uint256.FromHex("0x" + s)
	if err != nil {
		return 0, fmt.Errorf("invalid hex value: %w", err)
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("value %s exceeds 64 bits", s)
	}
	return v.Uint64(), nil
}

var dumpConfig = spew.ConfigState{Indent: "  ", SortKeys: true}

// processorDump is the state snapshot rendered by the console's dump
// command.
type processorDump struct {
	PC         sim.HexU64
	Privilege  uint64
	Registers  [32]sim.HexU64
	CSRs       map[string]sim.HexU64
	Breakpoint sim.HexU64
	BreakSet   bool
	Retired    uint64
}

func dumpProcessor(p *sim.Processor) string {
	d := processorDump{
		PC:        sim.HexU64(p.PC()),
		Privilege: p.Prv(),
		Retired:   p.InstructionCount(),
		CSRs:      make(map[string]sim.HexU64),
	}
	for i := uint32(0); i < 32; i++ {
		d.Registers[i] = sim.HexU64(p.Reg(i))
	}
	for _, num := range []uint64{
		riscv.CSRMVendorID, riscv.CSRMArchID, riscv.CSRMImpID, riscv.CSRMHartID,
		riscv.CSRMStatus, riscv.CSRMISA, riscv.CSRMIE, riscv.CSRMTVec,
		riscv.CSRMScratch, riscv.CSRMEPC, riscv.CSRMCause, riscv.CSRMTVal,
		riscv.CSRMIP,
	} {
		v, _ := p.CSR(num)
		d.CSRs[fmt.Sprintf("0x%03x", num)] = sim.HexU64(v)
	}
	addr, ok := p.Breakpoint()
	d.Breakpoint, d.BreakSet = sim.HexU64(addr), ok
	return dumpConfig.Sdump(d)
}

func prvName(prv uint64) string {
	if prv == riscv.PrvUser {
		return "user"
	}
	return "machine"
}

// Console runs the interactive command loop against a processor,
// reading line commands from in and writing results to out. It returns
// on quit or EOF.
func Console(p *sim.Processor, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "quit" || line == "q" {
			break
		}
		if err := consoleCommand(p, out, line); err != nil {
			fmt.Fprintln(out, err)
		}
	}
	return scanner.Err()
}

func consoleCommand(p *sim.Processor, out io.Writer, line string) error {
	// "name = value" assigns; "name" shows
	var valueStr string
	assign := false
	if i := strings.Index(line, "="); i >= 0 {
		valueStr = strings.TrimSpace(line[i+1:])
		line = strings.TrimSpace(line[:i])
		assign = true
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return fmt.Errorf("missing command")
	}
	name, args := fields[0], fields[1:]

	var value uint64
	if assign {
		v, err := parseValue(valueStr)
		if err != nil {
			return err
		}
		value = v
	}

	switch {
	case name == "pc":
		if assign {
			p.SetPC(value)
			return nil
		}
		fmt.Fprintln(out, sim.HexU64(p.PC()))
	case len(name) > 1 && name[0] == 'x':
		reg, err := strconv.ParseUint(name[1:], 10, 32)
		if err != nil || reg > 31 {
			return fmt.Errorf("unknown register %q", name)
		}
		if assign {
			p.SetReg(uint32(reg), value)
			return nil
		}
		fmt.Fprintln(out, sim.HexU64(p.Reg(uint32(reg))))
	case name == "csr":
		if len(args) != 1 {
			return fmt.Errorf("usage: csr NUM [= value]")
		}
		num, err := parseValue(args[0])
		if err != nil {
			return err
		}
		if assign {
			return p.SetCSR(num, value)
		}
		v, err := p.CSR(num)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, sim.HexU64(v))
	case name == "prv":
		if assign {
			p.SetPrv(value)
			return nil
		}
		fmt.Fprintf(out, "%d (%s)\n", p.Prv(), prvName(p.Prv()))
	case name == "mem":
		if len(args) != 1 {
			return fmt.Errorf("usage: mem ADDR [= value]")
		}
		addr, err := parseValue(args[0])
		if err != nil {
			return err
		}
		if assign {
			p.Memory().WriteDoubleword(addr, value, ^uint64(0))
			return nil
		}
		fmt.Fprintln(out, sim.HexU64(p.Memory().ReadDoubleword(addr)))
	case name == "load":
		if len(args) != 1 {
			return fmt.Errorf("usage: load FILE")
		}
		entry, err := p.Memory().LoadImage(args[0])
		if err != nil {
			return err
		}
		p.SetPC(entry)
	case name == "step":
		n := uint64(1)
		if len(args) == 1 {
			v, err := parseValue(args[0])
			if err != nil {
				return err
			}
			n = v
		}
		if p.Execute(n, true) {
			bp, _ := p.Breakpoint()
			fmt.Fprintf(out, "Breakpoint reached at %016x\n", bp)
		}
	case name == "run":
		if len(args) != 1 {
			return fmt.Errorf("usage: run N")
		}
		n, err := parseValue(args[0])
		if err != nil {
			return err
		}
		p.Execute(n, false)
	case name == "break":
		if len(args) != 1 {
			return fmt.Errorf("usage: break ADDR")
		}
		addr, err := parseValue(args[0])
		if err != nil {
			return err
		}
		p.SetBreakpoint(addr)
	case name == "unbreak":
		p.ClearBreakpoint()
	case name == "count":
		fmt.Fprintln(out, p.InstructionCount())
	case name == "cycles":
		fmt.Fprintln(out, p.CycleCount())
	case name == "dump":
		fmt.Fprint(out, dumpProcessor(p))
	default:
		return fmt.Errorf("unknown command %q", name)
	}
	return nil
}

func console(ctx *cli.Context) error {
	lvl := slog.LevelInfo
	if ctx.Bool(VerboseFlag.Name) {
		lvl = slog.LevelDebug
	}
	l := Logger(os.Stderr, lvl)

	mem := sim.NewMemory()
	p := sim.NewProcessor(mem, l)

	if img := ctx.Path(ConsoleImageFlag.Name); img != "" {
		entry, err := mem.LoadImage(img)
		if err != nil {
			return fmt.Errorf("failed to load image: %w", err)
		}
		p.SetPC(entry)
	}

	if err := Console(p, os.Stdin, os.Stdout); err != nil {
		return err
	}

	fmt.Printf("Instructions executed: %d\n", p.InstructionCount())
	if ctx.Bool(CyclesFlag.Name) {
		fmt.Printf("CPU cycle count: %d\n", p.CycleCount())
	}
	return nil
}

var ConsoleImageFlag = &cli.PathFlag{
	Name:  "input",
	Usage: "Hex program image to load before reading commands",
}

var ConsoleCommand = &cli.Command{
	Name:        "console",
	Usage:       "Interactive simulator console",
	Description: "Read simulator commands from stdin: pc, xN, csr, prv, mem, load, step, run, break, unbreak, count, cycles, dump, quit.",
	Action:      console,
	Flags: []cli.Flag{
		ConsoleImageFlag,
	},
}
