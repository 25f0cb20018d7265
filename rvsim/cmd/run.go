package cmd

import (
	"fmt"
	"golang.org/x/exp/slog"
	"os"
	"time"

	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"

	"github.com/rv64sim/rv64sim/rvsim/sim"
)

var (
	RunInputFlag = &cli.PathFlag{
		Name:     "input",
		Usage:    "Hex program image to execute",
		Required: true,
	}
	RunStepsFlag = &cli.Uint64Flag{
		Name:  "steps",
		Usage: "Number of instruction steps to execute",
		Value: 1_000_000,
	}
	RunBreakpointFlag = &cli.StringFlag{
		Name:  "breakpoint",
		Usage: "Halt before executing the instruction at this address (hex)",
	}
	RunEntryFlag = &cli.StringFlag{
		Name:  "entry",
		Usage: "Override the image's start address (hex)",
	}
	RunInfoAtFlag = &cli.Uint64Flag{
		Name:  "info-at-every",
		Usage: "Log progress every N steps (0 disables)",
		Value: 0,
	}
	RunPProfCPU = &cli.BoolFlag{
		Name:  "pprof.cpu",
		Usage: "Enable CPU profiling, profile saved in the current directory",
	}
)

func run(ctx *cli.Context) error {
	if ctx.Bool(RunPProfCPU.Name) {
		defer profile.Start(profile.NoShutdownHook, profile.ProfilePath("."), profile.CPUProfile).Stop()
	}

	lvl := slog.LevelInfo
	if ctx.Bool(VerboseFlag.Name) {
		lvl = slog.LevelDebug
	}
	l := Logger(os.Stderr, lvl)

	mem := sim.NewMemory()
	entry, err := mem.LoadImage(ctx.Path(RunInputFlag.Name))
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}
	p := sim.NewProcessor(mem, l)
	p.SetPC(entry)

	if s := ctx.String(RunEntryFlag.Name); s != "" {
		v, err := parseValue(s)
		if err != nil {
			return fmt.Errorf("invalid entry address: %w", err)
		}
		p.SetPC(v)
	}

	breakCheck := false
	if s := ctx.String(RunBreakpointFlag.Name); s != "" {
		addr, err := parseValue(s)
		if err != nil {
			return fmt.Errorf("invalid breakpoint address: %w", err)
		}
		p.SetBreakpoint(addr)
		breakCheck = true
	}

	steps := ctx.Uint64(RunStepsFlag.Name)
	infoAt := ctx.Uint64(RunInfoAtFlag.Name)

	// run in batches so cancellation and progress logging get a turn
	// without a per-step check in the hot loop
	const batch = 1000
	start := time.Now()
	var done uint64
	for done < steps {
		if err := ctx.Context.Err(); err != nil {
			return err
		}
		n := uint64(batch)
		if steps-done < n {
			n = steps - done
		}
		hit := p.Execute(n, breakCheck)
		done += n
		if infoAt != 0 && done%infoAt < batch {
			delta := time.Since(start)
			l.Info("processing",
				"retired", p.InstructionCount(),
				"pc", sim.HexU64(p.PC()),
				"ips", float64(p.InstructionCount())/(float64(delta)/float64(time.Second)),
				"blocks", mem.BlockCount(),
				"mem", mem.Usage(),
			)
		}
		if hit {
			bp, _ := p.Breakpoint()
			fmt.Printf("Breakpoint reached at %016x\n", bp)
			break
		}
	}

	fmt.Printf("Instructions executed: %d\n", p.InstructionCount())
	if ctx.Bool(CyclesFlag.Name) {
		fmt.Printf("CPU cycle count: %d\n", p.CycleCount())
	}
	return nil
}

var RunCommand = &cli.Command{
	Name:        "run",
	Usage:       "Load a hex image and execute instruction steps",
	Description: "Load a hex program image, execute up to --steps instruction steps, and report the retired instruction count.",
	Action:      run,
	Flags: []cli.Flag{
		RunInputFlag,
		RunStepsFlag,
		RunBreakpointFlag,
		RunEntryFlag,
		RunInfoAtFlag,
		RunPProfCPU,
	},
}
