package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/rv64sim/rv64sim/rvsim/cmd"
)

func main() {
	app := cli.NewApp()
	app.Name = "rv64sim"
	app.Usage = "RV64I instruction set simulator"
	app.Description = "User-space RV64I simulator with machine-mode CSRs, trap delivery and interrupts."
	app.Flags = []cli.Flag{
		cmd.VerboseFlag,
		cmd.CyclesFlag,
	}
	app.Commands = []*cli.Command{
		cmd.RunCommand,
		cmd.ConsoleCommand,
	}
	app.DefaultCommand = cmd.ConsoleCommand.Name

	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for {
			<-c
			cancel()
			fmt.Println("\r\nExiting...")
		}
	}()

	err := app.RunContext(ctx, os.Args)
	if err != nil {
		if errors.Is(err, ctx.Err()) {
			_, _ = fmt.Fprintf(os.Stderr, "command interrupted")
			os.Exit(130)
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}
