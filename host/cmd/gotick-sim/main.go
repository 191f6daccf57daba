package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/juju/errors"
	"github.com/mattn/go-colorable"

	"gotick/config"
	"gotick/core"
	"gotick/host/serial"
	"gotick/sim"
)

var (
	configPath = flag.String("config", "", "Machine config (.json, .yaml); built-in default when empty")
	device     = flag.String("device", "", "Stream reports to this serial device instead of -out")
	baud       = flag.Int("baud", 250000, "Baud rate (ignored for USB CDC)")
	out        = flag.String("out", "-", "Report output file, - for stdout")
	period     = flag.Duration("period", 10*time.Millisecond, "Real-time step period")
	duration   = flag.Duration("duration", 0, "Stop after this long (0 = until interrupted)")
	ticks      = flag.Uint("ticks", 0, "Simulate this many ticks as fast as possible, then exit")
	verbose    = flag.Bool("verbose", false, "Enable verbose output")
)

func main() {
	flag.Parse()

	stderr := colorable.NewColorableStderr()
	core.SetDebugWriter(func(s string) { fmt.Fprintln(stderr, s) })
	core.SetDebugEnabled(*verbose)
	core.InitAsyncDebug()

	if err := run(stderr); err != nil {
		fmt.Fprintf(stderr, "\x1b[31mError:\x1b[0m %v\n", err)
		if *verbose {
			fmt.Fprintln(stderr, errors.ErrorStack(err))
		}
		os.Exit(1)
	}
}

func run(log io.Writer) error {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return errors.Trace(err)
		}
	}

	w, closeOut, err := openOutput()
	if err != nil {
		return err
	}
	defer closeOut()

	m, err := sim.New(cfg, w)
	if err != nil {
		return errors.Trace(err)
	}
	defer m.Close()

	fmt.Fprintf(log, "gotick-sim %s: %d cores at %d Hz, %d timers, %d legacy handles, %d signals\n",
		cfg.Name, cfg.Cores, cfg.TickHz, len(cfg.Timers), len(cfg.Legacy), len(cfg.Signals))

	if *ticks > 0 {
		if err := m.Step(core.Tick(*ticks)); err != nil {
			return errors.Trace(err)
		}
		if err := m.Report(); err != nil {
			return errors.Trace(err)
		}
		core.DumpTimingRing()
		fmt.Fprintf(log, "simulated %d ticks, stopped at tick %d\n", m.Uptime(), m.Now())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	err = m.Run(ctx, *period)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		fmt.Fprintf(log, "simulated %d ticks, stopped at tick %d\n", m.Uptime(), m.Now())
		return nil
	}
	return errors.Trace(err)
}

func openOutput() (io.Writer, func(), error) {
	if *device != "" {
		cfg := serial.DefaultConfig(*device)
		cfg.Baud = *baud
		port, err := serial.Open(cfg)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		return port, func() { port.Close() }, nil
	}
	if *out == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(*out)
	if err != nil {
		return nil, nil, errors.Annotate(err, "create report file")
	}
	return f, func() { f.Close() }, nil
}
