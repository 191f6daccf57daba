package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"
	"github.com/juju/errors"
	"github.com/mattn/go-colorable"

	"gotick/host/monitor"
	"gotick/host/serial"
)

var (
	device  = flag.String("device", "", "Serial device streaming reports")
	baud    = flag.Int("baud", 250000, "Baud rate (ignored for USB CDC)")
	file    = flag.String("file", "", "Report file to read, - for stdin")
	follow  = flag.Bool("follow", false, "Keep reading -file after its end")
	watch   = flag.Duration("watch", 0, "Print all tables at this interval instead of prompting")
	noColor = flag.Bool("no-color", false, "Disable highlighting")
)

func main() {
	flag.Parse()

	stdout := colorable.NewColorableStdout()
	if err := run(stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(stdout io.Writer) error {
	src, err := openSource()
	if err != nil {
		return err
	}
	defer src.Close()

	mon := monitor.New(src, *follow || *device != "")
	mon.Color = !*noColor

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	if *watch > 0 || *file == "-" {
		return watchLoop(ctx, mon, stdout, done)
	}
	return prompt(mon, stdout, done)
}

func openSource() (io.ReadCloser, error) {
	switch {
	case *device != "":
		cfg := serial.DefaultConfig(*device)
		cfg.Baud = *baud
		port, err := serial.Open(cfg)
		return port, errors.Trace(err)
	case *file == "-":
		return io.NopCloser(os.Stdin), nil
	case *file != "":
		f, err := os.Open(*file)
		return f, errors.Annotate(err, "open report file")
	default:
		return nil, errors.New("one of -device or -file is required")
	}
}

func watchLoop(ctx context.Context, mon *monitor.Monitor, w io.Writer, done <-chan error) error {
	interval := *watch
	if interval == 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			printAll(mon, w)
			return err
		case <-ticker.C:
			printAll(mon, w)
		case <-ctx.Done():
			return nil
		}
	}
}

func printAll(mon *monitor.Monitor, w io.Writer) {
	mon.PrintSummary(w)
	mon.PrintTimers(w)
	mon.PrintAlarms(w)
	mon.PrintCores(w)
	fmt.Fprintln(w)
}

func prompt(mon *monitor.Monitor, w io.Writer, done <-chan error) error {
	fmt.Fprintln(w, "Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Fprint(w, "> ")
		if !scanner.Scan() {
			break
		}

		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(w, "parse error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "quit", "exit", "q":
			return nil
		case "help", "?":
			printHelp(w)
		case "summary", "s":
			mon.PrintSummary(w)
		case "timers", "t":
			mon.PrintTimers(w)
		case "alarms", "a":
			mon.PrintAlarms(w)
		case "cores", "c":
			mon.PrintCores(w)
		case "events", "e":
			mon.PrintEvents(w)
		case "watch":
			n := 5
			if len(args) > 1 {
				if n, err = strconv.Atoi(args[1]); err != nil {
					fmt.Fprintf(w, "watch: bad count %q\n", args[1])
					continue
				}
			}
			for i := 0; i < n; i++ {
				printAll(mon, w)
				time.Sleep(time.Second)
			}
		default:
			fmt.Fprintf(w, "Unknown command: %s (type 'help' for available commands)\n", args[0])
		}

		select {
		case err := <-done:
			if err != nil {
				fmt.Fprintf(w, "stream ended: %v\n", err)
			}
		default:
		}
	}
	return errors.Trace(scanner.Err())
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "\nAvailable commands:")
	fmt.Fprintln(w, "  summary, s     - Clock, stream health and legacy counters")
	fmt.Fprintln(w, "  timers, t      - Software timer table")
	fmt.Fprintln(w, "  alarms, a      - Alarm binding table")
	fmt.Fprintln(w, "  cores, c       - Cross-core signal table")
	fmt.Fprintln(w, "  events, e      - Recent timing events")
	fmt.Fprintln(w, "  watch [n]      - Print every table once a second, n times")
	fmt.Fprintln(w, "  quit/exit/q    - Exit the program")
	fmt.Fprintln(w)
}
