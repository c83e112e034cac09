package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"focuslens/internal/collector/protocol"
	"focuslens/internal/collector/x11"
)

var (
	interval        = flag.Duration("interval", time.Second, "Sampling interval")
	backgroundEvery = flag.Int("background-every", 5, "Recompute background categories every N samples")
)

func main() {
	flag.Parse()

	// stdout carries the protocol; diagnostics go to stderr, which the
	// supervisor logs.
	log.SetOutput(os.Stderr)
	log.SetFlags(0)

	out := bufio.NewWriter(os.Stdout)

	display, err := x11.Open()
	if err != nil {
		fmt.Fprintf(out, "%s%v\n", protocol.ErrorPrefix, err)
		_ = out.Flush()
		os.Exit(1)
	}
	defer display.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := x11.Emit(ctx, flushWriter{out}, display, x11.EmitOptions{
		Interval:        *interval,
		BackgroundEvery: *backgroundEvery,
	}); err != nil {
		log.Printf("probe stopped: %v", err)
		os.Exit(1)
	}
}

// flushWriter flushes after every line so the supervisor sees samples as
// they happen.
type flushWriter struct {
	w *bufio.Writer
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, f.w.Flush()
}
