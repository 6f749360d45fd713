// Command gpio-test pulses a stepper channel's step/dir/enable lines
// directly through internal/hal, bypassing internal/motion entirely.
// It's a bring-up tool: confirm a driver board's wiring and polarity
// before trusting the planner/executor to drive it.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgeflow/edgeflow/internal/hal"
)

func main() {
	axis := flag.Int("axis", 0, "motor channel index (DefaultStepperPinMap key)")
	pulses := flag.Int("pulses", 200, "number of step pulses to emit")
	interval := flag.Duration("interval", 2*time.Millisecond, "delay between step edges")
	reverse := flag.Bool("reverse", false, "drive the direction line reversed")
	flag.Parse()

	h, err := newHAL()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	pins := hal.DefaultStepperPinMap()
	if _, ok := pins[*axis]; !ok {
		fmt.Fprintf(os.Stderr, "Error: no pin mapping for axis %d\n", *axis)
		os.Exit(1)
	}

	driver, err := hal.NewStepperDriver(h.GPIO(), pins)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to configure stepper pins: %v\n", err)
		os.Exit(1)
	}

	if err := driver.SetEnabled(*axis, true); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to energize axis %d: %v\n", *axis, err)
		os.Exit(1)
	}
	defer driver.SetEnabled(*axis, false)

	if err := driver.SetDirection(*axis, !*reverse); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to set direction: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Stepper pin test\n  Axis: %d\n  Pulses: %d\n  Interval: %v\n\n", *axis, *pulses, *interval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for i := 0; i < *pulses; i++ {
		select {
		case <-sigChan:
			fmt.Println("\nInterrupted.")
			return
		default:
		}

		if err := driver.Pulse(*axis, true); err != nil {
			fmt.Fprintf(os.Stderr, "Error on pulse %d: %v\n", i, err)
			return
		}
		time.Sleep(*interval)
		if err := driver.Pulse(*axis, false); err != nil {
			fmt.Fprintf(os.Stderr, "Error on pulse %d: %v\n", i, err)
			return
		}
		time.Sleep(*interval)
	}

	fmt.Println("Done.")
}
