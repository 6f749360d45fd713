//go:build linux
// +build linux

package main

import (
	"fmt"
	"runtime"

	"github.com/edgeflow/edgeflow/internal/hal"
)

func newHAL() (hal.HAL, error) {
	if runtime.GOARCH != "arm" && runtime.GOARCH != "arm64" {
		fmt.Println("Non-ARM Linux platform detected, using Mock HAL")
		return hal.NewMockHAL(), nil
	}

	rpiHAL, err := hal.NewRaspberryPiHAL()
	if err != nil {
		fmt.Printf("Warning: failed to initialize Raspberry Pi HAL: %v\n", err)
		fmt.Println("Falling back to Mock HAL")
		return hal.NewMockHAL(), nil
	}
	fmt.Printf("Raspberry Pi HAL initialized (%s via %s)\n", rpiHAL.Info().Name, rpiHAL.Info().GPIOChip)
	return rpiHAL, nil
}
