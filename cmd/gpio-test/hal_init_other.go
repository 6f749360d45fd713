//go:build !linux
// +build !linux

package main

import (
	"fmt"

	"github.com/edgeflow/edgeflow/internal/hal"
)

func newHAL() (hal.HAL, error) {
	fmt.Println("Non-Linux platform detected, using Mock HAL")
	return hal.NewMockHAL(), nil
}
