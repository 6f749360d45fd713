//go:build !linux
// +build !linux

package main

import (
	"github.com/edgeflow/edgeflow/internal/hal"
	appLogger "github.com/edgeflow/edgeflow/internal/logger"
)

func newHAL() (hal.HAL, error) {
	appLogger.Info("non-Linux platform detected, using mock HAL")
	return hal.NewMockHAL(), nil
}
