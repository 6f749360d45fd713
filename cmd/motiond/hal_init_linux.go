//go:build linux
// +build linux

package main

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/edgeflow/edgeflow/internal/hal"
	appLogger "github.com/edgeflow/edgeflow/internal/logger"
)

func newHAL() (hal.HAL, error) {
	if runtime.GOARCH != "arm" && runtime.GOARCH != "arm64" {
		appLogger.Info("non-ARM Linux platform detected, using mock HAL")
		return hal.NewMockHAL(), nil
	}

	rpiHAL, err := hal.NewRaspberryPiHAL()
	if err != nil {
		appLogger.Warn("raspberry pi HAL init failed, falling back to mock HAL", zap.Error(err))
		return hal.NewMockHAL(), nil
	}
	appLogger.Info("raspberry pi HAL initialized",
		zap.String("board", rpiHAL.Info().Name),
		zap.String("gpio_chip", rpiHAL.Info().GPIOChip))
	return rpiHAL, nil
}
