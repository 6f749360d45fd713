// Package serial opens the G-code command link, an external
// collaborator: a line-buffered reader over a physical or virtual
// serial port that feeds parsed commands into a gcode.Program, echoing
// an "ok"/"error" acknowledgment per line the way a GRBL-style
// controller does.
package serial

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/edgeflow/edgeflow/internal/gcode"
	"github.com/edgeflow/edgeflow/internal/logger"
)

// Config configures the serial link's transport settings.
type Config struct {
	Port     string
	BaudRate int
}

// Link owns one open serial port and drives lines read from it into a
// gcode.Program.
type Link struct {
	port    serial.Port
	program *gcode.Program

	mu      sync.Mutex
	closed  bool
}

// Open opens cfg.Port at cfg.BaudRate and wires it to drive program.
func Open(cfg Config, program *gcode.Program) (*Link, error) {
	mode := &serial.Mode{BaudRate: cfg.BaudRate}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Port, err)
	}
	return &Link{port: port, program: program}, nil
}

// Run reads newline-delimited G-code from the port until the port is
// closed or a non-EOF read error occurs. Each line gets one "ok\n" or
// "error: ...\n" acknowledgment written back, matching the
// request/response cadence a G-code sender expects before sending its
// next line.
func (l *Link) Run() error {
	reader := bufio.NewScanner(l.port)
	reader.Buffer(make([]byte, 0, 256), 4096)

	for reader.Scan() {
		line := reader.Text()
		code, err := l.program.Execute(line)
		if err != nil {
			logger.Warn("gcode line rejected", zap.String("line", line), zap.Error(err))
			l.writeLine("error: " + err.Error())
			continue
		}
		if code.IsBackpressure() {
			// Caller should retry the line; a sender that respects
			// ok/error acks will simply not advance past it.
			l.writeLine("error: " + code.String())
			continue
		}
		l.writeLine("ok")
	}

	if err := reader.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("serial: read loop: %w", err)
	}
	return nil
}

func (l *Link) writeLine(s string) {
	if _, err := l.port.Write([]byte(s + "\n")); err != nil {
		logger.Warn("serial: write failed", zap.Error(err))
	}
}

// Close closes the underlying port. Safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.port.Close()
}
