package device

import (
	"fmt"
	"io"
	"slices"

	"go.bug.st/serial"
)

// Port is the minimal serial port surface the link needs. Tests supply a
// TestablePort in place of hardware.
type Port interface {
	io.ReadWriter
	io.Closer
}

// DefaultBaudRate matches the touch controller firmware.
const DefaultBaudRate = 115200

// The controller firmware only builds at these rates and always frames
// 8N1, so framing is not configurable.
var supportedBaudRates = []int{9600, 57600, 115200, 230400}

// PortOptions describes the serial connection to the touch controller.
type PortOptions struct {
	// BaudRate is one of 9600, 57600, 115200 or 230400. Zero selects
	// DefaultBaudRate.
	BaudRate int `json:"baud_rate" yaml:"baud_rate"`
}

// SerialMode validates the options and returns the 8N1 mode for them.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	baud := o.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	if !slices.Contains(supportedBaudRates, baud) {
		return nil, fmt.Errorf("unsupported baud rate %d: controller supports %v", baud, supportedBaudRates)
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}, nil
}

// Open opens the serial port at path and wraps it in a Link.
func Open(path string, opts PortOptions) (*Link, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return NewLink(port), nil
}
