package device

import (
	"bytes"
	"errors"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// TestablePort is an in-memory Port. Reads block until data is added or the
// port is closed, like a real serial line.
type TestablePort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// WriteError, if set, is returned by the next Write.
	WriteError error
	// ShortWrite makes Write report one byte fewer than it was given.
	ShortWrite bool

	closed bool
}

// NewTestablePort returns an open TestablePort.
func NewTestablePort() *TestablePort {
	p := &TestablePort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// Read implements io.Reader.
func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && p.readBuf.Len() == 0 {
		p.readCond.Wait()
	}
	if p.closed {
		return 0, errPortClosed
	}
	return p.readBuf.Read(b)
}

// Write implements io.Writer.
func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	n, _ := p.writeBuf.Write(b)
	if p.ShortWrite {
		n--
	}
	return n, nil
}

// Close unblocks readers; later reads and writes fail.
func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return nil
}

// Feed queues data for Read, as if the controller had sent it.
func (p *TestablePort) Feed(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.WriteString(data)
	p.readCond.Broadcast()
}

// Written returns everything written so far.
func (p *TestablePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBuf.String()
}

// Closed reports whether Close was called.
func (p *TestablePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
