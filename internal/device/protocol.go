package device

import (
	"context"
	"fmt"
	"strings"
)

// Controller commands. Every command is a single newline-terminated line.
const (
	cmdTouchDown = "TOUCH DOWN"
	cmdTouchUp   = "TOUCH UP"
	cmdPause     = "PAUSE"
	cmdResume    = "RESUME"
)

// Inbound button lines.
const (
	lineButtonDown = "BTN DOWN"
	lineButtonUp   = "BTN UP"
)

// TouchDownCommand presses the touch point at x, y.
func TouchDownCommand(x, y int) string { return fmt.Sprintf("%s %d %d", cmdTouchDown, x, y) }

// TouchUpCommand releases the touch point at x, y.
func TouchUpCommand(x, y int) string { return fmt.Sprintf("%s %d %d", cmdTouchUp, x, y) }

// ParseButton reports the hold state carried by an inbound line. ok is
// false for lines that are not button events.
func ParseButton(line string) (holding, ok bool) {
	switch strings.ToUpper(strings.Join(strings.Fields(line), " ")) {
	case lineButtonDown:
		return true, true
	case lineButtonUp:
		return false, true
	default:
		return false, false
	}
}

// Commander sends one command line. Link implements it.
type Commander interface {
	SendCommand(command string) error
}

// Touch drives the touch point. It satisfies capture.Actuator.
type Touch struct {
	C Commander
}

// SendStart presses at x, y.
func (t Touch) SendStart(x, y int) error {
	return t.C.SendCommand(TouchDownCommand(x, y))
}

// SendStop releases at x, y.
func (t Touch) SendStop(x, y int) error {
	return t.C.SendCommand(TouchUpCommand(x, y))
}

// Pauser freezes and resumes the game through the controller. It satisfies
// phase.Pausable.
type Pauser struct {
	C Commander
}

// Pause freezes the game.
func (p Pauser) Pause(ctx context.Context) error {
	return sendCtx(ctx, p.C, cmdPause)
}

// Unpause resumes the game.
func (p Pauser) Unpause(ctx context.Context) error {
	return sendCtx(ctx, p.C, cmdResume)
}

func sendCtx(ctx context.Context, c Commander, command string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- c.SendCommand(command) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", command, ctx.Err())
	}
}

// Subscriber is the fan-out half of Link.
type Subscriber interface {
	SubscribeLossless() (string, chan string)
	Unsubscribe(id string)
}

// Buttons turns controller button lines into hold/release events. It
// satisfies capture.InputSource. Link.Monitor must be running for events to
// arrive.
type Buttons struct {
	S Subscriber
}

// Events streams hold (true) and release (false) until ctx is done or the
// link closes. The subscription is lossless: a missed BTN UP would leave
// the touch held.
func (b Buttons) Events(ctx context.Context) (<-chan bool, error) {
	id, lines := b.S.SubscribeLossless()
	out := make(chan bool, subscriberBuffer)

	go func() {
		defer close(out)
		defer b.S.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					return
				}
				holding, ok := ParseButton(line)
				if !ok {
					continue
				}
				select {
				case out <- holding:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
