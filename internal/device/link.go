// Package device talks to the touch controller attached to the game
// device over a serial line. One Link multiplexes the port: commands from
// the capture loop and trainer are serialised onto it and every inbound
// line is fanned out to subscribers.
package device

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/swingbot/internal/monitoring"
)

var (
	ErrWriteFailed = errors.New("failed to write to serial port")
	ErrClosed      = errors.New("serial link is closed")
)

// subscriberBuffer keeps short bursts of button events from stalling the
// reader while a subscriber is busy.
const subscriberBuffer = 16

type subscriber struct {
	ch       chan string
	lossless bool
	done     chan struct{}
}

// Link is a serial port multiplexer.
type Link struct {
	port Port

	// subscriberMu guards the map. sendMu is held for reading while Monitor
	// delivers a line and for writing while a channel is closed, so a
	// channel is never closed under a pending send.
	subscriberMu sync.Mutex
	subscribers  map[string]*subscriber
	sendMu       sync.RWMutex

	commandMu sync.Mutex

	closingMu sync.Mutex
	closing   bool

	dropped atomic.Int64
	dropLog *monitoring.Limiter
}

// NewLink wraps port.
func NewLink(port Port) *Link {
	return &Link{
		port:        port,
		subscribers: make(map[string]*subscriber),
		dropLog:     monitoring.NewLimiter(5 * time.Second),
	}
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a channel receiving lines read by Monitor. Lines are
// dropped, and counted in Dropped, while the channel's buffer is full. The
// id is passed to Unsubscribe.
func (l *Link) Subscribe() (string, chan string) {
	return l.subscribe(false)
}

// SubscribeLossless is like Subscribe but Monitor waits for the subscriber
// instead of dropping lines. The subscriber must keep reading until it
// calls Unsubscribe.
func (l *Link) SubscribeLossless() (string, chan string) {
	return l.subscribe(true)
}

func (l *Link) subscribe(lossless bool) (string, chan string) {
	id := randomID()
	sub := &subscriber{
		ch:       make(chan string, subscriberBuffer),
		lossless: lossless,
		done:     make(chan struct{}),
	}

	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if l.isClosing() {
		close(sub.ch)
		return id, sub.ch
	}
	l.subscribers[id] = sub
	return id, sub.ch
}

// Unsubscribe removes and closes a subscriber channel.
func (l *Link) Unsubscribe(id string) {
	l.subscriberMu.Lock()
	sub, ok := l.subscribers[id]
	delete(l.subscribers, id)
	l.subscriberMu.Unlock()
	if ok {
		l.closeSubscribers(sub)
	}
}

// closeSubscribers releases any send blocked on subs, then closes their
// channels.
func (l *Link) closeSubscribers(subs ...*subscriber) {
	for _, sub := range subs {
		close(sub.done)
	}
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	for _, sub := range subs {
		close(sub.ch)
	}
}

// Dropped returns how many lines lossy subscribers have missed.
func (l *Link) Dropped() int64 { return l.dropped.Load() }

// SendCommand writes command followed by a newline.
func (l *Link) SendCommand(command string) error {
	if l.isClosing() {
		return ErrClosed
	}

	l.commandMu.Lock()
	defer l.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := l.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines from the port and forwards them to subscribers until
// ctx is done, the port reaches EOF or Close is called.
func (l *Link) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(l.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if l.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !l.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			if l.isClosing() {
				return nil
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := l.fanOut(ctx, line); err != nil {
				return err
			}
		}
	}
}

func (l *Link) fanOut(ctx context.Context, line string) error {
	l.subscriberMu.Lock()
	subs := make([]*subscriber, 0, len(l.subscribers))
	for _, sub := range l.subscribers {
		subs = append(subs, sub)
	}
	l.subscriberMu.Unlock()

	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	for _, sub := range subs {
		select {
		case <-sub.done:
			continue
		default:
		}
		if sub.lossless {
			select {
			case sub.ch <- line:
			case <-sub.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		select {
		case sub.ch <- line:
		default:
			n := l.dropped.Add(1)
			l.dropLog.Logf("warning: serial subscriber not keeping up, %d lines dropped so far", n)
		}
	}
	return nil
}

func (l *Link) isClosing() bool {
	l.closingMu.Lock()
	defer l.closingMu.Unlock()
	return l.closing
}

// Close closes every subscriber channel and the port. Further calls are
// no-ops.
func (l *Link) Close() error {
	l.closingMu.Lock()
	if l.closing {
		l.closingMu.Unlock()
		return nil
	}
	l.closing = true
	l.closingMu.Unlock()

	l.subscriberMu.Lock()
	subs := make([]*subscriber, 0, len(l.subscribers))
	for id, sub := range l.subscribers {
		subs = append(subs, sub)
		delete(l.subscribers, id)
	}
	l.subscriberMu.Unlock()
	l.closeSubscribers(subs...)
	return l.port.Close()
}

var sendCommandTemplate = template.Must(template.New("send-command").Parse(`<!DOCTYPE html>
<html>
<head><title>touch controller</title></head>
<body>
<h1>touch controller</h1>
<form method="POST" action="send-command-api">
<input name="command" placeholder="TOUCH DOWN {{.X}} {{.Y}}" size="40">
<button type="submit">Send</button>
</form>
<p>Commands: <code>TOUCH DOWN x y</code>, <code>TOUCH UP x y</code>, <code>PAUSE</code>, <code>RESUME</code></p>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
new EventSource("tail").onmessage = (e) => { tail.textContent += e.data + "\n"; };
</script>
</body>
</html>
`))

// AttachAdminRoutes registers the controller debug pages under /debug/.
func (l *Link) AttachAdminRoutes(mux *http.ServeMux, touchX, touchY int) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "send a command to the touch controller", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := sendCommandTemplate.Execute(w, struct{ X, Y int }{touchX, touchY}); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
		}
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := l.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := l.Subscribe()
		defer l.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
