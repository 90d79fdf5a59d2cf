package device

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startMonitor(t *testing.T, l *Link) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Monitor(ctx) }()
	return cancel, done
}

func TestLink_SendCommand(t *testing.T) {
	port := NewTestablePort()
	l := NewLink(port)

	require.NoError(t, l.SendCommand("PAUSE"))
	require.NoError(t, l.SendCommand("RESUME\n"))
	assert.Equal(t, "PAUSE\nRESUME\n", port.Written())

	port.WriteError = errors.New("unplugged")
	assert.Error(t, l.SendCommand("PAUSE"))

	port.ShortWrite = true
	assert.ErrorIs(t, l.SendCommand("PAUSE"), ErrWriteFailed)
}

func TestLink_FanOut(t *testing.T) {
	port := NewTestablePort()
	l := NewLink(port)
	cancel, done := startMonitor(t, l)
	defer cancel()

	id1, ch1 := l.Subscribe()
	_, ch2 := l.Subscribe()
	port.Feed("BTN DOWN\r\n\nBTN UP\n")

	for _, ch := range []chan string{ch1, ch2} {
		for _, want := range []string{"BTN DOWN", "BTN UP"} {
			select {
			case got := <-ch:
				assert.Equal(t, want, got)
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	l.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok)

	require.NoError(t, l.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after Close")
	}
	_, ok = <-ch2
	assert.False(t, ok)
	assert.True(t, port.Closed())
}

func TestLink_ClosedLink(t *testing.T) {
	l := NewLink(NewTestablePort())
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.ErrorIs(t, l.SendCommand("PAUSE"), ErrClosed)
	_, ch := l.Subscribe()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestLink_MonitorCancel(t *testing.T) {
	l := NewLink(NewTestablePort())
	cancel, done := startMonitor(t, l)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	l.Close()
}

func TestLink_AdminRoutes(t *testing.T) {
	port := NewTestablePort()
	l := NewLink(port)
	defer l.Close()

	mux := http.NewServeMux()
	l.AttachAdminRoutes(mux, 750, 400)

	req := httptest.NewRequest(http.MethodGet, "/debug/send-command", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "TOUCH DOWN 750 400")

	form := url.Values{"command": {"TOUCH UP 1 2"}}
	req = httptest.NewRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TOUCH UP 1 2\n", port.Written())

	req = httptest.NewRequest(http.MethodPost, "/debug/send-command-api", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLink_TailStream(t *testing.T) {
	port := NewTestablePort()
	l := NewLink(port)
	cancel, _ := startMonitor(t, l)
	defer cancel()
	defer l.Close()

	mux := http.NewServeMux()
	l.AttachAdminRoutes(mux, 0, 0)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	req := httptest.NewRequest(http.MethodGet, "/debug/tail", nil).WithContext(ctx)
	req.RemoteAddr = "127.0.0.1:1234"

	pr, pw := io.Pipe()
	rec := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), w: pw}
	go func() {
		mux.ServeHTTP(rec, req)
		pw.Close()
	}()

	buf := make([]byte, 64)
	n, err := pr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, ": ping\n\n", string(buf[:n]))

	port.Feed("BTN DOWN\n")
	n, err = pr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "data: BTN DOWN\n\n", string(buf[:n]))
	stop()
	io.Copy(io.Discard, pr)
}

type streamRecorder struct {
	*httptest.ResponseRecorder
	w io.Writer
}

func (s *streamRecorder) Write(b []byte) (int, error) { return s.w.Write(b) }
func (s *streamRecorder) Flush()                      {}

func TestLink_LosslessSubscriberSeesEveryLine(t *testing.T) {
	port := NewTestablePort()
	l := NewLink(port)
	cancel, _ := startMonitor(t, l)
	defer cancel()
	defer l.Close()

	_, lossy := l.Subscribe()
	_, lossless := l.SubscribeLossless()

	// Three times the buffer, with nobody reading yet.
	const n = 3 * subscriberBuffer
	var feed strings.Builder
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			feed.WriteString("BTN DOWN\n")
		} else {
			feed.WriteString("BTN UP\n")
		}
	}
	port.Feed(feed.String())

	for i := 0; i < n; i++ {
		select {
		case line := <-lossless:
			want := "BTN DOWN"
			if i%2 == 1 {
				want = "BTN UP"
			}
			require.Equal(t, want, line, "line %d", i)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d lines", i, n)
		}
	}

	assert.Len(t, lossy, subscriberBuffer)
	assert.Eventually(t, func() bool { return l.Dropped() == n-subscriberBuffer }, time.Second, time.Millisecond)
}

func TestLink_CloseReleasesBlockedLosslessSend(t *testing.T) {
	port := NewTestablePort()
	l := NewLink(port)
	cancel, done := startMonitor(t, l)
	defer cancel()

	_, ch := l.SubscribeLossless()
	port.Feed(strings.Repeat("BTN DOWN\n", subscriberBuffer+1))
	require.Eventually(t, func() bool { return len(ch) == subscriberBuffer }, time.Second, time.Millisecond)

	require.NoError(t, l.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Monitor stayed blocked after Close")
	}
	for range ch {
	}
}
