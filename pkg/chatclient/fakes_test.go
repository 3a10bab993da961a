package chatclient

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"loventia/internal/entity"

	"github.com/stretchr/testify/require"
)

type fakeTicker struct {
	interval time.Duration
	c        chan time.Time
	stopped  atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.c
}

func (t *fakeTicker) Stop() {
	t.stopped.Store(true)
}

// fakeClock hands out tickers that only fire on tick, and timers that fire
// at once while recording the requested delay.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	delays  []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 2, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{interval: d, c: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

// tick advances the clock by interval and fires every live ticker with that
// interval, waiting until each one has been received.
func (c *fakeClock) tick(t *testing.T, interval time.Duration) {
	t.Helper()

	c.mu.Lock()
	c.now = c.now.Add(interval)
	now := c.now
	var live []*fakeTicker
	for _, tk := range c.tickers {
		if tk.interval == interval && !tk.stopped.Load() {
			live = append(live, tk)
		}
	}
	c.mu.Unlock()

	require.NotEmpty(t, live, "no live ticker for %s", interval)
	for _, tk := range live {
		select {
		case tk.c <- now:
		case <-time.After(time.Second):
			t.Fatalf("ticker %s was not drained", interval)
		}
	}
}

func (c *fakeClock) counts(interval time.Duration) (created, stopped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tk := range c.tickers {
		if tk.interval != interval {
			continue
		}
		created++
		if tk.stopped.Load() {
			stopped++
		}
	}
	return created, stopped
}

func (c *fakeClock) backoffDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

type fakeConn struct {
	incoming  chan entity.Event
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []entity.Event
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan entity.Event, 16),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadEvent() (entity.Event, error) {
	select {
	case event := <-c.incoming:
		return event, nil
	case <-c.closed:
		return entity.Event{}, ErrClosed
	}
}

func (c *fakeConn) WriteEvent(event entity.Event) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, event)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writtenNamed(name string) []entity.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var events []entity.Event
	for _, event := range c.written {
		if event.Event == name {
			events = append(events, event)
		}
	}
	return events
}

// push delivers an event from the gateway side.
func (c *fakeConn) push(t *testing.T, name string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	select {
	case c.incoming <- entity.Event{Event: name, Data: raw}:
	case <-time.After(time.Second):
		t.Fatalf("connection did not accept %s", name)
	}
}

// fakeDialer fails with queued errors first, then hands out fresh
// connections. When gate is set a successful dial blocks until it is closed,
// regardless of the context.
type fakeDialer struct {
	mu    sync.Mutex
	errs  []error
	dials int
	conns chan *fakeConn
	gate  chan struct{}
}

func newFakeDialer(errs ...error) *fakeDialer {
	return &fakeDialer{errs: errs, conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, url, token string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		d.mu.Unlock()
		return nil, err
	}
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) queue(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, errs...)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection was dialed")
		return nil
	}
}
