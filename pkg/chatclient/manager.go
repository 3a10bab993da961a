// Package chatclient is the client side of the realtime gateway: one
// authenticated, self-healing connection per user session.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"loventia/internal/entity"
	"loventia/pkg/cache"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

var (
	ErrUnauthorized       = errors.New("chatclient: unauthorized")
	ErrClosed             = errors.New("chatclient: connection closed")
	ErrReconnectExhausted = errors.New("chatclient: reconnect attempts exhausted")
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusUnauthorized Status = "unauthorized"
	StatusFailed       Status = "failed"
)

const (
	DefaultHeartbeatInterval    = 25 * time.Second
	DefaultDedupCleanupInterval = 60 * time.Second
	DefaultDedupMaxSize         = 10000
	DefaultInitialBackoff       = 500 * time.Millisecond
	DefaultMaxBackoff           = 30 * time.Second
)

type Options struct {
	URL   string
	Token string

	HeartbeatInterval    time.Duration
	DedupCleanupInterval time.Duration
	// DedupTTL is how long a delivered message id is remembered. Defaults to
	// DedupCleanupInterval.
	DedupTTL     time.Duration
	DedupMaxSize int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxReconnectAttempts stops reconnecting after that many consecutive
	// failures and reports StatusFailed. Zero retries forever.
	MaxReconnectAttempts int

	Dialer Dialer
	Clock  Clock
	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.DedupCleanupInterval <= 0 {
		o.DedupCleanupInterval = DefaultDedupCleanupInterval
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = o.DedupCleanupInterval
	}
	if o.DedupMaxSize <= 0 {
		o.DedupMaxSize = DefaultDedupMaxSize
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = DefaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer{}
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}

// Ack reports the outcome of a Send: Message is set when the gateway
// persisted it, Reason and Error otherwise.
type Ack struct {
	ClientRef string
	RoomId    string
	Message   *entity.Message
	Reason    string
	Error     string
}

func (a Ack) OK() bool {
	return a.Message != nil
}

// Manager owns one logical connection. Handlers registered with OnMessage,
// OnAck and OnStatus run one at a time, in event order, and survive
// reconnects.
type Manager struct {
	opts  Options
	log   zerolog.Logger
	clock Clock
	seen  *cache.RecencySet

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc // nil when idle
	done   chan struct{}      // closed when the current run ends
	conn   Conn               // nil unless connected
	timers *sync.WaitGroup    // heartbeat and cleanup of the current session

	writeMu sync.Mutex

	awaitingPong atomic.Bool
	lastPongAt   atomic.Int64

	// callMu is held while handlers run. It is reentrant for the goroutine
	// recorded in callOwner so a handler may call back into the manager.
	callMu    sync.Mutex
	callOwner atomic.Uint64
	callDepth int

	messageHandlers registry[entity.Message]
	ackHandlers     registry[Ack]
	statusHandlers  registry[Status]
}

func New(opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:   opts,
		log:    opts.Logger.With().Str("component", "chatclient").Logger(),
		clock:  opts.Clock,
		seen:   cache.NewRecencySetWithClock(opts.DedupTTL, opts.DedupMaxSize, opts.Clock.Now),
		status: StatusDisconnected,
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastPongAt is when the gateway last answered a heartbeat.
func (m *Manager) LastPongAt() time.Time {
	nanos := m.lastPongAt.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (m *Manager) OnMessage(handler func(entity.Message)) Subscription {
	return m.messageHandlers.add(handler)
}

func (m *Manager) OnAck(handler func(Ack)) Subscription {
	return m.ackHandlers.add(handler)
}

func (m *Manager) OnStatus(handler func(Status)) Subscription {
	return m.statusHandlers.add(handler)
}

// Connect dials the gateway. The first attempt is made before returning: an
// authentication failure is returned as ErrUnauthorized and nothing is
// retried; any other failure returns nil and is retried in the background.
// Calling Connect while a connection is up or being re-established is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.setStatus(runCtx, StatusConnecting)

	dialCtx, stopDial := context.WithCancel(runCtx)
	stop := context.AfterFunc(ctx, stopDial)
	conn, err := m.opts.Dialer.Dial(dialCtx, m.opts.URL, m.opts.Token)
	stop()
	stopDial()

	if runCtx.Err() != nil {
		// Disconnect won the race with the dial.
		if conn != nil {
			conn.Close()
		}
		close(done)
		return ErrClosed
	}
	if errors.Is(err, ErrUnauthorized) {
		m.finish(done, StatusUnauthorized)
		close(done)
		return err
	}
	if err != nil {
		if ctx.Err() != nil {
			m.finish(done, StatusDisconnected)
			close(done)
			return ctx.Err()
		}
		m.log.Warn().Err(err).Msg("connect failed, retrying")
		conn = nil
	}

	go m.supervise(runCtx, done, conn)
	return nil
}

// Disconnect tears the connection down and stops reconnecting. When it
// returns both periodic timers are stopped and no handler runs again until the
// next Connect, apart from the StatusDisconnected notification it delivers
// itself. Called from a handler, the handler's remaining siblings are skipped.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done, conn, timers := m.cancel, m.done, m.conn, m.timers
	if cancel == nil {
		m.mu.Unlock()
		// A run that ended on its own may still be delivering its last status.
		m.enterCallbacks()
		m.leaveCallbacks()
		return
	}
	// Cancelling under the lock means serve cannot install a new session
	// after this point.
	cancel()
	m.cancel, m.done, m.conn, m.timers = nil, nil, nil, nil
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if timers != nil {
		timers.Wait()
	}
	// From inside a handler the run cannot finish until this call returns.
	if !m.inCallbacks() {
		<-done
	}
	m.setStatus(context.Background(), StatusDisconnected)
}

// finish ends a run that stopped on its own, unless Disconnect already did.
func (m *Manager) finish(done chan struct{}, status Status) {
	m.enterCallbacks()
	defer m.leaveCallbacks()

	m.mu.Lock()
	if m.done != done {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.cancel, m.done, m.conn, m.timers = nil, nil, nil, nil
	m.mu.Unlock()
	m.setStatus(context.Background(), status)
}

func (m *Manager) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.InitialBackoff
	b.MaxInterval = m.opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Clock = m.clock
	b.Reset()
	return b
}

// supervise serves conn and keeps reconnecting until the run is cancelled or
// ends in a terminal state.
func (m *Manager) supervise(runCtx context.Context, done chan struct{}, conn Conn) {
	defer close(done)

	b := m.newBackOff()
	failures := 0
	for {
		if conn != nil {
			b.Reset()
			failures = 0
			m.serve(runCtx, conn)
			conn = nil
		}
		if runCtx.Err() != nil {
			return
		}

		if m.opts.MaxReconnectAttempts > 0 && failures >= m.opts.MaxReconnectAttempts {
			m.log.Error().Int("attempts", failures).Msg(ErrReconnectExhausted.Error())
			m.finish(done, StatusFailed)
			return
		}
		m.setStatus(runCtx, StatusReconnecting)

		select {
		case <-runCtx.Done():
			return
		case <-m.clock.After(b.NextBackOff()):
		}

		c, err := m.opts.Dialer.Dial(runCtx, m.opts.URL, m.opts.Token)
		if runCtx.Err() != nil {
			if c != nil {
				c.Close()
			}
			return
		}
		if errors.Is(err, ErrUnauthorized) {
			m.log.Warn().Err(err).Msg("reconnect refused")
			m.finish(done, StatusUnauthorized)
			return
		}
		if err != nil {
			failures++
			m.log.Debug().Err(err).Int("failures", failures).Msg("reconnect failed")
			continue
		}
		conn = c
	}
}

// serve runs one session: it owns the heartbeat and cleanup timers and reads
// events until the connection ends.
func (m *Manager) serve(runCtx context.Context, conn Conn) {
	sessionCtx, cancel := context.WithCancel(runCtx)
	defer cancel()

	var timers sync.WaitGroup
	m.mu.Lock()
	if runCtx.Err() != nil {
		m.mu.Unlock()
		conn.Close()
		return
	}
	timers.Add(2)
	m.conn = conn
	m.timers = &timers
	m.mu.Unlock()

	m.awaitingPong.Store(false)
	heartbeat := m.clock.NewTicker(m.opts.HeartbeatInterval)
	cleanup := m.clock.NewTicker(m.opts.DedupCleanupInterval)
	go m.heartbeatLoop(sessionCtx, conn, heartbeat, &timers)
	go m.cleanupLoop(sessionCtx, cleanup, &timers)

	m.setStatus(runCtx, StatusConnected)
	m.readLoop(runCtx, conn)

	cancel()
	conn.Close()
	timers.Wait()

	m.mu.Lock()
	if m.conn == conn {
		m.conn, m.timers = nil, nil
	}
	m.mu.Unlock()
}

// heartbeatLoop sends a ping every interval. A ping still unanswered at the
// next tick means the connection is half open, so it is closed to trigger a
// reconnect.
func (m *Manager) heartbeatLoop(ctx context.Context, conn Conn, ticker Ticker, wg *sync.WaitGroup) {
	defer wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			if m.awaitingPong.Load() {
				m.log.Warn().Msg("heartbeat timed out, closing connection")
				conn.Close()
				return
			}
			m.awaitingPong.Store(true)
			if !m.writeTo(conn, entity.EventPing, entity.HeartbeatPayload{Ts: now.UnixMilli()}) {
				conn.Close()
				return
			}
		}
	}
}

func (m *Manager) cleanupLoop(ctx context.Context, ticker Ticker, wg *sync.WaitGroup) {
	defer wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if removed := m.seen.Prune(); removed > 0 {
				m.log.Debug().Int("removed", removed).Msg("pruned delivered ids")
			}
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	for {
		event, err := conn.ReadEvent()
		if err != nil {
			m.log.Debug().Err(err).Msg("connection lost")
			return
		}

		switch event.Event {
		case entity.EventPong:
			m.awaitingPong.Store(false)
			m.lastPongAt.Store(m.clock.Now().UnixNano())

		case entity.EventNewMessage:
			var message entity.Message
			if err := json.Unmarshal(event.Data, &message); err != nil || message.Id == "" {
				m.log.Warn().Err(err).Msg("dropping malformed newMessage")
				continue
			}
			if !m.seen.Add(message.Id) {
				continue
			}
			dispatch(ctx, m, &m.messageHandlers, message)

		case entity.EventMessageSent:
			var payload entity.MessageSentPayload
			if err := json.Unmarshal(event.Data, &payload); err != nil {
				continue
			}
			message := payload.Message
			dispatch(ctx, m, &m.ackHandlers, Ack{
				ClientRef: payload.ClientRef,
				RoomId:    message.ConversationId,
				Message:   &message,
			})

		case entity.EventMessageFailed:
			var payload entity.MessageFailedPayload
			if err := json.Unmarshal(event.Data, &payload); err != nil {
				continue
			}
			dispatch(ctx, m, &m.ackHandlers, Ack{
				ClientRef: payload.ClientRef,
				RoomId:    payload.RoomId,
				Reason:    payload.Reason,
				Error:     payload.Error,
			})

		case entity.EventError:
			m.log.Warn().RawJSON("data", event.Data).Msg("gateway error")
		}
	}
}

// dispatch hands value to every handler of r. Once ctx is done the remaining
// handlers are skipped, so nothing from a cancelled run is delivered.
func dispatch[T any](ctx context.Context, m *Manager, r *registry[T], value T) {
	m.enterCallbacks()
	defer m.leaveCallbacks()
	for _, fn := range r.snapshot() {
		if ctx.Err() != nil {
			return
		}
		fn(value)
	}
}

// setStatus records status and notifies the status handlers. The change and
// its notification happen under callMu so handlers observe transitions in the
// order they were made.
func (m *Manager) setStatus(ctx context.Context, status Status) {
	m.enterCallbacks()
	defer m.leaveCallbacks()
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	if m.status == status {
		m.mu.Unlock()
		return
	}
	m.status = status
	m.mu.Unlock()

	m.log.Debug().Str("status", string(status)).Msg("status changed")
	dispatch(ctx, m, &m.statusHandlers, status)
}

func (m *Manager) enterCallbacks() {
	id := goroutineID()
	if m.callOwner.Load() == id {
		m.callDepth++
		return
	}
	m.callMu.Lock()
	m.callOwner.Store(id)
	m.callDepth = 1
}

func (m *Manager) leaveCallbacks() {
	m.callDepth--
	if m.callDepth == 0 {
		m.callOwner.Store(0)
		m.callMu.Unlock()
	}
}

// inCallbacks reports whether the calling goroutine is running handlers.
func (m *Manager) inCallbacks() bool {
	return m.callOwner.Load() == goroutineID()
}

// goroutineID parses the id from the "goroutine N [" header of the current
// stack.
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = b[len("goroutine "):]
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// JoinRoom asks the gateway for membership of room. It reports false, and
// nothing is queued, when not connected.
func (m *Manager) JoinRoom(room string) bool {
	return m.write(entity.EventJoinRoom, room)
}

func (m *Manager) LeaveRoom(room string) bool {
	return m.write(entity.EventLeaveRoom, room)
}

// Send emits a message to room. It is fire and forget: false means it was
// dropped because there is no connection; the outcome of a true send arrives
// through OnAck.
func (m *Manager) Send(room, text, clientRef string) bool {
	return m.write(entity.EventSendMessage, entity.SendMessagePayload{
		RoomId:  room,
		Message: entity.OutgoingMessage{Text: text, ClientRef: clientRef},
	})
}

func (m *Manager) write(name string, data any) bool {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return false
	}
	return m.writeTo(conn, name, data)
}

func (m *Manager) writeTo(conn Conn, name string, data any) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		m.log.Error().Err(err).Str("event", name).Msg("encode failed")
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteEvent(entity.Event{Event: name, Data: raw}); err != nil {
		m.log.Debug().Err(err).Str("event", name).Msg("write failed")
		return false
	}
	return true
}
