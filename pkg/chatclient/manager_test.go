package chatclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"loventia/internal/entity"

	"github.com/stretchr/testify/require"
)

const (
	testHeartbeat = 25 * time.Second
	testCleanup   = 60 * time.Second
)

func newTestManager(t *testing.T, dialer *fakeDialer, tune ...func(*Options)) (*Manager, *fakeClock) {
	clock := newFakeClock()
	opts := Options{
		URL:                  "ws://gateway.test/ws",
		Token:                "token",
		HeartbeatInterval:    testHeartbeat,
		DedupCleanupInterval: testCleanup,
		InitialBackoff:       10 * time.Millisecond,
		MaxBackoff:           100 * time.Millisecond,
		Dialer:               dialer,
		Clock:                clock,
	}
	for _, fn := range tune {
		fn(&opts)
	}
	m := New(opts)
	t.Cleanup(m.Disconnect)
	return m, clock
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status() == want }, 2*time.Second, time.Millisecond,
		"status stayed %s, want %s", m.Status(), want)
}

type collector[T any] struct {
	mu     sync.Mutex
	values []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = append(c.values, v)
}

func (c *collector[T]) get() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.values...)
}

func (c *collector[T]) waitLen(t *testing.T, n int) []T {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.get()) >= n }, 2*time.Second, time.Millisecond)
	return c.get()
}

func message(id string) entity.Message {
	return entity.Message{
		Id:             id,
		ConversationId: entity.ConversationId("alice", "bob"),
		SenderId:       "bob",
		RecipientId:    "alice",
		Text:           "hi " + id,
		CreatedAt:      time.Now().UTC(),
	}
}

func Test_Connect_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	m, clock := newTestManager(t, dialer)

	req.NoError(m.Connect(context.Background()))
	req.NoError(m.Connect(context.Background()))
	dialer.next(t)
	waitStatus(t, m, StatusConnected)
	req.NoError(m.Connect(context.Background()))

	req.Equal(1, dialer.dialCount())
	created, _ := clock.counts(testHeartbeat)
	req.Equal(1, created)
}

func Test_Every_Timer_Is_Stopped_Across_Reconnects(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	m, clock := newTestManager(t, dialer)

	paired := func(wantCreated int) {
		t.Helper()
		for _, interval := range []time.Duration{testHeartbeat, testCleanup} {
			created, stopped := clock.counts(interval)
			req.Equal(wantCreated, created, "created %s tickers", interval)
			req.Equal(wantCreated, stopped, "stopped %s tickers", interval)
		}
	}

	req.NoError(m.Connect(context.Background()))
	dialer.next(t)
	waitStatus(t, m, StatusConnected)
	m.Disconnect()
	req.Equal(StatusDisconnected, m.Status())
	paired(1)

	req.NoError(m.Connect(context.Background()))
	second := dialer.next(t)
	waitStatus(t, m, StatusConnected)

	second.Close()
	dialer.next(t)
	waitStatus(t, m, StatusConnected)
	require.Eventually(t, func() bool {
		heartbeats, _ := clock.counts(testHeartbeat)
		cleanups, stopped := clock.counts(testCleanup)
		return heartbeats == 3 && cleanups == 3 && stopped == 2
	}, 2*time.Second, time.Millisecond)

	m.Disconnect()
	paired(3)
}

func Test_Duplicate_Delivery_Reaches_Handlers_Once(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	m, _ := newTestManager(t, dialer)

	var got collector[string]
	m.OnMessage(func(msg entity.Message) { got.add(msg.Id) })

	req.NoError(m.Connect(context.Background()))
	conn := dialer.next(t)
	conn.push(t, entity.EventNewMessage, message("unique-id"))
	conn.push(t, entity.EventNewMessage, message("unique-id"))
	conn.push(t, entity.EventNewMessage, message("id1"))
	conn.push(t, entity.EventNewMessage, message("id2"))

	req.Equal([]string{"unique-id", "id1", "id2"}, got.waitLen(t, 3))
	req.Never(func() bool { return len(got.get()) > 3 }, 50*time.Millisecond, 5*time.Millisecond)
}

func Test_Handlers_Run_In_Registration_Order_Until_Unsubscribed(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	m, _ := newTestManager(t, dialer)

	var calls collector[string]
	m.OnMessage(func(entity.Message) { calls.add("first") })
	second := m.OnMessage(func(entity.Message) { calls.add("second") })
	m.OnMessage(func(entity.Message) { calls.add("third") })

	req.NoError(m.Connect(context.Background()))
	conn := dialer.next(t)
	conn.push(t, entity.EventNewMessage, message("m1"))
	req.Equal([]string{"first", "second", "third"}, calls.waitLen(t, 3))

	second.Unsubscribe()
	second.Unsubscribe()
	conn.push(t, entity.EventNewMessage, message("m2"))
	req.Equal([]string{"first", "second", "third", "first", "third"}, calls.waitLen(t, 5))
}

func Test_Acks_Are_Dispatched_With_Their_Outcome(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	m, _ := newTestManager(t, dialer)

	var acks collector[Ack]
	m.OnAck(acks.add)

	req.NoError(m.Connect(context.Background()))
	conn := dialer.next(t)
	waitStatus(t, m, StatusConnected)

	room := entity.ConversationId("alice", "bob")
	req.True(m.Send(room, "hello", "ref-1"))
	sent := conn.writtenNamed(entity.EventSendMessage)
	req.Len(sent, 1)
	req.JSONEq(`{"roomId":"alice:bob","message":{"text":"hello","clientRef":"ref-1"}}`, string(sent[0].Data))

	persisted := message("m1")
	conn.push(t, entity.EventMessageSent, entity.MessageSentPayload{ClientRef: "ref-1", Message: persisted})
	conn.push(t, entity.EventMessageFailed, entity.MessageFailedPayload{
		ClientRef: "ref-2",
		RoomId:    room,
		Reason:    entity.FailureRateLimited,
		Error:     "slow down",
	})

	got := acks.waitLen(t, 2)
	req.True(got[0].OK())
	req.Equal("ref-1", got[0].ClientRef)
	req.Equal(room, got[0].RoomId)
	req.Equal("m1", got[0].Message.Id)

	req.False(got[1].OK())
	req.Equal("ref-2", got[1].ClientRef)
	req.Equal(entity.FailureRateLimited, got[1].Reason)
	req.Equal("slow down", got[1].Error)
}

func Test_Unauthorized_Connect_Is_Not_Retried(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer(fmt.Errorf("%w: handshake status 401", ErrUnauthorized))
	m, clock := newTestManager(t, dialer)

	var statuses collector[Status]
	m.OnStatus(statuses.add)

	err := m.Connect(context.Background())
	req.ErrorIs(err, ErrUnauthorized)
	req.Equal(StatusUnauthorized, m.Status())
	req.Equal([]Status{StatusConnecting, StatusUnauthorized}, statuses.get())
	req.Never(func() bool { return dialer.dialCount() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	req.Empty(clock.backoffDelays())
}

func Test_Unauthorized_Reconnect_Stops_The_Manager(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	m, clock := newTestManager(t, dialer)

	req.NoError(m.Connect(context.Background()))
	conn := dialer.next(t)
	waitStatus(t, m, StatusConnected)

	dialer.queue(ErrUnauthorized)
	conn.Close()
	waitStatus(t, m, StatusUnauthorized)
	req.Never(func() bool { return dialer.dialCount() > 2 }, 50*time.Millisecond, 5*time.Millisecond)

	_, stopped := clock.counts(testHeartbeat)
	req.Equal(1, stopped)
	req.False(m.Send("alice:bob", "hello", ""))
}

func Test_Transient_Failures_Are_Retried_With_Backoff(t *testing.T) {
	req := require.New(t)
	refused := errors.New("connection refused")
	dialer := newFakeDialer(refused, refused)
	m, clock := newTestManager(t, dialer)

	var statuses collector[Status]
	m.OnStatus(statuses.add)

	req.NoError(m.Connect(context.Background()))
	dialer.next(t)
	waitStatus(t, m, StatusConnected)

	req.Equal(3, dialer.dialCount())
	req.Equal([]Status{StatusConnecting, StatusReconnecting, StatusConnected}, statuses.waitLen(t, 3))

	delays := clock.backoffDelays()
	req.Len(delays, 2)
	req.InDelta(10*time.Millisecond, delays[0], float64(5*time.Millisecond))
	req.InDelta(20*time.Millisecond, delays[1], float64(10*time.Millisecond))
}

func Test_Reconnect_Gives_Up_After_Max_Attempts(t *testing.T) {
	req := require.New(t)
	refused := errors.New("connection refused")
	dialer := newFakeDialer(refused, refused, refused, refused)
	m, _ := newTestManager(t, dialer, func(o *Options) { o.MaxReconnectAttempts = 2 })

	req.NoError(m.Connect(context.Background()))
	waitStatus(t, m, StatusFailed)
	req.Equal(3, dialer.dialCount())

	dialer.mu.Lock()
	dialer.errs = nil
	dialer.mu.Unlock()
	req.NoError(m.Connect(context.Background()))
	dialer.next(t)
	waitStatus(t, m, StatusConnected)
}

func Test_Unanswered_Heartbeat_Closes_The_Connection(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	m, clock := newTestManager(t, dialer)

	req.NoError(m.Connect(context.Background()))
	conn := dialer.next(t)
	waitStatus(t, m, StatusConnected)

	clock.tick(t, testHeartbeat)
	require.Eventually(t, func() bool { return len(conn.writtenNamed(entity.EventPing)) == 1 }, time.Second, time.Millisecond)
	req.False(conn.isClosed())

	clock.tick(t, testHeartbeat)
	require.Eventually(t, conn.isClosed, time.Second, time.Millisecond)

	dialer.next(t)
	waitStatus(t, m, StatusConnected)
}

func Test_Pong_Keeps_The_Connection_Alive(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	m, clock := newTestManager(t, dialer)

	req.NoError(m.Connect(context.Background()))
	conn := dialer.next(t)
	waitStatus(t, m, StatusConnected)
	req.True(m.LastPongAt().IsZero())

	for i := 1; i <= 3; i++ {
		clock.tick(t, testHeartbeat)
		require.Eventually(t, func() bool { return len(conn.writtenNamed(entity.EventPing)) == i }, time.Second, time.Millisecond)
		conn.push(t, entity.EventPong, entity.HeartbeatPayload{Ts: clock.Now().UnixMilli()})
		require.Eventually(t, func() bool { return !m.awaitingPong.Load() }, time.Second, time.Millisecond)
	}

	req.False(conn.isClosed())
	req.True(clock.Now().Equal(m.LastPongAt()))
	req.Equal(1, dialer.dialCount())
}

func Test_Operations_Are_Dropped_While_Disconnected(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	m, _ := newTestManager(t, dialer)

	req.False(m.JoinRoom("alice:bob"))
	req.False(m.LeaveRoom("alice:bob"))
	req.False(m.Send("alice:bob", "hello", "ref"))
	req.Equal(StatusDisconnected, m.Status())
	req.Zero(dialer.dialCount())

	req.NoError(m.Connect(context.Background()))
	conn := dialer.next(t)
	waitStatus(t, m, StatusConnected)
	req.True(m.JoinRoom("alice:bob"))

	m.Disconnect()
	req.False(m.Send("alice:bob", "hello", "ref"))
	req.Empty(conn.writtenNamed(entity.EventSendMessage))
	req.Len(conn.writtenNamed(entity.EventJoinRoom), 1)
}

func Test_Disconnect_From_A_Handler_Does_Not_Deadlock(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	m, clock := newTestManager(t, dialer)

	returned := make(chan struct{})
	m.OnMessage(func(entity.Message) {
		m.Disconnect()
		close(returned)
	})

	req.NoError(m.Connect(context.Background()))
	conn := dialer.next(t)
	conn.push(t, entity.EventNewMessage, message("bye"))

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect blocked inside a handler")
	}
	req.Equal(StatusDisconnected, m.Status())
	req.True(conn.isClosed())
	req.Never(func() bool { return dialer.dialCount() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	created, stopped := clock.counts(testHeartbeat)
	req.Equal(created, stopped)
}

func Test_Disconnect_Waits_For_A_Running_Handler(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	m, _ := newTestManager(t, dialer)

	var (
		active   atomic.Int32
		overlap  atomic.Bool
		returned atomic.Bool
		late     atomic.Bool
	)
	enter := func() {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		if returned.Load() {
			late.Store(true)
		}
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	var got collector[string]
	m.OnMessage(func(msg entity.Message) {
		enter()
		defer active.Add(-1)
		got.add(msg.Id)
		if msg.Id == "m1" {
			close(entered)
			<-release
		}
	})
	var statuses collector[Status]
	m.OnStatus(func(s Status) {
		enter()
		defer active.Add(-1)
		statuses.add(s)
	})

	req.NoError(m.Connect(context.Background()))
	conn := dialer.next(t)
	waitStatus(t, m, StatusConnected)
	conn.push(t, entity.EventNewMessage, message("m1"))
	<-entered
	conn.push(t, entity.EventNewMessage, message("m2"))

	disconnected := make(chan struct{})
	go func() {
		m.Disconnect()
		returned.Store(true)
		close(disconnected)
	}()
	require.Eventually(t, conn.isClosed, time.Second, time.Millisecond)
	req.Never(func() bool {
		select {
		case <-disconnected:
			return true
		default:
			return false
		}
	}, 20*time.Millisecond, time.Millisecond, "Disconnect returned while a handler was running")

	close(release)
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect did not return")
	}

	req.Never(late.Load, 50*time.Millisecond, 5*time.Millisecond, "handler ran after Disconnect returned")
	req.False(overlap.Load(), "handlers ran concurrently")
	req.Equal([]string{"m1"}, got.get())
	seen := statuses.get()
	req.Equal(StatusDisconnected, seen[len(seen)-1])
}

func Test_Status_And_Message_Handlers_Never_Overlap(t *testing.T) {
	req := require.New(t)

	for i := 0; i < 20; i++ {
		dialer := newFakeDialer()
		m, _ := newTestManager(t, dialer)

		var (
			active  atomic.Int32
			overlap atomic.Bool
		)
		track := func() {
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}
		delivered := make(chan struct{}, 8)
		m.OnMessage(func(entity.Message) {
			track()
			delivered <- struct{}{}
		})
		m.OnStatus(func(Status) { track() })

		req.NoError(m.Connect(context.Background()))
		conn := dialer.next(t)
		for j := 0; j < 4; j++ {
			conn.push(t, entity.EventNewMessage, message(fmt.Sprintf("%d-%d", i, j)))
		}
		<-delivered
		// Status changes from this goroutine race the read loop's dispatches.
		m.Disconnect()
		req.False(overlap.Load(), "run %d: handlers ran concurrently", i)
	}
}

func Test_Dial_Finishing_After_Disconnect_Is_Closed(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	dialer.gate = make(chan struct{})
	m, clock := newTestManager(t, dialer)

	connectErr := make(chan error, 1)
	go func() { connectErr <- m.Connect(context.Background()) }()
	require.Eventually(t, func() bool { return dialer.dialCount() == 1 }, time.Second, time.Millisecond)

	disconnected := make(chan struct{})
	go func() {
		m.Disconnect()
		close(disconnected)
	}()
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.cancel == nil
	}, time.Second, time.Millisecond)

	close(dialer.gate)
	req.ErrorIs(<-connectErr, ErrClosed)
	<-disconnected

	conn := dialer.next(t)
	req.True(conn.isClosed())
	req.Equal(StatusDisconnected, m.Status())
	created, _ := clock.counts(testHeartbeat)
	req.Zero(created)
}

func Test_Cleanup_Forgets_Old_Ids(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	m, clock := newTestManager(t, dialer)

	var got collector[string]
	m.OnMessage(func(msg entity.Message) { got.add(msg.Id) })

	req.NoError(m.Connect(context.Background()))
	conn := dialer.next(t)
	waitStatus(t, m, StatusConnected)

	conn.push(t, entity.EventNewMessage, message("again"))
	got.waitLen(t, 1)

	clock.tick(t, testCleanup)
	require.Eventually(t, func() bool { return !m.seen.Contains("again") }, time.Second, time.Millisecond)

	conn.push(t, entity.EventNewMessage, message("again"))
	req.Equal([]string{"again", "again"}, got.waitLen(t, 2))
}

func Test_Malformed_Frames_Are_Skipped(t *testing.T) {
	req := require.New(t)
	dialer := newFakeDialer()
	m, _ := newTestManager(t, dialer)

	var got collector[string]
	m.OnMessage(func(msg entity.Message) { got.add(msg.Id) })

	req.NoError(m.Connect(context.Background()))
	conn := dialer.next(t)
	conn.push(t, entity.EventNewMessage, "not a message")
	conn.push(t, entity.EventNewMessage, entity.Message{Text: "no id"})
	conn.push(t, entity.EventError, entity.ErrorPayload{Error: "unknown event"})
	conn.push(t, entity.EventNewMessage, message("ok"))

	req.Equal([]string{"ok"}, got.waitLen(t, 1))
	req.Equal(StatusConnected, m.Status())
}
