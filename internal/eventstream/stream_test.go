package eventstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cluster-console/console/internal/conn"
	"github.com/cluster-console/console/internal/frame"
	"github.com/cluster-console/console/internal/model"
	"github.com/cluster-console/console/internal/transport/transporttest"
)

const waitTimeout = 2 * time.Second

type streamHarness struct {
	stream *Stream
	dialer *transporttest.Dialer
	sched  *transporttest.Scheduler
	states chan conn.State
}

func newHarness(t *testing.T) *streamHarness {
	t.Helper()
	dialer := transporttest.NewDialer()
	sched := transporttest.NewScheduler()

	s, err := New(Options{
		BaseURL: "https://console.example.com",
		Dialer:  dialer,
		After:   sched.AfterFunc,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Stop)

	h := &streamHarness{stream: s, dialer: dialer, sched: sched, states: make(chan conn.State, 16)}
	cancel := s.SubscribeState(func(st conn.State) { h.states <- st })
	t.Cleanup(cancel)
	return h
}

func (h *streamHarness) start(t *testing.T) *transporttest.Socket {
	t.Helper()
	if err := h.stream.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sock, ok := h.dialer.WaitDial(waitTimeout)
	if !ok {
		t.Fatal("timed out waiting for dial")
	}
	h.waitState(t, conn.StateConnected)
	return sock
}

// waitDelays blocks until count timers have been scheduled. The state
// notification fires before the close handler arms the timer, so tests
// must not inspect or fire the scheduler on state alone.
func (h *streamHarness) waitDelays(t *testing.T, count int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for len(h.sched.Delays()) < count {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d scheduled reconnects, have %v", count, h.sched.Delays())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *streamHarness) waitState(t *testing.T, want conn.State) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", want)
		}
	}
}

func TestStreamDialsFixedEndpoint(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	want := "wss://console.example.com/ws/clusters"
	if got := h.dialer.URLs()[0]; got != want {
		t.Errorf("expected dial to %q, got %q", want, got)
	}
}

func TestStreamStartIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if err := h.stream.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if h.dialer.DialCount() != 1 {
		t.Errorf("expected a single dial, got %d", h.dialer.DialCount())
	}
}

func TestStreamDispatchesUpdateToKeySubscriber(t *testing.T) {
	h := newHarness(t)

	got := make(chan Event, 4)
	h.stream.Subscribe(model.ResourceKey{Name: "a", Namespace: "ns"}, func(ev Event) { got <- ev })

	other := make(chan Event, 4)
	h.stream.Subscribe(model.ResourceKey{Name: "b", Namespace: "ns"}, func(ev Event) { other <- ev })

	sock := h.start(t)
	sock.DeliverText(`{"type":"cluster_update","payload":{"cluster":{"metadata":{"name":"a","namespace":"ns"},"status":{"phase":"ready","version":"1.31"}}}}`)

	select {
	case ev := <-got:
		if ev.Type != EventUpdated {
			t.Errorf("expected update event, got %q", ev.Type)
		}
		if ev.Cluster == nil || ev.Cluster.Metadata.Name != "a" || ev.Cluster.Metadata.Namespace != "ns" {
			t.Errorf("unexpected snapshot: %+v", ev.Cluster)
		}
		if ev.Cluster.Status.Phase != model.ClusterPhaseReady || ev.Cluster.Status.Version != "1.31" {
			t.Errorf("snapshot not delivered verbatim: %+v", ev.Cluster.Status)
		}
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-other:
		t.Fatalf("subscriber for another key received %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamDispatchesTombstone(t *testing.T) {
	h := newHarness(t)

	got := make(chan Event, 4)
	h.stream.SubscribeAll(func(ev Event) { got <- ev })

	sock := h.start(t)
	sock.DeliverText(`{"type":"cluster_delete","payload":{"name":"a","namespace":"ns"}}`)

	select {
	case ev := <-got:
		if ev.Type != EventDeleted {
			t.Errorf("expected delete event, got %q", ev.Type)
		}
		if ev.Cluster != nil {
			t.Error("tombstones carry no snapshot")
		}
		if ev.Key != (model.ResourceKey{Name: "a", Namespace: "ns"}) {
			t.Errorf("unexpected key %+v", ev.Key)
		}
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
	}
}

func TestStreamRepliesToPing(t *testing.T) {
	h := newHarness(t)
	sock := h.start(t)

	sock.DeliverText(`{"type":"ping"}`)

	deadline := time.Now().Add(waitTimeout)
	for {
		writes := sock.Writes()
		if len(writes) == 1 {
			f, err := frame.Decode(writes[0])
			if err != nil {
				t.Fatalf("pong does not decode: %v", err)
			}
			if f.Type != frame.KindPong {
				t.Fatalf("expected pong, got %q", f.Type)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for pong")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamDropsUnknownFramesWithoutStateChange(t *testing.T) {
	h := newHarness(t)

	got := make(chan Event, 4)
	h.stream.SubscribeAll(func(ev Event) { got <- ev })

	sock := h.start(t)
	sock.DeliverText(`{"type":"node_update","payload":{}}`)
	sock.DeliverText(`{"type":"cluster_delete","payload":{"name":"z","namespace":"ns"}}`)

	select {
	case ev := <-got:
		if ev.Key.Name != "z" {
			t.Errorf("expected only the valid event, got %+v", ev)
		}
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for the valid event")
	}
	if h.stream.State() != conn.StateConnected {
		t.Errorf("unknown frames must not change state, got %q", h.stream.State())
	}
}

func TestStreamBackoffDelaySequence(t *testing.T) {
	h := newHarness(t)
	sock := h.start(t)

	// Five consecutive failed attempts: the first close schedules at
	// 1s, and each failed redial schedules the next step.
	sock.CloseServer()
	h.waitState(t, conn.StateDisconnected)
	h.waitDelays(t, 1)

	for i := 0; i < 4; i++ {
		h.dialer.QueueError(errors.New("connection refused"))
		if !h.sched.FireNext() {
			t.Fatalf("attempt %d: expected a pending reconnect", i+1)
		}
		h.waitState(t, conn.StateError)
		h.waitDelays(t, i+2)
	}

	// Fifth retry fails too; the budget is now exhausted.
	h.dialer.QueueError(errors.New("connection refused"))
	if !h.sched.FireNext() {
		t.Fatal("expected the fifth reconnect")
	}
	h.waitState(t, conn.StateError)
	time.Sleep(20 * time.Millisecond)

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	delays := h.sched.Delays()
	if len(delays) != len(want) {
		t.Fatalf("expected %d scheduled reconnects, got %d: %v", len(want), len(delays), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("attempt %d: expected delay %v, got %v", i+1, want[i], delays[i])
		}
	}

	if h.sched.PendingCount() != 0 {
		t.Error("no further attempt may be scheduled past the ceiling")
	}
}

func TestStreamAttemptResetsOnSuccessfulOpen(t *testing.T) {
	h := newHarness(t)
	sock := h.start(t)

	sock.CloseServer()
	h.waitState(t, conn.StateDisconnected)
	h.waitDelays(t, 1)
	if h.stream.Attempt() != 1 {
		t.Fatalf("expected attempt 1, got %d", h.stream.Attempt())
	}

	// The scheduled reconnect succeeds this time.
	if !h.sched.FireNext() {
		t.Fatal("expected a pending reconnect")
	}
	sock2, ok := h.dialer.WaitDial(waitTimeout)
	if !ok {
		t.Fatal("timed out waiting for redial")
	}
	h.waitState(t, conn.StateConnected)

	// The reset happens in the open handler, just after the state
	// notification.
	deadline := time.Now().Add(waitTimeout)
	for h.stream.Attempt() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected attempt reset to 0, got %d", h.stream.Attempt())
		}
		time.Sleep(2 * time.Millisecond)
	}

	// The next failure starts over at the base delay.
	sock2.CloseServer()
	h.waitState(t, conn.StateDisconnected)
	h.waitDelays(t, 2)

	delays := h.sched.Delays()
	if last := delays[len(delays)-1]; last != 1*time.Second {
		t.Errorf("expected base delay after reset, got %v", last)
	}
}

func TestStreamTwoClosesScheduleOneThenTwoSeconds(t *testing.T) {
	h := newHarness(t)
	sock := h.start(t)

	// Two closes in a row with no manual stop.
	sock.CloseServer()
	h.waitState(t, conn.StateDisconnected)
	h.waitDelays(t, 1)

	h.dialer.QueueError(errors.New("connection refused"))
	if !h.sched.FireNext() {
		t.Fatal("expected the first reconnect")
	}
	h.waitState(t, conn.StateError)
	h.waitDelays(t, 2)

	delays := h.sched.Delays()
	if len(delays) != 2 || delays[0] != 1*time.Second || delays[1] != 2*time.Second {
		t.Errorf("expected schedules of 1s then 2s, got %v", delays)
	}
}

func TestStreamStopCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t)
	sock := h.start(t)

	sock.CloseServer()
	h.waitState(t, conn.StateDisconnected)
	h.waitDelays(t, 1)
	if h.sched.PendingCount() != 1 {
		t.Fatalf("expected a pending reconnect, got %d", h.sched.PendingCount())
	}

	h.stream.Stop()

	if h.sched.PendingCount() != 0 {
		t.Error("stop must cancel the pending reconnect")
	}
	if h.sched.FireNext() {
		t.Error("no timer should remain armed after stop")
	}

	time.Sleep(50 * time.Millisecond)
	if h.dialer.DialCount() != 1 {
		t.Errorf("no socket may be opened after stop, got %d dials", h.dialer.DialCount())
	}
}

func TestStreamStopIsExemptFromBackoff(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.stream.Stop()

	if h.sched.PendingCount() != 0 {
		t.Error("a manual stop must not schedule a reconnect")
	}
	if h.stream.Attempt() != 0 {
		t.Errorf("a manual stop must not consume the retry budget, attempt=%d", h.stream.Attempt())
	}
}
