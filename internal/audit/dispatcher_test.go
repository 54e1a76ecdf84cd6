package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func route(name string, sink Sink) []Route { return []Route{{Name: name, Sink: sink}} }

func TestDispatcherDeliversAndStamps(t *testing.T) {
	sink := NewChannelSink(4)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, route("log", sink), WithClock(func() time.Time { return at }))
	defer d.Close()

	d.Emit(context.Background(), Event{Type: SignInSucceeded, AccountID: "u1", Success: true})

	select {
	case ev := <-sink.Events():
		if ev.Type != SignInSucceeded || ev.AccountID != "u1" {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.ID == "" || !ev.Timestamp.Equal(at) {
			t.Fatalf("event was not stamped from the clock: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

type terminalKey struct{}

func TestDispatcherEnrichesFromContext(t *testing.T) {
	sink := NewChannelSink(4)
	enrich := func(ctx context.Context, ev *Event) {
		if ev.IP == "" {
			ev.IP, _ = ctx.Value(terminalKey{}).(string)
		}
	}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, route("log", sink), WithEnricher(enrich))

	ctx := context.WithValue(context.Background(), terminalKey{}, "192.0.2.10")
	d.Emit(ctx, Event{Type: LoggedOut})
	d.Emit(ctx, Event{Type: LoggedOut, IP: "198.51.100.1"})
	d.Close()

	first, second := <-sink.Events(), <-sink.Events()
	if first.IP != "192.0.2.10" {
		t.Fatalf("first IP = %q", first.IP)
	}
	if second.IP != "198.51.100.1" {
		t.Fatalf("explicit IP was overwritten: %q", second.IP)
	}
}

type blockingSink struct{ release chan struct{} }

func (s blockingSink) Emit(context.Context, Event) { <-s.release }

func TestDispatcherDropsPerRoute(t *testing.T) {
	slow := blockingSink{release: make(chan struct{})}
	fast := NewChannelSink(1)
	var hooked []string
	d := NewDispatcher(
		Config{Enabled: true, BufferSize: 4, DropIfFull: true},
		[]Route{{Name: "realtime", Sink: slow}, {Name: "log", Sink: fast}},
		OnDrop(func(name string) { hooked = append(hooked, name) }),
	)

	// The slow route holds at most one event in its worker and four in its
	// buffer. The log route keeps up because each event is read before the
	// next is emitted.
	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), Event{Type: SignInFailed})
		select {
		case <-fast.Events():
		case <-time.After(time.Second):
			t.Fatalf("log route stalled at event %d", i+1)
		}
	}
	close(slow.release)
	d.Close()

	by := d.DroppedBy()
	if by["log"] != 0 {
		t.Fatalf("log route dropped %d events", by["log"])
	}
	if by["realtime"] < 15 || by["realtime"] > 16 {
		t.Fatalf("realtime route dropped %d events, want 15 or 16", by["realtime"])
	}
	if d.Dropped() != by["realtime"] {
		t.Fatalf("Dropped() = %d, want %d", d.Dropped(), by["realtime"])
	}
	if len(hooked) != int(by["realtime"]) || hooked[0] != "realtime" {
		t.Fatalf("drop hook saw %v", hooked)
	}
}

func TestDispatcherBlockingEmitHonoursContext(t *testing.T) {
	slow := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, route("realtime", slow))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Fill the worker and the buffer, then a cancelled caller must not wait.
	for i := 0; i < 3; i++ {
		d.Emit(ctx, Event{Type: SignInFailed})
	}
	close(slow.release)
	d.Close()
	if d.Dropped() == 0 {
		t.Fatal("expected a cancelled emit to count a drop")
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	for _, d := range []*Dispatcher{
		NewDispatcher(Config{}, route("log", NoOpSink{})),
		NewDispatcher(Config{Enabled: true}, nil),
		NewDispatcher(Config{Enabled: true}, route("log", nil)),
	} {
		if d != nil {
			t.Fatal("expected nil dispatcher")
		}
		d.Emit(context.Background(), Event{Type: LoggedOut})
		d.Close()
		if d.Dropped() != 0 || d.DroppedBy() != nil {
			t.Fatal("nil dispatcher reported drops")
		}
	}
}

func TestCloseDrainsEveryRoute(t *testing.T) {
	var a, b bytes.Buffer
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8},
		[]Route{{Name: "a", Sink: NewJSONWriterSink(&a)}, {Name: "b", Sink: NewJSONWriterSink(&b)}})
	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{Type: PasswordReset, Success: true})
	}
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{Type: PasswordReset})

	for name, buf := range map[string]*bytes.Buffer{"a": &a, "b": &b} {
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 3 {
			t.Fatalf("route %s: got %d lines, want 3", name, len(lines))
		}
		var ev Event
		if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		if ev.Type != PasswordReset {
			t.Fatalf("type = %q", ev.Type)
		}
	}
}

func TestEmitRacingClose(t *testing.T) {
	sink := NewChannelSink(1024)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64, DropIfFull: true}, route("log", sink))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Emit(context.Background(), Event{Type: SignInFailed})
			}
		}()
	}
	d.Close()
	wg.Wait()
}
