package audit

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

type panicSink struct{}

func (panicSink) Emit(context.Context, Event) {
	panic("sink exploded")
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{}, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "noop"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDropIfFullDoesNotBlock(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, nil)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	start := time.Now()
	d.Emit(context.Background(), Event{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestDispatcherBlocksUntilSpace(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink, nil)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), Event{EventType: "e1"})
	d.Emit(context.Background(), Event{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		d.Emit(context.Background(), Event{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestDispatcherRecoversPanickingSink(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, panicSink{}, zap.New(core))

	d.Emit(context.Background(), Event{EventType: "boom"})
	d.Close()

	if d.Dropped() != 1 {
		t.Fatalf("expected panicking delivery counted as dropped, got %d", d.Dropped())
	}
	if logs.FilterMessage("audit sink panicked").Len() != 1 {
		t.Fatal("expected sink panic to be logged")
	}
}

func TestDispatcherCloseDrainsAndIsIdempotent(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink, nil)

	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{EventType: "e"})
	}
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{EventType: "after-close"})

	if d.Delivered() != 3 {
		t.Fatalf("expected 3 delivered events, got %d", d.Delivered())
	}
	if len(sink.Events()) != 3 {
		t.Fatalf("expected 3 buffered events, got %d", len(sink.Events()))
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf lockedBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "login_success", UserID: "u1", Success: true})
	sink.Emit(context.Background(), Event{EventType: "logout", UserID: "u1", Success: true})

	out := buf.String()
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("expected two JSON lines, got %q", out)
	}
	if !strings.Contains(out, `"user_id":"u1"`) {
		t.Fatalf("expected user id in output, got %q", out)
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewZapSink(zap.New(core))

	sink.Emit(context.Background(), Event{EventType: "login_success", Success: true, UserID: "u1"})
	sink.Emit(context.Background(), Event{EventType: "refresh_reuse_detected", Error: "refresh_reuse", Metadata: map[string]string{"reason": "reuse"}})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels %v %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["meta.reason"] != "reuse" {
		t.Fatalf("expected metadata field, got %v", entries[1].ContextMap())
	}
}
