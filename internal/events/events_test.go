package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestEventSubjectNaming(t *testing.T) {
	builder := NewBuilder("test-node")

	tests := []struct {
		event Event
		want  string
	}{
		{builder.CallReceived("call-123", "6505551234").Build(), "frontdesk.calls.call-123.received"},
		{builder.BargeIn("call-123", "", 2, 1), "frontdesk.calls.call-123.barge_in"},
		{builder.ScreeningFailed("call-123", "", MethodKeypad, 1, false), "frontdesk.calls.call-123.screening_failed"},
		{builder.CallEnded("a1b2@10.0.0.5", "").Build(), "frontdesk.calls.a1b2@10_0_0_5.ended"},
	}
	for _, tt := range tests {
		if got := tt.event.Subject(); got != tt.want {
			t.Errorf("Subject() = %q, want %q", got, tt.want)
		}
	}
}

func TestCallReceivedEventJSON(t *testing.T) {
	builder := NewBuilder("test-node")

	event := builder.CallReceived("call-123", "6505551234").
		Customer("John Smith").
		Blocked(false).
		Source("192.168.1.100").
		Codec("PCMU").
		UserAgent("Test/1.0").
		Build()

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	checks := map[string]string{
		"event_type": "call.received",
		"call_id":    "call-123",
		"caller":     "6505551234",
		"node_id":    "test-node",
		"customer":   "John Smith",
		"codec":      "PCMU",
	}
	for k, want := range checks {
		if got, ok := m[k].(string); !ok || got != want {
			t.Errorf("m[%q] = %v, want %q", k, m[k], want)
		}
	}
	if m["known"] != true {
		t.Errorf("known = %v, want true", m["known"])
	}
	if _, ok := m["event_id"].(string); !ok {
		t.Error("event_id missing")
	}
}

func TestCallEndedEventFields(t *testing.T) {
	event := NewBuilder("n").CallEnded("call-1", "6505551234").
		Reason("caller_hangup", "ACTIVE").
		Durations(42*time.Second, 45*time.Second).
		Counters(1, 2, 3, 0).
		AudioDropped(7).
		Build()

	if event.TalkDurationMs != 42000 || event.TotalDurationMs != 45000 {
		t.Errorf("durations = %d/%d", event.TalkDurationMs, event.TotalDurationMs)
	}
	if event.BargeIns != 2 || event.Lookups != 3 || event.ScreeningFailures != 1 {
		t.Errorf("counters = %+v", event)
	}
	if event.AudioDropped != 7 {
		t.Errorf("AudioDropped = %d, want 7", event.AudioDropped)
	}
	if event.Type() != CallEnded {
		t.Errorf("Type() = %v", event.Type())
	}
}

func TestCallTransferredResult(t *testing.T) {
	b := NewBuilder("n")

	ok := b.CallTransferred("c", "", "billing").Target("sip:103@pbx").Result(202, nil).Build()
	if !ok.Success || ok.Error != "" {
		t.Errorf("success event = %+v", ok)
	}

	failed := b.CallTransferred("c", "", "billing").Result(403, errors.New("forbidden")).Build()
	if failed.Success || failed.Error != "forbidden" || failed.SIPCode != 403 {
		t.Errorf("failure event = %+v", failed)
	}
}

func TestChannelPublisher(t *testing.T) {
	pub := NewChannelPublisher(2)
	b := NewBuilder("n")

	ctx := context.Background()
	_ = pub.Publish(ctx, b.BargeIn("c", "", 0, 0))
	pub.PublishAsync(b.BargeIn("c", "", 0, 0))
	pub.PublishAsync(b.BargeIn("c", "", 0, 0)) // dropped

	if got := pub.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount() = %d, want 1", got)
	}
	if err := pub.Close(); err != nil {
		t.Fatal(err)
	}
	n := 0
	for range pub.Events() {
		n++
	}
	if n != 2 {
		t.Errorf("received %d events, want 2", n)
	}
	// publishing after close is a no-op
	pub.PublishAsync(b.BargeIn("c", "", 0, 0))
}

func TestLoggingPublisherLogsOutcomes(t *testing.T) {
	var buf bytes.Buffer
	pub := NewLoggingPublisher(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	b := NewBuilder("n")

	pub.PublishAsync(b.BargeIn("c", "", 1, 0))
	if buf.Len() != 0 {
		t.Errorf("barge-in logged at info: %s", buf.String())
	}

	ended := b.CallEnded("call-9", "").Reason("caller_hangup", "ACTIVE").Build()
	if err := pub.Publish(context.Background(), ended); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Call ended", "call_id=call-9", "reason=caller_hangup", "last_state=ACTIVE"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}

type failingPublisher struct{ NoopPublisher }

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("down") }

func TestMultiPublisher(t *testing.T) {
	a := NewChannelPublisher(10)
	c := NewChannelPublisher(10)
	multi := NewMultiPublisher(a, &failingPublisher{}, c)

	ev := NewBuilder("n").Verified("call-1", "", MethodVoice, 0)
	if err := multi.Publish(context.Background(), ev); err == nil {
		t.Error("expected error from failing publisher")
	}
	multi.PublishAsync(ev)

	if len(a.Events()) != 2 || len(c.Events()) != 2 {
		t.Errorf("fan-out delivered %d/%d, want 2/2", len(a.Events()), len(c.Events()))
	}
	if err := multi.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// TestRedisPublisher_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisPublisher_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pub, err := NewRedisPublisher(ctx, RedisConfig{Addr: addr})
	if err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	defer pub.Close()

	sub := redis.NewClient(&redis.Options{Addr: addr})
	defer sub.Close()
	ps := sub.PSubscribe(ctx, PatternCallEnded)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pub.PublishAsync(NewBuilder("n").CallEnded("redis-call", "").Reason("caller_hangup", "ACTIVE").Build())
	if err := pub.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	msg, err := ps.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}
	if msg.Channel != "frontdesk.calls.redis-call.ended" {
		t.Errorf("channel = %q", msg.Channel)
	}
	var got CallEndedEvent
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
		t.Fatal(err)
	}
	if got.Reason != "caller_hangup" {
		t.Errorf("reason = %q", got.Reason)
	}
}
