package relay

import (
	"context"
	"encoding/json"
	"sync"
	"strconv"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	messages [][]byte
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, message.([]byte))
	return redis.NewIntResult(1, nil)
}

func TestRelayPublishesQueuedUpdates(t *testing.T) {
	pub := &fakePublisher{}
	r := newRelay(pub, "doorguard:updates", "json", nil)
	door := "front-door"
	if err := r.Sink("update info", map[string]any{"door": door, "clients": 1, "pending": 0}); err != nil {
		t.Fatalf("sink: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.messages) != 1 || pub.channels[0] != "doorguard:updates" {
		t.Fatalf("unexpected publishes: %v", pub.channels)
	}
	var msg struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(pub.messages[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Event != "update info" || msg.Data["door"] != door {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestRelayDropsWhenFull(t *testing.T) {
	r := newRelay(&fakePublisher{}, "c", "json", nil)
	for i := 0; i < cap(r.queue)+5; i++ {
		if err := r.Sink("update info", nil); err != nil {
			t.Fatalf("sink must not fail on a full queue: %v", err)
		}
	}
	if len(r.queue) != cap(r.queue) {
		t.Fatalf("expected full queue, got %d", len(r.queue))
	}
}

func TestRelayCBORFormat(t *testing.T) {
	pub := &fakePublisher{}
	r := newRelay(pub, "c", "cbor", nil)
	if err := r.Sink("update info", map[string]any{"clients": 2}); err != nil {
		t.Fatalf("sink: %v", err)
	}
	r.publish(<-r.queue)
	var msg struct {
		Event string         `cbor:"event"`
		Data  map[string]any `cbor:"data"`
	}
	if err := cbor.Unmarshal(pub.messages[0], &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Event != "update info" || msg.Data["clients"] != uint64(2) {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestCBOREncodingIsCanonical(t *testing.T) {
	data := map[string]any{}
	for i := 0; i < 32; i++ {
		data["door-"+strconv.Itoa(i)] = i
	}
	msg := message{Event: "update info", Data: data, At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	encode := encoderFor("cbor")
	first, err := encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for i := 0; i < 10; i++ {
		next, err := encode(msg)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if string(next) != string(first) {
			t.Fatalf("encoding %d differs from the first", i)
		}
	}
}
