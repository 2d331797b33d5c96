// Package relay republishes detector broadcasts on a Redis channel so other
// processes can follow door state.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"doorguard/internal/config"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type message struct {
	Event string    `json:"event" cbor:"event"`
	Data  any       `json:"data" cbor:"data"`
	At    time.Time `json:"at" cbor:"at"`
}

// cborMode uses Core Deterministic Encoding: map keys are sorted and integers
// take their shortest form. Frames still differ between sends because At
// carries the publish time.
var cborMode cbor.EncMode

func init() {
	var err error
	cborMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("relay: CBOR encoder initialization failed: " + err.Error())
	}
}

func encoderFor(format string) func(any) ([]byte, error) {
	if format == "cbor" {
		return cborMode.Marshal
	}
	return json.Marshal
}

// Relay queues broadcasts and publishes them from its own goroutine.
type Relay struct {
	client  publisher
	closer  func() error
	channel string
	encode  func(any) ([]byte, error)
	queue   chan []byte
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// New connects to Redis and checks the connection with PING.
func New(ctx context.Context, cfg config.RelayConfig, logger *slog.Logger) (*Relay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	r := newRelay(client, cfg.Channel, cfg.Format, logger)
	r.closer = client.Close
	return r, nil
}

func newRelay(client publisher, channel, format string, logger *slog.Logger) *Relay {
	return &Relay{
		client:  client,
		channel: channel,
		encode:  encoderFor(format),
		queue:   make(chan []byte, 256),
		logger:  logger,
	}
}

// Sink satisfies detector.Sink. Frames are dropped when the queue is full.
func (r *Relay) Sink(event string, payload any) error {
	data, err := r.encode(message{Event: event, Data: payload, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	select {
	case r.queue <- data:
	default:
		if r.logger != nil {
			r.logger.Warn("relay queue full, dropping update", "channel", r.channel)
		}
	}
	return nil
}

// Start publishes queued updates until ctx is done, then drains the queue.
func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case data := <-r.queue:
				r.publish(data)
			case <-ctx.Done():
				for {
					select {
					case data := <-r.queue:
						r.publish(data)
					default:
						return
					}
				}
			}
		}
	}()
}

func (r *Relay) publish(data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil && r.logger != nil {
		r.logger.Warn("relay publish failed", "channel", r.channel, "err", err)
	}
}

// Close waits for the publisher to stop and closes the Redis client.
func (r *Relay) Close() error {
	r.wg.Wait()
	if r.closer != nil {
		return r.closer()
	}
	return nil
}
