// Package detector composes the attempt ledger, the key registry and the
// client registry into the command and query surface used by transports.
//
// Every command that changes observable state calls the configured sink
// exactly once, synchronously, before it returns. Emission is serialized so
// observers receive snapshots in order.
package detector

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/zeebo/blake3"

	"doorguard/internal/clients"
	"doorguard/internal/config"
	"doorguard/internal/events"
	"doorguard/internal/keys"
	"doorguard/internal/ledger"
	"doorguard/internal/metrics"
	"doorguard/internal/model"
)

// EventUpdateInfo is the broadcast event name understood by the web front end.
const EventUpdateInfo = "update info"

const maxIDLength = 128

var (
	ErrNotFound        = keys.ErrNotFound
	ErrAlreadyTerminal = keys.ErrAlreadyTerminal
	ErrInvalidInput    = keys.ErrInvalidInput
)

// Sink receives every broadcast. It must not block; errors are dropped.
type Sink func(event string, payload any) error

// Auditor receives state-change events and key snapshots for persistence.
type Auditor interface {
	RecordEvent(ev model.Event)
	RecordKey(k model.Key)
}

type Option func(*Detector)

func WithSink(sink Sink) Option {
	return func(d *Detector) { d.sink = sink }
}

func WithEvents(store *events.Store) Option {
	return func(d *Detector) { d.events = store }
}

func WithMetrics(store *metrics.Store) Option {
	return func(d *Detector) { d.metrics = store }
}

func WithAudit(a Auditor) Option {
	return func(d *Detector) { d.audit = a }
}

func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

type Detector struct {
	logger  *slog.Logger
	cfg     atomic.Value
	access  atomic.Value
	ledger  *ledger.Ledger
	keys    *keys.Registry
	clients *clients.Registry
	events  *events.Store
	metrics *metrics.Store
	audit   Auditor
	deDupe  *DedupeCache
	now     func() time.Time

	// reconfigured wakes the sweeper so a new sweep interval applies at once.
	reconfigured chan struct{}

	sinkMu sync.RWMutex
	sink   Sink
	emitMu sync.Mutex
}

// CheckResult describes the outcome of a recorded attempt.
type CheckResult struct {
	Location  string     `json:"location"`
	Active    bool       `json:"active"`
	Activated bool       `json:"activated"`
	Trusted   bool       `json:"trusted,omitempty"`
	Duplicate bool       `json:"duplicate,omitempty"`
	Key       *model.Key `json:"key,omitempty"`
}

func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Detector {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	d := &Detector{
		logger:  logger,
		ledger:  ledger.New(policyFrom(cfg)),
		keys:    keys.NewRegistry(cfg.Keys.HashValues),
		clients: clients.NewRegistry(),
		deDupe:  NewDedupeCache(),
		now:     func() time.Time { return time.Now().UTC() },

		reconfigured: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.events == nil {
		d.events = events.NewStore(cfg.Events.StoreLimit)
	}
	if d.metrics == nil {
		d.metrics = metrics.NewStore(0)
	}
	d.keys.SetClock(d.now)
	d.cfg.Store(cfg)
	d.access.Store(buildAccessControl(cfg))
	return d
}

func policyFrom(cfg *config.Config) ledger.Policy {
	return ledger.Policy{
		Threshold: cfg.Detection.Threshold,
		Window:    cfg.Detection.Window,
		Mode:      ledger.ParseMode(cfg.Detection.WindowMode),
	}
}

// Configure wires the broadcast sink, replacing any previous one.
func (d *Detector) Configure(sink Sink) {
	d.sinkMu.Lock()
	d.sink = sink
	d.sinkMu.Unlock()
}

func (d *Detector) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	d.cfg.Store(cfg)
	d.access.Store(buildAccessControl(cfg))
	d.ledger.SetPolicy(policyFrom(cfg))
	d.keys.SetHashValues(cfg.Keys.HashValues)
	select {
	case d.reconfigured <- struct{}{}:
	default:
	}
}

func (d *Detector) config() *config.Config {
	if v := d.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (d *Detector) Events() *events.Store   { return d.events }
func (d *Detector) Metrics() *metrics.Store { return d.metrics }

// Start consumes attempts from ingest until ctx is done.
func (d *Detector) Start(ctx context.Context, in <-chan model.Attempt) {
	go func() {
		for {
			select {
			case att := <-in:
				if _, err := d.RecordAttempt(att); err != nil && d.logger != nil {
					d.logger.Debug("attempt ignored", "location", att.Location, "source", att.Source, "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StartSweeper runs Sweep on the configured interval until ctx is done. A
// changed sweep_interval takes effect on the next config update.
func (d *Detector) StartSweeper(ctx context.Context) {
	go func() {
		interval := d.sweepInterval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Sweep()
			case <-d.reconfigured:
				if next := d.sweepInterval(); next != interval {
					interval = next
					ticker.Reset(interval)
					if d.logger != nil {
						d.logger.Info("sweep interval changed", "interval", interval)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (d *Detector) sweepInterval() time.Duration {
	if interval := d.config().Detection.SweepInterval; interval > 0 {
		return interval
	}
	return 5 * time.Second
}

// ActivateCheck records an attempt of key against location.
func (d *Detector) ActivateCheck(location, key string) (CheckResult, error) {
	return d.RecordAttempt(model.Attempt{Location: location, Key: key, Source: "api"})
}

func (d *Detector) RecordAttempt(att model.Attempt) (CheckResult, error) {
	location, err := validateID(att.Location)
	if err != nil {
		return CheckResult{}, fmt.Errorf("location: %w", err)
	}
	key := strings.TrimSpace(att.Key)
	cfg := d.config()
	now := d.now()
	att.Timestamp = clampTimestamp(att.Timestamp, now, cfg.Detection.MaxClockSkew, cfg.Detection.MaxFutureSkew)
	res := CheckResult{Location: location}

	if d.isDuplicate(location, key, att.Timestamp, cfg.Detection.DedupeWindow) {
		res.Duplicate = true
		res.Active = d.ledger.IsActive(location)
		return res, nil
	}
	if ac := d.accessSet(); ac != nil && ac.Enabled && ac.IsTrusted(location, key) {
		if d.logger != nil {
			d.logger.Debug("trusted key attempt", "location", location, "source", att.Source)
		}
		res.Trusted = true
		res.Active = d.ledger.IsActive(location)
		return res, nil
	}

	res.Active, res.Activated = d.ledger.RecordAttempt(location, att.Timestamp)
	d.metrics.IncAttempt(location)

	var created bool
	if key != "" {
		k, isNew, err := d.keys.Submit(location, key)
		if err != nil {
			return res, err
		}
		created = isNew
		res.Key = &k
		if created {
			d.record(model.Event{Type: model.EventKeySubmitted, Location: location, KeyID: k.ID})
			if d.audit != nil {
				d.audit.RecordKey(k)
			}
		}
	}
	if res.Activated {
		d.metrics.IncActivation(location)
		if d.logger != nil {
			d.logger.Warn("brute force suspected",
				"location", location,
				"threshold", cfg.Detection.Threshold,
				"window", cfg.Detection.Window.String(),
				"source", att.Source,
			)
		}
		d.record(model.Event{
			Type:     model.EventLocationActivated,
			Location: location,
			Context:  map[string]string{"threshold": strconv.Itoa(cfg.Detection.Threshold), "source": att.Source},
		})
	}
	if res.Activated || created {
		d.broadcast()
	}
	return res, nil
}

// Deactivate clears the active flag of location. It reports whether the
// location was active.
func (d *Detector) Deactivate(location string) (bool, error) {
	location, err := validateID(location)
	if err != nil {
		return false, fmt.Errorf("location: %w", err)
	}
	if !d.ledger.Deactivate(location) {
		return false, nil
	}
	d.deactivated(location, "operator")
	d.broadcast()
	return true, nil
}

func (d *Detector) deactivated(location, reason string) {
	d.metrics.IncDeactivation(location)
	if d.logger != nil {
		d.logger.Info("location deactivated", "location", location, "reason", reason)
	}
	d.record(model.Event{
		Type:     model.EventLocationDeactivated,
		Location: location,
		Context:  map[string]string{"reason": reason},
	})
}

// Sweep deactivates locations idle for longer than the configured cooldown.
func (d *Detector) Sweep() []string {
	ids := d.ledger.Sweep(d.now(), d.config().Detection.Cooldown)
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		d.deactivated(id, "cooldown")
	}
	d.broadcast()
	return ids
}

func (d *Detector) Confirm(id string) (model.Key, error) {
	k, err := d.confirm(id)
	if err != nil {
		return k, err
	}
	d.broadcast()
	return k, nil
}

func (d *Detector) Reject(id string) (model.Key, error) {
	k, err := d.reject(id)
	if err != nil {
		return k, err
	}
	d.broadcast()
	return k, nil
}

// ConfirmKeys confirms each id independently and reports a result per id.
// One broadcast covers the whole batch.
func (d *Detector) ConfirmKeys(ids []string) []model.KeyResult {
	return d.batch(ids, d.confirm)
}

func (d *Detector) RejectKeys(ids []string) []model.KeyResult {
	return d.batch(ids, d.reject)
}

func (d *Detector) batch(ids []string, fn func(string) (model.Key, error)) []model.KeyResult {
	out := make([]model.KeyResult, 0, len(ids))
	changed := false
	for _, id := range ids {
		k, err := fn(id)
		res := model.KeyResult{ID: id}
		if err != nil {
			res.Error = ErrorKind(err)
			res.Status = k.Status
		} else {
			res.Status = k.Status
			changed = true
		}
		out = append(out, res)
	}
	if changed {
		d.broadcast()
	}
	return out
}

func (d *Detector) confirm(id string) (model.Key, error) {
	var wasActive bool
	// keys lock is held while the ledger is touched: keys before ledger.
	k, err := d.keys.Confirm(id, func(k model.Key) {
		wasActive = d.ledger.Deactivate(k.Location)
	})
	if err != nil {
		return k, err
	}
	d.metrics.IncConfirmed(k.Location)
	if d.logger != nil {
		d.logger.Info("key confirmed", "key_id", k.ID, "location", k.Location)
	}
	d.record(model.Event{Type: model.EventKeyConfirmed, Location: k.Location, KeyID: k.ID})
	if d.audit != nil {
		d.audit.RecordKey(k)
	}
	if wasActive {
		d.deactivated(k.Location, "key confirmed")
	}
	if d.config().Keys.PurgePendingOnConfirm {
		for _, p := range d.keys.PurgePending(k.Location, k.ID, "superseded by "+k.ID) {
			d.rejected(p)
		}
	}
	return k, nil
}

func (d *Detector) reject(id string) (model.Key, error) {
	k, err := d.keys.Reject(id, "operator")
	if err != nil {
		return k, err
	}
	d.rejected(k)
	return k, nil
}

func (d *Detector) rejected(k model.Key) {
	d.metrics.IncRejected(k.Location)
	if d.logger != nil {
		d.logger.Info("key rejected", "key_id", k.ID, "location", k.Location, "reason", k.Reason)
	}
	d.record(model.Event{
		Type:     model.EventKeyRejected,
		Location: k.Location,
		KeyID:    k.ID,
		Context:  map[string]string{"reason": k.Reason},
	})
	if d.audit != nil {
		d.audit.RecordKey(k)
	}
}

// OnConnect registers an observer session and returns the state it should
// display first.
func (d *Detector) OnConnect(sessionID, remoteAddr string) (model.UpdateInfo, error) {
	sessionID, err := validateID(sessionID)
	if err != nil {
		return model.UpdateInfo{}, fmt.Errorf("session: %w", err)
	}
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	added := d.clients.Connect(model.Client{ID: sessionID, ConnectedAt: d.now(), RemoteAddr: remoteAddr})
	state := d.snapshot()
	if added {
		d.record(model.Event{Type: model.EventClientConnected, SessionID: sessionID})
		d.emitLocked(state)
	}
	return state, nil
}

// OnDisconnect removes an observer session; unknown sessions are ignored.
func (d *Detector) OnDisconnect(sessionID string) {
	if !d.clients.Disconnect(sessionID) {
		return
	}
	d.record(model.Event{Type: model.EventClientDisconnected, SessionID: sessionID})
	d.broadcast()
}

func (d *Detector) GetActiveLocation() (string, bool) {
	return d.ledger.ActiveLocation()
}

func (d *Detector) ActiveLocations() []string {
	return d.ledger.ActiveLocations()
}

func (d *Detector) GetClientCount() int {
	return d.clients.Count()
}

func (d *Detector) Clients() []model.Client {
	return d.clients.List()
}

func (d *Detector) ListKeys(pendingOnly bool) []model.Key {
	if pendingOnly {
		return d.keys.List(keys.Pending)
	}
	return d.keys.List(keys.All)
}

func (d *Detector) Key(id string) (model.Key, bool) {
	return d.keys.Get(id)
}

func (d *Detector) Locations() []model.Location {
	return d.ledger.Locations()
}

func (d *Detector) Location(id string) (model.Location, bool) {
	return d.ledger.Get(id)
}

// State returns the current broadcast payload without emitting it.
func (d *Detector) State() model.UpdateInfo {
	return d.snapshot()
}

// Reset drops attempt, key and event state. Connected observers are kept.
func (d *Detector) Reset() {
	d.ledger.Reset()
	d.keys.Reset()
	d.events.Clear()
	d.metrics.Clear()
	d.deDupe.Reset()
	d.broadcast()
}

func (d *Detector) snapshot() model.UpdateInfo {
	pending := d.keys.PendingCount()
	info := model.UpdateInfo{Pending: pending}
	if id, ok := d.ledger.ActiveLocation(); ok {
		info.Door = &id
	}
	info.Clients = d.clients.Count()
	return info
}

func (d *Detector) broadcast() {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.emitLocked(d.snapshot())
}

func (d *Detector) emitLocked(state model.UpdateInfo) {
	d.sinkMu.RLock()
	sink := d.sink
	d.sinkMu.RUnlock()
	if sink == nil {
		return
	}
	d.metrics.IncBroadcast()
	defer func() {
		if r := recover(); r != nil && d.logger != nil {
			d.logger.Error("broadcast sink panic", "panic", fmt.Sprint(r))
		}
	}()
	if err := sink(EventUpdateInfo, state); err != nil && d.logger != nil {
		d.logger.Debug("broadcast sink error", "err", err)
	}
}

func (d *Detector) record(ev model.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now()
	}
	d.events.Add(ev)
	if d.audit != nil {
		d.audit.RecordEvent(ev)
	}
}

func (d *Detector) accessSet() *AccessControlSet {
	if v := d.access.Load(); v != nil {
		if ac, ok := v.(*AccessControlSet); ok {
			return ac
		}
	}
	return nil
}

func (d *Detector) isDuplicate(location, key string, ts time.Time, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	return d.deDupe.Seen(hashAttempt(location, key, ts), d.now(), window)
}

func hashAttempt(location, key string, ts time.Time) string {
	parts := []string{location, key, ts.UTC().Format(time.RFC3339Nano)}
	h := blake3.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

func validateID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxIDLength {
		return "", ErrInvalidInput
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return "", ErrInvalidInput
		}
	}
	return id, nil
}

func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 && now.Sub(ts) > maxPast {
		return now
	}
	if maxFuture > 0 && ts.Sub(now) > maxFuture {
		return now
	}
	return ts
}
