// Package registry owns every device record: identity, liveness, the
// single-slot command mailbox and the persisted task lists.
//
// All reads and writes of a device happen inside that device's critical
// section. Different devices never contend with each other.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"power-backend/internal/clock"
	apperrors "power-backend/internal/errors"
	"power-backend/internal/models"
)

const (
	DefaultHeartbeatTimeout = 60 * time.Second
	DefaultWakeFreshness    = 5 * time.Minute

	tokenBytes = 32
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

type entry struct {
	mu     sync.Mutex
	device *models.Device
	seq    uint64 // last event sequence number, guarded by mu
}

// Registry is the in-memory device store. Construct it with New and restore
// persisted state with Restore before serving requests.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	clock            clock.Clock
	heartbeatTimeout time.Duration
	wakeFreshness    time.Duration

	onChange func()
	onEvent  func(models.DeviceEvent)
}

// Option configures a Registry
type Option func(*Registry)

// WithClock sets the time source used for liveness and timestamps
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithHeartbeatTimeout sets how long a device stays online without a heartbeat
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.heartbeatTimeout = d
		}
	}
}

// WithWakeFreshness sets the window in which a powered-on report suppresses wake commands
func WithWakeFreshness(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.wakeFreshness = d
		}
	}
}

// WithChangeHook registers a callback invoked after every successful mutation.
// It runs outside any device lock and must not block.
func WithChangeHook(fn func()) Option {
	return func(r *Registry) { r.onChange = fn }
}

// WithEventHook registers a callback receiving device events.
// It runs outside any device lock and must not block. Events of concurrent
// updates to one device can arrive out of order; order them by Seq.
func WithEventHook(fn func(models.DeviceEvent)) Option {
	return func(r *Registry) { r.onEvent = fn }
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:          make(map[string]*entry),
		clock:            clock.Real(),
		heartbeatTimeout: DefaultHeartbeatTimeout,
		wakeFreshness:    DefaultWakeFreshness,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Clock returns the registry's time source
func (r *Registry) Clock() clock.Clock {
	return r.clock
}

// Tx is the per-device critical section handed to Update callbacks
type Tx struct {
	Device *models.Device
	Now    time.Time

	seq    *uint64
	events []models.DeviceEvent
}

// Emit buffers an event; it is published after the device lock is released
// and only if the callback succeeds.
func (tx *Tx) Emit(eventType models.EventType, kind models.TaskKind, source, detail string) {
	*tx.seq++
	tx.events = append(tx.events, models.DeviceEvent{
		Seq:       *tx.seq,
		Type:      eventType,
		DeviceID:  tx.Device.ID,
		Kind:      kind,
		Source:    source,
		Detail:    detail,
		Timestamp: tx.Now,
	})
}

// Register creates a device with a freshly minted token
func (r *Registry) Register(id, name string, deviceType models.DeviceType) (models.Device, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Device{}, apperrors.InvalidInput("device id is required")
	}
	if !validID.MatchString(id) {
		return models.Device{}, apperrors.InvalidInput("device id %q must be 1-64 letters, digits, '.', '_' or '-'", id)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = id
	}
	deviceType = models.DeviceType(strings.ToLower(strings.TrimSpace(string(deviceType))))
	if deviceType == "" {
		deviceType = models.DeviceTypeDesktop
	}

	token, err := generateToken()
	if err != nil {
		return models.Device{}, apperrors.Internal("failed to generate device token", err)
	}

	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return models.Device{}, apperrors.Conflict(id)
	}
	dev := &models.Device{
		ID:            id,
		Name:          name,
		Type:          deviceType,
		Token:         token,
		PowerState:    models.PowerStateUnknown,
		ShutdownTasks: []models.Task{},
		WakeupTasks:   []models.Task{},
	}
	r.entries[id] = &entry{device: dev, seq: 1}
	out := dev.Clone()
	r.mu.Unlock()

	log.Printf("Registry: Registered device %s (type=%s)", id, deviceType)

	r.publish([]models.DeviceEvent{{
		Type:      models.EventDeviceRegistered,
		DeviceID:  id,
		Source:    models.SourceAdmin,
		Detail:    string(deviceType),
		Timestamp: r.clock.Now(),
		Seq:       1,
	}})
	r.changed()
	return out, nil
}

// Get returns a copy of a device with liveness re-evaluated
func (r *Registry) Get(id string) (models.Device, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.Device{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	r.refreshLiveness(e.device, r.clock.Now())
	return e.device.Clone(), nil
}

// List returns copies of all devices, sorted by id, with liveness re-evaluated
func (r *Registry) List() []models.Device {
	now := r.clock.Now()
	devices := make([]models.Device, 0)
	for _, e := range r.sortedEntries() {
		e.mu.Lock()
		r.refreshLiveness(e.device, now)
		devices = append(devices, e.device.Clone())
		e.mu.Unlock()
	}
	return devices
}

// IDs returns every registered device id in sorted order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Update runs fn inside the device's critical section. On success the change
// hook fires and buffered events are published, both after the lock is
// released. Raw fields are not liveness-corrected before fn runs.
func (r *Registry) Update(id string, fn func(tx *Tx) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	tx := &Tx{Device: e.device, Now: r.clock.Now(), seq: &e.seq}
	err = fn(tx)
	e.mu.Unlock()

	if err != nil {
		return err
	}
	r.publish(tx.events)
	r.changed()
	return nil
}

// View runs fn inside the device's critical section without signalling a change
func (r *Registry) View(id string, fn func(d *models.Device) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.device)
}

// Snapshot deep-copies every device for persistence
func (r *Registry) Snapshot() models.Snapshot {
	entries := r.sortedEntries()
	snap := make(models.Snapshot, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		snap[e.device.ID] = e.device.Clone()
		e.mu.Unlock()
	}
	return snap
}

// Restore replaces the registry contents with a persisted snapshot and
// returns the number of devices loaded. Timers are not touched here.
func (r *Registry) Restore(snap models.Snapshot) int {
	entries := make(map[string]*entry, len(snap))
	for id, stored := range snap {
		dev := stored.Clone()
		dev.ID = id
		if dev.PowerState == "" {
			dev.PowerState = models.PowerStateUnknown
		}
		if dev.Type == "" {
			dev.Type = models.DeviceTypeDesktop
		}
		entries[id] = &entry{device: &dev}
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()

	log.Printf("Registry: Restored %d devices from snapshot", len(entries))
	return len(entries)
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound(fmt.Sprintf("device %s", id))
	}
	return e, nil
}

func (r *Registry) sortedEntries() []*entry {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	// device ids are immutable, so reading them without the entry lock is safe
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].device.ID < entries[j].device.ID
	})
	return entries
}

func (r *Registry) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

func (r *Registry) publish(events []models.DeviceEvent) {
	if r.onEvent == nil {
		return
	}
	for _, ev := range events {
		r.onEvent(ev)
	}
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
