// Package session orchestrates the session lifecycle: starting a session on
// the first available device, stopping the current device with automatic
// failover to the next one, and resetting the world to its seed state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goodtune/sessionmeter/internal/accounting"
	"github.com/goodtune/sessionmeter/internal/metrics"
	"github.com/goodtune/sessionmeter/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// fallbackMBPerMinute is the rate assumed for segments whose device record no
// longer exists. Device references are weak; a reset can orphan a segment.
const fallbackMBPerMinute = 2

// StopResult describes the outcome of stopping the current device.
// Session is nil when no session was active; SwitchedTo is empty when no
// other device was available to take over.
type StopResult struct {
	Session    *storage.Session
	SwitchedTo string
}

// Coordinator serializes session operations against a single store. Store
// operations are not transactional; the mutex keeps concurrent API calls
// from observing "no active session" twice, but cross-process writers are
// still unguarded.
type Coordinator struct {
	store  storage.Store
	clock  Clock
	seed   []storage.Device
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewCoordinator creates a session coordinator. The seed set is what Reset
// restores the device registry to.
func NewCoordinator(store storage.Store, seed []storage.Device, clock Clock, logger zerolog.Logger) *Coordinator {
	if clock == nil {
		clock = RealClock{}
	}
	return &Coordinator{
		store:  store,
		clock:  clock,
		seed:   seed,
		logger: logger.With().Str("component", "coordinator").Logger(),
	}
}

// Seed returns a copy of the configured device seed.
func (c *Coordinator) Seed() []storage.Device {
	seed := make([]storage.Device, len(c.seed))
	copy(seed, c.seed)
	return seed
}

// Start begins a new session, or returns the active one unchanged. The new
// session opens a segment on the first available device; when no device is
// available the session is still created, with no segments.
func (c *Coordinator) Start(ctx context.Context) (*storage.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.store.Sessions().Active(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("find active session: %w", err)
	}

	now := c.clock.Now()
	session := storage.Session{
		ID:        uuid.New().String(),
		StartedAt: now,
	}
	if err := c.store.Sessions().Insert(ctx, session); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	metrics.SessionsStarted.Inc()

	device, err := c.store.Devices().FirstAvailable(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		c.logger.Warn().Str("session_id", session.ID).Msg("Session started with no available device")
		return &session, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pick available device: %w", err)
	}

	if err := c.openSegment(ctx, session.ID, device.ID); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("session_id", session.ID).
		Str("device_id", device.ID).
		Msg("Session started")

	return &session, nil
}

// Stop closes the active session's open segment, freezing its usage at the
// close instant, marks its device stopped, and switches to the next
// available device when there is one. Both "no active session" and "no open
// segment" are defined no-op outcomes, not errors.
func (c *Coordinator) Stop(ctx context.Context) (StopResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.store.Sessions().Active(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return StopResult{}, nil
	}
	if err != nil {
		return StopResult{}, fmt.Errorf("find active session: %w", err)
	}

	current, err := c.store.Sessions().OpenSegment(ctx, session.ID)
	if errors.Is(err, storage.ErrNotFound) {
		// Nothing is currently running
		return StopResult{Session: session}, nil
	}
	if err != nil {
		return StopResult{}, fmt.Errorf("find open segment: %w", err)
	}

	rate := float64(fallbackMBPerMinute)
	device, err := c.store.Devices().Get(ctx, current.DeviceID)
	if err == nil {
		rate = device.MBPerMinute
		if err := c.store.Devices().UpdateStatus(ctx, device.ID, storage.StatusStopped); err != nil {
			return StopResult{}, fmt.Errorf("mark device stopped: %w", err)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return StopResult{}, fmt.Errorf("get device: %w", err)
	}

	now := c.clock.Now()
	mbUsed := accounting.EstimatedMB(accounting.DurationMinutes(current.StartedAt, now), rate)
	if err := c.store.Sessions().CloseSegment(ctx, current.ID, now, mbUsed); err != nil {
		return StopResult{}, fmt.Errorf("close segment: %w", err)
	}
	metrics.DeviceStops.Inc()

	c.logger.Info().
		Str("session_id", session.ID).
		Str("device_id", current.DeviceID).
		Float64("mb_used", mbUsed).
		Msg("Device stopped")

	next, err := c.store.Devices().FirstAvailable(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		// No device available; the session remains with no open segment
		return StopResult{Session: session}, nil
	}
	if err != nil {
		return StopResult{}, fmt.Errorf("pick available device: %w", err)
	}

	if err := c.openSegment(ctx, session.ID, next.ID); err != nil {
		return StopResult{}, err
	}
	metrics.DeviceSwitches.Inc()

	c.logger.Info().
		Str("session_id", session.ID).
		Str("device_id", next.ID).
		Msg("Switched to next device")

	return StopResult{Session: session, SwitchedTo: next.ID}, nil
}

// Reset discards all sessions and segments and restores the device registry
// to the seed set. Fully destructive.
func (c *Coordinator) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Sessions().DeleteAll(ctx); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	if err := c.store.Devices().Replace(ctx, c.Seed()); err != nil {
		return fmt.Errorf("restore device seed: %w", err)
	}

	metrics.Resets.Inc()
	c.logger.Info().Int("devices", len(c.seed)).Msg("State reset to seed")
	return nil
}

// openSegment marks the device busy and then records the segment, in that
// order, so a device is never left allocatable while a segment points at it.
func (c *Coordinator) openSegment(ctx context.Context, sessionID, deviceID string) error {
	if err := c.store.Devices().UpdateStatus(ctx, deviceID, storage.StatusBusy); err != nil {
		return fmt.Errorf("mark device busy: %w", err)
	}
	segment := storage.Segment{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		DeviceID:  deviceID,
		StartedAt: c.clock.Now(),
	}
	if err := c.store.Sessions().InsertSegment(ctx, segment); err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}
