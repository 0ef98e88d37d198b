// Package summary derives display-ready snapshots from the device registry
// and the session ledger. Nothing here is stored; every build recomputes
// against the wall clock, so open segments always report live usage.
package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/sessionmeter/internal/accounting"
	"github.com/goodtune/sessionmeter/internal/session"
	"github.com/goodtune/sessionmeter/internal/storage"
)

// fallbackMBPerMinute mirrors the coordinator's assumption for segments
// whose device record is gone.
const fallbackMBPerMinute = 2

// Payload is the full summary response: the registry, the active session
// with its segments, and the derived numbers.
type Payload struct {
	Devices []storage.Device `json:"devices"`
	Session *SessionView     `json:"session"`
	Summary Summary          `json:"summary"`
}

// SessionView is a session with its segments attached.
type SessionView struct {
	ID        string            `json:"id"`
	StartedAt time.Time         `json:"startedAt"`
	EndedAt   *time.Time        `json:"endedAt"`
	Segments  []storage.Segment `json:"segments"`
}

// Summary holds the derived totals for the active session.
type Summary struct {
	CurrentDeviceID  *string       `json:"currentDeviceId"`
	TotalDurationMin float64       `json:"totalDurationMin"`
	TotalMB          float64       `json:"totalMb"`
	PerDevice        []DeviceUsage `json:"perDevice"`
	LiveMBUsed       float64       `json:"liveMbUsed"`
}

// DeviceUsage is one device's accumulated share of the active session.
type DeviceUsage struct {
	DeviceID    string  `json:"deviceId"`
	Name        string  `json:"name"`
	DurationMin float64 `json:"durationMin"`
	MBUsed      float64 `json:"mbUsed"`
}

// Profile is the per-device view: lifetime totals, the most recent session
// that touched the device, and the live block when the device currently
// holds the open segment.
type Profile struct {
	Device         storage.Device  `json:"device"`
	TotalsTillNow  Totals          `json:"totalsTillNow"`
	LastSession    *LastSession    `json:"lastSession"`
	CurrentSession *CurrentSession `json:"currentSession"`
}

// Totals aggregates duration and usage.
type Totals struct {
	DurationMin float64 `json:"durationMin"`
	MBUsed      float64 `json:"mbUsed"`
}

// LastSession describes the most recent session that used a device.
type LastSession struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt"`
	DurationMin float64    `json:"durationMin"`
	MBUsed      float64    `json:"mbUsed"`
}

// CurrentSession describes a device's live participation in the active
// session.
type CurrentSession struct {
	SessionID        string    `json:"sessionId"`
	StartedAt        time.Time `json:"startedAt"`
	DurationSoFarMin float64   `json:"durationSoFarMin"`
	LiveMBUsed       float64   `json:"liveMbUsed"`
}

// Builder computes summaries and device profiles from a store.
type Builder struct {
	store storage.Store
	clock session.Clock
}

// NewBuilder creates a summary builder.
func NewBuilder(store storage.Store, clock session.Clock) *Builder {
	if clock == nil {
		clock = session.RealClock{}
	}
	return &Builder{store: store, clock: clock}
}

// Build assembles the summary payload for the active session, if any.
func (b *Builder) Build(ctx context.Context) (*Payload, error) {
	devices, err := b.store.Devices().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	active, err := b.store.Sessions().Active(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("find active session: %w", err)
	}

	var segments []storage.Segment
	var sessionView *SessionView
	if active != nil {
		segments, err = b.store.Sessions().ListSegments(ctx, active.ID)
		if err != nil {
			return nil, fmt.Errorf("list segments: %w", err)
		}
		sessionView = &SessionView{
			ID:        active.ID,
			StartedAt: active.StartedAt,
			EndedAt:   active.EndedAt,
			Segments:  segments,
		}
	}

	now := b.clock.Now()
	rates := make(map[string]float64, len(devices))
	names := make(map[string]string, len(devices))
	for _, device := range devices {
		rates[device.ID] = device.MBPerMinute
		names[device.ID] = device.Name
	}

	type accumulator struct {
		durationMin float64
		mbUsed      float64
	}
	perDevice := make(map[string]*accumulator, len(devices))
	for _, device := range devices {
		perDevice[device.ID] = &accumulator{}
	}

	var currentDeviceID *string
	var liveMBUsed float64

	for _, segment := range segments {
		rate, known := rates[segment.DeviceID]
		if !known {
			rate = fallbackMBPerMinute
		}

		end := now
		if segment.EndedAt != nil {
			end = *segment.EndedAt
		}
		durationMin := accounting.DurationMinutes(segment.StartedAt, end)

		mbUsed := accounting.EstimatedMB(durationMin, rate)
		if segment.MBUsed != nil {
			// Closed segments keep their frozen usage even if the rate changed
			mbUsed = *segment.MBUsed
		}

		if acc, ok := perDevice[segment.DeviceID]; ok {
			acc.durationMin += durationMin
			acc.mbUsed += mbUsed
		}

		if segment.Open() {
			id := segment.DeviceID
			currentDeviceID = &id
			liveMBUsed = accounting.EstimatedMB(durationMin, rate)
		}
	}

	var (
		usage            []DeviceUsage
		totalDurationMin float64
		totalMB          float64
	)
	for _, device := range devices {
		acc := perDevice[device.ID]
		if acc.durationMin <= 0 && acc.mbUsed <= 0 {
			continue
		}
		usage = append(usage, DeviceUsage{
			DeviceID:    device.ID,
			Name:        names[device.ID],
			DurationMin: accounting.Round2(acc.durationMin),
			MBUsed:      accounting.Round2(acc.mbUsed),
		})
		totalDurationMin += acc.durationMin
		totalMB += acc.mbUsed
	}
	if usage == nil {
		usage = []DeviceUsage{}
	}

	return &Payload{
		Devices: devices,
		Session: sessionView,
		Summary: Summary{
			CurrentDeviceID:  currentDeviceID,
			TotalDurationMin: accounting.Round2(totalDurationMin),
			TotalMB:          accounting.Round2(totalMB),
			PerDevice:        usage,
			LiveMBUsed:       liveMBUsed,
		},
	}, nil
}

// DeviceProfile assembles the profile for one device, or storage.ErrNotFound
// when the id is unknown.
func (b *Builder) DeviceProfile(ctx context.Context, deviceID string) (*Profile, error) {
	device, err := b.store.Devices().Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	segments, err := b.store.Sessions().ListSegmentsByDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list device segments: %w", err)
	}

	now := b.clock.Now()
	rate := device.MBPerMinute

	var totalDurationMin, totalMB float64
	for _, segment := range segments {
		durationMin, mbUsed := segmentUsage(segment, rate, now)
		totalDurationMin += durationMin
		totalMB += mbUsed
	}

	profile := &Profile{
		Device: *device,
		TotalsTillNow: Totals{
			DurationMin: accounting.Round2(totalDurationMin),
			MBUsed:      accounting.Round2(totalMB),
		},
	}

	profile.LastSession, err = b.lastSession(ctx, segments, rate, now)
	if err != nil {
		return nil, err
	}

	profile.CurrentSession, err = b.currentSession(ctx, deviceID, rate, now)
	if err != nil {
		return nil, err
	}

	return profile, nil
}

// lastSession finds the most recent session that touched the device, by the
// latest segment start time within each session. A strictly greater start
// wins, so ties keep the first session seen.
func (b *Builder) lastSession(ctx context.Context, segments []storage.Segment, rate float64, now time.Time) (*LastSession, error) {
	bySession := make(map[string][]storage.Segment)
	var lastID string
	var lastMaxStart time.Time
	for _, segment := range segments {
		bySession[segment.SessionID] = append(bySession[segment.SessionID], segment)
		if lastID == "" || segment.StartedAt.After(lastMaxStart) {
			lastID = segment.SessionID
			lastMaxStart = segment.StartedAt
		}
	}
	if lastID == "" {
		return nil, nil
	}

	sess, err := b.store.Sessions().Get(ctx, lastID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var durationMin, mbUsed float64
	for _, segment := range bySession[lastID] {
		d, m := segmentUsage(segment, rate, now)
		durationMin += d
		mbUsed += m
	}

	return &LastSession{
		ID:          sess.ID,
		StartedAt:   sess.StartedAt,
		EndedAt:     sess.EndedAt,
		DurationMin: accounting.Round2(durationMin),
		MBUsed:      accounting.Round2(mbUsed),
	}, nil
}

// currentSession reports the live block when the device holds the active
// session's open segment.
func (b *Builder) currentSession(ctx context.Context, deviceID string, rate float64, now time.Time) (*CurrentSession, error) {
	active, err := b.store.Sessions().Active(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}

	open, err := b.store.Sessions().OpenSegment(ctx, active.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open segment: %w", err)
	}
	if open.DeviceID != deviceID {
		return nil, nil
	}

	durationMin := accounting.DurationMinutes(open.StartedAt, now)
	return &CurrentSession{
		SessionID:        active.ID,
		StartedAt:        open.StartedAt,
		DurationSoFarMin: accounting.Round2(durationMin),
		LiveMBUsed:       accounting.EstimatedMB(durationMin, rate),
	}, nil
}

// segmentUsage computes one segment's duration and usage, preferring the
// frozen usage of closed segments.
func segmentUsage(segment storage.Segment, rate float64, now time.Time) (float64, float64) {
	end := now
	if segment.EndedAt != nil {
		end = *segment.EndedAt
	}
	durationMin := accounting.DurationMinutes(segment.StartedAt, end)
	if segment.MBUsed != nil {
		return durationMin, *segment.MBUsed
	}
	return durationMin, accounting.EstimatedMB(durationMin, rate)
}
