// Package memory provides an in-process storage backend. It exists for
// development and tests; every handle created by Open shares no state with
// any other, so each test gets an isolated world.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/sessionmeter/internal/storage"
)

// Store implements the storage.Store interface with in-process state.
type Store struct {
	state *state
}

type state struct {
	mu       sync.RWMutex
	devices  map[string]storage.Device
	sessions map[string]storage.Session
	segments []storage.Segment
}

// Open creates an empty in-memory store.
func Open() *Store {
	return &Store{
		state: &state{
			devices:  make(map[string]storage.Device),
			sessions: make(map[string]storage.Session),
		},
	}
}

// Close releases the store. It is a no-op for the memory backend.
func (s *Store) Close() error { return nil }

// Devices returns the device store.
func (s *Store) Devices() storage.DeviceStore { return &deviceStore{state: s.state} }

// Sessions returns the session store.
func (s *Store) Sessions() storage.SessionStore { return &sessionStore{state: s.state} }

type deviceStore struct {
	state *state
}

func (d *deviceStore) List(ctx context.Context) ([]storage.Device, error) {
	d.state.mu.RLock()
	defer d.state.mu.RUnlock()

	devices := make([]storage.Device, 0, len(d.state.devices))
	for _, device := range d.state.devices {
		devices = append(devices, device)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices, nil
}

func (d *deviceStore) Get(ctx context.Context, id string) (*storage.Device, error) {
	d.state.mu.RLock()
	defer d.state.mu.RUnlock()

	device, ok := d.state.devices[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &device, nil
}

func (d *deviceStore) UpdateStatus(ctx context.Context, id string, status storage.DeviceStatus) error {
	d.state.mu.Lock()
	defer d.state.mu.Unlock()

	device, ok := d.state.devices[id]
	if !ok {
		return storage.ErrNotFound
	}
	device.Status = status
	d.state.devices[id] = device
	return nil
}

func (d *deviceStore) FirstAvailable(ctx context.Context) (*storage.Device, error) {
	devices, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, device := range devices {
		if device.Status == storage.StatusAvailable {
			found := device
			return &found, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (d *deviceStore) Replace(ctx context.Context, devices []storage.Device) error {
	d.state.mu.Lock()
	defer d.state.mu.Unlock()

	d.state.devices = make(map[string]storage.Device, len(devices))
	for _, device := range devices {
		d.state.devices[device.ID] = device
	}
	return nil
}

type sessionStore struct {
	state *state
}

func (s *sessionStore) Insert(ctx context.Context, session storage.Session) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	s.state.sessions[session.ID] = session
	return nil
}

func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	session, ok := s.state.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &session, nil
}

func (s *sessionStore) Active(ctx context.Context) (*storage.Session, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	var active *storage.Session
	for id := range s.state.sessions {
		session := s.state.sessions[id]
		if session.EndedAt != nil {
			continue
		}
		if active == nil || session.StartedAt.After(active.StartedAt) {
			found := session
			active = &found
		}
	}
	if active == nil {
		return nil, storage.ErrNotFound
	}
	return active, nil
}

func (s *sessionStore) InsertSegment(ctx context.Context, segment storage.Segment) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	s.state.segments = append(s.state.segments, segment)
	return nil
}

func (s *sessionStore) OpenSegment(ctx context.Context, sessionID string) (*storage.Segment, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	var open *storage.Segment
	for i := range s.state.segments {
		segment := s.state.segments[i]
		if segment.SessionID != sessionID || segment.EndedAt != nil {
			continue
		}
		if open == nil || segment.StartedAt.After(open.StartedAt) {
			found := segment
			open = &found
		}
	}
	if open == nil {
		return nil, storage.ErrNotFound
	}
	return open, nil
}

func (s *sessionStore) CloseSegment(ctx context.Context, segmentID string, endedAt time.Time, mbUsed float64) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	for i := range s.state.segments {
		if s.state.segments[i].ID != segmentID {
			continue
		}
		ended := endedAt
		used := mbUsed
		s.state.segments[i].EndedAt = &ended
		s.state.segments[i].MBUsed = &used
		return nil
	}
	return storage.ErrNotFound
}

func (s *sessionStore) ListSegments(ctx context.Context, sessionID string) ([]storage.Segment, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	segments := make([]storage.Segment, 0)
	for _, segment := range s.state.segments {
		if segment.SessionID == sessionID {
			segments = append(segments, segment)
		}
	}
	sortSegments(segments)
	return segments, nil
}

func (s *sessionStore) ListSegmentsByDevice(ctx context.Context, deviceID string) ([]storage.Segment, error) {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	segments := make([]storage.Segment, 0)
	for _, segment := range s.state.segments {
		if segment.DeviceID == deviceID {
			segments = append(segments, segment)
		}
	}
	sortSegments(segments)
	return segments, nil
}

func (s *sessionStore) DeleteAll(ctx context.Context) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	s.state.sessions = make(map[string]storage.Session)
	s.state.segments = nil
	return nil
}

func sortSegments(segments []storage.Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].StartedAt.Before(segments[j].StartedAt)
	})
}
