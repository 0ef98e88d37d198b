package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage. It also
// signals the defined "none" outcomes: FirstAvailable with no available
// device, Active with no active session, OpenSegment with no open segment.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Devices() DeviceStore
	Sessions() SessionStore
}

// DeviceStore manages the device registry.
type DeviceStore interface {
	// List returns all devices in id order.
	List(ctx context.Context) ([]Device, error)

	// Get retrieves a device by id.
	Get(ctx context.Context, id string) (*Device, error)

	// UpdateStatus overwrites a device's status. Any status may follow any
	// other; transition legality is not checked.
	UpdateStatus(ctx context.Context, id string, status DeviceStatus) error

	// FirstAvailable returns the device with the lowest id whose status is
	// available, or ErrNotFound when none is.
	FirstAvailable(ctx context.Context) (*Device, error)

	// Replace swaps the entire registry for the given set.
	Replace(ctx context.Context, devices []Device) error
}

// SessionStore manages sessions and their segments.
type SessionStore interface {
	// Insert stores a new session.
	Insert(ctx context.Context, session Session) error

	// Get retrieves a session by id.
	Get(ctx context.Context, id string) (*Session, error)

	// Active returns the most recently started session with no end time, or
	// ErrNotFound when no session is active.
	Active(ctx context.Context) (*Session, error)

	// InsertSegment appends a segment to its session.
	InsertSegment(ctx context.Context, segment Segment) error

	// OpenSegment returns the session's most recently started segment with no
	// end time, or ErrNotFound when every segment is closed.
	OpenSegment(ctx context.Context, sessionID string) (*Segment, error)

	// CloseSegment sets a segment's end time and its final usage.
	CloseSegment(ctx context.Context, segmentID string, endedAt time.Time, mbUsed float64) error

	// ListSegments returns a session's segments in start-time order.
	ListSegments(ctx context.Context, sessionID string) ([]Segment, error)

	// ListSegmentsByDevice returns every segment ever recorded for a device,
	// across all sessions, in start-time order.
	ListSegmentsByDevice(ctx context.Context, deviceID string) ([]Segment, error)

	// DeleteAll removes all sessions and segments.
	DeleteAll(ctx context.Context) error
}
