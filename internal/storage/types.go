package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DeviceStatus represents the allocation state of a device.
type DeviceStatus string

const (
	StatusAvailable DeviceStatus = "available"
	StatusBusy      DeviceStatus = "busy"
	StatusStopped   DeviceStatus = "stopped"
)

// UnmarshalJSON implements json.Unmarshaler to normalize status to lowercase.
func (s *DeviceStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	normalized := DeviceStatus(strings.ToLower(raw))

	switch normalized {
	case StatusAvailable, StatusBusy, StatusStopped:
		*s = normalized
		return nil
	default:
		return fmt.Errorf("invalid device status: %s (must be available, busy, or stopped)", raw)
	}
}

// MarshalJSON implements json.Marshaler to ensure lowercase output.
func (s DeviceStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// Device represents one of the interchangeable devices a session can use.
type Device struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Status      DeviceStatus `json:"status"`
	MBPerMinute float64      `json:"mbPerMinute"`
}

// Session represents a usage session. A session with a nil EndedAt is the
// active session; at most one may exist at a time.
type Session struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
}

// Active reports whether the session has not ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Segment represents one continuous interval during which a session used a
// single device. MBUsed is nil while the segment is open and fixed once the
// segment is closed.
type Segment struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	DeviceID  string     `json:"deviceId"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt"`
	MBUsed    *float64   `json:"mbUsed"`
}

// Open reports whether the segment has no end time.
func (s *Segment) Open() bool {
	return s.EndedAt == nil
}
