package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/goodtune/sessionmeter/internal/config"
	"github.com/goodtune/sessionmeter/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Host:         mr.Addr(), // Full address "host:port"
		Port:         0,         // Not used when host contains port
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestDeviceStore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	devices := []storage.Device{
		{ID: "dev-a", Name: "Device A", Status: storage.StatusAvailable, MBPerMinute: 3},
		{ID: "dev-b", Name: "Device B", Status: storage.StatusAvailable, MBPerMinute: 2},
		{ID: "dev-c", Name: "Device C", Status: storage.StatusAvailable, MBPerMinute: 4},
	}
	if err := store.Devices().Replace(ctx, devices); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	listed, err := store.Devices().List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("device count = %d, want 3", len(listed))
	}
	if listed[0].ID != "dev-a" || listed[1].ID != "dev-b" || listed[2].ID != "dev-c" {
		t.Errorf("List() not sorted by id: %+v", listed)
	}

	device, err := store.Devices().Get(ctx, "dev-b")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if device.Name != "Device B" || device.MBPerMinute != 2 {
		t.Errorf("Get() = %+v", device)
	}

	if err := store.Devices().UpdateStatus(ctx, "dev-a", storage.StatusStopped); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := store.Devices().UpdateStatus(ctx, "nope", storage.StatusBusy); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateStatus(nope) error = %v, want ErrNotFound", err)
	}

	available, err := store.Devices().FirstAvailable(ctx)
	if err != nil {
		t.Fatalf("FirstAvailable() error = %v", err)
	}
	if available.ID != "dev-b" {
		t.Errorf("FirstAvailable() = %s, want dev-b", available.ID)
	}
}

func TestSessionStore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	if _, err := store.Sessions().Active(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Active() on empty store error = %v, want ErrNotFound", err)
	}

	if err := store.Sessions().Insert(ctx, storage.Session{ID: "s1", StartedAt: base}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	active, err := store.Sessions().Active(ctx)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if active.ID != "s1" || !active.StartedAt.Equal(base) {
		t.Errorf("Active() = %+v", active)
	}

	segments := []storage.Segment{
		{ID: "seg1", SessionID: "s1", DeviceID: "dev-a", StartedAt: base},
		{ID: "seg2", SessionID: "s1", DeviceID: "dev-b", StartedAt: base.Add(5 * time.Minute)},
	}
	for _, segment := range segments {
		if err := store.Sessions().InsertSegment(ctx, segment); err != nil {
			t.Fatalf("InsertSegment() error = %v", err)
		}
	}

	closeAt := base.Add(5 * time.Minute)
	if err := store.Sessions().CloseSegment(ctx, "seg1", closeAt, 15); err != nil {
		t.Fatalf("CloseSegment() error = %v", err)
	}
	if err := store.Sessions().CloseSegment(ctx, "nope", closeAt, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("CloseSegment(nope) error = %v, want ErrNotFound", err)
	}

	open, err := store.Sessions().OpenSegment(ctx, "s1")
	if err != nil {
		t.Fatalf("OpenSegment() error = %v", err)
	}
	if open.ID != "seg2" {
		t.Errorf("OpenSegment() = %s, want seg2", open.ID)
	}

	listed, err := store.Sessions().ListSegments(ctx, "s1")
	if err != nil {
		t.Fatalf("ListSegments() error = %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("segment count = %d, want 2", len(listed))
	}
	// Insertion order is start order
	if listed[0].ID != "seg1" || listed[1].ID != "seg2" {
		t.Errorf("ListSegments() order = %s, %s", listed[0].ID, listed[1].ID)
	}
	if listed[0].MBUsed == nil || *listed[0].MBUsed != 15 {
		t.Errorf("closed segment mbUsed = %v, want 15", listed[0].MBUsed)
	}
	if listed[0].EndedAt == nil || !listed[0].EndedAt.Equal(closeAt) {
		t.Errorf("closed segment endedAt = %v, want %v", listed[0].EndedAt, closeAt)
	}

	byDevice, err := store.Sessions().ListSegmentsByDevice(ctx, "dev-b")
	if err != nil {
		t.Fatalf("ListSegmentsByDevice() error = %v", err)
	}
	if len(byDevice) != 1 || byDevice[0].ID != "seg2" {
		t.Errorf("ListSegmentsByDevice() = %+v, want seg2 only", byDevice)
	}

	if err := store.Sessions().DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	if _, err := store.Sessions().Active(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Active() after DeleteAll error = %v, want ErrNotFound", err)
	}
	remaining, err := store.Sessions().ListSegments(ctx, "s1")
	if err != nil {
		t.Fatalf("ListSegments() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("segments after DeleteAll = %d, want 0", len(remaining))
	}
}
