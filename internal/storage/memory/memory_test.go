package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/sessionmeter/internal/storage"
)

func seedDevices(t *testing.T, store *Store) {
	t.Helper()

	devices := []storage.Device{
		{ID: "dev-a", Name: "Device A", Status: storage.StatusAvailable, MBPerMinute: 3},
		{ID: "dev-b", Name: "Device B", Status: storage.StatusBusy, MBPerMinute: 2},
		{ID: "dev-c", Name: "Device C", Status: storage.StatusAvailable, MBPerMinute: 4},
	}
	if err := store.Devices().Replace(context.Background(), devices); err != nil {
		t.Fatalf("failed to seed devices: %v", err)
	}
}

func TestDeviceStore(t *testing.T) {
	store := Open()
	defer store.Close()
	ctx := context.Background()

	seedDevices(t, store)

	devices, err := store.Devices().List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("device count = %d, want 3", len(devices))
	}
	// List is sorted by id
	if devices[0].ID != "dev-a" || devices[2].ID != "dev-c" {
		t.Errorf("List() order = %s..%s, want dev-a..dev-c", devices[0].ID, devices[2].ID)
	}

	device, err := store.Devices().Get(ctx, "dev-b")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if device.MBPerMinute != 2 || device.Status != storage.StatusBusy {
		t.Errorf("Get() = %+v", device)
	}

	if _, err := store.Devices().Get(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(nope) error = %v, want ErrNotFound", err)
	}

	if err := store.Devices().UpdateStatus(ctx, "dev-a", storage.StatusStopped); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := store.Devices().UpdateStatus(ctx, "nope", storage.StatusBusy); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateStatus(nope) error = %v, want ErrNotFound", err)
	}

	// dev-a stopped, dev-b busy: first available is dev-c
	available, err := store.Devices().FirstAvailable(ctx)
	if err != nil {
		t.Fatalf("FirstAvailable() error = %v", err)
	}
	if available.ID != "dev-c" {
		t.Errorf("FirstAvailable() = %s, want dev-c", available.ID)
	}

	if err := store.Devices().UpdateStatus(ctx, "dev-c", storage.StatusBusy); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if _, err := store.Devices().FirstAvailable(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("FirstAvailable() error = %v, want ErrNotFound", err)
	}
}

func TestSessionStore(t *testing.T) {
	store := Open()
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	if _, err := store.Sessions().Active(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Active() on empty store error = %v, want ErrNotFound", err)
	}

	ended := base.Add(-time.Hour)
	if err := store.Sessions().Insert(ctx, storage.Session{ID: "old", StartedAt: ended.Add(-time.Hour), EndedAt: &ended}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := store.Sessions().Insert(ctx, storage.Session{ID: "live", StartedAt: base}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	active, err := store.Sessions().Active(ctx)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if active.ID != "live" {
		t.Errorf("Active() = %s, want live", active.ID)
	}

	got, err := store.Sessions().Get(ctx, "old")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("Get(old).EndedAt = %v, want %v", got.EndedAt, ended)
	}

	segments := []storage.Segment{
		{ID: "seg1", SessionID: "live", DeviceID: "dev-a", StartedAt: base},
		{ID: "seg2", SessionID: "live", DeviceID: "dev-b", StartedAt: base.Add(5 * time.Minute)},
	}
	for _, segment := range segments {
		if err := store.Sessions().InsertSegment(ctx, segment); err != nil {
			t.Fatalf("InsertSegment() error = %v", err)
		}
	}

	open, err := store.Sessions().OpenSegment(ctx, "live")
	if err != nil {
		t.Fatalf("OpenSegment() error = %v", err)
	}
	if open.ID != "seg2" {
		t.Errorf("OpenSegment() = %s, want the most recent open segment seg2", open.ID)
	}

	closeAt := base.Add(10 * time.Minute)
	if err := store.Sessions().CloseSegment(ctx, "seg1", closeAt, 30); err != nil {
		t.Fatalf("CloseSegment() error = %v", err)
	}
	if err := store.Sessions().CloseSegment(ctx, "nope", closeAt, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("CloseSegment(nope) error = %v, want ErrNotFound", err)
	}

	listed, err := store.Sessions().ListSegments(ctx, "live")
	if err != nil {
		t.Fatalf("ListSegments() error = %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("segment count = %d, want 2", len(listed))
	}
	if listed[0].ID != "seg1" {
		t.Errorf("ListSegments() order starts with %s, want seg1", listed[0].ID)
	}
	if listed[0].MBUsed == nil || *listed[0].MBUsed != 30 {
		t.Errorf("closed segment mbUsed = %v, want 30", listed[0].MBUsed)
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
	remaining, err := store.Sessions().ListSegments(ctx, "live")
	if err != nil {
		t.Fatalf("ListSegments() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("segments after DeleteAll = %d, want 0", len(remaining))
	}
}

func TestStoresAreIsolated(t *testing.T) {
	first := Open()
	second := Open()
	ctx := context.Background()

	if err := first.Devices().Replace(ctx, []storage.Device{{ID: "dev-a", Status: storage.StatusAvailable}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	devices, err := second.Devices().List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("second store sees %d devices, want 0", len(devices))
	}
}
