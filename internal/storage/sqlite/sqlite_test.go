package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/sessionmeter/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sessionmeter.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDeviceLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	devices := []storage.Device{
		{ID: "dev-a", Name: "Device A", Status: storage.StatusAvailable, MBPerMinute: 3},
		{ID: "dev-b", Name: "Device B", Status: storage.StatusAvailable, MBPerMinute: 2},
	}
	if err := store.Devices().Replace(ctx, devices); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	listed, err := store.Devices().List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("device count = %d, want 2", len(listed))
	}
	if listed[0].ID != "dev-a" || listed[0].MBPerMinute != 3 {
		t.Errorf("List()[0] = %+v", listed[0])
	}

	if err := store.Devices().UpdateStatus(ctx, "dev-a", storage.StatusBusy); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	available, err := store.Devices().FirstAvailable(ctx)
	if err != nil {
		t.Fatalf("FirstAvailable() error = %v", err)
	}
	if available.ID != "dev-b" {
		t.Errorf("FirstAvailable() = %s, want dev-b", available.ID)
	}

	if _, err := store.Devices().Get(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get(nope) error = %v, want ErrNotFound", err)
	}
	if err := store.Devices().UpdateStatus(ctx, "nope", storage.StatusBusy); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateStatus(nope) error = %v, want ErrNotFound", err)
	}

	// Replace discards previous rows entirely
	if err := store.Devices().Replace(ctx, devices[:1]); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	listed, err = store.Devices().List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 1 {
		t.Errorf("device count after replace = %d, want 1", len(listed))
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := openTestStore(t)
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

	if err := store.Sessions().InsertSegment(ctx, storage.Segment{
		ID: "seg1", SessionID: "s1", DeviceID: "dev-a", StartedAt: base,
	}); err != nil {
		t.Fatalf("InsertSegment() error = %v", err)
	}

	open, err := store.Sessions().OpenSegment(ctx, "s1")
	if err != nil {
		t.Fatalf("OpenSegment() error = %v", err)
	}
	if open.ID != "seg1" || open.EndedAt != nil || open.MBUsed != nil {
		t.Errorf("OpenSegment() = %+v", open)
	}

	closeAt := base.Add(10 * time.Minute)
	if err := store.Sessions().CloseSegment(ctx, "seg1", closeAt, 30); err != nil {
		t.Fatalf("CloseSegment() error = %v", err)
	}
	if err := store.Sessions().CloseSegment(ctx, "nope", closeAt, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("CloseSegment(nope) error = %v, want ErrNotFound", err)
	}

	if _, err := store.Sessions().OpenSegment(ctx, "s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("OpenSegment() after close error = %v, want ErrNotFound", err)
	}

	segments, err := store.Sessions().ListSegments(ctx, "s1")
	if err != nil {
		t.Fatalf("ListSegments() error = %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("segment count = %d, want 1", len(segments))
	}
	segment := segments[0]
	if segment.EndedAt == nil || !segment.EndedAt.Equal(closeAt) {
		t.Errorf("EndedAt = %v, want %v", segment.EndedAt, closeAt)
	}
	if segment.MBUsed == nil || *segment.MBUsed != 30 {
		t.Errorf("MBUsed = %v, want 30", segment.MBUsed)
	}

	byDevice, err := store.Sessions().ListSegmentsByDevice(ctx, "dev-a")
	if err != nil {
		t.Fatalf("ListSegmentsByDevice() error = %v", err)
	}
	if len(byDevice) != 1 {
		t.Errorf("segments by device = %d, want 1", len(byDevice))
	}

	if err := store.Sessions().DeleteAll(ctx); err != nil {
		t.Fatalf("DeleteAll() error = %v", err)
	}
	if _, err := store.Sessions().Active(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Active() after DeleteAll error = %v, want ErrNotFound", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessionmeter.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	ctx := context.Background()

	if err := store.Devices().Replace(ctx, []storage.Device{
		{ID: "dev-a", Name: "Device A", Status: storage.StatusBusy, MBPerMinute: 3},
	}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Migrations are versioned, so reopening is a no-op for the schema
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	device, err := reopened.Devices().Get(ctx, "dev-a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if device.Status != storage.StatusBusy || device.MBPerMinute != 3 {
		t.Errorf("Get() = %+v", device)
	}
}
