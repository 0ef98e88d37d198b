package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goodtune/sessionmeter/internal/storage"
)

type deviceStore struct {
	db *sql.DB
}

func (s *deviceStore) List(ctx context.Context) ([]storage.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, mb_per_minute
		FROM devices
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]storage.Device, 0)
	for rows.Next() {
		var device storage.Device
		if err := rows.Scan(&device.ID, &device.Name, &device.Status, &device.MBPerMinute); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

func (s *deviceStore) Get(ctx context.Context, id string) (*storage.Device, error) {
	var device storage.Device
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, mb_per_minute
		FROM devices
		WHERE id = ?
	`, id).Scan(&device.ID, &device.Name, &device.Status, &device.MBPerMinute)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &device, nil
}

func (s *deviceStore) UpdateStatus(ctx context.Context, id string, status storage.DeviceStatus) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE devices SET status = ? WHERE id = ?
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("update device status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *deviceStore) FirstAvailable(ctx context.Context) (*storage.Device, error) {
	var device storage.Device
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, mb_per_minute
		FROM devices
		WHERE status = ?
		ORDER BY id
		LIMIT 1
	`, string(storage.StatusAvailable)).Scan(&device.ID, &device.Name, &device.Status, &device.MBPerMinute)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("first available device: %w", err)
	}
	return &device, nil
}

func (s *deviceStore) Replace(ctx context.Context, devices []storage.Device) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace devices: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear devices: %w", err)
	}

	for _, device := range devices {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO devices (id, name, status, mb_per_minute)
			VALUES (?, ?, ?, ?)
		`, device.ID, device.Name, string(device.Status), device.MBPerMinute); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert device %s: %w", device.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace devices: %w", err)
	}
	return nil
}
