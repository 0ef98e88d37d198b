package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/goodtune/sessionmeter/internal/storage"
	"github.com/redis/go-redis/v9"
)

type deviceStore struct {
	client *redis.Client
}

func (s *deviceStore) List(ctx context.Context) ([]storage.Device, error) {
	ids, err := s.client.SMembers(ctx, keyDevices).Result()
	if err != nil {
		return nil, fmt.Errorf("list device ids: %w", err)
	}
	sort.Strings(ids)

	devices := make([]storage.Device, 0, len(ids))
	for _, id := range ids {
		device, err := s.get(ctx, id)
		if err != nil {
			if err == storage.ErrNotFound {
				// Index entry without a record; skip
				continue
			}
			return nil, err
		}
		devices = append(devices, *device)
	}
	return devices, nil
}

func (s *deviceStore) Get(ctx context.Context, id string) (*storage.Device, error) {
	return s.get(ctx, id)
}

func (s *deviceStore) get(ctx context.Context, id string) (*storage.Device, error) {
	data, err := s.client.Get(ctx, deviceKey(id)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	var device storage.Device
	if err := json.Unmarshal(data, &device); err != nil {
		return nil, fmt.Errorf("unmarshal device: %w", err)
	}
	return &device, nil
}

func (s *deviceStore) UpdateStatus(ctx context.Context, id string, status storage.DeviceStatus) error {
	device, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	device.Status = status
	return s.put(ctx, *device)
}

func (s *deviceStore) FirstAvailable(ctx context.Context) (*storage.Device, error) {
	devices, err := s.List(ctx)
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

func (s *deviceStore) Replace(ctx context.Context, devices []storage.Device) error {
	ids, err := s.client.SMembers(ctx, keyDevices).Result()
	if err != nil {
		return fmt.Errorf("list device ids: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, deviceKey(id))
	}
	pipe.Del(ctx, keyDevices)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear devices: %w", err)
	}

	for _, device := range devices {
		if err := s.put(ctx, device); err != nil {
			return err
		}
	}
	return nil
}

func (s *deviceStore) put(ctx context.Context, device storage.Device) error {
	data, err := json.Marshal(device)
	if err != nil {
		return fmt.Errorf("marshal device: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, deviceKey(device.ID), data, 0)
	pipe.SAdd(ctx, keyDevices, device.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store device: %w", err)
	}
	return nil
}
