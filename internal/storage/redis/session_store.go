package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/sessionmeter/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
}

func (s *sessionStore) Insert(ctx context.Context, session storage.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, 0)
	pipe.SAdd(ctx, keySessions, session.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *sessionStore) Get(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session storage.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *sessionStore) Active(ctx context.Context) (*storage.Session, error) {
	ids, err := s.client.SMembers(ctx, keySessions).Result()
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}

	var active *storage.Session
	for _, id := range ids {
		session, err := s.Get(ctx, id)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}
		if session.EndedAt != nil {
			continue
		}
		if active == nil || session.StartedAt.After(active.StartedAt) {
			active = session
		}
	}
	if active == nil {
		return nil, storage.ErrNotFound
	}
	return active, nil
}

func (s *sessionStore) InsertSegment(ctx context.Context, segment storage.Segment) error {
	data, err := json.Marshal(segment)
	if err != nil {
		return fmt.Errorf("marshal segment: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, segmentKey(segment.ID), data, 0)
	pipe.RPush(ctx, sessionSegmentsKey(segment.SessionID), segment.ID)
	pipe.RPush(ctx, deviceSegmentsKey(segment.DeviceID), segment.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store segment: %w", err)
	}
	return nil
}

func (s *sessionStore) OpenSegment(ctx context.Context, sessionID string) (*storage.Segment, error) {
	segments, err := s.ListSegments(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var open *storage.Segment
	for i := range segments {
		segment := segments[i]
		if segment.EndedAt != nil {
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
	segment, err := s.getSegment(ctx, segmentID)
	if err != nil {
		return err
	}

	segment.EndedAt = &endedAt
	segment.MBUsed = &mbUsed

	data, err := json.Marshal(segment)
	if err != nil {
		return fmt.Errorf("marshal segment: %w", err)
	}
	if err := s.client.Set(ctx, segmentKey(segmentID), data, 0).Err(); err != nil {
		return fmt.Errorf("store segment: %w", err)
	}
	return nil
}

func (s *sessionStore) ListSegments(ctx context.Context, sessionID string) ([]storage.Segment, error) {
	return s.listSegmentList(ctx, sessionSegmentsKey(sessionID))
}

func (s *sessionStore) ListSegmentsByDevice(ctx context.Context, deviceID string) ([]storage.Segment, error) {
	return s.listSegmentList(ctx, deviceSegmentsKey(deviceID))
}

func (s *sessionStore) listSegmentList(ctx context.Context, listKey string) ([]storage.Segment, error) {
	ids, err := s.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list segment ids: %w", err)
	}

	// Lists preserve insertion order, which is start-time order for segments
	segments := make([]storage.Segment, 0, len(ids))
	for _, id := range ids {
		segment, err := s.getSegment(ctx, id)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}
		segments = append(segments, *segment)
	}
	return segments, nil
}

func (s *sessionStore) getSegment(ctx context.Context, id string) (*storage.Segment, error) {
	data, err := s.client.Get(ctx, segmentKey(id)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}

	var segment storage.Segment
	if err := json.Unmarshal(data, &segment); err != nil {
		return nil, fmt.Errorf("unmarshal segment: %w", err)
	}
	return &segment, nil
}

func (s *sessionStore) DeleteAll(ctx context.Context) error {
	sessionIDs, err := s.client.SMembers(ctx, keySessions).Result()
	if err != nil {
		return fmt.Errorf("list session ids: %w", err)
	}

	deviceIDs, err := s.client.SMembers(ctx, keyDevices).Result()
	if err != nil {
		return fmt.Errorf("list device ids: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range sessionIDs {
		segmentIDs, err := s.client.LRange(ctx, sessionSegmentsKey(id), 0, -1).Result()
		if err != nil {
			return fmt.Errorf("list segment ids: %w", err)
		}
		for _, segID := range segmentIDs {
			pipe.Del(ctx, segmentKey(segID))
		}
		pipe.Del(ctx, sessionSegmentsKey(id))
		pipe.Del(ctx, sessionKey(id))
	}
	for _, id := range deviceIDs {
		pipe.Del(ctx, deviceSegmentsKey(id))
	}
	pipe.Del(ctx, keySessions)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}
