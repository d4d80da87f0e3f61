package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"attendance-relay/internal/common/constants"
	rediskeys "attendance-relay/internal/common/redis"
	"attendance-relay/internal/config"
	"attendance-relay/internal/models"

	"github.com/go-redis/redis/v8"
)

func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// 연결 테스트
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// RecentLogMirror copies recent-log index entries into one hash per device.
type RecentLogMirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRecentLogMirror expires each device hash ttl after its last write; a
// zero ttl keeps it forever.
func NewRecentLogMirror(client *redis.Client, ttl time.Duration) *RecentLogMirror {
	return &RecentLogMirror{client: client, ttl: ttl}
}

func (m *RecentLogMirror) MirrorRecent(ctx context.Context, deviceKey, capturedAt string, event models.AttendanceEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	key := rediskeys.RecentLogs(deviceKey)
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, key, capturedAt, data)
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// RecentLogs reads a device hash back, keyed by capture time.
func (m *RecentLogMirror) RecentLogs(ctx context.Context, deviceKey string) (map[string]models.AttendanceEvent, error) {
	fields, err := m.client.HGetAll(ctx, rediskeys.RecentLogs(deviceKey)).Result()
	if err != nil {
		return nil, err
	}

	logs := make(map[string]models.AttendanceEvent, len(fields))
	for capturedAt, raw := range fields {
		var event models.AttendanceEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", deviceKey, capturedAt, err)
		}
		logs[capturedAt] = event
	}
	return logs, nil
}

// StatusPublisher keeps the current state of each device under
// device_status:<ip>.
type StatusPublisher struct {
	client *redis.Client
}

func NewStatusPublisher(client *redis.Client) *StatusPublisher {
	return &StatusPublisher{client: client}
}

type statusSnapshot struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	PreviousState string `json:"previous_state"`
	Error         string `json:"error,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

func (p *StatusPublisher) RecordTransition(ctx context.Context, device models.Device, from, to string, cause error) error {
	snap := statusSnapshot{
		Name:          device.Name,
		State:         to,
		PreviousState: from,
		UpdatedAt:     time.Now().Format(constants.TimestampLayout),
	}
	if cause != nil {
		snap.Error = cause.Error()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.client.Set(ctx, rediskeys.DeviceStatus(device.Key()), data, 0).Err()
}
