package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	rediskeys "attendance-relay/internal/common/redis"
	"attendance-relay/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// REDIS_TEST_ADDR points the tests at a disposable server, e.g. localhost:6379.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestRecentLogMirror(t *testing.T) {
	client := testClient(t)
	mirror := NewRecentLogMirror(client, time.Minute)
	ctx := context.Background()

	event := models.AttendanceEvent{DeviceID: 1, UserID: "7", Timestamp: time.Date(2024, 1, 1, 9, 0, 0, 0, time.Local), Status: 1}
	require.NoError(t, mirror.MirrorRecent(ctx, "10.0.0.21", "2024-01-01 09:00:01", event))

	logs, err := mirror.RecentLogs(ctx, "10.0.0.21")
	require.NoError(t, err)
	require.Contains(t, logs, "2024-01-01 09:00:01")
	assert.Equal(t, "7", logs["2024-01-01 09:00:01"].UserID)

	ttl, err := client.TTL(ctx, rediskeys.RecentLogs("10.0.0.21")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestStatusPublisher(t *testing.T) {
	client := testClient(t)
	pub := NewStatusPublisher(client)
	ctx := context.Background()

	d := models.Device{ID: 1, IP: "10.0.0.21", Name: "Front"}
	require.NoError(t, pub.RecordTransition(ctx, d, "Connecting", "Connection Failed", errors.New("i/o timeout")))

	raw, err := client.Get(ctx, rediskeys.DeviceStatus("10.0.0.21")).Result()
	require.NoError(t, err)
	assert.Contains(t, raw, `"state":"Connection Failed"`)
	assert.Contains(t, raw, `"error":"i/o timeout"`)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "recent_logs:10.0.0.21", rediskeys.RecentLogs("10.0.0.21"))
	assert.Equal(t, "device_status:10.0.0.21", rediskeys.DeviceStatus("10.0.0.21"))
}
