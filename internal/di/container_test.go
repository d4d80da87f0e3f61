package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"attendance-relay/internal/common/constants"
	"attendance-relay/internal/config"
	"attendance-relay/internal/driver"
	"attendance-relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedConn yields one batch, then idles.
type scriptedConn struct {
	mu    sync.Mutex
	batch []driver.Record
}

func (c *scriptedConn) CaptureNext(ctx context.Context, timeout time.Duration) ([]driver.Record, error) {
	c.mu.Lock()
	batch := c.batch
	c.batch = nil
	c.mu.Unlock()
	if batch != nil {
		return batch, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

func (c *scriptedConn) Close() error { return nil }

type scriptedDriver struct {
	conns map[string]*scriptedConn
}

func (d *scriptedDriver) Dial(ctx context.Context, target driver.Target) (driver.Conn, error) {
	return d.conns[target.IP], nil
}

func testConfig(t *testing.T, apiURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()

	devicesFile := filepath.Join(dir, "devices.json")
	require.NoError(t, os.WriteFile(devicesFile, []byte(`[
  // D1
  {"id": 1, "ip": "10.0.0.21", "name": "D1", "status": "Unknown", "password": 0}
]`), 0o600))

	return &config.Config{
		AttendanceAPIURL:  apiURL,
		DeliveryTransport: constants.TransportHTTP,
		DeliveryTimeout:   time.Second,
		DevicesFile:       devicesFile,
		DevicePort:        4370,
		ConnectTimeout:    time.Second,
		CaptureTimeout:    5 * time.Millisecond,
		IdleBackoff:       time.Millisecond,
		PollInterval:      time.Millisecond,
		ReconnectBackoff:  time.Millisecond,
		RecentLogLimit:    10,
		FailedLogsFile:    filepath.Join(dir, "logs", "failed_logs.json"),
		SweepInterval:     time.Hour,
	}
}

func TestOutageThenSweepDeliversOnce(t *testing.T) {
	var accepting atomic.Bool
	var received atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !accepting.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	conn := &scriptedConn{batch: []driver.Record{driver.AttendanceRecord(models.AttendanceEvent{
		DeviceID:  1,
		UserID:    "7",
		Timestamp: time.Date(2024, 1, 1, 9, 0, 0, 0, time.Local),
		Status:    1,
	})}}

	c, err := newContainer(testConfig(t, upstream.URL), &scriptedDriver{conns: map[string]*scriptedConn{"10.0.0.21": conn}})
	require.NoError(t, err)
	require.Len(t, c.Devices, 1)
	assert.Nil(t, c.APIServer, "API disabled without HTTP_ADDR")

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	require.Eventually(t, func() bool {
		pending, err := c.Store.Pending("10.0.0.21")
		return err == nil && len(pending) == 1
	}, 2*time.Second, 5*time.Millisecond)

	accepting.Store(true)
	results := c.Supervisor.Sweep(context.Background())
	assert.Equal(t, 1, results["10.0.0.21"].Delivered)
	assert.Equal(t, int32(1), received.Load())

	counts, err := c.Store.Counts()
	require.NoError(t, err)
	assert.NotContains(t, counts, "10.0.0.21")

	cancel()
	c.Shutdown(time.Second)

	sess, ok := c.Supervisor.Session("10.0.0.21")
	require.True(t, ok)
	assert.Equal(t, constants.DeviceStatusDisconnected, sess.Device().Status)
}

func TestMissingDevicesFileYieldsEmptyFleet(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/api/attendances")
	cfg.DevicesFile = filepath.Join(t.TempDir(), "absent.json")
	cfg.HTTPAddr = "127.0.0.1:0"

	c, err := newContainer(cfg, &scriptedDriver{})
	require.NoError(t, err)
	assert.Empty(t, c.Devices)
	assert.Empty(t, c.Supervisor.Sessions())
	assert.NotNil(t, c.APIServer)
	c.Cleanup()
}

func TestUnknownTransportFails(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/api/attendances")
	cfg.DeliveryTransport = "smoke-signals"

	_, err := newContainer(cfg, &scriptedDriver{})
	assert.Error(t, err)
}
