// internal/common/redis/keys.go
package redis

import "fmt"

// Redis Key Patterns
const (
	// Recent capture index, one hash per device (field = capture time)
	RecentLogsPattern = "recent_logs:%s"

	// Device status snapshot
	DeviceStatusPattern = "device_status:%s"
)

// RecentLogs 장치별 최근 로그 해시 키
func RecentLogs(deviceKey string) string {
	return fmt.Sprintf(RecentLogsPattern, deviceKey)
}

// DeviceStatus 장치 상태 키
func DeviceStatus(deviceKey string) string {
	return fmt.Sprintf(DeviceStatusPattern, deviceKey)
}
