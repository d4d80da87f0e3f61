package constants

// Device connection states. These are also the state names of the session
// state machine.
const (
	DeviceStatusUnknown          = "Unknown"
	DeviceStatusConnecting       = "Connecting"
	DeviceStatusConnected        = "Connected"
	DeviceStatusConnectionFailed = "Connection Failed"
	DeviceStatusDisconnected     = "Disconnected"
)

// Session state machine events
const (
	SessionEventDial        = "dial"
	SessionEventEstablished = "established"
	SessionEventFail        = "fail"
	SessionEventReset       = "reset"
	SessionEventClose       = "close"
)

// TimestampLayout is the wire and persistence format for event and capture
// times (YYYY-MM-DD HH:MM:SS, device-local).
const TimestampLayout = "2006-01-02 15:04:05"

// Delivery transport names
const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)

// IsValidDeviceStatus 유효한 장치 상태인지 확인
func IsValidDeviceStatus(status string) bool {
	validStates := []string{
		DeviceStatusUnknown,
		DeviceStatusConnecting,
		DeviceStatusConnected,
		DeviceStatusConnectionFailed,
		DeviceStatusDisconnected,
	}
	for _, s := range validStates {
		if status == s {
			return true
		}
	}
	return false
}

// NormalizeDeviceStatus maps a configured status onto a known state.
func NormalizeDeviceStatus(status string) string {
	if IsValidDeviceStatus(status) {
		return status
	}
	return DeviceStatusUnknown
}
