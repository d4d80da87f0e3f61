// internal/models/attendance.go
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"attendance-relay/internal/common/constants"
)

// AttendanceEvent 단말기에서 캡처한 출결 이벤트 (생성 후 변경되지 않음)
type AttendanceEvent struct {
	DeviceID  int
	UserID    string
	Timestamp time.Time
	Status    int
	Punch     int
}

type attendanceEventJSON struct {
	DeviceID  int    `json:"device_id"`
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
	Status    int    `json:"status"`
	Punch     int    `json:"punch"`
}

func (e AttendanceEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(attendanceEventJSON{
		DeviceID:  e.DeviceID,
		UserID:    e.UserID,
		Timestamp: e.Timestamp.Format(constants.TimestampLayout),
		Status:    e.Status,
		Punch:     e.Punch,
	})
}

func (e *AttendanceEvent) UnmarshalJSON(data []byte) error {
	var raw attendanceEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	ts, err := time.ParseInLocation(constants.TimestampLayout, raw.Timestamp, time.Local)
	if err != nil {
		return fmt.Errorf("invalid event timestamp %q: %w", raw.Timestamp, err)
	}

	*e = AttendanceEvent{
		DeviceID:  raw.DeviceID,
		UserID:    raw.UserID,
		Timestamp: ts,
		Status:    raw.Status,
		Punch:     raw.Punch,
	}
	return nil
}

// FormattedTimestamp returns the event time in the upstream wire format.
func (e AttendanceEvent) FormattedTimestamp() string {
	return e.Timestamp.Format(constants.TimestampLayout)
}
