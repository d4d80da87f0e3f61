// internal/models/failed.go
package models

import (
	"time"

	"attendance-relay/internal/common/constants"
)

// FailedEventRecord 전송 실패 후 재시도 대기 중인 이벤트
type FailedEventRecord struct {
	LogTime string          `json:"log_time"`
	Log     AttendanceEvent `json:"log"`
}

// NewFailedEventRecord stamps an undelivered event with its capture time.
func NewFailedEventRecord(capturedAt time.Time, event AttendanceEvent) FailedEventRecord {
	return FailedEventRecord{
		LogTime: capturedAt.Format(constants.TimestampLayout),
		Log:     event,
	}
}

// FailedEventSnapshot is the persisted queue: device key -> pending records
// in enqueue order.
type FailedEventSnapshot map[string][]FailedEventRecord
