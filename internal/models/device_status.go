// internal/models/device_status.go
package models

import "time"

// DeviceStatus 장치 연결 상태 이력 (최종 상태만 유지)
type DeviceStatus struct {
	ID             uint   `gorm:"primaryKey"`
	DeviceID       int    `gorm:"index"`
	IP             string `gorm:"uniqueIndex;size:64"`
	Name           string `gorm:"size:255"`
	State          string `gorm:"size:32;not null"`
	PreviousState  string `gorm:"size:32"`
	LastError      string `gorm:"type:text"`
	TransitionedAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (DeviceStatus) TableName() string {
	return "device_statuses"
}
