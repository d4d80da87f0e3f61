package device

import (
	"context"
	"errors"
	"time"

	"attendance-relay/internal/models"

	"gorm.io/gorm"
)

// StatusManager 장치 연결 상태를 DB에 기록
type StatusManager struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStatusManager 새 상태 관리자 생성
func NewStatusManager(db *gorm.DB) *StatusManager {
	return &StatusManager{
		db:  db,
		now: time.Now,
	}
}

// RecordTransition upserts the device's row with its latest transition.
func (s *StatusManager) RecordTransition(ctx context.Context, device models.Device, from, to string, cause error) error {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	var existing models.DeviceStatus
	result := s.db.WithContext(ctx).Where("ip = ?", device.IP).First(&existing)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		// 새로 생성
		return s.db.WithContext(ctx).Create(&models.DeviceStatus{
			DeviceID:       device.ID,
			IP:             device.IP,
			Name:           device.Name,
			State:          to,
			PreviousState:  from,
			LastError:      lastError,
			TransitionedAt: s.now(),
		}).Error
	} else if result.Error != nil {
		return result.Error
	}

	// 기존 업데이트
	existing.DeviceID = device.ID
	existing.Name = device.Name
	existing.State = to
	existing.PreviousState = from
	existing.TransitionedAt = s.now()
	if lastError != "" {
		existing.LastError = lastError
	}
	return s.db.WithContext(ctx).Save(&existing).Error
}

// GetDeviceStatus 장치 상태 조회
func (s *StatusManager) GetDeviceStatus(ip string) (*models.DeviceStatus, error) {
	var status models.DeviceStatus
	if err := s.db.Where("ip = ?", ip).First(&status).Error; err != nil {
		return nil, err
	}
	return &status, nil
}

// ListDeviceStatuses returns every recorded device, ordered by ip.
func (s *StatusManager) ListDeviceStatuses() ([]models.DeviceStatus, error) {
	var statuses []models.DeviceStatus
	if err := s.db.Order("ip").Find(&statuses).Error; err != nil {
		return nil, err
	}
	return statuses, nil
}
