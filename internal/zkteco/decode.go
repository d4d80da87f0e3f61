package zkteco

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"attendance-relay/internal/driver"
	"attendance-relay/internal/models"
)

// eventLayout describes one of the real-time attendance payload shapes.
// Firmware variants differ in user id width and trailing padding.
type eventLayout struct {
	size       int
	userIDSize int
}

var (
	layoutShort   = eventLayout{size: 10, userIDSize: 2}
	layoutWideID  = eventLayout{size: 12, userIDSize: 4}
	layoutPadded  = eventLayout{size: 14, userIDSize: 2}
	layoutText    = eventLayout{size: 32, userIDSize: 24}
	layoutText36  = eventLayout{size: 36, userIDSize: 24}
	layoutText37  = eventLayout{size: 37, userIDSize: 24}
	layoutText52  = eventLayout{size: 52, userIDSize: 24}
	minEventBytes = layoutShort.size
)

func selectLayout(remaining int) (eventLayout, bool) {
	switch {
	case remaining == layoutShort.size:
		return layoutShort, true
	case remaining == layoutWideID.size:
		return layoutWideID, true
	case remaining == layoutPadded.size:
		return layoutPadded, true
	case remaining == layoutText.size:
		return layoutText, true
	case remaining == layoutText36.size:
		return layoutText36, true
	case remaining == layoutText37.size:
		return layoutText37, true
	case remaining >= layoutText52.size:
		return layoutText52, true
	}
	return eventLayout{}, false
}

// decodeEvents splits a CMD_REG_EVENT payload into records. Entries that
// cannot be decoded become unknown records instead of failing the batch.
func decodeEvents(deviceID int, data []byte) []driver.Record {
	var records []driver.Record

	for len(data) >= minEventBytes {
		layout, ok := selectLayout(len(data))
		if !ok {
			records = append(records, driver.UnknownRecord(data, fmt.Sprintf("unsupported event length %d", len(data))))
			return records
		}

		chunk := data[:layout.size]
		data = data[layout.size:]

		event, err := decodeEvent(deviceID, chunk, layout)
		if err != nil {
			records = append(records, driver.UnknownRecord(chunk, err.Error()))
			continue
		}
		records = append(records, driver.AttendanceRecord(event))
	}

	if len(data) > 0 {
		records = append(records, driver.UnknownRecord(data, fmt.Sprintf("trailing %d bytes", len(data))))
	}
	return records
}

func decodeEvent(deviceID int, chunk []byte, layout eventLayout) (models.AttendanceEvent, error) {
	var userID string
	switch layout.userIDSize {
	case 2:
		userID = strconv.Itoa(int(binary.LittleEndian.Uint16(chunk)))
	case 4:
		userID = strconv.FormatUint(uint64(binary.LittleEndian.Uint32(chunk)), 10)
	default:
		raw := chunk[:layout.userIDSize]
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		userID = string(raw)
	}
	if userID == "" {
		return models.AttendanceEvent{}, fmt.Errorf("empty user id")
	}

	rest := chunk[layout.userIDSize:]
	status := int(rest[0])
	punch := int(rest[1])

	timestamp, err := decodeTime(rest[2:8])
	if err != nil {
		return models.AttendanceEvent{}, err
	}

	return models.AttendanceEvent{
		DeviceID:  deviceID,
		UserID:    userID,
		Timestamp: timestamp,
		Status:    status,
		Punch:     punch,
	}, nil
}

// decodeTime reads the six-byte y/m/d h:m:s form (year offset from 2000).
func decodeTime(b []byte) (time.Time, error) {
	year := 2000 + int(b[0])
	month, day := int(b[1]), int(b[2])
	hour, minute, second := int(b[3]), int(b[4]), int(b[5])

	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("invalid event time % x", b)
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf("invalid event date %04d-%02d-%02d", year, month, day)
	}
	return t, nil
}
