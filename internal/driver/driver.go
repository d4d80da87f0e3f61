// Package driver defines the contract between a device session and the
// terminal protocol implementation.
package driver

import (
	"context"
	"errors"
	"time"

	"attendance-relay/internal/models"
)

var ErrNotConnected = errors.New("driver: not connected")

// RecordKind tags a captured record.
type RecordKind int

const (
	KindUnknown RecordKind = iota
	KindAttendance
)

func (k RecordKind) String() string {
	if k == KindAttendance {
		return "attendance"
	}
	return "unknown"
}

// Record is one entry of a capture batch. Attendance is only meaningful when
// Kind is KindAttendance; unknown records carry the raw bytes and a reason.
type Record struct {
	Kind       RecordKind
	Attendance models.AttendanceEvent
	Raw        []byte
	Reason     string
}

func AttendanceRecord(event models.AttendanceEvent) Record {
	return Record{Kind: KindAttendance, Attendance: event}
}

func UnknownRecord(raw []byte, reason string) Record {
	return Record{Kind: KindUnknown, Raw: raw, Reason: reason}
}

// Target describes where and how to open a terminal session.
type Target struct {
	DeviceID int
	IP       string
	Port     int
	Password models.Credential
	Timeout  time.Duration
}

// Driver opens sessions to terminals.
type Driver interface {
	Dial(ctx context.Context, target Target) (Conn, error)
}

// Conn is an open terminal session.
type Conn interface {
	// CaptureNext blocks until the terminal pushes events or timeout elapses.
	// A timeout returns an empty batch and a nil error.
	CaptureNext(ctx context.Context, timeout time.Duration) ([]Record, error)
	Close() error
}
