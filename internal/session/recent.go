package session

import (
	"context"
	"sync"
	"time"

	"attendance-relay/internal/common/constants"
	"attendance-relay/internal/models"
	"attendance-relay/internal/utils"
)

// Mirror receives a copy of every recent-log entry, e.g. for inspection from
// outside the process.
type Mirror interface {
	MirrorRecent(ctx context.Context, deviceKey, capturedAt string, event models.AttendanceEvent) error
}

const defaultMirrorTimeout = time.Second

// RecentLog is one index entry.
type RecentLog struct {
	CapturedAt string                 `json:"captured_at"`
	Event      models.AttendanceEvent `json:"event"`
}

// RecentLogIndex maps capture time to the last event seen, per device. It is
// a debugging aid only; losing it has no effect on delivery.
type RecentLogIndex struct {
	limit         int
	mirror        Mirror
	mirrorTimeout time.Duration

	mu         sync.Mutex
	partitions map[string]*recentPartition
}

type recentPartition struct {
	mu      sync.Mutex
	order   []string
	entries map[string]models.AttendanceEvent
}

// NewRecentLogIndex keeps at most limit capture times per device; limit <= 0
// means unbounded. mirror may be nil.
func NewRecentLogIndex(limit int, mirror Mirror) *RecentLogIndex {
	return &RecentLogIndex{
		limit:         limit,
		mirror:        mirror,
		mirrorTimeout: defaultMirrorTimeout,
		partitions:    make(map[string]*recentPartition),
	}
}

func (x *RecentLogIndex) partition(deviceKey string) *recentPartition {
	x.mu.Lock()
	defer x.mu.Unlock()

	p, ok := x.partitions[deviceKey]
	if !ok {
		p = &recentPartition{entries: make(map[string]models.AttendanceEvent)}
		x.partitions[deviceKey] = p
	}
	return p
}

// Record stores event under its capture time, replacing any earlier event
// captured in the same second. The mirror write gets at most mirrorTimeout.
func (x *RecentLogIndex) Record(ctx context.Context, deviceKey string, capturedAt time.Time, event models.AttendanceEvent) {
	key := capturedAt.Format(constants.TimestampLayout)
	p := x.partition(deviceKey)

	p.mu.Lock()
	if _, exists := p.entries[key]; !exists {
		p.order = append(p.order, key)
	}
	p.entries[key] = event
	for x.limit > 0 && len(p.order) > x.limit {
		delete(p.entries, p.order[0])
		p.order = p.order[1:]
	}
	p.mu.Unlock()

	if x.mirror != nil {
		mirrorCtx, cancel := context.WithTimeout(ctx, x.mirrorTimeout)
		defer cancel()
		if err := x.mirror.MirrorRecent(mirrorCtx, deviceKey, key, event); err != nil {
			utils.Logger.WithError(err).WithField("device", deviceKey).Warn("Recent log mirror failed")
		}
	}
}

// Snapshot returns the device's entries oldest first.
func (x *RecentLogIndex) Snapshot(deviceKey string) []RecentLog {
	p := x.partition(deviceKey)

	p.mu.Lock()
	defer p.mu.Unlock()

	logs := make([]RecentLog, 0, len(p.order))
	for _, key := range p.order {
		logs = append(logs, RecentLog{CapturedAt: key, Event: p.entries[key]})
	}
	return logs
}
