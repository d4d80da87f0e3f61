// Package store keeps attendance events that could not be delivered in a
// single JSON file, partitioned by device, until a retry sweep succeeds.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"attendance-relay/internal/models"
)

var ErrCorruptSnapshot = errors.New("store: corrupt failed-event snapshot")

// DeliverFunc attempts one redelivery. A nil error removes the record.
type DeliverFunc func(ctx context.Context, event models.AttendanceEvent) error

// DrainResult summarises one DrainAndRetry pass.
type DrainResult struct {
	Attempted int
	Delivered int
	Remaining int
}

// FailedEventStore is safe for concurrent use. fileMu serialises every
// read-modify-write of the snapshot file; a per-device lock serialises drains
// of the same partition. Deliveries run without fileMu held, so enqueues from
// other capture loops are never blocked behind network I/O.
type FailedEventStore struct {
	path string

	fileMu sync.Mutex

	drainMu    sync.Mutex
	drainLocks map[string]*sync.Mutex
}

func NewFailedEventStore(path string) (*FailedEventStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FailedEventStore{
		path:       path,
		drainLocks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *FailedEventStore) Path() string {
	return s.path
}

// Enqueue appends record to the device's pending list and persists the store.
// A corrupt snapshot is left untouched and reported.
func (s *FailedEventStore) Enqueue(deviceKey string, record models.FailedEventRecord) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	snapshot, err := s.load()
	if err != nil {
		return err
	}

	snapshot[deviceKey] = append(snapshot[deviceKey], record)
	return s.save(snapshot)
}

// DrainAndRetry redelivers the device's pending records in enqueue order.
// Delivered records are removed; the rest keep their relative order. Records
// enqueued while the drain is delivering are kept after the survivors. With
// nothing pending, or nothing delivered, the file is not rewritten.
func (s *FailedEventStore) DrainAndRetry(ctx context.Context, deviceKey string, deliver DeliverFunc) (DrainResult, error) {
	lock := s.drainLock(deviceKey)
	lock.Lock()
	defer lock.Unlock()

	s.fileMu.Lock()
	snapshot, err := s.load()
	s.fileMu.Unlock()
	if err != nil {
		return DrainResult{}, err
	}

	pending := snapshot[deviceKey]
	if len(pending) == 0 {
		return DrainResult{}, nil
	}

	var result DrainResult
	kept := make([]models.FailedEventRecord, 0, len(pending))
	for i, record := range pending {
		if ctx.Err() != nil {
			kept = append(kept, pending[i:]...)
			break
		}
		result.Attempted++
		if err := deliver(ctx, record.Log); err != nil {
			kept = append(kept, record)
			continue
		}
		result.Delivered++
	}

	if result.Delivered == 0 {
		result.Remaining = len(pending)
		return result, nil
	}

	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	current, err := s.load()
	if err != nil {
		return result, err
	}

	// Only this drain removes from the partition, so the first len(pending)
	// entries are still the ones loaded above.
	var appended []models.FailedEventRecord
	if tail := current[deviceKey]; len(tail) > len(pending) {
		appended = tail[len(pending):]
	}

	merged := append(kept, appended...)
	if len(merged) == 0 {
		delete(current, deviceKey)
	} else {
		current[deviceKey] = merged
	}
	result.Remaining = len(merged)

	if err := s.save(current); err != nil {
		return result, err
	}
	return result, nil
}

// Pending returns a copy of the device's pending records.
func (s *FailedEventStore) Pending(deviceKey string) ([]models.FailedEventRecord, error) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	snapshot, err := s.load()
	if err != nil {
		return nil, err
	}
	return append([]models.FailedEventRecord(nil), snapshot[deviceKey]...), nil
}

// Counts returns the number of pending records per device.
func (s *FailedEventStore) Counts() (map[string]int, error) {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	snapshot, err := s.load()
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(snapshot))
	for key, records := range snapshot {
		counts[key] = len(records)
	}
	return counts, nil
}

func (s *FailedEventStore) drainLock(deviceKey string) *sync.Mutex {
	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	lock, ok := s.drainLocks[deviceKey]
	if !ok {
		lock = &sync.Mutex{}
		s.drainLocks[deviceKey] = lock
	}
	return lock
}

// load reads the snapshot. Callers hold fileMu.
func (s *FailedEventStore) load() (models.FailedEventSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return models.FailedEventSnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return models.FailedEventSnapshot{}, nil
	}

	var snapshot models.FailedEventSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, s.path, err)
	}
	if snapshot == nil {
		snapshot = models.FailedEventSnapshot{}
	}
	return snapshot, nil
}

// save writes the snapshot to a temporary file, syncs it, and renames it into
// place. Callers hold fileMu.
func (s *FailedEventStore) save(snapshot models.FailedEventSnapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "    ")
	if err != nil {
		return fmt.Errorf("encode failed-event snapshot: %w", err)
	}
	data = append(data, '\n')

	tmpPath := s.path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temporary snapshot: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temporary snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temporary snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temporary snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace snapshot: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(s.path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}
