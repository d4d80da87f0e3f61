// Package session owns one terminal: its connection state machine, the live
// capture loop, and the hand-off of every captured event to delivery or to the
// failed-event store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"attendance-relay/internal/common/constants"
	"attendance-relay/internal/driver"
	"attendance-relay/internal/models"
	"attendance-relay/internal/store"
	"attendance-relay/internal/utils"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

// Sender delivers one event upstream.
type Sender interface {
	Send(ctx context.Context, event models.AttendanceEvent) error
}

// FailureQueue holds events that could not be delivered.
type FailureQueue interface {
	Enqueue(deviceKey string, record models.FailedEventRecord) error
	DrainAndRetry(ctx context.Context, deviceKey string, deliver store.DeliverFunc) (store.DrainResult, error)
}

// StatusRecorder observes device state transitions.
type StatusRecorder interface {
	RecordTransition(ctx context.Context, device models.Device, from, to string, cause error) error
}

// Recorders fans a transition out to several recorders.
type Recorders []StatusRecorder

func (r Recorders) RecordTransition(ctx context.Context, device models.Device, from, to string, cause error) error {
	var errs []error
	for _, rec := range r {
		if err := rec.RecordTransition(ctx, device, from, to, cause); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const defaultRecordTimeout = 5 * time.Second

// Options are the session timings.
type Options struct {
	Port             int
	ConnectTimeout   time.Duration
	CaptureTimeout   time.Duration
	IdleBackoff      time.Duration
	PollInterval     time.Duration
	ReconnectBackoff time.Duration
}

func DefaultOptions() Options {
	return Options{
		Port:             4370,
		ConnectTimeout:   5 * time.Second,
		CaptureTimeout:   10 * time.Second,
		IdleBackoff:      time.Second,
		PollInterval:     time.Second,
		ReconnectBackoff: 10 * time.Second,
	}
}

// Deps are the collaborators of a session. Index and Recorder are optional.
type Deps struct {
	Driver   driver.Driver
	Sender   Sender
	Queue    FailureQueue
	Index    *RecentLogIndex
	Recorder StatusRecorder
}

type statusChange struct {
	device   models.Device
	from, to string
	cause    error
}

type Session struct {
	driver   driver.Driver
	sender   Sender
	queue    FailureQueue
	index    *RecentLogIndex
	recorder StatusRecorder
	opts     Options
	now      func() time.Time

	// mu guards conn, machine and changes.
	mu      sync.Mutex
	conn    driver.Conn
	machine *fsm.FSM
	changes []statusChange

	// recordMu keeps recorders seeing changes in order.
	recordMu sync.Mutex

	stateMu sync.RWMutex
	device  models.Device
}

// New returns a Disconnected session; the configured status is not carried
// over.
func New(device models.Device, deps Deps, opts Options) *Session {
	device.Status = constants.DeviceStatusDisconnected

	s := &Session{
		driver:   deps.Driver,
		sender:   deps.Sender,
		queue:    deps.Queue,
		index:    deps.Index,
		recorder: deps.Recorder,
		opts:     opts,
		now:      time.Now,
		device:   device,
	}
	if s.index == nil {
		s.index = NewRecentLogIndex(0, nil)
	}
	s.machine = newStateMachine(s.onTransition)
	return s
}

// Key is the device partition key (its IP).
func (s *Session) Key() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.device.Key()
}

// Device returns a copy of the device, including its current status.
func (s *Session) Device() models.Device {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.device
}

func (s *Session) Status() string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.device.Status
}

func (s *Session) Connected() bool {
	return s.Status() == constants.DeviceStatusConnected
}

// RecentLogs returns the in-memory capture index for this device.
func (s *Session) RecentLogs() []RecentLog {
	return s.index.Snapshot(s.Key())
}

func (s *Session) logger() *logrus.Entry {
	d := s.Device()
	return utils.Logger.WithFields(logrus.Fields{
		"device": d.Name,
		"ip":     d.IP,
	})
}

// Connect opens a driver session. A failed session is reset before dialling;
// an already connected session is left alone.
func (s *Session) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	defer s.flushStatusChanges()
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.machine.Current() {
	case constants.DeviceStatusConnected:
		return nil
	case constants.DeviceStatusConnectionFailed:
		s.fire(constants.SessionEventReset, nil)
	}
	s.fire(constants.SessionEventDial, nil)

	d := s.Device()
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	conn, err := s.driver.Dial(dialCtx, driver.Target{
		DeviceID: d.ID,
		IP:       d.IP,
		Port:     s.opts.Port,
		Password: d.Password,
		Timeout:  s.opts.ConnectTimeout,
	})
	cancel()
	if err != nil {
		s.fire(constants.SessionEventFail, err)
		return fmt.Errorf("connect %s: %w", d, err)
	}

	s.conn = conn
	s.fire(constants.SessionEventEstablished, nil)
	return nil
}

// Disconnect closes the driver session, if any, and leaves the session
// Disconnected. Calling it again is a no-op.
func (s *Session) Disconnect() error {
	defer s.flushStatusChanges()
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}

	switch s.machine.Current() {
	case constants.DeviceStatusConnected:
		s.fire(constants.SessionEventClose, nil)
	case constants.DeviceStatusConnectionFailed:
		s.fire(constants.SessionEventReset, nil)
	}

	if err != nil {
		return fmt.Errorf("disconnect %s: %w", s.Device(), err)
	}
	return nil
}

// Run is the capture loop. It returns when ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	logger := s.logger()
	logger.Info("Capture loop started")
	defer logger.Info("Capture loop stopped")

	for ctx.Err() == nil {
		conn := s.currentConn()
		if conn == nil {
			if err := s.Connect(ctx); err != nil {
				logger.WithError(err).Warn("Connection attempt failed, backing off")
				sleep(ctx, s.opts.ReconnectBackoff)
			}
			continue
		}

		records, err := conn.CaptureNext(ctx, s.opts.CaptureTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Error("Live capture failed, dropping connection")
			s.dropConnection(conn, err)
			sleep(ctx, s.opts.ReconnectBackoff)
			continue
		}

		if len(records) == 0 {
			sleep(ctx, s.opts.IdleBackoff)
			continue
		}

		s.process(ctx, records)
		sleep(ctx, s.opts.PollInterval)
	}
}

// RetryFailed redelivers this device's pending failed events.
func (s *Session) RetryFailed(ctx context.Context) (store.DrainResult, error) {
	key := s.Key()
	result, err := s.queue.DrainAndRetry(ctx, key, s.sender.Send)
	if err != nil {
		s.logger().WithError(err).Error("Retry of failed logs skipped")
		return result, err
	}
	if result.Attempted > 0 {
		s.logger().WithFields(logrus.Fields{
			"attempted": result.Attempted,
			"delivered": result.Delivered,
			"remaining": result.Remaining,
		}).Info("Retried failed logs")
	}
	return result, nil
}

// process hands every record of a batch on in driver order. It runs to the
// end of the batch even when ctx is cancelled, since the terminal has already
// been acknowledged; undeliverable events land in the queue.
func (s *Session) process(ctx context.Context, records []driver.Record) {
	for _, rec := range records {
		if rec.Kind != driver.KindAttendance {
			s.logger().WithFields(logrus.Fields{
				"reason": rec.Reason,
				"raw":    fmt.Sprintf("%x", rec.Raw),
			}).Warn("Skipping unknown record")
			continue
		}
		s.handleEvent(ctx, rec.Attendance)
	}
}

func (s *Session) handleEvent(ctx context.Context, event models.AttendanceEvent) {
	key := s.Key()
	capturedAt := s.now()

	s.index.Record(ctx, key, capturedAt, event)
	s.logger().WithFields(logrus.Fields{
		"user_id":   event.UserID,
		"timestamp": event.FormattedTimestamp(),
		"status":    event.Status,
	}).Info("Captured attendance log")

	if err := s.sender.Send(ctx, event); err == nil {
		return
	}

	if err := s.queue.Enqueue(key, models.NewFailedEventRecord(capturedAt, event)); err != nil {
		s.logger().WithError(err).WithField("user_id", event.UserID).Error("Failed to store undelivered log")
	}
}

func (s *Session) currentConn() driver.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// dropConnection closes conn after a capture fault, unless Disconnect or a
// reconnect already replaced it.
func (s *Session) dropConnection(conn driver.Conn, cause error) {
	defer s.flushStatusChanges()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != conn {
		return
	}
	s.conn = nil
	if err := conn.Close(); err != nil {
		s.logger().WithError(err).Debug("Closing broken connection")
	}
	if s.machine.Current() == constants.DeviceStatusConnected {
		s.fire(constants.SessionEventFail, cause)
	}
}

// fire runs a state machine event. Callers hold mu. Transitions use a
// background context so they still apply while shutting down.
func (s *Session) fire(event string, cause error) {
	var args []interface{}
	if cause != nil {
		args = append(args, cause)
	}
	if err := s.machine.Event(context.Background(), event, args...); err != nil {
		s.logger().WithError(err).WithField("event", event).Warn("Rejected session transition")
	}
}

// onTransition runs inside the state machine callback with mu held; it must
// not call back into the machine. Recorders are queued and run by
// flushStatusChanges once mu is released.
func (s *Session) onTransition(event, from, to string, cause error) {
	s.stateMu.Lock()
	s.device.Status = to
	device := s.device
	s.stateMu.Unlock()

	entry := utils.Logger.WithFields(logrus.Fields{
		"device": device.Name,
		"ip":     device.IP,
		"event":  event,
		"from":   from,
		"to":     to,
	})
	if cause != nil {
		entry.WithError(cause).Warn("Device status changed")
	} else {
		entry.Info("Device status changed")
	}

	if s.recorder != nil {
		s.changes = append(s.changes, statusChange{device: device, from: from, to: to, cause: cause})
	}
}

// flushStatusChanges hands queued transitions to the recorder, each bounded by
// the connect timeout. Callers must not hold mu.
func (s *Session) flushStatusChanges() {
	if s.recorder == nil {
		return
	}

	s.recordMu.Lock()
	defer s.recordMu.Unlock()

	for {
		s.mu.Lock()
		changes := s.changes
		s.changes = nil
		s.mu.Unlock()
		if len(changes) == 0 {
			return
		}

		for _, c := range changes {
			s.record(c)
		}
	}
}

func (s *Session) record(c statusChange) {
	timeout := s.opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultRecordTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.recorder.RecordTransition(ctx, c.device, c.from, c.to, c.cause); err != nil {
		utils.Logger.WithError(err).WithFields(logrus.Fields{
			"ip":   c.device.IP,
			"from": c.from,
			"to":   c.to,
		}).Warn("Failed to record device status")
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
