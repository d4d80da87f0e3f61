// Package supervisor runs one capture loop per device session plus the
// periodic retry sweep over the failed-event store.
package supervisor

import (
	"context"
	"sync"
	"time"

	"attendance-relay/internal/models"
	"attendance-relay/internal/session"
	"attendance-relay/internal/store"
	"attendance-relay/internal/utils"

	"github.com/sirupsen/logrus"
)

// Session is what the supervisor needs from a device session.
type Session interface {
	Key() string
	Device() models.Device
	RecentLogs() []session.RecentLog
	Connect(ctx context.Context) error
	Run(ctx context.Context)
	Disconnect() error
	RetryFailed(ctx context.Context) (store.DrainResult, error)
}

type Options struct {
	SweepInterval time.Duration
}

type Supervisor struct {
	sessions []Session
	opts     Options

	sweepMu sync.Mutex
	wg      sync.WaitGroup
}

func New(sessions []Session, opts Options) *Supervisor {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Hour
	}
	return &Supervisor{
		sessions: append([]Session(nil), sessions...),
		opts:     opts,
	}
}

// Sessions returns the supervised sessions in configuration order.
func (s *Supervisor) Sessions() []Session {
	return append([]Session(nil), s.sessions...)
}

// Session looks a session up by device key.
func (s *Supervisor) Session(key string) (Session, bool) {
	for _, sess := range s.sessions {
		if sess.Key() == key {
			return sess, true
		}
	}
	return nil, false
}

// Start makes one connection attempt per session, then launches the capture
// loops and the sweep loop. It returns once the goroutines are running; they
// stop when ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) {
	var connects sync.WaitGroup
	for _, sess := range s.sessions {
		connects.Add(1)
		go func(sess Session) {
			defer connects.Done()
			if err := sess.Connect(ctx); err != nil {
				utils.Logger.WithError(err).WithField("ip", sess.Key()).Warn("Initial connection failed, capture loop will retry")
			}
		}(sess)
	}
	connects.Wait()

	for _, sess := range s.sessions {
		s.wg.Add(1)
		go func(sess Session) {
			defer s.wg.Done()
			sess.Run(ctx)
		}(sess)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweepLoop(ctx)
	}()

	utils.Logger.WithFields(logrus.Fields{
		"devices":        len(s.sessions),
		"sweep_interval": s.opts.SweepInterval.String(),
	}).Info("Supervisor started")
}

func (s *Supervisor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep retries the failed events of every session in turn. One sweep runs at
// a time; a persistence error skips that device only.
func (s *Supervisor) Sweep(ctx context.Context) map[string]store.DrainResult {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	utils.Logger.Info("Retrying failed logs")
	results := make(map[string]store.DrainResult, len(s.sessions))
	for _, sess := range s.sessions {
		if ctx.Err() != nil {
			break
		}
		result, err := sess.RetryFailed(ctx)
		if err != nil {
			continue
		}
		results[sess.Key()] = result
	}
	return results
}

// Wait blocks until every goroutine started by Start has returned, or timeout
// elapses. It reports whether they all returned.
func (s *Supervisor) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Shutdown disconnects every session. Failures are logged and never stop the
// remaining disconnects.
func Shutdown(sessions []Session) {
	for _, sess := range sessions {
		logger := utils.Logger.WithField("ip", sess.Key())
		if err := sess.Disconnect(); err != nil {
			logger.WithError(err).Error("Failed to disconnect device")
			continue
		}
		logger.Info("Device disconnected")
	}
}
