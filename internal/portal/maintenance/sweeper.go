// Package maintenance runs the periodic cleanup jobs: expired sessions, stale
// OTPs, and old crowd readings.
package maintenance

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SessionCleaner removes expired sessions and OTP challenges.
type SessionCleaner interface {
	Cleanup() (int64, error)
}

// CrowdPruner removes crowd readings older than a cutoff.
type CrowdPruner interface {
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// Sweeper schedules the cleanup jobs on a cron runner.
type Sweeper struct {
	sessions       SessionCleaner
	crowd          CrowdPruner
	crowdRetention time.Duration
	logger         *zap.Logger
	cron           *cron.Cron
}

// NewSweeper builds the sweeper. crowdRetention bounds how long crowd
// readings are kept.
func NewSweeper(sessions SessionCleaner, crowd CrowdPruner, crowdRetention time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		sessions:       sessions,
		crowd:          crowd,
		crowdRetention: crowdRetention,
		logger:         logger.Named("maintenance"),
		cron:           cron.New(),
	}
}

// Start registers the jobs and starts the cron runner. Sessions sweep every
// 15 minutes, crowd data hourly.
func (s *Sweeper) Start() error {
	if s.sessions != nil {
		if _, err := s.cron.AddFunc("*/15 * * * *", s.sweepSessions); err != nil {
			return err
		}
	}
	if s.crowd != nil {
		if _, err := s.cron.AddFunc("@hourly", s.sweepCrowd); err != nil {
			return err
		}
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron runner and waits for running jobs.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce executes every cleanup immediately. Used at startup and in tests.
func (s *Sweeper) RunOnce() {
	if s.sessions != nil {
		s.sweepSessions()
	}
	if s.crowd != nil {
		s.sweepCrowd()
	}
}

func (s *Sweeper) sweepSessions() {
	n, err := s.sessions.Cleanup()
	if err != nil {
		s.logger.Warn("session cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("session cleanup", zap.Int64("removed", n))
	}
}

func (s *Sweeper) sweepCrowd() {
	cutoff := time.Now().UTC().Add(-s.crowdRetention)
	n, err := s.crowd.DeleteOlderThan(cutoff)
	if err != nil {
		s.logger.Warn("crowd data cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("crowd data cleanup", zap.Int64("removed", n))
	}
}
