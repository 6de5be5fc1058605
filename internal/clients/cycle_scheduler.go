package clients

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CycleCloser closes a settlement cycle on the clearing service.
type CycleCloser interface {
	CloseCycle(ctx context.Context, cycleID int64, nextCycleMinutes int) error
}

// DefaultNextCycleMinutes is the length of the cycle opened by an automatic close.
const DefaultNextCycleMinutes = 10

type cycleJob struct {
	timer *time.Timer
	runAt time.Time
}

// CycleScheduler owns one cancellable close job per settlement cycle.
// Rescheduling a cycle replaces only that cycle's job.
type CycleScheduler struct {
	closer      CycleCloser
	logger      *zap.Logger
	nextMinutes int
	callTimeout time.Duration

	mu      sync.Mutex
	jobs    map[int64]*cycleJob
	stopped bool
}

func NewCycleScheduler(closer CycleCloser, nextCycleMinutes int, callTimeout time.Duration, logger *zap.Logger) *CycleScheduler {
	if nextCycleMinutes <= 0 {
		nextCycleMinutes = DefaultNextCycleMinutes
	}
	if callTimeout <= 0 {
		callTimeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CycleScheduler{
		closer:      closer,
		logger:      logger,
		nextMinutes: nextCycleMinutes,
		callTimeout: callTimeout,
		jobs:        make(map[int64]*cycleJob),
	}
}

// Schedule arranges for cycleID to be closed after delay, replacing any job
// already pending for the same cycle. It returns the planned run time.
func (s *CycleScheduler) Schedule(cycleID int64, delay time.Duration) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return time.Time{}, false
	}
	if existing, ok := s.jobs[cycleID]; ok {
		existing.timer.Stop()
	}

	job := &cycleJob{runAt: time.Now().Add(delay).UTC()}
	job.timer = time.AfterFunc(delay, func() { s.run(cycleID, job) })
	s.jobs[cycleID] = job

	s.logger.Info("settlement cycle close scheduled",
		zap.Int64("cycle_id", cycleID),
		zap.Time("run_at", job.runAt))
	return job.runAt, true
}

// Cancel drops the pending job of cycleID. It reports whether one was pending.
func (s *CycleScheduler) Cancel(cycleID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[cycleID]
	if !ok {
		return false
	}
	job.timer.Stop()
	delete(s.jobs, cycleID)
	return true
}

// Pending returns the planned run time of every scheduled cycle close.
func (s *CycleScheduler) Pending() map[int64]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]time.Time, len(s.jobs))
	for id, job := range s.jobs {
		out[id] = job.runAt
	}
	return out
}

// Stop cancels every pending job. Schedule is a no-op afterwards.
func (s *CycleScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.jobs {
		job.timer.Stop()
		delete(s.jobs, id)
	}
	s.stopped = true
}

func (s *CycleScheduler) run(cycleID int64, job *cycleJob) {
	s.mu.Lock()
	if current, ok := s.jobs[cycleID]; !ok || current != job {
		// replaced or cancelled after the timer fired
		s.mu.Unlock()
		return
	}
	delete(s.jobs, cycleID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()

	if err := s.closer.CloseCycle(ctx, cycleID, s.nextMinutes); err != nil {
		s.logger.Error("automatic settlement cycle close failed",
			zap.Int64("cycle_id", cycleID),
			zap.Error(err))
		return
	}
	s.logger.Info("settlement cycle closed", zap.Int64("cycle_id", cycleID))
}
