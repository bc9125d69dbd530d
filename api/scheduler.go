/*
scheduler.go - Automated revenue recognition scheduler

PURPOSE:
  Periodically sweeps recognition schedules and posts every recognition
  event that has come due. Manual runs via POST /api/schedules/{id}/run
  use the same engine; this is the background counterpart.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each due event posts through the write gateway with its own key, so
    a sweep racing a manual run never double-posts
  - Events in hard-locked periods fail per event and are logged; the
    sweep continues

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRecognitionScheduler(store, engine, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - recognition/engine.go: Run
  - handlers.go: RunSchedule endpoint (manual runs)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/recognition"
)

// ScheduleSource is what the sweeper needs: the schedule store plus the
// ability to enumerate tenants that have schedules.
type ScheduleSource interface {
	recognition.ScheduleStore
	ScheduleTenants(ctx context.Context) ([]ledger.TenantID, error)
}

// RecognitionScheduler handles automated recognition sweeps.
type RecognitionScheduler struct {
	Source        ScheduleSource
	Engine        *recognition.Engine
	Log           *logrus.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRecognitionScheduler creates a new scheduler.
func NewRecognitionScheduler(source ScheduleSource, engine *recognition.Engine, log *logrus.Logger) *RecognitionScheduler {
	if log == nil {
		log = logrus.New()
	}
	return &RecognitionScheduler{
		Source:        source,
		Engine:        engine,
		Log:           log,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *RecognitionScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Log.Info("recognition scheduler disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	rs.Log.WithField("interval", rs.CheckInterval).Info("recognition scheduler started")
}

// Stop stops the scheduler.
func (rs *RecognitionScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.Log.Info("recognition scheduler stopped")
	}
}

func (rs *RecognitionScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.sweep()

	for {
		select {
		case <-rs.ticker.C:
			rs.sweep()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RecognitionScheduler) sweep() {
	ctx := context.Background()
	now := time.Now().UTC()

	tenants, err := rs.Source.ScheduleTenants(ctx)
	if err != nil {
		rs.Log.WithError(err).Error("recognition sweep: failed to list tenants")
		return
	}

	posted := 0
	failures := 0

	for _, tenantID := range tenants {
		schedules, err := rs.Source.ListSchedules(ctx, tenantID)
		if err != nil {
			rs.Log.WithError(err).WithField("tenant", tenantID).Error("recognition sweep: failed to list schedules")
			continue
		}

		for _, sched := range schedules {
			if sched.Superseded || !hasDueWork(sched, now) {
				continue
			}

			result, err := rs.Engine.Run(ctx, tenantID, sched.ID, now)
			if err != nil {
				rs.Log.WithError(err).WithFields(logrus.Fields{
					"tenant":   tenantID,
					"schedule": sched.ID,
				}).Error("recognition sweep: run failed")
				continue
			}

			posted += len(result.Posted)
			failures += len(result.Failures)
			for _, f := range result.Failures {
				rs.Log.WithFields(logrus.Fields{
					"tenant":   tenantID,
					"schedule": sched.ID,
					"event":    f.EventID,
				}).WithError(f.Err).Warn("recognition sweep: event failed")
			}
		}
	}

	if posted > 0 || failures > 0 {
		rs.Log.WithFields(logrus.Fields{
			"posted":   posted,
			"failures": failures,
		}).Info("recognition sweep completed")
	}
}

// hasDueWork reports whether the schedule has an unrecognized event due at
// or before now (milestones additionally require completion).
func hasDueWork(sched recognition.Schedule, now time.Time) bool {
	for _, ev := range sched.Events {
		if ev.Recognized || ev.Due.After(now) {
			continue
		}
		if sched.Method == recognition.Milestone && !ev.Completed {
			continue
		}
		return true
	}
	return false
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *RecognitionScheduler) RunNow() {
	rs.sweep()
}
