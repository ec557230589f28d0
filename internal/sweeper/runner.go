package sweeper

import (
	"context"

	"github.com/robfig/cron/v3"

	"genimage/internal/infra"
)

// Runner schedules sweeps with cron. Overlapping runs are prevented: a tick
// that fires while a sweep is still going is dropped.
type Runner struct {
	sweeper *Sweeper
	cron    *cron.Cron
	logger  infra.Logger
	busy    chan struct{}
}

// NewRunner builds a runner around the sweeper.
func NewRunner(s *Sweeper, logger infra.Logger) *Runner {
	return &Runner{
		sweeper: s,
		cron:    cron.New(),
		logger:  logger,
		busy:    make(chan struct{}, 1),
	}
}

// Start registers the schedule and begins firing. Standard five-field cron
// expressions plus the @every form are accepted.
func (r *Runner) Start(ctx context.Context, schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		select {
		case r.busy <- struct{}{}:
		default:
			r.logger.Warn().Msg("sweeper: previous sweep still running, skipping tick")
			return
		}
		defer func() { <-r.busy }()
		r.sweeper.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info().Str("schedule", schedule).Msg("sweeper: scheduled")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}
