package uiinteraction

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the §4.5 "Timeout processing" background scan: periodically,
// it asks the repository for every Pending/InProgress interaction whose
// CreatedAt+Timeout has elapsed and times each one out.
type Sweeper struct {
	bridge *Bridge
	cron   *cron.Cron
}

// NewSweeper builds a Sweeper bound to cronExpr (e.g. "@every 1m", or a
// standard 5-field expression). Empty cronExpr defaults to "@every 1m".
func NewSweeper(bridge *Bridge, cronExpr string) (*Sweeper, error) {
	if cronExpr == "" {
		cronExpr = "@every 1m"
	}
	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))
	s := &Sweeper{bridge: bridge, cron: c}

	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("ui interaction sweep: invalid schedule %q: %w", cronExpr, err)
	}
	c.Schedule(schedule, cron.FuncJob(s.sweepOnce))
	return s, nil
}

// Start begins the background sweep. It does not block.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop drains any in-flight sweep before returning.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	interactions, err := s.bridge.deps.Repo.GetTimedOutInteractions(ctx, time.Now().Unix())
	if err != nil {
		if s.bridge.deps.Logger != nil {
			s.bridge.deps.Logger.ErrorContext(ctx, "ui interaction sweep: failed to list timed-out interactions", "error", err)
		}
		return
	}

	for _, interaction := range interactions {
		if !interaction.Status.IsOpen() {
			continue
		}
		s.bridge.timeoutInteraction(ctx, interaction)
	}
}
