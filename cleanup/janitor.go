// Package cleanup prunes dead access-token records on a schedule: revoked
// tokens and tokens past their maximum lifetime.
package cleanup

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/machinekit/core"
)

// DefaultSchedule runs the sweep once per hour.
const DefaultSchedule = "@hourly"

// Janitor owns the scheduled sweep.
type Janitor struct {
	c      *cron.Cron
	tokens core.AccessTokenStore
	log    *logrus.Logger
}

// NewJanitor builds a janitor over the given token store.
func NewJanitor(tokens core.AccessTokenStore, log *logrus.Logger) *Janitor {
	if log == nil {
		log = logrus.New()
	}
	return &Janitor{c: cron.New(), tokens: tokens, log: log}
}

// Start schedules the sweep. An empty schedule uses DefaultSchedule.
func (j *Janitor) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := j.c.AddFunc(schedule, func() { j.RunOnce(context.Background()) }); err != nil {
		return err
	}
	j.c.Start()
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	<-j.c.Stop().Done()
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce(ctx context.Context) {
	n, err := j.tokens.DeleteExpired(ctx, time.Now())
	if err != nil {
		j.log.WithError(err).Error("access token sweep failed")
		return
	}
	if n > 0 {
		j.log.WithFields(logrus.Fields{"deleted": n}).Info("pruned dead access tokens")
	}
}
