package cron

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lloydcotten/common-mq/internal/metrics"
	"github.com/lloydcotten/common-mq/internal/queue"
)

const DefaultSchedule = "@every 30s"

// HealthChecker reports the health of a queue.
type HealthChecker interface {
	Health() queue.HealthStatus
}

// Scheduler periodically logs queue health and records it in metrics.
// Providers do not reconnect, so an unhealthy queue is only reported.
type Scheduler struct {
	c        *cron.Cron
	hc       HealthChecker
	schedule string
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger

	lastOK *bool
}

func NewScheduler(hc HealthChecker, schedule string, m *metrics.Metrics, log *zap.SugaredLogger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		c:        cron.New(),
		hc:       hc,
		schedule: schedule,
		metrics:  m,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.hc == nil {
		return nil
	}
	if _, err := s.c.AddFunc(s.schedule, s.check); err != nil {
		return fmt.Errorf("invalid health schedule %q: %w", s.schedule, err)
	}
	s.c.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
}

func (s *Scheduler) check() {
	hs := s.hc.Health()
	if s.metrics != nil {
		s.metrics.ObserveHealth(hs.OK)
	}

	changed := s.lastOK == nil || *s.lastOK != hs.OK
	s.lastOK = &hs.OK
	switch {
	case !hs.OK:
		s.log.Warnw("queue unhealthy", "details", hs.Details)
	case changed:
		s.log.Infow("queue healthy", "details", hs.Details)
	}
}
