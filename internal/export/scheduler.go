package export

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs the nightly export.
type Scheduler struct {
	cronEngine *cron.Cron
	exporter   *Exporter
	spec       string
	timeout    time.Duration
	log        logrus.FieldLogger
}

// NewScheduler builds a scheduler in the exporter's time zone. spec is a
// standard five-field cron expression, e.g. "0 22 * * *".
func NewScheduler(e *Exporter, spec string, log logrus.FieldLogger) *Scheduler {
	loc := e.Calendar.Location
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		cronEngine: cron.New(cron.WithLocation(loc)),
		exporter:   e,
		spec:       spec,
		timeout:    time.Minute,
		log:        log,
	}
}

// Start registers the job and starts the cron engine.
func (s *Scheduler) Start() error {
	if _, err := s.cronEngine.AddFunc(s.spec, s.run); err != nil {
		return err
	}
	s.cronEngine.Start()
	s.log.WithField("spec", s.spec).Info("export scheduler started")
	return nil
}

// Stop waits for a running export to finish.
func (s *Scheduler) Stop() {
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.log.Info("export scheduler stopped")
}

// Next reports when the export will run next; zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cronEngine.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.exporter.Today(ctx); err != nil {
		s.log.WithError(err).Error("nightly export failed")
	}
}
