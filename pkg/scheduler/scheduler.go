// Package scheduler runs cron jobs whose work must happen on the editor's main goroutine.
// The cron goroutine only enqueues; the job body runs on the next drain.
package scheduler

import (
	"github.com/guido-cesarano/editorbridge/pkg/dispatch"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler owns a cron instance feeding a dispatcher.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger
}

// New creates a scheduler. Specs accept an optional seconds field and descriptors like "@every 30s".
func New(d *dispatch.Dispatcher, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithParser(cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		dispatcher: d,
		log:        log,
	}
}

// Add registers fn to be queued for the main goroutine on every activation of spec.
func (s *Scheduler) Add(spec, label string, fn func()) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		if err := s.dispatcher.EnqueueNamed(label, fn); err != nil {
			s.log.Error().Err(err).Str("spec", spec).Str("job", label).Msg("Failed to enqueue scheduled job")
			return
		}
		s.log.Debug().Str("spec", spec).Str("job", label).Msg("Scheduled job enqueued")
	})
}

// Remove unregisters a job.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start starts the cron scheduler in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron scheduler and waits for running job bodies (the enqueues) to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
