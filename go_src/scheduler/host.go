package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Host runs one-time and recurring tasks on a gocron scheduler.
// It satisfies the timer host contract of the calendar manager.
type Host struct {
	s     gocron.Scheduler
	clock clockwork.Clock
	loc   *time.Location
}

// HostOption configures a Host.
type HostOption func(*hostOptions)

type hostOptions struct {
	clock clockwork.Clock
	loc   *time.Location
}

// WithClock injects the clock shared by the host and gocron.
func WithClock(clock clockwork.Clock) HostOption {
	return func(o *hostOptions) { o.clock = clock }
}

// WithLocation sets the timezone used for daily jobs.
func WithLocation(loc *time.Location) HostOption {
	return func(o *hostOptions) { o.loc = loc }
}

// NewHost creates a stopped Host. Call Start to begin running jobs.
func NewHost(opts ...HostOption) (*Host, error) {
	o := hostOptions{clock: clockwork.NewRealClock(), loc: time.Local}
	for _, opt := range opts {
		opt(&o)
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(o.loc), gocron.WithClock(o.clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Host{s: s, clock: o.clock, loc: o.loc}, nil
}

// Start starts the underlying scheduler asynchronously.
func (h *Host) Start() {
	h.s.Start()
}

// Shutdown stops the scheduler and waits for running jobs.
func (h *Host) Shutdown() error {
	return h.s.Shutdown()
}

// Schedule runs task once at the given instant. Instants in the past run immediately.
func (h *Host) Schedule(at time.Time, task func()) (uuid.UUID, error) {
	name := "once@" + at.In(h.loc).Format("2006-01-02 15:04:05.000")
	startAt := gocron.OneTimeJobStartImmediately()
	if at.After(h.clock.Now()) {
		startAt = gocron.OneTimeJobStartDateTime(at)
	}

	j, err := h.s.NewJob(gocron.OneTimeJob(startAt), gocron.NewTask(task), gocron.WithName(name))
	if errors.Is(err, gocron.ErrOneTimeJobStartDateTimePast) {
		// The instant passed between the check and the registration.
		j, err = h.s.NewJob(gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()), gocron.NewTask(task), gocron.WithName(name))
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to schedule one-time job %s: %w", name, err)
	}
	logrus.Debugf("Scheduled one-time job %s (%s)", name, j.ID())
	return j.ID(), nil
}

// Cancel removes a scheduled job. Unknown or already finished jobs are ignored.
func (h *Host) Cancel(id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	if err := h.s.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		return fmt.Errorf("failed to remove job %s: %w", id, err)
	}
	return nil
}

// Every runs task repeatedly with the given interval.
func (h *Host) Every(name string, interval time.Duration, task func()) (uuid.UUID, error) {
	j, err := h.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to schedule %s every %s: %w", name, interval, err)
	}
	logrus.Infof("%s scheduled every %s.", name, interval)
	return j.ID(), nil
}

// Daily runs task every day at hour:minute:second in the host location.
func (h *Host) Daily(name string, hour, minute, second uint, task func()) (uuid.UUID, error) {
	j, err := h.s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, second))),
		gocron.NewTask(task),
		gocron.WithName(name),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to schedule %s daily at %02d:%02d:%02d: %w", name, hour, minute, second, err)
	}
	logrus.Infof("%s scheduled daily at %02d:%02d:%02d (%s).", name, hour, minute, second, h.loc)
	return j.ID(), nil
}

// Jobs returns the number of registered jobs.
func (h *Host) Jobs() int {
	return len(h.s.Jobs())
}
