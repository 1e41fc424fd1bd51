package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Edge describes one fired clock edge.
type Edge struct {
	// Domain is the name of the domain that ticked.
	Domain string

	// Seq is the edge's position in the run-wide total order.
	Seq int64

	// Time is the simulated time of the edge.
	Time time.Duration

	// N counts the domain's own ticks, starting at 0.
	N int64
}

// TickFunc is a domain's per-edge process.
type TickFunc func(Edge)

type domain struct {
	name   string
	period time.Duration
	next   time.Duration
	ticks  int64
	fn     TickFunc
}

// ctxCheckInterval is how many edges run between context checks.
const ctxCheckInterval = 1024

// Scheduler fires the edges of a fixed set of clock domains in simulated
// time order.
//
// Thread-safety: a Scheduler must be driven from one goroutine.
type Scheduler struct {
	clock   *Clock
	domains []*domain
	now     time.Duration
	logger  *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock shares a logical clock, e.g. to continue seq numbering.
func WithClock(c *Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// NewScheduler creates a scheduler at time zero with no domains.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		clock:  NewClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddDomain registers a clock domain. Its first edge is at phase, then every
// period. Domains whose edges coincide fire in registration order.
func (s *Scheduler) AddDomain(name string, period, phase time.Duration, fn TickFunc) error {
	if period <= 0 {
		return &SchedulerError{
			Code:    ErrCodeInvalidPeriod,
			Message: fmt.Sprintf("period must be positive, got %s", period),
			Domain:  name,
		}
	}
	for _, d := range s.domains {
		if d.name == name {
			return &SchedulerError{
				Code:    ErrCodeDuplicateDomain,
				Message: "domain already registered",
				Domain:  name,
			}
		}
	}
	s.domains = append(s.domains, &domain{
		name:   name,
		period: period,
		next:   s.now + max(phase, 0),
		fn:     fn,
	})
	s.logger.Debug("domain registered", "domain", name, "period", period, "phase", phase)
	return nil
}

// Now returns the simulated time of the last fired edge.
func (s *Scheduler) Now() time.Duration {
	return s.now
}

// Ticks returns how many edges a domain has fired.
func (s *Scheduler) Ticks(name string) int64 {
	for _, d := range s.domains {
		if d.name == name {
			return d.ticks
		}
	}
	return 0
}

// Clock returns the scheduler's logical clock.
func (s *Scheduler) Clock() *Clock {
	return s.clock
}

// nextTime is the earliest pending edge time.
func (s *Scheduler) nextTime() time.Duration {
	t := s.domains[0].next
	for _, d := range s.domains[1:] {
		if d.next < t {
			t = d.next
		}
	}
	return t
}

// Step advances to the next edge time and fires every domain due then.
// It returns the number of edges fired.
func (s *Scheduler) Step() (int, error) {
	if len(s.domains) == 0 {
		return 0, &SchedulerError{Code: ErrCodeNoDomains, Message: "no domains registered"}
	}
	t := s.nextTime()
	s.now = t
	fired := 0
	for _, d := range s.domains {
		if d.next != t {
			continue
		}
		d.fn(Edge{Domain: d.name, Seq: s.clock.Next(), Time: t, N: d.ticks})
		d.ticks++
		d.next += d.period
		fired++
	}
	return fired, nil
}

// RunFor fires every edge in (now, now+d], or from time zero on a fresh
// scheduler.
func (s *Scheduler) RunFor(ctx context.Context, d time.Duration) error {
	if len(s.domains) == 0 {
		return &SchedulerError{Code: ErrCodeNoDomains, Message: "no domains registered"}
	}
	end := s.now + d
	for n := 0; s.nextTime() <= end; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if _, err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// RunBefore fires every pending edge earlier than the absolute time t.
func (s *Scheduler) RunBefore(ctx context.Context, t time.Duration) error {
	if len(s.domains) == 0 {
		return &SchedulerError{Code: ErrCodeNoDomains, Message: "no domains registered"}
	}
	for n := 0; s.nextTime() < t; n++ {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if _, err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// RunUntil fires edges until done reports true, checked after every step.
// It gives up with a LIMIT_REACHED error once simulated time would pass
// limit from the start of the call.
func (s *Scheduler) RunUntil(ctx context.Context, done func() bool, limit time.Duration) error {
	if len(s.domains) == 0 {
		return &SchedulerError{Code: ErrCodeNoDomains, Message: "no domains registered"}
	}
	end := s.now + limit
	for n := 0; !done(); n++ {
		if s.nextTime() > end {
			return NewLimitError(limit, s.now)
		}
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if _, err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}
