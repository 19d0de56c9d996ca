// Package importer drives a calendar document through parsing, expansion,
// extraction and reconciliation and reports what happened.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hackgods/calendar-sync/internal/extract"
	"github.com/hackgods/calendar-sync/internal/ics"
	"github.com/hackgods/calendar-sync/internal/lock"
	"github.com/hackgods/calendar-sync/internal/reconcile"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrStopped is returned by Run once Stop has been called before the run
// started.
var ErrStopped = errors.New("importer stopped")

// Options is the one place an import run is tuned.
type Options struct {
	Horizon ics.Horizon
	// OccurrenceCap bounds a single event's expansion.
	OccurrenceCap int
	// After every WriteBatchSize store writes the run pauses for BatchDelay.
	WriteBatchSize int
	BatchDelay     time.Duration
	// Workers bounds parallel expansion and extraction.
	Workers int
	// OccurrenceTimeout bounds one reconcile step, which is allowed to
	// finish after the run is cancelled.
	OccurrenceTimeout time.Duration
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Horizon == nil {
		o.Horizon = ics.MonthsHorizon{Back: 1, Ahead: 6}
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.OccurrenceTimeout <= 0 {
		o.OccurrenceTimeout = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Failure struct {
	EventUID string `json:"eventUid"`
	Reason   string `json:"reason"`
}

// Summary is the result of one run. It is produced for every run that got
// past reading the document.
type Summary struct {
	Imported int       `json:"imported"`
	Skipped  int       `json:"skipped"`
	Errors   int       `json:"errors"`
	Failures []Failure `json:"failures"`
	// Stopped is set when the run halted early on Stop or cancellation.
	Stopped bool `json:"stopped,omitempty"`
}

func (s *Summary) fail(uid string, err error) {
	s.Errors++
	s.Failures = append(s.Failures, Failure{EventUID: uid, Reason: err.Error()})
}

// Reconciler is the write side of the pipeline.
type Reconciler interface {
	Reconcile(ctx context.Context, info extract.Info, occ reconcile.Occurrence) (reconcile.Result, error)
}

type Orchestrator struct {
	parser     *ics.Parser
	expander   *ics.Expander
	extractor  *extract.Extractor
	reconciler Reconciler
	guard      lock.RunGuard
	opts       Options
	log        zerolog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(
	parser *ics.Parser,
	extractor *extract.Extractor,
	reconciler Reconciler,
	guard lock.RunGuard,
	opts Options,
	log zerolog.Logger,
) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		parser:     parser,
		expander:   ics.NewExpander(opts.OccurrenceCap),
		extractor:  extractor,
		reconciler: reconciler,
		guard:      guard,
		opts:       opts,
		log:        log,
		stopCh:     make(chan struct{}),
	}
}

// Stop asks every active run to halt after its in-flight occurrence. It is
// permanent: later runs return ErrStopped.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

func (o *Orchestrator) stopped(ctx context.Context) bool {
	select {
	case <-o.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// plan is the read-side result for one event.
type plan struct {
	event       ics.CalendarEvent
	info        extract.Info
	occurrences []time.Time
	err         error
}

// Run imports the document read from r. Only an unreadable document, a
// busy store guard or a prior Stop yield an error; per-occurrence problems
// are reported in the summary.
func (o *Orchestrator) Run(ctx context.Context, r io.Reader) (Summary, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ics.ErrUnreadableDocument, err)
	}
	return o.RunBytes(ctx, body)
}

func (o *Orchestrator) RunBytes(ctx context.Context, body []byte) (Summary, error) {
	select {
	case <-o.stopCh:
		return Summary{}, ErrStopped
	default:
	}

	events, err := o.parser.ParseBytes(body)
	if err != nil {
		importRunsTotal.WithLabelValues("unreadable").Inc()
		return Summary{}, err
	}

	release, err := o.guard.BeginImport(ctx)
	if err != nil {
		importRunsTotal.WithLabelValues("busy").Inc()
		return Summary{}, fmt.Errorf("begin import: %w", err)
	}
	defer release()

	started := o.opts.Now()
	windowStart, windowEnd := o.opts.Horizon.Window(started)

	plans, err := o.planAll(ctx, events, windowStart, windowEnd)
	if err != nil {
		return Summary{}, err
	}

	summary := o.reconcileAll(ctx, plans)

	result := "ok"
	if summary.Stopped {
		result = "stopped"
	}
	importRunsTotal.WithLabelValues(result).Inc()

	o.log.Info().
		Int("events", len(events)).
		Int("imported", summary.Imported).
		Int("skipped", summary.Skipped).
		Int("errors", summary.Errors).
		Bool("stopped", summary.Stopped).
		Time("window_start", windowStart).
		Time("window_end", windowEnd).
		Dur("took", time.Since(started)).
		Msg("import finished")

	return summary, nil
}

// planAll expands and extracts every event in parallel. Both stages are
// pure, so order is restored by index.
func (o *Orchestrator) planAll(ctx context.Context, events []ics.CalendarEvent, windowStart, windowEnd time.Time) ([]plan, error) {
	plans := make([]plan, len(events))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i := range events {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			plans[i] = o.plan(events[i], windowStart, windowEnd)
			return nil
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return nil, err
	}
	return plans, nil
}

func (o *Orchestrator) plan(ev ics.CalendarEvent, windowStart, windowEnd time.Time) plan {
	p := plan{event: ev}

	if ev.IsRecurring() {
		pattern, err := ics.ParseRule(ev.RecurrenceRule, ev.Start.Location())
		if err != nil {
			p.err = fmt.Errorf("recurrence rule: %w", err)
			return p
		}
		p.occurrences, err = o.expander.Expand(ev.Start, pattern, ev.ExceptionDates, windowStart, windowEnd)
		if err != nil {
			p.err = fmt.Errorf("expand recurrence: %w", err)
			return p
		}
	} else {
		p.occurrences = []time.Time{ev.Start}
	}

	if len(p.occurrences) > 0 {
		p.info = o.extractor.Extract(ev.Summary, ev.Description)
	}
	return p
}

// reconcileAll runs the write side serially. A cancelled ctx or Stop halts
// before the next occurrence; the in-flight one always completes.
func (o *Orchestrator) reconcileAll(ctx context.Context, plans []plan) Summary {
	summary := Summary{Failures: []Failure{}}
	writes := 0
	nextPause := o.opts.WriteBatchSize

	for _, p := range plans {
		if p.err != nil {
			summary.fail(p.event.UID, p.err)
			occurrencesTotal.WithLabelValues("error").Inc()
			o.log.Warn().Err(p.err).Str("event_uid", p.event.UID).Msg("event not expanded")
			continue
		}

		for _, at := range p.occurrences {
			if o.stopped(ctx) {
				summary.Stopped = true
				return summary
			}

			occ := reconcile.Occurrence{
				EventUID:  p.event.UID,
				Summary:   p.event.Summary,
				At:        at,
				AllDay:    p.event.AllDay,
				Location:  p.event.Location,
				Attendees: p.event.Attendees,
			}

			res, err := o.reconcileOne(ctx, p.info, occ)
			writes += res.Writes

			switch {
			case err != nil:
				summary.fail(occ.EventUID, err)
				occurrencesTotal.WithLabelValues("error").Inc()
				o.log.Warn().Err(err).Str("event_uid", occ.EventUID).Time("at", at).Msg("occurrence failed")
			case res.Outcome == reconcile.Created:
				summary.Imported++
				occurrencesTotal.WithLabelValues("imported").Inc()
			default:
				summary.Skipped++
				occurrencesTotal.WithLabelValues("skipped").Inc()
			}

			if o.opts.WriteBatchSize > 0 && writes >= nextPause {
				nextPause = writes + o.opts.WriteBatchSize
				o.pause(ctx)
			}
		}
	}
	return summary
}

func (o *Orchestrator) reconcileOne(ctx context.Context, info extract.Info, occ reconcile.Occurrence) (reconcile.Result, error) {
	occCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.OccurrenceTimeout)
	defer cancel()
	return o.reconciler.Reconcile(occCtx, info, occ)
}

func (o *Orchestrator) pause(ctx context.Context) {
	if o.opts.BatchDelay <= 0 {
		return
	}
	t := time.NewTimer(o.opts.BatchDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-o.stopCh:
	case <-ctx.Done():
	}
}
