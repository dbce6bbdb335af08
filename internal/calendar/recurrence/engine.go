// Package recurrence expands recurrence rules into concrete occurrences and
// layers per-occurrence exceptions and series continuations on top. It is
// pure computation: no I/O, no clock, deterministic output for fixed input.
package recurrence

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// DefaultMaxOccurrences bounds a single expansion.
const DefaultMaxOccurrences = 1000

// Occurrence is one concrete span produced by expansion. RecurrenceID is the
// start of the original occurrence it derives from, which stays stable when
// a modification exception moves the span.
type Occurrence struct {
	Start        time.Time
	End          time.Time
	RecurrenceID time.Time
	SourceID     uuid.UUID
	IsException  bool
}

// Exception overrides a single occurrence, matched by exact RecurrenceID
// equality. Cancelled removes the occurrence; otherwise Replacement
// substitutes it.
type Exception struct {
	RecurrenceID time.Time
	Cancelled    bool
	Replacement  *Occurrence
}

// Series is a master plus its overrides. Continuations fork the series: all
// master occurrences from a continuation's anchor start onward are replaced
// by the continuation's own expansion (recursively). A continuation with a
// nil rule is a bulk cancel.
type Series struct {
	MasterID      uuid.UUID
	Anchor        domain.TimeInterval
	Rule          *domain.RecurrenceRule
	Exceptions    []Exception
	Continuations []*Series
}

// Engine expands recurrence rules.
type Engine struct {
	maxOccurrences int
}

// NewEngine creates an engine with the default occurrence cap.
func NewEngine() *Engine {
	return &Engine{maxOccurrences: DefaultMaxOccurrences}
}

// NewEngineWithCap creates an engine with a caller-supplied occurrence cap.
func NewEngineWithCap(maxOccurrences int) *Engine {
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}
	return &Engine{maxOccurrences: maxOccurrences}
}

var weekdayMap = map[domain.Weekday]rrule.Weekday{
	domain.Monday:    rrule.MO,
	domain.Tuesday:   rrule.TU,
	domain.Wednesday: rrule.WE,
	domain.Thursday:  rrule.TH,
	domain.Friday:    rrule.FR,
	domain.Saturday:  rrule.SA,
	domain.Sunday:    rrule.SU,
}

var frequencyMap = map[domain.Frequency]rrule.Frequency{
	domain.FreqDaily:   rrule.DAILY,
	domain.FreqWeekly:  rrule.WEEKLY,
	domain.FreqMonthly: rrule.MONTHLY,
	domain.FreqYearly:  rrule.YEARLY,
}

// Expand produces the ordered occurrences of rule anchored at the given
// interval that intersect [windowStart, windowEnd]. Occurrence instants are
// derived from the anchor's wall clock in its own timezone, so series cross
// DST transitions at a stable local time. Exceeding the occurrence cap fails
// with ErrRecurrenceTooBroad.
func (e *Engine) Expand(rule *domain.RecurrenceRule, anchor domain.TimeInterval, windowStart, windowEnd time.Time) ([]Occurrence, error) {
	opt := rrule.ROption{
		Freq:     frequencyMap[rule.Frequency()],
		Interval: rule.Interval(),
		Dtstart:  anchor.StartLocal(),
	}
	if c := rule.Count(); c != nil {
		opt.Count = *c
	}
	if u := rule.Until(); u != nil {
		opt.Until = *u
	}
	for _, wd := range rule.ByWeekday() {
		opt.Byweekday = append(opt.Byweekday, weekdayMap[wd])
	}
	opt.Bymonthday = rule.ByMonthDay()
	opt.Bymonth = rule.ByMonth()

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, err
	}

	duration := anchor.Duration()
	// Widen the query so occurrences that start before the window but still
	// overlap it are included.
	queryStart := windowStart.Add(-duration)
	starts := r.Between(queryStart, windowEnd, true)
	if len(starts) > e.maxOccurrences {
		return nil, domain.ErrRecurrenceTooBroad
	}

	occurrences := make([]Occurrence, 0, len(starts))
	for _, start := range starts {
		end := start.Add(duration)
		if !start.Before(windowEnd) || !end.After(windowStart) {
			continue
		}
		occurrences = append(occurrences, Occurrence{
			Start:        start.UTC(),
			End:          end.UTC(),
			RecurrenceID: start.UTC(),
		})
	}
	return occurrences, nil
}

// ApplyExceptions replaces or removes matched occurrences. Matching is by
// exact RecurrenceID equality; unmatched exceptions are ignored.
func ApplyExceptions(occurrences []Occurrence, exceptions []Exception) []Occurrence {
	if len(exceptions) == 0 {
		return occurrences
	}
	byID := make(map[int64]Exception, len(exceptions))
	for _, ex := range exceptions {
		byID[ex.RecurrenceID.UTC().UnixNano()] = ex
	}

	out := make([]Occurrence, 0, len(occurrences))
	for _, occ := range occurrences {
		ex, ok := byID[occ.RecurrenceID.UnixNano()]
		if !ok {
			out = append(out, occ)
			continue
		}
		if ex.Cancelled {
			continue
		}
		if ex.Replacement != nil {
			replacement := *ex.Replacement
			replacement.RecurrenceID = occ.RecurrenceID
			replacement.IsException = true
			out = append(out, replacement)
		}
	}
	return out
}

// ExpandSeries expands a series over the window: master occurrences, then
// exceptions, then continuations. Continuations are applied in start order;
// each discards the occurrences from its start onward and substitutes its
// own (recursive) expansion, or nothing when its rule is nil (bulk cancel).
func (e *Engine) ExpandSeries(series *Series, windowStart, windowEnd time.Time) ([]Occurrence, error) {
	var occurrences []Occurrence
	if series.Rule != nil {
		expanded, err := e.Expand(series.Rule, series.Anchor, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		occurrences = expanded
	} else if series.Anchor.OverlapsRange(windowStart, windowEnd) {
		// A series without a rule contributes its anchor span only.
		occurrences = []Occurrence{{
			Start:        series.Anchor.Start(),
			End:          series.Anchor.End(),
			RecurrenceID: series.Anchor.Start(),
		}}
	}

	for i := range occurrences {
		occurrences[i].SourceID = series.MasterID
	}
	occurrences = ApplyExceptions(occurrences, series.Exceptions)

	continuations := append([]*Series(nil), series.Continuations...)
	sort.Slice(continuations, func(i, j int) bool {
		return continuations[i].Anchor.Start().Before(continuations[j].Anchor.Start())
	})

	for _, continuation := range continuations {
		cutoff := continuation.Anchor.Start()
		kept := occurrences[:0:0]
		for _, occ := range occurrences {
			if occ.Start.Before(cutoff) {
				kept = append(kept, occ)
			}
		}
		occurrences = kept

		if continuation.Rule == nil {
			// Bulk cancel: nothing replaces the discarded tail.
			continue
		}
		tail, err := e.ExpandSeries(continuation, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		occurrences = append(occurrences, tail...)
	}

	sortOccurrences(occurrences)
	if len(occurrences) > e.maxOccurrences {
		return nil, domain.ErrRecurrenceTooBroad
	}
	return occurrences, nil
}

func sortOccurrences(occurrences []Occurrence) {
	sort.Slice(occurrences, func(i, j int) bool {
		if !occurrences[i].Start.Equal(occurrences[j].Start) {
			return occurrences[i].Start.Before(occurrences[j].Start)
		}
		return occurrences[i].RecurrenceID.Before(occurrences[j].RecurrenceID)
	})
}
