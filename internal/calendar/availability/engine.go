// Package availability derives bookable and blocked windows for calendars,
// including bundle calendars that pool their children.
package availability

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/calendar/domain"
	"github.com/meridianhq/meridian/internal/calendar/recurrence"
)

// Window reasons.
const (
	ReasonCalendarEvent = "calendar_event"
	ReasonBlockedTime   = "blocked_time"
)

// UnavailableWindow is a span during which a calendar cannot be booked.
type UnavailableWindow struct {
	Start      time.Time
	End        time.Time
	Reason     string
	SourceID   uuid.UUID
	CalendarID uuid.UUID
}

// AvailableWindow is a span during which a calendar can be booked.
// CanBookPartially is false for explicitly managed windows, which must be
// booked whole.
type AvailableWindow struct {
	Start            time.Time
	End              time.Time
	CanBookPartially bool
	CalendarID       uuid.UUID
	AvailableTimeID  *uuid.UUID
}

// Engine computes availability from persisted events, blocks and windows.
type Engine struct {
	store      domain.Store
	recurrence *recurrence.Engine
	logger     *slog.Logger
}

// NewEngine creates an availability engine.
func NewEngine(store domain.Store, recurrenceEngine *recurrence.Engine, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if recurrenceEngine == nil {
		recurrenceEngine = recurrence.NewEngine()
	}
	return &Engine{store: store, recurrence: recurrenceEngine, logger: logger}
}

// UnavailableWindows returns the spans of [start, end) covered by events or
// blocked times, sorted ascending by start. For bundles the union over all
// children is returned.
func (e *Engine) UnavailableWindows(ctx context.Context, tenant domain.TenantID, calendar *domain.Calendar, start, end time.Time) ([]UnavailableWindow, error) {
	calendarIDs, err := e.memberCalendarIDs(ctx, tenant, calendar)
	if err != nil {
		return nil, err
	}
	return e.unavailableForCalendars(ctx, tenant, calendarIDs, start, end)
}

func (e *Engine) unavailableForCalendars(ctx context.Context, tenant domain.TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]UnavailableWindow, error) {
	windows := make([]UnavailableWindow, 0)

	eventOccurrences, err := e.expandEvents(ctx, tenant, calendarIDs, start, end)
	if err != nil {
		return nil, err
	}
	windows = append(windows, eventOccurrences...)

	blocked, err := e.expandBlockedTimes(ctx, tenant, calendarIDs, start, end)
	if err != nil {
		return nil, err
	}
	windows = append(windows, blocked...)

	sort.Slice(windows, func(i, j int) bool {
		if !windows[i].Start.Equal(windows[j].Start) {
			return windows[i].Start.Before(windows[j].Start)
		}
		return windows[i].End.Before(windows[j].End)
	})
	return windows, nil
}

// AvailableWindows returns the bookable spans of [start, end).
//
// Calendars that manage available windows return their stored windows
// (expanded for recurrence) with CanBookPartially=false. All other calendars
// return the complement of their unavailable windows with
// CanBookPartially=true. Bundles return the coalesced union over children: a
// time is available on the bundle iff it is available on at least one child.
func (e *Engine) AvailableWindows(ctx context.Context, tenant domain.TenantID, calendar *domain.Calendar, start, end time.Time) ([]AvailableWindow, error) {
	if calendar.IsBundle() {
		return e.bundleAvailableWindows(ctx, tenant, calendar, start, end)
	}
	return e.singleAvailableWindows(ctx, tenant, calendar, start, end)
}

func (e *Engine) singleAvailableWindows(ctx context.Context, tenant domain.TenantID, calendar *domain.Calendar, start, end time.Time) ([]AvailableWindow, error) {
	if calendar.ManagesAvailableWindows() {
		return e.managedWindows(ctx, tenant, calendar, start, end)
	}

	unavailable, err := e.unavailableForCalendars(ctx, tenant, []uuid.UUID{calendar.ID()}, start, end)
	if err != nil {
		return nil, err
	}
	gaps := complement(unavailable, start, end)

	windows := make([]AvailableWindow, 0, len(gaps))
	for _, gap := range gaps {
		windows = append(windows, AvailableWindow{
			Start:            gap.start,
			End:              gap.end,
			CanBookPartially: true,
			CalendarID:       calendar.ID(),
		})
	}
	return windows, nil
}

func (e *Engine) managedWindows(ctx context.Context, tenant domain.TenantID, calendar *domain.Calendar, start, end time.Time) ([]AvailableWindow, error) {
	stored, err := e.store.AvailableTimes().FindContainedIn(ctx, tenant, calendar.ID(), start, end)
	if err != nil {
		return nil, err
	}

	ruleIDs := make([]uuid.UUID, 0)
	for _, window := range stored {
		if id := window.RecurrenceRuleID(); id != nil {
			ruleIDs = append(ruleIDs, *id)
		}
	}
	rules, err := e.loadRules(ctx, tenant, ruleIDs)
	if err != nil {
		return nil, err
	}

	windows := make([]AvailableWindow, 0, len(stored))
	for _, window := range stored {
		id := window.ID()
		if ruleID := window.RecurrenceRuleID(); ruleID != nil {
			rule := rules[*ruleID]
			if rule == nil {
				continue
			}
			occurrences, err := e.recurrence.Expand(rule, window.Interval(), start, end)
			if err != nil {
				return nil, err
			}
			for _, occ := range occurrences {
				windows = append(windows, AvailableWindow{
					Start:            occ.Start,
					End:              occ.End,
					CanBookPartially: false,
					CalendarID:       calendar.ID(),
					AvailableTimeID:  &id,
				})
			}
			continue
		}
		windows = append(windows, AvailableWindow{
			Start:            window.Interval().Start(),
			End:              window.Interval().End(),
			CanBookPartially: false,
			CalendarID:       calendar.ID(),
			AvailableTimeID:  &id,
		})
	}

	sort.Slice(windows, func(i, j int) bool { return windows[i].Start.Before(windows[j].Start) })
	return windows, nil
}

func (e *Engine) bundleAvailableWindows(ctx context.Context, tenant domain.TenantID, bundle *domain.Calendar, start, end time.Time) ([]AvailableWindow, error) {
	children, err := e.store.Calendars().FindChildren(ctx, tenant, bundle.ID())
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, domain.ErrEmptyBundle
	}

	var all []AvailableWindow
	for _, child := range children {
		windows, err := e.singleAvailableWindows(ctx, tenant, child, start, end)
		if err != nil {
			return nil, err
		}
		all = append(all, windows...)
	}
	return coalesceAvailable(all, bundle.ID()), nil
}

// FindBookableChild picks the child of a bundle that can take a booking over
// the interval. The designated primary wins when it is available; otherwise
// the first available child in stable order. No available child fails with
// ErrNoAvailableChildCalendar.
func (e *Engine) FindBookableChild(ctx context.Context, tenant domain.TenantID, bundle *domain.Calendar, interval domain.TimeInterval) (*domain.Calendar, error) {
	if !bundle.IsBundle() {
		return nil, domain.ErrNotBundleCalendar
	}
	children, err := e.store.Calendars().FindChildren(ctx, tenant, bundle.ID())
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, domain.ErrEmptyBundle
	}

	ordered := children
	if primaryID := bundle.PrimaryChildID(); primaryID != nil {
		ordered = make([]*domain.Calendar, 0, len(children))
		for _, child := range children {
			if child.ID() == *primaryID {
				ordered = append(ordered, child)
			}
		}
		for _, child := range children {
			if child.ID() != *primaryID {
				ordered = append(ordered, child)
			}
		}
	}

	for _, child := range ordered {
		fits, err := e.fits(ctx, tenant, child, interval)
		if err != nil {
			return nil, err
		}
		if fits {
			return child, nil
		}
	}
	return nil, domain.ErrNoAvailableChildCalendar
}

// EnsureBookable verifies the interval fits an available window of the
// calendar (or of at least one bundle child), failing with
// ErrNoAvailableTimeWindow otherwise.
func (e *Engine) EnsureBookable(ctx context.Context, tenant domain.TenantID, calendar *domain.Calendar, interval domain.TimeInterval) error {
	if calendar.IsBundle() {
		_, err := e.FindBookableChild(ctx, tenant, calendar, interval)
		if errors.Is(err, domain.ErrNoAvailableChildCalendar) {
			return domain.ErrNoAvailableTimeWindow
		}
		return err
	}
	fits, err := e.fits(ctx, tenant, calendar, interval)
	if err != nil {
		return err
	}
	if !fits {
		return domain.ErrNoAvailableTimeWindow
	}
	return nil
}

func (e *Engine) fits(ctx context.Context, tenant domain.TenantID, calendar *domain.Calendar, interval domain.TimeInterval) (bool, error) {
	// Query a window slightly wider than the booking so surrounding
	// availability is visible.
	windows, err := e.singleAvailableWindows(ctx, tenant, calendar, interval.Start().Add(-24*time.Hour), interval.End().Add(24*time.Hour))
	if err != nil {
		return false, err
	}
	for _, window := range windows {
		if window.CanBookPartially {
			if !interval.Start().Before(window.Start) && !interval.End().After(window.End) {
				return true, nil
			}
			continue
		}
		// Managed windows are booked whole.
		if interval.Start().Equal(window.Start) && interval.End().Equal(window.End) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) memberCalendarIDs(ctx context.Context, tenant domain.TenantID, calendar *domain.Calendar) ([]uuid.UUID, error) {
	if !calendar.IsBundle() {
		return []uuid.UUID{calendar.ID()}, nil
	}
	children, err := e.store.Calendars().FindChildren(ctx, tenant, calendar.ID())
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, domain.ErrEmptyBundle
	}
	ids := make([]uuid.UUID, 0, len(children))
	for _, child := range children {
		ids = append(ids, child.ID())
	}
	return ids, nil
}

// expandEvents returns unavailable windows for all confirmed event
// occurrences intersecting the range: non-recurring events plus recurring
// series expanded with their exceptions and continuations.
func (e *Engine) expandEvents(ctx context.Context, tenant domain.TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]UnavailableWindow, error) {
	events := e.store.Events()

	windows := make([]UnavailableWindow, 0)
	calendarByEvent := make(map[uuid.UUID]uuid.UUID)

	nonRecurring, err := events.FindOverlapping(ctx, tenant, calendarIDs, start, end)
	if err != nil {
		return nil, err
	}
	for _, event := range nonRecurring {
		windows = append(windows, UnavailableWindow{
			Start:      event.Interval().Start(),
			End:        event.Interval().End(),
			Reason:     ReasonCalendarEvent,
			SourceID:   event.ID(),
			CalendarID: event.CalendarID(),
		})
	}

	masters, err := events.FindRecurringMasters(ctx, tenant, calendarIDs, start, end)
	if err != nil {
		return nil, err
	}
	for _, master := range masters {
		series, err := e.buildSeries(ctx, tenant, master, 0)
		if err != nil {
			return nil, err
		}
		calendarByEvent[master.ID()] = master.CalendarID()
		occurrences, err := e.recurrence.ExpandSeries(series, start, end)
		if err != nil {
			return nil, err
		}
		for _, occ := range occurrences {
			calendarID, ok := calendarByEvent[occ.SourceID]
			if !ok {
				calendarID = master.CalendarID()
			}
			windows = append(windows, UnavailableWindow{
				Start:      occ.Start,
				End:        occ.End,
				Reason:     ReasonCalendarEvent,
				SourceID:   occ.SourceID,
				CalendarID: calendarID,
			})
		}
	}
	return windows, nil
}

// maxContinuationDepth bounds continuation chains to keep cyclic data from
// looping forever.
const maxContinuationDepth = 32

func (e *Engine) buildSeries(ctx context.Context, tenant domain.TenantID, master *domain.CalendarEvent, depth int) (*recurrence.Series, error) {
	if depth > maxContinuationDepth {
		return nil, domain.ErrRecurrenceTooBroad
	}

	series := &recurrence.Series{
		MasterID: master.ID(),
		Anchor:   master.Interval(),
	}
	if ruleID := master.RecurrenceRuleID(); ruleID != nil {
		rule, err := e.store.RecurrenceRules().FindByID(ctx, tenant, *ruleID)
		if err != nil {
			return nil, err
		}
		series.Rule = rule
	}

	instances, err := e.store.Events().FindInstances(ctx, tenant, []uuid.UUID{master.ID()})
	if err != nil {
		return nil, err
	}
	for _, instance := range instances {
		recurrenceID := instance.RecurrenceID()
		if recurrenceID == nil {
			continue
		}
		exception := recurrence.Exception{RecurrenceID: *recurrenceID}
		if instance.Status() == domain.EventCancelled {
			exception.Cancelled = true
		} else {
			exception.Replacement = &recurrence.Occurrence{
				Start:    instance.Interval().Start(),
				End:      instance.Interval().End(),
				SourceID: instance.ID(),
			}
		}
		series.Exceptions = append(series.Exceptions, exception)
	}

	continuations, err := e.store.Events().FindContinuations(ctx, tenant, []uuid.UUID{master.ID()})
	if err != nil {
		return nil, err
	}
	for _, continuation := range continuations {
		child, err := e.buildSeries(ctx, tenant, continuation, depth+1)
		if err != nil {
			return nil, err
		}
		series.Continuations = append(series.Continuations, child)
	}
	return series, nil
}

func (e *Engine) expandBlockedTimes(ctx context.Context, tenant domain.TenantID, calendarIDs []uuid.UUID, start, end time.Time) ([]UnavailableWindow, error) {
	blocks := e.store.BlockedTimes()

	windows := make([]UnavailableWindow, 0)
	overlapping, err := blocks.FindOverlapping(ctx, tenant, calendarIDs, start, end)
	if err != nil {
		return nil, err
	}
	for _, block := range overlapping {
		if block.IsRecurring() {
			continue // masters are expanded below
		}
		windows = append(windows, UnavailableWindow{
			Start:      block.Interval().Start(),
			End:        block.Interval().End(),
			Reason:     ReasonBlockedTime,
			SourceID:   block.ID(),
			CalendarID: block.CalendarID(),
		})
	}

	masters, err := blocks.FindRecurringMasters(ctx, tenant, calendarIDs, start, end)
	if err != nil {
		return nil, err
	}
	ruleIDs := make([]uuid.UUID, 0, len(masters))
	for _, master := range masters {
		if id := master.RecurrenceRuleID(); id != nil {
			ruleIDs = append(ruleIDs, *id)
		}
	}
	rules, err := e.loadRules(ctx, tenant, ruleIDs)
	if err != nil {
		return nil, err
	}
	for _, master := range masters {
		ruleID := master.RecurrenceRuleID()
		if ruleID == nil {
			continue
		}
		rule := rules[*ruleID]
		if rule == nil {
			continue
		}
		occurrences, err := e.recurrence.Expand(rule, master.Interval(), start, end)
		if err != nil {
			return nil, err
		}
		for _, occ := range occurrences {
			windows = append(windows, UnavailableWindow{
				Start:      occ.Start,
				End:        occ.End,
				Reason:     ReasonBlockedTime,
				SourceID:   master.ID(),
				CalendarID: master.CalendarID(),
			})
		}
	}
	return windows, nil
}

func (e *Engine) loadRules(ctx context.Context, tenant domain.TenantID, ids []uuid.UUID) (map[uuid.UUID]*domain.RecurrenceRule, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*domain.RecurrenceRule{}, nil
	}
	return e.store.RecurrenceRules().FindByIDs(ctx, tenant, ids)
}

type span struct {
	start time.Time
	end   time.Time
}

// complement coalesces the (possibly overlapping) unavailable windows and
// returns the gaps inside [start, end), dropping empty intervals.
func complement(unavailable []UnavailableWindow, start, end time.Time) []span {
	if len(unavailable) == 0 {
		if end.After(start) {
			return []span{{start: start, end: end}}
		}
		return nil
	}

	merged := make([]span, 0, len(unavailable))
	for _, window := range unavailable {
		s, e := clamp(window.Start, window.End, start, end)
		if !e.After(s) {
			continue
		}
		if len(merged) > 0 && !s.After(merged[len(merged)-1].end) {
			if e.After(merged[len(merged)-1].end) {
				merged[len(merged)-1].end = e
			}
			continue
		}
		merged = append(merged, span{start: s, end: e})
	}

	gaps := make([]span, 0, len(merged)+1)
	cursor := start
	for _, busy := range merged {
		if busy.start.After(cursor) {
			gaps = append(gaps, span{start: cursor, end: busy.start})
		}
		if busy.end.After(cursor) {
			cursor = busy.end
		}
	}
	if end.After(cursor) {
		gaps = append(gaps, span{start: cursor, end: end})
	}
	return gaps
}

func clamp(s, e, start, end time.Time) (time.Time, time.Time) {
	if s.Before(start) {
		s = start
	}
	if e.After(end) {
		e = end
	}
	return s, e
}

// coalesceAvailable merges the union of child availability into bundle
// windows. Overlapping or touching spans collapse; a merged span allows
// partial booking if any contributing window does.
func coalesceAvailable(windows []AvailableWindow, bundleID uuid.UUID) []AvailableWindow {
	if len(windows) == 0 {
		return nil
	}
	sort.Slice(windows, func(i, j int) bool {
		if !windows[i].Start.Equal(windows[j].Start) {
			return windows[i].Start.Before(windows[j].Start)
		}
		return windows[i].End.Before(windows[j].End)
	})

	merged := make([]AvailableWindow, 0, len(windows))
	current := AvailableWindow{
		Start:            windows[0].Start,
		End:              windows[0].End,
		CanBookPartially: windows[0].CanBookPartially,
		CalendarID:       bundleID,
	}
	for _, window := range windows[1:] {
		if !window.Start.After(current.End) {
			if window.End.After(current.End) {
				current.End = window.End
			}
			current.CanBookPartially = current.CanBookPartially || window.CanBookPartially
			continue
		}
		merged = append(merged, current)
		current = AvailableWindow{
			Start:            window.Start,
			End:              window.End,
			CanBookPartially: window.CanBookPartially,
			CalendarID:       bundleID,
		}
	}
	merged = append(merged, current)
	return merged
}
