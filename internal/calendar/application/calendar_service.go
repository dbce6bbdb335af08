package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/calendar/availability"
	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// ErrProviderOriginated is returned when an internal API call tries to
// mutate an entity the external provider owns.
var ErrProviderOriginated = errors.New("provider-originated entities are only changed by sync")

// CalendarService is the operation surface for calendars and events. It
// receives its collaborators explicitly; tests supply fakes.
type CalendarService struct {
	store        domain.Store
	adapters     AdapterFactory
	availability *availability.Engine
	syncs        *SyncService
	queue        JobQueue
	clock        Clock
	logger       *slog.Logger
}

// NewCalendarService creates a calendar service.
func NewCalendarService(
	store domain.Store,
	adapters AdapterFactory,
	availabilityEngine *availability.Engine,
	syncs *SyncService,
	queue JobQueue,
	clock Clock,
	logger *slog.Logger,
) *CalendarService {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CalendarService{
		store:        store,
		adapters:     adapters,
		availability: availabilityEngine,
		syncs:        syncs,
		queue:        queue,
		clock:        clock,
		logger:       logger,
	}
}

// ExternalAttendeeInput names an external participant.
type ExternalAttendeeInput struct {
	Email string
	Name  string
}

// CreateEventInput carries the inputs for creating an event.
type CreateEventInput struct {
	CalendarID          uuid.UUID
	Title               string
	Description         string
	Start               time.Time
	End                 time.Time
	Timezone            string
	RecurrenceRule      string
	AttendeeUserIDs     []uuid.UUID
	ExternalAttendees   []ExternalAttendeeInput
	ResourceCalendarIDs []uuid.UUID
}

// CreateEvent books an event. The interval must fit an available window of
// the target calendar; bundle calendars pick a bookable child (primary
// preferred) and the event lands there. Events on external calendars are
// pushed to the provider first so the local mirror carries the external id.
func (s *CalendarService) CreateEvent(ctx context.Context, tenant domain.TenantID, input CreateEventInput) (*domain.CalendarEvent, error) {
	calendar, err := s.store.Calendars().FindByID(ctx, tenant, input.CalendarID)
	if err != nil {
		return nil, err
	}
	interval, err := domain.NewTimeInterval(input.Start, input.End, input.Timezone)
	if err != nil {
		return nil, err
	}

	target := calendar
	if calendar.IsBundle() {
		child, err := s.availability.FindBookableChild(ctx, tenant, calendar, interval)
		if err != nil {
			return nil, err
		}
		target = child
	} else if err := s.availability.EnsureBookable(ctx, tenant, calendar, interval); err != nil {
		return nil, err
	}

	var rule *domain.RecurrenceRule
	if input.RecurrenceRule != "" {
		rule, err = domain.ParseRecurrenceRule(tenant, input.RecurrenceRule)
		if err != nil {
			return nil, err
		}
	}

	externalID := ""
	if target.Provider().IsExternal() {
		adapter, err := s.adapters.AdapterFor(ctx, tenant, target.Provider())
		if err != nil {
			return nil, err
		}
		created, err := adapter.CreateEvent(ctx, target.ExternalID(), EventInput{
			Title:          input.Title,
			Description:    input.Description,
			Start:          interval.Start(),
			End:            interval.End(),
			Timezone:       interval.Timezone(),
			RecurrenceRule: input.RecurrenceRule,
			Attendees:      externalAttendeeRecords(input.ExternalAttendees),
		})
		if err != nil {
			return nil, err
		}
		externalID = created.ExternalID
	}

	spec := domain.CalendarEventSpec{
		CalendarID:  target.ID(),
		Title:       input.Title,
		Description: input.Description,
		Interval:    interval,
		ExternalID:  externalID,
	}
	if rule != nil {
		ruleID := rule.ID()
		spec.RecurrenceRuleID = &ruleID
	}
	event, err := domain.NewCalendarEvent(tenant, spec)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		if rule != nil {
			if err := tx.RecurrenceRules().Save(ctx, rule); err != nil {
				return err
			}
		}
		if err := tx.Events().Save(ctx, event); err != nil {
			return err
		}
		return s.saveParticipants(ctx, tx, tenant, event.ID(), input)
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func externalAttendeeRecords(attendees []ExternalAttendeeInput) []AttendeeRecord {
	records := make([]AttendeeRecord, 0, len(attendees))
	for _, attendee := range attendees {
		records = append(records, AttendeeRecord{
			Email:  attendee.Email,
			Name:   attendee.Name,
			Status: domain.RSVPPending,
		})
	}
	return records
}

func (s *CalendarService) saveParticipants(ctx context.Context, tx domain.Store, tenant domain.TenantID, eventID uuid.UUID, input CreateEventInput) error {
	var attendances []*domain.EventAttendance
	for _, userID := range input.AttendeeUserIDs {
		attendance, err := domain.NewEventAttendance(tenant, eventID, userID)
		if err != nil {
			return err
		}
		attendances = append(attendances, attendance)
	}
	if len(attendances) > 0 {
		if err := tx.Attendances().SaveAttendances(ctx, attendances); err != nil {
			return err
		}
	}

	var external []*domain.EventExternalAttendance
	for _, input := range input.ExternalAttendees {
		attendee, err := tx.Attendances().FindOrCreateExternalAttendee(ctx, tenant, input.Email, input.Name)
		if err != nil {
			return err
		}
		attendance, err := domain.NewEventExternalAttendance(tenant, eventID, attendee, domain.RSVPPending)
		if err != nil {
			return err
		}
		external = append(external, attendance)
	}
	if len(external) > 0 {
		if err := tx.Attendances().SaveExternalAttendances(ctx, external); err != nil {
			return err
		}
	}

	var allocations []*domain.ResourceAllocation
	for _, resourceID := range input.ResourceCalendarIDs {
		resource, err := tx.Calendars().FindByID(ctx, tenant, resourceID)
		if err != nil {
			return err
		}
		allocation, err := domain.NewResourceAllocation(tenant, eventID, resource)
		if err != nil {
			return err
		}
		allocations = append(allocations, allocation)
	}
	if len(allocations) > 0 {
		return tx.Attendances().SaveResourceAllocations(ctx, allocations)
	}
	return nil
}

// UpdateEventInput carries the mutable event fields.
type UpdateEventInput struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Timezone    string
}

// UpdateEvent updates an event and pushes the change to the provider when
// the event lives on an external calendar. Provider-originated mirrors
// (BlockedTimes) are not reachable here, which keeps sync authoritative.
func (s *CalendarService) UpdateEvent(ctx context.Context, tenant domain.TenantID, eventID uuid.UUID, input UpdateEventInput) (*domain.CalendarEvent, error) {
	event, err := s.store.Events().FindByID(ctx, tenant, eventID)
	if err != nil {
		return nil, err
	}
	calendar, err := s.store.Calendars().FindByID(ctx, tenant, event.CalendarID())
	if err != nil {
		return nil, err
	}
	interval, err := domain.NewTimeInterval(input.Start, input.End, input.Timezone)
	if err != nil {
		return nil, err
	}

	if calendar.Provider().IsExternal() && event.ExternalID() != "" {
		adapter, err := s.adapters.AdapterFor(ctx, tenant, calendar.Provider())
		if err != nil {
			return nil, err
		}
		if _, err := adapter.UpdateEvent(ctx, calendar.ExternalID(), event.ExternalID(), EventInput{
			Title:       input.Title,
			Description: input.Description,
			Start:       interval.Start(),
			End:         interval.End(),
			Timezone:    interval.Timezone(),
		}); err != nil {
			return nil, err
		}
	}

	if err := event.UpdateDetails(input.Title, input.Description, interval); err != nil {
		return nil, err
	}
	if err := s.store.Events().Save(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// DeleteEvent removes an event. Deleting a recurring master with
// deleteSeries removes the whole series; deleting a single instance records
// a cancellation exception instead, so the series keeps its shape.
func (s *CalendarService) DeleteEvent(ctx context.Context, tenant domain.TenantID, eventID uuid.UUID, deleteSeries bool) error {
	event, err := s.store.Events().FindByID(ctx, tenant, eventID)
	if err != nil {
		return err
	}
	calendar, err := s.store.Calendars().FindByID(ctx, tenant, event.CalendarID())
	if err != nil {
		return err
	}

	// Instance of a series: cancel just this occurrence.
	if event.IsInstance() && !deleteSeries {
		recurrenceID := event.RecurrenceID()
		if recurrenceID == nil {
			start := event.Interval().Start()
			recurrenceID = &start
		}
		_, err := s.CreateRecurringException(ctx, tenant, *event.ParentEventID(), *recurrenceID, nil)
		return err
	}

	if calendar.Provider().IsExternal() && event.ExternalID() != "" {
		adapter, err := s.adapters.AdapterFor(ctx, tenant, calendar.Provider())
		if err != nil {
			return err
		}
		if err := adapter.DeleteEvent(ctx, calendar.ExternalID(), event.ExternalID()); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}

	return s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		if event.IsRecurring() && deleteSeries {
			instances, err := tx.Events().FindInstances(ctx, tenant, []uuid.UUID{event.ID()})
			if err != nil {
				return err
			}
			for _, instance := range instances {
				if err := tx.Events().Delete(ctx, tenant, instance.ID()); err != nil {
					return err
				}
			}
			if ruleID := event.RecurrenceRuleID(); ruleID != nil {
				if err := tx.RecurrenceRules().Delete(ctx, tenant, *ruleID); err != nil && !errors.Is(err, domain.ErrNotFound) {
					return err
				}
			}
		}
		return tx.Events().Delete(ctx, tenant, event.ID())
	})
}

// ExceptionChange carries the modified fields of a single occurrence.
type ExceptionChange struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Timezone    string
}

// CreateRecurringException cancels or modifies one occurrence of a
// recurring event. change nil means cancellation; the exception event keeps
// the occurrence's recurrence id so expansion can match it.
func (s *CalendarService) CreateRecurringException(ctx context.Context, tenant domain.TenantID, parentID uuid.UUID, occurrenceStart time.Time, change *ExceptionChange) (*domain.CalendarEvent, error) {
	parent, err := s.store.Events().FindByID(ctx, tenant, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsRecurring() {
		return nil, domain.ErrEventNotRecurring
	}

	spec := domain.CalendarEventSpec{
		CalendarID:  parent.CalendarID(),
		Title:       parent.Title(),
		Description: parent.Description(),
	}
	if change != nil {
		if change.Title != "" {
			spec.Title = change.Title
		}
		if change.Description != "" {
			spec.Description = change.Description
		}
		interval, err := domain.NewTimeInterval(change.Start, change.End, change.Timezone)
		if err != nil {
			return nil, err
		}
		spec.Interval = interval
	} else {
		spec.Interval = parent.Interval().Shift(occurrenceStart)
	}

	exception, err := domain.NewCalendarEvent(tenant, spec)
	if err != nil {
		return nil, err
	}
	if err := exception.LinkParent(parent, occurrenceStart); err != nil {
		return nil, err
	}
	if change == nil {
		exception.Cancel()
	}
	if err := s.store.Events().Save(ctx, exception); err != nil {
		return nil, err
	}
	return exception, nil
}

// CreateBulkContinuation forks a recurring series: occurrences of the master
// from startTime onward are superseded by the continuation. An empty
// newRRule makes the continuation a bulk cancel.
func (s *CalendarService) CreateBulkContinuation(ctx context.Context, tenant domain.TenantID, masterID uuid.UUID, startTime time.Time, newRRule string) (*domain.CalendarEvent, error) {
	master, err := s.store.Events().FindByID(ctx, tenant, masterID)
	if err != nil {
		return nil, err
	}
	if !master.IsRecurring() {
		return nil, domain.ErrEventNotRecurring
	}

	var rule *domain.RecurrenceRule
	if newRRule != "" {
		rule, err = domain.ParseRecurrenceRule(tenant, newRRule)
		if err != nil {
			return nil, err
		}
	}

	spec := domain.CalendarEventSpec{
		CalendarID:  master.CalendarID(),
		Title:       master.Title(),
		Description: master.Description(),
		Interval:    master.Interval().Shift(startTime),
	}
	if rule != nil {
		ruleID := rule.ID()
		spec.RecurrenceRuleID = &ruleID
	}
	continuation, err := domain.NewCalendarEvent(tenant, spec)
	if err != nil {
		return nil, err
	}
	if err := continuation.MarkContinuationOf(master); err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		if rule != nil {
			if err := tx.RecurrenceRules().Save(ctx, rule); err != nil {
				return err
			}
		}
		return tx.Events().Save(ctx, continuation)
	})
	if err != nil {
		return nil, err
	}
	return continuation, nil
}

// CreateVirtualCalendar creates an application-managed calendar.
func (s *CalendarService) CreateVirtualCalendar(ctx context.Context, tenant domain.TenantID, name, description string, managesAvailableWindows bool) (*domain.Calendar, error) {
	calendar, err := domain.NewCalendar(tenant, domain.CalendarSpec{
		Name:                    name,
		Description:             description,
		Provider:                domain.ProviderInternal,
		Kind:                    domain.KindVirtual,
		ManagesAvailableWindows: managesAvailableWindows,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.Calendars().Save(ctx, calendar); err != nil {
		return nil, err
	}
	return calendar, nil
}

// CreateBundleCalendar creates a bundle over the given children.
func (s *CalendarService) CreateBundleCalendar(ctx context.Context, tenant domain.TenantID, name string, childIDs []uuid.UUID, primaryChildID *uuid.UUID) (*domain.Calendar, error) {
	children := make([]*domain.Calendar, 0, len(childIDs))
	for _, childID := range childIDs {
		child, err := s.store.Calendars().FindByID(ctx, tenant, childID)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	bundle, err := domain.NewBundleCalendar(tenant, name, children, primaryChildID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Calendars().Save(ctx, bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

// BlockedTimeInput is one manual block.
type BlockedTimeInput struct {
	Start    time.Time
	End      time.Time
	Timezone string
	Reason   string
}

// BulkCreateBlockedTimes creates manual blocks on a calendar.
func (s *CalendarService) BulkCreateBlockedTimes(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, inputs []BlockedTimeInput) ([]*domain.BlockedTime, error) {
	calendar, err := s.store.Calendars().FindByID(ctx, tenant, calendarID)
	if err != nil {
		return nil, err
	}
	blocks := make([]*domain.BlockedTime, 0, len(inputs))
	for _, input := range inputs {
		interval, err := domain.NewTimeInterval(input.Start, input.End, input.Timezone)
		if err != nil {
			return nil, err
		}
		block, err := domain.NewBlockedTime(tenant, domain.BlockedTimeSpec{
			CalendarID: calendar.ID(),
			Interval:   interval,
			Reason:     input.Reason,
		})
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	if err := s.store.BlockedTimes().SaveAll(ctx, blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// AvailableTimeInput is one availability window.
type AvailableTimeInput struct {
	Start    time.Time
	End      time.Time
	Timezone string
}

// BulkCreateAvailableTimes creates availability windows. Only calendars that
// manage available windows accept them.
func (s *CalendarService) BulkCreateAvailableTimes(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, inputs []AvailableTimeInput) ([]*domain.AvailableTime, error) {
	calendar, err := s.store.Calendars().FindByID(ctx, tenant, calendarID)
	if err != nil {
		return nil, err
	}
	if !calendar.ManagesAvailableWindows() {
		return nil, domain.ErrWindowsNotManaged
	}
	windows := make([]*domain.AvailableTime, 0, len(inputs))
	for _, input := range inputs {
		interval, err := domain.NewTimeInterval(input.Start, input.End, input.Timezone)
		if err != nil {
			return nil, err
		}
		window, err := domain.NewAvailableTime(tenant, calendar.ID(), interval, nil)
		if err != nil {
			return nil, err
		}
		windows = append(windows, window)
	}
	if err := s.store.AvailableTimes().SaveAll(ctx, windows); err != nil {
		return nil, err
	}
	return windows, nil
}

// RequestCalendarSync schedules a sync and enqueues its job.
func (s *CalendarService) RequestCalendarSync(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, start, end time.Time, shouldUpdateEvents bool) (*domain.CalendarSync, error) {
	calendar, err := s.store.Calendars().FindByID(ctx, tenant, calendarID)
	if err != nil {
		return nil, err
	}
	window, err := domain.NewTimeInterval(start, end, "UTC")
	if err != nil {
		return nil, err
	}
	sync, err := s.syncs.RequestSync(ctx, tenant, calendar.ID(), window, shouldUpdateEvents)
	if err != nil {
		return nil, err
	}
	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, Job{
			Kind:     JobSyncCalendar,
			TenantID: tenant.UUID(),
			Provider: calendar.Provider(),
			EntityID: sync.ID(),
		}); err != nil {
			return nil, err
		}
	}
	return sync, nil
}

// ImportAccountCalendars mirrors the provider account's calendars locally.
func (s *CalendarService) ImportAccountCalendars(ctx context.Context, tenant domain.TenantID, provider domain.CalendarProvider) (int, error) {
	adapter, err := s.adapters.AdapterFor(ctx, tenant, provider)
	if err != nil {
		return 0, err
	}
	descriptors, err := adapter.ListAccountCalendars(ctx)
	if err != nil {
		return 0, err
	}
	return s.importDescriptors(ctx, tenant, provider, descriptors, domain.KindPersonal)
}

// ImportOrganizationResources mirrors the organization's bookable resources
// (rooms, equipment) as resource calendars.
func (s *CalendarService) ImportOrganizationResources(ctx context.Context, tenant domain.TenantID, provider domain.CalendarProvider) (int, error) {
	adapter, err := s.adapters.AdapterFor(ctx, tenant, provider)
	if err != nil {
		return 0, err
	}
	descriptors, err := adapter.ListResources(ctx)
	if err != nil {
		return 0, err
	}
	return s.importDescriptors(ctx, tenant, provider, descriptors, domain.KindResource)
}

func (s *CalendarService) importDescriptors(ctx context.Context, tenant domain.TenantID, provider domain.CalendarProvider, descriptors []CalendarDescriptor, kind domain.CalendarKind) (int, error) {
	imported := 0
	for _, descriptor := range descriptors {
		if descriptor.ExternalID == "" {
			continue
		}
		existing, err := s.store.Calendars().FindByExternalID(ctx, tenant, provider, descriptor.ExternalID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return imported, err
		}
		if existing != nil {
			if err := existing.Rename(descriptor.Name); err == nil {
				if err := s.store.Calendars().Save(ctx, existing); err != nil {
					return imported, err
				}
			}
			continue
		}

		spec := domain.CalendarSpec{
			Name:        descriptor.Name,
			Description: descriptor.Description,
			Email:       descriptor.Email,
			ExternalID:  descriptor.ExternalID,
			Provider:    provider,
			Kind:        kind,
		}
		if descriptor.IsResource {
			spec.Kind = domain.KindResource
		}
		if descriptor.Capacity > 0 {
			capacity := descriptor.Capacity
			spec.Capacity = &capacity
		}
		calendar, err := domain.NewCalendar(tenant, spec)
		if err != nil {
			s.logger.Warn("skipping unusable provider calendar",
				"external_id", descriptor.ExternalID, "error", err)
			continue
		}
		if err := s.store.Calendars().Save(ctx, calendar); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

// GetEvent loads an event by id.
func (s *CalendarService) GetEvent(ctx context.Context, tenant domain.TenantID, eventID uuid.UUID) (*domain.CalendarEvent, error) {
	return s.store.Events().FindByID(ctx, tenant, eventID)
}

// UnavailableWindows exposes the availability engine's busy view.
func (s *CalendarService) UnavailableWindows(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, start, end time.Time) ([]availability.UnavailableWindow, error) {
	calendar, err := s.store.Calendars().FindByID(ctx, tenant, calendarID)
	if err != nil {
		return nil, err
	}
	return s.availability.UnavailableWindows(ctx, tenant, calendar, start, end)
}

// AvailableWindows exposes the availability engine's bookable view.
func (s *CalendarService) AvailableWindows(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, start, end time.Time) ([]availability.AvailableWindow, error) {
	calendar, err := s.store.Calendars().FindByID(ctx, tenant, calendarID)
	if err != nil {
		return nil, err
	}
	return s.availability.AvailableWindows(ctx, tenant, calendar, start, end)
}

// TransferEvent moves an event to another calendar via the sync service.
func (s *CalendarService) TransferEvent(ctx context.Context, tenant domain.TenantID, eventID, newCalendarID uuid.UUID) (*domain.CalendarEvent, error) {
	event, err := s.store.Events().FindByID(ctx, tenant, eventID)
	if err != nil {
		return nil, err
	}
	newCalendar, err := s.store.Calendars().FindByID(ctx, tenant, newCalendarID)
	if err != nil {
		return nil, err
	}
	if event.CalendarID() == newCalendar.ID() {
		return nil, fmt.Errorf("event already lives on calendar %s", newCalendarID)
	}
	return s.syncs.TransferEvent(ctx, tenant, event, newCalendar)
}
