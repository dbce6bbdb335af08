package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/internal/calendar/domain"
)

// SyncService orchestrates initial and incremental synchronization of one
// calendar over a window. It streams provider events into an in-memory
// change set and applies the whole set in a single transaction, so a failed
// sync leaves no partial state behind.
type SyncService struct {
	store    domain.Store
	adapters AdapterFactory
	clock    Clock
	logger   *slog.Logger
}

// NewSyncService creates a sync service.
func NewSyncService(store domain.Store, adapters AdapterFactory, clock Clock, logger *slog.Logger) *SyncService {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{store: store, adapters: adapters, clock: clock, logger: logger}
}

// RequestSync schedules a sync of the calendar over the window. The caller
// (webhook pipeline, import flow, or operator) enqueues the returned sync's
// id as a job.
func (s *SyncService) RequestSync(ctx context.Context, tenant domain.TenantID, calendarID uuid.UUID, window domain.TimeInterval, shouldUpdateEvents bool) (*domain.CalendarSync, error) {
	sync, err := domain.NewCalendarSync(tenant, calendarID, window, shouldUpdateEvents)
	if err != nil {
		return nil, err
	}
	if err := s.store.Syncs().Save(ctx, sync); err != nil {
		return nil, err
	}
	return sync, nil
}

// Execute drives a scheduled sync to a terminal state. It is idempotent by
// sync id: a sync that already succeeded or is in progress is left alone,
// while a failed sync is started again so retries re-drive it. Contention with
// another in-flight sync for the same calendar fails with
// ErrSyncAlreadyRunning so the job runner can back off and retry.
func (s *SyncService) Execute(ctx context.Context, tenant domain.TenantID, syncID uuid.UUID) error {
	sync, err := s.store.Syncs().FindByID(ctx, tenant, syncID)
	if err != nil {
		return err
	}
	if sync.Status() == domain.SyncSuccess || sync.Status() == domain.SyncInProgress {
		s.logger.Debug("sync already handled, skipping",
			"sync_id", syncID, "status", sync.Status().String())
		return nil
	}

	calendar, err := s.store.Calendars().FindByID(ctx, tenant, sync.CalendarID())
	if err != nil {
		return err
	}

	running, err := s.store.Syncs().FindInProgress(ctx, tenant, calendar.ID())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if running != nil && running.ID() != sync.ID() {
		return domain.ErrSyncAlreadyRunning
	}

	adapter, err := s.adapters.AdapterFor(ctx, tenant, calendar.Provider())
	if err != nil {
		return err
	}

	// The token of the latest successful sync drives incremental retrieval.
	// It survives failed runs so retries resume from the same cursor.
	var syncToken string
	if latest, err := s.store.Syncs().FindLatestSuccessful(ctx, tenant, calendar.ID()); err == nil {
		syncToken = latest.NextSyncToken()
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if err := sync.Start(s.clock.Now()); err != nil {
		return err
	}
	if err := s.store.Syncs().Save(ctx, sync); err != nil {
		return err
	}

	nextToken, execErr := s.execute(ctx, tenant, calendar, sync, adapter, syncToken)
	if execErr != nil {
		s.logger.Warn("calendar sync failed",
			"tenant", tenant.String(),
			"calendar_id", calendar.ID(),
			"sync_id", sync.ID(),
			"error", execErr)
		if err := sync.Fail(s.clock.Now(), execErr); err != nil {
			return err
		}
		if err := s.store.Syncs().Save(ctx, sync); err != nil {
			return err
		}
		return execErr
	}

	if err := sync.Complete(s.clock.Now(), nextToken); err != nil {
		return err
	}
	if err := s.store.Syncs().Save(ctx, sync); err != nil {
		return err
	}
	s.logger.Info("calendar sync completed",
		"tenant", tenant.String(),
		"calendar_id", calendar.ID(),
		"sync_id", sync.ID(),
		"incremental", syncToken != "")
	return nil
}

// syncChanges is the staged change set for one sync cycle. Nothing touches
// the store until applyChanges runs it inside one transaction.
type syncChanges struct {
	rulesToCreate   []*domain.RecurrenceRule
	eventsToCreate  []*domain.CalendarEvent
	blocksToCreate  []*domain.BlockedTime
	eventsToUpdate  []*domain.CalendarEvent
	blocksToUpdate  []*domain.BlockedTime
	eventsToDelete  []string
	blocksToDelete  []string
	attendeeUpdates map[uuid.UUID][]AttendeeRecord
	matched         map[string]struct{}
}

func newSyncChanges() *syncChanges {
	return &syncChanges{
		attendeeUpdates: make(map[uuid.UUID][]AttendeeRecord),
		matched:         make(map[string]struct{}),
	}
}

func (s *SyncService) execute(
	ctx context.Context,
	tenant domain.TenantID,
	calendar *domain.Calendar,
	sync *domain.CalendarSync,
	adapter CalendarAdapter,
	syncToken string,
) (string, error) {
	window := sync.Window()
	start, end := window.Start(), window.End()

	// Baselines: local mirrors inside the window, indexed by external id.
	existingEvents, err := s.store.Events().FindContainedIn(ctx, tenant, calendar.ID(), start, end)
	if err != nil {
		return "", err
	}
	eventsByExternalID := make(map[string]*domain.CalendarEvent, len(existingEvents))
	for _, event := range existingEvents {
		if event.ExternalID() != "" {
			eventsByExternalID[event.ExternalID()] = event
		}
	}
	existingBlocks, err := s.store.BlockedTimes().FindContainedIn(ctx, tenant, calendar.ID(), start, end)
	if err != nil {
		return "", err
	}
	blocksByExternalID := make(map[string]*domain.BlockedTime, len(existingBlocks))
	for _, block := range existingBlocks {
		if block.ExternalID() != "" {
			blocksByExternalID[block.ExternalID()] = block
		}
	}

	stream, err := adapter.ListEvents(ctx, calendar.ExternalID(), start, end, syncToken)
	if err != nil {
		return "", err
	}

	changes := newSyncChanges()
	for {
		record, ok, err := stream.Next(ctx)
		if !ok {
			if err != nil {
				return "", err
			}
			break
		}
		if err != nil {
			if errors.Is(err, domain.ErrMalformed) {
				// Fatal for the item only; the stream continues.
				s.logger.Warn("skipping malformed provider event",
					"calendar_id", calendar.ID(), "error", err)
				continue
			}
			return "", err
		}
		if err := s.stageRecord(ctx, tenant, calendar, record, changes, eventsByExternalID, blocksByExternalID, sync.ShouldUpdateEvents()); err != nil {
			return "", err
		}
	}
	nextToken := stream.NextSyncToken()

	// Full sync: any local event the stream did not mention and starting at
	// or after the window start is gone at the provider. Blocked mirrors are
	// left alone here; they only disappear on explicit cancelled entries, so
	// out-of-order instances waiting for their master survive the sweep.
	if syncToken == "" {
		for externalID, event := range eventsByExternalID {
			if _, ok := changes.matched[externalID]; ok {
				continue
			}
			if !event.Interval().Start().Before(start) {
				changes.eventsToDelete = append(changes.eventsToDelete, externalID)
			}
		}
	}

	if err := s.applyChanges(ctx, tenant, calendar, window, changes); err != nil {
		return "", err
	}
	return nextToken, nil
}

func (s *SyncService) stageRecord(
	ctx context.Context,
	tenant domain.TenantID,
	calendar *domain.Calendar,
	record EventRecord,
	changes *syncChanges,
	eventsByExternalID map[string]*domain.CalendarEvent,
	blocksByExternalID map[string]*domain.BlockedTime,
	shouldUpdateEvents bool,
) error {
	if record.ExternalID == "" {
		return &domain.MalformedError{Reason: "provider event without id"}
	}

	if existing, ok := eventsByExternalID[record.ExternalID]; ok {
		changes.matched[record.ExternalID] = struct{}{}
		if !shouldUpdateEvents {
			return nil
		}
		if record.Status == domain.EventCancelled {
			changes.eventsToDelete = append(changes.eventsToDelete, record.ExternalID)
			return nil
		}
		interval, err := domain.NewTimeInterval(record.Start, record.End, record.Timezone)
		if err != nil {
			return &domain.MalformedError{Key: record.ExternalID, Reason: err.Error()}
		}
		if err := existing.UpdateDetails(record.Title, record.Description, interval); err != nil {
			return &domain.MalformedError{Key: record.ExternalID, Reason: err.Error()}
		}
		existing.SnapshotPayload(record.OriginalPayload)
		changes.eventsToUpdate = append(changes.eventsToUpdate, existing)
		if len(record.Attendees) > 0 {
			changes.attendeeUpdates[existing.ID()] = record.Attendees
		}
		return nil
	}

	if existing, ok := blocksByExternalID[record.ExternalID]; ok {
		changes.matched[record.ExternalID] = struct{}{}
		if record.Status == domain.EventCancelled {
			changes.blocksToDelete = append(changes.blocksToDelete, record.ExternalID)
			return nil
		}
		interval, err := domain.NewTimeInterval(record.Start, record.End, record.Timezone)
		if err != nil {
			return &domain.MalformedError{Key: record.ExternalID, Reason: err.Error()}
		}
		existing.Update(interval, record.Title)
		existing.SnapshotPayload(record.OriginalPayload)
		changes.blocksToUpdate = append(changes.blocksToUpdate, existing)
		return nil
	}

	// Unknown locally. A cancelled entry for something we never mirrored
	// needs no action.
	if record.Status == domain.EventCancelled {
		changes.matched[record.ExternalID] = struct{}{}
		return nil
	}

	interval, err := domain.NewTimeInterval(record.Start, record.End, record.Timezone)
	if err != nil {
		return &domain.MalformedError{Key: record.ExternalID, Reason: err.Error()}
	}
	changes.matched[record.ExternalID] = struct{}{}

	switch {
	case record.RecurringEventID != "":
		// Instance of a recurring series. When the master exists locally as
		// a CalendarEvent the instance joins the series; otherwise it is
		// mirrored as a BlockedTime remembering the pending master id.
		parent, err := s.store.Events().FindByExternalID(ctx, tenant, record.RecurringEventID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if parent != nil {
			instance, err := domain.NewCalendarEvent(tenant, domain.CalendarEventSpec{
				CalendarID: calendar.ID(),
				Title:      record.Title,
				Description: record.Description,
				Interval:   interval,
				ExternalID: record.ExternalID,
				Meta:       domain.Meta{domain.MetaLatestOriginalPayload: record.OriginalPayload},
			})
			if err != nil {
				return &domain.MalformedError{Key: record.ExternalID, Reason: err.Error()}
			}
			recurrenceID := record.OriginalStart
			if recurrenceID.IsZero() {
				recurrenceID = record.Start
			}
			if err := instance.LinkParent(parent, recurrenceID); err != nil {
				return err
			}
			changes.eventsToCreate = append(changes.eventsToCreate, instance)
			return nil
		}
		block, err := domain.NewBlockedTime(tenant, domain.BlockedTimeSpec{
			CalendarID: calendar.ID(),
			Interval:   interval,
			Reason:     record.Title,
			ExternalID: record.ExternalID,
			Meta:       domain.Meta{domain.MetaLatestOriginalPayload: record.OriginalPayload},
		})
		if err != nil {
			return &domain.MalformedError{Key: record.ExternalID, Reason: err.Error()}
		}
		block.MarkPendingParent(record.RecurringEventID)
		changes.blocksToCreate = append(changes.blocksToCreate, block)
		return nil

	case record.RecurrenceRule != "":
		// Master recurring event: materialize its rule.
		rule, err := domain.ParseRecurrenceRule(tenant, record.RecurrenceRule)
		if err != nil {
			return &domain.MalformedError{Key: record.ExternalID, Reason: err.Error()}
		}
		ruleID := rule.ID()
		event, err := domain.NewCalendarEvent(tenant, domain.CalendarEventSpec{
			CalendarID:       calendar.ID(),
			Title:            record.Title,
			Description:      record.Description,
			Interval:         interval,
			ExternalID:       record.ExternalID,
			RecurrenceRuleID: &ruleID,
			Meta:             domain.Meta{domain.MetaLatestOriginalPayload: record.OriginalPayload},
		})
		if err != nil {
			return &domain.MalformedError{Key: record.ExternalID, Reason: err.Error()}
		}
		changes.rulesToCreate = append(changes.rulesToCreate, rule)
		changes.eventsToCreate = append(changes.eventsToCreate, event)
		return nil

	default:
		// Plain provider event: mirrored as an opaque BlockedTime so future
		// syncs stay authoritative.
		block, err := domain.NewBlockedTime(tenant, domain.BlockedTimeSpec{
			CalendarID: calendar.ID(),
			Interval:   interval,
			Reason:     record.Title,
			ExternalID: record.ExternalID,
			Meta:       domain.Meta{domain.MetaLatestOriginalPayload: record.OriginalPayload},
		})
		if err != nil {
			return &domain.MalformedError{Key: record.ExternalID, Reason: err.Error()}
		}
		changes.blocksToCreate = append(changes.blocksToCreate, block)
		return nil
	}
}

// applyChanges persists the staged change set in one transaction: rules,
// then events referencing them, then blocks, then updates, then attendee
// diffs, then deletes, then orphan relinking and available-window cleanup.
func (s *SyncService) applyChanges(ctx context.Context, tenant domain.TenantID, calendar *domain.Calendar, window domain.TimeInterval, changes *syncChanges) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		if len(changes.rulesToCreate) > 0 {
			if err := tx.RecurrenceRules().SaveAll(ctx, changes.rulesToCreate); err != nil {
				return err
			}
		}
		if len(changes.eventsToCreate) > 0 {
			if err := tx.Events().SaveAll(ctx, changes.eventsToCreate); err != nil {
				return err
			}
		}
		if len(changes.blocksToCreate) > 0 {
			if err := tx.BlockedTimes().SaveAll(ctx, changes.blocksToCreate); err != nil {
				return err
			}
		}
		if len(changes.eventsToUpdate) > 0 {
			if err := tx.Events().SaveAll(ctx, changes.eventsToUpdate); err != nil {
				return err
			}
		}
		if len(changes.blocksToUpdate) > 0 {
			if err := tx.BlockedTimes().SaveAll(ctx, changes.blocksToUpdate); err != nil {
				return err
			}
		}
		if err := s.applyAttendeeUpdates(ctx, tx, tenant, changes.attendeeUpdates); err != nil {
			return err
		}
		if len(changes.eventsToDelete) > 0 {
			if err := tx.Events().DeleteByExternalIDs(ctx, tenant, calendar.ID(), changes.eventsToDelete); err != nil {
				return err
			}
		}
		if len(changes.blocksToDelete) > 0 {
			if err := tx.BlockedTimes().DeleteByExternalIDs(ctx, tenant, calendar.ID(), changes.blocksToDelete); err != nil {
				return err
			}
		}
		if err := s.relinkOrphans(ctx, tx, tenant, calendar); err != nil {
			return err
		}
		if calendar.ManagesAvailableWindows() {
			if err := s.removeOverlappingAvailableWindows(ctx, tx, tenant, calendar, window, changes); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SyncService) applyAttendeeUpdates(ctx context.Context, tx domain.Store, tenant domain.TenantID, updates map[uuid.UUID][]AttendeeRecord) error {
	for eventID, attendees := range updates {
		var toCreate []*domain.EventExternalAttendance
		for _, attendee := range attendees {
			if attendee.Email == "" {
				continue
			}
			record, err := tx.Attendances().FindOrCreateExternalAttendee(ctx, tenant, attendee.Email, attendee.Name)
			if err != nil {
				return err
			}
			exists, err := tx.Attendances().ExternalAttendanceExists(ctx, tenant, eventID, record.ID())
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			attendance, err := domain.NewEventExternalAttendance(tenant, eventID, record, attendee.Status)
			if err != nil {
				return err
			}
			toCreate = append(toCreate, attendance)
		}
		if len(toCreate) > 0 {
			if err := tx.Attendances().SaveExternalAttendances(ctx, toCreate); err != nil {
				return err
			}
		}
	}
	return nil
}

// relinkOrphans attaches instances that arrived before their master. Webhook
// deliveries are unordered, so an instance may have been mirrored with a
// pending parent id; once the master exists the link is completed and the
// marker cleared.
func (s *SyncService) relinkOrphans(ctx context.Context, tx domain.Store, tenant domain.TenantID, calendar *domain.Calendar) error {
	orphanEvents, err := tx.Events().FindPendingParent(ctx, tenant, calendar.ID())
	if err != nil {
		return err
	}
	for _, orphan := range orphanEvents {
		pendingID, ok := orphan.Meta().PendingParentExternalID()
		if !ok {
			continue
		}
		parent, err := tx.Events().FindByExternalID(ctx, tenant, pendingID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue // master still missing, next sync retries
			}
			return err
		}
		if err := orphan.LinkParent(parent, orphan.Interval().Start()); err != nil {
			return err
		}
		if err := tx.Events().Save(ctx, orphan); err != nil {
			return err
		}
	}

	orphanBlocks, err := tx.BlockedTimes().FindPendingParent(ctx, tenant, calendar.ID())
	if err != nil {
		return err
	}
	for _, orphan := range orphanBlocks {
		pendingID, ok := orphan.Meta().PendingParentExternalID()
		if !ok {
			continue
		}
		parent, err := tx.Events().FindByExternalID(ctx, tenant, pendingID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue // master still missing, next sync retries
			}
			return err
		}
		// The master now exists locally, so the opaque mirror becomes a real
		// instance of the series.
		title := orphan.Reason()
		if strings.TrimSpace(title) == "" {
			title = parent.Title()
		}
		instance, err := domain.NewCalendarEvent(tenant, domain.CalendarEventSpec{
			CalendarID: orphan.CalendarID(),
			Title:      title,
			Interval:   orphan.Interval(),
			Meta:       orphan.Meta(),
		})
		if err != nil {
			return err
		}
		if err := instance.LinkParent(parent, orphan.Interval().Start()); err != nil {
			return err
		}
		if err := tx.BlockedTimes().Delete(ctx, tenant, orphan.ID()); err != nil {
			return err
		}
		instance.SetExternalID(orphan.ExternalID())
		if err := tx.Events().Save(ctx, instance); err != nil {
			return err
		}
	}
	return nil
}

// removeOverlappingAvailableWindows drops stored availability that the
// freshly synced busy time now covers.
func (s *SyncService) removeOverlappingAvailableWindows(ctx context.Context, tx domain.Store, tenant domain.TenantID, calendar *domain.Calendar, window domain.TimeInterval, changes *syncChanges) error {
	available, err := tx.AvailableTimes().FindContainedIn(ctx, tenant, calendar.ID(), window.Start(), window.End())
	if err != nil {
		return err
	}
	if len(available) == 0 {
		return nil
	}

	busy := make([]domain.TimeInterval, 0, len(changes.blocksToCreate)+len(changes.blocksToUpdate)+len(changes.eventsToCreate)+len(changes.eventsToUpdate))
	for _, block := range changes.blocksToCreate {
		busy = append(busy, block.Interval())
	}
	for _, block := range changes.blocksToUpdate {
		busy = append(busy, block.Interval())
	}
	for _, event := range changes.eventsToCreate {
		busy = append(busy, event.Interval())
	}
	for _, event := range changes.eventsToUpdate {
		busy = append(busy, event.Interval())
	}

	var doomed []uuid.UUID
	for _, windowEntry := range available {
		for _, interval := range busy {
			if windowEntry.Interval().Overlaps(interval) {
				doomed = append(doomed, windowEntry.ID())
				break
			}
		}
	}
	if len(doomed) == 0 {
		return nil
	}
	return tx.AvailableTimes().DeleteByIDs(ctx, tenant, doomed)
}

// TransferEvent recreates an event on another calendar from the provider's
// current state and deletes the source. The two provider calls are not
// atomic: a failed delete leaves a duplicate the caller must reconcile.
func (s *SyncService) TransferEvent(ctx context.Context, tenant domain.TenantID, event *domain.CalendarEvent, newCalendar *domain.Calendar) (*domain.CalendarEvent, error) {
	if err := domain.SameTenant(tenant, newCalendar.Tenant()); err != nil {
		return nil, err
	}
	sourceCalendar, err := s.store.Calendars().FindByID(ctx, tenant, event.CalendarID())
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters.AdapterFor(ctx, tenant, sourceCalendar.Provider())
	if err != nil {
		return nil, err
	}

	current, err := adapter.GetEvent(ctx, sourceCalendar.ExternalID(), event.ExternalID())
	if err != nil {
		return nil, err
	}

	targetAdapter := adapter
	if newCalendar.Provider() != sourceCalendar.Provider() {
		targetAdapter, err = s.adapters.AdapterFor(ctx, tenant, newCalendar.Provider())
		if err != nil {
			return nil, err
		}
	}

	created, err := targetAdapter.CreateEvent(ctx, newCalendar.ExternalID(), EventInput{
		Title:       current.Title,
		Description: current.Description,
		Start:       current.Start,
		End:         current.End,
		Timezone:    current.Timezone,
		Attendees:   current.Attendees,
	})
	if err != nil {
		return nil, err
	}

	interval, err := domain.NewTimeInterval(created.Start, created.End, created.Timezone)
	if err != nil {
		return nil, fmt.Errorf("provider returned unusable interval: %w", err)
	}
	transferred, err := domain.NewCalendarEvent(tenant, domain.CalendarEventSpec{
		CalendarID:  newCalendar.ID(),
		Title:       created.Title,
		Description: created.Description,
		Interval:    interval,
		ExternalID:  created.ExternalID,
	})
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Store) error {
		if err := tx.Events().Save(ctx, transferred); err != nil {
			return err
		}
		return tx.Events().Delete(ctx, tenant, event.ID())
	})
	if err != nil {
		return nil, err
	}

	if err := adapter.DeleteEvent(ctx, sourceCalendar.ExternalID(), event.ExternalID()); err != nil {
		// Non-atomic across providers: the caller observes a duplicate.
		s.logger.Warn("transfer delete failed, duplicate remains at source",
			"event_external_id", event.ExternalID(), "error", err)
	}
	return transferred, nil
}
