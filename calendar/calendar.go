package calendar

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/domain"
)

// EventParams carries the event fields extracted from an inbound object or a
// local edit form.
type EventParams struct {
	Summary     string
	Description string
	Location    string
	StartsAt    time.Time
	EndsAt      time.Time
	Tags        []string
}

// Service is the event domain behind the federation engine. It owns calendar
// and event persistence; the federation layer calls it with already-authorized
// mutations.
type Service struct {
	db *db.DB
}

func NewService(database *db.DB) *Service {
	return &Service{db: database}
}

func (s *Service) CreateCalendar(name string, urlName string, timeZone string) (*domain.Calendar, error) {
	if name == "" || urlName == "" {
		return nil, fmt.Errorf("calendar name and url name are required")
	}
	if timeZone == "" {
		timeZone = "UTC"
	}

	cal := &domain.Calendar{
		Id:        uuid.New(),
		Name:      name,
		UrlName:   urlName,
		TimeZone:  timeZone,
		CreatedAt: time.Now(),
	}

	if err := s.db.CreateCalendar(cal); err != nil {
		return nil, fmt.Errorf("failed to create calendar: %w", err)
	}

	return cal, nil
}

func (s *Service) GetCalendar(id uuid.UUID) (*domain.Calendar, error) {
	err, cal := s.db.ReadCalendarById(id)
	if cal == nil {
		return nil, fmt.Errorf("calendar %s not found: %w", id, err)
	}
	return cal, nil
}

func (s *Service) GetCalendarByName(urlName string) (*domain.Calendar, error) {
	err, cal := s.db.ReadCalendarByUrlName(urlName)
	if cal == nil {
		return nil, fmt.Errorf("calendar %q not found: %w", urlName, err)
	}
	return cal, nil
}

func (s *Service) GetEventById(id uuid.UUID) (*domain.Event, error) {
	err, ev := s.db.ReadEventById(id)
	if ev == nil {
		return nil, fmt.Errorf("event %s not found: %w", id, err)
	}
	return ev, nil
}

func (s *Service) ListEvents(calendarId uuid.UUID) ([]domain.Event, error) {
	err, events := s.db.ReadEventsByCalendarId(calendarId)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return *events, nil
}

// AddRemoteEvent materializes an event received over federation into the
// given calendar.
func (s *Service) AddRemoteEvent(cal *domain.Calendar, params EventParams) (*domain.Event, error) {
	if params.Summary == "" {
		return nil, fmt.Errorf("event summary is required")
	}
	if params.StartsAt.IsZero() {
		return nil, fmt.Errorf("event start time is required")
	}

	now := time.Now()
	ev := &domain.Event{
		Id:          uuid.New(),
		CalendarId:  cal.Id,
		Summary:     params.Summary,
		Description: params.Description,
		Location:    params.Location,
		StartsAt:    params.StartsAt,
		EndsAt:      params.EndsAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.CreateEvent(ev); err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	return ev, nil
}

// UpdateRemoteEvent applies new field values to an existing event. The event
// must belong to the given calendar.
func (s *Service) UpdateRemoteEvent(cal *domain.Calendar, eventId uuid.UUID, params EventParams) (*domain.Event, error) {
	ev, err := s.GetEventById(eventId)
	if err != nil {
		return nil, err
	}
	if ev.CalendarId != cal.Id {
		return nil, fmt.Errorf("event %s does not belong to calendar %s", eventId, cal.Id)
	}
	if params.Summary == "" {
		return nil, fmt.Errorf("event summary is required")
	}
	if params.StartsAt.IsZero() {
		return nil, fmt.Errorf("event start time is required")
	}

	ev.Summary = params.Summary
	ev.Description = params.Description
	ev.Location = params.Location
	ev.StartsAt = params.StartsAt
	ev.EndsAt = params.EndsAt
	ev.UpdatedAt = time.Now()

	if err := s.db.UpdateEvent(ev); err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}

	return ev, nil
}

// DeleteRemoteEvent removes an event and its category assignments.
func (s *Service) DeleteRemoteEvent(cal *domain.Calendar, eventId uuid.UUID) error {
	ev, err := s.GetEventById(eventId)
	if err != nil {
		return err
	}
	if ev.CalendarId != cal.Id {
		return fmt.Errorf("event %s does not belong to calendar %s", eventId, cal.Id)
	}

	if err := s.db.DeleteEvent(eventId); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	return nil
}

func (s *Service) CreateCategory(cal *domain.Calendar, name string) (*domain.Category, error) {
	if name == "" {
		return nil, fmt.Errorf("category name is required")
	}

	cat := &domain.Category{
		Id:         uuid.New(),
		CalendarId: cal.Id,
		Name:       name,
		CreatedAt:  time.Now(),
	}

	if err := s.db.CreateCategory(cat); err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}

	return cat, nil
}
