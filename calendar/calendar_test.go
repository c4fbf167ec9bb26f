package calendar

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kalends/kalends/db"
)

func setupService(t *testing.T) *Service {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return NewService(database)
}

func TestCreateCalendarValidation(t *testing.T) {
	svc := setupService(t)

	if _, err := svc.CreateCalendar("", "team", "UTC"); err == nil {
		t.Error("Expected empty name to be rejected")
	}
	if _, err := svc.CreateCalendar("Team", "", "UTC"); err == nil {
		t.Error("Expected empty url name to be rejected")
	}

	cal, err := svc.CreateCalendar("Team", "team", "")
	if err != nil {
		t.Fatalf("Failed to create calendar: %v", err)
	}
	if cal.TimeZone != "UTC" {
		t.Errorf("Expected default time zone UTC, got %s", cal.TimeZone)
	}

	got, err := svc.GetCalendarByName("team")
	if err != nil {
		t.Fatalf("Failed to read calendar back: %v", err)
	}
	if got.Id != cal.Id {
		t.Error("Read back a different calendar")
	}
}

func TestAddRemoteEventValidation(t *testing.T) {
	svc := setupService(t)
	cal, _ := svc.CreateCalendar("Team", "team", "UTC")

	if _, err := svc.AddRemoteEvent(cal, EventParams{StartsAt: time.Now()}); err == nil {
		t.Error("Expected missing summary to be rejected")
	}
	if _, err := svc.AddRemoteEvent(cal, EventParams{Summary: "x"}); err == nil {
		t.Error("Expected missing start time to be rejected")
	}

	ev, err := svc.AddRemoteEvent(cal, EventParams{
		Summary:     "Standup",
		Description: "Daily",
		StartsAt:    time.Now().Add(time.Hour),
		EndsAt:      time.Now().Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Failed to add event: %v", err)
	}
	if ev.CalendarId != cal.Id {
		t.Error("Event landed in the wrong calendar")
	}
}

func TestUpdateRemoteEventCrossCalendar(t *testing.T) {
	svc := setupService(t)
	calA, _ := svc.CreateCalendar("A", "a", "UTC")
	calB, _ := svc.CreateCalendar("B", "b", "UTC")

	ev, err := svc.AddRemoteEvent(calA, EventParams{Summary: "x", StartsAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}

	// Mutating through the wrong calendar must fail
	if _, err := svc.UpdateRemoteEvent(calB, ev.Id, EventParams{Summary: "y", StartsAt: time.Now()}); err == nil {
		t.Error("Expected cross-calendar update to fail")
	}
	if err := svc.DeleteRemoteEvent(calB, ev.Id); err == nil {
		t.Error("Expected cross-calendar delete to fail")
	}

	// And through the right one to succeed
	updated, err := svc.UpdateRemoteEvent(calA, ev.Id, EventParams{Summary: "y", StartsAt: time.Now()})
	if err != nil {
		t.Fatalf("Failed to update event: %v", err)
	}
	if updated.Summary != "y" {
		t.Errorf("Expected updated summary, got %s", updated.Summary)
	}
}

func TestDeleteRemoteEvent(t *testing.T) {
	svc := setupService(t)
	cal, _ := svc.CreateCalendar("Team", "team", "UTC")

	ev, err := svc.AddRemoteEvent(cal, EventParams{Summary: "x", StartsAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteRemoteEvent(cal, ev.Id); err != nil {
		t.Fatalf("Failed to delete event: %v", err)
	}
	if _, err := svc.GetEventById(ev.Id); err == nil {
		t.Error("Expected event to be gone")
	}
	if err := svc.DeleteRemoteEvent(cal, uuid.New()); err == nil {
		t.Error("Expected delete of unknown event to fail")
	}
}

func TestListEventsOrdering(t *testing.T) {
	svc := setupService(t)
	cal, _ := svc.CreateCalendar("Team", "team", "UTC")

	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	for _, offset := range []int{3, 1, 2} {
		if _, err := svc.AddRemoteEvent(cal, EventParams{
			Summary:  "ev",
			StartsAt: base.Add(time.Duration(offset) * time.Hour),
		}); err != nil {
			t.Fatal(err)
		}
	}

	events, err := svc.ListEvents(cal.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].StartsAt.Before(events[i-1].StartsAt) {
			t.Errorf("Events not ordered by start time at index %d", i)
		}
	}
}
