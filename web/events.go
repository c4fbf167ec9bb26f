package web

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/util"
)

// GetEventObject returns a calendar event as an ActivityPub Event object.
// The object id is the event's federation id when one exists, so remote
// instances dereference the same identity they received over the wire.
func GetEventObject(eventId uuid.UUID, database *db.DB, conf *util.AppConfig) (error, string) {
	err, ev := database.ReadEventById(eventId)
	if ev == nil {
		return fmt.Errorf("event %s not found: %w", eventId, err), "{}"
	}

	err, cal := database.ReadCalendarById(ev.CalendarId)
	if cal == nil {
		return fmt.Errorf("calendar %s not found: %w", ev.CalendarId, err), "{}"
	}

	apId := fmt.Sprintf("https://%s/events/%s", conf.Conf.SslDomain, ev.Id)
	attributedTo := fmt.Sprintf("https://%s/calendars/%s", conf.Conf.SslDomain, cal.UrlName)
	if _, identity := database.ReadEventIdentityByEventId(ev.Id); identity != nil {
		apId = identity.ApId
		attributedTo = identity.AttributedTo
	}

	obj := map[string]interface{}{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           apId,
		"type":         "Event",
		"attributedTo": attributedTo,
		"name":         ev.Summary,
		"content":      ev.Description,
		"location":     ev.Location,
		"startTime":    ev.StartsAt.Format(time.RFC3339),
		"published":    ev.CreatedAt.Format(time.RFC3339),
	}
	if !ev.EndsAt.IsZero() {
		obj["endTime"] = ev.EndsAt.Format(time.RFC3339)
	}
	if ev.UpdatedAt.After(ev.CreatedAt) {
		obj["updated"] = ev.UpdatedAt.Format(time.RFC3339)
	}

	jsonBytes, err := json.Marshal(obj)
	if err != nil {
		return err, "{}"
	}

	return nil, string(jsonBytes)
}
