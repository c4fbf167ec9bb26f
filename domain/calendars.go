package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// Calendar is a locally hosted calendar.
type Calendar struct {
	Id        uuid.UUID
	Name      string
	UrlName   string // routing name, part of the actor URI
	TimeZone  string
	CreatedAt time.Time
}

func (c *Calendar) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tName: %s \n\tUrlName: %s", c.Id, c.Name, c.UrlName)
}

// Event is a single calendar entry, local or materialized from federation.
type Event struct {
	Id          uuid.UUID
	CalendarId  uuid.UUID
	Summary     string
	Description string
	Location    string
	StartsAt    time.Time
	EndsAt      time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Category is a per-calendar event label.
type Category struct {
	Id         uuid.UUID
	CalendarId uuid.UUID
	Name       string
	CreatedAt  time.Time
}
