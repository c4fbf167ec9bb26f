package domain

import (
	"github.com/google/uuid"
	"time"
)

// Inbox/outbox message processing statuses. A message starts unprocessed and
// is moved to exactly one terminal status by its processor.
const (
	MessageUnprocessed = "unprocessed"
	MessageOk          = "ok"
	MessageError       = "error"
)

// CalendarActor is the cryptographic identity of a local calendar. Exactly
// one exists per calendar; the private key never leaves this instance.
type CalendarActor struct {
	Id            uuid.UUID
	CalendarId    uuid.UUID
	ActorURI      string
	PublicKeyPem  string
	PrivateKeyPem string
	CreatedAt     time.Time
}

// RemoteCalendar is a cached reference to a calendar on another instance,
// keyed by actor URI. It anchors follower/following/share records so they
// never hold a raw URI.
type RemoteCalendar struct {
	Id            uuid.UUID
	Name          string
	Domain        string
	ActorURI      string
	InboxURI      string
	PublicKeyPem  string
	LastFetchedAt time.Time
}

// InboxMessage is the durable record of a received activity. The id is the
// activity's own id, used for deduplication and as the Undo target lookup
// key. Rows are never deleted.
type InboxMessage struct {
	Id           string
	CalendarId   uuid.UUID
	ActivityType string
	Published    time.Time
	ReceivedAt   time.Time
	RawJSON      string
	ProcessedAt  *time.Time
	Status       string
}

// OutboxMessage is an activity queued for outbound delivery.
type OutboxMessage struct {
	Id           uuid.UUID
	CalendarId   uuid.UUID
	ActivityType string
	RawJSON      string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	Status       string
}

// FollowerEdge records that a remote calendar follows a local one.
type FollowerEdge struct {
	Id               uuid.UUID
	RemoteCalendarId uuid.UUID
	CalendarId       uuid.UUID
	FollowURI        string
	CreatedAt        time.Time
}

// FollowingEdge records that a local calendar follows a remote one. Accepted
// flips when the matching Accept arrives.
type FollowingEdge struct {
	Id               uuid.UUID
	CalendarId       uuid.UUID
	RemoteCalendarId uuid.UUID
	FollowURI        string
	Accepted         bool
	CreatedAt        time.Time
}

// EventIdentity maps a locally stored event to its federation id and the
// actor that claims attribution.
type EventIdentity struct {
	Id           uuid.UUID
	EventId      uuid.UUID
	CalendarId   uuid.UUID
	ApId         string
	AttributedTo string
	CreatedAt    time.Time
}

// ShareRecord records that a remote calendar announced (shared) an event.
// At most one live record exists per (event federation id, sharer).
type ShareRecord struct {
	Id               uuid.UUID
	ApId             string
	RemoteCalendarId uuid.UUID
	CreatedAt        time.Time
}

// RemoteEditor authorizes a remote actor to create and mutate events on a
// local calendar (cross-instance co-editing).
type RemoteEditor struct {
	Id         uuid.UUID
	CalendarId uuid.UUID
	ActorURI   string
	CreatedAt  time.Time
}

// CategoryMapping translates a remote source's category tag into a local
// category id for incoming shared events.
type CategoryMapping struct {
	Id             uuid.UUID
	CalendarId     uuid.UUID
	RemoteActorURI string
	RemoteTag      string
	CategoryId     uuid.UUID
	CreatedAt      time.Time
}

// DeliveryQueueItem is a signed-delivery work item for one remote inbox.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActorURI     string // local actor performing the delivery
	ActivityJSON string
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
