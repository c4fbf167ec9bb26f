package activitypub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActivityType is the closed set of activity kinds the federation engine
// understands.
type ActivityType string

const (
	TypeCreate   ActivityType = "Create"
	TypeUpdate   ActivityType = "Update"
	TypeDelete   ActivityType = "Delete"
	TypeFollow   ActivityType = "Follow"
	TypeAccept   ActivityType = "Accept"
	TypeAnnounce ActivityType = "Announce"
	TypeUndo     ActivityType = "Undo"
)

var knownTypes = map[ActivityType]bool{
	TypeCreate:   true,
	TypeUpdate:   true,
	TypeDelete:   true,
	TypeFollow:   true,
	TypeAccept:   true,
	TypeAnnounce: true,
	TypeUndo:     true,
}

// Valid reports whether t is one of the seven supported kinds.
func (t ActivityType) Valid() bool {
	return knownTypes[t]
}

// Activity is a typed federation message. Object is either a bare URI string
// or an embedded object/sub-activity payload.
type Activity struct {
	Context   interface{}  `json:"@context,omitempty"`
	ID        string       `json:"id"`
	Type      ActivityType `json:"type"`
	Actor     string       `json:"actor"`
	Object    interface{}  `json:"object,omitempty"`
	Published string       `json:"published,omitempty"`
	To        []string     `json:"to,omitempty"`
	Cc        []string     `json:"cc,omitempty"`
}

// ParseActivity decodes a generic payload into an Activity, rejecting
// anything that is not one of the seven supported kinds or lacks the fields
// every activity must carry.
func ParseActivity(raw []byte) (*Activity, error) {
	var a Activity
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to parse activity: %w", err)
	}
	if a.ID == "" {
		return nil, fmt.Errorf("activity missing id")
	}
	if a.Actor == "" {
		return nil, fmt.Errorf("activity missing actor")
	}
	if !a.Type.Valid() {
		return nil, fmt.Errorf("unsupported activity type: %q", a.Type)
	}
	return &a, nil
}

// Marshal serializes the activity back to its generic payload form.
func (a *Activity) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// ObjectURI extracts the object's id, whether the object is a bare URI
// string or an embedded object.
func (a *Activity) ObjectURI() string {
	switch obj := a.Object.(type) {
	case string:
		return obj
	case map[string]interface{}:
		if id, ok := obj["id"].(string); ok {
			return id
		}
	}
	return ""
}

// ObjectMap returns the embedded object payload, or nil when the object is a
// bare URI reference.
func (a *Activity) ObjectMap() map[string]interface{} {
	if obj, ok := a.Object.(map[string]interface{}); ok {
		return obj
	}
	return nil
}

// EmbeddedActivity decodes the object field as a sub-activity. Accept
// carries the original Follow this way, which lets the receiver correlate
// the handshake without a side lookup.
func (a *Activity) EmbeddedActivity() (*Activity, error) {
	obj := a.ObjectMap()
	if obj == nil {
		return nil, fmt.Errorf("activity %s has no embedded object", a.ID)
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode embedded object: %w", err)
	}
	return ParseActivity(raw)
}

// PublishedTime parses the published timestamp, falling back to now when the
// sender omitted or mangled it.
func (a *Activity) PublishedTime() time.Time {
	if a.Published != "" {
		if t, err := time.Parse(time.RFC3339, a.Published); err == nil {
			return t
		}
	}
	return time.Now()
}

// NewActivityID mints a fresh activity id under the given instance domain.
func NewActivityID(domain string) string {
	return fmt.Sprintf("https://%s/activities/%s", domain, uuid.New().String())
}

// NewAccept builds an Accept for a received Follow, embedding the original
// Follow and addressed back to the follower.
func NewAccept(domain string, actorURI string, follow *Activity, followerURI string) *Activity {
	return &Activity{
		Context: "https://www.w3.org/ns/activitystreams",
		ID:      NewActivityID(domain),
		Type:    TypeAccept,
		Actor:   actorURI,
		Object: map[string]interface{}{
			"id":     follow.ID,
			"type":   string(TypeFollow),
			"actor":  follow.Actor,
			"object": follow.Object,
		},
		Published: time.Now().UTC().Format(time.RFC3339),
		To:        []string{followerURI},
	}
}

// NewEventActivity wraps an event object payload in an activity of the given
// kind, attributed to the calendar actor. Used when the event domain
// publishes local changes.
func NewEventActivity(domain string, activityType ActivityType, actorURI string, object interface{}) *Activity {
	return &Activity{
		Context:   "https://www.w3.org/ns/activitystreams",
		ID:        NewActivityID(domain),
		Type:      activityType,
		Actor:     actorURI,
		Object:    object,
		Published: time.Now().UTC().Format(time.RFC3339),
	}
}
