package activitypub

import (
	"strings"
	"testing"
	"time"
)

func TestParseActivityValid(t *testing.T) {
	raw := []byte(`{
		"id": "https://remote.test/activities/1",
		"type": "Create",
		"actor": "https://remote.test/calendars/remote",
		"object": {"id": "https://remote.test/events/1", "type": "Event"},
		"published": "2026-03-01T12:00:00Z"
	}`)

	a, err := ParseActivity(raw)
	if err != nil {
		t.Fatalf("Failed to parse activity: %v", err)
	}
	if a.Type != TypeCreate {
		t.Errorf("Expected type Create, got %s", a.Type)
	}
	if a.ObjectURI() != "https://remote.test/events/1" {
		t.Errorf("Unexpected object URI: %s", a.ObjectURI())
	}
	if a.PublishedTime().Format(time.RFC3339) != "2026-03-01T12:00:00Z" {
		t.Errorf("Unexpected published time: %s", a.PublishedTime())
	}
}

func TestParseActivityRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing id", `{"type":"Create","actor":"https://x/y"}`},
		{"missing actor", `{"id":"https://x/1","type":"Create"}`},
		{"unknown type", `{"id":"https://x/1","type":"Like","actor":"https://x/y"}`},
		{"empty type", `{"id":"https://x/1","actor":"https://x/y"}`},
		{"not json", `not json at all`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseActivity([]byte(tt.raw)); err == nil {
				t.Errorf("Expected parse to fail for %s", tt.name)
			}
		})
	}
}

func TestActivityTypeValid(t *testing.T) {
	for _, typ := range []ActivityType{TypeCreate, TypeUpdate, TypeDelete, TypeFollow, TypeAccept, TypeAnnounce, TypeUndo} {
		if !typ.Valid() {
			t.Errorf("Expected %s to be valid", typ)
		}
	}
	for _, typ := range []ActivityType{"Like", "Block", "", "create"} {
		if typ.Valid() {
			t.Errorf("Expected %q to be invalid", typ)
		}
	}
}

func TestObjectURIStringObject(t *testing.T) {
	raw := []byte(`{
		"id": "https://remote.test/activities/2",
		"type": "Undo",
		"actor": "https://remote.test/calendars/remote",
		"object": "https://remote.test/activities/1"
	}`)

	a, err := ParseActivity(raw)
	if err != nil {
		t.Fatal(err)
	}
	if a.ObjectURI() != "https://remote.test/activities/1" {
		t.Errorf("Unexpected object URI: %s", a.ObjectURI())
	}
	if a.ObjectMap() != nil {
		t.Error("Expected no object map for a bare URI object")
	}
}

func TestEmbeddedActivity(t *testing.T) {
	raw := []byte(`{
		"id": "https://remote.test/activities/accept-1",
		"type": "Accept",
		"actor": "https://remote.test/calendars/remote",
		"object": {
			"id": "https://local.test/activities/follow-1",
			"type": "Follow",
			"actor": "https://local.test/calendars/team",
			"object": "https://remote.test/calendars/remote"
		}
	}`)

	a, err := ParseActivity(raw)
	if err != nil {
		t.Fatal(err)
	}

	follow, err := a.EmbeddedActivity()
	if err != nil {
		t.Fatalf("Failed to extract embedded activity: %v", err)
	}
	if follow.Type != TypeFollow {
		t.Errorf("Expected embedded Follow, got %s", follow.Type)
	}
	if follow.ID != "https://local.test/activities/follow-1" {
		t.Errorf("Unexpected embedded id: %s", follow.ID)
	}
}

func TestEmbeddedActivityMissingObject(t *testing.T) {
	raw := []byte(`{
		"id": "https://remote.test/activities/3",
		"type": "Accept",
		"actor": "https://remote.test/calendars/remote",
		"object": "https://local.test/activities/follow-1"
	}`)

	a, err := ParseActivity(raw)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.EmbeddedActivity(); err == nil {
		t.Error("Expected embedded extraction of a bare URI to fail")
	}
}

func TestPublishedTimeFallback(t *testing.T) {
	a := &Activity{Published: "yesterday-ish"}
	before := time.Now()
	got := a.PublishedTime()
	if got.Before(before) {
		t.Error("Expected fallback to now for a mangled published time")
	}
}

func TestNewActivityID(t *testing.T) {
	id := NewActivityID("local.test")
	if !strings.HasPrefix(id, "https://local.test/activities/") {
		t.Errorf("Unexpected activity id format: %s", id)
	}
	if id == NewActivityID("local.test") {
		t.Error("Expected fresh ids to differ")
	}
}

func TestNewAcceptEmbedsFollow(t *testing.T) {
	follow := &Activity{
		ID:     "https://remote.test/activities/follow-1",
		Type:   TypeFollow,
		Actor:  "https://remote.test/calendars/remote",
		Object: "https://local.test/calendars/team",
	}

	accept := NewAccept("local.test", "https://local.test/calendars/team", follow, follow.Actor)
	if accept.Type != TypeAccept {
		t.Errorf("Expected Accept, got %s", accept.Type)
	}
	if len(accept.To) != 1 || accept.To[0] != follow.Actor {
		t.Errorf("Expected Accept addressed to the follower, got %v", accept.To)
	}

	embedded, err := accept.EmbeddedActivity()
	if err != nil {
		t.Fatalf("Failed to extract embedded follow: %v", err)
	}
	if embedded.ID != follow.ID || embedded.Type != TypeFollow {
		t.Errorf("Embedded follow mismatch: %s %s", embedded.ID, embedded.Type)
	}

	// The marshaled form must survive a parse round trip
	raw, err := accept.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseActivity(raw); err != nil {
		t.Errorf("Marshaled Accept failed to parse: %v", err)
	}
}
