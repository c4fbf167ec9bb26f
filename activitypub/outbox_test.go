package activitypub

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kalends/kalends/domain"
	"github.com/kalends/kalends/util"
)

func makeRemote(t *testing.T, env *testEnv, actorURI string) *domain.RemoteCalendar {
	t.Helper()
	rc := &domain.RemoteCalendar{
		Id:            uuid.New(),
		Name:          "remote",
		Domain:        "remote.test",
		ActorURI:      actorURI,
		InboxURI:      actorURI + "/inbox",
		PublicKeyPem:  util.GeneratePemKeypair().Public,
		LastFetchedAt: time.Now(),
	}
	if err := env.db.CreateRemoteCalendar(rc); err != nil {
		t.Fatalf("Failed to create remote calendar: %v", err)
	}
	return rc
}

func TestQueueActivityAddressedDelivery(t *testing.T) {
	env := newTestEnv(t)
	remote := makeRemote(t, env, "https://remote.test/calendars/alice")

	accept := NewAccept(testDomain, env.actor.ActorURI, &Activity{
		ID:     "https://remote.test/activities/f1",
		Type:   TypeFollow,
		Actor:  remote.ActorURI,
		Object: env.actor.ActorURI,
	}, remote.ActorURI)

	if err := env.outbox.QueueActivity(env.cal.Id, accept); err != nil {
		t.Fatalf("Failed to queue activity: %v", err)
	}

	env.outbox.ProcessPending()

	if len(env.sink.deliveries) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(env.sink.deliveries))
	}
	d := env.sink.deliveries[0]
	if d.inboxURI != remote.InboxURI {
		t.Errorf("Expected delivery to %s, got %s", remote.InboxURI, d.inboxURI)
	}
	if d.actorURI != env.actor.ActorURI {
		t.Errorf("Expected delivery signed by %s, got %s", env.actor.ActorURI, d.actorURI)
	}
}

func TestQueueActivityUnknownAddresseeFails(t *testing.T) {
	env := newTestEnv(t)

	activity := &Activity{
		ID:    NewActivityID(testDomain),
		Type:  TypeAccept,
		Actor: env.actor.ActorURI,
		To:    []string{"https://nowhere.test/calendars/ghost"},
	}
	if err := env.outbox.QueueActivity(env.cal.Id, activity); err != nil {
		t.Fatal(err)
	}

	env.outbox.ProcessPending()

	if len(env.sink.deliveries) != 0 {
		t.Errorf("Expected no deliveries, got %d", len(env.sink.deliveries))
	}

	err, msgs := env.db.ReadUnprocessedOutbox(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(*msgs) != 0 {
		t.Error("Expected message to leave the queue with a terminal status")
	}
}

func TestOutboxFanoutToFollowersAndSharers(t *testing.T) {
	env := newTestEnv(t)

	follower := makeRemote(t, env, "https://remote.test/calendars/alice")
	sharer := makeRemote(t, env, "https://elsewhere.test/calendars/bob")

	if err := env.db.CreateFollowerEdge(&domain.FollowerEdge{
		Id:               uuid.New(),
		RemoteCalendarId: follower.Id,
		CalendarId:       env.cal.Id,
		FollowURI:        "https://remote.test/activities/f1",
		CreatedAt:        time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	apId := "https://local.test/events/1"
	if err := env.db.CreateShareRecord(&domain.ShareRecord{
		Id:               uuid.New(),
		ApId:             apId,
		RemoteCalendarId: sharer.Id,
		CreatedAt:        time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	activity := NewEventActivity(testDomain, TypeUpdate, env.actor.ActorURI, map[string]interface{}{
		"id":   apId,
		"type": "Event",
		"name": "Updated event",
	})
	if err := env.outbox.QueueActivity(env.cal.Id, activity); err != nil {
		t.Fatal(err)
	}

	env.outbox.ProcessPending()

	if len(env.sink.deliveries) != 2 {
		t.Fatalf("Expected fanout to 2 inboxes, got %d", len(env.sink.deliveries))
	}

	seen := map[string]bool{}
	for _, d := range env.sink.deliveries {
		seen[d.inboxURI] = true
	}
	if !seen[follower.InboxURI] || !seen[sharer.InboxURI] {
		t.Errorf("Expected deliveries to follower and sharer, got %v", seen)
	}
}

func TestOutboxFanoutDeduplicatesInboxes(t *testing.T) {
	env := newTestEnv(t)

	// Follower who also shared the object must receive it once
	remote := makeRemote(t, env, "https://remote.test/calendars/alice")
	if err := env.db.CreateFollowerEdge(&domain.FollowerEdge{
		Id:               uuid.New(),
		RemoteCalendarId: remote.Id,
		CalendarId:       env.cal.Id,
		CreatedAt:        time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	apId := "https://local.test/events/1"
	if err := env.db.CreateShareRecord(&domain.ShareRecord{
		Id:               uuid.New(),
		ApId:             apId,
		RemoteCalendarId: remote.Id,
		CreatedAt:        time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	activity := NewEventActivity(testDomain, TypeDelete, env.actor.ActorURI, apId)
	if err := env.outbox.QueueActivity(env.cal.Id, activity); err != nil {
		t.Fatal(err)
	}

	env.outbox.ProcessPending()

	if len(env.sink.deliveries) != 1 {
		t.Errorf("Expected 1 deduplicated delivery, got %d", len(env.sink.deliveries))
	}
}

func TestOutboxNoRecipientsIsOk(t *testing.T) {
	env := newTestEnv(t)

	activity := NewEventActivity(testDomain, TypeCreate, env.actor.ActorURI, map[string]interface{}{
		"id":   "https://local.test/events/1",
		"type": "Event",
	})
	if err := env.outbox.QueueActivity(env.cal.Id, activity); err != nil {
		t.Fatal(err)
	}

	env.outbox.ProcessPending()

	if len(env.sink.deliveries) != 0 {
		t.Errorf("Expected no deliveries without followers, got %d", len(env.sink.deliveries))
	}

	err, msgs := env.db.ReadUnprocessedOutbox(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(*msgs) != 0 {
		t.Error("Expected queue to be drained")
	}
}
