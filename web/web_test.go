package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kalends/kalends/activitypub"
	"github.com/kalends/kalends/calendar"
	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/domain"
	"github.com/kalends/kalends/util"
)

const testDomain = "local.test"

func testConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.Host = "127.0.0.1"
	conf.Conf.HttpPort = 8080
	conf.Conf.SslDomain = testDomain
	conf.Conf.WithFed = true
	return conf
}

func setupDeps(t *testing.T) (*Deps, *domain.Calendar, *domain.CalendarActor) {
	t.Helper()

	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	calendars := calendar.NewService(database)
	actors := activitypub.NewActorService(database, testDomain)
	relations := activitypub.NewRelations(database)
	outbox := activitypub.NewOutboxProcessor(database)
	inbox := activitypub.NewInboxProcessor(database, calendars, actors, relations, outbox, testDomain)

	cal, err := calendars.CreateCalendar("Team Calendar", "team", "UTC")
	if err != nil {
		t.Fatalf("Failed to create calendar: %v", err)
	}
	actor, err := actors.CreateActor(cal)
	if err != nil {
		t.Fatalf("Failed to create actor: %v", err)
	}

	return &Deps{
		DB:        database,
		Calendars: calendars,
		Actors:    actors,
		Relations: relations,
		Inbox:     inbox,
	}, cal, actor
}

// cacheRemote stores a remote calendar row so inbound verification finds the
// sender's key without a network fetch.
func cacheRemote(t *testing.T, deps *Deps, actorURI string, publicKeyPem string) {
	t.Helper()
	if err := deps.DB.CreateRemoteCalendar(&domain.RemoteCalendar{
		Id:            uuid.New(),
		Name:          "alice",
		Domain:        "remote.test",
		ActorURI:      actorURI,
		InboxURI:      actorURI + "/inbox",
		PublicKeyPem:  publicKeyPem,
		LastFetchedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Failed to cache remote calendar: %v", err)
	}
}

func TestGetWebfinger(t *testing.T) {
	deps, _, _ := setupDeps(t)
	conf := testConf()

	err, resp := GetWebfinger("team", deps.DB, conf)
	if err != nil {
		t.Fatalf("Failed to resolve webfinger: %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(resp), &doc); err != nil {
		t.Fatalf("Webfinger response is not valid JSON: %v", err)
	}
	if doc["subject"] != "acct:team@local.test" {
		t.Errorf("Unexpected subject: %v", doc["subject"])
	}
	if !strings.Contains(resp, "https://local.test/calendars/team") {
		t.Error("Expected self link to the calendar actor")
	}

	err, _ = GetWebfinger("nope", deps.DB, conf)
	if err == nil {
		t.Error("Expected unknown calendar to fail")
	}
}

func TestGetActorDocument(t *testing.T) {
	deps, cal, actor := setupDeps(t)
	conf := testConf()

	err, doc := GetActor(cal.UrlName, deps.DB, conf)
	if err != nil {
		t.Fatalf("Failed to render actor: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("Actor document is not valid JSON: %v", err)
	}

	if parsed["id"] != actor.ActorURI {
		t.Errorf("Expected id %s, got %v", actor.ActorURI, parsed["id"])
	}
	if parsed["inbox"] != actor.ActorURI+"/inbox" {
		t.Errorf("Unexpected inbox: %v", parsed["inbox"])
	}

	pubKey, ok := parsed["publicKey"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected publicKey object")
	}
	if pubKey["id"] != actor.ActorURI+"#main-key" {
		t.Errorf("Unexpected key id: %v", pubKey["id"])
	}
	if pubKey["publicKeyPem"] != actor.PublicKeyPem {
		t.Error("Public key PEM mismatch")
	}
}

func TestGetEventObject(t *testing.T) {
	deps, cal, _ := setupDeps(t)
	conf := testConf()

	ev, err := deps.Calendars.AddRemoteEvent(cal, calendar.EventParams{
		Summary:  "Standup",
		StartsAt: time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	err, doc := GetEventObject(ev.Id, deps.DB, conf)
	if err != nil {
		t.Fatalf("Failed to render event: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("Event object is not valid JSON: %v", err)
	}
	if parsed["type"] != "Event" {
		t.Errorf("Expected type Event, got %v", parsed["type"])
	}
	if parsed["name"] != "Standup" {
		t.Errorf("Unexpected name: %v", parsed["name"])
	}
	if parsed["startTime"] != "2026-09-01T10:00:00Z" {
		t.Errorf("Unexpected start time: %v", parsed["startTime"])
	}

	// A federated event keeps its original identity
	apId := "https://remote.test/events/7"
	if err := deps.DB.CreateEventIdentity(&domain.EventIdentity{
		Id:           uuid.New(),
		EventId:      ev.Id,
		CalendarId:   cal.Id,
		ApId:         apId,
		AttributedTo: "https://remote.test/calendars/alice",
		CreatedAt:    time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	err, doc = GetEventObject(ev.Id, deps.DB, conf)
	if err != nil {
		t.Fatal(err)
	}
	json.Unmarshal([]byte(doc), &parsed)
	if parsed["id"] != apId {
		t.Errorf("Expected federation id %s, got %v", apId, parsed["id"])
	}
}

func TestGetRSSAndICal(t *testing.T) {
	deps, cal, _ := setupDeps(t)
	conf := testConf()

	if _, err := deps.Calendars.AddRemoteEvent(cal, calendar.EventParams{
		Summary:     "Standup",
		Description: "Daily sync",
		Location:    "Room 1",
		StartsAt:    time.Now().Add(time.Hour),
		EndsAt:      time.Now().Add(2 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	rss, err := GetRSS(conf, "team", deps.DB)
	if err != nil {
		t.Fatalf("Failed to render RSS: %v", err)
	}
	if !strings.Contains(rss, "Standup") || !strings.Contains(rss, "<rss") {
		t.Error("RSS output missing expected content")
	}

	ics, err := GetICal(conf, "team", deps.DB)
	if err != nil {
		t.Fatalf("Failed to render iCal: %v", err)
	}
	if !strings.Contains(ics, "BEGIN:VCALENDAR") || !strings.Contains(ics, "SUMMARY:Standup") {
		t.Error("iCal output missing expected content")
	}

	if _, err := GetRSS(conf, "nope", deps.DB); err == nil {
		t.Error("Expected RSS for unknown calendar to fail")
	}
}

func signedInboxRequest(t *testing.T, body []byte, privPem string, keyOwner string) *http.Request {
	t.Helper()

	priv, err := activitypub.ParsePrivateKey(privPem)
	if err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest("POST", "https://local.test/calendars/team/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Digest", activitypub.BodyDigest(body))
	if err := activitypub.SignRequest(req, priv, activitypub.KeyId(keyOwner)); err != nil {
		t.Fatal(err)
	}
	return req
}

func runInbox(deps *Deps, req *http.Request) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	HandleInbox(c, "team", deps)
	c.Writer.WriteHeaderNow()
	return w
}

func TestHandleInboxAcceptsSignedActivity(t *testing.T) {
	deps, _, _ := setupDeps(t)

	remoteURI := "https://remote.test/calendars/alice"
	keys := util.GeneratePemKeypair()
	cacheRemote(t, deps, remoteURI, keys.Public)

	activityId := "https://remote.test/activities/f1"
	body, _ := json.Marshal(map[string]interface{}{
		"id":     activityId,
		"type":   "Follow",
		"actor":  remoteURI,
		"object": "https://local.test/calendars/team",
	})

	w := runInbox(deps, signedInboxRequest(t, body, keys.Private, remoteURI))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	err, msg := deps.DB.ReadInboxMessageById(activityId)
	if msg == nil {
		t.Fatalf("Expected activity to be stored: %v", err)
	}
	if msg.Status != domain.MessageUnprocessed {
		t.Errorf("Expected stored message to be unprocessed, got %s", msg.Status)
	}

	// A replayed delivery is acknowledged without a second row
	w = runInbox(deps, signedInboxRequest(t, body, keys.Private, remoteURI))
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202 for replay, got %d", w.Code)
	}
}

func TestHandleInboxRejectsBadSignature(t *testing.T) {
	deps, _, _ := setupDeps(t)

	remoteURI := "https://remote.test/calendars/alice"
	keys := util.GeneratePemKeypair()
	otherKeys := util.GeneratePemKeypair()
	cacheRemote(t, deps, remoteURI, keys.Public)

	body, _ := json.Marshal(map[string]interface{}{
		"id":     "https://remote.test/activities/f1",
		"type":   "Follow",
		"actor":  remoteURI,
		"object": "https://local.test/calendars/team",
	})

	// Signed with a key that is not the sender's
	w := runInbox(deps, signedInboxRequest(t, body, otherKeys.Private, remoteURI))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}

	_, msg := deps.DB.ReadInboxMessageById("https://remote.test/activities/f1")
	if msg != nil {
		t.Error("Expected rejected activity not to be stored")
	}
}

func TestHandleInboxRejectsMalformedActivity(t *testing.T) {
	deps, _, _ := setupDeps(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json"},
		{"unknown type", `{"id":"https://x/1","type":"Like","actor":"https://x/y"}`},
		{"missing actor", `{"id":"https://x/1","type":"Follow"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("POST", "https://local.test/calendars/team/inbox", bytes.NewReader([]byte(tt.body)))
			w := runInbox(deps, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", w.Code)
			}
		})
	}
}

func TestHandleInboxUnknownCalendar(t *testing.T) {
	deps, _, _ := setupDeps(t)

	remoteURI := "https://remote.test/calendars/alice"
	keys := util.GeneratePemKeypair()
	cacheRemote(t, deps, remoteURI, keys.Public)

	body, _ := json.Marshal(map[string]interface{}{
		"id":     "https://remote.test/activities/f1",
		"type":   "Follow",
		"actor":  remoteURI,
		"object": "https://local.test/calendars/ghost",
	})

	req := signedInboxRequest(t, body, keys.Private, remoteURI)
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	HandleInbox(c, "ghost", deps)
	c.Writer.WriteHeaderNow()

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestGetFollowersCollection(t *testing.T) {
	deps, cal, _ := setupDeps(t)
	conf := testConf()

	remoteURI := "https://remote.test/calendars/alice"
	keys := util.GeneratePemKeypair()
	cacheRemote(t, deps, remoteURI, keys.Public)
	err, remote := deps.DB.ReadRemoteCalendarByURI(remoteURI)
	if remote == nil {
		t.Fatal(err)
	}

	if err := deps.DB.CreateFollowerEdge(&domain.FollowerEdge{
		Id:               uuid.New(),
		RemoteCalendarId: remote.Id,
		CalendarId:       cal.Id,
		CreatedAt:        time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	err, doc := GetFollowersCollection("team", deps.DB, conf)
	if err != nil {
		t.Fatalf("Failed to render followers: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("Followers collection is not valid JSON: %v", err)
	}
	if parsed["totalItems"] != float64(1) {
		t.Errorf("Expected 1 follower, got %v", parsed["totalItems"])
	}
	items, _ := parsed["orderedItems"].([]interface{})
	if len(items) != 1 || items[0] != remoteURI {
		t.Errorf("Unexpected items: %v", items)
	}
}
