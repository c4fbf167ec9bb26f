package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kalends/kalends/calendar"
	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/domain"
)

// maxInboxBatch bounds a single drain pass. The processor loops until the
// queue is empty, so the bound caps memory, not throughput.
const maxInboxBatch = 1000

// ObjectFetcher dereferences a federation object URI to its payload.
type ObjectFetcher interface {
	FetchObject(uri string) (map[string]interface{}, error)
}

type httpObjectFetcher struct{}

func (httpObjectFetcher) FetchObject(uri string) (map[string]interface{}, error) {
	req, err := http.NewRequest("GET", uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/activity+json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("object fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse object JSON: %w", err)
	}
	return obj, nil
}

// InboxProcessor drains the durable inbox queue and applies each activity to
// the event domain. Messages are processed in isolation: one failure moves
// that message to error and the drain continues.
type InboxProcessor struct {
	db        *db.DB
	calendars *calendar.Service
	actors    *ActorService
	relations *Relations
	outbox    *OutboxProcessor
	fetcher   ObjectFetcher
	domain    string
	notify    chan struct{}
}

func NewInboxProcessor(database *db.DB, calendars *calendar.Service, actors *ActorService, relations *Relations, outbox *OutboxProcessor, domain string) *InboxProcessor {
	return &InboxProcessor{
		db:        database,
		calendars: calendars,
		actors:    actors,
		relations: relations,
		outbox:    outbox,
		fetcher:   httpObjectFetcher{},
		domain:    domain,
		notify:    make(chan struct{}, 1),
	}
}

// Notify wakes the processor without waiting for the next poll tick. Never
// blocks; a pending wakeup already covers the new message.
func (p *InboxProcessor) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run drains on startup, then on every poll tick or wakeup, until the
// context is cancelled.
func (p *InboxProcessor) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	p.ProcessPending()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Inbox: processor stopped")
			return
		case <-ticker.C:
			p.ProcessPending()
		case <-p.notify:
			p.ProcessPending()
		}
	}
}

// ProcessPending drains the unprocessed inbox to empty in bounded batches.
func (p *InboxProcessor) ProcessPending() {
	for {
		err, msgs := p.db.ReadUnprocessedInbox(maxInboxBatch)
		if err != nil {
			log.Printf("Inbox: failed to read queue: %v", err)
			return
		}
		if msgs == nil || len(*msgs) == 0 {
			return
		}

		marked := 0
		for _, msg := range *msgs {
			status := domain.MessageOk
			if err := p.processMessage(&msg); err != nil {
				log.Printf("Inbox: message %s failed: %v", msg.Id, err)
				status = domain.MessageError
			}

			won, err := p.db.MarkInboxProcessed(msg.Id, status)
			if err != nil {
				log.Printf("Inbox: failed to mark message %s: %v", msg.Id, err)
				continue
			}
			if won {
				marked++
			}
		}

		// A pass that moved nothing to a terminal status cannot make
		// progress; bail instead of spinning on the same rows.
		if marked == 0 {
			return
		}
	}
}

func (p *InboxProcessor) processMessage(msg *domain.InboxMessage) error {
	cal, err := p.calendars.GetCalendar(msg.CalendarId)
	if err != nil {
		return fmt.Errorf("target calendar gone: %w", err)
	}

	activity, err := ParseActivity([]byte(msg.RawJSON))
	if err != nil {
		return err
	}

	switch activity.Type {
	case TypeCreate:
		return p.handleCreate(cal, activity)
	case TypeUpdate:
		return p.handleUpdate(cal, activity)
	case TypeDelete:
		return p.handleDelete(cal, activity)
	case TypeFollow:
		return p.handleFollow(cal, activity)
	case TypeAccept:
		return p.handleAccept(cal, activity)
	case TypeAnnounce:
		return p.handleAnnounce(cal, activity)
	case TypeUndo:
		return p.handleUndo(cal, activity)
	}
	return fmt.Errorf("unsupported activity type: %q", activity.Type)
}

// authorizeMutation decides whether the actor may change the event behind the
// given identity. The original author always may; anyone else needs remote
// editor rights on the calendar.
func (p *InboxProcessor) authorizeMutation(cal *domain.Calendar, identity *domain.EventIdentity, actorURI string) error {
	if identity.AttributedTo == actorURI {
		return nil
	}
	if p.relations.IsRemoteEditor(cal.Id, actorURI) {
		return nil
	}
	return fmt.Errorf("actor %s is not authorized to mutate event %s", actorURI, identity.ApId)
}

// handleCreate materializes a remote-authored event on the local calendar.
// The event's author may create it here directly (calendar-to-calendar
// federation); anyone else needs remote editor rights. A replayed Create
// whose event already exists is a no-op.
func (p *InboxProcessor) handleCreate(cal *domain.Calendar, activity *Activity) error {
	obj := activity.ObjectMap()
	if obj == nil {
		return fmt.Errorf("create %s carries no embedded object", activity.ID)
	}
	apId := activity.ObjectURI()
	if apId == "" {
		return fmt.Errorf("create %s object has no id", activity.ID)
	}

	if _, existing := p.db.ReadEventIdentityByApId(apId); existing != nil {
		log.Printf("Inbox: event %s already exists, skipping create", apId)
		return nil
	}

	// An object without attribution is attributed to its sender.
	attributedTo := stringField(obj, "attributedTo")
	if attributedTo == "" {
		attributedTo = activity.Actor
	}

	if activity.Actor != attributedTo && !p.relations.IsRemoteEditor(cal.Id, activity.Actor) {
		return fmt.Errorf("actor %s is not authorized to create events on calendar %s", activity.Actor, cal.Id)
	}

	params, err := eventParamsFromObject(obj)
	if err != nil {
		return err
	}

	ev, err := p.calendars.AddRemoteEvent(cal, params)
	if err != nil {
		return err
	}

	identity := &domain.EventIdentity{
		Id:           uuid.New(),
		EventId:      ev.Id,
		CalendarId:   cal.Id,
		ApId:         apId,
		AttributedTo: attributedTo,
		CreatedAt:    time.Now(),
	}
	if err := p.db.CreateEventIdentity(identity); err != nil {
		return fmt.Errorf("failed to record event identity: %w", err)
	}

	p.relations.ApplyCategoryMappings(cal.Id, ev.Id, activity.Actor, params.Tags)
	return nil
}

// handleUpdate applies remote field changes to a known event. An update for
// an event this instance never saw is a no-op; an unauthorized one is an
// error and leaves the event untouched.
func (p *InboxProcessor) handleUpdate(cal *domain.Calendar, activity *Activity) error {
	obj := activity.ObjectMap()
	if obj == nil {
		return fmt.Errorf("update %s carries no embedded object", activity.ID)
	}
	apId := activity.ObjectURI()
	if apId == "" {
		return fmt.Errorf("update %s object has no id", activity.ID)
	}

	_, identity := p.db.ReadEventIdentityByApId(apId)
	if identity == nil {
		log.Printf("Inbox: update for unknown event %s, skipping", apId)
		return nil
	}
	if identity.CalendarId != cal.Id {
		return fmt.Errorf("event %s belongs to a different calendar", apId)
	}

	if err := p.authorizeMutation(cal, identity, activity.Actor); err != nil {
		return err
	}

	params, err := eventParamsFromObject(obj)
	if err != nil {
		return err
	}

	if _, err := p.calendars.UpdateRemoteEvent(cal, identity.EventId, params); err != nil {
		return err
	}

	p.relations.ApplyCategoryMappings(cal.Id, identity.EventId, activity.Actor, params.Tags)
	return nil
}

// handleDelete removes a known event and its identity. Deleting an unknown
// event is a no-op.
func (p *InboxProcessor) handleDelete(cal *domain.Calendar, activity *Activity) error {
	apId := activity.ObjectURI()
	if apId == "" {
		return fmt.Errorf("delete %s has no object id", activity.ID)
	}

	_, identity := p.db.ReadEventIdentityByApId(apId)
	if identity == nil {
		log.Printf("Inbox: delete for unknown event %s, skipping", apId)
		return nil
	}
	if identity.CalendarId != cal.Id {
		return fmt.Errorf("event %s belongs to a different calendar", apId)
	}

	if err := p.authorizeMutation(cal, identity, activity.Actor); err != nil {
		return err
	}

	if err := p.calendars.DeleteRemoteEvent(cal, identity.EventId); err != nil {
		return err
	}
	if err := p.db.DeleteEventIdentity(identity.Id); err != nil {
		return fmt.Errorf("failed to remove event identity: %w", err)
	}
	return nil
}

// handleFollow records a new follower and queues exactly one Accept back to
// them. A repeated Follow from the same calendar changes nothing.
func (p *InboxProcessor) handleFollow(cal *domain.Calendar, activity *Activity) error {
	localActor, err := p.actors.ByCalendarId(cal.Id)
	if err != nil {
		return err
	}
	if target := activity.ObjectURI(); target != "" && target != localActor.ActorURI {
		return fmt.Errorf("follow %s targets %s, not this calendar", activity.ID, target)
	}

	remote, err := p.relations.FindOrCreateRemoteCalendar(activity.Actor)
	if err != nil {
		return err
	}

	if _, existing := p.db.ReadFollowerEdge(remote.Id, cal.Id); existing != nil {
		log.Printf("Inbox: %s already follows calendar %s, skipping", remote.ActorURI, cal.Id)
		return nil
	}

	accept := NewAccept(p.domain, localActor.ActorURI, activity, remote.ActorURI)
	raw, err := accept.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize accept: %w", err)
	}

	edge := &domain.FollowerEdge{
		Id:               uuid.New(),
		RemoteCalendarId: remote.Id,
		CalendarId:       cal.Id,
		FollowURI:        activity.ID,
		CreatedAt:        time.Now(),
	}
	msg := &domain.OutboxMessage{
		Id:           uuid.New(),
		CalendarId:   cal.Id,
		ActivityType: string(TypeAccept),
		RawJSON:      string(raw),
		CreatedAt:    time.Now(),
		Status:       domain.MessageUnprocessed,
	}

	// Edge and Accept commit together: an edge must never exist without the
	// Accept that confirms it, or a crash here would silently drop the
	// handshake on retry.
	if err := p.db.CreateFollowerEdgeWithAccept(edge, msg); err != nil {
		return fmt.Errorf("failed to record follower: %w", err)
	}

	p.outbox.Notify()
	return nil
}

// handleAccept completes a follow handshake this calendar initiated. An
// Accept with no matching pending follow is a no-op.
func (p *InboxProcessor) handleAccept(cal *domain.Calendar, activity *Activity) error {
	follow, err := activity.EmbeddedActivity()
	if err != nil {
		return fmt.Errorf("accept %s has no embedded follow: %w", activity.ID, err)
	}
	if follow.Type != TypeFollow {
		return fmt.Errorf("accept %s embeds a %s, not a follow", activity.ID, follow.Type)
	}

	_, remote := p.db.ReadRemoteCalendarByURI(activity.Actor)
	if remote == nil {
		log.Printf("Inbox: accept from unknown actor %s, skipping", activity.Actor)
		return nil
	}

	_, edge := p.db.ReadFollowingEdge(cal.Id, remote.Id)
	if edge == nil {
		log.Printf("Inbox: accept without a pending follow of %s, skipping", remote.ActorURI)
		return nil
	}
	if follow.ID != edge.FollowURI {
		return fmt.Errorf("accept %s embeds follow %s, which does not match the pending follow %s", activity.ID, follow.ID, edge.FollowURI)
	}
	if edge.Accepted {
		return nil
	}

	if err := p.db.AcceptFollowingEdge(edge.Id); err != nil {
		return fmt.Errorf("failed to accept following edge: %w", err)
	}
	return nil
}

// handleAnnounce records a share of an event. If the event is unknown here,
// its object is fetched and materialized first; a fetch failure leaves no
// partial records behind.
func (p *InboxProcessor) handleAnnounce(cal *domain.Calendar, activity *Activity) error {
	apId := activity.ObjectURI()
	if apId == "" {
		return fmt.Errorf("announce %s has no object id", activity.ID)
	}

	sharer, err := p.relations.FindOrCreateRemoteCalendar(activity.Actor)
	if err != nil {
		return err
	}

	if _, existing := p.db.ReadShareRecord(apId, sharer.Id); existing != nil {
		log.Printf("Inbox: %s already shared %s, skipping", sharer.ActorURI, apId)
		return nil
	}

	_, identity := p.db.ReadEventIdentityByApId(apId)
	if identity == nil {
		obj := activity.ObjectMap()
		if obj == nil {
			obj, err = p.fetcher.FetchObject(apId)
			if err != nil {
				return fmt.Errorf("failed to fetch announced event %s: %w", apId, err)
			}
		}

		params, err := eventParamsFromObject(obj)
		if err != nil {
			return err
		}

		attributedTo := stringField(obj, "attributedTo")
		if attributedTo == "" {
			attributedTo = activity.Actor
		}

		ev, err := p.calendars.AddRemoteEvent(cal, params)
		if err != nil {
			return err
		}

		identity = &domain.EventIdentity{
			Id:           uuid.New(),
			EventId:      ev.Id,
			CalendarId:   cal.Id,
			ApId:         apId,
			AttributedTo: attributedTo,
			CreatedAt:    time.Now(),
		}
		if err := p.db.CreateEventIdentity(identity); err != nil {
			return fmt.Errorf("failed to record event identity: %w", err)
		}

		p.relations.ApplyCategoryMappings(cal.Id, ev.Id, activity.Actor, params.Tags)
	}

	rec := &domain.ShareRecord{
		Id:               uuid.New(),
		ApId:             apId,
		RemoteCalendarId: sharer.Id,
		CreatedAt:        time.Now(),
	}
	if err := p.db.CreateShareRecord(rec); err != nil {
		return fmt.Errorf("failed to record share: %w", err)
	}
	return nil
}

// handleUndo reverses an earlier activity of the same actor, resolved through
// the retained inbox row. An Undo of something never seen, or already undone,
// is a no-op.
func (p *InboxProcessor) handleUndo(cal *domain.Calendar, activity *Activity) error {
	targetId := activity.ObjectURI()
	if targetId == "" {
		return fmt.Errorf("undo %s has no object id", activity.ID)
	}

	_, original := p.db.ReadInboxMessageById(targetId)
	if original == nil {
		log.Printf("Inbox: undo of unknown activity %s, skipping", targetId)
		return nil
	}

	originalActivity, err := ParseActivity([]byte(original.RawJSON))
	if err != nil {
		return fmt.Errorf("failed to parse undone activity: %w", err)
	}
	if originalActivity.Actor != activity.Actor {
		return fmt.Errorf("actor %s cannot undo activity of %s", activity.Actor, originalActivity.Actor)
	}

	switch originalActivity.Type {
	case TypeFollow:
		_, remote := p.db.ReadRemoteCalendarByURI(activity.Actor)
		if remote == nil {
			return nil
		}
		if _, edge := p.db.ReadFollowerEdge(remote.Id, cal.Id); edge == nil {
			return nil
		}
		return p.db.DeleteFollowerEdge(remote.Id, cal.Id)
	case TypeAnnounce:
		apId := originalActivity.ObjectURI()
		_, remote := p.db.ReadRemoteCalendarByURI(activity.Actor)
		if apId == "" || remote == nil {
			return nil
		}
		if _, rec := p.db.ReadShareRecord(apId, remote.Id); rec == nil {
			return nil
		}
		return p.db.DeleteShareRecord(apId, remote.Id)
	}
	return fmt.Errorf("cannot undo a %s activity", originalActivity.Type)
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// eventParamsFromObject maps a federation event object onto the event
// domain's input. Name and start time are mandatory; everything else falls
// back to empty.
func eventParamsFromObject(obj map[string]interface{}) (calendar.EventParams, error) {
	params := calendar.EventParams{
		Description: stringField(obj, "content"),
		Location:    stringField(obj, "location"),
	}

	params.Summary = stringField(obj, "name")
	if params.Summary == "" {
		params.Summary = stringField(obj, "summary")
	}
	if params.Summary == "" {
		return params, fmt.Errorf("event object has no name")
	}

	startRaw := stringField(obj, "startTime")
	if startRaw == "" {
		return params, fmt.Errorf("event object has no startTime")
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return params, fmt.Errorf("invalid startTime %q: %w", startRaw, err)
	}
	params.StartsAt = start

	if endRaw := stringField(obj, "endTime"); endRaw != "" {
		if end, err := time.Parse(time.RFC3339, endRaw); err == nil {
			params.EndsAt = end
		}
	}

	if rawTags, ok := obj["tag"].([]interface{}); ok {
		for _, rt := range rawTags {
			switch t := rt.(type) {
			case string:
				params.Tags = append(params.Tags, t)
			case map[string]interface{}:
				if name := stringField(t, "name"); name != "" {
					params.Tags = append(params.Tags, name)
				}
			}
		}
	}

	return params, nil
}
