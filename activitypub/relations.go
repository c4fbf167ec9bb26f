package activitypub

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/domain"
)

// Relations maintains the federation edges and mappings around remote
// calendars. Fetching is injectable so tests never touch the network.
type Relations struct {
	db         *db.DB
	fetchActor func(actorURI string) (*domain.RemoteCalendar, error)
}

func NewRelations(database *db.DB) *Relations {
	return &Relations{db: database, fetchActor: FetchRemoteCalendar}
}

// FindOrCreateRemoteCalendar resolves an actor URI to a cached remote
// calendar, fetching and storing the actor document on first contact.
func (r *Relations) FindOrCreateRemoteCalendar(actorURI string) (*domain.RemoteCalendar, error) {
	if _, cached := r.db.ReadRemoteCalendarByURI(actorURI); cached != nil {
		return cached, nil
	}

	fetched, err := r.fetchActor(actorURI)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve actor %s: %w", actorURI, err)
	}

	if err := r.db.CreateRemoteCalendar(fetched); err != nil {
		// Lost an insert race; the row is there now.
		if _, existing := r.db.ReadRemoteCalendarByURI(actorURI); existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to store remote calendar: %w", err)
	}

	return fetched, nil
}

// RefreshRemoteCalendar re-fetches a known actor document, picking up key
// rotations and inbox moves.
func (r *Relations) RefreshRemoteCalendar(actorURI string) (*domain.RemoteCalendar, error) {
	fetched, err := r.fetchActor(actorURI)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh actor %s: %w", actorURI, err)
	}

	if _, existing := r.db.ReadRemoteCalendarByURI(actorURI); existing != nil {
		existing.Name = fetched.Name
		existing.InboxURI = fetched.InboxURI
		existing.PublicKeyPem = fetched.PublicKeyPem
		existing.LastFetchedAt = time.Now()
		if err := r.db.UpdateRemoteCalendar(existing); err != nil {
			return nil, fmt.Errorf("failed to update remote calendar: %w", err)
		}
		return existing, nil
	}

	if err := r.db.CreateRemoteCalendar(fetched); err != nil {
		return nil, fmt.Errorf("failed to store remote calendar: %w", err)
	}
	return fetched, nil
}

// IsRemoteEditor reports whether the actor is authorized to mutate events on
// the calendar.
func (r *Relations) IsRemoteEditor(calendarId uuid.UUID, actorURI string) bool {
	_, editor := r.db.ReadRemoteEditor(calendarId, actorURI)
	return editor != nil
}

// AddRemoteEditor grants a remote actor edit rights on a local calendar.
func (r *Relations) AddRemoteEditor(calendarId uuid.UUID, actorURI string) error {
	if r.IsRemoteEditor(calendarId, actorURI) {
		return nil
	}
	return r.db.CreateRemoteEditor(&domain.RemoteEditor{
		Id:         uuid.New(),
		CalendarId: calendarId,
		ActorURI:   actorURI,
		CreatedAt:  time.Now(),
	})
}

// ApplyCategoryMappings assigns local categories to an event based on the
// calendar's mapping table for the sending actor. Unmapped tags are skipped;
// a bad mapping row is logged and never fails the event.
func (r *Relations) ApplyCategoryMappings(calendarId uuid.UUID, eventId uuid.UUID, remoteActorURI string, tags []string) {
	if len(tags) == 0 {
		return
	}

	err, mappings := r.db.ReadCategoryMappingsForSource(calendarId, remoteActorURI)
	if err != nil || mappings == nil || len(*mappings) == 0 {
		return
	}

	byTag := make(map[string]uuid.UUID, len(*mappings))
	for _, m := range *mappings {
		byTag[m.RemoteTag] = m.CategoryId
	}

	for _, tag := range tags {
		categoryId, ok := byTag[tag]
		if !ok {
			continue
		}
		_, cat := r.db.ReadCategoryById(categoryId)
		if cat == nil || cat.CalendarId != calendarId {
			log.Printf("Relations: mapping for tag %q points to invalid category %s", tag, categoryId)
			continue
		}
		if err := r.db.AssignEventCategory(eventId, categoryId); err != nil {
			log.Printf("Relations: failed to assign category %s to event %s: %v", categoryId, eventId, err)
		}
	}
}

// MapCategory registers a remote tag to local category translation for events
// arriving from the given actor.
func (r *Relations) MapCategory(calendarId uuid.UUID, remoteActorURI string, remoteTag string, categoryId uuid.UUID) error {
	_, cat := r.db.ReadCategoryById(categoryId)
	if cat == nil || cat.CalendarId != calendarId {
		return fmt.Errorf("category %s does not belong to calendar %s", categoryId, calendarId)
	}
	return r.db.CreateCategoryMapping(&domain.CategoryMapping{
		Id:             uuid.New(),
		CalendarId:     calendarId,
		RemoteActorURI: remoteActorURI,
		RemoteTag:      remoteTag,
		CategoryId:     categoryId,
		CreatedAt:      time.Now(),
	})
}
