package web

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kalends/kalends/activitypub"
	"github.com/kalends/kalends/domain"
)

// HandleInbox accepts an activity for a calendar's inbox. The request is
// verified and stored durably; all processing happens later in the inbox
// processor. A replayed delivery of a known activity id is acknowledged
// without storing anything.
func HandleInbox(c *gin.Context, urlName string, deps *Deps) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: failed to read body: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	activity, err := activitypub.ParseActivity(body)
	if err != nil {
		log.Printf("Inbox: rejected payload: %v", err)
		c.Status(http.StatusBadRequest)
		return
	}

	actor, err := deps.Actors.ByUrlName(urlName)
	if err != nil {
		log.Printf("Inbox: no actor for calendar %q", urlName)
		c.Status(http.StatusNotFound)
		return
	}

	// Resolve the sender first so its key is cached for verification.
	if _, err := deps.Relations.FindOrCreateRemoteCalendar(activity.Actor); err != nil {
		log.Printf("Inbox: could not resolve sender %s: %v", activity.Actor, err)
		c.Status(http.StatusBadRequest)
		return
	}

	if !deps.Actors.VerifyRequest(c.Request, activity.Actor) {
		log.Printf("Inbox: signature verification failed for %s", activity.Actor)
		c.Status(http.StatusUnauthorized)
		return
	}

	msg := &domain.InboxMessage{
		Id:           activity.ID,
		CalendarId:   actor.CalendarId,
		ActivityType: string(activity.Type),
		Published:    activity.PublishedTime(),
		ReceivedAt:   time.Now(),
		RawJSON:      string(body),
		Status:       domain.MessageUnprocessed,
	}

	if err := deps.DB.CreateInboxMessage(msg); err != nil {
		// Most likely a duplicate delivery of an already stored activity.
		log.Printf("Inbox: activity %s already stored: %v", activity.ID, err)
		c.Status(http.StatusAccepted)
		return
	}

	deps.Inbox.Notify()
	c.Status(http.StatusAccepted)
}
