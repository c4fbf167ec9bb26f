package activitypub

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kalends/kalends/db"
	"github.com/kalends/kalends/domain"
)

const maxOutboxBatch = 1000

// DeliverySink receives one fanned-out activity per remote inbox. The
// production sink hands work to the delivery queue; tests capture it.
type DeliverySink interface {
	Deliver(actorURI string, inboxURI string, activityJSON []byte) error
}

// queueSink enqueues deliveries for the retrying delivery worker.
type queueSink struct {
	db *db.DB
}

func (s *queueSink) Deliver(actorURI string, inboxURI string, activityJSON []byte) error {
	return s.db.EnqueueDelivery(&domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     inboxURI,
		ActorURI:     actorURI,
		ActivityJSON: string(activityJSON),
		Attempts:     0,
		NextRetryAt:  time.Now(),
		CreatedAt:    time.Now(),
	})
}

// OutboxProcessor drains the durable outbox queue, resolving each activity's
// recipients and fanning it out to the delivery sink.
type OutboxProcessor struct {
	db     *db.DB
	sink   DeliverySink
	notify chan struct{}
}

func NewOutboxProcessor(database *db.DB) *OutboxProcessor {
	return &OutboxProcessor{
		db:     database,
		sink:   &queueSink{db: database},
		notify: make(chan struct{}, 1),
	}
}

// QueueActivity stores an activity in the outbox and wakes the processor.
func (p *OutboxProcessor) QueueActivity(calendarId uuid.UUID, activity *Activity) error {
	raw, err := activity.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize activity: %w", err)
	}

	msg := &domain.OutboxMessage{
		Id:           uuid.New(),
		CalendarId:   calendarId,
		ActivityType: string(activity.Type),
		RawJSON:      string(raw),
		CreatedAt:    time.Now(),
		Status:       domain.MessageUnprocessed,
	}
	if err := p.db.CreateOutboxMessage(msg); err != nil {
		return fmt.Errorf("failed to queue activity: %w", err)
	}

	p.Notify()
	return nil
}

// Notify wakes the processor without waiting for the next poll tick.
func (p *OutboxProcessor) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run drains on startup, then on every poll tick or wakeup, until the
// context is cancelled.
func (p *OutboxProcessor) Run(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	p.ProcessPending()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Outbox: processor stopped")
			return
		case <-ticker.C:
			p.ProcessPending()
		case <-p.notify:
			p.ProcessPending()
		}
	}
}

// ProcessPending drains the unprocessed outbox to empty in bounded batches.
func (p *OutboxProcessor) ProcessPending() {
	for {
		err, msgs := p.db.ReadUnprocessedOutbox(maxOutboxBatch)
		if err != nil {
			log.Printf("Outbox: failed to read queue: %v", err)
			return
		}
		if msgs == nil || len(*msgs) == 0 {
			return
		}

		marked := 0
		for _, msg := range *msgs {
			status := domain.MessageOk
			if err := p.processMessage(&msg); err != nil {
				log.Printf("Outbox: message %s failed: %v", msg.Id, err)
				status = domain.MessageError
			}

			won, err := p.db.MarkOutboxProcessed(msg.Id, status)
			if err != nil {
				log.Printf("Outbox: failed to mark message %s: %v", msg.Id, err)
				continue
			}
			if won {
				marked++
			}
		}

		if marked == 0 {
			return
		}
	}
}

// processMessage resolves the recipient inboxes for one activity and hands
// each to the delivery sink. Addressed activities go only to their To list;
// everything else fans out to the calendar's audience.
func (p *OutboxProcessor) processMessage(msg *domain.OutboxMessage) error {
	activity, err := ParseActivity([]byte(msg.RawJSON))
	if err != nil {
		return err
	}

	inboxes, err := p.resolveRecipients(msg.CalendarId, activity)
	if err != nil {
		return err
	}
	if len(inboxes) == 0 {
		log.Printf("Outbox: activity %s has no recipients", activity.ID)
		return nil
	}

	raw := []byte(msg.RawJSON)
	for _, inboxURI := range inboxes {
		if err := p.sink.Deliver(activity.Actor, inboxURI, raw); err != nil {
			return fmt.Errorf("failed to hand off delivery to %s: %w", inboxURI, err)
		}
	}
	return nil
}

func (p *OutboxProcessor) resolveRecipients(calendarId uuid.UUID, activity *Activity) ([]string, error) {
	seen := make(map[string]bool)
	var inboxes []string

	add := func(inboxURI string) {
		if inboxURI != "" && !seen[inboxURI] {
			seen[inboxURI] = true
			inboxes = append(inboxes, inboxURI)
		}
	}

	if len(activity.To) > 0 {
		for _, actorURI := range activity.To {
			_, remote := p.db.ReadRemoteCalendarByURI(actorURI)
			if remote == nil {
				return nil, fmt.Errorf("addressed recipient %s is unknown", actorURI)
			}
			add(remote.InboxURI)
		}
		return inboxes, nil
	}

	// Audience fanout: every follower plus everyone who shared the object.
	err, edges := p.db.ReadFollowerEdgesByCalendarId(calendarId)
	if err != nil {
		return nil, fmt.Errorf("failed to load followers: %w", err)
	}
	for _, edge := range *edges {
		_, remote := p.db.ReadRemoteCalendarById(edge.RemoteCalendarId)
		if remote == nil {
			log.Printf("Outbox: follower edge %s points to missing remote calendar", edge.Id)
			continue
		}
		add(remote.InboxURI)
	}

	if apId := activity.ObjectURI(); apId != "" {
		_, shares := p.db.ReadShareRecordsByApId(apId)
		if shares != nil {
			for _, rec := range *shares {
				_, remote := p.db.ReadRemoteCalendarById(rec.RemoteCalendarId)
				if remote == nil {
					continue
				}
				add(remote.InboxURI)
			}
		}
	}

	return inboxes, nil
}
