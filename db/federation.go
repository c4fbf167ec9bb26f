package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/kalends/kalends/domain"
)

// Calendar actor queries
const (
	sqlInsertActor             = `INSERT INTO calendar_actors(id, calendar_id, actor_uri, public_key_pem, private_key_pem, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectActorByCalendarId = `SELECT id, calendar_id, actor_uri, public_key_pem, private_key_pem, created_at FROM calendar_actors WHERE calendar_id = ?`
	sqlSelectActorByURI        = `SELECT id, calendar_id, actor_uri, public_key_pem, private_key_pem, created_at FROM calendar_actors WHERE actor_uri = ?`
	sqlSelectActorByUrlName    = `SELECT calendar_actors.id, calendar_actors.calendar_id, calendar_actors.actor_uri, calendar_actors.public_key_pem, calendar_actors.private_key_pem, calendar_actors.created_at
                                                            FROM calendar_actors
                                                            INNER JOIN calendars ON calendars.id = calendar_actors.calendar_id
                                                            WHERE calendars.url_name = ?`
)

func (db *DB) CreateCalendarActor(actor *domain.CalendarActor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActor,
			actor.Id.String(),
			actor.CalendarId.String(),
			actor.ActorURI,
			actor.PublicKeyPem,
			actor.PrivateKeyPem,
			actor.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadActorByCalendarId(calendarId uuid.UUID) (error, *domain.CalendarActor) {
	return scanActor(db.db.QueryRow(sqlSelectActorByCalendarId, calendarId.String()))
}

func (db *DB) ReadActorByURI(actorURI string) (error, *domain.CalendarActor) {
	return scanActor(db.db.QueryRow(sqlSelectActorByURI, actorURI))
}

func (db *DB) ReadActorByUrlName(urlName string) (error, *domain.CalendarActor) {
	return scanActor(db.db.QueryRow(sqlSelectActorByUrlName, urlName))
}

func scanActor(row *sql.Row) (error, *domain.CalendarActor) {
	var actor domain.CalendarActor
	var idStr, calIdStr string
	err := row.Scan(&idStr, &calIdStr, &actor.ActorURI, &actor.PublicKeyPem, &actor.PrivateKeyPem, &actor.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	actor.Id, _ = uuid.Parse(idStr)
	actor.CalendarId, _ = uuid.Parse(calIdStr)
	return nil, &actor
}

// Remote calendar queries
const (
	sqlInsertRemoteCalendar      = `INSERT INTO remote_calendars(id, name, domain, actor_uri, inbox_uri, public_key_pem, last_fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectRemoteCalendarByURI = `SELECT id, name, domain, actor_uri, inbox_uri, public_key_pem, last_fetched_at FROM remote_calendars WHERE actor_uri = ?`
	sqlSelectRemoteCalendarById  = `SELECT id, name, domain, actor_uri, inbox_uri, public_key_pem, last_fetched_at FROM remote_calendars WHERE id = ?`
	sqlUpdateRemoteCalendar      = `UPDATE remote_calendars SET name = ?, inbox_uri = ?, public_key_pem = ?, last_fetched_at = ? WHERE actor_uri = ?`
)

func (db *DB) CreateRemoteCalendar(rc *domain.RemoteCalendar) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteCalendar,
			rc.Id.String(),
			rc.Name,
			rc.Domain,
			rc.ActorURI,
			rc.InboxURI,
			rc.PublicKeyPem,
			rc.LastFetchedAt,
		)
		return err
	})
}

func (db *DB) UpdateRemoteCalendar(rc *domain.RemoteCalendar) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteCalendar,
			rc.Name,
			rc.InboxURI,
			rc.PublicKeyPem,
			rc.LastFetchedAt,
			rc.ActorURI,
		)
		return err
	})
}

func (db *DB) ReadRemoteCalendarByURI(actorURI string) (error, *domain.RemoteCalendar) {
	return scanRemoteCalendar(db.db.QueryRow(sqlSelectRemoteCalendarByURI, actorURI))
}

func (db *DB) ReadRemoteCalendarById(id uuid.UUID) (error, *domain.RemoteCalendar) {
	return scanRemoteCalendar(db.db.QueryRow(sqlSelectRemoteCalendarById, id.String()))
}

func scanRemoteCalendar(row *sql.Row) (error, *domain.RemoteCalendar) {
	var rc domain.RemoteCalendar
	var idStr string
	err := row.Scan(&idStr, &rc.Name, &rc.Domain, &rc.ActorURI, &rc.InboxURI, &rc.PublicKeyPem, &rc.LastFetchedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	rc.Id, _ = uuid.Parse(idStr)
	return nil, &rc
}

// Inbox message queries
const (
	sqlInsertInboxMessage     = `INSERT INTO inbox_messages(id, calendar_id, activity_type, published, received_at, raw_json, status) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectInboxMessageById = `SELECT id, calendar_id, activity_type, published, received_at, raw_json, processed_at, status FROM inbox_messages WHERE id = ?`
	sqlSelectUnprocessedInbox = `SELECT id, calendar_id, activity_type, published, received_at, raw_json, processed_at, status FROM inbox_messages
                                                            WHERE status = 'unprocessed'
                                                            ORDER BY calendar_id, published ASC
                                                            LIMIT ?`
	// Only a single caller can move a message out of unprocessed.
	sqlMarkInboxProcessed = `UPDATE inbox_messages SET status = ?, processed_at = ? WHERE id = ? AND status = 'unprocessed'`
)

func (db *DB) CreateInboxMessage(msg *domain.InboxMessage) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertInboxMessage,
			msg.Id,
			msg.CalendarId.String(),
			msg.ActivityType,
			msg.Published,
			msg.ReceivedAt,
			msg.RawJSON,
			msg.Status,
		)
		return err
	})
}

func (db *DB) ReadInboxMessageById(id string) (error, *domain.InboxMessage) {
	return scanInboxMessage(db.db.QueryRow(sqlSelectInboxMessageById, id))
}

func (db *DB) ReadUnprocessedInbox(limit int) (error, *[]domain.InboxMessage) {
	rows, err := db.db.Query(sqlSelectUnprocessedInbox, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var msgs []domain.InboxMessage
	for rows.Next() {
		var msg domain.InboxMessage
		var calIdStr string
		var processedAt sql.NullTime
		if err := rows.Scan(&msg.Id, &calIdStr, &msg.ActivityType, &msg.Published, &msg.ReceivedAt, &msg.RawJSON, &processedAt, &msg.Status); err != nil {
			return err, &msgs
		}
		msg.CalendarId, _ = uuid.Parse(calIdStr)
		if processedAt.Valid {
			msg.ProcessedAt = &processedAt.Time
		}
		msgs = append(msgs, msg)
	}
	if err = rows.Err(); err != nil {
		return err, &msgs
	}
	return nil, &msgs
}

// MarkInboxProcessed moves a message to a terminal status. Returns true when
// this caller won the transition, false when the message was already
// terminal.
func (db *DB) MarkInboxProcessed(id string, status string) (bool, error) {
	var won bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlMarkInboxProcessed, status, time.Now(), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		won = n == 1
		return nil
	})
	return won, err
}

func scanInboxMessage(row *sql.Row) (error, *domain.InboxMessage) {
	var msg domain.InboxMessage
	var calIdStr string
	var processedAt sql.NullTime
	err := row.Scan(&msg.Id, &calIdStr, &msg.ActivityType, &msg.Published, &msg.ReceivedAt, &msg.RawJSON, &processedAt, &msg.Status)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	msg.CalendarId, _ = uuid.Parse(calIdStr)
	if processedAt.Valid {
		msg.ProcessedAt = &processedAt.Time
	}
	return nil, &msg
}

// Outbox message queries
const (
	sqlInsertOutboxMessage     = `INSERT INTO outbox_messages(id, calendar_id, activity_type, raw_json, created_at, status) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectUnprocessedOutbox = `SELECT id, calendar_id, activity_type, raw_json, created_at, processed_at, status FROM outbox_messages
                                                            WHERE status = 'unprocessed'
                                                            ORDER BY created_at ASC
                                                            LIMIT ?`
	sqlMarkOutboxProcessed = `UPDATE outbox_messages SET status = ?, processed_at = ? WHERE id = ? AND status = 'unprocessed'`
	sqlCountOutboxByType   = `SELECT COUNT(*) FROM outbox_messages WHERE calendar_id = ? AND activity_type = ?`
)

func (db *DB) CreateOutboxMessage(msg *domain.OutboxMessage) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertOutboxMessage,
			msg.Id.String(),
			msg.CalendarId.String(),
			msg.ActivityType,
			msg.RawJSON,
			msg.CreatedAt,
			msg.Status,
		)
		return err
	})
}

func (db *DB) ReadUnprocessedOutbox(limit int) (error, *[]domain.OutboxMessage) {
	rows, err := db.db.Query(sqlSelectUnprocessedOutbox, limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var msgs []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		var idStr, calIdStr string
		var processedAt sql.NullTime
		if err := rows.Scan(&idStr, &calIdStr, &msg.ActivityType, &msg.RawJSON, &msg.CreatedAt, &processedAt, &msg.Status); err != nil {
			return err, &msgs
		}
		msg.Id, _ = uuid.Parse(idStr)
		msg.CalendarId, _ = uuid.Parse(calIdStr)
		if processedAt.Valid {
			msg.ProcessedAt = &processedAt.Time
		}
		msgs = append(msgs, msg)
	}
	if err = rows.Err(); err != nil {
		return err, &msgs
	}
	return nil, &msgs
}

func (db *DB) MarkOutboxProcessed(id uuid.UUID, status string) (bool, error) {
	var won bool
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlMarkOutboxProcessed, status, time.Now(), id.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		won = n == 1
		return nil
	})
	return won, err
}

func (db *DB) CountOutboxByType(calendarId uuid.UUID, activityType string) (error, int) {
	var count int
	err := db.db.QueryRow(sqlCountOutboxByType, calendarId.String(), activityType).Scan(&count)
	return err, count
}

// Follower edge queries
const (
	sqlInsertFollowerEdge            = `INSERT INTO follower_edges(id, remote_calendar_id, calendar_id, follow_uri, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectFollowerEdge            = `SELECT id, remote_calendar_id, calendar_id, follow_uri, created_at FROM follower_edges WHERE remote_calendar_id = ? AND calendar_id = ?`
	sqlDeleteFollowerEdge            = `DELETE FROM follower_edges WHERE remote_calendar_id = ? AND calendar_id = ?`
	sqlSelectFollowerEdgesByCalendar = `SELECT id, remote_calendar_id, calendar_id, follow_uri, created_at FROM follower_edges WHERE calendar_id = ?`
)

func (db *DB) CreateFollowerEdge(edge *domain.FollowerEdge) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollowerEdge,
			edge.Id.String(),
			edge.RemoteCalendarId.String(),
			edge.CalendarId.String(),
			edge.FollowURI,
			edge.CreatedAt,
		)
		return err
	})
}

// CreateFollowerEdgeWithAccept stores a follower edge and its queued Accept
// in one transaction. An edge must never be visible without the Accept that
// confirms it.
func (db *DB) CreateFollowerEdgeWithAccept(edge *domain.FollowerEdge, msg *domain.OutboxMessage) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlInsertFollowerEdge,
			edge.Id.String(),
			edge.RemoteCalendarId.String(),
			edge.CalendarId.String(),
			edge.FollowURI,
			edge.CreatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(sqlInsertOutboxMessage,
			msg.Id.String(),
			msg.CalendarId.String(),
			msg.ActivityType,
			msg.RawJSON,
			msg.CreatedAt,
			msg.Status,
		)
		return err
	})
}

func (db *DB) ReadFollowerEdge(remoteCalendarId uuid.UUID, calendarId uuid.UUID) (error, *domain.FollowerEdge) {
	row := db.db.QueryRow(sqlSelectFollowerEdge, remoteCalendarId.String(), calendarId.String())
	var edge domain.FollowerEdge
	var idStr, remoteIdStr, calIdStr string
	err := row.Scan(&idStr, &remoteIdStr, &calIdStr, &edge.FollowURI, &edge.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	edge.Id, _ = uuid.Parse(idStr)
	edge.RemoteCalendarId, _ = uuid.Parse(remoteIdStr)
	edge.CalendarId, _ = uuid.Parse(calIdStr)
	return nil, &edge
}

func (db *DB) DeleteFollowerEdge(remoteCalendarId uuid.UUID, calendarId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowerEdge, remoteCalendarId.String(), calendarId.String())
		return err
	})
}

func (db *DB) ReadFollowerEdgesByCalendarId(calendarId uuid.UUID) (error, *[]domain.FollowerEdge) {
	rows, err := db.db.Query(sqlSelectFollowerEdgesByCalendar, calendarId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var edges []domain.FollowerEdge
	for rows.Next() {
		var edge domain.FollowerEdge
		var idStr, remoteIdStr, calIdStr string
		if err := rows.Scan(&idStr, &remoteIdStr, &calIdStr, &edge.FollowURI, &edge.CreatedAt); err != nil {
			return err, &edges
		}
		edge.Id, _ = uuid.Parse(idStr)
		edge.RemoteCalendarId, _ = uuid.Parse(remoteIdStr)
		edge.CalendarId, _ = uuid.Parse(calIdStr)
		edges = append(edges, edge)
	}
	if err = rows.Err(); err != nil {
		return err, &edges
	}
	return nil, &edges
}

// Following edge queries
const (
	sqlInsertFollowingEdge = `INSERT INTO following_edges(id, calendar_id, remote_calendar_id, follow_uri, accepted, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectFollowingEdge = `SELECT id, calendar_id, remote_calendar_id, follow_uri, accepted, created_at FROM following_edges WHERE calendar_id = ? AND remote_calendar_id = ?`
	sqlAcceptFollowingEdge = `UPDATE following_edges SET accepted = 1 WHERE id = ?`
)

func (db *DB) CreateFollowingEdge(edge *domain.FollowingEdge) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollowingEdge,
			edge.Id.String(),
			edge.CalendarId.String(),
			edge.RemoteCalendarId.String(),
			edge.FollowURI,
			edge.Accepted,
			edge.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadFollowingEdge(calendarId uuid.UUID, remoteCalendarId uuid.UUID) (error, *domain.FollowingEdge) {
	row := db.db.QueryRow(sqlSelectFollowingEdge, calendarId.String(), remoteCalendarId.String())
	var edge domain.FollowingEdge
	var idStr, calIdStr, remoteIdStr string
	err := row.Scan(&idStr, &calIdStr, &remoteIdStr, &edge.FollowURI, &edge.Accepted, &edge.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	edge.Id, _ = uuid.Parse(idStr)
	edge.CalendarId, _ = uuid.Parse(calIdStr)
	edge.RemoteCalendarId, _ = uuid.Parse(remoteIdStr)
	return nil, &edge
}

func (db *DB) AcceptFollowingEdge(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAcceptFollowingEdge, id.String())
		return err
	})
}

// Event identity queries
const (
	sqlInsertEventIdentity          = `INSERT INTO event_identities(id, event_id, calendar_id, ap_id, attributed_to, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectEventIdentityByApId    = `SELECT id, event_id, calendar_id, ap_id, attributed_to, created_at FROM event_identities WHERE ap_id = ?`
	sqlSelectEventIdentityByEventId = `SELECT id, event_id, calendar_id, ap_id, attributed_to, created_at FROM event_identities WHERE event_id = ?`
	sqlDeleteEventIdentity          = `DELETE FROM event_identities WHERE id = ?`
)

func (db *DB) CreateEventIdentity(identity *domain.EventIdentity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertEventIdentity,
			identity.Id.String(),
			identity.EventId.String(),
			identity.CalendarId.String(),
			identity.ApId,
			identity.AttributedTo,
			identity.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadEventIdentityByApId(apId string) (error, *domain.EventIdentity) {
	return scanEventIdentity(db.db.QueryRow(sqlSelectEventIdentityByApId, apId))
}

func (db *DB) ReadEventIdentityByEventId(eventId uuid.UUID) (error, *domain.EventIdentity) {
	return scanEventIdentity(db.db.QueryRow(sqlSelectEventIdentityByEventId, eventId.String()))
}

func (db *DB) DeleteEventIdentity(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteEventIdentity, id.String())
		return err
	})
}

func scanEventIdentity(row *sql.Row) (error, *domain.EventIdentity) {
	var identity domain.EventIdentity
	var idStr, eventIdStr, calIdStr string
	err := row.Scan(&idStr, &eventIdStr, &calIdStr, &identity.ApId, &identity.AttributedTo, &identity.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	identity.Id, _ = uuid.Parse(idStr)
	identity.EventId, _ = uuid.Parse(eventIdStr)
	identity.CalendarId, _ = uuid.Parse(calIdStr)
	return nil, &identity
}

// Share record queries
const (
	sqlInsertShareRecord        = `INSERT INTO share_records(id, ap_id, remote_calendar_id, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectShareRecord        = `SELECT id, ap_id, remote_calendar_id, created_at FROM share_records WHERE ap_id = ? AND remote_calendar_id = ?`
	sqlDeleteShareRecord        = `DELETE FROM share_records WHERE ap_id = ? AND remote_calendar_id = ?`
	sqlSelectShareRecordsByApId = `SELECT id, ap_id, remote_calendar_id, created_at FROM share_records WHERE ap_id = ?`
)

func (db *DB) CreateShareRecord(rec *domain.ShareRecord) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertShareRecord,
			rec.Id.String(),
			rec.ApId,
			rec.RemoteCalendarId.String(),
			rec.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadShareRecord(apId string, remoteCalendarId uuid.UUID) (error, *domain.ShareRecord) {
	row := db.db.QueryRow(sqlSelectShareRecord, apId, remoteCalendarId.String())
	var rec domain.ShareRecord
	var idStr, remoteIdStr string
	err := row.Scan(&idStr, &rec.ApId, &remoteIdStr, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	rec.Id, _ = uuid.Parse(idStr)
	rec.RemoteCalendarId, _ = uuid.Parse(remoteIdStr)
	return nil, &rec
}

func (db *DB) DeleteShareRecord(apId string, remoteCalendarId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteShareRecord, apId, remoteCalendarId.String())
		return err
	})
}

func (db *DB) ReadShareRecordsByApId(apId string) (error, *[]domain.ShareRecord) {
	rows, err := db.db.Query(sqlSelectShareRecordsByApId, apId)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var recs []domain.ShareRecord
	for rows.Next() {
		var rec domain.ShareRecord
		var idStr, remoteIdStr string
		if err := rows.Scan(&idStr, &rec.ApId, &remoteIdStr, &rec.CreatedAt); err != nil {
			return err, &recs
		}
		rec.Id, _ = uuid.Parse(idStr)
		rec.RemoteCalendarId, _ = uuid.Parse(remoteIdStr)
		recs = append(recs, rec)
	}
	if err = rows.Err(); err != nil {
		return err, &recs
	}
	return nil, &recs
}

// Remote editor queries
const (
	sqlInsertRemoteEditor = `INSERT INTO remote_editors(id, calendar_id, actor_uri, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectRemoteEditor = `SELECT id, calendar_id, actor_uri, created_at FROM remote_editors WHERE calendar_id = ? AND actor_uri = ?`
)

func (db *DB) CreateRemoteEditor(editor *domain.RemoteEditor) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteEditor,
			editor.Id.String(),
			editor.CalendarId.String(),
			editor.ActorURI,
			editor.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadRemoteEditor(calendarId uuid.UUID, actorURI string) (error, *domain.RemoteEditor) {
	row := db.db.QueryRow(sqlSelectRemoteEditor, calendarId.String(), actorURI)
	var editor domain.RemoteEditor
	var idStr, calIdStr string
	err := row.Scan(&idStr, &calIdStr, &editor.ActorURI, &editor.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	editor.Id, _ = uuid.Parse(idStr)
	editor.CalendarId, _ = uuid.Parse(calIdStr)
	return nil, &editor
}

// Category mapping queries
const (
	sqlInsertCategoryMapping     = `INSERT INTO category_mappings(id, calendar_id, remote_actor_uri, remote_tag, category_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectCategoryMappingsFor = `SELECT id, calendar_id, remote_actor_uri, remote_tag, category_id, created_at FROM category_mappings WHERE calendar_id = ? AND remote_actor_uri = ?`
)

func (db *DB) CreateCategoryMapping(mapping *domain.CategoryMapping) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertCategoryMapping,
			mapping.Id.String(),
			mapping.CalendarId.String(),
			mapping.RemoteActorURI,
			mapping.RemoteTag,
			mapping.CategoryId.String(),
			mapping.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadCategoryMappingsForSource(calendarId uuid.UUID, remoteActorURI string) (error, *[]domain.CategoryMapping) {
	rows, err := db.db.Query(sqlSelectCategoryMappingsFor, calendarId.String(), remoteActorURI)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var mappings []domain.CategoryMapping
	for rows.Next() {
		var m domain.CategoryMapping
		var idStr, calIdStr, catIdStr string
		if err := rows.Scan(&idStr, &calIdStr, &m.RemoteActorURI, &m.RemoteTag, &catIdStr, &m.CreatedAt); err != nil {
			return err, &mappings
		}
		m.Id, _ = uuid.Parse(idStr)
		m.CalendarId, _ = uuid.Parse(calIdStr)
		m.CategoryId, _ = uuid.Parse(catIdStr)
		mappings = append(mappings, m)
	}
	if err = rows.Err(); err != nil {
		return err, &mappings
	}
	return nil, &mappings
}

// Delivery queue queries
const (
	sqlInsertDeliveryQueue     = `INSERT INTO delivery_queue(id, inbox_uri, actor_uri, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, inbox_uri, actor_uri, activity_json, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
)

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryQueue,
			item.Id.String(),
			item.InboxURI,
			item.ActorURI,
			item.ActivityJSON,
			item.Attempts,
			item.NextRetryAt,
			item.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var idStr string
		if err := rows.Scan(&idStr, &item.InboxURI, &item.ActorURI, &item.ActivityJSON, &item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return err, &items
		}
		item.Id, _ = uuid.Parse(idStr)
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return err, &items
	}
	return nil, &items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}
