package db

import (
	"database/sql"
	"log"
)

const (
	sqlCreateCalendarsTable = `CREATE TABLE IF NOT EXISTS calendars (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		url_name TEXT UNIQUE NOT NULL,
		time_zone TEXT DEFAULT 'UTC',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateEventsTable = `CREATE TABLE IF NOT EXISTS events (
		id TEXT NOT NULL PRIMARY KEY,
		calendar_id TEXT NOT NULL,
		summary TEXT NOT NULL,
		description TEXT,
		location TEXT,
		starts_at TIMESTAMP NOT NULL,
		ends_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateEventsIndices = `
		CREATE INDEX IF NOT EXISTS idx_events_calendar_id ON events(calendar_id);
		CREATE INDEX IF NOT EXISTS idx_events_starts_at ON events(starts_at);
	`

	sqlCreateCategoriesTable = `CREATE TABLE IF NOT EXISTS categories (
		id TEXT NOT NULL PRIMARY KEY,
		calendar_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(calendar_id, name)
	)`

	sqlCreateEventCategoriesTable = `CREATE TABLE IF NOT EXISTS event_categories (
		event_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		PRIMARY KEY(event_id, category_id)
	)`

	// One actor per calendar, enforced by the unique calendar_id.
	sqlCreateCalendarActorsTable = `CREATE TABLE IF NOT EXISTS calendar_actors (
		id TEXT NOT NULL PRIMARY KEY,
		calendar_id TEXT UNIQUE NOT NULL,
		actor_uri TEXT UNIQUE NOT NULL,
		public_key_pem TEXT NOT NULL,
		private_key_pem TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateRemoteCalendarsTable = `CREATE TABLE IF NOT EXISTS remote_calendars (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT,
		domain TEXT NOT NULL,
		actor_uri TEXT UNIQUE NOT NULL,
		inbox_uri TEXT NOT NULL,
		public_key_pem TEXT NOT NULL,
		last_fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateRemoteCalendarsIndices = `
		CREATE INDEX IF NOT EXISTS idx_remote_calendars_actor_uri ON remote_calendars(actor_uri);
		CREATE INDEX IF NOT EXISTS idx_remote_calendars_domain ON remote_calendars(domain);
	`

	// The primary key is the activity's own id; duplicate deliveries are
	// rejected at insert. Rows are kept after processing as an audit trail.
	sqlCreateInboxMessagesTable = `CREATE TABLE IF NOT EXISTS inbox_messages (
		id TEXT NOT NULL PRIMARY KEY,
		calendar_id TEXT NOT NULL,
		activity_type TEXT NOT NULL,
		published TIMESTAMP NOT NULL,
		received_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		raw_json TEXT NOT NULL,
		processed_at TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'unprocessed'
	)`

	sqlCreateInboxMessagesIndices = `
		CREATE INDEX IF NOT EXISTS idx_inbox_messages_status ON inbox_messages(status);
		CREATE INDEX IF NOT EXISTS idx_inbox_messages_drain ON inbox_messages(calendar_id, published);
	`

	sqlCreateOutboxMessagesTable = `CREATE TABLE IF NOT EXISTS outbox_messages (
		id TEXT NOT NULL PRIMARY KEY,
		calendar_id TEXT NOT NULL,
		activity_type TEXT NOT NULL,
		raw_json TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		processed_at TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'unprocessed'
	)`

	sqlCreateOutboxMessagesIndices = `
		CREATE INDEX IF NOT EXISTS idx_outbox_messages_status ON outbox_messages(status);
	`

	sqlCreateFollowerEdgesTable = `CREATE TABLE IF NOT EXISTS follower_edges (
		id TEXT NOT NULL PRIMARY KEY,
		remote_calendar_id TEXT NOT NULL,
		calendar_id TEXT NOT NULL,
		follow_uri TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(remote_calendar_id, calendar_id)
	)`

	sqlCreateFollowingEdgesTable = `CREATE TABLE IF NOT EXISTS following_edges (
		id TEXT NOT NULL PRIMARY KEY,
		calendar_id TEXT NOT NULL,
		remote_calendar_id TEXT NOT NULL,
		follow_uri TEXT,
		accepted INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(calendar_id, remote_calendar_id)
	)`

	sqlCreateEventIdentitiesTable = `CREATE TABLE IF NOT EXISTS event_identities (
		id TEXT NOT NULL PRIMARY KEY,
		event_id TEXT UNIQUE NOT NULL,
		calendar_id TEXT NOT NULL,
		ap_id TEXT UNIQUE NOT NULL,
		attributed_to TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateEventIdentitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_event_identities_ap_id ON event_identities(ap_id);
	`

	sqlCreateShareRecordsTable = `CREATE TABLE IF NOT EXISTS share_records (
		id TEXT NOT NULL PRIMARY KEY,
		ap_id TEXT NOT NULL,
		remote_calendar_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(ap_id, remote_calendar_id)
	)`

	sqlCreateRemoteEditorsTable = `CREATE TABLE IF NOT EXISTS remote_editors (
		id TEXT NOT NULL PRIMARY KEY,
		calendar_id TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(calendar_id, actor_uri)
	)`

	sqlCreateCategoryMappingsTable = `CREATE TABLE IF NOT EXISTS category_mappings (
		id TEXT NOT NULL PRIMARY KEY,
		calendar_id TEXT NOT NULL,
		remote_actor_uri TEXT NOT NULL,
		remote_tag TEXT NOT NULL,
		category_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(calendar_id, remote_actor_uri, remote_tag)
	)`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		tables := []struct {
			name string
			sql  string
		}{
			{"calendars", sqlCreateCalendarsTable},
			{"events", sqlCreateEventsTable},
			{"categories", sqlCreateCategoriesTable},
			{"event_categories", sqlCreateEventCategoriesTable},
			{"calendar_actors", sqlCreateCalendarActorsTable},
			{"remote_calendars", sqlCreateRemoteCalendarsTable},
			{"inbox_messages", sqlCreateInboxMessagesTable},
			{"outbox_messages", sqlCreateOutboxMessagesTable},
			{"follower_edges", sqlCreateFollowerEdgesTable},
			{"following_edges", sqlCreateFollowingEdgesTable},
			{"event_identities", sqlCreateEventIdentitiesTable},
			{"share_records", sqlCreateShareRecordsTable},
			{"remote_editors", sqlCreateRemoteEditorsTable},
			{"category_mappings", sqlCreateCategoryMappingsTable},
			{"delivery_queue", sqlCreateDeliveryQueueTable},
		}

		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.sql, table.name); err != nil {
				return err
			}
		}

		indices := []string{
			sqlCreateEventsIndices,
			sqlCreateRemoteCalendarsIndices,
			sqlCreateInboxMessagesIndices,
			sqlCreateOutboxMessagesIndices,
			sqlCreateEventIdentitiesIndices,
			sqlCreateDeliveryQueueIndices,
		}

		for _, idx := range indices {
			if _, err := tx.Exec(idx); err != nil {
				log.Printf("Warning: Failed to create indices: %v", err)
			}
		}

		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Printf("Error creating table %s: %v", tableName, err)
		return err
	}
	return nil
}
